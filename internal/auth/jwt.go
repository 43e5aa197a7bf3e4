package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "parley"

// Token scopes. Control implies watch.
const (
	ScopeControl = "control"
	ScopeWatch   = "watch"
)

var (
	ErrInvalidScope = errors.New("invalid scope")
	ErrForbidden    = errors.New("token scope does not allow this action")
)

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims grant scope
func (c *JWTClaims) Allows(scope string) bool {
	return c.Scope == scope || c.Scope == ScopeControl
}

// Issuer signs and validates control tokens with a shared HMAC secret
type Issuer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewIssuer creates an issuer; the secret must not be empty
func NewIssuer(secret string, ttl time.Duration, clk clock.Clock) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, clock: clk}, nil
}

// GenerateToken issues a token for clientID with the given scope
func (i *Issuer) GenerateToken(clientID, scope string) (string, time.Time, error) {
	if scope != ScopeControl && scope != ScopeWatch {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	now := i.clock.Now()
	expiresAt := now.Add(i.ttl)
	claims := &JWTClaims{
		ClientID: clientID,
		Scope:    scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (i *Issuer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}
