package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidate(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	issuer, err := NewIssuer("s3cret", time.Hour, mock)
	if err != nil {
		t.Fatal(err)
	}

	token, expiresAt, err := issuer.GenerateToken("cli", ScopeControl)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if !expiresAt.Equal(mock.Now().Add(time.Hour)) {
		t.Errorf("Unexpected expiry %v", expiresAt)
	}

	claims, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.ClientID != "cli" || !claims.Allows(ScopeWatch) || !claims.Allows(ScopeControl) {
		t.Errorf("Unexpected claims %+v", claims)
	}
}

func TestWatchScopeCannotControl(t *testing.T) {
	issuer, _ := NewIssuer("s3cret", time.Hour, clock.NewMock())
	token, _, err := issuer.GenerateToken("viewer", ScopeWatch)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Allows(ScopeControl) {
		t.Error("Expected watch token not to allow control")
	}
}

func TestExpiredToken(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	issuer, _ := NewIssuer("s3cret", time.Minute, mock)
	token, _, _ := issuer.GenerateToken("cli", ScopeControl)

	mock.Add(2 * time.Minute)
	if _, err := issuer.ValidateToken(token); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("Expected expired token error, got %v", err)
	}
}

func TestWrongSecretAndScope(t *testing.T) {
	a, _ := NewIssuer("one", time.Hour, clock.NewMock())
	b, _ := NewIssuer("two", time.Hour, clock.NewMock())
	token, _, _ := a.GenerateToken("cli", ScopeControl)

	if _, err := b.ValidateToken(token); err == nil {
		t.Error("Expected signature mismatch to be rejected")
	}
	if _, _, err := a.GenerateToken("cli", "admin"); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("Expected ErrInvalidScope, got %v", err)
	}
	if _, err := NewIssuer("", time.Hour, nil); err == nil {
		t.Error("Expected empty secret to be rejected")
	}
}
