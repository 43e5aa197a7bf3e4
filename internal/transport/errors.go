package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/satriahrh/parley/domain/entities"
)

// classifyReason maps free-form server text onto a connection error code
func classifyReason(reason string) (entities.ErrorCode, bool) {
	r := strings.ToLower(reason)
	switch {
	case strings.Contains(r, "api key"), strings.Contains(r, "unauthenticated"),
		strings.Contains(r, "permission_denied"), strings.Contains(r, "unauthorized"):
		return entities.CodeAuthInvalid, true
	case strings.Contains(r, "quota"), strings.Contains(r, "resource_exhausted"), strings.Contains(r, "resource exhausted"):
		return entities.CodeQuotaExceeded, true
	case strings.Contains(r, "rate limit"), strings.Contains(r, "too many requests"):
		return entities.CodeRateLimited, true
	case strings.Contains(r, "deadline"), strings.Contains(r, "timeout"), strings.Contains(r, "timed out"):
		return entities.CodeNetworkTimeout, true
	}
	return "", false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classifyDialError converts a failed handshake into a connection error
func classifyDialError(err error, resp *http.Response) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return entities.NewConnectionError(entities.CodeAuthInvalid, "agent rejected credentials", err)
		case http.StatusTooManyRequests:
			return entities.NewConnectionError(entities.CodeRateLimited, "agent rate limited the connection", err)
		}
		return entities.NewConnectionError(entities.CodeUnknown, fmt.Sprintf("handshake failed with status %d", resp.StatusCode), err)
	}
	if isTimeout(err) {
		return entities.NewConnectionError(entities.CodeNetworkTimeout, "handshake timed out", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return entities.NewConnectionError(entities.CodeNetworkTimeout, "agent unreachable", err)
	}
	return entities.NewConnectionError(entities.CodeUnknown, "handshake failed", err)
}

// classifyReadError converts a read failure into a terminal error; nil means a normal close
func classifyReadError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return classifyClose(closeErr.Code, closeErr.Text, err)
	}
	if isTimeout(err) {
		return entities.NewConnectionError(entities.CodeNetworkTimeout, "agent stopped responding", err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return entities.NewConnectionError(entities.CodeAbnormalClosure, "connection dropped", err)
	}
	return entities.NewConnectionError(entities.CodeUnknown, "connection failed", err)
}

func classifyClose(code int, reason string, err error) error {
	if code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway {
		return nil
	}
	msg := fmt.Sprintf("connection closed with code %d", code)
	if reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, reason)
	}
	if c, ok := classifyReason(reason); ok {
		return entities.NewConnectionError(c, msg, err)
	}
	switch code {
	case websocket.ClosePolicyViolation:
		return entities.NewConnectionError(entities.CodeAuthInvalid, msg, err)
	case websocket.CloseAbnormalClosure:
		return entities.NewConnectionError(entities.CodeAbnormalClosure, msg, err)
	}
	return entities.NewConnectionError(entities.CodeUnknown, msg, err)
}

// classifyServerError handles an error envelope sent in-band
func classifyServerError(se *serverError) error {
	msg := se.Message
	if msg == "" {
		msg = se.Status
	}
	if c, ok := classifyReason(se.Status + " " + se.Message); ok {
		return entities.NewConnectionError(c, msg, nil)
	}
	switch se.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return entities.NewConnectionError(entities.CodeAuthInvalid, msg, nil)
	case http.StatusTooManyRequests:
		return entities.NewConnectionError(entities.CodeRateLimited, msg, nil)
	}
	return entities.NewConnectionError(entities.CodeUnknown, msg, nil)
}
