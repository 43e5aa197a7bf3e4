package entities

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionState represents the lifecycle state of an interview session
type SessionState string

const (
	SessionStateSetup      SessionState = "setup"
	SessionStateConnecting SessionState = "connecting"
	SessionStateActive     SessionState = "active"
	SessionStateEnding     SessionState = "ending"
	SessionStateEnded      SessionState = "ended"
	SessionStateError      SessionState = "error"
)

// sessionTransitions lists the allowed forward moves. Error is reachable from
// every non-terminal state and is handled separately.
var sessionTransitions = map[SessionState][]SessionState{
	SessionStateSetup:      {SessionStateConnecting, SessionStateEnded},
	SessionStateConnecting: {SessionStateActive, SessionStateEnded},
	SessionStateActive:     {SessionStateEnding, SessionStateEnded},
	SessionStateEnding:     {SessionStateEnded},
}

// SessionParams are collected from the caller before connecting
type SessionParams struct {
	Role  string `json:"role" bson:"role"`
	Level string `json:"level" bson:"level"`
}

// Validate validates the session parameters
func (p SessionParams) Validate() error {
	if strings.TrimSpace(p.Role) == "" {
		return errors.New("role is required")
	}
	if strings.TrimSpace(p.Level) == "" {
		return errors.New("level is required")
	}
	return nil
}

// Session is the root aggregate of one practice interview
type Session struct {
	ID        string        `json:"id"`
	State     SessionState  `json:"state"`
	Params    SessionParams `json:"params"`
	CreatedAt time.Time     `json:"created_at"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Err       error         `json:"-"`
}

// NewSession creates a new session in the setup state
func NewSession(params SessionParams, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		State:     SessionStateSetup,
		Params:    params,
		CreatedAt: now,
	}
}

// Transition moves the session to the next lifecycle state
func (s *Session) Transition(to SessionState, now time.Time) error {
	if to == SessionStateError {
		return fmt.Errorf("use Fail to move a session into the error state")
	}
	for _, allowed := range sessionTransitions[s.State] {
		if allowed != to {
			continue
		}
		s.State = to
		switch to {
		case SessionStateActive:
			s.StartedAt = &now
		case SessionStateEnded:
			s.EndedAt = &now
		}
		return nil
	}
	return NewStateError(fmt.Sprintf("cannot move session from %s to %s", s.State, to))
}

// Fail moves the session into the error state, keeping the cause for display.
// It is a no-op once the session is terminal.
func (s *Session) Fail(err error, now time.Time) {
	if s.IsTerminal() {
		return
	}
	s.State = SessionStateError
	s.Err = err
	s.EndedAt = &now
}

// IsTerminal reports whether no further commands are accepted
func (s *Session) IsTerminal() bool {
	return s.State == SessionStateEnded || s.State == SessionStateError
}

// Duration returns the time spent in the active part of the session
func (s *Session) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.StartedAt)
}

// ErrorMessage returns the human readable cause, if any
func (s *Session) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	var domainErr *Error
	if errors.As(s.Err, &domainErr) {
		return domainErr.Message
	}
	return s.Err.Error()
}
