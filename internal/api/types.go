package api

import (
	"time"

	"github.com/satriahrh/parley/domain/entities"
)

// TokenRequest represents the request payload for a control token
type TokenRequest struct {
	ClientID string `json:"client_id"`
	Secret   string `json:"secret"`
	Scope    string `json:"scope"`
}

// TokenResponse represents the response payload for a control token
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Scope     string    `json:"scope"`
}

// StartSessionRequest carries the interview parameters
type StartSessionRequest struct {
	Role  string `json:"role"`
	Level string `json:"level"`
}

// SessionResponse describes a newly created session
type SessionResponse struct {
	ID        string                 `json:"id"`
	State     entities.SessionState  `json:"state"`
	Params    entities.SessionParams `json:"params"`
	CreatedAt time.Time              `json:"created_at"`
}

// SendTextRequest is a typed user turn
type SendTextRequest struct {
	Text string `json:"text"`
}

// VolumeRequest sets the playback gain
type VolumeRequest struct {
	Gain *float64 `json:"gain"`
}

// EndSessionResponse carries the final report. SaveError is set when the
// report was built but could not be stored.
type EndSessionResponse struct {
	Report    entities.StructuredReport `json:"report"`
	RecordID  string                    `json:"record_id,omitempty"`
	SaveError string                    `json:"save_error,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error    string                 `json:"error"`
	Message  string                 `json:"message,omitempty"`
	Category entities.ErrorCategory `json:"category,omitempty"`
}
