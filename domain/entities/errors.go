package entities

import (
	"errors"
	"fmt"
)

// ErrorCategory is the stable, caller-facing class of an error
type ErrorCategory string

const (
	CategoryPermission   ErrorCategory = "permission"
	CategoryDevice       ErrorCategory = "device"
	CategoryConnection   ErrorCategory = "connection"
	CategoryProtocol     ErrorCategory = "protocol"
	CategoryCodec        ErrorCategory = "codec"
	CategoryNotConnected ErrorCategory = "not_connected"
	CategoryState        ErrorCategory = "state"
)

// ErrorCode narrows a category
type ErrorCode string

const (
	CodePermissionDenied ErrorCode = "permission_denied"
	CodeDeviceNotFound   ErrorCode = "device_not_found"
	CodeUnsupported      ErrorCode = "unsupported"

	CodeAuthInvalid     ErrorCode = "auth_invalid"
	CodeQuotaExceeded   ErrorCode = "quota_exceeded"
	CodeRateLimited     ErrorCode = "rate_limited"
	CodeNetworkTimeout  ErrorCode = "network_timeout"
	CodeAbnormalClosure ErrorCode = "abnormal_closure"
	CodeUnknown         ErrorCode = "unknown"
)

// Error carries a category, an optional code and a human readable message
type Error struct {
	Category ErrorCategory `json:"category"`
	Code     ErrorCode     `json:"code,omitempty"`
	Message  string        `json:"message"`
	Err      error         `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by category, and by code when the target has one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Category == e.Category && (t.Code == "" || t.Code == e.Code)
}

// Sentinels for errors.Is checks
var (
	ErrPermission   = &Error{Category: CategoryPermission}
	ErrDevice       = &Error{Category: CategoryDevice}
	ErrConnection   = &Error{Category: CategoryConnection}
	ErrProtocol     = &Error{Category: CategoryProtocol}
	ErrCodec        = &Error{Category: CategoryCodec}
	ErrNotConnected = &Error{Category: CategoryNotConnected}
	ErrState        = &Error{Category: CategoryState}
)

func NewPermissionError(message string, err error) *Error {
	return &Error{Category: CategoryPermission, Code: CodePermissionDenied, Message: message, Err: err}
}

func NewDeviceError(code ErrorCode, message string, err error) *Error {
	return &Error{Category: CategoryDevice, Code: code, Message: message, Err: err}
}

func NewConnectionError(code ErrorCode, message string, err error) *Error {
	return &Error{Category: CategoryConnection, Code: code, Message: message, Err: err}
}

func NewProtocolError(message string, err error) *Error {
	return &Error{Category: CategoryProtocol, Message: message, Err: err}
}

func NewCodecError(message string, err error) *Error {
	return &Error{Category: CategoryCodec, Message: message, Err: err}
}

func NewNotConnectedError(message string) *Error {
	return &Error{Category: CategoryNotConnected, Message: message}
}

func NewStateError(message string) *Error {
	return &Error{Category: CategoryState, Message: message}
}

// CategoryOf returns the category of err, or "" when err is not a domain error
func CategoryOf(err error) ErrorCategory {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Category
	}
	return ""
}

// IsCategory reports whether err carries the given category
func IsCategory(err error, category ErrorCategory) bool {
	return CategoryOf(err) == category
}

// IsTransient reports whether the error leaves the session running
func IsTransient(err error) bool {
	switch CategoryOf(err) {
	case CategoryPermission, CategoryDevice, CategoryCodec, CategoryProtocol, CategoryState:
		return true
	}
	return false
}
