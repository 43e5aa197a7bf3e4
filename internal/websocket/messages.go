package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/satriahrh/parley/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	MessageTypeStatus        MessageType = "status"
	MessageTypeCommand       MessageType = "command"
	MessageTypeCommandResult MessageType = "command_result"
	MessageTypePing          MessageType = "ping"
	MessageTypePong          MessageType = "pong"
	MessageTypeError         MessageType = "error"
)

// Commands a controlling client may send
const (
	CommandToggleMic    = "toggle_mic"
	CommandToggleCamera = "toggle_camera"
	CommandToggleScreen = "toggle_screen"
	CommandSendText     = "send_text"
	CommandSetVolume    = "set_volume"
	CommandEndSession   = "end_session"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
}

// StatusMessage carries one session snapshot
type StatusMessage struct {
	BaseMessage
	Snapshot entities.SessionSnapshot `json:"snapshot"`
}

// CommandMessage asks the session to do something
type CommandMessage struct {
	BaseMessage
	Command string   `json:"command"`
	Text    string   `json:"text,omitempty"`
	Gain    *float64 `json:"gain,omitempty"`
}

// CommandResultMessage answers a CommandMessage with the same message id
type CommandResultMessage struct {
	BaseMessage
	Command  string                     `json:"command"`
	OK       bool                       `json:"ok"`
	Error    string                     `json:"error,omitempty"`
	Category entities.ErrorCategory     `json:"category,omitempty"`
	Report   *entities.StructuredReport `json:"report,omitempty"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses an incoming message into *CommandMessage or *PingMessage
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeCommand:
		var msg CommandMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid command message: %w", err)
		}
		if err := v.validateCommand(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

// validateCommand validates command message fields
func (v *MessageValidator) validateCommand(msg *CommandMessage) error {
	switch msg.Command {
	case CommandToggleMic, CommandToggleCamera, CommandToggleScreen, CommandEndSession:
		return nil
	case CommandSendText:
		if strings.TrimSpace(msg.Text) == "" {
			return fmt.Errorf("text is required for %s", CommandSendText)
		}
		return nil
	case CommandSetVolume:
		if msg.Gain == nil {
			return fmt.Errorf("gain is required for %s", CommandSetVolume)
		}
		if *msg.Gain < 0 || *msg.Gain > 2 {
			return fmt.Errorf("gain must be between 0 and 2")
		}
		return nil
	case "":
		return fmt.Errorf("command is required")
	default:
		return fmt.Errorf("unknown command: %s", msg.Command)
	}
}

func newBase(t MessageType, now time.Time) BaseMessage {
	return BaseMessage{Type: t, Timestamp: now.Format(time.RFC3339)}
}

// CreateStatusMessage wraps a snapshot
func CreateStatusMessage(snapshot entities.SessionSnapshot, now time.Time) *StatusMessage {
	return &StatusMessage{BaseMessage: newBase(MessageTypeStatus, now), Snapshot: snapshot}
}

// CreateCommandResult reports the outcome of cmd; err may be nil
func CreateCommandResult(cmd *CommandMessage, err error, now time.Time) *CommandResultMessage {
	result := &CommandResultMessage{
		BaseMessage: newBase(MessageTypeCommandResult, now),
		Command:     cmd.Command,
		OK:          err == nil,
	}
	result.MessageID = cmd.MessageID
	if err != nil {
		result.Error = err.Error()
		result.Category = entities.CategoryOf(err)
	}
	return result
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string, now time.Time) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError, now),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string, now time.Time) *PongMessage {
	return &PongMessage{BaseMessage: newBase(MessageTypePong, now), Data: data}
}
