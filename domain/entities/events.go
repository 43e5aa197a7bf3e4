package entities

import "time"

// InboundEventType names a demultiplexed agent event
type InboundEventType string

const (
	EventAudioData            InboundEventType = "audio_data"
	EventInterrupted          InboundEventType = "interrupted"
	EventTurnComplete         InboundEventType = "turn_complete"
	EventContent              InboundEventType = "content"
	EventToolCall             InboundEventType = "tool_call"
	EventToolCallCancellation InboundEventType = "tool_call_cancellation"
	EventTranscription        InboundEventType = "transcription"
)

// InboundEvent is the closed set of events a transport emits.
// Consumers switch on the concrete type.
type InboundEvent interface {
	EventType() InboundEventType
	inboundEvent()
}

// AudioData carries decoded PCM16 agent audio
type AudioData struct {
	Data []byte
}

// Interrupted signals the agent stopped because the user spoke over it
type Interrupted struct{}

// TurnComplete signals the end of the agent's turn
type TurnComplete struct{}

// Content groups the non-audio parts of one server message
type Content struct {
	Parts []string
	Media []InlineMedia
}

// InlineMedia is a decoded non-audio blob the agent sent inline
type InlineMedia struct {
	MimeType string
	Data     []byte
}

// ToolCall is a function call requested by the agent
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolCallCancellation withdraws earlier tool calls
type ToolCallCancellation struct {
	IDs []string
}

// Transcription is a speech-to-text fragment of either party's audio
type Transcription struct {
	Speaker Speaker
	Text    string
}

func (AudioData) EventType() InboundEventType            { return EventAudioData }
func (Interrupted) EventType() InboundEventType          { return EventInterrupted }
func (TurnComplete) EventType() InboundEventType         { return EventTurnComplete }
func (Content) EventType() InboundEventType              { return EventContent }
func (ToolCall) EventType() InboundEventType             { return EventToolCall }
func (ToolCallCancellation) EventType() InboundEventType { return EventToolCallCancellation }
func (Transcription) EventType() InboundEventType        { return EventTranscription }

func (AudioData) inboundEvent()            {}
func (Interrupted) inboundEvent()          {}
func (TurnComplete) inboundEvent()         {}
func (Content) inboundEvent()              {}
func (ToolCall) inboundEvent()             {}
func (ToolCallCancellation) inboundEvent() {}
func (Transcription) inboundEvent()        {}

// ConnectionState is the transport connection lifecycle
type ConnectionState string

const (
	ConnectionIdle       ConnectionState = "idle"
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionOpen       ConnectionState = "open"
	ConnectionClosed     ConnectionState = "closed"
	ConnectionError      ConnectionState = "error"
)

// SpeakingState is owned by the arbiter
type SpeakingState string

const (
	SpeakingIdle           SpeakingState = "idle"
	SpeakingAgent          SpeakingState = "agent_speaking"
	SpeakingPendingSilence SpeakingState = "pending_silence"
)

// SpeakingChange is published when the agent starts or stops speaking
type SpeakingChange struct {
	From SpeakingState
	To   SpeakingState
	At   time.Time
}
