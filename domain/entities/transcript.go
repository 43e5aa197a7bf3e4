package entities

import "time"

// Speaker identifies who produced a transcript entry
type Speaker string

const (
	SpeakerUser     Speaker = "user"
	SpeakerAgent    Speaker = "agent"
	SpeakerFeedback Speaker = "feedback"
)

// TranscriptEntry is one append-only line of the transcript
type TranscriptEntry struct {
	Speaker   Speaker   `json:"speaker" bson:"speaker"`
	Text      string    `json:"text" bson:"text"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// SessionSnapshot is the observable state published to the UI layer
type SessionSnapshot struct {
	SessionID     string            `json:"session_id,omitempty"`
	State         SessionState      `json:"state"`
	Connection    ConnectionState   `json:"connection"`
	MicActive     bool              `json:"mic_active"`
	CameraActive  bool              `json:"camera_active"`
	ScreenActive  bool              `json:"screen_active"`
	Speaking      SpeakingState     `json:"speaking"`
	Transcript    []TranscriptEntry `json:"transcript"`
	Error         string            `json:"error,omitempty"`
	ErrorCategory ErrorCategory     `json:"error_category,omitempty"`
}
