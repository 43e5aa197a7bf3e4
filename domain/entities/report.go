package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TurnFeedback scores one question/answer pair
type TurnFeedback struct {
	Question string  `json:"question" bson:"question"`
	Answer   string  `json:"answer" bson:"answer"`
	Feedback string  `json:"feedback" bson:"feedback"`
	Score    float64 `json:"score" bson:"score"`
	Scored   bool    `json:"scored" bson:"scored"`
}

// StructuredReport is the end-of-session evaluation built from the transcript
type StructuredReport struct {
	Summary      string         `json:"summary" bson:"summary"`
	Turns        []TurnFeedback `json:"turns" bson:"turns"`
	Strengths    []string       `json:"strengths" bson:"strengths"`
	Improvements []string       `json:"improvements" bson:"improvements"`
	OverallScore float64        `json:"overall_score" bson:"overall_score"`
}

// SessionRecord is what the persistence collaborator stores
type SessionRecord struct {
	ID           string            `json:"id" bson:"_id"`
	SessionID    string            `json:"session_id" bson:"session_id"`
	Role         string            `json:"role" bson:"role"`
	Level        string            `json:"level" bson:"level"`
	Transcript   []TranscriptEntry `json:"transcript" bson:"transcript"`
	Report       StructuredReport  `json:"structured_feedback" bson:"structured_feedback"`
	OverallScore float64           `json:"overall_score" bson:"overall_score"`
	StartedAt    time.Time         `json:"started_at" bson:"started_at"`
	EndedAt      time.Time         `json:"ended_at" bson:"ended_at"`
	DurationMs   int64             `json:"duration_ms" bson:"duration_ms"`
}

// NewSessionRecord assembles the record for a finished session
func NewSessionRecord(session *Session, transcript []TranscriptEntry, report StructuredReport, endedAt time.Time) *SessionRecord {
	startedAt := session.CreatedAt
	if session.StartedAt != nil {
		startedAt = *session.StartedAt
	}
	return &SessionRecord{
		ID:           uuid.NewString(),
		SessionID:    session.ID,
		Role:         session.Params.Role,
		Level:        session.Params.Level,
		Transcript:   transcript,
		Report:       report,
		OverallScore: report.OverallScore,
		StartedAt:    startedAt,
		EndedAt:      endedAt,
		DurationMs:   endedAt.Sub(startedAt).Milliseconds(),
	}
}

// Validate validates the record before it is stored
func (r *SessionRecord) Validate() error {
	if r.ID == "" {
		return errors.New("id is required")
	}
	if r.SessionID == "" {
		return errors.New("session_id is required")
	}
	if r.OverallScore < 1 || r.OverallScore > 10 {
		return errors.New("overall_score must be between 1 and 10")
	}
	if r.EndedAt.Before(r.StartedAt) {
		return errors.New("ended_at must not be before started_at")
	}
	return nil
}
