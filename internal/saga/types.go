// Package saga runs ordered lifecycle steps and undoes completed ones when a
// later step fails.
package saga

import (
	"context"
	"time"
)

// SagaState represents the current state of a saga execution
type SagaState string

const (
	SagaStateRunning     SagaState = "running"
	SagaStateCompleted   SagaState = "completed"
	SagaStateCompensated SagaState = "compensated"
)

// StepState represents the state of an individual step
type StepState string

const (
	StepStatePending     StepState = "pending"
	StepStateRunning     StepState = "running"
	StepStateCompleted   StepState = "completed"
	StepStateFailed      StepState = "failed"
	StepStateCompensated StepState = "compensated"
)

// StepID uniquely identifies a step within a saga
type StepID string

// Data is shared between the steps of one execution
type Data map[string]interface{}

// Step is a single unit of a saga. Compensate is only called for steps whose
// Execute returned nil.
type Step interface {
	ID() StepID
	Execute(ctx context.Context, data Data) error
	Compensate(ctx context.Context, data Data) error
}

// Definition names an ordered list of steps
type Definition struct {
	Name    string
	Steps   []Step
	Timeout time.Duration
}

// Instance is the record of one execution
type Instance struct {
	Definition  string          `json:"definition"`
	State       SagaState       `json:"state"`
	Steps       []StepExecution `json:"steps"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// StepExecution represents the execution state of a step
type StepExecution struct {
	ID          StepID     `json:"id"`
	State       StepState  `json:"state"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Event is emitted to an optional observer as the saga progresses
type Event struct {
	Definition string    `json:"definition"`
	StepID     StepID    `json:"step_id,omitempty"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error,omitempty"`
}

// Event types
const (
	EventSagaStarted     = "saga_started"
	EventSagaCompleted   = "saga_completed"
	EventSagaCompensated = "saga_compensated"
	EventStepStarted     = "step_started"
	EventStepCompleted   = "step_completed"
	EventStepFailed      = "step_failed"
	EventStepCompensated = "step_compensated"
)

// StepFunc adapts closures into a Step
type StepFunc struct {
	Name StepID
	Do   func(ctx context.Context, data Data) error
	Undo func(ctx context.Context, data Data) error
}

func (s StepFunc) ID() StepID { return s.Name }

func (s StepFunc) Execute(ctx context.Context, data Data) error {
	return s.Do(ctx, data)
}

func (s StepFunc) Compensate(ctx context.Context, data Data) error {
	if s.Undo == nil {
		return nil
	}
	return s.Undo(ctx, data)
}
