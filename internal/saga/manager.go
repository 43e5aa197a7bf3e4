package saga

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Runner executes saga definitions synchronously in the caller's goroutine
type Runner struct {
	logger   *zap.Logger
	clock    clock.Clock
	observer func(Event)
}

// NewRunner creates a runner; observer may be nil
func NewRunner(logger *zap.Logger, clk clock.Clock, observer func(Event)) *Runner {
	if clk == nil {
		clk = clock.New()
	}
	return &Runner{logger: logger, clock: clk, observer: observer}
}

// Run executes the steps in order. On the first failure the completed steps
// are compensated in reverse order and the step error is returned.
// Compensation runs on a context detached from ctx cancellation.
func (r *Runner) Run(ctx context.Context, def Definition, data Data) (*Instance, error) {
	if data == nil {
		data = Data{}
	}
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	instance := &Instance{
		Definition: def.Name,
		State:      SagaStateRunning,
		Steps:      make([]StepExecution, len(def.Steps)),
		StartedAt:  r.clock.Now(),
	}
	for i, step := range def.Steps {
		instance.Steps[i] = StepExecution{ID: step.ID(), State: StepStatePending}
	}
	r.emit(Event{Definition: def.Name, Type: EventSagaStarted})

	lastCompleted := -1
	var failure error
	for i, step := range def.Steps {
		if err := r.executeStep(ctx, def.Name, &instance.Steps[i], step, data); err != nil {
			r.logger.Error("Step failed",
				zap.String("saga", def.Name),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			failure = fmt.Errorf("%s: %w", step.ID(), err)
			break
		}
		lastCompleted = i
	}

	if failure == nil {
		now := r.clock.Now()
		instance.State = SagaStateCompleted
		instance.CompletedAt = &now
		r.emit(Event{Definition: def.Name, Type: EventSagaCompleted})
		r.logger.Info("Saga completed", zap.String("saga", def.Name))
		return instance, nil
	}

	r.logger.Info("Starting compensation", zap.String("saga", def.Name))
	r.compensate(context.WithoutCancel(ctx), def, instance, lastCompleted, data)
	instance.Error = failure.Error()
	return instance, failure
}

func (r *Runner) executeStep(ctx context.Context, name string, exec *StepExecution, step Step, data Data) error {
	now := r.clock.Now()
	exec.State = StepStateRunning
	exec.StartedAt = &now
	r.emit(Event{Definition: name, StepID: step.ID(), Type: EventStepStarted})

	if err := ctx.Err(); err != nil {
		return r.failStep(name, exec, step, err)
	}
	if err := step.Execute(ctx, data); err != nil {
		return r.failStep(name, exec, step, err)
	}

	done := r.clock.Now()
	exec.State = StepStateCompleted
	exec.CompletedAt = &done
	r.emit(Event{Definition: name, StepID: step.ID(), Type: EventStepCompleted})
	r.logger.Debug("Step completed", zap.String("saga", name), zap.String("stepID", string(step.ID())))
	return nil
}

func (r *Runner) failStep(name string, exec *StepExecution, step Step, err error) error {
	done := r.clock.Now()
	exec.State = StepStateFailed
	exec.CompletedAt = &done
	exec.Error = err.Error()
	r.emit(Event{Definition: name, StepID: step.ID(), Type: EventStepFailed, Error: err.Error()})
	return err
}

func (r *Runner) compensate(ctx context.Context, def Definition, instance *Instance, lastCompleted int, data Data) {
	for i := lastCompleted; i >= 0; i-- {
		step := def.Steps[i]
		r.logger.Info("Compensating step",
			zap.String("saga", def.Name),
			zap.String("stepID", string(step.ID())))

		if err := step.Compensate(ctx, data); err != nil {
			r.logger.Error("Compensation failed",
				zap.String("saga", def.Name),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			continue
		}
		instance.Steps[i].State = StepStateCompensated
		r.emit(Event{Definition: def.Name, StepID: step.ID(), Type: EventStepCompensated})
	}

	now := r.clock.Now()
	instance.State = SagaStateCompensated
	instance.CompletedAt = &now
	r.emit(Event{Definition: def.Name, Type: EventSagaCompensated})
	r.logger.Info("Saga compensated", zap.String("saga", def.Name))
}

func (r *Runner) emit(event Event) {
	if r.observer == nil {
		return
	}
	event.Timestamp = r.clock.Now()
	r.observer(event)
}
