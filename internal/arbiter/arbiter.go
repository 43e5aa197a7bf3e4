// Package arbiter tracks whether the agent is speaking and keeps user audio
// capture muted while it is.
package arbiter

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/parley/domain/entities"
	"github.com/satriahrh/parley/internal/metrics"
)

// SilenceWindow absorbs the audio tail that can follow a turn end
const SilenceWindow = 600 * time.Millisecond

// Mutable is a capture target the arbiter may mute. MuteForAgent reports
// whether this call muted it, so only those targets are unmuted later.
type Mutable interface {
	MuteForAgent() bool
	UnmuteForAgent()
}

// Arbiter owns the speaking state. Idle -> AgentSpeaking -> PendingSilence -> Idle.
type Arbiter struct {
	clock   clock.Clock
	window  time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	state   entities.SpeakingState
	targets []Mutable
	muted   []Mutable
	timer   *clock.Timer
	gen     uint64
	subs    map[int]chan entities.SpeakingChange
	nextSub int
	closed  bool
}

// New creates an idle arbiter. A non-positive window uses SilenceWindow; m may be nil.
func New(clk clock.Clock, window time.Duration, logger *zap.Logger, m *metrics.Metrics) *Arbiter {
	if clk == nil {
		clk = clock.New()
	}
	if window <= 0 {
		window = SilenceWindow
	}
	return &Arbiter{
		clock:   clk,
		window:  window,
		logger:  logger,
		metrics: m,
		state:   entities.SpeakingIdle,
		subs:    make(map[int]chan entities.SpeakingChange),
	}
}

// AddTarget registers a capture target. Targets added while the agent is
// speaking are muted immediately.
func (a *Arbiter) AddTarget(t Mutable) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.targets = append(a.targets, t)
	if a.state != entities.SpeakingIdle && t.MuteForAgent() {
		a.muted = append(a.muted, t)
	}
}

func (a *Arbiter) State() entities.SpeakingState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Subscribe returns a channel of state changes and a cancel func.
// Slow subscribers miss changes rather than block the arbiter.
func (a *Arbiter) Subscribe() (<-chan entities.SpeakingChange, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSub
	a.nextSub++
	ch := make(chan entities.SpeakingChange, 16)
	a.subs[id] = ch
	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if sub, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(sub)
		}
	}
}

// Observe feeds one inbound event; events other than audio and turn
// boundaries are ignored.
func (a *Arbiter) Observe(ev entities.InboundEvent) {
	switch ev.(type) {
	case entities.AudioData:
		a.OnAgentAudio()
	case entities.TurnComplete, entities.Interrupted:
		a.OnTurnEnd()
	}
}

// OnAgentAudio marks the agent as speaking and mutes every target
func (a *Arbiter) OnAgentAudio() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	switch a.state {
	case entities.SpeakingIdle:
		for _, t := range a.targets {
			if t.MuteForAgent() {
				a.muted = append(a.muted, t)
			}
		}
		a.transitionLocked(entities.SpeakingAgent)
	case entities.SpeakingPendingSilence:
		a.cancelTimerLocked()
		a.transitionLocked(entities.SpeakingAgent)
	}
}

// OnTurnEnd starts or restarts the silence window
func (a *Arbiter) OnTurnEnd() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.state == entities.SpeakingIdle {
		return
	}

	a.cancelTimerLocked()
	gen := a.gen
	a.timer = a.clock.AfterFunc(a.window, func() { a.silenceElapsed(gen) })
	if a.state != entities.SpeakingPendingSilence {
		a.transitionLocked(entities.SpeakingPendingSilence)
	}
}

func (a *Arbiter) silenceElapsed(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen || a.closed || a.state != entities.SpeakingPendingSilence {
		return
	}
	a.timer = nil
	a.releaseLocked()
	a.transitionLocked(entities.SpeakingIdle)
}

// Reset returns to Idle at once, unmuting what the arbiter muted
func (a *Arbiter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelTimerLocked()
	a.releaseLocked()
	if a.state != entities.SpeakingIdle {
		a.transitionLocked(entities.SpeakingIdle)
	}
}

// Close resets the arbiter, stops further transitions and closes subscriptions
func (a *Arbiter) Close() {
	a.Reset()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for id, ch := range a.subs {
		delete(a.subs, id)
		close(ch)
	}
}

func (a *Arbiter) cancelTimerLocked() {
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Arbiter) releaseLocked() {
	for _, t := range a.muted {
		t.UnmuteForAgent()
	}
	a.muted = nil
}

func (a *Arbiter) transitionLocked(to entities.SpeakingState) {
	change := entities.SpeakingChange{From: a.state, To: to, At: a.clock.Now()}
	a.state = to
	a.metrics.SpeakingTransition(string(to))
	a.logger.Debug("Speaking state changed",
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)))

	for _, ch := range a.subs {
		select {
		case ch <- change:
		default:
			a.logger.Warn("Dropped speaking change for slow subscriber")
		}
	}
}
