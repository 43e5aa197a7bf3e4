// Package playback schedules streamed agent audio for gapless output.
package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/parley/domain/repositories"
	"github.com/satriahrh/parley/internal/codec"
)

const (
	DefaultSampleRate = 24000
	MaxSampleRate     = 48000

	BlockDuration = 320 * time.Millisecond
	LookAhead     = 200 * time.Millisecond
	PollInterval  = 100 * time.Millisecond
	StopRamp      = 100 * time.Millisecond

	rampSteps = 10
)

// Sink is the audio output. Blocks arrive in timeline order with their start
// offset relative to Start.
type Sink interface {
	Start() error
	Schedule(block []float32, sampleRate int, at time.Duration) error
	SetGain(gain float64)
	Flush()
	Close() error
}

// Engine accumulates PCM16 chunks into fixed blocks and keeps the sink fed
// ahead of the playback position.
type Engine struct {
	sink   Sink
	clock  clock.Clock
	logger *zap.Logger

	mu            sync.Mutex
	initialized   bool
	epoch         time.Time
	sampleRate    int
	pending       []float32
	queue         [][]float32
	scheduledTime time.Duration
	playing       bool
	complete      bool
	timer         *clock.Timer
	timerGen      uint64

	gain      float64
	effective float64
	ramp      *clock.Timer
	rampGen   uint64
	rampStep  int
}

var _ repositories.AudioPlayer = (*Engine)(nil)

// NewEngine creates an engine; sampleRate outside (1, 48000] falls back to 24 kHz
func NewEngine(sink Sink, sampleRate int, clk clock.Clock, logger *zap.Logger) *Engine {
	if sampleRate <= 1 || sampleRate > MaxSampleRate {
		sampleRate = DefaultSampleRate
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		sink:       sink,
		clock:      clk,
		logger:     logger,
		sampleRate: sampleRate,
		gain:       1,
		effective:  1,
	}
}

// Initialize opens the sink and starts the timeline
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.sink.Start(); err != nil {
		return fmt.Errorf("failed to start audio output: %w", err)
	}
	e.epoch = e.clock.Now()
	e.initialized = true
	e.sink.SetGain(e.gain)
	e.logger.Info("Playback initialized", zap.Int("sampleRate", e.sampleRate))
	return nil
}

// SetSampleRate overrides the rate for subsequent audio. Values outside
// (1, 48000] are rejected and the current rate kept.
func (e *Engine) SetSampleRate(rate int) error {
	if rate <= 1 || rate > MaxSampleRate {
		e.logger.Warn("Rejected sample rate override", zap.Int("sampleRate", rate))
		return fmt.Errorf("sample rate %d out of range (1, %d]", rate, MaxSampleRate)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sampleRate = rate
	return nil
}

// SampleRate returns the active sample rate
func (e *Engine) SampleRate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sampleRate
}

func (e *Engine) now() time.Duration {
	return e.clock.Now().Sub(e.epoch)
}

func (e *Engine) blockSamples() int {
	return int(int64(e.sampleRate) * int64(BlockDuration) / int64(time.Second))
}

// StreamAudio queues a PCM16 chunk. Malformed chunks are dropped.
func (e *Engine) StreamAudio(chunk []byte) {
	samples, err := codec.PCM16ToFloat32(chunk)
	if err != nil {
		e.logger.Warn("Dropped malformed audio chunk", zap.Error(err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		e.logger.Warn("Dropped audio chunk before playback was initialized")
		return
	}
	if e.ramp != nil {
		e.finishRampLocked()
	}

	e.complete = false
	e.pending = append(e.pending, samples...)
	size := e.blockSamples()
	for len(e.pending) >= size {
		block := make([]float32, size)
		copy(block, e.pending[:size])
		e.queue = append(e.queue, block)
		e.pending = e.pending[size:]
	}

	if !e.playing && len(e.queue) > 0 {
		e.playing = true
		e.pumpLocked()
	}
}

// Complete marks the stream finished; the partial tail block is flushed
func (e *Engine) Complete() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return
	}
	e.complete = true
	if len(e.pending) > 0 {
		block := make([]float32, len(e.pending))
		copy(block, e.pending)
		e.queue = append(e.queue, block)
		e.pending = e.pending[:0]
	}
	if !e.playing && len(e.queue) > 0 {
		e.playing = true
		e.pumpLocked()
	}
}

func (e *Engine) pump(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.timerGen || !e.playing {
		return
	}
	e.timer = nil
	e.pumpLocked()
}

func (e *Engine) pumpLocked() {
	now := e.now()
	for len(e.queue) > 0 && e.scheduledTime <= now+LookAhead {
		block := e.queue[0]
		e.queue = e.queue[1:]

		start := e.scheduledTime
		if start < now {
			start = now
		}
		if err := e.sink.Schedule(block, e.sampleRate, start); err != nil {
			e.logger.Warn("Failed to schedule audio block", zap.Error(err))
		}
		e.scheduledTime = start + codec.SamplesToDuration(len(block), e.sampleRate)
	}

	var wait time.Duration
	switch {
	case len(e.queue) > 0:
		wait = e.scheduledTime - now - LookAhead
		if wait < 0 {
			wait = 0
		}
	case e.complete:
		e.playing = false
		return
	default:
		wait = PollInterval
	}
	e.timerGen++
	gen := e.timerGen
	e.timer = e.clock.AfterFunc(wait, func() { e.pump(gen) })
}

// Stop halts pending blocks, clears the queue and fades the output to silence
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timerGen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.queue = nil
	e.pending = e.pending[:0]
	e.playing = false
	e.complete = false
	if e.initialized {
		e.scheduledTime = e.now()
		e.startRampLocked()
	}
}

func (e *Engine) startRampLocked() {
	if e.ramp != nil {
		e.ramp.Stop()
	}
	e.rampStep = 0
	e.scheduleRampLocked()
}

func (e *Engine) scheduleRampLocked() {
	e.rampGen++
	gen := e.rampGen
	e.ramp = e.clock.AfterFunc(StopRamp/rampSteps, func() { e.rampTick(gen) })
}

func (e *Engine) rampTick(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ramp == nil || gen != e.rampGen {
		return
	}
	e.rampStep++
	if e.rampStep >= rampSteps {
		e.effective = 0
		e.sink.SetGain(0)
		e.finishRampLocked()
		return
	}
	e.effective = e.gain * float64(rampSteps-e.rampStep) / rampSteps
	e.sink.SetGain(e.effective)
	e.scheduleRampLocked()
}

// finishRampLocked drops whatever the sink still holds and restores the user gain
func (e *Engine) finishRampLocked() {
	e.rampGen++
	if e.ramp != nil {
		e.ramp.Stop()
		e.ramp = nil
	}
	e.sink.Flush()
	e.effective = e.gain
	e.sink.SetGain(e.gain)
}

// SetGain sets the output volume, clamped to [0, 1]
func (e *Engine) SetGain(gain float64) {
	if gain < 0 {
		gain = 0
	} else if gain > 1 {
		gain = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gain = gain
	if e.ramp == nil {
		e.effective = gain
		e.sink.SetGain(gain)
	}
}

// Gain returns the user gain
func (e *Engine) Gain() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gain
}

// EffectiveGain returns the gain currently applied, including a stop fade
func (e *Engine) EffectiveGain() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.effective
}

// ScheduledTime returns the end of the last scheduled block on the timeline
func (e *Engine) ScheduledTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scheduledTime
}

// Playing reports whether the scheduler loop is running
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Close cancels timers and releases the sink
func (e *Engine) Close() error {
	e.mu.Lock()
	e.timerGen++
	e.rampGen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.ramp != nil {
		e.ramp.Stop()
		e.ramp = nil
	}
	e.queue = nil
	e.playing = false
	initialized := e.initialized
	e.initialized = false
	e.mu.Unlock()

	if !initialized {
		return nil
	}
	return e.sink.Close()
}
