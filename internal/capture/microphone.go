package capture

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/parley/domain/entities"
	"github.com/satriahrh/parley/domain/repositories"
	"github.com/satriahrh/parley/internal/codec"
)

const (
	DefaultMicSampleRate = 16000
	// MicFrameSamples is the number of samples carried by one AudioChunk
	MicFrameSamples = 2048
)

// MicrophoneConfig configures the audio input
type MicrophoneConfig struct {
	SampleRate       int
	DeviceName       string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultMicrophoneConfig returns 16 kHz with input processing enabled
func DefaultMicrophoneConfig() MicrophoneConfig {
	return MicrophoneConfig{
		SampleRate:       DefaultMicSampleRate,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Microphone turns an AudioSource into a stream of PCM16 AudioChunks
type Microphone struct {
	source AudioSource
	cfg    MicrophoneConfig
	logger *zap.Logger

	mu         sync.Mutex
	stream     AudioStream
	onFrame    repositories.FrameHandler
	pending    []float32
	generation uint64
	suspended  bool
	disposed   bool

	// hwMu serializes Pause/Resume/Close. The capture callback never takes
	// it, since those calls block until an in-flight callback returns.
	hwMu     sync.Mutex
	hwStream AudioStream
	hwPaused bool
}

var _ repositories.Microphone = (*Microphone)(nil)

// NewMicrophone creates a microphone over the given source
func NewMicrophone(source AudioSource, cfg MicrophoneConfig, logger *zap.Logger) *Microphone {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultMicSampleRate
	}
	return &Microphone{
		source: source,
		cfg:    cfg,
		logger: logger,
	}
}

// Start opens the input. A Stop or Dispose issued while the source is still
// opening wins: the late stream is closed and never emits. A mic suspended
// before Start comes up suspended, and nothing is emitted until Open returns.
func (m *Microphone) Start(ctx context.Context, onFrame repositories.FrameHandler) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return entities.NewStateError("microphone has been disposed")
	}
	if m.stream != nil {
		m.mu.Unlock()
		return nil
	}
	m.generation++
	gen := m.generation
	m.onFrame = onFrame
	m.pending = m.pending[:0]
	m.mu.Unlock()

	stream, err := m.source.Open(ctx, m.cfg, func(samples []float32) {
		m.handleSamples(gen, samples)
	})
	if err != nil {
		m.logger.Warn("Failed to open microphone", zap.Error(err))
		return classifyOpenError("microphone", err)
	}

	m.mu.Lock()
	if gen != m.generation || m.disposed {
		m.mu.Unlock()
		_ = stream.Close()
		m.logger.Info("Discarded microphone opened after stop")
		return errStoppedWhileStarting
	}
	m.stream = stream
	suspended := m.suspended
	m.mu.Unlock()

	m.syncHardware()
	m.logger.Info("Microphone started",
		zap.Int("sampleRate", m.cfg.SampleRate),
		zap.Bool("suspended", suspended))
	return nil
}

func (m *Microphone) handleSamples(gen uint64, samples []float32) {
	m.mu.Lock()
	if gen != m.generation || m.stream == nil || m.suspended || m.onFrame == nil {
		m.mu.Unlock()
		return
	}
	m.pending = append(m.pending, samples...)
	var frames []entities.AudioChunk
	for len(m.pending) >= MicFrameSamples {
		frames = append(frames, entities.AudioChunk{
			PCM:        codec.Float32ToPCM16(m.pending[:MicFrameSamples]),
			SampleRate: m.cfg.SampleRate,
		})
		m.pending = m.pending[MicFrameSamples:]
	}
	onFrame := m.onFrame
	m.mu.Unlock()

	for _, frame := range frames {
		onFrame(frame)
	}
}

// Suspend stops frame emission and pauses the hardware stream without
// closing it. On a stopped mic it makes the next Start come up suspended.
func (m *Microphone) Suspend() {
	m.mu.Lock()
	if m.suspended {
		m.mu.Unlock()
		return
	}
	m.suspended = true
	m.pending = m.pending[:0]
	m.mu.Unlock()

	m.syncHardware()
}

// Resume restarts frame emission after Suspend
func (m *Microphone) Resume() {
	m.mu.Lock()
	if !m.suspended {
		m.mu.Unlock()
		return
	}
	m.suspended = false
	m.mu.Unlock()

	m.syncHardware()
}

// syncHardware pauses or resumes the open stream to match the latest
// requested state. Concurrent callers converge on whichever state won.
func (m *Microphone) syncHardware() {
	m.hwMu.Lock()
	defer m.hwMu.Unlock()

	m.mu.Lock()
	stream := m.stream
	want := m.suspended
	m.mu.Unlock()

	if stream == nil {
		return
	}
	if stream != m.hwStream {
		m.hwStream = stream
		m.hwPaused = false
	}
	if want == m.hwPaused {
		return
	}

	var err error
	if want {
		err = stream.Pause()
	} else {
		err = stream.Resume()
	}
	if err != nil {
		m.logger.Warn("Failed to switch microphone stream", zap.Bool("pause", want), zap.Error(err))
		return
	}
	m.hwPaused = want
}

// Producing reports whether frames are currently being emitted
func (m *Microphone) Producing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil && !m.suspended
}

// Active reports whether the input is open, suspended or not
func (m *Microphone) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

// Stop closes the input. Safe to call at any time. The suspended state is
// kept for the next Start.
func (m *Microphone) Stop() {
	m.mu.Lock()
	m.generation++
	stream := m.stream
	m.stream = nil
	m.onFrame = nil
	m.pending = m.pending[:0]
	m.mu.Unlock()

	if stream == nil {
		return
	}

	m.hwMu.Lock()
	if m.hwStream == stream {
		m.hwStream = nil
	}
	err := stream.Close()
	m.hwMu.Unlock()
	if err != nil {
		m.logger.Warn("Failed to close microphone stream", zap.Error(err))
	}
	m.logger.Info("Microphone stopped")
}

// Dispose stops the microphone for good
func (m *Microphone) Dispose() {
	m.mu.Lock()
	m.disposed = true
	m.mu.Unlock()
	m.Stop()
}
