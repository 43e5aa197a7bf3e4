package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"

	"github.com/satriahrh/parley/internal/codec"
)

// OtoSink plays scheduled blocks through the default output device.
// Blocks are appended in timeline order; the device pull clock is the timeline,
// so an empty buffer plays silence until the next block arrives.
type OtoSink struct {
	sampleRate int
	logger     *zap.Logger

	mu     sync.Mutex
	ctx    *oto.Context
	player *oto.Player
	buf    []byte
	gain   float64
	closed bool
}

// NewOtoSink creates a mono PCM16 sink at the given device rate
func NewOtoSink(sampleRate int, logger *zap.Logger) *OtoSink {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &OtoSink{sampleRate: sampleRate, logger: logger, gain: 1}
}

// Start opens the output device. oto allows a single context per process.
func (s *OtoSink) Start() error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   s.sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("failed to init speaker: %w", err)
	}
	<-ready

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.player = ctx.NewPlayer(s)
	s.player.SetVolume(s.gain)
	s.player.Play()
	s.logger.Info("Audio output started", zap.Int("sampleRate", s.sampleRate))
	return nil
}

// Schedule appends a block, resampling to the device rate when needed
func (s *OtoSink) Schedule(block []float32, sampleRate int, at time.Duration) error {
	if sampleRate != s.sampleRate {
		block = resample(block, sampleRate, s.sampleRate)
	}
	pcm := codec.Float32ToPCM16(block)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("audio output closed")
	}
	s.buf = append(s.buf, pcm...)
	return nil
}

// Read implements io.Reader for the oto player
func (s *OtoSink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *OtoSink) SetGain(gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain = gain
	if s.player != nil {
		s.player.SetVolume(gain)
	}
}

// Flush drops buffered audio, including what oto already pulled
func (s *OtoSink) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	old := s.player
	if s.ctx != nil && !s.closed {
		s.player = s.ctx.NewPlayer(s)
		s.player.SetVolume(s.gain)
		s.player.Play()
	}
	s.mu.Unlock()

	if old != nil {
		old.Pause()
		if err := old.Close(); err != nil {
			s.logger.Debug("Failed to close flushed player", zap.Error(err))
		}
	}
}

func (s *OtoSink) Close() error {
	s.mu.Lock()
	s.closed = true
	player := s.player
	s.player = nil
	s.buf = nil
	s.mu.Unlock()

	if player == nil {
		return nil
	}
	return player.Close()
}

// resample converts between rates with linear interpolation
func resample(in []float32, from, to int) []float32 {
	if from <= 0 || to <= 0 || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
