package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"
)

type scheduledBlock struct {
	samples int
	at      time.Duration
}

type fakeSink struct {
	mu      sync.Mutex
	blocks  []scheduledBlock
	gains   []float64
	flushes int
}

func (s *fakeSink) Start() error { return nil }

func (s *fakeSink) Schedule(block []float32, sampleRate int, at time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, scheduledBlock{samples: len(block), at: at})
	return nil
}

func (s *fakeSink) SetGain(gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gains = append(s.gains, gain)
}

func (s *fakeSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) snapshot() []scheduledBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduledBlock(nil), s.blocks...)
}

func (s *fakeSink) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

func (s *fakeSink) sawGain(g float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.gains {
		if v == g {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T) (*Engine, *fakeSink, *clock.Mock) {
	t.Helper()
	sink := &fakeSink{}
	mock := clock.NewMock()
	engine := NewEngine(sink, DefaultSampleRate, mock, zaptest.NewLogger(t))
	if err := engine.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine, sink, mock
}

// pcmFor returns silent PCM16 bytes lasting d at the default rate
func pcmFor(d time.Duration) []byte {
	samples := int(int64(DefaultSampleRate) * int64(d) / int64(time.Second))
	return make([]byte, samples*2)
}

func advanceUntil(t *testing.T, mock *clock.Mock, step time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		mock.Add(step)
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestEngineGaplessScheduling(t *testing.T) {
	engine, sink, mock := newTestEngine(t)

	engine.StreamAudio(pcmFor(BlockDuration * 3))

	blocks := sink.snapshot()
	if len(blocks) != 1 {
		t.Fatalf("Expected only the first block inside the look-ahead window, got %d", len(blocks))
	}

	advanceUntil(t, mock, 20*time.Millisecond, func() bool {
		return len(sink.snapshot()) == 3
	}, "expected all three blocks to be scheduled")

	blocks = sink.snapshot()
	for i := 1; i < len(blocks); i++ {
		want := blocks[i-1].at + BlockDuration
		if blocks[i].at != want {
			t.Errorf("block %d: expected start %v, got %v", i, want, blocks[i].at)
		}
	}
	if engine.ScheduledTime() != blocks[2].at+BlockDuration {
		t.Errorf("Expected cursor at %v, got %v", blocks[2].at+BlockDuration, engine.ScheduledTime())
	}
}

func TestEngineContinuesAcrossShortPause(t *testing.T) {
	engine, sink, mock := newTestEngine(t)

	engine.StreamAudio(pcmFor(BlockDuration))
	first := sink.snapshot()[0]

	// a pause shorter than the look-ahead keeps the timeline contiguous
	mock.Add(100 * time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if !engine.Playing() {
		t.Fatal("Expected engine to keep polling while stream is open")
	}

	engine.StreamAudio(pcmFor(BlockDuration))
	advanceUntil(t, mock, 10*time.Millisecond, func() bool {
		return len(sink.snapshot()) == 2
	}, "expected second block to be scheduled")

	second := sink.snapshot()[1]
	if second.at != first.at+BlockDuration {
		t.Errorf("Expected contiguous start %v, got %v", first.at+BlockDuration, second.at)
	}
}

func TestEngineCompleteFlushesTail(t *testing.T) {
	engine, sink, mock := newTestEngine(t)

	engine.StreamAudio(pcmFor(100 * time.Millisecond))
	if len(sink.snapshot()) != 0 {
		t.Fatal("Expected partial block to wait for more data")
	}

	engine.Complete()
	blocks := sink.snapshot()
	if len(blocks) != 1 {
		t.Fatalf("Expected tail block after complete, got %d", len(blocks))
	}
	if blocks[0].samples != DefaultSampleRate/10 {
		t.Errorf("Expected %d samples, got %d", DefaultSampleRate/10, blocks[0].samples)
	}

	advanceUntil(t, mock, 50*time.Millisecond, func() bool {
		return !engine.Playing()
	}, "expected engine to stop once the complete stream drained")
}

func TestEngineStopClearsQueueAndRampsGain(t *testing.T) {
	engine, sink, mock := newTestEngine(t)
	engine.SetGain(0.8)

	engine.StreamAudio(pcmFor(BlockDuration * 4))
	engine.Stop()

	if engine.Playing() {
		t.Error("Expected engine to stop playing")
	}

	advanceUntil(t, mock, 10*time.Millisecond, func() bool {
		return sink.flushCount() == 1
	}, "expected sink flush at the end of the fade")

	if !sink.sawGain(0) {
		t.Error("Expected gain to reach zero during the fade")
	}
	if engine.EffectiveGain() != 0.8 {
		t.Errorf("Expected gain restored to 0.8, got %v", engine.EffectiveGain())
	}

	mock.Add(time.Second)
	time.Sleep(5 * time.Millisecond)
	if n := len(sink.snapshot()); n != 1 {
		t.Errorf("Expected no blocks scheduled after stop, got %d", n)
	}
}

func TestEngineSampleRateBounds(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	tests := []struct {
		rate    int
		wantErr bool
	}{
		{0, true},
		{1, true},
		{48001, true},
		{2, false},
		{48000, false},
	}
	for _, tt := range tests {
		before := engine.SampleRate()
		err := engine.SetSampleRate(tt.rate)
		if (err != nil) != tt.wantErr {
			t.Errorf("rate %d: error = %v, wantErr %v", tt.rate, err, tt.wantErr)
		}
		if tt.wantErr && engine.SampleRate() != before {
			t.Errorf("rate %d: expected previous rate %d kept, got %d", tt.rate, before, engine.SampleRate())
		}
		if !tt.wantErr && engine.SampleRate() != tt.rate {
			t.Errorf("rate %d: expected rate applied, got %d", tt.rate, engine.SampleRate())
		}
	}
}

func TestEngineDropsMalformedChunk(t *testing.T) {
	engine, sink, _ := newTestEngine(t)

	engine.StreamAudio([]byte{1, 2, 3})
	engine.Complete()

	if len(sink.snapshot()) != 0 {
		t.Error("Expected malformed chunk to be dropped")
	}
}

func TestResample(t *testing.T) {
	out := resample([]float32{0, 1, 0, -1}, 16000, 32000)
	if len(out) != 8 {
		t.Fatalf("Expected 8 samples, got %d", len(out))
	}
	if out[1] != 0.5 {
		t.Errorf("Expected interpolated 0.5, got %v", out[1])
	}
}
