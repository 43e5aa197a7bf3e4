package tts

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"

	"github.com/satriahrh/parley/domain/repositories"
)

// MockTextToSpeech renders a soft hum whose length follows the word count
type MockTextToSpeech struct {
	sampleRate int
}

var _ repositories.TextToSpeech = (*MockTextToSpeech)(nil)

// NewMockTextToSpeech creates an offline synthesizer at the playback rate
func NewMockTextToSpeech(sampleRate int) *MockTextToSpeech {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	return &MockTextToSpeech{sampleRate: sampleRate}
}

func (m *MockTextToSpeech) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	words := len(strings.Fields(text))
	if words == 0 {
		return nil, errors.New("text cannot be empty")
	}

	// ~250ms per word, emitted in 100ms chunks
	chunkSamples := m.sampleRate / 10
	chunks := (words*250 + 99) / 100
	out := make(chan []byte, 4)
	go func() {
		defer close(out)
		sample := 0
		for i := 0; i < chunks; i++ {
			chunk := make([]byte, chunkSamples*2)
			for j := 0; j < chunkSamples; j++ {
				v := int16(1500 * math.Sin(2*math.Pi*220*float64(sample)/float64(m.sampleRate)))
				binary.LittleEndian.PutUint16(chunk[j*2:], uint16(v))
				sample++
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
