package stt

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/parley/domain/repositories"
)

// mockAnswers stand in for a candidate's spoken answers, longest first
var mockAnswers = []struct {
	minBytes int
	text     string
}{
	{96000, "I led the migration of our billing service to Go, which cut latency in half."},
	{32000, "I enjoy working on backend systems and mentoring newer engineers."},
	{8000, "Sure, happy to explain."},
	{0, "Yes."},
}

// MockSpeechToText recognizes canned answers chosen by utterance length
type MockSpeechToText struct {
	logger *zap.Logger
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{logger: logger}
}

// InitTranscribeStreaming creates a new mock streaming session
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	s.logger.Debug("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("language", config.Language))
	return &MockSpeechToTextStream{logger: s.logger}, nil
}

// TranscribeAudio implements repositories.SpeechToText
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	if len(audioData) == 0 {
		return "", errors.New("no audio data received")
	}
	return answerFor(len(audioData)), nil
}

// MockSpeechToTextStream accumulates the utterance size
type MockSpeechToTextStream struct {
	logger *zap.Logger
	mu     sync.Mutex
	total  int
}

func (m *MockSpeechToTextStream) Stream(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total += len(data)
	return nil
}

func (m *MockSpeechToTextStream) End() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.total == 0 {
		return "", errors.New("no audio data received")
	}
	text := answerFor(m.total)
	m.logger.Debug("Ending mock transcription stream", zap.Int("bytes", m.total), zap.String("result", text))
	return text, nil
}

func answerFor(size int) string {
	for _, a := range mockAnswers {
		if size >= a.minBytes {
			return a.text
		}
	}
	return mockAnswers[len(mockAnswers)-1].text
}
