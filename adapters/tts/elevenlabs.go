package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/parley/domain/repositories"
)

const (
	defaultAPIBaseURL = "https://api.elevenlabs.io/v1"
	defaultVoiceID    = "21m00Tcm4TlvDq8ikWAM" // Rachel
	defaultChunkSize  = 4800
	defaultSampleRate = 24000
	defaultModelID    = "eleven_multilingual_v2"
	defaultStability  = 0.5
	defaultClarity    = 0.75
)

// ElevenLabsConfig holds configuration for the ElevenLabsTTS adapter.
// Only APIKey is required. SampleRate selects the pcm_<rate> output format and
// must match the playback engine.
type ElevenLabsConfig struct {
	APIKey     string
	APIBaseURL string
	VoiceID    string
	ModelID    string
	SampleRate int
	ChunkSize  int
	Stability  float64
	Clarity    float64
}

// ElevenLabsTTS implements TextToSpeech interface using Eleven Labs API
type ElevenLabsTTS struct {
	config ElevenLabsConfig
	client *http.Client
	logger *zap.Logger
}

var _ repositories.TextToSpeech = (*ElevenLabsTTS)(nil)

// ElevenLabsVoiceSettings represents voice settings for Eleven Labs API
type ElevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

// ElevenLabsRequest represents the request payload for Eleven Labs TTS API
type ElevenLabsRequest struct {
	Text                   string                  `json:"text"`
	ModelID                string                  `json:"model_id"`
	VoiceSettings          ElevenLabsVoiceSettings `json:"voice_settings"`
	ApplyTextNormalization string                  `json:"apply_text_normalization,omitempty"`
}

// ValidateElevenLabsConfig validates the ElevenLabsConfig
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return errors.New("eleven labs API key is required")
	}
	if config.Stability < 0 || config.Stability > 1 {
		return fmt.Errorf("stability must be between 0 and 1, got %f", config.Stability)
	}
	if config.Clarity < 0 || config.Clarity > 1 {
		return fmt.Errorf("clarity must be between 0 and 1, got %f", config.Clarity)
	}
	if config.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}
	if config.SampleRate < 0 {
		return fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	return nil
}

// NewElevenLabsTTS creates a new Eleven Labs TTS instance
func NewElevenLabsTTS(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsTTS, error) {
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}

	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultAPIBaseURL
	}
	if config.VoiceID == "" {
		config.VoiceID = defaultVoiceID
	}
	if config.ModelID == "" {
		config.ModelID = defaultModelID
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaultSampleRate
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = defaultChunkSize
	}
	if config.Stability == 0 {
		config.Stability = defaultStability
	}
	if config.Clarity == 0 {
		config.Clarity = defaultClarity
	}
	// PCM16 chunks must not split a sample
	config.ChunkSize -= config.ChunkSize % 2

	logger.Info("Eleven Labs speech synthesis ready",
		zap.String("voiceID", config.VoiceID),
		zap.String("modelID", config.ModelID),
		zap.Int("sampleRate", config.SampleRate))

	return &ElevenLabsTTS{
		config: config,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}, nil
}

// ConvertTextToSpeech starts synthesis and streams PCM16 chunks. HTTP failures
// are returned here; the channel closes when the audio ends or ctx is done.
func (e *ElevenLabsTTS) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("text cannot be empty")
	}

	requestBody, err := json.Marshal(ElevenLabsRequest{
		Text:                   text,
		ModelID:                e.config.ModelID,
		ApplyTextNormalization: "auto",
		VoiceSettings: ElevenLabsVoiceSettings{
			Stability:       e.config.Stability,
			SimilarityBoost: e.config.Clarity,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=pcm_%d&enable_logging=false",
		e.config.APIBaseURL, e.config.VoiceID, e.config.SampleRate)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/pcm")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.config.APIKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("eleven labs returned %d: %s", resp.StatusCode, strings.TrimSpace(string(errorBody)))
	}

	e.logger.Debug("Streaming synthesized speech", zap.Int("textLength", len(text)))

	audioChan := make(chan []byte, 10)
	go func() {
		defer close(audioChan)
		defer resp.Body.Close()

		totalBytes := 0
		for {
			buffer := make([]byte, e.config.ChunkSize)
			n, err := io.ReadFull(resp.Body, buffer)
			n -= n % 2
			if n > 0 {
				totalBytes += n
				select {
				case audioChan <- buffer[:n]:
				case <-ctx.Done():
					e.logger.Debug("Synthesis cancelled", zap.Int("totalBytes", totalBytes))
					return
				}
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				e.logger.Debug("Finished streaming audio data", zap.Int("totalBytes", totalBytes))
				return
			}
			if err != nil {
				e.logger.Error("Error reading synthesized audio", zap.Error(err))
				return
			}
		}
	}()

	return audioChan, nil
}
