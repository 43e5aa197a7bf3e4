package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestNewElevenLabsTTS(t *testing.T) {
	logger := zaptest.NewLogger(t)

	if _, err := NewElevenLabsTTS(ElevenLabsConfig{}, logger); err == nil {
		t.Error("Expected error when API key is not set")
	}
	if _, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "k", Stability: 1.5}, logger); err == nil {
		t.Error("Expected error for out of range stability")
	}

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "test-api-key", ChunkSize: 1001}, logger)
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}
	if tts.config.VoiceID != defaultVoiceID {
		t.Errorf("Expected default voice ID '%s', got '%s'", defaultVoiceID, tts.config.VoiceID)
	}
	if tts.config.SampleRate != defaultSampleRate {
		t.Errorf("Expected default sample rate %d, got %d", defaultSampleRate, tts.config.SampleRate)
	}
	if tts.config.ChunkSize != 1000 {
		t.Errorf("Expected chunk size rounded to whole samples, got %d", tts.config.ChunkSize)
	}
}

func TestElevenLabsTTS_ConvertTextToSpeech_EmptyText(t *testing.T) {
	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "test-api-key"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create ElevenLabsTTS: %v", err)
	}

	if _, err := tts.ConvertTextToSpeech(context.Background(), "   "); err == nil {
		t.Error("Expected error for whitespace-only text")
	}
}

func TestElevenLabsTTS_ConvertTextToSpeech_Streams(t *testing.T) {
	audio := make([]byte, 2500)
	var gotPath, gotFormat, gotKey string
	var gotBody ElevenLabsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFormat = r.URL.Query().Get("output_format")
		gotKey = r.Header.Get("xi-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write(audio)
	}))
	defer server.Close()

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{
		APIKey:     "test-api-key",
		APIBaseURL: server.URL,
		VoiceID:    "voice-1",
		SampleRate: 16000,
		ChunkSize:  1000,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	chunks, err := tts.ConvertTextToSpeech(ctx, "Tell me about yourself.")
	if err != nil {
		t.Fatalf("ConvertTextToSpeech failed: %v", err)
	}

	var sizes []int
	for chunk := range chunks {
		sizes = append(sizes, len(chunk))
	}
	if len(sizes) != 3 || sizes[0] != 1000 || sizes[2] != 500 {
		t.Errorf("Expected chunks of 1000, 1000, 500 bytes, got %v", sizes)
	}
	if gotPath != "/text-to-speech/voice-1/stream" {
		t.Errorf("Unexpected path %q", gotPath)
	}
	if gotFormat != "pcm_16000" {
		t.Errorf("Expected pcm_16000 output, got %q", gotFormat)
	}
	if gotKey != "test-api-key" {
		t.Errorf("Expected API key header, got %q", gotKey)
	}
	if gotBody.Text != "Tell me about yourself." || gotBody.ModelID != defaultModelID {
		t.Errorf("Unexpected request body %+v", gotBody)
	}
}

func TestElevenLabsTTS_ConvertTextToSpeech_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	tts, err := NewElevenLabsTTS(ElevenLabsConfig{APIKey: "k", APIBaseURL: server.URL}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	_, err = tts.ConvertTextToSpeech(context.Background(), "Hello")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("Expected a 401 error, got %v", err)
	}
}

func TestMockTextToSpeechLengthFollowsWords(t *testing.T) {
	m := NewMockTextToSpeech(16000)
	chunks, err := m.ConvertTextToSpeech(context.Background(), "one two three four")
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for chunk := range chunks {
		total += len(chunk)
	}
	// four words at 250ms each, 16kHz PCM16
	if want := 16000 * 2; total != want {
		t.Errorf("Expected %d bytes, got %d", want, total)
	}
}
