// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ModeLive     = "live"
	ModePipeline = "pipeline"
)

// Config holds application configuration
type Config struct {
	LogLevel string
	HTTP     HTTPConfig
	Auth     AuthConfig
	Mongo    MongoConfig
	Session  SessionConfig
	Pipeline PipelineConfig
}

type HTTPConfig struct {
	Address string
}

type AuthConfig struct {
	JWTSecret     string
	ControlSecret string
	TokenTTL      time.Duration
}

type MongoConfig struct {
	URI      string
	Database string
}

// SessionConfig is handed to the orchestrator at construction; nothing below
// it reads the environment.
type SessionConfig struct {
	Mode string

	APIKey              string
	URL                 string
	Model               string
	Voice               string
	Temperature         float32
	TopP                float32
	TopK                int
	SafetyThreshold     string
	EnableTranscription bool

	MicSampleRate      int
	MicDevice          string
	PlaybackSampleRate int

	CameraWidth      int
	CameraFPS        float64
	CameraFacingMode string
	CameraDevice     string
	ScreenWidth      int
	ScreenFPS        float64
	ScreenDevice     string
	JPEGQuality      float64

	SilenceWindow      time.Duration
	HandshakeTimeout   time.Duration
	EndTurnWait        time.Duration
	MaxSessionDuration time.Duration

	StartWithMic    bool
	StartWithCamera bool
}

// PipelineConfig configures the degraded local-recognition mode
type PipelineConfig struct {
	// Offline swaps every remote service for canned local stand-ins
	Offline        bool
	STTLanguage    string
	ChatModel      string
	VoiceThreshold float64
	EndOfUtterance time.Duration

	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsVoiceID string
	ElevenLabsModelID string
}

// Load reads .env when present, then the environment, applying defaults
func Load() (Config, error) {
	// a missing .env is fine; real deployments use the environment
	_ = godotenv.Load()

	cfg := Config{
		LogLevel: envOrDefault("LOG_LEVEL", "info"),
		HTTP: HTTPConfig{
			Address: envOrDefault("HTTP_ADDRESS", ":8080"),
		},
		Auth: AuthConfig{
			JWTSecret:     os.Getenv("JWT_SECRET"),
			ControlSecret: os.Getenv("CONTROL_SECRET"),
			TokenTTL:      envOrDefaultDuration("TOKEN_TTL", 24*time.Hour),
		},
		Mongo: MongoConfig{
			URI:      os.Getenv("MONGODB_URI"),
			Database: envOrDefault("MONGODB_DATABASE", "parley"),
		},
		Session: SessionConfig{
			Mode:                strings.ToLower(envOrDefault("SESSION_MODE", ModeLive)),
			APIKey:              os.Getenv("GEMINI_API_KEY"),
			URL:                 os.Getenv("LIVE_URL"),
			Model:               envOrDefault("LIVE_MODEL", "models/gemini-2.0-flash-exp"),
			Voice:               envOrDefault("LIVE_VOICE", "Puck"),
			Temperature:         float32(envOrDefaultFloat("LIVE_TEMPERATURE", 0.7)),
			TopP:                float32(envOrDefaultFloat("LIVE_TOP_P", 0.95)),
			TopK:                envOrDefaultInt("LIVE_TOP_K", 40),
			SafetyThreshold:     envOrDefault("LIVE_SAFETY_THRESHOLD", "BLOCK_ONLY_HIGH"),
			EnableTranscription: envOrDefaultBool("LIVE_TRANSCRIPTION", true),
			MicSampleRate:       envOrDefaultInt("MIC_SAMPLE_RATE", 16000),
			MicDevice:           os.Getenv("MIC_DEVICE"),
			PlaybackSampleRate:  envOrDefaultInt("PLAYBACK_SAMPLE_RATE", 24000),
			CameraWidth:         envOrDefaultInt("CAMERA_WIDTH", 640),
			CameraFPS:           envOrDefaultFloat("CAMERA_FPS", 5),
			CameraFacingMode:    envOrDefault("CAMERA_FACING_MODE", "user"),
			CameraDevice:        os.Getenv("CAMERA_DEVICE"),
			ScreenWidth:         envOrDefaultInt("SCREEN_WIDTH", 1280),
			ScreenFPS:           envOrDefaultFloat("SCREEN_FPS", 2),
			ScreenDevice:        os.Getenv("SCREEN_DEVICE"),
			JPEGQuality:         envOrDefaultFloat("JPEG_QUALITY", 0.8),
			SilenceWindow:       envOrDefaultDuration("SILENCE_WINDOW", 600*time.Millisecond),
			HandshakeTimeout:    envOrDefaultDuration("HANDSHAKE_TIMEOUT", 30*time.Second),
			EndTurnWait:         envOrDefaultDuration("END_TURN_WAIT", 5*time.Second),
			MaxSessionDuration:  envOrDefaultDuration("MAX_SESSION_DURATION", 30*time.Minute),
			StartWithMic:        envOrDefaultBool("START_WITH_MIC", true),
			StartWithCamera:     envOrDefaultBool("START_WITH_CAMERA", false),
		},
		Pipeline: PipelineConfig{
			Offline:           envOrDefaultBool("PIPELINE_OFFLINE", false),
			STTLanguage:       envOrDefault("GOOGLE_STT_LANGUAGE", "en-US"),
			ChatModel:         envOrDefault("PIPELINE_CHAT_MODEL", "gemini-2.0-flash"),
			VoiceThreshold:    envOrDefaultFloat("PIPELINE_VOICE_THRESHOLD", 0.02),
			EndOfUtterance:    envOrDefaultDuration("PIPELINE_END_OF_UTTERANCE", 800*time.Millisecond),
			ElevenLabsAPIKey:  os.Getenv("ELEVEN_LABS_API_KEY"),
			ElevenLabsBaseURL: os.Getenv("ELEVEN_LABS_API_BASE_URL"),
			ElevenLabsVoiceID: os.Getenv("ELEVEN_LABS_VOICE_ID"),
			ElevenLabsModelID: os.Getenv("ELEVEN_LABS_MODEL_ID"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges; credentials are checked where they are used
func (c Config) Validate() error {
	s := c.Session
	var errs []error
	if s.Mode != ModeLive && s.Mode != ModePipeline {
		errs = append(errs, fmt.Errorf("SESSION_MODE must be %q or %q, got %q", ModeLive, ModePipeline, s.Mode))
	}
	if s.PlaybackSampleRate <= 1 || s.PlaybackSampleRate > 48000 {
		errs = append(errs, fmt.Errorf("PLAYBACK_SAMPLE_RATE must be in (1, 48000], got %d", s.PlaybackSampleRate))
	}
	if s.MicSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("MIC_SAMPLE_RATE must be positive, got %d", s.MicSampleRate))
	}
	if s.JPEGQuality <= 0 || s.JPEGQuality > 1 {
		errs = append(errs, fmt.Errorf("JPEG_QUALITY must be in (0, 1], got %v", s.JPEGQuality))
	}
	if s.CameraFacingMode != "user" && s.CameraFacingMode != "environment" {
		errs = append(errs, fmt.Errorf("CAMERA_FACING_MODE must be user or environment, got %q", s.CameraFacingMode))
	}
	if s.CameraFPS <= 0 || s.ScreenFPS <= 0 {
		errs = append(errs, errors.New("CAMERA_FPS and SCREEN_FPS must be positive"))
	}
	if s.SilenceWindow <= 0 || s.HandshakeTimeout <= 0 || s.EndTurnWait <= 0 {
		errs = append(errs, errors.New("SILENCE_WINDOW, HANDSHAKE_TIMEOUT and END_TURN_WAIT must be positive"))
	}
	return errors.Join(errs...)
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envOrDefaultBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// envOrDefaultDuration accepts Go durations ("600ms") or whole milliseconds
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
