package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/satriahrh/parley/adapters/llm"
	"github.com/satriahrh/parley/adapters/memory"
	"github.com/satriahrh/parley/adapters/mongo"
	"github.com/satriahrh/parley/adapters/stt"
	"github.com/satriahrh/parley/adapters/tts"
	"github.com/satriahrh/parley/domain/repositories"
	"github.com/satriahrh/parley/internal/api"
	"github.com/satriahrh/parley/internal/auth"
	"github.com/satriahrh/parley/internal/capture"
	"github.com/satriahrh/parley/internal/config"
	"github.com/satriahrh/parley/internal/metrics"
	"github.com/satriahrh/parley/internal/playback"
	"github.com/satriahrh/parley/internal/transport"
	"github.com/satriahrh/parley/internal/websocket"
	"github.com/satriahrh/parley/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		zap.NewExample().Fatal("Failed to load configuration", zap.Error(err))
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.New()
	m := metrics.NewMetrics("parley")

	reports, ready, closeReports := newReportRepository(ctx, cfg.Mongo, logger)
	defer closeReports()

	transports, closeTransports, err := newTransportFactory(ctx, cfg, clk, logger, m)
	if err != nil {
		logger.Fatal("Failed to initialize transport", zap.Error(err))
	}
	defer closeTransports()

	// Devices
	s := cfg.Session
	micSource := capture.NewMalgoSource(logger)
	defer micSource.Close()
	mic := capture.NewMicrophone(micSource, capture.MicrophoneConfig{
		SampleRate:       s.MicSampleRate,
		DeviceName:       s.MicDevice,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}, logger)
	camera := capture.NewVisualDevice(
		capture.NewFFmpegFrameSource(ffmpegConfig(capture.VisualCamera, s.CameraFacingMode, s.CameraDevice, s.CameraFPS), logger),
		capture.VisualConfig{
			Kind:        capture.VisualCamera,
			Width:       s.CameraWidth,
			FPS:         s.CameraFPS,
			JPEGQuality: s.JPEGQuality,
			FacingMode:  s.CameraFacingMode,
		}, clk, logger)
	screen := capture.NewVisualDevice(
		capture.NewFFmpegFrameSource(ffmpegConfig(capture.VisualScreen, "", s.ScreenDevice, s.ScreenFPS), logger),
		capture.VisualConfig{
			Kind:        capture.VisualScreen,
			Width:       s.ScreenWidth,
			FPS:         s.ScreenFPS,
			JPEGQuality: s.JPEGQuality,
		}, clk, logger)
	player := playback.NewEngine(playback.NewOtoSink(s.PlaybackSampleRate, logger), s.PlaybackSampleRate, clk, logger)
	defer player.Close()

	orchestrator := usecase.NewOrchestrator(s, usecase.Dependencies{
		Microphone: mic,
		Camera:     camera,
		Screen:     screen,
		Player:     player,
		Transport:  transports,
		Reports:    reports,
		Clock:      clk,
		Metrics:    m,
	}, logger)

	hub := websocket.NewHub(orchestrator, clk, logger)
	go hub.Run(ctx)

	var issuer *auth.Issuer
	if cfg.Auth.ControlSecret != "" {
		secret := cfg.Auth.JWTSecret
		if secret == "" {
			secret = uuid.NewString()
			logger.Warn("JWT_SECRET not set, tokens will not survive a restart")
		}
		issuer, err = auth.NewIssuer(secret, cfg.Auth.TokenTTL, clk)
		if err != nil {
			logger.Fatal("Failed to create token issuer", zap.Error(err))
		}
	} else {
		logger.Warn("CONTROL_SECRET not set, control routes are open")
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, api.Deps{
		Sessions:      orchestrator,
		Reports:       reports,
		Hub:           hub,
		Issuer:        issuer,
		ControlSecret: cfg.Auth.ControlSecret,
		Metrics:       m,
		Logger:        logger,
		Ready:         ready,
	})

	go func() {
		if err := e.Start(cfg.HTTP.Address); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("address", cfg.HTTP.Address),
		zap.String("mode", s.Mode))

	<-ctx.Done()
	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := orchestrator.Close(shutdownCtx); err != nil {
		logger.Warn("Session did not close cleanly", zap.Error(err))
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// newReportRepository uses MongoDB when configured and memory otherwise
func newReportRepository(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (repositories.ReportRepository, func(context.Context) error, func()) {
	if cfg.URI == "" {
		logger.Info("MONGODB_URI not set, reports are kept in memory")
		return memory.NewReportRepository(), nil, func() {}
	}

	client, err := mongo.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	repo := mongo.NewReportRepository(client.Database, logger)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("Failed to ensure report indexes", zap.Error(err))
	}
	return repo, client.Ping, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(ctx)
	}
}

// newTransportFactory builds the live duplex transport, or the local
// recognition pipeline when SESSION_MODE=pipeline
func newTransportFactory(ctx context.Context, cfg config.Config, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) (repositories.TransportFactory, func(), error) {
	s := cfg.Session
	if s.Mode == config.ModeLive {
		return transport.Factory(transport.Config{
			URL:              s.URL,
			APIKey:           s.APIKey,
			HandshakeTimeout: s.HandshakeTimeout,
		}, logger, m), func() {}, nil
	}

	p := cfg.Pipeline
	opts := usecase.PipelineOptions{
		Language:       p.STTLanguage,
		VoiceThreshold: p.VoiceThreshold,
		EndOfUtterance: p.EndOfUtterance,
	}
	if p.Offline {
		logger.Info("Pipeline running offline with canned services")
		return usecase.PipelineFactory(
			stt.NewMockSpeechToText(logger),
			tts.NewMockTextToSpeech(s.PlaybackSampleRate),
			llm.NewMockGeminiClient(),
			opts, clk, logger, m,
		), func() {}, nil
	}

	chat, err := llm.NewGeminiLLM(ctx, llm.GeminiConfig{
		APIKey:      s.APIKey,
		Model:       p.ChatModel,
		Temperature: s.Temperature,
		TopP:        s.TopP,
		TopK:        float32(s.TopK),
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	speech, err := stt.NewGoogleSpeechToText(ctx, logger)
	if err != nil {
		return nil, nil, err
	}
	voice, err := tts.NewElevenLabsTTS(tts.ElevenLabsConfig{
		APIKey:     p.ElevenLabsAPIKey,
		APIBaseURL: p.ElevenLabsBaseURL,
		VoiceID:    p.ElevenLabsVoiceID,
		ModelID:    p.ElevenLabsModelID,
		SampleRate: s.PlaybackSampleRate,
	}, logger)
	if err != nil {
		_ = speech.Close()
		return nil, nil, err
	}

	return usecase.PipelineFactory(speech, voice, chat, opts, clk, logger, m), func() {
		_ = speech.Close()
	}, nil
}

func ffmpegConfig(kind capture.VisualKind, facingMode, device string, fps float64) capture.FFmpegConfig {
	c := capture.DefaultFFmpegConfig(kind, facingMode)
	if device != "" {
		c.InputDevice = device
	}
	c.FPS = fps
	return c
}
