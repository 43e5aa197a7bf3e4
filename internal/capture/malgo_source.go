package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/satriahrh/parley/internal/codec"
)

// MalgoSource captures microphone audio through miniaudio
type MalgoSource struct {
	logger *zap.Logger

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgoSource creates a source; the audio context is initialized on first Open
func NewMalgoSource(logger *zap.Logger) *MalgoSource {
	return &MalgoSource{logger: logger}
}

func (s *MalgoSource) audioContext() (*malgo.AllocatedContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx, nil
	}

	config := malgo.ContextConfig{}
	config.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, config, func(message string) {
		s.logger.Debug("miniaudio", zap.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}
	s.ctx = ctx
	return ctx, nil
}

// Open starts a capture device delivering float32 mono samples
func (s *MalgoSource) Open(ctx context.Context, cfg MicrophoneConfig, onSamples func([]float32)) (AudioStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	audioCtx, err := s.audioContext()
	if err != nil {
		return nil, err
	}

	if cfg.EchoCancellation || cfg.NoiseSuppression || cfg.AutoGainControl {
		s.logger.Debug("Input processing is delegated to the OS input chain",
			zap.Bool("echoCancellation", cfg.EchoCancellation),
			zap.Bool("noiseSuppression", cfg.NoiseSuppression),
			zap.Bool("autoGainControl", cfg.AutoGainControl))
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			samples, err := codec.Float32FromBytes(input)
			if err != nil {
				s.logger.Warn("Dropped malformed microphone buffer", zap.Error(err))
				return
			}
			onSamples(samples)
		},
	}

	device, err := malgo.InitDevice(audioCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start microphone: %w", err)
	}

	return &malgoStream{device: device}, nil
}

// Close releases the audio context
func (s *MalgoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return nil
	}
	err := s.ctx.Uninit()
	s.ctx.Free()
	s.ctx = nil
	return err
}

type malgoStream struct {
	device *malgo.Device
	once   sync.Once
}

func (m *malgoStream) Pause() error {
	return m.device.Stop()
}

func (m *malgoStream) Resume() error {
	return m.device.Start()
}

func (m *malgoStream) Close() error {
	var err error
	m.once.Do(func() {
		err = m.device.Stop()
		m.device.Uninit()
	})
	return err
}
