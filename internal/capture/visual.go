package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"

	"github.com/satriahrh/parley/domain/entities"
	"github.com/satriahrh/parley/domain/repositories"
	"github.com/satriahrh/parley/internal/codec"
)

// VisualKind distinguishes camera from screen capture
type VisualKind string

const (
	VisualCamera VisualKind = "camera"
	VisualScreen VisualKind = "screen"
)

// Facing modes for mobile cameras
const (
	FacingUser        = "user"
	FacingEnvironment = "environment"
)

// VisualConfig configures a camera or screen device
type VisualConfig struct {
	Kind        VisualKind
	Width       int
	FPS         float64
	JPEGQuality float64
	FacingMode  string
}

// DefaultCameraConfig returns 640px wide frames at 5 fps
func DefaultCameraConfig() VisualConfig {
	return VisualConfig{Kind: VisualCamera, Width: 640, FPS: 5, JPEGQuality: 0.8, FacingMode: FacingUser}
}

// DefaultScreenConfig returns 1280px wide frames at 2 fps
func DefaultScreenConfig() VisualConfig {
	return VisualConfig{Kind: VisualScreen, Width: 1280, FPS: 2, JPEGQuality: 0.8}
}

// VisualDevice samples a FrameSource on a timer and emits JPEG ImageChunks
type VisualDevice struct {
	source FrameSource
	cfg    VisualConfig
	clock  clock.Clock
	logger *zap.Logger

	mu         sync.Mutex
	stream     FrameStream
	cancel     context.CancelFunc
	generation uint64
	onStop     func()
	disposed   bool
}

var _ repositories.VisualDevice = (*VisualDevice)(nil)

// NewVisualDevice creates a camera or screen device
func NewVisualDevice(source FrameSource, cfg VisualConfig, clk clock.Clock, logger *zap.Logger) *VisualDevice {
	defaults := DefaultCameraConfig()
	if cfg.Kind == VisualScreen {
		defaults = DefaultScreenConfig()
	}
	if cfg.Width <= 0 {
		cfg.Width = defaults.Width
	}
	if cfg.FPS <= 0 {
		cfg.FPS = defaults.FPS
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 1 {
		cfg.JPEGQuality = defaults.JPEGQuality
	}
	if cfg.Kind == "" {
		cfg.Kind = VisualCamera
	}
	if clk == nil {
		clk = clock.New()
	}
	return &VisualDevice{
		source: source,
		cfg:    cfg,
		clock:  clk,
		logger: logger.With(zap.String("device", string(cfg.Kind))),
	}
}

// OnStop registers the callback fired when the source ends on its own
func (v *VisualDevice) OnStop(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onStop = fn
}

// Start opens the source and begins emitting frames at the configured rate
func (v *VisualDevice) Start(ctx context.Context, onFrame repositories.FrameHandler) error {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return entities.NewStateError(fmt.Sprintf("%s has been disposed", v.cfg.Kind))
	}
	if v.stream != nil {
		v.mu.Unlock()
		return nil
	}
	v.generation++
	gen := v.generation
	v.mu.Unlock()

	stream, err := v.source.Open(ctx)
	if err != nil {
		v.logger.Warn("Failed to open visual source", zap.Error(err))
		return classifyOpenError(string(v.cfg.Kind), err)
	}

	v.mu.Lock()
	if gen != v.generation || v.disposed {
		v.mu.Unlock()
		_ = stream.Close()
		return errStoppedWhileStarting
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	v.stream = stream
	v.cancel = cancel
	v.mu.Unlock()

	go v.loop(loopCtx, gen, stream, onFrame)

	v.logger.Info("Visual capture started",
		zap.Int("width", v.cfg.Width),
		zap.Float64("fps", v.cfg.FPS))
	return nil
}

func (v *VisualDevice) loop(ctx context.Context, gen uint64, stream FrameStream, onFrame repositories.FrameHandler) {
	interval := time.Duration(float64(time.Second) / v.cfg.FPS)
	ticker := v.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stream.Done():
			v.endedExternally(gen, stream)
			return
		case <-ticker.C:
			img, ok := stream.Latest()
			if !ok {
				continue
			}
			chunk, err := EncodeFrame(img, v.cfg.Width, v.cfg.JPEGQuality)
			if err != nil {
				v.logger.Warn("Dropped frame", zap.Error(err))
				continue
			}
			if !v.current(gen) {
				return
			}
			onFrame(chunk)
		}
	}
}

func (v *VisualDevice) current(gen uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return gen == v.generation && v.stream != nil
}

func (v *VisualDevice) endedExternally(gen uint64, stream FrameStream) {
	v.mu.Lock()
	if gen != v.generation {
		v.mu.Unlock()
		return
	}
	v.generation++
	v.stream = nil
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	onStop := v.onStop
	v.mu.Unlock()

	_ = stream.Close()
	v.logger.Info("Visual capture ended by source")
	if onStop != nil {
		onStop()
	}
}

// Active reports whether the device is capturing
func (v *VisualDevice) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stream != nil
}

// Stop ends capture. Safe to call while Start is pending.
func (v *VisualDevice) Stop() {
	v.mu.Lock()
	v.generation++
	stream := v.stream
	v.stream = nil
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.mu.Unlock()

	if stream == nil {
		return
	}
	if err := stream.Close(); err != nil {
		v.logger.Warn("Failed to close visual source", zap.Error(err))
	}
	v.logger.Info("Visual capture stopped")
}

// Dispose stops the device for good
func (v *VisualDevice) Dispose() {
	v.mu.Lock()
	v.disposed = true
	v.mu.Unlock()
	v.Stop()
}

// EncodeFrame scales img to width, preserving aspect ratio, and JPEG encodes it
func EncodeFrame(img image.Image, width int, quality float64) (entities.ImageChunk, error) {
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return entities.ImageChunk{}, fmt.Errorf("empty frame")
	}
	height := int(math.Round(float64(bounds.Dy()) * float64(width) / float64(bounds.Dx())))
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, xdraw.Src, nil)

	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	} else if q > 100 {
		q = 100
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: q}); err != nil {
		return entities.ImageChunk{}, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return entities.ImageChunk{
		JPEGBase64: codec.EncodeBase64(buf.Bytes()),
		Width:      width,
		Height:     height,
	}, nil
}
