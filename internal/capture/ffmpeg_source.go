package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// FFmpegConfig selects the ffmpeg input used for a visual source
type FFmpegConfig struct {
	Command     string
	InputFormat string
	InputDevice string
	FPS         float64
}

// DefaultFFmpegConfig picks the platform input for the given kind.
// For cameras the facing mode selects the first or second video device.
func DefaultFFmpegConfig(kind VisualKind, facingMode string) FFmpegConfig {
	cfg := FFmpegConfig{Command: "ffmpeg", FPS: 5}
	if kind == VisualScreen {
		cfg.FPS = 2
	}

	switch runtime.GOOS {
	case "darwin":
		cfg.InputFormat = "avfoundation"
		if kind == VisualScreen {
			cfg.InputDevice = "1:none"
		} else if facingMode == FacingEnvironment {
			cfg.InputDevice = "1"
		} else {
			cfg.InputDevice = "0"
		}
	case "windows":
		cfg.InputFormat = "dshow"
		if kind == VisualScreen {
			cfg.InputFormat = "gdigrab"
			cfg.InputDevice = "desktop"
		} else {
			cfg.InputDevice = "video=Integrated Camera"
		}
	default:
		if kind == VisualScreen {
			cfg.InputFormat = "x11grab"
			cfg.InputDevice = os.Getenv("DISPLAY")
			if cfg.InputDevice == "" {
				cfg.InputDevice = ":0.0"
			}
		} else {
			cfg.InputFormat = "v4l2"
			cfg.InputDevice = "/dev/video0"
			if facingMode == FacingEnvironment {
				cfg.InputDevice = "/dev/video1"
			}
		}
	}
	return cfg
}

// FFmpegFrameSource grabs frames by running ffmpeg as an MJPEG pipe
type FFmpegFrameSource struct {
	cfg    FFmpegConfig
	logger *zap.Logger
}

// NewFFmpegFrameSource creates a frame source backed by ffmpeg
func NewFFmpegFrameSource(cfg FFmpegConfig, logger *zap.Logger) *FFmpegFrameSource {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 5
	}
	return &FFmpegFrameSource{cfg: cfg, logger: logger}
}

func (s *FFmpegFrameSource) args() []string {
	fps := strconv.FormatFloat(s.cfg.FPS, 'f', -1, 64)
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-f", s.cfg.InputFormat,
		"-framerate", fps,
		"-i", s.cfg.InputDevice,
		"-r", fps,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"-",
	}
}

// Open starts ffmpeg and waits briefly to catch immediate failures
func (s *FFmpegFrameSource) Open(ctx context.Context) (FrameStream, error) {
	cmd := exec.Command(s.cfg.Command, s.args()...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		msg := strings.TrimSpace(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("ffmpeg exited before capture started: %s", msg)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(250 * time.Millisecond):
	}

	stream := &ffmpegStream{
		stdout:  stdout,
		process: cmd.Process,
		waitErr: waitErr,
		done:    make(chan struct{}),
		logger:  s.logger,
	}
	go stream.readFrames()
	return stream, nil
}

type ffmpegStream struct {
	stdout  io.ReadCloser
	process *os.Process
	waitErr <-chan error
	logger  *zap.Logger

	mu     sync.RWMutex
	latest image.Image

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegStream) readFrames() {
	defer close(s.done)

	scanner := bufio.NewScanner(s.stdout)
	scanner.Buffer(make([]byte, 256*1024), 16*1024*1024)
	scanner.Split(splitJPEG)
	for scanner.Scan() {
		img, err := jpeg.Decode(bytes.NewReader(scanner.Bytes()))
		if err != nil {
			s.logger.Debug("Skipped undecodable frame", zap.Error(err))
			continue
		}
		s.mu.Lock()
		s.latest = img
		s.mu.Unlock()
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Warn("Frame pipe ended with error", zap.Error(err))
	}
}

func (s *ffmpegStream) Latest() (image.Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.latest != nil
}

func (s *ffmpegStream) Done() <-chan struct{} {
	return s.done
}

// Close interrupts ffmpeg and kills it if it does not exit promptly
func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.process.Signal(os.Interrupt)
		select {
		case <-s.waitErr:
		case <-time.After(1200 * time.Millisecond):
			_ = s.process.Kill()
			<-s.waitErr
		}
		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// splitJPEG is a bufio.SplitFunc yielding whole JPEG images from an MJPEG stream
func splitJPEG(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.Index(data, jpegStart)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		if len(data) > 0 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+len(jpegStart):], jpegEnd)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	end += start + len(jpegStart) + len(jpegEnd)
	return end, data[start:end], nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
