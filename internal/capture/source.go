// Package capture implements the microphone, camera and screen capture devices.
package capture

import (
	"context"
	"errors"
	"image"
	"strings"

	"github.com/satriahrh/parley/domain/entities"
)

// AudioSource opens a platform audio input delivering mono float32 samples
type AudioSource interface {
	Open(ctx context.Context, cfg MicrophoneConfig, onSamples func([]float32)) (AudioStream, error)
}

// AudioStream is an open audio input. Pause keeps the handle.
type AudioStream interface {
	Pause() error
	Resume() error
	Close() error
}

// FrameSource opens a platform visual source
type FrameSource interface {
	Open(ctx context.Context) (FrameStream, error)
}

// FrameStream exposes the most recent decoded frame of a visual source
type FrameStream interface {
	Latest() (image.Image, bool)
	// Done is closed when the source ends on its own
	Done() <-chan struct{}
	Close() error
}

// classifyOpenError maps platform failures onto the device error taxonomy
func classifyOpenError(device string, err error) error {
	var domainErr *entities.Error
	if errors.As(err, &domainErr) {
		return domainErr
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "denied"), strings.Contains(msg, "not authorized"):
		return entities.NewPermissionError(device+" access was denied", err)
	case strings.Contains(msg, "no such"), strings.Contains(msg, "not found"),
		strings.Contains(msg, "no device"), strings.Contains(msg, "cannot open"):
		return entities.NewDeviceError(entities.CodeDeviceNotFound, "no "+device+" was found", err)
	default:
		return entities.NewDeviceError(entities.CodeUnsupported, device+" is not supported on this system", err)
	}
}

var errStoppedWhileStarting = entities.NewStateError("capture was stopped before it started")
