package repositories

import (
	"context"

	"github.com/satriahrh/parley/domain/entities"
)

// FrameHandler receives frames in capture order
type FrameHandler func(entities.Frame)

// CaptureDevice is the lifecycle shared by microphone, camera and screen.
// Stop and Dispose are safe to call while Start is still pending.
type CaptureDevice interface {
	Start(ctx context.Context, onFrame FrameHandler) error
	Stop()
	Dispose()
	Active() bool
}

// Microphone can be muted without releasing the underlying input
type Microphone interface {
	CaptureDevice
	Suspend()
	Resume()
	Producing() bool
}

// VisualDevice is a camera or screen capture
type VisualDevice interface {
	CaptureDevice
	// OnStop registers a callback for captures that end outside our control
	OnStop(func())
}
