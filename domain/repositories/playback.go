package repositories

import "context"

// AudioPlayer plays agent audio as it streams in
type AudioPlayer interface {
	// Initialize opens the output; audio streamed before it is dropped.
	// Calling it again is a no-op.
	Initialize(ctx context.Context) error
	StreamAudio(pcm []byte)
	// Complete marks the current stream finished so buffered tail audio is flushed
	Complete()
	Stop()
	SetGain(gain float64)
	Gain() float64
}
