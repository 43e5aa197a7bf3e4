package repositories

import (
	"context"

	"github.com/satriahrh/parley/domain/entities"
)

// ToolParam describes one argument of a declared tool
type ToolParam struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// ToolDeclaration is a function the agent may call
type ToolDeclaration struct {
	Name        string
	Description string
	Params      []ToolParam
}

// SetupConfig is negotiated once at connect time
type SetupConfig struct {
	Model               string
	Temperature         float32
	TopP                float32
	TopK                int
	ResponseModalities  []string
	Voice               string
	SystemInstruction   string
	SafetyThreshold     string
	EnableTranscription bool
	Tools               []ToolDeclaration
}

// ToolResponse answers a ToolCall
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// Transport owns one duplex connection to the agent. Instances are single use:
// after Disconnect or a terminal error a new one must be constructed.
type Transport interface {
	Connect(ctx context.Context, setup SetupConfig) error
	SendAudio(ctx context.Context, chunk entities.AudioChunk) error
	SendImage(ctx context.Context, chunk entities.ImageChunk) error
	SendText(ctx context.Context, turn entities.TextTurn) error
	SendToolResponse(ctx context.Context, response ToolResponse) error
	// Events delivers inbound events in wire order and is closed on termination
	Events() <-chan entities.InboundEvent
	State() entities.ConnectionState
	Done() <-chan struct{}
	// Err returns the terminal error, nil after a normal close
	Err() error
	Disconnect(ctx context.Context) error
}

// TransportFactory constructs a fresh transport per connection attempt
type TransportFactory func() Transport
