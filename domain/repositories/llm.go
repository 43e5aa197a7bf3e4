package repositories

import "context"

// LargeLanguageModel abstracts any chat/LLM provider
type LargeLanguageModel interface {
	// Generate takes a user prompt and returns the model's reply
	Generate(ctx context.Context, prompt string) (string, error)
	// GenerateChat creates a chat session seeded with a system instruction and history
	GenerateChat(ctx context.Context, systemInstruction string, history []ChatMessage) (ChatSession, error)
}

// ChatSession represents an ongoing text conversation
type ChatSession interface {
	SendMessage(ctx context.Context, message ChatMessage) (ChatMessage, error)
	History() ([]ChatMessage, error)
}

// ChatMessage represents a single message in a conversation
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role defines the type of message sender
type Role string

const (
	UserRole   Role = "user"
	AgentRole  Role = "agent"
	SystemRole Role = "system"
)
