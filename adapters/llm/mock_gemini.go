package llm

import (
	"context"
	"sync"

	"github.com/satriahrh/parley/domain/repositories"
)

// mockQuestions is the offline interviewer's script
var mockQuestions = []string{
	"Thanks for joining. To start, tell me about yourself.",
	"What project are you most proud of, and what was your role in it?",
	"Describe a time you disagreed with a teammate. How did you resolve it?",
	"How do you approach learning a new technology under a deadline?",
	"Do you have any questions for me?",
}

// MockGeminiClient is an offline stand-in for the Gemini chat model
type MockGeminiClient struct{}

// NewMockGeminiClient creates a new mock Gemini client
func NewMockGeminiClient() *MockGeminiClient {
	return &MockGeminiClient{}
}

// Generate implements repositories.LargeLanguageModel
func (g *MockGeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	return mockQuestions[0], nil
}

// GenerateChat implements repositories.LargeLanguageModel
func (g *MockGeminiClient) GenerateChat(ctx context.Context, systemInstruction string, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return &MockGeminiChatSession{
		history: append([]repositories.ChatMessage(nil), history...),
	}, nil
}

// MockGeminiChatSession walks through mockQuestions, then wraps up
type MockGeminiChatSession struct {
	mu      sync.Mutex
	history []repositories.ChatMessage
	asked   int
}

// SendMessage implements repositories.ChatSession
func (g *MockGeminiChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.history = append(g.history, message)

	response := "That's all from me. You communicated clearly; score: 7/10. Good luck!"
	if g.asked < len(mockQuestions) {
		response = mockQuestions[g.asked]
		g.asked++
	}

	reply := repositories.ChatMessage{Role: repositories.AgentRole, Content: response}
	g.history = append(g.history, reply)
	return reply, nil
}

// History implements repositories.ChatSession
func (g *MockGeminiChatSession) History() ([]repositories.ChatMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]repositories.ChatMessage(nil), g.history...), nil
}
