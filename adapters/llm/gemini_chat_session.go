package llm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/parley/domain/repositories"
)

const maxAttempts = 3

// fallbacks keep the interview moving when the model is unavailable
var fallbacks = []string{
	"Sorry, I lost my train of thought. Could you tell me a bit more about that?",
	"Interesting. Can you walk me through a concrete example?",
	"Let's move on. What would you say is your biggest professional strength?",
}

// GeminiChatSession implements the ChatSession interface
type GeminiChatSession struct {
	client            *genai.Client
	config            GeminiConfig
	systemInstruction string
	logger            *zap.Logger

	mu      sync.Mutex
	history []*genai.Content
}

// NewGeminiChatSession creates a new chat session with config and history
func NewGeminiChatSession(client *genai.Client, config GeminiConfig, systemInstruction string, logger *zap.Logger, history []repositories.ChatMessage) *GeminiChatSession {
	return &GeminiChatSession{
		client:            client,
		config:            config.withDefaults(),
		systemInstruction: systemInstruction,
		logger:            logger,
		history:           convertRepositoryToGeminiFormat(history),
	}
}

// SendMessage sends a message and gets a response, updating the history
func (s *GeminiChatSession) SendMessage(ctx context.Context, message repositories.ChatMessage) (repositories.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userContent := genai.NewContentFromText(message.Content, genai.RoleUser)
	contents := append(append([]*genai.Content(nil), s.history...), userContent)
	config := generationConfig(s.config, s.systemInstruction)

	ctx, cancel := context.WithTimeout(ctx, timeoutOf(s.config))
	defer cancel()

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = s.client.Models.GenerateContent(ctx, s.config.Model, contents, config)
		if err == nil {
			break
		}

		s.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxAttempts-1 {
			select {
			case <-time.After(time.Duration(attempt+1) * time.Second):
			case <-ctx.Done():
				return repositories.ChatMessage{}, ctx.Err()
			}
		}
	}

	if err != nil {
		s.logger.Error("Failed to send message in chat session", zap.Error(err))
		return s.fallbackResponse(userContent), nil
	}

	text := responseText(response)
	if text == "" {
		s.logger.Warn("Empty response in chat session")
		return s.fallbackResponse(userContent), nil
	}

	s.history = append(s.history, userContent, genai.NewContentFromText(text, genai.RoleModel))

	s.logger.Info("Chat session message processed",
		zap.String("user_message", preview(message.Content)),
		zap.String("response_preview", preview(text)),
		zap.Int("history_length", len(s.history)))

	return repositories.ChatMessage{Role: repositories.AgentRole, Content: text}, nil
}

// History returns the current conversation history
func (s *GeminiChatSession) History() ([]repositories.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return convertGeminiToRepositoryFormat(s.history), nil
}

// fallbackResponse records the user turn with a canned reply
func (s *GeminiChatSession) fallbackResponse(userContent *genai.Content) repositories.ChatMessage {
	text := fallbacks[len(s.history)/2%len(fallbacks)]
	s.history = append(s.history, userContent, genai.NewContentFromText(text, genai.RoleModel))
	return repositories.ChatMessage{Role: repositories.AgentRole, Content: text}
}

func timeoutOf(c GeminiConfig) time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func preview(s string) string {
	if len(s) > 50 {
		return s[:50]
	}
	return s
}

// convertRepositoryToGeminiFormat converts repository messages to Gemini format
func convertRepositoryToGeminiFormat(messages []repositories.ChatMessage) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		role := genai.RoleUser
		if msg.Role == repositories.AgentRole {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, genai.Role(role)))
	}
	return contents
}

// convertGeminiToRepositoryFormat converts Gemini content to repository messages
func convertGeminiToRepositoryFormat(contents []*genai.Content) []repositories.ChatMessage {
	var messages []repositories.ChatMessage
	for _, content := range contents {
		role := repositories.UserRole
		if content.Role == string(genai.RoleModel) {
			role = repositories.AgentRole
		}

		var text string
		for _, part := range content.Parts {
			if part != nil && part.Text != "" {
				text += part.Text
			}
		}

		if text != "" {
			messages = append(messages, repositories.ChatMessage{Role: role, Content: text})
		}
	}
	return messages
}
