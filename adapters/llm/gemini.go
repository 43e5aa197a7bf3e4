package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/parley/domain/repositories"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.7
	defaultTopP           = 0.95
	defaultTopK           = 40
	defaultMaxTokens      = 512
	defaultTimeoutSeconds = 30
)

// GeminiConfig configures the text chat used in pipeline mode
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int
	TimeoutSeconds  int
}

// Validate checks the config; zero values fall back to defaults
func (c GeminiConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("Gemini API key is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", c.Temperature)
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("topP must be between 0 and 1, got %f", c.TopP)
	}
	if c.TopK < 0 {
		return fmt.Errorf("topK must be positive, got %f", c.TopK)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", c.TimeoutSeconds)
	}
	return nil
}

func (c GeminiConfig) withDefaults() GeminiConfig {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}
	if c.TopP == 0 {
		c.TopP = defaultTopP
	}
	if c.TopK == 0 {
		c.TopK = defaultTopK
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = defaultMaxTokens
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = defaultTimeoutSeconds
	}
	return c
}

// interviewSafetySettings keeps the interviewer from producing harmful content
var interviewSafetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
}

// GeminiLLM implements the LargeLanguageModel interface using Google's Gemini API
type GeminiLLM struct {
	client *genai.Client
	config GeminiConfig
	logger *zap.Logger
}

// NewGeminiLLM creates a new Gemini LLM instance
func NewGeminiLLM(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiLLM, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	config = config.withDefaults()
	logger.Info("Gemini chat model ready", zap.String("model", config.Model))

	return &GeminiLLM{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// Generate answers a single prompt without history
func (g *GeminiLLM) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutOf(g.config))
	defer cancel()

	response, err := g.client.Models.GenerateContent(ctx, g.config.Model, genai.Text(prompt), generationConfig(g.config, ""))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	text := responseText(response)
	if text == "" {
		return "", errors.New("no content generated")
	}
	return text, nil
}

// GenerateChat creates a chat session with a system instruction and history
func (g *GeminiLLM) GenerateChat(ctx context.Context, systemInstruction string, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return NewGeminiChatSession(g.client, g.config, systemInstruction, g.logger, history), nil
}

func generationConfig(c GeminiConfig, systemInstruction string) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		SafetySettings:  interviewSafetySettings,
		Temperature:     genai.Ptr(c.Temperature),
		TopP:            genai.Ptr(c.TopP),
		TopK:            genai.Ptr(c.TopK),
		MaxOutputTokens: int32(c.MaxOutputTokens),
	}
	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}
	return config
}

func responseText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			text += part.Text
		}
	}
	return text
}
