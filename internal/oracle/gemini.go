package oracle

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient implements Client on top of the Google GenAI SDK.
type GeminiClient struct {
	client  *genai.Client
	model   string
	limiter *RateLimiter
}

// GeminiConfig holds configuration for the Gemini oracle client.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Limiter *RateLimiter
}

// NewGeminiClient creates a Gemini-backed oracle client.
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("oracle: Gemini API key is required")
	}
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: create GenAI client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		model:   config.Model,
		limiter: config.Limiter,
	}, nil
}

// Complete sends a single-turn prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithMessages(ctx, []Message{{Role: "user", Content: prompt}})
}

// CompleteWithMessages sends a chat-message list and returns the completion.
// A leading system message becomes the system instruction.
func (c *GeminiClient) CompleteWithMessages(ctx context.Context, messages []Message) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: %v", ErrTransport, err)
		}
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.1),
	}
	var contents []*genai.Content
	for _, m := range messages {
		if m.Role == "system" {
			config.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
			continue
		}
		var role genai.Role = genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	if len(contents) == 0 {
		return "", fmt.Errorf("oracle: no user content to send")
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("%w: GenAI generate: %v", ErrTransport, err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("%w: no completion returned", ErrTransport)
	}
	return strings.TrimSpace(text), nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.model
}
