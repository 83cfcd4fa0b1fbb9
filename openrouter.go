package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ErrNoChoices is returned when the API answers without any completion choice.
var ErrNoChoices = errors.New("no choices in response")

// ModelInvoker sends a message list to one model and returns its text output.
// Implementations must be safe for concurrent use.
type ModelInvoker interface {
	Invoke(ctx context.Context, model string, messages []ChatMessage) (string, error)
}

// OpenRouterClient invokes models through OpenRouter's OpenAI-compatible API.
type OpenRouterClient struct {
	client  *openai.Client
	timeout time.Duration
}

// NewOpenRouterClient creates a client for the given base URL. Every call is
// bounded by timeout; a zero timeout leaves the caller's context in charge.
func NewOpenRouterClient(apiKey string, baseURL string, timeout time.Duration) *OpenRouterClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenRouterClient{
		client:  openai.NewClientWithConfig(config),
		timeout: timeout,
	}
}

// Invoke queries a single model and returns the content of the first choice.
func (c *OpenRouterClient) Invoke(ctx context.Context, model string, messages []ChatMessage) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to query model %s: %w", model, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model %s: %w", model, ErrNoChoices)
	}

	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return out
}
