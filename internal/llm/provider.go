// Package llm wraps the chat-completion model used for conversation replies,
// insight extraction and brand matching.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/metrics"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Request is one completion call: a system prompt followed by the history.
type Request struct {
	SystemPrompt string
	Messages     []models.Message
	MaxTokens    int
	Temperature  float64
}

// Provider returns the assistant text for a request. Failures wrap
// apperrors.ErrProviderUnavailable.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a provider for model. An empty baseURL uses the
// public OpenAI endpoint.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	metrics.ProviderRequestDuration.WithLabelValues("openai").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues("openai", "error").Inc()
		zap.L().Error("Failed to get completion", zap.String("model", p.model), zap.Error(err))

		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("openai status %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, apperrors.ErrProviderUnavailable)
		}
		return "", fmt.Errorf("openai request failed: %v: %w", err, apperrors.ErrProviderUnavailable)
	}
	metrics.ProviderRequestsTotal.WithLabelValues("openai", "ok").Inc()

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices: %w", apperrors.ErrProviderUnavailable)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("openai returned empty content: %w", apperrors.ErrProviderUnavailable)
	}
	return content, nil
}
