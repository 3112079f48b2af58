package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/docmind/docmind/internal/config"
	"github.com/docmind/docmind/internal/models"
)

var ErrCompletionFailure = errors.New("completion failure")

// NewModel builds the chat model for the configured provider.
func NewModel(cfg config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating completion model")
	switch cfg.Provider {
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)
	case config.ProviderOpenAI, "":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// Client sends a single prompt to the model with the answer-generation settings.
type Client struct {
	model       llms.Model
	maxTokens   int
	temperature float64
}

func NewClient(model llms.Model, maxTokens int, temperature float64) *Client {
	return &Client{model: model, maxTokens: maxTokens, temperature: temperature}
}

// Complete returns the trimmed text of the first choice.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, models.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	res, err := c.model.GenerateContent(ctx, messages,
		llms.WithMaxTokens(c.maxTokens),
		llms.WithTemperature(c.temperature),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompletionFailure, err)
	}
	if res == nil || len(res.Choices) == 0 {
		return "", fmt.Errorf("%w: model returned no choices", ErrCompletionFailure)
	}
	return strings.TrimSpace(res.Choices[0].Content), nil
}
