package llm

import (
	"context"
	"fmt"

	"github.com/mthorsen/paper-rag/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Usage reports token counts when the provider includes them. Providers
// that do not report usage leave Completion.Usage nil.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

type Completion struct {
	Content string
	Usage   *Usage
}

// GenerationParams are the sampling parameters sent with every request.
type GenerationParams struct {
	MaxTokens        int
	Temperature      float32
	TopP             float32
	FrequencyPenalty float32
	PresencePenalty  float32
}

func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		MaxTokens:   2000,
		Temperature: 0.3,
		TopP:        1,
	}
}

func ParamsFromConfig(cfg config.GenerationConfig) GenerationParams {
	params := GenerationParams{
		MaxTokens:        cfg.MaxTokens,
		Temperature:      cfg.Temperature,
		TopP:             cfg.TopP,
		FrequencyPenalty: cfg.FrequencyPenalty,
		PresencePenalty:  cfg.PresencePenalty,
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = 2000
	}
	return params
}

type Client interface {
	Complete(ctx context.Context, messages []Message, params GenerationParams) (Completion, error)
}

type Options struct {
	Provider string
	Model    string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewClient(cfg config.Config) (Client, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}
