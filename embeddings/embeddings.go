package embeddings

import (
	"context"
	"fmt"

	"github.com/mthorsen/paper-rag/config"
)

// Role tells the embedding model whether the text is a search query or an
// indexed passage. Asymmetric models produce different vectors for each.
type Role string

const (
	RoleQuery   Role = "query"
	RolePassage Role = "passage"
)

type Embedder interface {
	Embed(ctx context.Context, text string, role Role) ([]float32, error)
}

type Options struct {
	Provider  string
	Model     string
	Dimension int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewEmbedder(cfg config.Config) (Embedder, error) {
	opts := Options{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		Dimension:     cfg.Embeddings.Dimension,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaEmbedder(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIEmbedder(opts), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}
}

func validateDimension(vector []float32, want int) error {
	if want > 0 && len(vector) != want {
		return fmt.Errorf("embedding dimension mismatch: expected %d, got %d", want, len(vector))
	}
	return nil
}
