package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

type openAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
}

func NewOpenAIEmbedder(opts Options) Embedder {
	cfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	if opts.OpenAIBaseURL != "" {
		cfg.BaseURL = opts.OpenAIBaseURL
	}

	return &openAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		dimension: opts.Dimension,
	}
}

// Embed ignores the role: OpenAI embedding models are symmetric, the same
// vector space serves queries and passages.
func (e *openAIEmbedder) Embed(ctx context.Context, text string, _ Role) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("create openai embedding: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings response contained no data")
	}

	vector := resp.Data[0].Embedding
	if err := validateDimension(vector, e.dimension); err != nil {
		return nil, fmt.Errorf("openai %w", err)
	}

	return vector, nil
}

var _ Embedder = (*openAIEmbedder)(nil)
