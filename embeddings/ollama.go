package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	ollamaMaxAttempts  = 3
	ollamaRetryBackoff = 500 * time.Millisecond
)

type ollamaEmbedder struct {
	host      string
	model     string
	dimension int
	client    *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewOllamaEmbedder(opts Options) Embedder {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = "http://localhost:11434"
	}

	return &ollamaEmbedder{
		host:      host,
		model:     opts.Model,
		dimension: opts.Dimension,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Embed prefixes the text with the role marker understood by nomic-style
// asymmetric models and retries transient server errors with a bounded
// backoff before surfacing the failure.
func (e *ollamaEmbedder) Embed(ctx context.Context, text string, role Role) ([]float32, error) {
	prompt := text
	switch role {
	case RoleQuery:
		prompt = "search_query: " + text
	case RolePassage:
		prompt = "search_document: " + text
	}

	reqBody, err := json.Marshal(ollamaRequest{Model: e.model, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	url := e.host + "/api/embeddings"

	var lastErr error
	for attempt := 1; attempt <= ollamaMaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(ollamaRetryBackoff * time.Duration(attempt-1)):
			}
		}

		vector, retryable, embedErr := e.embedOnce(ctx, url, reqBody)
		if embedErr == nil {
			return vector, nil
		}
		lastErr = embedErr
		if !retryable {
			break
		}
	}

	return nil, lastErr
}

func (e *ollamaEmbedder) embedOnce(ctx context.Context, url string, body []byte) ([]float32, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("call ollama embeddings API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("ollama embeddings API returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("ollama embeddings API returned status %d", resp.StatusCode)
	}

	var payload ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, false, fmt.Errorf("decode ollama response: %w", err)
	}

	vector := make([]float32, len(payload.Embedding))
	for i, value := range payload.Embedding {
		vector[i] = float32(value)
	}

	if err := validateDimension(vector, e.dimension); err != nil {
		return nil, false, fmt.Errorf("ollama %w", err)
	}

	return vector, false, nil
}

var _ Embedder = (*ollamaEmbedder)(nil)
