package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mthorsen/paper-rag/config"
	"github.com/mthorsen/paper-rag/llm"
)

func newChatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestOllamaCompleteMapsContentAndUsage(t *testing.T) {
	var seen struct {
		Model    string `json:"model"`
		Stream   bool   `json:"stream"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Options struct {
			NumPredict  int     `json:"num_predict"`
			Temperature float32 `json:"temperature"`
		} `json:"options"`
	}
	server := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))

		json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]string{"role": "assistant", "content": "because of self-attention"},
			"done":              true,
			"prompt_eval_count": 120,
			"eval_count":        40,
		})
	})

	client := llm.NewOllamaClient(llm.Options{OllamaHost: server.URL, Model: "llama3.1:8b"})

	completion, err := client.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "be helpful"},
		{Role: llm.RoleUser, Content: "why does it work"},
	}, llm.GenerationParams{MaxTokens: 500, Temperature: 0.3, TopP: 1})
	require.NoError(t, err)

	assert.Equal(t, "because of self-attention", completion.Content)
	require.NotNil(t, completion.Usage)
	assert.Equal(t, 120, completion.Usage.PromptTokens)
	assert.Equal(t, 40, completion.Usage.CompletionTokens)

	assert.Equal(t, "llama3.1:8b", seen.Model)
	assert.False(t, seen.Stream)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, 500, seen.Options.NumPredict)
	assert.Equal(t, float32(0.3), seen.Options.Temperature)
}

func TestOllamaCompleteLeavesUsageNilWhenUnreported(t *testing.T) {
	server := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "ok"},
			"done":    true,
		})
	})

	client := llm.NewOllamaClient(llm.Options{OllamaHost: server.URL})

	completion, err := client.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.DefaultGenerationParams())
	require.NoError(t, err)
	assert.Nil(t, completion.Usage)
}

func TestOllamaCompleteSurfacesAPIError(t *testing.T) {
	server := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model not found"}`))
	})

	client := llm.NewOllamaClient(llm.Options{OllamaHost: server.URL, Model: "missing"})

	_, err := client.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.DefaultGenerationParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestOllamaCompleteSurfacesBodyError(t *testing.T) {
	server := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"error": "out of memory"})
	})

	client := llm.NewOllamaClient(llm.Options{OllamaHost: server.URL})

	_, err := client.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.DefaultGenerationParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestParamsFromConfigDefaultsMaxTokens(t *testing.T) {
	params := llm.ParamsFromConfig(config.GenerationConfig{Temperature: 0.5})
	assert.Equal(t, 2000, params.MaxTokens)
	assert.Equal(t, float32(0.5), params.Temperature)

	params = llm.ParamsFromConfig(config.GenerationConfig{MaxTokens: 100})
	assert.Equal(t, 100, params.MaxTokens)
}

func TestNewClientSelectsProvider(t *testing.T) {
	cfg := config.Config{}
	cfg.LLM.Provider = config.ProviderOllama
	client, err := llm.NewClient(cfg)
	require.NoError(t, err)
	assert.NotNil(t, client)

	cfg.LLM.Provider = config.ProviderOpenAI
	_, err = llm.NewClient(cfg)
	require.Error(t, err, "openai without api key should fail")

	cfg.OpenAIAPIKey = "sk-test"
	client, err = llm.NewClient(cfg)
	require.NoError(t, err)
	assert.NotNil(t, client)

	cfg.LLM.Provider = "anthropic"
	_, err = llm.NewClient(cfg)
	require.Error(t, err)
}
