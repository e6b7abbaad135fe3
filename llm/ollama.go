package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ollamaClient struct {
	host   string
	model  string
	client *http.Client
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  ollamaChatOptions   `json:"options"`
}

type ollamaChatOptions struct {
	NumPredict       int     `json:"num_predict,omitempty"`
	Temperature      float32 `json:"temperature"`
	TopP             float32 `json:"top_p,omitempty"`
	FrequencyPenalty float32 `json:"frequency_penalty,omitempty"`
	PresencePenalty  float32 `json:"presence_penalty,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message         ollamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	Error           string            `json:"error"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}

func NewOllamaClient(opts Options) Client {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = "http://localhost:11434"
	}

	return &ollamaClient{
		host:  host,
		model: opts.Model,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (c *ollamaClient) Complete(ctx context.Context, messages []Message, params GenerationParams) (Completion, error) {
	payload := ollamaChatRequest{
		Model:  c.model,
		Stream: false,
		Options: ollamaChatOptions{
			NumPredict:       params.MaxTokens,
			Temperature:      params.Temperature,
			TopP:             params.TopP,
			FrequencyPenalty: params.FrequencyPenalty,
			PresencePenalty:  params.PresencePenalty,
		},
	}
	payload.Messages = toOllamaMessages(messages)

	body, err := json.Marshal(payload)
	if err != nil {
		return Completion{}, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("call ollama chat API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return Completion{}, fmt.Errorf("ollama chat API returned status %d", resp.StatusCode)
		}
		return Completion{}, fmt.Errorf("ollama chat API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var decoded ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Completion{}, fmt.Errorf("decode ollama response: %w", err)
	}

	if decoded.Error != "" {
		return Completion{}, fmt.Errorf("ollama chat error: %s", decoded.Error)
	}

	completion := Completion{Content: decoded.Message.Content}
	if decoded.PromptEvalCount > 0 || decoded.EvalCount > 0 {
		completion.Usage = &Usage{
			PromptTokens:     decoded.PromptEvalCount,
			CompletionTokens: decoded.EvalCount,
		}
	}

	return completion, nil
}

func toOllamaMessages(messages []Message) []ollamaChatMessage {
	converted := make([]ollamaChatMessage, len(messages))
	for i, msg := range messages {
		converted[i] = ollamaChatMessage{Role: msg.Role, Content: msg.Content}
	}
	return converted
}

var _ Client = (*ollamaClient)(nil)
