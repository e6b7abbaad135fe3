package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

type openAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(opts Options) Client {
	cfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	if opts.OpenAIBaseURL != "" {
		cfg.BaseURL = opts.OpenAIBaseURL
	}

	return &openAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  opts.Model,
	}
}

func (c *openAIClient) Complete(ctx context.Context, messages []Message, params GenerationParams) (Completion, error) {
	req := openai.ChatCompletionRequest{
		Model:            c.model,
		MaxTokens:        params.MaxTokens,
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		FrequencyPenalty: params.FrequencyPenalty,
		PresencePenalty:  params.PresencePenalty,
	}

	req.Messages = make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, fmt.Errorf("create openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("openai chat completion returned no choices")
	}

	return Completion{
		Content: resp.Choices[0].Message.Content,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

var _ Client = (*openAIClient)(nil)
