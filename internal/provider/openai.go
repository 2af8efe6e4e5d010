package provider

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"

	"reportq/internal/domain"
)

// OpenAIBackend talks to the OpenAI chat completions API or to any server
// that speaks it, such as a local Ollama at http://localhost:11434/v1.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

func NewOpenAIBackend(apiKey, baseURL, model string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg), model: model}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return Response{}, b.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, domain.E(domain.ErrKindMalformed, "provider.openai", errors.New("no choices in response"))
	}

	return Response{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Backend: b.Name(),
		Model:   resp.Model,
	}, nil
}

func (b *OpenAIBackend) classify(ctx context.Context, err error) error {
	op := "provider.openai"
	if kind, ok := contextKind(ctx, err); ok {
		return domain.E(kind, op, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.E(kindForStatus(apiErr.HTTPStatusCode), op, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return domain.E(kindForStatus(reqErr.HTTPStatusCode), op, err)
	}
	return domain.E(domain.ErrKindUnavailable, op, err)
}
