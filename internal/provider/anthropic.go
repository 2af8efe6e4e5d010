package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"reportq/internal/domain"
)

type AnthropicBackend struct {
	client anthropic.Client
	model  string
}

func NewAnthropicBackend(apiKey, model string, timeout time.Duration) *AnthropicBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are owned by the job queue
		option.WithMaxRetries(0),
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &AnthropicBackend{client: anthropic.NewClient(opts...), model: model}
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

func (b *AnthropicBackend) Complete(ctx context.Context, req Request) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, b.classify(ctx, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	return Response{
		Content: text.String(),
		Usage:   Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
		Backend: b.Name(),
		Model:   b.model,
	}, nil
}

func (b *AnthropicBackend) classify(ctx context.Context, err error) error {
	op := "provider.anthropic"
	if kind, ok := contextKind(ctx, err); ok {
		return domain.E(kind, op, err)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		// 529 is Anthropic's overloaded status
		return domain.E(kindForStatus(apiErr.StatusCode), op, err)
	}
	return domain.E(domain.ErrKindUnavailable, op, err)
}
