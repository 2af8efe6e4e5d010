package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"reportq/internal/domain"
)

type GeminiBackend struct {
	client *genai.Client
	model  string
}

func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiBackend{client: client, model: model}, nil
}

func (b *GeminiBackend) Name() string { return "gemini" }

func (b *GeminiBackend) Complete(ctx context.Context, req Request) (Response, error) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(req.Prompt), config)
	if err != nil {
		return Response{}, b.classify(ctx, err)
	}

	out := Response{Content: resp.Text(), Backend: b.Name(), Model: b.model}
	if md := resp.UsageMetadata; md != nil {
		out.Usage = Usage{
			PromptTokens:     int(md.PromptTokenCount),
			CompletionTokens: int(md.CandidatesTokenCount),
			TotalTokens:      int(md.TotalTokenCount),
		}
	}
	return out, nil
}

func (b *GeminiBackend) classify(ctx context.Context, err error) error {
	op := "provider.gemini"
	if kind, ok := contextKind(ctx, err); ok {
		return domain.E(kind, op, err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return domain.E(kindForStatus(apiErr.Code), op, err)
	}
	return domain.E(domain.ErrKindUnavailable, op, err)
}
