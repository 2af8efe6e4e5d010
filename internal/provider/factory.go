package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"reportq/internal/config"
)

// FromConfig builds an adapter over the backends named in cfg.Backends, in
// that order.
func FromConfig(ctx context.Context, cfg config.Provider) (*Adapter, error) {
	var backends []Backend
	for _, name := range cfg.Backends {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "static":
			backends = append(backends, StaticBackend{})
		case "anthropic", "claude":
			if cfg.AnthropicAPIKey == "" {
				return nil, fmt.Errorf("anthropic backend requires ANTHROPIC_API_KEY")
			}
			backends = append(backends, NewAnthropicBackend(cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.Timeout))
		case "gemini", "google":
			if cfg.GeminiAPIKey == "" {
				return nil, fmt.Errorf("gemini backend requires GEMINI_API_KEY")
			}
			b, err := NewGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
			if err != nil {
				return nil, err
			}
			backends = append(backends, b)
		case "openai", "ollama":
			backends = append(backends, NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel))
		case "":
		default:
			return nil, fmt.Errorf("unknown provider backend %q", name)
		}
	}

	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.Name()
	}
	log.Info().Strs("backends", names).Msg("generation provider ready")

	return NewAdapter(Options{
		Defaults:  Constraints{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature},
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		CacheSize: cfg.CacheSize,
		Tokenizer: NewTokenizer(cfg.TokenEncoding),
	}, backends...)
}
