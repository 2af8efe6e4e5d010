package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"reportq/internal/domain"
)

type Options struct {
	Defaults Constraints
	// RateLimit is the number of calls per second allowed across all
	// backends. Zero disables limiting.
	RateLimit float64
	RateBurst int
	// CacheSize is the number of temperature-0 responses kept. Zero
	// disables caching.
	CacheSize int64
	Tokenizer Tokenizer
}

// Adapter fans a call out to its backends in order, failing over to the
// next one only when a backend reports itself unavailable. It never retries
// a backend; retries belong to callers.
type Adapter struct {
	backends  []Backend
	defaults  Constraints
	limiter   *rate.Limiter
	cache     *ristretto.Cache[string, Response]
	tokenizer Tokenizer
	meter     *Meter
}

var _ Generator = (*Adapter)(nil)

func NewAdapter(opts Options, backends ...Backend) (*Adapter, error) {
	a := &Adapter{
		backends:  backends,
		defaults:  opts.Defaults,
		tokenizer: opts.Tokenizer,
		meter:     NewMeter(),
	}
	if a.tokenizer == nil {
		a.tokenizer = approxTokenizer{}
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if opts.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, Response]{
			NumCounters: opts.CacheSize * 10,
			MaxCost:     opts.CacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create response cache: %w", err)
		}
		a.cache = cache
	}
	return a, nil
}

func (a *Adapter) Generate(ctx context.Context, prompt string, c Constraints, meta Meta) (Response, error) {
	if len(a.backends) == 0 {
		return Response{}, domain.E(domain.ErrKindUnavailable, "provider.generate", errors.New("no backend configured"))
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = a.defaults.MaxTokens
	}
	if c.Temperature < 0 {
		c.Temperature = a.defaults.Temperature
	}
	req := Request{Prompt: prompt, Meta: meta, Constraints: c}

	key := ""
	if a.cache != nil && c.Temperature == 0 {
		key = cacheKey(req)
		if resp, ok := a.cache.Get(key); ok {
			resp.Cached = true
			a.record(ctx, resp)
			return resp, nil
		}
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			kind, _ := contextKind(ctx, err)
			if kind == "" {
				kind = domain.ErrKindRateLimited
			}
			return Response{}, domain.E(kind, "provider.generate", err)
		}
	}

	var (
		resp Response
		err  error
	)
	for i, b := range a.backends {
		resp, err = b.Complete(ctx, req)
		if err == nil {
			if resp.Backend == "" {
				resp.Backend = b.Name()
			}
			break
		}
		if domain.KindOf(err) != domain.ErrKindUnavailable || i == len(a.backends)-1 {
			return Response{}, err
		}
		log.Ctx(ctx).Warn().Err(err).
			Str("backend", b.Name()).
			Str("operation", meta.Operation).
			Msg("backend unavailable, failing over")
	}

	if strings.TrimSpace(resp.Content) == "" {
		return Response{}, domain.E(domain.ErrKindMalformed, "provider."+resp.Backend, errors.New("empty response"))
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage = a.estimate(req, resp.Content)
	}

	if key != "" {
		a.cache.Set(key, resp, 1)
	}
	a.record(ctx, resp)
	return resp, nil
}

// Totals reports usage across every call made through this adapter.
func (a *Adapter) Totals() Totals { return a.meter.Totals() }

func (a *Adapter) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
}

func (a *Adapter) record(ctx context.Context, resp Response) {
	a.meter.record(resp.Usage, resp.Cached)
	if m := MeterFrom(ctx); m != nil {
		m.record(resp.Usage, resp.Cached)
	}
}

func (a *Adapter) estimate(req Request, content string) Usage {
	p := a.tokenizer.Count(req.System) + a.tokenizer.Count(req.Prompt)
	c := a.tokenizer.Count(content)
	return Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c}
}

func cacheKey(req Request) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\x00%s\x00%s", req.MaxTokens, req.System, req.Prompt)
	return hex.EncodeToString(h.Sum(nil))
}
