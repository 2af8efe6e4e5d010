package provider

import (
	"context"
	"sync/atomic"
)

// Meter accumulates request and token counts. The adapter keeps one for the
// whole process and adds to a second one when the call context carries it,
// which is how a single job learns what it spent.
type Meter struct {
	requests   atomic.Int64
	cacheHits  atomic.Int64
	prompt     atomic.Int64
	completion atomic.Int64
}

type Totals struct {
	Requests  int   `json:"ai_requests"`
	CacheHits int   `json:"cache_hits"`
	Usage     Usage `json:"usage"`
}

func NewMeter() *Meter { return &Meter{} }

func (m *Meter) record(u Usage, cached bool) {
	m.requests.Add(1)
	if cached {
		m.cacheHits.Add(1)
		return
	}
	m.prompt.Add(int64(u.PromptTokens))
	m.completion.Add(int64(u.CompletionTokens))
}

func (m *Meter) Totals() Totals {
	p, c := int(m.prompt.Load()), int(m.completion.Load())
	return Totals{
		Requests:  int(m.requests.Load()),
		CacheHits: int(m.cacheHits.Load()),
		Usage:     Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c},
	}
}

type meterKey struct{}

func WithMeter(ctx context.Context, m *Meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

func MeterFrom(ctx context.Context) *Meter {
	m, _ := ctx.Value(meterKey{}).(*Meter)
	return m
}
