// Package provider wraps text-generation backends behind one call contract
// and keeps token accounting for every call that goes through it.
package provider

import (
	"context"
	"net/http"

	"reportq/internal/domain"
)

// Constraints bounds a single generation. A zero MaxTokens or a negative
// Temperature selects the adapter default.
type Constraints struct {
	MaxTokens   int
	Temperature float64
}

// Defaults selects both adapter defaults.
var Defaults = Constraints{Temperature: -1}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Operation names carried in Meta.Operation.
const (
	OpSection   = "pipeline.section"
	OpAssess    = "quality.assess"
	OpImprove   = "quality.improve"
	OpSummarize = "analysis.summarize"
)

// Meta describes who is calling and why. Backends may use System as a
// system instruction; Operation and TaskID only feed logs.
type Meta struct {
	Operation string
	TaskID    string
	System    string
}

type Request struct {
	Prompt string
	Meta
	Constraints
}

type Response struct {
	Content string
	Usage   Usage
	Cached  bool
	Backend string
	Model   string
}

// Generator is the contract the rest of the module depends on.
type Generator interface {
	Generate(ctx context.Context, prompt string, c Constraints, meta Meta) (Response, error)
}

// Backend is one concrete text-generation service.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to Backend.
type Func func(ctx context.Context, req Request) (Response, error)

func (f Func) Name() string { return "func" }

func (f Func) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// kindForStatus maps an HTTP status returned by a backend to an error kind.
func kindForStatus(status int) domain.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.ErrKindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domain.ErrKindTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrKindUnauthorized
	case status >= 500:
		return domain.ErrKindUnavailable
	case status >= 400:
		return domain.ErrKindMalformed
	}
	return domain.ErrKindUnknown
}

// contextKind classifies errors raised by the context rather than the backend.
func contextKind(ctx context.Context, err error) (domain.ErrorKind, bool) {
	switch k := domain.KindOf(err); k {
	case domain.ErrKindTimeout, domain.ErrKindCancelled:
		return k, true
	}
	if ctx.Err() != nil {
		return domain.KindOf(ctx.Err()), true
	}
	return "", false
}
