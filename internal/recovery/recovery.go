// Package recovery maps classified errors to remediation strategies.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reportq/internal/domain"
	"reportq/pkg/backoff"
)

type ErrorClass string

const (
	ClassAITimeout          ErrorClass = "ai_timeout"
	ClassQualityLow         ErrorClass = "content_quality_low"
	ClassServiceUnavailable ErrorClass = "ai_service_unavailable"
	ClassUnknown            ErrorClass = "unknown"
)

type StrategyName string

const (
	StrategyRetry    StrategyName = "retry"
	StrategyFallback StrategyName = "fallback"
	StrategyDegrade  StrategyName = "degrade"
	StrategyManual   StrategyName = "manual"
)

var ErrManualIntervention = errors.New("manual intervention required")

// Attempt describes the failed operation handed to HandleError.
type Attempt struct {
	Operation string
	// Attempt is the 1-based number of the attempt that just failed.
	Attempt int
	// Retry re-runs the operation. Strategies that do not retry ignore it.
	Retry func(ctx context.Context) (string, error)
	// Fallback is deterministic content used when the operation is given up.
	Fallback string
}

type Outcome struct {
	Recovered bool
	Result    string
	Degraded  bool
	Class     ErrorClass
	Strategy  StrategyName
	Message   string
}

type Strategy interface {
	Name() StrategyName
	Execute(ctx context.Context, err error, at Attempt) (Outcome, error)
}

// Classify maps a tagged error onto a recovery class.
func Classify(err error) ErrorClass {
	switch domain.KindOf(err) {
	case domain.ErrKindTimeout, domain.ErrKindRateLimited:
		return ClassAITimeout
	case domain.ErrKindQualityLow:
		return ClassQualityLow
	case domain.ErrKindUnavailable:
		return ClassServiceUnavailable
	}
	return ClassUnknown
}

// Table is the static class to strategy binding. Unknown errors use the
// strategy bound to ClassAITimeout.
type Table struct {
	strategies map[ErrorClass]Strategy
}

type Option func(*Table)

func WithStrategy(class ErrorClass, s Strategy) Option {
	return func(t *Table) { t.strategies[class] = s }
}

func NewTable(opts ...Option) *Table {
	t := &Table{strategies: map[ErrorClass]Strategy{
		ClassAITimeout:          &Retry{MaxAttempts: 3, Backoff: backoff.Jittered{Base: time.Second, Max: 10 * time.Second}},
		ClassQualityLow:         Fallback{},
		ClassServiceUnavailable: Degrade{},
	}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Table) StrategyFor(class ErrorClass) Strategy {
	if s, ok := t.strategies[class]; ok {
		return s
	}
	return t.strategies[ClassAITimeout]
}

// HandleError classifies err and runs the bound strategy. A nil error with
// Recovered=false means the strategy gave up without a terminal failure.
func (t *Table) HandleError(ctx context.Context, err error, at Attempt) (Outcome, error) {
	class := Classify(err)
	s := t.StrategyFor(class)
	if s == nil {
		return Outcome{Class: class, Message: "no strategy bound"}, err
	}

	out, herr := s.Execute(ctx, err, at)
	out.Class = class
	out.Strategy = s.Name()

	log.Ctx(ctx).Debug().
		Err(err).
		Str("operation", at.Operation).
		Int("attempt", at.Attempt).
		Str("class", string(class)).
		Str("strategy", string(out.Strategy)).
		Bool("recovered", out.Recovered).
		Msg(out.Message)

	return out, herr
}

// Exhausted reports whether err is the terminal failure of a retry strategy.
func Exhausted(err error) bool {
	return errors.Is(err, domain.ErrRetriesExhausted)
}

// Retry re-runs the operation after a backoff until MaxAttempts attempts
// have been made.
type Retry struct {
	MaxAttempts int
	Backoff     backoff.Policy
	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (r *Retry) Name() StrategyName { return StrategyRetry }

func (r *Retry) Execute(ctx context.Context, err error, at Attempt) (Outcome, error) {
	if at.Attempt >= r.MaxAttempts {
		msg := fmt.Sprintf("retries exhausted after %d attempts", at.Attempt)
		return Outcome{Message: msg}, fmt.Errorf("%s: %w: %w", at.Operation, domain.ErrRetriesExhausted, err)
	}
	if at.Retry == nil {
		return Outcome{Message: "operation is not retryable"}, err
	}

	delay := time.Duration(0)
	if r.Backoff != nil {
		delay = r.Backoff.Delay(at.Attempt)
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	if serr := sleep(ctx, delay); serr != nil {
		return Outcome{Message: "cancelled while backing off"}, serr
	}

	res, rerr := at.Retry(ctx)
	if rerr != nil {
		return Outcome{Message: fmt.Sprintf("retry %d failed", at.Attempt)}, rerr
	}
	return Outcome{Recovered: true, Result: res, Message: fmt.Sprintf("recovered on attempt %d", at.Attempt+1)}, nil
}

type Fallback struct{}

func (Fallback) Name() StrategyName { return StrategyFallback }

func (Fallback) Execute(_ context.Context, err error, at Attempt) (Outcome, error) {
	if at.Fallback == "" {
		return Outcome{Message: "no fallback content"}, err
	}
	return Outcome{Recovered: true, Result: at.Fallback, Message: "fallback content used"}, nil
}

// Degrade keeps the job going on reduced output when the provider is down.
type Degrade struct{}

func (Degrade) Name() StrategyName { return StrategyDegrade }

func (Degrade) Execute(_ context.Context, err error, at Attempt) (Outcome, error) {
	if at.Fallback == "" {
		return Outcome{Message: "nothing to degrade to"}, err
	}
	return Outcome{Recovered: true, Degraded: true, Result: at.Fallback, Message: "service unavailable, degraded content used"}, nil
}

type Manual struct{}

func (Manual) Name() StrategyName { return StrategyManual }

func (Manual) Execute(_ context.Context, err error, at Attempt) (Outcome, error) {
	return Outcome{Message: ErrManualIntervention.Error()}, fmt.Errorf("%s: %w: %w", at.Operation, ErrManualIntervention, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
