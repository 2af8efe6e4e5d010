package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy returns the delay to wait before the given attempt is retried.
// attempt is the number of the attempt that just failed, starting at 1.
type Policy interface {
	Delay(attempt int) time.Duration
}

// Exponential doubles Base for every failed attempt, capped at Max when set.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	// clamp before converting: a large attempt overflows time.Duration
	d := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 {
		d = min(d, float64(e.Max))
	}
	if d >= math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(d)
}

type Fixed time.Duration

func (f Fixed) Delay(int) time.Duration { return time.Duration(f) }

// Jittered is Exponential with +/- 20% jitter, so that callers failing
// together do not retry together.
type Jittered struct {
	Base time.Duration
	Max  time.Duration
}

func (j Jittered) Delay(attempt int) time.Duration {
	return ExponentialJitter(j.Base, j.Max, attempt)
}

func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	d := Exponential{Base: base, Max: max}.Delay(attempt)

	// simple jitter: +/- 20%
	j := time.Duration(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	lo := d - j
	off := time.Duration(rand.Int64N(int64(2 * j)))
	if off > math.MaxInt64-lo {
		return math.MaxInt64
	}
	return lo + off
}
