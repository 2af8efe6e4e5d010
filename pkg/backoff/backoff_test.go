package backoff

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialDoubles(t *testing.T) {
	p := Exponential{Base: 100 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
}

func TestExponentialCapped(t *testing.T) {
	p := Exponential{Base: time.Second, Max: 3 * time.Second}
	assert.Equal(t, 3*time.Second, p.Delay(5))
}

func TestFixed(t *testing.T) {
	p := Fixed(2 * time.Second)
	for attempt := 1; attempt <= 3; attempt++ {
		assert.Equal(t, 2*time.Second, p.Delay(attempt))
	}
}

func TestExponentialJitterStaysWithinBand(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := ExponentialJitter(time.Second, time.Minute, 2)
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
		assert.Less(t, d, 2400*time.Millisecond)
	}
}

func TestJitteredPolicyGrows(t *testing.T) {
	p := Jittered{Base: 100 * time.Millisecond}
	assert.Less(t, p.Delay(1), p.Delay(3))
}

func TestExponentialLargeAttemptDoesNotOverflow(t *testing.T) {
	capped := Exponential{Base: time.Second, Max: time.Minute}
	assert.Equal(t, time.Minute, capped.Delay(200))

	uncapped := Exponential{Base: time.Second}
	assert.Positive(t, uncapped.Delay(200))
	assert.Equal(t, time.Duration(math.MaxInt64), uncapped.Delay(200))
}

func TestJitterNearCeilingStaysPositive(t *testing.T) {
	for i := 0; i < 50; i++ {
		assert.Positive(t, ExponentialJitter(time.Second, 0, 500))
	}
}
