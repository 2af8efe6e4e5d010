package memq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := New()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, id))
	}
	require.NoError(t, q.Enqueue(ctx, "a"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Claim(ctx, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := q.Claim(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClaimWakesOnEnqueue(t *testing.T) {
	ctx := context.Background()
	q := New()

	done := make(chan string, 1)
	go func() {
		id, _ := q.Claim(ctx, 5*time.Second)
		done <- id
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, "late"))

	select {
	case id := <-done:
		assert.Equal(t, "late", id)
	case <-time.After(2 * time.Second):
		t.Fatal("claim did not wake up")
	}
}

func TestClaimHonoursContext(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Claim(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelayedAndRemove(t *testing.T) {
	ctx := context.Background()
	q := New()
	base := time.Now()

	require.NoError(t, q.EnqueueDelayed(ctx, "later", base.Add(time.Hour)))
	require.NoError(t, q.EnqueueDelayed(ctx, "soon", base.Add(time.Minute)))
	require.NoError(t, q.EnqueueDelayed(ctx, "past", base.Add(-time.Second)))

	n, _ := q.Len(ctx)
	assert.Equal(t, 1, n, "a run time in the past is ready at once")
	d, _ := q.Delayed(ctx)
	assert.Equal(t, 2, d)

	assert.Equal(t, 1, q.MoveDue(base.Add(2*time.Minute)))
	n, _ = q.Len(ctx)
	assert.Equal(t, 2, n)

	removed, err := q.Remove(ctx, "later")
	require.NoError(t, err)
	assert.True(t, removed)
	d, _ = q.Delayed(ctx)
	assert.Zero(t, d)

	removed, err = q.Remove(ctx, "soon")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = q.Remove(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, removed)

	id, err := q.Claim(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "past", id)
}

func TestSchedulerMovesDueTasks(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.EnqueueDelayed(ctx, "x", time.Now().Add(30*time.Millisecond)))

	errc := make(chan error, 1)
	go func() { errc <- NewScheduler(q, 10*time.Millisecond).Run(ctx) }()

	id, err := q.Claim(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "x", id)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}
