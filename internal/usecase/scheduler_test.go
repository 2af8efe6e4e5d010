package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportq/internal/domain"
	"reportq/internal/infra/memq"
	"reportq/internal/infra/memstore"
	"reportq/internal/ports"
	"reportq/pkg/backoff"
)

const waitFor = 3 * time.Second

// recordingQueue remembers the delay of every retry it is asked to schedule.
type recordingQueue struct {
	*memq.Queue
	mu     sync.Mutex
	delays []time.Duration
}

func (q *recordingQueue) EnqueueDelayed(ctx context.Context, id string, runAt time.Time) error {
	q.mu.Lock()
	q.delays = append(q.delays, time.Until(runAt))
	q.mu.Unlock()
	return q.Queue.EnqueueDelayed(ctx, id, runAt)
}

func (q *recordingQueue) Delays() []time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]time.Duration(nil), q.delays...)
}

type harness struct {
	sched *Scheduler
	store *memstore.Store
	queue *recordingQueue
}

func newHarness(t *testing.T, handler ports.Handler, tweak func(*Lane), opts ...Option) *harness {
	t.Helper()
	q := &recordingQueue{Queue: memq.New()}
	st := memstore.New(50)
	l := Lane{
		Kind:        domain.KindReportGeneration,
		Concurrency: 3,
		MaxAttempts: 3,
		Backoff:     backoff.Exponential{Base: 20 * time.Millisecond},
		Queue:       q,
		Handler:     handler,
		ClaimBlock:  20 * time.Millisecond,
	}
	if tweak != nil {
		tweak(&l)
	}
	s, err := NewScheduler(st, []Lane{l}, opts...)
	require.NoError(t, err)
	return &harness{sched: s, store: st, queue: q}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { _ = h.sched.Run(ctx); done <- struct{}{} }()
	go func() { _ = memq.NewScheduler(h.queue.Queue, 5*time.Millisecond).Run(ctx); done <- struct{}{} }()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})
}

// peer is a second scheduler over the same store and queue that runs no
// workers, standing in for another API process.
func (h *harness) peer(t *testing.T) *Scheduler {
	t.Helper()
	s, err := NewScheduler(h.store, []Lane{{
		Kind:        domain.KindReportGeneration,
		MaxAttempts: 3,
		Queue:       h.queue,
		Handler:     ports.HandlerFunc(nil),
	}})
	require.NoError(t, err)
	return s
}

func (h *harness) submit(t *testing.T, owner string) string {
	t.Helper()
	id, err := h.sched.Submit(context.Background(), domain.KindReportGeneration, json.RawMessage(`{"title":"x"}`), owner, nil)
	require.NoError(t, err)
	return id
}

func (h *harness) waitStatus(t *testing.T, id string, want domain.TaskStatus) domain.Snapshot {
	t.Helper()
	var snap domain.Snapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = h.sched.Status(context.Background(), id)
		return err == nil && snap.Task.Status == want
	}, waitFor, 5*time.Millisecond, "task never reached %s", want)
	return snap
}

func assertTerminalInvariant(t *testing.T, task domain.Task) {
	t.Helper()
	switch task.Status {
	case domain.StatusCompleted:
		assert.NotEmpty(t, task.Result)
		assert.Empty(t, task.ErrorMessage)
		assert.Equal(t, 100, task.Progress)
	case domain.StatusFailed:
		assert.Empty(t, task.Result)
		assert.NotEmpty(t, task.ErrorMessage)
	case domain.StatusCancelled:
		assert.Empty(t, task.Result)
		assert.Empty(t, task.ErrorMessage)
	default:
		t.Fatalf("status %s is not terminal", task.Status)
	}
	assert.NotNil(t, task.CompletedAt)
}

func TestSubmitUnknownKindCreatesNothing(t *testing.T) {
	h := newHarness(t, ports.HandlerFunc(nil), nil)

	_, err := h.sched.Submit(context.Background(), domain.KindFileAnalysis, nil, "alice", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidKind)

	_, err = h.sched.Submit(context.Background(), "video_render", nil, "alice", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidKind)

	n, _ := h.queue.Len(context.Background())
	assert.Zero(t, n)
	assert.Empty(t, h.sched.Stalled())
	count := 0
	h.sched.tasks.Range(func(any, any) bool { count++; return true })
	assert.Zero(t, count)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, ports.HandlerFunc(nil), func(l *Lane) {
		l.Validate = func(json.RawMessage) error { return domain.Validation("test", "title missing") }
	})

	_, err := h.sched.Submit(context.Background(), domain.KindReportGeneration, json.RawMessage(`{}`), "alice", nil)
	assert.Equal(t, domain.ErrKindValidation, domain.KindOf(err))
	n, _ := h.queue.Len(context.Background())
	assert.Zero(t, n)
}

func TestTaskCompletes(t *testing.T) {
	handler := ports.HandlerFunc(func(ctx context.Context, task domain.Task, r ports.Reporter) (json.RawMessage, error) {
		for _, p := range []int{10, 5, 50} {
			if err := r.Heartbeat(ctx, "work", p, "step"); err != nil {
				return nil, err
			}
		}
		return json.RawMessage(`{"ok":true}`), nil
	})
	h := newHarness(t, handler, nil)
	id := h.submit(t, "alice")

	snap, err := h.sched.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, snap.Task.Status)
	assert.Empty(t, snap.Task.Result)

	h.start(t)
	snap = h.waitStatus(t, id, domain.StatusCompleted)

	assertTerminalInvariant(t, snap.Task)
	assert.Equal(t, 1, snap.Task.Attempts)
	assert.JSONEq(t, `{"ok":true}`, string(snap.Task.Result))

	var progress []int
	var seqs []int64
	for _, hb := range snap.Heartbeats {
		progress = append(progress, hb.Progress)
		seqs = append(seqs, hb.Seq)
	}
	assert.Equal(t, []int{10, 10, 50}, progress)
	assert.Equal(t, []int64{1, 2, 3}, seqs)

	stored, err := h.store.LoadTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)

	stats, err := h.sched.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].Completed)
}

func TestTransientFailureRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	handler := ports.HandlerFunc(func(ctx context.Context, task domain.Task, r ports.Reporter) (json.RawMessage, error) {
		calls.Add(1)
		_ = r.Heartbeat(ctx, "content_generation", 50, "calling provider")
		return nil, domain.E(domain.ErrKindTimeout, "test", context.DeadlineExceeded)
	})
	h := newHarness(t, handler, nil)
	h.start(t)
	id := h.submit(t, "alice")

	snap := h.waitStatus(t, id, domain.StatusFailed)
	assertTerminalInvariant(t, snap.Task)
	assert.Equal(t, 3, snap.Task.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, snap.Task.ErrorMessage, "retries exhausted after 3 attempts")
	assert.Equal(t, 50, snap.Task.Progress)

	delays := h.queue.Delays()
	require.Len(t, delays, 2)
	assert.Greater(t, delays[1], delays[0])
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	handler := ports.HandlerFunc(func(context.Context, domain.Task, ports.Reporter) (json.RawMessage, error) {
		calls.Add(1)
		return nil, domain.Validation("test", "unknown report type %q", "nope")
	})
	h := newHarness(t, handler, nil)
	h.start(t)
	id := h.submit(t, "alice")

	snap := h.waitStatus(t, id, domain.StatusFailed)
	assertTerminalInvariant(t, snap.Task)
	assert.Equal(t, int32(1), calls.Load())
	assert.NotContains(t, snap.Task.ErrorMessage, "retries exhausted")
	assert.Empty(t, h.queue.Delays())
}

func TestCancelBeforePickup(t *testing.T) {
	var calls atomic.Int32
	handler := ports.HandlerFunc(func(context.Context, domain.Task, ports.Reporter) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`{}`), nil
	})
	h := newHarness(t, handler, nil)
	id := h.submit(t, "alice")

	require.NoError(t, h.sched.Cancel(context.Background(), id, "alice"))

	snap, err := h.sched.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, snap.Task.Status)
	assertTerminalInvariant(t, snap.Task)

	n, _ := h.queue.Len(context.Background())
	assert.Zero(t, n)

	h.start(t)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())

	snap, err = h.sched.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, snap.Heartbeats)
	beats, err := h.store.Heartbeats(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Empty(t, beats)
}

func TestCancelErrors(t *testing.T) {
	handler := ports.HandlerFunc(func(context.Context, domain.Task, ports.Reporter) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	h := newHarness(t, handler, nil)
	ctx := context.Background()

	assert.ErrorIs(t, h.sched.Cancel(ctx, "missing", "alice"), domain.ErrNotFound)

	id := h.submit(t, "alice")
	assert.ErrorIs(t, h.sched.Cancel(ctx, id, "mallory"), domain.ErrForbidden)

	h.start(t)
	before := h.waitStatus(t, id, domain.StatusCompleted)

	assert.ErrorIs(t, h.sched.Cancel(ctx, id, "alice"), domain.ErrNotCancellable)
	after, err := h.sched.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Task, after.Task)
}

func TestCancelRunningTask(t *testing.T) {
	entered := make(chan struct{})
	var sawCancel atomic.Bool
	handler := ports.HandlerFunc(func(ctx context.Context, task domain.Task, r ports.Reporter) (json.RawMessage, error) {
		if err := r.Heartbeat(ctx, "initializing", 5, "start"); err != nil {
			return nil, err
		}
		close(entered)
		for {
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Millisecond):
			}
			if err := r.Heartbeat(ctx, "content_generation", 50, "working"); err != nil {
				sawCancel.Store(errors.Is(err, domain.ErrCancelled))
				return json.RawMessage(`{"late":true}`), nil
			}
		}
	})
	h := newHarness(t, handler, nil)
	h.start(t)
	id := h.submit(t, "alice")

	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("task never started")
	}
	require.NoError(t, h.sched.Cancel(context.Background(), id, "alice"))

	require.Eventually(t, sawCancel.Load, waitFor, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	snap, err := h.sched.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, snap.Task.Status)
	assertTerminalInvariant(t, snap.Task)

	stats, err := h.sched.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[0].Cancelled)
	assert.Zero(t, stats[0].Completed)
}

func TestLaneConcurrencyBound(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var started []string
	handler := ports.HandlerFunc(func(ctx context.Context, task domain.Task, r ports.Reporter) (json.RawMessage, error) {
		mu.Lock()
		started = append(started, task.ID)
		mu.Unlock()
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return json.RawMessage(`{}`), nil
	})
	startedCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(started)
	}

	h := newHarness(t, handler, nil)
	ids := make([]string, 4)
	for i := range ids {
		ids[i] = h.submit(t, "alice")
	}
	h.start(t)

	require.Eventually(t, func() bool { return startedCount() == 3 }, waitFor, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, startedCount(), "fourth task must wait for a free worker")

	stats, err := h.sched.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats[0].Active)
	assert.Equal(t, 1, stats[0].Waiting)

	snap, err := h.sched.Status(context.Background(), ids[3])
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, snap.Task.Status)

	release <- struct{}{}
	require.Eventually(t, func() bool { return startedCount() == 4 }, waitFor, 5*time.Millisecond)

	mu.Lock()
	assert.ElementsMatch(t, ids[:3], started[:3])
	assert.Equal(t, ids[3], started[3])
	mu.Unlock()
	close(release)
}

func TestStalledTasksAreReported(t *testing.T) {
	var offset atomic.Int64
	clock := func() time.Time { return time.Now().Add(time.Duration(offset.Load())) }

	release := make(chan struct{})
	handler := ports.HandlerFunc(func(ctx context.Context, task domain.Task, r ports.Reporter) (json.RawMessage, error) {
		_ = r.Heartbeat(ctx, "content_generation", 50, "waiting on provider")
		select {
		case <-release:
		case <-ctx.Done():
		}
		return json.RawMessage(`{}`), nil
	})
	h := newHarness(t, handler, nil, WithClock(clock))
	h.start(t)
	id := h.submit(t, "alice")
	h.waitStatus(t, id, domain.StatusRunning)
	require.Eventually(t, func() bool {
		snap, _ := h.sched.Status(context.Background(), id)
		return len(snap.Heartbeats) == 1
	}, waitFor, 5*time.Millisecond)

	snap, err := h.sched.Status(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, snap.Stalled)

	offset.Store(int64(domain.StaleAfter + time.Second))

	snap, err = h.sched.Status(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, snap.Stalled)
	assert.Equal(t, domain.StatusRunning, snap.Task.Status, "stalled tasks are reported, not failed")
	assert.Equal(t, []string{id}, h.sched.Stalled())

	stats, err := h.sched.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats[0].Stalled)
	close(release)
}

type failingStore struct {
	*memstore.Store
}

func (failingStore) SaveTask(context.Context, domain.Task) error {
	return domain.Persistence("test", errors.New("disk full"))
}

func TestSubmitSurfacesPersistenceErrors(t *testing.T) {
	s, err := NewScheduler(failingStore{memstore.New(10)}, []Lane{{
		Kind:    domain.KindFileAnalysis,
		Queue:   memq.New(),
		Handler: ports.HandlerFunc(nil),
	}})
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), domain.KindFileAnalysis, json.RawMessage(`{}`), "alice", nil)
	assert.Equal(t, domain.ErrKindPersistence, domain.KindOf(err))
}

func TestStatusLoadsFromStore(t *testing.T) {
	st := memstore.New(10)
	ctx := context.Background()
	require.NoError(t, st.SaveTask(ctx, domain.Task{ID: "old", Kind: domain.KindReportGeneration, Status: domain.StatusCompleted, Progress: 100, HeartbeatSeq: 7, Result: json.RawMessage(`{}`)}))
	require.NoError(t, st.AppendHeartbeat(ctx, "old", domain.Heartbeat{TaskID: "old", Seq: 7, Progress: 100}))

	s, err := NewScheduler(st, nil)
	require.NoError(t, err)

	snap, err := s.Status(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, snap.Task.Status)
	require.Len(t, snap.Heartbeats, 1)
	assert.Equal(t, int64(7), snap.Heartbeats[0].Seq)

	_, err = s.Status(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRetryWaitKeepsTaskRunning(t *testing.T) {
	handler := ports.HandlerFunc(func(context.Context, domain.Task, ports.Reporter) (json.RawMessage, error) {
		return nil, domain.E(domain.ErrKindTimeout, "test", context.DeadlineExceeded)
	})
	h := newHarness(t, handler, func(l *Lane) { l.Backoff = backoff.Fixed(40 * time.Millisecond) })
	h.start(t)
	id := h.submit(t, "alice")
	ctx := context.Background()

	var sawRetryWait, sawRetrying bool
	require.Eventually(t, func() bool {
		snap, err := h.sched.Status(ctx, id)
		if !assert.NoError(t, err) {
			return false
		}
		task := snap.Task
		if task.Attempts > 0 {
			assert.NotEqual(t, domain.StatusPending, task.Status, "attempt %d reported as pending", task.Attempts)
		}
		if task.Status == domain.StatusRunning && task.NextRunAt != nil {
			sawRetryWait = true
			assert.Equal(t, stageRetryWait, task.Stage)
			assert.False(t, snap.Stalled)
		}
		stats, err := h.sched.Stats(ctx)
		if assert.NoError(t, err) && stats[0].Retrying > 0 {
			sawRetrying = true
		}
		return task.Status == domain.StatusFailed
	}, waitFor, time.Millisecond)

	assert.True(t, sawRetryWait, "retry wait never observed")
	assert.True(t, sawRetrying, "delayed task never counted")

	snap, err := h.sched.Status(ctx, id)
	require.NoError(t, err)
	assertTerminalInvariant(t, snap.Task)
	assert.Equal(t, 3, snap.Task.Attempts)
	assert.Nil(t, snap.Task.NextRunAt)
}

func TestCancelDuringRetryWait(t *testing.T) {
	var calls atomic.Int32
	handler := ports.HandlerFunc(func(context.Context, domain.Task, ports.Reporter) (json.RawMessage, error) {
		calls.Add(1)
		return nil, domain.E(domain.ErrKindUnavailable, "test", errors.New("provider down"))
	})
	h := newHarness(t, handler, func(l *Lane) { l.Backoff = backoff.Fixed(time.Hour) })
	h.start(t)
	id := h.submit(t, "alice")
	ctx := context.Background()

	require.Eventually(t, func() bool {
		snap, err := h.sched.Status(ctx, id)
		delayed, _ := h.queue.Delayed(ctx)
		return err == nil && snap.Task.NextRunAt != nil && delayed == 1
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, h.sched.Cancel(ctx, id, "alice"))

	snap, err := h.sched.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, snap.Task.Status)
	assertTerminalInvariant(t, snap.Task)
	assert.Nil(t, snap.Task.NextRunAt)

	delayed, err := h.queue.Delayed(ctx)
	require.NoError(t, err)
	assert.Zero(t, delayed)
	assert.Equal(t, int32(1), calls.Load())

	stats, err := h.sched.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[0].Retrying)
	assert.Equal(t, int64(1), stats[0].Cancelled)
}

func TestSharedStoreKeepsTerminalState(t *testing.T) {
	handler := ports.HandlerFunc(func(context.Context, domain.Task, ports.Reporter) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
	h := newHarness(t, handler, nil)
	h.start(t)
	api := h.peer(t)
	ctx := context.Background()

	id, err := api.Submit(ctx, domain.KindReportGeneration, json.RawMessage(`{"title":"x"}`), "alice", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := api.Status(ctx, id)
		return err == nil && snap.Task.Status == domain.StatusCompleted
	}, waitFor, 5*time.Millisecond)

	assert.ErrorIs(t, api.Cancel(ctx, id, "alice"), domain.ErrNotCancellable)

	stored, err := h.store.LoadTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assertTerminalInvariant(t, *stored)

	snap, err := api.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, snap.Task.Status)
}

func TestCancelFromAnotherScheduler(t *testing.T) {
	entered := make(chan struct{})
	var sawCancel atomic.Bool
	handler := ports.HandlerFunc(func(ctx context.Context, task domain.Task, r ports.Reporter) (json.RawMessage, error) {
		close(entered)
		for {
			if err := r.Heartbeat(ctx, "content_generation", 30, "working"); err != nil {
				sawCancel.Store(errors.Is(err, domain.ErrCancelled))
				return json.RawMessage(`{"late":true}`), nil
			}
			time.Sleep(5 * time.Millisecond)
		}
	})
	h := newHarness(t, handler, nil)
	h.start(t)
	api := h.peer(t)
	ctx := context.Background()

	id, err := api.Submit(ctx, domain.KindReportGeneration, json.RawMessage(`{"title":"x"}`), "alice", nil)
	require.NoError(t, err)
	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("task never started")
	}

	require.NoError(t, api.Cancel(ctx, id, "alice"))
	require.Eventually(t, sawCancel.Load, waitFor, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		snap, err := h.sched.Status(ctx, id)
		return err == nil && snap.Task.Status == domain.StatusCancelled
	}, waitFor, 5*time.Millisecond)

	stored, err := h.store.LoadTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assertTerminalInvariant(t, *stored)

	stats, err := h.sched.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[0].Completed)
}

// flakyStore refuses task updates whose result matches fail.
type flakyStore struct {
	*memstore.Store
	fail func(domain.Task) bool
}

func (s flakyStore) UpdateTask(ctx context.Context, id string, fn func(t *domain.Task) error) (domain.Task, error) {
	return s.Store.UpdateTask(ctx, id, func(t *domain.Task) error {
		if err := fn(t); err != nil {
			return err
		}
		if s.fail(*t) {
			return domain.Persistence("test", errors.New("disk full"))
		}
		return nil
	})
}

func newFlakyHarness(t *testing.T, handler ports.Handler, fail func(domain.Task) bool) *harness {
	t.Helper()
	h := newHarness(t, handler, nil)
	s, err := NewScheduler(flakyStore{Store: h.store, fail: fail}, []Lane{{
		Kind:        domain.KindReportGeneration,
		Concurrency: 1,
		MaxAttempts: 3,
		Queue:       h.queue,
		Handler:     handler,
		ClaimBlock:  20 * time.Millisecond,
	}})
	require.NoError(t, err)
	s.commitDelay = time.Millisecond
	h.sched = s
	return h
}

func TestHeartbeatWriteFailureIsNotPublished(t *testing.T) {
	var hbErr error
	handler := ports.HandlerFunc(func(ctx context.Context, task domain.Task, r ports.Reporter) (json.RawMessage, error) {
		if err := r.Heartbeat(ctx, "work", 10, "first"); err != nil {
			return nil, err
		}
		if hbErr = r.Heartbeat(ctx, "work", 50, "second"); hbErr != nil {
			return nil, hbErr
		}
		return json.RawMessage(`{}`), nil
	})
	h := newFlakyHarness(t, handler, func(task domain.Task) bool {
		return task.Status == domain.StatusRunning && task.Progress == 50
	})
	h.start(t)
	id := h.submit(t, "alice")

	snap := h.waitStatus(t, id, domain.StatusFailed)
	assertTerminalInvariant(t, snap.Task)
	assert.Equal(t, domain.ErrKindPersistence, domain.KindOf(hbErr))
	assert.Contains(t, snap.Task.ErrorMessage, "disk full")
	assert.Equal(t, 10, snap.Task.Progress)
	assert.Equal(t, int64(1), snap.Task.HeartbeatSeq)
	require.Len(t, snap.Heartbeats, 1)
	assert.Equal(t, int64(1), snap.Heartbeats[0].Seq)

	stored, err := h.store.Heartbeats(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestCompletionWriteIsRetried(t *testing.T) {
	var refused atomic.Int32
	handler := ports.HandlerFunc(func(context.Context, domain.Task, ports.Reporter) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
	h := newFlakyHarness(t, handler, func(task domain.Task) bool {
		return task.Status == domain.StatusCompleted && refused.Add(1) <= 2
	})
	h.start(t)
	id := h.submit(t, "alice")

	snap := h.waitStatus(t, id, domain.StatusCompleted)
	assertTerminalInvariant(t, snap.Task)
	assert.Equal(t, int32(3), refused.Load())

	stats, err := h.sched.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[0].Completed)
}

func TestCompletionWriteFailureIsNotPublished(t *testing.T) {
	var calls atomic.Int32
	handler := ports.HandlerFunc(func(context.Context, domain.Task, ports.Reporter) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`{"ok":true}`), nil
	})
	h := newFlakyHarness(t, handler, func(task domain.Task) bool {
		return task.Status == domain.StatusCompleted
	})
	h.start(t)
	id := h.submit(t, "alice")
	ctx := context.Background()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, 5*time.Millisecond)
	// let the outcome writes run out
	time.Sleep(50 * time.Millisecond)

	snap, err := h.sched.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, snap.Task.Status)
	assert.Empty(t, snap.Task.Result)

	stored, err := h.store.LoadTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, stored.Status)

	stats, err := h.sched.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[0].Completed)
	assert.Equal(t, int32(1), calls.Load())
}
