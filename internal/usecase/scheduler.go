package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"reportq/internal/domain"
	"reportq/internal/ports"
	"reportq/pkg/backoff"
)

// Lane configures one independent queue of work.
type Lane struct {
	Kind        domain.TaskKind
	Concurrency int
	MaxAttempts int
	Backoff     backoff.Policy
	Queue       ports.LaneQueue
	Handler     ports.Handler
	// Validate, when set, rejects malformed input at Submit time so that no
	// task is created for it.
	Validate func(json.RawMessage) error
	// ClaimBlock is how long an idle worker waits on the queue before it
	// checks for shutdown again.
	ClaimBlock time.Duration
}

// Scheduler owns the task lifecycle: it creates tasks, hands them to lane
// workers, records their heartbeats and finalizes them.
type Scheduler struct {
	store   ports.TaskStore
	lanes   map[domain.TaskKind]*lane
	order   []domain.TaskKind
	tasks   sync.Map // id -> *entry
	history int
	now     func() time.Time
	newID   func() string

	// commitDelay spaces retried outcome writes.
	commitDelay time.Duration
}

const commitAttempts = 3

// errStale aborts a store update whose precondition no longer holds.
var errStale = errors.New("task changed since it was read")

type Option func(*Scheduler)

// WithHistory sets how many recent heartbeats Status returns.
func WithHistory(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.history = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(store ports.TaskStore, lanes []Lane, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		store:       store,
		lanes:       make(map[domain.TaskKind]*lane, len(lanes)),
		history:     50,
		now:         time.Now,
		newID:       uuid.NewString,
		commitDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, cfg := range lanes {
		if !cfg.Kind.Valid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidKind, cfg.Kind)
		}
		if _, dup := s.lanes[cfg.Kind]; dup {
			return nil, fmt.Errorf("lane %s configured twice", cfg.Kind)
		}
		if cfg.Queue == nil || cfg.Handler == nil {
			return nil, fmt.Errorf("lane %s needs a queue and a handler", cfg.Kind)
		}
		if cfg.Concurrency <= 0 {
			cfg.Concurrency = 1
		}
		if cfg.MaxAttempts <= 0 {
			cfg.MaxAttempts = 1
		}
		if cfg.Backoff == nil {
			cfg.Backoff = backoff.Fixed(0)
		}
		if cfg.ClaimBlock <= 0 {
			cfg.ClaimBlock = 5 * time.Second
		}
		s.lanes[cfg.Kind] = &lane{Lane: cfg}
		s.order = append(s.order, cfg.Kind)
	}
	return s, nil
}

// Submit persists a new pending task and enqueues it in its lane.
func (s *Scheduler) Submit(ctx context.Context, kind domain.TaskKind, input json.RawMessage, owner string, metadata map[string]string) (string, error) {
	l, ok := s.lanes[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
	}
	if l.Validate != nil {
		if err := l.Validate(input); err != nil {
			return "", err
		}
	}

	t := domain.Task{
		ID:          s.newID(),
		Kind:        kind,
		Status:      domain.StatusPending,
		Input:       input,
		Owner:       owner,
		Metadata:    metadata,
		MaxAttempts: l.MaxAttempts,
		CreatedAt:   s.now().UTC(),
	}
	t = t.Clone()
	if err := s.store.SaveTask(ctx, t); err != nil {
		return "", err
	}

	e := newEntry(view{task: t})
	s.tasks.Store(t.ID, e)

	if err := l.Queue.Enqueue(ctx, t.ID); err != nil {
		e.mu.Lock()
		_, uerr := s.update(ctx, e, func(t *domain.Task) error {
			if t.Status != domain.StatusPending {
				return errStale
			}
			t.Status = domain.StatusFailed
			t.ErrorMessage = fmt.Sprintf("enqueue failed: %v", err)
			t.CompletedAt = s.stamp()
			return nil
		})
		e.mu.Unlock()
		if uerr != nil {
			log.Ctx(ctx).Err(uerr).Str("task_id", t.ID).Msg("failed to persist enqueue failure")
		} else {
			l.failed.Add(1)
		}
		return "", domain.Persistence("scheduler.Submit", err)
	}

	log.Ctx(ctx).Info().
		Str("task_id", t.ID).
		Str("kind", string(kind)).
		Str("owner", owner).
		Msg("task submitted")
	return t.ID, nil
}

// Cancel moves a pending or running task to cancelled. The check and the
// write are one atomic store update, so a task that reached a terminal state
// anywhere is never overwritten. A running attempt in this process has its
// context cancelled; one in another process stops at its next heartbeat.
func (s *Scheduler) Cancel(ctx context.Context, id, owner string) error {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}

	var queued bool
	e.mu.Lock()
	t, err := s.update(ctx, e, func(t *domain.Task) error {
		if t.Owner != owner {
			return domain.ErrForbidden
		}
		if t.Status.Terminal() {
			return domain.ErrNotCancellable
		}
		queued = t.Claimable()
		t.Status = domain.StatusCancelled
		t.NextRunAt = nil
		t.CompletedAt = s.stamp()
		return nil
	})
	abort := e.abort
	e.mu.Unlock()
	if err != nil {
		if errors.Is(err, domain.ErrNotCancellable) {
			s.refresh(ctx, e)
		}
		return err
	}

	if abort != nil {
		abort()
	}
	if l, ok := s.lanes[t.Kind]; ok {
		l.cancelled.Add(1)
		if queued {
			if _, err := l.Queue.Remove(ctx, id); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("task_id", id).Msg("failed to remove cancelled task from queue")
			}
		}
	}
	log.Ctx(ctx).Info().Str("task_id", id).Bool("was_queued", queued).Msg("task cancelled")
	return nil
}

// Status returns a consistent snapshot of the task and its recent heartbeats.
// Unless a worker of this process is running the task, the snapshot is read
// from the store, since another process may have moved it on.
func (s *Scheduler) Status(ctx context.Context, id string) (domain.Snapshot, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := s.refresh(ctx, e); err != nil {
		return domain.Snapshot{}, err
	}
	v := e.current()
	beats := v.beats
	if len(beats) > s.history {
		beats = beats[len(beats)-s.history:]
	}
	return domain.Snapshot{
		Task:       v.task.Clone(),
		Heartbeats: append([]domain.Heartbeat(nil), beats...),
		Stalled:    v.task.Stalled(s.now()),
	}, nil
}

// Stats reports per-lane counters in lane registration order. Completion
// counters and stalled counts cover the tasks this process has handled.
func (s *Scheduler) Stats(ctx context.Context) ([]domain.LaneStats, error) {
	now := s.now()
	stalled := make(map[domain.TaskKind]int)
	s.tasks.Range(func(_, v any) bool {
		t := v.(*entry).current().task
		if t.Stalled(now) {
			stalled[t.Kind]++
		}
		return true
	})

	out := make([]domain.LaneStats, 0, len(s.order))
	for _, kind := range s.order {
		l := s.lanes[kind]
		waiting, err := l.Queue.Len(ctx)
		if err != nil {
			return nil, fmt.Errorf("lane %s length: %w", kind, err)
		}
		retrying, err := l.Queue.Delayed(ctx)
		if err != nil {
			return nil, fmt.Errorf("lane %s delayed: %w", kind, err)
		}
		out = append(out, domain.LaneStats{
			Lane:      kind,
			Waiting:   waiting,
			Active:    int(l.active.Load()),
			Completed: l.completed.Load(),
			Failed:    l.failed.Load(),
			Cancelled: l.cancelled.Load(),
			Stalled:   stalled[kind],
			Retrying:  retrying,
		})
	}
	return out, nil
}

// Stalled lists running tasks that have not sent a heartbeat for longer
// than domain.StaleAfter.
func (s *Scheduler) Stalled() []string {
	now := s.now()
	var ids []string
	s.tasks.Range(func(k, v any) bool {
		if v.(*entry).current().task.Stalled(now) {
			ids = append(ids, k.(string))
		}
		return true
	})
	return ids
}

// Run starts every lane's workers and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, kind := range s.order {
		l := s.lanes[kind]
		log.Ctx(ctx).Info().
			Str("lane", string(kind)).
			Int("concurrency", l.Concurrency).
			Int("max_attempts", l.MaxAttempts).
			Msg("lane started")
		for i := range l.Concurrency {
			w := worker{s: s, lane: l, name: fmt.Sprintf("%s-%d", kind, i+1)}
			g.Go(func() error { return w.run(ctx) })
		}
	}
	return g.Wait()
}

// lookup finds a task in memory, loading it from the store when this
// process has not seen it yet.
func (s *Scheduler) lookup(ctx context.Context, id string) (*entry, error) {
	if v, ok := s.tasks.Load(id); ok {
		return v.(*entry), nil
	}
	v, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	e, _ := s.tasks.LoadOrStore(id, newEntry(v))
	return e.(*entry), nil
}

// load reads a task and its recent heartbeats from the store. The task is
// read first; a heartbeat written after that read is left for the next load
// so that the heartbeats never run ahead of the task.
func (s *Scheduler) load(ctx context.Context, id string) (view, error) {
	t, err := s.store.LoadTask(ctx, id)
	if err != nil {
		return view{}, err
	}
	beats, err := s.store.Heartbeats(ctx, id, s.history)
	if err != nil {
		return view{}, err
	}
	n := len(beats)
	for n > 0 && beats[n-1].Seq > t.HeartbeatSeq {
		n--
	}
	return view{task: *t, beats: beats[:n]}, nil
}

// refresh replaces the local view with the store's unless a worker of this
// process owns the task.
func (s *Scheduler) refresh(ctx context.Context, e *entry) error {
	if e.active.Load() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active.Load() {
		return nil
	}
	v, err := s.load(ctx, e.id)
	if err != nil {
		return err
	}
	e.publish(v)
	return nil
}

// update applies fn through the store and publishes the stored result.
// Nothing is published when the store refuses or fails. Callers hold e.mu.
func (s *Scheduler) update(ctx context.Context, e *entry, fn func(t *domain.Task) error) (domain.Task, error) {
	t, err := s.store.UpdateTask(ctx, e.id, fn)
	if err != nil {
		return domain.Task{}, err
	}
	e.withTask(t)
	return t, nil
}

// commit is update retried on persistence failures, for transitions that
// have no caller to report to. It gives up after commitAttempts tries and
// leaves the task as the store last saw it.
func (s *Scheduler) commit(ctx context.Context, e *entry, fn func(t *domain.Task) error) (domain.Task, error) {
	ctx = context.WithoutCancel(ctx)
	var err error
	for i := range commitAttempts {
		if i > 0 {
			time.Sleep(time.Duration(i) * s.commitDelay)
		}
		var t domain.Task
		t, err = s.update(ctx, e, fn)
		if domain.KindOf(err) != domain.ErrKindPersistence {
			return t, err
		}
		log.Ctx(ctx).Warn().Err(err).Str("task_id", e.id).Int("try", i+1).Msg("task update failed")
	}
	return domain.Task{}, err
}

func (s *Scheduler) stamp() *time.Time {
	t := s.now().UTC()
	return &t
}
