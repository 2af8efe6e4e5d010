package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reportq/internal/domain"
)

const stageRetryWait = "retry_scheduled"

type worker struct {
	s    *Scheduler
	lane *lane
	name string
}

// run claims task ids from the lane queue one at a time until ctx is done.
func (w worker) run(ctx context.Context) error {
	logger := log.Ctx(ctx).With().Str("lane", string(w.lane.Kind)).Str("worker", w.name).Logger()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		id, err := w.lane.Queue.Claim(ctx, w.lane.ClaimBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Err(err).Msg("claim failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if id == "" {
			continue
		}
		w.process(logger.WithContext(ctx), id)
	}
}

func (w worker) process(ctx context.Context, id string) {
	s := w.s
	e, err := s.lookup(ctx, id)
	if err != nil {
		log.Ctx(ctx).Err(err).Str("task_id", id).Msg("claimed unknown task")
		return
	}

	t, ok := w.start(ctx, e)
	if !ok {
		return
	}

	w.lane.active.Add(1)
	defer w.lane.active.Add(-1)

	logger := log.Ctx(ctx).With().
		Str("task_id", t.ID).
		Str("kind", string(t.Kind)).
		Int("attempt", t.Attempts).
		Logger()
	actx, cancel := context.WithCancel(logger.WithContext(ctx))
	e.mu.Lock()
	e.abort = cancel
	e.mu.Unlock()

	logger.Info().Msg("attempt started")
	started := time.Now()
	result, err := w.lane.Handler.Execute(actx, t, reporter{s: s, e: e})

	e.mu.Lock()
	e.abort = nil
	e.mu.Unlock()
	cancel()

	w.finish(ctx, e, t.Attempts, result, err, time.Since(started))
}

// start moves a claimable task to running: a pending task on its first
// attempt, or a running task whose retry came due. It reports false when the
// task was cancelled or claimed elsewhere, or could not be persisted.
func (w worker) start(ctx context.Context, e *entry) (domain.Task, bool) {
	s := w.s
	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.stamp()
	t, err := s.store.UpdateTask(ctx, e.id, func(t *domain.Task) error {
		if !t.Claimable() {
			return errStale
		}
		t.Status = domain.StatusRunning
		t.Attempts++
		t.NextRunAt = nil
		if t.StartedAt == nil {
			t.StartedAt = now
		}
		// staleness of a new attempt is measured from its start
		t.LastBeatAt = now
		return nil
	})
	switch {
	case errors.Is(err, errStale):
		log.Ctx(ctx).Debug().Str("task_id", e.id).Msg("skipping task that is no longer claimable")
		return domain.Task{}, false
	case err != nil:
		log.Ctx(ctx).Err(err).Str("task_id", e.id).Msg("failed to mark task running, requeueing")
		if qerr := w.lane.Queue.EnqueueDelayed(ctx, e.id, now.Add(w.lane.Backoff.Delay(1))); qerr != nil {
			log.Ctx(ctx).Err(qerr).Str("task_id", e.id).Msg("failed to requeue task")
		}
		return domain.Task{}, false
	}

	// an earlier attempt may have run in another process
	beats, err := s.store.Heartbeats(ctx, e.id, s.history)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("task_id", e.id).Msg("failed to load heartbeats")
		beats = e.current().beats
	}
	e.publish(view{task: t, beats: beats})
	e.active.Store(true)
	return t.Clone(), true
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeRequeued
	outcomeRetry
	outcomeFailed
)

// finish records the outcome of an attempt. The transition is written only
// if the task is still running this attempt, so a cancellation or another
// terminal state is never overwritten. A write the store keeps refusing is
// abandoned: the task stays as stored and shows up as stalled.
func (w worker) finish(ctx context.Context, e *entry, attempt int, result json.RawMessage, execErr error, took time.Duration) {
	s := w.s
	logger := log.Ctx(ctx).With().Str("task_id", e.id).Int("attempt", attempt).Dur("took", took).Logger()
	shutdown := ctx.Err() != nil

	var (
		oc    outcome
		delay time.Duration
		runAt time.Time
	)
	e.mu.Lock()
	t, err := s.commit(ctx, e, func(t *domain.Task) error {
		if t.Status != domain.StatusRunning || t.NextRunAt != nil || t.Attempts != attempt {
			return errStale
		}
		now := s.now().UTC()
		switch {
		case execErr == nil:
			oc = outcomeCompleted
			t.Status = domain.StatusCompleted
			t.Stage = "completed"
			t.Progress = 100
			t.Result = result
			t.CompletedAt = &now

		case shutdown:
			// shutdown interrupted the attempt; it does not count
			oc = outcomeRequeued
			t.Attempts--
			if t.Attempts == 0 {
				t.Status = domain.StatusPending
			} else {
				t.NextRunAt = &now
			}

		case domain.IsTransient(execErr) && t.Attempts < t.MaxAttempts:
			oc = outcomeRetry
			delay = w.lane.Backoff.Delay(t.Attempts)
			runAt = now.Add(delay)
			t.Stage = stageRetryWait
			t.NextRunAt = &runAt

		default:
			oc = outcomeFailed
			t.Status = domain.StatusFailed
			t.ErrorMessage = execErr.Error()
			if domain.IsTransient(execErr) {
				t.ErrorMessage = fmt.Sprintf("retries exhausted after %d attempts: %v", t.Attempts, execErr)
			}
			t.CompletedAt = &now
		}
		return nil
	})
	e.active.Store(false)
	e.mu.Unlock()

	switch {
	case errors.Is(err, errStale):
		logger.Info().Msg("attempt result discarded")
		if rerr := s.refresh(ctx, e); rerr != nil {
			logger.Warn().Err(rerr).Msg("failed to reload task")
		}
		return
	case err != nil:
		logger.Error().Err(err).AnErr("attempt_err", execErr).Msg("failed to persist attempt outcome")
		return
	}

	switch oc {
	case outcomeCompleted:
		w.lane.completed.Add(1)
		logger.Info().Msg("task completed")

	case outcomeRequeued:
		if err := w.lane.Queue.Enqueue(context.WithoutCancel(ctx), t.ID); err != nil {
			logger.Err(err).Msg("failed to requeue interrupted task")
		}
		logger.Warn().Msg("attempt interrupted by shutdown, requeued")

	case outcomeRetry:
		if err := w.lane.Queue.EnqueueDelayed(context.WithoutCancel(ctx), t.ID, runAt); err != nil {
			logger.Err(err).Msg("failed to schedule retry")
		}
		logger.Warn().Err(execErr).Dur("delay", delay).Msg("attempt failed, retry scheduled")

	case outcomeFailed:
		w.lane.failed.Add(1)
		logger.Error().Err(execErr).Str("error_kind", string(domain.KindOf(execErr))).Msg("task failed")
	}
}

// reporter records heartbeats for one task. It refuses them once the task
// is no longer running, which is how a job learns it was cancelled.
type reporter struct {
	s *Scheduler
	e *entry
}

// Heartbeat updates the task and then appends the heartbeat. The sequence
// number is taken from the stored task, so it advances only with a
// successful write. The view is published once, after both writes, so a
// reader never sees one without the other.
func (r reporter) Heartbeat(ctx context.Context, stage string, progress int, message string) error {
	s, e := r.s, r.e
	e.mu.Lock()
	defer e.mu.Unlock()

	now := s.now().UTC()
	var hb domain.Heartbeat
	t, err := s.store.UpdateTask(ctx, e.id, func(t *domain.Task) error {
		if t.Status != domain.StatusRunning || t.NextRunAt != nil {
			return domain.ErrCancelled
		}
		t.HeartbeatSeq++
		t.Stage = stage
		t.Progress = max(t.Progress, min(max(progress, 0), 100))
		t.LastBeatAt = &now
		hb = domain.Heartbeat{
			TaskID:    t.ID,
			Seq:       t.HeartbeatSeq,
			Stage:     stage,
			Message:   message,
			Progress:  t.Progress,
			Timestamp: now,
		}
		return nil
	})
	if err != nil {
		return err
	}

	cur := e.current()
	if err := s.store.AppendHeartbeat(ctx, t.ID, hb); err != nil {
		e.publish(view{task: t, beats: cur.beats})
		return err
	}
	beats := cur.beats
	if len(beats) >= s.history {
		beats = beats[len(beats)-s.history+1:]
	}
	e.publish(view{task: t, beats: append(append(make([]domain.Heartbeat, 0, len(beats)+1), beats...), hb)})

	log.Ctx(ctx).Debug().Str("stage", stage).Int("progress", hb.Progress).Msg(message)
	return nil
}
