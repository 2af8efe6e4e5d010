package redisq

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"reportq/internal/domain"
	"reportq/internal/ports"
)

var _ ports.TaskStore = (*Store)(nil)

// Store keeps each task as a JSON string and its heartbeats as a capped list.
type Store struct {
	C    *Client
	Keep int
}

func NewStore(c *Client, keep int) *Store {
	if keep <= 0 {
		keep = 50
	}
	return &Store{C: c, Keep: keep}
}

func (s *Store) SaveTask(ctx context.Context, t domain.Task) error {
	b, err := json.Marshal(t)
	if err != nil {
		return domain.Persistence("redisq.SaveTask", err)
	}
	if err := s.C.Rdb.Set(ctx, s.C.key("task", t.ID), b, 0).Err(); err != nil {
		return domain.Persistence("redisq.SaveTask", err)
	}
	return nil
}

func (s *Store) LoadTask(ctx context.Context, id string) (*domain.Task, error) {
	b, err := s.C.Rdb.Get(ctx, s.C.key("task", id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Persistence("redisq.LoadTask", err)
	}
	var t domain.Task
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, domain.Persistence("redisq.LoadTask", err)
	}
	return &t, nil
}

// maxTxRetries bounds optimistic retries of UpdateTask. A WATCH only fails
// when another writer committed, so it is reached only under heavy
// contention on one task.
const maxTxRetries = 32

// aborted carries an error returned by an UpdateTask callback through
// Watch so that it is not reported as a persistence failure.
type aborted struct{ err error }

func (a aborted) Error() string { return a.err.Error() }

// UpdateTask is a WATCH/MULTI read-modify-write of the task key.
func (s *Store) UpdateTask(ctx context.Context, id string, fn func(t *domain.Task) error) (domain.Task, error) {
	key := s.C.key("task", id)
	var out domain.Task
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var t domain.Task
		if err := json.Unmarshal(b, &t); err != nil {
			return err
		}
		if err := fn(&t); err != nil {
			return aborted{err}
		}
		next, err := json.Marshal(t)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, next, 0)
			return nil
		})
		if err == nil {
			out = t
		}
		return err
	}

	for range maxTxRetries {
		err := s.C.Rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var ab aborted
		switch {
		case errors.As(err, &ab):
			return domain.Task{}, ab.err
		case errors.Is(err, redis.Nil):
			return domain.Task{}, domain.ErrNotFound
		}
		return domain.Task{}, domain.Persistence("redisq.UpdateTask", err)
	}
	return domain.Task{}, domain.Persistence("redisq.UpdateTask", redis.TxFailedErr)
}

func (s *Store) AppendHeartbeat(ctx context.Context, taskID string, hb domain.Heartbeat) error {
	b, err := json.Marshal(hb)
	if err != nil {
		return domain.Persistence("redisq.AppendHeartbeat", err)
	}
	key := s.C.key("hb", taskID)
	_, err = s.C.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, b)
		p.LTrim(ctx, key, int64(-s.Keep), -1)
		return nil
	})
	if err != nil {
		return domain.Persistence("redisq.AppendHeartbeat", err)
	}
	return nil
}

func (s *Store) Heartbeats(ctx context.Context, taskID string, limit int) ([]domain.Heartbeat, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.C.Rdb.LRange(ctx, s.C.key("hb", taskID), start, -1).Result()
	if err != nil {
		return nil, domain.Persistence("redisq.Heartbeats", err)
	}
	out := make([]domain.Heartbeat, 0, len(raw))
	for _, r := range raw {
		var hb domain.Heartbeat
		if err := json.Unmarshal([]byte(r), &hb); err != nil {
			return nil, domain.Persistence("redisq.Heartbeats", err)
		}
		out = append(out, hb)
	}
	return out, nil
}
