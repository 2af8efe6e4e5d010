// Package badgerstore persists tasks and heartbeats in an embedded Badger
// database so that a single-node deployment survives restarts.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reportq/internal/domain"
	"reportq/internal/ports"
)

var _ ports.TaskStore = (*Store)(nil)

type Store struct {
	db   *badger.DB
	keep int
}

// Open opens (or creates) the database at path. An empty path keeps
// everything in memory.
func Open(path string, keep int) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	opts = opts.WithLogger(badgerLogger{log.Logger.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	if keep <= 0 {
		keep = 50
	}
	log.Debug().Str("path", path).Msg("badger store opened")
	return &Store{db: db, keep: keep}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func taskKey(id string) []byte { return []byte("task/" + id) }

func beatPrefix(id string) []byte { return []byte("hb/" + id + "/") }

func beatKey(id string, seq int64) []byte {
	return fmt.Appendf(beatPrefix(id), "%020d", seq)
}

func (s *Store) SaveTask(_ context.Context, t domain.Task) error {
	b, err := json.Marshal(t)
	if err != nil {
		return domain.Persistence("badgerstore.SaveTask", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(taskKey(t.ID), b)
	})
	if err != nil {
		return domain.Persistence("badgerstore.SaveTask", err)
	}
	return nil
}

func (s *Store) LoadTask(_ context.Context, id string) (*domain.Task, error) {
	var t domain.Task
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(taskKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &t)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.Persistence("badgerstore.LoadTask", err)
	}
	return &t, nil
}

const maxTxRetries = 32

// aborted carries an UpdateTask callback error out of the transaction.
type aborted struct{ err error }

func (a aborted) Error() string { return a.err.Error() }

// UpdateTask reads, modifies and writes the task in one transaction. Badger
// rejects the commit with ErrConflict when another transaction wrote the key
// first, and the update is then run again against the new value.
func (s *Store) UpdateTask(_ context.Context, id string, fn func(t *domain.Task) error) (domain.Task, error) {
	for range maxTxRetries {
		var out domain.Task
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(taskKey(id))
			if err != nil {
				return err
			}
			var t domain.Task
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			}); err != nil {
				return err
			}
			if err := fn(&t); err != nil {
				return aborted{err}
			}
			b, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := txn.Set(taskKey(id), b); err != nil {
				return err
			}
			out = t
			return nil
		})
		if err == nil {
			return out, nil
		}
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		var ab aborted
		switch {
		case errors.As(err, &ab):
			return domain.Task{}, ab.err
		case errors.Is(err, badger.ErrKeyNotFound):
			return domain.Task{}, domain.ErrNotFound
		}
		return domain.Task{}, domain.Persistence("badgerstore.UpdateTask", err)
	}
	return domain.Task{}, domain.Persistence("badgerstore.UpdateTask", badger.ErrConflict)
}

// AppendHeartbeat stores hb under its sequence number and drops the entry
// that falls out of the retention window.
func (s *Store) AppendHeartbeat(_ context.Context, taskID string, hb domain.Heartbeat) error {
	b, err := json.Marshal(hb)
	if err != nil {
		return domain.Persistence("badgerstore.AppendHeartbeat", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(beatKey(taskID, hb.Seq), b); err != nil {
			return err
		}
		if old := hb.Seq - int64(s.keep); old > 0 {
			return txn.Delete(beatKey(taskID, old))
		}
		return nil
	})
	if err != nil {
		return domain.Persistence("badgerstore.AppendHeartbeat", err)
	}
	return nil
}

func (s *Store) Heartbeats(_ context.Context, taskID string, limit int) ([]domain.Heartbeat, error) {
	if limit <= 0 || limit > s.keep {
		limit = s.keep
	}
	prefix := beatPrefix(taskID)
	var out []domain.Heartbeat
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(append([]byte(nil), prefix...), 0xff)); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			var hb domain.Heartbeat
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &hb)
			}); err != nil {
				return err
			}
			out = append(out, hb)
		}
		return nil
	})
	if err != nil {
		return nil, domain.Persistence("badgerstore.Heartbeats", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// badgerLogger routes badger's own logging through zerolog, demoting its
// chatty info output to debug.
type badgerLogger struct{ l zerolog.Logger }

func (b badgerLogger) Errorf(f string, v ...any)   { b.l.Error().Msgf(f, v...) }
func (b badgerLogger) Warningf(f string, v ...any) { b.l.Warn().Msgf(f, v...) }
func (b badgerLogger) Infof(f string, v ...any)    { b.l.Debug().Msgf(f, v...) }
func (b badgerLogger) Debugf(f string, v ...any)   { b.l.Trace().Msgf(f, v...) }
