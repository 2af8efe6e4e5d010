// Package memstore keeps task records and heartbeat history in process
// memory. It is the default store and the one tests run against.
package memstore

import (
	"context"
	"sync"

	"reportq/internal/domain"
	"reportq/internal/ports"
)

var _ ports.TaskStore = (*Store)(nil)

type Store struct {
	mu    sync.RWMutex
	tasks map[string]domain.Task
	beats map[string][]domain.Heartbeat
	keep  int
}

// New returns a store that retains the last keep heartbeats per task.
func New(keep int) *Store {
	if keep <= 0 {
		keep = 50
	}
	return &Store{
		tasks: make(map[string]domain.Task),
		beats: make(map[string][]domain.Heartbeat),
		keep:  keep,
	}
}

func (s *Store) SaveTask(_ context.Context, t domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *Store) LoadTask(_ context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := t.Clone()
	return &c, nil
}

func (s *Store) UpdateTask(_ context.Context, id string, fn func(t *domain.Task) error) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	next := t.Clone()
	if err := fn(&next); err != nil {
		return domain.Task{}, err
	}
	s.tasks[id] = next.Clone()
	return next, nil
}

func (s *Store) AppendHeartbeat(_ context.Context, taskID string, hb domain.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.beats[taskID], hb)
	if len(list) > s.keep {
		list = append([]domain.Heartbeat(nil), list[len(list)-s.keep:]...)
	}
	s.beats[taskID] = list
	return nil
}

func (s *Store) Heartbeats(_ context.Context, taskID string, limit int) ([]domain.Heartbeat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.beats[taskID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]domain.Heartbeat(nil), list...), nil
}
