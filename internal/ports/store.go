package ports

import (
	"context"

	"reportq/internal/domain"
)

// TaskStore persists task records and their heartbeat history. LoadTask
// and UpdateTask return domain.ErrNotFound for unknown ids.
type TaskStore interface {
	SaveTask(ctx context.Context, t domain.Task) error
	LoadTask(ctx context.Context, id string) (*domain.Task, error)
	// UpdateTask applies fn to the stored task and writes the result, atomic
	// with respect to every other writer sharing the store. When fn returns
	// an error nothing is written and that error is returned as is.
	UpdateTask(ctx context.Context, id string, fn func(t *domain.Task) error) (domain.Task, error)
	AppendHeartbeat(ctx context.Context, taskID string, hb domain.Heartbeat) error
	// Heartbeats returns up to limit most recent heartbeats, oldest first.
	Heartbeats(ctx context.Context, taskID string, limit int) ([]domain.Heartbeat, error)
}
