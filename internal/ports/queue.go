package ports

import (
	"context"
	"time"
)

// LaneQueue holds the ids of tasks waiting for a worker in one lane. Ready
// ids are served FIFO; delayed ids become ready once their run time passes
// and a Scheduler moves them over.
type LaneQueue interface {
	Enqueue(ctx context.Context, taskID string) error
	EnqueueDelayed(ctx context.Context, taskID string, runAt time.Time) error
	// Claim pops the oldest ready id, waiting up to block. It returns an
	// empty id when nothing became ready in time.
	Claim(ctx context.Context, block time.Duration) (string, error)
	// Remove drops a ready or delayed id and reports whether it was queued.
	Remove(ctx context.Context, taskID string) (bool, error)
	// Len is the number of ready ids; Delayed the number waiting for their
	// run time.
	Len(ctx context.Context) (int, error)
	Delayed(ctx context.Context) (int, error)
}

type Scheduler interface {
	// moves due tasks from the delayed set into the ready queue
	Run(ctx context.Context) error
}
