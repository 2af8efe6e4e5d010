package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	"reportq/internal/domain"
)

// view is an immutable snapshot of a task and its recent heartbeats.
// Writers build a new view under entry.mu and publish it atomically; readers
// load it without locking.
type view struct {
	task  domain.Task
	beats []domain.Heartbeat
}

// entry is this process's copy of one task. The store stays authoritative:
// a view is only published after the store accepted the change it shows.
type entry struct {
	id   string
	mu   sync.Mutex
	view atomic.Pointer[view]
	// active is set while a worker of this process runs an attempt. Only
	// then is the local view known to be current.
	active atomic.Bool
	// abort cancels the running attempt, if any.
	abort context.CancelFunc
}

func newEntry(v view) *entry {
	e := &entry{id: v.task.ID}
	e.publish(v)
	return e
}

func (e *entry) current() *view { return e.view.Load() }

func (e *entry) publish(v view) {
	v.task = v.task.Clone()
	e.view.Store(&v)
}

// withTask publishes t alongside the heartbeats already held.
func (e *entry) withTask(t domain.Task) {
	e.publish(view{task: t, beats: e.current().beats})
}

type lane struct {
	Lane
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
}
