// Package memq is the in-process lane queue: a FIFO of ready task ids plus
// a time-ordered set of delayed ids.
package memq

import (
	"container/heap"
	"container/list"
	"context"
	"sync"
	"time"

	"reportq/internal/ports"
)

var _ ports.LaneQueue = (*Queue)(nil)

type Queue struct {
	mu      sync.Mutex
	ready   *list.List
	index   map[string]*list.Element
	delayed delayHeap
	byID    map[string]*delayed
	// changed is closed and replaced whenever an id becomes ready, waking
	// every blocked Claim.
	changed chan struct{}
	now     func() time.Time
}

func New() *Queue {
	return &Queue{
		ready:   list.New(),
		index:   make(map[string]*list.Element),
		byID:    make(map[string]*delayed),
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

func (q *Queue) Enqueue(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushLocked(taskID)
	return nil
}

func (q *Queue) pushLocked(taskID string) {
	if _, ok := q.index[taskID]; ok {
		return
	}
	q.index[taskID] = q.ready.PushBack(taskID)
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) EnqueueDelayed(_ context.Context, taskID string, runAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !runAt.After(q.now()) {
		if d, ok := q.byID[taskID]; ok {
			heap.Remove(&q.delayed, d.index)
			delete(q.byID, taskID)
		}
		q.pushLocked(taskID)
		return nil
	}
	if d, ok := q.byID[taskID]; ok {
		d.runAt = runAt
		heap.Fix(&q.delayed, d.index)
		return nil
	}
	d := &delayed{id: taskID, runAt: runAt}
	heap.Push(&q.delayed, d)
	q.byID[taskID] = d
	return nil
}

func (q *Queue) Claim(ctx context.Context, block time.Duration) (string, error) {
	timer := time.NewTimer(block)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if front := q.ready.Front(); front != nil {
			id := q.ready.Remove(front).(string)
			delete(q.index, id)
			q.mu.Unlock()
			return id, nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", nil
		case <-wait:
		}
	}
}

func (q *Queue) Remove(_ context.Context, taskID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if el, ok := q.index[taskID]; ok {
		q.ready.Remove(el)
		delete(q.index, taskID)
		return true, nil
	}
	if d, ok := q.byID[taskID]; ok {
		heap.Remove(&q.delayed, d.index)
		delete(q.byID, taskID)
		return true, nil
	}
	return false, nil
}

// Len is the number of ready ids.
func (q *Queue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len(), nil
}

// Delayed is the number of ids waiting for their run time.
func (q *Queue) Delayed(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delayed.Len(), nil
}

// MoveDue makes every delayed id whose run time has passed ready, oldest
// first, and returns how many moved.
func (q *Queue) MoveDue(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for q.delayed.Len() > 0 && !q.delayed[0].runAt.After(now) {
		d := heap.Pop(&q.delayed).(*delayed)
		delete(q.byID, d.id)
		q.pushLocked(d.id)
		n++
	}
	return n
}

type delayed struct {
	id    string
	runAt time.Time
	index int
}

type delayHeap []*delayed

func (h delayHeap) Len() int { return len(h) }

func (h delayHeap) Less(i, j int) bool { return h[i].runAt.Before(h[j].runAt) }

func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayHeap) Push(x any) {
	d := x.(*delayed)
	d.index = len(*h)
	*h = append(*h, d)
}

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return d
}
