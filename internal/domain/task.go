package domain

import (
	"encoding/json"
	"time"
)

type TaskKind string

const (
	KindReportGeneration TaskKind = "report_generation"
	KindFileAnalysis     TaskKind = "file_analysis"
)

func (k TaskKind) Valid() bool {
	return k == KindReportGeneration || k == KindFileAnalysis
}

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transition may leave s.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StaleAfter is how long a running task may go without a heartbeat before it
// is reported as possibly stalled.
const StaleAfter = 60 * time.Second

type Task struct {
	ID           string            `json:"id"`
	Kind         TaskKind          `json:"kind"`
	Status       TaskStatus        `json:"status"`
	Stage        string            `json:"stage,omitempty"`
	Progress     int               `json:"progress"`
	Input        json.RawMessage   `json:"input,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Owner        string            `json:"owner"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Attempts     int               `json:"attempts"`
	MaxAttempts  int               `json:"max_attempts"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	NextRunAt    *time.Time        `json:"next_run_at,omitempty"`
	LastBeatAt   *time.Time        `json:"last_heartbeat_at,omitempty"`

	// HeartbeatSeq is the sequence number of the last heartbeat recorded.
	HeartbeatSeq int64 `json:"heartbeat_seq"`
}

// Clone returns a deep copy so that snapshots handed to readers never alias
// the writer's state.
func (t Task) Clone() Task {
	c := t
	if t.Input != nil {
		c.Input = append(json.RawMessage(nil), t.Input...)
	}
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.NextRunAt = cloneTime(t.NextRunAt)
	c.LastBeatAt = cloneTime(t.LastBeatAt)
	return c
}

// RetryWaiting reports whether a running task is between attempts, waiting
// in its lane's delayed set for NextRunAt.
func (t Task) RetryWaiting() bool {
	return t.Status == StatusRunning && t.NextRunAt != nil
}

// Claimable reports whether a worker may start an attempt of t.
func (t Task) Claimable() bool {
	return t.Status == StatusPending || t.RetryWaiting()
}

// Stalled reports whether a running task has gone quiet for longer than
// StaleAfter. Tasks that never emitted a heartbeat are measured from StartedAt.
// A task waiting for its next attempt is not stalled.
func (t Task) Stalled(now time.Time) bool {
	if t.Status != StatusRunning || t.NextRunAt != nil {
		return false
	}
	last := t.LastBeatAt
	if last == nil {
		last = t.StartedAt
	}
	if last == nil {
		return false
	}
	return now.Sub(*last) > StaleAfter
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type Heartbeat struct {
	TaskID    string    `json:"task_id"`
	Seq       int64     `json:"seq"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Progress  int       `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is what Status returns: a consistent copy of the task together
// with its most recent heartbeats.
type Snapshot struct {
	Task       Task        `json:"task"`
	Heartbeats []Heartbeat `json:"heartbeats"`
	Stalled    bool        `json:"stalled"`
}

type LaneStats struct {
	Lane      TaskKind `json:"lane"`
	Waiting   int      `json:"waiting"`
	Active    int      `json:"active"`
	Completed int64    `json:"completed"`
	Failed    int64    `json:"failed"`
	Cancelled int64    `json:"cancelled"`
	Stalled   int      `json:"stalled"`

	// Retrying counts tasks waiting in the delayed set for their next attempt.
	Retrying int `json:"retrying"`
}
