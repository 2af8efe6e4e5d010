package ports

import (
	"context"
	"encoding/json"

	"reportq/internal/domain"
)

// Reporter receives progress from a running job. Heartbeat returns
// domain.ErrCancelled once the task has left the running state, which is the
// signal for the job to stop before its next stage.
type Reporter interface {
	Heartbeat(ctx context.Context, stage string, progress int, message string) error
}

// Handler executes one attempt of a task and returns its result payload.
type Handler interface {
	Execute(ctx context.Context, t domain.Task, r Reporter) (json.RawMessage, error)
}

type HandlerFunc func(ctx context.Context, t domain.Task, r Reporter) (json.RawMessage, error)

func (f HandlerFunc) Execute(ctx context.Context, t domain.Task, r Reporter) (json.RawMessage, error) {
	return f(ctx, t, r)
}

type TemplateResolver interface {
	ResolveTemplate(ctx context.Context, templateID string) (*domain.ReportTemplate, error)
}

// Exporter renders a document to one output format and returns the path of
// the written file. Calls are idempotent: the same document and format
// always land on the same path.
type Exporter interface {
	Export(ctx context.Context, doc domain.Document, format string) (string, error)
}
