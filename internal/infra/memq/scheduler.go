package memq

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"reportq/internal/ports"
)

var _ ports.Scheduler = (*Scheduler)(nil)

type Scheduler struct {
	Q        *Queue
	Interval time.Duration
}

func NewScheduler(q *Queue, interval time.Duration) *Scheduler {
	return &Scheduler{Q: q, Interval: interval}
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if n := s.Q.MoveDue(s.Q.now()); n > 0 {
			log.Ctx(ctx).Debug().Int("moved", n).Msg("delayed tasks ready")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
