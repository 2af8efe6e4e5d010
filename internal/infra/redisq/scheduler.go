package redisq

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"reportq/internal/ports"
)

var _ ports.Scheduler = (*Scheduler)(nil)

// moveDue pops up to ARGV[2] ids scored at or below ARGV[1] from the delayed
// set and appends them to the ready list in one step, so that two schedulers
// never move the same id twice.
var moveDue = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('RPUSH', KEYS[2], id)
end
return #ids
`)

const moveBatch = 128

type Scheduler struct {
	Queues   []*Queue
	Interval time.Duration
	now      func() time.Time
}

func NewScheduler(interval time.Duration, queues ...*Queue) *Scheduler {
	return &Scheduler{Queues: queues, Interval: interval, now: time.Now}
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		for _, q := range s.Queues {
			n, err := s.MoveDue(ctx, q)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Ctx(ctx).Err(err).Str("lane", string(q.Lane)).Msg("failed to move delayed tasks")
				continue
			}
			if n > 0 {
				log.Ctx(ctx).Debug().Str("lane", string(q.Lane)).Int("moved", n).Msg("delayed tasks ready")
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// MoveDue moves every due id of q, a batch at a time.
func (s *Scheduler) MoveDue(ctx context.Context, q *Queue) (int, error) {
	upTo := strconv.FormatFloat(ms(s.now()), 'f', -1, 64)
	total := 0
	for {
		n, err := moveDue.Run(ctx, q.C.Rdb, []string{q.delayed, q.ready}, upTo, moveBatch).Int()
		if err != nil {
			return total, err
		}
		total += n
		if n < moveBatch {
			return total, nil
		}
	}
}
