package redisq

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"reportq/internal/domain"
	"reportq/internal/ports"
)

var _ ports.LaneQueue = (*Queue)(nil)

// Queue is one lane: a list of ready ids and a sorted set of delayed ids
// scored by their run time in unix milliseconds.
type Queue struct {
	C       *Client
	Lane    domain.TaskKind
	ready   string
	delayed string
}

func NewQueue(c *Client, lane domain.TaskKind) *Queue {
	return &Queue{
		C:       c,
		Lane:    lane,
		ready:   c.key("lane", string(lane), "ready"),
		delayed: c.key("lane", string(lane), "delayed"),
	}
}

func (q *Queue) Enqueue(ctx context.Context, taskID string) error {
	return q.C.Rdb.RPush(ctx, q.ready, taskID).Err()
}

func (q *Queue) EnqueueDelayed(ctx context.Context, taskID string, runAt time.Time) error {
	return q.C.Rdb.ZAdd(ctx, q.delayed, redis.Z{Score: ms(runAt), Member: taskID}).Err()
}

func (q *Queue) Claim(ctx context.Context, block time.Duration) (string, error) {
	if block <= 0 {
		id, err := q.C.Rdb.LPop(ctx, q.ready).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return id, err
	}

	res, err := q.C.Rdb.BLPop(ctx, block, q.ready).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

func (q *Queue) Remove(ctx context.Context, taskID string) (bool, error) {
	var lrem *redis.IntCmd
	var zrem *redis.IntCmd
	_, err := q.C.Rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		lrem = p.LRem(ctx, q.ready, 0, taskID)
		zrem = p.ZRem(ctx, q.delayed, taskID)
		return nil
	})
	if err != nil {
		return false, err
	}
	return lrem.Val()+zrem.Val() > 0, nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.C.Rdb.LLen(ctx, q.ready).Result()
	return int(n), err
}

// Delayed is the number of ids waiting in the delayed set.
func (q *Queue) Delayed(ctx context.Context) (int, error) {
	n, err := q.C.Rdb.ZCard(ctx, q.delayed).Result()
	return int(n), err
}
