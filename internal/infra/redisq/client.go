package redisq

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"reportq/internal/config"
)

type Client struct {
	Cfg config.Redis
	Rdb *redis.Client
}

func New(cfg config.Redis) *Client {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{Cfg: cfg, Rdb: c}
}

// Connect pings the server so that a bad address fails at startup rather
// than on the first claim.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Ctx(ctx).Info().Str("prefix", c.prefix()).Msg("connected to redis")
	return nil
}

func (c *Client) Close() error {
	return c.Rdb.Close()
}

func (c *Client) prefix() string {
	if c.Cfg.KeyPrefix == "" {
		return "reportq"
	}
	return c.Cfg.KeyPrefix
}

func (c *Client) key(parts ...string) string {
	k := c.prefix()
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func ms(t time.Time) float64 { return float64(t.UnixMilli()) }
