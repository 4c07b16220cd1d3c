package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether an actor may perform one more action in the
// current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a fixed-window counter: INCR, and EXPIRE whenever the key
// has no TTL. Checking the TTL on every hit means a failed EXPIRE is retried
// instead of pinning the counter forever.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	log    *slog.Logger
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration, log *slog.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:send:",
		log:    log,
	}
}

// Allow fails open: a Redis outage never blocks chat traffic.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := l.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		ttl = p.TTL(ctx, k)
		return nil
	})
	if err != nil {
		l.log.Warn("rate limit check failed, allowing", "key", k, "error", err)
		return true, nil
	}

	if ttl.Val() < 0 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			l.log.Warn("rate limit expire failed", "key", k, "error", err)
		}
	}
	return incr.Val() <= int64(l.limit), nil
}

// Noop allows everything. Used when Redis is not configured.
type Noop struct{}

func (Noop) Allow(context.Context, string) (bool, error) { return true, nil }

// New returns a Redis-backed limiter when addr is set and reachable,
// otherwise Noop.
func New(ctx context.Context, log *slog.Logger, addr, password string, db, limit int, window time.Duration) (Limiter, func() error, error) {
	if addr == "" || limit <= 0 {
		log.Info("send rate limiting disabled")
		return Noop{}, func() error { return nil }, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("send rate limiting enabled", "addr", addr, "limit", limit, "window", window)
	return NewRedisLimiter(rdb, limit, window, log), rdb.Close, nil
}
