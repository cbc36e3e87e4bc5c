// redis.go -- go-redis client and fixed-window rate limiter.
//
// Redis only holds throttling counters; session validity always comes from the
// durable store. If REDIS_URL is unset, NoopRateLimiter is used instead.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL, connects, and pings before returning.
// Call once at startup from main.go...returned client is safe for concurrent use.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// RedisRateLimiter counts attempts per key in fixed windows.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter wraps a shared client.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb}
}

// Allow records one attempt for key and returns ErrRateLimitExceeded once the
// count within the current window passes policy.MaxAttempts.
// INCR + EXPIRE NX run in one MULTI so the first attempt always starts the window.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, policy.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}

	if incr.Val() > int64(policy.MaxAttempts) {
		return ErrRateLimitExceeded
	}
	return nil
}

// CheckHealth pings Redis.
func (l *RedisRateLimiter) CheckHealth(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// NoopRateLimiter allows everything. Used when Redis is not configured.
type NoopRateLimiter struct{}

// Allow always returns nil.
func (NoopRateLimiter) Allow(context.Context, string, RateLimit) error { return nil }

// CheckHealth reports ErrCacheDisabled so health output shows "disabled" instead of "ok".
func (NoopRateLimiter) CheckHealth(context.Context) error { return ErrCacheDisabled }
