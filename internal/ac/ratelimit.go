package ac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter bounds token-exchange attempts per client_id using a fixed
// Redis INCR + EXPIRE window, per spec §4.3's "rate-limit exceeded -> 429
// with Retry-After".
type RateLimiter struct {
	redis  *redis.Client
	max    int
	window time.Duration
}

// NewRateLimiter creates a rate limiter allowing max attempts per key within
// window.
func NewRateLimiter(rdb *redis.Client, max int, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: rdb, max: max, window: window}
}

// RateLimitResult holds the result of a rate limit check.
type RateLimitResult struct {
	Allowed        bool
	Remaining      int
	RetryAfterSecs int
}

// Check reports whether key (e.g. "client:gc-123" or an IP) is still within
// its attempt budget, without recording a new attempt.
func (rl *RateLimiter) Check(ctx context.Context, key string) (*RateLimitResult, error) {
	redisKey := "ac_ratelimit:" + key

	count, err := rl.redis.Get(ctx, redisKey).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("checking rate limit: %w", err)
	}

	if count >= rl.max {
		ttl, err := rl.redis.TTL(ctx, redisKey).Result()
		if err != nil {
			return nil, fmt.Errorf("getting rate limit TTL: %w", err)
		}
		return &RateLimitResult{Allowed: false, Remaining: 0, RetryAfterSecs: int(ttl.Seconds())}, nil
	}

	return &RateLimitResult{Allowed: true, Remaining: rl.max - count}, nil
}

// Record records an attempt against key, starting the window on the first
// increment.
func (rl *RateLimiter) Record(ctx context.Context, key string) error {
	redisKey := "ac_ratelimit:" + key

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording rate limit attempt: %w", err)
	}

	if incr.Val() == 1 {
		rl.redis.Expire(ctx, redisKey, rl.window)
	}

	return nil
}
