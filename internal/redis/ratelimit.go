package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig bounds request volume per key.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// RateLimitResult is the outcome of a single rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a sliding-window limiter backed by a Redis sorted set
// per key, scored by request timestamp.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
}

func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{client: client, logger: logger, config: config}
}

// Allow checks whether one request fits under the limit for key.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN checks whether n requests fit under the limit for key. On success
// the requests are recorded in the window; a denied check records nothing.
func (r *RateLimiter) AllowN(ctx context.Context, key string, n int) (*RateLimitResult, error) {
	now := time.Now()
	setKey := "ratelimit:" + key

	// Drop entries that have slid out of the window, then count what's left.
	pipe := r.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, setKey, "0", strconv.FormatInt(now.Add(-r.config.Window).UnixNano(), 10))
	count := pipe.ZCard(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit window trim: %w", err)
	}

	used := int(count.Val())
	result := &RateLimitResult{
		Remaining: max(0, r.config.Limit-used),
		ResetAt:   now.Add(r.config.Window),
	}

	if used+n > r.config.Limit {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("used", used),
			zap.Int("limit", r.config.Limit),
		)
		return result, nil
	}

	record := r.client.rdb.Pipeline()
	for i := 0; i < n; i++ {
		ts := now.UnixNano() + int64(i)
		record.ZAdd(ctx, setKey, redis.Z{
			Score:  float64(ts),
			Member: strconv.FormatInt(ts, 10) + "-" + strconv.Itoa(i),
		})
	}
	record.Expire(ctx, setKey, r.config.Window+time.Second)
	if _, err := record.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit record: %w", err)
	}

	result.Allowed = true
	result.Remaining -= n
	return result, nil
}
