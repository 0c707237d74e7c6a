package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock key only while it still holds our token, so
// a lock that expired and was re-acquired by another tick is never released
// from under it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// JobLock is a best-effort advisory lock keyed by job name, held for the
// duration of one tick. It keeps overlapping invocations of the same periodic
// job from materializing the same rules concurrently; the compare-and-set on
// last_sent_at remains the authoritative guard if the lock expires mid-tick.
type JobLock struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewJobLock creates a job lock with the given hold TTL.
func NewJobLock(client *Client, logger *zap.Logger, ttl time.Duration) *JobLock {
	return &JobLock{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Acquire attempts to take the lock for the named job. On success it returns
// a release func and true. A held lock returns (nil, false, nil).
func (l *JobLock) Acquire(ctx context.Context, job string) (func(context.Context), bool, error) {
	key := fmt.Sprintf("joblock:%s", job)
	token := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		l.logger.Debug("job lock held elsewhere", zap.String("job", job))
		return nil, false, nil
	}

	release := func(ctx context.Context) {
		if err := releaseScript.Run(ctx, l.client.rdb, []string{key}, token).Err(); err != nil {
			l.logger.Warn("failed to release job lock",
				zap.Error(err),
				zap.String("job", job),
			)
		}
	}
	return release, true, nil
}
