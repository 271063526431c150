package ratelimit

import (
	"context"
	"time"

	"github.com/aisu-os/core/pkg/apperr"
	"github.com/redis/go-redis/v9"
)

// hitScript increments the window counter and sets its TTL on first hit, so
// the counter and its expiry are updated atomically.
const hitScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

// RedisLimiter is the shared-counter backend: fixed windows counted with
// INCR + EXPIRE so multiple processes share one budget.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
}

// NewRedisLimiter creates a limiter backed by the given Redis URL.
func NewRedisLimiter(redisURL string) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisLimiter{
		client: redis.NewClient(opts),
		script: redis.NewScript(hitScript),
	}, nil
}

func (l *RedisLimiter) Hit(ctx context.Context, key string, limit int, window time.Duration) error {
	seconds := int(window / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	result, err := l.script.Run(ctx, l.client, []string{key}, seconds).Int64()
	if err != nil {
		// Fail closed: a dead backend must not silently over-admit.
		return apperr.Wrap(err, apperr.Unavailable, "Rate limiter unavailable")
	}

	if result > int64(limit) {
		return apperr.New(apperr.RateLimited, "Rate limit exceeded")
	}
	return nil
}

// Close releases the underlying client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
