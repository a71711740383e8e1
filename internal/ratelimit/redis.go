package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces rate limit keys inside a Redis database shared with
// other subsystems.
const keyPrefix = "rl:"

// RedisCounter implements Counter against a shared Redis instance. The
// increment is a single INCR, atomic at the store, so correctness under
// concurrency needs no client-side coordination. Every command runs under a
// bounded timeout; a slow or absent store surfaces as an error that the
// engine treats as a signal to fall back locally.
type RedisCounter struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisCounter wraps an existing client. timeout bounds each store
// round trip; zero means 250ms.
func NewRedisCounter(client *redis.Client, timeout time.Duration) *RedisCounter {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &RedisCounter{client: client, timeout: timeout}
}

// Incr atomically increments the counter for key. The first increment in a
// window attaches the window expiry; subsequent increments inherit the
// existing TTL so the window end stays fixed.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	key = keyPrefix + key

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("counter incr %s: %w", key, err)
	}

	count := incr.Val()
	ttl := pttl.Val()

	// PTTL reports a negative duration for keys without an expiry. That
	// covers both the first increment of a window and keys that lost their
	// TTL (e.g. a Redis restart restoring an RDB snapshot without expiries).
	if count == 1 || ttl < 0 {
		if err := c.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("counter expire %s: %w", key, err)
		}
		ttl = window
	}

	return count, ttl, nil
}

// Ping verifies the store is reachable, for health reporting.
func (c *RedisCounter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}
