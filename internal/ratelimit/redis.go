package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces rate counters in the shared store.
const keyPrefix = "rl:"

// RedisLimiter is a fixed-window limiter backed by a Redis counter, so
// the window is shared across every relay instance and survives an
// instance restart.
type RedisLimiter struct {
	client *redis.Client
	rule   Rule
}

// NewRedisLimiter creates a limiter using the given client and rule.
func NewRedisLimiter(client *redis.Client, rule Rule) *RedisLimiter {
	return &RedisLimiter{client: client, rule: rule}
}

// Allow increments the identity's counter with INCR and, on the first
// increment of a window, sets the key's expiry to define the window
// boundary. INCR is atomic in Redis, so concurrent senders for the same
// identity cannot both observe count == limit and slip past the bound.
func (l *RedisLimiter) Allow(ctx context.Context, identity string) (bool, error) {
	key := keyPrefix + identity

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate counter increment failed: %w", err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, l.rule.Window).Err(); err != nil {
			// The key exists without a TTL and would throttle the identity
			// forever. Best effort: delete it before surfacing the failure.
			l.client.Del(ctx, key)
			return false, fmt.Errorf("rate window expiry failed: %w", err)
		}
	}

	return int(count) <= l.rule.Limit, nil
}
