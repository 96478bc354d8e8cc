package limiter

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	failureKeyPrefix = "la:fail:"
	lockKeyPrefix    = "la:lock:"
)

// RedisTracker is an AttemptTracker backed by Redis so failure counters
// are shared across horizontally scaled instances. Counting relies on
// INCR with an EXPIRE set on the first failure of each window.
type RedisTracker struct {
	client *redis.Client
	config Config
}

// NewRedisTracker creates a Redis-backed tracker.
func NewRedisTracker(client *redis.Client, cfg Config) *RedisTracker {
	return &RedisTracker{client: client, config: cfg.withDefaults()}
}

// RegisterFailure increments the windowed counter and sets the lockout
// key once the threshold is crossed.
func (t *RedisTracker) RegisterFailure(ctx context.Context, identity string) (bool, error) {
	key := failureKeyPrefix + identity

	count, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("increment login failures: %w", err)
	}
	if count == 1 {
		if err := t.client.Expire(ctx, key, t.config.Window).Err(); err != nil {
			return false, fmt.Errorf("set failure window: %w", err)
		}
	}

	if count >= int64(t.config.MaxFailures) {
		if err := t.client.Set(ctx, lockKeyPrefix+identity, 1, t.config.LockoutDuration).Err(); err != nil {
			return false, fmt.Errorf("set lockout: %w", err)
		}
		return true, nil
	}

	return false, nil
}

// Locked reports whether the lockout key is present.
func (t *RedisTracker) Locked(ctx context.Context, identity string) (bool, error) {
	n, err := t.client.Exists(ctx, lockKeyPrefix+identity).Result()
	if err != nil {
		return false, fmt.Errorf("check lockout: %w", err)
	}
	return n > 0, nil
}

// Reset clears both the counter and any active lockout.
func (t *RedisTracker) Reset(ctx context.Context, identity string) error {
	if err := t.client.Del(ctx, failureKeyPrefix+identity, lockKeyPrefix+identity).Err(); err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}
	return nil
}
