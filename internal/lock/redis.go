// Package lock provides the two mutual-exclusion primitives: a
// Redis-backed distributed lock with TTL, and a flock-based file lock
// for single-instance enforcement.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired covers every lock-unavailable condition: held by
// another owner, expired before release, or value mismatch on release.
var ErrNotAcquired = errors.New("lock not acquired")

// DistributedLock is a Redis SET NX EX mutex. The value binds the lock
// to this instance so only the owner may release it.
type DistributedLock struct {
	client  *redis.Client
	key     string
	value   string
	timeout time.Duration
	logger  *slog.Logger

	acquired bool
}

// NewDistributedLock creates a lock for one purpose/id pair. The key
// is "{purpose}_lock:{id}".
func NewDistributedLock(client *redis.Client, purpose, id string, timeout time.Duration, logger *slog.Logger) *DistributedLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &DistributedLock{
		client:  client,
		key:     fmt.Sprintf("%s_lock:%s", purpose, id),
		value:   fmt.Sprintf("%d:%s", os.Getpid(), uuid.NewString()),
		timeout: timeout,
		logger:  logger,
	}
}

// Key returns the Redis key the lock occupies.
func (l *DistributedLock) Key() string { return l.key }

// Acquire attempts to take the lock. A lock held elsewhere returns
// ErrNotAcquired.
func (l *DistributedLock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.timeout).Result()
	if err != nil {
		return fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return fmt.Errorf("acquire %s: %w", l.key, ErrNotAcquired)
	}

	l.acquired = true
	l.logger.Debug("lock acquired", "key", l.key, "ttl", l.timeout)
	return nil
}

// Release frees the lock only when this instance still owns it. An
// expired or stolen lock returns ErrNotAcquired without mutating
// Redis; the caller must know the mutual-exclusion contract broke.
func (l *DistributedLock) Release(ctx context.Context) error {
	current, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		l.acquired = false
		return fmt.Errorf("release %s: lock expired: %w", l.key, ErrNotAcquired)
	}
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if current != l.value {
		l.acquired = false
		return fmt.Errorf("release %s: held by another owner: %w", l.key, ErrNotAcquired)
	}

	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	l.acquired = false
	l.logger.Debug("lock released", "key", l.key)
	return nil
}

// Held reports whether this instance believes it owns the lock.
func (l *DistributedLock) Held() bool { return l.acquired }

// WithLock runs fn under the lock, releasing it on every exit path.
// A release failure after a successful fn surfaces as the returned
// error.
func (l *DistributedLock) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}

	fnErr := fn(ctx)
	relErr := l.Release(ctx)

	if fnErr != nil {
		if relErr != nil {
			l.logger.Warn("release failed after callback error",
				"key", l.key,
				"release_error", relErr,
			)
		}
		return fnErr
	}
	return relErr
}
