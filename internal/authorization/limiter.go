package authorization

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dallo7/korosho/pkg/cache"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/google/uuid"
)

// Limiter counts failed passphrase and PIN attempts per account within a
// fixed window.
type Limiter interface {
	// Allow returns ErrAuthorizationLocked while the account is locked out.
	Allow(ctx context.Context, accountID uuid.UUID) error
	// Fail records a failure and reports whether the account is now locked.
	Fail(ctx context.Context, accountID uuid.UUID) (bool, error)
	Reset(ctx context.Context, accountID uuid.UUID) error
}

// NopLimiter never locks anyone out.
type NopLimiter struct{}

func (NopLimiter) Allow(context.Context, uuid.UUID) error        { return nil }
func (NopLimiter) Fail(context.Context, uuid.UUID) (bool, error) { return false, nil }
func (NopLimiter) Reset(context.Context, uuid.UUID) error        { return nil }

type window struct {
	count int
	start time.Time
}

// MemoryLimiter is a process-local Limiter.
type MemoryLimiter struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	failures map[uuid.UUID]*window
	now      func() time.Time
}

// NewMemoryLimiter locks an account after maxFailures failures within win.
func NewMemoryLimiter(maxFailures int, win time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:      maxFailures,
		window:   win,
		failures: make(map[uuid.UUID]*window),
		now:      time.Now,
	}
}

func (l *MemoryLimiter) current(accountID uuid.UUID) *window {
	w, ok := l.failures[accountID]
	if !ok {
		return nil
	}
	if l.now().Sub(w.start) >= l.window {
		delete(l.failures, accountID)
		return nil
	}
	return w
}

func (l *MemoryLimiter) Allow(ctx context.Context, accountID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w := l.current(accountID); w != nil && w.count >= l.max {
		return errors.ErrAuthorizationLocked
	}
	return nil
}

func (l *MemoryLimiter) Fail(ctx context.Context, accountID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.current(accountID)
	if w == nil {
		w = &window{start: l.now()}
		l.failures[accountID] = w
	}
	w.count++
	return w.count >= l.max, nil
}

func (l *MemoryLimiter) Reset(ctx context.Context, accountID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, accountID)
	return nil
}

// RedisLimiter shares failure counts across instances using INCR and EXPIRE.
type RedisLimiter struct {
	cache  *cache.RedisCache
	max    int
	window time.Duration
}

func NewRedisLimiter(c *cache.RedisCache, maxFailures int, win time.Duration) *RedisLimiter {
	return &RedisLimiter{cache: c, max: maxFailures, window: win}
}

func limiterKey(accountID uuid.UUID) string {
	return fmt.Sprintf("authz:failures:%s", accountID.String())
}

func (l *RedisLimiter) Allow(ctx context.Context, accountID uuid.UUID) error {
	var count int64
	if err := l.cache.Get(ctx, limiterKey(accountID), &count); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil
		}
		return errors.Persistence("authorization.Allow", err)
	}
	if count >= int64(l.max) {
		return errors.ErrAuthorizationLocked
	}
	return nil
}

func (l *RedisLimiter) Fail(ctx context.Context, accountID uuid.UUID) (bool, error) {
	key := limiterKey(accountID)
	count, err := l.cache.Increment(ctx, key)
	if err != nil {
		return false, errors.Persistence("authorization.Fail", err)
	}
	if count == 1 {
		if err := l.cache.Expire(ctx, key, l.window); err != nil {
			return false, errors.Persistence("authorization.Fail", err)
		}
	}
	return count >= int64(l.max), nil
}

func (l *RedisLimiter) Reset(ctx context.Context, accountID uuid.UUID) error {
	if err := l.cache.Delete(ctx, limiterKey(accountID)); err != nil {
		return errors.Persistence("authorization.Reset", err)
	}
	return nil
}
