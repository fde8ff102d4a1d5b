package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dallo7/korosho/pkg/cache"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/google/uuid"
)

// Leaser grants exclusive ownership of a batch's payment pipeline.
type Leaser interface {
	// Acquire returns ErrPipelineInFlight when another run holds the lease.
	Acquire(ctx context.Context, batchID int64) (release func(), err error)
}

// MemoryLeaser is a process-local Leaser.
type MemoryLeaser struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func NewMemoryLeaser() *MemoryLeaser {
	return &MemoryLeaser{held: make(map[int64]struct{})}
}

func (l *MemoryLeaser) Acquire(ctx context.Context, batchID int64) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[batchID]; busy {
		return nil, errors.ErrPipelineInFlight
	}
	l.held[batchID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, batchID)
			l.mu.Unlock()
		})
	}, nil
}

// RedisLeaser holds leases in Redis with SET NX so that several portal
// instances never run the same batch. Leases expire after ttl in case the
// holder dies.
type RedisLeaser struct {
	cache *cache.RedisCache
	ttl   time.Duration
}

func NewRedisLeaser(c *cache.RedisCache, ttl time.Duration) *RedisLeaser {
	return &RedisLeaser{cache: c, ttl: ttl}
}

func (l *RedisLeaser) Acquire(ctx context.Context, batchID int64) (func(), error) {
	key := fmt.Sprintf("batch:lease:%d", batchID)
	token := uuid.NewString()

	ok, err := l.cache.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return nil, errors.Persistence("batch.AcquireLease", err)
	}
	if !ok {
		return nil, errors.ErrPipelineInFlight
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = l.cache.ReleaseIfOwner(releaseCtx, key, token)
	}, nil
}
