package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/dallo7/korosho/pkg/cache"
)

// TokenBlacklist records tokens revoked by logout until they would have expired.
type TokenBlacklist interface {
	Blacklist(ctx context.Context, token string, expiration time.Duration) error
	IsBlacklisted(ctx context.Context, token string) (bool, error)
}

// RedisTokenBlacklist implements TokenBlacklist using Redis.
type RedisTokenBlacklist struct {
	cache *cache.RedisCache
}

// NewRedisTokenBlacklist creates a new RedisTokenBlacklist.
func NewRedisTokenBlacklist(c *cache.RedisCache) *RedisTokenBlacklist {
	return &RedisTokenBlacklist{cache: c}
}

// Blacklist adds a token to the blacklist with an expiration.
func (b *RedisTokenBlacklist) Blacklist(ctx context.Context, token string, expiration time.Duration) error {
	return b.cache.Set(ctx, "blacklist:"+token, "revoked", expiration)
}

// IsBlacklisted checks if a token is in the blacklist.
func (b *RedisTokenBlacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	return b.cache.Exists(ctx, "blacklist:"+token)
}

// MemoryTokenBlacklist is a process-local TokenBlacklist.
type MemoryTokenBlacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryTokenBlacklist() *MemoryTokenBlacklist {
	return &MemoryTokenBlacklist{revoked: make(map[string]time.Time), now: time.Now}
}

func (b *MemoryTokenBlacklist) Blacklist(ctx context.Context, token string, expiration time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[token] = b.now().Add(expiration)
	return nil
}

// Sweep forgets tokens whose revocation has lapsed.
func (b *MemoryTokenBlacklist) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for t, until := range b.revoked {
		if now.After(until) {
			delete(b.revoked, t)
			removed++
		}
	}
	return removed
}

func (b *MemoryTokenBlacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.revoked[token]
	return ok && b.now().Before(until), nil
}
