package authorization

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/cache"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/google/uuid"
)

// SessionStore keeps in-flight authorization sessions. Sessions are never
// written to the relational store.
type SessionStore interface {
	Save(ctx context.Context, session *domain.AuthorizationSession) error
	Get(ctx context.Context, id uuid.UUID) (*domain.AuthorizationSession, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type memoryEntry struct {
	session   domain.AuthorizationSession
	expiresAt time.Time
}

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]memoryEntry
	ttl      time.Duration
	now      func() time.Time
}

// NewMemorySessionStore returns a store whose sessions expire after ttl.
// A zero ttl never expires.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[uuid.UUID]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemorySessionStore) Save(ctx context.Context, session *domain.AuthorizationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = s.now().Add(s.ttl)
	}
	s.sessions[session.ID] = memoryEntry{session: *session, expiresAt: expiresAt}
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, id uuid.UUID) (*domain.AuthorizationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		delete(s.sessions, id)
		return nil, errors.ErrSessionNotFound
	}
	session := entry.session
	return &session, nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Sweep drops abandoned sessions past their ttl.
func (s *MemorySessionStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.sessions {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// storedSession is the Redis representation; it keeps the PIN buffer that
// the domain type hides from JSON clients.
type storedSession struct {
	ID             uuid.UUID                `json:"id"`
	AccountID      uuid.UUID                `json:"account_id"`
	TargetBatchID  int64                    `json:"target_batch_id"`
	Step           domain.AuthorizationStep `json:"step"`
	PINBuffer      string                   `json:"pin_buffer"`
	FailedAttempts int                      `json:"failed_attempts"`
	CreatedAt      time.Time                `json:"created_at"`
}

// RedisSessionStore shares sessions across portal instances.
type RedisSessionStore struct {
	cache *cache.RedisCache
	ttl   time.Duration
}

func NewRedisSessionStore(c *cache.RedisCache, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{cache: c, ttl: ttl}
}

func sessionKey(id uuid.UUID) string {
	return fmt.Sprintf("authz:session:%s", id.String())
}

func (s *RedisSessionStore) Save(ctx context.Context, session *domain.AuthorizationSession) error {
	rec := storedSession{
		ID:             session.ID,
		AccountID:      session.AccountID,
		TargetBatchID:  session.TargetBatchID,
		Step:           session.Step,
		PINBuffer:      session.PINBuffer,
		FailedAttempts: session.FailedAttempts,
		CreatedAt:      session.CreatedAt,
	}
	if err := s.cache.Set(ctx, sessionKey(session.ID), rec, s.ttl); err != nil {
		return errors.Persistence("authorization.SaveSession", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, id uuid.UUID) (*domain.AuthorizationSession, error) {
	var rec storedSession
	if err := s.cache.Get(ctx, sessionKey(id), &rec); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, errors.ErrSessionNotFound
		}
		return nil, errors.Persistence("authorization.GetSession", err)
	}
	return &domain.AuthorizationSession{
		ID:             rec.ID,
		AccountID:      rec.AccountID,
		TargetBatchID:  rec.TargetBatchID,
		Step:           rec.Step,
		PINBuffer:      rec.PINBuffer,
		FailedAttempts: rec.FailedAttempts,
		CreatedAt:      rec.CreatedAt,
	}, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.cache.Delete(ctx, sessionKey(id)); err != nil {
		return errors.Persistence("authorization.DeleteSession", err)
	}
	return nil
}
