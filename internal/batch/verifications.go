package batch

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

// VerificationRun is the server-held result of an uploader pass. Only rows
// from a run can be finalized into a batch.
type VerificationRun struct {
	Token     uuid.UUID           `json:"token"`
	AccountID uuid.UUID           `json:"account_id"`
	Rows      []domain.PaymentRow `json:"rows"`
	CreatedAt time.Time           `json:"created_at"`
}

// VerificationStore keeps verification runs until they are submitted or
// expire.
type VerificationStore interface {
	Save(ctx context.Context, run *VerificationRun) error
	Get(ctx context.Context, token uuid.UUID) (*VerificationRun, error)
	// Take removes and returns the run; only one caller wins a token.
	Take(ctx context.Context, token uuid.UUID) (*VerificationRun, error)
}

type verificationEntry struct {
	run       VerificationRun
	expiresAt time.Time
}

// MemoryVerificationStore keeps runs in process memory.
type MemoryVerificationStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]verificationEntry
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryVerificationStore returns a store whose runs expire after ttl.
// A zero ttl never expires.
func NewMemoryVerificationStore(ttl time.Duration) *MemoryVerificationStore {
	return &MemoryVerificationStore{
		runs: make(map[uuid.UUID]verificationEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (s *MemoryVerificationStore) Save(ctx context.Context, run *VerificationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = s.now().Add(s.ttl)
	}
	stored := *run
	stored.Rows = append([]domain.PaymentRow(nil), run.Rows...)
	s.runs[run.Token] = verificationEntry{run: stored, expiresAt: expiresAt}
	return nil
}

func (s *MemoryVerificationStore) Get(ctx context.Context, token uuid.UUID) (*VerificationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(token)
}

func (s *MemoryVerificationStore) Take(ctx context.Context, token uuid.UUID) (*VerificationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.lookup(token)
	if err != nil {
		return nil, err
	}
	delete(s.runs, token)
	return run, nil
}

// lookup must be called with mu held.
func (s *MemoryVerificationStore) lookup(token uuid.UUID) (*VerificationRun, error) {
	entry, ok := s.runs[token]
	if !ok {
		return nil, errors.ErrVerificationNotFound
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		delete(s.runs, token)
		return nil, errors.ErrVerificationNotFound
	}
	run := entry.run
	run.Rows = append([]domain.PaymentRow(nil), entry.run.Rows...)
	return &run, nil
}

// Sweep drops runs that were never submitted.
func (s *MemoryVerificationStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, entry := range s.runs {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(s.runs, token)
			removed++
		}
	}
	return removed
}

// RedisVerificationStore shares runs across portal instances.
type RedisVerificationStore struct {
	cache *cache.RedisCache
	ttl   time.Duration
}

func NewRedisVerificationStore(c *cache.RedisCache, ttl time.Duration) *RedisVerificationStore {
	return &RedisVerificationStore{cache: c, ttl: ttl}
}

func verificationKey(token uuid.UUID) string {
	return fmt.Sprintf("batch:verification:%s", token.String())
}

func (s *RedisVerificationStore) Save(ctx context.Context, run *VerificationRun) error {
	if err := s.cache.Set(ctx, verificationKey(run.Token), run, s.ttl); err != nil {
		return errors.Persistence("batch.SaveVerification", err)
	}
	return nil
}

func (s *RedisVerificationStore) Get(ctx context.Context, token uuid.UUID) (*VerificationRun, error) {
	var run VerificationRun
	if err := s.cache.Get(ctx, verificationKey(token), &run); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, errors.ErrVerificationNotFound
		}
		return nil, errors.Persistence("batch.GetVerification", err)
	}
	return &run, nil
}

func (s *RedisVerificationStore) Take(ctx context.Context, token uuid.UUID) (*VerificationRun, error) {
	var run VerificationRun
	if err := s.cache.GetDel(ctx, verificationKey(token), &run); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, errors.ErrVerificationNotFound
		}
		return nil, errors.Persistence("batch.TakeVerification", err)
	}
	return &run, nil
}
