// Package middleware provides shared HTTP middleware utilities.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dallo7/korosho/pkg/cache"
	"github.com/dallo7/korosho/pkg/errors"
)

// CapturedResponse is a replayable response body and status.
type CapturedResponse struct {
	Status  int               `json:"status"`
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// IdempotencyStore holds in-flight locks and finished responses per key.
type IdempotencyStore interface {
	Lock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string)
	Load(ctx context.Context, key string) (*CapturedResponse, bool)
	Save(ctx context.Context, key string, resp *CapturedResponse, ttl time.Duration) error
}

// IdempotencyMiddleware replays the first response for repeated
// Idempotency-Key values on unsafe methods. Requests without the header pass
// through unchanged.
type IdempotencyMiddleware struct {
	store IdempotencyStore
	ttl   time.Duration
	wait  time.Duration
}

// NewIdempotencyMiddleware constructs an IdempotencyMiddleware with a TTL.
func NewIdempotencyMiddleware(store IdempotencyStore, ttl time.Duration) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{store: store, ttl: ttl, wait: 5 * time.Second}
}

func (m *IdempotencyMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete) {
			next.ServeHTTP(w, r)
			return
		}

		scope := "anonymous"
		if accountID, ok := AccountIDFromContext(r.Context()); ok {
			scope = accountID.String()
		}
		dataKey := fmt.Sprintf("idempotency:data:%s:%s:%s", scope, r.Method, key)
		lockKey := fmt.Sprintf("idempotency:lock:%s:%s:%s", scope, r.Method, key)

		if m.replay(w, r, dataKey) {
			return
		}

		owner := RequestIDFromContext(r.Context())
		if owner == "" {
			owner = key
		}
		ok, err := m.store.Lock(r.Context(), lockKey, owner, m.ttl)
		if err != nil {
			jsonError(w, http.StatusServiceUnavailable, "Idempotency store unavailable")
			return
		}
		if !ok {
			// Another request with this key is in flight; wait for its response.
			deadline := time.Now().Add(m.wait)
			for time.Now().Before(deadline) {
				time.Sleep(100 * time.Millisecond)
				if m.replay(w, r, dataKey) {
					return
				}
			}
			jsonError(w, http.StatusConflict, errors.ErrDuplicateRequest.Error())
			return
		}
		defer m.store.Unlock(context.Background(), lockKey, owner)

		cw := newCaptureWriter(w, 1<<20)
		next.ServeHTTP(cw, r)

		// Server-side failures are not cached so the client may retry.
		if cw.status == 0 || cw.status >= http.StatusInternalServerError || len(cw.buf) == 0 {
			return
		}
		_ = m.store.Save(r.Context(), dataKey, &CapturedResponse{
			Status:  cw.status,
			Body:    cw.buf,
			Headers: cw.headers,
		}, m.ttl)
	})
}

func (m *IdempotencyMiddleware) replay(w http.ResponseWriter, r *http.Request, dataKey string) bool {
	cr, ok := m.store.Load(r.Context(), dataKey)
	if !ok {
		return false
	}
	for k, v := range cr.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cr.Status)
	_, _ = w.Write(cr.Body)
	return true
}

// RedisIdempotencyStore keeps idempotency state in Redis.
type RedisIdempotencyStore struct {
	cache *cache.RedisCache
}

func NewRedisIdempotencyStore(c *cache.RedisCache) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{cache: c}
}

func (s *RedisIdempotencyStore) Lock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return s.cache.SetNX(ctx, key, owner, ttl)
}

func (s *RedisIdempotencyStore) Unlock(ctx context.Context, key, owner string) {
	_, _ = s.cache.ReleaseIfOwner(ctx, key, owner)
}

func (s *RedisIdempotencyStore) Load(ctx context.Context, key string) (*CapturedResponse, bool) {
	var cr CapturedResponse
	if err := s.cache.Get(ctx, key, &cr); err != nil {
		return nil, false
	}
	return &cr, true
}

func (s *RedisIdempotencyStore) Save(ctx context.Context, key string, resp *CapturedResponse, ttl time.Duration) error {
	return s.cache.Set(ctx, key, resp, ttl)
}

// MemoryIdempotencyStore is a process-local IdempotencyStore.
type MemoryIdempotencyStore struct {
	mu        sync.Mutex
	locks     map[string]string
	responses map[string]memoryResponse
	now       func() time.Time
}

type memoryResponse struct {
	resp      *CapturedResponse
	expiresAt time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		locks:     make(map[string]string),
		responses: make(map[string]memoryResponse),
		now:       time.Now,
	}
}

func (s *MemoryIdempotencyStore) Lock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[key]; held {
		return false, nil
	}
	s.locks[key] = owner
	return true, nil
}

func (s *MemoryIdempotencyStore) Unlock(ctx context.Context, key, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[key] == owner {
		delete(s.locks, key)
	}
}

func (s *MemoryIdempotencyStore) Load(ctx context.Context, key string) (*CapturedResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.responses[key]
	if !ok {
		return nil, false
	}
	if s.now().After(e.expiresAt) {
		delete(s.responses, key)
		return nil, false
	}
	return e.resp, true
}

func (s *MemoryIdempotencyStore) Save(ctx context.Context, key string, resp *CapturedResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[key] = memoryResponse{resp: resp, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.responses {
		if now.After(e.expiresAt) {
			delete(s.responses, key)
			removed++
		}
	}
	return removed
}

type captureWriter struct {
	http.ResponseWriter
	buf     []byte
	limit   int
	status  int
	headers map[string]string
}

func newCaptureWriter(w http.ResponseWriter, limit int) *captureWriter {
	return &captureWriter{
		ResponseWriter: w,
		buf:            make([]byte, 0, 1024),
		limit:          limit,
		headers:        make(map[string]string),
	}
}

func (w *captureWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	for k, v := range w.ResponseWriter.Header() {
		if len(v) > 0 {
			w.headers[k] = v[0]
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if space := w.limit - len(w.buf); space > 0 {
		n := len(p)
		if n > space {
			n = space
		}
		w.buf = append(w.buf, p[:n]...)
	}
	return w.ResponseWriter.Write(p)
}
