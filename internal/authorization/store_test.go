package authorization

import (
	"context"
	"testing"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/cache"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	s := &domain.AuthorizationSession{ID: uuid.New(), Step: domain.StepPIN, PINBuffer: "12"}
	require.NoError(t, store.Save(ctx, s))

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "12", got.PINBuffer)

	// returned sessions are copies
	got.PINBuffer = "999"
	again, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "12", again.PINBuffer)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)
}

func TestMemorySessionStore_Sweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, &domain.AuthorizationSession{ID: uuid.New(), Step: domain.StepPassphrase}))
	assert.Equal(t, 0, store.Sweep(now))

	now = now.Add(30 * time.Second)
	fresh := &domain.AuthorizationSession{ID: uuid.New(), Step: domain.StepPassphrase}
	require.NoError(t, store.Save(ctx, fresh))

	assert.Equal(t, 1, store.Sweep(now.Add(45*time.Second)))
	_, err := store.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestMemoryLimiter_WindowResets(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(3, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	id := uuid.New()

	for i := 0; i < 2; i++ {
		locked, err := l.Fail(ctx, id)
		require.NoError(t, err)
		assert.False(t, locked)
	}
	locked, err := l.Fail(ctx, id)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.ErrorIs(t, l.Allow(ctx, id), errors.ErrAuthorizationLocked)

	now = now.Add(time.Minute)
	assert.NoError(t, l.Allow(ctx, id))

	_, _ = l.Fail(ctx, id)
	require.NoError(t, l.Reset(ctx, id))
	assert.NoError(t, l.Allow(ctx, id))
}

func TestRedisBackedAuthorization(t *testing.T) {
	c, err := cache.NewRedisCache("localhost:6379", "", 0)
	if err != nil {
		t.Skip("Redis not available")
	}
	defer c.Close()
	ctx := context.Background()

	store := NewRedisSessionStore(c, time.Minute)
	s := &domain.AuthorizationSession{ID: uuid.New(), AccountID: uuid.New(), TargetBatchID: 3, Step: domain.StepPIN, PINBuffer: "4321"}
	require.NoError(t, store.Save(ctx, s))
	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "4321", got.PINBuffer)
	assert.Equal(t, int64(3), got.TargetBatchID)
	require.NoError(t, store.Delete(ctx, s.ID))
	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)

	limiter := NewRedisLimiter(c, 2, time.Minute)
	id := uuid.New()
	defer limiter.Reset(ctx, id)
	locked, err := limiter.Fail(ctx, id)
	require.NoError(t, err)
	assert.False(t, locked)
	locked, err = limiter.Fail(ctx, id)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.ErrorIs(t, limiter.Allow(ctx, id), errors.ErrAuthorizationLocked)
}
