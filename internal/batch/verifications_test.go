package batch

import (
	"context"
	"testing"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/cache"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRun() *VerificationRun {
	return &VerificationRun{
		Token:     uuid.New(),
		AccountID: uuid.New(),
		Rows: []domain.PaymentRow{{
			FarmerName:         "Farmer 1",
			BankName:           "NMB",
			AccountNumber:      "4000000001",
			Amount:             decimal.NewFromInt(15000),
			VerificationStatus: domain.VerificationVerified,
		}},
	}
}

func TestMemoryVerificationStore_TakeAndExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVerificationStore(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	run := testRun()
	require.NoError(t, store.Save(ctx, run))

	// returned runs are copies
	got, err := store.Get(ctx, run.Token)
	require.NoError(t, err)
	got.Rows[0].VerificationStatus = domain.VerificationFailed
	again, err := store.Get(ctx, run.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationVerified, again.Rows[0].VerificationStatus)

	taken, err := store.Take(ctx, run.Token)
	require.NoError(t, err)
	assert.Equal(t, run.AccountID, taken.AccountID)
	_, err = store.Take(ctx, run.Token)
	assert.ErrorIs(t, err, errors.ErrVerificationNotFound)

	expiring := testRun()
	require.NoError(t, store.Save(ctx, expiring))
	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, expiring.Token)
	assert.ErrorIs(t, err, errors.ErrVerificationNotFound)
}

func TestMemoryVerificationStore_Sweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVerificationStore(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, testRun()))
	assert.Equal(t, 0, store.Sweep(now))

	now = now.Add(30 * time.Second)
	fresh := testRun()
	require.NoError(t, store.Save(ctx, fresh))

	assert.Equal(t, 1, store.Sweep(now.Add(45*time.Second)))
	_, err := store.Get(ctx, fresh.Token)
	assert.NoError(t, err)
}

func TestRedisVerificationStore(t *testing.T) {
	c, err := cache.NewRedisCache("localhost:6379", "", 0)
	if err != nil {
		t.Skip("Redis not available")
	}
	defer c.Close()
	ctx := context.Background()

	store := NewRedisVerificationStore(c, time.Minute)
	run := testRun()
	require.NoError(t, store.Save(ctx, run))

	got, err := store.Get(ctx, run.Token)
	require.NoError(t, err)
	assert.Equal(t, run.AccountID, got.AccountID)
	require.Len(t, got.Rows, 1)
	assert.True(t, run.Rows[0].Amount.Equal(got.Rows[0].Amount))

	_, err = store.Take(ctx, run.Token)
	require.NoError(t, err)
	_, err = store.Take(ctx, run.Token)
	assert.ErrorIs(t, err, errors.ErrVerificationNotFound)
}
