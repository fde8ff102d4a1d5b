package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"
	"github.com/dallo7/korosho/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBookRepository struct {
	mock.Mock
}

func (m *MockBookRepository) ListInvoices(ctx context.Context, status domain.InvoiceStatus) ([]domain.Invoice, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Invoice), args.Error(1)
}

func (m *MockBookRepository) GetInvoiceByBatch(ctx context.Context, batchID int64) (*domain.Invoice, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Invoice), args.Error(1)
}

func (m *MockBookRepository) MarkInvoicePaid(ctx context.Context, batchID int64, paidAt time.Time) error {
	args := m.Called(ctx, batchID, paidAt)
	return args.Error(0)
}

func (m *MockBookRepository) ListHistory(ctx context.Context) ([]domain.PaymentHistoryEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PaymentHistoryEntry), args.Error(1)
}

func (m *MockBookRepository) PaidTotals(ctx context.Context) (decimal.Decimal, int, error) {
	args := m.Called(ctx)
	return args.Get(0).(decimal.Decimal), args.Int(1), args.Error(2)
}

func (m *MockBookRepository) CountBatches(ctx context.Context, statuses ...domain.BatchStatus) (int, error) {
	args := m.Called(ctx, statuses)
	return args.Int(0), args.Error(1)
}

func (m *MockBookRepository) CountCooperativeAccounts(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockBookRepository) ListActivity(ctx context.Context, limit int) ([]domain.ActivityLog, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ActivityLog), args.Error(1)
}

func sampleInvoices() []domain.Invoice {
	commission := decimal.RequireFromString("10.00")
	return []domain.Invoice{
		{BatchID: 2, AmountUSD: decimal.RequireFromString("150.00"), Status: domain.InvoiceUnpaid},
		{BatchID: 1, AmountUSD: decimal.RequireFromString("4.50"), Status: domain.InvoicePaid, CommissionUSD: &commission},
	}
}

func TestBook_Invoices(t *testing.T) {
	repo := new(MockBookRepository)
	book := NewBook(repo, logger.NewNop())
	ctx := context.Background()

	repo.On("ListInvoices", ctx, domain.InvoiceStatus("")).Return(sampleInvoices(), nil)

	list, err := book.Invoices(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list.Invoices, 2)
	assert.Equal(t, "150.00", list.UnpaidTotal.StringFixed(2))
	assert.Equal(t, "10.00", list.CommissionTotal.StringFixed(2))

	_, err = book.Invoices(ctx, "overdue")
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	repo.AssertExpectations(t)
}

func TestBook_MarkPaid(t *testing.T) {
	ctx := context.Background()

	t.Run("unpaid invoice", func(t *testing.T) {
		repo := new(MockBookRepository)
		book := NewBook(repo, logger.NewNop())
		paidAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
		book.now = func() time.Time { return paidAt }

		inv := &domain.Invoice{BatchID: 7, Reference: "LMCU-0001-2025", AmountUSD: decimal.RequireFromString("3.00"), Status: domain.InvoiceUnpaid}
		repo.On("GetInvoiceByBatch", ctx, int64(7)).Return(inv, nil)
		repo.On("MarkInvoicePaid", ctx, int64(7), paidAt).Return(nil)

		got, err := book.MarkPaid(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, domain.InvoicePaid, got.Status)
		require.NotNil(t, got.PaymentDate)
		assert.Equal(t, paidAt, *got.PaymentDate)
		repo.AssertExpectations(t)
	})

	t.Run("already paid", func(t *testing.T) {
		repo := new(MockBookRepository)
		book := NewBook(repo, logger.NewNop())
		repo.On("GetInvoiceByBatch", ctx, int64(7)).Return(&domain.Invoice{BatchID: 7, Status: domain.InvoicePaid}, nil)

		_, err := book.MarkPaid(ctx, 7)
		assert.ErrorIs(t, err, errors.ErrInvoiceAlreadyPaid)
		repo.AssertNotCalled(t, "MarkInvoicePaid", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing invoice", func(t *testing.T) {
		repo := new(MockBookRepository)
		book := NewBook(repo, logger.NewNop())
		repo.On("GetInvoiceByBatch", ctx, int64(9)).Return(nil, errors.ErrInvoiceNotFound)

		_, err := book.MarkPaid(ctx, 9)
		assert.ErrorIs(t, err, errors.ErrInvoiceNotFound)
		assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
	})
}

func TestBook_History(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	first := NewHistoryEntry(&domain.Batch{ID: 1, CooperativeName: "CORECU Ltd", RecordCount: 3, TotalAmount: decimal.NewFromInt(300000)}, 3, 0, "", at)
	second := NewHistoryEntry(&domain.Batch{ID: 2, CooperativeName: "LMCU", RecordCount: 2, TotalAmount: decimal.NewFromInt(50000)}, 1, 1, first.Hash, at.Add(time.Hour))

	t.Run("intact chain", func(t *testing.T) {
		repo := new(MockBookRepository)
		book := NewBook(repo, logger.NewNop())
		repo.On("ListHistory", ctx).Return([]domain.PaymentHistoryEntry{*first, *second}, nil)

		entries, err := book.History(ctx)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("tampered entry", func(t *testing.T) {
		repo := new(MockBookRepository)
		book := NewBook(repo, logger.NewNop())
		tampered := *second
		tampered.PaidCount = 2
		repo.On("ListHistory", ctx).Return([]domain.PaymentHistoryEntry{*first, tampered}, nil)

		_, err := book.History(ctx)
		assert.ErrorIs(t, err, errors.ErrHistoryChainBroken)
	})
}

func TestBook_Dashboard(t *testing.T) {
	repo := new(MockBookRepository)
	book := NewBook(repo, logger.NewNop())
	ctx := context.Background()

	repo.On("PaidTotals", ctx).Return(decimal.NewFromInt(1250000), 42, nil)
	repo.On("CountBatches", ctx, []domain.BatchStatus{
		domain.BatchStatusCoopSubmitted, domain.BatchStatusPendingAdminApproval, domain.BatchStatusVerified,
	}).Return(3, nil)
	repo.On("CountCooperativeAccounts", ctx).Return(12, nil)
	repo.On("ListInvoices", ctx, domain.InvoiceStatus("")).Return(sampleInvoices(), nil)

	kpi, err := book.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1250000", kpi.TotalPaidAmount.String())
	assert.Equal(t, 42, kpi.FarmersPaid)
	assert.Equal(t, 3, kpi.BatchesInQueues)
	assert.Equal(t, 12, kpi.CooperativeUsers)
	assert.Equal(t, "150.00", kpi.UnpaidInvoiceTotal.StringFixed(2))
	assert.Equal(t, "10.00", kpi.CommissionTotal.StringFixed(2))
}

func TestBook_Dashboard_PersistenceFailure(t *testing.T) {
	repo := new(MockBookRepository)
	book := NewBook(repo, logger.NewNop())
	ctx := context.Background()

	repo.On("PaidTotals", ctx).Return(decimal.Zero, 0, errors.New("connection reset"))

	_, err := book.Dashboard(ctx)
	assert.Equal(t, errors.KindPersistence, errors.KindOf(err))
}

func TestBook_ActivityLimit(t *testing.T) {
	repo := new(MockBookRepository)
	book := NewBook(repo, logger.NewNop())
	ctx := context.Background()

	repo.On("ListActivity", ctx, 100).Return([]domain.ActivityLog{{Action: domain.ActionLogin}}, nil).Twice()
	repo.On("ListActivity", ctx, 20).Return([]domain.ActivityLog{}, nil).Once()

	_, err := book.Activity(ctx, 0)
	require.NoError(t, err)
	_, err = book.Activity(ctx, 10000)
	require.NoError(t, err)
	_, err = book.Activity(ctx, 20)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}
