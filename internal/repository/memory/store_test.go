package memory

import (
	"context"
	"testing"
	"time"

	"github.com/dallo7/korosho/internal/batch"
	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedBatch(t *testing.T, s *Store) (*domain.Account, *domain.Batch) {
	t.Helper()
	ctx := context.Background()

	acc := &domain.Account{ID: uuid.New(), Username: "corecu_data", Role: domain.RoleDataUploader, CooperativeName: "CORECU Ltd"}
	require.NoError(t, s.Create(ctx, acc))

	b := &domain.Batch{
		CooperativeID:       acc.ID,
		CooperativeName:     acc.CooperativeName,
		Filename:            "march.csv",
		RecordCount:         2,
		TotalAmount:         decimal.NewFromInt(30000),
		Status:              domain.BatchStatusCoopSubmitted,
		SubmissionTimestamp: time.Now().UTC(),
	}
	require.NoError(t, s.CreateBatch(ctx, b))
	require.NoError(t, s.InsertRows(ctx, b.ID, []domain.PaymentRow{
		{FarmerName: "Asha", BankName: "NMB", AccountNumber: "1001", Amount: decimal.NewFromInt(10000), SettlementStatus: domain.SettlementPending},
		{FarmerName: "Juma", BankName: "CRDB", AccountNumber: "1002", Amount: decimal.NewFromInt(20000), SettlementStatus: domain.SettlementPending},
	}))
	return acc, b
}

func TestStore_Accounts(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	acc, _ := seedBatch(t, s)

	err := s.Create(ctx, &domain.Account{Username: acc.Username})
	assert.ErrorIs(t, err, errors.ErrAccountAlreadyExists)

	found, err := s.FindByUsername(ctx, "corecu_data")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, found.ID)

	_, err = s.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, errors.ErrAccountNotFound)

	temp := "CORECU12345"
	require.NoError(t, s.Create(ctx, &domain.Account{Username: "corecu_finance", Role: domain.RoleFinanceApprover, CooperativeName: "CORECU Ltd", TempPassword: &temp}))
	approver, err := s.FindByUsername(ctx, "corecu_finance")
	require.NoError(t, err)
	require.NoError(t, s.UpdateCredentials(ctx, approver.ID, "pw", "pp", "pin"))

	approver, err = s.FindByID(ctx, approver.ID)
	require.NoError(t, err)
	assert.Nil(t, approver.TempPassword)
	assert.Equal(t, "pp", *approver.PassphraseHash)

	n, err := s.CountCooperativeAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_TransitionStatusIsConditional(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, b := seedBatch(t, s)

	require.NoError(t, s.TransitionStatus(ctx, b.ID, domain.BatchStatusCoopSubmitted, domain.BatchStatusPendingAdminApproval))

	err := s.TransitionStatus(ctx, b.ID, domain.BatchStatusCoopSubmitted, domain.BatchStatusPendingAdminApproval)
	assert.ErrorIs(t, err, errors.ErrBatchStatusConflict)

	err = s.TransitionStatus(ctx, b.ID, domain.BatchStatusPendingAdminApproval, domain.BatchStatusProcessed)
	assert.ErrorIs(t, err, errors.ErrBatchStatusConflict, "statuses cannot be skipped")

	err = s.TransitionStatus(ctx, 999, domain.BatchStatusCoopSubmitted, domain.BatchStatusPendingAdminApproval)
	assert.ErrorIs(t, err, errors.ErrBatchNotFound)
}

func TestStore_WithinTxRollsBack(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	acc, b := seedBatch(t, s)
	boom := errors.New("disk full")

	err := s.WithinTx(ctx, func(repo batch.Repository) error {
		if err := repo.TransitionStatus(ctx, b.ID, domain.BatchStatusCoopSubmitted, domain.BatchStatusPendingAdminApproval); err != nil {
			return err
		}
		if err := repo.RecordActivity(ctx, &domain.ActivityLog{AccountID: &acc.ID, Action: domain.ActionPaymentAuthorized}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCoopSubmitted, got.Status)

	activity, err := s.ListActivity(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, activity)
}

func TestStore_WithinTxCommits(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, b := seedBatch(t, s)

	err := s.WithinTx(ctx, func(repo batch.Repository) error {
		locked, err := repo.LockBatch(ctx, b.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, domain.BatchStatusCoopSubmitted, locked.Status)
		return repo.TransitionStatus(ctx, b.ID, domain.BatchStatusCoopSubmitted, domain.BatchStatusPendingAdminApproval)
	})
	require.NoError(t, err)

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusPendingAdminApproval, got.Status)
}

func TestStore_FailOn(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, b := seedBatch(t, s)
	boom := errors.New("connection refused")

	s.FailOn("AppendHistory", boom)
	err := s.WithinTx(ctx, func(repo batch.Repository) error {
		return repo.AppendHistory(ctx, &domain.PaymentHistoryEntry{BatchID: b.ID})
	})
	assert.ErrorIs(t, err, boom)

	s.FailOn("AppendHistory", nil)
	require.NoError(t, s.AppendHistory(ctx, &domain.PaymentHistoryEntry{BatchID: b.ID, Hash: "abc"}))

	h, err := s.LastHistoryHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", h)

	err = s.AppendHistory(ctx, &domain.PaymentHistoryEntry{BatchID: b.ID})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestStore_RowSettlementIsSetOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, b := seedBatch(t, s)

	rows, err := s.ListRows(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows[0].SettlementStatus = domain.SettlementPaid
	rows[1].SettlementStatus = domain.SettlementFailed
	rows[1].FailureReason = "Daily Limit Reached"
	require.NoError(t, s.UpdateRowSettlement(ctx, rows))

	rows[0].SettlementStatus = domain.SettlementFailed
	require.NoError(t, s.UpdateRowSettlement(ctx, rows))

	stored, err := s.ListRows(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementPaid, stored[0].SettlementStatus)
	assert.Equal(t, "Daily Limit Reached", stored[1].FailureReason)

	amount, n, err := s.PaidTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, amount.Equal(decimal.NewFromInt(10000)))
}

func TestStore_Invoices(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, b := seedBatch(t, s)

	inv := &domain.Invoice{BatchID: b.ID, CooperativeName: "CORECU Ltd", AmountUSD: decimal.RequireFromString("3.00"), Status: domain.InvoiceUnpaid, Reference: "CORECU-0001-2025"}
	require.NoError(t, s.CreateInvoice(ctx, inv))
	assert.NotZero(t, inv.ID)

	err := s.CreateInvoice(ctx, &domain.Invoice{BatchID: b.ID, Reference: "CORECU-0002-2025"})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	n, err := s.CountInvoices(ctx, "corecu ltd")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.RecordCommission(ctx, b.ID, decimal.RequireFromString("0.30"), "CP-PAY-CORECU-1"))
	assert.ErrorIs(t, s.RecordCommission(ctx, b.ID, decimal.RequireFromString("0.30"), "CP-PAY-CORECU-1"), errors.ErrCommissionAlreadyRecorded)

	require.NoError(t, s.MarkInvoicePaid(ctx, b.ID, time.Now().UTC()))
	assert.ErrorIs(t, s.MarkInvoicePaid(ctx, b.ID, time.Now().UTC()), errors.ErrInvoiceAlreadyPaid)

	unpaid, err := s.ListInvoices(ctx, domain.InvoiceUnpaid)
	require.NoError(t, err)
	assert.Empty(t, unpaid)

	paid, err := s.ListInvoices(ctx, domain.InvoicePaid)
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, "CP-PAY-CORECU-1", *paid[0].CommissionReference)
}

func TestStore_ListBatchesFilters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, b := seedBatch(t, s)

	other := &domain.Account{ID: uuid.New(), Username: "lmcu_data", Role: domain.RoleDataUploader, CooperativeName: "LMCU"}
	require.NoError(t, s.Create(ctx, other))
	require.NoError(t, s.CreateBatch(ctx, &domain.Batch{CooperativeID: other.ID, CooperativeName: "LMCU", Status: domain.BatchStatusCoopSubmitted, SubmissionTimestamp: time.Now().UTC()}))

	corecu, err := s.ListBatches(ctx, "CORECU Ltd", domain.BatchStatusCoopSubmitted)
	require.NoError(t, err)
	require.Len(t, corecu, 1)
	assert.Equal(t, b.ID, corecu[0].ID)

	all, err := s.ListBatches(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := s.CountBatches(ctx, domain.BatchStatusProcessed)
	require.NoError(t, err)
	assert.Zero(t, n)
}
