package batch

import (
	"context"

	"github.com/dallo7/korosho/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository is the persistence surface of the batch lifecycle. Inside
// Store.WithinTx every call joins the same transaction.
type Repository interface {
	FindAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	// CreateBatch inserts b and sets b.ID.
	CreateBatch(ctx context.Context, b *domain.Batch) error
	GetBatch(ctx context.Context, id int64) (*domain.Batch, error)
	// LockBatch reads the batch and holds it until the transaction ends.
	LockBatch(ctx context.Context, id int64) (*domain.Batch, error)
	// TransitionStatus moves the batch from one status to the next and fails
	// with ErrBatchStatusConflict when it is no longer in from.
	TransitionStatus(ctx context.Context, id int64, from, to domain.BatchStatus) error
	SetAdminNote(ctx context.Context, id int64, note string) error
	ListBatches(ctx context.Context, cooperative string, statuses ...domain.BatchStatus) ([]domain.Batch, error)

	// InsertRows appends rows to batchID and sets their IDs.
	InsertRows(ctx context.Context, batchID int64, rows []domain.PaymentRow) error
	ListRows(ctx context.Context, batchID int64) ([]domain.PaymentRow, error)
	UpdateRowVerification(ctx context.Context, rows []domain.PaymentRow) error
	// UpdateRowSettlement sets settlement fields only on rows still pending.
	UpdateRowSettlement(ctx context.Context, rows []domain.PaymentRow) error

	// CountInvoices returns the cooperative's invoice count; inside a
	// transaction it also serializes concurrent numbering for that cooperative.
	CountInvoices(ctx context.Context, cooperative string) (int, error)
	CreateInvoice(ctx context.Context, inv *domain.Invoice) error
	GetInvoiceByBatch(ctx context.Context, batchID int64) (*domain.Invoice, error)
	// RecordCommission fails with ErrCommissionAlreadyRecorded when the
	// commission was already written.
	RecordCommission(ctx context.Context, batchID int64, amountUSD decimal.Decimal, reference string) error

	// LastHistoryHash returns the newest history hash, or "" when empty.
	LastHistoryHash(ctx context.Context) (string, error)
	AppendHistory(ctx context.Context, entry *domain.PaymentHistoryEntry) error

	RecordActivity(ctx context.Context, entry *domain.ActivityLog) error
}

// Store runs units of work atomically. A non-nil error from fn rolls back
// every write made through the Repository it was given.
type Store interface {
	Repository
	WithinTx(ctx context.Context, fn func(repo Repository) error) error
}
