package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/shopspring/decimal"
)

const invoiceColumns = `
	id, batch_id, cooperative_name, row_count, amount_usd, status, reference,
	payment_date, commission_usd, commission_reference, submission_timestamp`

// CountInvoices returns the cooperative's invoice count. Inside a transaction
// it first takes an advisory lock on the cooperative so that concurrent
// submissions number their invoices one after the other.
func (s *Store) CountInvoices(ctx context.Context, cooperative string) (int, error) {
	key := strings.ToLower(cooperative)
	if s.inTx {
		if _, err := s.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('invoice:' || $1))`, key); err != nil {
			return 0, errors.Wrap(err, "failed to lock invoice sequence")
		}
	}

	var total int
	query := `SELECT COUNT(*) FROM invoices WHERE lower(cooperative_name) = $1`
	if err := s.q.GetContext(ctx, &total, query, key); err != nil {
		return 0, errors.Wrap(err, "failed to count invoices")
	}
	return total, nil
}

func (s *Store) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	query := `
		INSERT INTO invoices (
			batch_id, cooperative_name, row_count, amount_usd, status, reference,
			payment_date, commission_usd, commission_reference, submission_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err := s.q.QueryRowxContext(ctx, query,
		inv.BatchID, inv.CooperativeName, inv.RowCount, inv.AmountUSD, inv.Status, inv.Reference,
		inv.PaymentDate, inv.CommissionUSD, inv.CommissionReference, inv.SubmissionTimestamp,
	).Scan(&inv.ID)
	if err != nil {
		if constraint, dup := isUniqueViolation(err); dup {
			return errors.Validation("postgres.CreateInvoice", "duplicate invoice ("+constraint+")")
		}
		return errors.Wrap(err, "failed to create invoice")
	}
	return nil
}

func (s *Store) GetInvoiceByBatch(ctx context.Context, batchID int64) (*domain.Invoice, error) {
	var inv domain.Invoice
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE batch_id = $1`

	err := s.q.GetContext(ctx, &inv, query, batchID)
	if err == sql.ErrNoRows {
		return nil, errors.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get invoice")
	}
	return &inv, nil
}

// RecordCommission writes the commission fields only while they are empty.
func (s *Store) RecordCommission(ctx context.Context, batchID int64, amountUSD decimal.Decimal, reference string) error {
	query := `
		UPDATE invoices SET commission_usd = $1, commission_reference = $2
		WHERE batch_id = $3 AND commission_usd IS NULL`

	res, err := s.q.ExecContext(ctx, query, amountUSD, reference, batchID)
	if err != nil {
		return errors.Wrap(err, "failed to record commission")
	}
	ok, err := mustAffect(res)
	if err != nil {
		return errors.Wrap(err, "failed to record commission")
	}
	if ok {
		return nil
	}
	if _, err := s.GetInvoiceByBatch(ctx, batchID); err != nil {
		return err
	}
	return errors.ErrCommissionAlreadyRecorded
}

func (s *Store) MarkInvoicePaid(ctx context.Context, batchID int64, paidAt time.Time) error {
	query := `
		UPDATE invoices SET status = 'paid', payment_date = $1
		WHERE batch_id = $2 AND status = 'unpaid'`

	res, err := s.q.ExecContext(ctx, query, paidAt, batchID)
	if err != nil {
		return errors.Wrap(err, "failed to mark invoice paid")
	}
	ok, err := mustAffect(res)
	if err != nil {
		return errors.Wrap(err, "failed to mark invoice paid")
	}
	if ok {
		return nil
	}
	if _, err := s.GetInvoiceByBatch(ctx, batchID); err != nil {
		return err
	}
	return errors.ErrInvoiceAlreadyPaid
}

// ListInvoices returns invoices newest first; an empty status means all.
func (s *Store) ListInvoices(ctx context.Context, status domain.InvoiceStatus) ([]domain.Invoice, error) {
	invoices := []domain.Invoice{}
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE $1 = '' OR status = $1
		ORDER BY submission_timestamp DESC, id DESC`

	if err := s.q.SelectContext(ctx, &invoices, query, string(status)); err != nil {
		return nil, errors.Wrap(err, "failed to list invoices")
	}
	return invoices, nil
}
