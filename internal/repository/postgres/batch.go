package postgres

import (
	"context"
	"database/sql"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const batchColumns = `
	id, cooperative_id, cooperative_name, filename, record_count, total_amount,
	status, cooperative_note, admin_note, submission_timestamp`

const rowColumns = `
	id, batch_id, farmer_name, bank_name, account_number, amount,
	verification_status, verification_reason, settlement_status, failure_reason`

// CreateBatch inserts b and sets b.ID.
func (s *Store) CreateBatch(ctx context.Context, b *domain.Batch) error {
	query := `
		INSERT INTO submission_batches (
			cooperative_id, cooperative_name, filename, record_count, total_amount,
			status, cooperative_note, admin_note, submission_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := s.q.QueryRowxContext(ctx, query,
		b.CooperativeID, b.CooperativeName, b.Filename, b.RecordCount, b.TotalAmount,
		b.Status, b.CooperativeNote, b.AdminNote, b.SubmissionTimestamp,
	).Scan(&b.ID)
	if err != nil {
		return errors.Wrap(err, "failed to create batch")
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id int64) (*domain.Batch, error) {
	return s.getBatch(ctx, `SELECT `+batchColumns+` FROM submission_batches WHERE id = $1`, id)
}

// LockBatch holds a row lock on the batch until the transaction ends.
func (s *Store) LockBatch(ctx context.Context, id int64) (*domain.Batch, error) {
	return s.getBatch(ctx, `SELECT `+batchColumns+` FROM submission_batches WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) getBatch(ctx context.Context, query string, id int64) (*domain.Batch, error) {
	var b domain.Batch
	err := s.q.GetContext(ctx, &b, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrBatchNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get batch")
	}
	return &b, nil
}

// TransitionStatus only updates a batch still in from.
func (s *Store) TransitionStatus(ctx context.Context, id int64, from, to domain.BatchStatus) error {
	if !from.CanAdvanceTo(to) {
		return errors.ErrBatchStatusConflict
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE submission_batches SET status = $1 WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return errors.Wrap(err, "failed to update batch status")
	}
	ok, err := mustAffect(res)
	if err != nil {
		return errors.Wrap(err, "failed to update batch status")
	}
	if ok {
		return nil
	}
	if _, err := s.GetBatch(ctx, id); err != nil {
		return err
	}
	return errors.ErrBatchStatusConflict
}

func (s *Store) SetAdminNote(ctx context.Context, id int64, note string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE submission_batches SET admin_note = $1 WHERE id = $2`, note, id)
	if err != nil {
		return errors.Wrap(err, "failed to save admin note")
	}
	ok, err := mustAffect(res)
	if err != nil {
		return errors.Wrap(err, "failed to save admin note")
	}
	if !ok {
		return errors.ErrBatchNotFound
	}
	return nil
}

// ListBatches returns batches newest first. An empty cooperative matches all
// cooperatives and no statuses matches every status.
func (s *Store) ListBatches(ctx context.Context, cooperative string, statuses ...domain.BatchStatus) ([]domain.Batch, error) {
	batches := []domain.Batch{}
	query := `
		SELECT ` + batchColumns + `
		FROM submission_batches
		WHERE ($1 = '' OR lower(cooperative_name) = lower($1))
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		ORDER BY submission_timestamp DESC, id DESC`

	if err := s.q.SelectContext(ctx, &batches, query, cooperative, pq.Array(statusStrings(statuses))); err != nil {
		return nil, errors.Wrap(err, "failed to list batches")
	}
	return batches, nil
}

func (s *Store) CountBatches(ctx context.Context, statuses ...domain.BatchStatus) (int, error) {
	var total int
	query := `
		SELECT COUNT(*) FROM submission_batches
		WHERE cardinality($1::text[]) = 0 OR status = ANY($1)`
	if err := s.q.GetContext(ctx, &total, query, pq.Array(statusStrings(statuses))); err != nil {
		return 0, errors.Wrap(err, "failed to count batches")
	}
	return total, nil
}

func statusStrings(statuses []domain.BatchStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

// InsertRows appends rows to batchID and sets their IDs.
func (s *Store) InsertRows(ctx context.Context, batchID int64, rows []domain.PaymentRow) error {
	query := `
		INSERT INTO payment_rows (
			batch_id, farmer_name, bank_name, account_number, amount,
			verification_status, verification_reason, settlement_status, failure_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	for i := range rows {
		r := &rows[i]
		r.BatchID = batchID
		err := s.q.QueryRowxContext(ctx, query,
			batchID, r.FarmerName, r.BankName, r.AccountNumber, r.Amount,
			r.VerificationStatus, r.VerificationReason, r.SettlementStatus, r.FailureReason,
		).Scan(&r.ID)
		if err != nil {
			return errors.Wrap(err, "failed to insert payment row")
		}
	}
	return nil
}

func (s *Store) ListRows(ctx context.Context, batchID int64) ([]domain.PaymentRow, error) {
	rows := []domain.PaymentRow{}
	query := `SELECT ` + rowColumns + ` FROM payment_rows WHERE batch_id = $1 ORDER BY id`
	if err := s.q.SelectContext(ctx, &rows, query, batchID); err != nil {
		return nil, errors.Wrap(err, "failed to list payment rows")
	}
	return rows, nil
}

func (s *Store) UpdateRowVerification(ctx context.Context, rows []domain.PaymentRow) error {
	query := `
		UPDATE payment_rows SET verification_status = $1, verification_reason = $2
		WHERE id = $3 AND batch_id = $4`
	for _, r := range rows {
		if _, err := s.q.ExecContext(ctx, query, r.VerificationStatus, r.VerificationReason, r.ID, r.BatchID); err != nil {
			return errors.Wrap(err, "failed to update row verification")
		}
	}
	return nil
}

// UpdateRowSettlement only touches rows whose settlement is still pending.
func (s *Store) UpdateRowSettlement(ctx context.Context, rows []domain.PaymentRow) error {
	query := `
		UPDATE payment_rows SET settlement_status = $1, failure_reason = $2
		WHERE id = $3 AND batch_id = $4 AND settlement_status = 'pending'`
	for _, r := range rows {
		if _, err := s.q.ExecContext(ctx, query, r.SettlementStatus, r.FailureReason, r.ID, r.BatchID); err != nil {
			return errors.Wrap(err, "failed to update row settlement")
		}
	}
	return nil
}

func (s *Store) PaidTotals(ctx context.Context) (decimal.Decimal, int, error) {
	var (
		amount decimal.Decimal
		count  int
	)
	query := `SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM payment_rows WHERE settlement_status = 'paid'`
	if err := s.q.QueryRowxContext(ctx, query).Scan(&amount, &count); err != nil {
		return decimal.Zero, 0, errors.Wrap(err, "failed to sum paid rows")
	}
	return amount, count, nil
}
