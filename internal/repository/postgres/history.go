package postgres

import (
	"context"
	"database/sql"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"
)

const historyColumns = `
	id, batch_id, cooperative_name, filename, record_count, total_amount,
	paid_count, failed_count, processed_at, previous_hash, hash`

// LastHistoryHash returns the newest chain hash, or "" for an empty history.
// Inside a transaction it holds the history advisory lock until commit so
// two settlements never chain onto the same entry.
func (s *Store) LastHistoryHash(ctx context.Context) (string, error) {
	if s.inTx {
		if _, err := s.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('payment_history'))`); err != nil {
			return "", errors.Wrap(err, "failed to lock payment history")
		}
	}

	var hash string
	err := s.q.GetContext(ctx, &hash, `SELECT hash FROM payment_history ORDER BY seq DESC LIMIT 1`)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read last history hash")
	}
	return hash, nil
}

func (s *Store) AppendHistory(ctx context.Context, entry *domain.PaymentHistoryEntry) error {
	query := `
		INSERT INTO payment_history (` + historyColumns + `
		) VALUES (
			:id, :batch_id, :cooperative_name, :filename, :record_count, :total_amount,
			:paid_count, :failed_count, :processed_at, :previous_hash, :hash
		)`

	if _, err := s.q.NamedExecContext(ctx, query, entry); err != nil {
		if constraint, dup := isUniqueViolation(err); dup {
			return errors.Validation("postgres.AppendHistory", "history entry conflicts with "+constraint)
		}
		return errors.Wrap(err, "failed to append payment history")
	}
	return nil
}

// ListHistory returns the full chain, oldest first.
func (s *Store) ListHistory(ctx context.Context) ([]domain.PaymentHistoryEntry, error) {
	entries := []domain.PaymentHistoryEntry{}
	query := `SELECT ` + historyColumns + ` FROM payment_history ORDER BY seq`
	if err := s.q.SelectContext(ctx, &entries, query); err != nil {
		return nil, errors.Wrap(err, "failed to list payment history")
	}
	return entries, nil
}
