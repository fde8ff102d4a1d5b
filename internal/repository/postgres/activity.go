package postgres

import (
	"context"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/google/uuid"
)

// RecordActivity inserts a new activity log entry.
func (s *Store) RecordActivity(ctx context.Context, entry *domain.ActivityLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO activity_log (
			id, account_id, cooperative_name, action, details, created_at
		) VALUES (
			:id, :account_id, :cooperative_name, :action, :details, :created_at
		)`

	if _, err := s.q.NamedExecContext(ctx, query, entry); err != nil {
		return errors.Wrap(err, "failed to record activity")
	}
	return nil
}

// ListActivity returns the newest entries first.
func (s *Store) ListActivity(ctx context.Context, limit int) ([]domain.ActivityLog, error) {
	logs := []domain.ActivityLog{}
	query := `
		SELECT id, account_id, cooperative_name, action, details, created_at
		FROM activity_log
		ORDER BY created_at DESC
		LIMIT $1`
	if err := s.q.SelectContext(ctx, &logs, query, limit); err != nil {
		return nil, errors.Wrap(err, "failed to list activity")
	}
	return logs, nil
}
