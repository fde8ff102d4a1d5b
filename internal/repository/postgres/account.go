package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/google/uuid"
)

const accountColumns = `
	id, username, role, cooperative_name, product, password_hash,
	passphrase_hash, pin_hash, temp_password, created_at, updated_at`

func (s *Store) Create(ctx context.Context, account *domain.Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	query := `
		INSERT INTO accounts (` + accountColumns + `
		) VALUES (
			:id, :username, :role, :cooperative_name, :product, :password_hash,
			:passphrase_hash, :pin_hash, :temp_password, :created_at, :updated_at
		)`

	if _, err := s.q.NamedExecContext(ctx, query, account); err != nil {
		if _, dup := isUniqueViolation(err); dup {
			return errors.ErrAccountAlreadyExists
		}
		return errors.Wrap(err, "failed to create account")
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.FindAccount(ctx, id)
}

func (s *Store) FindAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	err := s.q.GetContext(ctx, &account, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrAccountNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find account")
	}
	return &account, nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*domain.Account, error) {
	var account domain.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username = $1`

	err := s.q.GetContext(ctx, &account, query, username)
	if err == sql.ErrNoRows {
		return nil, errors.ErrAccountNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find account")
	}
	return &account, nil
}

// UpdateCredentials replaces all three hashes and clears the temporary password.
func (s *Store) UpdateCredentials(ctx context.Context, id uuid.UUID, passwordHash, passphraseHash, pinHash string) error {
	query := `
		UPDATE accounts
		SET password_hash = $1, passphrase_hash = NULLIF($2, ''), pin_hash = NULLIF($3, ''),
		    temp_password = NULL, updated_at = $4
		WHERE id = $5`

	res, err := s.q.ExecContext(ctx, query, passwordHash, passphraseHash, pinHash, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "failed to update credentials")
	}
	ok, err := mustAffect(res)
	if err != nil {
		return errors.Wrap(err, "failed to update credentials")
	}
	if !ok {
		return errors.ErrAccountNotFound
	}
	return nil
}

func (s *Store) CountCooperativeAccounts(ctx context.Context) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM accounts WHERE role IN ('data_uploader', 'finance_approver')`
	if err := s.q.GetContext(ctx, &total, query); err != nil {
		return 0, errors.Wrap(err, "failed to count accounts")
	}
	return total, nil
}
