package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dallo7/korosho/internal/batch"
	"github.com/dallo7/korosho/internal/credential"
	"github.com/dallo7/korosho/internal/ledger"
	"github.com/dallo7/korosho/pkg/config"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	_ batch.Store           = (*Store)(nil)
	_ credential.Repository = (*Store)(nil)
	_ ledger.BookRepository = (*Store)(nil)
)

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

// Store implements the portal repositories on PostgreSQL.
type Store struct {
	db   *sqlx.DB
	q    queryer
	inTx bool
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, q: db}
}

// Connect opens and pings the database with the configured pool limits.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// WithinTx runs fn in a single database transaction. Calls made inside an
// existing transaction join it.
func (s *Store) WithinTx(ctx context.Context, fn func(repo batch.Repository) error) (err error) {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Persistence("postgres.WithinTx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{db: s.db, q: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrap(err, fmt.Sprintf("rollback failed: %v", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Persistence("postgres.WithinTx", err)
	}
	return nil
}

func isUniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint, true
	}
	return "", false
}

// mustAffect reports whether res changed at least one row.
func mustAffect(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
