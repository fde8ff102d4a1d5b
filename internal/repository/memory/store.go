// Package memory is an in-process implementation of every repository the
// portal needs. Transactions work on a copy of the data that replaces the
// live copy only on commit.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dallo7/korosho/internal/batch"
	"github.com/dallo7/korosho/internal/credential"
	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	_ batch.Store           = (*Store)(nil)
	_ credential.Repository = (*Store)(nil)
	_ ledger.BookRepository = (*Store)(nil)
)

// Store is safe for concurrent use. Writes, including whole transactions, are
// serialized; reads see the last committed state.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	st      *state
	faults  map[string]error
}

func NewStore() *Store {
	return &Store{st: newState(), faults: make(map[string]error)}
}

// FailOn makes every later call to method return err until cleared with a
// nil err. Tests use it to force rollbacks.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, method)
		return
	}
	s.faults[method] = err
}

func (s *Store) fault(method string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.faults[method]
}

func (s *Store) read(method string, fn func(st *state) error) error {
	if err := s.fault(method); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

func (s *Store) write(method string, fn func(st *state) error) error {
	if err := s.fault(method); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// WithinTx runs fn against a private copy of the data. The copy becomes the
// live state only if fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(repo batch.Repository) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	if err := fn(&txRepo{store: s, st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

// Accounts

func (s *Store) Create(ctx context.Context, account *domain.Account) error {
	return s.write("Create", func(st *state) error { return st.createAccount(account) })
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.FindAccount(ctx, id)
}

func (s *Store) FindAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var out *domain.Account
	err := s.read("FindAccount", func(st *state) (err error) {
		out, err = st.findAccount(id)
		return err
	})
	return out, err
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*domain.Account, error) {
	var out *domain.Account
	err := s.read("FindByUsername", func(st *state) (err error) {
		out, err = st.findByUsername(username)
		return err
	})
	return out, err
}

func (s *Store) UpdateCredentials(ctx context.Context, id uuid.UUID, passwordHash, passphraseHash, pinHash string) error {
	return s.write("UpdateCredentials", func(st *state) error {
		return st.updateCredentials(id, passwordHash, passphraseHash, pinHash, time.Now().UTC())
	})
}

func (s *Store) CountCooperativeAccounts(ctx context.Context) (int, error) {
	var n int
	err := s.read("CountCooperativeAccounts", func(st *state) error {
		n = st.countCooperativeAccounts()
		return nil
	})
	return n, err
}

// Batches and rows

func (s *Store) CreateBatch(ctx context.Context, b *domain.Batch) error {
	return s.write("CreateBatch", func(st *state) error { return st.createBatch(b) })
}

func (s *Store) GetBatch(ctx context.Context, id int64) (*domain.Batch, error) {
	var out *domain.Batch
	err := s.read("GetBatch", func(st *state) (err error) {
		out, err = st.getBatch(id)
		return err
	})
	return out, err
}

// LockBatch outside a transaction is a plain read.
func (s *Store) LockBatch(ctx context.Context, id int64) (*domain.Batch, error) {
	var out *domain.Batch
	err := s.read("LockBatch", func(st *state) (err error) {
		out, err = st.getBatch(id)
		return err
	})
	return out, err
}

func (s *Store) TransitionStatus(ctx context.Context, id int64, from, to domain.BatchStatus) error {
	return s.write("TransitionStatus", func(st *state) error { return st.transitionStatus(id, from, to) })
}

func (s *Store) SetAdminNote(ctx context.Context, id int64, note string) error {
	return s.write("SetAdminNote", func(st *state) error { return st.setAdminNote(id, note) })
}

func (s *Store) ListBatches(ctx context.Context, cooperative string, statuses ...domain.BatchStatus) ([]domain.Batch, error) {
	var out []domain.Batch
	err := s.read("ListBatches", func(st *state) error {
		out = st.listBatches(cooperative, statuses)
		return nil
	})
	return out, err
}

func (s *Store) CountBatches(ctx context.Context, statuses ...domain.BatchStatus) (int, error) {
	var n int
	err := s.read("CountBatches", func(st *state) error {
		n = len(st.listBatches("", statuses))
		return nil
	})
	return n, err
}

func (s *Store) InsertRows(ctx context.Context, batchID int64, rows []domain.PaymentRow) error {
	return s.write("InsertRows", func(st *state) error { return st.insertRows(batchID, rows) })
}

func (s *Store) ListRows(ctx context.Context, batchID int64) ([]domain.PaymentRow, error) {
	var out []domain.PaymentRow
	err := s.read("ListRows", func(st *state) error {
		out = st.listRows(batchID)
		return nil
	})
	return out, err
}

func (s *Store) UpdateRowVerification(ctx context.Context, rows []domain.PaymentRow) error {
	return s.write("UpdateRowVerification", func(st *state) error { return st.updateRowVerification(rows) })
}

func (s *Store) UpdateRowSettlement(ctx context.Context, rows []domain.PaymentRow) error {
	return s.write("UpdateRowSettlement", func(st *state) error { return st.updateRowSettlement(rows) })
}

func (s *Store) PaidTotals(ctx context.Context) (decimal.Decimal, int, error) {
	var (
		amount decimal.Decimal
		n      int
	)
	err := s.read("PaidTotals", func(st *state) error {
		amount, n = st.paidTotals()
		return nil
	})
	return amount, n, err
}

// Invoices

func (s *Store) CountInvoices(ctx context.Context, cooperative string) (int, error) {
	var n int
	err := s.read("CountInvoices", func(st *state) error {
		n = st.countInvoices(cooperative)
		return nil
	})
	return n, err
}

func (s *Store) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	return s.write("CreateInvoice", func(st *state) error { return st.createInvoice(inv) })
}

func (s *Store) GetInvoiceByBatch(ctx context.Context, batchID int64) (*domain.Invoice, error) {
	var out *domain.Invoice
	err := s.read("GetInvoiceByBatch", func(st *state) (err error) {
		out, err = st.getInvoiceByBatch(batchID)
		return err
	})
	return out, err
}

func (s *Store) RecordCommission(ctx context.Context, batchID int64, amountUSD decimal.Decimal, reference string) error {
	return s.write("RecordCommission", func(st *state) error { return st.recordCommission(batchID, amountUSD, reference) })
}

func (s *Store) MarkInvoicePaid(ctx context.Context, batchID int64, paidAt time.Time) error {
	return s.write("MarkInvoicePaid", func(st *state) error { return st.markInvoicePaid(batchID, paidAt) })
}

func (s *Store) ListInvoices(ctx context.Context, status domain.InvoiceStatus) ([]domain.Invoice, error) {
	var out []domain.Invoice
	err := s.read("ListInvoices", func(st *state) error {
		out = st.listInvoices(status)
		return nil
	})
	return out, err
}

// History and activity

func (s *Store) LastHistoryHash(ctx context.Context) (string, error) {
	var h string
	err := s.read("LastHistoryHash", func(st *state) error {
		h = st.lastHistoryHash()
		return nil
	})
	return h, err
}

func (s *Store) AppendHistory(ctx context.Context, entry *domain.PaymentHistoryEntry) error {
	return s.write("AppendHistory", func(st *state) error { return st.appendHistory(entry) })
}

func (s *Store) ListHistory(ctx context.Context) ([]domain.PaymentHistoryEntry, error) {
	var out []domain.PaymentHistoryEntry
	err := s.read("ListHistory", func(st *state) error {
		out = append([]domain.PaymentHistoryEntry(nil), st.history...)
		return nil
	})
	return out, err
}

func (s *Store) RecordActivity(ctx context.Context, entry *domain.ActivityLog) error {
	return s.write("RecordActivity", func(st *state) error {
		st.recordActivity(entry)
		return nil
	})
}

func (s *Store) ListActivity(ctx context.Context, limit int) ([]domain.ActivityLog, error) {
	var out []domain.ActivityLog
	err := s.read("ListActivity", func(st *state) error {
		out = st.listActivity(limit)
		return nil
	})
	return out, err
}

// txRepo is the batch.Repository handed to WithinTx callbacks. It works on
// the transaction's private state without further locking.
type txRepo struct {
	store *Store
	st    *state
}

func (r *txRepo) FindAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if err := r.store.fault("FindAccount"); err != nil {
		return nil, err
	}
	return r.st.findAccount(id)
}

func (r *txRepo) CreateBatch(ctx context.Context, b *domain.Batch) error {
	if err := r.store.fault("CreateBatch"); err != nil {
		return err
	}
	return r.st.createBatch(b)
}

func (r *txRepo) GetBatch(ctx context.Context, id int64) (*domain.Batch, error) {
	if err := r.store.fault("GetBatch"); err != nil {
		return nil, err
	}
	return r.st.getBatch(id)
}

func (r *txRepo) LockBatch(ctx context.Context, id int64) (*domain.Batch, error) {
	if err := r.store.fault("LockBatch"); err != nil {
		return nil, err
	}
	return r.st.getBatch(id)
}

func (r *txRepo) TransitionStatus(ctx context.Context, id int64, from, to domain.BatchStatus) error {
	if err := r.store.fault("TransitionStatus"); err != nil {
		return err
	}
	return r.st.transitionStatus(id, from, to)
}

func (r *txRepo) SetAdminNote(ctx context.Context, id int64, note string) error {
	if err := r.store.fault("SetAdminNote"); err != nil {
		return err
	}
	return r.st.setAdminNote(id, note)
}

func (r *txRepo) ListBatches(ctx context.Context, cooperative string, statuses ...domain.BatchStatus) ([]domain.Batch, error) {
	if err := r.store.fault("ListBatches"); err != nil {
		return nil, err
	}
	return r.st.listBatches(cooperative, statuses), nil
}

func (r *txRepo) InsertRows(ctx context.Context, batchID int64, rows []domain.PaymentRow) error {
	if err := r.store.fault("InsertRows"); err != nil {
		return err
	}
	return r.st.insertRows(batchID, rows)
}

func (r *txRepo) ListRows(ctx context.Context, batchID int64) ([]domain.PaymentRow, error) {
	if err := r.store.fault("ListRows"); err != nil {
		return nil, err
	}
	return r.st.listRows(batchID), nil
}

func (r *txRepo) UpdateRowVerification(ctx context.Context, rows []domain.PaymentRow) error {
	if err := r.store.fault("UpdateRowVerification"); err != nil {
		return err
	}
	return r.st.updateRowVerification(rows)
}

func (r *txRepo) UpdateRowSettlement(ctx context.Context, rows []domain.PaymentRow) error {
	if err := r.store.fault("UpdateRowSettlement"); err != nil {
		return err
	}
	return r.st.updateRowSettlement(rows)
}

func (r *txRepo) CountInvoices(ctx context.Context, cooperative string) (int, error) {
	if err := r.store.fault("CountInvoices"); err != nil {
		return 0, err
	}
	return r.st.countInvoices(cooperative), nil
}

func (r *txRepo) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	if err := r.store.fault("CreateInvoice"); err != nil {
		return err
	}
	return r.st.createInvoice(inv)
}

func (r *txRepo) GetInvoiceByBatch(ctx context.Context, batchID int64) (*domain.Invoice, error) {
	if err := r.store.fault("GetInvoiceByBatch"); err != nil {
		return nil, err
	}
	return r.st.getInvoiceByBatch(batchID)
}

func (r *txRepo) RecordCommission(ctx context.Context, batchID int64, amountUSD decimal.Decimal, reference string) error {
	if err := r.store.fault("RecordCommission"); err != nil {
		return err
	}
	return r.st.recordCommission(batchID, amountUSD, reference)
}

func (r *txRepo) LastHistoryHash(ctx context.Context) (string, error) {
	if err := r.store.fault("LastHistoryHash"); err != nil {
		return "", err
	}
	return r.st.lastHistoryHash(), nil
}

func (r *txRepo) AppendHistory(ctx context.Context, entry *domain.PaymentHistoryEntry) error {
	if err := r.store.fault("AppendHistory"); err != nil {
		return err
	}
	return r.st.appendHistory(entry)
}

func (r *txRepo) RecordActivity(ctx context.Context, entry *domain.ActivityLog) error {
	if err := r.store.fault("RecordActivity"); err != nil {
		return err
	}
	r.st.recordActivity(entry)
	return nil
}
