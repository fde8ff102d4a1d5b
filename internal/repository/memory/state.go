package memory

import (
	"sort"
	"strings"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type state struct {
	accounts map[uuid.UUID]domain.Account
	batches  map[int64]domain.Batch
	rows     map[int64][]domain.PaymentRow
	invoices map[int64]domain.Invoice
	history  []domain.PaymentHistoryEntry
	activity []domain.ActivityLog

	nextBatchID   int64
	nextRowID     int64
	nextInvoiceID int64
}

func newState() *state {
	return &state{
		accounts: make(map[uuid.UUID]domain.Account),
		batches:  make(map[int64]domain.Batch),
		rows:     make(map[int64][]domain.PaymentRow),
		invoices: make(map[int64]domain.Invoice),
	}
}

// clone copies every collection. Pointer fields inside records are replaced,
// never written through, so sharing them is safe.
func (s *state) clone() *state {
	c := &state{
		accounts:      make(map[uuid.UUID]domain.Account, len(s.accounts)),
		batches:       make(map[int64]domain.Batch, len(s.batches)),
		rows:          make(map[int64][]domain.PaymentRow, len(s.rows)),
		invoices:      make(map[int64]domain.Invoice, len(s.invoices)),
		history:       append([]domain.PaymentHistoryEntry(nil), s.history...),
		activity:      append([]domain.ActivityLog(nil), s.activity...),
		nextBatchID:   s.nextBatchID,
		nextRowID:     s.nextRowID,
		nextInvoiceID: s.nextInvoiceID,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.rows {
		c.rows[k] = append([]domain.PaymentRow(nil), v...)
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	return c
}

func (s *state) createAccount(a *domain.Account) error {
	if _, err := s.findByUsername(a.Username); err == nil {
		return errors.ErrAccountAlreadyExists
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.accounts[a.ID] = *a
	return nil
}

func (s *state) findAccount(id uuid.UUID) (*domain.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return &a, nil
}

func (s *state) findByUsername(username string) (*domain.Account, error) {
	for _, a := range s.accounts {
		if a.Username == username {
			return &a, nil
		}
	}
	return nil, errors.ErrAccountNotFound
}

func (s *state) updateCredentials(id uuid.UUID, passwordHash, passphraseHash, pinHash string, at time.Time) error {
	a, ok := s.accounts[id]
	if !ok {
		return errors.ErrAccountNotFound
	}
	a.PasswordHash = passwordHash
	a.PassphraseHash, a.PINHash = optional(passphraseHash), optional(pinHash)
	a.TempPassword = nil
	a.UpdatedAt = at
	s.accounts[id] = a
	return nil
}

func optional(hash string) *string {
	if hash == "" {
		return nil
	}
	return &hash
}

func (s *state) countCooperativeAccounts() int {
	n := 0
	for _, a := range s.accounts {
		if a.Role == domain.RoleDataUploader || a.Role == domain.RoleFinanceApprover {
			n++
		}
	}
	return n
}

func (s *state) createBatch(b *domain.Batch) error {
	if _, ok := s.accounts[b.CooperativeID]; !ok {
		return errors.ErrAccountNotFound
	}
	s.nextBatchID++
	b.ID = s.nextBatchID
	s.batches[b.ID] = *b
	return nil
}

func (s *state) getBatch(id int64) (*domain.Batch, error) {
	b, ok := s.batches[id]
	if !ok {
		return nil, errors.ErrBatchNotFound
	}
	return &b, nil
}

func (s *state) transitionStatus(id int64, from, to domain.BatchStatus) error {
	b, ok := s.batches[id]
	if !ok {
		return errors.ErrBatchNotFound
	}
	if b.Status != from || !from.CanAdvanceTo(to) {
		return errors.ErrBatchStatusConflict
	}
	b.Status = to
	s.batches[id] = b
	return nil
}

func (s *state) setAdminNote(id int64, note string) error {
	b, ok := s.batches[id]
	if !ok {
		return errors.ErrBatchNotFound
	}
	b.AdminNote = note
	s.batches[id] = b
	return nil
}

// listBatches returns matching batches newest first. An empty cooperative
// matches all cooperatives and no statuses matches every status.
func (s *state) listBatches(cooperative string, statuses []domain.BatchStatus) []domain.Batch {
	out := make([]domain.Batch, 0)
	for _, b := range s.batches {
		if cooperative != "" && !strings.EqualFold(b.CooperativeName, cooperative) {
			continue
		}
		if len(statuses) > 0 && !hasStatus(statuses, b.Status) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmissionTimestamp.Equal(out[j].SubmissionTimestamp) {
			return out[i].SubmissionTimestamp.After(out[j].SubmissionTimestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func hasStatus(statuses []domain.BatchStatus, status domain.BatchStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s *state) insertRows(batchID int64, rows []domain.PaymentRow) error {
	if _, ok := s.batches[batchID]; !ok {
		return errors.ErrBatchNotFound
	}
	for i := range rows {
		s.nextRowID++
		rows[i].ID = s.nextRowID
		rows[i].BatchID = batchID
		s.rows[batchID] = append(s.rows[batchID], rows[i])
	}
	return nil
}

func (s *state) listRows(batchID int64) []domain.PaymentRow {
	return append([]domain.PaymentRow{}, s.rows[batchID]...)
}

func (s *state) updateRows(rows []domain.PaymentRow, apply func(stored *domain.PaymentRow, next domain.PaymentRow)) error {
	for _, next := range rows {
		stored := s.rows[next.BatchID]
		found := false
		for i := range stored {
			if stored[i].ID == next.ID {
				apply(&stored[i], next)
				found = true
				break
			}
		}
		if !found {
			return errors.Validation("memory.updateRows", "payment row not found")
		}
	}
	return nil
}

func (s *state) updateRowVerification(rows []domain.PaymentRow) error {
	return s.updateRows(rows, func(stored *domain.PaymentRow, next domain.PaymentRow) {
		stored.VerificationStatus = next.VerificationStatus
		stored.VerificationReason = next.VerificationReason
	})
}

func (s *state) updateRowSettlement(rows []domain.PaymentRow) error {
	return s.updateRows(rows, func(stored *domain.PaymentRow, next domain.PaymentRow) {
		if stored.SettlementStatus != domain.SettlementPending {
			return
		}
		stored.SettlementStatus = next.SettlementStatus
		stored.FailureReason = next.FailureReason
	})
}

func (s *state) paidTotals() (decimal.Decimal, int) {
	total := decimal.Zero
	n := 0
	for _, rows := range s.rows {
		for _, r := range rows {
			if r.SettlementStatus == domain.SettlementPaid {
				total = total.Add(r.Amount)
				n++
			}
		}
	}
	return total, n
}

func (s *state) countInvoices(cooperative string) int {
	n := 0
	for _, inv := range s.invoices {
		if strings.EqualFold(inv.CooperativeName, cooperative) {
			n++
		}
	}
	return n
}

func (s *state) createInvoice(inv *domain.Invoice) error {
	if _, ok := s.invoices[inv.BatchID]; ok {
		return errors.Validation("memory.CreateInvoice", "invoice already exists for batch")
	}
	for _, existing := range s.invoices {
		if existing.Reference == inv.Reference {
			return errors.Validation("memory.CreateInvoice", "duplicate invoice reference")
		}
	}
	s.nextInvoiceID++
	inv.ID = s.nextInvoiceID
	s.invoices[inv.BatchID] = *inv
	return nil
}

func (s *state) getInvoiceByBatch(batchID int64) (*domain.Invoice, error) {
	inv, ok := s.invoices[batchID]
	if !ok {
		return nil, errors.ErrInvoiceNotFound
	}
	return &inv, nil
}

func (s *state) recordCommission(batchID int64, amountUSD decimal.Decimal, reference string) error {
	inv, ok := s.invoices[batchID]
	if !ok {
		return errors.ErrInvoiceNotFound
	}
	if inv.CommissionUSD != nil {
		return errors.ErrCommissionAlreadyRecorded
	}
	inv.CommissionUSD = &amountUSD
	inv.CommissionReference = &reference
	s.invoices[batchID] = inv
	return nil
}

func (s *state) markInvoicePaid(batchID int64, paidAt time.Time) error {
	inv, ok := s.invoices[batchID]
	if !ok {
		return errors.ErrInvoiceNotFound
	}
	if inv.Status != domain.InvoiceUnpaid {
		return errors.ErrInvoiceAlreadyPaid
	}
	inv.Status = domain.InvoicePaid
	inv.PaymentDate = &paidAt
	s.invoices[batchID] = inv
	return nil
}

func (s *state) listInvoices(status domain.InvoiceStatus) []domain.Invoice {
	out := make([]domain.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		if status != "" && inv.Status != status {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmissionTimestamp.Equal(out[j].SubmissionTimestamp) {
			return out[i].SubmissionTimestamp.After(out[j].SubmissionTimestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *state) lastHistoryHash() string {
	if len(s.history) == 0 {
		return ""
	}
	return s.history[len(s.history)-1].Hash
}

func (s *state) appendHistory(entry *domain.PaymentHistoryEntry) error {
	for _, e := range s.history {
		if e.BatchID == entry.BatchID {
			return errors.Validation("memory.AppendHistory", "history already recorded for batch")
		}
	}
	s.history = append(s.history, *entry)
	return nil
}

func (s *state) recordActivity(entry *domain.ActivityLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.activity = append(s.activity, *entry)
}

func (s *state) listActivity(limit int) []domain.ActivityLog {
	if limit <= 0 || limit > len(s.activity) {
		limit = len(s.activity)
	}
	out := make([]domain.ActivityLog, 0, limit)
	for i := len(s.activity) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.activity[i])
	}
	return out
}
