// Package batch owns the lifecycle of a submission batch: finalizing uploads,
// authorization hand-off, the tick-driven payment pipeline and summaries.
package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/internal/ledger"
	"github.com/dallo7/korosho/internal/notification"
	"github.com/dallo7/korosho/internal/settlement"
	"github.com/dallo7/korosho/internal/verification"
	"github.com/dallo7/korosho/pkg/errors"
	"github.com/dallo7/korosho/pkg/logger"
	"github.com/dallo7/korosho/pkg/random"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Dependencies wires a Service.
type Dependencies struct {
	Store         Store
	Verifications VerificationStore
	Verifier      *verification.Simulator
	Settler       *settlement.Service
	Ledger        *ledger.Service
	Leaser        Leaser
	Sink          notification.Sink
	Random        random.Factory
	Ticks         int
	Logger        logger.Logger
}

// Service runs the batch state machine.
type Service struct {
	store         Store
	verifications VerificationStore
	verifier      *verification.Simulator
	settler       *settlement.Service
	ledger        *ledger.Service
	leaser        Leaser
	sink          notification.Sink
	rand          random.Factory
	ticks         int
	logger        logger.Logger
	now           func() time.Time
}

func NewService(d Dependencies) *Service {
	if d.Verifications == nil {
		d.Verifications = NewMemoryVerificationStore(30 * time.Minute)
	}
	if d.Leaser == nil {
		d.Leaser = NewMemoryLeaser()
	}
	if d.Sink == nil {
		d.Sink = notification.Nop{}
	}
	if d.Random == nil {
		d.Random = random.NewFactory(0)
	}
	if d.Ticks <= 0 {
		d.Ticks = 4
	}
	return &Service{
		store:         d.Store,
		verifications: d.Verifications,
		verifier:      d.Verifier,
		settler:       d.Settler,
		ledger:        d.Ledger,
		leaser:        d.Leaser,
		sink:          d.Sink,
		rand:          d.Random,
		ticks:         d.Ticks,
		logger:        d.Logger,
		now:           time.Now,
	}
}

// VerificationReport is the outcome of an uploader verification run. Token
// names the stored run that FinalizeSubmission accepts.
type VerificationReport struct {
	Token    uuid.UUID           `json:"verification_token"`
	Rows     []domain.PaymentRow `json:"rows"`
	Verified int                 `json:"verified"`
	Failed   int                 `json:"failed"`
}

// VerifyRows runs the uploader pass over the whole row set on behalf of
// accountID and keeps the result server side. Every row is re-rolled on every
// call, so corrections are submitted by verifying the full set again.
func (s *Service) VerifyRows(ctx context.Context, accountID uuid.UUID, rows []domain.PaymentRow) (*VerificationReport, error) {
	if len(rows) == 0 {
		return nil, errors.ErrEmptySubmission
	}
	out := s.verifier.UploaderPass(rows, s.rand())
	run := &VerificationRun{
		Token:     uuid.New(),
		AccountID: accountID,
		Rows:      out,
		CreatedAt: s.now().UTC(),
	}
	if err := s.verifications.Save(ctx, run); err != nil {
		return nil, classify("batch.VerifyRows", err)
	}
	verified, failed := verification.Counts(out)
	return &VerificationReport{Token: run.Token, Rows: out, Verified: verified, Failed: failed}, nil
}

// SubmissionRequest names a verification run ready to become a batch.
type SubmissionRequest struct {
	AccountID         uuid.UUID
	VerificationToken uuid.UUID
	Filename          string
	CooperativeNote   string
}

// SubmissionReceipt identifies the created batch and its invoice.
type SubmissionReceipt struct {
	BatchID          int64           `json:"batch_id"`
	InvoiceReference string          `json:"invoice_reference"`
	AmountUSD        decimal.Decimal `json:"amount_usd"`
}

// FinalizeSubmission stores the rows of the caller's verification run as a
// new coop_submitted batch and opens its invoice in one transaction. The run
// is consumed on success and restored if the transaction fails. A run holding
// any row that did not pass verification is rejected without writing
// anything.
func (s *Service) FinalizeSubmission(ctx context.Context, req SubmissionRequest) (*SubmissionReceipt, error) {
	const op = "batch.FinalizeSubmission"

	run, err := s.verifications.Get(ctx, req.VerificationToken)
	if err != nil {
		return nil, classify(op, err)
	}
	if run.AccountID != req.AccountID {
		return nil, errors.ErrVerificationNotFound
	}
	if len(run.Rows) == 0 {
		return nil, errors.ErrEmptySubmission
	}
	total := decimal.Zero
	for _, row := range run.Rows {
		if row.VerificationStatus != domain.VerificationVerified {
			return nil, errors.ErrOutstandingVerifications
		}
		total = total.Add(row.Amount)
	}
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = "uploaded_file"
	}

	account, err := s.store.FindAccount(ctx, req.AccountID)
	if err != nil {
		return nil, classify(op, err)
	}

	batch := &domain.Batch{
		CooperativeID:       account.ID,
		CooperativeName:     account.CooperativeName,
		Filename:            filename,
		RecordCount:         len(run.Rows),
		TotalAmount:         total,
		Status:              domain.BatchStatusCoopSubmitted,
		CooperativeNote:     strings.TrimSpace(req.CooperativeNote),
		SubmissionTimestamp: s.now().UTC(),
	}

	rows := make([]domain.PaymentRow, len(run.Rows))
	for i, row := range run.Rows {
		row.SettlementStatus = domain.SettlementPending
		row.FailureReason = ""
		rows[i] = row
	}

	if run, err = s.verifications.Take(ctx, run.Token); err != nil {
		return nil, classify(op, err)
	}

	var invoice *domain.Invoice
	err = s.store.WithinTx(ctx, func(repo Repository) error {
		if err := repo.CreateBatch(ctx, batch); err != nil {
			return err
		}
		if err := repo.InsertRows(ctx, batch.ID, rows); err != nil {
			return err
		}
		prior, err := repo.CountInvoices(ctx, batch.CooperativeName)
		if err != nil {
			return err
		}
		invoice = s.ledger.OpenInvoice(batch, prior)
		if err := repo.CreateInvoice(ctx, invoice); err != nil {
			return err
		}
		return repo.RecordActivity(ctx, activity(account, domain.ActionDataSubmission,
			fmt.Sprintf("Submitted '%s'. Batch ID: %d. Invoice %s: $%s.",
				batch.Filename, batch.ID, invoice.Reference, invoice.AmountUSD.StringFixed(2))))
	})
	if err != nil {
		if saveErr := s.verifications.Save(ctx, run); saveErr != nil {
			s.logger.Warn("Failed to restore verification run", map[string]interface{}{
				"account_id": req.AccountID.String(),
				"error":      saveErr.Error(),
			})
		}
		return nil, classify(op, err)
	}

	s.logger.Info("Batch submitted", map[string]interface{}{
		"batch_id":    batch.ID,
		"cooperative": batch.CooperativeName,
		"rows":        batch.RecordCount,
		"invoice":     invoice.Reference,
	})
	s.publish(ctx, notification.NewEvent(notification.EventBatchSubmitted, batch.ID, batch.CooperativeName,
		map[string]interface{}{"record_count": batch.RecordCount, "invoice_reference": invoice.Reference}))

	return &SubmissionReceipt{
		BatchID:          batch.ID,
		InvoiceReference: invoice.Reference,
		AmountUSD:        invoice.AmountUSD,
	}, nil
}

// CheckAuthorizable fails unless accountID may authorize batchID: the batch
// must be coop_submitted and approvers may only act on their own cooperative.
func (s *Service) CheckAuthorizable(ctx context.Context, batchID int64, accountID uuid.UUID) error {
	const op = "batch.CheckAuthorizable"

	account, err := s.store.FindAccount(ctx, accountID)
	if err != nil {
		return classify(op, err)
	}
	if !account.Role.HoldsAuthorizationSecrets() {
		return errors.ErrForbidden
	}
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return classify(op, err)
	}
	if !CanView(account, b) {
		return errors.ErrBatchNotFound
	}
	switch b.Status {
	case domain.BatchStatusCoopSubmitted:
		return nil
	case domain.BatchStatusProcessed:
		return errors.ErrBatchAlreadyProcessed
	default:
		return errors.ErrBatchStatusConflict
	}
}

// Authorize performs the conditional coop_submitted -> pending_admin_approval
// transition and records the authorization.
func (s *Service) Authorize(ctx context.Context, batchID int64, accountID uuid.UUID) error {
	const op = "batch.Authorize"

	account, err := s.store.FindAccount(ctx, accountID)
	if err != nil {
		return classify(op, err)
	}

	var b *domain.Batch
	err = s.store.WithinTx(ctx, func(repo Repository) error {
		var err error
		if b, err = repo.LockBatch(ctx, batchID); err != nil {
			return err
		}
		if err := repo.TransitionStatus(ctx, batchID, domain.BatchStatusCoopSubmitted, domain.BatchStatusPendingAdminApproval); err != nil {
			return err
		}
		return repo.RecordActivity(ctx, activity(account, domain.ActionPaymentAuthorized,
			fmt.Sprintf("Two-step auth passed for Batch ID: %d", batchID)))
	})
	if err != nil {
		return classify(op, err)
	}

	s.logger.Info("Batch authorized", map[string]interface{}{
		"batch_id":   batchID,
		"account_id": accountID.String(),
	})
	s.publish(ctx, notification.NewEvent(notification.EventBatchAuthorized, batchID, b.CooperativeName, nil))
	return nil
}

// RowCounts tallies a batch's rows by status.
type RowCounts struct {
	Total              int `json:"total"`
	Verified           int `json:"verified"`
	VerificationFailed int `json:"verification_failed"`
	Paid               int `json:"paid"`
	SettlementFailed   int `json:"settlement_failed"`
	Pending            int `json:"pending"`
}

// BatchSummary is a read-only view of a batch and its ledger state.
type BatchSummary struct {
	Batch   *domain.Batch      `json:"batch"`
	Status  domain.BatchStatus `json:"status"`
	Counts  RowCounts          `json:"counts"`
	Invoice *domain.Invoice    `json:"invoice,omitempty"`
}

// Summary reports a batch's status, row counts and invoice with commission.
func (s *Service) Summary(ctx context.Context, batchID int64) (*BatchSummary, error) {
	const op = "batch.Summary"

	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, classify(op, err)
	}
	rows, err := s.store.ListRows(ctx, batchID)
	if err != nil {
		return nil, classify(op, err)
	}
	inv, err := s.store.GetInvoiceByBatch(ctx, batchID)
	if err != nil && !errors.Is(err, errors.ErrInvoiceNotFound) {
		return nil, classify(op, err)
	}

	return &BatchSummary{
		Batch:   b,
		Status:  b.Status,
		Counts:  countRows(rows),
		Invoice: inv,
	}, nil
}

// Rows returns the batch's payment rows.
func (s *Service) Rows(ctx context.Context, batchID int64) ([]domain.PaymentRow, error) {
	if _, err := s.store.GetBatch(ctx, batchID); err != nil {
		return nil, classify("batch.Rows", err)
	}
	rows, err := s.store.ListRows(ctx, batchID)
	if err != nil {
		return nil, classify("batch.Rows", err)
	}
	return rows, nil
}

// Get returns a single batch.
func (s *Service) Get(ctx context.Context, batchID int64) (*domain.Batch, error) {
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, classify("batch.Get", err)
	}
	return b, nil
}

// Queue lists batches awaiting action by actor: an approver sees its own
// cooperative's coop_submitted batches, an admin every batch still in flight.
func (s *Service) Queue(ctx context.Context, actor *domain.Account) ([]domain.Batch, error) {
	var (
		batches []domain.Batch
		err     error
	)
	switch actor.Role {
	case domain.RoleFinanceApprover:
		batches, err = s.store.ListBatches(ctx, actor.CooperativeName, domain.BatchStatusCoopSubmitted)
	case domain.RolePlatformAdmin:
		batches, err = s.store.ListBatches(ctx, "",
			domain.BatchStatusCoopSubmitted, domain.BatchStatusPendingAdminApproval, domain.BatchStatusVerified)
	default:
		return nil, errors.ErrForbidden
	}
	if err != nil {
		return nil, classify("batch.Queue", err)
	}
	return batches, nil
}

// SaveAdminNote replaces the admin note on a batch.
func (s *Service) SaveAdminNote(ctx context.Context, batchID int64, note string) error {
	if err := s.store.SetAdminNote(ctx, batchID, strings.TrimSpace(note)); err != nil {
		return classify("batch.SaveAdminNote", err)
	}
	return nil
}

// CanView reports whether account may see b. Admins see everything; other
// roles only their own cooperative.
func CanView(account *domain.Account, b *domain.Batch) bool {
	if account.Role == domain.RolePlatformAdmin {
		return true
	}
	return strings.EqualFold(account.CooperativeName, b.CooperativeName)
}

func countRows(rows []domain.PaymentRow) RowCounts {
	c := RowCounts{Total: len(rows)}
	for _, r := range rows {
		switch r.VerificationStatus {
		case domain.VerificationVerified:
			c.Verified++
		case domain.VerificationFailed:
			c.VerificationFailed++
		}
		switch r.SettlementStatus {
		case domain.SettlementPaid:
			c.Paid++
		case domain.SettlementFailed:
			c.SettlementFailed++
		default:
			c.Pending++
		}
	}
	return c
}

func activity(account *domain.Account, action, details string) *domain.ActivityLog {
	var accountID *uuid.UUID
	if account.ID != uuid.Nil {
		id := account.ID
		accountID = &id
	}
	return &domain.ActivityLog{
		ID:              uuid.New(),
		AccountID:       accountID,
		CooperativeName: account.CooperativeName,
		Action:          action,
		Details:         details,
		CreatedAt:       time.Now().UTC(),
	}
}

func (s *Service) publish(ctx context.Context, e notification.Event) {
	if err := s.sink.Publish(ctx, e); err != nil {
		s.logger.Warn("Failed to publish notification", map[string]interface{}{
			"type":  string(e.Type),
			"error": err.Error(),
		})
	}
}

// classify keeps business errors as they are and marks anything unknown as
// a persistence failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.KindOf(err) != errors.KindUnknown {
		return err
	}
	return errors.Persistence(op, err)
}
