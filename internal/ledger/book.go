package ledger

import (
	"context"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"
	"github.com/dallo7/korosho/pkg/logger"

	"github.com/shopspring/decimal"
)

// BookRepository is the read side of the ledger plus the single invoice
// mutation that happens outside the batch pipeline.
type BookRepository interface {
	// ListInvoices returns invoices newest first; an empty status means all.
	ListInvoices(ctx context.Context, status domain.InvoiceStatus) ([]domain.Invoice, error)
	GetInvoiceByBatch(ctx context.Context, batchID int64) (*domain.Invoice, error)
	// MarkInvoicePaid fails with ErrInvoiceAlreadyPaid unless the invoice is unpaid.
	MarkInvoicePaid(ctx context.Context, batchID int64, paidAt time.Time) error
	// ListHistory returns the payment history oldest first.
	ListHistory(ctx context.Context) ([]domain.PaymentHistoryEntry, error)
	// PaidTotals sums the amount and count of paid rows across all batches.
	PaidTotals(ctx context.Context) (amount decimal.Decimal, rows int, err error)
	CountBatches(ctx context.Context, statuses ...domain.BatchStatus) (int, error)
	CountCooperativeAccounts(ctx context.Context) (int, error)
	// ListActivity returns the newest entries first, at most limit of them.
	ListActivity(ctx context.Context, limit int) ([]domain.ActivityLog, error)
}

// Dashboard holds the platform KPIs shown to admins.
type Dashboard struct {
	TotalPaidAmount    decimal.Decimal `json:"total_paid_amount"`
	FarmersPaid        int             `json:"farmers_paid"`
	BatchesInQueues    int             `json:"batches_in_queues"`
	CooperativeUsers   int             `json:"cooperative_users"`
	UnpaidInvoiceTotal decimal.Decimal `json:"unpaid_invoice_total_usd"`
	CommissionTotal    decimal.Decimal `json:"commission_total_usd"`
}

// InvoiceList is a set of invoices with its outstanding and commission totals.
type InvoiceList struct {
	Invoices        []domain.Invoice `json:"invoices"`
	UnpaidTotal     decimal.Decimal  `json:"unpaid_total_usd"`
	CommissionTotal decimal.Decimal  `json:"commission_total_usd"`
}

// Book serves invoices, payment history, KPIs and the activity log.
type Book struct {
	repo   BookRepository
	logger logger.Logger
	now    func() time.Time
}

func NewBook(repo BookRepository, log logger.Logger) *Book {
	return &Book{repo: repo, logger: log, now: time.Now}
}

func (b *Book) Invoices(ctx context.Context, status domain.InvoiceStatus) (*InvoiceList, error) {
	switch status {
	case "", domain.InvoiceUnpaid, domain.InvoicePaid:
	default:
		return nil, errors.Validation("ledger.Invoices", "status must be unpaid or paid")
	}
	invoices, err := b.repo.ListInvoices(ctx, status)
	if err != nil {
		return nil, errors.Persistence("ledger.Invoices", err)
	}
	unpaid, commission := invoiceTotals(invoices)
	return &InvoiceList{Invoices: invoices, UnpaidTotal: unpaid, CommissionTotal: commission}, nil
}

// MarkPaid records payment of a batch's service-fee invoice.
func (b *Book) MarkPaid(ctx context.Context, batchID int64) (*domain.Invoice, error) {
	const op = "ledger.MarkPaid"

	inv, err := b.repo.GetInvoiceByBatch(ctx, batchID)
	if err != nil {
		return nil, keepKind(op, err)
	}
	if err := MarkPaid(inv, b.now()); err != nil {
		return nil, err
	}
	if err := b.repo.MarkInvoicePaid(ctx, batchID, *inv.PaymentDate); err != nil {
		return nil, keepKind(op, err)
	}

	b.logger.Info("Invoice marked paid", map[string]interface{}{
		"batch_id":  batchID,
		"reference": inv.Reference,
		"amount":    inv.AmountUSD.StringFixed(2),
	})
	return inv, nil
}

// History returns the payment history after checking its hash chain.
func (b *Book) History(ctx context.Context) ([]domain.PaymentHistoryEntry, error) {
	entries, err := b.repo.ListHistory(ctx)
	if err != nil {
		return nil, errors.Persistence("ledger.History", err)
	}
	if err := VerifyChain(entries); err != nil {
		b.logger.Error("Payment history chain is broken", map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	return entries, nil
}

func (b *Book) Dashboard(ctx context.Context) (*Dashboard, error) {
	const op = "ledger.Dashboard"

	paidAmount, paidRows, err := b.repo.PaidTotals(ctx)
	if err != nil {
		return nil, errors.Persistence(op, err)
	}
	inQueues, err := b.repo.CountBatches(ctx,
		domain.BatchStatusCoopSubmitted, domain.BatchStatusPendingAdminApproval, domain.BatchStatusVerified)
	if err != nil {
		return nil, errors.Persistence(op, err)
	}
	users, err := b.repo.CountCooperativeAccounts(ctx)
	if err != nil {
		return nil, errors.Persistence(op, err)
	}
	invoices, err := b.repo.ListInvoices(ctx, "")
	if err != nil {
		return nil, errors.Persistence(op, err)
	}
	unpaid, commission := invoiceTotals(invoices)

	return &Dashboard{
		TotalPaidAmount:    paidAmount,
		FarmersPaid:        paidRows,
		BatchesInQueues:    inQueues,
		CooperativeUsers:   users,
		UnpaidInvoiceTotal: unpaid,
		CommissionTotal:    commission,
	}, nil
}

// Activity returns recent audit entries. A limit outside 1..500 means 100.
func (b *Book) Activity(ctx context.Context, limit int) ([]domain.ActivityLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	entries, err := b.repo.ListActivity(ctx, limit)
	if err != nil {
		return nil, errors.Persistence("ledger.Activity", err)
	}
	return entries, nil
}

func invoiceTotals(invoices []domain.Invoice) (unpaid, commission decimal.Decimal) {
	for _, inv := range invoices {
		if inv.Status == domain.InvoiceUnpaid {
			unpaid = unpaid.Add(inv.AmountUSD)
		}
		if inv.CommissionUSD != nil {
			commission = commission.Add(*inv.CommissionUSD)
		}
	}
	return unpaid, commission
}

func keepKind(op string, err error) error {
	if errors.KindOf(err) != errors.KindUnknown {
		return err
	}
	return errors.Persistence(op, err)
}
