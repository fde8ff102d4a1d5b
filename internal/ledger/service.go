// Package ledger computes service-fee invoices, settlement commission and the
// hash-chained payment history.
package ledger

import (
	"fmt"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/config"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/shopspring/decimal"
)

// Service prices batches. It holds no state beyond its rates.
type Service struct {
	unitPriceUSD   decimal.Decimal
	commissionRate decimal.Decimal
	exchangeRate   decimal.Decimal
}

// NewService builds a ledger Service from pricing configuration.
func NewService(cfg config.PricingConfig) *Service {
	return &Service{
		unitPriceUSD:   cfg.UnitPriceUSD,
		commissionRate: cfg.CommissionRate,
		exchangeRate:   cfg.ExchangeRate,
	}
}

// InvoiceAmount is record_count x unit price, in USD.
func (s *Service) InvoiceAmount(recordCount int) decimal.Decimal {
	return s.unitPriceUSD.Mul(decimal.NewFromInt(int64(recordCount))).Round(2)
}

// InvoiceReference formats <COOP_SHORT>-<seq:04d>-<year>, where seq is one
// more than the cooperative's prior invoice count.
func InvoiceReference(cooperativeName string, priorInvoices int, at time.Time) string {
	return fmt.Sprintf("%s-%04d-%d", domain.CoopShort(cooperativeName), priorInvoices+1, at.Year())
}

// OpenInvoice creates the unpaid invoice for a freshly finalized batch.
func (s *Service) OpenInvoice(batch *domain.Batch, priorInvoices int) *domain.Invoice {
	return &domain.Invoice{
		BatchID:             batch.ID,
		CooperativeName:     batch.CooperativeName,
		RowCount:            batch.RecordCount,
		AmountUSD:           s.InvoiceAmount(batch.RecordCount),
		Status:              domain.InvoiceUnpaid,
		Reference:           InvoiceReference(batch.CooperativeName, priorInvoices, batch.SubmissionTimestamp),
		SubmissionTimestamp: batch.SubmissionTimestamp,
	}
}

// CommissionUSD converts total_amount x commission rate from local currency
// to USD. The result is kept unrounded; format it for display only.
func (s *Service) CommissionUSD(totalAmount decimal.Decimal) decimal.Decimal {
	if s.exchangeRate.IsZero() {
		return decimal.Zero
	}
	return totalAmount.Mul(s.commissionRate).Div(s.exchangeRate)
}

// CommissionReference formats CP-PAY-<COOP_SHORT>-<batch_id>.
func CommissionReference(cooperativeName string, batchID int64) string {
	return fmt.Sprintf("CP-PAY-%s-%d", domain.CoopShort(cooperativeName), batchID)
}

// ApplyCommission writes the commission fields onto inv. They are written
// once; a second call fails.
func (s *Service) ApplyCommission(inv *domain.Invoice, batch *domain.Batch) error {
	if inv.CommissionUSD != nil || inv.CommissionReference != nil {
		return errors.ErrCommissionAlreadyRecorded
	}
	amount := s.CommissionUSD(batch.TotalAmount)
	ref := CommissionReference(batch.CooperativeName, batch.ID)
	inv.CommissionUSD = &amount
	inv.CommissionReference = &ref
	return nil
}

// MarkPaid records the invoice payment date. Paying twice fails.
func MarkPaid(inv *domain.Invoice, at time.Time) error {
	if inv.Status == domain.InvoicePaid {
		return errors.ErrInvoiceAlreadyPaid
	}
	paidAt := at.UTC()
	inv.Status = domain.InvoicePaid
	inv.PaymentDate = &paidAt
	return nil
}
