// Package settlement simulates paying out verified farmer rows through the
// bank network.
package settlement

import (
	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/logger"
	"github.com/dallo7/korosho/pkg/random"
)

// VerificationFailedPrefix precedes the verification reason on rows that were
// never eligible for payment.
const VerificationFailedPrefix = "Verification Failed: "

// DefaultFailureReasons are drawn when an eligible row fails to settle.
var DefaultFailureReasons = []string{"Bank Communication Timeout", "Daily Limit Reached", "System Error"}

// Outcome summarizes one settlement pass.
type Outcome struct {
	Rows   []domain.PaymentRow
	Paid   int
	Failed int
}

// Service settles payment rows.
type Service struct {
	successRate float64
	reasons     []string
	logger      logger.Logger
}

// NewService constructs a settlement Service.
func NewService(successRate float64, log logger.Logger) *Service {
	return &Service{
		successRate: successRate,
		reasons:     DefaultFailureReasons,
		logger:      log,
	}
}

// Settle sets every row's settlement status exactly once. Rows that failed
// verification fail deterministically; the rest succeed with the configured
// probability.
func (s *Service) Settle(rows []domain.PaymentRow, src random.Source) *Outcome {
	out := &Outcome{Rows: make([]domain.PaymentRow, len(rows))}
	for i, row := range rows {
		switch {
		case row.VerificationStatus == domain.VerificationFailed:
			row.SettlementStatus = domain.SettlementFailed
			row.FailureReason = VerificationFailedPrefix + row.VerificationReason
		case src.Float64() < s.successRate:
			row.SettlementStatus = domain.SettlementPaid
			row.FailureReason = ""
		default:
			row.SettlementStatus = domain.SettlementFailed
			row.FailureReason = s.reasons[src.IntN(len(s.reasons))]
		}

		if row.SettlementStatus == domain.SettlementPaid {
			out.Paid++
		} else {
			out.Failed++
		}
		out.Rows[i] = row
	}

	s.logger.Debug("Settlement pass complete", map[string]interface{}{
		"rows":   len(rows),
		"paid":   out.Paid,
		"failed": out.Failed,
	})
	return out
}
