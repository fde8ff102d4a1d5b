// Package verification simulates bank-account verification of payment rows.
package verification

import (
	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/random"
)

// UncorrectedReason marks a failed row that reached the admin recheck
// without a recorded reason.
const UncorrectedReason = "Pre-verified Failed (Uncorrected)"

// Policy is a failure probability with the reasons drawn on failure.
type Policy struct {
	FailureRate float64
	Reasons     []string
}

// UploaderPolicy is applied when a cooperative checks its rows before submitting.
func UploaderPolicy(rate float64) Policy {
	return Policy{
		FailureRate: rate,
		Reasons:     []string{"Account Closed", "Name Mismatch", "Invalid Bank Code", "System Check Failed"},
	}
}

// RecheckPolicy is applied once, right before settlement.
func RecheckPolicy(rate float64) Policy {
	return Policy{
		FailureRate: rate,
		Reasons:     []string{"Account Closed", "Name Mismatch", "Invalid Bank Code"},
	}
}

// Simulator classifies rows as verified or failed.
type Simulator struct {
	uploader Policy
	recheck  Policy
}

func NewSimulator(uploader, recheck Policy) *Simulator {
	return &Simulator{uploader: uploader, recheck: recheck}
}

// UploaderPass re-rolls every row independently, including rows that were
// already verified. Only verification fields change.
func (s *Simulator) UploaderPass(rows []domain.PaymentRow, src random.Source) []domain.PaymentRow {
	out := make([]domain.PaymentRow, len(rows))
	for i, row := range rows {
		if src.Float64() < s.uploader.FailureRate {
			row.VerificationStatus = domain.VerificationFailed
			row.VerificationReason = pick(s.uploader.Reasons, src)
		} else {
			row.VerificationStatus = domain.VerificationVerified
			row.VerificationReason = ""
		}
		out[i] = row
	}
	return out
}

// AdminRecheck may turn verified rows into failures but never clears one.
// Failed rows keep their reason, or get UncorrectedReason when they have none.
// Unverified rows are treated as verified candidates.
func (s *Simulator) AdminRecheck(rows []domain.PaymentRow, src random.Source) []domain.PaymentRow {
	out := make([]domain.PaymentRow, len(rows))
	for i, row := range rows {
		if row.VerificationStatus == domain.VerificationFailed {
			if row.VerificationReason == "" {
				row.VerificationReason = UncorrectedReason
			}
			out[i] = row
			continue
		}
		if src.Float64() < s.recheck.FailureRate {
			row.VerificationStatus = domain.VerificationFailed
			row.VerificationReason = pick(s.recheck.Reasons, src)
		} else {
			row.VerificationStatus = domain.VerificationVerified
			row.VerificationReason = ""
		}
		out[i] = row
	}
	return out
}

// Counts tallies verified and failed rows.
func Counts(rows []domain.PaymentRow) (verified, failed int) {
	for _, row := range rows {
		switch row.VerificationStatus {
		case domain.VerificationVerified:
			verified++
		case domain.VerificationFailed:
			failed++
		}
	}
	return verified, failed
}

func pick(reasons []string, src random.Source) string {
	if len(reasons) == 0 {
		return ""
	}
	return reasons[src.IntN(len(reasons))]
}
