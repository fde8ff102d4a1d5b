package verification

import (
	"fmt"
	"testing"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/random"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows(n int) []domain.PaymentRow {
	rows := make([]domain.PaymentRow, n)
	for i := range rows {
		rows[i] = domain.PaymentRow{
			FarmerName:         fmt.Sprintf("Farmer %d", i),
			BankName:           "NMB",
			AccountNumber:      fmt.Sprintf("0011%06d", i),
			Amount:             decimal.NewFromInt(int64(1000 * (i + 1))),
			VerificationStatus: domain.VerificationUnverified,
			SettlementStatus:   domain.SettlementPending,
		}
	}
	return rows
}

func TestUploaderPass_PreservesIdentityAndAmount(t *testing.T) {
	sim := NewSimulator(UploaderPolicy(0.15), RecheckPolicy(0.20))
	in := sampleRows(200)

	out := sim.UploaderPass(in, random.New(7))

	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].FarmerName, out[i].FarmerName)
		assert.Equal(t, in[i].BankName, out[i].BankName)
		assert.Equal(t, in[i].AccountNumber, out[i].AccountNumber)
		assert.True(t, in[i].Amount.Equal(out[i].Amount))
		assert.NotEqual(t, domain.VerificationUnverified, out[i].VerificationStatus)
		if out[i].VerificationStatus == domain.VerificationFailed {
			assert.Contains(t, UploaderPolicy(0).Reasons, out[i].VerificationReason)
		} else {
			assert.Empty(t, out[i].VerificationReason)
		}
	}
	// input untouched
	assert.Equal(t, domain.VerificationUnverified, in[0].VerificationStatus)
}

func TestUploaderPass_RerollsVerifiedRows(t *testing.T) {
	sim := NewSimulator(UploaderPolicy(0.15), RecheckPolicy(0.20))
	rows := sampleRows(2)
	rows[0].VerificationStatus = domain.VerificationVerified
	rows[1].VerificationStatus = domain.VerificationFailed
	rows[1].VerificationReason = "Name Mismatch"

	src := &random.Scripted{Floats: []float64{0.01, 0.99}, Ints: []int{3}}
	out := sim.UploaderPass(rows, src)

	assert.Equal(t, domain.VerificationFailed, out[0].VerificationStatus)
	assert.Equal(t, "System Check Failed", out[0].VerificationReason)
	assert.Equal(t, domain.VerificationVerified, out[1].VerificationStatus)
	assert.Empty(t, out[1].VerificationReason)
}

func TestAdminRecheck_NeverClearsFailure(t *testing.T) {
	sim := NewSimulator(UploaderPolicy(0.15), RecheckPolicy(0.20))
	rows := sampleRows(4)
	rows[0].VerificationStatus = domain.VerificationFailed
	rows[0].VerificationReason = "Account Closed"
	rows[1].VerificationStatus = domain.VerificationFailed
	rows[2].VerificationStatus = domain.VerificationVerified
	rows[3].VerificationStatus = domain.VerificationVerified

	// Only rows 2 and 3 draw; row 2 fails, row 3 passes.
	src := &random.Scripted{Floats: []float64{0.05, 0.5}, Ints: []int{1}}
	out := sim.AdminRecheck(rows, src)

	assert.Equal(t, domain.VerificationFailed, out[0].VerificationStatus)
	assert.Equal(t, "Account Closed", out[0].VerificationReason)
	assert.Equal(t, domain.VerificationFailed, out[1].VerificationStatus)
	assert.Equal(t, UncorrectedReason, out[1].VerificationReason)
	assert.Equal(t, domain.VerificationFailed, out[2].VerificationStatus)
	assert.Equal(t, "Name Mismatch", out[2].VerificationReason)
	assert.Equal(t, domain.VerificationVerified, out[3].VerificationStatus)
}

func TestAdminRecheck_FailedRowsStayFailedUnderAnySeed(t *testing.T) {
	sim := NewSimulator(UploaderPolicy(0.15), RecheckPolicy(0.20))
	for seed := int64(1); seed <= 25; seed++ {
		rows := sim.UploaderPass(sampleRows(50), random.New(seed))
		out := sim.AdminRecheck(rows, random.New(seed*31))
		for i := range rows {
			if rows[i].VerificationStatus == domain.VerificationFailed {
				assert.Equal(t, domain.VerificationFailed, out[i].VerificationStatus)
				assert.Equal(t, rows[i].VerificationReason, out[i].VerificationReason)
			}
		}
	}
}

func TestAdminRecheck_TreatsUnverifiedAsCandidate(t *testing.T) {
	sim := NewSimulator(UploaderPolicy(0.15), RecheckPolicy(0.20))
	out := sim.AdminRecheck(sampleRows(1), &random.Scripted{Floats: []float64{0.9}})
	assert.Equal(t, domain.VerificationVerified, out[0].VerificationStatus)
}

func TestCounts(t *testing.T) {
	rows := sampleRows(3)
	rows[0].VerificationStatus = domain.VerificationVerified
	rows[1].VerificationStatus = domain.VerificationFailed
	v, f := Counts(rows)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, f)
}
