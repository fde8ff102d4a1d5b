// Package domain holds the farmer payment portal's core types.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role identifies what an account may do in the portal.
type Role string

const (
	RolePlatformAdmin   Role = "platform_admin"
	RoleDataUploader    Role = "data_uploader"
	RoleFinanceApprover Role = "finance_approver"
)

// HoldsAuthorizationSecrets reports whether accounts of this role carry a
// passphrase and PIN.
func (r Role) HoldsAuthorizationSecrets() bool {
	return r == RolePlatformAdmin || r == RoleFinanceApprover
}

// Account is a portal user. Passphrase and PIN hashes are nil for uploaders.
type Account struct {
	ID              uuid.UUID `json:"id" db:"id"`
	Username        string    `json:"username" db:"username"`
	Role            Role      `json:"role" db:"role"`
	CooperativeName string    `json:"cooperative_name" db:"cooperative_name"`
	Product         string    `json:"product" db:"product"`
	PasswordHash    string    `json:"-" db:"password_hash"`
	PassphraseHash  *string   `json:"-" db:"passphrase_hash"`
	PINHash         *string   `json:"-" db:"pin_hash"`
	TempPassword    *string   `json:"temp_password,omitempty" db:"temp_password"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// CoopShort returns the upper-cased first token of a cooperative name,
// e.g. "CORECU Ltd" -> "CORECU".
func CoopShort(cooperativeName string) string {
	fields := strings.Fields(cooperativeName)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// BatchStatus is the forward-only lifecycle of a submission batch.
type BatchStatus string

const (
	BatchStatusCoopSubmitted        BatchStatus = "coop_submitted"
	BatchStatusPendingAdminApproval BatchStatus = "pending_admin_approval"
	BatchStatusVerified             BatchStatus = "verified"
	BatchStatusProcessed            BatchStatus = "processed"
)

var batchStatusRank = map[BatchStatus]int{
	BatchStatusCoopSubmitted:        1,
	BatchStatusPendingAdminApproval: 2,
	BatchStatusVerified:             3,
	BatchStatusProcessed:            4,
}

// CanAdvanceTo reports whether next is exactly one step after s.
func (s BatchStatus) CanAdvanceTo(next BatchStatus) bool {
	cur, ok := batchStatusRank[s]
	if !ok {
		return false
	}
	return batchStatusRank[next] == cur+1
}

// InFlight reports whether the batch has been submitted but not yet processed.
func (s BatchStatus) InFlight() bool {
	return s == BatchStatusCoopSubmitted || s == BatchStatusPendingAdminApproval || s == BatchStatusVerified
}

// Batch is one finalized upload of farmer payment rows.
type Batch struct {
	ID                  int64           `json:"id" db:"id"`
	CooperativeID       uuid.UUID       `json:"cooperative_id" db:"cooperative_id"`
	CooperativeName     string          `json:"cooperative_name" db:"cooperative_name"`
	Filename            string          `json:"filename" db:"filename"`
	RecordCount         int             `json:"record_count" db:"record_count"`
	TotalAmount         decimal.Decimal `json:"total_amount" db:"total_amount"`
	Status              BatchStatus     `json:"status" db:"status"`
	CooperativeNote     string          `json:"cooperative_note" db:"cooperative_note"`
	AdminNote           string          `json:"admin_note" db:"admin_note"`
	SubmissionTimestamp time.Time       `json:"submission_timestamp" db:"submission_timestamp"`
}

type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationVerified   VerificationStatus = "verified"
	VerificationFailed     VerificationStatus = "failed"
)

type SettlementStatus string

const (
	SettlementPending SettlementStatus = "pending"
	SettlementPaid    SettlementStatus = "paid"
	SettlementFailed  SettlementStatus = "failed"
)

// PaymentRow is a single farmer payment inside a batch. Only the status and
// reason fields change after the row is stored.
type PaymentRow struct {
	ID                 int64              `json:"id" db:"id"`
	BatchID            int64              `json:"batch_id" db:"batch_id"`
	FarmerName         string             `json:"farmer_name" db:"farmer_name" validate:"required"`
	BankName           string             `json:"bank_name" db:"bank_name" validate:"required"`
	AccountNumber      string             `json:"account_number" db:"account_number" validate:"required"`
	Amount             decimal.Decimal    `json:"amount" db:"amount" validate:"gt=0"`
	VerificationStatus VerificationStatus `json:"verification_status" db:"verification_status"`
	VerificationReason string             `json:"verification_reason,omitempty" db:"verification_reason"`
	SettlementStatus   SettlementStatus   `json:"settlement_status" db:"settlement_status"`
	FailureReason      string             `json:"failure_reason,omitempty" db:"failure_reason"`
}

type InvoiceStatus string

const (
	InvoiceUnpaid InvoiceStatus = "unpaid"
	InvoicePaid   InvoiceStatus = "paid"
)

// Invoice is the service-fee bill opened for a batch at submission. The
// commission fields are written once, at settlement.
type Invoice struct {
	ID                  int64            `json:"id" db:"id"`
	BatchID             int64            `json:"batch_id" db:"batch_id"`
	CooperativeName     string           `json:"cooperative_name" db:"cooperative_name"`
	RowCount            int              `json:"row_count" db:"row_count"`
	AmountUSD           decimal.Decimal  `json:"amount_usd" db:"amount_usd"`
	Status              InvoiceStatus    `json:"status" db:"status"`
	Reference           string           `json:"reference" db:"reference"`
	PaymentDate         *time.Time       `json:"payment_date,omitempty" db:"payment_date"`
	CommissionUSD       *decimal.Decimal `json:"commission_usd,omitempty" db:"commission_usd"`
	CommissionReference *string          `json:"commission_reference,omitempty" db:"commission_reference"`
	SubmissionTimestamp time.Time        `json:"submission_timestamp" db:"submission_timestamp"`
}

// PaymentHistoryEntry is the immutable, hash-chained record written when a
// batch settles.
type PaymentHistoryEntry struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	BatchID         int64           `json:"batch_id" db:"batch_id"`
	CooperativeName string          `json:"cooperative_name" db:"cooperative_name"`
	Filename        string          `json:"filename" db:"filename"`
	RecordCount     int             `json:"record_count" db:"record_count"`
	TotalAmount     decimal.Decimal `json:"total_amount" db:"total_amount"`
	PaidCount       int             `json:"paid_count" db:"paid_count"`
	FailedCount     int             `json:"failed_count" db:"failed_count"`
	ProcessedAt     time.Time       `json:"processing_timestamp" db:"processed_at"`
	PreviousHash    string          `json:"previous_hash" db:"previous_hash"`
	Hash            string          `json:"hash" db:"hash"`
}

// Activity actions recorded in the audit log.
const (
	ActionDataSubmission      = "Data Submission (Verified)"
	ActionPaymentAuthorized   = "Payment Authorized"
	ActionAccountVerification = "Account Verification"
	ActionPaymentProcessed    = "Payment Processed"
	ActionUserCreated         = "User Created"
	ActionPasswordChange      = "Password Change"
	ActionLogin               = "Login"
)

// ActivityLog is an append-only audit entry.
type ActivityLog struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	AccountID       *uuid.UUID `json:"account_id,omitempty" db:"account_id"`
	CooperativeName string     `json:"cooperative_name" db:"cooperative_name"`
	Action          string     `json:"action" db:"action"`
	Details         string     `json:"details" db:"details"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// AuthorizationStep is the position of a session in the passphrase+PIN protocol.
type AuthorizationStep string

const (
	StepPassphrase AuthorizationStep = "passphrase"
	StepPIN        AuthorizationStep = "pin"
	StepAuthorized AuthorizationStep = "authorized"
	StepCancelled  AuthorizationStep = "cancelled"
)

// AuthorizationSession is an in-flight authorization attempt. It is never
// written to the relational store.
type AuthorizationSession struct {
	ID             uuid.UUID         `json:"id"`
	AccountID      uuid.UUID         `json:"account_id"`
	TargetBatchID  int64             `json:"target_batch_id"`
	Step           AuthorizationStep `json:"step"`
	PINBuffer      string            `json:"-"`
	FailedAttempts int               `json:"failed_attempts"`
	CreatedAt      time.Time         `json:"created_at"`
}

// PINDigits is the number of digits entered so far; the buffer itself is
// never serialized to clients.
func (s *AuthorizationSession) PINDigits() int {
	return len(s.PINBuffer)
}
