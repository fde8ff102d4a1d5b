// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to decide how to surface it.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuth
	KindLocked
	KindNotFound
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindLocked:
		return "locked"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence_failure"
	default:
		return "unknown"
	}
}

// Common errors
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrCredentialsNotSet    = errors.New("authorization credentials not configured")
	ErrForbidden            = errors.New("operation not permitted for this role")
	ErrAuthorizationLocked  = errors.New("too many failed attempts, try again later")

	// Batch lifecycle errors
	ErrBatchNotFound            = errors.New("batch not found")
	ErrBatchNotAuthorized       = errors.New("batch has not been authorized for payment")
	ErrBatchAlreadyProcessed    = errors.New("batch already processed")
	ErrBatchStatusConflict      = errors.New("batch status does not allow this transition")
	ErrPipelineInFlight         = errors.New("payment pipeline already running for batch")
	ErrEmptySubmission          = errors.New("submission contains no rows")
	ErrOutstandingVerifications = errors.New("please correct all verification failures before submitting")
	ErrVerificationNotFound     = errors.New("verification run not found or expired, verify the rows again")

	// Authorization session errors
	ErrSessionNotFound = errors.New("authorization session not found")
	ErrWrongStep       = errors.New("authorization session is not at this step")
	ErrInvalidPINKey   = errors.New("invalid pin pad key")

	// Ledger errors
	ErrInvoiceNotFound           = errors.New("invoice not found")
	ErrInvoiceAlreadyPaid        = errors.New("invoice already paid")
	ErrCommissionAlreadyRecorded = errors.New("commission already recorded for batch")
	ErrHistoryChainBroken        = errors.New("payment history chain broken")

	ErrDuplicateRequest = errors.New("duplicate request in progress")
)

var kinds = map[error]Kind{
	ErrAccountNotFound:           KindNotFound,
	ErrAccountAlreadyExists:      KindValidation,
	ErrInvalidCredentials:        KindAuth,
	ErrCredentialsNotSet:         KindAuth,
	ErrForbidden:                 KindAuth,
	ErrAuthorizationLocked:       KindLocked,
	ErrBatchNotFound:             KindNotFound,
	ErrBatchNotAuthorized:        KindValidation,
	ErrBatchAlreadyProcessed:     KindValidation,
	ErrBatchStatusConflict:       KindValidation,
	ErrPipelineInFlight:          KindValidation,
	ErrEmptySubmission:           KindValidation,
	ErrOutstandingVerifications:  KindValidation,
	ErrVerificationNotFound:      KindValidation,
	ErrSessionNotFound:           KindNotFound,
	ErrWrongStep:                 KindValidation,
	ErrInvalidPINKey:             KindValidation,
	ErrInvoiceNotFound:           KindNotFound,
	ErrInvoiceAlreadyPaid:        KindValidation,
	ErrCommissionAlreadyRecorded: KindValidation,
	ErrHistoryChainBroken:        KindPersistence,
	ErrDuplicateRequest:          KindValidation,
}

// Error carries a Kind and the operation that failed alongside the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a classified error. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation returns a KindValidation error with a plain message.
func Validation(op, message string) error {
	return &Error{Kind: KindValidation, Op: op, Err: errors.New(message)}
}

// Persistence marks a storage failure.
func Persistence(op string, err error) error {
	return E(KindPersistence, op, err)
}

// KindOf reports the kind of the first classified error in err's chain,
// falling back to the sentinel table.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != KindUnknown {
		return e.Kind
	}
	for sentinel, kind := range kinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// Is and As re-export the standard helpers so callers need one import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }

// New is errors.New.
func New(text string) error { return errors.New(text) }

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
