// Package authorization runs the two-step passphrase and PIN protocol that
// releases a submitted batch for payment.
package authorization

import (
	"context"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"
	"github.com/dallo7/korosho/pkg/logger"

	"github.com/google/uuid"
)

// PIN pad control keys.
const (
	KeyClear     = "C"
	KeyBackspace = "<"
)

// CredentialChecker answers passphrase and PIN match queries.
type CredentialChecker interface {
	MatchPassphrase(ctx context.Context, accountID uuid.UUID, passphrase string) (bool, error)
	MatchPIN(ctx context.Context, accountID uuid.UUID, pin string) (bool, error)
}

// Target is the batch lifecycle the protocol gates.
type Target interface {
	// CheckAuthorizable fails unless accountID may authorize batchID now.
	CheckAuthorizable(ctx context.Context, batchID int64, accountID uuid.UUID) error
	// Authorize moves batchID from coop_submitted to pending_admin_approval.
	Authorize(ctx context.Context, batchID int64, accountID uuid.UUID) error
}

// Protocol drives authorization sessions. Sessions are independent; each
// carries its own PIN buffer.
type Protocol struct {
	creds     CredentialChecker
	target    Target
	sessions  SessionStore
	limiter   Limiter
	pinLength int
	logger    logger.Logger
	now       func() time.Time
}

// NewProtocol constructs a Protocol. A nil limiter disables lockout.
func NewProtocol(creds CredentialChecker, target Target, sessions SessionStore, limiter Limiter, pinLength int, log logger.Logger) *Protocol {
	if limiter == nil {
		limiter = NopLimiter{}
	}
	if pinLength <= 0 {
		pinLength = 6
	}
	return &Protocol{
		creds:     creds,
		target:    target,
		sessions:  sessions,
		limiter:   limiter,
		pinLength: pinLength,
		logger:    log,
		now:       time.Now,
	}
}

// Start opens a session for accountID against batchID at the passphrase step.
func (p *Protocol) Start(ctx context.Context, accountID uuid.UUID, batchID int64) (*domain.AuthorizationSession, error) {
	if err := p.limiter.Allow(ctx, accountID); err != nil {
		return nil, err
	}
	if err := p.target.CheckAuthorizable(ctx, batchID, accountID); err != nil {
		return nil, err
	}

	session := &domain.AuthorizationSession{
		ID:            uuid.New(),
		AccountID:     accountID,
		TargetBatchID: batchID,
		Step:          domain.StepPassphrase,
		CreatedAt:     p.now().UTC(),
	}
	if err := p.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	p.logger.Info("Authorization started", map[string]interface{}{
		"session_id": session.ID.String(),
		"account_id": accountID.String(),
		"batch_id":   batchID,
	})
	return session, nil
}

// SubmitPassphrase advances the session to the PIN step on a match. A
// mismatch leaves it at the passphrase step and returns ErrInvalidCredentials.
func (p *Protocol) SubmitPassphrase(ctx context.Context, accountID, sessionID uuid.UUID, passphrase string) (*domain.AuthorizationSession, error) {
	session, err := p.load(ctx, accountID, sessionID, domain.StepPassphrase)
	if err != nil {
		return nil, err
	}

	ok, err := p.creds.MatchPassphrase(ctx, accountID, passphrase)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, p.reject(ctx, session)
	}

	session.Step = domain.StepPIN
	session.PINBuffer = ""
	if err := p.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// PressKey applies one PIN pad key: a digit, KeyClear or KeyBackspace.
// Digits beyond the PIN length are ignored.
func (p *Protocol) PressKey(ctx context.Context, accountID, sessionID uuid.UUID, key string) (*domain.AuthorizationSession, error) {
	session, err := p.load(ctx, accountID, sessionID, domain.StepPIN)
	if err != nil {
		return nil, err
	}

	switch {
	case key == KeyClear:
		session.PINBuffer = ""
	case key == KeyBackspace:
		if n := len(session.PINBuffer); n > 0 {
			session.PINBuffer = session.PINBuffer[:n-1]
		}
	case len(key) == 1 && key[0] >= '0' && key[0] <= '9':
		if len(session.PINBuffer) < p.pinLength {
			session.PINBuffer += key
		}
	default:
		return nil, errors.ErrInvalidPINKey
	}

	if err := p.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// SubmitPIN compares whatever is in the buffer. On a match the target batch
// is authorized and the session discarded. On a mismatch the buffer is
// cleared and the session stays at the PIN step.
func (p *Protocol) SubmitPIN(ctx context.Context, accountID, sessionID uuid.UUID) (*domain.AuthorizationSession, error) {
	session, err := p.load(ctx, accountID, sessionID, domain.StepPIN)
	if err != nil {
		return nil, err
	}

	ok, err := p.creds.MatchPIN(ctx, accountID, session.PINBuffer)
	if err != nil {
		return nil, err
	}
	if !ok {
		session.PINBuffer = ""
		return nil, p.reject(ctx, session)
	}

	if err := p.target.Authorize(ctx, session.TargetBatchID, accountID); err != nil {
		if errors.KindOf(err) != errors.KindPersistence {
			_ = p.sessions.Delete(ctx, session.ID)
		}
		return nil, err
	}

	if err := p.limiter.Reset(ctx, accountID); err != nil {
		p.logger.Warn("Failed to reset authorization failures", map[string]interface{}{
			"account_id": accountID.String(),
			"error":      err.Error(),
		})
	}
	if err := p.sessions.Delete(ctx, session.ID); err != nil {
		p.logger.Warn("Failed to discard authorization session", map[string]interface{}{
			"session_id": session.ID.String(),
			"error":      err.Error(),
		})
	}

	session.Step = domain.StepAuthorized
	session.PINBuffer = ""
	p.logger.Info("Payment authorized", map[string]interface{}{
		"session_id": session.ID.String(),
		"account_id": accountID.String(),
		"batch_id":   session.TargetBatchID,
	})
	return session, nil
}

// Cancel discards the session. It has no other effect and is idempotent.
func (p *Protocol) Cancel(ctx context.Context, accountID, sessionID uuid.UUID) error {
	session, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errors.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if session.AccountID != accountID {
		return errors.ErrSessionNotFound
	}
	return p.sessions.Delete(ctx, sessionID)
}

func (p *Protocol) load(ctx context.Context, accountID, sessionID uuid.UUID, step domain.AuthorizationStep) (*domain.AuthorizationSession, error) {
	session, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.AccountID != accountID {
		return nil, errors.ErrSessionNotFound
	}
	if session.Step != step {
		return nil, errors.ErrWrongStep
	}
	return session, nil
}

// reject records a failed attempt and always answers with the same generic
// error, or ErrAuthorizationLocked once the limit is hit.
func (p *Protocol) reject(ctx context.Context, session *domain.AuthorizationSession) error {
	session.FailedAttempts++

	locked, err := p.limiter.Fail(ctx, session.AccountID)
	if err != nil {
		return err
	}
	if locked {
		_ = p.sessions.Delete(ctx, session.ID)
		p.logger.Warn("Authorization locked out", map[string]interface{}{
			"account_id": session.AccountID.String(),
			"batch_id":   session.TargetBatchID,
		})
		return errors.ErrAuthorizationLocked
	}

	if err := p.sessions.Save(ctx, session); err != nil {
		return err
	}
	p.logger.Warn("Authorization attempt rejected", map[string]interface{}{
		"session_id": session.ID.String(),
		"step":       string(session.Step),
	})
	return errors.ErrInvalidCredentials
}
