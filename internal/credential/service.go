// Package credential stores and checks account passwords, passphrases and PINs.
package credential

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"
	"github.com/dallo7/korosho/pkg/logger"
	"github.com/dallo7/korosho/pkg/random"

	"github.com/google/uuid"
)

// Secrets handed to newly provisioned approvers until they rotate.
const (
	DefaultApproverPassphrase = "cooppass"
	DefaultApproverPIN        = "123456"
	defaultProduct            = "Not Specified"
)

// Repository persists accounts.
type Repository interface {
	Create(ctx context.Context, account *domain.Account) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	FindByUsername(ctx context.Context, username string) (*domain.Account, error)
	// UpdateCredentials replaces all three hashes and clears the temporary
	// password. An empty passphrase or PIN hash clears that secret.
	UpdateCredentials(ctx context.Context, id uuid.UUID, passwordHash, passphraseHash, pinHash string) error
}

// ActivityRecorder appends audit entries.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, entry *domain.ActivityLog) error
}

// Service answers credential match queries and manages account secrets.
type Service struct {
	repo     Repository
	activity ActivityRecorder
	hasher   Hasher
	rand     random.Factory
	logger   logger.Logger
}

// NewService constructs a credential Service.
func NewService(repo Repository, activity ActivityRecorder, hasher Hasher, rand random.Factory, log logger.Logger) *Service {
	return &Service{
		repo:     repo,
		activity: activity,
		hasher:   hasher,
		rand:     rand,
		logger:   log,
	}
}

// Authenticate checks a username/password pair. Unknown users and wrong
// passwords produce the same error.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*domain.Account, error) {
	account, err := s.repo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, errors.ErrAccountNotFound) {
			return nil, errors.ErrInvalidCredentials
		}
		return nil, errors.Persistence("credential.Authenticate", err)
	}
	if !s.hasher.Matches(account.PasswordHash, password) {
		return nil, errors.ErrInvalidCredentials
	}
	return account, nil
}

// MatchPassphrase reports whether passphrase matches the account's stored hash.
func (s *Service) MatchPassphrase(ctx context.Context, accountID uuid.UUID, passphrase string) (bool, error) {
	account, err := s.secretsHolder(ctx, accountID)
	if err != nil {
		return false, err
	}
	return s.hasher.Matches(*account.PassphraseHash, passphrase), nil
}

// MatchPIN reports whether pin matches the account's stored hash. No length
// check happens here.
func (s *Service) MatchPIN(ctx context.Context, accountID uuid.UUID, pin string) (bool, error) {
	account, err := s.secretsHolder(ctx, accountID)
	if err != nil {
		return false, err
	}
	return s.hasher.Matches(*account.PINHash, pin), nil
}

func (s *Service) secretsHolder(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, errors.ErrAccountNotFound) {
			return nil, err
		}
		return nil, errors.Persistence("credential.lookup", err)
	}
	if account.PassphraseHash == nil || account.PINHash == nil {
		return nil, errors.ErrCredentialsNotSet
	}
	return account, nil
}

// RotateRequest carries a full credential rotation.
type RotateRequest struct {
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
	Passphrase      string `json:"passphrase" validate:"required,min=8"`
	PIN             string `json:"pin" validate:"required,pin"`
}

// Rotate re-hashes password, passphrase and PIN together and clears any
// temporary password. Only approvers and admins hold rotatable secrets.
func (s *Service) Rotate(ctx context.Context, accountID uuid.UUID, req *RotateRequest) error {
	if err := checkRotation(req); err != nil {
		return err
	}

	account, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, errors.ErrAccountNotFound) {
			return err
		}
		return errors.Persistence("credential.Rotate", err)
	}
	if !account.Role.HoldsAuthorizationSecrets() {
		return errors.ErrForbidden
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return errors.Wrap(err, "failed to hash password")
	}
	passphraseHash, err := s.hasher.Hash(req.Passphrase)
	if err != nil {
		return errors.Wrap(err, "failed to hash passphrase")
	}
	pinHash, err := s.hasher.Hash(req.PIN)
	if err != nil {
		return errors.Wrap(err, "failed to hash pin")
	}

	if err := s.repo.UpdateCredentials(ctx, accountID, passwordHash, passphraseHash, pinHash); err != nil {
		return errors.Persistence("credential.Rotate", err)
	}

	s.record(ctx, account, domain.ActionPasswordChange,
		fmt.Sprintf("User '%s' changed password, passphrase, and PIN.", account.Username))
	s.logger.Info("Credentials rotated", map[string]interface{}{
		"account_id": accountID.String(),
	})
	return nil
}

func checkRotation(req *RotateRequest) error {
	const op = "credential.Rotate"
	switch {
	case req.Password == "" || req.ConfirmPassword == "" || req.Passphrase == "" || req.PIN == "":
		return errors.Validation(op, "all fields are required")
	case req.Password != req.ConfirmPassword:
		return errors.Validation(op, "passwords do not match")
	case len(req.Password) < 6:
		return errors.Validation(op, "password must be at least 6 characters")
	case len(req.Passphrase) < 8:
		return errors.Validation(op, "passphrase must be at least 8 characters")
	case !isPIN(req.PIN):
		return errors.Validation(op, "PIN must be exactly 6 digits")
	}
	return nil
}

func isPIN(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ProvisionRequest describes a new cooperative account.
type ProvisionRequest struct {
	Username        string      `json:"username" validate:"required,min=3,max=64"`
	CooperativeName string      `json:"cooperative_name" validate:"required,coop_name"`
	Role            domain.Role `json:"role" validate:"required,oneof=data_uploader finance_approver"`
	Product         string      `json:"product"`
}

// ProvisionResult returns the created account and its one-time password.
type ProvisionResult struct {
	Account      *domain.Account `json:"account"`
	TempPassword string          `json:"temp_password"`
}

// Provision creates a cooperative account with a temporary password of the
// form <COOP_SHORT><10000..20000>. Approvers also receive the default
// passphrase and PIN. Approvers may only provision for their own cooperative.
func (s *Service) Provision(ctx context.Context, actor *domain.Account, req *ProvisionRequest) (*ProvisionResult, error) {
	const op = "credential.Provision"

	if actor == nil || !actor.Role.HoldsAuthorizationSecrets() {
		return nil, errors.ErrForbidden
	}
	if req.Role != domain.RoleDataUploader && req.Role != domain.RoleFinanceApprover {
		return nil, errors.Validation(op, "role must be data_uploader or finance_approver")
	}
	username := strings.TrimSpace(req.Username)
	coop := strings.TrimSpace(req.CooperativeName)
	if username == "" || coop == "" {
		return nil, errors.Validation(op, "username, cooperative, and role are required")
	}
	if actor.Role == domain.RoleFinanceApprover && !strings.EqualFold(actor.CooperativeName, coop) {
		return nil, errors.ErrForbidden
	}

	if _, err := s.repo.FindByUsername(ctx, username); err == nil {
		return nil, errors.ErrAccountAlreadyExists
	} else if !errors.Is(err, errors.ErrAccountNotFound) {
		return nil, errors.Persistence(op, err)
	}

	temp := fmt.Sprintf("%s%d", domain.CoopShort(coop), 10000+s.rand().IntN(10001))
	passwordHash, err := s.hasher.Hash(temp)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash password")
	}

	product := strings.TrimSpace(req.Product)
	if product == "" {
		product = defaultProduct
	}

	now := time.Now().UTC()
	account := &domain.Account{
		ID:              uuid.New(),
		Username:        username,
		Role:            req.Role,
		CooperativeName: coop,
		Product:         product,
		PasswordHash:    passwordHash,
		TempPassword:    &temp,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if req.Role == domain.RoleFinanceApprover {
		passphraseHash, err := s.hasher.Hash(DefaultApproverPassphrase)
		if err != nil {
			return nil, errors.Wrap(err, "failed to hash passphrase")
		}
		pinHash, err := s.hasher.Hash(DefaultApproverPIN)
		if err != nil {
			return nil, errors.Wrap(err, "failed to hash pin")
		}
		account.PassphraseHash = &passphraseHash
		account.PINHash = &pinHash
	}

	if err := s.repo.Create(ctx, account); err != nil {
		if errors.Is(err, errors.ErrAccountAlreadyExists) {
			return nil, err
		}
		return nil, errors.Persistence(op, err)
	}

	s.record(ctx, actor, domain.ActionUserCreated,
		fmt.Sprintf("Created new '%s' user: %s for %s.", req.Role, username, coop))
	s.logger.Info("Account provisioned", map[string]interface{}{
		"account_id":  account.ID.String(),
		"role":        string(account.Role),
		"cooperative": coop,
		"actor_id":    actor.ID.String(),
	})

	return &ProvisionResult{Account: account, TempPassword: temp}, nil
}

func (s *Service) record(ctx context.Context, actor *domain.Account, action, details string) {
	if s.activity == nil {
		return
	}
	id := actor.ID
	entry := &domain.ActivityLog{
		ID:              uuid.New(),
		AccountID:       &id,
		CooperativeName: actor.CooperativeName,
		Action:          action,
		Details:         details,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.activity.RecordActivity(ctx, entry); err != nil {
		s.logger.Warn("Failed to record activity", map[string]interface{}{
			"action": action,
			"error":  err.Error(),
		})
	}
}
