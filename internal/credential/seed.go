package credential

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/google/uuid"
)

// Unions are the cooperative unions provisioned by default.
var Unions = []string{"CORECU", "LMCU", "TAMCU", "RUNALI", "MAMCU", "TANECU"}

// SeedAccount describes an account with known secrets.
type SeedAccount struct {
	Username        string
	Role            domain.Role
	CooperativeName string
	Product         string
	Password        string
	Passphrase      string
	PIN             string
}

// DefaultSeedAccounts returns the platform admin plus one uploader and one
// approver per union.
func DefaultSeedAccounts() []SeedAccount {
	accounts := []SeedAccount{{
		Username:        "admin",
		Role:            domain.RolePlatformAdmin,
		CooperativeName: "Platform",
		Product:         "All",
		Password:        "admin123",
		Passphrase:      "adminpass",
		PIN:             "987654",
	}}
	for _, union := range Unions {
		short := strings.ToLower(union)
		accounts = append(accounts,
			SeedAccount{
				Username:        short + "_data",
				Role:            domain.RoleDataUploader,
				CooperativeName: union,
				Product:         "Cashew",
				Password:        "coop123",
			},
			SeedAccount{
				Username:        short + "_finance",
				Role:            domain.RoleFinanceApprover,
				CooperativeName: union,
				Product:         "Cashew",
				Password:        "coop123",
				Passphrase:      DefaultApproverPassphrase,
				PIN:             DefaultApproverPIN,
			},
		)
	}
	return accounts
}

// Seed creates the account, or resets its secrets when the username exists.
// It reports whether a new account was created.
func (s *Service) Seed(ctx context.Context, sa SeedAccount) (bool, error) {
	const op = "credential.Seed"

	if sa.Role.HoldsAuthorizationSecrets() && (sa.Passphrase == "" || sa.PIN == "") {
		return false, errors.Validation(op, fmt.Sprintf("%s needs a passphrase and PIN", sa.Username))
	}

	passwordHash, err := s.hasher.Hash(sa.Password)
	if err != nil {
		return false, errors.Wrap(err, "failed to hash password")
	}
	var passphraseHash, pinHash string
	if sa.Role.HoldsAuthorizationSecrets() {
		if passphraseHash, err = s.hasher.Hash(sa.Passphrase); err != nil {
			return false, errors.Wrap(err, "failed to hash passphrase")
		}
		if pinHash, err = s.hasher.Hash(sa.PIN); err != nil {
			return false, errors.Wrap(err, "failed to hash pin")
		}
	}

	existing, err := s.repo.FindByUsername(ctx, sa.Username)
	switch {
	case err == nil:
		if err := s.repo.UpdateCredentials(ctx, existing.ID, passwordHash, passphraseHash, pinHash); err != nil {
			return false, errors.Persistence(op, err)
		}
		return false, nil
	case !errors.Is(err, errors.ErrAccountNotFound):
		return false, errors.Persistence(op, err)
	}

	now := time.Now().UTC()
	account := &domain.Account{
		ID:              uuid.New(),
		Username:        sa.Username,
		Role:            sa.Role,
		CooperativeName: sa.CooperativeName,
		Product:         sa.Product,
		PasswordHash:    passwordHash,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if sa.Role.HoldsAuthorizationSecrets() {
		account.PassphraseHash = &passphraseHash
		account.PINHash = &pinHash
	}
	if account.Product == "" {
		account.Product = defaultProduct
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return false, errors.Persistence(op, err)
	}
	return true, nil
}
