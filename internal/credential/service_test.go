package credential

import (
	"context"
	"testing"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"
	"github.com/dallo7/korosho/pkg/logger"
	"github.com/dallo7/korosho/pkg/random"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, account *domain.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *MockRepository) FindByUsername(ctx context.Context, username string) (*domain.Account, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *MockRepository) UpdateCredentials(ctx context.Context, id uuid.UUID, passwordHash, passphraseHash, pinHash string) error {
	args := m.Called(ctx, id, passwordHash, passphraseHash, pinHash)
	return args.Error(0)
}

type MockActivity struct {
	mock.Mock
}

func (m *MockActivity) RecordActivity(ctx context.Context, entry *domain.ActivityLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func newTestService(repo Repository, activity ActivityRecorder, src random.Source) *Service {
	return NewService(repo, activity, NewBcryptHasher(bcrypt.MinCost), func() random.Source { return src }, logger.NewNop())
}

func approver(t *testing.T, h Hasher) *domain.Account {
	t.Helper()
	pw, err := h.Hash("coop123")
	require.NoError(t, err)
	pp, err := h.Hash(DefaultApproverPassphrase)
	require.NoError(t, err)
	pin, err := h.Hash(DefaultApproverPIN)
	require.NoError(t, err)
	return &domain.Account{
		ID:              uuid.New(),
		Username:        "corecu_finance",
		Role:            domain.RoleFinanceApprover,
		CooperativeName: "CORECU Ltd",
		PasswordHash:    pw,
		PassphraseHash:  &pp,
		PINHash:         &pin,
	}
}

func TestService_MatchPassphraseAndPIN(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, nil, random.New(1))
	acc := approver(t, svc.hasher)
	repo.On("FindByID", mock.Anything, acc.ID).Return(acc, nil)

	ok, err := svc.MatchPassphrase(context.Background(), acc.ID, "cooppass")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.MatchPassphrase(context.Background(), acc.ID, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.MatchPIN(context.Background(), acc.ID, "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.MatchPIN(context.Background(), acc.ID, "12345")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_MatchWithoutSecrets(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, nil, random.New(1))
	uploader := &domain.Account{ID: uuid.New(), Role: domain.RoleDataUploader}
	repo.On("FindByID", mock.Anything, uploader.ID).Return(uploader, nil)

	_, err := svc.MatchPIN(context.Background(), uploader.ID, "123456")
	assert.ErrorIs(t, err, errors.ErrCredentialsNotSet)
}

func TestService_Authenticate(t *testing.T) {
	repo := new(MockRepository)
	svc := newTestService(repo, nil, random.New(1))
	acc := approver(t, svc.hasher)
	repo.On("FindByUsername", mock.Anything, "corecu_finance").Return(acc, nil)
	repo.On("FindByUsername", mock.Anything, "ghost").Return(nil, errors.ErrAccountNotFound)

	got, err := svc.Authenticate(context.Background(), "corecu_finance", "coop123")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	_, err = svc.Authenticate(context.Background(), "corecu_finance", "nope")
	assert.ErrorIs(t, err, errors.ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "ghost", "coop123")
	assert.ErrorIs(t, err, errors.ErrInvalidCredentials)
}

func TestService_Rotate(t *testing.T) {
	t.Run("success clears temp password via repository", func(t *testing.T) {
		repo := new(MockRepository)
		activity := new(MockActivity)
		svc := newTestService(repo, activity, random.New(1))
		acc := approver(t, svc.hasher)

		repo.On("FindByID", mock.Anything, acc.ID).Return(acc, nil)
		repo.On("UpdateCredentials", mock.Anything, acc.ID, mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				assert.True(t, svc.hasher.Matches(args.String(2), "newpass1"))
				assert.True(t, svc.hasher.Matches(args.String(3), "longphrase"))
				assert.True(t, svc.hasher.Matches(args.String(4), "654321"))
			}).Return(nil)
		activity.On("RecordActivity", mock.Anything, mock.MatchedBy(func(e *domain.ActivityLog) bool {
			return e.Action == domain.ActionPasswordChange
		})).Return(nil)

		err := svc.Rotate(context.Background(), acc.ID, &RotateRequest{
			Password: "newpass1", ConfirmPassword: "newpass1", Passphrase: "longphrase", PIN: "654321",
		})
		require.NoError(t, err)
		repo.AssertExpectations(t)
		activity.AssertExpectations(t)
	})

	tests := []struct {
		name string
		req  RotateRequest
		msg  string
	}{
		{"missing field", RotateRequest{Password: "abcdef", ConfirmPassword: "abcdef", Passphrase: "longphrase"}, "all fields are required"},
		{"mismatch", RotateRequest{Password: "abcdef", ConfirmPassword: "abcdeg", Passphrase: "longphrase", PIN: "123456"}, "passwords do not match"},
		{"short password", RotateRequest{Password: "abc", ConfirmPassword: "abc", Passphrase: "longphrase", PIN: "123456"}, "password must be at least 6 characters"},
		{"short passphrase", RotateRequest{Password: "abcdef", ConfirmPassword: "abcdef", Passphrase: "short", PIN: "123456"}, "passphrase must be at least 8 characters"},
		{"pin letters", RotateRequest{Password: "abcdef", ConfirmPassword: "abcdef", Passphrase: "longphrase", PIN: "12a456"}, "PIN must be exactly 6 digits"},
		{"pin length", RotateRequest{Password: "abcdef", ConfirmPassword: "abcdef", Passphrase: "longphrase", PIN: "1234567"}, "PIN must be exactly 6 digits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			svc := newTestService(repo, nil, random.New(1))

			err := svc.Rotate(context.Background(), uuid.New(), &tt.req)
			require.Error(t, err)
			assert.Equal(t, errors.KindValidation, errors.KindOf(err))
			assert.Contains(t, err.Error(), tt.msg)
			repo.AssertNotCalled(t, "UpdateCredentials", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestService_Provision(t *testing.T) {
	t.Run("approver gets default secrets and temp password", func(t *testing.T) {
		repo := new(MockRepository)
		activity := new(MockActivity)
		svc := newTestService(repo, activity, &random.Scripted{Ints: []int{4321}})
		admin := &domain.Account{ID: uuid.New(), Role: domain.RolePlatformAdmin, CooperativeName: "Platform"}

		repo.On("FindByUsername", mock.Anything, "lmcu_finance").Return(nil, errors.ErrAccountNotFound)
		repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Account")).Return(nil)
		activity.On("RecordActivity", mock.Anything, mock.Anything).Return(nil)

		res, err := svc.Provision(context.Background(), admin, &ProvisionRequest{
			Username: "lmcu_finance", CooperativeName: "LMCU Ltd", Role: domain.RoleFinanceApprover,
		})
		require.NoError(t, err)
		assert.Equal(t, "LMCU14321", res.TempPassword)
		assert.Equal(t, "Not Specified", res.Account.Product)
		require.NotNil(t, res.Account.PassphraseHash)
		require.NotNil(t, res.Account.PINHash)
		assert.True(t, svc.hasher.Matches(*res.Account.PassphraseHash, "cooppass"))
		assert.True(t, svc.hasher.Matches(*res.Account.PINHash, "123456"))
		assert.True(t, svc.hasher.Matches(res.Account.PasswordHash, "LMCU14321"))
	})

	t.Run("uploader has no authorization secrets", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newTestService(repo, nil, random.New(3))
		admin := &domain.Account{ID: uuid.New(), Role: domain.RolePlatformAdmin}

		repo.On("FindByUsername", mock.Anything, "lmcu_data").Return(nil, errors.ErrAccountNotFound)
		repo.On("Create", mock.Anything, mock.Anything).Return(nil)

		res, err := svc.Provision(context.Background(), admin, &ProvisionRequest{
			Username: "lmcu_data", CooperativeName: "LMCU Ltd", Role: domain.RoleDataUploader, Product: "Cashew",
		})
		require.NoError(t, err)
		assert.Nil(t, res.Account.PassphraseHash)
		assert.Nil(t, res.Account.PINHash)
		assert.Regexp(t, `^LMCU(1\d{4}|20000)$`, res.TempPassword)
	})

	t.Run("duplicate username", func(t *testing.T) {
		repo := new(MockRepository)
		svc := newTestService(repo, nil, random.New(3))
		admin := &domain.Account{ID: uuid.New(), Role: domain.RolePlatformAdmin}
		repo.On("FindByUsername", mock.Anything, "taken").Return(&domain.Account{}, nil)

		_, err := svc.Provision(context.Background(), admin, &ProvisionRequest{
			Username: "taken", CooperativeName: "LMCU Ltd", Role: domain.RoleDataUploader,
		})
		assert.ErrorIs(t, err, errors.ErrAccountAlreadyExists)
	})

	t.Run("approver cannot provision for another cooperative", func(t *testing.T) {
		svc := newTestService(new(MockRepository), nil, random.New(3))
		actor := &domain.Account{ID: uuid.New(), Role: domain.RoleFinanceApprover, CooperativeName: "CORECU Ltd"}

		_, err := svc.Provision(context.Background(), actor, &ProvisionRequest{
			Username: "x_data", CooperativeName: "LMCU Ltd", Role: domain.RoleDataUploader,
		})
		assert.ErrorIs(t, err, errors.ErrForbidden)
	})

	t.Run("uploader cannot provision", func(t *testing.T) {
		svc := newTestService(new(MockRepository), nil, random.New(3))
		actor := &domain.Account{ID: uuid.New(), Role: domain.RoleDataUploader}

		_, err := svc.Provision(context.Background(), actor, &ProvisionRequest{
			Username: "x", CooperativeName: "LMCU Ltd", Role: domain.RoleDataUploader,
		})
		assert.ErrorIs(t, err, errors.ErrForbidden)
	})
}
