// Package auth implements portal login and session token issuance.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"
	"github.com/dallo7/korosho/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token claim names shared with the HTTP middleware.
const (
	ClaimAccountID   = "account_id"
	ClaimRole        = "role"
	ClaimCooperative = "cooperative_name"
)

// Authenticator checks a username/password pair.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*domain.Account, error)
}

// ActivityRecorder appends audit entries.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, entry *domain.ActivityLog) error
}

// Service provides login and token issuance.
type Service struct {
	creds     Authenticator
	activity  ActivityRecorder
	jwtSecret string
	jwtExpiry time.Duration
	logger    logger.Logger
	now       func() time.Time
}

// NewService constructs a Service with the given credential checker and JWT settings.
func NewService(creds Authenticator, activity ActivityRecorder, jwtSecret string, jwtExpiry time.Duration, log logger.Logger) *Service {
	return &Service{
		creds:     creds,
		activity:  activity,
		jwtSecret: jwtSecret,
		jwtExpiry: jwtExpiry,
		logger:    log,
		now:       time.Now,
	}
}

// LoginRequest captures credentials for login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// TokenResponse is returned on successful login.
type TokenResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Account     *domain.Account `json:"account"`
	// MustRotate is set while the account still carries its temporary password.
	MustRotate bool `json:"must_rotate"`
}

// Login authenticates an account and returns a signed token.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*TokenResponse, error) {
	account, err := s.creds.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidCredentials) {
			s.logger.Warn("Login rejected", map[string]interface{}{
				"username": req.Username,
			})
		}
		return nil, err
	}

	resp, err := s.generateToken(account)
	if err != nil {
		return nil, err
	}

	s.recordLogin(ctx, account)
	s.logger.Info("Login succeeded", map[string]interface{}{
		"account_id": account.ID.String(),
		"role":       string(account.Role),
	})
	return resp, nil
}

func (s *Service) generateToken(account *domain.Account) (*TokenResponse, error) {
	now := s.now()
	expiresAt := now.Add(s.jwtExpiry)

	claims := jwt.MapClaims{
		ClaimAccountID:   account.ID.String(),
		ClaimRole:        string(account.Role),
		ClaimCooperative: account.CooperativeName,
		"exp":            expiresAt.Unix(),
		"iat":            now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessToken, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &TokenResponse{
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
		Account:     account,
		MustRotate:  account.TempPassword != nil,
	}, nil
}

func (s *Service) recordLogin(ctx context.Context, account *domain.Account) {
	if s.activity == nil {
		return
	}
	id := account.ID
	entry := &domain.ActivityLog{
		ID:              uuid.New(),
		AccountID:       &id,
		CooperativeName: account.CooperativeName,
		Action:          domain.ActionLogin,
		Details:         fmt.Sprintf("User '%s' logged in.", account.Username),
		CreatedAt:       s.now().UTC(),
	}
	if err := s.activity.RecordActivity(ctx, entry); err != nil {
		s.logger.Warn("Failed to record activity", map[string]interface{}{
			"action": domain.ActionLogin,
			"error":  err.Error(),
		})
	}
}
