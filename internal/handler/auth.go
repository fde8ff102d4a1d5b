package handler

import (
	"net/http"
	"time"

	"github.com/dallo7/korosho/internal/auth"
	"github.com/dallo7/korosho/internal/middleware"
	"github.com/dallo7/korosho/pkg/logger"
	"github.com/dallo7/korosho/pkg/validator"
)

// AuthHandler handles login and logout.
type AuthHandler struct {
	service   *auth.Service
	blacklist middleware.TokenBlacklist
	validator *validator.Validator
	logger    logger.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(service *auth.Service, blacklist middleware.TokenBlacklist, val *validator.Validator, log logger.Logger) *AuthHandler {
	return &AuthHandler{
		service:   service,
		blacklist: blacklist,
		validator: val,
		logger:    log,
	}
}

// Login authenticates an account and returns a token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	response, err := h.service.Login(r.Context(), &req)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, response)
}

// Logout revokes the caller's token until it would have expired.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, exp, ok := middleware.TokenFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if h.blacklist != nil {
		ttl := time.Until(exp)
		if ttl <= 0 {
			ttl = time.Minute
		}
		if err := h.blacklist.Blacklist(r.Context(), token, ttl); err != nil {
			h.logger.Error("Failed to revoke token", map[string]interface{}{"error": err.Error()})
			respondError(w, http.StatusServiceUnavailable, "Logout failed")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
