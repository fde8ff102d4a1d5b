package handler

import (
	"net/http"

	"github.com/dallo7/korosho/internal/credential"
	"github.com/dallo7/korosho/pkg/logger"
	"github.com/dallo7/korosho/pkg/validator"
)

// AccountHandler provisions accounts and rotates credentials.
type AccountHandler struct {
	service   *credential.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewAccountHandler(service *credential.Service, val *validator.Validator, log logger.Logger) *AccountHandler {
	return &AccountHandler{service: service, validator: val, logger: log}
}

// Provision creates a cooperative account and returns its temporary password once.
func (h *AccountHandler) Provision(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req credential.ProvisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	result, err := h.service.Provision(r.Context(), actor, &req)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// RotateCredentials replaces the caller's password, passphrase and PIN.
func (h *AccountHandler) RotateCredentials(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req credential.RotateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	if err := h.service.Rotate(r.Context(), actor.ID, &req); err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "credentials_updated"})
}
