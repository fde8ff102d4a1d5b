package handler

import (
	"net/http"

	"github.com/dallo7/korosho/internal/authorization"
	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/logger"
	"github.com/dallo7/korosho/pkg/validator"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// AuthorizationHandler exposes the passphrase and PIN pad protocol.
type AuthorizationHandler struct {
	protocol  *authorization.Protocol
	validator *validator.Validator
	logger    logger.Logger
}

func NewAuthorizationHandler(protocol *authorization.Protocol, val *validator.Validator, log logger.Logger) *AuthorizationHandler {
	return &AuthorizationHandler{protocol: protocol, validator: val, logger: log}
}

type startAuthorizationRequest struct {
	BatchID int64 `json:"batch_id" validate:"required,gt=0"`
}

type passphraseRequest struct {
	Passphrase string `json:"passphrase" validate:"required"`
}

type keyRequest struct {
	Key string `json:"key" validate:"required,max=1"`
}

// sessionView is what clients see of a session; the PIN buffer itself never
// leaves the server.
type sessionView struct {
	ID             uuid.UUID                `json:"id"`
	BatchID        int64                    `json:"batch_id"`
	Step           domain.AuthorizationStep `json:"step"`
	PINDigits      int                      `json:"pin_digits"`
	FailedAttempts int                      `json:"failed_attempts"`
}

func viewOf(s *domain.AuthorizationSession) sessionView {
	return sessionView{
		ID:             s.ID,
		BatchID:        s.TargetBatchID,
		Step:           s.Step,
		PINDigits:      s.PINDigits(),
		FailedAttempts: s.FailedAttempts,
	}
}

// Start opens a session for the caller against a coop_submitted batch.
func (h *AuthorizationHandler) Start(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req startAuthorizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	session, err := h.protocol.Start(r.Context(), actor.ID, req.BatchID)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, viewOf(session))
}

func (h *AuthorizationHandler) SubmitPassphrase(w http.ResponseWriter, r *http.Request) {
	actor, sessionID, ok := h.sessionTarget(w, r)
	if !ok {
		return
	}
	var req passphraseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	session, err := h.protocol.SubmitPassphrase(r.Context(), actor.ID, sessionID, req.Passphrase)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(session))
}

func (h *AuthorizationHandler) PressKey(w http.ResponseWriter, r *http.Request) {
	actor, sessionID, ok := h.sessionTarget(w, r)
	if !ok {
		return
	}
	var req keyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	session, err := h.protocol.PressKey(r.Context(), actor.ID, sessionID, req.Key)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(session))
}

func (h *AuthorizationHandler) SubmitPIN(w http.ResponseWriter, r *http.Request) {
	actor, sessionID, ok := h.sessionTarget(w, r)
	if !ok {
		return
	}

	session, err := h.protocol.SubmitPIN(r.Context(), actor.ID, sessionID)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(session))
}

func (h *AuthorizationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, sessionID, ok := h.sessionTarget(w, r)
	if !ok {
		return
	}
	if err := h.protocol.Cancel(r.Context(), actor.ID, sessionID); err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthorizationHandler) sessionTarget(w http.ResponseWriter, r *http.Request) (*domain.Account, uuid.UUID, bool) {
	actor, ok := actorFromContext(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, uuid.Nil, false
	}
	sessionID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid session ID")
		return nil, uuid.Nil, false
	}
	return actor, sessionID, true
}
