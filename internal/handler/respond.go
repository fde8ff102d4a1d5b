// Package handler provides the portal's HTTP handlers.
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/internal/middleware"
	"github.com/dallo7/korosho/pkg/errors"
	"github.com/dallo7/korosho/pkg/logger"

	"github.com/gorilla/mux"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondValidationErrors(w http.ResponseWriter, errs map[string]string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":             "Validation failed",
		"validation_errors": errs,
	})
}

// statusFor maps an error kind to its HTTP status. Business rejections that
// conflict with current state use 409.
func statusFor(err error) int {
	switch errors.KindOf(err) {
	case errors.KindValidation:
		switch {
		case errors.Is(err, errors.ErrBatchNotAuthorized),
			errors.Is(err, errors.ErrBatchAlreadyProcessed),
			errors.Is(err, errors.ErrBatchStatusConflict),
			errors.Is(err, errors.ErrPipelineInFlight),
			errors.Is(err, errors.ErrAccountAlreadyExists),
			errors.Is(err, errors.ErrInvoiceAlreadyPaid),
			errors.Is(err, errors.ErrCommissionAlreadyRecorded),
			errors.Is(err, errors.ErrDuplicateRequest):
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case errors.KindAuth:
		if errors.Is(err, errors.ErrForbidden) {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case errors.KindLocked:
		return http.StatusLocked
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes err with its mapped status and a machine
// readable code. Storage failures carry the persistence_failure code so
// clients can tell them apart from business rejections and retry.
func respondServiceError(w http.ResponseWriter, log logger.Logger, r *http.Request, err error) {
	status := statusFor(err)
	kind := errors.KindOf(err)

	message := err.Error()
	switch kind {
	case errors.KindAuth:
		if !errors.Is(err, errors.ErrForbidden) {
			message = errors.ErrInvalidCredentials.Error()
		}
	case errors.KindPersistence, errors.KindUnknown:
		log.Error("Request failed", map[string]interface{}{
			"path":       r.URL.Path,
			"request_id": middleware.RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		})
		message = "The operation could not be completed; please retry"
	}

	respondJSON(w, status, map[string]string{
		"error": message,
		"code":  kind.String(),
	})
}

// decodeJSON reads a JSON body capped at 1MB into dst. It writes the error
// response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// actorFromContext rebuilds the caller's account from token claims.
func actorFromContext(r *http.Request) (*domain.Account, bool) {
	id, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		return nil, false
	}
	role, ok := middleware.RoleFromContext(r.Context())
	if !ok {
		return nil, false
	}
	coop, _ := middleware.CooperativeFromContext(r.Context())
	return &domain.Account{ID: id, Role: role, CooperativeName: coop}, true
}

func pathInt64(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
