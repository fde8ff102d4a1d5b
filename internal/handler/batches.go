package handler

import (
	"net/http"
	"strconv"

	"github.com/dallo7/korosho/internal/batch"
	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"
	"github.com/dallo7/korosho/pkg/logger"
	"github.com/dallo7/korosho/pkg/validator"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// BatchHandler serves the upload, review and payment pipeline endpoints.
type BatchHandler struct {
	service   *batch.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewBatchHandler(service *batch.Service, val *validator.Validator, log logger.Logger) *BatchHandler {
	return &BatchHandler{service: service, validator: val, logger: log}
}

// rowInput is a parsed upload row. Verification results never come from the
// client; they are produced by a verification run held on the server.
type rowInput struct {
	FarmerName    string          `json:"farmer_name" validate:"required"`
	BankName      string          `json:"bank_name" validate:"required"`
	AccountNumber string          `json:"account_number" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"gt=0"`
}

func (in rowInput) toRow() domain.PaymentRow {
	return domain.PaymentRow{
		FarmerName:         validator.Sanitize(in.FarmerName),
		BankName:           validator.Sanitize(in.BankName),
		AccountNumber:      validator.Sanitize(in.AccountNumber),
		Amount:             in.Amount,
		VerificationStatus: domain.VerificationUnverified,
	}
}

type verifyRequest struct {
	Rows []rowInput `json:"rows" validate:"required,min=1,dive"`
}

type submitRequest struct {
	VerificationToken string `json:"verification_token" validate:"required,uuid"`
	Filename          string `json:"filename" validate:"max=255"`
	CooperativeNote   string `json:"cooperative_note" validate:"max=2000"`
}

type adminNoteRequest struct {
	Note string `json:"note" validate:"max=2000"`
}

// Verify runs the uploader verification pass over the posted rows and returns
// the token that Submit needs.
func (h *BatchHandler) Verify(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	rows := make([]domain.PaymentRow, len(req.Rows))
	for i, in := range req.Rows {
		rows[i] = in.toRow()
	}

	report, err := h.service.VerifyRows(r.Context(), actor.ID, rows)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Submit finalizes the caller's verification run into a batch and opens its
// invoice.
func (h *BatchHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}

	token, err := uuid.Parse(req.VerificationToken)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid verification token")
		return
	}

	receipt, err := h.service.FinalizeSubmission(r.Context(), batch.SubmissionRequest{
		AccountID:         actor.ID,
		VerificationToken: token,
		Filename:          validator.Sanitize(req.Filename),
		CooperativeNote:   validator.Sanitize(req.CooperativeNote),
	})
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, receipt)
}

// visibleBatch loads the path batch and hides it from other cooperatives.
func (h *BatchHandler) visibleBatch(w http.ResponseWriter, r *http.Request) (*domain.Batch, bool) {
	actor, ok := actorFromContext(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	id, ok := pathInt64(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid batch ID")
		return nil, false
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return nil, false
	}
	if !batch.CanView(actor, b) {
		respondServiceError(w, h.logger, r, errors.ErrBatchNotFound)
		return nil, false
	}
	return b, true
}

// Summary returns the batch status, row counts and invoice.
func (h *BatchHandler) Summary(w http.ResponseWriter, r *http.Request) {
	b, ok := h.visibleBatch(w, r)
	if !ok {
		return
	}
	summary, err := h.service.Summary(r.Context(), b.ID)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// Rows returns the batch's payment rows.
func (h *BatchHandler) Rows(w http.ResponseWriter, r *http.Request) {
	b, ok := h.visibleBatch(w, r)
	if !ok {
		return
	}
	rows, err := h.service.Rows(r.Context(), b.ID)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"rows": rows, "count": len(rows)})
}

func (h *BatchHandler) SaveAdminNote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid batch ID")
		return
	}
	var req adminNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationErrors(w, errs)
		return
	}
	if err := h.service.SaveAdminNote(r.Context(), id, validator.Sanitize(req.Note)); err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// Queue lists the batches waiting on the caller.
func (h *BatchHandler) Queue(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	batches, err := h.service.Queue(r.Context(), actor)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"batches": batches, "count": len(batches)})
}

// Tick advances the payment pipeline by one step.
func (h *BatchHandler) Tick(w http.ResponseWriter, r *http.Request) {
	b, ok := h.visibleBatch(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil || index < 0 {
		respondError(w, http.StatusBadRequest, "Invalid tick index")
		return
	}
	actor, _ := actorFromContext(r)

	result, err := h.service.Tick(r.Context(), b.ID, index, actor.ID)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
