package handler

import (
	"net/http"
	"strconv"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/internal/ledger"
	"github.com/dallo7/korosho/pkg/logger"
)

// LedgerHandler serves the admin invoice, history and dashboard views.
type LedgerHandler struct {
	book   *ledger.Book
	logger logger.Logger
}

func NewLedgerHandler(book *ledger.Book, log logger.Logger) *LedgerHandler {
	return &LedgerHandler{book: book, logger: log}
}

// Invoices lists invoices, optionally filtered by ?status=unpaid|paid.
func (h *LedgerHandler) Invoices(w http.ResponseWriter, r *http.Request) {
	status := domain.InvoiceStatus(r.URL.Query().Get("status"))
	list, err := h.book.Invoices(r.Context(), status)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *LedgerHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathInt64(r, "batchID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid batch ID")
		return
	}
	inv, err := h.book.MarkPaid(r.Context(), batchID)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inv)
}

func (h *LedgerHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.book.History(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"history": entries, "count": len(entries)})
}

func (h *LedgerHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.book.Dashboard(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// Activity returns the newest audit entries, ?limit=N (default 100).
func (h *LedgerHandler) Activity(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	logs, err := h.book.Activity(r.Context(), limit)
	if err != nil {
		respondServiceError(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"activity": logs, "count": len(logs)})
}
