package handler

import (
	"net/http"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/internal/middleware"
	"github.com/dallo7/korosho/pkg/logger"

	"github.com/gorilla/mux"
)

// Router bundles the handlers and middleware the portal routes need.
// RateLimit and Idempotency are optional.
type Router struct {
	Auth          *AuthHandler
	Accounts      *AccountHandler
	Batches       *BatchHandler
	Authorization *AuthorizationHandler
	Ledger        *LedgerHandler
	Notifications *NotificationHandler

	Authenticator *middleware.AuthMiddleware
	RateLimit     *middleware.RateLimiter
	Idempotency   *middleware.IdempotencyMiddleware
	Logger        logger.Logger
}

// Build registers every route on a new mux router.
func (rt *Router) Build() *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.CORS)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery(rt.Logger))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(rt.Logger).Log)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "portal"})
	}).Methods(http.MethodGet)

	// Preflight requests only need the CORS headers.
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/login", rt.Auth.Login).Methods(http.MethodPost)

	protected := api.NewRoute().Subrouter()
	protected.Use(rt.Authenticator.Authenticate)
	if rt.RateLimit != nil {
		protected.Use(rt.RateLimit.Limit)
	}
	if rt.Idempotency != nil {
		protected.Use(rt.Idempotency.Handle)
	}

	admin := []domain.Role{domain.RolePlatformAdmin}
	approvers := []domain.Role{domain.RolePlatformAdmin, domain.RoleFinanceApprover}
	uploader := []domain.Role{domain.RoleDataUploader}
	anyone := []domain.Role{domain.RolePlatformAdmin, domain.RoleFinanceApprover, domain.RoleDataUploader}

	handle := func(path string, roles []domain.Role, fn http.HandlerFunc, methods ...string) {
		protected.Handle(path, middleware.RequireRole(roles...)(fn)).Methods(methods...)
	}

	handle("/auth/logout", anyone, rt.Auth.Logout, http.MethodPost)

	handle("/accounts", approvers, rt.Accounts.Provision, http.MethodPost)
	handle("/accounts/me/credentials", approvers, rt.Accounts.RotateCredentials, http.MethodPut)

	handle("/verifications", uploader, rt.Batches.Verify, http.MethodPost)
	handle("/batches", uploader, rt.Batches.Submit, http.MethodPost)
	handle("/batches/{id:[0-9]+}", anyone, rt.Batches.Summary, http.MethodGet)
	handle("/batches/{id:[0-9]+}/rows", anyone, rt.Batches.Rows, http.MethodGet)
	handle("/batches/{id:[0-9]+}/admin-note", admin, rt.Batches.SaveAdminNote, http.MethodPut)
	handle("/batches/{id:[0-9]+}/ticks/{index:[0-9]+}", approvers, rt.Batches.Tick, http.MethodPost)
	handle("/cooperatives/queue", approvers, rt.Batches.Queue, http.MethodGet)

	handle("/authorizations", approvers, rt.Authorization.Start, http.MethodPost)
	handle("/authorizations/{id}/passphrase", approvers, rt.Authorization.SubmitPassphrase, http.MethodPost)
	handle("/authorizations/{id}/keys", approvers, rt.Authorization.PressKey, http.MethodPost)
	handle("/authorizations/{id}/pin", approvers, rt.Authorization.SubmitPIN, http.MethodPost)
	handle("/authorizations/{id}", approvers, rt.Authorization.Cancel, http.MethodDelete)

	handle("/invoices", admin, rt.Ledger.Invoices, http.MethodGet)
	handle("/invoices/{batchID:[0-9]+}/paid", admin, rt.Ledger.MarkPaid, http.MethodPost)
	handle("/history", admin, rt.Ledger.History, http.MethodGet)
	handle("/dashboard", admin, rt.Ledger.Dashboard, http.MethodGet)
	handle("/activity", admin, rt.Ledger.Activity, http.MethodGet)

	if rt.Notifications != nil {
		ws := r.PathPrefix("/ws").Subrouter()
		ws.Use(rt.Authenticator.Authenticate)
		ws.HandleFunc("/notifications", rt.Notifications.Stream).Methods(http.MethodGet)
	}

	return r
}
