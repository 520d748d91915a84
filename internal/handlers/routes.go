package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/ledgercore/internal/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

// RegisterRoutes mounts the API under /api/v1. Every route but health and
// the Swagger UI requires a bearer token.
func RegisterRoutes(r chi.Router, h *Handler, auth *middleware.Authenticator) {
	r.Get("/health", h.Health)

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/", h.ListAccounts)
			r.Route("/{accountID}", func(r chi.Router) {
				r.Get("/", h.GetAccount)
				r.Get("/transactions", h.ListAccountTransactions)
				r.Get("/statement", h.GetStatement)
				r.Get("/statement/export", h.ExportStatement)
				r.With(middleware.RequireAdmin).Put("/status", h.SetAccountStatus)
				r.With(middleware.RequireAdmin).Post("/reconcile", h.ReconcileAccount)
			})
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.SubmitTransaction)
			r.Get("/", h.ListTransactions)
			r.Get("/reference/{reference}", h.GetByReference)
			r.Get("/{entryID}", h.GetTransaction)
			r.With(middleware.RequireAdmin).Post("/{entryID}/release", h.ReleaseHold)
			r.With(middleware.RequireAdmin).Post("/{entryID}/reject", h.RejectHold)
			r.With(middleware.RequireAdmin).Post("/{entryID}/reverse", h.ReverseTransaction)
		})

		r.Route("/transfers/{reference}", func(r chi.Router) {
			r.Get("/pacs008", h.GetPacs008)
			r.Get("/pacs002", h.GetPacs002)
		})

		r.Route("/bills", func(r chi.Router) {
			r.Post("/", h.CreateBill)
			r.Get("/", h.ListBills)
			r.Get("/{billID}", h.GetBill)
			r.Post("/{billID}/pay", h.PayBill)
			r.Post("/{billID}/cancel", h.CancelBill)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/audit", h.QueryAudit)
			r.Get("/audit/export", h.ExportAudit)
			r.Get("/security-events", h.ListSecurityEvents)
			r.Post("/security-events/{eventID}/resolve", h.ResolveSecurityEvent)
			r.Post("/login-attempts", h.RecordLoginAttempt)
			r.Get("/deleted", h.ListDeleted)
			r.Get("/deleted/{tombstoneID}", h.GetDeleted)
			r.Delete("/records/{table}/{recordID}", h.DeleteRecord)
			r.Post("/deleted/{tombstoneID}/restore", h.RestoreRecord)
		})
	})
}

// @Summary Health check
// @Description Reports liveness and dropped audit events
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,audit_dropped=int64}
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"audit_dropped": h.audit.Dropped(),
	})
}
