package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/ledgercore/internal/models"
	"github.com/ruralpay/ledgercore/internal/services"
)

// statement resolves ?start and ?end. A date-only end covers that whole day;
// the defaults are the last 30 days.
func (h *Handler) statement(r *http.Request) (*models.Statement, error) {
	start, err := queryTime(r, "start")
	if err != nil {
		return nil, services.ErrInvalidRequest
	}
	end, err := queryTime(r, "end")
	if err != nil {
		return nil, services.ErrInvalidRequest
	}
	if v := r.URL.Query().Get("end"); len(v) == len("2006-01-02") {
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}
	return h.statements.Build(identity(r), chi.URLParam(r, "accountID"), start, end)
}

// @Summary Get statement
// @Description Builds an account statement for a date range
// @Tags Statements
// @Produce json
// @Security BearerAuth
// @Param accountID path string true "Account ID"
// @Param start query string false "Start date (YYYY-MM-DD)"
// @Param end query string false "End date (YYYY-MM-DD)"
// @Success 200 {object} models.Statement
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{accountID}/statement [get]
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	st, err := h.statement(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// @Summary Export statement
// @Description Exports a statement as CSV
// @Tags Statements
// @Produce text/csv
// @Security BearerAuth
// @Param accountID path string true "Account ID"
// @Param start query string false "Start date (YYYY-MM-DD)"
// @Param end query string false "End date (YYYY-MM-DD)"
// @Success 200 {string} string
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{accountID}/statement/export [get]
func (h *Handler) ExportStatement(w http.ResponseWriter, r *http.Request) {
	st, err := h.statement(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeCSV(w, "statement-"+st.AccountNumber+".csv", services.ExportStatementRows(st))
}
