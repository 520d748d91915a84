package handlers

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ruralpay/ledgercore/internal/middleware"
	"github.com/ruralpay/ledgercore/internal/models"
	"github.com/ruralpay/ledgercore/internal/services"
	"go.uber.org/zap"
)

const maxBodyBytes = 1_048_576

// Handler exposes the ledger services over HTTP.
type Handler struct {
	accounts   *services.AccountService
	txs        *services.TransactionService
	statements *services.StatementService
	bills      *services.BillService
	deletes    *services.SoftDeleteService
	audit      *services.AuditService
	iso        *services.ISO20022Service
	validator  *services.ValidationHelper
	logger     *zap.Logger
}

type Services struct {
	Accounts     *services.AccountService
	Transactions *services.TransactionService
	Statements   *services.StatementService
	Bills        *services.BillService
	SoftDeletes  *services.SoftDeleteService
	Audit        *services.AuditService
	ISO20022     *services.ISO20022Service
}

func NewHandler(s Services, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		accounts:   s.Accounts,
		txs:        s.Transactions,
		statements: s.Statements,
		bills:      s.Bills,
		deletes:    s.SoftDeletes,
		audit:      s.Audit,
		iso:        s.ISO20022,
		validator:  services.NewValidationHelper(),
		logger:     logger.With(zap.String("component", "HTTPHandler")),
	}
}

func identity(r *http.Request) models.Identity {
	id, _ := middleware.IdentityFrom(r.Context())
	return id
}

// decodeBody reads exactly one JSON object into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendCodedErrorResponse(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendCodedErrorResponse(w, "Request body must only contain a single JSON object", "INVALID_REQUEST", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// decodeJSON is decodeBody followed by struct validation, for requests the
// services do not validate themselves.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !decodeBody(w, r, dst) {
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		services.SendCodedErrorResponse(w, "Validation failed", "INVALID_REQUEST", http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeCSV(w http.ResponseWriter, filename string, rows [][]string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	cw := csv.NewWriter(w)
	cw.WriteAll(rows)
}

// statusFor maps typed service failures onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrAlreadyPaid),
		errors.Is(err, services.ErrNotRestorable),
		errors.Is(err, services.ErrConflict),
		errors.Is(err, services.ErrInvalidState),
		errors.Is(err, services.ErrBillCancelled):
		return http.StatusConflict
	case errors.Is(err, services.ErrInsufficientFunds),
		errors.Is(err, services.ErrDailyLimitExceeded),
		errors.Is(err, services.ErrInvalidDestination),
		errors.Is(err, services.ErrAccountUnavailable):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "Internal server error"
	}
	services.SendCodedErrorResponse(w, msg, services.ErrorCode(err), status, nil)
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func queryLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
