package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/ledgercore/internal/models"
	"github.com/ruralpay/ledgercore/internal/services"
)

// SubmitTransaction applies a deposit, withdrawal, transfer, payment or fee.
// A held deposit is reported with 202.
// @Summary Submit transaction
// @Description Applies a deposit, withdrawal, transfer, payment or fee. Amounts are in cents
// @Tags Transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.TransactionRequest true "Transaction request"
// @Success 201 {object} services.TransactionResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /transactions [post]
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req services.TransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.txs.Submit(r.Context(), identity(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Held {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// @Summary Get transaction
// @Description Returns one ledger entry
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param entryID path string true "Entry ID"
// @Success 200 {object} models.LedgerEntry
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{entryID} [get]
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	entry, err := h.txs.GetEntry(identity(r), chi.URLParam(r, "entryID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// @Summary Get by reference
// @Description Returns every entry sharing a reference
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param reference path string true "Reference"
// @Success 200 {object} object{entries=[]models.LedgerEntry}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/reference/{reference} [get]
func (h *Handler) GetByReference(w http.ResponseWriter, r *http.Request) {
	entries, err := h.txs.EntriesByReference(identity(r), chi.URLParam(r, "reference"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) entryFilter(r *http.Request) (services.EntryFilter, error) {
	q := r.URL.Query()
	since, err := queryTime(r, "since")
	if err != nil {
		return services.EntryFilter{}, services.ErrInvalidRequest
	}
	until, err := queryTime(r, "until")
	if err != nil {
		return services.EntryFilter{}, services.ErrInvalidRequest
	}
	return services.EntryFilter{
		AccountID: q.Get("account_id"),
		ClientID:  q.Get("client_id"),
		Type:      models.EntryType(q.Get("type")),
		Status:    models.EntryStatus(q.Get("status")),
		Category:  q.Get("category"),
		Since:     since,
		Until:     until,
		Limit:     queryLimit(r, 100),
	}, nil
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request, f services.EntryFilter) {
	entries, err := h.txs.ListEntries(identity(r), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// @Summary List transactions
// @Description Lists ledger entries visible to the caller
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param account_id query string false "Account filter"
// @Param type query string false "Entry type"
// @Param status query string false "Entry status"
// @Param since query string false "RFC3339 lower bound"
// @Param until query string false "RFC3339 upper bound"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} object{entries=[]models.LedgerEntry}
// @Failure 400 {object} services.ErrorResponse
// @Router /transactions [get]
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := h.entryFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.listEntries(w, r, f)
}

// @Summary List account transactions
// @Description Lists ledger entries for one account
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param accountID path string true "Account ID"
// @Param type query string false "Entry type"
// @Param status query string false "Entry status"
// @Param since query string false "RFC3339 lower bound"
// @Param until query string false "RFC3339 upper bound"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} object{entries=[]models.LedgerEntry}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /accounts/{accountID}/transactions [get]
func (h *Handler) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := h.entryFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f.AccountID = chi.URLParam(r, "accountID")
	h.listEntries(w, r, f)
}

// @Summary Release hold
// @Description Completes a held deposit
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param entryID path string true "Entry ID"
// @Success 200 {object} models.LedgerEntry
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /transactions/{entryID}/release [post]
func (h *Handler) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	entry, err := h.txs.ReleaseHold(r.Context(), identity(r), chi.URLParam(r, "entryID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

// @Summary Reject hold
// @Description Fails a held deposit
// @Tags Transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param entryID path string true "Entry ID"
// @Param request body object{reason=string} true "Rejection reason"
// @Success 200 {object} models.LedgerEntry
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /transactions/{entryID}/reject [post]
func (h *Handler) RejectHold(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	entry, err := h.txs.RejectHold(r.Context(), identity(r), chi.URLParam(r, "entryID"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// @Summary Reverse transaction
// @Description Posts a compensating entry for a completed one
// @Tags Transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param entryID path string true "Entry ID"
// @Param request body object{reason=string} true "Reversal reason"
// @Success 201 {object} services.TransactionResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /transactions/{entryID}/reverse [post]
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	res, err := h.txs.Reverse(r.Context(), identity(r), chi.URLParam(r, "entryID"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
