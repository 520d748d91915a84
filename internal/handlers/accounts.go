package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/ledgercore/internal/models"
	"github.com/ruralpay/ledgercore/internal/services"
)

// @Summary Open account
// @Description Opens an account for the caller, or for owner_id when called by an admin
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.CreateAccountRequest true "Account details"
// @Success 201 {object} models.Account
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /accounts [post]
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var req services.CreateAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = id.UserID
	}

	acct, err := h.accounts.CreateAccount(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// @Summary List accounts
// @Description Lists the caller's accounts; admins may filter by owner
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Param owner_id query string false "Owner filter (admin)"
// @Success 200 {object} object{accounts=[]models.Account}
// @Failure 401 {object} services.ErrorResponse
// @Router /accounts [get]
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := h.accounts.ListAccounts(identity(r), r.URL.Query().Get("owner_id"))
	if accounts == nil {
		accounts = []models.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

// @Summary Get account
// @Description Returns one account with its cached balance
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Param accountID path string true "Account ID"
// @Success 200 {object} models.Account
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{accountID} [get]
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.accounts.GetAccount(identity(r), chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type statusRequest struct {
	Status models.AccountStatus `json:"status" validate:"required,oneof=active suspended closed"`
	Reason string               `json:"reason" validate:"max=255"`
}

// @Summary Set account status
// @Description Suspends, closes or reactivates an account
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param accountID path string true "Account ID"
// @Param request body object{status=string,reason=string} true "New status"
// @Success 200 {object} models.Account
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /accounts/{accountID}/status [put]
func (h *Handler) SetAccountStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	acct, err := h.accounts.SetStatus(r.Context(), identity(r), chi.URLParam(r, "accountID"), req.Status, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// @Summary Reconcile account
// @Description Repairs drift between the cached balance and the ledger
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Param accountID path string true "Account ID"
// @Success 200 {object} object{account_id=string,drift=int64}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{accountID}/reconcile [post]
func (h *Handler) ReconcileAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	drift, err := h.accounts.Reconcile(r.Context(), identity(r), accountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": accountID, "drift": drift})
}
