package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/ledgercore/internal/models"
	"github.com/ruralpay/ledgercore/internal/services"
)

// @Summary Create bill
// @Description Registers a bill to be paid from an account
// @Tags Bills
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.CreateBillRequest true "Bill details"
// @Success 201 {object} models.Bill
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /bills [post]
func (h *Handler) CreateBill(w http.ResponseWriter, r *http.Request) {
	var req services.CreateBillRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bill, err := h.bills.CreateBill(r.Context(), identity(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bill)
}

// @Summary List bills
// @Description Lists bills visible to the caller
// @Tags Bills
// @Produce json
// @Security BearerAuth
// @Param client_id query string false "Client filter (admin)"
// @Success 200 {object} object{bills=[]models.Bill}
// @Failure 401 {object} services.ErrorResponse
// @Router /bills [get]
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	bills := h.bills.ListBills(identity(r), r.URL.Query().Get("client_id"))
	if bills == nil {
		bills = []models.Bill{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bills": bills})
}

// @Summary Get bill
// @Description Returns one bill
// @Tags Bills
// @Produce json
// @Security BearerAuth
// @Param billID path string true "Bill ID"
// @Success 200 {object} models.Bill
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /bills/{billID} [get]
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.bills.GetBill(identity(r), chi.URLParam(r, "billID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

type payBillRequest struct {
	AccountID string `json:"account_id" validate:"required"`
}

// @Summary Pay bill
// @Description Pays a bill from the given account
// @Tags Bills
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param billID path string true "Bill ID"
// @Param request body object{account_id=string} true "Paying account"
// @Success 200 {object} object{bill=models.Bill,transaction=services.TransactionResult}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /bills/{billID}/pay [post]
func (h *Handler) PayBill(w http.ResponseWriter, r *http.Request) {
	var req payBillRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	bill, res, err := h.bills.PayBill(r.Context(), identity(r), chi.URLParam(r, "billID"), req.AccountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": bill, "transaction": res})
}

// @Summary Cancel bill
// @Description Cancels an unpaid bill
// @Tags Bills
// @Produce json
// @Security BearerAuth
// @Param billID path string true "Bill ID"
// @Success 200 {object} models.Bill
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /bills/{billID}/cancel [post]
func (h *Handler) CancelBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.bills.CancelBill(r.Context(), identity(r), chi.URLParam(r, "billID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}
