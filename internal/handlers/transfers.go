package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GetPacs008 renders a completed transfer as an ISO 20022 credit transfer.
// @Summary Get pacs.008
// @Description Renders the transfer as an ISO 20022 credit transfer message
// @Tags Transfers
// @Produce xml
// @Security BearerAuth
// @Param reference path string true "Transfer reference"
// @Success 200 {string} string
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /transfers/{reference}/pacs008 [get]
func (h *Handler) GetPacs008(w http.ResponseWriter, r *http.Request) {
	pair, err := h.iso.LoadPair(identity(r), chi.URLParam(r, "reference"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	doc, err := h.iso.CreatePacs008(pair)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeXML(w, r, doc)
}

// GetPacs002 renders the transfer's current status report.
// @Summary Get pacs.002
// @Description Renders the transfer status report
// @Tags Transfers
// @Produce xml
// @Security BearerAuth
// @Param reference path string true "Transfer reference"
// @Success 200 {string} string
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /transfers/{reference}/pacs002 [get]
func (h *Handler) GetPacs002(w http.ResponseWriter, r *http.Request) {
	pair, err := h.iso.LoadPair(identity(r), chi.URLParam(r, "reference"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	doc, err := h.iso.CreatePacs002(pair)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeXML(w, r, doc)
}

func (h *Handler) writeXML(w http.ResponseWriter, r *http.Request, doc any) {
	xmlData, err := h.iso.ConvertToXML(doc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xmlData))
}
