package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/ledgercore/internal/models"
	"github.com/ruralpay/ledgercore/internal/services"
)

func auditFilter(r *http.Request) (services.AuditFilter, error) {
	q := r.URL.Query()
	since, err := queryTime(r, "since")
	if err != nil {
		return services.AuditFilter{}, services.ErrInvalidRequest
	}
	until, err := queryTime(r, "until")
	if err != nil {
		return services.AuditFilter{}, services.ErrInvalidRequest
	}
	return services.AuditFilter{
		ActorID:    q.Get("actor_id"),
		Action:     q.Get("action"),
		Resource:   q.Get("resource"),
		ResourceID: q.Get("resource_id"),
		Severity:   models.Severity(q.Get("severity")),
		Outcome:    models.Outcome(q.Get("outcome")),
		Since:      since,
		Until:      until,
	}, nil
}

// @Summary Query audit log
// @Description Filters the audit trail
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param actor_id query string false "Actor"
// @Param action query string false "Action"
// @Param severity query string false "Severity"
// @Param limit query int false "Maximum events"
// @Success 200 {object} object{events=[]models.AuditEvent}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/audit [get]
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	events := h.audit.Query(f, queryLimit(r, 200))
	if events == nil {
		events = []models.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// @Summary Export audit log
// @Description Exports the filtered audit trail as CSV
// @Tags Admin
// @Produce text/csv
// @Security BearerAuth
// @Param action query string false "Action"
// @Success 200 {string} string
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/audit/export [get]
func (h *Handler) ExportAudit(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeCSV(w, "audit.csv", h.audit.ExportRows(f, queryLimit(r, 0)))
}

// @Summary List security events
// @Description Lists raised security events
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param type query string false "Event type"
// @Param user_id query string false "User"
// @Success 200 {object} object{events=[]models.SecurityEvent}
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/security-events [get]
func (h *Handler) ListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := services.SecurityFilter{
		Type:   models.SecurityEventType(q.Get("type")),
		UserID: q.Get("user_id"),
	}
	if v := q.Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, r, services.ErrInvalidRequest)
			return
		}
		f.Resolved = &resolved
	}
	events := h.audit.SecurityEvents(f, queryLimit(r, 200))
	if events == nil {
		events = []models.SecurityEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// @Summary Resolve security event
// @Description Marks a security event resolved
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param eventID path string true "Event ID"
// @Success 200 {object} models.SecurityEvent
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/security-events/{eventID}/resolve [post]
func (h *Handler) ResolveSecurityEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.audit.ResolveSecurityEvent(identity(r), chi.URLParam(r, "eventID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type loginAttemptRequest struct {
	UserID    string `json:"user_id" validate:"required,max=64"`
	IPAddress string `json:"ip_address" validate:"omitempty,ip"`
	UserAgent string `json:"user_agent" validate:"max=255"`
	Success   bool   `json:"success"`
}

// RecordLoginAttempt lets the identity provider report authentication
// outcomes so the security rules can see them.
// @Summary Record login attempt
// @Description Reports an authentication outcome
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{user_id=string,ip_address=string,user_agent=string,success=bool} true "Attempt"
// @Success 201 {object} object
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/login-attempts [post]
func (h *Handler) RecordLoginAttempt(w http.ResponseWriter, r *http.Request) {
	var req loginAttemptRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	ev := h.audit.RecordLoginAttempt(identity(r), req.UserID, req.IPAddress, req.UserAgent, req.Success)
	writeJSON(w, http.StatusCreated, ev)
}

// @Summary List deleted records
// @Description Lists tombstones, optionally for one table
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param table query string false "Table"
// @Success 200 {object} object{records=[]models.Tombstone}
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/deleted [get]
func (h *Handler) ListDeleted(w http.ResponseWriter, r *http.Request) {
	list, err := h.deletes.ListDeleted(identity(r), r.URL.Query().Get("table"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Tombstone{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": list})
}

// @Summary Get deleted record
// @Description Returns one tombstone
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param tombstoneID path string true "Tombstone ID"
// @Success 200 {object} models.Tombstone
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/deleted/{tombstoneID} [get]
func (h *Handler) GetDeleted(w http.ResponseWriter, r *http.Request) {
	ts, err := h.deletes.Get(identity(r), chi.URLParam(r, "tombstoneID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

type deleteRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// @Summary Delete record
// @Description Soft-deletes a record, keeping a restorable tombstone
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param table path string true "Table"
// @Param recordID path string true "Record ID"
// @Param request body object{reason=string} false "Deletion reason"
// @Success 200 {object} models.Tombstone
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/records/{table}/{recordID} [delete]
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if r.ContentLength != 0 && !h.decodeJSON(w, r, &req) {
		return
	}
	ts, err := h.deletes.Delete(r.Context(), identity(r), chi.URLParam(r, "table"), chi.URLParam(r, "recordID"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

// @Summary Restore record
// @Description Restores a soft-deleted record
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param tombstoneID path string true "Tombstone ID"
// @Success 200 {object} models.Tombstone
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/deleted/{tombstoneID}/restore [post]
func (h *Handler) RestoreRecord(w http.ResponseWriter, r *http.Request) {
	ts, err := h.deletes.Restore(r.Context(), identity(r), chi.URLParam(r, "tombstoneID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}
