package handler

import (
	"fmt"
	"net/http"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/request"
	"github.com/cradoe/pawnbroker/internal/response"
	"github.com/cradoe/pawnbroker/internal/service"
)

func auditFilter(r *http.Request, q *request.QueryValues) models.AuditFilter {
	params := r.URL.Query()
	return models.AuditFilter{
		ActorID:    params.Get("actor_id"),
		Action:     params.Get("action"),
		EntityType: params.Get("entity_type"),
		EntityID:   params.Get("entity_id"),
		Channel:    params.Get("channel"),
		From:       q.StartDate,
		To:         q.EndDate,
		Limit:      q.Limit,
		Offset:     q.Offset,
	}
}

func (h *RouteHandler) HandleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}

	entries, total, err := h.Services.Audit.Query(r.Context(), actor(r), auditFilter(r, q))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, page(entries, q, total), "")
}

func (h *RouteHandler) HandleGetAuditLog(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Services.Audit.Get(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, entry, "")
}

func (h *RouteHandler) HandleAuditLogsByEntity(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}

	entries, total, err := h.Services.Audit.ByEntity(r.Context(), actor(r), r.PathValue("type"), r.PathValue("id"), q.Limit, q.Offset)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, page(entries, q, total), "")
}

func (h *RouteHandler) HandleAuditLogsByUser(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}

	entries, total, err := h.Services.Audit.ByActor(r.Context(), actor(r), r.PathValue("id"), q.Limit, q.Offset)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, page(entries, q, total), "")
}

func (h *RouteHandler) HandleAuditStats(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}

	stats, err := h.Services.Audit.Stats(r.Context(), actor(r), q.StartDate, q.EndDate)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, stats, "")
}

// Exports are written raw, outside the envelope, as a download.
func (h *RouteHandler) HandleExportAuditLogs(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	body, contentType, err := h.Services.Audit.Export(r.Context(), actor(r), auditFilter(r, q), format)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	ext := service.ExportJSON
	if contentType == "text/csv" {
		ext = service.ExportCSV
	}

	headers := make(http.Header)
	headers.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="audit-logs.%s"`, ext))
	response.Raw(w, http.StatusOK, contentType, body, headers)
}
