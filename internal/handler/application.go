package handler

import (
	"net/http"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/service"
)

func (h *RouteHandler) HandleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var input service.ApplicationInput
	if !h.decode(w, r, &input) {
		return
	}

	app, err := h.Services.Applications.CreateDraft(r.Context(), actor(r), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.created(w, r, app, "Application saved as draft")
}

func (h *RouteHandler) HandleListApplications(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}

	params := r.URL.Query()
	apps, total, err := h.Services.Applications.List(r.Context(), actor(r), models.ApplicationFilter{
		CustomerID: params.Get("customer_id"),
		Status:     params.Get("status"),
		Search:     q.Search,
		From:       q.StartDate,
		To:         q.EndDate,
		Limit:      q.Limit,
		Offset:     q.Offset,
	})
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, page(apps, q, total), "")
}

func (h *RouteHandler) HandleGetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.Services.Applications.Get(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, app, "")
}

func (h *RouteHandler) HandleUpdateApplication(w http.ResponseWriter, r *http.Request) {
	var input service.ApplicationInput
	if !h.decode(w, r, &input) {
		return
	}

	app, err := h.Services.Applications.Update(r.Context(), actor(r), r.PathValue("id"), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, app, "Application updated")
}

func (h *RouteHandler) HandleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	app, err := h.Services.Applications.Submit(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, app, "Application submitted")
}

func (h *RouteHandler) HandleApplicationDebtorCheck(w http.ResponseWriter, r *http.Request) {
	app, err := h.Services.Applications.DebtorCheck(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, app, "Debtor check completed")
}

func (h *RouteHandler) HandleUpdateApplicationStatus(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	app, err := h.Services.Applications.UpdateStatus(r.Context(), actor(r), r.PathValue("id"), input.Status, input.Note)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, app, "Application status updated")
}

func (h *RouteHandler) HandleAddApplicationAttachment(w http.ResponseWriter, r *http.Request) {
	var input attachmentInput
	if !h.decode(w, r, &input) {
		return
	}

	app, err := h.Services.Applications.AddAttachment(r.Context(), actor(r), r.PathValue("id"), input.Handle)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, app, "Attachment added")
}

func (h *RouteHandler) HandleRemoveApplicationAttachment(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("handle")

	app, err := h.Services.Applications.RemoveAttachment(r.Context(), actor(r), r.PathValue("id"), handle)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, app, "Attachment removed")
}
