package handler

import (
	"net/http"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/service"
)

func (h *RouteHandler) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.Services.Users.Me(r.Context(), actor(r))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, user, "")
}

func (h *RouteHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var input service.ProfileInput
	if !h.decode(w, r, &input) {
		return
	}

	user, err := h.Services.Users.UpdateMe(r.Context(), actor(r), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, user, "Profile updated")
}

func (h *RouteHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}

	users, total, err := h.Services.Users.List(r.Context(), actor(r), models.UserFilter{
		Status: r.URL.Query().Get("status"),
		Role:   r.URL.Query().Get("role"),
		Search: q.Search,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, page(users, q, total), "")
}

func (h *RouteHandler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Services.Users.Get(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, user, "")
}

func (h *RouteHandler) HandleUpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Status string `json:"status"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	user, err := h.Services.Users.UpdateStatus(r.Context(), actor(r), r.PathValue("id"), input.Status)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, user, "User status updated")
}

func (h *RouteHandler) HandleCreateStaff(w http.ResponseWriter, r *http.Request) {
	var input service.StaffInput
	if !h.decode(w, r, &input) {
		return
	}

	user, err := h.Services.Users.CreateStaff(r.Context(), actor(r), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.created(w, r, user, "User created")
}
