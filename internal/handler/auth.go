package handler

import (
	"net/http"

	"github.com/cradoe/pawnbroker/internal/service"
)

// New customers register as pending; the emailed code activates the account.
func (h *RouteHandler) HandleAuthRegister(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterInput
	if !h.decode(w, r, &input) {
		return
	}

	user, err := h.Services.Users.Register(r.Context(), actor(r), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.created(w, r, user, "Registration successful. Check your email for the verification code")
}

func (h *RouteHandler) HandleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	user, err := h.Services.Users.VerifyEmail(r.Context(), actor(r), input.Email, input.Code)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, user, "Email verified")
}

func (h *RouteHandler) HandleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	token, user, err := h.Services.Users.Login(r.Context(), actor(r), input.Email, input.Password)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	data := struct {
		*service.Token
		User *service.UserView `json:"user"`
	}{token, user}

	h.ok(w, r, data, "Login successful")
}

// The response is the same whether or not the email is registered.
func (h *RouteHandler) HandleAuthForgotPassword(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email string `json:"email"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	if err := h.Services.Users.ForgotPassword(r.Context(), actor(r), input.Email); err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, nil, "If the email is registered, a reset code has been sent")
}

func (h *RouteHandler) HandleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email    string `json:"email"`
		Code     string `json:"code"`
		Password string `json:"password"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	err := h.Services.Users.ResetPassword(r.Context(), actor(r), input.Email, input.Code, input.Password)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, nil, "Password has been reset")
}

func (h *RouteHandler) HandleAccountDeletionRequest(w http.ResponseWriter, r *http.Request) {
	if err := h.Services.Users.RequestAccountDeletion(r.Context(), actor(r)); err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, nil, "A confirmation code has been sent to your email")
}

func (h *RouteHandler) HandleAccountDeletionConfirm(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Code string `json:"code"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	if err := h.Services.Users.ConfirmAccountDeletion(r.Context(), actor(r), input.Code); err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, nil, "Account deleted")
}
