package handler

import (
	"net/http"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/service"
)

func (h *RouteHandler) HandleCreateLoanTerm(w http.ResponseWriter, r *http.Request) {
	var input service.RenewalInput
	if !h.decode(w, r, &input) {
		return
	}

	term, err := h.Services.Terms.Create(r.Context(), actor(r), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.created(w, r, term, "Renewal term created and awaiting approval")
}

func (h *RouteHandler) HandleApproveLoanTerm(w http.ResponseWriter, r *http.Request) {
	term, loan, err := h.Services.Terms.Approve(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	data := map[string]any{
		"term": term,
		"loan": loan,
	}

	h.ok(w, r, data, "Term approved")
}

func (h *RouteHandler) HandleDeleteLoanTerm(w http.ResponseWriter, r *http.Request) {
	if err := h.Services.Terms.Delete(r.Context(), actor(r), r.PathValue("id")); err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, nil, "Term deleted")
}

func (h *RouteHandler) HandleCurrentLoanTerm(w http.ResponseWriter, r *http.Request) {
	term, err := h.Services.Terms.Current(r.Context(), actor(r), r.PathValue("loanId"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, term, "")
}

func (h *RouteHandler) HandleLoanTermTimeline(w http.ResponseWriter, r *http.Request) {
	terms, err := h.Services.Terms.Timeline(r.Context(), actor(r), r.PathValue("loanId"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	if terms == nil {
		terms = []models.LoanTerm{}
	}
	h.ok(w, r, terms, "")
}

// The preview takes its renewal parameters from the query string.
func (h *RouteHandler) HandleNextLoanTerm(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	input := service.RenewalInput{
		LoanID:      r.PathValue("loanId"),
		RenewalType: params.Get("renewal_type"),
	}

	if s := params.Get("payment_amount"); s != "" {
		amount, err := parseAmount("payment_amount", s)
		if err != nil {
			h.ErrHandler.Handle(w, r, err)
			return
		}
		input.PaymentAmount = &amount
	}

	preview, err := h.Services.Terms.NextTerm(r.Context(), actor(r), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, preview, "")
}

func (h *RouteHandler) HandleRenewLoan(w http.ResponseWriter, r *http.Request) {
	var input service.RenewalInput
	if !h.decode(w, r, &input) {
		return
	}

	term, err := h.Services.Terms.Renew(r.Context(), actor(r), r.PathValue("loanId"), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.created(w, r, term, "Renewal term created and awaiting approval")
}
