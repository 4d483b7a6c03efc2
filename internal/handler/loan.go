package handler

import (
	"net/http"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/service"
)

func (h *RouteHandler) HandleCreateLoan(w http.ResponseWriter, r *http.Request) {
	var input service.LoanInput
	if !h.decode(w, r, &input) {
		return
	}

	loan, err := h.Services.Loans.Create(r.Context(), actor(r), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.created(w, r, loan, "Loan created")
}

func (h *RouteHandler) HandleListLoans(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}

	params := r.URL.Query()
	filter := models.LoanFilter{
		CustomerID: params.Get("customer_id"),
		AssetID:    params.Get("asset_id"),
		Search:     q.Search,
		From:       q.StartDate,
		To:         q.EndDate,
		Limit:      q.Limit,
		Offset:     q.Offset,
	}

	// status=overdue,in_grace selects several statuses at once
	if statuses := csv(params.Get("status")); len(statuses) == 1 {
		filter.Status = statuses[0]
	} else {
		filter.Statuses = statuses
	}

	if s := params.Get("due_before"); s != "" {
		due, err := time.Parse("2006-01-02", s)
		if err != nil {
			h.ErrHandler.Handle(w, r, apperror.FieldInvalid("due_before", "due_before must be a date (YYYY-MM-DD)"))
			return
		}
		filter.DueBefore = &due
	}

	loans, total, err := h.Services.Loans.List(r.Context(), actor(r), filter)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, page(loans, q, total), "")
}

func (h *RouteHandler) HandleLoanStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Services.Loans.Stats(r.Context(), actor(r))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, stats, "")
}

func (h *RouteHandler) HandleGetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.Services.Loans.Get(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, loan, "")
}

func (h *RouteHandler) HandleUpdateLoan(w http.ResponseWriter, r *http.Request) {
	var input service.LoanUpdateInput
	if !h.decode(w, r, &input) {
		return
	}

	loan, err := h.Services.Loans.Update(r.Context(), actor(r), r.PathValue("id"), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, loan, "Loan updated")
}

func (h *RouteHandler) HandleUpdateLoanStatus(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	loan, err := h.Services.Loans.UpdateStatus(r.Context(), actor(r), r.PathValue("id"), input.Status, input.Note)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, loan, "Loan status updated")
}

func (h *RouteHandler) HandleLoanCharges(w http.ResponseWriter, r *http.Request) {
	charges, err := h.Services.Loans.Charges(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, charges, "")
}

func (h *RouteHandler) HandleRecordLoanPayment(w http.ResponseWriter, r *http.Request) {
	var input service.LoanPaymentInput
	if !h.decode(w, r, &input) {
		return
	}

	loan, payment, err := h.Services.Loans.RecordPayment(r.Context(), actor(r), r.PathValue("id"), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	data := map[string]any{
		"loan":    loan,
		"payment": payment,
	}

	h.created(w, r, data, "Payment recorded")
}

func (h *RouteHandler) HandleLoanPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Services.Loans.Payments(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	if payments == nil {
		payments = []models.LoanPayment{}
	}
	h.ok(w, r, payments, "")
}
