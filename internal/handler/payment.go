package handler

import (
	"fmt"
	"mime"
	"net/http"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/request"
	"github.com/cradoe/pawnbroker/internal/service"
)

func (h *RouteHandler) HandlePaymentMethods(w http.ResponseWriter, r *http.Request) {
	h.ok(w, r, h.Services.Payments.Methods(), "")
}

func (h *RouteHandler) HandleCreateBidPayment(w http.ResponseWriter, r *http.Request) {
	var input service.PaymentInput
	if !h.decode(w, r, &input) {
		return
	}

	payment, err := h.Services.Payments.Create(r.Context(), actor(r), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.created(w, r, payment, "Payment initiated")
}

func (h *RouteHandler) HandleListBidPayments(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}

	params := r.URL.Query()
	payments, total, err := h.Services.Payments.List(r.Context(), actor(r), models.BidPaymentFilter{
		AuctionID: params.Get("auction_id"),
		BidID:     params.Get("bid_id"),
		PayerID:   params.Get("payer_id"),
		Status:    params.Get("status"),
		Method:    params.Get("method"),
		Limit:     q.Limit,
		Offset:    q.Offset,
	})
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, page(payments, q, total), "")
}

func (h *RouteHandler) HandleGetBidPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.Services.Payments.Get(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, payment, "")
}

// A gateway that cannot be reached leaves the payment at its last known status.
func (h *RouteHandler) HandleCheckBidPaymentStatus(w http.ResponseWriter, r *http.Request) {
	payment, err := h.Services.Payments.CheckStatus(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, payment, "")
}

func (h *RouteHandler) HandleRefundBidPayment(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	payment, err := h.Services.Payments.Refund(r.Context(), actor(r), r.PathValue("id"), input.Reason)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, payment, "Payment refunded")
}

func (h *RouteHandler) HandleUpdateBidPaymentStatus(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	payment, err := h.Services.Payments.UpdateStatus(r.Context(), actor(r), r.PathValue("id"), input.Status, input.Note)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, payment, "Payment status updated")
}

// HandlePaynowWebhook is unauthenticated. Paynow posts a urlencoded form;
// other senders may post the short JSON shape. Both end up as string fields.
func (h *RouteHandler) HandlePaynowWebhook(w http.ResponseWriter, r *http.Request) {
	fields := map[string]string{}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body map[string]any
		if err := request.DecodeJSON(w, r, &body); err != nil {
			h.ErrHandler.BadRequest(w, r, err)
			return
		}
		for k, v := range body {
			if v != nil {
				fields[k] = fmt.Sprint(v)
			}
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, request.MaxFormBytes)
		if err := r.ParseForm(); err != nil {
			h.ErrHandler.BadRequest(w, r, err)
			return
		}
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}
	}

	payment, err := h.Services.Payments.Webhook(r.Context(), fields)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, map[string]string{"status": payment.Status}, "Webhook processed")
}
