package handler

import (
	"net/http"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/service"
)

func (h *RouteHandler) HandleRequestValuation(w http.ResponseWriter, r *http.Request) {
	var input service.ValuationRequestInput
	if !h.decode(w, r, &input) {
		return
	}

	valuation, err := h.Services.Valuations.Request(r.Context(), actor(r), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.created(w, r, valuation, "Valuation requested")
}

func (h *RouteHandler) HandleListValuations(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}

	params := r.URL.Query()
	valuations, total, err := h.Services.Valuations.List(r.Context(), actor(r), models.ValuationFilter{
		AssetID:     params.Get("asset_id"),
		Stage:       params.Get("stage"),
		Status:      params.Get("status"),
		RequestedBy: params.Get("requested_by"),
		ValuedBy:    params.Get("valued_by"),
		Limit:       q.Limit,
		Offset:      q.Offset,
	})
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, page(valuations, q, total), "")
}

func (h *RouteHandler) HandleGetValuation(w http.ResponseWriter, r *http.Request) {
	valuation, err := h.Services.Valuations.Get(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, valuation, "")
}

func (h *RouteHandler) HandleUpdateValuation(w http.ResponseWriter, r *http.Request) {
	var input service.ValuationUpdateInput
	if !h.decode(w, r, &input) {
		return
	}

	valuation, err := h.Services.Valuations.Update(r.Context(), actor(r), r.PathValue("id"), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, valuation, "Valuation updated")
}

func (h *RouteHandler) HandleUpdateValuationStatus(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Status   string `json:"status"`
		Comments string `json:"comments"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	valuation, err := h.Services.Valuations.UpdateStatus(r.Context(), actor(r), r.PathValue("id"), input.Status, input.Comments)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, valuation, "Valuation status updated")
}

func (h *RouteHandler) HandleCompleteMarketValuation(w http.ResponseWriter, r *http.Request) {
	var input service.MarketCompletionInput
	if !h.decode(w, r, &input) {
		return
	}

	valuation, err := h.Services.Valuations.CompleteMarket(r.Context(), actor(r), r.PathValue("id"), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, valuation, "Market valuation completed")
}

func (h *RouteHandler) HandleCompleteFinalValuation(w http.ResponseWriter, r *http.Request) {
	var input service.FinalCompletionInput
	if !h.decode(w, r, &input) {
		return
	}

	valuation, err := h.Services.Valuations.CompleteFinal(r.Context(), actor(r), r.PathValue("id"), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, valuation, "Final valuation completed")
}
