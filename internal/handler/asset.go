package handler

import (
	"net/http"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/service"

	"github.com/shopspring/decimal"
)

func (h *RouteHandler) HandleCreateAsset(w http.ResponseWriter, r *http.Request) {
	var input service.AssetInput
	if !h.decode(w, r, &input) {
		return
	}

	asset, err := h.Services.Assets.Create(r.Context(), actor(r), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.created(w, r, asset, "Asset submitted")
}

func (h *RouteHandler) HandleListAssets(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}

	params := r.URL.Query()
	assets, total, err := h.Services.Assets.List(r.Context(), actor(r), models.AssetFilter{
		Category: params.Get("category"),
		Status:   params.Get("status"),
		OwnerID:  params.Get("owner_id"),
		Title:    params.Get("title"),
		AssetNo:  params.Get("asset_no"),
		Search:   q.Search,
		From:     q.StartDate,
		To:       q.EndDate,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, page(assets, q, total), "")
}

func (h *RouteHandler) HandleSearchAssets(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}

	term := r.URL.Query().Get("q")
	if term == "" {
		term = q.Search
	}

	assets, total, err := h.Services.Assets.Search(r.Context(), actor(r), term, q.Limit, q.Offset)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, page(assets, q, total), "")
}

func (h *RouteHandler) HandleAssetsByOwner(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}

	assets, total, err := h.Services.Assets.ListByOwner(r.Context(), actor(r), r.PathValue("ownerId"), q.Limit, q.Offset)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, page(assets, q, total), "")
}

func (h *RouteHandler) HandleAssetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Services.Assets.Stats(r.Context(), actor(r))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, stats, "")
}

func (h *RouteHandler) HandleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.Services.Assets.Get(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, asset, "")
}

func (h *RouteHandler) HandleUpdateAsset(w http.ResponseWriter, r *http.Request) {
	var input service.AssetUpdateInput
	if !h.decode(w, r, &input) {
		return
	}

	asset, err := h.Services.Assets.UpdateAttributes(r.Context(), actor(r), r.PathValue("id"), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, asset, "Asset updated")
}

func (h *RouteHandler) HandleUpdateAssetValuation(w http.ResponseWriter, r *http.Request) {
	var input struct {
		EvaluatedValue decimal.Decimal `json:"evaluated_value"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	asset, err := h.Services.Assets.UpdateValuation(r.Context(), actor(r), r.PathValue("id"), input.EvaluatedValue)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, asset, "Asset valuation updated")
}

func (h *RouteHandler) HandleUpdateAssetStatus(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	asset, err := h.Services.Assets.UpdateStatus(r.Context(), actor(r), r.PathValue("id"), input.Status, input.Reason)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, asset, "Asset status updated")
}

func (h *RouteHandler) HandleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.Services.Assets.SoftDelete(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, asset, "Asset closed")
}

type attachmentInput struct {
	Handle string `json:"handle"`
}

func (h *RouteHandler) HandleAddAssetAttachment(w http.ResponseWriter, r *http.Request) {
	var input attachmentInput
	if !h.decode(w, r, &input) {
		return
	}

	asset, err := h.Services.Assets.AddAttachment(r.Context(), actor(r), r.PathValue("id"), input.Handle)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, asset, "Attachment added")
}

func (h *RouteHandler) HandleRemoveAssetAttachment(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("handle")

	asset, err := h.Services.Assets.RemoveAttachment(r.Context(), actor(r), r.PathValue("id"), handle)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, asset, "Attachment removed")
}
