package handler

import (
	"net/http"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/service"

	"github.com/shopspring/decimal"
)

func (h *RouteHandler) HandleCreateAuction(w http.ResponseWriter, r *http.Request) {
	var input service.AuctionInput
	if !h.decode(w, r, &input) {
		return
	}

	auction, err := h.Services.Auctions.Create(r.Context(), actor(r), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.created(w, r, auction, "Auction created")
}

func (h *RouteHandler) HandleListAuctions(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}

	params := r.URL.Query()
	filter := models.AuctionFilter{
		AssetID:     params.Get("asset_id"),
		AuctionType: params.Get("auction_type"),
		Search:      q.Search,
		StartsAfter: q.StartDate,
		EndsBefore:  q.EndDate,
		Limit:       q.Limit,
		Offset:      q.Offset,
	}
	if statuses := csv(params.Get("status")); len(statuses) == 1 {
		filter.Status = statuses[0]
	} else {
		filter.Statuses = statuses
	}

	auctions, total, err := h.Services.Auctions.List(r.Context(), filter)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, page(auctions, q, total), "")
}

func (h *RouteHandler) HandleLiveAuctions(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}

	auctions, total, err := h.Services.Auctions.Live(r.Context(), q.Limit, q.Offset)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, page(auctions, q, total), "")
}

func (h *RouteHandler) HandleGetAuction(w http.ResponseWriter, r *http.Request) {
	auction, err := h.Services.Auctions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, auction, "")
}

func (h *RouteHandler) HandleUpdateAuction(w http.ResponseWriter, r *http.Request) {
	var input service.AuctionInput
	if !h.decode(w, r, &input) {
		return
	}

	auction, err := h.Services.Auctions.Update(r.Context(), actor(r), r.PathValue("id"), input)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, auction, "Auction updated")
}

func (h *RouteHandler) HandleDeleteAuction(w http.ResponseWriter, r *http.Request) {
	if err := h.Services.Auctions.Delete(r.Context(), actor(r), r.PathValue("id")); err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, nil, "Auction deleted")
}

func (h *RouteHandler) HandleUpdateAuctionStatus(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	auction, err := h.Services.Auctions.UpdateStatus(r.Context(), actor(r), r.PathValue("id"), input.Status, input.Reason)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, auction, "Auction status updated")
}

func (h *RouteHandler) HandlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	bid, err := h.Services.Auctions.PlaceBid(r.Context(), actor(r), r.PathValue("id"), input.Amount)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.created(w, r, bid, "Bid placed")
}

func (h *RouteHandler) HandleAuctionBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.Services.Auctions.Bids(r.Context(), r.PathValue("id"))
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	if bids == nil {
		bids = []models.Bid{}
	}
	h.ok(w, r, bids, "")
}

func (h *RouteHandler) HandleRaiseDispute(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	bid, err := h.Services.Disputes.Raise(r.Context(), actor(r), r.PathValue("id"), r.PathValue("bidId"), input.Reason)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.created(w, r, bid, "Dispute raised")
}

func (h *RouteHandler) HandleReviewDispute(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Status     string `json:"status"`
		Resolution string `json:"resolution"`
	}
	if !h.decode(w, r, &input) {
		return
	}

	bid, err := h.Services.Disputes.Review(r.Context(), actor(r), r.PathValue("id"), r.PathValue("bidId"), input.Status, input.Resolution)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return
	}

	h.ok(w, r, bid, "Dispute updated")
}
