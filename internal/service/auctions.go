package service

import (
	"context"
	"database/sql"
	"slices"
	"strings"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/identifier"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/money"
	"github.com/cradoe/pawnbroker/internal/notify"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/cradoe/pawnbroker/internal/validator"
	"github.com/shopspring/decimal"
)

type AuctionService struct {
	*core
}

func auctionKey(id string) string { return "auction:" + id }

type AuctionInput struct {
	AssetID      string           `json:"asset_id"`
	Title        *string          `json:"title"`
	Description  *string          `json:"description"`
	StartingBid  *decimal.Decimal `json:"starting_bid"`
	ReservePrice *decimal.Decimal `json:"reserve_price"`
	Currency     string           `json:"currency"`
	AuctionType  *string          `json:"auction_type"`
	StartsAt     *time.Time       `json:"starts_at"`
	EndsAt       *time.Time       `json:"ends_at"`
}

func (in AuctionInput) apply(a *models.Auction) {
	if in.Title != nil {
		a.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		a.Description = strings.TrimSpace(*in.Description)
	}
	if in.StartingBid != nil {
		a.StartingBid = money.Round2(*in.StartingBid)
	}
	if in.ReservePrice != nil {
		a.ReservePrice = decimal.NewNullDecimal(money.Round2(*in.ReservePrice))
	}
	if in.AuctionType != nil {
		a.AuctionType = *in.AuctionType
	}
	if in.StartsAt != nil {
		a.StartsAt = in.StartsAt.UTC()
	}
	if in.EndsAt != nil {
		a.EndsAt = in.EndsAt.UTC()
	}
}

func validateAuction(a *models.Auction, now time.Time) error {
	var v validator.Validator
	v.CheckField(a.StartingBid.IsPositive(), "starting_bid", "Starting bid must be positive")
	v.CheckField(validator.PermittedValue(a.AuctionType, models.AuctionTypes...), "auction_type", "Auction type must be online or in_person")
	v.CheckField(!a.StartsAt.IsZero() && !a.StartsAt.Before(now), "starts_at", "Start time cannot be in the past")
	v.CheckField(a.EndsAt.After(a.StartsAt), "ends_at", "End time must be after the start time")
	if a.ReservePrice.Valid {
		v.CheckField(!a.ReservePrice.Decimal.LessThan(a.StartingBid), "reserve_price", "Reserve price cannot be below the starting bid")
	}
	return v.Err()
}

func (s *AuctionService) Create(ctx context.Context, actor models.Actor, in AuctionInput) (*models.Auction, error) {
	if !actor.IsStaff() {
		return nil, apperror.Forbidden("")
	}
	if in.StartingBid == nil {
		return nil, apperror.FieldInvalid("starting_bid", "Starting bid is required")
	}

	now := s.now()
	auction := &models.Auction{
		AssetID:     in.AssetID,
		AuctionType: models.AuctionTypeOnline,
		Status:      models.AuctionStatusDraft,
		Meta:        models.NewJSON(models.AuctionMeta{}),
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	in.apply(auction)
	if err := validateAuction(auction, now); err != nil {
		return nil, err
	}

	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		asset, found, err := st.Asset().GetForUpdate(ctx, in.AssetID)
		if err != nil {
			return err
		}
		if !found {
			return apperror.NotFound("asset")
		}
		if !slices.Contains(models.AuctionEligibleAssetStatuses, asset.Status) {
			return apperror.InvalidState("an asset in status " + asset.Status + " cannot be auctioned")
		}
		open, err := st.Auction().HasOpenForAsset(ctx, asset.ID)
		if err != nil {
			return err
		}
		if open {
			return apperror.BusinessRule("asset already has a draft or live auction")
		}
		if err := auctionableLoan(ctx, st, asset.ID); err != nil {
			return err
		}

		auction.LoanID = asset.ActiveLoanID
		auction.Currency = s.currency(in.Currency)
		if auction.Title == "" {
			auction.Title = asset.Title
		}

		_, err = s.IDs.Insert(ctx, identifier.Auction, func(no string) error {
			auction.AuctionNo = no
			return st.Auction().Insert(ctx, auction)
		})
		if err != nil {
			return err
		}
		return s.record(ctx, st, actor, change{Action: "auction.create", EntityType: models.EntityAuction, EntityID: auction.ID, After: auction})
	})
	if err != nil {
		return nil, err
	}
	return auction, nil
}

func (s *AuctionService) Get(ctx context.Context, id string) (*models.Auction, error) {
	a, found, err := s.DB.Auction().GetOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("auction")
	}
	return a, nil
}

func (s *AuctionService) List(ctx context.Context, filter models.AuctionFilter) ([]models.Auction, int, error) {
	filter.Limit, filter.Offset = pageOf(filter.Limit, filter.Offset)
	return s.DB.Auction().List(ctx, filter)
}

// Live lists auctions currently taking bids.
func (s *AuctionService) Live(ctx context.Context, limit, offset int) ([]models.Auction, int, error) {
	now := s.now()
	items, _, err := s.DB.Auction().List(ctx, models.AuctionFilter{Status: models.AuctionStatusLive, Limit: sweepBatch})
	if err != nil {
		return nil, 0, err
	}
	live := items[:0]
	for _, a := range items {
		if a.AcceptsBidsAt(now) {
			live = append(live, a)
		}
	}

	limit, offset = pageOf(limit, offset)
	total := len(live)
	if offset >= total {
		return []models.Auction{}, total, nil
	}
	return live[offset:min(offset+limit, total)], total, nil
}

func (s *AuctionService) Bids(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if _, err := s.Get(ctx, auctionID); err != nil {
		return nil, err
	}
	return s.DB.Bid().ListByAuction(ctx, auctionID)
}

// Update edits a draft auction.
func (s *AuctionService) Update(ctx context.Context, actor models.Actor, id string, in AuctionInput) (*models.Auction, error) {
	if !actor.IsStaff() {
		return nil, apperror.Forbidden("")
	}

	var out *models.Auction
	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		a, found, err := st.Auction().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperror.NotFound("auction")
		}
		if a.Status != models.AuctionStatusDraft {
			return apperror.InvalidState("only draft auctions can be edited")
		}

		before := *a
		in.AssetID = ""
		in.apply(a)
		if err := validateAuction(a, s.now()); err != nil {
			return err
		}
		a.UpdatedAt = s.now()
		if err := st.Auction().Update(ctx, a); err != nil {
			return err
		}
		out = a
		return s.record(ctx, st, actor, change{Action: "auction.update", EntityType: models.EntityAuction, EntityID: a.ID, Before: &before, After: a})
	})
	return out, err
}

// Delete removes an auction that never took a bid.
func (s *AuctionService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if !actor.IsAdmin() {
		return apperror.Forbidden("")
	}
	return s.DB.WithinTx(ctx, func(st repository.Store) error {
		a, found, err := st.Auction().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperror.NotFound("auction")
		}
		if a.Status != models.AuctionStatusDraft && a.Status != models.AuctionStatusCancelled {
			return apperror.InvalidState("only draft or cancelled auctions can be deleted")
		}
		if err := st.Auction().Delete(ctx, a.ID); err != nil {
			return err
		}
		return s.record(ctx, st, actor, change{Action: "auction.delete", EntityType: models.EntityAuction, EntityID: a.ID, Before: a})
	})
}

// UpdateStatus drives the auction machine. Closing goes through Close.
func (s *AuctionService) UpdateStatus(ctx context.Context, actor models.Actor, id, status, reason string) (*models.Auction, error) {
	if !actor.IsAdmin() {
		return nil, apperror.Forbidden("")
	}

	switch status {
	case models.AuctionStatusClosed:
		return s.Close(ctx, actor, id)
	case models.AuctionStatusLive:
		return s.Activate(ctx, actor, id)
	case models.AuctionStatusCancelled:
		return s.Cancel(ctx, actor, id, reason)
	case models.AuctionStatusDraft:
		return s.transition(ctx, actor, id, "auction.reopen", func(st repository.Store, a *models.Auction) (models.Meta, error) {
			if !models.AuctionMachine.Can(a.Status, models.AuctionStatusDraft) {
				return nil, apperror.InvalidTransition("auction", a.Status, models.AuctionStatusDraft)
			}
			a.Status = models.AuctionStatusDraft
			a.Meta.V.CancelReason = ""
			return nil, nil
		})
	}
	return nil, apperror.FieldInvalid("status", "Status must be draft, live, closed or cancelled")
}

// transition runs fn on the locked auction under the per-auction lock and journals it.
func (s *AuctionService) transition(ctx context.Context, actor models.Actor, id, action string, fn func(st repository.Store, a *models.Auction) (models.Meta, error)) (*models.Auction, error) {
	var out *models.Auction
	err := s.withLock(ctx, auctionKey(id), func() error {
		return s.DB.WithinTx(ctx, func(st repository.Store) error {
			a, found, err := st.Auction().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if !found {
				return apperror.NotFound("auction")
			}

			before := *a
			meta, err := fn(st, a)
			if err != nil {
				return err
			}
			a.UpdatedAt = s.now()
			if err := st.Auction().Update(ctx, a); err != nil {
				return err
			}
			out = a
			return s.record(ctx, st, actor, change{Action: action, EntityType: models.EntityAuction, EntityID: a.ID, Before: &before, After: a, Meta: meta})
		})
	})
	return out, err
}

// Activate opens a draft for bidding. A future start is pulled forward to now.
func (s *AuctionService) Activate(ctx context.Context, actor models.Actor, id string) (*models.Auction, error) {
	return s.transition(ctx, actor, id, "auction.activate", func(st repository.Store, a *models.Auction) (models.Meta, error) {
		if !models.AuctionMachine.Can(a.Status, models.AuctionStatusLive) {
			return nil, apperror.InvalidTransition("auction", a.Status, models.AuctionStatusLive)
		}
		now := s.now()
		if a.StartsAt.After(now) {
			a.StartsAt = now
		}
		if !a.EndsAt.After(now) {
			return nil, apperror.InvalidState("auction has already ended")
		}

		if err := auctionableLoan(ctx, st, a.AssetID); err != nil {
			return nil, err
		}
		if _, err := s.moveAsset(ctx, st, a.AssetID, models.AssetStatusAuction, keepLoan, ""); err != nil {
			return nil, err
		}
		loanID, err := s.moveAssetLoan(ctx, st, a.AssetID, models.LoanStatusAuction)
		if err != nil {
			return nil, err
		}
		a.Status = models.AuctionStatusLive
		return models.Meta{"loan_id": loanID}, nil
	})
}

// auctionableLoan fails unless the loan pledged against the asset, if any, can
// follow it into auction. Only overdue and in-grace loans qualify.
func auctionableLoan(ctx context.Context, st repository.Store, assetID string) error {
	l, found, err := st.Loan().GetOpenByAsset(ctx, assetID)
	if err != nil || !found {
		return err
	}
	if l.Status == models.LoanStatusAuction || models.LoanMachine.Can(l.Status, models.LoanStatusAuction) {
		return nil
	}
	return apperror.BusinessRule("loan " + l.LoanNo + " is " + l.Status + "; only overdue or in-grace loans can be auctioned")
}

// Cancel returns the asset, and any loan sent to auction with it, to overdue.
func (s *AuctionService) Cancel(ctx context.Context, actor models.Actor, id, reason string) (*models.Auction, error) {
	return s.transition(ctx, actor, id, "auction.cancel", func(st repository.Store, a *models.Auction) (models.Meta, error) {
		if !models.AuctionMachine.Can(a.Status, models.AuctionStatusCancelled) {
			return nil, apperror.InvalidTransition("auction", a.Status, models.AuctionStatusCancelled)
		}
		loanID, err := s.releaseToOverdue(ctx, st, a.AssetID)
		if err != nil {
			return nil, err
		}
		a.Status = models.AuctionStatusCancelled
		a.Meta.V.CancelReason = strings.TrimSpace(reason)
		return models.Meta{"loan_id": loanID, "reason": a.Meta.V.CancelReason}, nil
	})
}

func (s *AuctionService) releaseToOverdue(ctx context.Context, st repository.Store, assetID string) (string, error) {
	if _, err := s.moveAsset(ctx, st, assetID, models.AssetStatusOverdue, keepLoan, ""); err != nil {
		return "", err
	}
	l, found, err := st.Loan().GetOpenByAsset(ctx, assetID)
	if err != nil || !found || l.Status != models.LoanStatusAuction {
		return "", err
	}
	return s.moveAssetLoan(ctx, st, assetID, models.LoanStatusOverdue)
}

// Close picks the winner and settles the asset in one transaction. Bids are
// ranked by amount, then placement time, then id.
func (s *AuctionService) Close(ctx context.Context, actor models.Actor, id string) (*models.Auction, error) {
	var winner *models.Bid
	auction, err := s.transition(ctx, actor, id, "auction.close", func(st repository.Store, a *models.Auction) (models.Meta, error) {
		if !models.AuctionMachine.Can(a.Status, models.AuctionStatusClosed) {
			return nil, apperror.InvalidTransition("auction", a.Status, models.AuctionStatusClosed)
		}
		now := s.now()
		if now.Before(a.EndsAt) {
			return nil, apperror.InvalidState("auction cannot close before it ends")
		}

		bids, err := st.Bid().ListByAuction(ctx, a.ID)
		if err != nil {
			return nil, err
		}

		a.Status = models.AuctionStatusClosed
		a.ClosedAt = sql.NullTime{Time: now, Valid: true}
		meta := models.Meta{"bids": len(bids)}

		var top *models.Bid
		if len(bids) > 0 {
			top = &bids[0]
		}
		reserveMet := top != nil && (!a.ReservePrice.Valid || !top.Amount.LessThan(a.ReservePrice.Decimal))
		if top != nil {
			a.Meta.V.ReserveMet = &reserveMet
		}

		if !reserveMet {
			loanID, err := s.releaseToOverdue(ctx, st, a.AssetID)
			if err != nil {
				return nil, err
			}
			meta["loan_id"] = loanID
			return meta, nil
		}

		a.WinnerID = sql.NullString{String: top.BidderID, Valid: true}
		a.WinningBidID = sql.NullString{String: top.ID, Valid: true}
		a.WinningBidAmount = decimal.NewNullDecimal(top.Amount)

		top.PaymentStatus = models.BidPaymentPending
		if err := st.Bid().Update(ctx, top); err != nil {
			return nil, err
		}

		if _, err := s.moveAsset(ctx, st, a.AssetID, models.AssetStatusSold, clearLoan, ""); err != nil {
			return nil, err
		}
		loanID, err := s.moveAssetLoan(ctx, st, a.AssetID, models.LoanStatusSold)
		if err != nil {
			return nil, err
		}

		winner = top
		meta["loan_id"] = loanID
		meta["winner_id"] = top.BidderID
		meta["winning_bid_id"] = top.ID
		meta["winning_bid_amount"] = top.Amount.String()
		return meta, nil
	})
	if err != nil {
		return nil, err
	}

	if winner != nil {
		s.notifyUser(ctx, winner.BidderID, notify.Notification{
			Event: "auction.won",
			Data: eventData(
				"You won auction "+auction.AuctionNo,
				"Your bid won the auction. Please complete payment to collect the item.",
				auction.AuctionNo, auction.Status, winner.Amount.StringFixed(2), auction.Currency,
			),
		})
	}
	return auction, nil
}

// PlaceBid accepts a bid only if it beats the current maximum. The check and
// the insert run under the per-auction lock, on the locked auction row.
func (s *AuctionService) PlaceBid(ctx context.Context, actor models.Actor, auctionID string, amount decimal.Decimal) (*models.Bid, error) {
	if !amount.IsPositive() {
		return nil, apperror.FieldInvalid("amount", "Bid amount must be positive")
	}
	amount = money.Round2(amount)

	var bid *models.Bid
	err := s.withLock(ctx, auctionKey(auctionID), func() error {
		return s.DB.WithinTx(ctx, func(st repository.Store) error {
			a, found, err := st.Auction().GetForUpdate(ctx, auctionID)
			if err != nil {
				return err
			}
			if !found {
				return apperror.NotFound("auction")
			}
			now := s.now()
			if !a.AcceptsBidsAt(now) {
				return apperror.InvalidState("auction is not accepting bids")
			}

			asset, found, err := st.Asset().GetOne(ctx, a.AssetID)
			if err != nil {
				return err
			}
			if found && asset.OwnerID == actor.ID {
				return apperror.BusinessRule("you cannot bid on your own asset")
			}

			bids, err := st.Bid().ListByAuction(ctx, a.ID)
			if err != nil {
				return err
			}
			for _, b := range bids {
				if b.BidderID == actor.ID && b.DisputeOpen() {
					return apperror.BusinessRule("you have an open dispute on this auction")
				}
			}

			current := a.StartingBid
			if highest, ok, err := st.Bid().MaxAmount(ctx, a.ID); err != nil {
				return err
			} else if ok && highest.GreaterThan(current) {
				current = highest
			}
			if !amount.GreaterThan(current) {
				return apperror.BusinessRule("bid must be higher than " + current.StringFixed(2))
			}

			bid = &models.Bid{
				AuctionID:     a.ID,
				BidderID:      actor.ID,
				Amount:        amount,
				Currency:      a.Currency,
				PlacedAt:      now,
				Dispute:       models.NewJSON(models.Dispute{Status: models.DisputeStatusNone}),
				PaymentStatus: models.BidPaymentUnpaid,
				PaidAmount:    decimal.Zero,
			}
			if err := st.Bid().Insert(ctx, bid); err != nil {
				return err
			}
			return s.record(ctx, st, actor, change{
				Action: "bid.place", EntityType: models.EntityBid, EntityID: bid.ID, After: bid,
				Meta: models.Meta{"auction_id": a.ID, "previous_max": current.String()},
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

// Autopilot opens drafts whose start has passed and closes live auctions whose
// end has passed.
func (s *AuctionService) Autopilot(ctx context.Context) (activated, closed int, err error) {
	actor := models.SystemActor(models.ChannelSystem)
	now := s.now()

	drafts, _, err := s.DB.Auction().List(ctx, models.AuctionFilter{Status: models.AuctionStatusDraft, Limit: sweepBatch})
	if err != nil {
		return 0, 0, err
	}
	for _, a := range drafts {
		if a.StartsAt.After(now) || !a.EndsAt.After(now) {
			continue
		}
		if _, err := s.Activate(ctx, actor, a.ID); err != nil {
			s.Logger.Warn("auction activation failed", "auction_id", a.ID, "error", err)
			continue
		}
		activated++
	}

	ended, _, err := s.DB.Auction().List(ctx, models.AuctionFilter{Status: models.AuctionStatusLive, EndsBefore: &now, Limit: sweepBatch})
	if err != nil {
		return activated, 0, err
	}
	for _, a := range ended {
		if _, err := s.Close(ctx, actor, a.ID); err != nil {
			s.Logger.Warn("auction close failed", "auction_id", a.ID, "error", err)
			continue
		}
		closed++
	}
	return activated, closed, nil
}
