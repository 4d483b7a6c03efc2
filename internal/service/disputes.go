package service

import (
	"context"
	"slices"
	"strings"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/notify"
	"github.com/cradoe/pawnbroker/internal/repository"
)

type DisputeService struct {
	*core
	payments *PaymentService
}

func (s *DisputeService) bidOf(ctx context.Context, st repository.Store, auctionID, bidID string) (*models.Bid, error) {
	bid, found, err := st.Bid().GetForUpdate(ctx, bidID)
	if err != nil {
		return nil, err
	}
	if !found || bid.AuctionID != auctionID {
		return nil, apperror.NotFound("bid")
	}
	return bid, nil
}

// Raise opens a dispute on the caller's own bid while the auction is running.
func (s *DisputeService) Raise(ctx context.Context, actor models.Actor, auctionID, bidID, reason string) (*models.Bid, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.FieldInvalid("reason", "Reason is required")
	}

	var out *models.Bid
	err := s.withLock(ctx, auctionKey(auctionID), func() error {
		return s.DB.WithinTx(ctx, func(st repository.Store) error {
			bid, err := s.bidOf(ctx, st, auctionID, bidID)
			if err != nil {
				return err
			}
			if bid.BidderID != actor.ID {
				return apperror.Forbidden("You can only dispute your own bid")
			}
			a, found, err := st.Auction().GetOne(ctx, auctionID)
			if err != nil {
				return err
			}
			if !found {
				return apperror.NotFound("auction")
			}
			if a.Status == models.AuctionStatusClosed || a.Status == models.AuctionStatusCancelled {
				return apperror.InvalidState("disputes cannot be raised on a " + a.Status + " auction")
			}
			if bid.PaymentStatus == models.BidPaymentPaid || bid.PaymentStatus == models.BidPaymentRefunded {
				return apperror.BusinessRule("bid has already been paid")
			}
			if !models.DisputeMachine.Can(bid.Dispute.V.Status, models.DisputeStatusRaised) {
				return apperror.InvalidTransition("dispute", bid.Dispute.V.Status, models.DisputeStatusRaised)
			}

			before := *bid
			now := s.now()
			bid.Dispute = models.NewJSON(models.Dispute{
				Status:   models.DisputeStatusRaised,
				Reason:   reason,
				RaisedBy: actor.ID,
				RaisedAt: &now,
			})
			if err := st.Bid().Update(ctx, bid); err != nil {
				return err
			}
			out = bid
			return s.record(ctx, st, actor, change{
				Action: "bid.dispute_raise", EntityType: models.EntityBid, EntityID: bid.ID,
				Before: &before, After: bid, Meta: models.Meta{"auction_id": auctionID},
			})
		})
	})
	return out, err
}

// Review moves a dispute to under_review or resolves it. An invalid
// resolution refunds a settled payment and cancels any payment in flight.
func (s *DisputeService) Review(ctx context.Context, actor models.Actor, auctionID, bidID, status, resolution string) (*models.Bid, error) {
	if !actor.CanApprove() {
		return nil, apperror.Forbidden("Resolving disputes requires the loan_officer_approval role or higher")
	}
	if !slices.Contains([]string{models.DisputeStatusUnderReview, models.DisputeStatusResolvedValid, models.DisputeStatusResolvedInvalid}, status) {
		return nil, apperror.FieldInvalid("status", "Status must be under_review, resolved_valid or resolved_invalid")
	}

	action := "bid.dispute_review"
	if status != models.DisputeStatusUnderReview {
		action = "bid.dispute_resolve"
	}

	var out *models.Bid
	err := s.withLock(ctx, bidKey(bidID), func() error {
		return s.DB.WithinTx(ctx, func(st repository.Store) error {
			bid, err := s.bidOf(ctx, st, auctionID, bidID)
			if err != nil {
				return err
			}
			if !models.DisputeMachine.Can(bid.Dispute.V.Status, status) {
				return apperror.InvalidTransition("dispute", bid.Dispute.V.Status, status)
			}

			before := *bid
			now := s.now()
			d := bid.Dispute.V
			d.Status = status
			if status == models.DisputeStatusUnderReview {
				d.ReviewedBy, d.ReviewedAt = actor.ID, &now
			} else {
				d.Resolution = strings.TrimSpace(resolution)
				d.ResolvedBy, d.ResolvedAt = actor.ID, &now
			}
			bid.Dispute = models.NewJSON(d)

			meta := models.Meta{"auction_id": auctionID}
			if status == models.DisputeStatusResolvedInvalid {
				voided, err := s.voidPayments(ctx, st, bid)
				if err != nil {
					return err
				}
				meta["voided_payments"] = voided
			}

			if err := st.Bid().Update(ctx, bid); err != nil {
				return err
			}
			out = bid
			return s.record(ctx, st, actor, change{Action: action, EntityType: models.EntityBid, EntityID: bid.ID, Before: &before, After: bid, Meta: meta})
		})
	})
	if err != nil {
		return nil, err
	}

	s.notifyUser(ctx, out.BidderID, notify.Notification{
		Event: action,
		Data: eventData(
			"Your bid dispute",
			"There is an update on the dispute you raised.",
			out.ID, status, out.Amount.StringFixed(2), out.Currency,
		),
	})
	return out, nil
}

// voidPayments refunds a successful payment and cancels live ones. The bid
// ends up cancelled so an invalid dispute never leaves it paid or refunded.
func (s *DisputeService) voidPayments(ctx context.Context, st repository.Store, bid *models.Bid) ([]string, error) {
	payments, err := st.BidPayment().ListByBid(ctx, bid.ID)
	if err != nil {
		return nil, err
	}

	voided := []string{}
	now := s.now()
	for i := range payments {
		p := &payments[i]
		switch p.Status {
		case models.PaymentStatusSuccess:
			res, err := s.payments.refundAtGateway(ctx, p)
			if err != nil {
				return nil, err
			}
			if res.Manual {
				if p.Meta.V == nil {
					p.Meta.V = models.Meta{}
				}
				p.Meta.V["manual_refund_required"] = true
				p.Meta.V["refund_message"] = res.Message
				s.Logger.Warn("refund left for manual settlement", "payment_id", p.ID, "receipt_no", p.ReceiptNo, "bid_id", bid.ID)
			}
			p.Status = models.PaymentStatusRefunded
			p.RefundedAt.Time, p.RefundedAt.Valid = now, true
			if err := s.payments.markAuctionPaid(ctx, st, p, false); err != nil {
				return nil, err
			}
		case models.PaymentStatusInitiated, models.PaymentStatusPending, models.PaymentStatusFailed:
			p.Status = models.PaymentStatusCancelled
		default:
			continue
		}
		p.UpdatedAt = now
		if err := st.BidPayment().Update(ctx, p); err != nil {
			return nil, err
		}
		voided = append(voided, p.ID)
	}

	if bid.PaymentStatus != models.BidPaymentUnpaid {
		bid.PaymentStatus = models.BidPaymentCancelled
	}
	return voided, nil
}
