package service

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/gateway"
	"github.com/cradoe/pawnbroker/internal/identifier"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/notify"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/cradoe/pawnbroker/internal/validator"
	"github.com/shopspring/decimal"
)

// PaymentService settles winning bids through the payment gateway. Every
// change to a bid's payments runs under the per-bid lock.
type PaymentService struct {
	*core
}

func bidKey(id string) string { return "bid:" + id }

func canSeePayment(actor models.Actor, p *models.BidPayment) bool {
	return actor.IsStaff() || p.PayerID == actor.ID
}

func (s *PaymentService) Methods() []models.PaymentMethod {
	return models.PaymentMethods
}

func (s *PaymentService) Get(ctx context.Context, actor models.Actor, id string) (*models.BidPayment, error) {
	p, found, err := s.DB.BidPayment().GetOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("bid payment")
	}
	if !canSeePayment(actor, p) {
		return nil, apperror.Forbidden("")
	}
	return p, nil
}

func (s *PaymentService) List(ctx context.Context, actor models.Actor, filter models.BidPaymentFilter) ([]models.BidPayment, int, error) {
	if !actor.IsStaff() {
		filter.PayerID = actor.ID
	}
	filter.Limit, filter.Offset = pageOf(filter.Limit, filter.Offset)
	return s.DB.BidPayment().List(ctx, filter)
}

type PaymentInput struct {
	BidID  string          `json:"bid_id"`
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
	Phone  string          `json:"phone"`
}

func (in *PaymentInput) validate() (models.PaymentMethod, error) {
	var v validator.Validator
	v.CheckField(validator.NotBlank(in.BidID), "bid_id", "Bid is required")
	v.CheckField(in.Amount.IsPositive(), "amount", "Amount must be positive")

	method, ok := models.LookupPaymentMethod(strings.ToLower(strings.TrimSpace(in.Method)))
	v.CheckField(ok, "method", "Unsupported payment method")
	if ok && method.RequiresPhone {
		in.Phone = validator.NormalizeMobileMoneyPhone(in.Phone)
		v.CheckField(validator.IsMobileMoneyPhone(in.Phone), "phone", "Phone number must be a valid EcoCash, OneMoney or Telecash number")
	}
	return method, v.Err()
}

// Create opens a payment for the auction winner and hands it to the gateway.
// A gateway refusal is kept as a failed payment and reported as upstream.
func (s *PaymentService) Create(ctx context.Context, actor models.Actor, in PaymentInput) (*models.BidPayment, error) {
	method, err := in.validate()
	if err != nil {
		return nil, err
	}

	var (
		payment     *models.BidPayment
		initiateErr error
	)
	err = s.withLock(ctx, bidKey(in.BidID), func() error {
		return s.DB.WithinTx(ctx, func(st repository.Store) error {
			bid, found, err := st.Bid().GetForUpdate(ctx, in.BidID)
			if err != nil {
				return err
			}
			if !found {
				return apperror.NotFound("bid")
			}
			auction, found, err := st.Auction().GetOne(ctx, bid.AuctionID)
			if err != nil {
				return err
			}
			if !found {
				return apperror.NotFound("auction")
			}

			if auction.Status != models.AuctionStatusClosed {
				return apperror.InvalidState("auction is not closed")
			}
			if auction.WinningBidID.String != bid.ID {
				return apperror.BusinessRule("only the winning bid can be paid")
			}
			if auction.WinnerID.String != actor.ID {
				return apperror.Forbidden("Only the auction winner can pay for this bid")
			}
			if bid.DisputeBlocksSettlement() {
				return apperror.BusinessRule("bid is under dispute")
			}
			if !in.Amount.Equal(bid.Amount) {
				return apperror.FieldInvalid("amount", "Amount must equal the winning bid of "+bid.Amount.StringFixed(2))
			}

			existing, err := st.BidPayment().ListByBid(ctx, bid.ID)
			if err != nil {
				return err
			}
			for _, p := range existing {
				if slices.Contains(models.LivePaymentStatuses, p.Status) {
					return apperror.BusinessRule("a payment for this bid is already " + p.Status)
				}
			}

			payer, _, err := st.User().GetOne(ctx, actor.ID)
			if err != nil {
				return err
			}

			now := s.now()
			payment = &models.BidPayment{
				BidID:     bid.ID,
				AuctionID: auction.ID,
				PayerID:   actor.ID,
				Amount:    bid.Amount,
				Currency:  bid.Currency,
				Status:    models.PaymentStatusInitiated,
				Method:    method.Code,
				Provider:  s.Gateway.Name(),
				Meta:      models.NewJSON(models.Meta{}),
				CreatedBy: actor.ID,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if in.Phone != "" {
				payment.PayerPhone = sql.NullString{String: in.Phone, Valid: true}
			}
			_, err = s.IDs.Insert(ctx, identifier.Receipt, func(no string) error {
				payment.ReceiptNo = no
				return st.BidPayment().Insert(ctx, payment)
			})
			if err != nil {
				return err
			}

			req := gateway.InitiateRequest{
				Reference:   payment.ReceiptNo,
				Amount:      payment.Amount,
				Description: "Auction " + auction.AuctionNo,
				Method:      method.Code,
				Phone:       in.Phone,
			}
			if payer != nil {
				req.PayerEmail = payer.Email
			}
			initiateErr = s.initiate(ctx, payment, req)

			bid.PaymentStatus = models.BidPaymentStatusFor(payment.Status)
			bid.PaymentReference = sql.NullString{String: payment.ReceiptNo, Valid: true}
			if err := st.Bid().Update(ctx, bid); err != nil {
				return err
			}
			if err := st.BidPayment().Update(ctx, payment); err != nil {
				return err
			}

			return s.record(ctx, st, actor, change{
				Action: "bid_payment.create", EntityType: models.EntityBidPayment, EntityID: payment.ID, After: payment,
				Meta: models.Meta{"bid_id": bid.ID, "auction_id": auction.ID, "gateway_status": payment.Status},
			})
		})
	})
	if err != nil {
		return nil, err
	}
	if initiateErr != nil {
		return payment, initiateErr
	}
	return payment, nil
}

// initiate calls the gateway and records the outcome on p.
func (s *PaymentService) initiate(ctx context.Context, p *models.BidPayment, req gateway.InitiateRequest) error {
	ctx, cancel := context.WithTimeout(ctx, s.Config.GatewayTimeout)
	defer cancel()

	p.UpdatedAt = s.now()
	res, err := s.Gateway.Initiate(ctx, req)
	if err == nil && !res.Success {
		err = errors.New(firstNonEmpty(res.Error, "payment was declined by the gateway"))
	}
	if err != nil {
		p.Status = models.PaymentStatusFailed
		p.Meta.V["error"] = err.Error()
		return apperror.Upstream("payment could not be initiated", err)
	}

	p.Status = models.PaymentStatusPending
	if res.PollURL != "" {
		p.PollURL = sql.NullString{String: res.PollURL, Valid: true}
	}
	if res.Reference != "" {
		p.ProviderTxnID = sql.NullString{String: res.Reference, Valid: true}
	}
	if res.RedirectURL != "" {
		p.RedirectURL = sql.NullString{String: res.RedirectURL, Valid: true}
	}
	if res.Instructions != "" {
		p.Instructions = sql.NullString{String: res.Instructions, Valid: true}
	}
	return nil
}

// poll asks the gateway for the current status. ok is false when the gateway
// could not answer; the caller then keeps the last known status.
func (s *PaymentService) poll(ctx context.Context, p *models.BidPayment) (status string, ok bool) {
	if !p.PollURL.Valid {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, s.Config.GatewayTimeout)
	defer cancel()

	res, err := s.Gateway.Poll(ctx, p.PollURL.String)
	if err != nil {
		s.Logger.Warn("payment poll failed", "payment_id", p.ID, "receipt_no", p.ReceiptNo, "error", err)
		return "", false
	}
	return gateway.MapStatus(res.Status), true
}

// CheckStatus polls the gateway and reconciles the payment.
func (s *PaymentService) CheckStatus(ctx context.Context, actor models.Actor, id string) (*models.BidPayment, error) {
	p, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	status, ok := s.poll(ctx, p)
	if !ok {
		return p, nil
	}
	return s.reconcile(ctx, actor, p.ID, status)
}

// Webhook reconciles a provider callback. When the payment has a poll URL the
// gateway is asked again instead of trusting the callback body.
func (s *PaymentService) Webhook(ctx context.Context, fields map[string]string) (*models.BidPayment, error) {
	cb, err := s.Gateway.HandleCallback(ctx, fields)
	if err != nil {
		return nil, err
	}

	p, found, err := s.DB.BidPayment().FindByReference(ctx, cb.Reference)
	if err != nil {
		return nil, err
	}
	if !found && cb.PollURL != "" {
		p, found, err = s.DB.BidPayment().FindByReference(ctx, cb.PollURL)
		if err != nil {
			return nil, err
		}
	}
	if !found {
		return nil, apperror.NotFound("bid payment")
	}

	status := gateway.MapStatus(cb.Status)
	if p.PollURL.Valid {
		polled, ok := s.poll(ctx, p)
		if !ok {
			return p, nil
		}
		status = polled
	}
	return s.reconcile(ctx, models.SystemActor(models.ChannelWebhook), p.ID, status)
}

// reconcile moves the payment to status if the machine allows it. Replays and
// stale answers leave the payment as it is and write nothing.
func (s *PaymentService) reconcile(ctx context.Context, actor models.Actor, id, status string) (*models.BidPayment, error) {
	p, found, err := s.DB.BidPayment().GetOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("bid payment")
	}

	var out *models.BidPayment
	changed := false
	err = s.withLock(ctx, bidKey(p.BidID), func() error {
		return s.DB.WithinTx(ctx, func(st repository.Store) error {
			p, _, err := st.BidPayment().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			out = p
			if p.Status == status {
				return nil
			}
			if !reachable(p.Status, status) {
				s.Logger.Info("stale payment status ignored", "payment_id", p.ID, "from", p.Status, "to", status)
				return nil
			}

			if status == models.PaymentStatusSuccess {
				settledBy, err := settledSibling(ctx, st, p)
				if err != nil {
					return err
				}
				if settledBy != "" {
					return s.flagDuplicateCapture(ctx, st, actor, p, settledBy)
				}
			}

			changed = true
			return s.apply(ctx, st, actor, p, status, "")
		})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifyPayment(ctx, out)
	}
	return out, nil
}

// reachable allows the direct machine step, and initiated to success by way of
// pending since a gateway may report payment before we saw it pending.
func reachable(from, to string) bool {
	if models.PaymentMachine.Can(from, to) {
		return true
	}
	return from == models.PaymentStatusInitiated && to == models.PaymentStatusSuccess
}

// apply performs the transition, mirrors it onto the bid and auction and
// writes the journal entry. The caller holds the per-bid lock.
func (s *PaymentService) apply(ctx context.Context, st repository.Store, actor models.Actor, p *models.BidPayment, status, note string) error {
	bid, found, err := st.Bid().GetForUpdate(ctx, p.BidID)
	if err != nil {
		return err
	}
	if !found {
		return apperror.NotFound("bid")
	}
	if (status == models.PaymentStatusSuccess || status == models.PaymentStatusRefunded) && bid.DisputeBlocksSettlement() {
		return apperror.InvalidState("bid is under dispute; payment cannot move to " + status)
	}

	if p.Meta.V == nil {
		p.Meta.V = models.Meta{}
	}
	before := *p
	before.Meta = models.NewJSON(p.Meta.V.Clone())
	now := s.now()
	p.Status = status
	p.UpdatedAt = now

	switch status {
	case models.PaymentStatusSuccess:
		p.PaidAt = sql.NullTime{Time: now, Valid: true}
	case models.PaymentStatusRefunded:
		p.RefundedAt = sql.NullTime{Time: now, Valid: true}
	}
	if note != "" {
		p.Meta.V["note"] = note
	}
	if err := st.BidPayment().Update(ctx, p); err != nil {
		return err
	}

	meta := models.Meta{"bid_id": bid.ID, "auction_id": p.AuctionID, "from": before.Status}
	settledBy, err := settledSibling(ctx, st, p)
	if err != nil {
		return err
	}
	if settledBy != "" {
		// the bid and auction follow the payment that settled them
		s.Logger.Warn("bid already settled by another payment", "payment_id", p.ID, "settled_by", settledBy, "status", status)
		meta["settled_by"] = settledBy
	} else {
		bid.PaymentStatus = models.BidPaymentStatusFor(status)
		switch status {
		case models.PaymentStatusSuccess:
			bid.PaidAmount = p.Amount
			bid.PaidAt = p.PaidAt
			if err := s.markAuctionPaid(ctx, st, p, true); err != nil {
				return err
			}
		case models.PaymentStatusRefunded:
			if err := s.markAuctionPaid(ctx, st, p, false); err != nil {
				return err
			}
		}
		if err := st.Bid().Update(ctx, bid); err != nil {
			return err
		}
	}

	return s.record(ctx, st, actor, change{
		Action: "bid_payment." + status, EntityType: models.EntityBidPayment, EntityID: p.ID,
		Before: &before, After: p, Meta: meta,
	})
}

// flagDuplicateCapture marks a payment the gateway reports as paid after
// another payment already settled the bid. Only one success per bid can be
// stored, so the payment keeps its status and waits for a manual refund.
func (s *PaymentService) flagDuplicateCapture(ctx context.Context, st repository.Store, actor models.Actor, p *models.BidPayment, settledBy string) error {
	if p.Meta.V == nil {
		p.Meta.V = models.Meta{}
	}
	if flagged, _ := p.Meta.V["duplicate_capture"].(bool); flagged {
		return nil
	}

	s.Logger.Error("bid paid twice", "payment_id", p.ID, "receipt_no", p.ReceiptNo, "settled_by", settledBy)
	before := *p
	before.Meta = models.NewJSON(p.Meta.V.Clone())
	p.Meta.V["duplicate_capture"] = true
	p.Meta.V["settled_by"] = settledBy
	p.UpdatedAt = s.now()
	if err := st.BidPayment().Update(ctx, p); err != nil {
		return err
	}
	return s.record(ctx, st, actor, change{
		Action: "bid_payment.duplicate_capture", EntityType: models.EntityBidPayment, EntityID: p.ID,
		Before: &before, After: p, Meta: models.Meta{"bid_id": p.BidID, "settled_by": settledBy},
	})
}

// settledSibling returns the id of another successful payment for the same
// bid, if one exists.
func settledSibling(ctx context.Context, st repository.Store, p *models.BidPayment) (string, error) {
	siblings, err := st.BidPayment().ListByBid(ctx, p.BidID)
	if err != nil {
		return "", err
	}
	for _, other := range siblings {
		if other.ID != p.ID && other.Status == models.PaymentStatusSuccess {
			return other.ID, nil
		}
	}
	return "", nil
}

func (s *PaymentService) markAuctionPaid(ctx context.Context, st repository.Store, p *models.BidPayment, paid bool) error {
	a, found, err := st.Auction().GetForUpdate(ctx, p.AuctionID)
	if err != nil || !found {
		return err
	}
	a.Meta.V.PaymentReceived = paid
	if paid {
		at := s.now()
		a.Meta.V.PaymentReceivedAt = &at
		a.Meta.V.PaymentID = p.ID
	}
	a.UpdatedAt = s.now()
	return st.Auction().Update(ctx, a)
}

// Refund returns a successful payment through the gateway.
func (s *PaymentService) Refund(ctx context.Context, actor models.Actor, id, reason string) (*models.BidPayment, error) {
	if !actor.IsAdmin() {
		return nil, apperror.Forbidden("")
	}
	p, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	var out *models.BidPayment
	err = s.withLock(ctx, bidKey(p.BidID), func() error {
		return s.DB.WithinTx(ctx, func(st repository.Store) error {
			p, _, err := st.BidPayment().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if p.Status != models.PaymentStatusSuccess {
				return apperror.InvalidState("only successful payments can be refunded")
			}
			res, err := s.refundAtGateway(ctx, p)
			if err != nil {
				return err
			}
			out = p
			if err := s.apply(ctx, st, actor, p, models.PaymentStatusRefunded, strings.TrimSpace(reason)); err != nil {
				return err
			}
			if !res.Manual {
				return nil
			}

			s.Logger.Warn("refund left for manual settlement", "payment_id", p.ID, "receipt_no", p.ReceiptNo, "provider", p.Provider)
			p.Meta.V["manual_refund_required"] = true
			p.Meta.V["refund_message"] = res.Message
			if err := st.BidPayment().Update(ctx, p); err != nil {
				return err
			}
			return s.record(ctx, st, actor, change{
				Action: "bid_payment.manual_refund_required", EntityType: models.EntityBidPayment, EntityID: p.ID,
				After: p, Meta: models.Meta{"bid_id": p.BidID, "receipt_no": p.ReceiptNo, "message": res.Message},
			})
		})
	})
	if err != nil {
		return nil, err
	}
	s.notifyPayment(ctx, out)
	return out, nil
}

func (s *PaymentService) refundAtGateway(ctx context.Context, p *models.BidPayment) (*gateway.RefundResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Config.GatewayTimeout)
	defer cancel()

	ref := firstNonEmpty(p.ProviderTxnID.String, p.ReceiptNo)
	res, err := s.Gateway.Refund(ctx, ref)
	if err != nil {
		return nil, apperror.Upstream("refund failed", err)
	}
	if !res.Success {
		return nil, apperror.Upstream("refund was declined by the gateway", errors.New(res.Message))
	}
	return res, nil
}

// UpdateStatus is the manual override for the finance desk. It follows the
// payment machine and the dispute interlock like every other path.
func (s *PaymentService) UpdateStatus(ctx context.Context, actor models.Actor, id, status, note string) (*models.BidPayment, error) {
	if !actor.IsAdmin() {
		return nil, apperror.Forbidden("")
	}
	p, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	var out *models.BidPayment
	err = s.withLock(ctx, bidKey(p.BidID), func() error {
		return s.DB.WithinTx(ctx, func(st repository.Store) error {
			p, _, err := st.BidPayment().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if !models.PaymentMachine.Can(p.Status, status) {
				return apperror.InvalidTransition("bid payment", p.Status, status)
			}
			out = p
			return s.apply(ctx, st, actor, p, status, strings.TrimSpace(note))
		})
	})
	if err != nil {
		return nil, err
	}
	s.notifyPayment(ctx, out)
	return out, nil
}

func (s *PaymentService) notifyPayment(ctx context.Context, p *models.BidPayment) {
	s.notifyUser(ctx, p.PayerID, notify.Notification{
		Event: "bid_payment." + p.Status,
		Data: eventData(
			"Payment "+p.ReceiptNo,
			"There is an update on your auction payment.",
			p.ReceiptNo, p.Status, p.Amount.StringFixed(2), p.Currency,
		),
	})
}
