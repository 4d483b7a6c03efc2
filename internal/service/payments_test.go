package service

import (
	"errors"
	"testing"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/gateway"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settlementFixture struct {
	*auctionFixture
	winner    models.Actor
	winning   *models.Bid
	loser     models.Actor
	losingBid *models.Bid
}

// newWonAuction runs scenario one: U2 bids 550, U3 bids 700 and wins.
func newWonAuction(t *testing.T, h *harness) *settlementFixture {
	t.Helper()

	f := &settlementFixture{auctionFixture: newLiveAuction(t, h, nil)}
	f.loser = h.user(t, "Bidder Two", models.RoleCustomer)
	f.winner = h.user(t, "Bidder Three", models.RoleCustomer)

	var err error
	f.losingBid, err = f.bidAt(t, 5*time.Minute, f.loser, "550")
	require.NoError(t, err)
	f.winning, err = f.bidAt(t, 10*time.Minute, f.winner, "700")
	require.NoError(t, err)

	h.clock.Set(t0.Add(time.Hour + time.Second))
	_, err = h.svc.Auctions.Close(ctx, f.admin, f.auction.ID)
	require.NoError(t, err)
	return f
}

func (f *settlementFixture) pay(t *testing.T) *models.BidPayment {
	t.Helper()

	p, err := f.h.svc.Payments.Create(ctx, f.winner, PaymentInput{
		BidID: f.winning.ID, Amount: dec("700"), Method: models.PaymentMethodEcocash, Phone: "+263771234567",
	})
	require.NoError(t, err)
	return p
}

func TestWinnerPaysViaEcocash(t *testing.T) {
	h := newHarness(t)
	f := newWonAuction(t, h)

	p := f.pay(t)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.Regexp(t, `^BIDPAY-250115-\d{4}$`, p.ReceiptNo)
	assert.Equal(t, "263771234567", p.PayerPhone.String)
	require.True(t, p.PollURL.Valid)
	assert.Equal(t, models.BidPaymentPending, h.getBid(t, f.winning.ID).PaymentStatus)

	require.Len(t, h.gw.Initiated, 1)
	assert.Equal(t, p.ReceiptNo, h.gw.Initiated[0].Reference)
	assert.Equal(t, "bidder.three@example.com", h.gw.Initiated[0].PayerEmail)

	h.gw.QueuePoll(p.PollURL.String, "Awaiting Delivery", "Paid")
	entries := h.auditCount(t)

	p, err := h.svc.Payments.CheckStatus(ctx, f.winner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.Equal(t, entries, h.auditCount(t), "an unchanged status is not journaled")

	p, err = h.svc.Payments.CheckStatus(ctx, f.winner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, p.Status)
	assert.True(t, p.PaidAt.Valid)

	bid := h.getBid(t, f.winning.ID)
	assert.Equal(t, models.BidPaymentPaid, bid.PaymentStatus)
	requireDecimal(t, "700", bid.PaidAmount)
	assert.True(t, bid.PaidAt.Valid)
	assert.True(t, h.getAuction(t, f.auction.ID).Meta.V.PaymentReceived)

	assert.Len(t, h.auditEntries(t, models.AuditFilter{EntityID: p.ID, Action: "bid_payment.success"}), 1)
}

func TestCheckStatusKeepsLastKnownStatusWhenGatewayFails(t *testing.T) {
	h := newHarness(t)
	f := newWonAuction(t, h)
	p := f.pay(t)

	h.gw.PollErr = errors.New("context deadline exceeded")
	got, err := h.svc.Payments.CheckStatus(ctx, f.winner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, got.Status)
}

func TestCreatePaymentPreconditions(t *testing.T) {
	h := newHarness(t)
	f := newWonAuction(t, h)

	cases := []struct {
		name  string
		actor models.Actor
		in    PaymentInput
		want  error
	}{
		{"wrong amount", f.winner, PaymentInput{BidID: f.winning.ID, Amount: dec("650"), Method: "ecocash", Phone: "263771234567"}, apperror.ErrValidation},
		{"bad phone", f.winner, PaymentInput{BidID: f.winning.ID, Amount: dec("700"), Method: "ecocash", Phone: "0771234"}, apperror.ErrValidation},
		{"unknown method", f.winner, PaymentInput{BidID: f.winning.ID, Amount: dec("700"), Method: "cheque"}, apperror.ErrValidation},
		{"not the winner", f.loser, PaymentInput{BidID: f.winning.ID, Amount: dec("700"), Method: "card"}, apperror.ErrForbidden},
		{"losing bid", f.loser, PaymentInput{BidID: f.losingBid.ID, Amount: dec("550"), Method: "card"}, apperror.ErrBusinessRule},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Payments.Create(ctx, tc.actor, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	f.pay(t)
	_, err := h.svc.Payments.Create(ctx, f.winner, PaymentInput{BidID: f.winning.ID, Amount: dec("700"), Method: "card"})
	assert.ErrorIs(t, err, apperror.ErrBusinessRule, "a second live payment is refused")
}

func TestGatewayRefusalKeepsFailedPayment(t *testing.T) {
	h := newHarness(t)
	f := newWonAuction(t, h)
	h.gw.InitiateErr = errors.New("connection refused")

	before := h.auditCount(t)
	p, err := h.svc.Payments.Create(ctx, f.winner, PaymentInput{BidID: f.winning.ID, Amount: dec("700"), Method: "card"})
	assert.ErrorIs(t, err, apperror.ErrUpstream)
	require.NotNil(t, p)

	stored, err := h.svc.Payments.Get(ctx, f.winner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, stored.Status)
	assert.Equal(t, "connection refused", stored.Meta.V["error"])
	assert.Equal(t, models.BidPaymentFailed, h.getBid(t, f.winning.ID).PaymentStatus)
	assert.Equal(t, before+1, h.auditCount(t))

	h.gw.InitiateErr = nil
	retry := f.pay(t)
	assert.Equal(t, models.PaymentStatusPending, retry.Status)
}

func TestWebhookIsIdempotent(t *testing.T) {
	h := newHarness(t)
	f := newWonAuction(t, h)
	p := f.pay(t)
	h.gw.QueuePoll(p.PollURL.String, "Paid")

	body := map[string]string{"reference": p.ReceiptNo, "status": "Paid"}
	first, err := h.svc.Payments.Webhook(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, first.Status)
	afterFirst := h.auditCount(t)

	second, err := h.svc.Payments.Webhook(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, second.Status)
	assert.Equal(t, first.PaidAt, second.PaidAt)
	assert.Equal(t, afterFirst, h.auditCount(t))

	entries := h.auditEntries(t, models.AuditFilter{EntityID: p.ID, Action: "bid_payment.success"})
	require.Len(t, entries, 1)
	assert.Equal(t, models.ChannelWebhook, entries[0].Channel)
	assert.Equal(t, models.BidPaymentPaid, h.getBid(t, f.winning.ID).PaymentStatus)
	assert.True(t, h.getAuction(t, f.auction.ID).Meta.V.PaymentReceived)
}

func TestWebhookRepollsInsteadOfTrustingBody(t *testing.T) {
	h := newHarness(t)
	f := newWonAuction(t, h)
	p := f.pay(t)
	h.gw.QueuePoll(p.PollURL.String, "Awaiting Delivery")

	got, err := h.svc.Payments.Webhook(ctx, map[string]string{"reference": p.ProviderTxnID.String, "status": "Paid"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, got.Status)
	assert.Contains(t, h.gw.Polled, p.PollURL.String)
}

func TestWebhookWithoutPollURLUsesBody(t *testing.T) {
	h := newHarness(t)
	f := newWonAuction(t, h)
	h.gw.InitiateResult = &gateway.InitiateResult{Success: true, Reference: "PN-42"}
	p := f.pay(t)
	require.False(t, p.PollURL.Valid)

	got, err := h.svc.Payments.Webhook(ctx, map[string]string{"reference": "PN-42", "status": "Cancelled"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, got.Status)
	assert.Equal(t, models.BidPaymentCancelled, h.getBid(t, f.winning.ID).PaymentStatus)

	_, err = h.svc.Payments.Webhook(ctx, map[string]string{"reference": "unknown", "status": "Paid"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestStalePollDoesNotRegressSuccess(t *testing.T) {
	h := newHarness(t)
	f := newWonAuction(t, h)
	p := f.pay(t)
	h.gw.QueuePoll(p.PollURL.String, "Paid", "Awaiting Delivery")

	_, err := h.svc.Payments.CheckStatus(ctx, f.winner, p.ID)
	require.NoError(t, err)
	got, err := h.svc.Payments.CheckStatus(ctx, f.winner, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, got.Status)
}

func TestRefund(t *testing.T) {
	h := newHarness(t)
	f := newWonAuction(t, h)
	p := f.pay(t)

	_, err := h.svc.Payments.Refund(ctx, f.admin, p.ID, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidState, "only successful payments are refundable")

	_, err = h.svc.Payments.Refund(ctx, f.winner, p.ID, "")
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = h.svc.Payments.UpdateStatus(ctx, f.admin, p.ID, models.PaymentStatusSuccess, "cash received at the counter")
	require.NoError(t, err)

	refunded, err := h.svc.Payments.Refund(ctx, f.admin, p.ID, "buyer withdrew")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.Status)
	assert.True(t, refunded.RefundedAt.Valid)
	assert.Equal(t, []string{p.ProviderTxnID.String}, h.gw.Refunded)
	assert.Equal(t, models.BidPaymentRefunded, h.getBid(t, f.winning.ID).PaymentStatus)
	assert.False(t, h.getAuction(t, f.auction.ID).Meta.V.PaymentReceived)
}

func TestManualRefundIsFlagged(t *testing.T) {
	h := newHarness(t)
	f := newWonAuction(t, h)
	p := f.pay(t)
	h.gw.RefundResult = &gateway.RefundResult{Success: true, Manual: true, Message: "queued for manual settlement"}

	_, err := h.svc.Payments.UpdateStatus(ctx, f.admin, p.ID, models.PaymentStatusSuccess, "")
	require.NoError(t, err)

	refunded, err := h.svc.Payments.Refund(ctx, f.admin, p.ID, "item damaged in storage")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.Status)
	assert.Equal(t, true, refunded.Meta.V["manual_refund_required"])

	stored, err := h.svc.Payments.Get(ctx, f.admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, true, stored.Meta.V["manual_refund_required"])
	assert.Equal(t, "queued for manual settlement", stored.Meta.V["refund_message"])

	entries := h.auditEntries(t, models.AuditFilter{EntityID: p.ID, Action: "bid_payment.manual_refund_required"})
	assert.Len(t, entries, 1)
}

func TestManualStatusFollowsMachine(t *testing.T) {
	h := newHarness(t)
	f := newWonAuction(t, h)
	p := f.pay(t)

	_, err := h.svc.Payments.UpdateStatus(ctx, f.admin, p.ID, models.PaymentStatusRefunded, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidState)

	got, err := h.svc.Payments.UpdateStatus(ctx, f.admin, p.ID, models.PaymentStatusCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, got.Status)

	_, err = h.svc.Payments.UpdateStatus(ctx, f.admin, p.ID, models.PaymentStatusPending, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidState, "cancelled is terminal")
}

func TestRetriedPaymentKeepsBidSettled(t *testing.T) {
	tests := []struct {
		name      string
		laterPoll []string
		wantP1    string
		duplicate bool
	}{
		{name: "abandoned attempt wakes up", laterPoll: []string{"Awaiting Delivery"}, wantP1: models.PaymentStatusPending},
		{name: "abandoned attempt is cancelled", laterPoll: []string{"Cancelled"}, wantP1: models.PaymentStatusCancelled},
		{name: "both attempts capture money", laterPoll: []string{"Awaiting Delivery", "Paid"}, wantP1: models.PaymentStatusPending, duplicate: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			f := newWonAuction(t, h)

			p1 := f.pay(t)
			h.gw.QueuePoll(p1.PollURL.String, append([]string{"Failed"}, tt.laterPoll...)...)
			p1, err := h.svc.Payments.CheckStatus(ctx, f.winner, p1.ID)
			require.NoError(t, err)
			require.Equal(t, models.PaymentStatusFailed, p1.Status)

			p2 := f.pay(t)
			h.gw.QueuePoll(p2.PollURL.String, "Paid")
			p2, err = h.svc.Payments.CheckStatus(ctx, f.winner, p2.ID)
			require.NoError(t, err)
			require.Equal(t, models.PaymentStatusSuccess, p2.Status)

			for range tt.laterPoll {
				p1, err = h.svc.Payments.CheckStatus(ctx, f.winner, p1.ID)
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantP1, p1.Status)
			flagged, _ := p1.Meta.V["duplicate_capture"].(bool)
			assert.Equal(t, tt.duplicate, flagged)
			if tt.duplicate {
				assert.Equal(t, p2.ID, p1.Meta.V["settled_by"])
				_, err = h.svc.Payments.CheckStatus(ctx, f.winner, p1.ID)
				require.NoError(t, err)
				assert.Len(t, h.auditEntries(t, models.AuditFilter{EntityID: p1.ID, Action: "bid_payment.duplicate_capture"}), 1)
			}

			bid := h.getBid(t, f.winning.ID)
			assert.Equal(t, models.BidPaymentPaid, bid.PaymentStatus)
			requireDecimal(t, "700", bid.PaidAmount)
			meta := h.getAuction(t, f.auction.ID).Meta.V
			assert.True(t, meta.PaymentReceived)
			assert.Equal(t, p2.ID, meta.PaymentID)

			_, err = h.svc.Payments.Create(ctx, f.winner, PaymentInput{
				BidID: f.winning.ID, Amount: dec("700"), Method: models.PaymentMethodEcocash, Phone: "+263771234567",
			})
			assert.ErrorIs(t, err, apperror.ErrBusinessRule, "a settled bid takes no new payment")
		})
	}
}
