package service

import (
	"database/sql"
	"testing"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/gateway"
	"github.com/cradoe/pawnbroker/internal/identifier"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDisputedWin leaves U4 as the winner of a closed auction with a raised
// dispute on the winning bid.
func newDisputedWin(t *testing.T, h *harness) (*auctionFixture, models.Actor, *models.Bid) {
	t.Helper()

	f := newLiveAuction(t, h, nil)
	u4 := h.user(t, "Bidder Four", models.RoleCustomer)

	bid, err := f.bidAt(t, 5*time.Minute, u4, "700")
	require.NoError(t, err)
	_, err = h.svc.Disputes.Raise(ctx, u4, f.auction.ID, bid.ID, "item photos do not match the listing")
	require.NoError(t, err)

	h.clock.Set(t0.Add(time.Hour + time.Second))
	_, err = h.svc.Auctions.Close(ctx, f.admin, f.auction.ID)
	require.NoError(t, err)
	return f, u4, bid
}

// seedPayment writes a payment row directly, as if it had been recorded
// before the dispute existed.
func (h *harness) seedPayment(t *testing.T, bid *models.Bid, payerID, status string) *models.BidPayment {
	t.Helper()

	p := &models.BidPayment{
		BidID:         bid.ID,
		AuctionID:     bid.AuctionID,
		PayerID:       payerID,
		Amount:        bid.Amount,
		Currency:      bid.Currency,
		Status:        status,
		Method:        models.PaymentMethodCard,
		Provider:      models.ProviderPaynow,
		ProviderTxnID: sql.NullString{String: "PN-SEEDED", Valid: true},
		ReceiptNo:     h.ids.Next(identifier.Receipt),
		Meta:          models.NewJSON(models.Meta{}),
		CreatedBy:     payerID,
		CreatedAt:     h.clock.Now(),
		UpdatedAt:     h.clock.Now(),
	}
	if status == models.PaymentStatusSuccess {
		p.PaidAt = sql.NullTime{Time: h.clock.Now(), Valid: true}
	}
	require.NoError(t, h.store.BidPayment().Insert(ctx, p))
	return p
}

func TestRaiseDispute(t *testing.T) {
	h := newHarness(t)
	f := newLiveAuction(t, h, nil)
	u2 := h.user(t, "Bidder Two", models.RoleCustomer)
	u3 := h.user(t, "Bidder Three", models.RoleCustomer)

	bid, err := f.bidAt(t, 5*time.Minute, u2, "550")
	require.NoError(t, err)

	_, err = h.svc.Disputes.Raise(ctx, u2, f.auction.ID, bid.ID, "  ")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = h.svc.Disputes.Raise(ctx, u3, f.auction.ID, bid.ID, "not mine")
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	raised, err := h.svc.Disputes.Raise(ctx, u2, f.auction.ID, bid.ID, "condition misdescribed")
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusRaised, raised.Dispute.V.Status)
	assert.Equal(t, u2.ID, raised.Dispute.V.RaisedBy)

	_, err = h.svc.Disputes.Raise(ctx, u2, f.auction.ID, bid.ID, "again")
	assert.ErrorIs(t, err, apperror.ErrInvalidState)

	h.clock.Set(t0.Add(2 * time.Hour))
	_, err = h.svc.Auctions.Close(ctx, f.admin, f.auction.ID)
	require.NoError(t, err)

	_, err = h.svc.Disputes.Raise(ctx, u2, f.auction.ID, bid.ID, "after close")
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
}

func TestDisputeBlocksSettlement(t *testing.T) {
	h := newHarness(t)
	f, u4, bid := newDisputedWin(t, h)
	assert.Equal(t, u4.ID, h.getAuction(t, f.auction.ID).WinnerID.String)

	_, err := h.svc.Payments.Create(ctx, u4, PaymentInput{BidID: bid.ID, Amount: dec("700"), Method: "card"})
	assert.ErrorIs(t, err, apperror.ErrBusinessRule)

	p := h.seedPayment(t, bid, u4.ID, models.PaymentStatusPending)
	_, err = h.svc.Payments.UpdateStatus(ctx, f.admin, p.ID, models.PaymentStatusSuccess, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidState)

	stored, err := h.svc.Payments.Get(ctx, f.admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, stored.Status)
	assert.NotEqual(t, models.BidPaymentPaid, h.getBid(t, bid.ID).PaymentStatus)
}

func TestResolvedInvalidRefundsSettledPayment(t *testing.T) {
	h := newHarness(t)
	f, u4, bid := newDisputedWin(t, h)
	officer := h.user(t, "Approval Officer", models.RoleLoanOfficerApproval)
	p := h.seedPayment(t, bid, u4.ID, models.PaymentStatusSuccess)
	h.gw.RefundResult = &gateway.RefundResult{Success: true, Manual: true, Message: "queued for manual settlement"}

	_, err := h.svc.Disputes.Review(ctx, u4, f.auction.ID, bid.ID, models.DisputeStatusUnderReview, "")
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = h.svc.Disputes.Review(ctx, officer, f.auction.ID, bid.ID, models.DisputeStatusResolvedInvalid, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidState, "a raised dispute is reviewed first")

	_, err = h.svc.Disputes.Review(ctx, officer, f.auction.ID, bid.ID, models.DisputeStatusUnderReview, "")
	require.NoError(t, err)

	resolved, err := h.svc.Disputes.Review(ctx, officer, f.auction.ID, bid.ID, models.DisputeStatusResolvedInvalid, "photos were accurate")
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusResolvedInvalid, resolved.Dispute.V.Status)
	assert.Equal(t, "photos were accurate", resolved.Dispute.V.Resolution)
	assert.Equal(t, models.BidPaymentCancelled, resolved.PaymentStatus)

	refunded, err := h.svc.Payments.Get(ctx, f.admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.Status)
	assert.True(t, refunded.RefundedAt.Valid)
	assert.Equal(t, true, refunded.Meta.V["manual_refund_required"])
	assert.Equal(t, []string{"PN-SEEDED"}, h.gw.Refunded)
	assert.False(t, h.getAuction(t, f.auction.ID).Meta.V.PaymentReceived)

	entries := h.auditEntries(t, models.AuditFilter{EntityID: bid.ID, Action: "bid.dispute_resolve"})
	require.Len(t, entries, 1)
	assert.Equal(t, officer.ID, entries[0].ActorID)
}

func TestResolvedValidAllowsPayment(t *testing.T) {
	h := newHarness(t)
	f, u4, bid := newDisputedWin(t, h)
	officer := h.user(t, "Approval Officer", models.RoleLoanOfficerApproval)

	_, err := h.svc.Disputes.Review(ctx, officer, f.auction.ID, bid.ID, models.DisputeStatusUnderReview, "")
	require.NoError(t, err)
	_, err = h.svc.Disputes.Review(ctx, officer, f.auction.ID, bid.ID, models.DisputeStatusResolvedValid, "listing corrected")
	require.NoError(t, err)

	p, err := h.svc.Payments.Create(ctx, u4, PaymentInput{BidID: bid.ID, Amount: dec("700"), Method: "card"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, p.Status)

	_, err = h.svc.Disputes.Review(ctx, officer, f.auction.ID, bid.ID, models.DisputeStatusUnderReview, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidState, "resolutions are final")
}
