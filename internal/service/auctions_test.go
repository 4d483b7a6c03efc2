package service

import (
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type auctionFixture struct {
	h       *harness
	admin   models.Actor
	owner   models.Actor
	asset   *models.Asset
	auction *models.Auction
}

func newLiveAuction(t *testing.T, h *harness, reserve *decimal.Decimal) *auctionFixture {
	t.Helper()

	f := &auctionFixture{h: h}
	f.admin = h.user(t, "Auction Admin", models.RoleAdmin)
	f.owner = h.user(t, "Asset Owner", models.RoleCustomer)
	f.asset = h.asset(t, f.owner.ID, models.AssetStatusOverdue)

	auction, err := h.svc.Auctions.Create(ctx, f.admin, AuctionInput{
		AssetID:      f.asset.ID,
		StartingBid:  ptr(dec("500")),
		ReservePrice: reserve,
		StartsAt:     ptr(t0),
		EndsAt:       ptr(t0.Add(time.Hour)),
	})
	require.NoError(t, err)

	f.auction, err = h.svc.Auctions.Activate(ctx, f.admin, auction.ID)
	require.NoError(t, err)
	return f
}

func (f *auctionFixture) bidAt(t *testing.T, at time.Duration, bidder models.Actor, amount string) (*models.Bid, error) {
	t.Helper()
	f.h.clock.Set(t0.Add(at))
	return f.h.svc.Auctions.PlaceBid(ctx, bidder, f.auction.ID, dec(amount))
}

func TestAuctionHappyPath(t *testing.T) {
	h := newHarness(t)
	f := newLiveAuction(t, h, nil)
	u2 := h.user(t, "Bidder Two", models.RoleCustomer)
	u3 := h.user(t, "Bidder Three", models.RoleCustomer)

	assert.Regexp(t, `^AUCTION-2501-\d{4}$`, f.auction.AuctionNo)
	assert.Equal(t, models.AuctionStatusLive, f.auction.Status)
	assert.Equal(t, models.AssetStatusAuction, h.getAsset(t, f.asset.ID).Status)

	_, err := f.bidAt(t, 5*time.Minute, u2, "550")
	require.NoError(t, err)

	_, err = f.bidAt(t, 6*time.Minute, u2, "540")
	assert.ErrorIs(t, err, apperror.ErrBusinessRule)

	b3, err := f.bidAt(t, 10*time.Minute, u3, "700")
	require.NoError(t, err)

	h.clock.Set(t0.Add(time.Hour + time.Second))
	closed, err := h.svc.Auctions.Close(ctx, f.admin, f.auction.ID)
	require.NoError(t, err)

	assert.Equal(t, models.AuctionStatusClosed, closed.Status)
	assert.Equal(t, u3.ID, closed.WinnerID.String)
	requireDecimal(t, "700", closed.WinningBidAmount.Decimal)
	assert.Equal(t, models.AssetStatusSold, h.getAsset(t, f.asset.ID).Status)
	assert.Equal(t, models.BidPaymentPending, h.getBid(t, b3.ID).PaymentStatus)
	assert.Contains(t, h.sent.Events(), "auction.won")
}

func TestPlaceBidRules(t *testing.T) {
	h := newHarness(t)
	f := newLiveAuction(t, h, nil)
	bidder := h.user(t, "Bidder", models.RoleCustomer)

	t.Run("owner cannot bid", func(t *testing.T) {
		_, err := f.bidAt(t, time.Minute, f.owner, "600")
		assert.ErrorIs(t, err, apperror.ErrBusinessRule)
	})

	t.Run("must beat the starting bid", func(t *testing.T) {
		_, err := f.bidAt(t, time.Minute, bidder, "500")
		assert.ErrorIs(t, err, apperror.ErrBusinessRule)
	})

	t.Run("not after the auction ends", func(t *testing.T) {
		_, err := f.bidAt(t, time.Hour+time.Minute, bidder, "900")
		assert.ErrorIs(t, err, apperror.ErrInvalidState)
	})

	t.Run("open dispute blocks further bids", func(t *testing.T) {
		b, err := f.bidAt(t, 2*time.Minute, bidder, "600")
		require.NoError(t, err)
		_, err = h.svc.Disputes.Raise(ctx, bidder, f.auction.ID, b.ID, "The item photos were misleading")
		require.NoError(t, err)

		_, err = f.bidAt(t, 3*time.Minute, bidder, "650")
		assert.ErrorIs(t, err, apperror.ErrBusinessRule)
	})
}

func TestConcurrentBidsAtSameAmount(t *testing.T) {
	h := newHarness(t)
	f := newLiveAuction(t, h, nil)
	h.clock.Set(t0.Add(time.Minute))

	bidders := make([]models.Actor, 8)
	for i := range bidders {
		bidders[i] = h.user(t, "Racer "+string(rune('A'+i)), models.RoleCustomer)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for _, b := range bidders {
		wg.Add(1)
		go func(b models.Actor) {
			defer wg.Done()
			if _, err := h.svc.Auctions.PlaceBid(ctx, b, f.auction.ID, dec("600")); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(b)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	bids, err := h.svc.Auctions.Bids(ctx, f.auction.ID)
	require.NoError(t, err)
	assert.Len(t, bids, 1)
}

func TestCloseBeforeEndIsRejected(t *testing.T) {
	h := newHarness(t)
	f := newLiveAuction(t, h, nil)

	h.clock.Set(t0.Add(59 * time.Minute))
	_, err := h.svc.Auctions.Close(ctx, f.admin, f.auction.ID)
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
	assert.Equal(t, models.AuctionStatusLive, h.getAuction(t, f.auction.ID).Status)
}

func TestCloseBelowReserveReturnsAssetToOverdue(t *testing.T) {
	h := newHarness(t)
	f := newLiveAuction(t, h, ptr(dec("800")))
	bidder := h.user(t, "Bidder", models.RoleCustomer)

	b, err := f.bidAt(t, time.Minute, bidder, "700")
	require.NoError(t, err)

	h.clock.Set(t0.Add(2 * time.Hour))
	closed, err := h.svc.Auctions.Close(ctx, f.admin, f.auction.ID)
	require.NoError(t, err)

	assert.False(t, closed.WinnerID.Valid)
	require.NotNil(t, closed.Meta.V.ReserveMet)
	assert.False(t, *closed.Meta.V.ReserveMet)
	assert.Equal(t, models.AssetStatusOverdue, h.getAsset(t, f.asset.ID).Status)
	assert.Equal(t, models.BidPaymentUnpaid, h.getBid(t, b.ID).PaymentStatus)
}

func TestAuctionCascadesToPledgedLoan(t *testing.T) {
	h := newHarness(t)
	admin := h.user(t, "Admin", models.RoleAdmin)
	owner := h.user(t, "Owner", models.RoleCustomer)
	bidder := h.user(t, "Bidder", models.RoleCustomer)
	asset := h.asset(t, owner.ID, models.AssetStatusOverdue)

	loan := &models.Loan{
		LoanNo: "LON25010001", CustomerID: owner.ID, AssetID: asset.ID,
		Principal: dec("500"), CurrentBalance: dec("500"), Currency: "USD",
		InterestRate: dec("4"), InterestPeriodDays: 30,
		StartDate: t0.AddDate(0, -2, 0), DueDate: t0.AddDate(0, -1, 0),
		Status: models.LoanStatusOverdue, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, h.store.Loan().Insert(ctx, loan))
	asset.ActiveLoanID = sql.NullString{String: loan.ID, Valid: true}
	require.NoError(t, h.store.Asset().Update(ctx, asset))

	auction, err := h.svc.Auctions.Create(ctx, admin, AuctionInput{
		AssetID: asset.ID, StartingBid: ptr(dec("100")), StartsAt: ptr(t0.Add(time.Hour)), EndsAt: ptr(t0.Add(2 * time.Hour)),
	})
	require.NoError(t, err)
	assert.Equal(t, loan.ID, auction.LoanID.String)

	live, err := h.svc.Auctions.Activate(ctx, admin, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, t0, live.StartsAt, "a future start is pulled forward")
	assert.Equal(t, models.LoanStatusAuction, h.getLoan(t, loan.ID).Status)

	h.clock.Set(t0.Add(time.Minute))
	_, err = h.svc.Auctions.PlaceBid(ctx, bidder, auction.ID, dec("450"))
	require.NoError(t, err)

	h.clock.Set(t0.Add(3 * time.Hour))
	_, err = h.svc.Auctions.Close(ctx, admin, auction.ID)
	require.NoError(t, err)

	soldAsset := h.getAsset(t, asset.ID)
	assert.Equal(t, models.AssetStatusSold, soldAsset.Status)
	assert.False(t, soldAsset.ActiveLoanID.Valid)
	soldLoan := h.getLoan(t, loan.ID)
	assert.Equal(t, models.LoanStatusSold, soldLoan.Status)
	assert.True(t, soldLoan.ClosedAt.Valid)
}

func TestCancelAndDeleteAuction(t *testing.T) {
	h := newHarness(t)
	f := newLiveAuction(t, h, nil)

	cancelled, err := h.svc.Auctions.Cancel(ctx, f.admin, f.auction.ID, "asset recalled")
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusCancelled, cancelled.Status)
	assert.Equal(t, "asset recalled", cancelled.Meta.V.CancelReason)
	assert.Equal(t, models.AssetStatusOverdue, h.getAsset(t, f.asset.ID).Status)

	reopened, err := h.svc.Auctions.UpdateStatus(ctx, f.admin, f.auction.ID, models.AuctionStatusDraft, "")
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusDraft, reopened.Status)

	require.NoError(t, h.svc.Auctions.Delete(ctx, f.admin, f.auction.ID))
	_, err = h.svc.Auctions.Get(ctx, f.auction.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestDeleteAuctionWithBidsIsRejected(t *testing.T) {
	h := newHarness(t)
	f := newLiveAuction(t, h, nil)
	bidder := h.user(t, "Bidder", models.RoleCustomer)

	_, err := f.bidAt(t, time.Minute, bidder, "510")
	require.NoError(t, err)
	_, err = h.svc.Auctions.Cancel(ctx, f.admin, f.auction.ID, "")
	require.NoError(t, err)

	err = h.svc.Auctions.Delete(ctx, f.admin, f.auction.ID)
	assert.ErrorIs(t, err, apperror.ErrBusinessRule)
}

func TestCreateAuctionValidation(t *testing.T) {
	h := newHarness(t)
	admin := h.user(t, "Admin", models.RoleAdmin)
	owner := h.user(t, "Owner", models.RoleCustomer)

	pawned := h.asset(t, owner.ID, models.AssetStatusPawned)
	_, err := h.svc.Auctions.Create(ctx, admin, AuctionInput{
		AssetID: pawned.ID, StartingBid: ptr(dec("100")), StartsAt: ptr(t0), EndsAt: ptr(t0.Add(time.Hour)),
	})
	assert.ErrorIs(t, err, apperror.ErrInvalidState)

	overdue := h.asset(t, owner.ID, models.AssetStatusOverdue)
	cases := map[string]AuctionInput{
		"start in the past":     {AssetID: overdue.ID, StartingBid: ptr(dec("100")), StartsAt: ptr(t0.Add(-time.Minute)), EndsAt: ptr(t0.Add(time.Hour))},
		"end before start":      {AssetID: overdue.ID, StartingBid: ptr(dec("100")), StartsAt: ptr(t0.Add(time.Hour)), EndsAt: ptr(t0)},
		"reserve below opening": {AssetID: overdue.ID, StartingBid: ptr(dec("100")), ReservePrice: ptr(dec("50")), StartsAt: ptr(t0), EndsAt: ptr(t0.Add(time.Hour))},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.Auctions.Create(ctx, admin, in)
			assert.ErrorIs(t, err, apperror.ErrValidation)
		})
	}

	_, err = h.svc.Auctions.Create(ctx, admin, AuctionInput{
		AssetID: overdue.ID, StartingBid: ptr(dec("100")), StartsAt: ptr(t0), EndsAt: ptr(t0.Add(time.Hour)),
	})
	require.NoError(t, err)
	_, err = h.svc.Auctions.Create(ctx, admin, AuctionInput{
		AssetID: overdue.ID, StartingBid: ptr(dec("100")), StartsAt: ptr(t0), EndsAt: ptr(t0.Add(time.Hour)),
	})
	assert.ErrorIs(t, err, apperror.ErrBusinessRule)
}

func TestAutopilot(t *testing.T) {
	h := newHarness(t)
	admin := h.user(t, "Admin", models.RoleAdmin)
	owner := h.user(t, "Owner", models.RoleCustomer)
	asset := h.asset(t, owner.ID, models.AssetStatusOverdue)

	auction, err := h.svc.Auctions.Create(ctx, admin, AuctionInput{
		AssetID: asset.ID, StartingBid: ptr(dec("100")), StartsAt: ptr(t0.Add(time.Minute)), EndsAt: ptr(t0.Add(time.Hour)),
	})
	require.NoError(t, err)

	h.clock.Set(t0.Add(2 * time.Minute))
	activated, closed, err := h.svc.Auctions.Autopilot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, activated)
	assert.Equal(t, 0, closed)

	h.clock.Set(t0.Add(2 * time.Hour))
	activated, closed, err = h.svc.Auctions.Autopilot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, activated)
	assert.Equal(t, 1, closed)
	assert.Equal(t, models.AuctionStatusClosed, h.getAuction(t, auction.ID).Status)

	entries := h.auditEntries(t, models.AuditFilter{EntityID: auction.ID, Action: "auction.close"})
	require.Len(t, entries, 1)
	assert.Equal(t, models.ChannelSystem, entries[0].Channel)
	assert.Equal(t, models.SystemActorID, entries[0].ActorID)
}

func TestAuctionRequiresDefaultedLoan(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, h *harness, f *loanFixture, admin models.Actor) error
	}{
		{
			name: "active loan on an asset sent to repair",
			prepare: func(t *testing.T, h *harness, f *loanFixture, admin models.Actor) error {
				_, err := h.svc.Assets.UpdateStatus(ctx, admin, f.asset.ID, models.AssetStatusInRepair, "clasp broken")
				require.NoError(t, err)
				_, err = h.svc.Auctions.Create(ctx, admin, AuctionInput{
					AssetID: f.asset.ID, StartingBid: ptr(dec("100")), StartsAt: ptr(t0), EndsAt: ptr(t0.Add(time.Hour)),
				})
				return err
			},
		},
		{
			name: "loan cured between draft and activation",
			prepare: func(t *testing.T, h *harness, f *loanFixture, admin models.Actor) error {
				f.loan.Status = models.LoanStatusOverdue
				require.NoError(t, h.store.Loan().Update(ctx, f.loan))
				asset := h.getAsset(t, f.asset.ID)
				asset.Status = models.AssetStatusOverdue
				require.NoError(t, h.store.Asset().Update(ctx, asset))

				draft, err := h.svc.Auctions.Create(ctx, admin, AuctionInput{
					AssetID: f.asset.ID, StartingBid: ptr(dec("100")), StartsAt: ptr(t0), EndsAt: ptr(t0.Add(time.Hour)),
				})
				require.NoError(t, err)

				f.loan.Status = models.LoanStatusActive
				require.NoError(t, h.store.Loan().Update(ctx, f.loan))
				_, err = h.svc.Auctions.Activate(ctx, admin, draft.ID)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			f := newActiveLoan(t, h, 7)
			admin := h.user(t, "Auction Admin", models.RoleAdmin)

			err := tt.prepare(t, h, f, admin)
			assert.ErrorIs(t, err, apperror.ErrBusinessRule)

			loan := h.getLoan(t, f.loan.ID)
			assert.Equal(t, models.LoanStatusActive, loan.Status)
			requireDecimal(t, "1000", loan.CurrentBalance)
			asset := h.getAsset(t, f.asset.ID)
			assert.NotEqual(t, models.AssetStatusAuction, asset.Status)
			assert.True(t, asset.ActiveLoanID.Valid)
		})
	}
}
