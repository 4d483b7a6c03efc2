package memstore

import (
	"context"
	"slices"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/shopspring/decimal"
)

func (s *Store) Auction() repository.AuctionRepository { return auctionRepo{s} }

type auctionRepo struct{ s *Store }

var openAuction = []string{models.AuctionStatusDraft, models.AuctionStatusLive}

func (r auctionRepo) openConflict(a *models.Auction) bool {
	if !slices.Contains(openAuction, a.Status) {
		return false
	}
	for _, other := range r.s.auctions.all() {
		if other.ID != a.ID && other.AssetID == a.AssetID && slices.Contains(openAuction, other.Status) {
			return true
		}
	}
	return false
}

func (r auctionRepo) Insert(_ context.Context, a *models.Auction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, other := range r.s.auctions.all() {
		if other.AuctionNo == a.AuctionNo {
			return apperror.Duplicate("auction_no already exists")
		}
	}
	newID(&a.ID)
	if r.openConflict(a) {
		return apperror.Duplicate("open auction for this asset already exists")
	}
	r.s.auctions.put(a.ID, a)
	return nil
}

func (r auctionRepo) GetOne(_ context.Context, id string) (*models.Auction, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.auctions.get(id)
	return a, ok, nil
}

func (r auctionRepo) GetForUpdate(ctx context.Context, id string) (*models.Auction, bool, error) {
	return r.GetOne(ctx, id)
}

func (r auctionRepo) HasOpenForAsset(_ context.Context, assetID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, a := range r.s.auctions.all() {
		if a.AssetID == assetID && slices.Contains(openAuction, a.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (r auctionRepo) Update(_ context.Context, a *models.Auction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.auctions.get(a.ID); !ok {
		return apperror.NotFound("auction")
	}
	if r.openConflict(a) {
		return apperror.Duplicate("open auction for this asset already exists")
	}
	r.s.auctions.put(a.ID, a)
	return nil
}

func (r auctionRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, b := range r.s.bids.all() {
		if b.AuctionID == id {
			return apperror.BusinessRule("auction has bids and cannot be deleted")
		}
	}
	r.s.auctions.delete(id)
	return nil
}

func (r auctionRepo) List(_ context.Context, f models.AuctionFilter) ([]models.Auction, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []models.Auction
	for _, a := range r.s.auctions.all() {
		switch {
		case f.AssetID != "" && a.AssetID != f.AssetID,
			f.Status != "" && a.Status != f.Status,
			len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status),
			f.AuctionType != "" && a.AuctionType != f.AuctionType,
			f.Search != "" && !containsFold(a.AuctionNo+" "+a.Title, f.Search),
			f.StartsAfter != nil && a.StartsAt.Before(*f.StartsAfter),
			f.EndsBefore != nil && a.EndsAt.After(*f.EndsBefore):
			continue
		}
		out = append(out, *a)
	}
	sortDesc(out, func(a models.Auction) int64 { return a.StartsAt.UnixNano() })
	return paginate(out, f.Limit, f.Offset), len(out), nil
}

func (s *Store) Bid() repository.BidRepository { return bidRepo{s} }

type bidRepo struct{ s *Store }

func (r bidRepo) Insert(_ context.Context, b *models.Bid) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	newID(&b.ID)
	r.s.bids.put(b.ID, b)
	return nil
}

func (r bidRepo) GetOne(_ context.Context, id string) (*models.Bid, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bids.get(id)
	return b, ok, nil
}

func (r bidRepo) GetForUpdate(ctx context.Context, id string) (*models.Bid, bool, error) {
	return r.GetOne(ctx, id)
}

func (r bidRepo) Update(_ context.Context, b *models.Bid) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	prev, ok := r.s.bids.get(b.ID)
	if !ok {
		return apperror.NotFound("bid")
	}
	// only dispute and payment fields are mutable
	prev.Dispute = b.Dispute
	prev.PaymentStatus = b.PaymentStatus
	prev.PaidAmount = b.PaidAmount
	prev.PaidAt = b.PaidAt
	prev.PaymentReference = b.PaymentReference
	r.s.bids.put(prev.ID, prev)
	return nil
}

func (r bidRepo) ListByAuction(_ context.Context, auctionID string) ([]models.Bid, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []models.Bid{}
	for _, b := range r.s.bids.all() {
		if b.AuctionID == auctionID {
			out = append(out, *b)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Bid) int {
		if a.Outbids(&b) {
			return -1
		}
		if b.Outbids(&a) {
			return 1
		}
		return 0
	})
	return out, nil
}

func (r bidRepo) MaxAmount(_ context.Context, auctionID string) (decimal.Decimal, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var (
		max   decimal.Decimal
		found bool
	)
	for _, b := range r.s.bids.all() {
		if b.AuctionID == auctionID && (!found || b.Amount.GreaterThan(max)) {
			max, found = b.Amount, true
		}
	}
	return max, found, nil
}

func (s *Store) BidPayment() repository.BidPaymentRepository { return bidPaymentRepo{s} }

type bidPaymentRepo struct{ s *Store }

func (r bidPaymentRepo) successConflict(p *models.BidPayment) bool {
	if p.Status != models.PaymentStatusSuccess {
		return false
	}
	for _, other := range r.s.bidPayments.all() {
		if other.ID != p.ID && other.BidID == p.BidID && other.Status == models.PaymentStatusSuccess {
			return true
		}
	}
	return false
}

func (r bidPaymentRepo) Insert(_ context.Context, p *models.BidPayment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, other := range r.s.bidPayments.all() {
		if other.ReceiptNo == p.ReceiptNo {
			return apperror.Duplicate("receipt_no already exists")
		}
	}
	newID(&p.ID)
	if r.successConflict(p) {
		return apperror.Duplicate("successful payment for this bid already exists")
	}
	r.s.bidPayments.put(p.ID, p)
	return nil
}

func (r bidPaymentRepo) GetOne(_ context.Context, id string) (*models.BidPayment, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.bidPayments.get(id)
	return p, ok, nil
}

func (r bidPaymentRepo) GetForUpdate(ctx context.Context, id string) (*models.BidPayment, bool, error) {
	return r.GetOne(ctx, id)
}

func (r bidPaymentRepo) FindByReference(_ context.Context, ref string) (*models.BidPayment, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	all := r.s.bidPayments.all()
	matchers := []func(*models.BidPayment) bool{
		func(p *models.BidPayment) bool { return p.ProviderTxnID.Valid && p.ProviderTxnID.String == ref },
		func(p *models.BidPayment) bool { return p.ReceiptNo == ref },
		func(p *models.BidPayment) bool { return p.PollURL.Valid && p.PollURL.String == ref },
	}
	for _, match := range matchers {
		for i := len(all) - 1; i >= 0; i-- {
			if match(all[i]) {
				return all[i], true, nil
			}
		}
	}
	return nil, false, nil
}

func (r bidPaymentRepo) ListByBid(_ context.Context, bidID string) ([]models.BidPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []models.BidPayment{}
	for _, p := range r.s.bidPayments.all() {
		if p.BidID == bidID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r bidPaymentRepo) Update(_ context.Context, p *models.BidPayment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.bidPayments.get(p.ID); !ok {
		return apperror.NotFound("bid payment")
	}
	if r.successConflict(p) {
		return apperror.Duplicate("successful payment for this bid already exists")
	}
	r.s.bidPayments.put(p.ID, p)
	return nil
}

func (r bidPaymentRepo) List(_ context.Context, f models.BidPaymentFilter) ([]models.BidPayment, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []models.BidPayment
	for _, p := range r.s.bidPayments.all() {
		switch {
		case f.AuctionID != "" && p.AuctionID != f.AuctionID,
			f.BidID != "" && p.BidID != f.BidID,
			f.PayerID != "" && p.PayerID != f.PayerID,
			f.Status != "" && p.Status != f.Status,
			f.Method != "" && p.Method != f.Method:
			continue
		}
		out = append(out, *p)
	}
	sortDesc(out, func(p models.BidPayment) int64 { return p.CreatedAt.UnixNano() })
	return paginate(out, f.Limit, f.Offset), len(out), nil
}
