package repository

import (
	"context"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type BidRepository interface {
	Insert(ctx context.Context, bid *models.Bid) error
	GetOne(ctx context.Context, id string) (*models.Bid, bool, error)
	GetForUpdate(ctx context.Context, id string) (*models.Bid, bool, error)
	Update(ctx context.Context, bid *models.Bid) error
	ListByAuction(ctx context.Context, auctionID string) ([]models.Bid, error)
	MaxAmount(ctx context.Context, auctionID string) (decimal.Decimal, bool, error)
}

const bidColumns = `id, auction_id, bidder_id, amount, currency, placed_at, dispute, payment_status, paid_amount,
	paid_at, payment_reference`

type BidRepositoryImpl struct {
	db dbtx
}

func NewBidRepository(db dbtx) BidRepository {
	return &BidRepositoryImpl{db: db}
}

func (repo *BidRepositoryImpl) Insert(ctx context.Context, bid *models.Bid) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if bid.ID == "" {
		bid.ID = uuid.NewString()
	}

	query := `
		INSERT INTO bids (` + bidColumns + `)
		VALUES (:id, :auction_id, :bidder_id, :amount, :currency, :placed_at, :dispute, :payment_status, :paid_amount,
			:paid_at, :payment_reference)`

	_, err := sqlx.NamedExecContext(ctx, repo.db, query, bid)
	return mapError(err, "bid")
}

func (repo *BidRepositoryImpl) get(ctx context.Context, query, id string) (*models.Bid, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var bid models.Bid
	if err := repo.db.GetContext(ctx, &bid, query, id); err != nil {
		if notFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &bid, true, nil
}

func (repo *BidRepositoryImpl) GetOne(ctx context.Context, id string) (*models.Bid, bool, error) {
	return repo.get(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id)
}

func (repo *BidRepositoryImpl) GetForUpdate(ctx context.Context, id string) (*models.Bid, bool, error) {
	return repo.get(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1 FOR UPDATE`, id)
}

// Update only writes the mutable parts of a bid: dispute and payment fields.
func (repo *BidRepositoryImpl) Update(ctx context.Context, bid *models.Bid) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE bids SET
			dispute = :dispute, payment_status = :payment_status, paid_amount = :paid_amount,
			paid_at = :paid_at, payment_reference = :payment_reference
		WHERE id = :id`

	_, err := sqlx.NamedExecContext(ctx, repo.db, query, bid)
	return mapError(err, "bid")
}

// ListByAuction returns bids ranked for winner selection.
func (repo *BidRepositoryImpl) ListByAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	bids := []models.Bid{}
	query := `SELECT ` + bidColumns + ` FROM bids WHERE auction_id = $1 ORDER BY amount DESC, placed_at, id`
	if err := repo.db.SelectContext(ctx, &bids, query, auctionID); err != nil {
		return nil, err
	}
	return bids, nil
}

func (repo *BidRepositoryImpl) MaxAmount(ctx context.Context, auctionID string) (decimal.Decimal, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var max decimal.NullDecimal
	if err := repo.db.GetContext(ctx, &max, `SELECT MAX(amount) FROM bids WHERE auction_id = $1`, auctionID); err != nil {
		return decimal.Zero, false, err
	}
	return max.Decimal, max.Valid, nil
}
