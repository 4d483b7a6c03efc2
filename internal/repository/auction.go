package repository

import (
	"context"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type AuctionRepository interface {
	Insert(ctx context.Context, auction *models.Auction) error
	GetOne(ctx context.Context, id string) (*models.Auction, bool, error)
	GetForUpdate(ctx context.Context, id string) (*models.Auction, bool, error)
	HasOpenForAsset(ctx context.Context, assetID string) (bool, error)
	Update(ctx context.Context, auction *models.Auction) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter models.AuctionFilter) ([]models.Auction, int, error)
}

const auctionColumns = `id, auction_no, asset_id, loan_id, title, description, starting_bid, reserve_price, currency,
	auction_type, starts_at, ends_at, status, winner_id, winning_bid_id, winning_bid_amount, meta, created_by,
	closed_at, created_at, updated_at`

type AuctionRepositoryImpl struct {
	db dbtx
}

func NewAuctionRepository(db dbtx) AuctionRepository {
	return &AuctionRepositoryImpl{db: db}
}

func (repo *AuctionRepositoryImpl) Insert(ctx context.Context, auction *models.Auction) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if auction.ID == "" {
		auction.ID = uuid.NewString()
	}

	query := `
		INSERT INTO auctions (` + auctionColumns + `)
		VALUES (:id, :auction_no, :asset_id, :loan_id, :title, :description, :starting_bid, :reserve_price, :currency,
			:auction_type, :starts_at, :ends_at, :status, :winner_id, :winning_bid_id, :winning_bid_amount, :meta, :created_by,
			:closed_at, :created_at, :updated_at)
		ON CONFLICT (auction_no) DO NOTHING`

	res, err := sqlx.NamedExecContext(ctx, repo.db, query, auction)
	if err != nil {
		return mapError(err, "open auction for this asset")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.Duplicate("auction_no already exists")
	}
	return nil
}

func (repo *AuctionRepositoryImpl) get(ctx context.Context, query, id string) (*models.Auction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var auction models.Auction
	if err := repo.db.GetContext(ctx, &auction, query, id); err != nil {
		if notFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &auction, true, nil
}

func (repo *AuctionRepositoryImpl) GetOne(ctx context.Context, id string) (*models.Auction, bool, error) {
	return repo.get(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
}

// GetForUpdate takes the auction row lock that serializes bids and close.
func (repo *AuctionRepositoryImpl) GetForUpdate(ctx context.Context, id string) (*models.Auction, bool, error) {
	return repo.get(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1 FOR UPDATE`, id)
}

func (repo *AuctionRepositoryImpl) HasOpenForAsset(ctx context.Context, assetID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM auctions WHERE asset_id = $1 AND status IN ('draft', 'live'))`
	err := repo.db.GetContext(ctx, &exists, query, assetID)
	return exists, err
}

func (repo *AuctionRepositoryImpl) Update(ctx context.Context, auction *models.Auction) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE auctions SET
			loan_id = :loan_id, title = :title, description = :description, starting_bid = :starting_bid,
			reserve_price = :reserve_price, currency = :currency, auction_type = :auction_type,
			starts_at = :starts_at, ends_at = :ends_at, status = :status, winner_id = :winner_id,
			winning_bid_id = :winning_bid_id, winning_bid_amount = :winning_bid_amount, meta = :meta,
			closed_at = :closed_at, updated_at = :updated_at
		WHERE id = :id`

	_, err := sqlx.NamedExecContext(ctx, repo.db, query, auction)
	return mapError(err, "open auction for this asset")
}

// Delete removes an auction only while it has no bids.
func (repo *AuctionRepositoryImpl) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `DELETE FROM auctions WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM bids WHERE auction_id = $1)`
	res, err := repo.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.BusinessRule("auction has bids and cannot be deleted")
	}
	return nil
}

func (repo *AuctionRepositoryImpl) List(ctx context.Context, filter models.AuctionFilter) ([]models.Auction, int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var c conditions
	c.addIf(filter.AssetID != "", "asset_id = ?", filter.AssetID)
	c.addIf(filter.Status != "", "status = ?", filter.Status)
	c.addIf(len(filter.Statuses) > 0, "status = ANY(?)", pq.StringArray(filter.Statuses))
	c.addIf(filter.AuctionType != "", "auction_type = ?", filter.AuctionType)
	c.addIf(filter.Search != "", "(LOWER(auction_no) LIKE ? OR LOWER(title) LIKE ?)", like(filter.Search))
	c.addIf(filter.StartsAfter != nil, "starts_at >= ?", filter.StartsAfter)
	c.addIf(filter.EndsBefore != nil, "ends_at <= ?", filter.EndsBefore)

	var total int
	if err := repo.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM auctions`+c.where(), c.args...); err != nil {
		return nil, 0, err
	}

	suffix, args := c.page(filter.Limit, filter.Offset)
	list := []models.Auction{}
	query := `SELECT ` + auctionColumns + ` FROM auctions` + c.where() + ` ORDER BY starts_at DESC` + suffix
	if err := repo.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
