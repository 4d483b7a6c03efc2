package repository

import (
	"context"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type BidPaymentRepository interface {
	Insert(ctx context.Context, payment *models.BidPayment) error
	GetOne(ctx context.Context, id string) (*models.BidPayment, bool, error)
	GetForUpdate(ctx context.Context, id string) (*models.BidPayment, bool, error)
	FindByReference(ctx context.Context, reference string) (*models.BidPayment, bool, error)
	ListByBid(ctx context.Context, bidID string) ([]models.BidPayment, error)
	Update(ctx context.Context, payment *models.BidPayment) error
	List(ctx context.Context, filter models.BidPaymentFilter) ([]models.BidPayment, int, error)
}

const bidPaymentColumns = `id, bid_id, auction_id, payer_id, amount, currency, status, method, provider,
	provider_txn_id, poll_url, payer_phone, redirect_url, instructions, receipt_no, meta, created_by, paid_at,
	refunded_at, created_at, updated_at`

type BidPaymentRepositoryImpl struct {
	db dbtx
}

func NewBidPaymentRepository(db dbtx) BidPaymentRepository {
	return &BidPaymentRepositoryImpl{db: db}
}

func (repo *BidPaymentRepositoryImpl) Insert(ctx context.Context, payment *models.BidPayment) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}

	query := `
		INSERT INTO bid_payments (` + bidPaymentColumns + `)
		VALUES (:id, :bid_id, :auction_id, :payer_id, :amount, :currency, :status, :method, :provider,
			:provider_txn_id, :poll_url, :payer_phone, :redirect_url, :instructions, :receipt_no, :meta, :created_by, :paid_at,
			:refunded_at, :created_at, :updated_at)
		ON CONFLICT (receipt_no) DO NOTHING`

	res, err := sqlx.NamedExecContext(ctx, repo.db, query, payment)
	if err != nil {
		return mapError(err, "bid payment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.Duplicate("receipt_no already exists")
	}
	return nil
}

func (repo *BidPaymentRepositoryImpl) get(ctx context.Context, query, arg string) (*models.BidPayment, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var payment models.BidPayment
	if err := repo.db.GetContext(ctx, &payment, query, arg); err != nil {
		if notFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &payment, true, nil
}

func (repo *BidPaymentRepositoryImpl) GetOne(ctx context.Context, id string) (*models.BidPayment, bool, error) {
	return repo.get(ctx, `SELECT `+bidPaymentColumns+` FROM bid_payments WHERE id = $1`, id)
}

func (repo *BidPaymentRepositoryImpl) GetForUpdate(ctx context.Context, id string) (*models.BidPayment, bool, error) {
	return repo.get(ctx, `SELECT `+bidPaymentColumns+` FROM bid_payments WHERE id = $1 FOR UPDATE`, id)
}

// FindByReference matches a gateway reference against provider_txn_id, then
// receipt_no, then poll_url; the first match wins.
func (repo *BidPaymentRepositoryImpl) FindByReference(ctx context.Context, reference string) (*models.BidPayment, bool, error) {
	return repo.get(ctx, `
		SELECT `+bidPaymentColumns+` FROM bid_payments
		WHERE provider_txn_id = $1 OR receipt_no = $1 OR poll_url = $1
		ORDER BY CASE
			WHEN provider_txn_id = $1 THEN 0
			WHEN receipt_no = $1 THEN 1
			ELSE 2
		END, created_at DESC
		LIMIT 1`, reference)
}

func (repo *BidPaymentRepositoryImpl) ListByBid(ctx context.Context, bidID string) ([]models.BidPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	payments := []models.BidPayment{}
	query := `SELECT ` + bidPaymentColumns + ` FROM bid_payments WHERE bid_id = $1 ORDER BY created_at`
	if err := repo.db.SelectContext(ctx, &payments, query, bidID); err != nil {
		return nil, err
	}
	return payments, nil
}

func (repo *BidPaymentRepositoryImpl) Update(ctx context.Context, payment *models.BidPayment) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE bid_payments SET
			status = :status, provider_txn_id = :provider_txn_id, poll_url = :poll_url, redirect_url = :redirect_url,
			instructions = :instructions, meta = :meta, paid_at = :paid_at, refunded_at = :refunded_at,
			updated_at = :updated_at
		WHERE id = :id`

	_, err := sqlx.NamedExecContext(ctx, repo.db, query, payment)
	return mapError(err, "successful payment for this bid")
}

func (repo *BidPaymentRepositoryImpl) List(ctx context.Context, filter models.BidPaymentFilter) ([]models.BidPayment, int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var c conditions
	c.addIf(filter.AuctionID != "", "auction_id = ?", filter.AuctionID)
	c.addIf(filter.BidID != "", "bid_id = ?", filter.BidID)
	c.addIf(filter.PayerID != "", "payer_id = ?", filter.PayerID)
	c.addIf(filter.Status != "", "status = ?", filter.Status)
	c.addIf(filter.Method != "", "method = ?", filter.Method)

	var total int
	if err := repo.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM bid_payments`+c.where(), c.args...); err != nil {
		return nil, 0, err
	}

	suffix, args := c.page(filter.Limit, filter.Offset)
	list := []models.BidPayment{}
	query := `SELECT ` + bidPaymentColumns + ` FROM bid_payments` + c.where() + ` ORDER BY created_at DESC` + suffix
	if err := repo.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
