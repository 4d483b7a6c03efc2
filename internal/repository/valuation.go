package repository

import (
	"context"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type ValuationRepository interface {
	Insert(ctx context.Context, v *models.AssetValuation) error
	GetOne(ctx context.Context, id string) (*models.AssetValuation, bool, error)
	GetForUpdate(ctx context.Context, id string) (*models.AssetValuation, bool, error)
	Update(ctx context.Context, v *models.AssetValuation) error
	List(ctx context.Context, filter models.ValuationFilter) ([]models.AssetValuation, int, error)
}

const valuationColumns = `id, asset_id, parent_id, stage, status, requested_by, valued_by, assessment_date,
	estimated_market_value, estimated_loan_value, final_value, desired_loan_amount, currency, credit_check,
	comments, attachments, created_at, updated_at, completed_at`

type ValuationRepositoryImpl struct {
	db dbtx
}

func NewValuationRepository(db dbtx) ValuationRepository {
	return &ValuationRepositoryImpl{db: db}
}

func (repo *ValuationRepositoryImpl) Insert(ctx context.Context, v *models.AssetValuation) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if v.ID == "" {
		v.ID = uuid.NewString()
	}

	query := `
		INSERT INTO asset_valuations (` + valuationColumns + `)
		VALUES (:id, :asset_id, :parent_id, :stage, :status, :requested_by, :valued_by, :assessment_date,
			:estimated_market_value, :estimated_loan_value, :final_value, :desired_loan_amount, :currency, :credit_check,
			:comments, :attachments, :created_at, :updated_at, :completed_at)`

	_, err := sqlx.NamedExecContext(ctx, repo.db, query, v)
	return mapError(err, "valuation")
}

func (repo *ValuationRepositoryImpl) get(ctx context.Context, query, id string) (*models.AssetValuation, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var v models.AssetValuation
	if err := repo.db.GetContext(ctx, &v, query, id); err != nil {
		if notFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &v, true, nil
}

func (repo *ValuationRepositoryImpl) GetOne(ctx context.Context, id string) (*models.AssetValuation, bool, error) {
	return repo.get(ctx, `SELECT `+valuationColumns+` FROM asset_valuations WHERE id = $1`, id)
}

func (repo *ValuationRepositoryImpl) GetForUpdate(ctx context.Context, id string) (*models.AssetValuation, bool, error) {
	return repo.get(ctx, `SELECT `+valuationColumns+` FROM asset_valuations WHERE id = $1 FOR UPDATE`, id)
}

func (repo *ValuationRepositoryImpl) Update(ctx context.Context, v *models.AssetValuation) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE asset_valuations SET
			status = :status, valued_by = :valued_by, assessment_date = :assessment_date,
			estimated_market_value = :estimated_market_value, estimated_loan_value = :estimated_loan_value,
			final_value = :final_value, desired_loan_amount = :desired_loan_amount, currency = :currency,
			credit_check = :credit_check, comments = :comments, attachments = :attachments,
			updated_at = :updated_at, completed_at = :completed_at
		WHERE id = :id`

	_, err := sqlx.NamedExecContext(ctx, repo.db, query, v)
	return mapError(err, "valuation")
}

func (repo *ValuationRepositoryImpl) List(ctx context.Context, filter models.ValuationFilter) ([]models.AssetValuation, int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var c conditions
	c.addIf(filter.AssetID != "", "asset_id = ?", filter.AssetID)
	c.addIf(filter.Stage != "", "stage = ?", filter.Stage)
	c.addIf(filter.Status != "", "status = ?", filter.Status)
	c.addIf(filter.RequestedBy != "", "requested_by = ?", filter.RequestedBy)
	c.addIf(filter.ValuedBy != "", "valued_by = ?", filter.ValuedBy)

	var total int
	if err := repo.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM asset_valuations`+c.where(), c.args...); err != nil {
		return nil, 0, err
	}

	suffix, args := c.page(filter.Limit, filter.Offset)
	list := []models.AssetValuation{}
	query := `SELECT ` + valuationColumns + ` FROM asset_valuations` + c.where() + ` ORDER BY created_at DESC` + suffix
	if err := repo.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
