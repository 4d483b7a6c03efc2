package repository

import (
	"context"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type AssetRepository interface {
	Insert(ctx context.Context, asset *models.Asset) error
	GetOne(ctx context.Context, id string) (*models.Asset, bool, error)
	GetForUpdate(ctx context.Context, id string) (*models.Asset, bool, error)
	Update(ctx context.Context, asset *models.Asset) error
	List(ctx context.Context, filter models.AssetFilter) ([]models.Asset, int, error)
	Stats(ctx context.Context) (*models.AssetStats, error)
}

const assetColumns = `id, asset_no, category, title, description, owner_id, submitted_by, evaluated_value,
	declared_value, currency, status, details, attachments, active_loan_id, created_at, updated_at, closed_at`

type AssetRepositoryImpl struct {
	db dbtx
}

func NewAssetRepository(db dbtx) AssetRepository {
	return &AssetRepositoryImpl{db: db}
}

// Insert fails with a duplicate error when asset_no is taken, without aborting
// an enclosing transaction, so the caller can retry with a fresh number.
func (repo *AssetRepositoryImpl) Insert(ctx context.Context, asset *models.Asset) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}

	query := `
		INSERT INTO assets (` + assetColumns + `)
		VALUES (:id, :asset_no, :category, :title, :description, :owner_id, :submitted_by, :evaluated_value,
			:declared_value, :currency, :status, :details, :attachments, :active_loan_id, :created_at, :updated_at, :closed_at)
		ON CONFLICT (asset_no) DO NOTHING`

	res, err := sqlx.NamedExecContext(ctx, repo.db, query, asset)
	if err != nil {
		return mapError(err, "asset")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.Duplicate("asset_no already exists")
	}
	return nil
}

func (repo *AssetRepositoryImpl) get(ctx context.Context, query string, id string) (*models.Asset, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var asset models.Asset
	if err := repo.db.GetContext(ctx, &asset, query, id); err != nil {
		if notFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &asset, true, nil
}

func (repo *AssetRepositoryImpl) GetOne(ctx context.Context, id string) (*models.Asset, bool, error) {
	return repo.get(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, id)
}

func (repo *AssetRepositoryImpl) GetForUpdate(ctx context.Context, id string) (*models.Asset, bool, error) {
	return repo.get(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1 FOR UPDATE`, id)
}

// Update never touches asset_no.
func (repo *AssetRepositoryImpl) Update(ctx context.Context, asset *models.Asset) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE assets SET
			category = :category, title = :title, description = :description, owner_id = :owner_id,
			evaluated_value = :evaluated_value, declared_value = :declared_value, currency = :currency,
			status = :status, details = :details, attachments = :attachments, active_loan_id = :active_loan_id,
			updated_at = :updated_at, closed_at = :closed_at
		WHERE id = :id`

	_, err := sqlx.NamedExecContext(ctx, repo.db, query, asset)
	return mapError(err, "asset")
}

func (repo *AssetRepositoryImpl) List(ctx context.Context, filter models.AssetFilter) ([]models.Asset, int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var c conditions
	c.addIf(filter.Category != "", "category = ?", filter.Category)
	c.addIf(filter.Status != "", "status = ?", filter.Status)
	c.addIf(filter.OwnerID != "", "owner_id = ?", filter.OwnerID)
	c.addIf(filter.Title != "", "LOWER(title) LIKE ?", like(filter.Title))
	c.addIf(filter.AssetNo != "", "asset_no = ?", filter.AssetNo)
	c.addIf(filter.Search != "", "(LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(asset_no) LIKE ?)", like(filter.Search))
	c.addIf(filter.From != nil, "created_at >= ?", filter.From)
	c.addIf(filter.To != nil, "created_at <= ?", filter.To)

	var total int
	if err := repo.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM assets`+c.where(), c.args...); err != nil {
		return nil, 0, err
	}

	suffix, args := c.page(filter.Limit, filter.Offset)
	assets := []models.Asset{}
	query := `SELECT ` + assetColumns + ` FROM assets` + c.where() + ` ORDER BY created_at DESC` + suffix
	if err := repo.db.SelectContext(ctx, &assets, query, args...); err != nil {
		return nil, 0, err
	}
	return assets, total, nil
}

func (repo *AssetRepositoryImpl) Stats(ctx context.Context) (*models.AssetStats, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var rows []struct {
		Category string          `db:"category"`
		Status   string          `db:"status"`
		Count    int             `db:"count"`
		Value    decimal.Decimal `db:"value"`
	}

	query := `
		SELECT category, status, COUNT(*) AS count, COALESCE(SUM(evaluated_value), 0) AS value
		FROM assets
		GROUP BY category, status`

	if err := repo.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	stats := &models.AssetStats{
		ByStatus:        map[string]int{},
		ByCategory:      map[string]int{},
		ValueByCategory: map[string]decimal.Decimal{},
	}
	for _, row := range rows {
		stats.Total += row.Count
		stats.ByStatus[row.Status] += row.Count
		stats.ByCategory[row.Category] += row.Count
		stats.ValueByCategory[row.Category] = stats.ValueByCategory[row.Category].Add(row.Value)
		stats.TotalEvaluatedValue = stats.TotalEvaluatedValue.Add(row.Value)
	}
	return stats, nil
}
