package repository

import (
	"context"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type LoanRepository interface {
	Insert(ctx context.Context, loan *models.Loan) error
	GetOne(ctx context.Context, id string) (*models.Loan, bool, error)
	GetForUpdate(ctx context.Context, id string) (*models.Loan, bool, error)
	GetOpenByAsset(ctx context.Context, assetID string) (*models.Loan, bool, error)
	Update(ctx context.Context, loan *models.Loan) error
	List(ctx context.Context, filter models.LoanFilter) ([]models.Loan, int, error)
	Stats(ctx context.Context) (*models.LoanStats, error)
}

const loanColumns = `id, loan_no, customer_id, application_id, asset_id, collateral_category, principal,
	current_balance, currency, interest_rate, interest_period_days, storage_charge, penalty_rate, grace_days,
	start_date, due_date, status, created_by, processed_by, approved_by, disbursed_at, closed_at, notes,
	created_at, updated_at`

type LoanRepositoryImpl struct {
	db dbtx
}

func NewLoanRepository(db dbtx) LoanRepository {
	return &LoanRepositoryImpl{db: db}
}

func (repo *LoanRepositoryImpl) Insert(ctx context.Context, loan *models.Loan) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if loan.ID == "" {
		loan.ID = uuid.NewString()
	}

	query := `
		INSERT INTO loans (` + loanColumns + `)
		VALUES (:id, :loan_no, :customer_id, :application_id, :asset_id, :collateral_category, :principal,
			:current_balance, :currency, :interest_rate, :interest_period_days, :storage_charge, :penalty_rate, :grace_days,
			:start_date, :due_date, :status, :created_by, :processed_by, :approved_by, :disbursed_at, :closed_at, :notes,
			:created_at, :updated_at)
		ON CONFLICT (loan_no) DO NOTHING`

	res, err := sqlx.NamedExecContext(ctx, repo.db, query, loan)
	if err != nil {
		return mapError(err, "loan")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.Duplicate("loan_no already exists")
	}
	return nil
}

func (repo *LoanRepositoryImpl) get(ctx context.Context, query, arg string) (*models.Loan, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var loan models.Loan
	if err := repo.db.GetContext(ctx, &loan, query, arg); err != nil {
		if notFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &loan, true, nil
}

func (repo *LoanRepositoryImpl) GetOne(ctx context.Context, id string) (*models.Loan, bool, error) {
	return repo.get(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
}

func (repo *LoanRepositoryImpl) GetForUpdate(ctx context.Context, id string) (*models.Loan, bool, error) {
	return repo.get(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, id)
}

// GetOpenByAsset returns the loan currently holding the asset, if any.
func (repo *LoanRepositoryImpl) GetOpenByAsset(ctx context.Context, assetID string) (*models.Loan, bool, error) {
	return repo.get(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE asset_id = $1 AND status IN ('active', 'overdue', 'in_grace', 'auction')
		LIMIT 1`, assetID)
}

// Update never touches loan_no, customer, application or asset.
func (repo *LoanRepositoryImpl) Update(ctx context.Context, loan *models.Loan) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE loans SET
			principal = :principal, current_balance = :current_balance, currency = :currency,
			interest_rate = :interest_rate, interest_period_days = :interest_period_days,
			storage_charge = :storage_charge, penalty_rate = :penalty_rate, grace_days = :grace_days,
			start_date = :start_date, due_date = :due_date, status = :status, processed_by = :processed_by,
			approved_by = :approved_by, disbursed_at = :disbursed_at, closed_at = :closed_at, notes = :notes,
			updated_at = :updated_at
		WHERE id = :id`

	_, err := sqlx.NamedExecContext(ctx, repo.db, query, loan)
	return mapError(err, "open loan for this asset")
}

func (repo *LoanRepositoryImpl) List(ctx context.Context, filter models.LoanFilter) ([]models.Loan, int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var c conditions
	c.addIf(filter.CustomerID != "", "customer_id = ?", filter.CustomerID)
	c.addIf(filter.AssetID != "", "asset_id = ?", filter.AssetID)
	c.addIf(filter.Status != "", "status = ?", filter.Status)
	c.addIf(len(filter.Statuses) > 0, "status = ANY(?)", pq.StringArray(filter.Statuses))
	c.addIf(filter.Search != "", "LOWER(loan_no) LIKE ?", like(filter.Search))
	c.addIf(filter.DueBefore != nil, "due_date < ?", filter.DueBefore)
	c.addIf(filter.From != nil, "created_at >= ?", filter.From)
	c.addIf(filter.To != nil, "created_at <= ?", filter.To)

	var total int
	if err := repo.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM loans`+c.where(), c.args...); err != nil {
		return nil, 0, err
	}

	suffix, args := c.page(filter.Limit, filter.Offset)
	loans := []models.Loan{}
	query := `SELECT ` + loanColumns + ` FROM loans` + c.where() + ` ORDER BY created_at DESC` + suffix
	if err := repo.db.SelectContext(ctx, &loans, query, args...); err != nil {
		return nil, 0, err
	}
	return loans, total, nil
}

func (repo *LoanRepositoryImpl) Stats(ctx context.Context) (*models.LoanStats, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var rows []struct {
		Status    string          `db:"status"`
		Count     int             `db:"count"`
		Principal decimal.Decimal `db:"principal"`
		Balance   decimal.Decimal `db:"balance"`
	}

	query := `
		SELECT status, COUNT(*) AS count, COALESCE(SUM(principal), 0) AS principal,
			COALESCE(SUM(current_balance), 0) AS balance
		FROM loans
		GROUP BY status`

	if err := repo.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	stats := &models.LoanStats{
		ByStatus:          map[string]int{},
		PrincipalByStatus: map[string]decimal.Decimal{},
	}
	for _, row := range rows {
		stats.Total += row.Count
		stats.ByStatus[row.Status] = row.Count
		stats.PrincipalByStatus[row.Status] = row.Principal
		stats.TotalPrincipal = stats.TotalPrincipal.Add(row.Principal)
		switch row.Status {
		case models.LoanStatusActive, models.LoanStatusOverdue, models.LoanStatusInGrace, models.LoanStatusAuction:
			stats.OutstandingBalance = stats.OutstandingBalance.Add(row.Balance)
		}
	}
	return stats, nil
}
