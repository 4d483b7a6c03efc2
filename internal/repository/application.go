package repository

import (
	"context"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type ApplicationRepository interface {
	Insert(ctx context.Context, app *models.LoanApplication) error
	GetOne(ctx context.Context, id string) (*models.LoanApplication, bool, error)
	GetForUpdate(ctx context.Context, id string) (*models.LoanApplication, bool, error)
	Update(ctx context.Context, app *models.LoanApplication) error
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.LoanApplication, int, error)
}

const applicationColumns = `id, application_no, customer_id, requested_amount, currency, personal, employment,
	collateral, declaration, status, debtor_check, internal_notes, attachments, processed_by, reviewed_by,
	submitted_at, decided_at, created_at, updated_at`

type ApplicationRepositoryImpl struct {
	db dbtx
}

func NewApplicationRepository(db dbtx) ApplicationRepository {
	return &ApplicationRepositoryImpl{db: db}
}

func (repo *ApplicationRepositoryImpl) Insert(ctx context.Context, app *models.LoanApplication) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if app.ID == "" {
		app.ID = uuid.NewString()
	}

	query := `
		INSERT INTO loan_applications (` + applicationColumns + `)
		VALUES (:id, :application_no, :customer_id, :requested_amount, :currency, :personal, :employment,
			:collateral, :declaration, :status, :debtor_check, :internal_notes, :attachments, :processed_by, :reviewed_by,
			:submitted_at, :decided_at, :created_at, :updated_at)
		ON CONFLICT (application_no) DO NOTHING`

	res, err := sqlx.NamedExecContext(ctx, repo.db, query, app)
	if err != nil {
		return mapError(err, "application")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.Duplicate("application_no already exists")
	}
	return nil
}

func (repo *ApplicationRepositoryImpl) get(ctx context.Context, query, id string) (*models.LoanApplication, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var app models.LoanApplication
	if err := repo.db.GetContext(ctx, &app, query, id); err != nil {
		if notFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &app, true, nil
}

func (repo *ApplicationRepositoryImpl) GetOne(ctx context.Context, id string) (*models.LoanApplication, bool, error) {
	return repo.get(ctx, `SELECT `+applicationColumns+` FROM loan_applications WHERE id = $1`, id)
}

func (repo *ApplicationRepositoryImpl) GetForUpdate(ctx context.Context, id string) (*models.LoanApplication, bool, error) {
	return repo.get(ctx, `SELECT `+applicationColumns+` FROM loan_applications WHERE id = $1 FOR UPDATE`, id)
}

func (repo *ApplicationRepositoryImpl) Update(ctx context.Context, app *models.LoanApplication) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE loan_applications SET
			requested_amount = :requested_amount, currency = :currency, personal = :personal,
			employment = :employment, collateral = :collateral, declaration = :declaration, status = :status,
			debtor_check = :debtor_check, internal_notes = :internal_notes, attachments = :attachments,
			processed_by = :processed_by, reviewed_by = :reviewed_by, submitted_at = :submitted_at,
			decided_at = :decided_at, updated_at = :updated_at
		WHERE id = :id`

	_, err := sqlx.NamedExecContext(ctx, repo.db, query, app)
	return mapError(err, "application")
}

func (repo *ApplicationRepositoryImpl) List(ctx context.Context, filter models.ApplicationFilter) ([]models.LoanApplication, int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var c conditions
	c.addIf(filter.CustomerID != "", "customer_id = ?", filter.CustomerID)
	c.addIf(filter.Status != "", "status = ?", filter.Status)
	c.addIf(filter.Search != "", "(LOWER(application_no) LIKE ? OR LOWER(personal->>'full_name') LIKE ?)", like(filter.Search))
	c.addIf(filter.From != nil, "created_at >= ?", filter.From)
	c.addIf(filter.To != nil, "created_at <= ?", filter.To)

	var total int
	if err := repo.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM loan_applications`+c.where(), c.args...); err != nil {
		return nil, 0, err
	}

	suffix, args := c.page(filter.Limit, filter.Offset)
	list := []models.LoanApplication{}
	query := `SELECT ` + applicationColumns + ` FROM loan_applications` + c.where() + ` ORDER BY created_at DESC` + suffix
	if err := repo.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
