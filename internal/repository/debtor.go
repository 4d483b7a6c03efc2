package repository

import (
	"context"
	"strings"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type DebtorRepository interface {
	Insert(ctx context.Context, debtor *models.Debtor) error
	Match(ctx context.Context, fullName, nationalID string) ([]models.Debtor, error)
}

type DebtorRepositoryImpl struct {
	db dbtx
}

func NewDebtorRepository(db dbtx) DebtorRepository {
	return &DebtorRepositoryImpl{db: db}
}

func (repo *DebtorRepositoryImpl) Insert(ctx context.Context, debtor *models.Debtor) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if debtor.ID == "" {
		debtor.ID = uuid.NewString()
	}

	query := `
		INSERT INTO debtors (id, full_name, national_id_number, creditor, amount, status, created_at)
		VALUES (:id, :full_name, :national_id_number, :creditor, :amount, :status, :created_at)`

	_, err := sqlx.NamedExecContext(ctx, repo.db, query, debtor)
	return mapError(err, "debtor")
}

// Match returns non-closed debtor records whose name or national id matches.
// Names compare case-insensitively after trimming.
func (repo *DebtorRepositoryImpl) Match(ctx context.Context, fullName, nationalID string) ([]models.Debtor, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		SELECT id, full_name, national_id_number, creditor, amount, status, created_at
		FROM debtors
		WHERE status <> 'closed'
			AND ((LOWER(TRIM(full_name)) = $1 AND $1 <> '') OR (national_id_number = $2 AND $2 <> ''))
		ORDER BY created_at`

	debtors := []models.Debtor{}
	err := repo.db.SelectContext(ctx, &debtors, query,
		strings.ToLower(strings.TrimSpace(fullName)),
		strings.TrimSpace(nationalID),
	)
	if err != nil {
		return nil, err
	}
	return debtors, nil
}
