package repository

import (
	"context"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type LoanPaymentRepository interface {
	Insert(ctx context.Context, payment *models.LoanPayment) error
	ListByLoan(ctx context.Context, loanID string) ([]models.LoanPayment, error)
}

type LoanPaymentRepositoryImpl struct {
	db dbtx
}

func NewLoanPaymentRepository(db dbtx) LoanPaymentRepository {
	return &LoanPaymentRepositoryImpl{db: db}
}

func (repo *LoanPaymentRepositoryImpl) Insert(ctx context.Context, payment *models.LoanPayment) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}

	query := `
		INSERT INTO loan_payments (id, loan_id, amount, balance_before, balance_after, currency, method, reference, received_by, created_at)
		VALUES (:id, :loan_id, :amount, :balance_before, :balance_after, :currency, :method, :reference, :received_by, :created_at)`

	_, err := sqlx.NamedExecContext(ctx, repo.db, query, payment)
	return mapError(err, "loan payment")
}

func (repo *LoanPaymentRepositoryImpl) ListByLoan(ctx context.Context, loanID string) ([]models.LoanPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	payments := []models.LoanPayment{}
	query := `
		SELECT id, loan_id, amount, balance_before, balance_after, currency, method, reference, received_by, created_at
		FROM loan_payments WHERE loan_id = $1 ORDER BY created_at`

	if err := repo.db.SelectContext(ctx, &payments, query, loanID); err != nil {
		return nil, err
	}
	return payments, nil
}
