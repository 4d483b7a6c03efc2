package repository

import (
	"context"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type LoanTermRepository interface {
	Insert(ctx context.Context, term *models.LoanTerm) error
	GetOne(ctx context.Context, id string) (*models.LoanTerm, bool, error)
	Latest(ctx context.Context, loanID string) (*models.LoanTerm, bool, error)
	ListByLoan(ctx context.Context, loanID string) ([]models.LoanTerm, error)
	Approve(ctx context.Context, term *models.LoanTerm) error
	ReduceClosing(ctx context.Context, term *models.LoanTerm) error
	Delete(ctx context.Context, id string) error
}

const termColumns = `id, loan_id, term_no, start_date, due_date, opening_balance, closing_balance, interest_rate,
	interest_period_days, storage_charge, renewal_type, payment_amount, created_by, approved_by, approved_at,
	notes, created_at`

type LoanTermRepositoryImpl struct {
	db dbtx
}

func NewLoanTermRepository(db dbtx) LoanTermRepository {
	return &LoanTermRepositoryImpl{db: db}
}

func (repo *LoanTermRepositoryImpl) Insert(ctx context.Context, term *models.LoanTerm) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if term.ID == "" {
		term.ID = uuid.NewString()
	}

	query := `
		INSERT INTO loan_terms (` + termColumns + `)
		VALUES (:id, :loan_id, :term_no, :start_date, :due_date, :opening_balance, :closing_balance, :interest_rate,
			:interest_period_days, :storage_charge, :renewal_type, :payment_amount, :created_by, :approved_by, :approved_at,
			:notes, :created_at)`

	_, err := sqlx.NamedExecContext(ctx, repo.db, query, term)
	return mapError(err, "loan term")
}

func (repo *LoanTermRepositoryImpl) get(ctx context.Context, query, arg string) (*models.LoanTerm, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var term models.LoanTerm
	if err := repo.db.GetContext(ctx, &term, query, arg); err != nil {
		if notFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &term, true, nil
}

func (repo *LoanTermRepositoryImpl) GetOne(ctx context.Context, id string) (*models.LoanTerm, bool, error) {
	return repo.get(ctx, `SELECT `+termColumns+` FROM loan_terms WHERE id = $1`, id)
}

func (repo *LoanTermRepositoryImpl) Latest(ctx context.Context, loanID string) (*models.LoanTerm, bool, error) {
	return repo.get(ctx, `SELECT `+termColumns+` FROM loan_terms WHERE loan_id = $1 ORDER BY term_no DESC LIMIT 1`, loanID)
}

func (repo *LoanTermRepositoryImpl) ListByLoan(ctx context.Context, loanID string) ([]models.LoanTerm, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	terms := []models.LoanTerm{}
	query := `SELECT ` + termColumns + ` FROM loan_terms WHERE loan_id = $1 ORDER BY term_no`
	if err := repo.db.SelectContext(ctx, &terms, query, loanID); err != nil {
		return nil, err
	}
	return terms, nil
}

// Approve stamps the approver once; an already approved term is left untouched.
func (repo *LoanTermRepositoryImpl) Approve(ctx context.Context, term *models.LoanTerm) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE loan_terms SET approved_by = $1, approved_at = $2
		WHERE id = $3 AND approved_by IS NULL`

	_, err := repo.db.ExecContext(ctx, query, term.ApprovedBy, term.ApprovedAt, term.ID)
	return err
}

// ReduceClosing books a counter payment against an approved term so the next
// renewal opens from the balance actually owed.
func (repo *LoanTermRepositoryImpl) ReduceClosing(ctx context.Context, term *models.LoanTerm) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE loan_terms SET closing_balance = $1
		WHERE id = $2 AND approved_by IS NOT NULL AND closing_balance >= $1`

	res, err := repo.db.ExecContext(ctx, query, term.ClosingBalance, term.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return apperror.InvalidState("only an approved term's closing balance can be reduced")
	}
	return nil
}

// Delete removes an unapproved term.
func (repo *LoanTermRepositoryImpl) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := repo.db.ExecContext(ctx, `DELETE FROM loan_terms WHERE id = $1 AND approved_by IS NULL`, id)
	return err
}
