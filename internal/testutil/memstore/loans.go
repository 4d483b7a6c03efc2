package memstore

import (
	"context"
	"slices"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/shopspring/decimal"
)

func (s *Store) Loan() repository.LoanRepository { return loanRepo{s} }

type loanRepo struct{ s *Store }

// openConflict mirrors the partial unique index on (asset_id) for open loans.
func (r loanRepo) openConflict(l *models.Loan) bool {
	if !slices.Contains(models.OpenLoanStatuses, l.Status) {
		return false
	}
	for _, other := range r.s.loans.all() {
		if other.ID != l.ID && other.AssetID == l.AssetID && slices.Contains(models.OpenLoanStatuses, other.Status) {
			return true
		}
	}
	return false
}

func (r loanRepo) Insert(_ context.Context, l *models.Loan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, other := range r.s.loans.all() {
		if other.LoanNo == l.LoanNo {
			return apperror.Duplicate("loan_no already exists")
		}
	}
	newID(&l.ID)
	if r.openConflict(l) {
		return apperror.Duplicate("open loan for this asset already exists")
	}
	r.s.loans.put(l.ID, l)
	return nil
}

func (r loanRepo) GetOne(_ context.Context, id string) (*models.Loan, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	l, ok := r.s.loans.get(id)
	return l, ok, nil
}

func (r loanRepo) GetForUpdate(ctx context.Context, id string) (*models.Loan, bool, error) {
	return r.GetOne(ctx, id)
}

func (r loanRepo) GetOpenByAsset(_ context.Context, assetID string) (*models.Loan, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, l := range r.s.loans.all() {
		if l.AssetID == assetID && slices.Contains(models.OpenLoanStatuses, l.Status) {
			return l, true, nil
		}
	}
	return nil, false, nil
}

func (r loanRepo) Update(_ context.Context, l *models.Loan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.loans.get(l.ID); !ok {
		return apperror.NotFound("loan")
	}
	if l.CurrentBalance.IsNegative() {
		return apperror.InvalidState("loan balance cannot be negative")
	}
	if l.Status == models.LoanStatusRedeemed && !l.CurrentBalance.IsZero() {
		return apperror.InvalidState("redeemed loan must have a zero balance")
	}
	if r.openConflict(l) {
		return apperror.Duplicate("open loan for this asset already exists")
	}
	r.s.loans.put(l.ID, l)
	return nil
}

func (r loanRepo) List(_ context.Context, f models.LoanFilter) ([]models.Loan, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []models.Loan
	for _, l := range r.s.loans.all() {
		switch {
		case f.CustomerID != "" && l.CustomerID != f.CustomerID,
			f.AssetID != "" && l.AssetID != f.AssetID,
			f.Status != "" && l.Status != f.Status,
			len(f.Statuses) > 0 && !slices.Contains(f.Statuses, l.Status),
			f.Search != "" && !containsFold(l.LoanNo, f.Search),
			f.DueBefore != nil && !l.DueDate.Before(*f.DueBefore),
			f.From != nil && l.CreatedAt.Before(*f.From),
			f.To != nil && l.CreatedAt.After(*f.To):
			continue
		}
		out = append(out, *l)
	}
	sortDesc(out, func(l models.Loan) int64 { return l.CreatedAt.UnixNano() })
	return paginate(out, f.Limit, f.Offset), len(out), nil
}

func (r loanRepo) Stats(_ context.Context) (*models.LoanStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stats := &models.LoanStats{ByStatus: map[string]int{}, PrincipalByStatus: map[string]decimal.Decimal{}}
	for _, l := range r.s.loans.all() {
		stats.Total++
		stats.ByStatus[l.Status]++
		stats.PrincipalByStatus[l.Status] = stats.PrincipalByStatus[l.Status].Add(l.Principal)
		stats.TotalPrincipal = stats.TotalPrincipal.Add(l.Principal)
		if slices.Contains(models.OpenLoanStatuses, l.Status) {
			stats.OutstandingBalance = stats.OutstandingBalance.Add(l.CurrentBalance)
		}
	}
	return stats, nil
}

func (s *Store) LoanTerm() repository.LoanTermRepository { return termRepo{s} }

type termRepo struct{ s *Store }

func (r termRepo) Insert(_ context.Context, t *models.LoanTerm) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, other := range r.s.terms.all() {
		if other.LoanID == t.LoanID && other.TermNo == t.TermNo {
			return apperror.Duplicate("loan term already exists")
		}
	}
	if !t.DueDate.After(t.StartDate) {
		return apperror.InvalidState("term due date must be after its start date")
	}
	newID(&t.ID)
	r.s.terms.put(t.ID, t)
	return nil
}

func (r termRepo) GetOne(_ context.Context, id string) (*models.LoanTerm, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.terms.get(id)
	return t, ok, nil
}

func (r termRepo) Latest(ctx context.Context, loanID string) (*models.LoanTerm, bool, error) {
	terms, _ := r.ListByLoan(ctx, loanID)
	if len(terms) == 0 {
		return nil, false, nil
	}
	t := terms[len(terms)-1]
	return &t, true, nil
}

func (r termRepo) ListByLoan(_ context.Context, loanID string) ([]models.LoanTerm, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []models.LoanTerm{}
	for _, t := range r.s.terms.all() {
		if t.LoanID == loanID {
			out = append(out, *t)
		}
	}
	slices.SortFunc(out, func(a, b models.LoanTerm) int { return a.TermNo - b.TermNo })
	return out, nil
}

func (r termRepo) Approve(_ context.Context, t *models.LoanTerm) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.terms.get(t.ID)
	if !ok || cur.ApprovedBy.Valid {
		return nil
	}
	cur.ApprovedBy = t.ApprovedBy
	cur.ApprovedAt = t.ApprovedAt
	r.s.terms.put(cur.ID, cur)
	return nil
}

func (r termRepo) ReduceClosing(_ context.Context, t *models.LoanTerm) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.terms.get(t.ID)
	if !ok || !cur.ApprovedBy.Valid || cur.ClosingBalance.LessThan(t.ClosingBalance) {
		return apperror.InvalidState("only an approved term's closing balance can be reduced")
	}
	cur.ClosingBalance = t.ClosingBalance
	r.s.terms.put(cur.ID, cur)
	return nil
}

func (r termRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if t, ok := r.s.terms.get(id); ok && !t.ApprovedBy.Valid {
		r.s.terms.delete(id)
	}
	return nil
}

func (s *Store) LoanPayment() repository.LoanPaymentRepository { return loanPaymentRepo{s} }

type loanPaymentRepo struct{ s *Store }

func (r loanPaymentRepo) Insert(_ context.Context, p *models.LoanPayment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	newID(&p.ID)
	r.s.loanPayments.put(p.ID, p)
	return nil
}

func (r loanPaymentRepo) ListByLoan(_ context.Context, loanID string) ([]models.LoanPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []models.LoanPayment{}
	for _, p := range r.s.loanPayments.all() {
		if p.LoanID == loanID {
			out = append(out, *p)
		}
	}
	return out, nil
}
