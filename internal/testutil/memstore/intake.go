package memstore

import (
	"context"
	"strings"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/repository"
)

func (s *Store) Valuation() repository.ValuationRepository { return valuationRepo{s} }

type valuationRepo struct{ s *Store }

func (r valuationRepo) Insert(_ context.Context, v *models.AssetValuation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	newID(&v.ID)
	r.s.valuations.put(v.ID, v)
	return nil
}

func (r valuationRepo) GetOne(_ context.Context, id string) (*models.AssetValuation, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	v, ok := r.s.valuations.get(id)
	return v, ok, nil
}

func (r valuationRepo) GetForUpdate(ctx context.Context, id string) (*models.AssetValuation, bool, error) {
	return r.GetOne(ctx, id)
}

func (r valuationRepo) Update(_ context.Context, v *models.AssetValuation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.valuations.get(v.ID); !ok {
		return apperror.NotFound("valuation")
	}
	r.s.valuations.put(v.ID, v)
	return nil
}

func (r valuationRepo) List(_ context.Context, f models.ValuationFilter) ([]models.AssetValuation, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []models.AssetValuation
	for _, v := range r.s.valuations.all() {
		switch {
		case f.AssetID != "" && v.AssetID != f.AssetID,
			f.Stage != "" && v.Stage != f.Stage,
			f.Status != "" && v.Status != f.Status,
			f.RequestedBy != "" && v.RequestedBy != f.RequestedBy,
			f.ValuedBy != "" && v.ValuedBy.String != f.ValuedBy:
			continue
		}
		out = append(out, *v)
	}
	sortDesc(out, func(v models.AssetValuation) int64 { return v.CreatedAt.UnixNano() })
	return paginate(out, f.Limit, f.Offset), len(out), nil
}

func (s *Store) Application() repository.ApplicationRepository { return applicationRepo{s} }

type applicationRepo struct{ s *Store }

func (r applicationRepo) Insert(_ context.Context, a *models.LoanApplication) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, other := range r.s.applications.all() {
		if other.ApplicationNo == a.ApplicationNo {
			return apperror.Duplicate("application_no already exists")
		}
	}
	newID(&a.ID)
	r.s.applications.put(a.ID, a)
	return nil
}

func (r applicationRepo) GetOne(_ context.Context, id string) (*models.LoanApplication, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.applications.get(id)
	return a, ok, nil
}

func (r applicationRepo) GetForUpdate(ctx context.Context, id string) (*models.LoanApplication, bool, error) {
	return r.GetOne(ctx, id)
}

func (r applicationRepo) Update(_ context.Context, a *models.LoanApplication) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.applications.get(a.ID); !ok {
		return apperror.NotFound("application")
	}
	r.s.applications.put(a.ID, a)
	return nil
}

func (r applicationRepo) List(_ context.Context, f models.ApplicationFilter) ([]models.LoanApplication, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []models.LoanApplication
	for _, a := range r.s.applications.all() {
		switch {
		case f.CustomerID != "" && a.CustomerID != f.CustomerID,
			f.Status != "" && a.Status != f.Status,
			f.Search != "" && !containsFold(a.ApplicationNo+" "+a.Personal.V.FullName, f.Search),
			f.From != nil && a.CreatedAt.Before(*f.From),
			f.To != nil && a.CreatedAt.After(*f.To):
			continue
		}
		out = append(out, *a)
	}
	sortDesc(out, func(a models.LoanApplication) int64 { return a.CreatedAt.UnixNano() })
	return paginate(out, f.Limit, f.Offset), len(out), nil
}

func (s *Store) Debtor() repository.DebtorRepository { return debtorRepo{s} }

type debtorRepo struct{ s *Store }

func (r debtorRepo) Insert(_ context.Context, d *models.Debtor) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	newID(&d.ID)
	r.s.debtors.put(d.ID, d)
	return nil
}

func (r debtorRepo) Match(_ context.Context, fullName, nationalID string) ([]models.Debtor, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	name := strings.ToLower(strings.TrimSpace(fullName))
	nid := strings.TrimSpace(nationalID)

	out := []models.Debtor{}
	for _, d := range r.s.debtors.all() {
		if d.Status == models.DebtorStatusClosed {
			continue
		}
		if (name != "" && strings.ToLower(strings.TrimSpace(d.FullName)) == name) ||
			(nid != "" && d.NationalIDNumber == nid) {
			out = append(out, *d)
		}
	}
	return out, nil
}
