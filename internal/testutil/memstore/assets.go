package memstore

import (
	"context"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/shopspring/decimal"
)

func (s *Store) Asset() repository.AssetRepository { return assetRepo{s} }

type assetRepo struct{ s *Store }

func (r assetRepo) Insert(_ context.Context, a *models.Asset) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, other := range r.s.assets.all() {
		if other.AssetNo == a.AssetNo {
			return apperror.Duplicate("asset_no already exists")
		}
	}
	newID(&a.ID)
	r.s.assets.put(a.ID, a)
	return nil
}

func (r assetRepo) GetOne(_ context.Context, id string) (*models.Asset, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.assets.get(id)
	return a, ok, nil
}

func (r assetRepo) GetForUpdate(ctx context.Context, id string) (*models.Asset, bool, error) {
	return r.GetOne(ctx, id)
}

func (r assetRepo) Update(_ context.Context, a *models.Asset) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	prev, ok := r.s.assets.get(a.ID)
	if !ok {
		return apperror.NotFound("asset")
	}
	if !a.LoanLinkConsistent() {
		return apperror.InvalidState("asset with an active loan must be in a loan-bearing status")
	}
	a.AssetNo = prev.AssetNo
	r.s.assets.put(a.ID, a)
	return nil
}

func (r assetRepo) List(_ context.Context, f models.AssetFilter) ([]models.Asset, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []models.Asset
	for _, a := range r.s.assets.all() {
		switch {
		case f.Category != "" && a.Category != f.Category,
			f.Status != "" && a.Status != f.Status,
			f.OwnerID != "" && a.OwnerID != f.OwnerID,
			f.Title != "" && !containsFold(a.Title, f.Title),
			f.AssetNo != "" && a.AssetNo != f.AssetNo,
			f.Search != "" && !containsFold(a.Title+" "+a.Description+" "+a.AssetNo, f.Search),
			f.From != nil && a.CreatedAt.Before(*f.From),
			f.To != nil && a.CreatedAt.After(*f.To):
			continue
		}
		out = append(out, *a)
	}
	sortDesc(out, func(a models.Asset) int64 { return a.CreatedAt.UnixNano() })
	return paginate(out, f.Limit, f.Offset), len(out), nil
}

func (r assetRepo) Stats(_ context.Context) (*models.AssetStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stats := &models.AssetStats{
		ByStatus:        map[string]int{},
		ByCategory:      map[string]int{},
		ValueByCategory: map[string]decimal.Decimal{},
	}
	for _, a := range r.s.assets.all() {
		stats.Total++
		stats.ByStatus[a.Status]++
		stats.ByCategory[a.Category]++
		if a.EvaluatedValue.Valid {
			stats.ValueByCategory[a.Category] = stats.ValueByCategory[a.Category].Add(a.EvaluatedValue.Decimal)
			stats.TotalEvaluatedValue = stats.TotalEvaluatedValue.Add(a.EvaluatedValue.Decimal)
		}
	}
	return stats, nil
}
