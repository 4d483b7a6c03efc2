package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/repository"
)

func (s *Store) Audit() repository.AuditRepository { return auditRepo{s} }

type auditRepo struct{ s *Store }

func (r auditRepo) Insert(_ context.Context, e *models.AuditLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.FailAuditInsert != nil {
		return r.s.FailAuditInsert
	}
	newID(&e.ID)
	r.s.audit.put(e.ID, e)
	return nil
}

func (r auditRepo) GetOne(_ context.Context, id string) (*models.AuditLogEntry, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.audit.get(id)
	return e, ok, nil
}

func (r auditRepo) filtered(f models.AuditFilter) []models.AuditLogEntry {
	var out []models.AuditLogEntry
	for _, e := range r.s.audit.all() {
		switch {
		case f.ActorID != "" && e.ActorID != f.ActorID,
			f.Action != "" && e.Action != f.Action,
			f.EntityType != "" && e.EntityType != f.EntityType,
			f.EntityID != "" && e.EntityID != f.EntityID,
			f.Channel != "" && e.Channel != f.Channel,
			f.From != nil && e.CreatedAt.Before(*f.From),
			f.To != nil && e.CreatedAt.After(*f.To):
			continue
		}
		out = append(out, *e)
	}
	return out
}

func (r auditRepo) List(_ context.Context, f models.AuditFilter) ([]models.AuditLogEntry, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := r.filtered(f)
	// newest first; insertion order breaks ties
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sortDesc(out, func(e models.AuditLogEntry) int64 { return e.CreatedAt.UnixNano() })
	return paginate(out, f.Limit, f.Offset), len(out), nil
}

func (r auditRepo) Stats(_ context.Context, from, to *time.Time) (*models.AuditStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entries := r.filtered(models.AuditFilter{From: from, To: to})
	byAction, byEntity, byActor := map[string]int{}, map[string]int{}, map[string]int{}
	for _, e := range entries {
		byAction[e.Action]++
		byEntity[e.EntityType]++
		byActor[e.ActorID]++
	}
	return &models.AuditStats{
		Total:        len(entries),
		ByAction:     counts(byAction),
		ByEntityType: counts(byEntity),
		ByActor:      counts(byActor),
	}, nil
}

func counts(m map[string]int) []models.CountBy {
	out := make([]models.CountBy, 0, len(m))
	for k, v := range m {
		out = append(out, models.CountBy{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
