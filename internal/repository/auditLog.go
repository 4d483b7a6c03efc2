// The audit journal is append-only: there is no update or delete here, and the
// table rejects both at the database level as well.
// entity_type/entity_id is polymorphic so one table serves every aggregate.
package repository

import (
	"context"
	"time"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type AuditRepository interface {
	Insert(ctx context.Context, entry *models.AuditLogEntry) error
	GetOne(ctx context.Context, id string) (*models.AuditLogEntry, bool, error)
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLogEntry, int, error)
	Stats(ctx context.Context, from, to *time.Time) (*models.AuditStats, error)
}

const auditColumns = `id, actor_id, actor_roles, action, entity_type, entity_id, before, after, ip, user_agent,
	channel, meta, created_at`

type AuditRepositoryImpl struct {
	db dbtx
}

func NewAuditRepository(db dbtx) AuditRepository {
	return &AuditRepositoryImpl{db: db}
}

func (repo *AuditRepositoryImpl) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES (:id, :actor_id, :actor_roles, :action, :entity_type, :entity_id, :before, :after, :ip, :user_agent,
			:channel, :meta, :created_at)`

	_, err := sqlx.NamedExecContext(ctx, repo.db, query, entry)
	return err
}

func (repo *AuditRepositoryImpl) GetOne(ctx context.Context, id string) (*models.AuditLogEntry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var entry models.AuditLogEntry
	if err := repo.db.GetContext(ctx, &entry, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id); err != nil {
		if notFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &entry, true, nil
}

func auditConditions(filter models.AuditFilter) conditions {
	var c conditions
	c.addIf(filter.ActorID != "", "actor_id = ?", filter.ActorID)
	c.addIf(filter.Action != "", "action = ?", filter.Action)
	c.addIf(filter.EntityType != "", "entity_type = ?", filter.EntityType)
	c.addIf(filter.EntityID != "", "entity_id = ?", filter.EntityID)
	c.addIf(filter.Channel != "", "channel = ?", filter.Channel)
	c.addIf(filter.From != nil, "created_at >= ?", filter.From)
	c.addIf(filter.To != nil, "created_at <= ?", filter.To)
	return c
}

func (repo *AuditRepositoryImpl) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLogEntry, int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	c := auditConditions(filter)

	var total int
	if err := repo.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_logs`+c.where(), c.args...); err != nil {
		return nil, 0, err
	}

	suffix, args := c.page(filter.Limit, filter.Offset)
	entries := []models.AuditLogEntry{}
	query := `SELECT ` + auditColumns + ` FROM audit_logs` + c.where() + ` ORDER BY created_at DESC, id` + suffix
	if err := repo.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (repo *AuditRepositoryImpl) Stats(ctx context.Context, from, to *time.Time) (*models.AuditStats, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	c := auditConditions(models.AuditFilter{From: from, To: to})
	stats := &models.AuditStats{}

	if err := repo.db.GetContext(ctx, &stats.Total, `SELECT COUNT(*) FROM audit_logs`+c.where(), c.args...); err != nil {
		return nil, err
	}

	groups := []struct {
		column string
		dest   *[]models.CountBy
	}{
		{"action", &stats.ByAction},
		{"entity_type", &stats.ByEntityType},
		{"actor_id", &stats.ByActor},
	}
	for _, g := range groups {
		query := `SELECT ` + g.column + ` AS key, COUNT(*) AS count FROM audit_logs` + c.where() +
			` GROUP BY ` + g.column + ` ORDER BY count DESC, key`
		*g.dest = []models.CountBy{}
		if err := repo.db.SelectContext(ctx, g.dest, query, c.args...); err != nil {
			return nil, err
		}
	}
	return stats, nil
}
