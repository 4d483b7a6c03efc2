package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/lib/pq"
)

// secretFields never reach the audit journal, at any nesting depth.
var secretFields = []string{
	"password_hash",
	"password",
	"hashed_password",
	"otp_code",
	"otp_expires_at",
	"otp_purpose",
	"auth_providers",
}

// Sanitize converts a record into a journal snapshot without secret fields.
func Sanitize(v any) models.Meta {
	if v == nil {
		return nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return models.Meta{"unserializable": err.Error()}
	}

	var out models.Meta
	if err := json.Unmarshal(b, &out); err != nil {
		// scalars and slices are wrapped so the snapshot stays an object
		var raw any
		_ = json.Unmarshal(b, &raw)
		return models.Meta{"value": raw}
	}
	if out == nil {
		return nil
	}
	strip(out)
	return out
}

func strip(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if slices.Contains(secretFields, k) {
				delete(t, k)
				continue
			}
			strip(child)
		}
	case models.Meta:
		strip(map[string]any(t))
	case []any:
		for _, child := range t {
			strip(child)
		}
	}
}

type change struct {
	Action     string
	EntityType string
	EntityID   string
	Before     any
	After      any
	Meta       models.Meta
}

// record appends exactly one journal entry inside the caller's unit of work, so
// the entry and the state change commit or roll back together.
func (c *core) record(ctx context.Context, st repository.Store, actor models.Actor, ch change) error {
	channel := actor.Channel
	if channel == "" {
		channel = models.ChannelWeb
	}

	entry := &models.AuditLogEntry{
		ActorID:    actor.ID,
		ActorRoles: pq.StringArray(slices.Clone(actor.Roles)),
		Action:     ch.Action,
		EntityType: ch.EntityType,
		EntityID:   ch.EntityID,
		Before:     models.NewJSON(Sanitize(ch.Before)),
		After:      models.NewJSON(Sanitize(ch.After)),
		IP:         actor.IP,
		UserAgent:  actor.UserAgent,
		Channel:    channel,
		Meta:       models.NewJSON(ch.Meta),
		CreatedAt:  c.now(),
	}

	if err := st.Audit().Insert(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry %s: %w", ch.Action, err)
	}
	return nil
}

type AuditService struct {
	*core
}

func (s *AuditService) authorize(actor models.Actor) error {
	if !actor.HasAnyRole(models.AuditRoles...) {
		return apperror.Forbidden("")
	}
	return nil
}

func (s *AuditService) Query(ctx context.Context, actor models.Actor, filter models.AuditFilter) ([]models.AuditLogEntry, int, error) {
	if err := s.authorize(actor); err != nil {
		return nil, 0, err
	}
	filter.Limit, filter.Offset = pageOf(filter.Limit, filter.Offset)
	return s.DB.Audit().List(ctx, filter)
}

func (s *AuditService) Get(ctx context.Context, actor models.Actor, id string) (*models.AuditLogEntry, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}

	entry, found, err := s.DB.Audit().GetOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("audit log entry")
	}
	return entry, nil
}

func (s *AuditService) ByEntity(ctx context.Context, actor models.Actor, entityType, entityID string, limit, offset int) ([]models.AuditLogEntry, int, error) {
	return s.Query(ctx, actor, models.AuditFilter{EntityType: entityType, EntityID: entityID, Limit: limit, Offset: offset})
}

func (s *AuditService) ByActor(ctx context.Context, actor models.Actor, actorID string, limit, offset int) ([]models.AuditLogEntry, int, error) {
	return s.Query(ctx, actor, models.AuditFilter{ActorID: actorID, Limit: limit, Offset: offset})
}

func (s *AuditService) Stats(ctx context.Context, actor models.Actor, from, to *time.Time) (*models.AuditStats, error) {
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	return s.DB.Audit().Stats(ctx, from, to)
}

const (
	ExportJSON = "json"
	ExportCSV  = "csv"

	exportLimit = 10000
)

// Export renders every matching entry (up to exportLimit) as JSON or CSV and
// returns the body with its content type.
func (s *AuditService) Export(ctx context.Context, actor models.Actor, filter models.AuditFilter, format string) ([]byte, string, error) {
	if err := s.authorize(actor); err != nil {
		return nil, "", err
	}
	if format == "" {
		format = ExportJSON
	}
	if format != ExportJSON && format != ExportCSV {
		return nil, "", apperror.FieldInvalid("format", "format must be json or csv")
	}

	filter.Limit, filter.Offset = exportLimit, 0
	entries, _, err := s.DB.Audit().List(ctx, filter)
	if err != nil {
		return nil, "", err
	}

	if format == ExportJSON {
		if entries == nil {
			entries = []models.AuditLogEntry{}
		}
		b, err := json.Marshal(entries)
		return b, "application/json", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"id", "created_at", "actor_id", "actor_roles", "action", "entity_type", "entity_id", "channel", "ip", "before", "after", "meta"})
	for _, e := range entries {
		before, _ := json.Marshal(e.Before.V)
		after, _ := json.Marshal(e.After.V)
		meta, _ := json.Marshal(e.Meta.V)
		_ = w.Write([]string{
			e.ID,
			e.CreatedAt.Format(time.RFC3339),
			e.ActorID,
			strings.Join(e.ActorRoles, "|"),
			e.Action,
			e.EntityType,
			e.EntityID,
			e.Channel,
			e.IP,
			string(before),
			string(after),
			string(meta),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "text/csv", nil
}
