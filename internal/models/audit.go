package models

import (
	"time"

	"github.com/lib/pq"
)

// Entity types recorded on audit entries.
const (
	EntityUser        = "user"
	EntityAsset       = "asset"
	EntityValuation   = "valuation"
	EntityApplication = "application"
	EntityLoan        = "loan"
	EntityLoanTerm    = "loan_term"
	EntityAuction     = "auction"
	EntityBid         = "bid"
	EntityBidPayment  = "bid_payment"
)

type AuditLogEntry struct {
	ID         string         `db:"id" json:"id"`
	ActorID    string         `db:"actor_id" json:"actor_id"`
	ActorRoles pq.StringArray `db:"actor_roles" json:"actor_roles"`
	Action     string         `db:"action" json:"action"`
	EntityType string         `db:"entity_type" json:"entity_type"`
	EntityID   string         `db:"entity_id" json:"entity_id"`
	Before     JSON[Meta]     `db:"before" json:"before"`
	After      JSON[Meta]     `db:"after" json:"after"`
	IP         string         `db:"ip" json:"ip"`
	UserAgent  string         `db:"user_agent" json:"user_agent"`
	Channel    string         `db:"channel" json:"channel"`
	Meta       JSON[Meta]     `db:"meta" json:"meta"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

type AuditFilter struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Channel    string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

type CountBy struct {
	Key   string `db:"key" json:"key"`
	Count int    `db:"count" json:"count"`
}

type AuditStats struct {
	Total        int       `json:"total"`
	ByAction     []CountBy `json:"by_action"`
	ByEntityType []CountBy `json:"by_entity_type"`
	ByActor      []CountBy `json:"by_actor"`
}
