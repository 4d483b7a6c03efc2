package models

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	ValuationStageMarket = "market"
	ValuationStageFinal  = "final"
)

const (
	ValuationStatusRequested  = "requested"
	ValuationStatusInProgress = "in_progress"
	ValuationStatusCompleted  = "completed"
	ValuationStatusRejected   = "rejected"
)

var ValuationMachine = Machine{
	ValuationStatusRequested:  {ValuationStatusInProgress, ValuationStatusRejected},
	ValuationStatusInProgress: {ValuationStatusCompleted, ValuationStatusRejected},
}

type CreditCheck struct {
	Performed bool      `json:"performed"`
	Score     int       `json:"score,omitempty"`
	Bureau    string    `json:"bureau,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

type AssetValuation struct {
	ID                   string              `db:"id" json:"id"`
	AssetID              string              `db:"asset_id" json:"asset_id"`
	ParentID             sql.NullString      `db:"parent_id" json:"parent_id"`
	Stage                string              `db:"stage" json:"stage"`
	Status               string              `db:"status" json:"status"`
	RequestedBy          string              `db:"requested_by" json:"requested_by"`
	ValuedBy             sql.NullString      `db:"valued_by" json:"valued_by"`
	AssessmentDate       sql.NullTime        `db:"assessment_date" json:"assessment_date"`
	EstimatedMarketValue decimal.NullDecimal `db:"estimated_market_value" json:"estimated_market_value"`
	EstimatedLoanValue   decimal.NullDecimal `db:"estimated_loan_value" json:"estimated_loan_value"`
	FinalValue           decimal.NullDecimal `db:"final_value" json:"final_value"`
	DesiredLoanAmount    decimal.NullDecimal `db:"desired_loan_amount" json:"desired_loan_amount"`
	Currency             string              `db:"currency" json:"currency"`
	CreditCheck          JSON[*CreditCheck]  `db:"credit_check" json:"credit_check"`
	Comments             string              `db:"comments" json:"comments"`
	Attachments          pq.StringArray      `db:"attachments" json:"attachments"`
	CreatedAt            time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time           `db:"updated_at" json:"updated_at"`
	CompletedAt          sql.NullTime        `db:"completed_at" json:"completed_at"`
}

type ValuationFilter struct {
	AssetID     string
	Stage       string
	Status      string
	RequestedBy string
	ValuedBy    string
	Limit       int
	Offset      int
}
