package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RenewalInitial          = "initial"
	RenewalInterestOnly     = "interest_only_renewal"
	RenewalPartialPrincipal = "partial_principal_renewal"
	RenewalFullSettlement   = "full_settlement"
)

var RenewalTypes = []string{RenewalInterestOnly, RenewalPartialPrincipal, RenewalFullSettlement}

type LoanTerm struct {
	ID                 string              `db:"id" json:"id"`
	LoanID             string              `db:"loan_id" json:"loan_id"`
	TermNo             int                 `db:"term_no" json:"term_no"`
	StartDate          time.Time           `db:"start_date" json:"start_date"`
	DueDate            time.Time           `db:"due_date" json:"due_date"`
	OpeningBalance     decimal.Decimal     `db:"opening_balance" json:"opening_balance"`
	ClosingBalance     decimal.Decimal     `db:"closing_balance" json:"closing_balance"`
	InterestRate       decimal.Decimal     `db:"interest_rate" json:"interest_rate"`
	InterestPeriodDays int                 `db:"interest_period_days" json:"interest_period_days"`
	StorageCharge      decimal.Decimal     `db:"storage_charge" json:"storage_charge"`
	RenewalType        string              `db:"renewal_type" json:"renewal_type"`
	PaymentAmount      decimal.NullDecimal `db:"payment_amount" json:"payment_amount"`
	CreatedBy          string              `db:"created_by" json:"created_by"`
	ApprovedBy         sql.NullString      `db:"approved_by" json:"approved_by"`
	ApprovedAt         sql.NullTime        `db:"approved_at" json:"approved_at"`
	Notes              string              `db:"notes" json:"notes"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
}

func (t *LoanTerm) Approved() bool {
	return t.ApprovedBy.Valid
}

// TermPreview is the computed shape of the next renewal, before it is stored.
type TermPreview struct {
	TermNo             int             `json:"term_no"`
	StartDate          time.Time       `json:"start_date"`
	DueDate            time.Time       `json:"due_date"`
	OpeningBalance     decimal.Decimal `json:"opening_balance"`
	ClosingBalance     decimal.Decimal `json:"closing_balance"`
	InterestRate       decimal.Decimal `json:"interest_rate"`
	InterestPeriodDays int             `json:"interest_period_days"`
	StorageCharge      decimal.Decimal `json:"storage_charge"`
	RenewalType        string          `json:"renewal_type"`
}
