package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

const (
	LoanStatusDraft     = "draft"
	LoanStatusActive    = "active"
	LoanStatusOverdue   = "overdue"
	LoanStatusInGrace   = "in_grace"
	LoanStatusAuction   = "auction"
	LoanStatusSold      = "sold"
	LoanStatusRedeemed  = "redeemed"
	LoanStatusClosed    = "closed"
	LoanStatusCancelled = "cancelled"
)

var LoanMachine = Machine{
	LoanStatusDraft:    {LoanStatusActive, LoanStatusCancelled},
	LoanStatusActive:   {LoanStatusOverdue, LoanStatusRedeemed, LoanStatusClosed},
	LoanStatusOverdue:  {LoanStatusInGrace, LoanStatusActive, LoanStatusRedeemed, LoanStatusClosed, LoanStatusAuction},
	LoanStatusInGrace:  {LoanStatusAuction, LoanStatusActive, LoanStatusRedeemed, LoanStatusClosed},
	LoanStatusAuction:  {LoanStatusSold, LoanStatusOverdue},
	LoanStatusSold:     {LoanStatusClosed},
	LoanStatusRedeemed: {LoanStatusClosed},
}

// OpenLoanStatuses hold the asset; at most one loan per asset may sit in these.
var OpenLoanStatuses = []string{LoanStatusActive, LoanStatusOverdue, LoanStatusInGrace, LoanStatusAuction}

// ReleasingLoanStatuses clear the asset's active loan link.
var ReleasingLoanStatuses = []string{LoanStatusRedeemed, LoanStatusSold, LoanStatusClosed, LoanStatusCancelled}

// AssetStatusForLoan returns the asset status derived from a loan status.
func AssetStatusForLoan(loanStatus string) (string, bool) {
	switch loanStatus {
	case LoanStatusActive:
		return AssetStatusPawned, true
	case LoanStatusOverdue, LoanStatusInGrace:
		return AssetStatusOverdue, true
	case LoanStatusAuction:
		return AssetStatusAuction, true
	case LoanStatusSold:
		return AssetStatusSold, true
	case LoanStatusRedeemed:
		return AssetStatusRedeemed, true
	case LoanStatusClosed, LoanStatusCancelled:
		return AssetStatusClosed, true
	}
	return "", false
}

type Loan struct {
	ID                 string          `db:"id" json:"id"`
	LoanNo             string          `db:"loan_no" json:"loan_no"`
	CustomerID         string          `db:"customer_id" json:"customer_id"`
	ApplicationID      string          `db:"application_id" json:"application_id"`
	AssetID            string          `db:"asset_id" json:"asset_id"`
	CollateralCategory string          `db:"collateral_category" json:"collateral_category"`
	Principal          decimal.Decimal `db:"principal" json:"principal"`
	CurrentBalance     decimal.Decimal `db:"current_balance" json:"current_balance"`
	Currency           string          `db:"currency" json:"currency"`
	InterestRate       decimal.Decimal `db:"interest_rate" json:"interest_rate"`
	InterestPeriodDays int             `db:"interest_period_days" json:"interest_period_days"`
	StorageCharge      decimal.Decimal `db:"storage_charge" json:"storage_charge"`
	PenaltyRate        decimal.Decimal `db:"penalty_rate" json:"penalty_rate"`
	GraceDays          int             `db:"grace_days" json:"grace_days"`
	StartDate          time.Time       `db:"start_date" json:"start_date"`
	DueDate            time.Time       `db:"due_date" json:"due_date"`
	Status             string          `db:"status" json:"status"`
	CreatedBy          string          `db:"created_by" json:"created_by"`
	ProcessedBy        sql.NullString  `db:"processed_by" json:"processed_by"`
	ApprovedBy         sql.NullString  `db:"approved_by" json:"approved_by"`
	DisbursedAt        sql.NullTime    `db:"disbursed_at" json:"disbursed_at"`
	ClosedAt           sql.NullTime    `db:"closed_at" json:"closed_at"`
	Notes              string          `db:"notes" json:"notes"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

type LoanPayment struct {
	ID            string          `db:"id" json:"id"`
	LoanID        string          `db:"loan_id" json:"loan_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	BalanceBefore decimal.Decimal `db:"balance_before" json:"balance_before"`
	BalanceAfter  decimal.Decimal `db:"balance_after" json:"balance_after"`
	Currency      string          `db:"currency" json:"currency"`
	Method        string          `db:"method" json:"method"`
	Reference     string          `db:"reference" json:"reference"`
	ReceivedBy    string          `db:"received_by" json:"received_by"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Charges is a point-in-time breakdown of what the customer owes.
type Charges struct {
	LoanID         string          `json:"loan_id"`
	AsOf           time.Time       `json:"as_of"`
	DaysElapsed    int             `json:"days_elapsed"`
	DaysOverdue    int             `json:"days_overdue"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Interest       decimal.Decimal `json:"interest"`
	StorageCharge  decimal.Decimal `json:"storage_charge"`
	Penalty        decimal.Decimal `json:"penalty"`
	TotalDue       decimal.Decimal `json:"total_due"`
	Currency       string          `json:"currency"`
}

type LoanFilter struct {
	CustomerID string
	AssetID    string
	Status     string
	Statuses   []string
	Search     string
	DueBefore  *time.Time
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

type LoanStats struct {
	Total              int                        `json:"total"`
	ByStatus           map[string]int             `json:"by_status"`
	TotalPrincipal     decimal.Decimal            `json:"total_principal"`
	OutstandingBalance decimal.Decimal            `json:"outstanding_balance"`
	PrincipalByStatus  map[string]decimal.Decimal `json:"principal_by_status"`
}
