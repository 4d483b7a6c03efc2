package models

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	ApplicationStatusDraft      = "draft"
	ApplicationStatusSubmitted  = "submitted"
	ApplicationStatusProcessing = "processing"
	ApplicationStatusApproved   = "approved"
	ApplicationStatusRejected   = "rejected"
	ApplicationStatusCancelled  = "cancelled"
)

var ApplicationMachine = Machine{
	ApplicationStatusDraft:      {ApplicationStatusSubmitted, ApplicationStatusCancelled},
	ApplicationStatusSubmitted:  {ApplicationStatusProcessing, ApplicationStatusCancelled},
	ApplicationStatusProcessing: {ApplicationStatusApproved, ApplicationStatusRejected, ApplicationStatusCancelled},
}

// Collateral categories as captured on the application form.
const (
	CollateralSmallLoans   = "small_loans"
	CollateralMotorVehicle = "motor_vehicle"
	CollateralJewellery    = "jewellery"
)

var CollateralCategories = []string{CollateralSmallLoans, CollateralMotorVehicle, CollateralJewellery}

// AssetCategoryFor maps a collateral category onto the asset registry category.
func AssetCategoryFor(collateral string) string {
	switch collateral {
	case CollateralSmallLoans:
		return AssetCategoryElectronics
	case CollateralMotorVehicle:
		return AssetCategoryVehicle
	case CollateralJewellery:
		return AssetCategoryJewellery
	}
	return ""
}

// CollateralFor is the inverse of AssetCategoryFor.
func CollateralFor(assetCategory string) string {
	switch assetCategory {
	case AssetCategoryElectronics:
		return CollateralSmallLoans
	case AssetCategoryVehicle:
		return CollateralMotorVehicle
	case AssetCategoryJewellery:
		return CollateralJewellery
	}
	return ""
}

type PersonalDetails struct {
	FullName         string `json:"full_name"`
	NationalIDNumber string `json:"national_id_number"`
	DateOfBirth      string `json:"date_of_birth,omitempty"`
	Gender           string `json:"gender,omitempty"`
	MaritalStatus    string `json:"marital_status,omitempty"`
	Phone            string `json:"phone"`
	Email            string `json:"email,omitempty"`
	Address          string `json:"address"`
	City             string `json:"city,omitempty"`
}

type EmploymentDetails struct {
	Status        string          `json:"status"`
	EmployerName  string          `json:"employer_name,omitempty"`
	JobTitle      string          `json:"job_title,omitempty"`
	MonthlyIncome decimal.Decimal `json:"monthly_income"`
	YearsEmployed int             `json:"years_employed,omitempty"`
}

type CollateralDetails struct {
	Category       string          `json:"category"`
	Description    string          `json:"description"`
	EstimatedValue decimal.Decimal `json:"estimated_value"`
	AssetID        string          `json:"asset_id,omitempty"`
}

type Declaration struct {
	Accepted     bool      `json:"accepted"`
	SignatureRef string    `json:"signature_ref"`
	SignedAt     time.Time `json:"signed_at"`
	Place        string    `json:"place,omitempty"`
}

type DebtorCheck struct {
	Checked        bool      `json:"checked"`
	Matched        bool      `json:"matched"`
	MatchedRecords []string  `json:"matched_records"`
	CheckedAt      time.Time `json:"checked_at"`
	CheckedBy      string    `json:"checked_by"`
	Notes          string    `json:"notes,omitempty"`
}

type ApplicationNote struct {
	Status    string    `json:"status"`
	Note      string    `json:"note"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

type LoanApplication struct {
	ID              string                   `db:"id" json:"id"`
	ApplicationNo   string                   `db:"application_no" json:"application_no"`
	CustomerID      string                   `db:"customer_id" json:"customer_id"`
	RequestedAmount decimal.Decimal          `db:"requested_amount" json:"requested_amount"`
	Currency        string                   `db:"currency" json:"currency"`
	Personal        JSON[PersonalDetails]    `db:"personal" json:"personal"`
	Employment      JSON[*EmploymentDetails] `db:"employment" json:"employment"`
	Collateral      JSON[CollateralDetails]  `db:"collateral" json:"collateral"`
	Declaration     JSON[*Declaration]       `db:"declaration" json:"declaration"`
	Status          string                   `db:"status" json:"status"`
	DebtorCheck     JSON[*DebtorCheck]       `db:"debtor_check" json:"debtor_check"`
	InternalNotes   JSON[[]ApplicationNote]  `db:"internal_notes" json:"internal_notes"`
	Attachments     pq.StringArray           `db:"attachments" json:"attachments"`
	ProcessedBy     sql.NullString           `db:"processed_by" json:"processed_by"`
	ReviewedBy      sql.NullString           `db:"reviewed_by" json:"reviewed_by"`
	SubmittedAt     sql.NullTime             `db:"submitted_at" json:"submitted_at"`
	DecidedAt       sql.NullTime             `db:"decided_at" json:"decided_at"`
	CreatedAt       time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time                `db:"updated_at" json:"updated_at"`
}

// MissingForSubmit lists the required fields that are still empty.
func (a *LoanApplication) MissingForSubmit() []string {
	var missing []string
	p := a.Personal.V
	if p.FullName == "" {
		missing = append(missing, "personal.full_name")
	}
	if p.NationalIDNumber == "" {
		missing = append(missing, "personal.national_id_number")
	}
	if p.Phone == "" {
		missing = append(missing, "personal.phone")
	}
	if p.Address == "" {
		missing = append(missing, "personal.address")
	}

	e := a.Employment.V
	if e == nil || e.Status == "" {
		missing = append(missing, "employment.status")
	}

	c := a.Collateral.V
	if c.Category == "" {
		missing = append(missing, "collateral.category")
	}
	if c.Description == "" {
		missing = append(missing, "collateral.description")
	}

	d := a.Declaration.V
	if d == nil || !d.Accepted || d.SignatureRef == "" {
		missing = append(missing, "declaration")
	}

	if !a.RequestedAmount.IsPositive() {
		missing = append(missing, "requested_amount")
	}

	return missing
}

type ApplicationFilter struct {
	CustomerID string
	Status     string
	Search     string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}
