package models

import (
	"database/sql"
	"slices"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	AssetCategoryElectronics = "electronics"
	AssetCategoryVehicle     = "vehicle"
	AssetCategoryJewellery   = "jewellery"
)

var AssetCategories = []string{AssetCategoryElectronics, AssetCategoryVehicle, AssetCategoryJewellery}

const (
	AssetStatusSubmitted = "submitted"
	AssetStatusValuating = "valuating"
	AssetStatusActive    = "active"
	AssetStatusPawned    = "pawned"
	AssetStatusOverdue   = "overdue"
	AssetStatusInGrace   = "in_grace"
	AssetStatusInRepair  = "in_repair"
	AssetStatusAuction   = "auction"
	AssetStatusSold      = "sold"
	AssetStatusRedeemed  = "redeemed"
	AssetStatusClosed    = "closed"
)

// AssetMachine covers every transition, whether pushed by a subsystem or by an admin.
var AssetMachine = Machine{
	AssetStatusSubmitted: {AssetStatusValuating, AssetStatusClosed},
	AssetStatusValuating: {AssetStatusActive, AssetStatusSubmitted, AssetStatusClosed},
	AssetStatusActive:    {AssetStatusPawned, AssetStatusInRepair, AssetStatusAuction, AssetStatusValuating, AssetStatusClosed},
	AssetStatusPawned:    {AssetStatusOverdue, AssetStatusRedeemed, AssetStatusInRepair, AssetStatusClosed},
	AssetStatusOverdue:   {AssetStatusInGrace, AssetStatusAuction, AssetStatusPawned, AssetStatusRedeemed, AssetStatusInRepair, AssetStatusClosed},
	AssetStatusInGrace:   {AssetStatusAuction, AssetStatusOverdue, AssetStatusPawned, AssetStatusRedeemed, AssetStatusClosed},
	AssetStatusInRepair:  {AssetStatusActive, AssetStatusOverdue, AssetStatusPawned, AssetStatusAuction, AssetStatusClosed},
	AssetStatusAuction:   {AssetStatusSold, AssetStatusOverdue, AssetStatusClosed},
	AssetStatusSold:      {AssetStatusClosed},
	AssetStatusRedeemed:  {AssetStatusClosed, AssetStatusValuating},
}

// AdminAssetStatuses are the targets an administrator may set directly; the
// rest belong to the valuation, loan and auction workflows. Pawned is only
// accepted to return a pledged asset from repair.
var AdminAssetStatuses = []string{AssetStatusInRepair, AssetStatusActive, AssetStatusOverdue, AssetStatusPawned, AssetStatusClosed}

// AssetLoanStatuses are the statuses in which an asset may carry an active loan.
var AssetLoanStatuses = []string{AssetStatusPawned, AssetStatusActive, AssetStatusOverdue, AssetStatusInGrace, AssetStatusInRepair, AssetStatusAuction}

// AuctionEligibleAssetStatuses lists where an asset can be put up for auction.
var AuctionEligibleAssetStatuses = []string{AssetStatusOverdue, AssetStatusAuction, AssetStatusInRepair}

type ElectronicsDetails struct {
	Brand        string `json:"brand"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number,omitempty"`
	Condition    string `json:"condition,omitempty"`
	Accessories  string `json:"accessories,omitempty"`
}

type VehicleDetails struct {
	Make               string `json:"make"`
	Model              string `json:"model"`
	Year               int    `json:"year"`
	RegistrationNumber string `json:"registration_number"`
	VIN                string `json:"vin,omitempty"`
	Mileage            int    `json:"mileage,omitempty"`
	Colour             string `json:"colour,omitempty"`
}

type JewelleryDetails struct {
	Material    string          `json:"material"`
	Purity      string          `json:"purity,omitempty"`
	WeightGrams decimal.Decimal `json:"weight_grams"`
	Stones      string          `json:"stones,omitempty"`
	Hallmark    string          `json:"hallmark,omitempty"`
}

// AssetDetails holds the category-specific sub-record; exactly one is set.
type AssetDetails struct {
	Electronics *ElectronicsDetails `json:"electronics,omitempty"`
	Vehicle     *VehicleDetails     `json:"vehicle,omitempty"`
	Jewellery   *JewelleryDetails   `json:"jewellery,omitempty"`
}

// MatchesCategory reports whether the only populated sub-record is the one for category.
func (d AssetDetails) MatchesCategory(category string) bool {
	set := 0
	if d.Electronics != nil {
		set++
	}
	if d.Vehicle != nil {
		set++
	}
	if d.Jewellery != nil {
		set++
	}
	if set != 1 {
		return false
	}

	switch category {
	case AssetCategoryElectronics:
		return d.Electronics != nil
	case AssetCategoryVehicle:
		return d.Vehicle != nil
	case AssetCategoryJewellery:
		return d.Jewellery != nil
	}
	return false
}

type Asset struct {
	ID             string              `db:"id" json:"id"`
	AssetNo        string              `db:"asset_no" json:"asset_no"`
	Category       string              `db:"category" json:"category"`
	Title          string              `db:"title" json:"title"`
	Description    string              `db:"description" json:"description"`
	OwnerID        string              `db:"owner_id" json:"owner_id"`
	SubmittedBy    string              `db:"submitted_by" json:"submitted_by"`
	EvaluatedValue decimal.NullDecimal `db:"evaluated_value" json:"evaluated_value"`
	DeclaredValue  decimal.NullDecimal `db:"declared_value" json:"declared_value"`
	Currency       string              `db:"currency" json:"currency"`
	Status         string              `db:"status" json:"status"`
	Details        JSON[AssetDetails]  `db:"details" json:"details"`
	Attachments    pq.StringArray      `db:"attachments" json:"attachments"`
	ActiveLoanID   sql.NullString      `db:"active_loan_id" json:"active_loan_id"`
	CreatedAt      time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at" json:"updated_at"`
	ClosedAt       sql.NullTime        `db:"closed_at" json:"closed_at"`
}

// LoanLinkConsistent checks that an active loan only sits on a loan-bearing status.
func (a *Asset) LoanLinkConsistent() bool {
	if !a.ActiveLoanID.Valid {
		return true
	}
	return slices.Contains(AssetLoanStatuses, a.Status)
}

type AssetFilter struct {
	Category string
	Status   string
	OwnerID  string
	Title    string
	AssetNo  string
	Search   string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

type AssetStats struct {
	Total               int                        `json:"total"`
	ByStatus            map[string]int             `json:"by_status"`
	ByCategory          map[string]int             `json:"by_category"`
	TotalEvaluatedValue decimal.Decimal            `json:"total_evaluated_value"`
	ValueByCategory     map[string]decimal.Decimal `json:"value_by_category"`
}
