// Package money holds the loan arithmetic: charges, loan-to-value and term rollover.
// Every component is rounded to two decimal places on its own before being summed.
package money

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "USD"

var (
	hundred  = decimal.NewFromInt(100)
	yearDays = decimal.NewFromInt(365)
)

const day = 24 * time.Hour

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// CeilDays returns the number of started days between from and to, or 0 when to is not after from.
func CeilDays(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(math.Ceil(float64(to.Sub(from)) / float64(day)))
}

// LTVRate is the share of market value lent against an asset category.
func LTVRate(assetCategory string) decimal.Decimal {
	switch assetCategory {
	case "jewellery", "vehicle":
		return decimal.RequireFromString("0.50")
	default:
		return decimal.RequireFromString("0.30")
	}
}

// EstimatedLoanValue is market value times the category rate.
func EstimatedLoanValue(assetCategory string, marketValue decimal.Decimal) decimal.Decimal {
	return Round2(marketValue.Mul(LTVRate(assetCategory)))
}

// ChargeInput carries the loan fields the charge formula depends on.
type ChargeInput struct {
	Principal      decimal.Decimal
	CurrentBalance decimal.Decimal
	InterestRate   decimal.Decimal
	StorageCharge  decimal.Decimal
	PenaltyRate    decimal.Decimal
	StartDate      time.Time
	DueDate        time.Time
	Overdue        bool
}

type Breakdown struct {
	DaysElapsed int
	DaysOverdue int
	Interest    decimal.Decimal
	Storage     decimal.Decimal
	Penalty     decimal.Decimal
	TotalDue    decimal.Decimal
}

// Charges computes interest on an actual-days, 365-day-year basis, a flat storage
// charge, and a daily penalty that only accrues while the loan is overdue.
func Charges(in ChargeInput, now time.Time) Breakdown {
	elapsed := CeilDays(in.StartDate, now)
	overdue := CeilDays(in.DueDate, now)

	interest := Round2(in.Principal.Mul(in.InterestRate).Div(hundred).Div(yearDays).Mul(decimal.NewFromInt(int64(elapsed))))
	storage := Round2(in.Principal.Mul(in.StorageCharge).Div(hundred))

	penalty := decimal.Zero
	if in.Overdue {
		penalty = Round2(in.CurrentBalance.Mul(in.PenaltyRate).Div(hundred).Mul(decimal.NewFromInt(int64(overdue))))
	}

	return Breakdown{
		DaysElapsed: elapsed,
		DaysOverdue: overdue,
		Interest:    interest,
		Storage:     storage,
		Penalty:     penalty,
		TotalDue:    Round2(in.CurrentBalance).Add(interest).Add(storage).Add(penalty),
	}
}

// ApplyPayment returns the balance left after paying amount, floored at zero.
func ApplyPayment(balance, amount decimal.Decimal) decimal.Decimal {
	next := balance.Sub(amount)
	if next.IsNegative() {
		return decimal.Zero
	}
	return Round2(next)
}

// RolloverClosing computes a renewal term's closing balance from its opening balance.
// interest_only capitalizes one period of interest, partial_principal deducts the
// payment, and full_settlement zeroes the balance.
func RolloverClosing(renewalType string, opening, interestRate, payment decimal.Decimal) decimal.Decimal {
	switch renewalType {
	case "interest_only_renewal":
		return Round2(opening.Add(opening.Mul(interestRate).Div(hundred)))
	case "partial_principal_renewal":
		return Round2(opening.Sub(payment))
	case "full_settlement":
		return decimal.Zero
	}
	return opening
}
