package money

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCeilDays(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, CeilDays(t0, t0))
	assert.Equal(t, 0, CeilDays(t0, t0.Add(-time.Hour)))
	assert.Equal(t, 1, CeilDays(t0, t0.Add(time.Minute)))
	assert.Equal(t, 15, CeilDays(t0, t0.Add(15*day)))
	assert.Equal(t, 16, CeilDays(t0, t0.Add(15*day+time.Second)))
}

func TestEstimatedLoanValue(t *testing.T) {
	assert.True(t, d("500").Equal(EstimatedLoanValue("jewellery", d("1000"))))
	assert.True(t, d("500").Equal(EstimatedLoanValue("vehicle", d("1000"))))
	assert.True(t, d("300").Equal(EstimatedLoanValue("electronics", d("1000"))))
	assert.True(t, d("103.70").Equal(EstimatedLoanValue("electronics", d("345.67"))))
}

func TestCharges(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	in := ChargeInput{
		Principal:      d("1000"),
		CurrentBalance: d("1000"),
		InterestRate:   d("4"),
		StorageCharge:  d("21"),
		PenaltyRate:    d("10"),
		StartDate:      t0,
		DueDate:        t0.Add(30 * day),
	}

	t.Run("within term", func(t *testing.T) {
		b := Charges(in, t0.Add(15*day))

		assert.Equal(t, 15, b.DaysElapsed)
		assert.True(t, d("1.64").Equal(b.Interest), b.Interest.String())
		assert.True(t, d("210").Equal(b.Storage))
		assert.True(t, b.Penalty.IsZero())
		assert.True(t, d("1211.64").Equal(b.TotalDue), b.TotalDue.String())
	})

	t.Run("overdue adds penalty", func(t *testing.T) {
		in := in
		in.Overdue = true
		b := Charges(in, t0.Add(40*day))

		assert.Equal(t, 10, b.DaysOverdue)
		assert.True(t, d("1000").Equal(b.Penalty), b.Penalty.String())
		assert.True(t, d("4.38").Equal(b.Interest), b.Interest.String())
		assert.True(t, d("2214.38").Equal(b.TotalDue), b.TotalDue.String())
	})

	t.Run("past due but not overdue status has no penalty", func(t *testing.T) {
		b := Charges(in, t0.Add(40*day))
		assert.True(t, b.Penalty.IsZero())
	})

	t.Run("monotonic in time", func(t *testing.T) {
		in := in
		in.Overdue = true
		prev := Charges(in, t0).TotalDue
		for h := 1; h < 24*60; h += 7 {
			next := Charges(in, t0.Add(time.Duration(h)*time.Hour)).TotalDue
			require.False(t, next.LessThan(prev), "total due decreased at hour %d", h)
			prev = next
		}
	})
}

func TestApplyPayment(t *testing.T) {
	assert.True(t, d("400").Equal(ApplyPayment(d("1000"), d("600"))))
	assert.True(t, ApplyPayment(d("1000"), d("1000")).IsZero())
	assert.True(t, ApplyPayment(d("1000"), d("1500")).IsZero())
}

func TestRolloverClosing(t *testing.T) {
	assert.True(t, d("1040").Equal(RolloverClosing("interest_only_renewal", d("1000"), d("4"), decimal.Zero)))
	assert.True(t, d("840").Equal(RolloverClosing("partial_principal_renewal", d("1040"), d("4"), d("200"))))
	assert.True(t, RolloverClosing("full_settlement", d("840"), d("4"), decimal.Zero).IsZero())
}
