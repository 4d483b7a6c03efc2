package service

import (
	"testing"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

type loanFixture struct {
	customer  models.Actor
	processor models.Actor
	approver  models.Actor
	asset     *models.Asset
	app       *models.LoanApplication
	loan      *models.Loan
}

// newDraftLoan books a 1000 loan at 4% per 30 days, 21% storage and 10%
// daily penalty against a freshly valued necklace.
func newDraftLoan(t *testing.T, h *harness, graceDays int) *loanFixture {
	t.Helper()

	f := &loanFixture{
		customer:  h.user(t, "Loan Customer", models.RoleCustomer),
		processor: h.user(t, "Loan Processor", models.RoleLoanOfficerProcessor),
		approver:  h.user(t, "Loan Approver", models.RoleLoanOfficerApproval),
	}
	f.asset = h.asset(t, f.customer.ID, models.AssetStatusActive)
	f.app = approvedApplication(t, h, f.customer, f.asset.ID)

	var err error
	f.loan, err = h.svc.Loans.Create(ctx, f.processor, LoanInput{
		ApplicationID:      f.app.ID,
		Principal:          dec("1000"),
		InterestRate:       dec("4"),
		InterestPeriodDays: 30,
		StorageCharge:      ptr(dec("21")),
		PenaltyRate:        ptr(dec("10")),
		GraceDays:          ptr(graceDays),
		StartDate:          ptr(t0),
	})
	require.NoError(t, err)
	return f
}

func newActiveLoan(t *testing.T, h *harness, graceDays int) *loanFixture {
	t.Helper()

	f := newDraftLoan(t, h, graceDays)
	var err error
	f.loan, err = h.svc.Loans.UpdateStatus(ctx, f.approver, f.loan.ID, models.LoanStatusActive, "disbursed in cash")
	require.NoError(t, err)
	return f
}

func TestCreateLoan(t *testing.T) {
	h := newHarness(t)
	f := newDraftLoan(t, h, 7)

	assert.Regexp(t, `^LON2501\d{4}$`, f.loan.LoanNo)
	assert.Equal(t, models.LoanStatusDraft, f.loan.Status)
	assert.Equal(t, f.asset.ID, f.loan.AssetID, "asset is taken from the application collateral")
	requireDecimal(t, "1000", f.loan.CurrentBalance)
	assert.True(t, f.loan.DueDate.Equal(t0.Add(30*day)))

	terms, err := h.svc.Terms.Timeline(ctx, f.processor, f.loan.ID)
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Equal(t, models.RenewalInitial, terms[0].RenewalType)
	assert.False(t, terms[0].Approved())
	assert.Equal(t, models.AssetStatusActive, h.getAsset(t, f.asset.ID).Status, "a draft does not pledge the asset")
}

func TestCreateLoanRules(t *testing.T) {
	h := newHarness(t)
	customer := h.user(t, "Loan Customer", models.RoleCustomer)
	processor := h.user(t, "Loan Processor", models.RoleLoanOfficerProcessor)
	asset := h.asset(t, customer.ID, models.AssetStatusActive)
	app := approvedApplication(t, h, customer, asset.ID)

	_, err := h.svc.Loans.Create(ctx, customer, LoanInput{ApplicationID: app.ID, Principal: dec("100")})
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = h.svc.Loans.Create(ctx, processor, LoanInput{ApplicationID: app.ID, Principal: dec("1000.01"), InterestRate: dec("4")})
	assert.ErrorIs(t, err, apperror.ErrBusinessRule, "principal above the evaluated value")

	_, err = h.svc.Loans.Create(ctx, processor, LoanInput{ApplicationID: app.ID, Principal: dec("-1")})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	draft, err := h.svc.Applications.CreateDraft(ctx, customer, completeApplication("", asset.ID))
	require.NoError(t, err)
	_, err = h.svc.Loans.Create(ctx, processor, LoanInput{ApplicationID: draft.ID, Principal: dec("100")})
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
}

func TestDisbursalPledgesAsset(t *testing.T) {
	h := newHarness(t)
	f := newDraftLoan(t, h, 7)

	_, err := h.svc.Loans.UpdateStatus(ctx, f.processor, f.loan.ID, models.LoanStatusActive, "")
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	loan, err := h.svc.Loans.UpdateStatus(ctx, f.approver, f.loan.ID, models.LoanStatusActive, "")
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusActive, loan.Status)
	assert.True(t, loan.DisbursedAt.Valid)
	assert.Equal(t, f.approver.ID, loan.ApprovedBy.String)

	asset := h.getAsset(t, f.asset.ID)
	assert.Equal(t, models.AssetStatusPawned, asset.Status)
	assert.Equal(t, loan.ID, asset.ActiveLoanID.String)

	current, err := h.svc.Terms.Current(ctx, f.processor, loan.ID)
	require.NoError(t, err)
	assert.True(t, current.Approved())

	entries := h.auditEntries(t, models.AuditFilter{EntityID: loan.ID, Action: "loan.approve"})
	require.Len(t, entries, 1)
	assert.Equal(t, f.approver.ID, entries[0].ActorID)
}

func TestCancelDraftLeavesAssetAlone(t *testing.T) {
	h := newHarness(t)
	f := newDraftLoan(t, h, 7)

	loan, err := h.svc.Loans.UpdateStatus(ctx, f.processor, f.loan.ID, models.LoanStatusCancelled, "customer walked away")
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusCancelled, loan.Status)
	assert.True(t, loan.ClosedAt.Valid)
	assert.Equal(t, models.AssetStatusActive, h.getAsset(t, f.asset.ID).Status)

	_, err = h.svc.Loans.UpdateStatus(ctx, f.approver, f.loan.ID, models.LoanStatusActive, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
}

func TestLoanCharges(t *testing.T) {
	h := newHarness(t)
	f := newActiveLoan(t, h, 15)

	h.clock.Set(t0.Add(15 * day))
	c, err := h.svc.Loans.Charges(ctx, f.customer, f.loan.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, c.DaysElapsed)
	requireDecimal(t, "1.64", c.Interest)
	requireDecimal(t, "210.00", c.StorageCharge)
	requireDecimal(t, "0", c.Penalty)
	requireDecimal(t, "1211.64", c.TotalDue)

	h.clock.Set(t0.Add(40 * day))
	_, err = h.svc.Loans.UpdateStatus(ctx, f.processor, f.loan.ID, models.LoanStatusOverdue, "")
	require.NoError(t, err)

	c, err = h.svc.Loans.Charges(ctx, f.customer, f.loan.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, c.DaysOverdue)
	requireDecimal(t, "4.38", c.Interest)
	requireDecimal(t, "1000.00", c.Penalty)
	requireDecimal(t, "2214.38", c.TotalDue)

	stranger := h.user(t, "Stranger", models.RoleCustomer)
	_, err = h.svc.Loans.Charges(ctx, stranger, f.loan.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestRecordPaymentRedeemsAtZero(t *testing.T) {
	h := newHarness(t)
	f := newActiveLoan(t, h, 7)

	loan, p, err := h.svc.Loans.RecordPayment(ctx, f.processor, f.loan.ID, LoanPaymentInput{Amount: dec("400")})
	require.NoError(t, err)
	requireDecimal(t, "1000", p.BalanceBefore)
	requireDecimal(t, "600", p.BalanceAfter)
	assert.Equal(t, "cash", p.Method)
	assert.Equal(t, models.LoanStatusActive, loan.Status)

	loan, p, err = h.svc.Loans.RecordPayment(ctx, f.processor, f.loan.ID, LoanPaymentInput{Amount: dec("700"), Method: "ecocash", Reference: "MP250115.1234"})
	require.NoError(t, err)
	requireDecimal(t, "0", p.BalanceAfter)
	assert.Equal(t, models.LoanStatusRedeemed, loan.Status)
	assert.True(t, loan.ClosedAt.Valid)

	asset := h.getAsset(t, f.asset.ID)
	assert.Equal(t, models.AssetStatusRedeemed, asset.Status)
	assert.False(t, asset.ActiveLoanID.Valid)

	_, _, err = h.svc.Loans.RecordPayment(ctx, f.processor, f.loan.ID, LoanPaymentInput{Amount: dec("1")})
	assert.ErrorIs(t, err, apperror.ErrInvalidState)

	payments, err := h.svc.Loans.Payments(ctx, f.customer, f.loan.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
	assert.Contains(t, h.sent.Events(), "loan.redeem")
}

func TestRedeemWithBalanceIsRejected(t *testing.T) {
	h := newHarness(t)
	f := newActiveLoan(t, h, 7)

	_, err := h.svc.Loans.UpdateStatus(ctx, f.processor, f.loan.ID, models.LoanStatusRedeemed, "")
	assert.ErrorIs(t, err, apperror.ErrBusinessRule)
	assert.Equal(t, models.LoanStatusActive, h.getLoan(t, f.loan.ID).Status)
	assert.Equal(t, models.AssetStatusPawned, h.getAsset(t, f.asset.ID).Status)
}

func TestSweepOverdue(t *testing.T) {
	h := newHarness(t)
	f := newActiveLoan(t, h, 7)

	h.clock.Set(t0.Add(29 * day))
	moved, err := h.svc.Loans.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)

	h.clock.Set(t0.Add(31 * day))
	moved, err = h.svc.Loans.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.Equal(t, models.LoanStatusOverdue, h.getLoan(t, f.loan.ID).Status)
	assert.Equal(t, models.AssetStatusOverdue, h.getAsset(t, f.asset.ID).Status)

	h.clock.Set(t0.Add(38 * day))
	moved, err = h.svc.Loans.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.Equal(t, models.LoanStatusInGrace, h.getLoan(t, f.loan.ID).Status)
	assert.Equal(t, models.AssetStatusOverdue, h.getAsset(t, f.asset.ID).Status)

	entries := h.auditEntries(t, models.AuditFilter{EntityID: f.loan.ID, Channel: models.ChannelSystem})
	assert.Len(t, entries, 2)
}

func TestCustomerLoanVisibility(t *testing.T) {
	h := newHarness(t)
	f := newActiveLoan(t, h, 7)
	other := h.user(t, "Other Customer", models.RoleCustomer)

	_, err := h.svc.Loans.Get(ctx, other, f.loan.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	mine, total, err := h.svc.Loans.List(ctx, f.customer, models.LoanFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, mine, 1)

	theirs, _, err := h.svc.Loans.List(ctx, other, models.LoanFilter{CustomerID: f.customer.ID})
	require.NoError(t, err)
	assert.Empty(t, theirs)

	_, err = h.svc.Loans.Stats(ctx, f.customer)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}
