package service

import (
	"errors"
	"testing"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeApplication(customerID, assetID string) ApplicationInput {
	return ApplicationInput{
		CustomerID:      customerID,
		RequestedAmount: ptr(dec("1000")),
		Personal: &models.PersonalDetails{
			FullName:         "Tendai Moyo",
			NationalIDNumber: "63-123456-X-42",
			Phone:            "+263771234567",
			Address:          "12 Samora Machel Ave, Harare",
		},
		Employment: &models.EmploymentDetails{Status: "employed", EmployerName: "Delta", MonthlyIncome: dec("850")},
		Collateral: &models.CollateralDetails{
			Category:       models.CollateralJewellery,
			Description:    "18k gold necklace",
			EstimatedValue: dec("1200"),
			AssetID:        assetID,
		},
		Declaration: &models.Declaration{Accepted: true, SignatureRef: "sig-001", SignedAt: t0},
	}
}

// approvedApplication walks an application through intake to approval.
func approvedApplication(t *testing.T, h *harness, customer models.Actor, assetID string) *models.LoanApplication {
	t.Helper()

	officer := h.user(t, "Intake Officer", models.RoleLoanOfficerApproval)
	app, err := h.svc.Applications.CreateDraft(ctx, customer, completeApplication(customer.ID, assetID))
	require.NoError(t, err)
	_, err = h.svc.Applications.Submit(ctx, customer, app.ID)
	require.NoError(t, err)
	_, err = h.svc.Applications.UpdateStatus(ctx, officer, app.ID, models.ApplicationStatusProcessing, "")
	require.NoError(t, err)
	app, err = h.svc.Applications.UpdateStatus(ctx, officer, app.ID, models.ApplicationStatusApproved, "collateral verified")
	require.NoError(t, err)
	return app
}

func TestCreateDraft(t *testing.T) {
	h := newHarness(t)
	customer := h.user(t, "Tendai Moyo", models.RoleCustomer)
	other := h.user(t, "Someone Else", models.RoleCustomer)

	in := completeApplication(other.ID, "")
	app, err := h.svc.Applications.CreateDraft(ctx, customer, in)
	require.NoError(t, err)
	assert.Equal(t, customer.ID, app.CustomerID, "customers always apply for themselves")
	assert.Equal(t, models.ApplicationStatusDraft, app.Status)
	assert.Regexp(t, `^APP2501\d{3}$`, app.ApplicationNo)

	bad := completeApplication("", "")
	bad.Collateral.Category = "livestock"
	bad.Personal.FullName = ""
	_, err = h.svc.Applications.CreateDraft(ctx, customer, bad)
	require.ErrorIs(t, err, apperror.ErrValidation)

	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Len(t, appErr.Fields, 2)
}

func TestSubmitRequiresCompleteApplication(t *testing.T) {
	h := newHarness(t)
	customer := h.user(t, "Tendai Moyo", models.RoleCustomer)

	in := completeApplication("", "")
	in.Declaration = nil
	in.Employment = nil
	app, err := h.svc.Applications.CreateDraft(ctx, customer, in)
	require.NoError(t, err)

	_, err = h.svc.Applications.Submit(ctx, customer, app.ID)
	require.ErrorIs(t, err, apperror.ErrValidation)
	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.ElementsMatch(t, []string{"employment.status is required", "declaration is required"}, appErr.Fields)

	_, err = h.svc.Applications.Update(ctx, customer, app.ID, ApplicationInput{
		Employment:  &models.EmploymentDetails{Status: "self_employed"},
		Declaration: &models.Declaration{Accepted: true, SignatureRef: "sig-002", SignedAt: t0},
	})
	require.NoError(t, err)

	submitted, err := h.svc.Applications.Submit(ctx, customer, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusSubmitted, submitted.Status)
	assert.True(t, submitted.SubmittedAt.Valid)
	require.NotNil(t, submitted.DebtorCheck.V)
	assert.False(t, submitted.DebtorCheck.V.Matched)
	require.Len(t, submitted.InternalNotes.V, 1)
	assert.Equal(t, "Application submitted", submitted.InternalNotes.V[0].Note)

	_, err = h.svc.Applications.Update(ctx, customer, app.ID, ApplicationInput{RequestedAmount: ptr(dec("5"))})
	assert.ErrorIs(t, err, apperror.ErrInvalidState)
}

func TestSubmitChecksCollateralAsset(t *testing.T) {
	h := newHarness(t)
	customer := h.user(t, "Tendai Moyo", models.RoleCustomer)
	stranger := h.user(t, "Stranger", models.RoleCustomer)
	theirs := h.asset(t, stranger.ID, models.AssetStatusActive)

	app, err := h.svc.Applications.CreateDraft(ctx, customer, completeApplication("", theirs.ID))
	require.NoError(t, err)
	_, err = h.svc.Applications.Submit(ctx, customer, app.ID)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestDebtorCheckIsIdempotent(t *testing.T) {
	h := newHarness(t)
	customer := h.user(t, "Tendai Moyo", models.RoleCustomer)
	officer := h.user(t, "Processor", models.RoleLoanOfficerProcessor)
	require.NoError(t, h.store.Debtor().Insert(ctx, &models.Debtor{
		FullName: "T. Moyo", NationalIDNumber: "63-123456-X-42", Creditor: "City Furnishers", Amount: "420.00", Status: models.DebtorStatusOpen, CreatedAt: t0,
	}))

	app, err := h.svc.Applications.CreateDraft(ctx, customer, completeApplication("", ""))
	require.NoError(t, err)
	_, err = h.svc.Applications.DebtorCheck(ctx, customer, app.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
	_, err = h.svc.Applications.DebtorCheck(ctx, officer, app.ID)
	assert.ErrorIs(t, err, apperror.ErrInvalidState, "drafts are not checked")

	submitted, err := h.svc.Applications.Submit(ctx, customer, app.ID)
	require.NoError(t, err)
	require.True(t, submitted.DebtorCheck.V.Matched)
	assert.Len(t, submitted.DebtorCheck.V.MatchedRecords, 1)
	checkedAt := submitted.DebtorCheck.V.CheckedAt

	before := h.auditCount(t)
	h.clock.Set(t0.Add(time.Hour))
	again, err := h.svc.Applications.DebtorCheck(ctx, officer, app.ID)
	require.NoError(t, err)
	assert.True(t, again.DebtorCheck.V.CheckedAt.Equal(checkedAt))
	assert.Equal(t, customer.ID, again.DebtorCheck.V.CheckedBy)
	assert.Equal(t, before, h.auditCount(t))
}

func TestApplicationReviewFlow(t *testing.T) {
	h := newHarness(t)
	customer := h.user(t, "Tendai Moyo", models.RoleCustomer)
	processor := h.user(t, "Processor", models.RoleLoanOfficerProcessor)
	approver := h.user(t, "Approver", models.RoleLoanOfficerApproval)

	app, err := h.svc.Applications.CreateDraft(ctx, customer, completeApplication("", ""))
	require.NoError(t, err)
	_, err = h.svc.Applications.Submit(ctx, customer, app.ID)
	require.NoError(t, err)

	_, err = h.svc.Applications.UpdateStatus(ctx, customer, app.ID, models.ApplicationStatusProcessing, "")
	assert.ErrorIs(t, err, apperror.ErrForbidden)
	_, err = h.svc.Applications.UpdateStatus(ctx, processor, app.ID, models.ApplicationStatusApproved, "")
	assert.ErrorIs(t, err, apperror.ErrForbidden)
	_, err = h.svc.Applications.UpdateStatus(ctx, approver, app.ID, models.ApplicationStatusApproved, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidState, "submitted cannot skip processing")

	processing, err := h.svc.Applications.UpdateStatus(ctx, processor, app.ID, models.ApplicationStatusProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, processor.ID, processing.ProcessedBy.String)

	_, err = h.svc.Applications.UpdateStatus(ctx, customer, app.ID, models.ApplicationStatusCancelled, "")
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	rejected, err := h.svc.Applications.UpdateStatus(ctx, approver, app.ID, models.ApplicationStatusRejected, "")
	require.NoError(t, err)
	assert.True(t, rejected.DecidedAt.Valid)
	assert.Equal(t, "Status changed to rejected", rejected.InternalNotes.V[len(rejected.InternalNotes.V)-1].Note)

	_, err = h.svc.Applications.UpdateStatus(ctx, approver, app.ID, models.ApplicationStatusApproved, "")
	assert.ErrorIs(t, err, apperror.ErrInvalidState, "rejected is terminal")

	entries := h.auditEntries(t, models.AuditFilter{EntityID: app.ID})
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.ElementsMatch(t, []string{"application.create", "application.submit", "application.process", "application.reject"}, actions)
}

func TestCustomersSeeOnlyTheirApplications(t *testing.T) {
	h := newHarness(t)
	a := h.user(t, "Customer A", models.RoleCustomer)
	b := h.user(t, "Customer B", models.RoleCustomer)

	app, err := h.svc.Applications.CreateDraft(ctx, a, completeApplication("", ""))
	require.NoError(t, err)

	_, err = h.svc.Applications.Get(ctx, b, app.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	list, total, err := h.svc.Applications.List(ctx, b, models.ApplicationFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, total)

	_, err = h.svc.Applications.AddAttachment(ctx, a, app.ID, "uploads/id-front.jpg")
	require.NoError(t, err)
	got, err := h.svc.Applications.RemoveAttachment(ctx, a, app.ID, "uploads/id-front.jpg")
	require.NoError(t, err)
	assert.Empty(t, got.Attachments)
	_, err = h.svc.Applications.RemoveAttachment(ctx, a, app.ID, "uploads/missing.jpg")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
