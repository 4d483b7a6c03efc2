package service

import (
	"testing"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/pascaldekloe/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const strongPassword = "Pawn!Shop#2025secure"

func (h *harness) lastCode(t *testing.T, event string) string {
	t.Helper()

	sent := h.sent.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].Event == event {
			code, ok := sent[i].Data["Code"].(string)
			require.True(t, ok)
			return code
		}
	}
	t.Fatalf("no %s notification sent", event)
	return ""
}

func register(t *testing.T, h *harness, email string) *UserView {
	t.Helper()

	u, err := h.svc.Users.Register(ctx, models.Actor{IP: "10.0.0.7"}, RegisterInput{
		Email:    email,
		Password: strongPassword,
		FullName: "Rudo Chikore",
		Phone:    "+263772000111",
	})
	require.NoError(t, err)
	return u
}

func TestRegisterVerifyLogin(t *testing.T) {
	h := newHarness(t)
	h.svc.Users.Config.Jwt.TTL = time.Hour

	u := register(t, h, "  Rudo@Example.com ")
	assert.Equal(t, "rudo@example.com", u.Email)
	assert.Equal(t, models.UserStatusPending, u.Status)
	assert.Equal(t, []string{models.RoleCustomer}, u.Roles)

	_, _, err := h.svc.Users.Login(ctx, models.Actor{}, "rudo@example.com", strongPassword)
	assert.ErrorIs(t, err, apperror.ErrForbidden, "pending accounts cannot log in")

	_, err = h.svc.Users.VerifyEmail(ctx, models.Actor{}, "rudo@example.com", "000000x")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	code := h.lastCode(t, "user.register")
	verified, err := h.svc.Users.VerifyEmail(ctx, models.Actor{}, "rudo@example.com", code)
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusActive, verified.Status)
	assert.True(t, verified.EmailVerified)

	_, _, err = h.svc.Users.Login(ctx, models.Actor{}, "rudo@example.com", "wrong-password")
	assert.Equal(t, apperror.KindUnauthenticated, apperror.KindOf(err))

	token, view, err := h.svc.Users.Login(ctx, models.Actor{}, "rudo@example.com", strongPassword)
	require.NoError(t, err)
	assert.Equal(t, u.ID, view.ID)
	assert.True(t, token.ExpiresAt.Equal(t0.Add(time.Hour)))

	claims, err := jwt.HMACCheck([]byte(token.Token), []byte("test-secret"))
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.Subject)
	assert.Equal(t, "pawnbroker.test", claims.Issuer)
}

func TestRegisterRejectsDuplicatesAndWeakInput(t *testing.T) {
	h := newHarness(t)
	register(t, h, "rudo@example.com")

	_, err := h.svc.Users.Register(ctx, models.Actor{}, RegisterInput{
		Email: "RUDO@example.com", Password: strongPassword, FullName: "Someone", Phone: "+263772000112",
	})
	assert.ErrorIs(t, err, apperror.ErrDuplicate)

	_, err = h.svc.Users.Register(ctx, models.Actor{}, RegisterInput{Email: "not-an-email", Password: "x", FullName: "ab", Phone: "12"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestUserJournalNeverHoldsSecrets(t *testing.T) {
	h := newHarness(t)
	u := register(t, h, "rudo@example.com")
	_, err := h.svc.Users.VerifyEmail(ctx, models.Actor{}, u.Email, h.lastCode(t, "user.register"))
	require.NoError(t, err)

	entries := h.auditEntries(t, models.AuditFilter{EntityType: models.EntityUser, EntityID: u.ID})
	require.Len(t, entries, 2)
	for _, e := range entries {
		for _, snapshot := range []models.Meta{e.Before.V, e.After.V} {
			for _, k := range secretFields {
				assert.NotContains(t, snapshot, k, "%s leaked into %s", k, e.Action)
			}
		}
	}

	registered := h.auditEntries(t, models.AuditFilter{Action: "user.register"})
	require.Len(t, registered, 1)
	assert.Equal(t, u.ID, registered[0].ActorID)
	assert.Equal(t, "10.0.0.7", registered[0].IP)
}

func TestPasswordReset(t *testing.T) {
	h := newHarness(t)
	u := register(t, h, "rudo@example.com")
	_, err := h.svc.Users.VerifyEmail(ctx, models.Actor{}, u.Email, h.lastCode(t, "user.register"))
	require.NoError(t, err)

	require.NoError(t, h.svc.Users.ForgotPassword(ctx, models.Actor{}, "nobody@example.com"), "unknown emails are not revealed")
	require.NoError(t, h.svc.Users.ForgotPassword(ctx, models.Actor{}, u.Email))
	code := h.lastCode(t, "user.forgot_password")

	h.clock.Set(t0.Add(11 * time.Minute))
	err = h.svc.Users.ResetPassword(ctx, models.Actor{}, u.Email, code, "New!Pawn#Pass2026")
	assert.ErrorIs(t, err, apperror.ErrValidation, "codes expire")

	h.clock.Set(t0)
	require.NoError(t, h.svc.Users.ResetPassword(ctx, models.Actor{}, u.Email, code, "New!Pawn#Pass2026"))
	_, _, err = h.svc.Users.Login(ctx, models.Actor{}, u.Email, "New!Pawn#Pass2026")
	require.NoError(t, err)

	err = h.svc.Users.ResetPassword(ctx, models.Actor{}, u.Email, code, "Other!Pawn#Pass2027")
	assert.ErrorIs(t, err, apperror.ErrValidation, "codes are single use")
}

func TestAccountDeletionAnonymizes(t *testing.T) {
	h := newHarness(t)
	customer := h.user(t, "Leaving Customer", models.RoleCustomer)

	require.NoError(t, h.svc.Users.RequestAccountDeletion(ctx, customer))
	require.NoError(t, h.svc.Users.ConfirmAccountDeletion(ctx, customer, h.lastCode(t, "user.request_deletion")))

	_, err := h.svc.Users.Me(ctx, customer)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	stored, found, err := h.store.User().GetOne(ctx, customer.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.UserStatusDeleted, stored.Status)
	assert.Equal(t, "deleted+"+customer.ID+"@invalid", stored.Email)
	assert.True(t, stored.DeletedAt.Valid)
}

func TestStaffManagement(t *testing.T) {
	h := newHarness(t)
	admin := h.user(t, "Branch Admin", models.RoleAdmin)
	root := h.user(t, "Root Admin", models.RoleSuperAdmin)
	customer := h.user(t, "Plain Customer", models.RoleCustomer)

	in := StaffInput{Email: "officer@example.com", Password: strongPassword, FullName: "New Officer", Phone: "+263772000113", Roles: []string{models.RoleLoanOfficerProcessor}}
	_, err := h.svc.Users.CreateStaff(ctx, customer, in)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	officer, err := h.svc.Users.CreateStaff(ctx, admin, in)
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusActive, officer.Status)

	in.Email, in.Roles = "admin2@example.com", []string{models.RoleAdmin}
	_, err = h.svc.Users.CreateStaff(ctx, admin, in)
	assert.ErrorIs(t, err, apperror.ErrForbidden, "only a super admin grants admin")
	_, err = h.svc.Users.CreateStaff(ctx, root, in)
	require.NoError(t, err)

	suspended, err := h.svc.Users.UpdateStatus(ctx, admin, officer.ID, models.UserStatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusSuspended, suspended.Status)

	_, err = h.svc.Users.UpdateStatus(ctx, admin, admin.ID, models.UserStatusSuspended)
	assert.ErrorIs(t, err, apperror.ErrBusinessRule)

	_, err = h.svc.Users.Get(ctx, customer, officer.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, total, err := h.svc.Users.List(ctx, admin, models.UserFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}
