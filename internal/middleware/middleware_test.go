package middleware

import (
	stdctx "context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cradoe/pawnbroker/internal/context"
	"github.com/cradoe/pawnbroker/internal/errHandler"
	"github.com/cradoe/pawnbroker/internal/helper"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/testutil/memstore"
	"github.com/lib/pq"
	"github.com/pascaldekloe/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "middleware-test-secret"
	testIssuer = "http://pawnbroker.test"
)

var now = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

func newTestMiddleware(t *testing.T) (*Middleware, *memstore.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eh := errHandler.New("", nil, logger, helper.New(testIssuer, nil, logger), true)
	store := memstore.New()

	mid := New(eh, logger, store.User(), JwtConfig{SecretKey: testSecret, Issuer: testIssuer})
	mid.Now = func() time.Time { return now }
	return mid, store
}

func insertUser(t *testing.T, store *memstore.Store, status string, roles ...string) *models.User {
	t.Helper()

	u := &models.User{
		Email:         "officer@pawnbroker.test",
		FullName:      "Loan Officer",
		Roles:         pq.StringArray(roles),
		Status:        status,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.User().Insert(stdctx.Background(), u))
	return u
}

func sign(t *testing.T, subject, issuer string, expires time.Time) string {
	t.Helper()

	var claims jwt.Claims
	claims.Subject = subject
	claims.Issuer = issuer
	claims.Audiences = []string{issuer}
	claims.Issued = jwt.NewNumericTime(now.Add(-time.Minute))
	claims.NotBefore = jwt.NewNumericTime(now.Add(-time.Minute))
	claims.Expires = jwt.NewNumericTime(expires)

	b, err := claims.HMACSign(jwt.HS256, []byte(testSecret))
	require.NoError(t, err)
	return string(b)
}

// captureActor records the actor the chain hands to the final handler.
func captureActor(dst *models.Actor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*dst, _ = context.ContextGetActor(r)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticateAnonymousKeepsRequestOrigin(t *testing.T) {
	mid, _ := newTestMiddleware(t)

	var got models.Actor
	r := httptest.NewRequest(http.MethodGet, "/api/v1/auctions", nil)
	r.Header.Set("X-Forwarded-For", "41.77.1.2")
	r.Header.Set("User-Agent", "bidder-app/2.1")
	rr := httptest.NewRecorder()

	mid.Authenticate(captureActor(&got)).ServeHTTP(rr, r)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, got.ID)
	assert.Equal(t, "41.77.1.2", got.IP)
	assert.Equal(t, "bidder-app/2.1", got.UserAgent)
	assert.Equal(t, models.ChannelWeb, got.Channel)
}

func TestAuthenticateResolvesActiveUser(t *testing.T) {
	mid, store := newTestMiddleware(t)
	u := insertUser(t, store, models.UserStatusActive, models.RoleLoanOfficerProcessor)

	var got models.Actor
	r := httptest.NewRequest(http.MethodGet, "/api/v1/loans", nil)
	r.Header.Set("Authorization", "Bearer "+sign(t, u.ID, testIssuer, now.Add(time.Hour)))
	rr := httptest.NewRecorder()

	mid.Authenticate(captureActor(&got)).ServeHTTP(rr, r)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, []string{models.RoleLoanOfficerProcessor}, got.Roles)
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	mid, store := newTestMiddleware(t)
	active := insertUser(t, store, models.UserStatusActive, models.RoleCustomer)

	suspended := &models.User{
		Email: "gone@pawnbroker.test", FullName: "Gone", Roles: pq.StringArray{models.RoleCustomer},
		Status: models.UserStatusSuspended, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.User().Insert(stdctx.Background(), suspended))

	cases := map[string]string{
		"not bearer":     "Token abc",
		"garbage":        "Bearer not.a.jwt",
		"expired":        "Bearer " + sign(t, active.ID, testIssuer, now.Add(-time.Second)),
		"wrong issuer":   "Bearer " + sign(t, active.ID, "http://elsewhere.test", now.Add(time.Hour)),
		"unknown user":   "Bearer " + sign(t, "no-such-user", testIssuer, now.Add(time.Hour)),
		"suspended user": "Bearer " + sign(t, suspended.ID, testIssuer, now.Add(time.Hour)),
	}

	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			var got models.Actor
			r := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
			r.Header.Set("Authorization", header)
			rr := httptest.NewRecorder()

			mid.Authenticate(captureActor(&got)).ServeHTTP(rr, r)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestRequireRole(t *testing.T) {
	mid, store := newTestMiddleware(t)
	u := insertUser(t, store, models.UserStatusActive, models.RoleCustomer)
	token := sign(t, u.ID, testIssuer, now.Add(time.Hour))

	var got models.Actor
	chain := mid.Authenticate(mid.RequireRole(models.AdminRoles...)(captureActor(&got)))

	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/assets/1", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	r := httptest.NewRequest(http.MethodDelete, "/api/v1/assets/1", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	chain.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRecoverPanic(t *testing.T) {
	mid, _ := newTestMiddleware(t)

	h := mid.RecoverPanic(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("ledger exploded")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
