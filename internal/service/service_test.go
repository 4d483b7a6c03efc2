package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cradoe/pawnbroker/internal/cache"
	"github.com/cradoe/pawnbroker/internal/gateway"
	"github.com/cradoe/pawnbroker/internal/identifier"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/notify"
	"github.com/cradoe/pawnbroker/internal/testutil/memstore"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	ctx = context.Background()
	t0  = time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	store *memstore.Store
	gw    *gateway.Fake
	sent  *notify.Recorder
	clock *testClock
	ids   *identifier.Generator
	svc   *Services
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store: memstore.New(),
		gw:    gateway.NewFake(),
		sent:  &notify.Recorder{},
		clock: &testClock{now: t0},
	}
	h.ids = identifier.New(identifier.DefaultMaxAttempts)
	h.ids.Now = h.clock.Now

	cfg := Config{OTPTTL: 10 * time.Minute, GatewayTimeout: 5 * time.Second}
	cfg.Jwt.SecretKey = "test-secret"
	cfg.Jwt.Issuer = "pawnbroker.test"

	h.svc = New(Deps{
		DB:       h.store,
		Locker:   cache.NewLocalLocker(),
		IDs:      h.ids,
		Notifier: h.sent,
		Gateway:  h.gw,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      h.clock.Now,
		Config:   cfg,
	})
	return h
}

func (h *harness) user(t *testing.T, name string, roles ...string) models.Actor {
	t.Helper()

	u := &models.User{
		Email:         strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		FullName:      name,
		Roles:         pq.StringArray(roles),
		Status:        models.UserStatusActive,
		EmailVerified: true,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
	require.NoError(t, h.store.User().Insert(ctx, u))
	return models.Actor{ID: u.ID, Roles: roles, IP: "127.0.0.1", UserAgent: "go-test"}
}

func (h *harness) asset(t *testing.T, ownerID, status string) *models.Asset {
	t.Helper()

	a := &models.Asset{
		AssetNo:        h.ids.Next(identifier.Asset),
		Category:       models.AssetCategoryJewellery,
		Title:          "Gold necklace",
		OwnerID:        ownerID,
		SubmittedBy:    ownerID,
		EvaluatedValue: decimal.NewNullDecimal(dec("1000")),
		Currency:       "USD",
		Status:         status,
		Details:        models.NewJSON(models.AssetDetails{Jewellery: &models.JewelleryDetails{Material: "gold", WeightGrams: dec("12.5")}}),
		Attachments:    pq.StringArray{},
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
	require.NoError(t, h.store.Asset().Insert(ctx, a))
	return a
}

func (h *harness) auditEntries(t *testing.T, f models.AuditFilter) []models.AuditLogEntry {
	t.Helper()

	entries, _, err := h.store.Audit().List(ctx, f)
	require.NoError(t, err)
	return entries
}

func (h *harness) auditCount(t *testing.T) int {
	return len(h.auditEntries(t, models.AuditFilter{}))
}

func (h *harness) getAsset(t *testing.T, id string) *models.Asset {
	t.Helper()

	a, found, err := h.store.Asset().GetOne(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	return a
}

func (h *harness) getLoan(t *testing.T, id string) *models.Loan {
	t.Helper()

	l, found, err := h.store.Loan().GetOne(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	return l
}

func (h *harness) getBid(t *testing.T, id string) *models.Bid {
	t.Helper()

	b, found, err := h.store.Bid().GetOne(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	return b
}

func (h *harness) getAuction(t *testing.T, id string) *models.Auction {
	t.Helper()

	a, found, err := h.store.Auction().GetOne(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	return a
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T {
	return &v
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}
