// Package service holds the back-office core: every state change on assets,
// valuations, applications, loans, terms, auctions, bids and payments runs
// here, inside one unit of work that also appends its audit entry.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cradoe/pawnbroker/internal/cache"
	"github.com/cradoe/pawnbroker/internal/gateway"
	"github.com/cradoe/pawnbroker/internal/identifier"
	"github.com/cradoe/pawnbroker/internal/money"
	"github.com/cradoe/pawnbroker/internal/notify"
	"github.com/cradoe/pawnbroker/internal/repository"
)

const (
	defaultGatewayTimeout = 15 * time.Second
	defaultTokenTTL       = 24 * time.Hour
	defaultOTPTTL         = 15 * time.Minute
)

type Config struct {
	Currency       string
	GatewayTimeout time.Duration
	Jwt            struct {
		SecretKey string
		Issuer    string
		TTL       time.Duration
	}
	OTPTTL time.Duration
}

// Deps are the collaborators shared by every service.
type Deps struct {
	DB       repository.Database
	Locker   cache.Locker
	IDs      *identifier.Generator
	Notifier notify.Notifier
	Gateway  gateway.Gateway
	Logger   *slog.Logger
	Now      func() time.Time
	Config   Config
}

type core struct {
	Deps
}

type Services struct {
	Audit        *AuditService
	Users        *UserService
	Assets       *AssetService
	Valuations   *ValuationService
	Applications *ApplicationService
	Loans        *LoanService
	Terms        *TermService
	Auctions     *AuctionService
	Payments     *PaymentService
	Disputes     *DisputeService
}

func New(d Deps) *Services {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Locker == nil {
		d.Locker = cache.NewLocalLocker()
	}
	if d.IDs == nil {
		d.IDs = identifier.New(identifier.DefaultMaxAttempts)
	}
	if d.Config.Currency == "" {
		d.Config.Currency = money.DefaultCurrency
	}
	if d.Config.GatewayTimeout <= 0 {
		d.Config.GatewayTimeout = defaultGatewayTimeout
	}
	if d.Config.Jwt.TTL <= 0 {
		d.Config.Jwt.TTL = defaultTokenTTL
	}
	if d.Config.OTPTTL <= 0 {
		d.Config.OTPTTL = defaultOTPTTL
	}

	c := &core{Deps: d}
	auctions := &AuctionService{core: c}
	payments := &PaymentService{core: c}

	return &Services{
		Audit:        &AuditService{core: c},
		Users:        &UserService{core: c},
		Assets:       &AssetService{core: c},
		Valuations:   &ValuationService{core: c},
		Applications: &ApplicationService{core: c},
		Loans:        &LoanService{core: c},
		Terms:        &TermService{core: c},
		Auctions:     auctions,
		Payments:     payments,
		Disputes:     &DisputeService{core: c, payments: payments},
	}
}

func (c *core) now() time.Time {
	return c.Now().UTC()
}

// withLock serializes fn on key across goroutines and, with Redis, across processes.
func (c *core) withLock(ctx context.Context, key string, fn func() error) error {
	release, err := c.Locker.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	defer release()

	return fn()
}

// notify never fails the caller; delivery problems are logged and dropped.
func (c *core) notify(ctx context.Context, n notify.Notification) {
	if c.Notifier == nil || n.Recipient == "" {
		return
	}
	if n.Template == "" {
		n.Template = "event.tmpl"
	}
	if err := c.Notifier.Notify(ctx, n); err != nil {
		c.Logger.Warn("notification not sent", "event", n.Event, "recipient", n.Recipient, "error", err)
	}
}

// notifyUser resolves the user's email outside any transaction and sends n.
func (c *core) notifyUser(ctx context.Context, userID string, n notify.Notification) {
	user, found, err := c.DB.User().GetOne(ctx, userID)
	if err != nil || !found {
		if err != nil {
			c.Logger.Warn("notification recipient lookup failed", "event", n.Event, "user_id", userID, "error", err)
		}
		return
	}
	n.Recipient = user.Email
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	if _, ok := n.Data["Name"]; !ok {
		n.Data["Name"] = user.FullName
	}
	c.notify(ctx, n)
}

// pageOf clamps pagination to sane defaults.
func pageOf(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// eventData fills the fields event.tmpl renders.
func eventData(subject, message, reference, status string, amount any, currency string) map[string]any {
	return map[string]any{
		"Subject":   subject,
		"Message":   message,
		"Reference": reference,
		"Status":    status,
		"Amount":    amount,
		"Currency":  currency,
	}
}
