package service

import (
	"context"
	"database/sql"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/identifier"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/money"
	"github.com/cradoe/pawnbroker/internal/notify"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/cradoe/pawnbroker/internal/validator"
	"github.com/shopspring/decimal"
)

const (
	defaultInterestPeriodDays = 30
	sweepBatch                = 500
)

// PayableLoanStatuses accept repayments.
var PayableLoanStatuses = []string{models.LoanStatusActive, models.LoanStatusOverdue, models.LoanStatusInGrace}

type LoanService struct {
	*core
}

func canSeeLoan(actor models.Actor, l *models.Loan) bool {
	return actor.IsStaff() || l.CustomerID == actor.ID
}

func addDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}

// moveLoan applies a loan transition and pushes the derived status onto the
// pledged asset. The asset only follows while the loan holds it, or when a
// draft is disbursed.
func (c *core) moveLoan(ctx context.Context, st repository.Store, l *models.Loan, to string) error {
	if l.Status == to {
		return nil
	}
	if !models.LoanMachine.Can(l.Status, to) {
		return apperror.InvalidTransition("loan", l.Status, to)
	}
	if to == models.LoanStatusRedeemed && !l.CurrentBalance.IsZero() {
		return apperror.BusinessRule("loan cannot be redeemed with an outstanding balance")
	}

	from := l.Status
	held := slices.Contains(models.OpenLoanStatuses, from)
	releasing := slices.Contains(models.ReleasingLoanStatuses, to)

	now := c.now()
	l.Status = to
	if releasing && !l.ClosedAt.Valid {
		l.ClosedAt = sql.NullTime{Time: now, Valid: true}
	}
	l.UpdatedAt = now

	switch {
	case from == models.LoanStatusDraft && to == models.LoanStatusActive:
		if _, err := c.moveAsset(ctx, st, l.AssetID, models.AssetStatusPawned, setLoan, l.ID); err != nil {
			return err
		}
	case held:
		assetStatus, _ := models.AssetStatusForLoan(to)
		link := keepLoan
		if releasing {
			link = clearLoan
		}
		if _, err := c.moveAsset(ctx, st, l.AssetID, assetStatus, link, ""); err != nil {
			return err
		}
	}

	return st.Loan().Update(ctx, l)
}

// moveAssetLoan cascades an auction outcome onto the loan pledged against the
// asset, if any. It returns the loan id it moved.
func (c *core) moveAssetLoan(ctx context.Context, st repository.Store, assetID, to string) (string, error) {
	l, found, err := st.Loan().GetOpenByAsset(ctx, assetID)
	if err != nil || !found {
		return "", err
	}
	l, found, err = st.Loan().GetForUpdate(ctx, l.ID)
	if err != nil || !found {
		return "", err
	}
	if l.Status == to {
		return l.ID, nil
	}

	if !models.LoanMachine.Can(l.Status, to) {
		return "", apperror.InvalidTransition("loan", l.Status, to)
	}
	now := c.now()
	l.Status = to
	if slices.Contains(models.ReleasingLoanStatuses, to) && !l.ClosedAt.Valid {
		l.ClosedAt = sql.NullTime{Time: now, Valid: true}
	}
	l.UpdatedAt = now
	return l.ID, st.Loan().Update(ctx, l)
}

type LoanInput struct {
	ApplicationID      string           `json:"application_id"`
	AssetID            string           `json:"asset_id"`
	Principal          decimal.Decimal  `json:"principal"`
	Currency           string           `json:"currency"`
	InterestRate       decimal.Decimal  `json:"interest_rate"`
	InterestPeriodDays int              `json:"interest_period_days"`
	StorageCharge      *decimal.Decimal `json:"storage_charge"`
	PenaltyRate        *decimal.Decimal `json:"penalty_rate"`
	GraceDays          *int             `json:"grace_days"`
	StartDate          *time.Time       `json:"start_date"`
	Notes              string           `json:"notes"`
}

func (in LoanInput) validate() error {
	var v validator.Validator
	v.CheckField(validator.NotBlank(in.ApplicationID), "application_id", "Application is required")
	v.CheckField(in.Principal.IsPositive(), "principal", "Principal must be positive")
	v.CheckField(!in.InterestRate.IsNegative(), "interest_rate", "Interest rate cannot be negative")
	v.CheckField(in.InterestPeriodDays >= 0, "interest_period_days", "Interest period must be positive")
	if in.StorageCharge != nil {
		v.CheckField(!in.StorageCharge.IsNegative(), "storage_charge", "Storage charge cannot be negative")
	}
	if in.PenaltyRate != nil {
		v.CheckField(!in.PenaltyRate.IsNegative(), "penalty_rate", "Penalty rate cannot be negative")
	}
	if in.GraceDays != nil {
		v.CheckField(*in.GraceDays >= 0, "grace_days", "Grace days cannot be negative")
	}
	return v.Err()
}

// Create books a draft loan and its initial term from an approved application
// whose collateral has completed valuation.
func (s *LoanService) Create(ctx context.Context, actor models.Actor, in LoanInput) (*models.Loan, error) {
	if !actor.IsOfficer() {
		return nil, apperror.Forbidden("")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.InterestPeriodDays == 0 {
		in.InterestPeriodDays = defaultInterestPeriodDays
	}

	var loan *models.Loan
	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		app, found, err := st.Application().GetOne(ctx, in.ApplicationID)
		if err != nil {
			return err
		}
		if !found {
			return apperror.NotFound("application")
		}
		if app.Status != models.ApplicationStatusApproved {
			return apperror.InvalidState("loans are only booked against approved applications")
		}

		assetID := in.AssetID
		if assetID == "" {
			assetID = app.Collateral.V.AssetID
		}
		if assetID == "" {
			return apperror.FieldInvalid("asset_id", "Asset is required")
		}
		asset, found, err := st.Asset().GetOne(ctx, assetID)
		if err != nil {
			return err
		}
		if !found {
			return apperror.NotFound("asset")
		}
		if asset.OwnerID != app.CustomerID {
			return apperror.FieldInvalid("asset_id", "Asset does not belong to the applicant")
		}
		if asset.Status != models.AssetStatusActive || !asset.EvaluatedValue.Valid {
			return apperror.InvalidState("asset must be valued and active before a loan is booked")
		}
		if asset.ActiveLoanID.Valid {
			return apperror.BusinessRule("asset is already pledged against another loan")
		}
		if in.Principal.GreaterThan(asset.EvaluatedValue.Decimal) {
			return apperror.BusinessRule("principal cannot exceed the asset's evaluated value")
		}

		now := s.now()
		start := now
		if in.StartDate != nil {
			start = in.StartDate.UTC()
		}
		principal := money.Round2(in.Principal)

		loan = &models.Loan{
			CustomerID:         app.CustomerID,
			ApplicationID:      app.ID,
			AssetID:            asset.ID,
			CollateralCategory: models.CollateralFor(asset.Category),
			Principal:          principal,
			CurrentBalance:     principal,
			Currency:           s.currency(firstNonEmpty(in.Currency, app.Currency)),
			InterestRate:       in.InterestRate,
			InterestPeriodDays: in.InterestPeriodDays,
			StorageCharge:      valueOr(in.StorageCharge, decimal.Zero),
			PenaltyRate:        valueOr(in.PenaltyRate, decimal.Zero),
			GraceDays:          valueOr(in.GraceDays, 0),
			StartDate:          start,
			DueDate:            addDays(start, in.InterestPeriodDays),
			Status:             models.LoanStatusDraft,
			CreatedBy:          actor.ID,
			Notes:              strings.TrimSpace(in.Notes),
			CreatedAt:          now,
			UpdatedAt:          now,
		}

		_, err = s.IDs.Insert(ctx, identifier.Loan, func(no string) error {
			loan.LoanNo = no
			return st.Loan().Insert(ctx, loan)
		})
		if err != nil {
			return err
		}

		term := &models.LoanTerm{
			LoanID:             loan.ID,
			TermNo:             1,
			StartDate:          loan.StartDate,
			DueDate:            loan.DueDate,
			OpeningBalance:     principal,
			ClosingBalance:     principal,
			InterestRate:       loan.InterestRate,
			InterestPeriodDays: loan.InterestPeriodDays,
			StorageCharge:      loan.StorageCharge,
			RenewalType:        models.RenewalInitial,
			CreatedBy:          actor.ID,
			CreatedAt:          now,
		}
		if err := st.LoanTerm().Insert(ctx, term); err != nil {
			return err
		}

		return s.record(ctx, st, actor, change{
			Action: "loan.create", EntityType: models.EntityLoan, EntityID: loan.ID, After: loan,
			Meta: models.Meta{"term_id": term.ID, "application_id": app.ID},
		})
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func valueOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}

func (s *LoanService) Get(ctx context.Context, actor models.Actor, id string) (*models.Loan, error) {
	l, found, err := s.DB.Loan().GetOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("loan")
	}
	if !canSeeLoan(actor, l) {
		return nil, apperror.Forbidden("")
	}
	return l, nil
}

func (s *LoanService) List(ctx context.Context, actor models.Actor, filter models.LoanFilter) ([]models.Loan, int, error) {
	if !actor.IsStaff() {
		filter.CustomerID = actor.ID
	}
	filter.Limit, filter.Offset = pageOf(filter.Limit, filter.Offset)
	return s.DB.Loan().List(ctx, filter)
}

func (s *LoanService) Stats(ctx context.Context, actor models.Actor) (*models.LoanStats, error) {
	if !actor.IsStaff() {
		return nil, apperror.Forbidden("")
	}
	return s.DB.Loan().Stats(ctx)
}

// Charges prices the loan as of now.
func (s *LoanService) Charges(ctx context.Context, actor models.Actor, id string) (*models.Charges, error) {
	l, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return chargesFor(l, s.now()), nil
}

func chargesFor(l *models.Loan, at time.Time) *models.Charges {
	b := money.Charges(money.ChargeInput{
		Principal:      l.Principal,
		CurrentBalance: l.CurrentBalance,
		InterestRate:   l.InterestRate,
		StorageCharge:  l.StorageCharge,
		PenaltyRate:    l.PenaltyRate,
		StartDate:      l.StartDate,
		DueDate:        l.DueDate,
		Overdue:        l.Status == models.LoanStatusOverdue,
	}, at)

	return &models.Charges{
		LoanID:         l.ID,
		AsOf:           at,
		DaysElapsed:    b.DaysElapsed,
		DaysOverdue:    b.DaysOverdue,
		CurrentBalance: money.Round2(l.CurrentBalance),
		Interest:       b.Interest,
		StorageCharge:  b.Storage,
		Penalty:        b.Penalty,
		TotalDue:       b.TotalDue,
		Currency:       l.Currency,
	}
}

// edit locks the loan, applies fn and journals it. fn may return extra meta.
func (s *LoanService) edit(ctx context.Context, actor models.Actor, id, action string, fn func(st repository.Store, l *models.Loan) (models.Meta, error)) (*models.Loan, error) {
	var out *models.Loan
	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		l, found, err := st.Loan().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperror.NotFound("loan")
		}

		before := *l
		meta, err := fn(st, l)
		if err != nil {
			return err
		}
		l.UpdatedAt = s.now()
		if err := st.Loan().Update(ctx, l); err != nil {
			return err
		}
		out = l
		return s.record(ctx, st, actor, change{Action: action, EntityType: models.EntityLoan, EntityID: l.ID, Before: &before, After: l, Meta: meta})
	})
	return out, err
}

type LoanUpdateInput struct {
	PenaltyRate *decimal.Decimal `json:"penalty_rate"`
	GraceDays   *int             `json:"grace_days"`
	Notes       *string          `json:"notes"`
}

// Update edits the servicing terms that do not feed the term chain.
func (s *LoanService) Update(ctx context.Context, actor models.Actor, id string, in LoanUpdateInput) (*models.Loan, error) {
	if !actor.IsOfficer() {
		return nil, apperror.Forbidden("")
	}

	var v validator.Validator
	if in.PenaltyRate != nil {
		v.CheckField(!in.PenaltyRate.IsNegative(), "penalty_rate", "Penalty rate cannot be negative")
	}
	if in.GraceDays != nil {
		v.CheckField(*in.GraceDays >= 0, "grace_days", "Grace days cannot be negative")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	return s.edit(ctx, actor, id, "loan.update", func(_ repository.Store, l *models.Loan) (models.Meta, error) {
		if models.LoanMachine.Terminal(l.Status) {
			return nil, apperror.InvalidState("loan is " + l.Status)
		}
		if in.PenaltyRate != nil {
			l.PenaltyRate = *in.PenaltyRate
		}
		if in.GraceDays != nil {
			l.GraceDays = *in.GraceDays
		}
		if in.Notes != nil {
			l.Notes = strings.TrimSpace(*in.Notes)
		}
		return nil, nil
	})
}

func loanAction(from, to string) string {
	switch to {
	case models.LoanStatusActive:
		if from == models.LoanStatusDraft {
			return "loan.approve"
		}
		return "loan.reactivate"
	case models.LoanStatusOverdue:
		return "loan.overdue"
	case models.LoanStatusInGrace:
		return "loan.grace"
	case models.LoanStatusAuction:
		return "loan.auction"
	case models.LoanStatusSold:
		return "loan.sell"
	case models.LoanStatusRedeemed:
		return "loan.redeem"
	case models.LoanStatusClosed:
		return "loan.close"
	case models.LoanStatusCancelled:
		return "loan.cancel"
	}
	return "loan.status"
}

// UpdateStatus drives the loan machine by hand. Moving a draft to active is
// the disbursal and needs an approver.
func (s *LoanService) UpdateStatus(ctx context.Context, actor models.Actor, id, status, note string) (*models.Loan, error) {
	if !actor.IsOfficer() {
		return nil, apperror.Forbidden("")
	}
	if !slices.Contains(slices.Concat(models.OpenLoanStatuses, models.ReleasingLoanStatuses), status) {
		return nil, apperror.FieldInvalid("status", "Unknown loan status")
	}

	var from string
	out, err := s.editStatus(ctx, actor, id, status, note, &from)
	if err != nil {
		return nil, err
	}

	s.notifyLoan(ctx, out, loanAction(from, status))
	return out, nil
}

func (s *LoanService) editStatus(ctx context.Context, actor models.Actor, id, status, note string, from *string) (*models.Loan, error) {
	var out *models.Loan
	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		l, found, err := st.Loan().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperror.NotFound("loan")
		}
		*from = l.Status

		disbursal := l.Status == models.LoanStatusDraft && status == models.LoanStatusActive
		if (disbursal || status == models.LoanStatusClosed) && !actor.CanApprove() {
			return apperror.Forbidden("This transition requires the loan_officer_approval role or higher")
		}

		before := *l
		meta := models.Meta{}
		if disbursal {
			if err := s.disburse(ctx, st, actor, l); err != nil {
				return err
			}
		}
		if err := s.moveLoan(ctx, st, l, status); err != nil {
			return err
		}
		if note = strings.TrimSpace(note); note != "" {
			meta["note"] = note
		}

		out = l
		return s.record(ctx, st, actor, change{Action: loanAction(before.Status, status), EntityType: models.EntityLoan, EntityID: l.ID, Before: &before, After: l, Meta: meta})
	})
	return out, err
}

// disburse stamps the approval and approves the initial term.
func (s *LoanService) disburse(ctx context.Context, st repository.Store, actor models.Actor, l *models.Loan) error {
	term, found, err := st.LoanTerm().Latest(ctx, l.ID)
	if err != nil {
		return err
	}
	if !found || term.TermNo != 1 {
		return apperror.InvalidState("loan has no initial term")
	}

	now := s.now()
	if !term.Approved() {
		term.ApprovedBy = sql.NullString{String: actor.ID, Valid: true}
		term.ApprovedAt = sql.NullTime{Time: now, Valid: true}
		if err := st.LoanTerm().Approve(ctx, term); err != nil {
			return err
		}
	}

	l.DisbursedAt = sql.NullTime{Time: now, Valid: true}
	if !l.ProcessedBy.Valid {
		l.ProcessedBy = sql.NullString{String: actor.ID, Valid: true}
	}
	l.ApprovedBy = sql.NullString{String: actor.ID, Valid: true}
	return nil
}

type LoanPaymentInput struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
}

// RecordPayment reduces the balance, flooring at zero. A zero balance redeems
// the loan and releases the asset to its owner.
func (s *LoanService) RecordPayment(ctx context.Context, actor models.Actor, id string, in LoanPaymentInput) (*models.Loan, *models.LoanPayment, error) {
	if !actor.IsOfficer() {
		return nil, nil, apperror.Forbidden("")
	}
	if !in.Amount.IsPositive() {
		return nil, nil, apperror.FieldInvalid("amount", "Amount must be positive")
	}
	if in.Method == "" {
		in.Method = "cash"
	}

	var payment *models.LoanPayment
	loan, err := s.edit(ctx, actor, id, "loan.payment", func(st repository.Store, l *models.Loan) (models.Meta, error) {
		if !slices.Contains(PayableLoanStatuses, l.Status) {
			return nil, apperror.InvalidState("payments are not accepted on a " + l.Status + " loan")
		}
		term, found, err := st.LoanTerm().Latest(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, apperror.InvalidState("loan has no initial term")
		}
		if !term.Approved() {
			return nil, apperror.BusinessRule("term " + strconv.Itoa(term.TermNo) + " is awaiting approval; approve or delete it before taking a payment")
		}

		amount := money.Round2(in.Amount)
		payment = &models.LoanPayment{
			LoanID:        l.ID,
			Amount:        amount,
			BalanceBefore: l.CurrentBalance,
			BalanceAfter:  money.ApplyPayment(l.CurrentBalance, amount),
			Currency:      l.Currency,
			Method:        in.Method,
			Reference:     strings.TrimSpace(in.Reference),
			ReceivedBy:    actor.ID,
			CreatedAt:     s.now(),
		}
		if err := st.LoanPayment().Insert(ctx, payment); err != nil {
			return nil, err
		}

		term.ClosingBalance = payment.BalanceAfter
		if err := st.LoanTerm().ReduceClosing(ctx, term); err != nil {
			return nil, err
		}

		l.CurrentBalance = payment.BalanceAfter
		if l.CurrentBalance.IsZero() {
			if err := s.moveLoan(ctx, st, l, models.LoanStatusRedeemed); err != nil {
				return nil, err
			}
		}
		return models.Meta{"payment_id": payment.ID, "amount": amount.String(), "term_id": term.ID}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	event := "loan.payment"
	if loan.Status == models.LoanStatusRedeemed {
		event = "loan.redeem"
	}
	s.notifyLoan(ctx, loan, event)
	return loan, payment, nil
}

func (s *LoanService) Payments(ctx context.Context, actor models.Actor, id string) ([]models.LoanPayment, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.DB.LoanPayment().ListByLoan(ctx, id)
}

func (c *core) notifyLoan(ctx context.Context, l *models.Loan, event string) {
	c.notifyUser(ctx, l.CustomerID, notify.Notification{
		Event: event,
		Data: eventData(
			"Your loan "+l.LoanNo,
			"There is an update on your loan.",
			l.LoanNo, l.Status, l.CurrentBalance.StringFixed(2), l.Currency,
		),
	})
}

// SweepOverdue moves active loans past their due date to overdue and overdue
// loans past their grace period to in_grace. Failures are logged per loan.
func (s *LoanService) SweepOverdue(ctx context.Context) (int, error) {
	actor := models.SystemActor(models.ChannelSystem)
	now := s.now()
	moved := 0

	due, _, err := s.DB.Loan().List(ctx, models.LoanFilter{Status: models.LoanStatusActive, DueBefore: &now, Limit: sweepBatch})
	if err != nil {
		return 0, err
	}
	for _, l := range due {
		if s.sweepOne(ctx, actor, l.ID, models.LoanStatusOverdue) {
			moved++
		}
	}

	overdue, _, err := s.DB.Loan().List(ctx, models.LoanFilter{Status: models.LoanStatusOverdue, DueBefore: &now, Limit: sweepBatch})
	if err != nil {
		return moved, err
	}
	for _, l := range overdue {
		if now.Before(addDays(l.DueDate, l.GraceDays)) {
			continue
		}
		if s.sweepOne(ctx, actor, l.ID, models.LoanStatusInGrace) {
			moved++
		}
	}
	return moved, nil
}

func (s *LoanService) sweepOne(ctx context.Context, actor models.Actor, id, status string) bool {
	var from string
	l, err := s.editStatus(ctx, actor, id, status, "", &from)
	if err != nil {
		s.Logger.Warn("loan sweep transition failed", "loan_id", id, "to", status, "error", err)
		return false
	}
	s.notifyLoan(ctx, l, loanAction(from, status))
	return true
}
