package service

import (
	"context"
	"database/sql"
	"slices"
	"strconv"
	"strings"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/money"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/cradoe/pawnbroker/internal/validator"
	"github.com/shopspring/decimal"
)

type TermService struct {
	*core
}

type RenewalInput struct {
	LoanID        string           `json:"loan_id"`
	RenewalType   string           `json:"renewal_type"`
	PaymentAmount *decimal.Decimal `json:"payment_amount"`
	Notes         string           `json:"notes"`
}

func (in RenewalInput) validate() error {
	var v validator.Validator
	v.CheckField(validator.NotBlank(in.LoanID), "loan_id", "Loan is required")
	v.CheckField(validator.PermittedValue(in.RenewalType, models.RenewalTypes...), "renewal_type", "Renewal type must be interest_only_renewal, partial_principal_renewal or full_settlement")
	if in.RenewalType == models.RenewalPartialPrincipal {
		v.CheckField(in.PaymentAmount != nil, "payment_amount", "Payment amount is required for a partial principal renewal")
	}
	if in.PaymentAmount != nil {
		v.CheckField(!in.PaymentAmount.IsNegative(), "payment_amount", "Payment amount cannot be negative")
	}
	return v.Err()
}

// nextTerm derives term N+1 from term N. Counter payments are booked onto
// term N's closing balance, so it always matches what the loan still owes.
func nextTerm(prev *models.LoanTerm, balance decimal.Decimal, in RenewalInput) (*models.TermPreview, error) {
	if !prev.ClosingBalance.Equal(balance) {
		return nil, apperror.InvalidState("term " + strconv.Itoa(prev.TermNo) + " closes at " + prev.ClosingBalance.StringFixed(2) +
			" but the loan balance is " + balance.StringFixed(2))
	}
	payment := decimal.Zero
	if in.PaymentAmount != nil {
		payment = money.Round2(*in.PaymentAmount)
	}
	if in.RenewalType == models.RenewalPartialPrincipal && payment.GreaterThan(prev.ClosingBalance) {
		return nil, apperror.FieldInvalid("payment_amount", "Payment amount cannot exceed the opening balance")
	}

	start := prev.DueDate
	return &models.TermPreview{
		TermNo:             prev.TermNo + 1,
		StartDate:          start,
		DueDate:            addDays(start, prev.InterestPeriodDays),
		OpeningBalance:     prev.ClosingBalance,
		ClosingBalance:     money.RolloverClosing(in.RenewalType, prev.ClosingBalance, prev.InterestRate, payment),
		InterestRate:       prev.InterestRate,
		InterestPeriodDays: prev.InterestPeriodDays,
		StorageCharge:      prev.StorageCharge,
		RenewalType:        in.RenewalType,
	}, nil
}

func (s *TermService) loanFor(ctx context.Context, st repository.Store, actor models.Actor, loanID string) (*models.Loan, error) {
	l, found, err := st.Loan().GetOne(ctx, loanID)
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

func (s *TermService) Current(ctx context.Context, actor models.Actor, loanID string) (*models.LoanTerm, error) {
	if _, err := s.loanFor(ctx, s.DB, actor, loanID); err != nil {
		return nil, err
	}
	t, found, err := s.DB.LoanTerm().Latest(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("loan term")
	}
	return t, nil
}

func (s *TermService) Timeline(ctx context.Context, actor models.Actor, loanID string) ([]models.LoanTerm, error) {
	if _, err := s.loanFor(ctx, s.DB, actor, loanID); err != nil {
		return nil, err
	}
	return s.DB.LoanTerm().ListByLoan(ctx, loanID)
}

// NextTerm previews a renewal without storing it.
func (s *TermService) NextTerm(ctx context.Context, actor models.Actor, in RenewalInput) (*models.TermPreview, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	l, err := s.loanFor(ctx, s.DB, actor, in.LoanID)
	if err != nil {
		return nil, err
	}
	latest, err := s.Current(ctx, actor, in.LoanID)
	if err != nil {
		return nil, err
	}
	return nextTerm(latest, l.CurrentBalance, in)
}

// Create appends the next renewal term. Term numbers are allocated under a
// per-loan lock so two renewals can never race for the same number.
func (s *TermService) Create(ctx context.Context, actor models.Actor, in RenewalInput) (*models.LoanTerm, error) {
	if !actor.IsOfficer() {
		return nil, apperror.Forbidden("")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	var term *models.LoanTerm
	err := s.withLock(ctx, "loan:"+in.LoanID, func() error {
		return s.DB.WithinTx(ctx, func(st repository.Store) error {
			l, found, err := st.Loan().GetForUpdate(ctx, in.LoanID)
			if err != nil {
				return err
			}
			if !found {
				return apperror.NotFound("loan")
			}
			if !slices.Contains(PayableLoanStatuses, l.Status) {
				return apperror.InvalidState("a " + l.Status + " loan cannot be renewed")
			}

			latest, found, err := st.LoanTerm().Latest(ctx, l.ID)
			if err != nil {
				return err
			}
			if !found {
				return apperror.InvalidState("loan has no initial term")
			}
			if !latest.Approved() {
				return apperror.BusinessRule("the previous term must be approved before renewing")
			}

			preview, err := nextTerm(latest, l.CurrentBalance, in)
			if err != nil {
				return err
			}

			term = &models.LoanTerm{
				LoanID:             l.ID,
				TermNo:             preview.TermNo,
				StartDate:          preview.StartDate,
				DueDate:            preview.DueDate,
				OpeningBalance:     preview.OpeningBalance,
				ClosingBalance:     preview.ClosingBalance,
				InterestRate:       preview.InterestRate,
				InterestPeriodDays: preview.InterestPeriodDays,
				StorageCharge:      preview.StorageCharge,
				RenewalType:        preview.RenewalType,
				CreatedBy:          actor.ID,
				Notes:              strings.TrimSpace(in.Notes),
				CreatedAt:          s.now(),
			}
			switch in.RenewalType {
			case models.RenewalPartialPrincipal:
				term.PaymentAmount = decimal.NewNullDecimal(money.Round2(*in.PaymentAmount))
			case models.RenewalFullSettlement:
				term.PaymentAmount = decimal.NewNullDecimal(preview.OpeningBalance)
			}
			if err := st.LoanTerm().Insert(ctx, term); err != nil {
				return err
			}

			return s.record(ctx, st, actor, change{
				Action: "loan_term.create", EntityType: models.EntityLoanTerm, EntityID: term.ID, After: term,
				Meta: models.Meta{"loan_id": l.ID, "term_no": term.TermNo},
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return term, nil
}

// Renew is Create addressed by loan id.
func (s *TermService) Renew(ctx context.Context, actor models.Actor, loanID string, in RenewalInput) (*models.LoanTerm, error) {
	in.LoanID = loanID
	return s.Create(ctx, actor, in)
}

// Approve writes the term back onto its loan. A settled term redeems the loan;
// any other renewal brings a late loan back to active.
func (s *TermService) Approve(ctx context.Context, actor models.Actor, termID string) (*models.LoanTerm, *models.Loan, error) {
	if !actor.CanApprove() {
		return nil, nil, apperror.Forbidden("Approval requires the loan_officer_approval role or higher")
	}

	t, found, err := s.DB.LoanTerm().GetOne(ctx, termID)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, apperror.NotFound("loan term")
	}

	var (
		approved *models.LoanTerm
		loan     *models.Loan
	)
	err = s.withLock(ctx, "loan:"+t.LoanID, func() error {
		return s.DB.WithinTx(ctx, func(st repository.Store) error {
			term, found, err := st.LoanTerm().GetOne(ctx, termID)
			if err != nil {
				return err
			}
			if !found {
				return apperror.NotFound("loan term")
			}
			if term.Approved() {
				return apperror.InvalidState("term is already approved")
			}

			l, found, err := st.Loan().GetForUpdate(ctx, term.LoanID)
			if err != nil {
				return err
			}
			if !found {
				return apperror.NotFound("loan")
			}
			if !slices.Contains(PayableLoanStatuses, l.Status) {
				return apperror.InvalidState("terms cannot be approved on a " + l.Status + " loan")
			}
			latest, _, err := st.LoanTerm().Latest(ctx, l.ID)
			if err != nil {
				return err
			}
			if latest == nil || latest.ID != term.ID {
				return apperror.InvalidState("only the latest term can be approved")
			}
			if !term.OpeningBalance.Equal(l.CurrentBalance) {
				return apperror.BusinessRule("loan balance changed to " + l.CurrentBalance.StringFixed(2) + " after this term was drafted; delete and renew again")
			}

			now := s.now()
			beforeTerm := *term
			beforeLoan := *l
			term.ApprovedBy = sql.NullString{String: actor.ID, Valid: true}
			term.ApprovedAt = sql.NullTime{Time: now, Valid: true}
			if err := st.LoanTerm().Approve(ctx, term); err != nil {
				return err
			}

			if term.PaymentAmount.Valid && term.PaymentAmount.Decimal.IsPositive() {
				if err := st.LoanPayment().Insert(ctx, &models.LoanPayment{
					LoanID:        l.ID,
					Amount:        term.PaymentAmount.Decimal,
					BalanceBefore: l.CurrentBalance,
					BalanceAfter:  term.ClosingBalance,
					Currency:      l.Currency,
					Method:        "term_" + term.RenewalType,
					Reference:     term.ID,
					ReceivedBy:    actor.ID,
					CreatedAt:     now,
				}); err != nil {
					return err
				}
			}

			l.CurrentBalance = term.ClosingBalance
			l.StartDate = term.StartDate
			l.DueDate = term.DueDate
			l.UpdatedAt = now

			switch {
			case term.RenewalType == models.RenewalFullSettlement && term.ClosingBalance.IsZero():
				err = s.moveLoan(ctx, st, l, models.LoanStatusRedeemed)
			case l.Status != models.LoanStatusActive && term.DueDate.After(now):
				err = s.moveLoan(ctx, st, l, models.LoanStatusActive)
			default:
				err = st.Loan().Update(ctx, l)
			}
			if err != nil {
				return err
			}

			approved, loan = term, l
			return s.record(ctx, st, actor, change{
				Action: "loan_term.approve", EntityType: models.EntityLoanTerm, EntityID: term.ID,
				Before: &beforeTerm, After: term,
				Meta: models.Meta{
					"loan_id":        l.ID,
					"loan_status":    l.Status,
					"balance_before": beforeLoan.CurrentBalance.String(),
					"balance_after":  l.CurrentBalance.String(),
				},
			})
		})
	})
	if err != nil {
		return nil, nil, err
	}

	event := "loan.renewal"
	if loan.Status == models.LoanStatusRedeemed {
		event = "loan.redeem"
	}
	s.notifyLoan(ctx, loan, event)
	return approved, loan, nil
}

// Delete removes a term that has not been approved yet.
func (s *TermService) Delete(ctx context.Context, actor models.Actor, termID string) error {
	if !actor.IsOfficer() {
		return apperror.Forbidden("")
	}
	return s.DB.WithinTx(ctx, func(st repository.Store) error {
		term, found, err := st.LoanTerm().GetOne(ctx, termID)
		if err != nil {
			return err
		}
		if !found {
			return apperror.NotFound("loan term")
		}
		if term.Approved() {
			return apperror.InvalidState("approved terms cannot be deleted")
		}
		if term.TermNo == 1 {
			return apperror.InvalidState("the initial term cannot be deleted")
		}
		if err := st.LoanTerm().Delete(ctx, term.ID); err != nil {
			return err
		}
		return s.record(ctx, st, actor, change{
			Action: "loan_term.delete", EntityType: models.EntityLoanTerm, EntityID: term.ID, Before: term,
			Meta: models.Meta{"loan_id": term.LoanID},
		})
	})
}
