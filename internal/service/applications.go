package service

import (
	"context"
	"database/sql"
	"slices"
	"strings"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/identifier"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/notify"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/cradoe/pawnbroker/internal/validator"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type ApplicationService struct {
	*core
}

func canSeeApplication(actor models.Actor, a *models.LoanApplication) bool {
	return actor.IsStaff() || a.CustomerID == actor.ID
}

type ApplicationInput struct {
	CustomerID      string                    `json:"customer_id"`
	RequestedAmount *decimal.Decimal          `json:"requested_amount"`
	Currency        string                    `json:"currency"`
	Personal        *models.PersonalDetails   `json:"personal"`
	Employment      *models.EmploymentDetails `json:"employment"`
	Collateral      *models.CollateralDetails `json:"collateral"`
	Declaration     *models.Declaration       `json:"declaration"`
	Attachments     []string                  `json:"attachments"`
}

func (in ApplicationInput) apply(a *models.LoanApplication) {
	if in.RequestedAmount != nil {
		a.RequestedAmount = *in.RequestedAmount
	}
	if in.Personal != nil {
		a.Personal = models.NewJSON(*in.Personal)
	}
	if in.Employment != nil {
		a.Employment = models.NewJSON(in.Employment)
	}
	if in.Collateral != nil {
		a.Collateral = models.NewJSON(*in.Collateral)
	}
	if in.Declaration != nil {
		a.Declaration = models.NewJSON(in.Declaration)
	}
	if in.Attachments != nil {
		a.Attachments = pq.StringArray(in.Attachments)
	}
}

// validateDraft checks the minimum identity and collateral fields a draft needs.
func validateDraft(a *models.LoanApplication) error {
	var v validator.Validator
	p := a.Personal.V
	v.CheckField(validator.NotBlank(p.FullName), "personal.full_name", "Full name is required")
	v.CheckField(validator.NotBlank(p.NationalIDNumber), "personal.national_id_number", "National ID number is required")
	v.CheckField(validator.PermittedValue(a.Collateral.V.Category, models.CollateralCategories...), "collateral.category", "Collateral category must be small_loans, motor_vehicle or jewellery")
	v.CheckField(!a.RequestedAmount.IsNegative(), "requested_amount", "Requested amount cannot be negative")
	if p.Phone != "" {
		v.CheckField(validator.Matches(p.Phone, validator.RgxPhoneNumber), "personal.phone", "Phone number must be in international format")
	}
	return v.Err()
}

func (s *ApplicationService) CreateDraft(ctx context.Context, actor models.Actor, in ApplicationInput) (*models.LoanApplication, error) {
	if !actor.IsStaff() || in.CustomerID == "" {
		in.CustomerID = actor.ID
	}

	now := s.now()
	app := &models.LoanApplication{
		CustomerID:    in.CustomerID,
		Currency:      s.currency(in.Currency),
		Status:        models.ApplicationStatusDraft,
		InternalNotes: models.NewJSON([]models.ApplicationNote{}),
		Attachments:   pq.StringArray{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	in.apply(app)
	if err := validateDraft(app); err != nil {
		return nil, err
	}

	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		if _, found, err := st.User().GetOne(ctx, app.CustomerID); err != nil {
			return err
		} else if !found {
			return apperror.FieldInvalid("customer_id", "Customer does not exist")
		}

		_, err := s.IDs.Insert(ctx, identifier.Application, func(no string) error {
			app.ApplicationNo = no
			return st.Application().Insert(ctx, app)
		})
		if err != nil {
			return err
		}
		return s.record(ctx, st, actor, change{Action: "application.create", EntityType: models.EntityApplication, EntityID: app.ID, After: app})
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

func (s *ApplicationService) Get(ctx context.Context, actor models.Actor, id string) (*models.LoanApplication, error) {
	a, found, err := s.DB.Application().GetOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("application")
	}
	if !canSeeApplication(actor, a) {
		return nil, apperror.Forbidden("")
	}
	return a, nil
}

func (s *ApplicationService) List(ctx context.Context, actor models.Actor, filter models.ApplicationFilter) ([]models.LoanApplication, int, error) {
	if !actor.IsStaff() {
		filter.CustomerID = actor.ID
	}
	filter.Limit, filter.Offset = pageOf(filter.Limit, filter.Offset)
	return s.DB.Application().List(ctx, filter)
}

// edit locks the application, checks visibility, applies fn and journals it.
// fn returns the note to append to the internal log, if any.
func (s *ApplicationService) edit(ctx context.Context, actor models.Actor, id, action string, fn func(st repository.Store, a *models.LoanApplication) (string, error)) (*models.LoanApplication, error) {
	var out *models.LoanApplication
	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		a, found, err := st.Application().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperror.NotFound("application")
		}
		if !canSeeApplication(actor, a) {
			return apperror.Forbidden("")
		}

		before := *a
		before.InternalNotes = models.NewJSON(slices.Clone(a.InternalNotes.V))
		note, err := fn(st, a)
		if err != nil {
			return err
		}

		now := s.now()
		if note != "" {
			a.InternalNotes.V = append(a.InternalNotes.V, models.ApplicationNote{Status: a.Status, Note: note, Author: actor.ID, CreatedAt: now})
		}
		a.UpdatedAt = now
		if err := st.Application().Update(ctx, a); err != nil {
			return err
		}
		out = a
		return s.record(ctx, st, actor, change{Action: action, EntityType: models.EntityApplication, EntityID: a.ID, Before: &before, After: a})
	})
	return out, err
}

// Update edits a draft. Submitted applications belong to the officers.
func (s *ApplicationService) Update(ctx context.Context, actor models.Actor, id string, in ApplicationInput) (*models.LoanApplication, error) {
	return s.edit(ctx, actor, id, "application.update", func(_ repository.Store, a *models.LoanApplication) (string, error) {
		if a.Status != models.ApplicationStatusDraft {
			return "", apperror.InvalidState("only draft applications can be edited")
		}
		in.CustomerID = ""
		in.apply(a)
		return "", validateDraft(a)
	})
}

// Submit requires the full declaration set and runs the debtor check.
func (s *ApplicationService) Submit(ctx context.Context, actor models.Actor, id string) (*models.LoanApplication, error) {
	app, err := s.edit(ctx, actor, id, "application.submit", func(st repository.Store, a *models.LoanApplication) (string, error) {
		if !models.ApplicationMachine.Can(a.Status, models.ApplicationStatusSubmitted) {
			return "", apperror.InvalidTransition("application", a.Status, models.ApplicationStatusSubmitted)
		}
		if missing := a.MissingForSubmit(); len(missing) > 0 {
			msgs := make([]string, len(missing))
			for i, f := range missing {
				msgs[i] = f + " is required"
			}
			return "", apperror.Validation("Application is incomplete", msgs...)
		}
		if err := s.checkCollateralAsset(ctx, st, a); err != nil {
			return "", err
		}
		if err := s.runDebtorCheck(ctx, st, actor, a); err != nil {
			return "", err
		}

		a.Status = models.ApplicationStatusSubmitted
		a.SubmittedAt = sql.NullTime{Time: s.now(), Valid: true}
		return "Application submitted", nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyApplication(ctx, app)
	return app, nil
}

func (s *ApplicationService) checkCollateralAsset(ctx context.Context, st repository.Store, a *models.LoanApplication) error {
	assetID := a.Collateral.V.AssetID
	if assetID == "" {
		return nil
	}
	asset, found, err := st.Asset().GetOne(ctx, assetID)
	if err != nil {
		return err
	}
	if !found {
		return apperror.FieldInvalid("collateral.asset_id", "Collateral asset does not exist")
	}
	if asset.OwnerID != a.CustomerID {
		return apperror.FieldInvalid("collateral.asset_id", "Collateral asset belongs to another customer")
	}
	if models.AssetCategoryFor(a.Collateral.V.Category) != asset.Category {
		return apperror.FieldInvalid("collateral.category", "Collateral category does not match the asset")
	}
	return nil
}

// runDebtorCheck records the debtor-list lookup once; later calls keep the first result.
func (s *ApplicationService) runDebtorCheck(ctx context.Context, st repository.Store, actor models.Actor, a *models.LoanApplication) error {
	if a.DebtorCheck.V != nil && a.DebtorCheck.V.Checked {
		return nil
	}

	p := a.Personal.V
	matches, err := st.Debtor().Match(ctx, p.FullName, p.NationalIDNumber)
	if err != nil {
		return err
	}

	check := &models.DebtorCheck{
		Checked:        true,
		Matched:        len(matches) > 0,
		MatchedRecords: []string{},
		CheckedAt:      s.now(),
		CheckedBy:      actor.ID,
	}
	for _, d := range matches {
		check.MatchedRecords = append(check.MatchedRecords, d.ID)
	}
	if check.Matched {
		check.Notes = "Applicant matches the debtor list"
	}
	a.DebtorCheck = models.NewJSON(check)
	return nil
}

// DebtorCheck runs the check on demand. A second call changes nothing and
// writes no journal entry.
func (s *ApplicationService) DebtorCheck(ctx context.Context, actor models.Actor, id string) (*models.LoanApplication, error) {
	if !actor.IsOfficer() {
		return nil, apperror.Forbidden("")
	}

	a, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if a.DebtorCheck.V != nil && a.DebtorCheck.V.Checked {
		return a, nil
	}

	return s.edit(ctx, actor, id, "application.debtor_check", func(st repository.Store, a *models.LoanApplication) (string, error) {
		if a.Status == models.ApplicationStatusDraft {
			return "", apperror.InvalidState("debtor check runs on submitted applications")
		}
		return "", s.runDebtorCheck(ctx, st, actor, a)
	})
}

// UpdateStatus moves a submitted application through review. Customers may
// only cancel their own application.
func (s *ApplicationService) UpdateStatus(ctx context.Context, actor models.Actor, id, status, note string) (*models.LoanApplication, error) {
	if !slices.Contains([]string{models.ApplicationStatusProcessing, models.ApplicationStatusApproved, models.ApplicationStatusRejected, models.ApplicationStatusCancelled}, status) {
		return nil, apperror.FieldInvalid("status", "Status must be processing, approved, rejected or cancelled")
	}

	switch status {
	case models.ApplicationStatusProcessing:
		if !actor.IsOfficer() {
			return nil, apperror.Forbidden("")
		}
	case models.ApplicationStatusApproved, models.ApplicationStatusRejected:
		if !actor.CanApprove() {
			return nil, apperror.Forbidden("Approval requires the loan_officer_approval role or higher")
		}
	}

	app, err := s.edit(ctx, actor, id, "application."+verbFor(status), func(_ repository.Store, a *models.LoanApplication) (string, error) {
		if !models.ApplicationMachine.Can(a.Status, status) {
			return "", apperror.InvalidTransition("application", a.Status, status)
		}
		if status == models.ApplicationStatusCancelled && !actor.IsOfficer() && a.Status == models.ApplicationStatusProcessing {
			return "", apperror.Forbidden("Application is under review and can only be cancelled by an officer")
		}

		now := s.now()
		a.Status = status
		switch status {
		case models.ApplicationStatusProcessing:
			a.ProcessedBy = sql.NullString{String: actor.ID, Valid: true}
		case models.ApplicationStatusApproved, models.ApplicationStatusRejected:
			a.ReviewedBy = sql.NullString{String: actor.ID, Valid: true}
			a.DecidedAt = sql.NullTime{Time: now, Valid: true}
		case models.ApplicationStatusCancelled:
			a.DecidedAt = sql.NullTime{Time: now, Valid: true}
		}

		if strings.TrimSpace(note) == "" {
			note = "Status changed to " + status
		}
		return strings.TrimSpace(note), nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyApplication(ctx, app)
	return app, nil
}

func verbFor(status string) string {
	switch status {
	case models.ApplicationStatusProcessing:
		return "process"
	case models.ApplicationStatusApproved:
		return "approve"
	case models.ApplicationStatusRejected:
		return "reject"
	case models.ApplicationStatusCancelled:
		return "cancel"
	}
	return status
}

func (s *ApplicationService) notifyApplication(ctx context.Context, a *models.LoanApplication) {
	s.notifyUser(ctx, a.CustomerID, notify.Notification{
		Event: "application." + a.Status,
		Data: eventData(
			"Your loan application "+a.ApplicationNo,
			"There is an update on your loan application.",
			a.ApplicationNo, a.Status, a.RequestedAmount, a.Currency,
		),
	})
}

func (s *ApplicationService) AddAttachment(ctx context.Context, actor models.Actor, id, handle string) (*models.LoanApplication, error) {
	if strings.TrimSpace(handle) == "" {
		return nil, apperror.FieldInvalid("handle", "Attachment handle is required")
	}
	return s.edit(ctx, actor, id, "application.attachment_add", func(_ repository.Store, a *models.LoanApplication) (string, error) {
		if models.ApplicationMachine.Terminal(a.Status) {
			return "", apperror.InvalidState("application is " + a.Status)
		}
		if !slices.Contains(a.Attachments, handle) {
			a.Attachments = append(a.Attachments, handle)
		}
		return "", nil
	})
}

func (s *ApplicationService) RemoveAttachment(ctx context.Context, actor models.Actor, id, handle string) (*models.LoanApplication, error) {
	return s.edit(ctx, actor, id, "application.attachment_remove", func(_ repository.Store, a *models.LoanApplication) (string, error) {
		if models.ApplicationMachine.Terminal(a.Status) {
			return "", apperror.InvalidState("application is " + a.Status)
		}
		i := slices.Index(a.Attachments, handle)
		if i < 0 {
			return "", apperror.NotFound("attachment")
		}
		a.Attachments = slices.Delete(a.Attachments, i, i+1)
		return "", nil
	})
}
