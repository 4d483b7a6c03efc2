package service

import (
	"context"
	"database/sql"
	"slices"
	"strings"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/identifier"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/cradoe/pawnbroker/internal/validator"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type loanLink int

const (
	keepLoan loanLink = iota
	setLoan
	clearLoan
)

// moveAsset is the single path by which the valuation, loan and auction
// workflows push a derived status onto an asset, so the asset machine stays
// authoritative. Moving to the current status only touches the loan link.
func (c *core) moveAsset(ctx context.Context, st repository.Store, assetID, to string, link loanLink, loanID string) (*models.Asset, error) {
	a, found, err := st.Asset().GetForUpdate(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("asset")
	}

	if a.Status != to {
		if !models.AssetMachine.Can(a.Status, to) {
			return nil, apperror.InvalidTransition("asset", a.Status, to)
		}
		a.Status = to
	}

	switch link {
	case setLoan:
		a.ActiveLoanID = sql.NullString{String: loanID, Valid: true}
	case clearLoan:
		a.ActiveLoanID = sql.NullString{}
	}

	now := c.now()
	if a.Status == models.AssetStatusClosed && !a.ClosedAt.Valid {
		a.ClosedAt = sql.NullTime{Time: now, Valid: true}
	}
	a.UpdatedAt = now

	if !a.LoanLinkConsistent() {
		return nil, apperror.InvalidState("asset cannot carry an active loan in status " + a.Status)
	}
	if err := st.Asset().Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

type AssetService struct {
	*core
}

func canSeeAsset(actor models.Actor, a *models.Asset) bool {
	return actor.IsStaff() || a.OwnerID == actor.ID
}

type AssetInput struct {
	Category      string              `json:"category"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	OwnerID       string              `json:"owner_id"`
	DeclaredValue *decimal.Decimal    `json:"declared_value"`
	Currency      string              `json:"currency"`
	Details       models.AssetDetails `json:"details"`
	Attachments   []string            `json:"attachments"`
}

func (s *AssetService) Create(ctx context.Context, actor models.Actor, in AssetInput) (*models.Asset, error) {
	if !actor.IsStaff() || in.OwnerID == "" {
		in.OwnerID = actor.ID
	}

	var v validator.Validator
	v.CheckField(validator.PermittedValue(in.Category, models.AssetCategories...), "category", "Category must be electronics, vehicle or jewellery")
	v.CheckField(validator.NotBlank(in.Title), "title", "Title is required")
	v.CheckField(validator.MaxRunes(in.Title, 200), "title", "Title must not be more than 200 characters")
	v.CheckField(in.Details.MatchesCategory(in.Category), "details", "Details must contain exactly the sub-record for the asset category")
	if in.DeclaredValue != nil {
		v.CheckField(in.DeclaredValue.IsPositive(), "declared_value", "Declared value must be positive")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	asset := &models.Asset{
		Category:    in.Category,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		OwnerID:     in.OwnerID,
		SubmittedBy: actor.ID,
		Currency:    s.currency(in.Currency),
		Status:      models.AssetStatusSubmitted,
		Details:     models.NewJSON(in.Details),
		Attachments: pq.StringArray(append([]string{}, in.Attachments...)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.DeclaredValue != nil {
		asset.DeclaredValue = decimal.NewNullDecimal(*in.DeclaredValue)
	}

	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		if _, found, err := st.User().GetOne(ctx, asset.OwnerID); err != nil {
			return err
		} else if !found {
			return apperror.FieldInvalid("owner_id", "Owner does not exist")
		}

		_, err := s.IDs.Insert(ctx, identifier.Asset, func(no string) error {
			asset.AssetNo = no
			return st.Asset().Insert(ctx, asset)
		})
		if err != nil {
			return err
		}
		return s.record(ctx, st, actor, change{Action: "asset.create", EntityType: models.EntityAsset, EntityID: asset.ID, After: asset})
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

func (c *core) currency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return c.Config.Currency
	}
	return code
}

func (s *AssetService) Get(ctx context.Context, actor models.Actor, id string) (*models.Asset, error) {
	a, found, err := s.DB.Asset().GetOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("asset")
	}
	if !canSeeAsset(actor, a) {
		return nil, apperror.Forbidden("")
	}
	return a, nil
}

// List scopes customers to their own assets.
func (s *AssetService) List(ctx context.Context, actor models.Actor, filter models.AssetFilter) ([]models.Asset, int, error) {
	if !actor.IsStaff() {
		filter.OwnerID = actor.ID
	}
	if filter.Category != "" && !slices.Contains(models.AssetCategories, filter.Category) {
		return nil, 0, apperror.FieldInvalid("category", "Unknown asset category")
	}
	filter.Limit, filter.Offset = pageOf(filter.Limit, filter.Offset)
	return s.DB.Asset().List(ctx, filter)
}

func (s *AssetService) Search(ctx context.Context, actor models.Actor, q string, limit, offset int) ([]models.Asset, int, error) {
	if strings.TrimSpace(q) == "" {
		return nil, 0, apperror.FieldInvalid("q", "Search term is required")
	}
	return s.List(ctx, actor, models.AssetFilter{Search: strings.TrimSpace(q), Limit: limit, Offset: offset})
}

func (s *AssetService) ListByOwner(ctx context.Context, actor models.Actor, ownerID string, limit, offset int) ([]models.Asset, int, error) {
	if !actor.IsStaff() && ownerID != actor.ID {
		return nil, 0, apperror.Forbidden("")
	}
	return s.List(ctx, actor, models.AssetFilter{OwnerID: ownerID, Limit: limit, Offset: offset})
}

func (s *AssetService) Stats(ctx context.Context, actor models.Actor) (*models.AssetStats, error) {
	if !actor.IsStaff() {
		return nil, apperror.Forbidden("")
	}
	return s.DB.Asset().Stats(ctx)
}

// edit locks the asset, applies fn and journals the change as action.
func (s *AssetService) edit(ctx context.Context, actor models.Actor, id, action string, fn func(a *models.Asset) error) (*models.Asset, error) {
	var out *models.Asset
	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		a, found, err := st.Asset().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperror.NotFound("asset")
		}
		if !canSeeAsset(actor, a) {
			return apperror.Forbidden("")
		}
		if a.Status == models.AssetStatusClosed {
			return apperror.InvalidState("asset is closed")
		}

		before := *a
		if err := fn(a); err != nil {
			return err
		}
		a.UpdatedAt = s.now()
		if err := st.Asset().Update(ctx, a); err != nil {
			return err
		}
		out = a
		return s.record(ctx, st, actor, change{Action: action, EntityType: models.EntityAsset, EntityID: a.ID, Before: &before, After: a})
	})
	return out, err
}

type AssetUpdateInput struct {
	Category      *string              `json:"category"`
	Title         *string              `json:"title"`
	Description   *string              `json:"description"`
	DeclaredValue *decimal.Decimal     `json:"declared_value"`
	Details       *models.AssetDetails `json:"details"`
}

// UpdateAttributes never touches asset_no. Owners may edit only while the
// asset is still submitted; the category is fixed once valuation starts.
func (s *AssetService) UpdateAttributes(ctx context.Context, actor models.Actor, id string, in AssetUpdateInput) (*models.Asset, error) {
	return s.edit(ctx, actor, id, "asset.update", func(a *models.Asset) error {
		if !actor.IsStaff() && a.Status != models.AssetStatusSubmitted {
			return apperror.InvalidState("asset can only be edited while submitted")
		}
		if a.Status == models.AssetStatusSold {
			return apperror.InvalidState("a sold asset cannot be edited")
		}

		var v validator.Validator
		if in.Category != nil && *in.Category != a.Category {
			v.CheckField(a.Status == models.AssetStatusSubmitted, "category", "Category can only change while submitted")
			v.CheckField(validator.PermittedValue(*in.Category, models.AssetCategories...), "category", "Category must be electronics, vehicle or jewellery")
			a.Category = *in.Category
		}
		if in.Title != nil {
			v.CheckField(validator.NotBlank(*in.Title), "title", "Title is required")
			a.Title = strings.TrimSpace(*in.Title)
		}
		if in.Description != nil {
			a.Description = strings.TrimSpace(*in.Description)
		}
		if in.DeclaredValue != nil {
			v.CheckField(in.DeclaredValue.IsPositive(), "declared_value", "Declared value must be positive")
			a.DeclaredValue = decimal.NewNullDecimal(*in.DeclaredValue)
		}
		if in.Details != nil {
			a.Details = models.NewJSON(*in.Details)
		}
		v.CheckField(a.Details.V.MatchesCategory(a.Category), "details", "Details must contain exactly the sub-record for the asset category")
		return v.Err()
	})
}

// UpdateValuation lets an officer override the evaluated value directly.
func (s *AssetService) UpdateValuation(ctx context.Context, actor models.Actor, id string, value decimal.Decimal) (*models.Asset, error) {
	if !actor.IsOfficer() {
		return nil, apperror.Forbidden("")
	}
	if !value.IsPositive() {
		return nil, apperror.FieldInvalid("evaluated_value", "Evaluated value must be positive")
	}
	return s.edit(ctx, actor, id, "asset.valuation", func(a *models.Asset) error {
		if a.Status == models.AssetStatusSold {
			return apperror.InvalidState("a sold asset cannot be revalued")
		}
		a.EvaluatedValue = decimal.NewNullDecimal(value)
		return nil
	})
}

// UpdateStatus is the admin path. Targets owned by other workflows are refused.
func (s *AssetService) UpdateStatus(ctx context.Context, actor models.Actor, id, status, reason string) (*models.Asset, error) {
	if !actor.IsAdmin() {
		return nil, apperror.Forbidden("")
	}
	if !slices.Contains(models.AdminAssetStatuses, status) {
		return nil, apperror.FieldInvalid("status", "Status must be one of in_repair, active, overdue, pawned or closed")
	}

	action := "asset.status"
	if status == models.AssetStatusClosed {
		action = "asset.delete"
	}
	return s.adminMove(ctx, actor, id, status, action, reason)
}

// SoftDelete closes the asset; it is never removed.
func (s *AssetService) SoftDelete(ctx context.Context, actor models.Actor, id string) (*models.Asset, error) {
	if !actor.IsAdmin() {
		return nil, apperror.Forbidden("")
	}
	return s.adminMove(ctx, actor, id, models.AssetStatusClosed, "asset.delete", "")
}

func (s *AssetService) adminMove(ctx context.Context, actor models.Actor, id, status, action, reason string) (*models.Asset, error) {
	var out *models.Asset
	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		a, found, err := st.Asset().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperror.NotFound("asset")
		}
		if status == models.AssetStatusClosed && a.ActiveLoanID.Valid {
			return apperror.BusinessRule("asset cannot be closed while it secures an active loan")
		}
		if err := pledgeAllows(ctx, st, a, status); err != nil {
			return err
		}

		before := *a
		moved, err := s.moveAsset(ctx, st, a.ID, status, keepLoan, "")
		if err != nil {
			return err
		}
		out = moved

		var meta models.Meta
		if reason != "" {
			meta = models.Meta{"reason": reason}
		}
		return s.record(ctx, st, actor, change{Action: action, EntityType: models.EntityAsset, EntityID: a.ID, Before: &before, After: moved, Meta: meta})
	})
	return out, err
}

// pledgeAllows keeps an admin move in step with the loan the asset secures.
// A pledged asset may go into repair or back to the status its loan implies;
// an unpledged one cannot be marked pawned.
func pledgeAllows(ctx context.Context, st repository.Store, a *models.Asset, status string) error {
	l, found, err := st.Loan().GetOpenByAsset(ctx, a.ID)
	if err != nil {
		return err
	}
	if !found {
		if status == models.AssetStatusPawned {
			return apperror.BusinessRule("asset does not secure a loan")
		}
		return nil
	}

	follows, _ := models.AssetStatusForLoan(l.Status)
	if status == models.AssetStatusInRepair || status == follows {
		return nil
	}
	return apperror.BusinessRule("asset secures loan " + l.LoanNo + " (" + l.Status + "); it can only move to in_repair or " + follows)
}

func (s *AssetService) AddAttachment(ctx context.Context, actor models.Actor, id, handle string) (*models.Asset, error) {
	if strings.TrimSpace(handle) == "" {
		return nil, apperror.FieldInvalid("handle", "Attachment handle is required")
	}
	return s.edit(ctx, actor, id, "asset.attachment_add", func(a *models.Asset) error {
		if !slices.Contains(a.Attachments, handle) {
			a.Attachments = append(a.Attachments, handle)
		}
		return nil
	})
}

func (s *AssetService) RemoveAttachment(ctx context.Context, actor models.Actor, id, handle string) (*models.Asset, error) {
	return s.edit(ctx, actor, id, "asset.attachment_remove", func(a *models.Asset) error {
		i := slices.Index(a.Attachments, handle)
		if i < 0 {
			return apperror.NotFound("attachment")
		}
		a.Attachments = slices.Delete(a.Attachments, i, i+1)
		return nil
	})
}
