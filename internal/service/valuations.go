package service

import (
	"context"
	"database/sql"
	"slices"
	"strings"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/money"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/cradoe/pawnbroker/internal/validator"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Assets in these statuses can be sent for valuation.
var valuableAssetStatuses = []string{models.AssetStatusSubmitted, models.AssetStatusValuating, models.AssetStatusActive, models.AssetStatusRedeemed}

type ValuationService struct {
	*core
}

type ValuationRequestInput struct {
	AssetID           string           `json:"asset_id"`
	DesiredLoanAmount *decimal.Decimal `json:"desired_loan_amount"`
	Comments          string           `json:"comments"`
	Attachments       []string         `json:"attachments"`
}

// Request opens a market-stage valuation and moves the asset to valuating.
func (s *ValuationService) Request(ctx context.Context, actor models.Actor, in ValuationRequestInput) (*models.AssetValuation, error) {
	if !actor.IsOfficer() {
		return nil, apperror.Forbidden("")
	}
	if in.DesiredLoanAmount != nil && !in.DesiredLoanAmount.IsPositive() {
		return nil, apperror.FieldInvalid("desired_loan_amount", "Desired loan amount must be positive")
	}

	now := s.now()
	val := &models.AssetValuation{
		AssetID:     in.AssetID,
		Stage:       models.ValuationStageMarket,
		Status:      models.ValuationStatusRequested,
		RequestedBy: actor.ID,
		Comments:    strings.TrimSpace(in.Comments),
		Attachments: pq.StringArray(append([]string{}, in.Attachments...)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.DesiredLoanAmount != nil {
		val.DesiredLoanAmount = decimal.NewNullDecimal(*in.DesiredLoanAmount)
	}

	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		asset, found, err := st.Asset().GetForUpdate(ctx, in.AssetID)
		if err != nil {
			return err
		}
		if !found {
			return apperror.NotFound("asset")
		}
		if !slices.Contains(valuableAssetStatuses, asset.Status) {
			return apperror.InvalidState("asset in status " + asset.Status + " cannot be valued")
		}

		open, err := s.openFor(ctx, st, asset.ID)
		if err != nil {
			return err
		}
		if open {
			return apperror.Duplicate("asset already has an open valuation")
		}

		val.Currency = asset.Currency
		if _, err := s.moveAsset(ctx, st, asset.ID, models.AssetStatusValuating, keepLoan, ""); err != nil {
			return err
		}
		if err := st.Valuation().Insert(ctx, val); err != nil {
			return err
		}
		return s.record(ctx, st, actor, change{Action: "valuation.request", EntityType: models.EntityValuation, EntityID: val.ID, After: val, Meta: models.Meta{"asset_id": asset.ID}})
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *ValuationService) openFor(ctx context.Context, st repository.Store, assetID string) (bool, error) {
	list, _, err := st.Valuation().List(ctx, models.ValuationFilter{AssetID: assetID, Limit: 1000})
	if err != nil {
		return false, err
	}
	for _, v := range list {
		if !models.ValuationMachine.Terminal(v.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (s *ValuationService) Get(ctx context.Context, actor models.Actor, id string) (*models.AssetValuation, error) {
	if !actor.IsStaff() {
		return nil, apperror.Forbidden("")
	}
	v, found, err := s.DB.Valuation().GetOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("valuation")
	}
	return v, nil
}

func (s *ValuationService) List(ctx context.Context, actor models.Actor, filter models.ValuationFilter) ([]models.AssetValuation, int, error) {
	if !actor.IsStaff() {
		return nil, 0, apperror.Forbidden("")
	}
	filter.Limit, filter.Offset = pageOf(filter.Limit, filter.Offset)
	return s.DB.Valuation().List(ctx, filter)
}

// edit locks a non-terminal valuation, applies fn and journals it.
func (s *ValuationService) edit(ctx context.Context, actor models.Actor, id, action string, fn func(st repository.Store, v *models.AssetValuation) (models.Meta, error)) (*models.AssetValuation, error) {
	if !actor.IsOfficer() {
		return nil, apperror.Forbidden("")
	}

	var out *models.AssetValuation
	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		v, found, err := st.Valuation().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperror.NotFound("valuation")
		}
		if models.ValuationMachine.Terminal(v.Status) {
			return apperror.InvalidState("valuation is " + v.Status + " and can no longer change")
		}

		before := *v
		meta, err := fn(st, v)
		if err != nil {
			return err
		}
		v.UpdatedAt = s.now()
		if err := st.Valuation().Update(ctx, v); err != nil {
			return err
		}
		out = v
		return s.record(ctx, st, actor, change{Action: action, EntityType: models.EntityValuation, EntityID: v.ID, Before: &before, After: v, Meta: meta})
	})
	return out, err
}

type ValuationUpdateInput struct {
	EstimatedMarketValue *decimal.Decimal    `json:"estimated_market_value"`
	DesiredLoanAmount    *decimal.Decimal    `json:"desired_loan_amount"`
	AssessmentDate       *time.Time          `json:"assessment_date"`
	Comments             *string             `json:"comments"`
	CreditCheck          *models.CreditCheck `json:"credit_check"`
	Attachments          []string            `json:"attachments"`
}

func (s *ValuationService) Update(ctx context.Context, actor models.Actor, id string, in ValuationUpdateInput) (*models.AssetValuation, error) {
	return s.edit(ctx, actor, id, "valuation.update", func(st repository.Store, v *models.AssetValuation) (models.Meta, error) {
		if in.EstimatedMarketValue != nil {
			if !in.EstimatedMarketValue.IsPositive() {
				return nil, apperror.FieldInvalid("estimated_market_value", "Market value must be positive")
			}
			if err := s.setMarketValue(ctx, st, v, *in.EstimatedMarketValue); err != nil {
				return nil, err
			}
		}
		if in.DesiredLoanAmount != nil {
			if !in.DesiredLoanAmount.IsPositive() {
				return nil, apperror.FieldInvalid("desired_loan_amount", "Desired loan amount must be positive")
			}
			v.DesiredLoanAmount = decimal.NewNullDecimal(*in.DesiredLoanAmount)
		}
		if in.AssessmentDate != nil {
			v.AssessmentDate = sql.NullTime{Time: *in.AssessmentDate, Valid: true}
		}
		if in.Comments != nil {
			v.Comments = strings.TrimSpace(*in.Comments)
		}
		if in.CreditCheck != nil {
			v.CreditCheck = models.NewJSON(in.CreditCheck)
		}
		if in.Attachments != nil {
			v.Attachments = pq.StringArray(in.Attachments)
		}
		return nil, nil
	})
}

// setMarketValue records the market value and derives the loan value from the
// asset category's loan-to-value rate.
func (s *ValuationService) setMarketValue(ctx context.Context, st repository.Store, v *models.AssetValuation, market decimal.Decimal) error {
	asset, found, err := st.Asset().GetOne(ctx, v.AssetID)
	if err != nil {
		return err
	}
	if !found {
		return apperror.NotFound("asset")
	}
	v.EstimatedMarketValue = decimal.NewNullDecimal(money.Round2(market))
	v.EstimatedLoanValue = decimal.NewNullDecimal(money.EstimatedLoanValue(asset.Category, market))
	return nil
}

// UpdateStatus starts or rejects a valuation. Completion goes through the
// stage-specific endpoints because it carries values.
func (s *ValuationService) UpdateStatus(ctx context.Context, actor models.Actor, id, status, comments string) (*models.AssetValuation, error) {
	if status == models.ValuationStatusCompleted {
		return nil, apperror.FieldInvalid("status", "Use complete-market or complete-final to complete a valuation")
	}

	action := "valuation.start"
	if status == models.ValuationStatusRejected {
		action = "valuation.reject"
	}

	return s.edit(ctx, actor, id, action, func(st repository.Store, v *models.AssetValuation) (models.Meta, error) {
		if !models.ValuationMachine.Can(v.Status, status) {
			return nil, apperror.InvalidTransition("valuation", v.Status, status)
		}
		v.Status = status
		if comments != "" {
			v.Comments = strings.TrimSpace(comments)
		}

		switch status {
		case models.ValuationStatusInProgress:
			v.ValuedBy = sql.NullString{String: actor.ID, Valid: true}
			if !v.AssessmentDate.Valid {
				v.AssessmentDate = sql.NullTime{Time: s.now(), Valid: true}
			}
		case models.ValuationStatusRejected:
			v.CompletedAt = sql.NullTime{Time: s.now(), Valid: true}
			asset, found, err := st.Asset().GetOne(ctx, v.AssetID)
			if err != nil {
				return nil, err
			}
			if found && asset.Status == models.AssetStatusValuating {
				if _, err := s.moveAsset(ctx, st, asset.ID, models.AssetStatusSubmitted, keepLoan, ""); err != nil {
					return nil, err
				}
				return models.Meta{"asset_status": models.AssetStatusSubmitted}, nil
			}
		}
		return nil, nil
	})
}

type MarketCompletionInput struct {
	EstimatedMarketValue decimal.Decimal     `json:"estimated_market_value"`
	Comments             string              `json:"comments"`
	CreditCheck          *models.CreditCheck `json:"credit_check"`
}

// CompleteMarket closes the market stage and opens the linked final stage.
func (s *ValuationService) CompleteMarket(ctx context.Context, actor models.Actor, id string, in MarketCompletionInput) (*models.AssetValuation, error) {
	if !in.EstimatedMarketValue.IsPositive() {
		return nil, apperror.FieldInvalid("estimated_market_value", "Market value must be positive")
	}

	return s.edit(ctx, actor, id, "valuation.complete_market", func(st repository.Store, v *models.AssetValuation) (models.Meta, error) {
		if v.Stage != models.ValuationStageMarket {
			return nil, apperror.InvalidState("valuation is not a market-stage valuation")
		}
		if !models.ValuationMachine.Can(v.Status, models.ValuationStatusCompleted) || v.Status != models.ValuationStatusInProgress {
			return nil, apperror.InvalidTransition("valuation", v.Status, models.ValuationStatusCompleted)
		}
		if err := s.setMarketValue(ctx, st, v, in.EstimatedMarketValue); err != nil {
			return nil, err
		}

		now := s.now()
		v.Status = models.ValuationStatusCompleted
		v.CompletedAt = sql.NullTime{Time: now, Valid: true}
		v.ValuedBy = sql.NullString{String: actor.ID, Valid: true}
		if in.Comments != "" {
			v.Comments = strings.TrimSpace(in.Comments)
		}
		if in.CreditCheck != nil {
			v.CreditCheck = models.NewJSON(in.CreditCheck)
		}

		final := &models.AssetValuation{
			AssetID:              v.AssetID,
			ParentID:             sql.NullString{String: v.ID, Valid: true},
			Stage:                models.ValuationStageFinal,
			Status:               models.ValuationStatusRequested,
			RequestedBy:          actor.ID,
			EstimatedMarketValue: v.EstimatedMarketValue,
			EstimatedLoanValue:   v.EstimatedLoanValue,
			DesiredLoanAmount:    v.DesiredLoanAmount,
			Currency:             v.Currency,
			CreditCheck:          v.CreditCheck,
			Attachments:          pq.StringArray{},
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := st.Valuation().Insert(ctx, final); err != nil {
			return nil, err
		}
		return models.Meta{"final_valuation_id": final.ID}, nil
	})
}

type FinalCompletionInput struct {
	FinalValue        decimal.Decimal  `json:"final_value"`
	DesiredLoanAmount *decimal.Decimal `json:"desired_loan_amount"`
	Comments          string           `json:"comments"`
}

// CompleteFinal writes the final value onto the asset and makes it active.
func (s *ValuationService) CompleteFinal(ctx context.Context, actor models.Actor, id string, in FinalCompletionInput) (*models.AssetValuation, error) {
	return s.edit(ctx, actor, id, "valuation.complete_final", func(st repository.Store, v *models.AssetValuation) (models.Meta, error) {
		if v.Stage != models.ValuationStageFinal {
			return nil, apperror.InvalidState("valuation is not a final-stage valuation")
		}
		if v.Status != models.ValuationStatusInProgress {
			return nil, apperror.InvalidTransition("valuation", v.Status, models.ValuationStatusCompleted)
		}

		if in.DesiredLoanAmount != nil {
			v.DesiredLoanAmount = decimal.NewNullDecimal(*in.DesiredLoanAmount)
		}
		if strings.TrimSpace(in.Comments) != "" {
			v.Comments = strings.TrimSpace(in.Comments)
		}

		var val validator.Validator
		val.CheckField(in.FinalValue.IsPositive(), "final_value", "Final value must be positive")
		val.CheckField(v.DesiredLoanAmount.Valid && v.DesiredLoanAmount.Decimal.IsPositive(), "desired_loan_amount", "Desired loan amount is required for a final valuation")
		val.CheckField(v.Comments != "", "comments", "Comments are required for a final valuation")
		if err := val.Err(); err != nil {
			return nil, err
		}

		final := money.Round2(in.FinalValue)
		v.FinalValue = decimal.NewNullDecimal(final)
		v.Status = models.ValuationStatusCompleted
		v.CompletedAt = sql.NullTime{Time: s.now(), Valid: true}
		v.ValuedBy = sql.NullString{String: actor.ID, Valid: true}

		asset, err := s.moveAsset(ctx, st, v.AssetID, models.AssetStatusActive, keepLoan, "")
		if err != nil {
			return nil, err
		}
		asset.EvaluatedValue = decimal.NewNullDecimal(final)
		if err := st.Asset().Update(ctx, asset); err != nil {
			return nil, err
		}
		return models.Meta{"asset_id": asset.ID, "evaluated_value": final.String()}, nil
	})
}
