package models

import (
	"database/sql"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DisputeStatusNone            = "none"
	DisputeStatusRaised          = "raised"
	DisputeStatusUnderReview     = "under_review"
	DisputeStatusResolvedValid   = "resolved_valid"
	DisputeStatusResolvedInvalid = "resolved_invalid"
)

var DisputeMachine = Machine{
	DisputeStatusNone:        {DisputeStatusRaised},
	DisputeStatusRaised:      {DisputeStatusUnderReview},
	DisputeStatusUnderReview: {DisputeStatusResolvedValid, DisputeStatusResolvedInvalid},
}

// BlockingDisputeStatuses stop any money movement on the bid.
var BlockingDisputeStatuses = []string{DisputeStatusRaised, DisputeStatusUnderReview, DisputeStatusResolvedInvalid}

// OpenDisputeStatuses stop the bidder from placing further bids on the auction.
var OpenDisputeStatuses = []string{DisputeStatusRaised, DisputeStatusUnderReview}

const (
	BidPaymentUnpaid    = "unpaid"
	BidPaymentPending   = "pending"
	BidPaymentPaid      = "paid"
	BidPaymentFailed    = "failed"
	BidPaymentRefunded  = "refunded"
	BidPaymentCancelled = "cancelled"
)

type Dispute struct {
	Status     string     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	RaisedBy   string     `json:"raised_by,omitempty"`
	RaisedAt   *time.Time `json:"raised_at,omitempty"`
	ReviewedBy string     `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	Resolution string     `json:"resolution,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

type Bid struct {
	ID               string          `db:"id" json:"id"`
	AuctionID        string          `db:"auction_id" json:"auction_id"`
	BidderID         string          `db:"bidder_id" json:"bidder_id"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Currency         string          `db:"currency" json:"currency"`
	PlacedAt         time.Time       `db:"placed_at" json:"placed_at"`
	Dispute          JSON[Dispute]   `db:"dispute" json:"dispute"`
	PaymentStatus    string          `db:"payment_status" json:"payment_status"`
	PaidAmount       decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	PaidAt           sql.NullTime    `db:"paid_at" json:"paid_at"`
	PaymentReference sql.NullString  `db:"payment_reference" json:"payment_reference"`
}

// DisputeBlocksSettlement reports whether the bid's dispute state forbids money movement.
func (b *Bid) DisputeBlocksSettlement() bool {
	return slices.Contains(BlockingDisputeStatuses, b.Dispute.V.Status)
}

func (b *Bid) DisputeOpen() bool {
	return slices.Contains(OpenDisputeStatuses, b.Dispute.V.Status)
}

// Outbids orders bids for winner selection: higher amount, then earlier placement, then lower id.
func (b *Bid) Outbids(other *Bid) bool {
	if c := b.Amount.Cmp(other.Amount); c != 0 {
		return c > 0
	}
	if !b.PlacedAt.Equal(other.PlacedAt) {
		return b.PlacedAt.Before(other.PlacedAt)
	}
	return b.ID < other.ID
}
