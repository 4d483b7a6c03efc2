package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

const (
	AuctionStatusDraft     = "draft"
	AuctionStatusLive      = "live"
	AuctionStatusClosed    = "closed"
	AuctionStatusCancelled = "cancelled"
)

var AuctionMachine = Machine{
	AuctionStatusDraft:     {AuctionStatusLive, AuctionStatusCancelled},
	AuctionStatusLive:      {AuctionStatusClosed, AuctionStatusCancelled},
	AuctionStatusCancelled: {AuctionStatusDraft},
}

const (
	AuctionTypeOnline   = "online"
	AuctionTypeInPerson = "in_person"
)

var AuctionTypes = []string{AuctionTypeOnline, AuctionTypeInPerson}

type AuctionMeta struct {
	PaymentReceived   bool       `json:"payment_received"`
	PaymentReceivedAt *time.Time `json:"payment_received_at,omitempty"`
	PaymentID         string     `json:"payment_id,omitempty"`
	ReserveMet        *bool      `json:"reserve_met,omitempty"`
	CancelReason      string     `json:"cancel_reason,omitempty"`
}

type Auction struct {
	ID               string              `db:"id" json:"id"`
	AuctionNo        string              `db:"auction_no" json:"auction_no"`
	AssetID          string              `db:"asset_id" json:"asset_id"`
	LoanID           sql.NullString      `db:"loan_id" json:"loan_id"`
	Title            string              `db:"title" json:"title"`
	Description      string              `db:"description" json:"description"`
	StartingBid      decimal.Decimal     `db:"starting_bid" json:"starting_bid"`
	ReservePrice     decimal.NullDecimal `db:"reserve_price" json:"reserve_price"`
	Currency         string              `db:"currency" json:"currency"`
	AuctionType      string              `db:"auction_type" json:"auction_type"`
	StartsAt         time.Time           `db:"starts_at" json:"starts_at"`
	EndsAt           time.Time           `db:"ends_at" json:"ends_at"`
	Status           string              `db:"status" json:"status"`
	WinnerID         sql.NullString      `db:"winner_id" json:"winner_id"`
	WinningBidID     sql.NullString      `db:"winning_bid_id" json:"winning_bid_id"`
	WinningBidAmount decimal.NullDecimal `db:"winning_bid_amount" json:"winning_bid_amount"`
	Meta             JSON[AuctionMeta]   `db:"meta" json:"meta"`
	CreatedBy        string              `db:"created_by" json:"created_by"`
	ClosedAt         sql.NullTime        `db:"closed_at" json:"closed_at"`
	CreatedAt        time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updated_at"`
}

// AcceptsBidsAt reports whether the auction is live and at falls within its window.
func (a *Auction) AcceptsBidsAt(at time.Time) bool {
	return a.Status == AuctionStatusLive && !at.Before(a.StartsAt) && !at.After(a.EndsAt)
}

type AuctionFilter struct {
	AssetID     string
	Status      string
	Statuses    []string
	AuctionType string
	Search      string
	StartsAfter *time.Time
	EndsBefore  *time.Time
	Limit       int
	Offset      int
}
