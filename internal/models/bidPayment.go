package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusInitiated = "initiated"
	PaymentStatusPending   = "pending"
	PaymentStatusSuccess   = "success"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
	PaymentStatusCancelled = "cancelled"
)

var PaymentMachine = Machine{
	PaymentStatusInitiated: {PaymentStatusPending, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusPending:   {PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusFailed:    {PaymentStatusPending, PaymentStatusCancelled},
	PaymentStatusSuccess:   {PaymentStatusRefunded},
}

// LivePaymentStatuses block a second payment from being opened for the same bid.
var LivePaymentStatuses = []string{PaymentStatusInitiated, PaymentStatusPending, PaymentStatusSuccess}

const (
	PaymentMethodEcocash  = "ecocash"
	PaymentMethodOneMoney = "onemoney"
	PaymentMethodTelecash = "telecash"
	PaymentMethodCard     = "card"
	PaymentMethodBank     = "bank_transfer"
)

type PaymentMethod struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Mobile        bool   `json:"mobile"`
	RequiresPhone bool   `json:"requires_phone"`
}

var PaymentMethods = []PaymentMethod{
	{Code: PaymentMethodEcocash, Name: "EcoCash", Mobile: true, RequiresPhone: true},
	{Code: PaymentMethodOneMoney, Name: "OneMoney", Mobile: true, RequiresPhone: true},
	{Code: PaymentMethodTelecash, Name: "Telecash", Mobile: true, RequiresPhone: true},
	{Code: PaymentMethodCard, Name: "Card (web checkout)"},
	{Code: PaymentMethodBank, Name: "Bank transfer (web checkout)"},
}

// LookupPaymentMethod finds a supported method by code.
func LookupPaymentMethod(code string) (PaymentMethod, bool) {
	for _, m := range PaymentMethods {
		if m.Code == code {
			return m, true
		}
	}
	return PaymentMethod{}, false
}

const ProviderPaynow = "paynow"

type BidPayment struct {
	ID            string          `db:"id" json:"id"`
	BidID         string          `db:"bid_id" json:"bid_id"`
	AuctionID     string          `db:"auction_id" json:"auction_id"`
	PayerID       string          `db:"payer_id" json:"payer_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Currency      string          `db:"currency" json:"currency"`
	Status        string          `db:"status" json:"status"`
	Method        string          `db:"method" json:"method"`
	Provider      string          `db:"provider" json:"provider"`
	ProviderTxnID sql.NullString  `db:"provider_txn_id" json:"provider_txn_id"`
	PollURL       sql.NullString  `db:"poll_url" json:"poll_url"`
	PayerPhone    sql.NullString  `db:"payer_phone" json:"payer_phone"`
	RedirectURL   sql.NullString  `db:"redirect_url" json:"redirect_url"`
	Instructions  sql.NullString  `db:"instructions" json:"instructions"`
	ReceiptNo     string          `db:"receipt_no" json:"receipt_no"`
	Meta          JSON[Meta]      `db:"meta" json:"meta"`
	CreatedBy     string          `db:"created_by" json:"created_by"`
	PaidAt        sql.NullTime    `db:"paid_at" json:"paid_at"`
	RefundedAt    sql.NullTime    `db:"refunded_at" json:"refunded_at"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// BidPaymentStatusFor mirrors a payment status onto the bid's payment_status.
func BidPaymentStatusFor(paymentStatus string) string {
	switch paymentStatus {
	case PaymentStatusInitiated, PaymentStatusPending:
		return BidPaymentPending
	case PaymentStatusSuccess:
		return BidPaymentPaid
	case PaymentStatusFailed:
		return BidPaymentFailed
	case PaymentStatusRefunded:
		return BidPaymentRefunded
	case PaymentStatusCancelled:
		return BidPaymentCancelled
	}
	return BidPaymentUnpaid
}

type BidPaymentFilter struct {
	AuctionID string
	BidID     string
	PayerID   string
	Status    string
	Method    string
	Limit     int
	Offset    int
}
