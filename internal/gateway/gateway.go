// Package gateway is the port to the external payment provider.
package gateway

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

type InitiateRequest struct {
	Reference   string
	Amount      decimal.Decimal
	PayerEmail  string
	Description string
	Method      string
	Phone       string
}

type InitiateResult struct {
	Success      bool
	RedirectURL  string
	PollURL      string
	Reference    string
	Instructions string
	Error        string
}

type PollResult struct {
	Status    string
	Amount    decimal.NullDecimal
	Method    string
	Reference string
}

type RefundResult struct {
	Success bool
	Message string
	// Manual is set when the provider cannot reverse funds and an operator
	// has to settle the refund outside the gateway.
	Manual bool
}

// Callback is an asynchronous status notification pushed by the provider.
type Callback struct {
	Reference string
	Status    string
	PollURL   string
	Amount    decimal.NullDecimal
	Method    string
}

type Gateway interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Poll(ctx context.Context, pollURL string) (*PollResult, error)
	Refund(ctx context.Context, reference string) (*RefundResult, error)
	HandleCallback(ctx context.Context, fields map[string]string) (*Callback, error)
}

// Internal payment statuses the provider text maps onto.
const (
	StatusPending   = "pending"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

var statusRules = []struct {
	needles []string
	status  string
}{
	{[]string{"paid", "completed"}, StatusSuccess},
	{[]string{"awaiting", "pending"}, StatusPending},
	{[]string{"cancel"}, StatusCancelled},
	{[]string{"fail"}, StatusFailed},
}

// MapStatus maps provider status text to an internal status by case-insensitive
// substring match. Rules are tried in order and the first hit wins; anything
// unrecognised is pending.
func MapStatus(text string) string {
	t := strings.ToLower(text)
	for _, rule := range statusRules {
		for _, needle := range rule.needles {
			if strings.Contains(t, needle) {
				return rule.status
			}
		}
	}
	return StatusPending
}
