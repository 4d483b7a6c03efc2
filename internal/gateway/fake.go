package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Fake is an in-memory gateway. Poll answers come from a per-URL queue; the
// last answer repeats once the queue is drained.
type Fake struct {
	mu sync.Mutex

	InitiateResult *InitiateResult
	InitiateErr    error
	PollErr        error
	RefundResult   *RefundResult
	RefundErr      error

	polls     map[string][]string
	Initiated []InitiateRequest
	Polled    []string
	Refunded  []string
}

func NewFake() *Fake {
	return &Fake{polls: map[string][]string{}}
}

func (f *Fake) Name() string {
	return "paynow"
}

// QueuePoll appends provider status texts returned by successive polls of url.
func (f *Fake) QueuePoll(url string, statuses ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.polls[url] = append(f.polls[url], statuses...)
}

func (f *Fake) Initiate(_ context.Context, req InitiateRequest) (*InitiateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Initiated = append(f.Initiated, req)
	if f.InitiateErr != nil {
		return nil, f.InitiateErr
	}
	if f.InitiateResult != nil {
		res := *f.InitiateResult
		return &res, nil
	}
	return &InitiateResult{
		Success:   true,
		PollURL:   fmt.Sprintf("https://gateway.test/poll/%s", req.Reference),
		Reference: "PN-" + req.Reference,
	}, nil
}

func (f *Fake) Poll(_ context.Context, pollURL string) (*PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Polled = append(f.Polled, pollURL)
	if f.PollErr != nil {
		return nil, f.PollErr
	}

	queue := f.polls[pollURL]
	status := "Sent"
	if len(queue) > 0 {
		status = queue[0]
		if len(queue) > 1 {
			f.polls[pollURL] = queue[1:]
		}
	}
	return &PollResult{Status: status}, nil
}

func (f *Fake) Refund(_ context.Context, reference string) (*RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Refunded = append(f.Refunded, reference)
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	if f.RefundResult != nil {
		res := *f.RefundResult
		return &res, nil
	}
	return &RefundResult{Success: true}, nil
}

func (f *Fake) HandleCallback(_ context.Context, fields map[string]string) (*Callback, error) {
	cb := &Callback{
		Reference: fields["reference"],
		Status:    fields["status"],
		PollURL:   firstNonEmpty(fields["pollurl"], fields["pollUrl"]),
		Method:    fields["method"],
	}
	if a, err := decimal.NewFromString(fields["amount"]); err == nil {
		cb.Amount = decimal.NewNullDecimal(a)
	}
	return cb, nil
}
