package gateway

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStatus(t *testing.T) {
	cases := map[string]string{
		"Paid":              StatusSuccess,
		"Awaiting Delivery": StatusPending,
		"Delivered":         StatusPending,
		"completed":         StatusSuccess,
		"Cancelled":         StatusCancelled,
		"Failed":            StatusFailed,
		"Sent":              StatusPending,
		"Created":           StatusPending,
		"":                  StatusPending,
		// first rule wins
		"Payment failed but paid": StatusSuccess,
		"PENDING":                 StatusPending,
	}

	for text, want := range cases {
		assert.Equal(t, want, MapStatus(text), text)
	}
}

func TestPaynowInitiateMobile(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, remotePath, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		got, _ = url.ParseQuery(string(body))

		_, _ = w.Write([]byte("status=Ok&pollurl=" + url.QueryEscape("https://paynow.test/poll/1") + "&instructions=Dial+*151%23&paynowreference=123"))
	}))
	defer srv.Close()

	p := NewPaynow(PaynowConfig{BaseURL: srv.URL, IntegrationID: "42", ResultURL: "https://api.test/webhook"})
	res, err := p.Initiate(context.Background(), InitiateRequest{
		Reference: "BIDPAY-250115-0042",
		Amount:    decimal.NewFromInt(700),
		Method:    "ecocash",
		Phone:     "263771234567",
	})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "https://paynow.test/poll/1", res.PollURL)
	assert.Equal(t, "123", res.Reference)
	assert.Equal(t, "Dial *151#", res.Instructions)

	assert.Equal(t, "700.00", got.Get("amount"))
	assert.Equal(t, "263771234567", got.Get("phone"))
	assert.Equal(t, "ecocash", got.Get("method"))
	assert.NotEmpty(t, got.Get("hash"))
}

func TestPaynowInitiateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("status=Error&error=Invalid+amount"))
	}))
	defer srv.Close()

	res, err := NewPaynow(PaynowConfig{BaseURL: srv.URL}).Initiate(context.Background(), InitiateRequest{Method: "card"})

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid amount", res.Error)
}

func TestPaynowPollTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewPaynow(PaynowConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := p.Poll(context.Background(), srv.URL+"/poll")

	assert.ErrorIs(t, err, apperror.ErrUpstream)
}

func TestPaynowHandleCallbackShortShape(t *testing.T) {
	p := NewPaynow(PaynowConfig{})
	cb, err := p.HandleCallback(context.Background(), map[string]string{
		"reference": "BIDPAY-250115-0042",
		"status":    "Paid",
		"pollUrl":   "https://paynow.test/poll/1",
		"amount":    "700",
	})

	require.NoError(t, err)
	assert.Equal(t, "BIDPAY-250115-0042", cb.Reference)
	assert.Equal(t, "https://paynow.test/poll/1", cb.PollURL)
	assert.True(t, cb.Amount.Valid)

	_, err = p.HandleCallback(context.Background(), map[string]string{"status": "Paid"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestPaynowHashRoundTrip(t *testing.T) {
	p := NewPaynow(PaynowConfig{IntegrationKey: "secret"})
	fields := []field{{"reference", "R1"}, {"amount", "10.00"}, {"status", "Paid"}}

	values := url.Values{}
	for _, f := range fields {
		values.Set(f.key, f.value)
	}
	values.Set("hash", p.hash(fields))
	require.NoError(t, p.verify(values))

	values.Set("status", "Cancelled")
	assert.Error(t, p.verify(values))
}

func TestPaynowRefundIsManual(t *testing.T) {
	var logs bytes.Buffer
	p := NewPaynow(PaynowConfig{Logger: slog.New(slog.NewTextHandler(&logs, nil))})

	res, err := p.Refund(context.Background(), "PN-BIDPAY-250115-0042")

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)
	assert.Contains(t, res.Message, "PN-BIDPAY-250115-0042")
	assert.Contains(t, logs.String(), "manual settlement")
	assert.Contains(t, logs.String(), "reference=PN-BIDPAY-250115-0042")
}

func TestFakePollQueue(t *testing.T) {
	f := NewFake()
	f.QueuePoll("P", "Awaiting Delivery", "Paid")

	r1, _ := f.Poll(context.Background(), "P")
	r2, _ := f.Poll(context.Background(), "P")
	r3, _ := f.Poll(context.Background(), "P")

	assert.Equal(t, "Awaiting Delivery", r1.Status)
	assert.Equal(t, "Paid", r2.Status)
	assert.Equal(t, "Paid", r3.Status)
}
