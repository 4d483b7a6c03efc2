package gateway

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/shopspring/decimal"
)

const (
	DefaultPaynowBaseURL = "https://www.paynow.co.zw"
	DefaultTimeout       = 15 * time.Second

	initiatePath = "/interface/initiatetransaction"
	remotePath   = "/interface/remotetransaction"
)

type PaynowConfig struct {
	BaseURL        string
	IntegrationID  string
	IntegrationKey string
	ResultURL      string
	ReturnURL      string
	Timeout        time.Duration
	Logger         *slog.Logger
}

// Paynow talks to the Paynow form-encoded API. Mobile-money methods use the
// remote (express) flow; everything else gets a browser redirect.
type Paynow struct {
	cfg    PaynowConfig
	client *http.Client
}

func NewPaynow(cfg PaynowConfig) *Paynow {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPaynowBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Paynow{cfg: cfg, client: &http.Client{}}
}

func (p *Paynow) Name() string {
	return "paynow"
}

var mobileMethods = map[string]bool{"ecocash": true, "onemoney": true, "telecash": true}

// field keeps request order, which the hash depends on.
type field struct {
	key, value string
}

func (p *Paynow) hash(fields []field) string {
	var b strings.Builder
	for _, f := range fields {
		if strings.EqualFold(f.key, "hash") {
			continue
		}
		b.WriteString(f.value)
	}
	b.WriteString(p.cfg.IntegrationKey)
	sum := sha512.Sum512([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func (p *Paynow) post(ctx context.Context, endpoint string, fields []field) (url.Values, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	form := url.Values{}
	for _, f := range fields {
		form.Set(f.key, f.value)
	}
	if len(fields) > 0 {
		form.Set("hash", p.hash(fields))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("paynow responded %d", res.StatusCode)
	}

	return url.ParseQuery(string(body))
}

func (p *Paynow) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	fields := []field{
		{"id", p.cfg.IntegrationID},
		{"reference", req.Reference},
		{"amount", req.Amount.StringFixed(2)},
		{"additionalinfo", req.Description},
		{"returnurl", p.cfg.ReturnURL},
		{"resulturl", p.cfg.ResultURL},
		{"authemail", req.PayerEmail},
		{"status", "Message"},
	}

	endpoint := p.cfg.BaseURL + initiatePath
	if mobileMethods[req.Method] {
		fields = append(fields, field{"phone", req.Phone}, field{"method", req.Method})
		endpoint = p.cfg.BaseURL + remotePath
	}

	values, err := p.post(ctx, endpoint, fields)
	if err != nil {
		return nil, apperror.Upstream("payment gateway unavailable", err)
	}

	if !strings.EqualFold(values.Get("status"), "ok") {
		msg := values.Get("error")
		if msg == "" {
			msg = "payment gateway rejected the request"
		}
		return &InitiateResult{Success: false, Error: msg}, nil
	}

	if err := p.verify(values); err != nil {
		return nil, apperror.Upstream("payment gateway response failed verification", err)
	}

	return &InitiateResult{
		Success:      true,
		RedirectURL:  values.Get("browserurl"),
		PollURL:      values.Get("pollurl"),
		Reference:    values.Get("paynowreference"),
		Instructions: values.Get("instructions"),
	}, nil
}

func (p *Paynow) Poll(ctx context.Context, pollURL string) (*PollResult, error) {
	values, err := p.post(ctx, pollURL, nil)
	if err != nil {
		return nil, apperror.Upstream("payment status check failed", err)
	}
	if err := p.verify(values); err != nil {
		return nil, apperror.Upstream("payment status failed verification", err)
	}

	return &PollResult{
		Status:    values.Get("status"),
		Amount:    parseAmount(values.Get("amount")),
		Method:    values.Get("method"),
		Reference: values.Get("paynowreference"),
	}, nil
}

// Refund has no Paynow API; reversals are settled by the finance desk. The
// request is accepted and flagged as manual so the payment can be reconciled.
func (p *Paynow) Refund(_ context.Context, reference string) (*RefundResult, error) {
	p.cfg.Logger.Warn("paynow refund needs manual settlement", "reference", reference)
	return &RefundResult{
		Success: true,
		Manual:  true,
		Message: fmt.Sprintf("refund for %s queued for manual settlement", reference),
	}, nil
}

// HandleCallback accepts both the Paynow result post (reference, status,
// pollurl, paynowreference, amount, hash) and the short JSON shape
// (reference, status, pollUrl, amount, method).
func (p *Paynow) HandleCallback(_ context.Context, fields map[string]string) (*Callback, error) {
	if fields["hash"] != "" {
		values := url.Values{}
		for k, v := range fields {
			values.Set(k, v)
		}
		if err := p.verify(values); err != nil {
			return nil, apperror.Validation("invalid callback signature")
		}
	}

	cb := &Callback{
		Reference: fields["reference"],
		Status:    fields["status"],
		PollURL:   firstNonEmpty(fields["pollurl"], fields["pollUrl"]),
		Amount:    parseAmount(fields["amount"]),
		Method:    fields["method"],
	}
	if cb.Reference == "" {
		cb.Reference = fields["paynowreference"]
	}
	if cb.Reference == "" {
		return nil, apperror.FieldInvalid("reference", "reference is required")
	}
	return cb, nil
}

// verify checks the response hash. Responses are hashed over their values in
// the order Paynow sends them, which url.Values loses, so the canonical
// order for status responses is used.
func (p *Paynow) verify(values url.Values) error {
	got := values.Get("hash")
	if got == "" || p.cfg.IntegrationKey == "" {
		return nil
	}

	order := []string{"reference", "paynowreference", "amount", "status", "pollurl", "browserurl", "instructions", "method"}
	var fields []field
	for _, k := range order {
		if v, ok := values[k]; ok {
			fields = append(fields, field{k, v[0]})
		}
	}
	if !strings.EqualFold(p.hash(fields), got) {
		return fmt.Errorf("hash mismatch")
	}
	return nil
}

func parseAmount(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
