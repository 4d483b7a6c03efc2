package smtp

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cradoe/pawnbroker/assets"
	"github.com/cradoe/pawnbroker/internal/funcs"

	"github.com/wneessen/go-mail"

	htmlTemplate "html/template"
	textTemplate "text/template"
)

const (
	defaultTimeout = 10 * time.Second
	sendAttempts   = 3

	// DefaultTemplate renders the generic status-change notice.
	DefaultTemplate = "event.tmpl"
	templateDir     = "emails/"
	fallbackName    = "there"
)

var ErrUnknownTemplate = errors.New("unknown email template")

type MailClient interface {
	DialAndSend(...*mail.Msg) error
}

type MailerInterface interface {
	Send(recipient string, data any, patterns ...string) error
}

type emailTemplate struct {
	text *textTemplate.Template
	html *htmlTemplate.Template
}

type Mailer struct {
	client     MailClient
	from       string
	retryDelay time.Duration

	mu        sync.Mutex
	templates map[string]*emailTemplate
}

func NewMailer(host string, port int, username, password, from string) (*Mailer, error) {
	client, err := mail.NewClient(
		host,
		mail.WithTimeout(defaultTimeout),
		mail.WithPort(port),
		mail.WithUsername(username),
		mail.WithPassword(password),
		mail.WithTLSPolicy(mail.NoTLS),
	)
	if err != nil {
		return nil, err
	}

	return NewWithClient(client, from), nil
}

// NewWithClient builds a mailer over any client, used by tests.
func NewWithClient(client MailClient, from string) *Mailer {
	return &Mailer{
		client:     client,
		from:       from,
		retryDelay: 2 * time.Second,
		templates:  map[string]*emailTemplate{},
	}
}

// template parses the named files from the embedded emails directory once and
// keeps them for later sends.
func (m *Mailer) template(patterns []string) (*emailTemplate, error) {
	if len(patterns) == 0 {
		patterns = []string{DefaultTemplate}
	}
	key := strings.Join(patterns, ",")

	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.templates[key]; ok {
		return t, nil
	}

	paths := make([]string, len(patterns))
	for i, p := range patterns {
		paths[i] = templateDir + p
	}

	text, err := textTemplate.New("").Funcs(textTemplate.FuncMap(funcs.TemplateFuncs)).ParseFS(assets.EmbeddedFiles, paths...)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrUnknownTemplate, key, err)
	}
	if text.Lookup("subject") == nil || text.Lookup("plainBody") == nil {
		return nil, fmt.Errorf("%w %s: subject and plainBody must be defined", ErrUnknownTemplate, key)
	}

	t := &emailTemplate{text: text}
	if text.Lookup("htmlBody") != nil {
		t.html, err = htmlTemplate.New("").Funcs(funcs.TemplateFuncs).ParseFS(assets.EmbeddedFiles, paths...)
		if err != nil {
			return nil, err
		}
	}
	m.templates[key] = t
	return t, nil
}

// withDefaults copies notification data and fills the greeting, since a
// missing map key renders as "<no value>".
func withDefaults(data any) any {
	fields, ok := data.(map[string]any)
	if !ok {
		return data
	}
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	if name, _ := out["Name"].(string); strings.TrimSpace(name) == "" {
		out["Name"] = fallbackName
	}
	return out
}

func (m *Mailer) render(recipient string, data any, patterns []string) (*mail.Msg, error) {
	t, err := m.template(patterns)
	if err != nil {
		return nil, err
	}
	data = withDefaults(data)

	msg := mail.NewMsg()
	if err := msg.To(recipient); err != nil {
		return nil, err
	}
	if err := msg.From(m.from); err != nil {
		return nil, err
	}
	msg.SetMessageID()
	msg.SetDate()
	msg.SetGenHeader(mail.Header("Auto-Submitted"), "auto-generated")

	subject := new(bytes.Buffer)
	if err := t.text.ExecuteTemplate(subject, "subject", data); err != nil {
		return nil, err
	}
	msg.Subject(strings.TrimSpace(subject.String()))

	plainBody := new(bytes.Buffer)
	if err := t.text.ExecuteTemplate(plainBody, "plainBody", data); err != nil {
		return nil, err
	}
	msg.SetBodyString(mail.TypeTextPlain, plainBody.String())

	if t.html != nil {
		htmlBody := new(bytes.Buffer)
		if err := t.html.ExecuteTemplate(htmlBody, "htmlBody", data); err != nil {
			return nil, err
		}
		msg.AddAlternativeString(mail.TypeTextHTML, htmlBody.String())
	}
	return msg, nil
}

// Send renders a customer or staff notification and delivers it. Template and
// data errors fail at once; delivery is retried with a growing delay.
func (m *Mailer) Send(recipient string, data any, patterns ...string) error {
	msg, err := m.render(recipient, data, patterns)
	if err != nil {
		return err
	}

	for i := 1; i <= sendAttempts; i++ {
		err = m.client.DialAndSend(msg)
		if err == nil {
			return nil
		}

		if i != sendAttempts {
			time.Sleep(time.Duration(i) * m.retryDelay)
		}
	}

	return err
}
