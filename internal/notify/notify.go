// Package notify is the outbound notification port. The core describes what
// happened; delivery (email today) happens out of band and never blocks the
// state change that produced the notification.
package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cradoe/pawnbroker/internal/smtp"
)

// Topic carries notification events between the API and the notification worker.
const Topic = "notifications.email"

type Notification struct {
	Event     string         `json:"event"`
	Recipient string         `json:"recipient"`
	Template  string         `json:"template"`
	Data      map[string]any `json:"data"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type producer interface {
	ProduceMessage(topic, key string, message []byte) error
}

// KafkaNotifier publishes notifications for the notification worker to deliver.
type KafkaNotifier struct {
	stream producer
}

func NewKafkaNotifier(stream producer) *KafkaNotifier {
	return &KafkaNotifier{stream: stream}
}

func (k *KafkaNotifier) Notify(_ context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return k.stream.ProduceMessage(Topic, n.Recipient, payload)
}

// MailNotifier sends synchronously; used when Kafka is disabled.
type MailNotifier struct {
	mailer smtp.MailerInterface
}

func NewMailNotifier(mailer smtp.MailerInterface) *MailNotifier {
	return &MailNotifier{mailer: mailer}
}

func (m *MailNotifier) Notify(_ context.Context, n Notification) error {
	return m.mailer.Send(n.Recipient, n.Data, n.Template)
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
	Err  error
}

func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Notification(nil), r.sent...)
}

// Events returns the event names in send order.
func (r *Recorder) Events() []string {
	var out []string
	for _, n := range r.Sent() {
		out = append(out, n.Event)
	}
	return out
}
