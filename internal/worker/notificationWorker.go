// Notifications are published by the API after a state change commits. This
// worker drains them and turns each into an email, so a slow or failing SMTP
// server never holds up a request.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/cradoe/pawnbroker/internal/notify"
	"github.com/cradoe/pawnbroker/internal/stream"
)

func (wk *Worker) NotificationWorker(ctx context.Context) error {
	consumer, err := wk.KafkaStream.CreateConsumer(&stream.StreamConsumer{
		GroupId: notificationGroupID,
		Topic:   notify.Topic,
	})
	if err != nil {
		return fmt.Errorf("create notification consumer: %w", err)
	}
	defer consumer.Close()

	for {
		select {
		case <-ctx.Done():
			wk.Logger.Info("notification worker stopped")
			return nil
		default:
			event := consumer.Poll(pollTimeoutMs)
			switch e := event.(type) {
			case *kafka.Message:
				if err := wk.HandleNotification(e.Value); err != nil {
					// delivery is best effort; the event is not retried
					wk.Logger.Warn("notification not delivered", "partition", e.TopicPartition.String(), "error", err)
				}
			case kafka.Error:
				wk.Logger.Error("kafka consumer error", "error", e)
			case kafka.AssignedPartitions:
				consumer.Assign(e.Partitions)
			case kafka.RevokedPartitions:
				consumer.Unassign()
			}
		}
	}
}

// HandleNotification decodes one event and mails it.
func (wk *Worker) HandleNotification(message []byte) error {
	var n notify.Notification
	if err := json.Unmarshal(message, &n); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	if n.Recipient == "" {
		return fmt.Errorf("notification %s has no recipient", n.Event)
	}
	if n.Template == "" {
		n.Template = "event.tmpl"
	}

	data := wk.Helper.NewEmailData()
	for k, v := range n.Data {
		data[k] = v
	}

	if err := wk.Mailer.Send(n.Recipient, data, n.Template); err != nil {
		return fmt.Errorf("send %s to %s: %w", n.Event, n.Recipient, err)
	}

	wk.Logger.Debug("notification delivered", "event", n.Event, "recipient", n.Recipient)
	return nil
}
