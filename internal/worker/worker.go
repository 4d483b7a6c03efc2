package worker

import (
	"log/slog"
	"time"

	"github.com/cradoe/pawnbroker/internal/helper"
	"github.com/cradoe/pawnbroker/internal/service"
	"github.com/cradoe/pawnbroker/internal/smtp"
	"github.com/cradoe/pawnbroker/internal/stream"
)

type Worker struct {
	KafkaStream *stream.KafkaStream
	Mailer      smtp.MailerInterface
	Services    *service.Services
	Helper      *helper.HelperRepository
	Logger      *slog.Logger
	// Interval between scheduler sweeps.
	Interval time.Duration
}

const (
	// notificationGroupID is shared by every API instance so each event is mailed once
	notificationGroupID = "notification-email-group"

	defaultInterval = time.Minute
	pollTimeoutMs   = 100
)

// Our workers typically needs access to the services and the kafka event stream
// worker-specific dependency can be passed as argument to the worker
func New(wk *Worker) *Worker {
	w := &Worker{
		KafkaStream: wk.KafkaStream,
		Mailer:      wk.Mailer,
		Services:    wk.Services,
		Helper:      wk.Helper,
		Logger:      wk.Logger,
		Interval:    wk.Interval,
	}
	if w.Logger == nil {
		w.Logger = slog.Default()
	}
	if w.Interval <= 0 {
		w.Interval = defaultInterval
	}
	return w
}
