package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cradoe/pawnbroker/internal/worker"
)

const (
	defaultIdleTimeout    = time.Minute
	defaultReadTimeout    = 5 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultShutdownPeriod = 30 * time.Second
)

// ServeHTTP listens until ctx is cancelled, then drains in-flight requests and
// waits for background tasks.
func (app *Application) ServeHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", app.Config.HttpPort),
		Handler:      app.routes(),
		ErrorLog:     slog.NewLogLogger(app.Logger.Handler(), slog.LevelWarn),
		IdleTimeout:  defaultIdleTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	shutdownErrorChan := make(chan error, 1)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownPeriod)
		defer cancel()

		shutdownErrorChan <- srv.Shutdown(shutdownCtx)
	}()

	app.Logger.Info("starting server", slog.Group("server", "addr", srv.Addr, "environment", app.Config.Environment))

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdownErrorChan
	if err != nil {
		return err
	}

	app.Logger.Info("stopped server", slog.Group("server", "addr", srv.Addr))

	app.WG.Wait()
	return nil
}

// StartWorkers launches the background consumers; each stops when ctx is cancelled.
func (app *Application) StartWorkers(ctx context.Context) {
	wk := worker.New(&worker.Worker{
		KafkaStream: app.Kafka,
		Mailer:      app.Mailer,
		Services:    app.Services,
		Helper:      app.helper,
		Logger:      app.Logger,
		Interval:    app.Config.Scheduler.Interval,
	})

	if app.Kafka != nil {
		app.helper.BackgroundTask("notification-worker", func() error {
			return wk.NotificationWorker(ctx)
		})
	}

	if app.Config.Scheduler.AuctionAutopilot {
		app.helper.BackgroundTask("scheduler", func() error {
			return wk.Scheduler(ctx)
		})
	}
}
