package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/cradoe/pawnbroker/internal/app"
	"github.com/cradoe/pawnbroker/internal/config"
	"github.com/cradoe/pawnbroker/internal/env"
	"github.com/cradoe/pawnbroker/internal/seeder"
	"github.com/cradoe/pawnbroker/internal/version"
)

func main() {
	logger := newLogger(env.GetString("ENVIRONMENT", config.EnvironmentDevelopment))

	err := run(logger)
	if err != nil {
		trace := string(debug.Stack())
		logger.Error(err.Error(), "trace", trace)
		os.Exit(1)
	}
}

// JSON logs in production, readable text everywhere else.
func newLogger(environment string) *slog.Logger {
	if environment == config.EnvironmentProduction {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func run(logger *slog.Logger) error {
	showVersion := flag.Bool("version", false, "display version and exit")
	seed := flag.Bool("seed", false, "seed the super administrator and demo debtors, then exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("version: %s\n", version.Get())
		return nil
	}

	application, err := app.NewApplication(logger)
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *seed {
		return seeder.New(application.Services, application.DB, application.Config, logger).Run(ctx)
	}

	application.StartWorkers(ctx)

	return application.ServeHTTP(ctx)
}
