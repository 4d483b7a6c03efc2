package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cradoe/pawnbroker/internal/cache"
	"github.com/cradoe/pawnbroker/internal/config"
	"github.com/cradoe/pawnbroker/internal/env"
	"github.com/cradoe/pawnbroker/internal/errHandler"
	"github.com/cradoe/pawnbroker/internal/file"
	"github.com/cradoe/pawnbroker/internal/gateway"
	"github.com/cradoe/pawnbroker/internal/helper"
	"github.com/cradoe/pawnbroker/internal/identifier"
	"github.com/cradoe/pawnbroker/internal/notify"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/cradoe/pawnbroker/internal/service"
	"github.com/cradoe/pawnbroker/internal/smtp"
	"github.com/cradoe/pawnbroker/internal/stream"
	"github.com/joho/godotenv"
)

// Essential services and resources are exposed to the application
// this makes it possible for methods to have access to these items and when they need them
type Application struct {
	Config       config.Config
	DB           repository.Database
	Cache        *cache.Cache
	Logger       *slog.Logger
	Mailer       smtp.MailerInterface
	WG           sync.WaitGroup
	errorHandler *errHandler.ErrorHandler
	helper       *helper.HelperRepository
	Kafka        *stream.KafkaStream
	FileUploader file.Uploader
	Gateway      gateway.Gateway
	Locker       cache.Locker
	Notifier     notify.Notifier
	Services     *service.Services
	// Now is overridden by tests; nil means time.Now.
	Now func() time.Time
}

// LoadConfig reads the environment (and .env when present). Default values are
// for development only; no production value belongs here.
func LoadConfig(logger *slog.Logger) config.Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", "error", err)
	}

	var cfg config.Config

	cfg.Environment = env.GetString("ENVIRONMENT", config.EnvironmentDevelopment)
	cfg.BaseURL = env.GetString("BASE_URL", "http://localhost:4444")
	cfg.HttpPort = env.GetInt("HTTP_PORT", 4444)

	cfg.Db.Dsn = env.GetString("DB_DSN", "user:pass@localhost:5432/pawnbroker?sslmode=disable")
	cfg.Db.Automigrate = env.GetBool("DB_AUTOMIGRATE", true)

	cfg.Jwt.SecretKey = env.GetString("JWT_SECRET_KEY", "ajf5nx3qmp6zquevllxocxqvyz42ypuo")
	cfg.Jwt.TTL = env.GetDuration("JWT_TTL", 24*time.Hour)

	// server errors won't be sent via email if the NOTIFICATIONS_EMAIL wasn't set in the .env file
	cfg.Notifications.Email = env.GetString("NOTIFICATIONS_EMAIL", "")

	cfg.Smtp.Host = env.GetString("SMTP_HOST", "example.smtp.host")
	cfg.Smtp.Port = env.GetInt("SMTP_PORT", 25)
	cfg.Smtp.Username = env.GetString("SMTP_USERNAME", "example_username")
	cfg.Smtp.Password = env.GetString("SMTP_PASSWORD", "pa55word")
	cfg.Smtp.From = env.GetString("SMTP_FROM", "Pawnbroker <no_reply@example.org>")

	cfg.Redis.Addr = env.GetString("REDIS_ADDR", "")
	cfg.Redis.DB = env.GetInt("REDIS_DB", 0)

	cfg.Kafka.Servers = env.GetString("KAFKA_SERVERS", "localhost:9092")
	cfg.Kafka.Enabled = env.GetBool("KAFKA_ENABLED", false)

	cfg.FileUploader.ApiKey = env.GetString("CLOUDINARY_API_KEY", "")
	cfg.FileUploader.CloudName = env.GetString("CLOUDINARY_CLOUD_NAME", "")
	cfg.FileUploader.ApiSecret = env.GetString("CLOUDINARY_API_SECRET", "")

	cfg.Paynow.BaseURL = env.GetString("PAYNOW_BASE_URL", gateway.DefaultPaynowBaseURL)
	cfg.Paynow.IntegrationID = env.GetString("PAYNOW_INTEGRATION_ID", "")
	cfg.Paynow.IntegrationKey = env.GetString("PAYNOW_INTEGRATION_KEY", "")
	cfg.Paynow.ResultURL = env.GetString("PAYNOW_RESULT_URL", cfg.BaseURL+"/api/v1/bid-payments/webhook/paynow")
	cfg.Paynow.ReturnURL = env.GetString("PAYNOW_RETURN_URL", cfg.BaseURL)
	cfg.Paynow.Timeout = env.GetDuration("GATEWAY_TIMEOUT", gateway.DefaultTimeout)

	cfg.Scheduler.AuctionAutopilot = env.GetBool("AUCTION_AUTOPILOT", false)
	cfg.Scheduler.Interval = env.GetDuration("SCHEDULER_INTERVAL", time.Minute)

	cfg.SuperAdmin.Email = env.GetString("SUPERADMIN_EMAIL", "")
	cfg.SuperAdmin.Password = env.GetString("SUPERADMIN_PASSWORD", "")
	cfg.SuperAdmin.Phone = env.GetString("SUPERADMIN_PHONE", "+263770000000")

	cfg.IdentifierMaxAttempts = env.GetInt("ID_MAX_ATTEMPTS", identifier.DefaultMaxAttempts)

	return cfg
}

// NewApplication connects to every external system named in the config.
func NewApplication(logger *slog.Logger) (*Application, error) {
	cfg := LoadConfig(logger)

	db, err := repository.New(cfg.Db.Dsn, cfg.Db.Automigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	mailer, err := smtp.NewMailer(cfg.Smtp.Host, cfg.Smtp.Port, cfg.Smtp.Username, cfg.Smtp.Password, cfg.Smtp.From)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mailer: %w", err)
	}

	app := &Application{
		Config: cfg,
		DB:     db,
		Logger: logger,
		Mailer: mailer,
		Gateway: gateway.NewPaynow(gateway.PaynowConfig{
			BaseURL:        cfg.Paynow.BaseURL,
			IntegrationID:  cfg.Paynow.IntegrationID,
			IntegrationKey: cfg.Paynow.IntegrationKey,
			ResultURL:      cfg.Paynow.ResultURL,
			ReturnURL:      cfg.Paynow.ReturnURL,
			Timeout:        cfg.Paynow.Timeout,
			Logger:         logger,
		}),
	}

	// without Redis, locks only hold within this process
	if cfg.Redis.Addr != "" {
		app.Cache = cache.New(cfg.Redis.Addr, cfg.Redis.DB)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := app.Cache.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.Locker = cache.NewRedisLocker(app.Cache)
	}

	if cfg.Kafka.Enabled {
		app.Kafka = stream.New(cfg.Kafka.Servers, logger)
		app.Notifier = notify.NewKafkaNotifier(app.Kafka)
	}

	if cfg.FileUploader.CloudName != "" {
		app.FileUploader = file.New(cfg.FileUploader.CloudName, cfg.FileUploader.ApiKey, cfg.FileUploader.ApiSecret)
	}

	app.Assemble()
	return app, nil
}

// Assemble fills in whatever NewApplication (or a test) left unset and builds
// the services on top.
func (app *Application) Assemble() {
	if app.Logger == nil {
		app.Logger = slog.Default()
	}
	if app.Locker == nil {
		app.Locker = cache.NewLocalLocker()
	}
	if app.Notifier == nil && app.Mailer != nil {
		app.Notifier = notify.NewMailNotifier(app.Mailer)
	}
	if app.FileUploader == nil {
		app.Logger.Warn("cloudinary is not configured; uploads are kept in memory")
		app.FileUploader = &file.Memory{}
	}

	app.helper = helper.New(app.Config.BaseURL, &app.WG, app.Logger)
	app.errorHandler = errHandler.New(app.Config.Notifications.Email, app.Mailer, app.Logger, app.helper, !app.Config.IsProduction())

	ids := identifier.New(app.Config.IdentifierMaxAttempts)
	if app.Now != nil {
		ids.Now = app.Now
	}

	svcCfg := service.Config{GatewayTimeout: app.Config.Paynow.Timeout}
	svcCfg.Jwt.SecretKey = app.Config.Jwt.SecretKey
	svcCfg.Jwt.Issuer = app.Config.BaseURL
	svcCfg.Jwt.TTL = app.Config.Jwt.TTL

	app.Services = service.New(service.Deps{
		DB:       app.DB,
		Locker:   app.Locker,
		IDs:      ids,
		Notifier: app.Notifier,
		Gateway:  app.Gateway,
		Logger:   app.Logger,
		Now:      app.Now,
		Config:   svcCfg,
	})
}

// Close releases external connections once the server and workers have stopped.
func (app *Application) Close() {
	if app.Kafka != nil {
		app.Kafka.Close()
	}
	if app.Cache != nil {
		if err := app.Cache.Close(); err != nil {
			app.Logger.Warn("redis close failed", "error", err)
		}
	}
	if err := app.DB.Close(); err != nil {
		app.Logger.Warn("database close failed", "error", err)
	}
}
