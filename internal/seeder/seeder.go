package seeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/config"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/cradoe/pawnbroker/internal/service"
)

type Seeder struct {
	Services *service.Services
	DB       repository.Database
	Config   config.Config
	Logger   *slog.Logger
}

func New(services *service.Services, db repository.Database, cfg config.Config, logger *slog.Logger) *Seeder {
	return &Seeder{
		Services: services,
		DB:       db,
		Config:   cfg,
		Logger:   logger,
	}
}

// Run is safe to repeat: records that already exist are skipped.
func (seeder *Seeder) Run(ctx context.Context) error {
	if err := seeder.seedSuperAdmin(ctx); err != nil {
		return err
	}
	return seeder.seedDebtors(ctx)
}

func (seeder *Seeder) seedSuperAdmin(ctx context.Context) error {
	admin := seeder.Config.SuperAdmin
	if admin.Email == "" || admin.Password == "" {
		seeder.Logger.Warn("SUPERADMIN_EMAIL or SUPERADMIN_PASSWORD not set; skipping super admin")
		return nil
	}

	_, err := seeder.Services.Users.CreateStaff(ctx, models.SystemActor(models.ChannelSystem), service.StaffInput{
		Email:    admin.Email,
		Password: admin.Password,
		FullName: "Super Administrator",
		Phone:    admin.Phone,
		Roles:    []string{models.RoleSuperAdmin},
	})
	if errors.Is(err, apperror.ErrDuplicate) {
		seeder.Logger.Info("super admin already exists", "email", admin.Email)
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed super admin: %w", err)
	}

	seeder.Logger.Info("super admin created", "email", admin.Email)
	return nil
}
