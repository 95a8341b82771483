package service

import (
	"context"
	"fmt"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var settingsTracer = otel.Tracer("service/settings")

// SettingsService reads and updates the global auto-realize policy.
type SettingsService struct {
	settings port.SettingsStore
	uow      port.UnitOfWork
	logger   *zap.Logger
}

// NewSettingsService creates the settings service.
func NewSettingsService(stores port.Stores, logger *zap.Logger) *SettingsService {
	return &SettingsService{settings: stores.Settings, uow: stores.UnitOfWork, logger: logger}
}

// Get returns the current settings.
func (s *SettingsService) Get(ctx context.Context) (domain.Settings, error) {
	ctx, span := settingsTracer.Start(ctx, "SettingsService.Get")
	defer span.End()

	return s.settings.Get(ctx)
}

// Update validates and stores new settings. A lookback below 1 is a domain error.
func (s *SettingsService) Update(ctx context.Context, next domain.Settings) (domain.Settings, error) {
	ctx, span := settingsTracer.Start(ctx, "SettingsService.Update")
	defer span.End()
	ctx = s.uow.Begin(ctx)

	if err := next.Validate(); err != nil {
		return domain.Settings{}, err
	}
	if err := s.settings.Save(ctx, next); err != nil {
		return domain.Settings{}, err
	}
	if err := s.uow.SaveChanges(ctx); err != nil {
		return domain.Settings{}, fmt.Errorf("commit settings: %w", err)
	}

	s.logger.Info("settings updated",
		zap.Bool("auto_realize_enabled", next.AutoRealizeEnabled),
		zap.Int("lookback_days", next.LookbackDays),
	)
	return next, nil
}
