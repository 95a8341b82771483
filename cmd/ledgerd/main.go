package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/recurring-ledger-go/internal/config"
	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/handler"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/memstore"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/observability"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/supabase"
	"github.com/boddenberg/recurring-ledger-go/internal/port"
	"github.com/boddenberg/recurring-ledger-go/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("timezone", cfg.Timezone.String()),
		zap.Bool("use_supabase", cfg.UseSupabase),
		zap.Bool("auth_enabled", cfg.AuthEnabled),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("auto_realize_interval", cfg.AutoRealizeInterval),
		zap.Int("match_date_tolerance_days", cfg.MatchTolerances.DateToleranceDays),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "recurring-ledger")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Stores ---
	var (
		stores port.Stores
		ready  func(context.Context) error
	)
	if cfg.UseSupabase && cfg.SupabaseURL != "" {
		logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))

		resilienceCfg := resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxConcurrency: cfg.MaxConcurrency,
		}
		client := supabase.NewClient(
			&http.Client{Timeout: cfg.HTTPTimeout},
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			resilienceCfg,
			cfg.CacheTTL,
			logger,
			metrics,
		)
		defer client.Close()
		stores = client.Ports()
		ready = client.Ping
	} else {
		logger.Warn("Supabase not configured, using the in-memory store; data is lost on restart")
		stores = memstore.New().Ports()
	}

	// --- Services ---
	clock := time.Now
	projector := service.NewRecurringInstanceProjector(stores, metrics, logger)
	transferProjector := service.NewRecurringTransferInstanceProjector(stores, metrics, logger)
	engine := service.NewAutoRealizeEngine(stores, projector, transferProjector, clock, metrics, logger)

	deps := handler.Deps{
		Ledger:            service.NewUnifiedLedgerService(stores, projector, transferProjector, metrics, logger),
		Projector:         projector,
		TransferProjector: transferProjector,
		AutoRealize:       engine,
		Recurring:         service.NewRecurringService(stores, clock, cfg.Timezone, metrics, logger),
		Settings:          service.NewSettingsService(stores, logger),
		Reconciliation:    service.NewReconciliationService(stores, projector, service.NewTransactionMatcher(cfg.MatchTolerances), clock, metrics, logger),
		Now:               clock,
		Location:          cfg.Timezone,
		Ready:             ready,
		AllowedOrigins:    cfg.AllowedOrigins,
		MaxRangeDays:      cfg.MaxRangeDays,
		Metrics:           metrics,
		Logger:            logger,
	}
	if cfg.AuthEnabled {
		deps.JWTSecret = cfg.JWTSecret
	}

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		runAutoRealize(gctx, engine, cfg.AutoRealizeInterval, cfg.Timezone, logger)
		return nil
	})

	// --- Graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// runAutoRealize runs one pass at startup and then one per interval until
// ctx is done. A zero interval runs only the startup pass.
func runAutoRealize(ctx context.Context, engine *service.AutoRealizeEngine, interval time.Duration, loc *time.Location, logger *zap.Logger) {
	pass := func() {
		today := domain.DateOf(time.Now().In(loc))
		result, err := engine.AutoRealizePastDueItemsIfEnabled(ctx, today, "")
		if err != nil {
			logger.Error("auto-realize pass failed", zap.Error(err))
			return
		}
		if result.Enabled {
			logger.Info("auto-realize pass finished",
				zap.String("today", today.String()),
				zap.Int("transactions", result.TransactionsCreated),
				zap.Int("transfers", result.TransfersCreated),
				zap.Int("skipped_series", len(result.SkippedSeries)),
			)
		}
	}

	pass()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass()
		}
	}
}
