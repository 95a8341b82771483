// Package handler exposes the ledger core over HTTP with chi.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/observability"
	"github.com/boddenberg/recurring-ledger-go/internal/port"
	"github.com/boddenberg/recurring-ledger-go/internal/service"
)

var tracer = otel.Tracer("handler")

// Deps carries everything the router needs. Ready may be nil, in which case
// /readyz always reports ready. An empty JWTSecret disables bearer auth and
// an empty AllowedOrigins disables CORS.
type Deps struct {
	Ledger            *service.UnifiedLedgerService
	Projector         *service.RecurringInstanceProjector
	TransferProjector *service.RecurringTransferInstanceProjector
	AutoRealize       *service.AutoRealizeEngine
	Recurring         *service.RecurringService
	Settings          *service.SettingsService
	Reconciliation    *service.ReconciliationService

	Now      port.Clock
	Location *time.Location
	Ready    func(context.Context) error

	JWTSecret      string
	AllowedOrigins []string
	// MaxRangeDays caps from/to windows; zero means DefaultMaxRangeDays.
	MaxRangeDays int
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

// today is the calendar day of "now" in the configured zone.
func (d Deps) today() domain.Date {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return domain.DateOf(now().In(loc))
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger, d.Metrics))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	if len(d.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   d.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler(d.Ready, logger))
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if d.JWTSecret != "" {
			r.Use(JWTAuthMiddleware([]byte(d.JWTSecret), logger))
		}

		r.Get("/metrics/summary", metricsSummaryHandler(d.Metrics))

		// =============================================
		// Unified ledger & balances
		// =============================================
		r.Get("/ledger", unifiedLedgerHandler(d))
		r.Get("/accounts/{accountId}/balance", balanceHandler(d))

		// =============================================
		// Projection
		// =============================================
		r.Get("/instances", instancesHandler(d))

		// =============================================
		// Series commands
		// =============================================
		r.Route("/series/{kind}/{seriesId}", func(r chi.Router) {
			r.Get("/instances", seriesInstancesHandler(d))
			r.Post("/skip-next", skipNextHandler(d))
			r.Put("/from/{date}", updateSeriesFromHandler(d))
			r.Put("/active", setActiveHandler(d))
			r.Post("/instances/{date}/skip", skipInstanceHandler(d))
			r.Put("/instances/{date}", modifyInstanceHandler(d))
			r.Delete("/instances/{date}/exception", restoreInstanceHandler(d))
			r.Post("/instances/{date}/realize", realizeInstanceHandler(d))
		})

		// =============================================
		// Auto-realize & settings
		// =============================================
		r.Post("/auto-realize", autoRealizeHandler(d))
		r.Get("/auto-realize/preview", previewPastDueHandler(d))
		r.Get("/settings", getSettingsHandler(d))
		r.Put("/settings", updateSettingsHandler(d))

		// =============================================
		// Reconciliation
		// =============================================
		r.Route("/reconciliation", func(r chi.Router) {
			r.Post("/find", findMatchesHandler(d))
			r.Get("/pending", pendingMatchesHandler(d))
			r.Get("/status", reconciliationStatusHandler(d))
			r.Post("/matches", manualMatchHandler(d))
			r.Post("/matches/bulk-accept", bulkAcceptHandler(d))
			r.Post("/matches/{matchId}/accept", acceptMatchHandler(d))
			r.Post("/matches/{matchId}/reject", rejectMatchHandler(d))
		})
	})

	return r
}

// ============================================================
// Health & metrics
// ============================================================

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func readyzHandler(ready func(context.Context) error, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				logger.Warn("readiness check failed", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func metricsSummaryHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
