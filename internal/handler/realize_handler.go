package handler

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
)

// ============================================================
// Auto-realize: POST /v1/auto-realize, GET /v1/auto-realize/preview
// ============================================================

func autoRealizeHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auto-realize")
		defer span.End()

		accountID := r.URL.Query().Get("account_id")
		span.SetAttributes(attribute.String("account.id", accountID))

		result, err := d.AutoRealize.AutoRealizePastDueItemsIfEnabled(ctx, d.today(), accountID)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		d.Logger.Info("api: auto-realize pass",
			zap.Bool("enabled", result.Enabled),
			zap.Int("transactions", result.TransactionsCreated),
			zap.Int("transfers", result.TransfersCreated),
		)
		writeJSON(w, http.StatusOK, result)
	}
}

func previewPastDueHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/auto-realize/preview")
		defer span.End()

		items, err := d.AutoRealize.PreviewPastDueItems(ctx, d.today(), r.URL.Query().Get("account_id"))
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// ============================================================
// Settings: GET/PUT /v1/settings
// ============================================================

func getSettingsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/settings")
		defer span.End()

		settings, err := d.Settings.Get(ctx)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	}
}

func updateSettingsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/settings")
		defer span.End()

		var next domain.Settings
		if err := decodeBody(r, &next); err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		saved, err := d.Settings.Update(ctx, next)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}
