package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
)

// ============================================================
// Series commands: /v1/series/{kind}/{seriesId}/...
// ============================================================

// seriesTarget reads the kind and id every series route carries.
func seriesTarget(r *http.Request) (domain.SeriesKind, string, error) {
	kind, err := pathKind(r)
	if err != nil {
		return "", "", err
	}
	return kind, chi.URLParam(r, "seriesId"), nil
}

func logCommand(d Deps, r *http.Request, msg, seriesID string, fields ...zap.Field) {
	fields = append(fields,
		zap.String("series_id", seriesID),
		zap.String("subject", SubjectFromContext(r.Context())),
	)
	d.Logger.Info(msg, fields...)
}

func skipNextHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/series/{kind}/{seriesId}/skip-next")
		defer span.End()

		kind, seriesID, err := seriesTarget(r)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		span.SetAttributes(attribute.String("series.id", seriesID))

		ex, err := d.Recurring.SkipNext(ctx, kind, seriesID, d.today())
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if ex == nil {
			writeNotFound(w, "series")
			return
		}
		logCommand(d, r, "api: next occurrence skipped", seriesID, zap.String("date", ex.OriginalDate.String()))
		writeJSON(w, http.StatusOK, ex)
	}
}

func skipInstanceHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/series/{kind}/{seriesId}/instances/{date}/skip")
		defer span.End()

		kind, seriesID, err := seriesTarget(r)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		date, err := pathDate(r, "date")
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		span.SetAttributes(attribute.String("series.id", seriesID), attribute.String("date", date.String()))

		ex, err := d.Recurring.SkipInstance(ctx, kind, seriesID, date)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if ex == nil {
			writeNotFound(w, "series")
			return
		}
		logCommand(d, r, "api: occurrence skipped", seriesID, zap.String("date", date.String()))
		writeJSON(w, http.StatusOK, ex)
	}
}

func modifyInstanceHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/series/{kind}/{seriesId}/instances/{date}")
		defer span.End()

		kind, seriesID, err := seriesTarget(r)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		date, err := pathDate(r, "date")
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		var changes domain.InstanceChanges
		if err := decodeBody(r, &changes); err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		span.SetAttributes(attribute.String("series.id", seriesID), attribute.String("date", date.String()))

		ex, err := d.Recurring.ModifyInstance(ctx, kind, seriesID, date, changes)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if ex == nil {
			writeNotFound(w, "series")
			return
		}
		logCommand(d, r, "api: occurrence modified", seriesID, zap.String("date", date.String()))
		writeJSON(w, http.StatusOK, ex)
	}
}

func restoreInstanceHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/series/{kind}/{seriesId}/instances/{date}/exception")
		defer span.End()

		kind, seriesID, err := seriesTarget(r)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		date, err := pathDate(r, "date")
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}

		found, err := d.Recurring.RestoreInstance(ctx, kind, seriesID, date)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if !found {
			writeNotFound(w, "exception")
			return
		}
		logCommand(d, r, "api: occurrence restored", seriesID, zap.String("date", date.String()))
		w.WriteHeader(http.StatusNoContent)
	}
}

func updateSeriesFromHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/series/{kind}/{seriesId}/from/{date}")
		defer span.End()

		kind, seriesID, err := seriesTarget(r)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		date, err := pathDate(r, "date")
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		var changes domain.SeriesChanges
		if err := decodeBody(r, &changes); err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}

		found, err := d.Recurring.UpdateSeriesFrom(ctx, kind, seriesID, date, changes)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if !found {
			writeNotFound(w, "series")
			return
		}
		logCommand(d, r, "api: series updated from date", seriesID, zap.String("effective_date", date.String()))
		w.WriteHeader(http.StatusNoContent)
	}
}

func setActiveHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/series/{kind}/{seriesId}/active")
		defer span.End()

		kind, seriesID, err := seriesTarget(r)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		var req struct {
			Active *bool `json:"active"`
		}
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if req.Active == nil {
			writeError(w, http.StatusBadRequest, "active is required")
			return
		}

		found, err := d.Recurring.SetActive(ctx, kind, seriesID, *req.Active)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if !found {
			writeNotFound(w, "series")
			return
		}
		logCommand(d, r, "api: series activity changed", seriesID, zap.Bool("active", *req.Active))
		w.WriteHeader(http.StatusNoContent)
	}
}

func realizeInstanceHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/series/{kind}/{seriesId}/instances/{date}/realize")
		defer span.End()

		kind, seriesID, err := seriesTarget(r)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		date, err := pathDate(r, "date")
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}

		var created []domain.Transaction
		if kind == domain.SeriesKindTransfer {
			created, err = d.AutoRealize.RealizeTransferInstance(ctx, seriesID, date, d.today())
		} else {
			var tx *domain.Transaction
			tx, err = d.AutoRealize.RealizeInstance(ctx, seriesID, date, d.today())
			if tx != nil {
				created = []domain.Transaction{*tx}
			}
		}
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if len(created) == 0 {
			writeNotFound(w, "series")
			return
		}
		logCommand(d, r, "api: occurrence realized", seriesID, zap.String("date", date.String()))
		writeJSON(w, http.StatusCreated, map[string]any{"transactions": created})
	}
}
