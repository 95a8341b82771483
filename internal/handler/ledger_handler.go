package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/service"
)

// ============================================================
// Unified ledger: GET /v1/ledger?account_id=&from=&to=
// ============================================================

func unifiedLedgerHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/ledger")
		defer span.End()

		accountID := r.URL.Query().Get("account_id")
		span.SetAttributes(attribute.String("account.id", accountID))

		start, end, err := queryRange(r, d.today(), d.MaxRangeDays)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		ledger, err := d.Ledger.GetUnifiedList(ctx, accountID, start, end)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if ledger == nil {
			writeNotFound(w, "account")
			return
		}
		writeJSON(w, http.StatusOK, ledger)
	}
}

// ============================================================
// Balance: GET /v1/accounts/{accountId}/balance?date=&opening=
// ============================================================

type balanceResponse struct {
	AccountID string       `json:"account_id"`
	Date      domain.Date  `json:"date"`
	Opening   bool         `json:"opening"`
	Balance   domain.Money `json:"balance"`
}

func balanceHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/balance")
		defer span.End()

		accountID := chi.URLParam(r, "accountId")
		span.SetAttributes(attribute.String("account.id", accountID))

		date, err := queryDate(r, "date", d.today())
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		opening := queryBool(r, "opening")

		var balance *domain.Money
		if opening {
			balance, err = d.Ledger.GetOpeningBalanceForDate(ctx, accountID, date)
		} else {
			balance, err = d.Ledger.GetBalanceAsOfDate(ctx, accountID, date)
		}
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if balance == nil {
			writeNotFound(w, "account")
			return
		}
		writeJSON(w, http.StatusOK, balanceResponse{AccountID: accountID, Date: date, Opening: opening, Balance: *balance})
	}
}

// ============================================================
// Projection
// ============================================================

// instancesHandler projects every active series over ?from=&to=.
func instancesHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/instances")
		defer span.End()

		start, end, err := queryRange(r, d.today(), d.MaxRangeDays)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		calendar, err := d.Projector.GetActiveInstancesByDateRange(ctx, start, end)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"start_date": start,
			"end_date":   end,
			"count":      calendar.Count(),
			"instances":  calendar.Flatten(),
		})
	}
}

func seriesInstancesHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/series/{kind}/{seriesId}/instances")
		defer span.End()

		kind, err := pathKind(r)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		seriesID := chi.URLParam(r, "seriesId")
		span.SetAttributes(attribute.String("series.id", seriesID))

		start, end, err := queryRange(r, d.today(), d.MaxRangeDays)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		opts := service.ProjectionOptions{
			IncludeRealized: queryBool(r, "include_realized"),
			IncludeSkipped:  queryBool(r, "include_skipped"),
		}

		var (
			instances any
			found     bool
		)
		if kind == domain.SeriesKindTransfer {
			instances, found, err = d.TransferProjector.ProjectSeriesByID(ctx, seriesID, start, end, opts)
		} else {
			instances, found, err = d.Projector.ProjectSeriesByID(ctx, seriesID, start, end, opts)
		}
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if !found {
			writeNotFound(w, "series")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"series_id": seriesID, "kind": kind, "instances": instances})
	}
}
