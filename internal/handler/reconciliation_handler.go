package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
)

// ============================================================
// Reconciliation: /v1/reconciliation/...
// ============================================================

type findMatchesRequest struct {
	TransactionIDs []string    `json:"transaction_ids"`
	StartDate      domain.Date `json:"start_date"`
	EndDate        domain.Date `json:"end_date"`
}

func findMatchesHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/reconciliation/find")
		defer span.End()

		var req findMatchesRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if len(req.TransactionIDs) == 0 {
			writeError(w, http.StatusBadRequest, "transaction_ids is required")
			return
		}
		if req.StartDate.IsZero() || req.EndDate.IsZero() {
			writeError(w, http.StatusBadRequest, "start_date and end_date are required")
			return
		}
		span.SetAttributes(attribute.Int("transactions.count", len(req.TransactionIDs)))

		result, err := d.Reconciliation.FindMatches(ctx, req.TransactionIDs, req.StartDate, req.EndDate)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func pendingMatchesHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/reconciliation/pending")
		defer span.End()

		matches, err := d.Reconciliation.GetPendingMatches(ctx)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if matches == nil {
			matches = []domain.ReconciliationMatch{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
	}
}

// reconciliationStatusHandler defaults to the current month.
func reconciliationStatusHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/reconciliation/status")
		defer span.End()

		today := d.today()
		year, month := today.Year(), int(today.Month())
		if v := r.URL.Query().Get("year"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "year must be a number")
				return
			}
			year = n
		}
		if v := r.URL.Query().Get("month"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "month must be a number")
				return
			}
			month = n
		}

		status, err := d.Reconciliation.GetReconciliationStatus(ctx, year, time.Month(month))
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

type manualMatchRequest struct {
	TransactionID string      `json:"transaction_id"`
	SeriesID      string      `json:"series_id"`
	InstanceDate  domain.Date `json:"instance_date"`
}

func manualMatchHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/reconciliation/matches")
		defer span.End()

		var req manualMatchRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if req.TransactionID == "" || req.SeriesID == "" || req.InstanceDate.IsZero() {
			writeError(w, http.StatusBadRequest, "transaction_id, series_id and instance_date are required")
			return
		}

		match, err := d.Reconciliation.CreateManualMatch(ctx, req.TransactionID, req.SeriesID, req.InstanceDate)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if match == nil {
			writeNotFound(w, "transaction or series")
			return
		}
		writeJSON(w, http.StatusCreated, match)
	}
}

func bulkAcceptHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/reconciliation/matches/bulk-accept")
		defer span.End()

		var req struct {
			MatchIDs []string `json:"match_ids"`
		}
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}

		result, err := d.Reconciliation.BulkAcceptMatches(ctx, req.MatchIDs)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func acceptMatchHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/reconciliation/matches/{matchId}/accept")
		defer span.End()

		matchID := chi.URLParam(r, "matchId")
		span.SetAttributes(attribute.String("match.id", matchID))

		match, err := d.Reconciliation.AcceptMatch(ctx, matchID)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if match == nil {
			writeNotFound(w, "match")
			return
		}
		writeJSON(w, http.StatusOK, match)
	}
}

func rejectMatchHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/reconciliation/matches/{matchId}/reject")
		defer span.End()

		matchID := chi.URLParam(r, "matchId")
		span.SetAttributes(attribute.String("match.id", matchID))

		match, err := d.Reconciliation.RejectMatch(ctx, matchID)
		if err != nil {
			handleServiceError(w, err, d.Logger)
			return
		}
		if match == nil {
			writeNotFound(w, "match")
			return
		}
		writeJSON(w, http.StatusOK, match)
	}
}
