package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeNotFound(w http.ResponseWriter, what string) {
	writeError(w, http.StatusNotFound, what+" not found")
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &domain.ErrValidation{Field: "body", Message: "invalid request body"}
	}
	return nil
}

// queryDate parses an optional YYYY-MM-DD query parameter, falling back to def.
func queryDate(r *http.Request, name string, def domain.Date) (domain.Date, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	d, err := domain.ParseDate(v)
	if err != nil {
		return domain.Date{}, &domain.ErrValidation{Field: name, Message: err.Error()}
	}
	return d, nil
}

// DefaultMaxRangeDays caps a from/to window when Deps.MaxRangeDays is unset.
const DefaultMaxRangeDays = 731

// queryRange reads from/to, defaulting to the current month. The window must
// be ordered and span at most maxDays days.
func queryRange(r *http.Request, today domain.Date, maxDays int) (domain.Date, domain.Date, error) {
	start, err := queryDate(r, "from", today.FirstOfMonth())
	if err != nil {
		return domain.Date{}, domain.Date{}, err
	}
	end, err := queryDate(r, "to", today.LastOfMonth())
	if err != nil {
		return domain.Date{}, domain.Date{}, err
	}
	if end.Before(start) {
		return domain.Date{}, domain.Date{}, &domain.ErrValidation{Field: "to", Message: "must not be before from"}
	}
	if maxDays <= 0 {
		maxDays = DefaultMaxRangeDays
	}
	if start.DaysUntil(end) >= maxDays {
		return domain.Date{}, domain.Date{}, &domain.ErrValidation{Field: "to", Message: fmt.Sprintf("range exceeds %d days", maxDays)}
	}
	return start, end, nil
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func pathDate(r *http.Request, name string) (domain.Date, error) {
	d, err := domain.ParseDate(chi.URLParam(r, name))
	if err != nil {
		return domain.Date{}, &domain.ErrValidation{Field: name, Message: err.Error()}
	}
	return d, nil
}

func pathKind(r *http.Request) (domain.SeriesKind, error) {
	kind := domain.SeriesKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		return "", &domain.ErrValidation{Field: "kind", Message: "must be 'transaction' or 'transfer'"}
	}
	return kind, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var validation *domain.ErrValidation
	var duplicate *domain.ErrDuplicate
	var unauthorized *domain.ErrUnauthorized
	var circuitOpen *domain.ErrCircuitOpen
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &duplicate):
		logger.Debug("duplicate resource", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &external):
		logger.Error("backing service failed", zap.String("service", external.Service), zap.Error(err))
		writeError(w, http.StatusBadGateway, "backing service unavailable")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
