// Package service holds the ledger core: projection of recurring series,
// auto-realization, the unified ledger view and reconciliation matching.
// Services depend only on the narrow interfaces in package port.
package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/observability"
	"github.com/boddenberg/recurring-ledger-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var projTracer = otel.Tracer("service/projector")

// ProjectionOptions widen a single-series projection for status reports.
// By default skipped and already-realized occurrences are dropped.
type ProjectionOptions struct {
	IncludeRealized bool
	IncludeSkipped  bool
}

// occurrence is one scheduled date of a series after the exception overlay.
type occurrence struct {
	original  domain.Date
	effective domain.Date
	exception *domain.SeriesException
}

func (o occurrence) skipped() bool { return o.exception.IsSkipped() }

func (o occurrence) modified() bool {
	return o.exception != nil && o.exception.Type == domain.ExceptionModified
}

// expandOccurrences applies the exception overlay to the pattern and returns
// the occurrences whose effective date falls in [start, end], ascending by
// effective date. Modified occurrences are keyed by their new date, so the
// scan reaches MaxRescheduleDays past each edge to pick up moved-in dates.
func expandOccurrences(ctx context.Context, exceptions port.ExceptionStore, seriesID string, pattern domain.RecurrencePattern, start, end domain.Date) ([]occurrence, error) {
	scanStart := start.AddDays(-domain.MaxRescheduleDays)
	scanEnd := end.AddDays(domain.MaxRescheduleDays)

	exs, err := exceptions.GetExceptionsByDateRange(ctx, seriesID, scanStart, scanEnd)
	if err != nil {
		return nil, fmt.Errorf("load exceptions for series %s: %w", seriesID, err)
	}
	byDate := make(map[domain.Date]*domain.SeriesException, len(exs))
	for i := range exs {
		byDate[exs[i].OriginalDate] = &exs[i]
	}

	var out []occurrence
	for _, d := range pattern.OccurrencesBetween(scanStart, scanEnd) {
		o := occurrence{original: d, effective: d, exception: byDate[d]}
		if o.modified() && o.exception.ModifiedDate != nil {
			o.effective = *o.exception.ModifiedDate
		}
		if o.effective.Between(start, end) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].effective.Before(out[j].effective) })
	return out, nil
}

// ============================================================
// Recurring transactions
// ============================================================

// RecurringInstanceProjector turns recurring transaction series into
// concrete occurrences, dropping skipped and already-realized ones.
type RecurringInstanceProjector struct {
	series       port.RecurringTransactionStore
	transactions port.TransactionStore
	accounts     port.AccountStore
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewRecurringInstanceProjector creates a projector over the given stores.
func NewRecurringInstanceProjector(stores port.Stores, metrics *observability.Metrics, logger *zap.Logger) *RecurringInstanceProjector {
	return &RecurringInstanceProjector{
		series:       stores.Series,
		transactions: stores.Transactions,
		accounts:     stores.Accounts,
		metrics:      metrics,
		logger:       logger,
	}
}

// GetInstancesByDateRange projects every series over [start, end].
// Invalid series are logged and skipped.
func (p *RecurringInstanceProjector) GetInstancesByDateRange(ctx context.Context, series []domain.RecurringTransaction, start, end domain.Date) (domain.InstanceCalendar[domain.RecurringInstanceInfo], error) {
	ctx, span := projTracer.Start(ctx, "RecurringInstanceProjector.GetInstancesByDateRange")
	defer span.End()
	span.SetAttributes(
		attribute.Int("series.count", len(series)),
		attribute.String("range.start", start.String()),
		attribute.String("range.end", end.String()),
	)

	if end.Before(start) {
		return nil, &domain.ErrValidation{Field: "end", Message: "must not be before start"}
	}

	names := make(map[string]string)
	calendar := make(domain.InstanceCalendar[domain.RecurringInstanceInfo])
	for i := range series {
		s := &series[i]
		if err := s.Validate(); err != nil {
			p.logger.Warn("skipping invalid recurring series", zap.String("series_id", s.ID), zap.Error(err))
			p.metrics.IncrSkipped("projection")
			continue
		}
		name, err := p.accountName(ctx, names, s.AccountID)
		if err != nil {
			return nil, err
		}
		instances, err := p.project(ctx, s, name, start, end, ProjectionOptions{})
		if err != nil {
			return nil, err
		}
		for _, inst := range instances {
			calendar[inst.Date] = append(calendar[inst.Date], inst)
		}
	}
	return calendar, nil
}

// GetInstancesForDate projects every series on a single day.
func (p *RecurringInstanceProjector) GetInstancesForDate(ctx context.Context, series []domain.RecurringTransaction, date domain.Date) ([]domain.RecurringInstanceInfo, error) {
	calendar, err := p.GetInstancesByDateRange(ctx, series, date, date)
	if err != nil {
		return nil, err
	}
	return calendar[date], nil
}

// ProjectSeries projects one series over [start, end] in ascending order.
func (p *RecurringInstanceProjector) ProjectSeries(ctx context.Context, s *domain.RecurringTransaction, start, end domain.Date, opts ProjectionOptions) ([]domain.RecurringInstanceInfo, error) {
	ctx, span := projTracer.Start(ctx, "RecurringInstanceProjector.ProjectSeries")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", s.ID))

	if err := s.Validate(); err != nil {
		return nil, err
	}
	name, err := p.accountName(ctx, make(map[string]string), s.AccountID)
	if err != nil {
		return nil, err
	}
	return p.project(ctx, s, name, start, end, opts)
}

// ProjectSeriesByID loads one series and projects it. found is false when
// the series does not exist.
func (p *RecurringInstanceProjector) ProjectSeriesByID(ctx context.Context, seriesID string, start, end domain.Date, opts ProjectionOptions) (instances []domain.RecurringInstanceInfo, found bool, err error) {
	s, err := p.series.GetByID(ctx, seriesID)
	if err != nil || s == nil {
		return nil, false, err
	}
	instances, err = p.ProjectSeries(ctx, s, start, end, opts)
	return instances, true, err
}

// GetActiveInstancesByDateRange projects every active series over [start, end].
func (p *RecurringInstanceProjector) GetActiveInstancesByDateRange(ctx context.Context, start, end domain.Date) (domain.InstanceCalendar[domain.RecurringInstanceInfo], error) {
	series, err := p.series.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active series: %w", err)
	}
	return p.GetInstancesByDateRange(ctx, series, start, end)
}

func (p *RecurringInstanceProjector) project(ctx context.Context, s *domain.RecurringTransaction, accountName string, start, end domain.Date, opts ProjectionOptions) ([]domain.RecurringInstanceInfo, error) {
	occs, err := expandOccurrences(ctx, p.series, s.ID, s.Pattern, start, end)
	if err != nil {
		return nil, err
	}

	var out []domain.RecurringInstanceInfo
	for _, o := range occs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if o.skipped() && !opts.IncludeSkipped {
			continue
		}
		realized, err := p.transactions.GetByRecurringInstance(ctx, s.ID, o.original)
		if err != nil {
			return nil, fmt.Errorf("realized lookup for series %s on %s: %w", s.ID, o.original, err)
		}
		if realized != nil && !opts.IncludeRealized {
			continue
		}
		out = append(out, instanceInfo(s, accountName, o, realized != nil))
	}
	return out, nil
}

func instanceInfo(s *domain.RecurringTransaction, accountName string, o occurrence, realized bool) domain.RecurringInstanceInfo {
	info := domain.RecurringInstanceInfo{
		SeriesID:     s.ID,
		Date:         o.effective,
		OriginalDate: o.original,
		AccountID:    s.AccountID,
		AccountName:  accountName,
		Description:  s.Description,
		Category:     s.Category,
		Scope:        s.Scope,
		Amount:       s.Amount,
		IsException:  o.exception != nil,
		IsModified:   o.modified(),
		IsSkipped:    o.skipped(),
		IsRealized:   realized,
	}
	if o.modified() {
		if o.exception.ModifiedAmount != nil {
			info.Amount = *o.exception.ModifiedAmount
		}
		if o.exception.ModifiedDescription != nil {
			info.Description = *o.exception.ModifiedDescription
		}
	}
	return info
}

// accountName resolves a display name, memoized per call. A missing account
// leaves the name empty.
func (p *RecurringInstanceProjector) accountName(ctx context.Context, memo map[string]string, accountID string) (string, error) {
	if name, ok := memo[accountID]; ok {
		return name, nil
	}
	acc, err := p.accounts.GetByID(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("load account %s: %w", accountID, err)
	}
	name := ""
	if acc != nil {
		name = acc.Name
	}
	memo[accountID] = name
	return name, nil
}
