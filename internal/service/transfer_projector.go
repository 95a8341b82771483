package service

import (
	"context"
	"fmt"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/observability"
	"github.com/boddenberg/recurring-ledger-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RecurringTransferInstanceProjector turns recurring transfers into legs.
// Each occurrence yields a negative source leg and a positive destination
// leg; an account filter keeps only the legs touching that account.
type RecurringTransferInstanceProjector struct {
	transfers    port.RecurringTransferStore
	transactions port.TransactionStore
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewRecurringTransferInstanceProjector creates a projector over the given stores.
func NewRecurringTransferInstanceProjector(stores port.Stores, metrics *observability.Metrics, logger *zap.Logger) *RecurringTransferInstanceProjector {
	return &RecurringTransferInstanceProjector{
		transfers:    stores.Transfers,
		transactions: stores.Transactions,
		metrics:      metrics,
		logger:       logger,
	}
}

// GetInstancesByDateRange projects every transfer over [start, end].
// An empty accountID returns both legs of every occurrence.
func (p *RecurringTransferInstanceProjector) GetInstancesByDateRange(ctx context.Context, series []domain.RecurringTransfer, start, end domain.Date, accountID string) (domain.InstanceCalendar[domain.RecurringTransferInstanceInfo], error) {
	ctx, span := projTracer.Start(ctx, "RecurringTransferInstanceProjector.GetInstancesByDateRange")
	defer span.End()
	span.SetAttributes(
		attribute.Int("series.count", len(series)),
		attribute.String("account.id", accountID),
	)

	if end.Before(start) {
		return nil, &domain.ErrValidation{Field: "end", Message: "must not be before start"}
	}

	calendar := make(domain.InstanceCalendar[domain.RecurringTransferInstanceInfo])
	for i := range series {
		s := &series[i]
		if err := s.Validate(); err != nil {
			p.logger.Warn("skipping invalid recurring transfer", zap.String("series_id", s.ID), zap.Error(err))
			p.metrics.IncrSkipped("projection")
			continue
		}
		if accountID != "" && !s.Touches(accountID) {
			continue
		}
		legs, err := p.project(ctx, s, start, end, accountID, ProjectionOptions{})
		if err != nil {
			return nil, err
		}
		for _, leg := range legs {
			calendar[leg.Date] = append(calendar[leg.Date], leg)
		}
	}
	return calendar, nil
}

// GetInstancesForDate projects every transfer on a single day.
func (p *RecurringTransferInstanceProjector) GetInstancesForDate(ctx context.Context, series []domain.RecurringTransfer, date domain.Date, accountID string) ([]domain.RecurringTransferInstanceInfo, error) {
	calendar, err := p.GetInstancesByDateRange(ctx, series, date, date, accountID)
	if err != nil {
		return nil, err
	}
	return calendar[date], nil
}

// ProjectSeries projects one transfer over [start, end], source leg first.
func (p *RecurringTransferInstanceProjector) ProjectSeries(ctx context.Context, s *domain.RecurringTransfer, start, end domain.Date, accountID string, opts ProjectionOptions) ([]domain.RecurringTransferInstanceInfo, error) {
	ctx, span := projTracer.Start(ctx, "RecurringTransferInstanceProjector.ProjectSeries")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", s.ID))

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return p.project(ctx, s, start, end, accountID, opts)
}

// ProjectSeriesByID loads one transfer and projects both legs. found is
// false when the transfer does not exist.
func (p *RecurringTransferInstanceProjector) ProjectSeriesByID(ctx context.Context, seriesID string, start, end domain.Date, opts ProjectionOptions) (legs []domain.RecurringTransferInstanceInfo, found bool, err error) {
	s, err := p.transfers.GetByID(ctx, seriesID)
	if err != nil || s == nil {
		return nil, false, err
	}
	legs, err = p.ProjectSeries(ctx, s, start, end, "", opts)
	return legs, true, err
}

func (p *RecurringTransferInstanceProjector) project(ctx context.Context, s *domain.RecurringTransfer, start, end domain.Date, accountID string, opts ProjectionOptions) ([]domain.RecurringTransferInstanceInfo, error) {
	occs, err := expandOccurrences(ctx, p.transfers, s.ID, s.Pattern, start, end)
	if err != nil {
		return nil, err
	}

	var out []domain.RecurringTransferInstanceInfo
	for _, o := range occs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if o.skipped() && !opts.IncludeSkipped {
			continue
		}
		legs, err := p.transactions.GetByRecurringTransferInstance(ctx, s.ID, o.original)
		if err != nil {
			return nil, fmt.Errorf("realized lookup for transfer %s on %s: %w", s.ID, o.original, err)
		}
		realized := len(legs) > 0
		if realized && !opts.IncludeRealized {
			continue
		}
		for _, leg := range transferLegs(s, o, realized) {
			if accountID == "" || leg.AccountID == accountID {
				out = append(out, leg)
			}
		}
	}
	return out, nil
}

func transferLegs(s *domain.RecurringTransfer, o occurrence, realized bool) [2]domain.RecurringTransferInstanceInfo {
	amount := s.Amount
	description := s.Description
	if o.modified() {
		if o.exception.ModifiedAmount != nil {
			amount = *o.exception.ModifiedAmount
		}
		if o.exception.ModifiedDescription != nil {
			description = *o.exception.ModifiedDescription
		}
	}
	magnitude := amount.Abs()

	base := domain.RecurringTransferInstanceInfo{
		SeriesID:     s.ID,
		Date:         o.effective,
		OriginalDate: o.original,
		Description:  description,
		IsException:  o.exception != nil,
		IsModified:   o.modified(),
		IsSkipped:    o.skipped(),
		IsRealized:   realized,
	}

	source := base
	source.AccountID = s.SourceAccountID
	source.CounterpartAccountID = s.DestinationAccountID
	source.Direction = domain.TransferSource
	source.Amount = magnitude.Neg()

	destination := base
	destination.AccountID = s.DestinationAccountID
	destination.CounterpartAccountID = s.SourceAccountID
	destination.Direction = domain.TransferDestination
	destination.Amount = magnitude

	return [2]domain.RecurringTransferInstanceInfo{source, destination}
}
