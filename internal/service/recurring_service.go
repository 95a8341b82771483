package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/observability"
	"github.com/boddenberg/recurring-ledger-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var seriesTracer = otel.Tracer("service/recurring")

// cursorSearchLimit bounds the scan for the next open occurrence.
const cursorSearchLimit = 1000

// RecurringService holds the user commands that edit a series or its
// exception overlay: skip, edit-one, restore, edit-this-and-future, and
// pause/resume. Every command commits through the unit of work and keeps
// the NextOccurrence cursor pointing at the next open occurrence.
type RecurringService struct {
	stores  port.Stores
	now     port.Clock
	loc     *time.Location
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewRecurringService creates the command service. Nil clock and location
// mean time.Now and UTC.
func NewRecurringService(stores port.Stores, now port.Clock, loc *time.Location, metrics *observability.Metrics, logger *zap.Logger) *RecurringService {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &RecurringService{stores: stores, now: now, loc: loc, metrics: metrics, logger: logger}
}

func (r *RecurringService) today() domain.Date { return domain.DateOf(r.now().In(r.loc)) }

// seriesRef is a kind-neutral handle over one loaded series.
type seriesRef struct {
	id         string
	kind       domain.SeriesKind
	exceptions port.ExceptionStore

	currency func() string
	pattern  func() domain.RecurrencePattern
	realized func(ctx context.Context, date domain.Date) (bool, error)
	cursor   **domain.Date
	active   *bool
	apply    func(domain.SeriesChanges) error
	save     func(ctx context.Context, now time.Time) error
}

// withExceptions returns a copy reading exceptions through view. Staged
// exception writes are invisible until commit, so cursor math uses a view
// that already reflects them.
func (ref *seriesRef) withExceptions(view port.ExceptionStore) *seriesRef {
	c := *ref
	c.exceptions = view
	return &c
}

func (r *RecurringService) load(ctx context.Context, kind domain.SeriesKind, id string) (*seriesRef, error) {
	switch kind {
	case domain.SeriesKindTransaction:
		s, err := r.stores.Series.GetByID(ctx, id)
		if err != nil || s == nil {
			return nil, err
		}
		return &seriesRef{
			id:         s.ID,
			kind:       kind,
			exceptions: r.stores.Series,
			currency:   func() string { return s.Amount.Currency() },
			pattern:    func() domain.RecurrencePattern { return s.Pattern },
			realized: func(ctx context.Context, d domain.Date) (bool, error) {
				tx, err := r.stores.Transactions.GetByRecurringInstance(ctx, s.ID, d)
				return tx != nil, err
			},
			cursor: &s.NextOccurrence,
			active: &s.IsActive,
			apply: func(c domain.SeriesChanges) error {
				next := *s
				if c.Amount != nil {
					next.Amount = *c.Amount
				}
				if c.Description != nil {
					next.Description = *c.Description
				}
				if c.Pattern != nil {
					next.Pattern = *c.Pattern
				}
				if err := next.Validate(); err != nil {
					return err
				}
				*s = next
				return nil
			},
			save: func(ctx context.Context, now time.Time) error {
				s.UpdatedAt = now
				return r.stores.Series.Update(ctx, s)
			},
		}, nil

	case domain.SeriesKindTransfer:
		s, err := r.stores.Transfers.GetByID(ctx, id)
		if err != nil || s == nil {
			return nil, err
		}
		return &seriesRef{
			id:         s.ID,
			kind:       kind,
			exceptions: r.stores.Transfers,
			currency:   func() string { return s.Amount.Currency() },
			pattern:    func() domain.RecurrencePattern { return s.Pattern },
			realized: func(ctx context.Context, d domain.Date) (bool, error) {
				legs, err := r.stores.Transactions.GetByRecurringTransferInstance(ctx, s.ID, d)
				return len(legs) > 0, err
			},
			cursor: &s.NextOccurrence,
			active: &s.IsActive,
			apply: func(c domain.SeriesChanges) error {
				next := *s
				if c.Amount != nil {
					next.Amount = *c.Amount
				}
				if c.Description != nil {
					next.Description = *c.Description
				}
				if c.Pattern != nil {
					next.Pattern = *c.Pattern
				}
				if err := next.Validate(); err != nil {
					return err
				}
				*s = next
				return nil
			},
			save: func(ctx context.Context, now time.Time) error {
				s.UpdatedAt = now
				return r.stores.Transfers.Update(ctx, s)
			},
		}, nil
	}
	return nil, &domain.ErrValidation{Field: "kind", Message: fmt.Sprintf("unknown series kind %q", kind)}
}

// nextOpen returns the first occurrence on or after from that is neither
// realized nor excepted. pending holds exceptions staged in this command.
func (r *RecurringService) nextOpen(ctx context.Context, ref *seriesRef, from domain.Date, pending map[domain.Date]bool) (*domain.Date, error) {
	pattern := ref.pattern()
	d, ok := pattern.NextOnOrAfter(from)
	for i := 0; ok && i < cursorSearchLimit; i++ {
		open, err := r.isOpen(ctx, ref, d, pending)
		if err != nil {
			return nil, err
		}
		if open {
			return &d, nil
		}
		d, ok = pattern.NextOnOrAfter(d.AddDays(1))
	}
	return nil, nil
}

func (r *RecurringService) isOpen(ctx context.Context, ref *seriesRef, d domain.Date, pending map[domain.Date]bool) (bool, error) {
	if pending[d] {
		return false, nil
	}
	ex, err := ref.exceptions.GetExceptionByDate(ctx, ref.id, d)
	if err != nil {
		return false, err
	}
	if ex.IsSkipped() {
		return false, nil
	}
	realized, err := ref.realized(ctx, d)
	if err != nil {
		return false, err
	}
	return !realized, nil
}

// refreshCursor recomputes NextOccurrence from today and stages the series.
func (r *RecurringService) refreshCursor(ctx context.Context, ref *seriesRef, pending map[domain.Date]bool, now time.Time) error {
	next, err := r.nextOpen(ctx, ref, r.today(), pending)
	if err != nil {
		return err
	}
	*ref.cursor = next
	return ref.save(ctx, now)
}

// checkOccurrence rejects dates off the schedule and occurrences already realized.
func (r *RecurringService) checkOccurrence(ctx context.Context, ref *seriesRef, date domain.Date) error {
	if !ref.pattern().OccursOn(date) {
		return &domain.ErrValidation{Field: "date", Message: fmt.Sprintf("series %s has no occurrence on %s", ref.id, date)}
	}
	realized, err := ref.realized(ctx, date)
	if err != nil {
		return err
	}
	if realized {
		return &domain.ErrValidation{Field: "date", Message: "occurrence is already realized"}
	}
	return nil
}

// putException replaces whatever exception the occurrence had.
func (r *RecurringService) putException(ctx context.Context, ref *seriesRef, ex *domain.SeriesException) error {
	if err := ref.exceptions.RemoveException(ctx, ref.id, ex.OriginalDate); err != nil {
		return err
	}
	return ref.exceptions.AddException(ctx, ex)
}

// ============================================================
// Commands
// ============================================================

// SkipNext skips the next open occurrence on or after today and advances
// the cursor past it. A nil result means the series does not exist.
func (r *RecurringService) SkipNext(ctx context.Context, kind domain.SeriesKind, seriesID string, today domain.Date) (*domain.SeriesException, error) {
	ctx, span := seriesTracer.Start(ctx, "RecurringService.SkipNext")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", seriesID), attribute.String("series.kind", string(kind)))
	ctx = r.stores.UnitOfWork.Begin(ctx)

	ref, err := r.load(ctx, kind, seriesID)
	if err != nil || ref == nil {
		return nil, err
	}
	target, err := r.nextOpen(ctx, ref, today, nil)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, &domain.ErrValidation{Field: "series_id", Message: "series has no upcoming occurrence"}
	}

	now := r.now()
	ex := &domain.SeriesException{
		ID:           uuid.NewString(),
		SeriesID:     ref.id,
		OriginalDate: *target,
		Type:         domain.ExceptionSkipped,
		CreatedAt:    now,
	}
	if err := r.putException(ctx, ref, ex); err != nil {
		return nil, err
	}
	next, err := r.nextOpen(ctx, ref, today, map[domain.Date]bool{*target: true})
	if err != nil {
		return nil, err
	}
	*ref.cursor = next
	if err := ref.save(ctx, now); err != nil {
		return nil, err
	}
	if err := r.stores.UnitOfWork.SaveChanges(ctx); err != nil {
		return nil, fmt.Errorf("commit skip: %w", err)
	}

	r.logger.Info("next occurrence skipped", observability.SeriesFields(ref.id, *target)...)
	return ex, nil
}

// SkipInstance skips one scheduled occurrence. A nil result means the
// series does not exist.
func (r *RecurringService) SkipInstance(ctx context.Context, kind domain.SeriesKind, seriesID string, date domain.Date) (*domain.SeriesException, error) {
	ctx, span := seriesTracer.Start(ctx, "RecurringService.SkipInstance")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", seriesID), attribute.String("date", date.String()))
	ctx = r.stores.UnitOfWork.Begin(ctx)

	ref, err := r.load(ctx, kind, seriesID)
	if err != nil || ref == nil {
		return nil, err
	}
	if err := r.checkOccurrence(ctx, ref, date); err != nil {
		return nil, err
	}

	now := r.now()
	ex := &domain.SeriesException{
		ID:           uuid.NewString(),
		SeriesID:     ref.id,
		OriginalDate: date,
		Type:         domain.ExceptionSkipped,
		CreatedAt:    now,
	}
	if err := r.putException(ctx, ref, ex); err != nil {
		return nil, err
	}
	if err := r.refreshCursor(ctx, ref, map[domain.Date]bool{date: true}, now); err != nil {
		return nil, err
	}
	if err := r.stores.UnitOfWork.SaveChanges(ctx); err != nil {
		return nil, fmt.Errorf("commit skip: %w", err)
	}

	r.logger.Info("occurrence skipped", observability.SeriesFields(ref.id, date)...)
	return ex, nil
}

// ModifyInstance overrides amount, date or description of one occurrence.
// Later occurrences keep the original schedule. A nil result means the
// series does not exist.
func (r *RecurringService) ModifyInstance(ctx context.Context, kind domain.SeriesKind, seriesID string, date domain.Date, changes domain.InstanceChanges) (*domain.SeriesException, error) {
	ctx, span := seriesTracer.Start(ctx, "RecurringService.ModifyInstance")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", seriesID), attribute.String("date", date.String()))
	ctx = r.stores.UnitOfWork.Begin(ctx)

	ref, err := r.load(ctx, kind, seriesID)
	if err != nil || ref == nil {
		return nil, err
	}
	if err := changes.Validate(date, ref.currency()); err != nil {
		return nil, err
	}
	if kind == domain.SeriesKindTransfer && changes.Amount != nil && !changes.Amount.IsPositive() {
		return nil, &domain.ErrValidation{Field: "amount", Message: "transfer amount must be positive"}
	}
	if err := r.checkOccurrence(ctx, ref, date); err != nil {
		return nil, err
	}

	now := r.now()
	ex := changes.Apply(uuid.NewString(), ref.id, date, now)
	if err := r.putException(ctx, ref, ex); err != nil {
		return nil, err
	}
	// a modified occurrence is still open, whatever exception it had before
	next, err := r.nextOpen(ctx, ref.withExceptions(restoredView{ExceptionStore: ref.exceptions, date: date}), r.today(), nil)
	if err != nil {
		return nil, err
	}
	*ref.cursor = next
	if err := ref.save(ctx, now); err != nil {
		return nil, err
	}
	if err := r.stores.UnitOfWork.SaveChanges(ctx); err != nil {
		return nil, fmt.Errorf("commit modification: %w", err)
	}

	r.logger.Info("occurrence modified", observability.SeriesFields(ref.id, date)...)
	return ex, nil
}

// RestoreInstance removes the exception on one occurrence. found is false
// when the series or the exception does not exist.
func (r *RecurringService) RestoreInstance(ctx context.Context, kind domain.SeriesKind, seriesID string, date domain.Date) (bool, error) {
	ctx, span := seriesTracer.Start(ctx, "RecurringService.RestoreInstance")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", seriesID), attribute.String("date", date.String()))
	ctx = r.stores.UnitOfWork.Begin(ctx)

	ref, err := r.load(ctx, kind, seriesID)
	if err != nil || ref == nil {
		return false, err
	}
	ex, err := ref.exceptions.GetExceptionByDate(ctx, ref.id, date)
	if err != nil || ex == nil {
		return false, err
	}
	if err := ref.exceptions.RemoveException(ctx, ref.id, date); err != nil {
		return false, err
	}

	// the staged removal is not visible until commit
	next, err := r.nextOpen(ctx, ref.withExceptions(restoredView{ExceptionStore: ref.exceptions, date: date}), r.today(), nil)
	if err != nil {
		return false, err
	}
	now := r.now()
	*ref.cursor = next
	if err := ref.save(ctx, now); err != nil {
		return false, err
	}
	if err := r.stores.UnitOfWork.SaveChanges(ctx); err != nil {
		return false, fmt.Errorf("commit restore: %w", err)
	}

	r.logger.Info("occurrence restored", observability.SeriesFields(ref.id, date)...)
	return true, nil
}

// restoredView hides the exception on one date.
type restoredView struct {
	port.ExceptionStore
	date domain.Date
}

func (v restoredView) GetExceptionByDate(ctx context.Context, seriesID string, date domain.Date) (*domain.SeriesException, error) {
	if date.Equal(v.date) {
		return nil, nil
	}
	return v.ExceptionStore.GetExceptionByDate(ctx, seriesID, date)
}

// UpdateSeriesFrom edits the series definition and drops every exception
// dated on or after effectiveDate. Realized entries are left untouched.
// found is false when the series does not exist.
func (r *RecurringService) UpdateSeriesFrom(ctx context.Context, kind domain.SeriesKind, seriesID string, effectiveDate domain.Date, changes domain.SeriesChanges) (bool, error) {
	ctx, span := seriesTracer.Start(ctx, "RecurringService.UpdateSeriesFrom")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", seriesID), attribute.String("effective_date", effectiveDate.String()))
	ctx = r.stores.UnitOfWork.Begin(ctx)

	if changes.IsEmpty() {
		return false, &domain.ErrValidation{Field: "changes", Message: "at least one of amount, description or pattern is required"}
	}
	ref, err := r.load(ctx, kind, seriesID)
	if err != nil || ref == nil {
		return false, err
	}
	if err := ref.apply(changes); err != nil {
		return false, err
	}
	if err := ref.exceptions.RemoveExceptionsFromDate(ctx, ref.id, effectiveDate); err != nil {
		return false, err
	}

	from := r.today()
	if effectiveDate.After(from) {
		from = effectiveDate
	}
	next, err := r.nextOpen(ctx, ref.withExceptions(clearedFromView{ExceptionStore: ref.exceptions, from: effectiveDate}), from, nil)
	if err != nil {
		return false, err
	}
	now := r.now()
	*ref.cursor = next
	if err := ref.save(ctx, now); err != nil {
		return false, err
	}
	if err := r.stores.UnitOfWork.SaveChanges(ctx); err != nil {
		return false, fmt.Errorf("commit series update: %w", err)
	}

	r.logger.Info("series updated", observability.SeriesFields(ref.id, effectiveDate)...)
	return true, nil
}

// clearedFromView hides exceptions dated on or after from.
type clearedFromView struct {
	port.ExceptionStore
	from domain.Date
}

func (v clearedFromView) GetExceptionByDate(ctx context.Context, seriesID string, date domain.Date) (*domain.SeriesException, error) {
	if !date.Before(v.from) {
		return nil, nil
	}
	return v.ExceptionStore.GetExceptionByDate(ctx, seriesID, date)
}

// SetActive pauses or resumes a series. Resuming recomputes the cursor from
// today; pausing clears it. found is false when the series does not exist.
func (r *RecurringService) SetActive(ctx context.Context, kind domain.SeriesKind, seriesID string, active bool) (bool, error) {
	ctx, span := seriesTracer.Start(ctx, "RecurringService.SetActive")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", seriesID), attribute.Bool("active", active))
	ctx = r.stores.UnitOfWork.Begin(ctx)

	ref, err := r.load(ctx, kind, seriesID)
	if err != nil || ref == nil {
		return false, err
	}
	*ref.active = active

	now := r.now()
	if active {
		if err := r.refreshCursor(ctx, ref, nil, now); err != nil {
			return false, err
		}
	} else {
		*ref.cursor = nil
		if err := ref.save(ctx, now); err != nil {
			return false, err
		}
	}
	if err := r.stores.UnitOfWork.SaveChanges(ctx); err != nil {
		return false, fmt.Errorf("commit series state: %w", err)
	}

	r.logger.Info("series state changed", zap.String("series_id", ref.id), zap.Bool("active", active))
	return true, nil
}
