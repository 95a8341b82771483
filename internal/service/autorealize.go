package service

import (
	"context"
	"errors"
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

var realizeTracer = otel.Tracer("service/autorealize")

// AutoRealizeEngine materializes past-due occurrences into ledger entries.
// One pass covers [today-lookback, today-1]; today's occurrences stay
// projected until the next day or a manual realization.
type AutoRealizeEngine struct {
	stores            port.Stores
	projector         *RecurringInstanceProjector
	transferProjector *RecurringTransferInstanceProjector
	now               port.Clock
	metrics           *observability.Metrics
	logger            *zap.Logger
}

// NewAutoRealizeEngine creates the engine. A nil clock means time.Now.
func NewAutoRealizeEngine(stores port.Stores, projector *RecurringInstanceProjector, transferProjector *RecurringTransferInstanceProjector, now port.Clock, metrics *observability.Metrics, logger *zap.Logger) *AutoRealizeEngine {
	if now == nil {
		now = time.Now
	}
	return &AutoRealizeEngine{
		stores:            stores,
		projector:         projector,
		transferProjector: transferProjector,
		now:               now,
		metrics:           metrics,
		logger:            logger,
	}
}

// lookbackWindow returns the inclusive auto-realize window for today.
func lookbackWindow(today domain.Date, settings domain.Settings) (domain.Date, domain.Date, error) {
	if err := settings.Validate(); err != nil {
		return domain.Date{}, domain.Date{}, err
	}
	return today.AddDays(-settings.LookbackDays), today.AddDays(-1), nil
}

// AutoRealizePastDueItemsIfEnabled runs one auto-realize pass. It is a no-op
// when the setting is off. All entries created by the pass are committed by
// a single SaveChanges; a second run over the same window creates nothing.
func (e *AutoRealizeEngine) AutoRealizePastDueItemsIfEnabled(ctx context.Context, today domain.Date, accountID string) (*domain.AutoRealizeResult, error) {
	ctx, span := realizeTracer.Start(ctx, "AutoRealizeEngine.AutoRealizePastDueItemsIfEnabled")
	defer span.End()
	span.SetAttributes(attribute.String("today", today.String()), attribute.String("account.id", accountID))
	ctx = e.stores.UnitOfWork.Begin(ctx)
	start := time.Now()
	defer func() { e.metrics.RecordOperation("auto_realize", time.Since(start)) }()

	settings, err := e.stores.Settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !settings.AutoRealizeEnabled {
		return &domain.AutoRealizeResult{Enabled: false}, nil
	}
	windowStart, windowEnd, err := lookbackWindow(today, settings)
	if err != nil {
		return nil, err
	}

	result := &domain.AutoRealizeResult{Enabled: true, WindowStart: windowStart, WindowEnd: windowEnd}
	now := e.now()

	if err := e.realizeTransactions(ctx, today, accountID, now, result); err != nil {
		return nil, err
	}
	if err := e.realizeTransfers(ctx, today, accountID, now, result); err != nil {
		return nil, err
	}

	if result.TransactionsCreated+result.TransfersCreated > 0 {
		if err := e.stores.UnitOfWork.SaveChanges(ctx); err != nil {
			e.logger.Error("auto-realize commit failed", zap.Error(err))
			return nil, fmt.Errorf("commit auto-realize: %w", err)
		}
	}

	e.metrics.AddAutoRealized("transaction", result.TransactionsCreated)
	e.metrics.AddAutoRealized("transfer", result.TransfersCreated)
	e.logger.Info("auto-realize pass complete",
		zap.String("window_start", windowStart.String()),
		zap.String("window_end", windowEnd.String()),
		zap.Int("transactions_created", result.TransactionsCreated),
		zap.Int("transfers_created", result.TransfersCreated),
		zap.Int("series_skipped", len(result.SkippedSeries)),
	)
	return result, nil
}

func (e *AutoRealizeEngine) realizeTransactions(ctx context.Context, today domain.Date, accountID string, now time.Time, result *domain.AutoRealizeResult) error {
	series, err := activeSeries(ctx, e.stores.Series, accountID)
	if err != nil {
		return err
	}

	for i := range series {
		s := &series[i]
		if err := e.checkSeries(ctx, s); err != nil {
			if !isValidation(err) {
				return err
			}
			e.skip(result, s.ID, err)
			continue
		}
		instances, err := e.projector.ProjectSeries(ctx, s, result.WindowStart, result.WindowEnd, ProjectionOptions{})
		if err != nil {
			return err
		}
		if len(instances) == 0 {
			continue
		}

		var last domain.Date
		for _, inst := range instances {
			tx := realizedTransaction(s, inst, now)
			if err := e.stores.Transactions.Add(ctx, tx); err != nil {
				return fmt.Errorf("stage realized transaction: %w", err)
			}
			result.CreatedIDs = append(result.CreatedIDs, tx.ID)
			result.TransactionsCreated++
			if inst.OriginalDate.After(last) {
				last = inst.OriginalDate
			}
		}

		advanceCursor(&s.NextOccurrence, &s.LastRealizedDate, s.Pattern, today, last)
		s.UpdatedAt = now
		if err := e.stores.Series.Update(ctx, s); err != nil {
			return fmt.Errorf("stage series cursor: %w", err)
		}
	}
	return nil
}

func (e *AutoRealizeEngine) realizeTransfers(ctx context.Context, today domain.Date, accountID string, now time.Time, result *domain.AutoRealizeResult) error {
	transfers, err := activeTransfers(ctx, e.stores.Transfers, accountID)
	if err != nil {
		return err
	}

	for i := range transfers {
		s := &transfers[i]
		if err := e.checkTransfer(ctx, s); err != nil {
			if !isValidation(err) {
				return err
			}
			e.skip(result, s.ID, err)
			continue
		}
		legs, err := e.transferProjector.ProjectSeries(ctx, s, result.WindowStart, result.WindowEnd, "", ProjectionOptions{})
		if err != nil {
			return err
		}

		var last domain.Date
		for _, leg := range legs {
			if leg.Direction != domain.TransferSource {
				continue
			}
			source, destination := realizedTransferPair(s, leg, now)
			for _, tx := range []*domain.Transaction{source, destination} {
				if err := e.stores.Transactions.Add(ctx, tx); err != nil {
					return fmt.Errorf("stage realized transfer leg: %w", err)
				}
				result.CreatedIDs = append(result.CreatedIDs, tx.ID)
			}
			result.TransfersCreated++
			if leg.OriginalDate.After(last) {
				last = leg.OriginalDate
			}
		}
		if last.IsZero() {
			continue
		}

		advanceCursor(&s.NextOccurrence, &s.LastRealizedDate, s.Pattern, today, last)
		s.UpdatedAt = now
		if err := e.stores.Transfers.Update(ctx, s); err != nil {
			return fmt.Errorf("stage transfer cursor: %w", err)
		}
	}
	return nil
}

// checkSeries rejects a series the pass cannot realize; the pass skips it.
func (e *AutoRealizeEngine) checkSeries(ctx context.Context, s *domain.RecurringTransaction) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return requireAccountCurrency(ctx, e.stores.Accounts, s.AccountID, s.Amount.Currency())
}

func (e *AutoRealizeEngine) checkTransfer(ctx context.Context, s *domain.RecurringTransfer) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := requireAccountCurrency(ctx, e.stores.Accounts, s.SourceAccountID, s.Amount.Currency()); err != nil {
		return err
	}
	return requireAccountCurrency(ctx, e.stores.Accounts, s.DestinationAccountID, s.Amount.Currency())
}

func (e *AutoRealizeEngine) skip(result *domain.AutoRealizeResult, seriesID string, err error) {
	e.logger.Warn("auto-realize skipped series", zap.String("series_id", seriesID), zap.Error(err))
	e.metrics.IncrSkipped("auto_realize")
	result.SkippedSeries = append(result.SkippedSeries, seriesID)
}

// ============================================================
// Preview and manual realization
// ============================================================

// PreviewPastDueItems lists what a pass would realize now, without writing.
// It ignores the enabled flag so the caller can show what is pending.
func (e *AutoRealizeEngine) PreviewPastDueItems(ctx context.Context, today domain.Date, accountID string) (*domain.PastDueItems, error) {
	ctx, span := realizeTracer.Start(ctx, "AutoRealizeEngine.PreviewPastDueItems")
	defer span.End()

	settings, err := e.stores.Settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	windowStart, windowEnd, err := lookbackWindow(today, settings)
	if err != nil {
		return nil, err
	}
	out := &domain.PastDueItems{
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		Transactions: []domain.RecurringInstanceInfo{},
		Transfers:    []domain.RecurringTransferInstanceInfo{},
	}

	series, err := activeSeries(ctx, e.stores.Series, accountID)
	if err != nil {
		return nil, err
	}
	calendar, err := e.projector.GetInstancesByDateRange(ctx, series, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	out.Transactions = append(out.Transactions, calendar.Flatten()...)

	transfers, err := activeTransfers(ctx, e.stores.Transfers, accountID)
	if err != nil {
		return nil, err
	}
	legs, err := e.transferProjector.GetInstancesByDateRange(ctx, transfers, windowStart, windowEnd, "")
	if err != nil {
		return nil, err
	}
	out.Transfers = append(out.Transfers, legs.Flatten()...)

	oldest := func(d domain.Date) {
		if out.OldestDate == nil || d.Before(*out.OldestDate) {
			d := d
			out.OldestDate = &d
		}
	}
	if len(out.Transactions) > 0 {
		oldest(out.Transactions[0].Date)
	}
	if len(out.Transfers) > 0 {
		oldest(out.Transfers[0].Date)
	}
	return out, nil
}

// RealizeInstance manually realizes one occurrence, keyed by its scheduled
// date. Today is allowed; future occurrences are rejected. Realizing an
// occurrence twice returns the existing entry. A nil result means the series
// does not exist.
func (e *AutoRealizeEngine) RealizeInstance(ctx context.Context, seriesID string, instanceDate, today domain.Date) (*domain.Transaction, error) {
	ctx, span := realizeTracer.Start(ctx, "AutoRealizeEngine.RealizeInstance")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", seriesID), attribute.String("instance.date", instanceDate.String()))
	ctx = e.stores.UnitOfWork.Begin(ctx)

	s, err := e.stores.Series.GetByID(ctx, seriesID)
	if err != nil || s == nil {
		return nil, err
	}
	if err := e.checkSeries(ctx, s); err != nil {
		return nil, err
	}
	existing, err := e.stores.Transactions.GetByRecurringInstance(ctx, s.ID, instanceDate)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	inst, err := e.manualInstance(ctx, s.ID, s.Pattern, e.stores.Series, instanceDate, today)
	if err != nil {
		return nil, err
	}
	info := instanceInfo(s, "", inst, false)

	now := e.now()
	tx := realizedTransaction(s, info, now)
	if err := e.stores.Transactions.Add(ctx, tx); err != nil {
		return nil, err
	}
	advanceCursor(&s.NextOccurrence, &s.LastRealizedDate, s.Pattern, today, instanceDate)
	s.UpdatedAt = now
	if err := e.stores.Series.Update(ctx, s); err != nil {
		return nil, err
	}
	if err := e.stores.UnitOfWork.SaveChanges(ctx); err != nil {
		return nil, fmt.Errorf("commit realized instance: %w", err)
	}

	e.logger.Info("recurring instance realized", observability.SeriesFields(s.ID, instanceDate)...)
	return tx, nil
}

// RealizeTransferInstance manually realizes one transfer occurrence and
// returns both legs, source first.
func (e *AutoRealizeEngine) RealizeTransferInstance(ctx context.Context, seriesID string, instanceDate, today domain.Date) ([]domain.Transaction, error) {
	ctx, span := realizeTracer.Start(ctx, "AutoRealizeEngine.RealizeTransferInstance")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", seriesID), attribute.String("instance.date", instanceDate.String()))
	ctx = e.stores.UnitOfWork.Begin(ctx)

	s, err := e.stores.Transfers.GetByID(ctx, seriesID)
	if err != nil || s == nil {
		return nil, err
	}
	if err := e.checkTransfer(ctx, s); err != nil {
		return nil, err
	}
	existing, err := e.stores.Transactions.GetByRecurringTransferInstance(ctx, s.ID, instanceDate)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return sortLegs(existing), nil
	}

	inst, err := e.manualInstance(ctx, s.ID, s.Pattern, e.stores.Transfers, instanceDate, today)
	if err != nil {
		return nil, err
	}
	legs := transferLegs(s, inst, false)

	now := e.now()
	source, destination := realizedTransferPair(s, legs[0], now)
	for _, tx := range []*domain.Transaction{source, destination} {
		if err := e.stores.Transactions.Add(ctx, tx); err != nil {
			return nil, err
		}
	}
	advanceCursor(&s.NextOccurrence, &s.LastRealizedDate, s.Pattern, today, instanceDate)
	s.UpdatedAt = now
	if err := e.stores.Transfers.Update(ctx, s); err != nil {
		return nil, err
	}
	if err := e.stores.UnitOfWork.SaveChanges(ctx); err != nil {
		return nil, fmt.Errorf("commit realized transfer: %w", err)
	}

	e.logger.Info("recurring transfer realized", observability.SeriesFields(s.ID, instanceDate)...)
	return []domain.Transaction{*source, *destination}, nil
}

// manualInstance resolves a scheduled date to its occurrence, rejecting
// dates off the schedule, skipped occurrences and future effective dates.
func (e *AutoRealizeEngine) manualInstance(ctx context.Context, seriesID string, pattern domain.RecurrencePattern, exceptions port.ExceptionStore, instanceDate, today domain.Date) (occurrence, error) {
	if !pattern.OccursOn(instanceDate) {
		return occurrence{}, &domain.ErrValidation{Field: "instance_date", Message: fmt.Sprintf("series %s has no occurrence on %s", seriesID, instanceDate)}
	}
	ex, err := exceptions.GetExceptionByDate(ctx, seriesID, instanceDate)
	if err != nil {
		return occurrence{}, err
	}
	o := occurrence{original: instanceDate, effective: instanceDate, exception: ex}
	if o.skipped() {
		return occurrence{}, &domain.ErrValidation{Field: "instance_date", Message: "occurrence is skipped"}
	}
	if o.modified() && ex.ModifiedDate != nil {
		o.effective = *ex.ModifiedDate
	}
	if o.effective.After(today) {
		return occurrence{}, &domain.ErrValidation{Field: "instance_date", Message: "cannot realize a future occurrence"}
	}
	return o, nil
}

// ============================================================
// Helpers shared with the other services
// ============================================================

func realizedTransaction(s *domain.RecurringTransaction, inst domain.RecurringInstanceInfo, now time.Time) *domain.Transaction {
	tx := &domain.Transaction{
		ID:          uuid.NewString(),
		AccountID:   s.AccountID,
		Amount:      inst.Amount,
		Date:        inst.Date,
		Description: inst.Description,
		Category:    s.Category,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx.LinkToSeries(s.ID, inst.OriginalDate)
	return tx
}

func realizedTransferPair(s *domain.RecurringTransfer, leg domain.RecurringTransferInstanceInfo, now time.Time) (*domain.Transaction, *domain.Transaction) {
	source, destination := domain.NewTransferPair(uuid.NewString(), s.SourceAccountID, s.DestinationAccountID, leg.Amount, leg.Date, leg.Description, now)
	for _, tx := range []*domain.Transaction{source, destination} {
		tx.ID = uuid.NewString()
		tx.RecurringTransferID = s.ID
		d := leg.OriginalDate
		tx.RecurringInstanceDate = &d
	}
	return source, destination
}

// advanceCursor moves NextOccurrence to the first occurrence on or after
// today and records the latest realized scheduled date.
func advanceCursor(next, lastRealized **domain.Date, pattern domain.RecurrencePattern, today, realized domain.Date) {
	if *lastRealized == nil || realized.After(**lastRealized) {
		r := realized
		*lastRealized = &r
	}
	if d, ok := pattern.NextOnOrAfter(today); ok {
		*next = &d
	} else {
		*next = nil
	}
}

func sortLegs(legs []domain.Transaction) []domain.Transaction {
	out := make([]domain.Transaction, 0, len(legs))
	for _, dir := range []domain.TransferDirection{domain.TransferSource, domain.TransferDestination} {
		for _, l := range legs {
			if l.TransferDirection == dir {
				out = append(out, l)
			}
		}
	}
	return out
}

func activeSeries(ctx context.Context, store port.RecurringTransactionStore, accountID string) ([]domain.RecurringTransaction, error) {
	if accountID == "" {
		series, err := store.GetActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("load active series: %w", err)
		}
		return series, nil
	}
	all, err := store.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load series for account %s: %w", accountID, err)
	}
	var out []domain.RecurringTransaction
	for _, s := range all {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func activeTransfers(ctx context.Context, store port.RecurringTransferStore, accountID string) ([]domain.RecurringTransfer, error) {
	if accountID == "" {
		transfers, err := store.GetActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("load active transfers: %w", err)
		}
		return transfers, nil
	}
	all, err := store.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load transfers for account %s: %w", accountID, err)
	}
	var out []domain.RecurringTransfer
	for _, s := range all {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func isValidation(err error) bool {
	var valErr *domain.ErrValidation
	return errors.As(err, &valErr)
}

// requireAccountCurrency fails when the account is missing or holds another currency.
func requireAccountCurrency(ctx context.Context, accounts port.AccountStore, accountID, currency string) error {
	acc, err := accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if acc == nil {
		return &domain.ErrValidation{Field: "account_id", Message: fmt.Sprintf("account %s does not exist", accountID)}
	}
	if acc.Currency != currency {
		return &domain.ErrValidation{Field: "currency", Message: fmt.Sprintf("series currency %s does not match account %s currency %s", currency, accountID, acc.Currency)}
	}
	return nil
}
