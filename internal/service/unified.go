package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/observability"
	"github.com/boddenberg/recurring-ledger-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ledgerTracer = otel.Tracer("service/unified")

// UnifiedLedgerService merges realized entries with projected occurrences
// into one chronological view with running balances.
type UnifiedLedgerService struct {
	stores            port.Stores
	projector         *RecurringInstanceProjector
	transferProjector *RecurringTransferInstanceProjector
	metrics           *observability.Metrics
	logger            *zap.Logger
}

// NewUnifiedLedgerService creates the merger.
func NewUnifiedLedgerService(stores port.Stores, projector *RecurringInstanceProjector, transferProjector *RecurringTransferInstanceProjector, metrics *observability.Metrics, logger *zap.Logger) *UnifiedLedgerService {
	return &UnifiedLedgerService{
		stores:            stores,
		projector:         projector,
		transferProjector: transferProjector,
		metrics:           metrics,
		logger:            logger,
	}
}

// accumulator sums Money and keeps the first currency error.
type accumulator struct {
	total domain.Money
	err   error
}

func (a *accumulator) add(m domain.Money) {
	if a.err != nil {
		return
	}
	a.total, a.err = a.total.Add(m)
}

// ledgerInputs is everything one unified view reads, fetched concurrently.
type ledgerInputs struct {
	accounts     []domain.Account
	transactions []domain.Transaction
	prior        []domain.Transaction
	series       []domain.RecurringTransaction
	transfers    []domain.RecurringTransfer
}

func (u *UnifiedLedgerService) load(ctx context.Context, accountID string, start, end domain.Date) (*ledgerInputs, error) {
	in := &ledgerInputs{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		in.accounts, err = u.stores.Accounts.GetAll(gctx)
		return err
	})
	g.Go(func() (err error) {
		in.transactions, err = u.stores.Transactions.GetByDateRange(gctx, start, end, accountID)
		return err
	})
	g.Go(func() (err error) {
		in.prior, err = u.stores.Transactions.GetBefore(gctx, start, accountID)
		return err
	})
	g.Go(func() (err error) {
		in.series, err = activeSeries(gctx, u.stores.Series, accountID)
		return err
	})
	g.Go(func() (err error) {
		in.transfers, err = activeTransfers(gctx, u.stores.Transfers, accountID)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load unified ledger inputs: %w", err)
	}
	return in, nil
}

// GetUnifiedList builds the merged view over [start, end]. An empty
// accountID covers every account, which must then share one currency.
// A nil result means the account does not exist.
func (u *UnifiedLedgerService) GetUnifiedList(ctx context.Context, accountID string, start, end domain.Date) (*domain.UnifiedLedger, error) {
	ctx, span := ledgerTracer.Start(ctx, "UnifiedLedgerService.GetUnifiedList")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", accountID),
		attribute.String("range.start", start.String()),
		attribute.String("range.end", end.String()),
	)
	began := time.Now()
	defer func() { u.metrics.RecordOperation("unified_list", time.Since(began)) }()

	if end.Before(start) {
		return nil, &domain.ErrValidation{Field: "end", Message: "must not be before start"}
	}

	in, err := u.load(ctx, accountID, start, end)
	if err != nil {
		return nil, err
	}
	accounts, currency, found, err := scopeAccounts(in.accounts, accountID)
	if err != nil || !found {
		return nil, err
	}

	opening := accumulator{total: domain.Zero(currency)}
	openedInRange := make(map[domain.Date]*accumulator)
	names := make(map[string]string, len(in.accounts))
	for _, acc := range in.accounts {
		names[acc.ID] = acc.Name
	}
	for _, acc := range accounts {
		switch {
		case acc.OpenedOn.IsZero() || acc.OpenedOn.Before(start):
			opening.add(acc.InitialBalance)
		case !acc.OpenedOn.After(end):
			bucket, ok := openedInRange[acc.OpenedOn]
			if !ok {
				bucket = &accumulator{total: domain.Zero(currency)}
				openedInRange[acc.OpenedOn] = bucket
			}
			bucket.add(acc.InitialBalance)
		}
	}
	for _, tx := range in.prior {
		opening.add(tx.Amount)
	}
	if opening.err != nil {
		return nil, opening.err
	}

	items, err := u.mergeItems(ctx, in, names, accountID, start, end)
	if err != nil {
		return nil, err
	}

	ledger := &domain.UnifiedLedger{
		AccountID: accountID,
		Currency:  currency,
		StartDate: start,
		EndDate:   end,
		Items:     items,
	}
	if err := walkBalances(ledger, opening.total, openedInRange); err != nil {
		return nil, err
	}
	return ledger, nil
}

// mergeItems combines actual entries with the projected occurrences that
// have no realized counterpart, ordered ascending by date. On a shared date
// actual entries come first, then creation order.
func (u *UnifiedLedgerService) mergeItems(ctx context.Context, in *ledgerInputs, names map[string]string, accountID string, start, end domain.Date) ([]domain.UnifiedItem, error) {
	counterparts, err := u.transferCounterparts(ctx, in.transactions)
	if err != nil {
		return nil, err
	}

	realized := make(map[string]bool)
	items := make([]domain.UnifiedItem, 0, len(in.transactions))
	for _, tx := range in.transactions {
		item := domain.UnifiedItem{
			Kind:                 domain.ItemTransaction,
			ID:                   tx.ID,
			Date:                 tx.Date,
			AccountID:            tx.AccountID,
			AccountName:          names[tx.AccountID],
			Description:          tx.Description,
			Category:             tx.Category,
			Amount:               tx.Amount,
			InstanceDate:         tx.RecurringInstanceDate,
			TransferID:           tx.TransferID,
			TransferDirection:    tx.TransferDirection,
			CounterpartAccountID: counterparts[tx.ID],
			CreatedAt:            tx.CreatedAt,
		}
		switch {
		case tx.RecurringSeriesID != "" && tx.RecurringInstanceDate != nil:
			item.SeriesID = tx.RecurringSeriesID
			realized[realizedKey(tx.RecurringSeriesID, *tx.RecurringInstanceDate, "")] = true
		case tx.RecurringTransferID != "" && tx.RecurringInstanceDate != nil:
			item.SeriesID = tx.RecurringTransferID
			realized[realizedKey(tx.RecurringTransferID, *tx.RecurringInstanceDate, tx.AccountID)] = true
		}
		items = append(items, item)
	}

	recurring, err := u.projector.GetInstancesByDateRange(ctx, in.series, start, end)
	if err != nil {
		return nil, err
	}
	for _, inst := range recurring.Flatten() {
		if realized[realizedKey(inst.SeriesID, inst.OriginalDate, "")] {
			continue
		}
		original := inst.OriginalDate
		items = append(items, domain.UnifiedItem{
			Kind:         domain.ItemRecurring,
			ID:           inst.SeriesID + ":" + original.String(),
			Date:         inst.Date,
			AccountID:    inst.AccountID,
			AccountName:  names[inst.AccountID],
			Description:  inst.Description,
			Category:     inst.Category,
			Amount:       inst.Amount,
			SeriesID:     inst.SeriesID,
			InstanceDate: &original,
			IsModified:   inst.IsModified,
		})
	}

	transfers, err := u.transferProjector.GetInstancesByDateRange(ctx, in.transfers, start, end, accountID)
	if err != nil {
		return nil, err
	}
	for _, leg := range transfers.Flatten() {
		if realized[realizedKey(leg.SeriesID, leg.OriginalDate, leg.AccountID)] {
			continue
		}
		original := leg.OriginalDate
		items = append(items, domain.UnifiedItem{
			Kind:                 domain.ItemRecurringTransfer,
			ID:                   leg.SeriesID + ":" + original.String() + ":" + string(leg.Direction),
			Date:                 leg.Date,
			AccountID:            leg.AccountID,
			AccountName:          names[leg.AccountID],
			Description:          leg.Description,
			Amount:               leg.Amount,
			SeriesID:             leg.SeriesID,
			InstanceDate:         &original,
			TransferDirection:    leg.Direction,
			CounterpartAccountID: leg.CounterpartAccountID,
			IsModified:           leg.IsModified,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if c := a.Date.Compare(b.Date); c != 0 {
			return c < 0
		}
		if a.IsProjected() != b.IsProjected() {
			return !a.IsProjected()
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return items, nil
}

func realizedKey(seriesID string, date domain.Date, accountID string) string {
	return seriesID + "|" + date.String() + "|" + accountID
}

// transferCounterparts maps each transfer leg to the other leg's account,
// fetching the missing leg when the range or account filter cut it off.
func (u *UnifiedLedgerService) transferCounterparts(ctx context.Context, txs []domain.Transaction) (map[string]string, error) {
	legs := make(map[string][]domain.Transaction)
	for _, tx := range txs {
		if tx.IsTransfer() {
			legs[tx.TransferID] = append(legs[tx.TransferID], tx)
		}
	}

	out := make(map[string]string)
	for transferID, pair := range legs {
		if len(pair) < 2 {
			full, err := u.stores.Transactions.GetByTransferID(ctx, transferID)
			if err != nil {
				return nil, fmt.Errorf("load transfer %s: %w", transferID, err)
			}
			pair = full
		}
		for _, a := range pair {
			for _, b := range pair {
				if a.ID != b.ID {
					out[a.ID] = b.AccountID
				}
			}
		}
	}
	return out, nil
}

// walkBalances fills running balances, daily totals (descending) and the summary.
func walkBalances(ledger *domain.UnifiedLedger, opening domain.Money, openedInRange map[domain.Date]*accumulator) error {
	currency := ledger.Currency
	zero := domain.Zero(currency)

	byDate := make(map[domain.Date][]int)
	for i, item := range ledger.Items {
		byDate[item.Date] = append(byDate[item.Date], i)
	}
	dates := make([]domain.Date, 0, len(byDate)+len(openedInRange))
	for d := range byDate {
		dates = append(dates, d)
	}
	for d := range openedInRange {
		if _, ok := byDate[d]; !ok {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	running := accumulator{total: opening}
	actualIncome, actualExpenses := accumulator{total: zero}, accumulator{total: zero}
	projectedIncome, projectedExpense := accumulator{total: zero}, accumulator{total: zero}
	summary := domain.LedgerSummary{OpeningBalance: opening}

	days := make([]domain.DailyTotal, 0, len(dates))
	for _, d := range dates {
		day := domain.DailyTotal{Date: d, StartingBalance: running.total, InitialBalances: zero}
		if bucket, ok := openedInRange[d]; ok {
			if bucket.err != nil {
				return bucket.err
			}
			day.InitialBalances = bucket.total
			running.add(bucket.total)
		}
		dayTotal, actual, projected := accumulator{total: zero}, accumulator{total: zero}, accumulator{total: zero}

		for _, i := range byDate[d] {
			item := &ledger.Items[i]
			running.add(item.Amount)
			dayTotal.add(item.Amount)
			item.RunningBalance = running.total

			switch {
			case !item.IsProjected():
				summary.TransactionCount++
				actual.add(item.Amount)
				if item.Amount.IsNegative() {
					actualExpenses.add(item.Amount)
				} else {
					actualIncome.add(item.Amount)
				}
			default:
				if item.Kind == domain.ItemRecurring {
					summary.RecurringCount++
				}
				projected.add(item.Amount)
				if item.Amount.IsNegative() {
					projectedExpense.add(item.Amount)
				} else {
					projectedIncome.add(item.Amount)
				}
			}
			if item.Kind == domain.ItemRecurringTransfer || item.TransferID != "" {
				summary.TransferCount++
			}
		}

		for _, acc := range []*accumulator{&running, &dayTotal, &actual, &projected} {
			if acc.err != nil {
				return acc.err
			}
		}
		day.EndingBalance = running.total
		day.DayTotal = dayTotal.total
		day.ActualTotal = actual.total
		day.ProjectedTotal = projected.total
		day.ItemCount = len(byDate[d])
		days = append(days, day)
	}

	for _, acc := range []*accumulator{&actualIncome, &actualExpenses, &projectedIncome, &projectedExpense} {
		if acc.err != nil {
			return acc.err
		}
	}
	summary.ClosingBalance = running.total
	summary.ActualIncome = actualIncome.total
	summary.ActualExpenses = actualExpenses.total
	summary.ProjectedIncome = projectedIncome.total
	summary.ProjectedExpense = projectedExpense.total

	var err error
	if summary.ActualTotal, err = actualIncome.total.Add(actualExpenses.total); err != nil {
		return err
	}
	if summary.ProjectedTotal, err = projectedIncome.total.Add(projectedExpense.total); err != nil {
		return err
	}
	if summary.CombinedTotal, err = summary.ActualTotal.Add(summary.ProjectedTotal); err != nil {
		return err
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Date.After(days[j].Date) })
	ledger.Days = days
	ledger.Summary = summary
	return nil
}

// ============================================================
// Balances
// ============================================================

// GetBalanceAsOfDate returns the balance at the end of date: accounts opened
// on or before it plus every entry dated on or before it.
// A nil result means the account does not exist.
func (u *UnifiedLedgerService) GetBalanceAsOfDate(ctx context.Context, accountID string, date domain.Date) (*domain.Money, error) {
	ctx, span := ledgerTracer.Start(ctx, "UnifiedLedgerService.GetBalanceAsOfDate")
	defer span.End()

	return u.balance(ctx, accountID, date, true)
}

// GetOpeningBalanceForDate returns the balance immediately before date.
// Accounts opened on date and entries dated on date are excluded; the
// unified view reports same-day openings in DailyTotal.InitialBalances.
func (u *UnifiedLedgerService) GetOpeningBalanceForDate(ctx context.Context, accountID string, date domain.Date) (*domain.Money, error) {
	ctx, span := ledgerTracer.Start(ctx, "UnifiedLedgerService.GetOpeningBalanceForDate")
	defer span.End()

	return u.balance(ctx, accountID, date, false)
}

func (u *UnifiedLedgerService) balance(ctx context.Context, accountID string, date domain.Date, inclusive bool) (*domain.Money, error) {
	all, err := u.stores.Accounts.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	accounts, currency, found, err := scopeAccounts(all, accountID)
	if err != nil || !found {
		return nil, err
	}

	cutoff := date
	if inclusive {
		cutoff = date.AddDays(1)
	}
	txs, err := u.stores.Transactions.GetBefore(ctx, cutoff, accountID)
	if err != nil {
		return nil, fmt.Errorf("load prior transactions: %w", err)
	}

	total := accumulator{total: domain.Zero(currency)}
	for _, acc := range accounts {
		if acc.OpenedOn.IsZero() || acc.OpenedOn.Before(cutoff) {
			total.add(acc.InitialBalance)
		}
	}
	for _, tx := range txs {
		total.add(tx.Amount)
	}
	if total.err != nil {
		return nil, total.err
	}
	return &total.total, nil
}

// scopeAccounts selects the accounts a view covers and their shared currency.
// found is false when accountID names no account.
func scopeAccounts(all []domain.Account, accountID string) ([]domain.Account, string, bool, error) {
	if accountID != "" {
		for _, acc := range all {
			if acc.ID == accountID {
				return []domain.Account{acc}, acc.Currency, true, nil
			}
		}
		return nil, "", false, nil
	}

	currency := ""
	for _, acc := range all {
		switch {
		case currency == "":
			currency = acc.Currency
		case acc.Currency != currency:
			return nil, "", false, &domain.ErrValidation{Field: "account_id", Message: fmt.Sprintf("accounts mix currencies %s and %s; pick one account", currency, acc.Currency)}
		}
	}
	return all, currency, true, nil
}
