package supabase

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
)

// ============================================================
// Exceptions (shared by both series kinds, one table each)
// ============================================================

type exceptions struct {
	c     *Client
	table string
}

func (e exceptions) GetExceptionByDate(ctx context.Context, seriesID string, date domain.Date) (*domain.SeriesException, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetExceptionByDate")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", seriesID))

	var rows []exceptionRow
	path := filter(e.table, "series_id", eq(seriesID), "original_date", dateEq(date), "limit", "1")
	if err := e.c.query(ctx, e.table, path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ex := rows[0].toDomain()
	return &ex, nil
}

func (e exceptions) GetExceptionsByDateRange(ctx context.Context, seriesID string, start, end domain.Date) ([]domain.SeriesException, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetExceptionsByDateRange")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", seriesID))

	var rows []exceptionRow
	path := filter(e.table,
		"series_id", eq(seriesID),
		"and", "(original_date.gte."+start.String()+",original_date.lte."+end.String()+")",
		"order", "original_date.asc",
	)
	if err := e.c.query(ctx, e.table, path, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.SeriesException, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// AddException replaces any exception already recorded for the same occurrence.
func (e exceptions) AddException(ctx context.Context, ex *domain.SeriesException) error {
	return e.c.stage(ctx, change{Op: opUpsert, Table: e.table, Row: exceptionRowOf(ex)})
}

func (e exceptions) RemoveException(ctx context.Context, seriesID string, date domain.Date) error {
	return e.c.stage(ctx, change{
		Op:    opDelete,
		Table: e.table,
		Match: map[string]string{"series_id": seriesID, "original_date": date.String()},
	})
}

func (e exceptions) RemoveExceptionsFromDate(ctx context.Context, seriesID string, date domain.Date) error {
	return e.c.stage(ctx, change{
		Op:    opDelete,
		Table: e.table,
		Match: map[string]string{"series_id": seriesID},
		From:  map[string]string{"original_date": date.String()},
	})
}

// ============================================================
// Recurring transactions
// ============================================================

// RecurringTransactions implements port.RecurringTransactionStore.
type RecurringTransactions struct {
	c *Client
	exceptions
}

func (r *RecurringTransactions) GetActive(ctx context.Context) ([]domain.RecurringTransaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetActiveSeries")
	defer span.End()
	return r.list(ctx, filter(tableSeries, "is_active", "eq.true", "order", "id.asc"))
}

func (r *RecurringTransactions) GetByAccountID(ctx context.Context, accountID string) ([]domain.RecurringTransaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetSeriesByAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))
	return r.list(ctx, filter(tableSeries, "account_id", eq(accountID), "order", "id.asc"))
}

func (r *RecurringTransactions) GetByID(ctx context.Context, id string) (*domain.RecurringTransaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetSeries")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", id))

	found, err := r.list(ctx, filter(tableSeries, "id", eq(id), "limit", "1"))
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

func (r *RecurringTransactions) Update(ctx context.Context, series *domain.RecurringTransaction) error {
	return r.c.stage(ctx, change{Op: opUpsert, Table: tableSeries, Row: seriesRowOf(series)})
}

func (r *RecurringTransactions) list(ctx context.Context, path string) ([]domain.RecurringTransaction, error) {
	var rows []seriesRow
	if err := r.c.query(ctx, tableSeries, path, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.RecurringTransaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// ============================================================
// Recurring transfers
// ============================================================

// RecurringTransfers implements port.RecurringTransferStore.
type RecurringTransfers struct {
	c *Client
	exceptions
}

func (r *RecurringTransfers) GetActive(ctx context.Context) ([]domain.RecurringTransfer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetActiveTransfers")
	defer span.End()
	return r.list(ctx, filter(tableTransfers, "is_active", "eq.true", "order", "id.asc"))
}

// GetByAccountID returns transfers where the account is source or destination.
func (r *RecurringTransfers) GetByAccountID(ctx context.Context, accountID string) ([]domain.RecurringTransfer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetTransfersByAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))
	return r.list(ctx, filter(tableTransfers,
		"or", "(source_account_id.eq."+accountID+",destination_account_id.eq."+accountID+")",
		"order", "id.asc",
	))
}

func (r *RecurringTransfers) GetByID(ctx context.Context, id string) (*domain.RecurringTransfer, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetTransfer")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", id))

	found, err := r.list(ctx, filter(tableTransfers, "id", eq(id), "limit", "1"))
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

func (r *RecurringTransfers) Update(ctx context.Context, series *domain.RecurringTransfer) error {
	return r.c.stage(ctx, change{Op: opUpsert, Table: tableTransfers, Row: transferRowOf(series)})
}

func (r *RecurringTransfers) list(ctx context.Context, path string) ([]domain.RecurringTransfer, error) {
	var rows []transferRow
	if err := r.c.query(ctx, tableTransfers, path, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.RecurringTransfer, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
