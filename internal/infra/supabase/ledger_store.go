package supabase

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
)

// ============================================================
// Transactions
// ============================================================

const transactionOrder = "date.asc,created_at.asc,id.asc"

// Transactions implements port.TransactionStore.
type Transactions struct{ c *Client }

func (t *Transactions) GetByDateRange(ctx context.Context, start, end domain.Date, accountID string) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetTransactionsByDateRange")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	pairs := []string{"and", "(date.gte." + start.String() + ",date.lte." + end.String() + ")"}
	if accountID != "" {
		pairs = append(pairs, "account_id", eq(accountID))
	}
	pairs = append(pairs, "order", transactionOrder)
	return t.list(ctx, filter(tableTransactions, pairs...))
}

func (t *Transactions) GetBefore(ctx context.Context, date domain.Date, accountID string) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetTransactionsBefore")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	pairs := []string{"date", lt(date)}
	if accountID != "" {
		pairs = append(pairs, "account_id", eq(accountID))
	}
	pairs = append(pairs, "order", transactionOrder)
	return t.list(ctx, filter(tableTransactions, pairs...))
}

func (t *Transactions) GetByRecurringInstance(ctx context.Context, seriesID string, date domain.Date) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetByRecurringInstance")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", seriesID))

	found, err := t.list(ctx, filter(tableTransactions,
		"recurring_series_id", eq(seriesID),
		"recurring_instance_date", dateEq(date),
		"order", transactionOrder,
		"limit", "1",
	))
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

func (t *Transactions) GetByRecurringTransferInstance(ctx context.Context, seriesID string, date domain.Date) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetByRecurringTransferInstance")
	defer span.End()
	span.SetAttributes(attribute.String("series.id", seriesID))

	return t.list(ctx, filter(tableTransactions,
		"recurring_transfer_id", eq(seriesID),
		"recurring_instance_date", dateEq(date),
		"order", transactionOrder,
	))
}

func (t *Transactions) GetByTransferID(ctx context.Context, transferID string) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetByTransferID")
	defer span.End()
	return t.list(ctx, filter(tableTransactions, "transfer_id", eq(transferID), "order", transactionOrder))
}

func (t *Transactions) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetTransaction")
	defer span.End()

	found, err := t.list(ctx, filter(tableTransactions, "id", eq(id), "limit", "1"))
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

func (t *Transactions) Add(ctx context.Context, tx *domain.Transaction) error {
	return t.c.stage(ctx, change{Op: opInsert, Table: tableTransactions, Row: transactionRowOf(tx)})
}

func (t *Transactions) Update(ctx context.Context, tx *domain.Transaction) error {
	return t.c.stage(ctx, change{Op: opUpsert, Table: tableTransactions, Row: transactionRowOf(tx)})
}

func (t *Transactions) list(ctx context.Context, path string) ([]domain.Transaction, error) {
	var rows []transactionRow
	if err := t.c.query(ctx, tableTransactions, path, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ============================================================
// Accounts (cached)
// ============================================================

const accountsCacheKey = "all"

// Accounts implements port.AccountStore. The whole table is cached for the
// client's account TTL; accounts change rarely and every ledger view reads them.
type Accounts struct{ c *Client }

func (a *Accounts) GetAll(ctx context.Context) ([]domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetAccounts")
	defer span.End()

	accounts, hit, err := a.c.accounts.GetOrLoad(ctx, accountsCacheKey, a.load)
	if err != nil {
		return nil, err
	}
	if hit {
		a.c.metrics.IncrCacheHit("accounts")
	} else {
		a.c.metrics.IncrCacheMiss("accounts")
	}
	span.SetAttributes(attribute.Bool("cache.hit", hit))

	out := make([]domain.Account, len(accounts))
	copy(out, accounts)
	return out, nil
}

func (a *Accounts) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	all, err := a.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, nil
}

func (a *Accounts) load(ctx context.Context) ([]domain.Account, error) {
	var rows []accountRow
	if err := a.c.query(ctx, tableAccounts, filter(tableAccounts, "order", "id.asc"), &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ============================================================
// Settings (single row)
// ============================================================

// Settings implements port.SettingsStore.
type Settings struct{ c *Client }

// Get returns the stored settings, or the defaults when no row exists yet.
func (st *Settings) Get(ctx context.Context) (domain.Settings, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetSettings")
	defer span.End()

	var rows []settingsRow
	if err := st.c.query(ctx, tableSettings, filter(tableSettings, "id", "eq.1", "limit", "1"), &rows); err != nil {
		return domain.Settings{}, err
	}
	if len(rows) == 0 {
		return domain.DefaultSettings(), nil
	}
	return domain.Settings{AutoRealizeEnabled: rows[0].AutoRealizeEnabled, LookbackDays: rows[0].LookbackDays}, nil
}

func (st *Settings) Save(ctx context.Context, v domain.Settings) error {
	return st.c.stage(ctx, change{Op: opUpsert, Table: tableSettings, Row: settingsRow{
		ID:                 settingsRowID,
		AutoRealizeEnabled: v.AutoRealizeEnabled,
		LookbackDays:       v.LookbackDays,
	}})
}

// ============================================================
// Matches
// ============================================================

const matchOrder = "created_at.asc,id.asc"

// Matches implements port.MatchStore.
type Matches struct{ c *Client }

func (m *Matches) GetPendingMatches(ctx context.Context) ([]domain.ReconciliationMatch, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetPendingMatches")
	defer span.End()
	return m.list(ctx, filter(tableMatches,
		"status", "in.("+string(domain.MatchPending)+","+string(domain.MatchAutoMatched)+")",
		"order", matchOrder,
	))
}

func (m *Matches) GetByInstanceDateRange(ctx context.Context, start, end domain.Date) ([]domain.ReconciliationMatch, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetMatchesByInstanceDateRange")
	defer span.End()
	span.SetAttributes(attribute.String("range.start", start.String()), attribute.String("range.end", end.String()))

	return m.list(ctx, filter(tableMatches,
		"and", "(instance_date.gte."+start.String()+",instance_date.lte."+end.String()+")",
		"order", matchOrder,
	))
}

func (m *Matches) GetByTransactionID(ctx context.Context, transactionID string) ([]domain.ReconciliationMatch, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetMatchesByTransaction")
	defer span.End()
	return m.list(ctx, filter(tableMatches, "imported_transaction_id", eq(transactionID), "order", matchOrder))
}

func (m *Matches) Exists(ctx context.Context, transactionID, seriesID string, date domain.Date) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.MatchExists")
	defer span.End()

	found, err := m.list(ctx, filter(tableMatches,
		"imported_transaction_id", eq(transactionID),
		"recurring_series_id", eq(seriesID),
		"instance_date", dateEq(date),
		"limit", "1",
	))
	return len(found) > 0, err
}

// Add stages a strict insert. A duplicate (transaction, series, instance date)
// fails the whole commit.
func (m *Matches) Add(ctx context.Context, match *domain.ReconciliationMatch) error {
	return m.c.stage(ctx, change{Op: opInsert, Table: tableMatches, Row: matchRowOf(match)})
}

// AddIfAbsent stages an insert the server skips when the key is taken.
func (m *Matches) AddIfAbsent(ctx context.Context, match *domain.ReconciliationMatch) error {
	return m.c.stage(ctx, change{Op: opInsertIgnore, Table: tableMatches, Row: matchRowOf(match)})
}

func (m *Matches) Update(ctx context.Context, match *domain.ReconciliationMatch) error {
	return m.c.stage(ctx, change{Op: opUpsert, Table: tableMatches, Row: matchRowOf(match)})
}

func (m *Matches) GetByID(ctx context.Context, id string) (*domain.ReconciliationMatch, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetMatch")
	defer span.End()

	found, err := m.list(ctx, filter(tableMatches, "id", eq(id), "limit", "1"))
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

func (m *Matches) list(ctx context.Context, path string) ([]domain.ReconciliationMatch, error) {
	var rows []matchRow
	if err := m.c.query(ctx, tableMatches, path, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.ReconciliationMatch, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
