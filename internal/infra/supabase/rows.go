package supabase

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
)

// ============================================================
// Table names
// ============================================================

const (
	tableSeries                = "recurring_transactions"
	tableTransfers             = "recurring_transfers"
	tableTransactionExceptions = "recurring_transaction_exceptions"
	tableTransferExceptions    = "recurring_transfer_exceptions"
	tableTransactions          = "transactions"
	tableAccounts              = "accounts"
	tableSettings              = "ledger_settings"
	tableMatches               = "reconciliation_matches"
)

// ============================================================
// Row shapes: flat PostgREST columns
// ============================================================

type patternColumns struct {
	Frequency  domain.Frequency `json:"frequency"`
	Interval   int              `json:"interval"`
	DayOfWeek  *int             `json:"day_of_week"`
	DayOfMonth int              `json:"day_of_month"`
	StartDate  domain.Date      `json:"start_date"`
	EndDate    *domain.Date     `json:"end_date"`
}

func patternFromColumns(p patternColumns) domain.RecurrencePattern {
	out := domain.RecurrencePattern{
		Frequency:  p.Frequency,
		Interval:   p.Interval,
		DayOfMonth: p.DayOfMonth,
		StartDate:  p.StartDate,
		EndDate:    p.EndDate,
	}
	if p.DayOfWeek != nil {
		w := time.Weekday(*p.DayOfWeek)
		out.DayOfWeek = &w
	}
	return out
}

func columnsFromPattern(p domain.RecurrencePattern) patternColumns {
	out := patternColumns{
		Frequency:  p.Frequency,
		Interval:   p.Interval,
		DayOfMonth: p.DayOfMonth,
		StartDate:  p.StartDate,
		EndDate:    p.EndDate,
	}
	if p.DayOfWeek != nil {
		w := int(*p.DayOfWeek)
		out.DayOfWeek = &w
	}
	return out
}

type seriesRow struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Scope       string          `json:"scope"`
	patternColumns
	IsActive         bool         `json:"is_active"`
	NextOccurrence   *domain.Date `json:"next_occurrence"`
	LastRealizedDate *domain.Date `json:"last_realized_date"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (r seriesRow) toDomain() domain.RecurringTransaction {
	return domain.RecurringTransaction{
		ID:               r.ID,
		AccountID:        r.AccountID,
		Amount:           domain.M(r.Amount, r.Currency),
		Description:      r.Description,
		Category:         r.Category,
		Scope:            r.Scope,
		Pattern:          patternFromColumns(r.patternColumns),
		IsActive:         r.IsActive,
		NextOccurrence:   r.NextOccurrence,
		LastRealizedDate: r.LastRealizedDate,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func seriesRowOf(s *domain.RecurringTransaction) seriesRow {
	return seriesRow{
		ID:               s.ID,
		AccountID:        s.AccountID,
		Amount:           s.Amount.Decimal(),
		Currency:         s.Amount.Currency(),
		Description:      s.Description,
		Category:         s.Category,
		Scope:            s.Scope,
		patternColumns:   columnsFromPattern(s.Pattern),
		IsActive:         s.IsActive,
		NextOccurrence:   s.NextOccurrence,
		LastRealizedDate: s.LastRealizedDate,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

type transferRow struct {
	ID                   string          `json:"id"`
	SourceAccountID      string          `json:"source_account_id"`
	DestinationAccountID string          `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Description          string          `json:"description"`
	Scope                string          `json:"scope"`
	patternColumns
	IsActive         bool         `json:"is_active"`
	NextOccurrence   *domain.Date `json:"next_occurrence"`
	LastRealizedDate *domain.Date `json:"last_realized_date"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (r transferRow) toDomain() domain.RecurringTransfer {
	return domain.RecurringTransfer{
		ID:                   r.ID,
		SourceAccountID:      r.SourceAccountID,
		DestinationAccountID: r.DestinationAccountID,
		Amount:               domain.M(r.Amount, r.Currency),
		Description:          r.Description,
		Scope:                r.Scope,
		Pattern:              patternFromColumns(r.patternColumns),
		IsActive:             r.IsActive,
		NextOccurrence:       r.NextOccurrence,
		LastRealizedDate:     r.LastRealizedDate,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func transferRowOf(s *domain.RecurringTransfer) transferRow {
	return transferRow{
		ID:                   s.ID,
		SourceAccountID:      s.SourceAccountID,
		DestinationAccountID: s.DestinationAccountID,
		Amount:               s.Amount.Decimal(),
		Currency:             s.Amount.Currency(),
		Description:          s.Description,
		Scope:                s.Scope,
		patternColumns:       columnsFromPattern(s.Pattern),
		IsActive:             s.IsActive,
		NextOccurrence:       s.NextOccurrence,
		LastRealizedDate:     s.LastRealizedDate,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

type exceptionRow struct {
	ID                  string               `json:"id"`
	SeriesID            string               `json:"series_id"`
	OriginalDate        domain.Date          `json:"original_date"`
	Type                domain.ExceptionType `json:"type"`
	ModifiedAmount      *decimal.Decimal     `json:"modified_amount"`
	ModifiedCurrency    string               `json:"modified_currency,omitempty"`
	ModifiedDate        *domain.Date         `json:"modified_date"`
	ModifiedDescription *string              `json:"modified_description"`
	CreatedAt           time.Time            `json:"created_at"`
}

func (r exceptionRow) toDomain() domain.SeriesException {
	ex := domain.SeriesException{
		ID:                  r.ID,
		SeriesID:            r.SeriesID,
		OriginalDate:        r.OriginalDate,
		Type:                r.Type,
		ModifiedDate:        r.ModifiedDate,
		ModifiedDescription: r.ModifiedDescription,
		CreatedAt:           r.CreatedAt,
	}
	if r.ModifiedAmount != nil {
		m := domain.M(*r.ModifiedAmount, r.ModifiedCurrency)
		ex.ModifiedAmount = &m
	}
	return ex
}

func exceptionRowOf(ex *domain.SeriesException) exceptionRow {
	row := exceptionRow{
		ID:                  ex.ID,
		SeriesID:            ex.SeriesID,
		OriginalDate:        ex.OriginalDate,
		Type:                ex.Type,
		ModifiedDate:        ex.ModifiedDate,
		ModifiedDescription: ex.ModifiedDescription,
		CreatedAt:           ex.CreatedAt,
	}
	if ex.ModifiedAmount != nil {
		v := ex.ModifiedAmount.Decimal()
		row.ModifiedAmount = &v
		row.ModifiedCurrency = ex.ModifiedAmount.Currency()
	}
	return row
}

type transactionRow struct {
	ID                    string                   `json:"id"`
	AccountID             string                   `json:"account_id"`
	Amount                decimal.Decimal          `json:"amount"`
	Currency              string                   `json:"currency"`
	Date                  domain.Date              `json:"date"`
	Description           string                   `json:"description"`
	Category              string                   `json:"category"`
	RecurringSeriesID     *string                  `json:"recurring_series_id"`
	RecurringInstanceDate *domain.Date             `json:"recurring_instance_date"`
	TransferID            *string                  `json:"transfer_id"`
	TransferDirection     domain.TransferDirection `json:"transfer_direction,omitempty"`
	RecurringTransferID   *string                  `json:"recurring_transfer_id"`
	ImportBatchID         *string                  `json:"import_batch_id"`
	CreatedAt             time.Time                `json:"created_at"`
	UpdatedAt             time.Time                `json:"updated_at"`
}

func (r transactionRow) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:                    r.ID,
		AccountID:             r.AccountID,
		Amount:                domain.M(r.Amount, r.Currency),
		Date:                  r.Date,
		Description:           r.Description,
		Category:              r.Category,
		RecurringSeriesID:     deref(r.RecurringSeriesID),
		RecurringInstanceDate: r.RecurringInstanceDate,
		TransferID:            deref(r.TransferID),
		TransferDirection:     r.TransferDirection,
		RecurringTransferID:   deref(r.RecurringTransferID),
		ImportBatchID:         deref(r.ImportBatchID),
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

func transactionRowOf(t *domain.Transaction) transactionRow {
	return transactionRow{
		ID:                    t.ID,
		AccountID:             t.AccountID,
		Amount:                t.Amount.Decimal(),
		Currency:              t.Amount.Currency(),
		Date:                  t.Date,
		Description:           t.Description,
		Category:              t.Category,
		RecurringSeriesID:     ref(t.RecurringSeriesID),
		RecurringInstanceDate: t.RecurringInstanceDate,
		TransferID:            ref(t.TransferID),
		TransferDirection:     t.TransferDirection,
		RecurringTransferID:   ref(t.RecurringTransferID),
		ImportBatchID:         ref(t.ImportBatchID),
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
	}
}

type accountRow struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	OpenedOn       domain.Date     `json:"opened_on"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (r accountRow) toDomain() domain.Account {
	return domain.Account{
		ID:             r.ID,
		Name:           r.Name,
		Currency:       r.Currency,
		InitialBalance: domain.M(r.InitialBalance, r.Currency),
		OpenedOn:       r.OpenedOn,
		CreatedAt:      r.CreatedAt,
	}
}

// settingsRow is the single row of the settings table.
type settingsRow struct {
	ID                 int  `json:"id"`
	AutoRealizeEnabled bool `json:"auto_realize_enabled"`
	LookbackDays       int  `json:"lookback_days"`
}

const settingsRowID = 1

type matchRow struct {
	ID                    string             `json:"id"`
	ImportedTransactionID string             `json:"imported_transaction_id"`
	RecurringSeriesID     string             `json:"recurring_series_id"`
	InstanceDate          domain.Date        `json:"instance_date"`
	ConfidenceScore       float64            `json:"confidence_score"`
	DateDistanceDays      int                `json:"date_distance_days"`
	AmountDistance        decimal.Decimal    `json:"amount_distance"`
	DescriptionSimilarity float64            `json:"description_similarity"`
	Status                domain.MatchStatus `json:"status"`
	Scope                 string             `json:"scope"`
	CreatedAt             time.Time          `json:"created_at"`
	ResolvedAt            *time.Time         `json:"resolved_at"`
}

func (r matchRow) toDomain() domain.ReconciliationMatch {
	return domain.ReconciliationMatch(r)
}

func matchRowOf(m *domain.ReconciliationMatch) matchRow {
	return matchRow(*m)
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
