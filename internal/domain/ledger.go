package domain

import "time"

// ============================================================
// Unified ledger view
// ============================================================

// ItemKind tells where a unified item comes from.
type ItemKind string

const (
	ItemTransaction       ItemKind = "transaction"
	ItemRecurring         ItemKind = "recurring"
	ItemRecurringTransfer ItemKind = "recurring-transfer"
)

// UnifiedItem is one row of the merged chronological view.
type UnifiedItem struct {
	Kind                 ItemKind          `json:"kind"`
	ID                   string            `json:"id"`
	Date                 Date              `json:"date"`
	AccountID            string            `json:"account_id"`
	AccountName          string            `json:"account_name,omitempty"`
	Description          string            `json:"description"`
	Category             string            `json:"category,omitempty"`
	Amount               Money             `json:"amount"`
	RunningBalance       Money             `json:"running_balance"`
	SeriesID             string            `json:"series_id,omitempty"`
	InstanceDate         *Date             `json:"instance_date,omitempty"`
	TransferID           string            `json:"transfer_id,omitempty"`
	TransferDirection    TransferDirection `json:"transfer_direction,omitempty"`
	CounterpartAccountID string            `json:"counterpart_account_id,omitempty"`
	IsModified           bool              `json:"is_modified,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
}

// IsProjected reports whether the item is a not-yet-realized occurrence.
func (i *UnifiedItem) IsProjected() bool { return i.Kind != ItemTransaction }

// DailyTotal aggregates one day of the unified view. InitialBalances holds
// the opening balances of accounts opened that day; StartingBalance excludes
// them and EndingBalance includes them.
type DailyTotal struct {
	Date            Date  `json:"date"`
	StartingBalance Money `json:"starting_balance"`
	InitialBalances Money `json:"initial_balances"`
	EndingBalance   Money `json:"ending_balance"`
	DayTotal        Money `json:"day_total"`
	ActualTotal     Money `json:"actual_total"`
	ProjectedTotal  Money `json:"projected_total"`
	ItemCount       int   `json:"item_count"`
}

// LedgerSummary splits realized from projected totals.
type LedgerSummary struct {
	OpeningBalance   Money `json:"opening_balance"`
	ClosingBalance   Money `json:"closing_balance"`
	ActualIncome     Money `json:"actual_income"`
	ActualExpenses   Money `json:"actual_expenses"`
	ActualTotal      Money `json:"actual_total"`
	ProjectedIncome  Money `json:"projected_income"`
	ProjectedExpense Money `json:"projected_expenses"`
	ProjectedTotal   Money `json:"projected_total"`
	CombinedTotal    Money `json:"combined_total"`
	TransactionCount int   `json:"transaction_count"`
	RecurringCount   int   `json:"recurring_count"`
	TransferCount    int   `json:"transfer_count"`
}

// UnifiedLedger is the merged view over [StartDate, EndDate].
type UnifiedLedger struct {
	AccountID string        `json:"account_id,omitempty"`
	Currency  string        `json:"currency"`
	StartDate Date          `json:"start_date"`
	EndDate   Date          `json:"end_date"`
	Items     []UnifiedItem `json:"items"`
	Days      []DailyTotal  `json:"days"`
	Summary   LedgerSummary `json:"summary"`
}

// ============================================================
// Auto-realize results
// ============================================================

// AutoRealizeResult reports one auto-realize pass.
type AutoRealizeResult struct {
	Enabled             bool     `json:"enabled"`
	WindowStart         Date     `json:"window_start"`
	WindowEnd           Date     `json:"window_end"`
	TransactionsCreated int      `json:"transactions_created"`
	TransfersCreated    int      `json:"transfers_created"`
	CreatedIDs          []string `json:"created_ids,omitempty"`
	SkippedSeries       []string `json:"skipped_series,omitempty"`
}

// PastDueItems lists the occurrences an auto-realize pass would materialize.
type PastDueItems struct {
	WindowStart  Date                            `json:"window_start"`
	WindowEnd    Date                            `json:"window_end"`
	Transactions []RecurringInstanceInfo         `json:"transactions"`
	Transfers    []RecurringTransferInstanceInfo `json:"transfers"`
	OldestDate   *Date                           `json:"oldest_date,omitempty"`
}
