package domain

import "sort"

// ============================================================
// Projection results (never persisted)
// ============================================================

// RecurringInstanceInfo is one projected occurrence of a recurring transaction.
// Date is the effective date (the modified date when overridden);
// OriginalDate is the scheduled date and the dedup/match key.
type RecurringInstanceInfo struct {
	SeriesID     string `json:"series_id"`
	Date         Date   `json:"date"`
	OriginalDate Date   `json:"original_date"`
	AccountID    string `json:"account_id"`
	AccountName  string `json:"account_name,omitempty"`
	Description  string `json:"description"`
	Category     string `json:"category,omitempty"`
	Scope        string `json:"scope,omitempty"`
	Amount       Money  `json:"amount"`
	IsException  bool   `json:"is_exception"`
	IsModified   bool   `json:"is_modified"`
	IsSkipped    bool   `json:"is_skipped,omitempty"`
	IsRealized   bool   `json:"is_realized,omitempty"`
}

// RecurringTransferInstanceInfo is one leg of a projected recurring transfer occurrence.
type RecurringTransferInstanceInfo struct {
	SeriesID             string            `json:"series_id"`
	Date                 Date              `json:"date"`
	OriginalDate         Date              `json:"original_date"`
	AccountID            string            `json:"account_id"`
	CounterpartAccountID string            `json:"counterpart_account_id"`
	Direction            TransferDirection `json:"direction"`
	Description          string            `json:"description"`
	Amount               Money             `json:"amount"`
	IsException          bool              `json:"is_exception"`
	IsModified           bool              `json:"is_modified"`
	IsSkipped            bool              `json:"is_skipped,omitempty"`
	IsRealized           bool              `json:"is_realized,omitempty"`
}

// InstanceCalendar groups projected instances by effective date.
type InstanceCalendar[T any] map[Date][]T

// Dates returns the calendar's dates in ascending order.
func (c InstanceCalendar[T]) Dates() []Date {
	dates := make([]Date, 0, len(c))
	for d := range c {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// Flatten returns every instance in ascending date order, input order within a date.
func (c InstanceCalendar[T]) Flatten() []T {
	var out []T
	for _, d := range c.Dates() {
		out = append(out, c[d]...)
	}
	return out
}

// Count returns the number of instances.
func (c InstanceCalendar[T]) Count() int {
	n := 0
	for _, items := range c {
		n += len(items)
	}
	return n
}
