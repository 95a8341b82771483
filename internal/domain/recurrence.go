package domain

import (
	"fmt"
	"time"
)

// ============================================================
// Recurrence patterns
// ============================================================

// Frequency is the cadence of a recurring series.
type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiWeekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

// RecurrencePattern computes the occurrence dates of a series.
// Unset anchors (nil DayOfWeek, zero DayOfMonth) fall back to StartDate's.
type RecurrencePattern struct {
	Frequency  Frequency     `json:"frequency"`
	Interval   int           `json:"interval,omitempty"`
	DayOfWeek  *time.Weekday `json:"day_of_week,omitempty"`
	DayOfMonth int           `json:"day_of_month,omitempty"`
	StartDate  Date          `json:"start_date"`
	EndDate    *Date         `json:"end_date,omitempty"`
}

// Validate reports malformed patterns as domain errors.
func (p RecurrencePattern) Validate() error {
	if p.StartDate.IsZero() {
		return &ErrValidation{Field: "start_date", Message: "required"}
	}
	if p.Interval < 0 {
		return &ErrValidation{Field: "interval", Message: "must be at least 1"}
	}
	if p.EndDate != nil && p.EndDate.Before(p.StartDate) {
		return &ErrValidation{Field: "end_date", Message: "must not be before start_date"}
	}
	switch p.Frequency {
	case FrequencyDaily:
	case FrequencyWeekly, FrequencyBiWeekly:
		if p.DayOfWeek != nil && (*p.DayOfWeek < time.Sunday || *p.DayOfWeek > time.Saturday) {
			return &ErrValidation{Field: "day_of_week", Message: fmt.Sprintf("invalid weekday %d", *p.DayOfWeek)}
		}
	case FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		if p.DayOfMonth < 0 || p.DayOfMonth > 31 {
			return &ErrValidation{Field: "day_of_month", Message: fmt.Sprintf("must be between 1 and 31, got %d", p.DayOfMonth)}
		}
	default:
		return &ErrValidation{Field: "frequency", Message: fmt.Sprintf("unknown frequency %q", p.Frequency)}
	}
	return nil
}

// step returns the effective spacing: days for daily, weeks for the weekly
// family and months for the monthly family.
func (p RecurrencePattern) step() int {
	n := p.Interval
	if n < 1 {
		n = 1
	}
	switch p.Frequency {
	case FrequencyBiWeekly:
		return 2
	case FrequencyQuarterly:
		return 3 * n
	case FrequencyYearly:
		return 12 * n
	}
	return n
}

func (p RecurrencePattern) weekday() time.Weekday {
	if p.DayOfWeek != nil {
		return *p.DayOfWeek
	}
	return p.StartDate.Weekday()
}

func (p RecurrencePattern) dayOfMonth() int {
	if p.DayOfMonth > 0 {
		return p.DayOfMonth
	}
	return p.StartDate.Day()
}

func (p RecurrencePattern) inBounds(d Date) bool {
	if d.Before(p.StartDate) {
		return false
	}
	return p.EndDate == nil || !d.After(*p.EndDate)
}

// weekStart returns the Sunday on or before d.
func weekStart(d Date) Date { return d.AddDays(-int(d.Weekday())) }

// OccursOn reports whether the pattern produces an occurrence on d.
func (p RecurrencePattern) OccursOn(d Date) bool {
	if !p.inBounds(d) {
		return false
	}
	step := p.step()
	switch p.Frequency {
	case FrequencyDaily:
		return p.StartDate.DaysUntil(d)%step == 0
	case FrequencyWeekly, FrequencyBiWeekly:
		if d.Weekday() != p.weekday() {
			return false
		}
		weeks := weekStart(p.StartDate).DaysUntil(weekStart(d)) / 7
		return weeks%step == 0
	case FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		months := p.StartDate.MonthsUntil(d)
		if months%step != 0 {
			return false
		}
		return d.Equal(d.InMonth(0, p.dayOfMonth()))
	}
	return false
}

// NextOnOrAfter returns the first occurrence on or after d. The boolean is
// false when the pattern has no further occurrence (EndDate passed or invalid pattern).
func (p RecurrencePattern) NextOnOrAfter(d Date) (Date, bool) {
	if p.Validate() != nil {
		return Date{}, false
	}
	if d.Before(p.StartDate) {
		d = p.StartDate
	}
	step := p.step()
	var next Date
	switch p.Frequency {
	case FrequencyDaily:
		offset := p.StartDate.DaysUntil(d)
		if r := offset % step; r != 0 {
			offset += step - r
		}
		next = p.StartDate.AddDays(offset)
	case FrequencyWeekly, FrequencyBiWeekly:
		// scan at most one full cycle of weeks
		for i := 0; i < 7*step; i++ {
			if c := d.AddDays(i); p.OccursOn(c) {
				next = c
				break
			}
		}
	case FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		months := p.StartDate.MonthsUntil(d)
		if r := months % step; r != 0 {
			months += step - r
		}
		for {
			c := p.StartDate.InMonth(months, p.dayOfMonth())
			if !c.Before(d) {
				next = c
				break
			}
			months += step
		}
	}
	if next.IsZero() || !p.inBounds(next) {
		return Date{}, false
	}
	return next, true
}

// OccurrencesBetween lists every occurrence in [from, to], ascending.
func (p RecurrencePattern) OccurrencesBetween(from, to Date) []Date {
	var out []Date
	for d, ok := p.NextOnOrAfter(from); ok && !d.After(to); d, ok = p.NextOnOrAfter(d.AddDays(1)) {
		out = append(out, d)
	}
	return out
}
