package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateFormat is the ISO-8601 calendar date layout used on the wire and in storage.
const DateFormat = "2006-01-02"

const readDateFormat = "2006-1-2" // lenient: accepts 2025-7-1

// Date is a calendar day with no time of day and no zone.
// The zero value is "no date"; use IsZero to test for it.
type Date struct {
	y int
	m time.Month
	d int
}

// NewDate returns a normalised Date (NewDate(2024, 2, 30) is 2024-03-01).
func NewDate(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{t.Year(), t.Month(), t.Day()}
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Date())
}

// Today returns the current calendar day in loc (UTC when loc is nil).
func Today(loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(time.Now().In(loc))
}

// ParseDate parses YYYY-MM-DD (single-digit month and day are accepted).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(readDateFormat, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD: %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is like ParseDate but panics on error. Intended for tests and constants.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }

func (d Date) Year() int              { return d.y }
func (d Date) Month() time.Month      { return d.m }
func (d Date) Day() int               { return d.d }
func (d Date) Weekday() time.Weekday  { return d.Time().Weekday() }
func (d Date) IsZero() bool           { return d.y == 0 && d.m == 0 && d.d == 0 }
func (d Date) Before(x Date) bool     { return d.Compare(x) < 0 }
func (d Date) After(x Date) bool      { return d.Compare(x) > 0 }
func (d Date) Equal(x Date) bool      { return d == x }
func (d Date) AddDays(n int) Date     { return NewDate(d.y, d.m, d.d+n) }
func (d Date) String() string         { return d.Time().Format(DateFormat) }
func (d Date) Between(a, b Date) bool { return !d.Before(a) && !d.After(b) }

// Compare returns -1, 0 or +1 depending on whether d is before, equal to or after x.
func (d Date) Compare(x Date) int {
	switch {
	case d.y != x.y:
		return cmpInt(d.y, x.y)
	case d.m != x.m:
		return cmpInt(int(d.m), int(x.m))
	default:
		return cmpInt(d.d, x.d)
	}
}

// DaysUntil returns the signed number of days from d to x.
func (d Date) DaysUntil(x Date) int {
	return x.dayNumber() - d.dayNumber()
}

// dayNumber counts days since 1970-01-01 in the proleptic Gregorian calendar.
// time.Duration overflows past ~292 years, so spans are computed on day counts.
func (d Date) dayNumber() int {
	y, m := d.y, int(d.m)
	if m <= 2 {
		y--
	}
	era := y / 400
	if y < 0 && y%400 != 0 {
		era--
	}
	yoe := y - era*400
	mp := (m + 9) % 12
	doy := (153*mp+2)/5 + d.d - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}

// MonthsUntil returns the signed number of calendar months from d's month to x's month.
func (d Date) MonthsUntil(x Date) int {
	return (x.y-d.y)*12 + int(x.m) - int(d.m)
}

// FirstOfMonth returns the first day of d's month.
func (d Date) FirstOfMonth() Date { return Date{d.y, d.m, 1} }

// LastOfMonth returns the last day of d's month.
func (d Date) LastOfMonth() Date { return Date{d.y, d.m, DaysInMonth(d.y, d.m)} }

// InMonth returns the day-th of the month that is months after d's month,
// clamping day to the target month's length (day 31 in February gives Feb 28/29).
func (d Date) InMonth(months, day int) Date {
	first := NewDate(d.y, d.m+time.Month(months), 1)
	return Date{first.y, first.m, clampDay(first.y, first.m, day)}
}

// DaysInMonth returns the number of days of month in year.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MonthRange returns the first and last day of the given month.
func MonthRange(year int, month time.Month) (Date, Date) {
	first := NewDate(year, month, 1)
	return first, first.LastOfMonth()
}

func clampDay(year int, month time.Month, day int) int {
	if n := DaysInMonth(year, month); day > n {
		return n
	}
	return day
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// MarshalJSON encodes the date as "YYYY-MM-DD", or null for the zero date.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "YYYY-MM-DD", a full RFC 3339 timestamp, or null.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == nil || *s == "" {
		*d = Date{}
		return nil
	}
	if t, err := time.Parse(time.RFC3339, *s); err == nil {
		*d = DateOf(t)
		return nil
	}
	parsed, err := ParseDate(*s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

var _ json.Marshaler = Date{}
var _ json.Unmarshaler = (*Date)(nil)
