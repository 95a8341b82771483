package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMoney_AddRejectsMixedCurrencies(t *testing.T) {
	_, err := M(10.0, "USD").Add(M(5.0, "EUR"))
	var valErr *ErrValidation
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	sum, err := Money{}.Add(M(5.0, "usd"))
	if err != nil || !sum.Equal(M(5, "USD")) {
		t.Errorf("expected a currency-less zero to adopt USD, got %v %v", sum, err)
	}
}

func TestMoney_DecimalArithmetic(t *testing.T) {
	a, _ := ParseMoney("0.1", "USD")
	b, _ := ParseMoney("0.2", "USD")
	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := ParseMoney("0.3", "USD")
	if !sum.Equal(want) {
		t.Errorf("expected 0.30 exactly, got %s", sum.Decimal())
	}
}

func TestParseMoney(t *testing.T) {
	if _, err := ParseMoney("abc", "USD"); err == nil {
		t.Error("expected an error for a non-numeric amount")
	}
	if _, err := ParseMoney("1.00", "XXQ"); err == nil {
		t.Error("expected an error for an unknown currency")
	}
	m, err := ParseMoney(" -15.99 ", "usd")
	if err != nil || m.Currency() != "USD" || !m.IsNegative() {
		t.Errorf("unexpected result %v %v", m, err)
	}
}

func TestMoney_JSON(t *testing.T) {
	b, err := json.Marshal(M(-15.5, "USD"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != `{"amount":"-15.50","currency":"USD"}` {
		t.Errorf("unexpected encoding %s", b)
	}

	var m Money
	if err := json.Unmarshal([]byte(`{"amount":"12.34","currency":"eur"}`), &m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Equal(M(12.34, "EUR")) {
		t.Errorf("unexpected decoding %v", m)
	}
}

func TestDate_ParseAndJSON(t *testing.T) {
	d, err := ParseDate("2024-7-1")
	if err != nil || d.String() != "2024-07-01" {
		t.Fatalf("expected lenient parse, got %v %v", d, err)
	}
	if _, err := ParseDate("2024-02-30"); err == nil {
		t.Error("expected an error for an impossible date")
	}

	var got struct {
		A Date `json:"a"`
		B Date `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"2024-01-15","b":"2024-01-15T23:30:00Z"}`), &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.A.Equal(got.B) {
		t.Errorf("expected both forms to decode to the same day, got %s and %s", got.A, got.B)
	}
}

func TestDate_Arithmetic(t *testing.T) {
	jan31 := NewDate(2024, time.January, 31)
	if got := jan31.InMonth(1, 31); got.String() != "2024-02-29" {
		t.Errorf("expected Feb 29, got %s", got)
	}
	if got := jan31.AddDays(1); got.String() != "2024-02-01" {
		t.Errorf("expected Feb 1, got %s", got)
	}
	if n := NewDate(2024, time.March, 10).DaysUntil(NewDate(2024, time.March, 3)); n != -7 {
		t.Errorf("expected -7, got %d", n)
	}
	if n := NewDate(2023, time.November, 30).MonthsUntil(NewDate(2024, time.February, 1)); n != 3 {
		t.Errorf("expected 3 months, got %d", n)
	}
	first, last := MonthRange(2023, time.February)
	if first.String() != "2023-02-01" || last.String() != "2023-02-28" {
		t.Errorf("unexpected range %s..%s", first, last)
	}
}

func TestDate_DaysUntilAcrossCenturies(t *testing.T) {
	tests := []struct {
		from, to Date
		want     int
	}{
		{NewDate(1970, time.January, 1), NewDate(2000, time.March, 1), 11017},
		{NewDate(1, time.January, 1), NewDate(9999, time.December, 31), 3652058},
		{NewDate(9999, time.December, 31), NewDate(1, time.January, 1), -3652058},
		{NewDate(1600, time.February, 28), NewDate(1600, time.March, 1), 2},
		{NewDate(1900, time.February, 28), NewDate(1900, time.March, 1), 1},
	}
	for _, tt := range tests {
		if got := tt.from.DaysUntil(tt.to); got != tt.want {
			t.Errorf("%s..%s: expected %d, got %d", tt.from, tt.to, tt.want, got)
		}
	}

	start := NewDate(2023, time.December, 25)
	for n := -800; n <= 800; n += 37 {
		if got := start.DaysUntil(start.AddDays(n)); got != n {
			t.Errorf("AddDays(%d): expected %d days, got %d", n, n, got)
		}
	}
}

func TestReconciliationMatch_Transitions(t *testing.T) {
	now := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		from    MatchStatus
		act     func(*ReconciliationMatch) error
		want    MatchStatus
		wantErr bool
	}{
		{"accept pending", MatchPending, func(m *ReconciliationMatch) error { return m.Accept(now) }, MatchAccepted, false},
		{"accept auto-matched", MatchAutoMatched, func(m *ReconciliationMatch) error { return m.Accept(now) }, MatchAccepted, false},
		{"reject pending", MatchPending, func(m *ReconciliationMatch) error { return m.Reject(now) }, MatchRejected, false},
		{"reject accepted", MatchAccepted, func(m *ReconciliationMatch) error { return m.Reject(now) }, MatchAccepted, true},
		{"accept rejected", MatchRejected, func(m *ReconciliationMatch) error { return m.Accept(now) }, MatchRejected, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &ReconciliationMatch{Status: tt.from}
			err := tt.act(m)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if m.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, m.Status)
			}
		})
	}
}

func TestConfidenceThresholds(t *testing.T) {
	tests := []struct {
		score  float64
		level  ConfidenceLevel
		status MatchStatus
	}{
		{1.0, ConfidenceHigh, MatchAutoMatched},
		{0.85, ConfidenceHigh, MatchAutoMatched},
		{0.8499, ConfidenceMedium, MatchPending},
		{0.60, ConfidenceMedium, MatchPending},
		{0.59, ConfidenceLow, MatchPending},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.score); got != tt.level {
			t.Errorf("LevelFor(%v) = %s, want %s", tt.score, got, tt.level)
		}
		if got := StatusForScore(tt.score); got != tt.status {
			t.Errorf("StatusForScore(%v) = %s, want %s", tt.score, got, tt.status)
		}
	}
}

func TestInstanceChanges_Validate(t *testing.T) {
	original := MustParseDate("2024-02-01")
	ok := MustParseDate("2024-03-03")
	tooFar := MustParseDate("2024-03-04")
	zero := Zero("USD")

	if err := (InstanceChanges{Date: &ok}).Validate(original, "USD"); err != nil {
		t.Errorf("expected a 31-day move to be allowed, got %v", err)
	}
	if err := (InstanceChanges{Date: &tooFar}).Validate(original, "USD"); err == nil {
		t.Error("expected a 32-day move to be rejected")
	}
	if err := (InstanceChanges{Amount: &zero}).Validate(original, "USD"); err == nil {
		t.Error("expected a zero amount to be rejected")
	}
}
