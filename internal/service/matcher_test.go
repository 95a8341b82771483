package service_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/service"
)

func expected(seriesID, accountID string, amount float64, date, description string) domain.RecurringInstanceInfo {
	return domain.RecurringInstanceInfo{
		SeriesID:     seriesID,
		Date:         d(date),
		OriginalDate: d(date),
		AccountID:    accountID,
		Description:  description,
		Amount:       usd(amount),
	}
}

func TestMatcher_ExactMatchScoresOne(t *testing.T) {
	m := service.NewTransactionMatcher(domain.DefaultMatchTolerances())
	tx := transaction("tx-1", "acc-1", -15.99, "2024-01-15", "NETFLIX.COM")

	r, ok := m.Score(tx, expected("netflix", "acc-1", -15.99, "2024-01-15", "Netflix"))
	if !ok {
		t.Fatal("expected a candidate")
	}
	if r.ConfidenceScore != 1.0 {
		t.Errorf("expected 1.0, got %v", r.ConfidenceScore)
	}
	if r.Level != domain.ConfidenceHigh || r.DateDistanceDays != 0 || !r.AmountDistance.IsZero() {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestMatcher_ScoreDecreasesWithDateDistance(t *testing.T) {
	m := service.NewTransactionMatcher(domain.DefaultMatchTolerances())
	inst := expected("gym", "acc-1", -50, "2024-01-15", "Gym")

	prev := 1.1
	for offset := 0; offset <= 7; offset++ {
		tx := transaction("tx", "acc-1", -50, d("2024-01-15").AddDays(offset).String(), "Gym")
		r, ok := m.Score(tx, inst)
		if !ok {
			t.Fatalf("offset %d: expected a candidate", offset)
		}
		if r.ConfidenceScore >= prev {
			t.Errorf("offset %d: expected score below %v, got %v", offset, prev, r.ConfidenceScore)
		}
		prev = r.ConfidenceScore
	}
}

func TestMatcher_ScoreDecreasesWithAmountDistance(t *testing.T) {
	m := service.NewTransactionMatcher(domain.DefaultMatchTolerances())
	inst := expected("rent", "acc-1", -100, "2024-01-15", "Rent")

	prev := 1.1
	for _, amount := range []float64{-100, -101, -104, -107, -110} {
		tx := transaction("tx", "acc-1", amount, "2024-01-15", "Rent")
		r, ok := m.Score(tx, inst)
		if !ok {
			t.Fatalf("amount %v: expected a candidate", amount)
		}
		if r.ConfidenceScore >= prev {
			t.Errorf("amount %v: expected score below %v, got %v", amount, prev, r.ConfidenceScore)
		}
		prev = r.ConfidenceScore
	}
}

func TestMatcher_Exclusions(t *testing.T) {
	m := service.NewTransactionMatcher(domain.DefaultMatchTolerances())
	inst := expected("rent", "acc-1", -100, "2024-01-15", "Rent")

	tests := []struct {
		name string
		tx   domain.Transaction
	}{
		{"date outside tolerance", transaction("tx", "acc-1", -100, "2024-01-23", "Rent")},
		{"amount outside tolerance", transaction("tx", "acc-1", -110.01, "2024-01-15", "Rent")},
		{"opposite sign", transaction("tx", "acc-1", 100, "2024-01-15", "Rent")},
		{"other account", transaction("tx", "acc-2", -100, "2024-01-15", "Rent")},
		{"other currency", func() domain.Transaction {
			tx := transaction("tx", "acc-1", -100, "2024-01-15", "Rent")
			tx.Amount = domain.M(-100.0, "EUR")
			return tx
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if r, ok := m.Score(tt.tx, inst); ok {
				t.Errorf("expected exclusion, got score %v", r.ConfidenceScore)
			}
		})
	}
}

func TestMatcher_AbsoluteToleranceFloor(t *testing.T) {
	m := service.NewTransactionMatcher(domain.DefaultMatchTolerances())
	inst := expected("coffee", "acc-1", -4, "2024-01-15", "Coffee")

	// 10% of 4.00 is 0.40, so the 1.00 floor applies.
	if _, ok := m.Score(transaction("tx", "acc-1", -4.90, "2024-01-15", "Coffee"), inst); !ok {
		t.Error("expected a candidate within the absolute tolerance")
	}
	if _, ok := m.Score(transaction("tx", "acc-1", -5.01, "2024-01-15", "Coffee"), inst); ok {
		t.Error("expected exclusion beyond the absolute tolerance")
	}
}

func TestMatcher_CustomTolerances(t *testing.T) {
	m := service.NewTransactionMatcher(domain.MatchTolerances{
		DateToleranceDays:      2,
		AmountTolerance:        decimal.Zero,
		AmountTolerancePercent: decimal.Zero,
	})
	inst := expected("rent", "acc-1", -100, "2024-01-15", "Rent")

	if _, ok := m.Score(transaction("tx", "acc-1", -100, "2024-01-17", "Rent"), inst); !ok {
		t.Error("expected a candidate at the date tolerance")
	}
	if _, ok := m.Score(transaction("tx", "acc-1", -100, "2024-01-18", "Rent"), inst); ok {
		t.Error("expected exclusion past the date tolerance")
	}
	if _, ok := m.Score(transaction("tx", "acc-1", -100.01, "2024-01-15", "Rent"), inst); ok {
		t.Error("expected exclusion with zero amount tolerance")
	}
}

func TestMatcher_FindMatchesRanking(t *testing.T) {
	m := service.NewTransactionMatcher(domain.DefaultMatchTolerances())
	tx := transaction("tx-1", "acc-1", -15.99, "2024-01-15", "Spotify")

	results := m.FindMatches(tx, []domain.RecurringInstanceInfo{
		expected("far", "acc-1", -15.99, "2024-01-19", "Spotify"),
		expected("netflix", "acc-1", -15.99, "2024-01-15", "Netflix"),
		expected("spotify", "acc-1", -15.99, "2024-01-15", "Spotify"),
		expected("income", "acc-1", 15.99, "2024-01-15", "Spotify"),
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(results))
	}
	order := []string{results[0].Instance.SeriesID, results[1].Instance.SeriesID, results[2].Instance.SeriesID}
	if order[0] != "spotify" || order[1] != "netflix" || order[2] != "far" {
		t.Errorf("unexpected ranking %v", order)
	}
}

func TestDescriptionSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"Netflix", "netflix", 1},
		{"  Rent  payment ", "rent payment", 1},
		{"", "", 1},
		{"abcd", "wxyz", 0},
		{"gym", "gyms", 0.75},
	}
	for _, tt := range tests {
		if got := service.DescriptionSimilarity(tt.a, tt.b); got != tt.want {
			t.Errorf("DescriptionSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
