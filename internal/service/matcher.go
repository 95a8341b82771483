package service

import (
	"math"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
)

const (
	amountWeight = 0.6
	dateWeight   = 0.4
)

// TransactionMatcher scores one actual transaction against projected
// occurrences. Candidates must share account, sign and currency and fall
// inside both tolerances. Confidence decreases with date and amount
// distance; an exact match scores 1.0.
type TransactionMatcher struct {
	tolerances domain.MatchTolerances
}

// NewTransactionMatcher creates a matcher with the given tolerances.
func NewTransactionMatcher(tolerances domain.MatchTolerances) *TransactionMatcher {
	if tolerances.DateToleranceDays < 0 {
		tolerances.DateToleranceDays = 0
	}
	return &TransactionMatcher{tolerances: tolerances}
}

// Tolerances returns the configured tolerances.
func (m *TransactionMatcher) Tolerances() domain.MatchTolerances { return m.tolerances }

// FindMatches returns the scored candidates, best first. Ties on confidence
// are broken by description similarity, then date distance.
func (m *TransactionMatcher) FindMatches(tx domain.Transaction, candidates []domain.RecurringInstanceInfo) []domain.MatchResult {
	var results []domain.MatchResult
	for _, inst := range candidates {
		if r, ok := m.Score(tx, inst); ok {
			results = append(results, r)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.ConfidenceScore != b.ConfidenceScore {
			return a.ConfidenceScore > b.ConfidenceScore
		}
		if a.DescriptionSimilarity != b.DescriptionSimilarity {
			return a.DescriptionSimilarity > b.DescriptionSimilarity
		}
		return a.DateDistanceDays < b.DateDistanceDays
	})
	return results
}

// Score evaluates one candidate. ok is false when the candidate is
// incompatible or outside a tolerance.
func (m *TransactionMatcher) Score(tx domain.Transaction, inst domain.RecurringInstanceInfo) (domain.MatchResult, bool) {
	if tx.AccountID != inst.AccountID || !tx.Amount.SameCurrency(inst.Amount) {
		return domain.MatchResult{}, false
	}
	if tx.Amount.Sign() != inst.Amount.Sign() {
		return domain.MatchResult{}, false
	}

	days := tx.Date.DaysUntil(inst.Date)
	if days < 0 {
		days = -days
	}
	if days > m.tolerances.DateToleranceDays {
		return domain.MatchResult{}, false
	}

	delta := tx.Amount.Decimal().Sub(inst.Amount.Decimal()).Abs()
	tolerance := m.amountTolerance(inst.Amount.Decimal())
	if delta.GreaterThan(tolerance) {
		return domain.MatchResult{}, false
	}

	score := amountWeight*amountScore(delta, tolerance) + dateWeight*dateScore(days, m.tolerances.DateToleranceDays)
	score = math.Round(score*10000) / 10000

	return domain.MatchResult{
		Instance:              inst,
		ConfidenceScore:       score,
		Level:                 domain.LevelFor(score),
		DateDistanceDays:      days,
		AmountDistance:        delta,
		DescriptionSimilarity: DescriptionSimilarity(tx.Description, inst.Description),
	}, true
}

// amountTolerance is the larger of the absolute tolerance and the
// percentage of the expected amount.
func (m *TransactionMatcher) amountTolerance(expected decimal.Decimal) decimal.Decimal {
	relative := expected.Abs().Mul(m.tolerances.AmountTolerancePercent)
	return decimal.Max(m.tolerances.AmountTolerance, relative)
}

func amountScore(delta, tolerance decimal.Decimal) float64 {
	if delta.IsZero() {
		return 1
	}
	if !tolerance.IsPositive() {
		return 0
	}
	return 1 - delta.Div(tolerance).InexactFloat64()
}

func dateScore(days, tolerance int) float64 {
	return 1 - float64(days)/float64(tolerance+1)
}

// DescriptionSimilarity is 1 minus the normalised Levenshtein distance of
// the case-folded, trimmed descriptions.
func DescriptionSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.Join(strings.Fields(a), " "))
	b = strings.ToLower(strings.Join(strings.Fields(b), " "))
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return math.Round((1-float64(d)/float64(longest))*10000) / 10000
}
