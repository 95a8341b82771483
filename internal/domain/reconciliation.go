package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Reconciliation matches
// ============================================================

// MatchStatus is the state of a reconciliation match.
// Pending and AutoMatched are open; Accepted and Rejected are terminal.
type MatchStatus string

const (
	MatchPending     MatchStatus = "pending"
	MatchAutoMatched MatchStatus = "auto_matched"
	MatchAccepted    MatchStatus = "accepted"
	MatchRejected    MatchStatus = "rejected"
)

// IsOpen reports whether the match still awaits a decision.
func (s MatchStatus) IsOpen() bool { return s == MatchPending || s == MatchAutoMatched }

// AutoMatchThreshold is the confidence at or above which a match is
// recorded as auto-matched and its level is High.
const AutoMatchThreshold = 0.85

// MediumConfidenceThreshold is the lower bound of the Medium level.
const MediumConfidenceThreshold = 0.60

// ConfidenceLevel buckets a match score.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// LevelFor buckets a confidence score.
func LevelFor(score float64) ConfidenceLevel {
	switch {
	case score >= AutoMatchThreshold:
		return ConfidenceHigh
	case score >= MediumConfidenceThreshold:
		return ConfidenceMedium
	}
	return ConfidenceLow
}

// StatusForScore returns the initial status of a scored match.
func StatusForScore(score float64) MatchStatus {
	if score >= AutoMatchThreshold {
		return MatchAutoMatched
	}
	return MatchPending
}

// ReconciliationMatch associates an imported transaction with an expected occurrence.
type ReconciliationMatch struct {
	ID                    string          `json:"id"`
	ImportedTransactionID string          `json:"imported_transaction_id"`
	RecurringSeriesID     string          `json:"recurring_series_id"`
	InstanceDate          Date            `json:"instance_date"`
	ConfidenceScore       float64         `json:"confidence_score"`
	DateDistanceDays      int             `json:"date_distance_days"`
	AmountDistance        decimal.Decimal `json:"amount_distance"`
	DescriptionSimilarity float64         `json:"description_similarity"`
	Status                MatchStatus     `json:"status"`
	Scope                 string          `json:"scope,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	ResolvedAt            *time.Time      `json:"resolved_at,omitempty"`
}

// Level returns the confidence level of the match.
func (m *ReconciliationMatch) Level() ConfidenceLevel { return LevelFor(m.ConfidenceScore) }

// Key returns the uniqueness key (transaction, series, instance date).
func (m *ReconciliationMatch) Key() string {
	return MatchKey(m.ImportedTransactionID, m.RecurringSeriesID, m.InstanceDate)
}

// MatchKey formats the uniqueness key of a match.
func MatchKey(transactionID, seriesID string, instanceDate Date) string {
	return fmt.Sprintf("%s|%s|%s", transactionID, seriesID, instanceDate)
}

// Accept moves an open match to Accepted.
func (m *ReconciliationMatch) Accept(now time.Time) error {
	return m.resolve(MatchAccepted, now)
}

// Reject moves an open match to Rejected.
func (m *ReconciliationMatch) Reject(now time.Time) error {
	return m.resolve(MatchRejected, now)
}

func (m *ReconciliationMatch) resolve(to MatchStatus, now time.Time) error {
	if !m.Status.IsOpen() {
		return &ErrValidation{Field: "status", Message: fmt.Sprintf("cannot move match from '%s' to '%s'", m.Status, to)}
	}
	m.Status = to
	m.ResolvedAt = &now
	return nil
}

// ============================================================
// Matcher results
// ============================================================

// MatchTolerances bound which candidates the matcher considers.
type MatchTolerances struct {
	DateToleranceDays      int             `json:"date_tolerance_days"`
	AmountTolerance        decimal.Decimal `json:"amount_tolerance"`
	AmountTolerancePercent decimal.Decimal `json:"amount_tolerance_percent"`
}

// DefaultMatchTolerances: ±7 days, the larger of 1.00 or 10% of the expected amount.
func DefaultMatchTolerances() MatchTolerances {
	return MatchTolerances{
		DateToleranceDays:      7,
		AmountTolerance:        decimal.NewFromInt(1),
		AmountTolerancePercent: decimal.NewFromFloat(0.10),
	}
}

// MatchResult is one scored candidate for a transaction.
type MatchResult struct {
	Instance              RecurringInstanceInfo `json:"instance"`
	ConfidenceScore       float64               `json:"confidence_score"`
	Level                 ConfidenceLevel       `json:"level"`
	DateDistanceDays      int                   `json:"date_distance_days"`
	AmountDistance        decimal.Decimal       `json:"amount_distance"`
	DescriptionSimilarity float64               `json:"description_similarity"`
}

// ============================================================
// Orchestrator results
// ============================================================

// TransactionMatchCount summarises the matches found for one transaction.
type TransactionMatchCount struct {
	Total          int `json:"total"`
	HighConfidence int `json:"high_confidence"`
}

// FindMatchesResult is the outcome of a batch FindMatches run.
type FindMatchesResult struct {
	ByTransaction  map[string]TransactionMatchCount `json:"by_transaction"`
	Created        []ReconciliationMatch            `json:"created"`
	TotalMatches   int                              `json:"total_matches"`
	HighConfidence int                              `json:"high_confidence"`
}

// BulkAcceptResult reports a best-effort batch accept.
type BulkAcceptResult struct {
	Accepted []string          `json:"accepted"`
	NotFound []string          `json:"not_found,omitempty"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// InstanceReconciliationStatus classifies one expected occurrence.
type InstanceReconciliationStatus string

const (
	InstanceMatched InstanceReconciliationStatus = "matched"
	InstancePending InstanceReconciliationStatus = "pending"
	InstanceMissing InstanceReconciliationStatus = "missing"
	InstanceSkipped InstanceReconciliationStatus = "skipped"
)

// ReconciliationInstance is one row of the monthly status report.
type ReconciliationInstance struct {
	SeriesID       string                       `json:"series_id"`
	Description    string                       `json:"description"`
	AccountID      string                       `json:"account_id"`
	InstanceDate   Date                         `json:"instance_date"`
	ExpectedAmount Money                        `json:"expected_amount"`
	Status         InstanceReconciliationStatus `json:"status"`
	MatchID        string                       `json:"match_id,omitempty"`
	TransactionID  string                       `json:"transaction_id,omitempty"`
	Confidence     float64                      `json:"confidence,omitempty"`
}

// ReconciliationStatus is the monthly status report.
type ReconciliationStatus struct {
	Year          int                      `json:"year"`
	Month         time.Month               `json:"month"`
	TotalExpected int                      `json:"total_expected"`
	MatchedCount  int                      `json:"matched_count"`
	PendingCount  int                      `json:"pending_count"`
	MissingCount  int                      `json:"missing_count"`
	SkippedCount  int                      `json:"skipped_count"`
	Instances     []ReconciliationInstance `json:"instances"`
}
