package domain

import (
	"fmt"
	"time"
)

// ============================================================
// Recurring series
// ============================================================

// RecurringTransaction is a series that produces one ledger entry per occurrence.
type RecurringTransaction struct {
	ID               string            `json:"id"`
	AccountID        string            `json:"account_id"`
	Amount           Money             `json:"amount"`
	Description      string            `json:"description"`
	Category         string            `json:"category,omitempty"`
	Scope            string            `json:"scope,omitempty"`
	Pattern          RecurrencePattern `json:"pattern"`
	IsActive         bool              `json:"is_active"`
	NextOccurrence   *Date             `json:"next_occurrence,omitempty"`
	LastRealizedDate *Date             `json:"last_realized_date,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Validate checks the series definition.
func (s *RecurringTransaction) Validate() error {
	if s.AccountID == "" {
		return &ErrValidation{Field: "account_id", Message: "required"}
	}
	if err := s.Amount.Validate(); err != nil {
		return err
	}
	if s.Amount.IsZero() {
		return &ErrValidation{Field: "amount", Message: "must not be zero"}
	}
	return s.Pattern.Validate()
}

// RecurringTransfer is a series that produces a transfer pair per occurrence.
// Amount is the positive magnitude moved from source to destination.
type RecurringTransfer struct {
	ID                   string            `json:"id"`
	SourceAccountID      string            `json:"source_account_id"`
	DestinationAccountID string            `json:"destination_account_id"`
	Amount               Money             `json:"amount"`
	Description          string            `json:"description"`
	Scope                string            `json:"scope,omitempty"`
	Pattern              RecurrencePattern `json:"pattern"`
	IsActive             bool              `json:"is_active"`
	NextOccurrence       *Date             `json:"next_occurrence,omitempty"`
	LastRealizedDate     *Date             `json:"last_realized_date,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// Validate checks the transfer definition.
func (s *RecurringTransfer) Validate() error {
	if s.SourceAccountID == "" {
		return &ErrValidation{Field: "source_account_id", Message: "required"}
	}
	if s.DestinationAccountID == "" {
		return &ErrValidation{Field: "destination_account_id", Message: "required"}
	}
	if s.SourceAccountID == s.DestinationAccountID {
		return &ErrValidation{Field: "destination_account_id", Message: "must differ from source"}
	}
	if err := s.Amount.Validate(); err != nil {
		return err
	}
	if !s.Amount.IsPositive() {
		return &ErrValidation{Field: "amount", Message: "must be positive"}
	}
	return s.Pattern.Validate()
}

// Touches reports whether the transfer moves money in or out of accountID.
func (s *RecurringTransfer) Touches(accountID string) bool {
	return s.SourceAccountID == accountID || s.DestinationAccountID == accountID
}

// ============================================================
// Exceptions
// ============================================================

// ExceptionType is the kind of per-occurrence override.
type ExceptionType string

const (
	ExceptionSkipped  ExceptionType = "skipped"
	ExceptionModified ExceptionType = "modified"
)

// SeriesException overrides one occurrence of a series, keyed by
// (SeriesID, OriginalDate). Later occurrences keep following the original schedule.
type SeriesException struct {
	ID                  string        `json:"id"`
	SeriesID            string        `json:"series_id"`
	OriginalDate        Date          `json:"original_date"`
	Type                ExceptionType `json:"type"`
	ModifiedAmount      *Money        `json:"modified_amount,omitempty"`
	ModifiedDate        *Date         `json:"modified_date,omitempty"`
	ModifiedDescription *string       `json:"modified_description,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
}

// IsSkipped reports whether the occurrence is removed from projection.
func (e *SeriesException) IsSkipped() bool { return e != nil && e.Type == ExceptionSkipped }

// InstanceChanges carries the optional overrides of an edit-one action.
type InstanceChanges struct {
	Amount      *Money  `json:"amount,omitempty"`
	Date        *Date   `json:"date,omitempty"`
	Description *string `json:"description,omitempty"`
}

// IsEmpty reports whether no override is set.
func (c InstanceChanges) IsEmpty() bool {
	return c.Amount == nil && c.Date == nil && c.Description == nil
}

// MaxRescheduleDays bounds how far a modified occurrence may move from its
// scheduled date. Projection looks this far outside a window for moved-in occurrences.
const MaxRescheduleDays = 31

// Validate checks an edit-one request against the scheduled date and the
// series currency.
func (c InstanceChanges) Validate(original Date, currency string) error {
	if c.IsEmpty() {
		return &ErrValidation{Field: "changes", Message: "at least one of amount, date or description is required"}
	}
	if c.Amount != nil {
		if err := c.Amount.Validate(); err != nil {
			return err
		}
		if c.Amount.Currency() != currency {
			return &ErrValidation{Field: "amount", Message: fmt.Sprintf("currency %s does not match series currency %s", c.Amount.Currency(), currency)}
		}
		if c.Amount.IsZero() {
			return &ErrValidation{Field: "amount", Message: "must not be zero"}
		}
	}
	if c.Date != nil {
		if days := original.DaysUntil(*c.Date); days > MaxRescheduleDays || days < -MaxRescheduleDays {
			return &ErrValidation{Field: "date", Message: fmt.Sprintf("must be within %d days of %s", MaxRescheduleDays, original)}
		}
	}
	return nil
}

// Apply builds the Modified exception for the occurrence on original.
func (c InstanceChanges) Apply(id, seriesID string, original Date, now time.Time) *SeriesException {
	return &SeriesException{
		ID:                  id,
		SeriesID:            seriesID,
		OriginalDate:        original,
		Type:                ExceptionModified,
		ModifiedAmount:      c.Amount,
		ModifiedDate:        c.Date,
		ModifiedDescription: c.Description,
		CreatedAt:           now,
	}
}

// SeriesKind selects between the two series variants.
type SeriesKind string

const (
	SeriesKindTransaction SeriesKind = "transaction"
	SeriesKindTransfer    SeriesKind = "transfer"
)

// Valid reports whether k names a known variant.
func (k SeriesKind) Valid() bool { return k == SeriesKindTransaction || k == SeriesKindTransfer }

// SeriesChanges carries the optional edits of an edit-this-and-future action.
type SeriesChanges struct {
	Amount      *Money             `json:"amount,omitempty"`
	Description *string            `json:"description,omitempty"`
	Pattern     *RecurrencePattern `json:"pattern,omitempty"`
}

// IsEmpty reports whether no edit is set.
func (c SeriesChanges) IsEmpty() bool {
	return c.Amount == nil && c.Description == nil && c.Pattern == nil
}

// ============================================================
// Settings
// ============================================================

// DefaultLookbackDays is the auto-realize window used when none is configured.
const DefaultLookbackDays = 30

// Settings are the global auto-realize policy.
type Settings struct {
	AutoRealizeEnabled bool `json:"auto_realize_enabled"`
	LookbackDays       int  `json:"lookback_days"`
}

// DefaultSettings returns auto-realize disabled with the default lookback.
func DefaultSettings() Settings {
	return Settings{LookbackDays: DefaultLookbackDays}
}

// Validate rejects a non-positive lookback.
func (s Settings) Validate() error {
	if s.LookbackDays <= 0 {
		return &ErrValidation{Field: "lookback_days", Message: "must be at least 1"}
	}
	return nil
}
