// Package port defines the interfaces (ports) the ledger core consumes.
// Following hexagonal architecture, these ports decouple the service layer
// from concrete stores. Lookups report absence as a nil result, never as an error.
package port

import (
	"context"
	"errors"
	"time"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
)

// ExceptionStore reads and writes the per-occurrence overlay of a series.
type ExceptionStore interface {
	GetExceptionByDate(ctx context.Context, seriesID string, date domain.Date) (*domain.SeriesException, error)
	GetExceptionsByDateRange(ctx context.Context, seriesID string, start, end domain.Date) ([]domain.SeriesException, error)
	AddException(ctx context.Context, ex *domain.SeriesException) error
	RemoveException(ctx context.Context, seriesID string, date domain.Date) error
	RemoveExceptionsFromDate(ctx context.Context, seriesID string, date domain.Date) error
}

// RecurringTransactionStore persists recurring transaction series.
type RecurringTransactionStore interface {
	ExceptionStore

	GetActive(ctx context.Context) ([]domain.RecurringTransaction, error)
	GetByAccountID(ctx context.Context, accountID string) ([]domain.RecurringTransaction, error)
	GetByID(ctx context.Context, id string) (*domain.RecurringTransaction, error)
	Update(ctx context.Context, series *domain.RecurringTransaction) error
}

// RecurringTransferStore persists recurring transfer series.
// GetByAccountID returns transfers where the account is source or destination.
type RecurringTransferStore interface {
	ExceptionStore

	GetActive(ctx context.Context) ([]domain.RecurringTransfer, error)
	GetByAccountID(ctx context.Context, accountID string) ([]domain.RecurringTransfer, error)
	GetByID(ctx context.Context, id string) (*domain.RecurringTransfer, error)
	Update(ctx context.Context, series *domain.RecurringTransfer) error
}

// TransactionStore persists realized ledger entries.
// An empty accountID in GetByDateRange means every account.
type TransactionStore interface {
	GetByDateRange(ctx context.Context, start, end domain.Date, accountID string) ([]domain.Transaction, error)
	GetBefore(ctx context.Context, date domain.Date, accountID string) ([]domain.Transaction, error)
	GetByRecurringInstance(ctx context.Context, seriesID string, date domain.Date) (*domain.Transaction, error)
	GetByRecurringTransferInstance(ctx context.Context, seriesID string, date domain.Date) ([]domain.Transaction, error)
	GetByTransferID(ctx context.Context, transferID string) ([]domain.Transaction, error)
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	Add(ctx context.Context, tx *domain.Transaction) error
	Update(ctx context.Context, tx *domain.Transaction) error
}

// AccountStore exposes accounts for balances and names.
type AccountStore interface {
	GetAll(ctx context.Context) ([]domain.Account, error)
	GetByID(ctx context.Context, id string) (*domain.Account, error)
}

// SettingsStore holds the global auto-realize policy.
type SettingsStore interface {
	Get(ctx context.Context) (domain.Settings, error)
	Save(ctx context.Context, s domain.Settings) error
}

// MatchStore persists reconciliation matches. A match is unique per
// (transaction, series, instance date). Add is strict: a conflicting row makes
// SaveChanges fail with *domain.ErrDuplicate and nothing in the unit commits.
// AddIfAbsent skips only the conflicting row.
type MatchStore interface {
	GetPendingMatches(ctx context.Context) ([]domain.ReconciliationMatch, error)
	GetByInstanceDateRange(ctx context.Context, start, end domain.Date) ([]domain.ReconciliationMatch, error)
	GetByTransactionID(ctx context.Context, transactionID string) ([]domain.ReconciliationMatch, error)
	Exists(ctx context.Context, transactionID, seriesID string, date domain.Date) (bool, error)
	Add(ctx context.Context, m *domain.ReconciliationMatch) error
	AddIfAbsent(ctx context.Context, m *domain.ReconciliationMatch) error
	Update(ctx context.Context, m *domain.ReconciliationMatch) error
	GetByID(ctx context.Context, id string) (*domain.ReconciliationMatch, error)
}

// ErrNoUnitOfWork is returned by a write whose context did not come from Begin.
var ErrNoUnitOfWork = errors.New("write outside a unit of work")

// UnitOfWork scopes writes to one operation. Begin returns a context carrying
// a fresh buffer; every write made with that context (or one derived from it)
// is staged there, and SaveChanges commits the buffer atomically. A buffer
// that is never committed is dropped with its context, so a failed operation
// leaves nothing behind. Nothing written is visible until SaveChanges returns nil.
type UnitOfWork interface {
	Begin(ctx context.Context) context.Context
	SaveChanges(ctx context.Context) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// Clock returns the current instant. Services take it so tests can pin "now".
type Clock func() time.Time

// Stores bundles every port a ledger service may need. Adapters hand one out
// and constructors take the fields they use.
type Stores struct {
	Series       RecurringTransactionStore
	Transfers    RecurringTransferStore
	Transactions TransactionStore
	Accounts     AccountStore
	Settings     SettingsStore
	Matches      MatchStore
	UnitOfWork   UnitOfWork
}
