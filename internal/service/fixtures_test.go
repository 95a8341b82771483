package service_test

import (
	"testing"
	"time"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/memstore"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/observability"
	"github.com/boddenberg/recurring-ledger-go/internal/port"
	"github.com/boddenberg/recurring-ledger-go/internal/service"

	"go.uber.org/zap"
)

// --- Fixture ---

type fixture struct {
	store   *memstore.Store
	stores  port.Stores
	metrics *observability.Metrics

	projector         *service.RecurringInstanceProjector
	transferProjector *service.RecurringTransferInstanceProjector
	engine            *service.AutoRealizeEngine
	ledger            *service.UnifiedLedgerService
	recon             *service.ReconciliationService
	recurring         *service.RecurringService
	settings          *service.SettingsService
}

// newFixture wires every service over a fresh in-memory store with the
// clock pinned to now.
func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	store := memstore.New()
	stores := store.Ports()
	metrics := observability.NewMetrics()
	logger := zap.NewNop()
	clock := func() time.Time { return now }

	projector := service.NewRecurringInstanceProjector(stores, metrics, logger)
	transferProjector := service.NewRecurringTransferInstanceProjector(stores, metrics, logger)

	return &fixture{
		store:             store,
		stores:            stores,
		metrics:           metrics,
		projector:         projector,
		transferProjector: transferProjector,
		engine:            service.NewAutoRealizeEngine(stores, projector, transferProjector, clock, metrics, logger),
		ledger:            service.NewUnifiedLedgerService(stores, projector, transferProjector, metrics, logger),
		recon:             service.NewReconciliationService(stores, projector, service.NewTransactionMatcher(domain.DefaultMatchTolerances()), clock, metrics, logger),
		recurring:         service.NewRecurringService(stores, clock, time.UTC, metrics, logger),
		settings:          service.NewSettingsService(stores, logger),
	}
}

func (f *fixture) enableAutoRealize(lookback int) {
	f.store.SeedSettings(domain.Settings{AutoRealizeEnabled: true, LookbackDays: lookback})
}

func (f *fixture) account(id, currency string, initial float64, opened string) domain.Account {
	acc := domain.Account{
		ID:             id,
		Name:           "Account " + id,
		Currency:       currency,
		InitialBalance: domain.M(initial, currency),
	}
	if opened != "" {
		acc.OpenedOn = d(opened)
	}
	f.store.SeedAccount(acc)
	return acc
}

// --- Builders ---

func d(s string) domain.Date { return domain.MustParseDate(s) }

func usd(v float64) domain.Money { return domain.M(v, "USD") }

func at(s string) time.Time { return d(s).Time().Add(12 * time.Hour) }

func monthlySeries(id, accountID string, amount float64, start string) domain.RecurringTransaction {
	return domain.RecurringTransaction{
		ID:          id,
		AccountID:   accountID,
		Amount:      usd(amount),
		Description: "Series " + id,
		IsActive:    true,
		Pattern: domain.RecurrencePattern{
			Frequency: domain.FrequencyMonthly,
			StartDate: d(start),
		},
	}
}

func monthlyTransfer(id, source, destination string, amount float64, start string) domain.RecurringTransfer {
	return domain.RecurringTransfer{
		ID:                   id,
		SourceAccountID:      source,
		DestinationAccountID: destination,
		Amount:               usd(amount),
		Description:          "Transfer " + id,
		IsActive:             true,
		Pattern: domain.RecurrencePattern{
			Frequency: domain.FrequencyMonthly,
			StartDate: d(start),
		},
	}
}

func transaction(id, accountID string, amount float64, date, description string) domain.Transaction {
	return domain.Transaction{
		ID:          id,
		AccountID:   accountID,
		Amount:      usd(amount),
		Date:        d(date),
		Description: description,
		CreatedAt:   at(date),
	}
}

func realizedFrom(id, seriesID string, amount float64, date string) domain.Transaction {
	tx := transaction(id, "acc-1", amount, date, "realized")
	tx.LinkToSeries(seriesID, d(date))
	return tx
}
