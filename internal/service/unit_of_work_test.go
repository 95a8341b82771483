package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/port"
	"github.com/boddenberg/recurring-ledger-go/internal/service"
)

var errStoreDown = errors.New("store unavailable")

type failingTransfers struct{ port.RecurringTransferStore }

func (failingTransfers) GetActive(context.Context) ([]domain.RecurringTransfer, error) {
	return nil, errStoreDown
}

// failingSecondAdd accepts the first staged entry and rejects the next one.
type failingSecondAdd struct {
	port.TransactionStore
	adds int
}

func (s *failingSecondAdd) Add(ctx context.Context, tx *domain.Transaction) error {
	s.adds++
	if s.adds > 1 {
		return errStoreDown
	}
	return s.TransactionStore.Add(ctx, tx)
}

func (f *fixture) engineOver(stores port.Stores, now time.Time) *service.AutoRealizeEngine {
	return service.NewAutoRealizeEngine(stores, f.projector, f.transferProjector, func() time.Time { return now }, f.metrics, zap.NewNop())
}

func TestUnitOfWork_FailedPassLeavesNothingForTheNextCommit(t *testing.T) {
	now := at("2024-02-10")
	f := newFixture(t, now)
	f.enableAutoRealize(30)
	f.account("acc-1", "USD", 0, "")
	f.store.SeedRecurringTransaction(monthlySeries("rent", "acc-1", -1000, "2024-01-15"))
	ctx := context.Background()

	stores := f.stores
	stores.Transfers = failingTransfers{f.stores.Transfers}
	if _, err := f.engineOver(stores, now).AutoRealizePastDueItemsIfEnabled(ctx, d("2024-02-10"), ""); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected the transfer load failure, got %v", err)
	}

	if _, err := f.settings.Update(ctx, domain.Settings{AutoRealizeEnabled: true, LookbackDays: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.store.AllTransactions(); len(got) != 0 {
		t.Errorf("expected no entries from the failed pass, got %+v", got)
	}
	if s, _ := f.stores.Series.GetByID(ctx, "rent"); s.LastRealizedDate != nil {
		t.Errorf("expected the cursor untouched, got %s", s.LastRealizedDate)
	}
}

func TestUnitOfWork_FailedTransferRealizationLeavesNoLoneLeg(t *testing.T) {
	now := at("2024-02-10")
	f := newFixture(t, now)
	f.account("acc-1", "USD", 1000, "")
	f.account("acc-2", "USD", 0, "")
	f.store.SeedRecurringTransfer(monthlyTransfer("save", "acc-1", "acc-2", 100, "2024-01-15"))
	ctx := context.Background()

	stores := f.stores
	stores.Transactions = &failingSecondAdd{TransactionStore: f.stores.Transactions}
	if _, err := f.engineOver(stores, now).RealizeTransferInstance(ctx, "save", d("2024-01-15"), d("2024-02-10")); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected the destination leg failure, got %v", err)
	}

	if _, err := f.recurring.SkipInstance(ctx, domain.SeriesKindTransfer, "save", d("2024-02-15")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.store.AllTransactions(); len(got) != 0 {
		t.Errorf("expected no transfer leg committed, got %+v", got)
	}
	if ex, _ := f.stores.Transfers.GetExceptionByDate(ctx, "save", d("2024-02-15")); ex == nil {
		t.Error("expected the later skip to commit on its own")
	}
}
