package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
)

func TestUnifiedList_MergesAndRunsBalance(t *testing.T) {
	f := newFixture(t, at("2024-01-15"))
	f.account("acc-1", "USD", 1000, "2023-12-01")
	f.store.SeedTransaction(transaction("old", "acc-1", -100, "2023-12-20", "before range"))
	f.store.SeedTransaction(transaction("tx-1", "acc-1", 2000, "2024-01-05", "Salary"))
	f.store.SeedRecurringTransaction(monthlySeries("rent", "acc-1", -1200, "2024-01-10"))

	ledger, err := f.ledger.GetUnifiedList(context.Background(), "acc-1", d("2024-01-01"), d("2024-01-31"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ledger == nil {
		t.Fatal("expected a ledger")
	}

	if !ledger.Summary.OpeningBalance.Equal(usd(900)) {
		t.Errorf("expected opening 900, got %s", ledger.Summary.OpeningBalance)
	}
	if len(ledger.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(ledger.Items))
	}
	if ledger.Items[0].ID != "tx-1" || !ledger.Items[0].RunningBalance.Equal(usd(2900)) {
		t.Errorf("unexpected first item %+v", ledger.Items[0])
	}
	rent := ledger.Items[1]
	if rent.Kind != domain.ItemRecurring || rent.ID != "rent:2024-01-10" || !rent.RunningBalance.Equal(usd(1700)) {
		t.Errorf("unexpected projected item %+v", rent)
	}
	if !ledger.Summary.ClosingBalance.Equal(usd(1700)) {
		t.Errorf("expected closing 1700, got %s", ledger.Summary.ClosingBalance)
	}
	if !ledger.Summary.ActualIncome.Equal(usd(2000)) || !ledger.Summary.ProjectedExpense.Equal(usd(-1200)) {
		t.Errorf("unexpected summary %+v", ledger.Summary)
	}
	if !ledger.Summary.CombinedTotal.Equal(usd(800)) {
		t.Errorf("expected combined 800, got %s", ledger.Summary.CombinedTotal)
	}

	if len(ledger.Days) != 2 || !ledger.Days[0].Date.Equal(d("2024-01-10")) {
		t.Fatalf("expected days in descending order, got %+v", ledger.Days)
	}
	if !ledger.Days[0].StartingBalance.Equal(usd(2900)) || !ledger.Days[0].EndingBalance.Equal(usd(1700)) {
		t.Errorf("unexpected day total %+v", ledger.Days[0])
	}
}

func TestUnifiedList_RealizedInstanceCountedOnce(t *testing.T) {
	f := newFixture(t, at("2024-02-15"))
	f.account("acc-1", "USD", 0, "")
	f.store.SeedRecurringTransaction(monthlySeries("gym", "acc-1", -50, "2024-01-05"))
	f.store.SeedTransaction(realizedFrom("tx-1", "gym", -50, "2024-01-05"))

	ledger, err := f.ledger.GetUnifiedList(context.Background(), "acc-1", d("2024-01-01"), d("2024-02-29"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.Items) != 2 {
		t.Fatalf("expected the realized entry plus one projection, got %d", len(ledger.Items))
	}
	if ledger.Summary.TransactionCount != 1 || ledger.Summary.RecurringCount != 1 {
		t.Errorf("unexpected counts %+v", ledger.Summary)
	}
	if !ledger.Summary.ClosingBalance.Equal(usd(-100)) {
		t.Errorf("expected closing -100, got %s", ledger.Summary.ClosingBalance)
	}
}

func TestUnifiedList_ModifiedRealizedStaysDeduplicated(t *testing.T) {
	f := newFixture(t, at("2024-01-20"))
	f.account("acc-1", "USD", 0, "")
	f.store.SeedRecurringTransaction(monthlySeries("rent", "acc-1", -1000, "2024-01-10"))
	moved := d("2024-01-12")
	f.store.SeedException(domain.SeriesException{ID: "ex-1", SeriesID: "rent", OriginalDate: d("2024-01-10"), Type: domain.ExceptionModified, ModifiedDate: &moved})
	tx := realizedFrom("tx-1", "rent", -1000, "2024-01-10")
	tx.Date = moved
	f.store.SeedTransaction(tx)

	ledger, err := f.ledger.GetUnifiedList(context.Background(), "acc-1", d("2024-01-01"), d("2024-01-31"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.Items) != 1 || ledger.Items[0].Kind != domain.ItemTransaction {
		t.Errorf("expected only the realized entry, got %+v", ledger.Items)
	}
}

func TestUnifiedList_TransferLegs(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	f.account("checking", "USD", 500, "")
	f.account("savings", "USD", 0, "")
	f.store.SeedRecurringTransfer(monthlyTransfer("save", "checking", "savings", 200, "2024-01-15"))

	src, dst := domain.NewTransferPair("tr-1", "checking", "savings", usd(50), d("2024-01-03"), "manual move", at("2024-01-03"))
	src.ID, dst.ID = "leg-src", "leg-dst"
	f.store.SeedTransaction(*src)
	f.store.SeedTransaction(*dst)

	ledger, err := f.ledger.GetUnifiedList(context.Background(), "savings", d("2024-01-01"), d("2024-01-31"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.Items) != 2 {
		t.Fatalf("expected the manual leg and one projected leg, got %d", len(ledger.Items))
	}
	if ledger.Items[0].ID != "leg-dst" || ledger.Items[0].CounterpartAccountID != "checking" {
		t.Errorf("expected counterpart resolved from the other leg, got %+v", ledger.Items[0])
	}
	projected := ledger.Items[1]
	if projected.Kind != domain.ItemRecurringTransfer || projected.TransferDirection != domain.TransferDestination || !projected.Amount.Equal(usd(200)) {
		t.Errorf("unexpected projected leg %+v", projected)
	}
	if ledger.Summary.TransferCount != 2 {
		t.Errorf("expected 2 transfer rows, got %d", ledger.Summary.TransferCount)
	}

	all, err := f.ledger.GetUnifiedList(context.Background(), "", d("2024-01-01"), d("2024-01-31"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !all.Summary.ClosingBalance.Equal(usd(500)) {
		t.Errorf("expected transfers to net to zero across accounts, got %s", all.Summary.ClosingBalance)
	}
}

func TestUnifiedList_SameDayOpeningBucket(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	f.account("acc-1", "USD", 300, "2024-01-10")

	ledger, err := f.ledger.GetUnifiedList(context.Background(), "acc-1", d("2024-01-01"), d("2024-01-31"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ledger.Summary.OpeningBalance.IsZero() {
		t.Errorf("expected zero opening, got %s", ledger.Summary.OpeningBalance)
	}
	if len(ledger.Days) != 1 {
		t.Fatalf("expected the opening day listed, got %d days", len(ledger.Days))
	}
	day := ledger.Days[0]
	if !day.StartingBalance.IsZero() || !day.InitialBalances.Equal(usd(300)) || !day.EndingBalance.Equal(usd(300)) {
		t.Errorf("unexpected opening day %+v", day)
	}
}

func TestUnifiedList_UnknownAccountAndBadRange(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	f.account("acc-1", "USD", 0, "")

	ledger, err := f.ledger.GetUnifiedList(context.Background(), "missing", d("2024-01-01"), d("2024-01-31"))
	if err != nil || ledger != nil {
		t.Errorf("expected nil for an unknown account, got %v %v", ledger, err)
	}

	_, err = f.ledger.GetUnifiedList(context.Background(), "acc-1", d("2024-02-01"), d("2024-01-01"))
	var valErr *domain.ErrValidation
	if !errors.As(err, &valErr) {
		t.Errorf("expected ErrValidation for an inverted range, got %v", err)
	}
}

func TestUnifiedList_MixedCurrenciesRejected(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	f.account("acc-1", "USD", 0, "")
	f.account("acc-2", "EUR", 0, "")

	_, err := f.ledger.GetUnifiedList(context.Background(), "", d("2024-01-01"), d("2024-01-31"))
	var valErr *domain.ErrValidation
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestBalances_OpeningExcludesSameDayAsOfIncludes(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	f.account("acc-1", "USD", 500, "2024-01-10")
	f.store.SeedTransaction(transaction("tx-1", "acc-1", -20, "2024-01-10", "coffee"))
	f.store.SeedTransaction(transaction("tx-2", "acc-1", -30, "2024-01-11", "lunch"))
	ctx := context.Background()

	tests := []struct {
		name    string
		balance func() (*domain.Money, error)
		want    domain.Money
	}{
		{"opening on the opening day", func() (*domain.Money, error) {
			return f.ledger.GetOpeningBalanceForDate(ctx, "acc-1", d("2024-01-10"))
		}, usd(0)},
		{"as of the opening day", func() (*domain.Money, error) {
			return f.ledger.GetBalanceAsOfDate(ctx, "acc-1", d("2024-01-10"))
		}, usd(480)},
		{"opening the day after", func() (*domain.Money, error) {
			return f.ledger.GetOpeningBalanceForDate(ctx, "acc-1", d("2024-01-11"))
		}, usd(480)},
		{"as of the day after", func() (*domain.Money, error) {
			return f.ledger.GetBalanceAsOfDate(ctx, "acc-1", d("2024-01-11"))
		}, usd(450)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.balance()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got == nil || !got.Equal(tt.want) {
				t.Errorf("expected %s, got %v", tt.want, got)
			}
		})
	}

	missing, err := f.ledger.GetBalanceAsOfDate(ctx, "nope", d("2024-01-10"))
	if err != nil || missing != nil {
		t.Errorf("expected nil for an unknown account, got %v %v", missing, err)
	}
}
