package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/service"
)

func TestSkipNext(t *testing.T) {
	f := newFixture(t, at("2024-02-03"))
	f.account("acc-1", "USD", 0, "")
	f.store.SeedRecurringTransaction(monthlySeries("gym", "acc-1", -50, "2024-01-05"))
	ctx := context.Background()

	ex, err := f.recurring.SkipNext(ctx, domain.SeriesKindTransaction, "gym", d("2024-02-03"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex == nil || !ex.OriginalDate.Equal(d("2024-02-05")) || ex.Type != domain.ExceptionSkipped {
		t.Fatalf("expected Feb 5 skipped, got %+v", ex)
	}
	s, _ := f.stores.Series.GetByID(ctx, "gym")
	if s.NextOccurrence == nil || !s.NextOccurrence.Equal(d("2024-03-05")) {
		t.Errorf("expected cursor on Mar 5, got %v", s.NextOccurrence)
	}

	second, err := f.recurring.SkipNext(ctx, domain.SeriesKindTransaction, "gym", d("2024-02-03"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.OriginalDate.Equal(d("2024-03-05")) {
		t.Errorf("expected the second skip to move on to Mar 5, got %s", second.OriginalDate)
	}

	missing, err := f.recurring.SkipNext(ctx, domain.SeriesKindTransaction, "nope", d("2024-02-03"))
	if err != nil || missing != nil {
		t.Errorf("expected nil for an unknown series, got %v %v", missing, err)
	}
}

func TestSkipNext_EndedSeries(t *testing.T) {
	f := newFixture(t, at("2024-03-01"))
	s := monthlySeries("gym", "acc-1", -50, "2024-01-05")
	end := d("2024-02-05")
	s.Pattern.EndDate = &end
	f.store.SeedRecurringTransaction(s)

	_, err := f.recurring.SkipNext(context.Background(), domain.SeriesKindTransaction, "gym", d("2024-03-01"))
	var valErr *domain.ErrValidation
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSkipInstance(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	f.store.SeedRecurringTransaction(monthlySeries("gym", "acc-1", -50, "2024-01-05"))
	f.store.SeedTransaction(realizedFrom("tx-1", "gym", -50, "2024-01-05"))
	ctx := context.Background()

	if _, err := f.recurring.SkipInstance(ctx, domain.SeriesKindTransaction, "gym", d("2024-03-05")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cal, err := f.projector.GetInstancesByDateRange(ctx, mustSeries(t, f, "gym"), d("2024-02-01"), d("2024-04-30"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cal[d("2024-03-05")]; ok || cal.Count() != 2 {
		t.Errorf("expected Mar 5 gone and Feb/Apr kept, got %v", cal.Dates())
	}

	tests := []struct {
		name string
		date string
	}{
		{"off schedule", "2024-03-06"},
		{"already realized", "2024-01-05"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.recurring.SkipInstance(ctx, domain.SeriesKindTransaction, "gym", d(tt.date))
			var valErr *domain.ErrValidation
			if !errors.As(err, &valErr) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestModifyInstance(t *testing.T) {
	f := newFixture(t, at("2024-01-20"))
	f.store.SeedRecurringTransaction(monthlySeries("rent", "acc-1", -1000, "2024-01-01"))
	ctx := context.Background()

	amount := usd(-1100)
	moved := d("2024-02-03")
	ex, err := f.recurring.ModifyInstance(ctx, domain.SeriesKindTransaction, "rent", d("2024-02-01"), domain.InstanceChanges{Amount: &amount, Date: &moved})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.Type != domain.ExceptionModified || !ex.ModifiedAmount.Equal(amount) || !ex.ModifiedDate.Equal(moved) {
		t.Errorf("unexpected exception %+v", ex)
	}

	instances, err := f.projector.ProjectSeries(ctx, &mustSeries(t, f, "rent")[0], d("2024-02-01"), d("2024-03-31"), service.ProjectionOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(instances) != 2 || !instances[0].Date.Equal(moved) || !instances[1].Amount.Equal(usd(-1000)) {
		t.Errorf("expected only February overridden, got %+v", instances)
	}

	s, _ := f.stores.Series.GetByID(ctx, "rent")
	if s.NextOccurrence == nil || !s.NextOccurrence.Equal(d("2024-02-01")) {
		t.Errorf("expected the modified occurrence to remain the cursor, got %v", s.NextOccurrence)
	}

	eur := domain.M(-1000.0, "EUR")
	far := d("2024-04-15")
	tests := []struct {
		name    string
		changes domain.InstanceChanges
	}{
		{"empty", domain.InstanceChanges{}},
		{"currency mismatch", domain.InstanceChanges{Amount: &eur}},
		{"moved too far", domain.InstanceChanges{Date: &far}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.recurring.ModifyInstance(ctx, domain.SeriesKindTransaction, "rent", d("2024-03-01"), tt.changes)
			var valErr *domain.ErrValidation
			if !errors.As(err, &valErr) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestModifyInstance_TransferAmountMustBePositive(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	f.store.SeedRecurringTransfer(monthlyTransfer("save", "checking", "savings", 100, "2024-01-15"))

	negative := usd(-50)
	_, err := f.recurring.ModifyInstance(context.Background(), domain.SeriesKindTransfer, "save", d("2024-02-15"), domain.InstanceChanges{Amount: &negative})
	var valErr *domain.ErrValidation
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	positive := usd(150)
	ex, err := f.recurring.ModifyInstance(context.Background(), domain.SeriesKindTransfer, "save", d("2024-02-15"), domain.InstanceChanges{Amount: &positive})
	if err != nil || ex == nil {
		t.Fatalf("expected the transfer occurrence modified, got %v %v", ex, err)
	}
	legs, err := f.transferProjector.GetInstancesForDate(context.Background(), mustTransfers(t, f, "save"), d("2024-02-15"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(legs) != 2 || !legs[0].Amount.Equal(usd(-150)) || !legs[1].Amount.Equal(usd(150)) {
		t.Errorf("expected both legs overridden, got %+v", legs)
	}
}

func TestRestoreInstance(t *testing.T) {
	f := newFixture(t, at("2024-02-01"))
	f.store.SeedRecurringTransaction(monthlySeries("gym", "acc-1", -50, "2024-01-05"))
	ctx := context.Background()

	if _, err := f.recurring.SkipNext(ctx, domain.SeriesKindTransaction, "gym", d("2024-02-01")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found, err := f.recurring.RestoreInstance(ctx, domain.SeriesKindTransaction, "gym", d("2024-02-05"))
	if err != nil || !found {
		t.Fatalf("expected the exception restored, got %v %v", found, err)
	}

	s, _ := f.stores.Series.GetByID(ctx, "gym")
	if s.NextOccurrence == nil || !s.NextOccurrence.Equal(d("2024-02-05")) {
		t.Errorf("expected the cursor back on Feb 5, got %v", s.NextOccurrence)
	}
	instances, err := f.projector.GetInstancesForDate(ctx, []domain.RecurringTransaction{*s}, d("2024-02-05"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(instances) != 1 || instances[0].IsException {
		t.Errorf("expected a plain occurrence again, got %+v", instances)
	}

	again, err := f.recurring.RestoreInstance(ctx, domain.SeriesKindTransaction, "gym", d("2024-02-05"))
	if err != nil || again {
		t.Errorf("expected not found without an exception, got %v %v", again, err)
	}
}

func TestUpdateSeriesFrom(t *testing.T) {
	f := newFixture(t, at("2024-01-20"))
	f.store.SeedRecurringTransaction(monthlySeries("rent", "acc-1", -1000, "2024-01-01"))
	f.store.SeedException(domain.SeriesException{ID: "ex-feb", SeriesID: "rent", OriginalDate: d("2024-02-01"), Type: domain.ExceptionSkipped})
	f.store.SeedException(domain.SeriesException{ID: "ex-apr", SeriesID: "rent", OriginalDate: d("2024-04-01"), Type: domain.ExceptionSkipped})
	ctx := context.Background()

	amount := usd(-1100)
	found, err := f.recurring.UpdateSeriesFrom(ctx, domain.SeriesKindTransaction, "rent", d("2024-03-01"), domain.SeriesChanges{Amount: &amount})
	if err != nil || !found {
		t.Fatalf("expected the series updated, got %v %v", found, err)
	}

	s, _ := f.stores.Series.GetByID(ctx, "rent")
	if !s.Amount.Equal(amount) {
		t.Errorf("expected the new amount, got %s", s.Amount)
	}
	if ex, _ := f.stores.Series.GetExceptionByDate(ctx, "rent", d("2024-02-01")); ex == nil {
		t.Error("expected the exception before the effective date to survive")
	}
	if ex, _ := f.stores.Series.GetExceptionByDate(ctx, "rent", d("2024-04-01")); ex != nil {
		t.Error("expected the exception after the effective date to be removed")
	}
	if s.NextOccurrence == nil || !s.NextOccurrence.Equal(d("2024-03-01")) {
		t.Errorf("expected the cursor on Mar 1, got %v", s.NextOccurrence)
	}

	_, err = f.recurring.UpdateSeriesFrom(ctx, domain.SeriesKindTransaction, "rent", d("2024-03-01"), domain.SeriesChanges{})
	var valErr *domain.ErrValidation
	if !errors.As(err, &valErr) {
		t.Errorf("expected ErrValidation for empty changes, got %v", err)
	}

	zero := usd(0)
	_, err = f.recurring.UpdateSeriesFrom(ctx, domain.SeriesKindTransaction, "rent", d("2024-03-01"), domain.SeriesChanges{Amount: &zero})
	if !errors.As(err, &valErr) {
		t.Errorf("expected ErrValidation for a zero amount, got %v", err)
	}
}

func TestSetActive(t *testing.T) {
	f := newFixture(t, at("2024-02-10"))
	f.store.SeedRecurringTransaction(monthlySeries("gym", "acc-1", -50, "2024-01-05"))
	ctx := context.Background()

	found, err := f.recurring.SetActive(ctx, domain.SeriesKindTransaction, "gym", false)
	if err != nil || !found {
		t.Fatalf("expected paused, got %v %v", found, err)
	}
	active, _ := f.stores.Series.GetActive(ctx)
	if len(active) != 0 {
		t.Errorf("expected no active series, got %d", len(active))
	}

	if _, err := f.recurring.SetActive(ctx, domain.SeriesKindTransaction, "gym", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, _ := f.stores.Series.GetByID(ctx, "gym")
	if !s.IsActive || s.NextOccurrence == nil || !s.NextOccurrence.Equal(d("2024-03-05")) {
		t.Errorf("expected resumed with cursor Mar 5, got %+v", s)
	}

	_, err = f.recurring.SetActive(ctx, domain.SeriesKind("weekly"), "gym", true)
	var valErr *domain.ErrValidation
	if !errors.As(err, &valErr) {
		t.Errorf("expected ErrValidation for an unknown kind, got %v", err)
	}
}

func TestSettingsService(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	ctx := context.Background()

	current, err := f.settings.Get(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if current.AutoRealizeEnabled || current.LookbackDays != domain.DefaultLookbackDays {
		t.Errorf("expected defaults, got %+v", current)
	}

	updated, err := f.settings.Update(ctx, domain.Settings{AutoRealizeEnabled: true, LookbackDays: 14})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := f.settings.Get(ctx); got != updated {
		t.Errorf("expected %+v stored, got %+v", updated, got)
	}

	_, err = f.settings.Update(ctx, domain.Settings{AutoRealizeEnabled: true, LookbackDays: 0})
	var valErr *domain.ErrValidation
	if !errors.As(err, &valErr) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

// --- Helpers ---

func mustSeries(t *testing.T, f *fixture, id string) []domain.RecurringTransaction {
	t.Helper()
	s, err := f.stores.Series.GetByID(context.Background(), id)
	if err != nil || s == nil {
		t.Fatalf("series %s not found: %v", id, err)
	}
	return []domain.RecurringTransaction{*s}
}

func mustTransfers(t *testing.T, f *fixture, id string) []domain.RecurringTransfer {
	t.Helper()
	s, err := f.stores.Transfers.GetByID(context.Background(), id)
	if err != nil || s == nil {
		t.Fatalf("transfer %s not found: %v", id, err)
	}
	return []domain.RecurringTransfer{*s}
}
