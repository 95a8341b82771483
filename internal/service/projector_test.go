package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/service"
)

func TestProjector_MonthlyDay31ClampsInFebruary(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	f.account("acc-1", "USD", 0, "")

	tests := []struct {
		name  string
		start string
		from  string
		to    string
		want  string
	}{
		{"leap year", "2024-01-31", "2024-02-01", "2024-02-29", "2024-02-29"},
		{"common year", "2023-01-31", "2023-02-01", "2023-02-28", "2023-02-28"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := monthlySeries("rent", "acc-1", -1200, tt.start)
			cal, err := f.projector.GetInstancesByDateRange(context.Background(), []domain.RecurringTransaction{s}, d(tt.from), d(tt.to))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cal.Count() != 1 {
				t.Fatalf("expected 1 instance, got %d", cal.Count())
			}
			if _, ok := cal[d(tt.want)]; !ok {
				t.Errorf("expected instance on %s, got %v", tt.want, cal.Dates())
			}
		})
	}
}

func TestProjector_SkippedExceptionIsDropped(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	f.account("acc-1", "USD", 0, "")
	s := monthlySeries("gym", "acc-1", -50, "2024-01-01")
	f.store.SeedRecurringTransaction(s)
	f.store.SeedException(domain.SeriesException{ID: "ex-1", SeriesID: "gym", OriginalDate: d("2024-01-01"), Type: domain.ExceptionSkipped})

	cal, err := f.projector.GetInstancesByDateRange(context.Background(), []domain.RecurringTransaction{s}, d("2024-01-01"), d("2024-02-29"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cal[d("2024-01-01")]; ok {
		t.Error("expected skipped occurrence to be dropped")
	}
	if _, ok := cal[d("2024-02-01")]; !ok {
		t.Error("expected following occurrence to remain")
	}
}

func TestProjector_RealizedInstanceIsDropped(t *testing.T) {
	f := newFixture(t, at("2024-03-01"))
	f.account("acc-1", "USD", 0, "")
	s := monthlySeries("gym", "acc-1", -50, "2024-01-01")
	f.store.SeedRecurringTransaction(s)
	f.store.SeedTransaction(realizedFrom("tx-1", "gym", -50, "2024-02-01"))

	cal, err := f.projector.GetInstancesByDateRange(context.Background(), []domain.RecurringTransaction{s}, d("2024-01-01"), d("2024-03-31"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cal[d("2024-02-01")]; ok {
		t.Error("expected realized occurrence to be suppressed")
	}
	if cal.Count() != 2 {
		t.Errorf("expected 2 remaining instances, got %d", cal.Count())
	}
}

func TestProjector_ModifiedOccurrence(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	f.account("acc-1", "USD", 0, "")
	s := monthlySeries("rent", "acc-1", -1000, "2024-01-10")
	f.store.SeedRecurringTransaction(s)
	amount := usd(-1100)
	moved := d("2024-02-12")
	desc := "Rent (late)"
	f.store.SeedException(domain.SeriesException{
		ID: "ex-1", SeriesID: "rent", OriginalDate: d("2024-02-10"), Type: domain.ExceptionModified,
		ModifiedAmount: &amount, ModifiedDate: &moved, ModifiedDescription: &desc,
	})

	cal, err := f.projector.GetInstancesByDateRange(context.Background(), []domain.RecurringTransaction{s}, d("2024-02-01"), d("2024-03-31"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	feb := cal[d("2024-02-12")]
	if len(feb) != 1 {
		t.Fatalf("expected modified instance keyed by its new date, got %v", cal.Dates())
	}
	inst := feb[0]
	if !inst.IsModified || !inst.IsException {
		t.Error("expected modified flags to be set")
	}
	if !inst.Amount.Equal(amount) || inst.Description != desc {
		t.Errorf("expected overrides, got %s %q", inst.Amount, inst.Description)
	}
	if !inst.OriginalDate.Equal(d("2024-02-10")) {
		t.Errorf("expected original date 2024-02-10, got %s", inst.OriginalDate)
	}
	if _, ok := cal[d("2024-03-10")]; !ok {
		t.Error("expected March to follow the original schedule")
	}
}

func TestProjector_ModifiedIntoRangeFromOutside(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	f.account("acc-1", "USD", 0, "")
	s := monthlySeries("rent", "acc-1", -1000, "2024-01-31")
	f.store.SeedRecurringTransaction(s)
	moved := d("2024-02-02")
	f.store.SeedException(domain.SeriesException{ID: "ex-1", SeriesID: "rent", OriginalDate: d("2024-01-31"), Type: domain.ExceptionModified, ModifiedDate: &moved})

	instances, err := f.projector.GetInstancesForDate(context.Background(), []domain.RecurringTransaction{s}, moved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(instances) != 1 || !instances[0].OriginalDate.Equal(d("2024-01-31")) {
		t.Fatalf("expected the January occurrence moved to Feb 2, got %+v", instances)
	}

	jan, err := f.projector.GetInstancesForDate(context.Background(), []domain.RecurringTransaction{s}, d("2024-01-31"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jan) != 0 {
		t.Errorf("expected nothing left on the original date, got %d", len(jan))
	}
}

func TestProjector_InvalidSeriesSkipped(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	f.account("acc-1", "USD", 0, "")
	good := monthlySeries("good", "acc-1", -10, "2024-01-01")
	bad := monthlySeries("bad", "acc-1", -10, "2024-01-01")
	bad.Pattern.DayOfMonth = 40

	cal, err := f.projector.GetInstancesByDateRange(context.Background(), []domain.RecurringTransaction{bad, good}, d("2024-01-01"), d("2024-01-31"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cal.Count() != 1 || cal[d("2024-01-01")][0].SeriesID != "good" {
		t.Errorf("expected only the valid series, got %+v", cal)
	}
}

func TestProjector_ProjectSeriesRejectsMalformedAnchor(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	bad := monthlySeries("bad", "acc-1", -10, "2024-01-01")
	bad.Pattern.DayOfMonth = 32

	_, err := f.projector.ProjectSeries(context.Background(), &bad, d("2024-01-01"), d("2024-01-31"), service.ProjectionOptions{})
	var valErr *domain.ErrValidation
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestProjector_IncludeOptions(t *testing.T) {
	f := newFixture(t, at("2024-04-01"))
	f.account("acc-1", "USD", 0, "")
	s := monthlySeries("gym", "acc-1", -50, "2024-01-01")
	f.store.SeedRecurringTransaction(s)
	f.store.SeedException(domain.SeriesException{ID: "ex-1", SeriesID: "gym", OriginalDate: d("2024-01-01"), Type: domain.ExceptionSkipped})
	f.store.SeedTransaction(realizedFrom("tx-1", "gym", -50, "2024-02-01"))

	all, err := f.projector.ProjectSeries(context.Background(), &s, d("2024-01-01"), d("2024-03-31"), service.ProjectionOptions{IncludeRealized: true, IncludeSkipped: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(all))
	}
	if !all[0].IsSkipped || !all[1].IsRealized || all[2].IsSkipped || all[2].IsRealized {
		t.Errorf("unexpected flags: %+v", all)
	}
}

func TestProjector_WeeklyAndBiWeekly(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	f.account("acc-1", "USD", 0, "")
	friday := time.Friday

	weekly := monthlySeries("weekly", "acc-1", -20, "2024-01-05")
	weekly.Pattern = domain.RecurrencePattern{Frequency: domain.FrequencyWeekly, DayOfWeek: &friday, StartDate: d("2024-01-05")}
	biweekly := monthlySeries("biweekly", "acc-1", 2000, "2024-01-05")
	biweekly.Pattern = domain.RecurrencePattern{Frequency: domain.FrequencyBiWeekly, DayOfWeek: &friday, StartDate: d("2024-01-05")}

	cal, err := f.projector.GetInstancesByDateRange(context.Background(), []domain.RecurringTransaction{weekly, biweekly}, d("2024-01-01"), d("2024-01-31"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := map[string]int{}
	for _, inst := range cal.Flatten() {
		counts[inst.SeriesID]++
	}
	if counts["weekly"] != 4 {
		t.Errorf("expected 4 weekly occurrences in January 2024, got %d", counts["weekly"])
	}
	if counts["biweekly"] != 2 {
		t.Errorf("expected 2 biweekly occurrences (Jan 5, Jan 19), got %d", counts["biweekly"])
	}
}

// --- Transfers ---

func TestTransferProjector_Legs(t *testing.T) {
	f := newFixture(t, at("2024-01-01"))
	f.account("checking", "USD", 0, "")
	f.account("savings", "USD", 0, "")
	s := monthlyTransfer("save", "checking", "savings", 200, "2024-01-15")
	series := []domain.RecurringTransfer{s}

	both, err := f.transferProjector.GetInstancesByDateRange(context.Background(), series, d("2024-01-01"), d("2024-01-31"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	legs := both[d("2024-01-15")]
	if len(legs) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(legs))
	}
	src, dst := legs[0], legs[1]
	if src.Direction != domain.TransferSource || src.AccountID != "checking" || !src.Amount.Equal(usd(-200)) {
		t.Errorf("unexpected source leg: %+v", src)
	}
	if dst.Direction != domain.TransferDestination || dst.AccountID != "savings" || !dst.Amount.Equal(usd(200)) {
		t.Errorf("unexpected destination leg: %+v", dst)
	}

	filtered, err := f.transferProjector.GetInstancesForDate(context.Background(), series, d("2024-01-15"), "savings")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(filtered) != 1 || filtered[0].AccountID != "savings" || filtered[0].CounterpartAccountID != "checking" {
		t.Errorf("expected only the savings leg, got %+v", filtered)
	}

	none, err := f.transferProjector.GetInstancesForDate(context.Background(), series, d("2024-01-15"), "other")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no legs for an unrelated account, got %d", len(none))
	}
}

func TestTransferProjector_RealizedPairDropped(t *testing.T) {
	f := newFixture(t, at("2024-02-01"))
	s := monthlyTransfer("save", "checking", "savings", 200, "2024-01-15")
	f.store.SeedRecurringTransfer(s)

	src, dst := domain.NewTransferPair("tr-1", "checking", "savings", usd(200), d("2024-01-15"), "save", at("2024-01-15"))
	for i, leg := range []*domain.Transaction{src, dst} {
		leg.ID = []string{"leg-src", "leg-dst"}[i]
		leg.RecurringTransferID = "save"
		day := d("2024-01-15")
		leg.RecurringInstanceDate = &day
		f.store.SeedTransaction(*leg)
	}

	cal, err := f.transferProjector.GetInstancesByDateRange(context.Background(), []domain.RecurringTransfer{s}, d("2024-01-01"), d("2024-01-31"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cal.Count() != 0 {
		t.Errorf("expected realized transfer to be suppressed, got %d legs", cal.Count())
	}
}
