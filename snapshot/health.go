/*
health.go - Read-only coverage and health reporter

PURPOSE:
  Computes classification coverage and sync staleness for one tenant,
  consumed by the external admin surface. Strictly read-only: nothing
  here mutates the canonical tables.

COVERAGE:
  Over the tenant's latest summarized month: ledgers whose cfoCategory is
  empty/"unclassified"/"unknown" count as unclassified;
  classifiedPct = classified / total * 100 (0 when total == 0), rounded to
  two decimals. The top-N unclassified ledgers are ranked by absolute
  balance descending, so the most material gaps surface first.

HEALTH:
  Also surfaces the most recent run's stage/status/last-error, the
  missingMonths its events reported, current-table totals, the latest
  interest expense, and running locks old enough to look stuck.
*/
package snapshot

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finlens/ledger-engine/canonical"
	"github.com/finlens/ledger-engine/syncrun"
)

// TopUnclassifiedDefault is the default N for coverage's worst offenders.
const TopUnclassifiedDefault = 10

// staleLockAge is how long a running lock may live before the reporter
// flags it as stuck.
const staleLockAge = 30 * time.Minute

// HealthStore extends Store with the run/lock reads the reporter needs.
type HealthStore interface {
	Store
	LatestRun(ctx context.Context, companyID canonical.CompanyID) (*syncrun.Run, error)
	EventsForRun(ctx context.Context, runID string) ([]syncrun.Event, error)
	ListRunningLocks(ctx context.Context, companyID canonical.CompanyID, olderThan time.Time) ([]syncrun.Lock, error)
}

// UnclassifiedLedger is one coverage gap, ranked by materiality.
type UnclassifiedLedger struct {
	LedgerGUID canonical.LedgerGUID
	LedgerName string
	Balance    decimal.Decimal
}

// Coverage is the classification coverage for one month.
type Coverage struct {
	Month               canonical.MonthKey
	TotalLedgers        int
	ClassifiedLedgers   int
	UnclassifiedLedgers int
	ClassifiedPct       float64
	TopUnclassified     []UnclassifiedLedger
}

// CurrentTotals sums the current tables per kind.
type CurrentTotals struct {
	CashTotal      decimal.Decimal
	DebtorsTotal   decimal.Decimal
	CreditorsTotal decimal.Decimal
	LoansTotal     decimal.Decimal
}

// Report is the admin health read model for one tenant.
type Report struct {
	LastSyncRun    *syncrun.Run
	LatestSnapshot *canonical.TrialBalanceSummary
	Coverage       *Coverage
	Currents       CurrentTotals
	MissingMonths  []canonical.MonthKey
	InterestLatest decimal.Decimal
	StaleLocks     []syncrun.Lock
}

// HealthReporter computes Report and Coverage.
type HealthReporter struct {
	store HealthStore
}

func NewHealthReporter(store HealthStore) *HealthReporter {
	return &HealthReporter{store: store}
}

// CoverageFor computes classification coverage over one month's rows.
func (h *HealthReporter) CoverageFor(ctx context.Context, companyID canonical.CompanyID, month canonical.MonthKey, topN int) (*Coverage, error) {
	if topN <= 0 {
		topN = TopUnclassifiedDefault
	}

	rows, err := h.store.MonthlyBalances(ctx, companyID, month)
	if err != nil {
		return nil, err
	}

	cov := &Coverage{Month: month, TotalLedgers: len(rows)}
	var gaps []UnclassifiedLedger
	for _, r := range rows {
		if canonical.Unclassified(r.CFOCategory) {
			cov.UnclassifiedLedgers++
			gaps = append(gaps, UnclassifiedLedger{
				LedgerGUID: r.LedgerGUID,
				LedgerName: r.LedgerName,
				Balance:    r.Balance,
			})
		}
	}
	cov.ClassifiedLedgers = cov.TotalLedgers - cov.UnclassifiedLedgers
	if cov.TotalLedgers > 0 {
		pct := float64(cov.ClassifiedLedgers) / float64(cov.TotalLedgers) * 100
		cov.ClassifiedPct = math.Round(pct*100) / 100
	}

	sort.Slice(gaps, func(i, j int) bool {
		return gaps[i].Balance.Abs().GreaterThan(gaps[j].Balance.Abs())
	})
	if len(gaps) > topN {
		gaps = gaps[:topN]
	}
	cov.TopUnclassified = gaps

	return cov, nil
}

// Report assembles the full admin health view for a tenant.
func (h *HealthReporter) Report(ctx context.Context, companyID canonical.CompanyID) (*Report, error) {
	report := &Report{InterestLatest: decimal.Zero}

	run, err := h.store.LatestRun(ctx, companyID)
	if err != nil {
		return nil, err
	}
	report.LastSyncRun = run
	if run != nil {
		report.MissingMonths = h.missingMonthsFromEvents(ctx, run)
	}

	latest, err := h.store.LatestSummary(ctx, companyID)
	if err != nil {
		return nil, err
	}
	report.LatestSnapshot = latest

	if latest != nil {
		cov, err := h.CoverageFor(ctx, companyID, latest.Month, TopUnclassifiedDefault)
		if err != nil {
			return nil, err
		}
		report.Coverage = cov
		report.InterestLatest, err = h.interestFor(ctx, companyID, latest.Month)
		if err != nil {
			return nil, err
		}
	}

	report.Currents, err = h.currentTotals(ctx, companyID)
	if err != nil {
		return nil, err
	}

	report.StaleLocks, err = h.store.ListRunningLocks(ctx, companyID, time.Now().UTC().Add(-staleLockAge))
	if err != nil {
		return nil, err
	}

	return report, nil
}

// missingMonthsFromEvents reads the run's SYNC_MISSING_MONTHS_REPORTED
// event. Failure to read events degrades to "none reported" - the report
// is advisory, not transactional.
func (h *HealthReporter) missingMonthsFromEvents(ctx context.Context, run *syncrun.Run) []canonical.MonthKey {
	events, err := h.store.EventsForRun(ctx, run.ID)
	if err != nil {
		return nil
	}
	for _, ev := range events {
		if ev.Event == syncrun.EventMissingMonths && ev.Data != nil {
			return ev.Data.Months
		}
	}
	return nil
}

func (h *HealthReporter) interestFor(ctx context.Context, companyID canonical.CompanyID, month canonical.MonthKey) (decimal.Decimal, error) {
	rows, err := h.store.MonthlyBalances(ctx, companyID, month)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range rows {
		if r.CFOCategory == canonical.TypeExpense && r.CFOSubtype == "interest" {
			total = total.Add(r.Balance)
		}
	}
	return total, nil
}

func (h *HealthReporter) currentTotals(ctx context.Context, companyID canonical.CompanyID) (CurrentTotals, error) {
	totals := CurrentTotals{
		CashTotal:      decimal.Zero,
		DebtorsTotal:   decimal.Zero,
		CreditorsTotal: decimal.Zero,
		LoansTotal:     decimal.Zero,
	}
	kinds := []struct {
		kind canonical.CurrentKind
		dst  *decimal.Decimal
	}{
		{canonical.CurrentCash, &totals.CashTotal},
		{canonical.CurrentDebtor, &totals.DebtorsTotal},
		{canonical.CurrentCreditor, &totals.CreditorsTotal},
		{canonical.CurrentLoan, &totals.LoansTotal},
	}
	for _, k := range kinds {
		rows, err := h.store.CurrentBalances(ctx, companyID, k.kind)
		if err != nil {
			return totals, err
		}
		for _, r := range rows {
			*k.dst = k.dst.Add(r.Balance)
		}
	}
	return totals, nil
}
