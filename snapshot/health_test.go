package snapshot_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finlens/ledger-engine/canonical"
	"github.com/finlens/ledger-engine/snapshot"
	"github.com/finlens/ledger-engine/store/sqlite"
	"github.com/finlens/ledger-engine/syncrun"
)

func newReporter(t *testing.T) (*snapshot.HealthReporter, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return snapshot.NewHealthReporter(store), store
}

func TestCoverageFor_PctAndRanking(t *testing.T) {
	// GIVEN: 4 ledgers, 1 unclassified plus 1 legacy "unknown"
	// WHEN: computing coverage
	// THEN: 50% classified, gaps ranked by absolute balance

	r, store := newReporter(t)
	ctx := context.Background()

	seedMonth(t, store, "co-1", "2025-03", []canonical.LedgerMonthlyBalance{
		row("co-1", "2025-03", "l-1", "Cash", canonical.TypeCash, "1000"),
		row("co-1", "2025-03", "l-2", "Sales", canonical.TypeRevenue, "-8000"),
		row("co-1", "2025-03", "l-3", "Suspense", canonical.TypeUnclassified, "500"),
		row("co-1", "2025-03", "l-4", "Old Adjustments", "unknown", "-2500"),
	})

	cov, err := r.CoverageFor(ctx, "co-1", "2025-03", 10)
	require.NoError(t, err)

	assert.Equal(t, 4, cov.TotalLedgers)
	assert.Equal(t, 2, cov.ClassifiedLedgers)
	assert.Equal(t, 2, cov.UnclassifiedLedgers)
	assert.Equal(t, 50.0, cov.ClassifiedPct)

	require.Len(t, cov.TopUnclassified, 2)
	assert.Equal(t, "Old Adjustments", cov.TopUnclassified[0].LedgerName,
		"largest absolute balance surfaces first")
}

func TestCoverageFor_PctRoundsToTwoDecimals(t *testing.T) {
	// One of three classified: 33.333...% rounds to 33.33.
	r, store := newReporter(t)

	seedMonth(t, store, "co-1", "2025-03", []canonical.LedgerMonthlyBalance{
		row("co-1", "2025-03", "l-1", "Office Rent", canonical.TypeExpense, "100"),
		row("co-1", "2025-03", "l-2", "Cash", canonical.TypeUnclassified, "100"),
		row("co-1", "2025-03", "l-3", "Sales", canonical.TypeUnclassified, "100"),
	})

	cov, err := r.CoverageFor(context.Background(), "co-1", "2025-03", 10)
	require.NoError(t, err)
	assert.Equal(t, 33.33, cov.ClassifiedPct)
}

func TestCoverageFor_TopNCapsTheList(t *testing.T) {
	r, store := newReporter(t)
	ctx := context.Background()

	seedMonth(t, store, "co-1", "2025-03", []canonical.LedgerMonthlyBalance{
		row("co-1", "2025-03", "l-1", "A", canonical.TypeUnclassified, "10"),
		row("co-1", "2025-03", "l-2", "B", canonical.TypeUnclassified, "30"),
		row("co-1", "2025-03", "l-3", "C", canonical.TypeUnclassified, "20"),
	})

	cov, err := r.CoverageFor(ctx, "co-1", "2025-03", 2)
	require.NoError(t, err)
	require.Len(t, cov.TopUnclassified, 2)
	assert.Equal(t, "B", cov.TopUnclassified[0].LedgerName)
	assert.Equal(t, "C", cov.TopUnclassified[1].LedgerName)
}

func TestCoverageFor_EmptyMonthIsZeroNotNaN(t *testing.T) {
	r, _ := newReporter(t)

	cov, err := r.CoverageFor(context.Background(), "co-1", "2025-03", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, cov.TotalLedgers)
	assert.Equal(t, 0.0, cov.ClassifiedPct)
}

func TestReport_AssemblesTenantView(t *testing.T) {
	r, store := newReporter(t)
	ctx := context.Background()

	// A finished partial run with a missing-months report.
	run := syncrun.NewRun("co-1", canonical.SourceTally, "")
	tracker, err := syncrun.Start(ctx, store, run)
	require.NoError(t, err)
	require.NoError(t, tracker.Advance(ctx, syncrun.StageSnapshot))
	require.NoError(t, tracker.Complete(ctx, []canonical.MonthKey{"2025-01"}))

	// A summarized month with an interest expense.
	seedMonth(t, store, "co-1", "2025-03", []canonical.LedgerMonthlyBalance{
		row("co-1", "2025-03", "l-1", "Cash", canonical.TypeCash, "1000"),
		{
			CompanyID: "co-1", Month: "2025-03", LedgerGUID: "l-2",
			LedgerName: "Interest on Term Loan", CFOCategory: canonical.TypeExpense,
			CFOSubtype: "interest", Balance: dec("350"),
		},
	})
	_, err = snapshot.NewEngine(store).RebuildMonth(ctx, "co-1", "2025-03")
	require.NoError(t, err)

	require.NoError(t, store.ReplaceCurrents(ctx, "co-1", canonical.CurrentDebtor, []canonical.CurrentBalance{
		{CompanyID: "co-1", Kind: canonical.CurrentDebtor, Name: "Acme", Balance: dec("5000")},
	}))

	report, err := r.Report(ctx, "co-1")
	require.NoError(t, err)

	require.NotNil(t, report.LastSyncRun)
	assert.Equal(t, syncrun.StatusPartial, report.LastSyncRun.Status)
	assert.Equal(t, []canonical.MonthKey{"2025-01"}, report.MissingMonths)

	require.NotNil(t, report.LatestSnapshot)
	assert.Equal(t, canonical.MonthKey("2025-03"), report.LatestSnapshot.Month)
	require.NotNil(t, report.Coverage)

	assert.True(t, report.InterestLatest.Equal(dec("350")), "interest: %s", report.InterestLatest)
	assert.True(t, report.Currents.DebtorsTotal.Equal(dec("5000")))
	assert.Empty(t, report.StaleLocks)
}

func TestReport_EmptyTenant(t *testing.T) {
	// A tenant that has never synced gets an empty but well-formed report.
	r, _ := newReporter(t)

	report, err := r.Report(context.Background(), "co-ghost")
	require.NoError(t, err)
	assert.Nil(t, report.LastSyncRun)
	assert.Nil(t, report.LatestSnapshot)
	assert.Nil(t, report.Coverage)
	assert.True(t, report.InterestLatest.IsZero())
}
