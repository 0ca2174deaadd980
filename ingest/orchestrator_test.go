package ingest_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finlens/ledger-engine/adapter"
	"github.com/finlens/ledger-engine/adapter/tally"
	"github.com/finlens/ledger-engine/canonical"
	"github.com/finlens/ledger-engine/ingest"
	"github.com/finlens/ledger-engine/store/sqlite"
	"github.com/finlens/ledger-engine/syncrun"
)

// tallyPayload is a small but complete export: chart, two months, parties
// and aging for one tenant.
const tallyPayload = `{
	"company": {"name": "Mehta Traders", "guid": "co-77"},
	"as_of": "2025-03-31",
	"groups": [
		{"name": "Cash-in-Hand", "parent": "Current Assets"},
		{"name": "Current Assets", "parent": "Primary"},
		{"name": "Sales Accounts", "parent": "Primary"}
	],
	"ledgers": [
		{"guid": "l-1", "name": "Cash", "parent": "Cash-in-Hand"},
		{"guid": "l-2", "name": "Sales Account", "parent": "Sales Accounts"}
	],
	"months": [
		{"month": "2025-02", "closed": true,
		 "balances": [{"guid": "l-1", "amount": "900"}, {"guid": "l-2", "amount": "-4000"}]},
		{"month": "2025-03", "closed": false,
		 "balances": [{"guid": "l-1", "amount": "1200.50"}, {"guid": "l-2", "amount": "-5000"}]}
	],
	"bills_receivable": [{"party": "Acme", "amount": "5000"}],
	"bills_payable": [{"party": "Mehta & Co", "amount": "1200"}],
	"aging": {
		"receivables": [{"party": "Acme", "0_30": "3000", "31_60": "2000"}]
	}
}`

func newOrchestrator(t *testing.T) (*ingest.Orchestrator, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := adapter.NewRegistry()
	registry.Register(tally.New())
	return ingest.NewOrchestrator(store, registry), store
}

func TestSync_FullRunSucceeds(t *testing.T) {
	// GIVEN: a well-formed export with two months
	// WHEN: syncing it
	// THEN: the run succeeds at 100% with every derived table populated

	o, store := newOrchestrator(t)
	ctx := context.Background()

	res, err := o.Sync(ctx, ingest.Request{
		CompanyID: "co-1", Source: canonical.SourceTally, Payload: []byte(tallyPayload),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Run)
	assert.False(t, res.AlreadyProcessed)

	run := res.Run
	assert.Equal(t, syncrun.StatusSuccess, run.Status)
	assert.Equal(t, syncrun.StageDone, run.Stage)
	assert.Equal(t, 100, run.Progress)
	assert.Equal(t, 3, run.Stats.GroupsUpserted)
	assert.Equal(t, 2, run.Stats.LedgersUpserted)
	assert.Equal(t, 2, run.Stats.MonthsNormalized)
	assert.Equal(t, 4, run.Stats.RowsWritten)
	assert.Equal(t, 4, run.Stats.Classified)
	assert.Equal(t, 0, run.Stats.Unclassified)
	assert.Empty(t, run.Stats.MissingMonths)

	// Both months got summaries, oldest first.
	summaries, err := store.ListSummaries(ctx, "co-1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, canonical.MonthKey("2025-02"), summaries[0].Month)

	// Current tables reflect the freshest month and the party section.
	cash, err := store.CurrentBalances(ctx, "co-1", canonical.CurrentCash)
	require.NoError(t, err)
	require.Len(t, cash, 1)
	assert.True(t, cash[0].Balance.Equal(canonical.MustParseDecimal("1200.50")))

	debtors, err := store.CurrentBalances(ctx, "co-1", canonical.CurrentDebtor)
	require.NoError(t, err)
	require.Len(t, debtors, 1)
	assert.Equal(t, "Acme", debtors[0].Name)

	aging, err := store.LatestAging(ctx, "co-1", canonical.PartyDebtor)
	require.NoError(t, err)
	require.Len(t, aging, 1)
	assert.True(t, aging[0].Total.Equal(canonical.MustParseDecimal("5000")))
}

func TestSync_EventSequence(t *testing.T) {
	o, store := newOrchestrator(t)
	ctx := context.Background()

	res, err := o.Sync(ctx, ingest.Request{
		CompanyID: "co-1", Source: canonical.SourceTally, Payload: []byte(tallyPayload),
	})
	require.NoError(t, err)

	events, err := store.EventsForRun(ctx, res.Run.ID)
	require.NoError(t, err)

	// Stage entries appear in forward order, ending in SYNC_COMPLETE.
	var stages []syncrun.Stage
	for _, ev := range events {
		if ev.Event == syncrun.EventStageStarted && ev.Data != nil && ev.Data.Stage != "" {
			stages = append(stages, ev.Data.Stage)
		}
	}
	assert.Equal(t, syncrun.Stages, stages)
	assert.Equal(t, syncrun.EventSyncComplete, events[len(events)-1].Event)
}

func TestSync_MalformedMonthEndsPartial(t *testing.T) {
	// GIVEN: an export where one month has unparseable amounts
	// WHEN: syncing
	// THEN: the good month lands, the bad one is reported, status partial

	payload := `{
		"ledgers": [{"guid": "l-1", "name": "Cash", "parent": "Cash-in-Hand"}],
		"months": [
			{"month": "2025-02", "closed": true, "balances": [{"guid": "l-1", "amount": "abc"}]},
			{"month": "2025-03", "closed": false, "balances": [{"guid": "l-1", "amount": "10"}]}
		]
	}`

	o, store := newOrchestrator(t)
	ctx := context.Background()

	res, err := o.Sync(ctx, ingest.Request{
		CompanyID: "co-1", Source: canonical.SourceTally, Payload: []byte(payload),
	})
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, syncrun.StatusPartial, run.Status)
	assert.Equal(t, 100, run.Progress)
	assert.Equal(t, []canonical.MonthKey{"2025-02"}, run.Stats.MissingMonths)
	assert.Equal(t, 1, run.Stats.MonthsNormalized)
	assert.Equal(t, 1, run.Stats.MonthsSkipped)

	months, err := store.MonthsWithBalances(ctx, "co-1")
	require.NoError(t, err)
	assert.Equal(t, []canonical.MonthKey{"2025-03"}, months)
}

func TestSync_UnknownLedgerRowsAreSkipped(t *testing.T) {
	// A month whose every item references an unknown ledger contributes
	// nothing and is reported missing.
	payload := `{
		"ledgers": [{"guid": "l-1", "name": "Cash", "parent": "Cash-in-Hand"}],
		"months": [
			{"month": "2025-03", "closed": false,
			 "balances": [{"guid": "ghost-1", "amount": "10"}, {"guid": "ghost-2", "amount": "20"}]}
		]
	}`

	o, _ := newOrchestrator(t)
	res, err := o.Sync(context.Background(), ingest.Request{
		CompanyID: "co-1", Source: canonical.SourceTally, Payload: []byte(payload),
	})
	require.NoError(t, err)
	assert.Equal(t, syncrun.StatusPartial, res.Run.Status)
	assert.Equal(t, []canonical.MonthKey{"2025-03"}, res.Run.Stats.MissingMonths)
}

func TestSync_IdenticalPayloadShortCircuits(t *testing.T) {
	// GIVEN: a payload that already synced successfully
	// WHEN: resubmitting the identical bytes
	// THEN: no new run; the original is returned as already processed

	o, store := newOrchestrator(t)
	ctx := context.Background()

	first, err := o.Sync(ctx, ingest.Request{
		CompanyID: "co-1", Source: canonical.SourceTally, Payload: []byte(tallyPayload),
	})
	require.NoError(t, err)

	second, err := o.Sync(ctx, ingest.Request{
		CompanyID: "co-1", Source: canonical.SourceTally, Payload: []byte(tallyPayload),
	})
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.Run.ID, second.Run.ID)

	runs, err := store.ListRuns(ctx, "co-1", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1, "resubmission must not create a second run")
}

func TestSync_ChangedPayloadRunsAgain(t *testing.T) {
	o, store := newOrchestrator(t)
	ctx := context.Background()

	_, err := o.Sync(ctx, ingest.Request{
		CompanyID: "co-1", Source: canonical.SourceTally, Payload: []byte(tallyPayload),
	})
	require.NoError(t, err)

	changed := tallyPayload + "\n"
	res, err := o.Sync(ctx, ingest.Request{
		CompanyID: "co-1", Source: canonical.SourceTally, Payload: []byte(changed),
	})
	require.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)

	runs, err := store.ListRuns(ctx, "co-1", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSync_UnknownSourceRejected(t *testing.T) {
	o, _ := newOrchestrator(t)
	_, err := o.Sync(context.Background(), ingest.Request{
		CompanyID: "co-1", Source: "quickbooks", Payload: []byte("{}"),
	})
	assert.True(t, errors.Is(err, canonical.ErrUnknownSource))
}

func TestSync_BrokenPayloadFailsRunAndFreesLock(t *testing.T) {
	o, store := newOrchestrator(t)
	ctx := context.Background()

	res, err := o.Sync(ctx, ingest.Request{
		CompanyID: "co-1", Source: canonical.SourceTally, Payload: []byte("not json"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, canonical.ErrAdapterFormat))
	require.NotNil(t, res.Run)
	assert.Equal(t, syncrun.StatusFailed, res.Run.Status)

	lock, err := store.GetLock(ctx, "co-1", syncrun.JobKeySync, string(canonical.SourceTally))
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, syncrun.LockFailed, lock.Status)

	// The tenant is not wedged: a fixed payload syncs fine.
	res, err = o.Sync(ctx, ingest.Request{
		CompanyID: "co-1", Source: canonical.SourceTally, Payload: []byte(tallyPayload),
	})
	require.NoError(t, err)
	assert.Equal(t, syncrun.StatusSuccess, res.Run.Status)
}

func TestSync_EmptyPayloadSucceedsWithNoData(t *testing.T) {
	o, store := newOrchestrator(t)
	ctx := context.Background()

	res, err := o.Sync(ctx, ingest.Request{
		CompanyID: "co-1", Source: canonical.SourceTally,
		Payload: []byte(`{"company": {"name": "Empty Books"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, syncrun.StatusSuccess, res.Run.Status)

	events, err := store.EventsForRun(ctx, res.Run.ID)
	require.NoError(t, err)
	var sawNoData bool
	for _, ev := range events {
		if ev.Event == syncrun.EventNoData {
			sawNoData = true
		}
	}
	assert.True(t, sawNoData, "expected a NO_DATA event")
}

func TestSync_RerunIsDeterministic(t *testing.T) {
	// Re-ingesting changed bytes with identical content replaces rows
	// instead of duplicating them.
	o, store := newOrchestrator(t)
	ctx := context.Background()

	_, err := o.Sync(ctx, ingest.Request{
		CompanyID: "co-1", Source: canonical.SourceTally, Payload: []byte(tallyPayload),
	})
	require.NoError(t, err)
	_, err = o.Sync(ctx, ingest.Request{
		CompanyID: "co-1", Source: canonical.SourceTally, Payload: []byte(tallyPayload + "\n"),
	})
	require.NoError(t, err)

	rows, err := store.MonthlyBalances(ctx, "co-1", "2025-03")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	debtors, err := store.CurrentBalances(ctx, "co-1", canonical.CurrentDebtor)
	require.NoError(t, err)
	assert.Len(t, debtors, 1)
}
