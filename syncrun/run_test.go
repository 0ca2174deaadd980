package syncrun_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finlens/ledger-engine/canonical"
	"github.com/finlens/ledger-engine/store/sqlite"
	"github.com/finlens/ledger-engine/syncrun"
)

func newTracker(t *testing.T) (*syncrun.Tracker, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	run := syncrun.NewRun("co-1", canonical.SourceTally, "")
	tracker, err := syncrun.Start(context.Background(), store, run)
	require.NoError(t, err)
	return tracker, store
}

func eventNames(t *testing.T, store *sqlite.Store, runID string) []string {
	t.Helper()
	events, err := store.EventsForRun(context.Background(), runID)
	require.NoError(t, err)
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Event
	}
	return names
}

func TestAdvance_FirstAdvanceFlipsQueuedToRunning(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	assert.Equal(t, syncrun.StatusQueued, tracker.Run().Status)
	require.NoError(t, tracker.Advance(ctx, syncrun.StageConnect))
	assert.Equal(t, syncrun.StatusRunning, tracker.Run().Status)
	assert.Equal(t, syncrun.StageConnect, tracker.Run().Stage)
}

func TestAdvance_StrictlyForward(t *testing.T) {
	// GIVEN: a run that has reached fetch
	// WHEN: moving back or re-entering the same stage
	// THEN: the transition is rejected and state is unchanged

	tracker, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Advance(ctx, syncrun.StageConnect))
	require.NoError(t, tracker.Advance(ctx, syncrun.StageFetch))

	err := tracker.Advance(ctx, syncrun.StageDiscover)
	assert.True(t, errors.Is(err, canonical.ErrStageOrder))

	err = tracker.Advance(ctx, syncrun.StageFetch)
	assert.True(t, errors.Is(err, canonical.ErrStageOrder))

	assert.Equal(t, syncrun.StageFetch, tracker.Run().Stage)
}

func TestAdvance_RaisesProgressToStageFloor(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Advance(ctx, syncrun.StageNormalize))
	assert.Equal(t, 50, tracker.Run().Progress)

	require.NoError(t, tracker.Advance(ctx, syncrun.StageSnapshot))
	assert.Equal(t, 80, tracker.Run().Progress)
}

func TestSetProgress_Monotonic(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Advance(ctx, syncrun.StageNormalize))
	require.NoError(t, tracker.SetProgress(ctx, 65))
	assert.Equal(t, 65, tracker.Run().Progress)

	// Lower values are silently ignored.
	require.NoError(t, tracker.SetProgress(ctx, 55))
	assert.Equal(t, 65, tracker.Run().Progress)

	// Values above 100 are clamped.
	require.NoError(t, tracker.SetProgress(ctx, 150))
	assert.Equal(t, 100, tracker.Run().Progress)
}

func TestFail_IsTerminal(t *testing.T) {
	tracker, store := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Advance(ctx, syncrun.StageFetch))
	require.NoError(t, tracker.Fail(ctx, errors.New("source unreachable")))

	run := tracker.Run()
	assert.Equal(t, syncrun.StatusFailed, run.Status)
	assert.Equal(t, "source unreachable", run.LastError)
	require.NotNil(t, run.FinishedAt)

	// The failed attempt accepts no further transitions.
	assert.True(t, errors.Is(tracker.Advance(ctx, syncrun.StageUpload), canonical.ErrRunFinished))
	assert.True(t, errors.Is(tracker.Complete(ctx, nil), canonical.ErrRunFinished))

	names := eventNames(t, store, run.ID)
	assert.Contains(t, names, syncrun.EventSyncFailed)
}

func TestComplete_Success(t *testing.T) {
	tracker, store := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Advance(ctx, syncrun.StageSnapshot))
	require.NoError(t, tracker.Complete(ctx, nil))

	run := tracker.Run()
	assert.Equal(t, syncrun.StatusSuccess, run.Status)
	assert.Equal(t, syncrun.StageDone, run.Stage)
	assert.Equal(t, 100, run.Progress)
	require.NotNil(t, run.FinishedAt)

	names := eventNames(t, store, run.ID)
	assert.Contains(t, names, syncrun.EventSyncComplete)
	assert.NotContains(t, names, syncrun.EventSyncPartial)
}

func TestComplete_PartialReportsMissingMonths(t *testing.T) {
	// GIVEN: a run that could not normalize two months
	// WHEN: completing with the missing list
	// THEN: partial status, stats carry the months, and the event log
	//       records both the missing-months report and the partial outcome

	tracker, store := newTracker(t)
	ctx := context.Background()

	missing := []canonical.MonthKey{"2025-01", "2025-02"}
	require.NoError(t, tracker.Advance(ctx, syncrun.StageSnapshot))
	require.NoError(t, tracker.Complete(ctx, missing))

	run := tracker.Run()
	assert.Equal(t, syncrun.StatusPartial, run.Status)
	assert.Equal(t, 100, run.Progress)
	assert.Equal(t, missing, run.Stats.MissingMonths)

	events, err := store.EventsForRun(ctx, run.ID)
	require.NoError(t, err)

	var report *syncrun.Event
	for i := range events {
		if events[i].Event == syncrun.EventMissingMonths {
			report = &events[i]
		}
	}
	require.NotNil(t, report, "missing-months event not found")
	require.NotNil(t, report.Data)
	assert.Equal(t, missing, report.Data.Months)
	assert.Equal(t, 2, report.Data.Count)

	names := eventNames(t, store, run.ID)
	assert.Contains(t, names, syncrun.EventSyncPartial)
}

func TestRunPersistence_RoundTrip(t *testing.T) {
	tracker, store := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.Advance(ctx, syncrun.StageUpload))
	tracker.Run().Stats.LedgersUpserted = 12
	require.NoError(t, tracker.Complete(ctx, nil))

	got, err := store.GetRun(ctx, tracker.Run().ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, syncrun.StatusSuccess, got.Status)
	assert.Equal(t, syncrun.StageDone, got.Stage)
	assert.Equal(t, 12, got.Stats.LedgersUpserted)
}
