/*
Package syncrun drives one ingestion attempt through ordered stages.

PURPOSE:
  A sync run is the unit of ingestion for one tenant's integration. This
  package owns:
    - the run record (status, stage, progress, error, stats)
    - the append-only event log (the audit trail for a run)
    - the idempotency lock guarding entry into a run (lock.go)

STATE MODEL:
  Stage:  connect -> discover -> fetch -> upload -> normalize -> snapshot -> done
  Status: queued -> running -> {success | failed | partial}
  The two are orthogonal: stage is where the run is, status is how it is
  going. Stage transitions are strictly forward within one attempt; a
  failed run is final - the caller starts a new run, never retries this one.

PROGRESS:
  Each stage owns a sub-range of 0-100. Progress is monotonically
  non-decreasing; entering a stage raises it to the stage floor, completion
  lands it at 100.

EVENTS:
  Every stage transition or anomaly produces at least one event. Events are
  appended in wall-clock order and never mutated. Event data is a small
  typed shape (EventData), not a free-form blob, so the log stays
  machine-checkable.

SEE ALSO:
  - lock.go: the idempotency lock manager
  - ingest/: the orchestrator that executes stages against an adapter
*/
package syncrun

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/finlens/ledger-engine/canonical"
)

// =============================================================================
// STAGES & STATUSES
// =============================================================================

type Stage string

const (
	StageConnect   Stage = "connect"
	StageDiscover  Stage = "discover"
	StageFetch     Stage = "fetch"
	StageUpload    Stage = "upload"
	StageNormalize Stage = "normalize"
	StageSnapshot  Stage = "snapshot"
	StageDone      Stage = "done"
)

// Stages is the canonical forward order.
var Stages = []Stage{
	StageConnect, StageDiscover, StageFetch,
	StageUpload, StageNormalize, StageSnapshot, StageDone,
}

// stageFloor is the progress value a run reaches when it ENTERS a stage.
// Each stage owns the band up to the next stage's floor.
var stageFloor = map[Stage]int{
	StageConnect:   0,
	StageDiscover:  10,
	StageFetch:     20,
	StageUpload:    35,
	StageNormalize: 50,
	StageSnapshot:  80,
	StageDone:      95,
}

func stageRank(s Stage) int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPartial Status = "partial"
)

// Terminal reports whether a status ends the attempt.
func Terminal(s Status) bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusPartial
}

// =============================================================================
// RUN RECORD
// =============================================================================

// RunStats is the typed stats blob persisted with the run.
type RunStats struct {
	GroupsUpserted   int                  `json:"groupsUpserted,omitempty"`
	LedgersUpserted  int                  `json:"ledgersUpserted,omitempty"`
	MonthsNormalized int                  `json:"monthsNormalized,omitempty"`
	MonthsSkipped    int                  `json:"monthsSkipped,omitempty"`
	RowsWritten      int                  `json:"rowsWritten,omitempty"`
	PartiesReplaced  int                  `json:"partiesReplaced,omitempty"`
	Classified       int                  `json:"classified,omitempty"`
	Unclassified     int                  `json:"unclassified,omitempty"`
	MissingMonths    []canonical.MonthKey `json:"missingMonths,omitempty"`
}

// Run is one ingestion attempt for one tenant's integration.
type Run struct {
	ID                string
	CompanyID         canonical.CompanyID
	IntegrationType   canonical.SourceSystem
	ConnectorClientID string
	Status            Status
	Stage             Stage
	Progress          int
	StartedAt         time.Time
	FinishedAt        *time.Time
	LastError         string
	LastErrorAt       *time.Time
	Stats             RunStats
}

// NewRun creates a run in queued/connect.
func NewRun(companyID canonical.CompanyID, integration canonical.SourceSystem, connectorClientID string) *Run {
	return &Run{
		ID:                uuid.NewString(),
		CompanyID:         companyID,
		IntegrationType:   integration,
		ConnectorClientID: connectorClientID,
		Status:            StatusQueued,
		Stage:             StageConnect,
		Progress:          0,
		StartedAt:         time.Now().UTC(),
	}
}

// =============================================================================
// EVENT LOG
// =============================================================================

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Well-known event names. Stage entries use EventStageStarted; anomalies
// and outcomes use the rest.
const (
	EventStageStarted  = "STAGE_STARTED"
	EventSyncFailed    = "SYNC_FAILED"
	EventSyncPartial   = "SYNC_PARTIAL"
	EventSyncComplete  = "SYNC_COMPLETE"
	EventMissingMonths = "SYNC_MISSING_MONTHS_REPORTED"
	EventMonthSkipped  = "MONTH_SKIPPED"
	EventNoData        = "NO_DATA"
)

// EventData is the enumerated payload shape for event details.
type EventData struct {
	Stage  Stage                `json:"stage,omitempty"`
	Month  canonical.MonthKey   `json:"month,omitempty"`
	Months []canonical.MonthKey `json:"months,omitempty"`
	Count  int                  `json:"count,omitempty"`
	Detail string               `json:"detail,omitempty"`
}

// Event is one append-only audit entry for a run.
type Event struct {
	ID      int64
	RunID   string
	Time    time.Time
	Level   Level
	Event   string
	Message string
	Data    *EventData
}

// =============================================================================
// STORAGE INTERFACES (implemented by store/sqlite)
// =============================================================================

type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	AppendEvent(ctx context.Context, ev Event) error
	EventsForRun(ctx context.Context, runID string) ([]Event, error)
}

// =============================================================================
// TRACKER - the state machine handle
// =============================================================================

// Tracker advances one run through its lifecycle, persisting every
// transition and appending events as it goes.
type Tracker struct {
	store RunStore
	run   *Run
}

// Start persists a fresh run and returns its tracker.
func Start(ctx context.Context, store RunStore, run *Run) (*Tracker, error) {
	if err := store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}
	return &Tracker{store: store, run: run}, nil
}

// Run returns the tracked run record.
func (t *Tracker) Run() *Run { return t.run }

// Advance moves the run to a later stage. Strictly forward: moving to the
// current or an earlier stage returns ErrStageOrder. The first advance
// flips status from queued to running.
func (t *Tracker) Advance(ctx context.Context, stage Stage) error {
	if Terminal(t.run.Status) {
		return canonical.ErrRunFinished
	}
	from, to := stageRank(t.run.Stage), stageRank(stage)
	if to < 0 || (to <= from && !(t.run.Status == StatusQueued && stage == StageConnect)) {
		return fmt.Errorf("%w: %s -> %s", canonical.ErrStageOrder, t.run.Stage, stage)
	}

	if t.run.Status == StatusQueued {
		t.run.Status = StatusRunning
	}
	t.run.Stage = stage
	if floor := stageFloor[stage]; floor > t.run.Progress {
		t.run.Progress = floor
	}
	if err := t.store.UpdateRun(ctx, t.run); err != nil {
		return err
	}
	return t.Event(ctx, LevelInfo, EventStageStarted, string(stage), &EventData{Stage: stage})
}

// SetProgress raises progress within the current stage. Lower values are
// ignored to keep progress monotonic.
func (t *Tracker) SetProgress(ctx context.Context, pct int) error {
	if pct <= t.run.Progress {
		return nil
	}
	if pct > 100 {
		pct = 100
	}
	t.run.Progress = pct
	return t.store.UpdateRun(ctx, t.run)
}

// Event appends one audit entry.
func (t *Tracker) Event(ctx context.Context, level Level, event, message string, data *EventData) error {
	ev := Event{
		RunID:   t.run.ID,
		Time:    time.Now().UTC(),
		Level:   level,
		Event:   event,
		Message: message,
		Data:    data,
	}
	if err := t.store.AppendEvent(ctx, ev); err != nil {
		// The event log is the audit trail; losing an entry is worth a
		// loud log line even when the run itself continues.
		log.Printf("[SyncRun] failed to append event %s for run %s: %v", event, t.run.ID, err)
		return err
	}
	return nil
}

// Eventf is Event with a formatted message and no data payload.
func (t *Tracker) Eventf(ctx context.Context, level Level, event, format string, args ...any) error {
	return t.Event(ctx, level, event, fmt.Sprintf(format, args...), nil)
}

// Fail marks the run failed. Final for this attempt: remaining stages are
// skipped and the caller must start a new run to retry.
func (t *Tracker) Fail(ctx context.Context, cause error) error {
	if Terminal(t.run.Status) {
		return canonical.ErrRunFinished
	}
	now := time.Now().UTC()
	t.run.Status = StatusFailed
	t.run.LastError = cause.Error()
	t.run.LastErrorAt = &now
	t.run.FinishedAt = &now
	if err := t.store.UpdateRun(ctx, t.run); err != nil {
		return err
	}
	t.Event(ctx, LevelError, EventSyncFailed, cause.Error(), &EventData{Stage: t.run.Stage})
	log.Printf("[SyncRun] run %s failed at stage %s: %v", t.run.ID, t.run.Stage, cause)
	return nil
}

// Complete finishes the run at stage done. With missing months the status
// is partial and a SYNC_MISSING_MONTHS_REPORTED event lists them;
// otherwise the run succeeds. Progress always ends at 100.
func (t *Tracker) Complete(ctx context.Context, missingMonths []canonical.MonthKey) error {
	if Terminal(t.run.Status) {
		return canonical.ErrRunFinished
	}
	if t.run.Stage != StageDone {
		if err := t.Advance(ctx, StageDone); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	t.run.Progress = 100
	t.run.FinishedAt = &now
	t.run.Stats.MissingMonths = missingMonths

	if len(missingMonths) > 0 {
		t.run.Status = StatusPartial
		if err := t.store.UpdateRun(ctx, t.run); err != nil {
			return err
		}
		t.Event(ctx, LevelWarn, EventMissingMonths,
			fmt.Sprintf("%d month(s) could not be normalized", len(missingMonths)),
			&EventData{Months: missingMonths, Count: len(missingMonths)})
		return t.Event(ctx, LevelWarn, EventSyncPartial, "sync finished with partial coverage",
			&EventData{Months: missingMonths})
	}

	t.run.Status = StatusSuccess
	if err := t.store.UpdateRun(ctx, t.run); err != nil {
		return err
	}
	return t.Event(ctx, LevelInfo, EventSyncComplete, "sync finished", nil)
}
