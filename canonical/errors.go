/*
errors.go - Centralized error taxonomy for the ingestion pipeline

PURPOSE:
  All error types in one place for consistency and discoverability.
  Components wrap these with additional context.

ERROR CATEGORIES:
  1. Adapter errors      - raw payload structurally unrecognizable (fatal for the run)
  2. Lock errors         - duplicate work rejected before any stage executes
  3. Snapshot errors     - aggregation invariant violated (fatal for the run)
  4. Lookup errors       - missing runs/sources

  Classification misses are deliberately NOT errors: an unmatched ledger
  is marked "unclassified" and surfaced via the coverage reporter.

USAGE:
  if errors.Is(err, canonical.ErrLockConflict) {
      // another sync is in flight for this tenant+integration
  }

SEE ALSO:
  - syncrun/lock.go: produces LockConflictError
  - snapshot/engine.go: produces SnapshotInconsistencyError
*/
package canonical

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAdapterFormat is returned when a raw payload is structurally
	// unrecognizable to its adapter. The sync run fails.
	ErrAdapterFormat = errors.New("adapter: unrecognizable payload format")

	// ErrLockConflict is returned when a running idempotency lock already
	// exists for the same (company, jobKey, scopeKey) triple.
	ErrLockConflict = errors.New("idempotency lock held")

	// ErrSnapshotInconsistency is returned when an aggregation invariant is
	// violated (e.g. negative totals where impossible).
	ErrSnapshotInconsistency = errors.New("snapshot inconsistency")

	// ErrUnknownSource is returned when no adapter is registered for a
	// source system.
	ErrUnknownSource = errors.New("unknown source system")

	// ErrRunNotFound is returned when a sync run id does not exist.
	ErrRunNotFound = errors.New("sync run not found")

	// ErrStageOrder is returned on an attempt to move a run backwards.
	// Stage transitions are strictly forward within one attempt.
	ErrStageOrder = errors.New("stage transition not forward")

	// ErrRunFinished is returned on an attempt to mutate a terminal run.
	ErrRunFinished = errors.New("sync run already finished")

	// ErrInvalidMonthKey is returned for month keys not in YYYY-MM form.
	ErrInvalidMonthKey = errors.New("invalid month key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AdapterFormatError describes why a payload could not be normalized.
type AdapterFormatError struct {
	Source SourceSystem
	Reason string
}

func (e *AdapterFormatError) Error() string {
	return fmt.Sprintf("adapter %s: %s", e.Source, e.Reason)
}

func (e *AdapterFormatError) Unwrap() error { return ErrAdapterFormat }

// LockConflictError reports the lock that blocked a duplicate attempt.
type LockConflictError struct {
	CompanyID CompanyID
	JobKey    string
	ScopeKey  string
	LockedAt  time.Time
	LastJobID string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("lock held for company=%s job=%s scope=%s since %s",
		e.CompanyID, e.JobKey, e.ScopeKey, e.LockedAt.Format(time.RFC3339))
}

func (e *LockConflictError) Unwrap() error { return ErrLockConflict }

// SnapshotInconsistencyError identifies the violated aggregation invariant.
type SnapshotInconsistencyError struct {
	CompanyID CompanyID
	Month     MonthKey
	Check     string
	Value     decimal.Decimal
}

func (e *SnapshotInconsistencyError) Error() string {
	return fmt.Sprintf("snapshot inconsistency for %s %s: %s (value %s)",
		e.CompanyID, e.Month, e.Check, e.Value)
}

func (e *SnapshotInconsistencyError) Unwrap() error { return ErrSnapshotInconsistency }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is due to invalid caller input
// or a duplicate attempt (HTTP 4xx rather than 5xx).
func IsClientError(err error) bool {
	return errors.Is(err, ErrLockConflict) ||
		errors.Is(err, ErrAdapterFormat) ||
		errors.Is(err, ErrUnknownSource) ||
		errors.Is(err, ErrInvalidMonthKey)
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}
