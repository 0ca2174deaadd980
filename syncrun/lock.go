/*
lock.go - Idempotency lock manager

PURPOSE:
  Guarantees at most one in-flight job per (company, jobKey, scopeKey)
  triple and short-circuits identical re-submitted payloads by hash.

ACQUIRE OUTCOMES:
  1. No lock row, or a finished one: a running lock is taken, caller works.
  2. Lock in running status: LockConflictError - the caller must NOT start
     duplicate work; poll the existing run instead.
  3. Completed lock with the same payloadHash: AlreadyProcessed - the exact
     payload was already ingested, treat as a no-op success.

NO EXPIRY:
  Locks never expire on their own. A crashed worker leaves a running lock
  behind; the health reporter surfaces lock age and an operator releases it
  administratively. This is a deliberate simplicity trade-off over
  lease-based expiry.

SEE ALSO:
  - run.go: the run the lock guards entry into
  - snapshot/health.go: stale-lock surfacing
*/
package syncrun

import (
	"context"
	"errors"
	"time"

	"github.com/finlens/ledger-engine/canonical"
)

// JobKeySync is the jobKey for ingestion sync jobs; the scope key is the
// integration type, so syncs for the same tenant+integration serialize
// while different integrations run in parallel.
const JobKeySync = "sync"

type LockStatus string

const (
	LockRunning   LockStatus = "running"
	LockCompleted LockStatus = "completed"
	LockFailed    LockStatus = "failed"
)

// Lock is one idempotency lock row, unique on (company, jobKey, scopeKey).
type Lock struct {
	CompanyID   canonical.CompanyID
	JobKey      string
	ScopeKey    string
	PayloadHash string
	Status      LockStatus
	LockedAt    time.Time
	CompletedAt *time.Time
	LastJobID   string
	LastError   string
}

// ErrLockRowExists is the store-level signal that the triple already has a
// row. The manager turns it into a conflict, a short-circuit, or a
// takeover depending on the row's state.
var ErrLockRowExists = errors.New("lock row already exists")

// LockStore is implemented by store/sqlite.
type LockStore interface {
	// InsertLock inserts a new row, returning ErrLockRowExists when the
	// triple is already present.
	InsertLock(ctx context.Context, lock Lock) error

	// GetLock loads the row for a triple, nil when absent.
	GetLock(ctx context.Context, companyID canonical.CompanyID, jobKey, scopeKey string) (*Lock, error)

	// TakeOverLock re-arms a finished row as running. Returns false when
	// the row is currently running (someone else won the race).
	TakeOverLock(ctx context.Context, lock Lock) (bool, error)

	// UpdateLock overwrites the row for the lock's triple.
	UpdateLock(ctx context.Context, lock Lock) error

	// ListRunningLocks returns running locks older than the cutoff,
	// oldest first. Used for stale-lock surfacing.
	ListRunningLocks(ctx context.Context, companyID canonical.CompanyID, olderThan time.Time) ([]Lock, error)
}

// Acquisition is the result of a successful Acquire.
type Acquisition struct {
	Lock *Lock

	// AlreadyProcessed is set when a completed lock with an identical
	// payload hash short-circuited the attempt. Lock.LastJobID points at
	// the run that did the work.
	AlreadyProcessed bool
}

// LockManager implements the acquire/release protocol over a LockStore.
type LockManager struct {
	store LockStore
}

func NewLockManager(store LockStore) *LockManager {
	return &LockManager{store: store}
}

// Acquire takes the lock for a triple or explains why it cannot.
// payloadHash may be empty when payload-level idempotence is not wanted.
func (m *LockManager) Acquire(ctx context.Context, companyID canonical.CompanyID, jobKey, scopeKey, payloadHash string) (*Acquisition, error) {
	fresh := Lock{
		CompanyID:   companyID,
		JobKey:      jobKey,
		ScopeKey:    scopeKey,
		PayloadHash: payloadHash,
		Status:      LockRunning,
		LockedAt:    time.Now().UTC(),
	}

	err := m.store.InsertLock(ctx, fresh)
	if err == nil {
		return &Acquisition{Lock: &fresh}, nil
	}
	if !errors.Is(err, ErrLockRowExists) {
		return nil, err
	}

	existing, err := m.store.GetLock(ctx, companyID, jobKey, scopeKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// Row vanished between insert and read; treat as a conflict and
		// let the caller retry.
		return nil, &canonical.LockConflictError{CompanyID: companyID, JobKey: jobKey, ScopeKey: scopeKey}
	}

	if existing.Status == LockRunning {
		return nil, &canonical.LockConflictError{
			CompanyID: companyID,
			JobKey:    jobKey,
			ScopeKey:  scopeKey,
			LockedAt:  existing.LockedAt,
			LastJobID: existing.LastJobID,
		}
	}

	if existing.Status == LockCompleted && payloadHash != "" && existing.PayloadHash == payloadHash {
		return &Acquisition{Lock: existing, AlreadyProcessed: true}, nil
	}

	// Finished lock, new payload: take the row over.
	fresh.LastJobID = existing.LastJobID
	taken, err := m.store.TakeOverLock(ctx, fresh)
	if err != nil {
		return nil, err
	}
	if !taken {
		return nil, &canonical.LockConflictError{
			CompanyID: companyID,
			JobKey:    jobKey,
			ScopeKey:  scopeKey,
			LockedAt:  existing.LockedAt,
		}
	}
	return &Acquisition{Lock: &fresh}, nil
}

// Release finishes the lock, stamping CompletedAt and the job that held it.
func (m *LockManager) Release(ctx context.Context, lock *Lock, status LockStatus, jobID, lastError string) error {
	now := time.Now().UTC()
	lock.Status = status
	lock.CompletedAt = &now
	lock.LastJobID = jobID
	lock.LastError = lastError
	return m.store.UpdateLock(ctx, *lock)
}

// StaleRunning lists running locks held longer than maxAge for a company.
func (m *LockManager) StaleRunning(ctx context.Context, companyID canonical.CompanyID, maxAge time.Duration) ([]Lock, error) {
	return m.store.ListRunningLocks(ctx, companyID, time.Now().UTC().Add(-maxAge))
}

// AdminRelease force-finishes a stuck lock. Operator recovery only.
func (m *LockManager) AdminRelease(ctx context.Context, companyID canonical.CompanyID, jobKey, scopeKey, reason string) error {
	lock, err := m.store.GetLock(ctx, companyID, jobKey, scopeKey)
	if err != nil {
		return err
	}
	if lock == nil || lock.Status != LockRunning {
		return nil
	}
	return m.Release(ctx, lock, LockFailed, lock.LastJobID, "released by operator: "+reason)
}
