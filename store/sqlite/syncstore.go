/*
syncstore.go - Run, event, lock, rule and intake persistence

PURPOSE:
  The operational half of the store: sync run records and their
  append-only event logs, the idempotency lock rows, the classification
  rules and account-head dictionary the classifier is built from, and
  the ingestion intake log.

LOCK SEMANTICS:
  InsertLock relies on the (company_id, job_key, scope_key) unique
  constraint and maps the violation to syncrun.ErrLockRowExists - the
  database is the arbiter, not the mutex. TakeOverLock is a conditional
  UPDATE guarded by status != 'running'; zero rows affected means
  another worker won the race.

SEE ALSO:
  - sqlite.go: schema and the canonical-table half
  - syncrun/: the interfaces implemented here
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finlens/ledger-engine/canonical"
	"github.com/finlens/ledger-engine/classify"
	"github.com/finlens/ledger-engine/syncrun"
)

// =============================================================================
// SYNC RUNS
// =============================================================================

// CreateRun persists a fresh run record.
func (s *Store) CreateRun(ctx context.Context, run *syncrun.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_runs
		(id, company_id, integration_type, connector_client_id, status, stage, progress,
		 started_at, finished_at, last_error, last_error_at, stats_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.CompanyID, run.IntegrationType, nullString(run.ConnectorClientID),
		run.Status, run.Stage, run.Progress,
		run.StartedAt.Format(time.RFC3339), formatTimePtr(run.FinishedAt),
		nullString(run.LastError), formatTimePtr(run.LastErrorAt), string(stats),
	)
	return err
}

// UpdateRun overwrites the run record.
func (s *Store) UpdateRun(ctx context.Context, run *syncrun.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE sync_runs SET
			status = ?, stage = ?, progress = ?,
			finished_at = ?, last_error = ?, last_error_at = ?, stats_json = ?
		WHERE id = ?
	`,
		run.Status, run.Stage, run.Progress,
		formatTimePtr(run.FinishedAt), nullString(run.LastError),
		formatTimePtr(run.LastErrorAt), string(stats), run.ID,
	)
	return err
}

// GetRun loads one run by ID, nil when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*syncrun.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRun(ctx, selectRun+" WHERE id = ?", id)
}

// LatestRun returns the most recently started run for a tenant, nil when
// the tenant has never synced.
func (s *Store) LatestRun(ctx context.Context, companyID canonical.CompanyID) (*syncrun.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRun(ctx,
		selectRun+" WHERE company_id = ? ORDER BY started_at DESC, id DESC LIMIT 1",
		companyID)
}

// ListRuns returns a tenant's runs, newest first.
func (s *Store) ListRuns(ctx context.Context, companyID canonical.CompanyID, limit int) ([]syncrun.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		selectRun+" WHERE company_id = ? ORDER BY started_at DESC, id DESC LIMIT ?",
		companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []syncrun.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

const selectRun = `
	SELECT id, company_id, integration_type, connector_client_id, status, stage, progress,
	       started_at, finished_at, last_error, last_error_at, stats_json
	FROM sync_runs`

func (s *Store) queryRun(ctx context.Context, query string, args ...any) (*syncrun.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRun(rows)
}

func scanRun(rows *sql.Rows) (*syncrun.Run, error) {
	var run syncrun.Run
	var connectorID, finishedAt, lastError, lastErrorAt, statsJSON sql.NullString
	var startedAt string
	if err := rows.Scan(&run.ID, &run.CompanyID, &run.IntegrationType, &connectorID,
		&run.Status, &run.Stage, &run.Progress,
		&startedAt, &finishedAt, &lastError, &lastErrorAt, &statsJSON); err != nil {
		return nil, err
	}
	run.ConnectorClientID = connectorID.String
	run.LastError = lastError.String
	run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	run.FinishedAt = parseTimePtr(finishedAt)
	run.LastErrorAt = parseTimePtr(lastErrorAt)
	if statsJSON.Valid && statsJSON.String != "" {
		if err := json.Unmarshal([]byte(statsJSON.String), &run.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run stats: %w", err)
		}
	}
	return &run, nil
}

// =============================================================================
// SYNC EVENTS (append-only)
// =============================================================================

// AppendEvent appends one audit entry. There is deliberately no update or
// delete counterpart.
func (s *Store) AppendEvent(ctx context.Context, ev syncrun.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dataJSON sql.NullString
	if ev.Data != nil {
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		dataJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_events (run_id, time, level, event, message, data_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.RunID, ev.Time.Format(time.RFC3339), ev.Level, ev.Event,
		nullString(ev.Message), dataJSON)
	return err
}

// EventsForRun returns a run's events in append order.
func (s *Store) EventsForRun(ctx context.Context, runID string) ([]syncrun.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, time, level, event, message, data_json
		FROM sync_events WHERE run_id = ? ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []syncrun.Event
	for rows.Next() {
		var ev syncrun.Event
		var ts string
		var message, dataJSON sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RunID, &ts, &ev.Level, &ev.Event, &message, &dataJSON); err != nil {
			return nil, err
		}
		ev.Time, _ = time.Parse(time.RFC3339, ts)
		ev.Message = message.String
		if dataJSON.Valid && dataJSON.String != "" {
			var data syncrun.EventData
			if err := json.Unmarshal([]byte(dataJSON.String), &data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
			ev.Data = &data
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// =============================================================================
// JOB LOCKS
// =============================================================================

// InsertLock inserts a fresh lock row. The unique constraint on
// (company_id, job_key, scope_key) is the mutual exclusion; a violation
// comes back as syncrun.ErrLockRowExists.
func (s *Store) InsertLock(ctx context.Context, lock syncrun.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_locks
		(company_id, job_key, scope_key, payload_hash, status, locked_at, completed_at, last_job_id, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		lock.CompanyID, lock.JobKey, lock.ScopeKey, nullString(lock.PayloadHash),
		lock.Status, lock.LockedAt.Format(time.RFC3339), formatTimePtr(lock.CompletedAt),
		nullString(lock.LastJobID), nullString(lock.LastError),
	)
	if isUniqueConstraintError(err) {
		return syncrun.ErrLockRowExists
	}
	return err
}

// GetLock loads the lock row for a triple, nil when absent.
func (s *Store) GetLock(ctx context.Context, companyID canonical.CompanyID, jobKey, scopeKey string) (*syncrun.Lock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		selectLock+" WHERE company_id = ? AND job_key = ? AND scope_key = ?",
		companyID, jobKey, scopeKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanLock(rows)
}

// TakeOverLock re-arms a finished lock row as running. The status guard
// makes the update conditional: zero rows affected means the row is
// currently running and someone else won the race.
func (s *Store) TakeOverLock(ctx context.Context, lock syncrun.Lock) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE job_locks SET
			payload_hash = ?, status = ?, locked_at = ?, completed_at = NULL, last_error = NULL
		WHERE company_id = ? AND job_key = ? AND scope_key = ? AND status != ?
	`,
		nullString(lock.PayloadHash), lock.Status, lock.LockedAt.Format(time.RFC3339),
		lock.CompanyID, lock.JobKey, lock.ScopeKey, syncrun.LockRunning,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateLock overwrites the row for the lock's triple.
func (s *Store) UpdateLock(ctx context.Context, lock syncrun.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE job_locks SET
			payload_hash = ?, status = ?, locked_at = ?, completed_at = ?, last_job_id = ?, last_error = ?
		WHERE company_id = ? AND job_key = ? AND scope_key = ?
	`,
		nullString(lock.PayloadHash), lock.Status, lock.LockedAt.Format(time.RFC3339),
		formatTimePtr(lock.CompletedAt), nullString(lock.LastJobID), nullString(lock.LastError),
		lock.CompanyID, lock.JobKey, lock.ScopeKey,
	)
	return err
}

// ListRunningLocks returns running locks older than the cutoff, oldest
// first.
func (s *Store) ListRunningLocks(ctx context.Context, companyID canonical.CompanyID, olderThan time.Time) ([]syncrun.Lock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		selectLock+` WHERE company_id = ? AND status = ? AND locked_at < ? ORDER BY locked_at ASC`,
		companyID, syncrun.LockRunning, olderThan.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locks []syncrun.Lock
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		locks = append(locks, *lock)
	}
	return locks, rows.Err()
}

const selectLock = `
	SELECT company_id, job_key, scope_key, payload_hash, status, locked_at, completed_at, last_job_id, last_error
	FROM job_locks`

func scanLock(rows *sql.Rows) (*syncrun.Lock, error) {
	var lock syncrun.Lock
	var payloadHash, completedAt, lastJobID, lastError sql.NullString
	var lockedAt string
	if err := rows.Scan(&lock.CompanyID, &lock.JobKey, &lock.ScopeKey, &payloadHash,
		&lock.Status, &lockedAt, &completedAt, &lastJobID, &lastError); err != nil {
		return nil, err
	}
	lock.PayloadHash = payloadHash.String
	lock.LockedAt, _ = time.Parse(time.RFC3339, lockedAt)
	lock.CompletedAt = parseTimePtr(completedAt)
	lock.LastJobID = lastJobID.String
	lock.LastError = lastError.String
	return &lock, nil
}

// =============================================================================
// CLASSIFICATION RULES
// =============================================================================

// SaveRule upserts one classification rule. A missing ID gets a fresh one.
func (s *Store) SaveRule(ctx context.Context, rule *classify.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classification_rules
		(id, source_system, match_field, match_value, normalized_type, normalized_bucket, priority, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_system = excluded.source_system,
			match_field = excluded.match_field,
			match_value = excluded.match_value,
			normalized_type = excluded.normalized_type,
			normalized_bucket = excluded.normalized_bucket,
			priority = excluded.priority,
			is_active = excluded.is_active
	`,
		rule.ID, rule.SourceSystem, rule.MatchField, rule.MatchValue,
		rule.NormalizedType, nullString(rule.NormalizedBucket), rule.Priority, rule.IsActive,
	)
	return err
}

// DeleteRule removes one rule by ID.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM classification_rules WHERE id = ?", id)
	return err
}

// ListRules returns all rules, active or not, for the admin surface.
func (s *Store) ListRules(ctx context.Context) ([]classify.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRules(ctx, selectRule+" ORDER BY source_system, priority, match_value")
}

// ActiveRules returns the active rules for one source system, the input
// the classifier is built from.
func (s *Store) ActiveRules(ctx context.Context, source canonical.SourceSystem) ([]classify.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRules(ctx,
		selectRule+" WHERE source_system = ? AND is_active ORDER BY priority, match_value",
		source)
}

const selectRule = `
	SELECT id, source_system, match_field, match_value, normalized_type, normalized_bucket, priority, is_active
	FROM classification_rules`

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]classify.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []classify.Rule
	for rows.Next() {
		var r classify.Rule
		var bucket sql.NullString
		if err := rows.Scan(&r.ID, &r.SourceSystem, &r.MatchField, &r.MatchValue,
			&r.NormalizedType, &bucket, &r.Priority, &r.IsActive); err != nil {
			return nil, err
		}
		r.NormalizedBucket = bucket.String
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// =============================================================================
// ACCOUNT-HEAD DICTIONARY
// =============================================================================

// ReplaceDictionary swaps the whole dictionary in one transaction. The
// dictionary is shared across tenants and small, so wholesale replacement
// is simpler than entry-level CRUD.
func (s *Store) ReplaceDictionary(ctx context.Context, entries []classify.DictEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM account_head_dictionary"); err != nil {
		return err
	}

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO account_head_dictionary
			(id, canonical_type, canonical_subtype, match_pattern, is_regex, priority)
			VALUES (?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), e.CanonicalType, nullString(e.CanonicalSubtype),
			e.MatchPattern, e.IsRegex, e.Priority); err != nil {
			return fmt.Errorf("failed to insert dictionary entry %q: %w", e.MatchPattern, err)
		}
	}

	return tx.Commit()
}

// ListDictionary returns all dictionary entries ordered by priority.
func (s *Store) ListDictionary(ctx context.Context) ([]classify.DictEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT canonical_type, canonical_subtype, match_pattern, is_regex, priority
		FROM account_head_dictionary ORDER BY priority, match_pattern
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []classify.DictEntry
	for rows.Next() {
		var e classify.DictEntry
		var subtype sql.NullString
		if err := rows.Scan(&e.CanonicalType, &subtype, &e.MatchPattern, &e.IsRegex, &e.Priority); err != nil {
			return nil, err
		}
		e.CanonicalSubtype = subtype.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountDictionary reports how many dictionary entries exist, used to
// decide whether to seed the defaults at startup.
func (s *Store) CountDictionary(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM account_head_dictionary").Scan(&n)
	return n, err
}

// =============================================================================
// INGESTION LOG
// =============================================================================

// Ingestion log statuses.
const (
	IngestionReceived   = "received"
	IngestionProcessing = "processing"
	IngestionProcessed  = "processed"
	IngestionFailed     = "failed"
)

// IngestionLog is one intake record: a payload arrived, and what became
// of it.
type IngestionLog struct {
	ID           string
	CompanyID    canonical.CompanyID
	Source       canonical.SourceSystem
	Status       string
	ErrorMessage string
	PayloadHash  string
	RunID        string
	ReceivedAt   time.Time
	ProcessedAt  *time.Time
}

// CreateIngestionLog records a newly received payload.
func (s *Store) CreateIngestionLog(ctx context.Context, entry *IngestionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_logs
		(id, company_id, source, status, error_message, payload_hash, run_id, received_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.CompanyID, entry.Source, entry.Status,
		nullString(entry.ErrorMessage), nullString(entry.PayloadHash), nullString(entry.RunID),
		entry.ReceivedAt.Format(time.RFC3339), formatTimePtr(entry.ProcessedAt),
	)
	return err
}

// UpdateIngestionLog stamps the outcome of a processed payload.
func (s *Store) UpdateIngestionLog(ctx context.Context, entry *IngestionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_logs SET
			status = ?, error_message = ?, run_id = ?, processed_at = ?
		WHERE id = ?
	`,
		entry.Status, nullString(entry.ErrorMessage), nullString(entry.RunID),
		formatTimePtr(entry.ProcessedAt), entry.ID,
	)
	return err
}

// GetIngestionLog loads one intake record, nil when absent.
func (s *Store) GetIngestionLog(ctx context.Context, id string) (*IngestionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectIngestion+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanIngestionLog(rows)
}

// ListIngestionLogs returns a tenant's intake history, newest first.
func (s *Store) ListIngestionLogs(ctx context.Context, companyID canonical.CompanyID, limit int) ([]IngestionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		selectIngestion+" WHERE company_id = ? ORDER BY received_at DESC, id DESC LIMIT ?",
		companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []IngestionLog
	for rows.Next() {
		entry, err := scanIngestionLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

const selectIngestion = `
	SELECT id, company_id, source, status, error_message, payload_hash, run_id, received_at, processed_at
	FROM ingestion_logs`

func scanIngestionLog(rows *sql.Rows) (*IngestionLog, error) {
	var entry IngestionLog
	var errMsg, hash, runID, processedAt sql.NullString
	var receivedAt string
	if err := rows.Scan(&entry.ID, &entry.CompanyID, &entry.Source, &entry.Status,
		&errMsg, &hash, &runID, &receivedAt, &processedAt); err != nil {
		return nil, err
	}
	entry.ErrorMessage = errMsg.String
	entry.PayloadHash = hash.String
	entry.RunID = runID.String
	entry.ReceivedAt, _ = time.Parse(time.RFC3339, receivedAt)
	entry.ProcessedAt = parseTimePtr(processedAt)
	return &entry, nil
}
