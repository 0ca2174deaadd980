/*
Package sqlite provides the SQLite-backed implementation of every
persistence interface in the engine.

PURPOSE:
  One store implements all durable relations: the canonical chart tables,
  the classified monthly balances, the derived summary/current tables,
  sync runs with their event logs, idempotency locks, classification
  rules, the account-head dictionary, and the ingestion log. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  snapshot.Store / snapshot.HealthStore
  syncrun.RunStore
  syncrun.LockStore

KEY TABLES:
  chart_groups, chart_ledgers:   normalized chart of accounts per source
  ledger_monthly_balances:       classified rows, unique (company, month, guid)
  monthly_summaries:             derived rollup, unique (company, month)
  current_balances:              as-of-now rollups, unique (company, kind, name)
  party_balances, aging_entries: debtor/creditor positions per as-of date
  sync_runs, sync_events:        run records + append-only audit log
  job_locks:                     idempotency locks, unique (company, job, scope)
  classification_rules, account_head_dictionary
  ingestion_logs:                intake trail

WRITE DISCIPLINE:
  Derived tables are replaced wholesale (DELETE + INSERT inside one SQL
  transaction) or upserted via their unique constraint - never patched
  row-by-row. sync_events has no UPDATE and no DELETE path at all.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. The job_locks unique constraint is
  the cross-writer guard; the mutex only serializes this process.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

SEE ALSO:
  - syncstore.go: runs, events, locks, rules, dictionary, ingestion log
  - canonical/: the row types persisted here
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/finlens/ledger-engine/canonical"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers anyway; a single pooled connection also
	// keeps ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Chart of accounts (normalized masters per tenant+source)
	CREATE TABLE IF NOT EXISTS chart_groups (
		company_id TEXT NOT NULL,
		source TEXT NOT NULL,
		name TEXT NOT NULL,
		parent TEXT,
		guid TEXT,
		group_type TEXT,
		updated_at TEXT NOT NULL,
		UNIQUE(company_id, source, name)
	);

	CREATE TABLE IF NOT EXISTS chart_ledgers (
		company_id TEXT NOT NULL,
		source TEXT NOT NULL,
		guid TEXT NOT NULL,
		name TEXT NOT NULL,
		parent TEXT,
		group_name TEXT,
		ledger_type TEXT,
		updated_at TEXT NOT NULL,
		UNIQUE(company_id, source, guid)
	);

	CREATE INDEX IF NOT EXISTS idx_chart_ledgers_company
		ON chart_ledgers(company_id, source);

	-- Classified monthly balances, overwritten per month
	CREATE TABLE IF NOT EXISTS ledger_monthly_balances (
		company_id TEXT NOT NULL,
		month TEXT NOT NULL,
		ledger_guid TEXT NOT NULL,
		ledger_name TEXT NOT NULL,
		parent_group TEXT,
		cfo_category TEXT NOT NULL,
		cfo_subtype TEXT,
		balance TEXT NOT NULL,
		as_of_date TEXT,
		UNIQUE(company_id, month, ledger_guid)
	);

	-- Hot path: snapshot recompute and coverage both scan one month
	CREATE INDEX IF NOT EXISTS idx_monthly_company_month
		ON ledger_monthly_balances(company_id, month);

	-- Derived monthly rollup, one row per company+month
	CREATE TABLE IF NOT EXISTS monthly_summaries (
		company_id TEXT NOT NULL,
		month TEXT NOT NULL,
		cash_and_bank TEXT NOT NULL,
		total_assets TEXT NOT NULL,
		total_liabilities TEXT NOT NULL,
		total_equity TEXT NOT NULL,
		total_revenue TEXT NOT NULL,
		total_expenses TEXT NOT NULL,
		net_profit TEXT NOT NULL,
		net_cashflow TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(company_id, month)
	);

	-- As-of-now rollups, replaced wholesale per kind on each sync
	CREATE TABLE IF NOT EXISTS current_balances (
		company_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		balance TEXT NOT NULL,
		as_of_date TEXT,
		UNIQUE(company_id, kind, name)
	);

	-- Party balances, superseded per (company, party_type, as_of_date)
	CREATE TABLE IF NOT EXISTS party_balances (
		company_id TEXT NOT NULL,
		party_type TEXT NOT NULL,
		as_of_date TEXT NOT NULL,
		name TEXT NOT NULL,
		balance TEXT NOT NULL,
		UNIQUE(company_id, party_type, as_of_date, name)
	);

	CREATE TABLE IF NOT EXISTS aging_entries (
		company_id TEXT NOT NULL,
		party_type TEXT NOT NULL,
		as_of_date TEXT NOT NULL,
		name TEXT NOT NULL,
		up_to_30 TEXT NOT NULL,
		up_to_60 TEXT NOT NULL,
		up_to_90 TEXT NOT NULL,
		above_90 TEXT NOT NULL,
		total TEXT NOT NULL,
		UNIQUE(company_id, party_type, as_of_date, name)
	);

	-- Sync runs
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		integration_type TEXT NOT NULL,
		connector_client_id TEXT,
		status TEXT NOT NULL,
		stage TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		last_error TEXT,
		last_error_at TEXT,
		stats_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_company
		ON sync_runs(company_id, started_at DESC);

	-- Append-only audit trail per run. No UPDATE, no DELETE. Ever.
	CREATE TABLE IF NOT EXISTS sync_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		time TEXT NOT NULL,
		level TEXT NOT NULL,
		event TEXT NOT NULL,
		message TEXT,
		data_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_events_run
		ON sync_events(run_id, id);

	-- Idempotency locks. The unique constraint IS the mutual exclusion.
	CREATE TABLE IF NOT EXISTS job_locks (
		company_id TEXT NOT NULL,
		job_key TEXT NOT NULL,
		scope_key TEXT NOT NULL,
		payload_hash TEXT,
		status TEXT NOT NULL,
		locked_at TEXT NOT NULL,
		completed_at TEXT,
		last_job_id TEXT,
		last_error TEXT,
		UNIQUE(company_id, job_key, scope_key)
	);

	-- Classification rules (exact matches, operator curated)
	CREATE TABLE IF NOT EXISTS classification_rules (
		id TEXT PRIMARY KEY,
		source_system TEXT NOT NULL,
		match_field TEXT NOT NULL,
		match_value TEXT NOT NULL,
		normalized_type TEXT NOT NULL,
		normalized_bucket TEXT,
		priority INTEGER NOT NULL DEFAULT 100,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_rules_source
		ON classification_rules(source_system, is_active);

	-- Account-head dictionary (pattern fallback)
	CREATE TABLE IF NOT EXISTS account_head_dictionary (
		id TEXT PRIMARY KEY,
		canonical_type TEXT NOT NULL,
		canonical_subtype TEXT,
		match_pattern TEXT NOT NULL,
		is_regex BOOLEAN NOT NULL DEFAULT FALSE,
		priority INTEGER NOT NULL DEFAULT 100
	);

	-- Ingestion intake log
	CREATE TABLE IF NOT EXISTS ingestion_logs (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		payload_hash TEXT,
		run_id TEXT,
		received_at TEXT NOT NULL,
		processed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_ingestion_logs_company
		ON ingestion_logs(company_id, received_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CHART OF ACCOUNTS
// =============================================================================

// UpsertGroups writes group masters for a tenant+source.
func (s *Store) UpsertGroups(ctx context.Context, companyID canonical.CompanyID, source canonical.SourceSystem, groups []canonical.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO chart_groups (company_id, source, name, parent, guid, group_type, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id, source, name) DO UPDATE SET
			parent = excluded.parent,
			guid = excluded.guid,
			group_type = excluded.group_type,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	for _, g := range groups {
		if _, err := s.db.ExecContext(ctx, query,
			companyID, source, g.Name, nullString(g.Parent), nullString(g.GUID),
			nullString(g.Type), now); err != nil {
			return fmt.Errorf("failed to upsert group %q: %w", g.Name, err)
		}
	}
	return nil
}

// UpsertLedgers writes ledger masters for a tenant+source.
func (s *Store) UpsertLedgers(ctx context.Context, companyID canonical.CompanyID, source canonical.SourceSystem, ledgers []canonical.Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO chart_ledgers (company_id, source, guid, name, parent, group_name, ledger_type, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id, source, guid) DO UPDATE SET
			name = excluded.name,
			parent = excluded.parent,
			group_name = excluded.group_name,
			ledger_type = excluded.ledger_type,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	for _, l := range ledgers {
		if _, err := s.db.ExecContext(ctx, query,
			companyID, source, l.GUID, l.Name, nullString(l.Parent),
			nullString(l.GroupName), nullString(l.Type), now); err != nil {
			return fmt.Errorf("failed to upsert ledger %q: %w", l.Name, err)
		}
	}
	return nil
}

// Ledgers returns all known ledger masters for a tenant+source, including
// ledgers from earlier syncs. That history is what lets a balance item
// reference a previously seen ledger.
func (s *Store) Ledgers(ctx context.Context, companyID canonical.CompanyID, source canonical.SourceSystem) ([]canonical.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT guid, name, parent, group_name, ledger_type
		 FROM chart_ledgers WHERE company_id = ? AND source = ? ORDER BY name ASC`,
		companyID, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ledgers []canonical.Ledger
	for rows.Next() {
		var l canonical.Ledger
		var parent, group, ltype sql.NullString
		if err := rows.Scan(&l.GUID, &l.Name, &parent, &group, &ltype); err != nil {
			return nil, err
		}
		l.Parent = parent.String
		l.GroupName = group.String
		l.Type = ltype.String
		ledgers = append(ledgers, l)
	}
	return ledgers, rows.Err()
}

// GroupParents returns the group name -> parent name map for a
// tenant+source, used to build parent chains for classification.
func (s *Store) GroupParents(ctx context.Context, companyID canonical.CompanyID, source canonical.SourceSystem) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT name, parent FROM chart_groups WHERE company_id = ? AND source = ?",
		companyID, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parents := make(map[string]string)
	for rows.Next() {
		var name string
		var parent sql.NullString
		if err := rows.Scan(&name, &parent); err != nil {
			return nil, err
		}
		parents[name] = parent.String
	}
	return parents, rows.Err()
}

// =============================================================================
// MONTHLY BALANCES
// =============================================================================

// ReplaceMonthlyBalances overwrites the month's rows atomically.
// Delete + insert in one SQL transaction: re-syncs never leave stale rows
// behind and the unique constraint keeps the table one-row-per-ledger.
func (s *Store) ReplaceMonthlyBalances(ctx context.Context, companyID canonical.CompanyID, month canonical.MonthKey, balances []canonical.LedgerMonthlyBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM ledger_monthly_balances WHERE company_id = ? AND month = ?",
		companyID, month); err != nil {
		return err
	}

	query := `
		INSERT INTO ledger_monthly_balances
		(company_id, month, ledger_guid, ledger_name, parent_group, cfo_category, cfo_subtype, balance, as_of_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, b := range balances {
		if _, err := tx.ExecContext(ctx, query,
			companyID, month, b.LedgerGUID, b.LedgerName, nullString(b.ParentGroup),
			b.CFOCategory, nullString(b.CFOSubtype), b.Balance.String(),
			formatDatePtr(b.AsOfDate)); err != nil {
			return fmt.Errorf("failed to insert monthly balance for %s: %w", b.LedgerGUID, err)
		}
	}

	return tx.Commit()
}

// MonthlyBalances returns the classified rows for one month, ordered by
// ledger name for deterministic reads.
func (s *Store) MonthlyBalances(ctx context.Context, companyID canonical.CompanyID, month canonical.MonthKey) ([]canonical.LedgerMonthlyBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT ledger_guid, ledger_name, parent_group, cfo_category, cfo_subtype, balance, as_of_date
		FROM ledger_monthly_balances
		WHERE company_id = ? AND month = ?
		ORDER BY ledger_name ASC, ledger_guid ASC
	`, companyID, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []canonical.LedgerMonthlyBalance
	for rows.Next() {
		b := canonical.LedgerMonthlyBalance{CompanyID: companyID, Month: month}
		var parentGroup, subtype, asOf sql.NullString
		var balance string
		if err := rows.Scan(&b.LedgerGUID, &b.LedgerName, &parentGroup, &b.CFOCategory, &subtype, &balance, &asOf); err != nil {
			return nil, err
		}
		b.ParentGroup = parentGroup.String
		b.CFOSubtype = subtype.String
		b.Balance = canonical.MustParseDecimal(balance)
		b.AsOfDate = parseDatePtr(asOf)
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// MonthsWithBalances lists the months a tenant has normalized rows for,
// oldest first.
func (s *Store) MonthsWithBalances(ctx context.Context, companyID canonical.CompanyID) ([]canonical.MonthKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT month FROM ledger_monthly_balances WHERE company_id = ? ORDER BY month ASC",
		companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var months []canonical.MonthKey
	for rows.Next() {
		var m canonical.MonthKey
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		months = append(months, m)
	}
	return months, rows.Err()
}

// =============================================================================
// MONTHLY SUMMARIES
// =============================================================================

// UpsertSummary writes the single summary row for (company, month).
func (s *Store) UpsertSummary(ctx context.Context, sum canonical.TrialBalanceSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO monthly_summaries
		(company_id, month, cash_and_bank, total_assets, total_liabilities, total_equity,
		 total_revenue, total_expenses, net_profit, net_cashflow, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id, month) DO UPDATE SET
			cash_and_bank = excluded.cash_and_bank,
			total_assets = excluded.total_assets,
			total_liabilities = excluded.total_liabilities,
			total_equity = excluded.total_equity,
			total_revenue = excluded.total_revenue,
			total_expenses = excluded.total_expenses,
			net_profit = excluded.net_profit,
			net_cashflow = excluded.net_cashflow,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		sum.CompanyID, sum.Month,
		sum.CashAndBank.String(), sum.TotalAssets.String(), sum.TotalLiabilities.String(),
		sum.TotalEquity.String(), sum.TotalRevenue.String(), sum.TotalExpenses.String(),
		sum.NetProfit.String(), sum.NetCashflow.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetSummary retrieves the summary for (company, month), nil when absent.
func (s *Store) GetSummary(ctx context.Context, companyID canonical.CompanyID, month canonical.MonthKey) (*canonical.TrialBalanceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySummary(ctx,
		`SELECT company_id, month, cash_and_bank, total_assets, total_liabilities, total_equity,
		        total_revenue, total_expenses, net_profit, net_cashflow
		 FROM monthly_summaries WHERE company_id = ? AND month = ?`,
		companyID, month)
}

// LatestSummary retrieves the most recent month's summary for a tenant.
func (s *Store) LatestSummary(ctx context.Context, companyID canonical.CompanyID) (*canonical.TrialBalanceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.querySummary(ctx,
		`SELECT company_id, month, cash_and_bank, total_assets, total_liabilities, total_equity,
		        total_revenue, total_expenses, net_profit, net_cashflow
		 FROM monthly_summaries WHERE company_id = ? ORDER BY month DESC LIMIT 1`,
		companyID)
}

// ListSummaries returns all summaries for a tenant, oldest first.
func (s *Store) ListSummaries(ctx context.Context, companyID canonical.CompanyID) ([]canonical.TrialBalanceSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT company_id, month, cash_and_bank, total_assets, total_liabilities, total_equity,
		        total_revenue, total_expenses, net_profit, net_cashflow
		 FROM monthly_summaries WHERE company_id = ? ORDER BY month ASC`,
		companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []canonical.TrialBalanceSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *sum)
	}
	return summaries, rows.Err()
}

func (s *Store) querySummary(ctx context.Context, query string, args ...any) (*canonical.TrialBalanceSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanSummary(rows)
}

func scanSummary(rows *sql.Rows) (*canonical.TrialBalanceSummary, error) {
	var sum canonical.TrialBalanceSummary
	var cash, assets, liabilities, equity, revenue, expenses, profit, cashflow string
	if err := rows.Scan(&sum.CompanyID, &sum.Month, &cash, &assets, &liabilities,
		&equity, &revenue, &expenses, &profit, &cashflow); err != nil {
		return nil, err
	}
	sum.CashAndBank = canonical.MustParseDecimal(cash)
	sum.TotalAssets = canonical.MustParseDecimal(assets)
	sum.TotalLiabilities = canonical.MustParseDecimal(liabilities)
	sum.TotalEquity = canonical.MustParseDecimal(equity)
	sum.TotalRevenue = canonical.MustParseDecimal(revenue)
	sum.TotalExpenses = canonical.MustParseDecimal(expenses)
	sum.NetProfit = canonical.MustParseDecimal(profit)
	sum.NetCashflow = canonical.MustParseDecimal(cashflow)
	return &sum, nil
}

// =============================================================================
// CURRENT BALANCES
// =============================================================================

// ReplaceCurrents replaces one kind's rows wholesale.
func (s *Store) ReplaceCurrents(ctx context.Context, companyID canonical.CompanyID, kind canonical.CurrentKind, balances []canonical.CurrentBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM current_balances WHERE company_id = ? AND kind = ?",
		companyID, kind); err != nil {
		return err
	}

	query := `
		INSERT INTO current_balances (company_id, kind, name, balance, as_of_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(company_id, kind, name) DO UPDATE SET
			balance = excluded.balance,
			as_of_date = excluded.as_of_date
	`
	for _, b := range balances {
		if _, err := tx.ExecContext(ctx, query,
			companyID, kind, b.Name, b.Balance.String(), formatDatePtr(b.AsOfDate)); err != nil {
			return fmt.Errorf("failed to insert current balance %q: %w", b.Name, err)
		}
	}

	return tx.Commit()
}

// CurrentBalances returns one kind's rows, ordered by name.
func (s *Store) CurrentBalances(ctx context.Context, companyID canonical.CompanyID, kind canonical.CurrentKind) ([]canonical.CurrentBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, balance, as_of_date FROM current_balances
		 WHERE company_id = ? AND kind = ? ORDER BY name ASC`,
		companyID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []canonical.CurrentBalance
	for rows.Next() {
		b := canonical.CurrentBalance{CompanyID: companyID, Kind: kind}
		var balance string
		var asOf sql.NullString
		if err := rows.Scan(&b.Name, &balance, &asOf); err != nil {
			return nil, err
		}
		b.Balance = canonical.MustParseDecimal(balance)
		b.AsOfDate = parseDatePtr(asOf)
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// =============================================================================
// PARTY BALANCES & AGING
// =============================================================================

// ReplacePartyBalances supersedes the rows for (company, partyType, asOf).
func (s *Store) ReplacePartyBalances(ctx context.Context, companyID canonical.CompanyID, partyType canonical.PartyType, asOf time.Time, parties []canonical.PartyBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	asOfStr := asOf.Format("2006-01-02")
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM party_balances WHERE company_id = ? AND party_type = ? AND as_of_date = ?",
		companyID, partyType, asOfStr); err != nil {
		return err
	}

	for _, p := range parties {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO party_balances (company_id, party_type, as_of_date, name, balance)
			 VALUES (?, ?, ?, ?, ?)`,
			companyID, partyType, asOfStr, p.Name, p.Balance.String()); err != nil {
			return fmt.Errorf("failed to insert party balance %q: %w", p.Name, err)
		}
	}

	return tx.Commit()
}

// PartyBalancesAsOf returns the rows for one as-of date.
func (s *Store) PartyBalancesAsOf(ctx context.Context, companyID canonical.CompanyID, partyType canonical.PartyType, asOf time.Time) ([]canonical.PartyBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, balance FROM party_balances
		 WHERE company_id = ? AND party_type = ? AND as_of_date = ? ORDER BY name ASC`,
		companyID, partyType, asOf.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parties []canonical.PartyBalance
	for rows.Next() {
		var p canonical.PartyBalance
		var balance string
		if err := rows.Scan(&p.Name, &balance); err != nil {
			return nil, err
		}
		p.Balance = canonical.MustParseDecimal(balance)
		parties = append(parties, p)
	}
	return parties, rows.Err()
}

// ReplaceAging supersedes the aging rows for (company, partyType, asOf).
func (s *Store) ReplaceAging(ctx context.Context, companyID canonical.CompanyID, partyType canonical.PartyType, asOf time.Time, entries []canonical.AgingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	asOfStr := asOf.Format("2006-01-02")
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM aging_entries WHERE company_id = ? AND party_type = ? AND as_of_date = ?",
		companyID, partyType, asOfStr); err != nil {
		return err
	}

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO aging_entries
			 (company_id, party_type, as_of_date, name, up_to_30, up_to_60, up_to_90, above_90, total)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			companyID, partyType, asOfStr, e.Name,
			e.UpTo30.String(), e.UpTo60.String(), e.UpTo90.String(),
			e.Above90.String(), e.Total.String()); err != nil {
			return fmt.Errorf("failed to insert aging entry %q: %w", e.Name, err)
		}
	}

	return tx.Commit()
}

// LatestAging returns the aging rows for the most recent as-of date.
func (s *Store) LatestAging(ctx context.Context, companyID canonical.CompanyID, partyType canonical.PartyType) ([]canonical.AgingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, up_to_30, up_to_60, up_to_90, above_90, total
		FROM aging_entries
		WHERE company_id = ? AND party_type = ?
		  AND as_of_date = (
			SELECT MAX(as_of_date) FROM aging_entries WHERE company_id = ? AND party_type = ?
		  )
		ORDER BY name ASC
	`, companyID, partyType, companyID, partyType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []canonical.AgingEntry
	for rows.Next() {
		var e canonical.AgingEntry
		var b30, b60, b90, above, total string
		if err := rows.Scan(&e.Name, &b30, &b60, &b90, &above, &total); err != nil {
			return nil, err
		}
		e.UpTo30 = canonical.MustParseDecimal(b30)
		e.UpTo60 = canonical.MustParseDecimal(b60)
		e.UpTo90 = canonical.MustParseDecimal(b90)
		e.Above90 = canonical.MustParseDecimal(above)
		e.Total = canonical.MustParseDecimal(total)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"chart_groups", "chart_ledgers", "ledger_monthly_balances",
		"monthly_summaries", "current_balances", "party_balances",
		"aging_entries", "sync_runs", "sync_events", "job_locks",
		"classification_rules", "account_head_dictionary", "ingestion_logs",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatDatePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format("2006-01-02")
}

func parseDatePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
