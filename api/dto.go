/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/finlens/ledger-engine/syncrun"
)

// =============================================================================
// INGESTION
// =============================================================================

// IngestRequest is the intake body: who the payload belongs to, where it
// came from, and the raw source export itself.
type IngestRequest struct {
	CompanyID         string          `json:"company_id"`
	Source            string          `json:"source"`
	ConnectorClientID string          `json:"connector_client_id,omitempty"`
	Payload           json.RawMessage `json:"payload"`
}

// IngestAcceptedDTO acknowledges an accepted payload.
type IngestAcceptedDTO struct {
	IngestionID string `json:"ingestion_id"`
	Status      string `json:"status"`
}

// IngestionLogDTO is one intake record.
type IngestionLogDTO struct {
	ID           string `json:"id"`
	CompanyID    string `json:"company_id"`
	Source       string `json:"source"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	PayloadHash  string `json:"payload_hash,omitempty"`
	RunID        string `json:"run_id,omitempty"`
	ReceivedAt   string `json:"received_at"`
	ProcessedAt  string `json:"processed_at,omitempty"`
}

// =============================================================================
// SYNC RUNS
// =============================================================================

// RunDTO represents a sync run in API responses.
type RunDTO struct {
	ID                string           `json:"id"`
	CompanyID         string           `json:"company_id"`
	IntegrationType   string           `json:"integration_type"`
	ConnectorClientID string           `json:"connector_client_id,omitempty"`
	Status            string           `json:"status"`
	Stage             string           `json:"stage"`
	Progress          int              `json:"progress"`
	StartedAt         string           `json:"started_at"`
	FinishedAt        string           `json:"finished_at,omitempty"`
	LastError         string           `json:"last_error,omitempty"`
	Stats             syncrun.RunStats `json:"stats"`
}

// EventDTO is one audit entry for a run.
type EventDTO struct {
	Time    string             `json:"time"`
	Level   string             `json:"level"`
	Event   string             `json:"event"`
	Message string             `json:"message,omitempty"`
	Data    *syncrun.EventData `json:"data,omitempty"`
}

// LockDTO represents an idempotency lock in API responses.
type LockDTO struct {
	CompanyID   string `json:"company_id"`
	JobKey      string `json:"job_key"`
	ScopeKey    string `json:"scope_key"`
	Status      string `json:"status"`
	LockedAt    string `json:"locked_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	LastJobID   string `json:"last_job_id,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// ReleaseLockRequest force-finishes a stuck lock.
type ReleaseLockRequest struct {
	CompanyID string `json:"company_id"`
	Source    string `json:"source"`
	Reason    string `json:"reason"`
}

// =============================================================================
// DERIVED TABLES
// =============================================================================

// SummaryDTO is the monthly trial-balance rollup.
type SummaryDTO struct {
	CompanyID        string          `json:"company_id"`
	Month            string          `json:"month"`
	CashAndBank      decimal.Decimal `json:"cash_and_bank"`
	TotalAssets      decimal.Decimal `json:"total_assets"`
	TotalLiabilities decimal.Decimal `json:"total_liabilities"`
	TotalEquity      decimal.Decimal `json:"total_equity"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
	TotalExpenses    decimal.Decimal `json:"total_expenses"`
	NetProfit        decimal.Decimal `json:"net_profit"`
	NetCashflow      decimal.Decimal `json:"net_cashflow"`
}

// CurrentBalanceDTO is one as-of-now balance row.
type CurrentBalanceDTO struct {
	Kind     string          `json:"kind"`
	Name     string          `json:"name"`
	Balance  decimal.Decimal `json:"balance"`
	AsOfDate string          `json:"as_of_date,omitempty"`
}

// AgingEntryDTO is one party's aged outstanding balance.
type AgingEntryDTO struct {
	Name    string          `json:"name"`
	UpTo30  decimal.Decimal `json:"up_to_30"`
	UpTo60  decimal.Decimal `json:"up_to_60"`
	UpTo90  decimal.Decimal `json:"up_to_90"`
	Above90 decimal.Decimal `json:"above_90"`
	Total   decimal.Decimal `json:"total"`
}

// =============================================================================
// HEALTH & COVERAGE
// =============================================================================

// CoverageDTO reports classification coverage for one month.
type CoverageDTO struct {
	Month               string                  `json:"month"`
	TotalLedgers        int                     `json:"total_ledgers"`
	ClassifiedLedgers   int                     `json:"classified_ledgers"`
	UnclassifiedLedgers int                     `json:"unclassified_ledgers"`
	ClassifiedPct       float64                 `json:"classified_pct"`
	TopUnclassified     []UnclassifiedLedgerDTO `json:"top_unclassified"`
}

// UnclassifiedLedgerDTO is one coverage gap.
type UnclassifiedLedgerDTO struct {
	LedgerGUID string          `json:"ledger_guid"`
	LedgerName string          `json:"ledger_name"`
	Balance    decimal.Decimal `json:"balance"`
}

// CurrentTotalsDTO sums the current tables per kind.
type CurrentTotalsDTO struct {
	CashTotal      decimal.Decimal `json:"cash_total"`
	DebtorsTotal   decimal.Decimal `json:"debtors_total"`
	CreditorsTotal decimal.Decimal `json:"creditors_total"`
	LoansTotal     decimal.Decimal `json:"loans_total"`
}

// HealthDTO is the admin health view for one tenant.
type HealthDTO struct {
	LastSyncRun    *RunDTO          `json:"last_sync_run,omitempty"`
	LatestSnapshot *SummaryDTO      `json:"latest_snapshot,omitempty"`
	Coverage       *CoverageDTO     `json:"coverage,omitempty"`
	Currents       CurrentTotalsDTO `json:"currents"`
	MissingMonths  []string         `json:"missing_months,omitempty"`
	InterestLatest decimal.Decimal  `json:"interest_latest"`
	StaleLocks     []LockDTO        `json:"stale_locks,omitempty"`
}

// =============================================================================
// CLASSIFICATION ADMIN
// =============================================================================

// RuleDTO represents one exact classification rule.
type RuleDTO struct {
	ID               string `json:"id,omitempty"`
	SourceSystem     string `json:"source_system"`
	MatchField       string `json:"match_field"`
	MatchValue       string `json:"match_value"`
	NormalizedType   string `json:"normalized_type"`
	NormalizedBucket string `json:"normalized_bucket,omitempty"`
	Priority         int    `json:"priority"`
	IsActive         bool   `json:"is_active"`
}

// DictEntryDTO represents one account-head dictionary pattern.
type DictEntryDTO struct {
	CanonicalType    string `json:"canonical_type"`
	CanonicalSubtype string `json:"canonical_subtype,omitempty"`
	MatchPattern     string `json:"match_pattern"`
	IsRegex          bool   `json:"is_regex,omitempty"`
	Priority         int    `json:"priority"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
