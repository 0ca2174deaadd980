/*
Package canonical defines the normalized accounting schema.

PURPOSE:
  Every source adapter (Tally today, Zoho/QuickBooks planned) converts its
  raw export payload into the types in this package. Downstream components
  (classifier, sync orchestrator, snapshot engine, health reporter) consume
  ONLY these shapes - source-specific fields never cross the adapter
  boundary.

KEY CONCEPTS IN THIS FILE (types.go):
  - ChartOfAccounts: groups + ledgers + per-month balance sets
  - PartyBalance / AgingEntry: debtor and creditor positions
  - LedgerMonthlyBalance: one classified balance row per (company, month, ledger)
  - TrialBalanceSummary: the derived monthly CFO rollup
  - CurrentBalance: "as-of-now" cash/debtor/creditor/loan rollups

DESIGN PRINCIPLES:
  1. Precision: all monetary values are decimal.Decimal, never float
  2. Type Safety: strong typing for company/ledger/source identifiers
  3. Tenancy: every derived row is keyed by CompanyID; no cross-tenant refs
  4. Determinism: derived rows are recomputed wholesale, never patched

SEE ALSO:
  - month.go: MonthKey (YYYY-MM) handling
  - errors.go: error taxonomy shared by the pipeline
  - adapter/: the only place raw source schema is visible
*/
package canonical

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CompanyID string
type LedgerGUID string

// SourceSystem identifies which bookkeeping system a payload came from.
type SourceSystem string

const (
	SourceTally      SourceSystem = "tally"
	SourceZoho       SourceSystem = "zoho"
	SourceQuickBooks SourceSystem = "quickbooks"
	SourceManual     SourceSystem = "manual"
	SourceConnector  SourceSystem = "connector"
)

// KnownSource reports whether s is one of the supported source systems.
func KnownSource(s SourceSystem) bool {
	switch s {
	case SourceTally, SourceZoho, SourceQuickBooks, SourceManual, SourceConnector:
		return true
	}
	return false
}

// =============================================================================
// CANONICAL TYPES (CFO taxonomy)
// =============================================================================

// CanonicalType is the CFO-facing bucket assigned to a ledger by the
// classification engine. TypeUnclassified is a valid, non-fatal outcome;
// it is surfaced by the coverage reporter rather than failing ingestion.
type CanonicalType string

const (
	TypeUnclassified CanonicalType = "unclassified"
	TypeCash         CanonicalType = "CASH"
	TypeBank         CanonicalType = "BANK"
	TypeAsset        CanonicalType = "ASSET"
	TypeLiability    CanonicalType = "LIABILITY"
	TypeEquity       CanonicalType = "EQUITY"
	TypeRevenue      CanonicalType = "REVENUE"
	TypeExpense      CanonicalType = "EXPENSE"
	TypeLoan         CanonicalType = "LOAN"
)

// Classification is the output of the classification engine.
type Classification struct {
	Type    CanonicalType
	Subtype string
}

// Unclassified reports whether a category counts against coverage.
func Unclassified(t CanonicalType) bool {
	return t == "" || t == TypeUnclassified || t == "unknown"
}

// =============================================================================
// CHART OF ACCOUNTS
// =============================================================================

// Group is an account group node from the source chart of accounts.
type Group struct {
	Name   string
	Parent string
	GUID   string
	Type   string
}

// Ledger is an accounting account (e.g. "Cash", "Sales").
// GUID is unique within a tenant+source.
type Ledger struct {
	GUID      LedgerGUID
	Name      string
	Parent    string
	GroupName string
	Type      string
}

// BalanceItem is one ledger's balance inside a month block. The GUID must
// reference a ledger in the same payload or one previously seen for the
// tenant+source.
type BalanceItem struct {
	LedgerGUID LedgerGUID
	Balance    decimal.Decimal
}

// MonthBalances is the balance set for one month.
type MonthBalances struct {
	Month    MonthKey
	AsOfDate *time.Time
	Items    []BalanceItem
}

// BalanceSet carries the current (open) month plus closed historic months.
type BalanceSet struct {
	Current      *MonthBalances
	ClosedMonths []MonthBalances
}

// ChartOfAccounts is the normalized chart-of-accounts payload.
type ChartOfAccounts struct {
	Groups   []Group
	Ledgers  []Ledger
	Balances BalanceSet
}

// =============================================================================
// PARTY BALANCES & AGING
// =============================================================================

type PartyType string

const (
	PartyDebtor   PartyType = "debtor"
	PartyCreditor PartyType = "creditor"
)

// PartyBalance is one party's outstanding balance as of a date. Rows for
// the same (company, partyType, asOfDate) are superseded on each re-sync,
// never appended.
type PartyBalance struct {
	Name    string
	Balance decimal.Decimal
}

// AgingEntry buckets a party's outstanding balance by age.
type AgingEntry struct {
	Name    string
	UpTo30  decimal.Decimal
	UpTo60  decimal.Decimal
	UpTo90  decimal.Decimal
	Above90 decimal.Decimal
	Total   decimal.Decimal
}

// =============================================================================
// DERIVED ROWS
// =============================================================================

// LedgerMonthlyBalance is one classified balance row per
// (company, month, ledger). Rows for a month are overwritten wholesale on
// each normalize pass - never append-only.
type LedgerMonthlyBalance struct {
	CompanyID   CompanyID
	Month       MonthKey
	LedgerGUID  LedgerGUID
	LedgerName  string
	ParentGroup string
	CFOCategory CanonicalType
	CFOSubtype  string
	Balance     decimal.Decimal
	AsOfDate    *time.Time
}

// TrialBalanceSummary is the derived monthly rollup, one row per
// (company, month). Recomputing from the same LedgerMonthlyBalance rows
// must be deterministic.
//
/// Sign convention: source exports carry credit balances as negative
// amounts. Liability/equity/revenue totals are sign-normalized to
// positive magnitudes here; asset and expense totals are kept debit-
// positive.
type TrialBalanceSummary struct {
	CompanyID        CompanyID
	Month            MonthKey
	CashAndBank      decimal.Decimal
	TotalAssets      decimal.Decimal
	TotalLiabilities decimal.Decimal
	TotalEquity      decimal.Decimal
	TotalRevenue     decimal.Decimal
	TotalExpenses    decimal.Decimal
	NetProfit        decimal.Decimal
	NetCashflow      decimal.Decimal
}

// CurrentKind discriminates the "as-of-now" rollup tables.
type CurrentKind string

const (
	CurrentCash     CurrentKind = "cash"
	CurrentDebtor   CurrentKind = "debtor"
	CurrentCreditor CurrentKind = "creditor"
	CurrentLoan     CurrentKind = "loan"
)

// CurrentBalance is one latest-known balance row, unique per
// (company, kind, name). The whole kind is replaced on a successful sync
// so parties that disappear from the source do not linger.
type CurrentBalance struct {
	CompanyID CompanyID
	Kind      CurrentKind
	Name      string
	Balance   decimal.Decimal
	AsOfDate  *time.Time
}

// MustParseDecimal parses a decimal string, returning zero on failure.
// Used by stores when reading back serialized amounts.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
