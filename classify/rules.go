/*
Package classify maps raw ledger/group names to the CFO taxonomy.

PURPOSE:
  Assigns a canonical type/subtype to every ledger coming out of a source
  adapter. Classification is rule-first: tenant-curated exact rules win,
  then a shared account-head dictionary of substring/regex patterns, then
  "unclassified". A miss is never fatal - coverage is reported separately.

KEY CONCEPTS IN THIS FILE (rules.go):
  - Rule: exact, per-source match on a ledger or group name
  - DictEntry: pattern fallback consulted when no rule matches
  - DefaultDictionary: seed patterns for common bookkeeping account heads

PRECEDENCE:
  Rules: lowest Priority value wins; on equal priority the longest
  MatchValue wins, then lexicographic order. Ties are resolved
  deterministically rather than by insertion order so re-syncs of the
  same data classify identically.

SEE ALSO:
  - engine.go: the matching algorithm and per-run cache
*/
package classify

import "github.com/finlens/ledger-engine/canonical"

// MatchField selects which side of the chart a rule matches against.
type MatchField string

const (
	FieldLedgerName MatchField = "ledgerName"
	FieldGroupName  MatchField = "groupName"
)

// Rule is an exact, case-insensitive classification rule for one source
// system. Rules are tenant-operator curated and stored durably.
type Rule struct {
	ID               string
	SourceSystem     canonical.SourceSystem
	MatchField       MatchField
	MatchValue       string
	NormalizedType   canonical.CanonicalType
	NormalizedBucket string
	Priority         int
	IsActive         bool
}

// DictEntry is an account-head dictionary pattern. MatchPattern is tested
// case-insensitively against the name and its parent chain; as a substring
// by default, or as a regular expression when IsRegex is set.
type DictEntry struct {
	CanonicalType    canonical.CanonicalType
	CanonicalSubtype string
	MatchPattern     string
	IsRegex          bool
	Priority         int
}

// DefaultDictionary returns the seed account-head dictionary. The patterns
// mirror the account heads most Tally charts ship with; tenants refine
// coverage with exact rules on top.
func DefaultDictionary() []DictEntry {
	return []DictEntry{
		// Cash and bank first: they double as assets, so they must win
		// before the generic asset patterns.
		{CanonicalType: canonical.TypeCash, CanonicalSubtype: "cash_in_hand", MatchPattern: "cash", Priority: 10},
		{CanonicalType: canonical.TypeCash, CanonicalSubtype: "petty_cash", MatchPattern: "petty", Priority: 10},
		{CanonicalType: canonical.TypeBank, CanonicalSubtype: "bank_account", MatchPattern: "bank", Priority: 10},

		{CanonicalType: canonical.TypeLoan, CanonicalSubtype: "secured_loan", MatchPattern: "secured loan", Priority: 20},
		{CanonicalType: canonical.TypeLoan, CanonicalSubtype: "unsecured_loan", MatchPattern: "unsecured loan", Priority: 20},
		{CanonicalType: canonical.TypeLoan, CanonicalSubtype: "loan", MatchPattern: `loans?\b`, IsRegex: true, Priority: 25},
		{CanonicalType: canonical.TypeLoan, CanonicalSubtype: "overdraft", MatchPattern: "overdraft", Priority: 25},

		{CanonicalType: canonical.TypeRevenue, CanonicalSubtype: "sales", MatchPattern: "sales account", Priority: 30},
		{CanonicalType: canonical.TypeRevenue, CanonicalSubtype: "direct_income", MatchPattern: "direct income", Priority: 30},
		{CanonicalType: canonical.TypeRevenue, CanonicalSubtype: "indirect_income", MatchPattern: "indirect income", Priority: 30},

		{CanonicalType: canonical.TypeExpense, CanonicalSubtype: "purchases", MatchPattern: "purchase", Priority: 40},
		{CanonicalType: canonical.TypeExpense, CanonicalSubtype: "direct_expense", MatchPattern: "direct expense", Priority: 40},
		{CanonicalType: canonical.TypeExpense, CanonicalSubtype: "indirect_expense", MatchPattern: "indirect expense", Priority: 40},
		// Word-bounded: a bare "rent" substring would swallow every head
		// under "Current Assets" / "Current Liabilities".
		{CanonicalType: canonical.TypeExpense, CanonicalSubtype: "rent", MatchPattern: `\brent\b`, IsRegex: true, Priority: 45},
		{CanonicalType: canonical.TypeExpense, CanonicalSubtype: "salary", MatchPattern: `salar(y|ies)`, IsRegex: true, Priority: 45},
		{CanonicalType: canonical.TypeExpense, CanonicalSubtype: "interest", MatchPattern: "interest", Priority: 45},
		{CanonicalType: canonical.TypeExpense, CanonicalSubtype: "electricity", MatchPattern: "electricity", Priority: 45},
		{CanonicalType: canonical.TypeExpense, CanonicalSubtype: "freight", MatchPattern: "freight", Priority: 45},

		{CanonicalType: canonical.TypeAsset, CanonicalSubtype: "debtors", MatchPattern: "sundry debtors", Priority: 50},
		{CanonicalType: canonical.TypeAsset, CanonicalSubtype: "fixed_asset", MatchPattern: "fixed asset", Priority: 50},
		{CanonicalType: canonical.TypeAsset, CanonicalSubtype: "investment", MatchPattern: "investment", Priority: 50},
		{CanonicalType: canonical.TypeAsset, CanonicalSubtype: "stock", MatchPattern: "stock-in-hand", Priority: 50},
		{CanonicalType: canonical.TypeAsset, CanonicalSubtype: "current_asset", MatchPattern: "current asset", Priority: 55},

		{CanonicalType: canonical.TypeLiability, CanonicalSubtype: "creditors", MatchPattern: "sundry creditors", Priority: 60},
		{CanonicalType: canonical.TypeLiability, CanonicalSubtype: "duties_taxes", MatchPattern: "duties & taxes", Priority: 60},
		{CanonicalType: canonical.TypeLiability, CanonicalSubtype: "provision", MatchPattern: "provision", Priority: 60},
		{CanonicalType: canonical.TypeLiability, CanonicalSubtype: "current_liability", MatchPattern: "current liabilit", Priority: 65},

		{CanonicalType: canonical.TypeEquity, CanonicalSubtype: "capital", MatchPattern: "capital account", Priority: 70},
		{CanonicalType: canonical.TypeEquity, CanonicalSubtype: "reserves", MatchPattern: "reserves", Priority: 70},
	}
}
