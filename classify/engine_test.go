package classify

import (
	"testing"

	"github.com/finlens/ledger-engine/canonical"
)

// =============================================================================
// DICTIONARY MATCHING
// =============================================================================

func TestClassify_DictionarySubstring(t *testing.T) {
	// GIVEN: a dictionary with a single "rent" -> EXPENSE pattern
	// WHEN: classifying three ledgers
	// THEN: only the one containing "rent" is classified

	dict := []DictEntry{
		{CanonicalType: canonical.TypeExpense, CanonicalSubtype: "rent", MatchPattern: "rent", Priority: 10},
	}
	e := NewEngine(canonical.SourceTally, nil, dict)

	got := e.Classify("Office Rent", "")
	if got.Type != canonical.TypeExpense || got.Subtype != "rent" {
		t.Errorf("Office Rent: expected EXPENSE/rent, got %s/%s", got.Type, got.Subtype)
	}

	for _, name := range []string{"Cash", "Sales"} {
		if got := e.Classify(name, ""); got.Type != canonical.TypeUnclassified {
			t.Errorf("%s: expected unclassified, got %s", name, got.Type)
		}
	}
}

func TestClassify_DictionaryCaseInsensitive(t *testing.T) {
	e := NewEngine(canonical.SourceTally, nil, DefaultDictionary())

	for _, name := range []string{"HDFC BANK", "hdfc bank", "Hdfc Bank"} {
		if got := e.Classify(name, ""); got.Type != canonical.TypeBank {
			t.Errorf("%s: expected BANK, got %s", name, got.Type)
		}
	}
}

func TestClassify_DictionaryRegex(t *testing.T) {
	dict := []DictEntry{
		{CanonicalType: canonical.TypeExpense, CanonicalSubtype: "salary", MatchPattern: `salar(y|ies)`, IsRegex: true, Priority: 10},
	}
	e := NewEngine(canonical.SourceTally, nil, dict)

	if got := e.Classify("Salaries Payable Dept A", ""); got.Type != canonical.TypeExpense {
		t.Errorf("expected EXPENSE via regex, got %s", got.Type)
	}
	if got := e.Classify("Salty Snacks", ""); got.Type != canonical.TypeUnclassified {
		t.Errorf("expected unclassified, got %s", got.Type)
	}
}

func TestClassify_ParentChainFallback(t *testing.T) {
	// GIVEN: a ledger whose own name matches nothing
	// WHEN: its parent chain contains a dictionary head
	// THEN: the parent match classifies it

	e := NewEngine(canonical.SourceTally, nil, DefaultDictionary())

	got := e.Classify("Mehta & Co", "Sundry Creditors:Current Liabilities")
	if got.Type != canonical.TypeLiability || got.Subtype != "creditors" {
		t.Errorf("expected LIABILITY/creditors via parent, got %s/%s", got.Type, got.Subtype)
	}
}

func TestClassify_DictionaryPriorityOrder(t *testing.T) {
	// "Cash" doubles as an asset head; the cash pattern must win because
	// it carries a lower priority value.
	e := NewEngine(canonical.SourceTally, nil, DefaultDictionary())

	got := e.Classify("Petty Cash", "Current Assets:Cash-in-Hand")
	if got.Type != canonical.TypeCash {
		t.Errorf("expected CASH, got %s", got.Type)
	}
}

// =============================================================================
// EXACT RULES
// =============================================================================

func TestClassify_RuleBeatsDictionary(t *testing.T) {
	// GIVEN: a dictionary that would call "Rent Deposit" an expense and a
	// rule that pins it as an asset
	rules := []Rule{
		{ID: "r1", SourceSystem: canonical.SourceTally, MatchField: FieldLedgerName,
			MatchValue: "Rent Deposit", NormalizedType: canonical.TypeAsset,
			NormalizedBucket: "deposit", Priority: 10, IsActive: true},
	}
	e := NewEngine(canonical.SourceTally, rules, DefaultDictionary())

	got := e.Classify("Rent Deposit", "")
	if got.Type != canonical.TypeAsset || got.Subtype != "deposit" {
		t.Errorf("expected ASSET/deposit from rule, got %s/%s", got.Type, got.Subtype)
	}
}

func TestClassify_RuleGroupNameMatchesParent(t *testing.T) {
	rules := []Rule{
		{ID: "r1", SourceSystem: canonical.SourceTally, MatchField: FieldGroupName,
			MatchValue: "Machinery", NormalizedType: canonical.TypeAsset,
			NormalizedBucket: "fixed_asset", Priority: 10, IsActive: true},
	}
	e := NewEngine(canonical.SourceTally, rules, nil)

	got := e.Classify("Lathe #4", "Machinery:Fixed Assets")
	if got.Type != canonical.TypeAsset {
		t.Errorf("expected ASSET via groupName rule, got %s", got.Type)
	}
}

func TestClassify_InactiveAndForeignRulesIgnored(t *testing.T) {
	rules := []Rule{
		{ID: "r1", SourceSystem: canonical.SourceTally, MatchField: FieldLedgerName,
			MatchValue: "Cash", NormalizedType: canonical.TypeExpense, Priority: 1, IsActive: false},
		{ID: "r2", SourceSystem: canonical.SourceZoho, MatchField: FieldLedgerName,
			MatchValue: "Cash", NormalizedType: canonical.TypeRevenue, Priority: 1, IsActive: true},
	}
	e := NewEngine(canonical.SourceTally, rules, nil)

	if got := e.Classify("Cash", ""); got.Type != canonical.TypeUnclassified {
		t.Errorf("inactive/foreign rules must not apply, got %s", got.Type)
	}
}

func TestClassify_RuleTiebreakDeterministic(t *testing.T) {
	// Equal priority: longer match value wins.
	rules := []Rule{
		{ID: "short", SourceSystem: canonical.SourceTally, MatchField: FieldLedgerName,
			MatchValue: "HDFC", NormalizedType: canonical.TypeBank, Priority: 10, IsActive: true},
		{ID: "long", SourceSystem: canonical.SourceTally, MatchField: FieldLedgerName,
			MatchValue: "HDFC Loan", NormalizedType: canonical.TypeLoan, Priority: 10, IsActive: true},
	}

	// Same rules presented in both orders classify identically.
	for _, rs := range [][]Rule{rules, {rules[1], rules[0]}} {
		e := NewEngine(canonical.SourceTally, rs, nil)
		if got := e.Classify("HDFC Loan", ""); got.Type != canonical.TypeLoan {
			t.Errorf("expected LOAN from longest match value, got %s", got.Type)
		}
	}
}

// =============================================================================
// CACHE & MISSES
// =============================================================================

func TestClassify_MissIsNeverFatal(t *testing.T) {
	e := NewEngine(canonical.SourceTally, nil, nil)
	got := e.Classify("Completely Unknown Head", "Nowhere")
	if got.Type != canonical.TypeUnclassified {
		t.Errorf("expected unclassified, got %s", got.Type)
	}
}

func TestClassify_CachesPerNameAndPath(t *testing.T) {
	e := NewEngine(canonical.SourceTally, nil, DefaultDictionary())

	e.Classify("Cash", "")
	e.Classify("Cash", "")
	e.Classify("Cash", "Cash-in-Hand")

	if got := e.CacheSize(); got != 2 {
		t.Errorf("expected 2 cache entries, got %d", got)
	}
}
