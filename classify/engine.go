/*
engine.go - The classification algorithm

ALGORITHM:
  Classify(name, parentPath):
    1. Exact rule lookup: active rules for this source whose MatchField
       matches the field being tested (ledgerName against the name,
       groupName against each segment of the parent path) and whose
       MatchValue equals it case-insensitively. Lowest priority wins;
       longest MatchValue, then lexicographic, breaks ties.
    2. Dictionary scan: entries by ascending priority, pattern tested
       case-insensitively against the name and the parent chain.
    3. Neither matched: canonical "unclassified". Never an error.

CACHING:
  Results are cached per (source, name, parentPath) for the lifetime of
  one Engine. The orchestrator builds a fresh Engine per sync run, so the
  cache never outlives the rule set it was computed from.

SEE ALSO:
  - rules.go: Rule/DictEntry types and precedence notes
  - syncrun: builds one Engine per run from the stored rule set
*/
package classify

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/finlens/ledger-engine/canonical"
)

// Engine classifies ledger/group names for one source system.
// Safe for concurrent use.
type Engine struct {
	source canonical.SourceSystem
	rules  []Rule
	dict   []dictPattern

	mu    sync.RWMutex
	cache map[string]canonical.Classification
}

type dictPattern struct {
	entry DictEntry
	re    *regexp.Regexp // nil for plain substring patterns
}

// NewEngine builds an engine from the active rule set and dictionary.
// Inactive rules and rules for other sources are dropped; unparseable
// regex patterns fall back to substring matching.
func NewEngine(source canonical.SourceSystem, rules []Rule, dict []DictEntry) *Engine {
	e := &Engine{
		source: source,
		cache:  make(map[string]canonical.Classification),
	}

	for _, r := range rules {
		if r.IsActive && r.SourceSystem == source {
			e.rules = append(e.rules, r)
		}
	}
	// Priority ascending, then longest match value, then lexicographic.
	// The first rule in this order is the winner for its value.
	sort.SliceStable(e.rules, func(i, j int) bool {
		a, b := e.rules[i], e.rules[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if len(a.MatchValue) != len(b.MatchValue) {
			return len(a.MatchValue) > len(b.MatchValue)
		}
		return a.MatchValue < b.MatchValue
	})

	sorted := make([]DictEntry, len(dict))
	copy(sorted, dict)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	for _, d := range sorted {
		p := dictPattern{entry: d}
		if d.IsRegex {
			if re, err := regexp.Compile("(?i)" + d.MatchPattern); err == nil {
				p.re = re
			}
		}
		e.dict = append(e.dict, p)
	}

	return e
}

// Classify resolves a ledger or group name to a canonical type/subtype.
// parentPath is the group chain from the chart root, ":"-separated
// (e.g. "Current Assets:Cash-in-Hand"); it may be empty.
func (e *Engine) Classify(name, parentPath string) canonical.Classification {
	key := name + "\x00" + parentPath

	e.mu.RLock()
	if c, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return c
	}
	e.mu.RUnlock()

	c := e.classify(name, parentPath)

	e.mu.Lock()
	e.cache[key] = c
	e.mu.Unlock()
	return c
}

func (e *Engine) classify(name, parentPath string) canonical.Classification {
	parents := splitPath(parentPath)

	// 1. Exact rules. e.rules is pre-sorted, so the first hit wins.
	for _, r := range e.rules {
		switch r.MatchField {
		case FieldLedgerName:
			if strings.EqualFold(r.MatchValue, name) {
				return canonical.Classification{Type: r.NormalizedType, Subtype: r.NormalizedBucket}
			}
		case FieldGroupName:
			for _, p := range parents {
				if strings.EqualFold(r.MatchValue, p) {
					return canonical.Classification{Type: r.NormalizedType, Subtype: r.NormalizedBucket}
				}
			}
		}
	}

	// 2. Dictionary fallback, name first then the parent chain.
	haystacks := append([]string{name}, parents...)
	for _, p := range e.dict {
		for _, h := range haystacks {
			if p.matches(h) {
				return canonical.Classification{Type: p.entry.CanonicalType, Subtype: p.entry.CanonicalSubtype}
			}
		}
	}

	// 3. Miss. Surfaced via coverage, never fatal.
	return canonical.Classification{Type: canonical.TypeUnclassified}
}

func (p dictPattern) matches(s string) bool {
	if p.re != nil {
		return p.re.MatchString(s)
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(p.entry.MatchPattern))
}

func splitPath(parentPath string) []string {
	if parentPath == "" {
		return nil
	}
	parts := strings.Split(parentPath, ":")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CacheSize returns the number of memoized names (for run stats).
func (e *Engine) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
