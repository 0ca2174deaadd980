/*
Package adapter defines the source adapter contract.

PURPOSE:
  One adapter per accounting system converts a raw source payload into
  canonical shapes. This boundary is the ONLY place source-specific schema
  is visible - everything downstream consumes canonical types.

CAPABILITY CONTRACT:
  Each normalize operation is optional. An adapter returns:
    - a result when the payload carries data for that capability
    - nil (with nil error) when the payload simply has none
    - an AdapterFormatError when the payload is structurally unrecognizable
  SourceMetadata never fails; it returns best-effort partial metadata.

REGISTRY:
  Concrete adapters register by source system. The sync orchestrator
  resolves the adapter for a run during its connect stage.

IMPLEMENTATIONS:
  - adapter/tally: Tally JSON export payloads
  - adapter/connector: already-canonical connector/manual payloads

SEE ALSO:
  - canonical/: the shapes every adapter must produce
*/
package adapter

import (
	"sort"
	"sync"
	"time"

	"github.com/finlens/ledger-engine/canonical"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// Metadata is best-effort payload provenance. Any field may be empty.
type Metadata struct {
	SourceID    string
	SourceName  string
	AsOfDate    *time.Time
	GeneratedAt *time.Time
}

// ChartResult is the normalized chart-of-accounts section.
type ChartResult struct {
	Chart    canonical.ChartOfAccounts
	AsOfDate *time.Time
}

// MonthlyBalancesResult carries the current month and closed months found
// in the payload. Either side may be absent.
//
// A month block that is present but unusable (bad month key, unparseable
// amounts) goes into Malformed instead of failing the whole payload; the
// orchestrator reports those as missing months on a partial run.
type MonthlyBalancesResult struct {
	Current      *canonical.MonthBalances
	ClosedMonths []canonical.MonthBalances
	Malformed    []MalformedMonth
}

// MalformedMonth identifies one unusable month block.
type MalformedMonth struct {
	Month  canonical.MonthKey
	Reason string
}

// PartyBalancesResult carries outstanding debtor/creditor positions.
type PartyBalancesResult struct {
	AsOfDate  *time.Time
	Debtors   []canonical.PartyBalance
	Creditors []canonical.PartyBalance
}

// AgingResult carries receivable/payable aging buckets.
type AgingResult struct {
	AsOfDate       *time.Time
	DebtorsAging   []canonical.AgingEntry
	CreditorsAging []canonical.AgingEntry
}

// =============================================================================
// SOURCE ADAPTER - the capability contract
// =============================================================================

// SourceAdapter converts raw payloads from one source system into the
// canonical model. Implementations must be stateless and safe for
// concurrent use; the same adapter instance serves all tenants.
type SourceAdapter interface {
	// Source identifies the system this adapter understands.
	Source() canonical.SourceSystem

	// NormalizeChartOfAccounts extracts groups, ledgers and balance sets.
	NormalizeChartOfAccounts(raw []byte) (*ChartResult, error)

	// NormalizeMonthlyBalances extracts per-month balance blocks.
	NormalizeMonthlyBalances(raw []byte) (*MonthlyBalancesResult, error)

	// NormalizePartyBalances extracts debtor/creditor outstanding balances.
	NormalizePartyBalances(raw []byte) (*PartyBalancesResult, error)

	// NormalizeAging extracts receivable/payable aging buckets.
	NormalizeAging(raw []byte) (*AgingResult, error)

	// SourceMetadata returns best-effort provenance. Never fails.
	SourceMetadata(raw []byte) Metadata
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps source systems to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[canonical.SourceSystem]SourceAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[canonical.SourceSystem]SourceAdapter)}
}

// Register installs an adapter, replacing any previous one for the source.
func (r *Registry) Register(a SourceAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Source()] = a
}

// Get resolves the adapter for a source system.
func (r *Registry) Get(source canonical.SourceSystem) (SourceAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[source]
	if !ok {
		return nil, canonical.ErrUnknownSource
	}
	return a, nil
}

// Sources lists registered source systems, sorted.
func (r *Registry) Sources() []canonical.SourceSystem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]canonical.SourceSystem, 0, len(r.adapters))
	for s := range r.adapters {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
