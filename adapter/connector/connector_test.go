package connector

import (
	"errors"
	"testing"

	"github.com/finlens/ledger-engine/canonical"
)

const samplePayload = `{
	"metadata": {"source_id": "zoho-9", "source_name": "Mehta Traders", "as_of": "2025-03-31"},
	"chart_of_accounts": {
		"groups": [{"name": "Current Assets", "parent": "Primary"}],
		"ledgers": [{"guid": "l-1", "name": "Cash", "parent": "Current Assets"}]
	},
	"months": [
		{"month": "2025-03", "closed": false,
		 "balances": [{"ledger_guid": "l-1", "balance": "750.25"}]}
	],
	"party_balances": {
		"as_of": "2025-03-31",
		"debtors": [{"name": "Acme", "balance": "5000"}],
		"creditors": []
	},
	"aging": {
		"debtors": [{"name": "Acme", "up_to_30": "5000"}]
	}
}`

func TestAdapter_SourceIsConfigurable(t *testing.T) {
	// One implementation serves both intake paths.
	if got := New(canonical.SourceConnector).Source(); got != canonical.SourceConnector {
		t.Errorf("expected connector, got %s", got)
	}
	if got := New(canonical.SourceManual).Source(); got != canonical.SourceManual {
		t.Errorf("expected manual, got %s", got)
	}
}

func TestNormalize_CanonicalPassthrough(t *testing.T) {
	a := New(canonical.SourceConnector)

	chart, err := a.NormalizeChartOfAccounts([]byte(samplePayload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chart.Chart.Ledgers) != 1 || chart.Chart.Ledgers[0].GUID != "l-1" {
		t.Errorf("ledgers not decoded: %+v", chart.Chart.Ledgers)
	}
	// A ledger without group_name inherits its parent as the group.
	if chart.Chart.Ledgers[0].GroupName != "Current Assets" {
		t.Errorf("expected parent as group, got %q", chart.Chart.Ledgers[0].GroupName)
	}

	months, err := a.NormalizeMonthlyBalances([]byte(samplePayload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if months.Current == nil || months.Current.Items[0].Balance.String() != "750.25" {
		t.Errorf("month balances not decoded: %+v", months.Current)
	}

	parties, err := a.NormalizePartyBalances([]byte(samplePayload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parties.Debtors) != 1 || len(parties.Creditors) != 0 {
		t.Errorf("parties not decoded: %+v", parties)
	}

	md := a.SourceMetadata([]byte(samplePayload))
	if md.SourceID != "zoho-9" || md.AsOfDate == nil {
		t.Errorf("metadata not decoded: %+v", md)
	}
}

func TestNormalize_AbsentSectionsReturnNil(t *testing.T) {
	a := New(canonical.SourceManual)
	raw := []byte(`{"metadata": {"source_name": "Empty"}}`)

	if res, err := a.NormalizeChartOfAccounts(raw); err != nil || res != nil {
		t.Errorf("chart: expected nil/nil, got %v/%v", res, err)
	}
	if res, err := a.NormalizeAging(raw); err != nil || res != nil {
		t.Errorf("aging: expected nil/nil, got %v/%v", res, err)
	}
}

func TestNormalize_BrokenPayloadIsFormatError(t *testing.T) {
	a := New(canonical.SourceConnector)
	_, err := a.NormalizeMonthlyBalances([]byte("[not an object"))
	if !errors.Is(err, canonical.ErrAdapterFormat) {
		t.Fatalf("expected ErrAdapterFormat, got %v", err)
	}

	var fmtErr *canonical.AdapterFormatError
	if !errors.As(err, &fmtErr) || fmtErr.Source != canonical.SourceConnector {
		t.Errorf("format error should carry the configured source: %v", err)
	}
}
