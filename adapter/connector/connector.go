/*
Package connector normalizes already-canonical payloads.

PURPOSE:
  Serves two intake paths with one adapter:
    - manual uploads from the admin surface
    - the connector service that will front Zoho/QuickBooks, which emits
      canonical JSON directly
  The payload mirrors the canonical model one-to-one, so this adapter is
  validation plus decoding - but it still owns the boundary: downstream
  code never touches the raw document.

PAYLOAD SHAPE (abridged):
  {
    "metadata": {"source_id": "...", "source_name": "...", "as_of": "2025-03-31"},
    "chart_of_accounts": {"groups": [...], "ledgers": [...]},
    "months": [{"month": "2025-03", "closed": true, "balances": [...]}],
    "party_balances": {"debtors": [...], "creditors": [...]},
    "aging": {"debtors": [...], "creditors": [...]}
  }
*/
package connector

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finlens/ledger-engine/adapter"
	"github.com/finlens/ledger-engine/canonical"
)

// Adapter implements adapter.SourceAdapter for canonical payloads.
// Source is configurable so the same implementation serves both the
// "manual" and "connector" intake paths.
type Adapter struct {
	source canonical.SourceSystem
}

func New(source canonical.SourceSystem) *Adapter { return &Adapter{source: source} }

func (a *Adapter) Source() canonical.SourceSystem { return a.source }

type payload struct {
	Metadata *rawMetadata `json:"metadata"`
	Chart    *rawChart    `json:"chart_of_accounts"`
	Months   []rawMonth   `json:"months"`
	Parties  *rawParties  `json:"party_balances"`
	Aging    *rawAging    `json:"aging"`
}

type rawMetadata struct {
	SourceID    string `json:"source_id"`
	SourceName  string `json:"source_name"`
	AsOf        string `json:"as_of"`
	GeneratedAt string `json:"generated_at"`
}

type rawChart struct {
	Groups []struct {
		Name   string `json:"name"`
		Parent string `json:"parent"`
		GUID   string `json:"guid"`
		Type   string `json:"type"`
	} `json:"groups"`
	Ledgers []struct {
		GUID      string `json:"guid"`
		Name      string `json:"name"`
		Parent    string `json:"parent"`
		GroupName string `json:"group_name"`
		Type      string `json:"type"`
	} `json:"ledgers"`
}

type rawMonth struct {
	Month    string `json:"month"`
	Closed   bool   `json:"closed"`
	AsOf     string `json:"as_of"`
	Balances []struct {
		LedgerGUID string `json:"ledger_guid"`
		Balance    string `json:"balance"`
	} `json:"balances"`
}

type rawParties struct {
	AsOf      string     `json:"as_of"`
	Debtors   []rawParty `json:"debtors"`
	Creditors []rawParty `json:"creditors"`
}

type rawParty struct {
	Name    string `json:"name"`
	Balance string `json:"balance"`
}

type rawAging struct {
	AsOf      string        `json:"as_of"`
	Debtors   []rawAgingRow `json:"debtors"`
	Creditors []rawAgingRow `json:"creditors"`
}

type rawAgingRow struct {
	Name    string `json:"name"`
	UpTo30  string `json:"up_to_30"`
	UpTo60  string `json:"up_to_60"`
	UpTo90  string `json:"up_to_90"`
	Above90 string `json:"above_90"`
	Total   string `json:"total"`
}

func (a *Adapter) parse(raw []byte) (*payload, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &canonical.AdapterFormatError{Source: a.source, Reason: err.Error()}
	}
	return &p, nil
}

func (a *Adapter) NormalizeChartOfAccounts(raw []byte) (*adapter.ChartResult, error) {
	p, err := a.parse(raw)
	if err != nil {
		return nil, err
	}
	if p.Chart == nil {
		return nil, nil
	}

	result := &adapter.ChartResult{}
	if p.Metadata != nil {
		result.AsOfDate = parseDate(p.Metadata.AsOf)
	}
	for _, g := range p.Chart.Groups {
		if g.Name == "" {
			return nil, &canonical.AdapterFormatError{Source: a.source, Reason: "group without name"}
		}
		result.Chart.Groups = append(result.Chart.Groups, canonical.Group{
			Name: g.Name, Parent: g.Parent, GUID: g.GUID, Type: g.Type,
		})
	}
	for _, l := range p.Chart.Ledgers {
		if l.GUID == "" || l.Name == "" {
			return nil, &canonical.AdapterFormatError{Source: a.source, Reason: "ledger missing guid or name"}
		}
		group := l.GroupName
		if group == "" {
			group = l.Parent
		}
		result.Chart.Ledgers = append(result.Chart.Ledgers, canonical.Ledger{
			GUID:      canonical.LedgerGUID(l.GUID),
			Name:      l.Name,
			Parent:    l.Parent,
			GroupName: group,
			Type:      l.Type,
		})
	}

	mb, err := a.NormalizeMonthlyBalances(raw)
	if err != nil {
		return nil, err
	}
	if mb != nil {
		result.Chart.Balances = canonical.BalanceSet{Current: mb.Current, ClosedMonths: mb.ClosedMonths}
	}
	return result, nil
}

func (a *Adapter) NormalizeMonthlyBalances(raw []byte) (*adapter.MonthlyBalancesResult, error) {
	p, err := a.parse(raw)
	if err != nil {
		return nil, err
	}
	if len(p.Months) == 0 {
		return nil, nil
	}

	result := &adapter.MonthlyBalancesResult{}
	for _, m := range p.Months {
		key, err := canonical.ParseMonthKey(m.Month)
		if err != nil {
			result.Malformed = append(result.Malformed, adapter.MalformedMonth{
				Month: canonical.MonthKey(m.Month), Reason: "invalid month key",
			})
			continue
		}

		block := canonical.MonthBalances{Month: key, AsOfDate: parseDate(m.AsOf)}
		bad := false
		for _, b := range m.Balances {
			amt, err := decimal.NewFromString(b.Balance)
			if err != nil || b.LedgerGUID == "" {
				result.Malformed = append(result.Malformed, adapter.MalformedMonth{
					Month:  key,
					Reason: fmt.Sprintf("unusable balance item (guid=%q balance=%q)", b.LedgerGUID, b.Balance),
				})
				bad = true
				break
			}
			block.Items = append(block.Items, canonical.BalanceItem{
				LedgerGUID: canonical.LedgerGUID(b.LedgerGUID),
				Balance:    amt,
			})
		}
		if bad {
			continue
		}

		if m.Closed {
			result.ClosedMonths = append(result.ClosedMonths, block)
		} else {
			result.Current = &block
		}
	}
	return result, nil
}

func (a *Adapter) NormalizePartyBalances(raw []byte) (*adapter.PartyBalancesResult, error) {
	p, err := a.parse(raw)
	if err != nil {
		return nil, err
	}
	if p.Parties == nil {
		return nil, nil
	}

	result := &adapter.PartyBalancesResult{AsOfDate: parseDate(p.Parties.AsOf)}
	result.Debtors, err = a.parseParties(p.Parties.Debtors)
	if err != nil {
		return nil, err
	}
	result.Creditors, err = a.parseParties(p.Parties.Creditors)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (a *Adapter) parseParties(parties []rawParty) ([]canonical.PartyBalance, error) {
	var out []canonical.PartyBalance
	for _, pb := range parties {
		amt, err := decimal.NewFromString(pb.Balance)
		if err != nil || pb.Name == "" {
			return nil, &canonical.AdapterFormatError{
				Source: a.source,
				Reason: fmt.Sprintf("unusable party balance (name=%q balance=%q)", pb.Name, pb.Balance),
			}
		}
		out = append(out, canonical.PartyBalance{Name: pb.Name, Balance: amt})
	}
	return out, nil
}

func (a *Adapter) NormalizeAging(raw []byte) (*adapter.AgingResult, error) {
	p, err := a.parse(raw)
	if err != nil {
		return nil, err
	}
	if p.Aging == nil {
		return nil, nil
	}

	result := &adapter.AgingResult{AsOfDate: parseDate(p.Aging.AsOf)}
	result.DebtorsAging = a.parseAgingRows(p.Aging.Debtors)
	result.CreditorsAging = a.parseAgingRows(p.Aging.Creditors)
	return result, nil
}

func (a *Adapter) parseAgingRows(rows []rawAgingRow) []canonical.AgingEntry {
	var out []canonical.AgingEntry
	for _, r := range rows {
		if r.Name == "" {
			continue
		}
		entry := canonical.AgingEntry{
			Name:    r.Name,
			UpTo30:  amountOrZero(r.UpTo30),
			UpTo60:  amountOrZero(r.UpTo60),
			UpTo90:  amountOrZero(r.UpTo90),
			Above90: amountOrZero(r.Above90),
		}
		if r.Total != "" {
			entry.Total = amountOrZero(r.Total)
		} else {
			entry.Total = entry.UpTo30.Add(entry.UpTo60).Add(entry.UpTo90).Add(entry.Above90)
		}
		out = append(out, entry)
	}
	return out
}

func (a *Adapter) SourceMetadata(raw []byte) adapter.Metadata {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil || p.Metadata == nil {
		return adapter.Metadata{}
	}
	return adapter.Metadata{
		SourceID:    p.Metadata.SourceID,
		SourceName:  p.Metadata.SourceName,
		AsOfDate:    parseDate(p.Metadata.AsOf),
		GeneratedAt: parseTimestamp(p.Metadata.GeneratedAt),
	}
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func amountOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
