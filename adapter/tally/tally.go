/*
Package tally normalizes Tally connector export payloads.

PURPOSE:
  Parses the JSON document the Tally desktop connector uploads (company
  header, group/ledger masters, per-month closing balances, outstanding
  bills, aging) into canonical shapes.

PAYLOAD SHAPE (abridged):
  {
    "company":  {"name": "...", "guid": "..."},
    "exported_at": "2025-04-02T10:00:00Z",
    "as_of": "2025-03-31",
    "groups":  [{"name": "Current Assets", "parent": "Primary"}],
    "ledgers": [{"guid": "l-1", "name": "Cash", "parent": "Cash-in-Hand",
                 "closing_balance": "1200.50"}],
    "months":  [{"month": "2025-03", "closed": false,
                 "balances": [{"guid": "l-1", "amount": "1200.50"}]}],
    "bills_receivable": [{"party": "Acme", "amount": "5000"}],
    "bills_payable":    [{"party": "Mehta & Co", "amount": "1200"}],
    "aging": {"receivables": [...], "payables": [...]}
  }

AMOUNT CONVENTION:
  Closing balances follow Tally's export convention: debit balances are
  positive, credit balances negative. The snapshot engine sign-normalizes
  per bucket; this package passes amounts through untouched.

ERROR POLICY:
  - Document not a JSON object, or masters structurally broken (ledger
    without guid/name): AdapterFormatError, the run fails.
  - A single month block with a bad key or unparseable amount: that month
    is reported as malformed, the rest of the payload proceeds.
  - Section simply absent: nil result, nil error.
*/
package tally

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finlens/ledger-engine/adapter"
	"github.com/finlens/ledger-engine/canonical"
)

// Adapter implements adapter.SourceAdapter for Tally exports.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Source() canonical.SourceSystem { return canonical.SourceTally }

// =============================================================================
// RAW PAYLOAD SHAPE
// =============================================================================

type payload struct {
	Company         *companyHeader `json:"company"`
	ExportedAt      string         `json:"exported_at"`
	AsOf            string         `json:"as_of"`
	Groups          []rawGroup     `json:"groups"`
	Ledgers         []rawLedger    `json:"ledgers"`
	Months          []rawMonth     `json:"months"`
	BillsReceivable []rawBill      `json:"bills_receivable"`
	BillsPayable    []rawBill      `json:"bills_payable"`
	Aging           *rawAging      `json:"aging"`
}

type companyHeader struct {
	Name string `json:"name"`
	GUID string `json:"guid"`
}

type rawGroup struct {
	Name    string `json:"name"`
	Parent  string `json:"parent"`
	GUID    string `json:"guid"`
	Primary string `json:"primary_group"`
}

type rawLedger struct {
	GUID           string `json:"guid"`
	Name           string `json:"name"`
	Parent         string `json:"parent"`
	ClosingBalance string `json:"closing_balance"`
}

type rawMonth struct {
	Month    string       `json:"month"`
	Closed   bool         `json:"closed"`
	AsOf     string       `json:"as_of"`
	Balances []rawBalance `json:"balances"`
}

type rawBalance struct {
	GUID   string `json:"guid"`
	Amount string `json:"amount"`
}

type rawBill struct {
	Party  string `json:"party"`
	Amount string `json:"amount"`
}

type rawAging struct {
	Receivables []rawAgingRow `json:"receivables"`
	Payables    []rawAgingRow `json:"payables"`
}

type rawAgingRow struct {
	Party   string `json:"party"`
	UpTo30  string `json:"0_30"`
	UpTo60  string `json:"31_60"`
	UpTo90  string `json:"61_90"`
	Above90 string `json:"above_90"`
	Total   string `json:"total"`
}

// parse decodes the export document. Unknown fields are tolerated (the
// connector adds fields across versions); a document that is not a JSON
// object at all is a format error.
func (a *Adapter) parse(raw []byte) (*payload, error) {
	var p payload
	if err := json.Unmarshal(bytes.TrimSpace(raw), &p); err != nil {
		return nil, &canonical.AdapterFormatError{Source: canonical.SourceTally, Reason: err.Error()}
	}
	return &p, nil
}

// =============================================================================
// CHART OF ACCOUNTS
// =============================================================================

func (a *Adapter) NormalizeChartOfAccounts(raw []byte) (*adapter.ChartResult, error) {
	p, err := a.parse(raw)
	if err != nil {
		return nil, err
	}
	if len(p.Groups) == 0 && len(p.Ledgers) == 0 {
		return nil, nil // payload carries no chart data
	}

	result := &adapter.ChartResult{AsOfDate: parseDate(p.AsOf)}
	for _, g := range p.Groups {
		if g.Name == "" {
			return nil, &canonical.AdapterFormatError{Source: canonical.SourceTally, Reason: "group without name"}
		}
		result.Chart.Groups = append(result.Chart.Groups, canonical.Group{
			Name:   g.Name,
			Parent: g.Parent,
			GUID:   g.GUID,
			Type:   g.Primary,
		})
	}
	for _, l := range p.Ledgers {
		if l.GUID == "" || l.Name == "" {
			return nil, &canonical.AdapterFormatError{
				Source: canonical.SourceTally,
				Reason: fmt.Sprintf("ledger missing guid or name (guid=%q name=%q)", l.GUID, l.Name),
			}
		}
		result.Chart.Ledgers = append(result.Chart.Ledgers, canonical.Ledger{
			GUID:      canonical.LedgerGUID(l.GUID),
			Name:      l.Name,
			Parent:    l.Parent,
			GroupName: l.Parent,
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

// =============================================================================
// MONTHLY BALANCES
// =============================================================================

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
				Month:  canonical.MonthKey(m.Month),
				Reason: "invalid month key",
			})
			continue
		}

		block := canonical.MonthBalances{Month: key, AsOfDate: parseDate(m.AsOf)}
		bad := false
		for _, b := range m.Balances {
			amt, err := decimal.NewFromString(b.Amount)
			if err != nil || b.GUID == "" {
				result.Malformed = append(result.Malformed, adapter.MalformedMonth{
					Month:  key,
					Reason: fmt.Sprintf("unusable balance item (guid=%q amount=%q)", b.GUID, b.Amount),
				})
				bad = true
				break
			}
			block.Items = append(block.Items, canonical.BalanceItem{
				LedgerGUID: canonical.LedgerGUID(b.GUID),
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

// =============================================================================
// PARTY BALANCES & AGING
// =============================================================================

func (a *Adapter) NormalizePartyBalances(raw []byte) (*adapter.PartyBalancesResult, error) {
	p, err := a.parse(raw)
	if err != nil {
		return nil, err
	}
	if len(p.BillsReceivable) == 0 && len(p.BillsPayable) == 0 {
		return nil, nil
	}

	result := &adapter.PartyBalancesResult{AsOfDate: parseDate(p.AsOf)}
	result.Debtors, err = parseBills(p.BillsReceivable)
	if err != nil {
		return nil, err
	}
	result.Creditors, err = parseBills(p.BillsPayable)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func parseBills(bills []rawBill) ([]canonical.PartyBalance, error) {
	var out []canonical.PartyBalance
	for _, b := range bills {
		amt, err := decimal.NewFromString(b.Amount)
		if err != nil || b.Party == "" {
			return nil, &canonical.AdapterFormatError{
				Source: canonical.SourceTally,
				Reason: fmt.Sprintf("unusable bill (party=%q amount=%q)", b.Party, b.Amount),
			}
		}
		out = append(out, canonical.PartyBalance{Name: b.Party, Balance: amt})
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

	result := &adapter.AgingResult{AsOfDate: parseDate(p.AsOf)}
	result.DebtorsAging, err = parseAgingRows(p.Aging.Receivables)
	if err != nil {
		return nil, err
	}
	result.CreditorsAging, err = parseAgingRows(p.Aging.Payables)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func parseAgingRows(rows []rawAgingRow) ([]canonical.AgingEntry, error) {
	var out []canonical.AgingEntry
	for _, r := range rows {
		if r.Party == "" {
			return nil, &canonical.AdapterFormatError{Source: canonical.SourceTally, Reason: "aging row without party"}
		}
		entry := canonical.AgingEntry{Name: r.Party}
		fields := []struct {
			raw string
			dst *decimal.Decimal
		}{
			{r.UpTo30, &entry.UpTo30},
			{r.UpTo60, &entry.UpTo60},
			{r.UpTo90, &entry.UpTo90},
			{r.Above90, &entry.Above90},
		}
		for _, f := range fields {
			*f.dst = parseAmountOrZero(f.raw)
		}
		if r.Total != "" {
			entry.Total = parseAmountOrZero(r.Total)
		} else {
			entry.Total = entry.UpTo30.Add(entry.UpTo60).Add(entry.UpTo90).Add(entry.Above90)
		}
		out = append(out, entry)
	}
	return out, nil
}

// =============================================================================
// METADATA
// =============================================================================

// SourceMetadata is best-effort by contract: a broken payload yields an
// empty Metadata, never an error.
func (a *Adapter) SourceMetadata(raw []byte) adapter.Metadata {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return adapter.Metadata{}
	}

	md := adapter.Metadata{
		AsOfDate:    parseDate(p.AsOf),
		GeneratedAt: parseTimestamp(p.ExportedAt),
	}
	if p.Company != nil {
		md.SourceID = p.Company.GUID
		md.SourceName = p.Company.Name
	}
	return md
}

// =============================================================================
// HELPERS
// =============================================================================

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

func parseAmountOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
