/*
Package snapshot derives monthly summaries and current rollups.

PURPOSE:
  Consumes the classified LedgerMonthlyBalance rows written by the
  normalize stage and produces:
    - one TrialBalanceSummary row per (company, month), upserted
    - the "current" cash/debtor/creditor/loan tables, replaced wholesale

DETERMINISM:
  RebuildMonth is a pure function of the month's rows plus the previous
  month's summary. Recomputing over the same inputs produces an identical
  summary row, so downstream consumers can trust the tables without
  re-deriving them.

SIGN CONVENTION:
  Source exports carry credit balances as negative amounts. Liability,
  equity and revenue totals are negated to positive magnitudes; asset and
  expense totals stay debit-positive. Loan ledgers fold into
  totalLiabilities (and feed the CurrentLoan table as positive
  outstanding amounts). A negative revenue or expense total after
  normalization has no legitimate reading, so it aborts the run as a
  SnapshotInconsistency.

SEE ALSO:
  - health.go: the read-only coverage/health reporter
  - ingest/: calls RebuildMonth once per normalized month, in order
*/
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finlens/ledger-engine/canonical"
)

// Store is the persistence surface the engine needs, implemented by
// store/sqlite.
type Store interface {
	MonthlyBalances(ctx context.Context, companyID canonical.CompanyID, month canonical.MonthKey) ([]canonical.LedgerMonthlyBalance, error)
	UpsertSummary(ctx context.Context, s canonical.TrialBalanceSummary) error
	GetSummary(ctx context.Context, companyID canonical.CompanyID, month canonical.MonthKey) (*canonical.TrialBalanceSummary, error)
	LatestSummary(ctx context.Context, companyID canonical.CompanyID) (*canonical.TrialBalanceSummary, error)
	ReplaceCurrents(ctx context.Context, companyID canonical.CompanyID, kind canonical.CurrentKind, rows []canonical.CurrentBalance) error
	CurrentBalances(ctx context.Context, companyID canonical.CompanyID, kind canonical.CurrentKind) ([]canonical.CurrentBalance, error)
}

// Engine computes the derived tables.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// =============================================================================
// MONTHLY SUMMARY
// =============================================================================

// RebuildMonth recomputes the summary row for (company, month) from that
// month's LedgerMonthlyBalance rows and upserts it. netCashflow is the
// cash delta against the previous month's summary (zero base when there is
// no previous month).
func (e *Engine) RebuildMonth(ctx context.Context, companyID canonical.CompanyID, month canonical.MonthKey) (*canonical.TrialBalanceSummary, error) {
	rows, err := e.store.MonthlyBalances(ctx, companyID, month)
	if err != nil {
		return nil, fmt.Errorf("failed to load monthly balances: %w", err)
	}

	var cash, assets, liabilities, equity, revenue, expenses decimal.Decimal
	for _, r := range rows {
		switch r.CFOCategory {
		case canonical.TypeCash, canonical.TypeBank:
			cash = cash.Add(r.Balance)
		case canonical.TypeAsset:
			assets = assets.Add(r.Balance)
		case canonical.TypeLiability, canonical.TypeLoan:
			liabilities = liabilities.Add(r.Balance.Neg())
		case canonical.TypeEquity:
			equity = equity.Add(r.Balance.Neg())
		case canonical.TypeRevenue:
			revenue = revenue.Add(r.Balance.Neg())
		case canonical.TypeExpense:
			expenses = expenses.Add(r.Balance)
		}
		// Unclassified rows contribute to no bucket; coverage reporting
		// makes them visible instead.
	}

	if revenue.IsNegative() {
		return nil, &canonical.SnapshotInconsistencyError{
			CompanyID: companyID, Month: month, Check: "negative totalRevenue", Value: revenue,
		}
	}
	if expenses.IsNegative() {
		return nil, &canonical.SnapshotInconsistencyError{
			CompanyID: companyID, Month: month, Check: "negative totalExpenses", Value: expenses,
		}
	}

	prevCash := decimal.Zero
	if prev, err := e.store.GetSummary(ctx, companyID, month.Prev()); err != nil {
		return nil, err
	} else if prev != nil {
		prevCash = prev.CashAndBank
	}

	summary := canonical.TrialBalanceSummary{
		CompanyID:        companyID,
		Month:            month,
		CashAndBank:      cash,
		TotalAssets:      assets,
		TotalLiabilities: liabilities,
		TotalEquity:      equity,
		TotalRevenue:     revenue,
		TotalExpenses:    expenses,
		NetProfit:        revenue.Sub(expenses),
		NetCashflow:      cash.Sub(prevCash),
	}

	if err := e.store.UpsertSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("failed to upsert summary: %w", err)
	}
	return &summary, nil
}

// =============================================================================
// CURRENT ROLLUPS
// =============================================================================

// CurrentSnapshot is the freshest per-kind state extracted from a sync.
// A nil slice means the payload carried no data for that kind and the
// stored rows are left alone; a non-nil empty slice explicitly clears it.
type CurrentSnapshot struct {
	AsOfDate  *time.Time
	Cash      []canonical.CurrentBalance
	Debtors   []canonical.PartyBalance
	Creditors []canonical.PartyBalance
	Loans     []canonical.CurrentBalance
}

// ReplaceCurrents replaces each present kind wholesale. Row-by-row merging
// would leave stale rows behind when a party disappears from the source,
// so the whole kind goes in one shot.
func (e *Engine) ReplaceCurrents(ctx context.Context, companyID canonical.CompanyID, snap CurrentSnapshot) (int, error) {
	replaced := 0

	if snap.Cash != nil {
		if err := e.store.ReplaceCurrents(ctx, companyID, canonical.CurrentCash, snap.Cash); err != nil {
			return replaced, err
		}
		replaced += len(snap.Cash)
	}
	if snap.Loans != nil {
		if err := e.store.ReplaceCurrents(ctx, companyID, canonical.CurrentLoan, snap.Loans); err != nil {
			return replaced, err
		}
		replaced += len(snap.Loans)
	}
	if snap.Debtors != nil {
		rows := partyRows(companyID, canonical.CurrentDebtor, snap.Debtors, snap.AsOfDate)
		if err := e.store.ReplaceCurrents(ctx, companyID, canonical.CurrentDebtor, rows); err != nil {
			return replaced, err
		}
		replaced += len(rows)
	}
	if snap.Creditors != nil {
		rows := partyRows(companyID, canonical.CurrentCreditor, snap.Creditors, snap.AsOfDate)
		if err := e.store.ReplaceCurrents(ctx, companyID, canonical.CurrentCreditor, rows); err != nil {
			return replaced, err
		}
		replaced += len(rows)
	}

	return replaced, nil
}

func partyRows(companyID canonical.CompanyID, kind canonical.CurrentKind, parties []canonical.PartyBalance, asOf *time.Time) []canonical.CurrentBalance {
	rows := make([]canonical.CurrentBalance, 0, len(parties))
	for _, p := range parties {
		rows = append(rows, canonical.CurrentBalance{
			CompanyID: companyID,
			Kind:      kind,
			Name:      p.Name,
			Balance:   p.Balance,
			AsOfDate:  asOf,
		})
	}
	return rows
}

// CurrentRowsFromMonth extracts the cash and loan current rows from a
// month's classified balances. Loan amounts are flipped to positive
// outstanding values.
func CurrentRowsFromMonth(companyID canonical.CompanyID, rows []canonical.LedgerMonthlyBalance) (cash, loans []canonical.CurrentBalance) {
	cash = []canonical.CurrentBalance{}
	loans = []canonical.CurrentBalance{}
	for _, r := range rows {
		switch r.CFOCategory {
		case canonical.TypeCash, canonical.TypeBank:
			cash = append(cash, canonical.CurrentBalance{
				CompanyID: companyID, Kind: canonical.CurrentCash,
				Name: r.LedgerName, Balance: r.Balance, AsOfDate: r.AsOfDate,
			})
		case canonical.TypeLoan:
			loans = append(loans, canonical.CurrentBalance{
				CompanyID: companyID, Kind: canonical.CurrentLoan,
				Name: r.LedgerName, Balance: r.Balance.Neg(), AsOfDate: r.AsOfDate,
			})
		}
	}
	return cash, loans
}
