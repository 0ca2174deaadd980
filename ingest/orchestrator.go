/*
Package ingest executes sync runs end to end.

PURPOSE:
  The orchestrator owns the whole ingestion path for one payload: acquire
  the idempotency lock, create the run, drive it through its stages
  against the source adapter, classify, persist, snapshot, and finish
  with the right status. The HTTP intake hands payloads to a bounded
  worker pool (pool.go) which calls Sync.

STAGES:
  connect    resolve the adapter for the source system
  discover   read best-effort payload metadata
  fetch      normalize every payload section through the adapter
  upload     upsert chart-of-accounts masters
  normalize  classify and overwrite per-month balance rows
  snapshot   rebuild monthly summaries + replace current tables
  done       success, or partial when months were skipped

FAILURE POLICY:
  A structurally bad payload (AdapterFormatError) or a snapshot
  inconsistency fails the run and releases the lock as failed. A month
  that cannot be normalized is skipped, reported in missingMonths, and
  the run finishes partial. Unclassified ledgers are never an error.

SEE ALSO:
  - syncrun/: run state machine and lock manager
  - snapshot/: summary and current-table derivation
  - pool.go: the bounded worker pool the API submits to
*/
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/finlens/ledger-engine/adapter"
	"github.com/finlens/ledger-engine/canonical"
	"github.com/finlens/ledger-engine/classify"
	"github.com/finlens/ledger-engine/snapshot"
	"github.com/finlens/ledger-engine/store/sqlite"
	"github.com/finlens/ledger-engine/syncrun"
)

// maxGroupDepth caps parent-chain walks so a cyclic chart cannot spin.
const maxGroupDepth = 16

// Request is one payload to ingest.
type Request struct {
	CompanyID         canonical.CompanyID
	Source            canonical.SourceSystem
	ConnectorClientID string
	Payload           []byte
}

// Result is the outcome of Sync.
type Result struct {
	Run *syncrun.Run

	// AlreadyProcessed is set when the identical payload was ingested
	// before; Run is the run that did the original work.
	AlreadyProcessed bool
}

// Orchestrator drives sync runs.
type Orchestrator struct {
	store     *sqlite.Store
	adapters  *adapter.Registry
	locks     *syncrun.LockManager
	snapshots *snapshot.Engine
}

func NewOrchestrator(store *sqlite.Store, adapters *adapter.Registry) *Orchestrator {
	return &Orchestrator{
		store:     store,
		adapters:  adapters,
		locks:     syncrun.NewLockManager(store),
		snapshots: snapshot.NewEngine(store),
	}
}

// Locks exposes the lock manager for the intake pre-check and admin
// release.
func (o *Orchestrator) Locks() *syncrun.LockManager { return o.locks }

// PayloadHash is the idempotency hash for a raw payload.
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Sync ingests one payload. Returns a LockConflictError when a sync for
// the same tenant+integration is already running.
func (o *Orchestrator) Sync(ctx context.Context, req Request) (*Result, error) {
	if !canonical.KnownSource(req.Source) {
		return nil, canonical.ErrUnknownSource
	}

	hash := PayloadHash(req.Payload)
	acq, err := o.locks.Acquire(ctx, req.CompanyID, syncrun.JobKeySync, string(req.Source), hash)
	if err != nil {
		return nil, err
	}
	if acq.AlreadyProcessed {
		prior, err := o.store.GetRun(ctx, acq.Lock.LastJobID)
		if err != nil {
			return nil, err
		}
		return &Result{Run: prior, AlreadyProcessed: true}, nil
	}

	run := syncrun.NewRun(req.CompanyID, req.Source, req.ConnectorClientID)
	tracker, err := syncrun.Start(ctx, o.store, run)
	if err != nil {
		o.locks.Release(ctx, acq.Lock, syncrun.LockFailed, "", err.Error())
		return nil, err
	}

	if err := o.execute(ctx, tracker, req); err != nil {
		tracker.Fail(ctx, err)
		o.locks.Release(ctx, acq.Lock, syncrun.LockFailed, run.ID, err.Error())
		return &Result{Run: run}, err
	}

	if err := o.locks.Release(ctx, acq.Lock, syncrun.LockCompleted, run.ID, ""); err != nil {
		return &Result{Run: run}, err
	}
	return &Result{Run: run}, nil
}

// execute drives the stages. Any returned error fails the run.
func (o *Orchestrator) execute(ctx context.Context, tracker *syncrun.Tracker, req Request) error {
	run := tracker.Run()

	// ----- connect -----
	if err := tracker.Advance(ctx, syncrun.StageConnect); err != nil {
		return err
	}
	src, err := o.adapters.Get(req.Source)
	if err != nil {
		return err
	}

	// ----- discover -----
	if err := tracker.Advance(ctx, syncrun.StageDiscover); err != nil {
		return err
	}
	meta := src.SourceMetadata(req.Payload)
	if meta.SourceName != "" {
		tracker.Eventf(ctx, syncrun.LevelInfo, syncrun.EventStageStarted,
			"discovered source %q", meta.SourceName)
	}

	// ----- fetch -----
	if err := tracker.Advance(ctx, syncrun.StageFetch); err != nil {
		return err
	}
	chartRes, err := src.NormalizeChartOfAccounts(req.Payload)
	if err != nil {
		return err
	}
	monthlyRes, err := src.NormalizeMonthlyBalances(req.Payload)
	if err != nil {
		return err
	}
	partyRes, err := src.NormalizePartyBalances(req.Payload)
	if err != nil {
		return err
	}
	agingRes, err := src.NormalizeAging(req.Payload)
	if err != nil {
		return err
	}

	if chartRes == nil && monthlyRes == nil && partyRes == nil && agingRes == nil {
		tracker.Event(ctx, syncrun.LevelWarn, syncrun.EventNoData,
			"payload carried no usable sections", nil)
		return tracker.Complete(ctx, nil)
	}

	// ----- upload -----
	if err := tracker.Advance(ctx, syncrun.StageUpload); err != nil {
		return err
	}
	if chartRes != nil {
		if err := o.store.UpsertGroups(ctx, req.CompanyID, req.Source, chartRes.Chart.Groups); err != nil {
			return fmt.Errorf("failed to upsert groups: %w", err)
		}
		if err := o.store.UpsertLedgers(ctx, req.CompanyID, req.Source, chartRes.Chart.Ledgers); err != nil {
			return fmt.Errorf("failed to upsert ledgers: %w", err)
		}
		run.Stats.GroupsUpserted = len(chartRes.Chart.Groups)
		run.Stats.LedgersUpserted = len(chartRes.Chart.Ledgers)
	}

	// ----- normalize -----
	if err := tracker.Advance(ctx, syncrun.StageNormalize); err != nil {
		return err
	}
	missing, currentMonth, err := o.normalize(ctx, tracker, req, chartRes, monthlyRes)
	if err != nil {
		return err
	}

	asOf := partyAsOf(partyRes, meta)
	if partyRes != nil {
		if partyRes.Debtors != nil {
			if err := o.store.ReplacePartyBalances(ctx, req.CompanyID, canonical.PartyDebtor, asOf, partyRes.Debtors); err != nil {
				return fmt.Errorf("failed to replace debtor balances: %w", err)
			}
		}
		if partyRes.Creditors != nil {
			if err := o.store.ReplacePartyBalances(ctx, req.CompanyID, canonical.PartyCreditor, asOf, partyRes.Creditors); err != nil {
				return fmt.Errorf("failed to replace creditor balances: %w", err)
			}
		}
	}
	if agingRes != nil {
		agingAsOf := asOf
		if agingRes.AsOfDate != nil {
			agingAsOf = *agingRes.AsOfDate
		}
		if agingRes.DebtorsAging != nil {
			if err := o.store.ReplaceAging(ctx, req.CompanyID, canonical.PartyDebtor, agingAsOf, agingRes.DebtorsAging); err != nil {
				return fmt.Errorf("failed to replace receivables aging: %w", err)
			}
		}
		if agingRes.CreditorsAging != nil {
			if err := o.store.ReplaceAging(ctx, req.CompanyID, canonical.PartyCreditor, agingAsOf, agingRes.CreditorsAging); err != nil {
				return fmt.Errorf("failed to replace payables aging: %w", err)
			}
		}
	}

	// ----- snapshot -----
	if err := tracker.Advance(ctx, syncrun.StageSnapshot); err != nil {
		return err
	}
	if err := o.rebuildSnapshots(ctx, req, partyRes, currentMonth, &run.Stats); err != nil {
		return err
	}

	return tracker.Complete(ctx, missing)
}

// normalize classifies and writes the per-month balance rows. It returns
// the months that could not be normalized and the most recent month that
// was, for the current-table rebuild.
func (o *Orchestrator) normalize(ctx context.Context, tracker *syncrun.Tracker, req Request, chartRes *adapter.ChartResult, monthlyRes *adapter.MonthlyBalancesResult) ([]canonical.MonthKey, canonical.MonthKey, error) {
	run := tracker.Run()

	engine, err := o.buildClassifier(ctx, req.Source)
	if err != nil {
		return nil, "", err
	}

	ledgers, err := o.store.Ledgers(ctx, req.CompanyID, req.Source)
	if err != nil {
		return nil, "", err
	}
	index := make(map[canonical.LedgerGUID]canonical.Ledger, len(ledgers))
	for _, l := range ledgers {
		index[l.GUID] = l
	}
	parents, err := o.store.GroupParents(ctx, req.CompanyID, req.Source)
	if err != nil {
		return nil, "", err
	}

	months, malformed := collectMonths(chartRes, monthlyRes)
	var missing []canonical.MonthKey
	for _, m := range malformed {
		missing = append(missing, m.Month)
		run.Stats.MonthsSkipped++
		tracker.Event(ctx, syncrun.LevelWarn, syncrun.EventMonthSkipped, m.Reason,
			&syncrun.EventData{Month: m.Month, Detail: m.Reason})
	}

	var currentMonth canonical.MonthKey
	for i, mb := range months {
		rows, unknown := o.buildRows(req.CompanyID, mb, index, parents, engine)
		if unknown > 0 {
			tracker.Eventf(ctx, syncrun.LevelWarn, syncrun.EventMonthSkipped,
				"month %s: %d balance item(s) reference unknown ledgers", mb.Month, unknown)
		}
		if len(rows) == 0 {
			missing = append(missing, mb.Month)
			run.Stats.MonthsSkipped++
			tracker.Event(ctx, syncrun.LevelWarn, syncrun.EventMonthSkipped,
				"no usable balance items", &syncrun.EventData{Month: mb.Month})
			continue
		}

		if err := o.store.ReplaceMonthlyBalances(ctx, req.CompanyID, mb.Month, rows); err != nil {
			return nil, "", fmt.Errorf("failed to replace balances for %s: %w", mb.Month, err)
		}
		run.Stats.MonthsNormalized++
		run.Stats.RowsWritten += len(rows)
		for _, r := range rows {
			if canonical.Unclassified(r.CFOCategory) {
				run.Stats.Unclassified++
			} else {
				run.Stats.Classified++
			}
		}
		if mb.Month > currentMonth {
			currentMonth = mb.Month
		}
		tracker.SetProgress(ctx, 50+30*(i+1)/len(months))
	}

	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing, currentMonth, nil
}

// buildRows classifies one month's balance items against the known chart.
func (o *Orchestrator) buildRows(companyID canonical.CompanyID, mb canonical.MonthBalances, index map[canonical.LedgerGUID]canonical.Ledger, parents map[string]string, engine *classify.Engine) ([]canonical.LedgerMonthlyBalance, int) {
	var rows []canonical.LedgerMonthlyBalance
	unknown := 0
	for _, item := range mb.Items {
		ledger, ok := index[item.LedgerGUID]
		if !ok {
			unknown++
			continue
		}
		path := groupPath(ledger, parents)
		cls := engine.Classify(ledger.Name, path)
		rows = append(rows, canonical.LedgerMonthlyBalance{
			CompanyID:   companyID,
			Month:       mb.Month,
			LedgerGUID:  ledger.GUID,
			LedgerName:  ledger.Name,
			ParentGroup: ledger.Parent,
			CFOCategory: cls.Type,
			CFOSubtype:  cls.Subtype,
			Balance:     item.Balance,
			AsOfDate:    mb.AsOfDate,
		})
	}
	return rows, unknown
}

// rebuildSnapshots recomputes summaries oldest-first and replaces the
// current tables from the freshest data in this sync.
func (o *Orchestrator) rebuildSnapshots(ctx context.Context, req Request, partyRes *adapter.PartyBalancesResult, currentMonth canonical.MonthKey, stats *syncrun.RunStats) error {
	months, err := o.store.MonthsWithBalances(ctx, req.CompanyID)
	if err != nil {
		return err
	}
	for _, m := range months {
		if _, err := o.snapshots.RebuildMonth(ctx, req.CompanyID, m); err != nil {
			return err
		}
	}

	snap := snapshot.CurrentSnapshot{}
	if partyRes != nil {
		snap.AsOfDate = partyRes.AsOfDate
		snap.Debtors = partyRes.Debtors
		snap.Creditors = partyRes.Creditors
	}
	if currentMonth != "" {
		rows, err := o.store.MonthlyBalances(ctx, req.CompanyID, currentMonth)
		if err != nil {
			return err
		}
		snap.Cash, snap.Loans = snapshot.CurrentRowsFromMonth(req.CompanyID, rows)
	}
	replaced, err := o.snapshots.ReplaceCurrents(ctx, req.CompanyID, snap)
	if err != nil {
		return err
	}
	stats.PartiesReplaced = replaced
	return nil
}

// buildClassifier assembles a fresh engine from the stored rule set and
// dictionary, falling back to the seed dictionary when none is stored.
func (o *Orchestrator) buildClassifier(ctx context.Context, source canonical.SourceSystem) (*classify.Engine, error) {
	rules, err := o.store.ActiveRules(ctx, source)
	if err != nil {
		return nil, err
	}
	dict, err := o.store.ListDictionary(ctx)
	if err != nil {
		return nil, err
	}
	if len(dict) == 0 {
		dict = classify.DefaultDictionary()
	}
	return classify.NewEngine(source, rules, dict), nil
}

// collectMonths merges the month blocks from both payload sections,
// preferring the dedicated monthly section, sorted oldest first.
func collectMonths(chartRes *adapter.ChartResult, monthlyRes *adapter.MonthlyBalancesResult) ([]canonical.MonthBalances, []adapter.MalformedMonth) {
	var months []canonical.MonthBalances
	var malformed []adapter.MalformedMonth

	switch {
	case monthlyRes != nil:
		months = append(months, monthlyRes.ClosedMonths...)
		if monthlyRes.Current != nil {
			months = append(months, *monthlyRes.Current)
		}
		malformed = monthlyRes.Malformed
	case chartRes != nil:
		months = append(months, chartRes.Chart.Balances.ClosedMonths...)
		if chartRes.Chart.Balances.Current != nil {
			months = append(months, *chartRes.Chart.Balances.Current)
		}
	}

	sort.Slice(months, func(i, j int) bool { return months[i].Month < months[j].Month })
	return months, malformed
}

// groupPath builds the ":"-separated parent chain for a ledger, child
// group first, walking the group tree toward the root.
func groupPath(ledger canonical.Ledger, parents map[string]string) string {
	start := ledger.Parent
	if start == "" {
		start = ledger.GroupName
	}
	path := ""
	seen := 0
	for g := start; g != "" && seen < maxGroupDepth; g = parents[g] {
		if path != "" {
			path += ":"
		}
		path += g
		seen++
	}
	return path
}

func partyAsOf(partyRes *adapter.PartyBalancesResult, meta adapter.Metadata) time.Time {
	if partyRes != nil && partyRes.AsOfDate != nil {
		return *partyRes.AsOfDate
	}
	if meta.AsOfDate != nil {
		return *meta.AsOfDate
	}
	return time.Now().UTC()
}
