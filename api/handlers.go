/*
handlers.go - HTTP API handlers for the ingestion engine

PURPOSE:
  Exposes the ingestion engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Ingestion:
    POST   /api/ingest                      Submit a source payload
    GET    /api/ingest/{id}                 Intake record status
    GET    /api/companies/{id}/ingestions   Intake history

  Sync runs:
    GET    /api/runs/{id}                   Run detail
    GET    /api/runs/{id}/events            Run audit log
    GET    /api/companies/{id}/runs         Run history

  Derived data:
    GET    /api/companies/{id}/summaries            Monthly rollups
    GET    /api/companies/{id}/summaries/{month}    One month
    GET    /api/companies/{id}/currents/{kind}      Current tables
    GET    /api/companies/{id}/aging/{partyType}    Latest aging

  Admin:
    GET    /api/companies/{id}/health       Health + coverage report
    GET    /api/companies/{id}/coverage     Coverage for a month
    GET    /api/admin/rules                 List classification rules
    POST   /api/admin/rules                 Create/update a rule
    DELETE /api/admin/rules/{id}            Delete a rule
    GET    /api/admin/dictionary            List dictionary entries
    PUT    /api/admin/dictionary            Replace the dictionary
    POST   /api/admin/locks/release         Force-release a stuck lock
    POST   /api/reset                       Database reset (dev only)

INTAKE FLOW:
  POST /api/ingest pre-checks the idempotency lock so an obvious
  duplicate is rejected with 409 before any work is queued; the
  authoritative check happens again inside the orchestrator under the
  lock row's unique constraint. Accepted payloads are logged and handed
  to the worker pool; the response is 202 with the intake id to poll.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (sync already running)
  - 503: Ingestion queue full
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ingest/: the orchestrator and worker pool behind the intake
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/finlens/ledger-engine/canonical"
	"github.com/finlens/ledger-engine/classify"
	"github.com/finlens/ledger-engine/ingest"
	"github.com/finlens/ledger-engine/snapshot"
	"github.com/finlens/ledger-engine/store/sqlite"
	"github.com/finlens/ledger-engine/syncrun"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        *sqlite.Store
	Orchestrator *ingest.Orchestrator
	Pool         *ingest.Pool
	Health       *snapshot.HealthReporter
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(store *sqlite.Store, orch *ingest.Orchestrator, pool *ingest.Pool) *Handler {
	return &Handler{
		Store:        store,
		Orchestrator: orch,
		Pool:         pool,
		Health:       snapshot.NewHealthReporter(store),
	}
}

// =============================================================================
// INGESTION ENDPOINTS
// =============================================================================

// Ingest accepts a source payload and queues it for processing.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required", nil)
		return
	}
	source := canonical.SourceSystem(req.Source)
	if !canonical.KnownSource(source) {
		writeError(w, http.StatusBadRequest, "Unknown source system", canonical.ErrUnknownSource)
		return
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		writeError(w, http.StatusBadRequest, "payload is required", nil)
		return
	}

	companyID := canonical.CompanyID(req.CompanyID)
	ctx := r.Context()

	// Fast-fail duplicates before queueing. The orchestrator re-checks
	// under the lock row, so a race here is harmless.
	lock, err := h.Store.GetLock(ctx, companyID, syncrun.JobKeySync, string(source))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check sync lock", err)
		return
	}
	if lock != nil && lock.Status == syncrun.LockRunning {
		writeError(w, http.StatusConflict, "A sync is already running for this company and source",
			&canonical.LockConflictError{
				CompanyID: companyID,
				JobKey:    syncrun.JobKeySync,
				ScopeKey:  string(source),
				LockedAt:  lock.LockedAt,
				LastJobID: lock.LastJobID,
			})
		return
	}

	entry := &sqlite.IngestionLog{
		CompanyID:   companyID,
		Source:      source,
		Status:      sqlite.IngestionReceived,
		PayloadHash: ingest.PayloadHash(req.Payload),
		ReceivedAt:  time.Now().UTC(),
	}
	if err := h.Store.CreateIngestionLog(ctx, entry); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record ingestion", err)
		return
	}

	syncReq := ingest.Request{
		CompanyID:         companyID,
		Source:            source,
		ConnectorClientID: req.ConnectorClientID,
		Payload:           req.Payload,
	}
	entryID := entry.ID
	if err := h.Pool.Submit(func() { h.process(entryID, syncReq) }); err != nil {
		entry.Status = sqlite.IngestionFailed
		entry.ErrorMessage = err.Error()
		h.Store.UpdateIngestionLog(context.Background(), entry)
		writeError(w, http.StatusServiceUnavailable, "Ingestion queue is full", err)
		return
	}

	writeJSON(w, http.StatusAccepted, IngestAcceptedDTO{IngestionID: entry.ID, Status: "accepted"})
}

// process runs one queued payload to completion on a pool worker.
func (h *Handler) process(entryID string, req ingest.Request) {
	ctx := context.Background()

	entry, err := h.Store.GetIngestionLog(ctx, entryID)
	if err != nil || entry == nil {
		return
	}
	entry.Status = sqlite.IngestionProcessing
	h.Store.UpdateIngestionLog(ctx, entry)

	res, err := h.Orchestrator.Sync(ctx, req)
	now := time.Now().UTC()
	entry.ProcessedAt = &now
	if res != nil && res.Run != nil {
		entry.RunID = res.Run.ID
	}
	if err != nil {
		entry.Status = sqlite.IngestionFailed
		entry.ErrorMessage = err.Error()
	} else {
		entry.Status = sqlite.IngestionProcessed
	}
	h.Store.UpdateIngestionLog(ctx, entry)
}

// GetIngestion returns one intake record.
func (h *Handler) GetIngestion(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Store.GetIngestionLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get ingestion", err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "Ingestion not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toIngestionLogDTO(entry))
}

// ListIngestions returns a tenant's intake history.
func (h *Handler) ListIngestions(w http.ResponseWriter, r *http.Request) {
	companyID := canonical.CompanyID(chi.URLParam(r, "companyID"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.Store.ListIngestionLogs(r.Context(), companyID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list ingestions", err)
		return
	}
	dtos := make([]IngestionLogDTO, 0, len(entries))
	for i := range entries {
		dtos = append(dtos, toIngestionLogDTO(&entries[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SYNC RUN ENDPOINTS
// =============================================================================

// GetRun returns one run record.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get run", err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "Run not found", canonical.ErrRunNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

// GetRunEvents returns a run's audit log in append order.
func (h *Handler) GetRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.Store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get run", err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "Run not found", canonical.ErrRunNotFound)
		return
	}
	events, err := h.Store.EventsForRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get run events", err)
		return
	}
	dtos := make([]EventDTO, 0, len(events))
	for _, ev := range events {
		dtos = append(dtos, EventDTO{
			Time:    ev.Time.Format(time.RFC3339),
			Level:   string(ev.Level),
			Event:   ev.Event,
			Message: ev.Message,
			Data:    ev.Data,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListRuns returns a tenant's run history, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	companyID := canonical.CompanyID(chi.URLParam(r, "companyID"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := h.Store.ListRuns(r.Context(), companyID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, 0, len(runs))
	for i := range runs {
		dtos = append(dtos, toRunDTO(&runs[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// DERIVED DATA ENDPOINTS
// =============================================================================

// ListSummaries returns a tenant's monthly rollups, oldest first.
func (h *Handler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	companyID := canonical.CompanyID(chi.URLParam(r, "companyID"))
	summaries, err := h.Store.ListSummaries(r.Context(), companyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list summaries", err)
		return
	}
	dtos := make([]SummaryDTO, 0, len(summaries))
	for i := range summaries {
		dtos = append(dtos, toSummaryDTO(&summaries[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSummary returns one month's rollup.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	companyID := canonical.CompanyID(chi.URLParam(r, "companyID"))
	month, err := canonical.ParseMonthKey(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return
	}
	sum, err := h.Store.GetSummary(r.Context(), companyID, month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get summary", err)
		return
	}
	if sum == nil {
		writeError(w, http.StatusNotFound, "Summary not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(sum))
}

// GetCurrents returns one kind's current table.
func (h *Handler) GetCurrents(w http.ResponseWriter, r *http.Request) {
	companyID := canonical.CompanyID(chi.URLParam(r, "companyID"))
	kind := canonical.CurrentKind(chi.URLParam(r, "kind"))
	switch kind {
	case canonical.CurrentCash, canonical.CurrentDebtor, canonical.CurrentCreditor, canonical.CurrentLoan:
	default:
		writeError(w, http.StatusBadRequest, "Unknown current kind", nil)
		return
	}

	rows, err := h.Store.CurrentBalances(r.Context(), companyID, kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get current balances", err)
		return
	}
	dtos := make([]CurrentBalanceDTO, 0, len(rows))
	for _, row := range rows {
		dto := CurrentBalanceDTO{Kind: string(row.Kind), Name: row.Name, Balance: row.Balance}
		if row.AsOfDate != nil {
			dto.AsOfDate = row.AsOfDate.Format("2006-01-02")
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAging returns the latest aging schedule for a party type.
func (h *Handler) GetAging(w http.ResponseWriter, r *http.Request) {
	companyID := canonical.CompanyID(chi.URLParam(r, "companyID"))
	partyType := canonical.PartyType(chi.URLParam(r, "partyType"))
	if partyType != canonical.PartyDebtor && partyType != canonical.PartyCreditor {
		writeError(w, http.StatusBadRequest, "Unknown party type", nil)
		return
	}

	entries, err := h.Store.LatestAging(r.Context(), companyID, partyType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get aging", err)
		return
	}
	dtos := make([]AgingEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, AgingEntryDTO{
			Name: e.Name, UpTo30: e.UpTo30, UpTo60: e.UpTo60,
			UpTo90: e.UpTo90, Above90: e.Above90, Total: e.Total,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HEALTH & COVERAGE ENDPOINTS
// =============================================================================

// GetHealth returns the full health report for a tenant.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	companyID := canonical.CompanyID(chi.URLParam(r, "companyID"))
	report, err := h.Health.Report(r.Context(), companyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build health report", err)
		return
	}
	writeJSON(w, http.StatusOK, toHealthDTO(report))
}

// GetCoverage returns classification coverage for one month (defaults to
// the latest summarized month).
func (h *Handler) GetCoverage(w http.ResponseWriter, r *http.Request) {
	companyID := canonical.CompanyID(chi.URLParam(r, "companyID"))
	topN, _ := strconv.Atoi(r.URL.Query().Get("top"))

	var month canonical.MonthKey
	if raw := r.URL.Query().Get("month"); raw != "" {
		var err error
		month, err = canonical.ParseMonthKey(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
			return
		}
	} else {
		latest, err := h.Store.LatestSummary(r.Context(), companyID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to resolve latest month", err)
			return
		}
		if latest == nil {
			writeError(w, http.StatusNotFound, "No summarized months for this company", nil)
			return
		}
		month = latest.Month
	}

	cov, err := h.Health.CoverageFor(r.Context(), companyID, month, topN)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute coverage", err)
		return
	}
	writeJSON(w, http.StatusOK, toCoverageDTO(cov))
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// ListRules returns all classification rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Store.ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}
	dtos := make([]RuleDTO, 0, len(rules))
	for _, rule := range rules {
		dtos = append(dtos, toRuleDTO(rule))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveRule creates or updates one classification rule.
func (h *Handler) SaveRule(w http.ResponseWriter, r *http.Request) {
	var req RuleDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !canonical.KnownSource(canonical.SourceSystem(req.SourceSystem)) {
		writeError(w, http.StatusBadRequest, "Unknown source system", canonical.ErrUnknownSource)
		return
	}
	field := classify.MatchField(req.MatchField)
	if field != classify.FieldLedgerName && field != classify.FieldGroupName {
		writeError(w, http.StatusBadRequest, "match_field must be ledgerName or groupName", nil)
		return
	}
	if req.MatchValue == "" || req.NormalizedType == "" {
		writeError(w, http.StatusBadRequest, "match_value and normalized_type are required", nil)
		return
	}

	rule := classify.Rule{
		ID:               req.ID,
		SourceSystem:     canonical.SourceSystem(req.SourceSystem),
		MatchField:       field,
		MatchValue:       req.MatchValue,
		NormalizedType:   canonical.CanonicalType(req.NormalizedType),
		NormalizedBucket: req.NormalizedBucket,
		Priority:         req.Priority,
		IsActive:         req.IsActive,
	}
	if err := h.Store.SaveRule(r.Context(), &rule); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rule", err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(rule))
}

// DeleteRule removes one classification rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDictionary returns the account-head dictionary.
func (h *Handler) ListDictionary(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.ListDictionary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list dictionary", err)
		return
	}
	dtos := make([]DictEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, DictEntryDTO{
			CanonicalType:    string(e.CanonicalType),
			CanonicalSubtype: e.CanonicalSubtype,
			MatchPattern:     e.MatchPattern,
			IsRegex:          e.IsRegex,
			Priority:         e.Priority,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReplaceDictionary swaps the whole account-head dictionary.
func (h *Handler) ReplaceDictionary(w http.ResponseWriter, r *http.Request) {
	var req []DictEntryDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	entries := make([]classify.DictEntry, 0, len(req))
	for _, d := range req {
		if d.MatchPattern == "" || d.CanonicalType == "" {
			writeError(w, http.StatusBadRequest, "match_pattern and canonical_type are required", nil)
			return
		}
		entries = append(entries, classify.DictEntry{
			CanonicalType:    canonical.CanonicalType(d.CanonicalType),
			CanonicalSubtype: d.CanonicalSubtype,
			MatchPattern:     d.MatchPattern,
			IsRegex:          d.IsRegex,
			Priority:         d.Priority,
		})
	}
	if err := h.Store.ReplaceDictionary(r.Context(), entries); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to replace dictionary", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"entries": len(entries)})
}

// ReleaseLock force-finishes a stuck sync lock. Operator recovery only.
func (h *Handler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	var req ReleaseLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CompanyID == "" || req.Source == "" {
		writeError(w, http.StatusBadRequest, "company_id and source are required", nil)
		return
	}
	err := h.Orchestrator.Locks().AdminRelease(r.Context(),
		canonical.CompanyID(req.CompanyID), syncrun.JobKeySync, req.Source, req.Reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to release lock", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// ResetDatabase clears all data (dev only).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// DTO MAPPING & RESPONSE HELPERS
// =============================================================================

func toIngestionLogDTO(e *sqlite.IngestionLog) IngestionLogDTO {
	dto := IngestionLogDTO{
		ID:           e.ID,
		CompanyID:    string(e.CompanyID),
		Source:       string(e.Source),
		Status:       e.Status,
		ErrorMessage: e.ErrorMessage,
		PayloadHash:  e.PayloadHash,
		RunID:        e.RunID,
		ReceivedAt:   e.ReceivedAt.Format(time.RFC3339),
	}
	if e.ProcessedAt != nil {
		dto.ProcessedAt = e.ProcessedAt.Format(time.RFC3339)
	}
	return dto
}

func toRunDTO(run *syncrun.Run) RunDTO {
	dto := RunDTO{
		ID:                run.ID,
		CompanyID:         string(run.CompanyID),
		IntegrationType:   string(run.IntegrationType),
		ConnectorClientID: run.ConnectorClientID,
		Status:            string(run.Status),
		Stage:             string(run.Stage),
		Progress:          run.Progress,
		StartedAt:         run.StartedAt.Format(time.RFC3339),
		LastError:         run.LastError,
		Stats:             run.Stats,
	}
	if run.FinishedAt != nil {
		dto.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return dto
}

func toSummaryDTO(s *canonical.TrialBalanceSummary) SummaryDTO {
	return SummaryDTO{
		CompanyID:        string(s.CompanyID),
		Month:            string(s.Month),
		CashAndBank:      s.CashAndBank,
		TotalAssets:      s.TotalAssets,
		TotalLiabilities: s.TotalLiabilities,
		TotalEquity:      s.TotalEquity,
		TotalRevenue:     s.TotalRevenue,
		TotalExpenses:    s.TotalExpenses,
		NetProfit:        s.NetProfit,
		NetCashflow:      s.NetCashflow,
	}
}

func toCoverageDTO(cov *snapshot.Coverage) CoverageDTO {
	dto := CoverageDTO{
		Month:               string(cov.Month),
		TotalLedgers:        cov.TotalLedgers,
		ClassifiedLedgers:   cov.ClassifiedLedgers,
		UnclassifiedLedgers: cov.UnclassifiedLedgers,
		ClassifiedPct:       cov.ClassifiedPct,
		TopUnclassified:     []UnclassifiedLedgerDTO{},
	}
	for _, g := range cov.TopUnclassified {
		dto.TopUnclassified = append(dto.TopUnclassified, UnclassifiedLedgerDTO{
			LedgerGUID: string(g.LedgerGUID),
			LedgerName: g.LedgerName,
			Balance:    g.Balance,
		})
	}
	return dto
}

func toLockDTO(lock syncrun.Lock) LockDTO {
	dto := LockDTO{
		CompanyID: string(lock.CompanyID),
		JobKey:    lock.JobKey,
		ScopeKey:  lock.ScopeKey,
		Status:    string(lock.Status),
		LockedAt:  lock.LockedAt.Format(time.RFC3339),
		LastJobID: lock.LastJobID,
		LastError: lock.LastError,
	}
	if lock.CompletedAt != nil {
		dto.CompletedAt = lock.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

func toHealthDTO(report *snapshot.Report) HealthDTO {
	dto := HealthDTO{
		Currents: CurrentTotalsDTO{
			CashTotal:      report.Currents.CashTotal,
			DebtorsTotal:   report.Currents.DebtorsTotal,
			CreditorsTotal: report.Currents.CreditorsTotal,
			LoansTotal:     report.Currents.LoansTotal,
		},
		InterestLatest: report.InterestLatest,
	}
	if report.LastSyncRun != nil {
		run := toRunDTO(report.LastSyncRun)
		dto.LastSyncRun = &run
	}
	if report.LatestSnapshot != nil {
		sum := toSummaryDTO(report.LatestSnapshot)
		dto.LatestSnapshot = &sum
	}
	if report.Coverage != nil {
		cov := toCoverageDTO(report.Coverage)
		dto.Coverage = &cov
	}
	for _, m := range report.MissingMonths {
		dto.MissingMonths = append(dto.MissingMonths, string(m))
	}
	for _, lock := range report.StaleLocks {
		dto.StaleLocks = append(dto.StaleLocks, toLockDTO(lock))
	}
	return dto
}

func toRuleDTO(rule classify.Rule) RuleDTO {
	return RuleDTO{
		ID:               rule.ID,
		SourceSystem:     string(rule.SourceSystem),
		MatchField:       string(rule.MatchField),
		MatchValue:       rule.MatchValue,
		NormalizedType:   string(rule.NormalizedType),
		NormalizedBucket: rule.NormalizedBucket,
		Priority:         rule.Priority,
		IsActive:         rule.IsActive,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
