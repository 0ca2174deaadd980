package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finlens/ledger-engine/adapter"
	"github.com/finlens/ledger-engine/adapter/tally"
	"github.com/finlens/ledger-engine/api"
	"github.com/finlens/ledger-engine/ingest"
	"github.com/finlens/ledger-engine/store/sqlite"
)

const tallyPayload = `{
	"company": {"name": "Mehta Traders", "guid": "co-77"},
	"as_of": "2025-03-31",
	"ledgers": [
		{"guid": "l-1", "name": "Cash", "parent": "Cash-in-Hand"},
		{"guid": "l-2", "name": "Sales Account", "parent": "Sales Accounts"}
	],
	"months": [
		{"month": "2025-03", "closed": false,
		 "balances": [{"guid": "l-1", "amount": "1200.50"}, {"guid": "l-2", "amount": "-5000"}]}
	],
	"bills_receivable": [{"party": "Acme", "amount": "5000"}]
}`

type testServer struct {
	router http.Handler
	store  *sqlite.Store
	pool   *ingest.Pool
}

func newTestServer(t *testing.T) *testServer {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := adapter.NewRegistry()
	registry.Register(tally.New())
	orch := ingest.NewOrchestrator(store, registry)

	pool := ingest.NewPool(1, 8)
	pool.Start()
	t.Cleanup(pool.Stop)

	h := api.NewHandler(store, orch, pool)
	return &testServer{router: api.NewRouter(h), store: store, pool: pool}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

// waitProcessed polls an intake record until it leaves the queue.
func (s *testServer) waitProcessed(t *testing.T, id string) api.IngestionLogDTO {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := s.do(t, http.MethodGet, "/api/ingest/"+id, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		entry := decode[api.IngestionLogDTO](t, rec)
		if entry.Status == "processed" || entry.Status == "failed" {
			return entry
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("intake record never finished processing")
	return api.IngestionLogDTO{}
}

// =============================================================================
// INGESTION
// =============================================================================

func TestIngest_ValidationErrors(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		body api.IngestRequest
	}{
		{"missing company", api.IngestRequest{Source: "tally", Payload: json.RawMessage(`{}`)}},
		{"unknown source", api.IngestRequest{CompanyID: "co-1", Source: "quickbooks", Payload: json.RawMessage(`{}`)}},
		{"missing payload", api.IngestRequest{CompanyID: "co-1", Source: "tally"}},
	}
	for _, tc := range cases {
		rec := s.do(t, http.MethodPost, "/api/ingest", tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
	}
}

func TestIngest_AcceptedAndProcessed(t *testing.T) {
	// GIVEN: a valid export
	// WHEN: submitting it
	// THEN: 202 with an intake id that eventually reads processed with a
	//       run id, and the run itself reads success

	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/ingest", api.IngestRequest{
		CompanyID: "co-1", Source: "tally", Payload: json.RawMessage(tallyPayload),
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	accepted := decode[api.IngestAcceptedDTO](t, rec)
	require.NotEmpty(t, accepted.IngestionID)

	entry := s.waitProcessed(t, accepted.IngestionID)
	assert.Equal(t, "processed", entry.Status)
	require.NotEmpty(t, entry.RunID)

	rec = s.do(t, http.MethodGet, "/api/runs/"+entry.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[api.RunDTO](t, rec)
	assert.Equal(t, "success", run.Status)
	assert.Equal(t, 100, run.Progress)

	rec = s.do(t, http.MethodGet, "/api/runs/"+entry.RunID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]api.EventDTO](t, rec)
	assert.NotEmpty(t, events)
}

func TestIngest_BadPayloadMarksIntakeFailed(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/ingest", api.IngestRequest{
		CompanyID: "co-1", Source: "tally", Payload: json.RawMessage(`"not an export"`),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	accepted := decode[api.IngestAcceptedDTO](t, rec)

	entry := s.waitProcessed(t, accepted.IngestionID)
	assert.Equal(t, "failed", entry.Status)
	assert.NotEmpty(t, entry.ErrorMessage)
}

func TestGetIngestion_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/ingest/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// READ ENDPOINTS
// =============================================================================

func TestGetRun_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSummariesAndCurrents_AfterSync(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/ingest", api.IngestRequest{
		CompanyID: "co-1", Source: "tally", Payload: json.RawMessage(tallyPayload),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	s.waitProcessed(t, decode[api.IngestAcceptedDTO](t, rec).IngestionID)

	rec = s.do(t, http.MethodGet, "/api/companies/co-1/summaries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summaries := decode[[]api.SummaryDTO](t, rec)
	require.Len(t, summaries, 1)
	assert.Equal(t, "2025-03", summaries[0].Month)

	rec = s.do(t, http.MethodGet, "/api/companies/co-1/summaries/2025-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/companies/co-1/summaries/march", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/companies/co-1/currents/cash", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cash := decode[[]api.CurrentBalanceDTO](t, rec)
	require.Len(t, cash, 1)
	assert.Equal(t, "Cash", cash[0].Name)

	rec = s.do(t, http.MethodGet, "/api/companies/co-1/currents/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/companies/co-1/aging/debtor", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/companies/co-1/aging/supplier", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndCoverage(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/ingest", api.IngestRequest{
		CompanyID: "co-1", Source: "tally", Payload: json.RawMessage(tallyPayload),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	s.waitProcessed(t, decode[api.IngestAcceptedDTO](t, rec).IngestionID)

	rec = s.do(t, http.MethodGet, "/api/companies/co-1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[api.HealthDTO](t, rec)
	require.NotNil(t, health.LastSyncRun)
	require.NotNil(t, health.LatestSnapshot)
	require.NotNil(t, health.Coverage)
	assert.Equal(t, 100.0, health.Coverage.ClassifiedPct)

	// Coverage defaults to the latest summarized month.
	rec = s.do(t, http.MethodGet, "/api/companies/co-1/coverage", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cov := decode[api.CoverageDTO](t, rec)
	assert.Equal(t, "2025-03", cov.Month)
	assert.Equal(t, 2, cov.TotalLedgers)

	// A tenant with no summaries has no default month to report on.
	rec = s.do(t, http.MethodGet, "/api/companies/co-ghost/coverage", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestRules_CRUD(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/admin/rules", api.RuleDTO{
		SourceSystem: "tally", MatchField: "ledgerName", MatchValue: "Rent Deposit",
		NormalizedType: "asset", NormalizedBucket: "deposit", Priority: 10, IsActive: true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[api.RuleDTO](t, rec)
	require.NotEmpty(t, created.ID)

	rec = s.do(t, http.MethodGet, "/api/admin/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decode[[]api.RuleDTO](t, rec)
	require.Len(t, rules, 1)

	// Invalid match field is rejected.
	rec = s.do(t, http.MethodPost, "/api/admin/rules", api.RuleDTO{
		SourceSystem: "tally", MatchField: "color", MatchValue: "x", NormalizedType: "asset",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/admin/rules/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/admin/rules", nil)
	rules = decode[[]api.RuleDTO](t, rec)
	assert.Empty(t, rules)
}

func TestDictionary_Replace(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/admin/dictionary", []api.DictEntryDTO{
		{CanonicalType: "expense", CanonicalSubtype: "rent", MatchPattern: "rent", Priority: 10},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/admin/dictionary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]api.DictEntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "rent", entries[0].MatchPattern)

	// Entries without a pattern are rejected wholesale.
	rec = s.do(t, http.MethodPut, "/api/admin/dictionary", []api.DictEntryDTO{
		{CanonicalType: "expense"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReleaseLock_Validation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/admin/locks/release", api.ReleaseLockRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/admin/locks/release", api.ReleaseLockRequest{
		CompanyID: "co-1", Source: "tally", Reason: "stuck worker",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReset(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/ingest", api.IngestRequest{
		CompanyID: "co-1", Source: "tally", Payload: json.RawMessage(tallyPayload),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	s.waitProcessed(t, decode[api.IngestAcceptedDTO](t, rec).IngestionID)

	rec = s.do(t, http.MethodPost, "/api/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/companies/co-1/summaries", nil)
	summaries := decode[[]api.SummaryDTO](t, rec)
	assert.Empty(t, summaries, fmt.Sprintf("summaries survived reset: %+v", summaries))
}
