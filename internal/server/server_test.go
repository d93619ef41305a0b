package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/coordinator"
	"github.com/sells-group/diligence-cli/internal/enrich"
	"github.com/sells-group/diligence-cli/internal/extract"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/resilience"
	"github.com/sells-group/diligence-cli/internal/risk"
	"github.com/sells-group/diligence-cli/internal/source"
	"github.com/sells-group/diligence-cli/internal/store"
)

type stubExtractor struct {
	result *extract.Result
	gate   chan struct{}
}

func (s *stubExtractor) Extract(ctx context.Context, text string) (*extract.Result, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, nil
}

type stubAdapter struct {
	name    string
	payload *model.SourcePayload
}

func (s *stubAdapter) Name() string                    { return s.name }
func (s *stubAdapter) AppliesTo(model.EntityType) bool { return true }
func (s *stubAdapter) Discovers() bool                 { return false }

func (s *stubAdapter) Fetch(context.Context, model.Entity) (*model.SourcePayload, error) {
	if s.payload == nil {
		return &model.SourcePayload{}, nil
	}
	return s.payload, nil
}

func newTestServer(t *testing.T, extractor extract.Extractor, adapters ...source.Adapter) (*httptest.Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	reg := source.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	coord := coordinator.New(coordinator.Options{
		Store:     st,
		Extractor: extractor,
		Enrich: enrich.Options{
			Registry: reg,
			Retry:    resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond},
		},
		Policy:    risk.DefaultPolicy(),
		Budget:    5 * time.Second,
		Retention: time.Hour,
	})

	srv := httptest.NewServer(New(coord, st, 5*time.Second).Router())
	t.Cleanup(srv.Close)
	return srv, st
}

func sanctionedOrg(name string) (*stubExtractor, *stubAdapter) {
	extractor := &stubExtractor{result: &extract.Result{
		Organizations: []extract.Organization{{Name: name, Role: "originator"}},
	}}
	screening := &stubAdapter{
		name: "screening",
		payload: &model.SourcePayload{Findings: []model.Finding{
			{Signal: model.SignalSanctions, Detail: "sanctions hit"},
		}},
	}
	return extractor, screening
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &stubExtractor{result: &extract.Result{}})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestSubmitSyncReturnsAssessment(t *testing.T) {
	extractor, screening := sanctionedOrg("Sberbank")
	srv, _ := newTestServer(t, extractor, screening)

	resp := postJSON(t, srv.URL+"/api/transactions?wait=true",
		`{"text":"wire transfer to Sberbank"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assessment := decodeBody[model.RiskAssessment](t, resp)
	assert.Equal(t, 0.90, assessment.Score)
	assert.Equal(t, 1.0, assessment.Confidence)
	assert.NotEmpty(t, assessment.TransactionID)
}

func TestSubmitAsyncIsAccepted(t *testing.T) {
	extractor, screening := sanctionedOrg("Sberbank")
	srv, _ := newTestServer(t, extractor, screening)

	resp := postJSON(t, srv.URL+"/api/transactions", `{"text":"wire transfer"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody[map[string]string](t, resp)
	assert.True(t, strings.HasPrefix(body["transaction_id"], "txn_"))
	assert.NotEmpty(t, body["status"])
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, &stubExtractor{result: &extract.Result{}})

	t.Run("malformed body", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/transactions", `{"text":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("empty text", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/transactions", `{"text":""}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestSyncWaitTimeoutFallsBackToAccepted(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	extractor := &stubExtractor{result: &extract.Result{}, gate: gate}

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	coord := coordinator.New(coordinator.Options{
		Store:     st,
		Extractor: extractor,
		Enrich:    enrich.Options{Registry: source.NewRegistry()},
		Policy:    risk.DefaultPolicy(),
		Budget:    5 * time.Second,
		Retention: time.Hour,
	})
	srv := httptest.NewServer(New(coord, st, 50*time.Millisecond).Router())
	t.Cleanup(srv.Close)

	resp := postJSON(t, srv.URL+"/api/transactions?wait=true", `{"text":"stalled"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	view := decodeBody[model.StatusView](t, resp)
	assert.NotEmpty(t, view.TransactionID)
	assert.NotEqual(t, model.StatusCompleted, view.Status)
}

func TestGetTransactionStatus(t *testing.T) {
	extractor, screening := sanctionedOrg("Sberbank")
	srv, _ := newTestServer(t, extractor, screening)

	resp := postJSON(t, srv.URL+"/api/transactions?wait=true", `{"text":"wire transfer"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assessment := decodeBody[model.RiskAssessment](t, resp)

	statusResp, err := http.Get(srv.URL + "/api/transactions/" + assessment.TransactionID)
	require.NoError(t, err)
	defer statusResp.Body.Close()
	require.Equal(t, http.StatusOK, statusResp.StatusCode)

	view := decodeBody[model.StatusView](t, statusResp)
	assert.Equal(t, model.StatusCompleted, view.Status)
	require.NotEmpty(t, view.Tasks)
	assert.Equal(t, "screening", view.Tasks[0].Source)
}

func TestGetTransactionStatusNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &stubExtractor{result: &extract.Result{}})

	resp, err := http.Get(srv.URL + "/api/transactions/txn_missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetResult(t *testing.T) {
	extractor, screening := sanctionedOrg("Sberbank")
	srv, _ := newTestServer(t, extractor, screening)

	resp := postJSON(t, srv.URL+"/api/transactions?wait=true", `{"text":"wire transfer"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assessment := decodeBody[model.RiskAssessment](t, resp)

	resultResp, err := http.Get(srv.URL + "/api/transactions/" + assessment.TransactionID + "/result")
	require.NoError(t, err)
	defer resultResp.Body.Close()
	require.Equal(t, http.StatusOK, resultResp.StatusCode)

	got := decodeBody[model.RiskAssessment](t, resultResp)
	assert.Equal(t, assessment.Score, got.Score)
}

func TestGetResultNotReady(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	extractor := &stubExtractor{result: &extract.Result{}, gate: gate}
	srv, _ := newTestServer(t, extractor)

	resp := postJSON(t, srv.URL+"/api/transactions", `{"text":"stalled"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)

	resultResp, err := http.Get(srv.URL + "/api/transactions/" + body["transaction_id"] + "/result")
	require.NoError(t, err)
	defer resultResp.Body.Close()
	assert.Equal(t, http.StatusConflict, resultResp.StatusCode)
}

func TestGetResultNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &stubExtractor{result: &extract.Result{}})

	resp, err := http.Get(srv.URL + "/api/transactions/txn_missing/result")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListTransactions(t *testing.T) {
	extractor, screening := sanctionedOrg("Sberbank")
	srv, _ := newTestServer(t, extractor, screening)

	resp := postJSON(t, srv.URL+"/api/transactions?wait=true", `{"text":"wire transfer"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listResp, err := http.Get(srv.URL + "/api/transactions")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	body := decodeBody[map[string][]model.Transaction](t, listResp)
	require.Len(t, body["transactions"], 1)
	assert.Equal(t, model.StatusCompleted, body["transactions"][0].Status)
}

func TestNetworkGraph(t *testing.T) {
	srv, st := newTestServer(t, &stubExtractor{result: &extract.Result{}})

	txn, err := st.CreateTransaction(context.Background(), "acme wire")
	require.NoError(t, err)
	require.NoError(t, st.PutEntity(context.Background(), txn.ID, model.Entity{
		Key: "org:acme", Name: "Acme", Type: model.EntityOrganization,
	}))
	require.NoError(t, st.PutEntity(context.Background(), txn.ID, model.Entity{
		Key: "person:jane doe", Name: "Jane Doe", Type: model.EntityPerson, Depth: 1,
	}))
	require.NoError(t, st.PutRelationship(context.Background(), model.Relationship{
		TransactionID: txn.ID, ParentKey: "org:acme", ChildKey: "person:jane doe",
		Relation: "officer",
	}))

	resp, err := http.Get(srv.URL + "/api/transactions/" + txn.ID + "/network")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[struct {
		Nodes []networkNode `json:"nodes"`
		Links []networkLink `json:"links"`
	}](t, resp)
	require.Len(t, body.Nodes, 2)
	require.Len(t, body.Links, 1)
	assert.Equal(t, "org:acme", body.Links[0].Source)
	assert.Equal(t, "person:jane doe", body.Links[0].Target)
	assert.Equal(t, "officer", body.Links[0].Relation)
}

func TestNetworkGraphNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &stubExtractor{result: &extract.Result{}})

	resp, err := http.Get(srv.URL + "/api/transactions/txn_missing/network")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDashboardStats(t *testing.T) {
	srv, st := newTestServer(t, &stubExtractor{result: &extract.Result{}})

	for _, score := range []float64{0.9, 0.5, 0.1} {
		txn, err := st.CreateTransaction(context.Background(), "seed")
		require.NoError(t, err)
		require.NoError(t, st.PutAssessment(context.Background(), &model.RiskAssessment{
			TransactionID: txn.ID, Score: score, Timestamp: time.Now(),
		}))
	}

	resp, err := http.Get(srv.URL + "/api/dashboard/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats := decodeBody[dashboardStats](t, resp)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.High)
	assert.Equal(t, 1, stats.Medium)
	assert.Equal(t, 1, stats.Low)
	assert.Len(t, stats.Recent, 3)
}
