package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fitment-triage/internal/audit"
	"github.com/sells-group/fitment-triage/internal/metrics"
	"github.com/sells-group/fitment-triage/internal/model"
	"github.com/sells-group/fitment-triage/internal/resilience"
	"github.com/sells-group/fitment-triage/internal/templates"
)

func testOpsEnv(t *testing.T) *opsEnv {
	t.Helper()
	st, err := audit.NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	br := resilience.NewBreakers(resilience.BreakerConfig{OnChange: m.BreakerChanged})
	br.Get("graph")
	br.Get("llm")

	return &opsEnv{
		Registry:  reg,
		Metrics:   m,
		Breakers:  br,
		Templates: templates.NewDefaultRegistry(),
		Audit:     st,
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter_Health(t *testing.T) {
	rec := get(t, newRouter(testOpsEnv(t)), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_Metrics(t *testing.T) {
	env := testOpsEnv(t)
	env.Metrics.PollError("fitments@x")

	rec := get(t, newRouter(env), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fitments@x")
}

func TestRouter_Templates(t *testing.T) {
	rec := get(t, newRouter(testOpsEnv(t)), "/templates")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []templates.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, len(templates.Builtin()))
	assert.NotContains(t, rec.Body.String(), "system_prompt")
}

func TestRouter_Breakers(t *testing.T) {
	rec := get(t, newRouter(testOpsEnv(t)), "/breakers")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []resilience.BreakerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "graph", got[0].Name)
	assert.Equal(t, "closed", got[0].State)
}

func TestRouter_AuditRecent(t *testing.T) {
	env := testOpsEnv(t)
	now := time.Now()
	for _, id := range []string{"m1", "m2", "m3"} {
		e, err := audit.NewEntry(model.Email{ID: id, Account: "box"}, nil,
			model.ReconciliationResult{Status: model.ReconcileNoLookup},
			model.ForwardDecision{Forwarded: true}, now, now.Add(time.Second))
		require.NoError(t, err)
		require.NoError(t, env.Audit.Record(context.Background(), e))
		now = now.Add(time.Minute)
	}

	rec := get(t, newRouter(env), "/audit/recent?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []audit.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "m3", got[0].MessageID)
}

func TestRouter_AuditRecentBadLimit(t *testing.T) {
	rec := get(t, newRouter(testOpsEnv(t)), "/audit/recent?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	h := newRouter(testOpsEnv(t))
	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "https://ops.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
