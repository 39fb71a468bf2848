package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sigfit/domain/core"
	"sigfit/domain/result"
	"sigfit/domain/run"
	"sigfit/internal"
	"sigfit/internal/report"
	"sigfit/ports"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRun(t *testing.T, dir string, id core.RunID, bestFit float64, created time.Time) {
	t.Helper()
	res := &result.FitResult{
		RunID:   id,
		POI:     "ZTT_mu",
		BestFit: bestFit,
		Interval: result.Interval{
			ConfidenceLevel: 0.68,
			Threshold:       0.989,
			Lower:           result.Bound{Value: bestFit - 0.1},
			Upper:           result.Bound{Value: bestFit + 0.12},
		},
		Scan: []result.ScanPoint{
			{POI: 0.9, NLL: 1, Q: 2, Converged: true},
			{POI: 1.0, NLL: 0, Q: 0, Converged: true},
		},
		Status: "BFGS/GradientThreshold",
	}
	s := report.NewSummary(res, "m_vis", core.Hash("f00d"), nil, []float64{10})
	s.CreatedAt = created
	_, err := report.NewReporter(internal.NopLogger()).Write(run.Dir(dir, id), s)
	require.NoError(t, err)
}

func newTestServer(t *testing.T, repo ports.ResultRepository) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	return NewServer(dir, repo, gin.TestMode, internal.NopLogger()), dir
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_ListRunsFromDirectory(t *testing.T) {
	s, dir := newTestServer(t, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writeRun(t, dir, "run-a", 0.95, base)
	writeRun(t, dir, "run-b", 1.05, base.Add(time.Hour))

	rec := get(t, s, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []runSummary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, core.RunID("run-b"), body.Runs[0].RunID)
	assert.Equal(t, "ZTT_mu: 1.050 +0.120 -0.100", body.Runs[0].Label)

	rec = get(t, s, "/api/runs?limit=1")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Runs, 1)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/runs?limit=zero").Code)
}

type stubRepository struct {
	records []ports.FitRunRecord
}

func (r *stubRepository) SaveRun(context.Context, ports.FitRunRecord, *result.FitResult) error {
	return nil
}

func (r *stubRepository) GetRun(_ context.Context, id core.RunID) (*ports.FitRunRecord, error) {
	for _, rec := range r.records {
		if rec.RunID == id {
			return &rec, nil
		}
	}
	return nil, core.ErrNotFound
}

func (r *stubRepository) ListRuns(_ context.Context, limit int) ([]ports.FitRunRecord, error) {
	if limit < len(r.records) {
		return r.records[:limit], nil
	}
	return r.records, nil
}

func TestServer_ListRunsFromLedger(t *testing.T) {
	repo := &stubRepository{records: []ports.FitRunRecord{
		{RunID: "ledger-1", POI: "ZTT_mu", BestFit: 1.01, UpperOpen: true},
	}}
	s, _ := newTestServer(t, repo)

	rec := get(t, s, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"ledger-1"`)
	assert.Contains(t, rec.Body.String(), `"upper_open":true`)
}

func TestServer_GetRunAndScan(t *testing.T) {
	s, dir := newTestServer(t, nil)
	writeRun(t, dir, "run-a", 1.0, time.Now())

	rec := get(t, s, "/api/runs/run-a")
	require.Equal(t, http.StatusOK, rec.Code)
	var sum report.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, core.RunID("run-a"), sum.RunID)
	assert.InDelta(t, 1.0, sum.BestFit, 1e-12)

	rec = get(t, s, "/api/runs/run-a/scan")
	require.Equal(t, http.StatusOK, rec.Code)
	var scan struct {
		Points []result.ScanPoint `json:"points"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scan))
	assert.Len(t, scan.Points, 2)

	rec = get(t, s, "/api/runs/run-a/scan?format=csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "ZTT_mu,nll,q,converged\n"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")

	rec = get(t, s, "/api/runs/run-a/report")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<html")
}

func TestServer_UnknownOrInvalidRun(t *testing.T) {
	s, _ := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/runs/missing").Code)
	assert.Equal(t, http.StatusNotFound, get(t, s, "/api/runs/missing/scan").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/runs/a..b").Code)
}
