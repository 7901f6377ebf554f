package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visibility-grader/internal/model"
	"github.com/sells-group/visibility-grader/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return New(s, []string{"https://grader.example"}), s
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestGetScan(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()

	scan, err := s.CreateScan(ctx, model.BusinessInput{BusinessName: "Taco Haven", City: "San Antonio"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/scans/"+scan.ID, nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got model.Scan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, scan.ID, got.ID)
	assert.Equal(t, model.StatusQueued, got.Status)
}

func TestGetScanTerminalPayload(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()

	scan, err := s.CreateScan(ctx, model.BusinessInput{BusinessName: "Taco Haven"})
	require.NoError(t, err)
	require.NoError(t, s.CompleteScan(ctx, scan.ID, store.CompleteScanParams{
		Score:       67,
		Breakdown:   json.RawMessage(`{"gbp":20}`),
		CompletedAt: time.Now().UTC(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/scans/"+scan.ID, nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got model.Scan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.StatusDone, got.Status)
	require.NotNil(t, got.Score)
	assert.Equal(t, 67, *got.Score)
	assert.NotNil(t, got.CompletedAt)
}

func TestGetScanNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/scans/nonexistent", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://grader.example")
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, "https://grader.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
