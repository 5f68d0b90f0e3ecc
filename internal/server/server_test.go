package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/pulse/internal/metrics"
	"github.com/steveyegge/pulse/internal/snapshot"
)

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, snap *snapshot.Snapshot, opts Options) *httptest.Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	if snap != nil {
		require.NoError(t, snapshot.Write(path, snap))
	}
	opts.SnapshotPath = path
	opts.Now = func() time.Time { return now }
	srv := httptest.NewServer(New(opts).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func complete() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		RunID:       "run-1",
		Status:      snapshot.StatusComplete,
		ExtractedAt: now.Add(-time.Hour),
		Metrics:     &metrics.Snapshot{OpenIssues: 2, Workload: map[string]int{"alice": 1}},
	}
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHealth(t *testing.T) {
	srv := setup(t, nil, Options{})
	resp, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestSnapshotEndpoints(t *testing.T) {
	srv := setup(t, complete(), Options{MaxAge: 2 * time.Hour})

	resp, body := get(t, srv.URL+"/snapshot")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var snap snapshot.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "run-1", snap.RunID)

	resp, body = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var m struct {
		RunID   string           `json:"run_id"`
		Metrics metrics.Snapshot `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, 2, m.Metrics.OpenIssues)

	resp, body = get(t, srv.URL+"/summary")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "- Open: 2")

	resp, body = get(t, srv.URL+"/freshness")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var fr snapshot.FreshnessReport
	require.NoError(t, json.Unmarshal(body, &fr))
	assert.True(t, fr.Fresh)
	assert.Equal(t, time.Hour, fr.Age)
}

func TestMissingSnapshot(t *testing.T) {
	srv := setup(t, nil, Options{})
	for _, path := range []string{"/snapshot", "/metrics", "/summary"} {
		resp, _ := get(t, srv.URL+path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
	resp, _ := get(t, srv.URL+"/freshness")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFailureMarkerIsUnavailable(t *testing.T) {
	srv := setup(t, snapshot.Failed("run-2", now, errors.New("no issues")), Options{MaxAge: time.Hour})

	resp, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "no issues")

	resp, _ = get(t, srv.URL+"/snapshot")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/freshness")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRefresh(t *testing.T) {
	srv := setup(t, nil, Options{})
	resp, err := http.Post(srv.URL+"/refresh", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	release := make(chan struct{})
	var runs atomic.Int32
	srv = setup(t, nil, Options{Refresh: func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}})

	resp, err = http.Post(srv.URL+"/refresh", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/refresh", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(release)
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)
}
