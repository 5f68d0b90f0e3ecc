package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/steveyegge/pulse/internal/metrics"
	"github.com/steveyegge/pulse/internal/snapshot"
)

// resetFlags restores every flag to its default so commands can run
// repeatedly in one process.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// isolate runs the test in a temp dir with a clean environment and
// returns the dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, kv := range os.Environ() {
		k, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, "PULSE_") || strings.HasPrefix(k, "YOUTRACK_") || k == "ANTHROPIC_API_KEY" {
			t.Setenv(k, "")
			os.Unsetenv(k)
		}
	}
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("HOME", dir)
	t.Setenv("NO_COLOR", "1")
	t.Setenv("PULSE_NO_EMOJI", "1")
	t.Setenv("PULSE_NO_PAGER", "1")
	t.Setenv("PULSE_OUTPUT_DIR", filepath.Join(dir, "data"))
	return dir
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeSnapshot(t *testing.T, dir string, s *snapshot.Snapshot) string {
	t.Helper()
	path := filepath.Join(dir, "data", "snapshot.json")
	if err := snapshot.Write(path, s); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeYouTrack serves one project with two issues. Paged endpoints return
// everything on the first page.
func fakeYouTrack(t *testing.T, issuesStatus int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	now := time.Now()
	ms := func(d time.Duration) int64 { return now.Add(-d).UnixMilli() }
	issues := fmt.Sprintf(`[
	  {"id":"2-1","idReadable":"PAY-1","summary":"login broken","created":%d,"updated":%d,
	   "customFields":[
	     {"name":"State","$type":"StateIssueCustomField","value":{"name":"Open"}},
	     {"name":"Assignee","$type":"SingleUserIssueCustomField","value":{"login":"alice"}}]},
	  {"id":"2-2","idReadable":"PAY-2","summary":"refund flow","created":%d,"updated":%d,"resolved":%d,
	   "customFields":[
	     {"name":"State","$type":"StateIssueCustomField","value":{"name":"Fixed"}}]}
	]`, ms(3*time.Hour), ms(3*time.Hour), ms(10*24*time.Hour), ms(5*time.Hour), ms(5*time.Hour))

	var issueCalls atomic.Int32
	mux := http.NewServeMux()
	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if skip := r.URL.Query().Get("$skip"); skip != "" && skip != "0" {
				fmt.Fprint(w, "[]")
				return
			}
			fmt.Fprint(w, body)
		}
	}
	mux.HandleFunc("/api/admin/projects/PAY", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"0-7","name":"Payments","shortName":"PAY"}`)
	})
	mux.HandleFunc("/api/admin/projects", page(`[{"id":"0-7","name":"Payments","shortName":"PAY"},{"id":"0-8","name":"Ledger","shortName":"LED"}]`))
	mux.HandleFunc("/api/issues", func(w http.ResponseWriter, r *http.Request) {
		issueCalls.Add(1)
		if issuesStatus != http.StatusOK {
			w.WriteHeader(issuesStatus)
			return
		}
		page(issues)(w, r)
	})
	mux.HandleFunc("/api/issues/2-2/activities", page(fmt.Sprintf(`[
	  {"id":"act-1","timestamp":%d,"category":{"id":"CustomFieldCategory"},"field":{"name":"State"},
	   "added":[{"name":"Fixed"}],"removed":[{"name":"Open"}]}]`, ms(5*time.Hour))))
	mux.HandleFunc("/api/issues/", page(`[]`))
	mux.HandleFunc("/api/admin/customFieldSettings/bundles", page(`[
	  {"id":"b1","name":"States","$type":"StateBundle","values":[
	    {"name":"Open","isResolved":false},{"name":"Fixed","isResolved":true}]}]`))
	mux.HandleFunc("/api/agiles", page(`[]`))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &issueCalls
}

func remoteEnv(t *testing.T, url string) {
	t.Helper()
	t.Setenv("PULSE_YOUTRACK_BASE_URL", url)
	t.Setenv("PULSE_YOUTRACK_TOKEN", "test-token")
	t.Setenv("PULSE_YOUTRACK_PROJECT_ID", "PAY")
	t.Setenv("PULSE_YOUTRACK_RETRY_DELAY", "1ms")
}

func TestVersion(t *testing.T) {
	isolate(t)
	out, _, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "pulse version "+Version) {
		t.Errorf("version output = %q", out)
	}

	out, _, err = runCLI(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("version --json output not JSON: %v\n%s", err, out)
	}
	if got["version"] != Version {
		t.Errorf("version = %q, want %q", got["version"], Version)
	}
}

func TestExtractEndToEnd(t *testing.T) {
	dir := isolate(t)
	srv, _ := fakeYouTrack(t, http.StatusOK)
	remoteEnv(t, srv.URL)

	out, stderr, err := runCLI(t, "extract")
	if err != nil {
		t.Fatalf("extract: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(out, "Payments") || !strings.Contains(out, "2-2") {
		t.Errorf("extract output missing project or resolved issue:\n%s", out)
	}

	snap, err := snapshot.Read(filepath.Join(dir, "data", "snapshot.json"))
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if !snap.OK() || len(snap.Issues) != 2 {
		t.Fatalf("snapshot status=%s issues=%d", snap.Status, len(snap.Issues))
	}
	if snap.Metrics.OpenIssues != 1 || snap.Metrics.Last24h.Resolved != 1 {
		t.Errorf("metrics open=%d resolved24h=%d, want 1 and 1", snap.Metrics.OpenIssues, snap.Metrics.Last24h.Resolved)
	}
	if snap.Metrics.Workload["alice"] != 1 {
		t.Errorf("workload = %v", snap.Metrics.Workload)
	}
}

func TestExtractYAMLAndSince(t *testing.T) {
	dir := isolate(t)
	srv, _ := fakeYouTrack(t, http.StatusOK)
	remoteEnv(t, srv.URL)

	out, _, err := runCLI(t, "extract", "--format", "yaml", "--since", "3d", "--json")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	var res extractResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("extract --json output: %v\n%s", err, out)
	}
	want := filepath.Join(dir, "data", "snapshot.yaml")
	if res.Path != want || res.Issues != 2 {
		t.Errorf("result = %+v, want path %s and 2 issues", res, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("yaml snapshot not written: %v", err)
	}

	if _, _, err := runCLI(t, "extract", "--since", "next tuesday"); err == nil {
		t.Error("extract --since in the future succeeded")
	}
	if _, _, err := runCLI(t, "extract", "--format", "xml"); err == nil {
		t.Error("extract --format xml succeeded")
	}
}

func TestExtractFailureWritesMarker(t *testing.T) {
	dir := isolate(t)
	srv, calls := fakeYouTrack(t, http.StatusBadGateway)
	remoteEnv(t, srv.URL)
	t.Setenv("PULSE_EXTRACT_REDUCED_FALLBACK", "false")

	_, _, err := runCLI(t, "extract")
	if err == nil {
		t.Fatal("extract succeeded against a failing server")
	}
	if code := errorCode(err); code != "retries_exhausted" {
		t.Errorf("errorCode = %q, want retries_exhausted (err: %v)", code, err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("issue requests = %d, want 3 attempts", got)
	}
	snap, err := snapshot.Read(filepath.Join(dir, "data", "snapshot.json"))
	if err != nil {
		t.Fatalf("failure marker not written: %v", err)
	}
	if snap.OK() {
		t.Error("snapshot after failed extract is not a failure marker")
	}
}

func TestExtractRequiresConnection(t *testing.T) {
	isolate(t)
	_, _, err := runCLI(t, "extract")
	if err == nil || !strings.Contains(err.Error(), "youtrack.") {
		t.Errorf("extract without config error = %v, want a config key in the message", err)
	}
}

func TestProjects(t *testing.T) {
	isolate(t)
	srv, _ := fakeYouTrack(t, http.StatusOK)
	remoteEnv(t, srv.URL)

	out, _, err := runCLI(t, "projects")
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	if strings.Index(out, "LED") > strings.Index(out, "PAY") {
		t.Errorf("projects not sorted:\n%s", out)
	}
	if !strings.Contains(out, "Payments") || !strings.Contains(out, "(0-8)") {
		t.Errorf("projects output:\n%s", out)
	}
}

func completeSnapshot(at time.Time) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		RunID:       "run-cli",
		Status:      snapshot.StatusComplete,
		ExtractedAt: at,
		Project:     &snapshot.ProjectInfo{ID: "0-7", Name: "Payments", ShortName: "PAY"},
		Metrics:     &metrics.Snapshot{WindowHours: 24, StaleDays: 30, OpenIssues: 4, Workload: map[string]int{"alice": 4}},
	}
}

func TestStatus(t *testing.T) {
	dir := isolate(t)

	out, _, err := runCLI(t, "status")
	if err != nil {
		t.Fatalf("status without snapshot: %v", err)
	}
	if !strings.Contains(out, "no snapshot at") {
		t.Errorf("status output = %q", out)
	}
	if _, _, err := runCLI(t, "status", "--check"); err != errStale {
		t.Errorf("status --check on missing snapshot = %v, want errStale", err)
	}

	writeSnapshot(t, dir, completeSnapshot(time.Now().Add(-time.Hour)))
	out, _, err = runCLI(t, "status", "--check", "--max-age", "2h")
	if err != nil {
		t.Fatalf("status --check on fresh snapshot: %v", err)
	}
	if !strings.Contains(out, "fresh:") {
		t.Errorf("status output = %q", out)
	}
	if _, _, err := runCLI(t, "status", "--check", "--max-age", "30m"); err != errStale {
		t.Errorf("status --check on old snapshot = %v, want errStale", err)
	}
}

func TestShowAndMetrics(t *testing.T) {
	dir := isolate(t)
	writeSnapshot(t, dir, completeSnapshot(time.Now().Add(-time.Hour)))

	out, _, err := runCLI(t, "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "Payments") || !strings.Contains(out, "alice") {
		t.Errorf("show output:\n%s", out)
	}

	// the stored snapshot has no issue tables, so recomputed metrics are empty
	out, _, err = runCLI(t, "metrics", "--json")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	var m metrics.Snapshot
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("metrics --json: %v\n%s", err, out)
	}
	if m.OpenIssues != 0 || m.WindowHours != 24 {
		t.Errorf("recomputed metrics = %+v", m)
	}

	writeSnapshot(t, dir, snapshot.Failed("run-bad", time.Now(), fmt.Errorf("no issues retrieved")))
	if _, _, err := runCLI(t, "metrics"); err == nil || !strings.Contains(err.Error(), "failure marker") {
		t.Errorf("metrics on failure marker = %v", err)
	}
}

func TestNarrateOffline(t *testing.T) {
	dir := isolate(t)
	writeSnapshot(t, dir, completeSnapshot(time.Now()))

	out, _, err := runCLI(t, "narrate", "--offline")
	if err != nil {
		t.Fatalf("narrate --offline: %v", err)
	}
	if !strings.Contains(out, "Project pulse: Payments (PAY)") {
		t.Errorf("narrate output:\n%s", out)
	}
	if _, _, err := runCLI(t, "narrate"); errorCode(err) != "api_key_required" {
		t.Errorf("narrate without key = %v", err)
	}
}

func TestInitNonInteractive(t *testing.T) {
	dir := isolate(t)

	out, _, err := runCLI(t, "init", "--yes", "--base-url", "https://example.youtrack.cloud", "--project", "PAY", "--cron", "@daily")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "PULSE_YOUTRACK_TOKEN") {
		t.Errorf("init did not mention the token variable:\n%s", out)
	}
	data, err := os.ReadFile(filepath.Join(dir, "pulse.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"base_url: https://example.youtrack.cloud", "project_id: PAY", "@daily"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("pulse.yaml missing %q:\n%s", want, data)
		}
	}

	if _, _, err := runCLI(t, "init", "--yes", "--base-url", "https://x.test", "--project", "PAY"); err == nil {
		t.Error("init overwrote an existing config without --force")
	}
	if _, _, err := runCLI(t, "init", "--yes", "--base-url", "not a url", "--project", "PAY", "--force"); err == nil {
		t.Error("init accepted an invalid URL")
	}

	// the written file is picked up by the next command
	t.Setenv("PULSE_YOUTRACK_TOKEN", "tok")
	if _, _, err := runCLI(t, "status"); err != nil {
		t.Errorf("status with written config: %v", err)
	}
}

func TestWithFormat(t *testing.T) {
	tests := []struct {
		path, format, want string
	}{
		{"data/snapshot.json", "yaml", "data/snapshot.yaml"},
		{"data/snapshot.json", "json", "data/snapshot.json"},
		{"data/snapshot.yml", "yaml", "data/snapshot.yml"},
		{"data/snapshot.yaml", "JSON", "data/snapshot.json"},
	}
	for _, tt := range tests {
		got, err := withFormat(tt.path, tt.format)
		if err != nil || got != tt.want {
			t.Errorf("withFormat(%q, %q) = %q, %v; want %q", tt.path, tt.format, got, err, tt.want)
		}
	}
}
