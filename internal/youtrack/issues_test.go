package youtrack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestFetchProjectFallsBackToProjectList(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/api/admin/projects/My Project":
			w.WriteHeader(http.StatusNotFound)
		case "/api/admin/projects":
			w.Write([]byte(`[{"id":"0-1","name":"Other","shortName":"OT"},{"id":"0-5","name":"My Project","shortName":"MP"}]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv, nil)
	c.settings.MaxRetries = 1
	p, err := c.FetchProject(context.Background(), "My Project")
	if err != nil {
		t.Fatalf("FetchProject() error = %v", err)
	}
	if p.ShortName != "MP" {
		t.Errorf("ShortName = %q, want MP", p.ShortName)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestFetchProjectDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"0-5","name":"My Project","shortName":"MP","leader":{"login":"root"}}`))
	}))
	defer srv.Close()

	p, err := newTestClient(srv, nil).FetchProject(context.Background(), "MP")
	if err != nil {
		t.Fatalf("FetchProject() error = %v", err)
	}
	if p.Leader == nil || p.Leader.Login != "root" {
		t.Errorf("Leader = %+v", p.Leader)
	}
}

func TestFindBundle(t *testing.T) {
	resolved := true
	bundles := []Bundle{
		{Name: "Priorities", Values: []BundleValue{{Name: "Critical"}}},
		{Name: " states ", Values: []BundleValue{{Name: "Done", IsResolved: &resolved}}},
	}
	tests := []struct {
		field string
		want  string
		found bool
	}{
		{"State", "Done", true},
		{"priority", "Critical", true},
		{"Type", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		vals, ok := FindBundle(bundles, tt.field)
		if ok != tt.found {
			t.Errorf("FindBundle(%q) found = %v, want %v", tt.field, ok, tt.found)
			continue
		}
		if ok && vals[0].Name != tt.want {
			t.Errorf("FindBundle(%q) = %q, want %q", tt.field, vals[0].Name, tt.want)
		}
	}
}

func TestFetchProjectSprints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/agiles":
			w.Write([]byte(`[
				{"id":"108-1","name":"Team","projects":[{"id":"0-5","shortName":"MP"}]},
				{"id":"108-2","name":"Other","projects":[{"id":"0-9","shortName":"OT"}]}
			]`))
		case "/api/agiles/108-1/sprints":
			w.Write([]byte(`[{"id":"s1","name":"Sprint 1","start":1714521600000,"finish":1715731200000}]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv, nil)
	sprints, err := c.FetchProjectSprints(context.Background(), "MP")
	if err != nil {
		t.Fatalf("FetchProjectSprints() error = %v", err)
	}
	if len(sprints) != 1 || sprints[0].Name != "Sprint 1" {
		t.Errorf("sprints = %+v", sprints)
	}
	if !sprints[0].Start.Valid {
		t.Error("sprint start not decoded")
	}
}
