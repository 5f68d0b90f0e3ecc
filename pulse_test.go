package pulse_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/steveyegge/pulse"
	"github.com/steveyegge/pulse/internal/snapshot"
)

func TestReadSnapshotMissing(t *testing.T) {
	_, err := pulse.ReadSnapshot(filepath.Join(t.TempDir(), "snapshot.json"))
	if !errors.Is(err, pulse.ErrNotFound) {
		t.Errorf("ReadSnapshot() error = %v, want ErrNotFound", err)
	}
}

func TestFreshnessAndRecompute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	at := time.Now().Add(-10 * time.Minute).UTC()
	if err := snapshot.Write(path, &snapshot.Snapshot{RunID: "r", Status: pulse.StatusComplete, ExtractedAt: at}); err != nil {
		t.Fatal(err)
	}

	rep, err := pulse.Freshness(path, time.Hour)
	if err != nil {
		t.Fatalf("Freshness() error = %v", err)
	}
	if !rep.Exists || !rep.Fresh {
		t.Errorf("Freshness() = %+v, want fresh", rep)
	}

	snap, err := pulse.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	if snap.RunID != "r" || !snap.ExtractedAt.Equal(at) {
		t.Errorf("ReadSnapshot() = %+v", snap)
	}
	m := pulse.Recompute(snap, pulse.MetricsOptions{}, time.Time{})
	if m.OpenIssues != 0 || m.WindowHours != 24 {
		t.Errorf("Recompute() = %+v", m)
	}
}
