// Package pulse provides a minimal public API for reading pulse snapshots.
//
// Dashboards and report jobs that run in-process can use it instead of
// parsing the artifact themselves. Extraction itself is driven by the
// pulse command.
package pulse

import (
	"log/slog"
	"time"

	"github.com/steveyegge/pulse/internal/metrics"
	"github.com/steveyegge/pulse/internal/pipeline"
	"github.com/steveyegge/pulse/internal/snapshot"
)

// Core snapshot types
type (
	Snapshot        = snapshot.Snapshot
	FreshnessReport = snapshot.FreshnessReport
	Metrics         = metrics.Snapshot
	MetricsOptions  = metrics.Options
)

// Status constants
const (
	StatusComplete = snapshot.StatusComplete
	StatusFailed   = snapshot.StatusFailed
)

// ErrNotFound is returned when no snapshot exists at the path.
var ErrNotFound = snapshot.ErrNotFound

// ReadSnapshot loads the snapshot at path. JSON and YAML are recognized by
// extension.
func ReadSnapshot(path string) (*Snapshot, error) {
	return snapshot.Read(path)
}

// Freshness reports whether the snapshot at path is complete and no older
// than maxAge.
func Freshness(path string, maxAge time.Duration) (FreshnessReport, error) {
	return snapshot.Freshness(path, maxAge, time.Now())
}

// Recompute derives metrics from a snapshot's stored tables. A zero now
// evaluates at the snapshot's extraction time.
func Recompute(snap *Snapshot, opts MetricsOptions, now time.Time) Metrics {
	return pipeline.Recompute(snap, opts, now, slog.New(slog.DiscardHandler))
}
