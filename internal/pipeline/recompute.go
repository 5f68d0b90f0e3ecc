package pipeline

import (
	"log/slog"
	"time"

	"github.com/steveyegge/pulse/internal/metrics"
	"github.com/steveyegge/pulse/internal/snapshot"
)

// Recompute derives metrics from a stored snapshot's tables. The resolved
// states come from the snapshot's State definitions. A zero now uses the
// snapshot's extraction time, so the result matches the original run.
func Recompute(snap *snapshot.Snapshot, opts metrics.Options, now time.Time, log *slog.Logger) metrics.Snapshot {
	if now.IsZero() {
		now = snap.ExtractedAt
	}
	values, found := snap.CustomFieldDefinitions["State"]
	opts.Now = now
	opts.ResolvedStates = metrics.ResolvedStateSet(values, found, log)
	return metrics.Compute(snap.Issues, snap.Activities, opts, log)
}
