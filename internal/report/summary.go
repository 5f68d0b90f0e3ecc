package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/pulse/internal/snapshot"
)

// Summary renders a deterministic markdown digest of a snapshot. It is the
// mail body when no narrator is configured and the data section of the
// narration prompt.
func Summary(snap *snapshot.Snapshot) string {
	var b strings.Builder

	title := "Project pulse"
	if p := snap.Project; p != nil {
		name := p.Name
		if name == "" {
			name = p.ID
		}
		if p.ShortName != "" && p.ShortName != name {
			name += " (" + p.ShortName + ")"
		}
		title += ": " + name
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Extracted %s\n\n", snap.ExtractedAt.UTC().Format("2006-01-02 15:04 MST"))

	if !snap.OK() {
		fmt.Fprintf(&b, "**Extraction failed:** %s\n", snap.Error)
		return b.String()
	}

	m := snap.Metrics
	if m == nil {
		b.WriteString("No metrics were computed.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "## Last %dh\n\n", m.WindowHours)
	fmt.Fprintf(&b, "- Created: %d\n", m.Last24h.Created)
	fmt.Fprintf(&b, "- Resolved: %d%s\n", m.Last24h.Resolved, idList(m.Last24h.ResolvedIssueIDs))
	fmt.Fprintf(&b, "- Newly blocked: %d%s\n", m.Last24h.NewlyBlocked, idList(m.Last24h.BlockedIssueIDs))
	fmt.Fprintf(&b, "- Newly critical: %d\n\n", m.Last24h.NewlyCritical)

	b.WriteString("## Overall\n\n")
	fmt.Fprintf(&b, "- Open: %d\n", m.OpenIssues)
	fmt.Fprintf(&b, "- Resolved: %d\n", m.ResolvedIssues)
	fmt.Fprintf(&b, "- Stale (>%dd): %d\n", m.StaleDays, m.StaleCount)
	if m.Resolution.Count > 0 {
		fmt.Fprintf(&b, "- Resolution time: mean %.1fd, median %.1fd\n", m.Resolution.MeanDays, m.Resolution.MedianDays)
	}
	b.WriteString("\n")

	if len(m.Workload) > 0 {
		b.WriteString("## Workload\n\n| Assignee | Open |\n|---|---|\n")
		for _, kv := range sortedCounts(m.Workload) {
			fmt.Fprintf(&b, "| %s | %d |\n", kv.key, kv.n)
		}
		b.WriteString("\n")
	}

	if len(m.OpenByState) > 0 {
		b.WriteString("## Open by state\n\n")
		for _, kv := range sortedCounts(m.OpenByState) {
			fmt.Fprintf(&b, "- %s: %d\n", kv.key, kv.n)
		}
		b.WriteString("\n")
	}

	if notes := degradationNotes(snap.Degraded); len(notes) > 0 {
		b.WriteString("## Data quality\n\n")
		for _, n := range notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	return b.String()
}

func degradationNotes(d snapshot.Degradation) []string {
	var notes []string
	if d.ResolvedStatesFallback {
		notes = append(notes, "Resolved states fell back to the default list; resolution counts may be inaccurate.")
	}
	if n := len(d.HistoryFailed); n > 0 {
		notes = append(notes, fmt.Sprintf("History unavailable for %d issue(s).", n))
	}
	if n := len(d.HistoryIncomplete); n > 0 {
		notes = append(notes, fmt.Sprintf("History cut off for %d issue(s).", n))
	}
	if d.ReducedIssueFields {
		notes = append(notes, "Issues were fetched with a reduced field set.")
	}
	if d.ActivityWindowTruncated {
		notes = append(notes, "Change history starts inside the metrics window; window counts are undercounted.")
	}
	return notes
}

func idList(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	const max = 10
	if len(ids) > max {
		return fmt.Sprintf(" (%s, +%d more)", strings.Join(ids[:max], ", "), len(ids)-max)
	}
	return " (" + strings.Join(ids, ", ") + ")"
}

type count struct {
	key string
	n   int
}

// sortedCounts orders by count descending, then key.
func sortedCounts(m map[string]int) []count {
	out := make([]count, 0, len(m))
	for k, n := range m {
		out = append(out, count{k, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].key < out[j].key
	})
	return out
}
