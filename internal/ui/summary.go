package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/steveyegge/pulse/internal/metrics"
	"github.com/steveyegge/pulse/internal/snapshot"
)

const barWidth = 24

// RenderSnapshot renders the styled summary shown by `pulse show`.
func RenderSnapshot(snap *snapshot.Snapshot, now time.Time) string {
	var b strings.Builder

	title := "pulse"
	if p := snap.Project; p != nil {
		title = firstNonEmpty(p.Name, p.ShortName, p.ID)
	}
	age := now.Sub(snap.ExtractedAt).Round(time.Minute)
	fmt.Fprintf(&b, "%s %s\n", TitleStyle.Render(title),
		RenderMuted(fmt.Sprintf("extracted %s (%s ago), run %s",
			snap.ExtractedAt.Local().Format("2006-01-02 15:04"), age, shortID(snap.RunID))))
	b.WriteString(RenderSeparator() + "\n")

	if !snap.OK() {
		fmt.Fprintf(&b, "%s %s\n", Icon(IconFail), RenderFail("extraction failed: "+snap.Error))
		return b.String()
	}
	m := snap.Metrics
	if m == nil {
		fmt.Fprintf(&b, "%s no metrics in snapshot\n", Icon(IconWarn))
		return b.String()
	}

	fmt.Fprintf(&b, "\n%s\n", RenderCategory(fmt.Sprintf("Last %dh", m.WindowHours)))
	writeCounter(&b, "created", m.Last24h.Created, nil)
	writeCounter(&b, "resolved", m.Last24h.Resolved, m.Last24h.ResolvedIssueIDs)
	writeCounter(&b, "newly blocked", m.Last24h.NewlyBlocked, m.Last24h.BlockedIssueIDs)
	writeCounter(&b, "newly critical", m.Last24h.NewlyCritical, nil)

	fmt.Fprintf(&b, "\n%s\n", RenderCategory("Overall"))
	writeCounter(&b, "open", m.OpenIssues, nil)
	writeCounter(&b, "resolved", m.ResolvedIssues, nil)
	stale := fmt.Sprintf("stale (>%dd)", m.StaleDays)
	if m.StaleCount > 0 {
		fmt.Fprintf(&b, "  %-16s %s\n", stale, RenderWarn(fmt.Sprint(m.StaleCount)))
	} else {
		writeCounter(&b, stale, 0, nil)
	}
	if r := m.Resolution; r.Count > 0 {
		fmt.Fprintf(&b, "  %-16s mean %.1fd, median %.1fd, max %.1fd\n", "resolution", r.MeanDays, r.MedianDays, r.MaxDays)
	}

	if len(m.Workload) > 0 {
		fmt.Fprintf(&b, "\n%s\n", RenderCategory("Workload"))
		b.WriteString(renderBars(m.Workload))
	}
	if len(m.OpenByState) > 0 {
		fmt.Fprintf(&b, "\n%s\n", RenderCategory("Open by state"))
		b.WriteString(renderBars(m.OpenByState))
	}

	if notes := degradedNotes(snap.Degraded, m); len(notes) > 0 {
		b.WriteString("\n")
		for _, n := range notes {
			fmt.Fprintf(&b, "%s %s\n", Icon(IconWarn), RenderWarn(n))
		}
	}
	return b.String()
}

func writeCounter(b *strings.Builder, label string, n int, ids []string) {
	line := fmt.Sprintf("  %-16s %d", label, n)
	if len(ids) > 0 {
		line += " " + RenderMuted(strings.Join(ids, " "))
	}
	b.WriteString(line + "\n")
}

// renderBars draws one bar per key, longest first.
func renderBars(counts map[string]int) string {
	type row struct {
		key string
		n   int
	}
	rows := make([]row, 0, len(counts))
	maxN, keyWidth := 0, 0
	for k, n := range counts {
		rows = append(rows, row{k, n})
		maxN = max(maxN, n)
		keyWidth = max(keyWidth, lipgloss.Width(k))
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].n != rows[j].n {
			return rows[i].n > rows[j].n
		}
		return rows[i].key < rows[j].key
	})

	var b strings.Builder
	for _, r := range rows {
		width := 0
		if maxN > 0 {
			width = max(1, r.n*barWidth/maxN)
		}
		pad := strings.Repeat(" ", keyWidth-lipgloss.Width(r.key))
		fmt.Fprintf(&b, "  %s%s %s %d\n", r.key, pad, BarStyle.Render(strings.Repeat("█", width)), r.n)
	}
	return b.String()
}

func degradedNotes(d snapshot.Degradation, m *metrics.Snapshot) []string {
	var notes []string
	if d.ResolvedStatesFallback || m.Degraded() {
		notes = append(notes, "resolved states from default list; resolution counts may be off")
	}
	if n := len(d.HistoryFailed); n > 0 {
		notes = append(notes, fmt.Sprintf("history failed for %d issue(s)", n))
	}
	if n := len(d.HistoryIncomplete); n > 0 {
		notes = append(notes, fmt.Sprintf("history cut off for %d issue(s)", n))
	}
	if d.ReducedIssueFields {
		notes = append(notes, "issues fetched with reduced fields")
	}
	if d.SprintsUnavailable {
		notes = append(notes, "sprints unavailable")
	}
	if d.ActivityWindowTruncated {
		notes = append(notes, "history shorter than the metrics window; window counts undercount")
	}
	if m.SkippedActivities > 0 {
		notes = append(notes, fmt.Sprintf("%d malformed activities skipped", m.SkippedActivities))
	}
	return notes
}

// RenderFreshness renders the line printed by `pulse status`.
func RenderFreshness(r snapshot.FreshnessReport) string {
	switch {
	case !r.Exists:
		return fmt.Sprintf("%s no snapshot at %s", Icon(IconFail), r.Path)
	case r.Status == snapshot.StatusFailed:
		return fmt.Sprintf("%s last extraction failed %s ago (%s)", Icon(IconFail), r.Age.Round(time.Second), r.Path)
	case r.Fresh:
		return fmt.Sprintf("%s fresh: %s old, limit %s (%s)", Icon(IconPass), r.Age.Round(time.Second), r.MaxAge, r.Path)
	default:
		return fmt.Sprintf("%s stale: %s old, limit %s (%s)", Icon(IconWarn), r.Age.Round(time.Second), r.MaxAge, r.Path)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
