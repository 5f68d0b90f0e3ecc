// Package metrics computes point-in-time aggregates over normalized issues
// and activities. Every function here is pure given Options.Now.
package metrics

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/pulse/internal/normalize"
	"github.com/steveyegge/pulse/internal/youtrack"
)

// Defaults for Options.
const (
	DefaultWindow     = 24 * time.Hour
	DefaultStaleDays  = 30
	DefaultRecentDays = 7
)

// Options parameterizes Compute.
type Options struct {
	Now       time.Time
	Window    time.Duration
	StaleDays int
	// RecentDays bounds "recently updated" in workload details.
	RecentDays int

	ResolvedStates     StateSet
	BlockedStates      []string
	CriticalPriorities []string
	// HighPriorityMarkers are substrings that make a priority "high" for
	// workload details.
	HighPriorityMarkers []string

	StateField    string
	PriorityField string
	TypeField     string
}

func (o Options) withDefaults() Options {
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	o.Now = o.Now.UTC()
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.StaleDays <= 0 {
		o.StaleDays = DefaultStaleDays
	}
	if o.RecentDays <= 0 {
		o.RecentDays = DefaultRecentDays
	}
	if o.ResolvedStates.Len() == 0 {
		o.ResolvedStates = NewStateSet(SourceFallback, DefaultResolvedStates...)
	}
	if o.BlockedStates == nil {
		o.BlockedStates = []string{"Blocked"}
	}
	if o.CriticalPriorities == nil {
		o.CriticalPriorities = []string{"Critical", "Show-stopper"}
	}
	if o.HighPriorityMarkers == nil {
		o.HighPriorityMarkers = []string{"critical", "high", "urgent", "show-stopper"}
	}
	if o.StateField == "" {
		o.StateField = "State"
	}
	if o.PriorityField == "" {
		o.PriorityField = "Priority"
	}
	if o.TypeField == "" {
		o.TypeField = "Type"
	}
	return o
}

// WindowCounters are the transition counts inside the activity window.
type WindowCounters struct {
	Created          int      `json:"created"`
	Resolved         int      `json:"resolved"`
	NewlyBlocked     int      `json:"newly_blocked"`
	NewlyCritical    int      `json:"newly_critical"`
	CreatedIssueIDs  []string `json:"created_issue_ids,omitempty"`
	ResolvedIssueIDs []string `json:"resolved_issue_ids,omitempty"`
	BlockedIssueIDs  []string `json:"blocked_issue_ids,omitempty"`
}

// ResolutionStats summarizes created→resolved durations in days.
type ResolutionStats struct {
	Count      int     `json:"count"`
	MeanDays   float64 `json:"mean_days"`
	MedianDays float64 `json:"median_days"`
	MaxDays    float64 `json:"max_days"`
}

// AssigneeLoad breaks down one assignee's open issues.
type AssigneeLoad struct {
	Assignee         string         `json:"assignee"`
	Open             int            `json:"open"`
	ByType           map[string]int `json:"by_type"`
	ByPriority       map[string]int `json:"by_priority"`
	HighPriorityPct  float64        `json:"high_priority_pct"`
	RecentlyUpdated  int            `json:"recently_updated"`
	TimeSpentMinutes int            `json:"time_spent_minutes"`
}

// Snapshot is the metrics block of an extraction snapshot.
type Snapshot struct {
	GeneratedAt          time.Time       `json:"generated_at"`
	WindowHours          int             `json:"window_hours"`
	StaleDays            int             `json:"stale_days"`
	TotalIssues          int             `json:"total_issues"`
	OpenIssues           int             `json:"open_issues"`
	ResolvedIssues       int             `json:"resolved_issues"`
	StaleCount           int             `json:"stale_count"`
	StaleIssueIDs        []string        `json:"stale_issue_ids,omitempty"`
	Workload             map[string]int  `json:"workload"`
	WorkloadDetails      []AssigneeLoad  `json:"workload_details,omitempty"`
	OpenByState          map[string]int  `json:"open_by_state"`
	Resolution           ResolutionStats `json:"resolution"`
	Last24h              WindowCounters  `json:"last_24h"`
	ResolvedStates       []string        `json:"resolved_states"`
	ResolvedStatesSource Source          `json:"resolved_states_source"`
	SkippedActivities    int             `json:"skipped_activities"`
}

// Degraded reports whether the resolved-state set came from the fallback.
func (s *Snapshot) Degraded() bool {
	return s.ResolvedStatesSource == SourceFallback
}

// Compute aggregates issues and activities. Malformed activities are
// skipped and logged; they never abort the computation.
func Compute(issues normalize.IssueTable, activities normalize.ActivityTable, opts Options, log *slog.Logger) Snapshot {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	snap := Snapshot{
		GeneratedAt:          opts.Now,
		WindowHours:          int(opts.Window / time.Hour),
		StaleDays:            opts.StaleDays,
		TotalIssues:          len(issues),
		Workload:             map[string]int{},
		OpenByState:          map[string]int{},
		ResolvedStates:       opts.ResolvedStates.Names(),
		ResolvedStatesSource: opts.ResolvedStates.Source,
	}

	staleCutoff := opts.Now.AddDate(0, 0, -opts.StaleDays)
	for i := range issues {
		row := &issues[i]
		if !row.IsOpen() {
			snap.ResolvedIssues++
			continue
		}
		snap.OpenIssues++
		snap.Workload[assigneeOf(row)]++

		state := row.Field(opts.StateField)
		if state == "" {
			state = "Unknown"
		}
		snap.OpenByState[state]++

		if row.Created != nil && row.Created.Before(staleCutoff) {
			snap.StaleCount++
			snap.StaleIssueIDs = append(snap.StaleIssueIDs, displayID(row))
		}
	}

	snap.Resolution = resolutionStats(issues)
	snap.WorkloadDetails = workloadDetails(issues, opts)
	snap.Last24h, snap.SkippedActivities = windowCounters(activities, opts, log)
	return snap
}

func assigneeOf(row *normalize.IssueRow) string {
	if row.Assignee == "" {
		return normalize.Unassigned
	}
	return row.Assignee
}

func displayID(row *normalize.IssueRow) string {
	if row.ReadableID != "" {
		return row.ReadableID
	}
	return row.ID
}

// windowCounters walks the activities once. The window is
// [Now-Window, Now]; activities outside it are ignored.
func windowCounters(activities normalize.ActivityTable, opts Options, log *slog.Logger) (WindowCounters, int) {
	var wc WindowCounters
	skipped := 0
	start := opts.Now.Add(-opts.Window)
	blocked := NewStateSet("", opts.BlockedStates...)
	critical := NewStateSet("", opts.CriticalPriorities...)
	created := map[string]bool{}
	resolvedIDs := map[string]bool{}
	blockedIDs := map[string]bool{}

	for i := range activities {
		a := &activities[i]
		if !a.Valid() {
			skipped++
			log.Warn("skipping malformed activity", "id", a.ID, "issue", a.IssueID,
				"has_timestamp", a.Time != nil, "category", a.Category)
			continue
		}
		if a.Time.Before(start) || a.Time.After(opts.Now) {
			continue
		}

		switch a.Category {
		case youtrack.CategoryIssueCreated:
			wc.Created++
			addOnce(&wc.CreatedIssueIDs, created, a.IssueID)
		case youtrack.CategoryCustomField:
			added, removed := splitNames(a.Added), splitNames(a.Removed)
			switch {
			case strings.EqualFold(a.Field, opts.StateField):
				if transitionInto(opts.ResolvedStates, added, removed) {
					wc.Resolved++
					addOnce(&wc.ResolvedIssueIDs, resolvedIDs, a.IssueID)
				}
				if transitionInto(blocked, added, removed) {
					wc.NewlyBlocked++
					addOnce(&wc.BlockedIssueIDs, blockedIDs, a.IssueID)
				}
			case strings.EqualFold(a.Field, opts.PriorityField):
				if transitionInto(critical, added, removed) {
					wc.NewlyBlocked++
					wc.NewlyCritical++
					addOnce(&wc.BlockedIssueIDs, blockedIDs, a.IssueID)
				}
			}
		}
	}
	return wc, skipped
}

// transitionInto is true when something in added is in set and nothing in
// removed is.
func transitionInto(set StateSet, added, removed []string) bool {
	return set.ContainsAny(added) && !set.ContainsAny(removed)
}

func splitNames(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ", ")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func addOnce(list *[]string, seen map[string]bool, id string) {
	if seen[id] {
		return
	}
	seen[id] = true
	*list = append(*list, id)
}

func resolutionStats(issues normalize.IssueTable) ResolutionStats {
	var days []float64
	for i := range issues {
		row := &issues[i]
		if row.Created == nil || row.Resolved == nil {
			continue
		}
		days = append(days, row.Resolved.Sub(*row.Created).Hours()/24)
	}
	if len(days) == 0 {
		return ResolutionStats{}
	}
	sort.Float64s(days)

	var sum float64
	for _, d := range days {
		sum += d
	}
	median := days[len(days)/2]
	if len(days)%2 == 0 {
		median = (days[len(days)/2-1] + days[len(days)/2]) / 2
	}
	return ResolutionStats{
		Count:      len(days),
		MeanDays:   sum / float64(len(days)),
		MedianDays: median,
		MaxDays:    days[len(days)-1],
	}
}

func workloadDetails(issues normalize.IssueTable, opts Options) []AssigneeLoad {
	recent := opts.Now.AddDate(0, 0, -opts.RecentDays)
	byName := map[string]*AssigneeLoad{}
	high := map[string]int{}

	for i := range issues {
		row := &issues[i]
		if !row.IsOpen() {
			continue
		}
		name := assigneeOf(row)
		load, ok := byName[name]
		if !ok {
			load = &AssigneeLoad{Assignee: name, ByType: map[string]int{}, ByPriority: map[string]int{}}
			byName[name] = load
		}
		load.Open++
		load.TimeSpentMinutes += row.TimeSpentMinutes

		typ := row.Field(opts.TypeField)
		if typ == "" {
			typ = "Unknown"
		}
		load.ByType[typ]++

		prio := row.Field(opts.PriorityField)
		if prio == "" {
			prio = "Unknown"
		}
		load.ByPriority[prio]++
		if isHighPriority(prio, opts.HighPriorityMarkers) {
			high[name]++
		}

		if row.Updated != nil && !row.Updated.Before(recent) {
			load.RecentlyUpdated++
		}
	}

	out := make([]AssigneeLoad, 0, len(byName))
	for name, load := range byName {
		load.HighPriorityPct = float64(high[name]) * 100 / float64(load.Open)
		out = append(out, *load)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Open != out[j].Open {
			return out[i].Open > out[j].Open
		}
		return out[i].Assignee < out[j].Assignee
	})
	return out
}

func isHighPriority(priority string, markers []string) bool {
	p := strings.ToLower(priority)
	for _, m := range markers {
		if strings.Contains(p, m) {
			return true
		}
	}
	return false
}
