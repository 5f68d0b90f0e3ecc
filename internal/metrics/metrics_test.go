package metrics

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/pulse/internal/normalize"
	"github.com/steveyegge/pulse/internal/youtrack"
)

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func openIssue(id string, created time.Time, assignee string) normalize.IssueRow {
	return normalize.IssueRow{ID: id, Created: ptr(created), Assignee: assignee, Fields: map[string]*string{}}
}

func stateChange(issue string, at time.Time, from, to string) normalize.ActivityRecord {
	return normalize.ActivityRecord{
		ID: issue + "-" + to, IssueID: issue, Timestamp: at.UnixMilli(), Time: ptr(at),
		Category: youtrack.CategoryCustomField, Field: "State", Removed: from, Added: to,
	}
}

func TestResolvedTransitionCounting(t *testing.T) {
	tests := []struct {
		name string
		acts normalize.ActivityTable
		want int
	}{
		{
			name: "open to in progress to done",
			acts: normalize.ActivityTable{
				stateChange("X", now.Add(-5*time.Hour), "Open", "In Progress"),
				stateChange("X", now.Add(-2*time.Hour), "In Progress", "Done"),
			},
			want: 1,
		},
		{
			name: "done to done re-save",
			acts: normalize.ActivityTable{stateChange("X", now.Add(-time.Hour), "Done", "Done")},
			want: 0,
		},
		{
			name: "resolved to another resolved state",
			acts: normalize.ActivityTable{stateChange("X", now.Add(-time.Hour), "Done", "Verified")},
			want: 0,
		},
		{
			name: "no removed value",
			acts: normalize.ActivityTable{stateChange("X", now.Add(-time.Hour), "", "Closed")},
			want: 1,
		},
		{
			name: "case insensitive",
			acts: normalize.ActivityTable{stateChange("X", now.Add(-time.Hour), "open", "done")},
			want: 1,
		},
		{
			name: "outside window",
			acts: normalize.ActivityTable{stateChange("X", now.Add(-25*time.Hour), "Open", "Done")},
			want: 0,
		},
		{
			name: "future timestamp",
			acts: normalize.ActivityTable{stateChange("X", now.Add(time.Hour), "Open", "Done")},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := Compute(nil, tt.acts, Options{Now: now}, nil)
			assert.Equal(t, tt.want, snap.Last24h.Resolved)
		})
	}
}

func TestBlockerCounting(t *testing.T) {
	acts := normalize.ActivityTable{
		stateChange("A", now.Add(-time.Hour), "Open", "Blocked"),
		stateChange("B", now.Add(-time.Hour), "Blocked", "Blocked"),
		{
			ID: "p1", IssueID: "C", Time: ptr(now.Add(-time.Hour)), Timestamp: 1,
			Category: youtrack.CategoryCustomField, Field: "Priority", Removed: "Normal", Added: "Critical",
		},
		{
			ID: "p2", IssueID: "D", Time: ptr(now.Add(-time.Hour)), Timestamp: 1,
			Category: youtrack.CategoryCustomField, Field: "Priority", Removed: "Critical", Added: "Show-stopper",
		},
	}
	snap := Compute(nil, acts, Options{Now: now}, nil)
	assert.Equal(t, 2, snap.Last24h.NewlyBlocked)
	assert.Equal(t, 1, snap.Last24h.NewlyCritical)
	assert.Equal(t, []string{"A", "C"}, snap.Last24h.BlockedIssueIDs)
}

func TestCreatedCounter(t *testing.T) {
	created := func(issue string, at time.Time) normalize.ActivityRecord {
		return normalize.ActivityRecord{ID: issue, IssueID: issue, Time: ptr(at), Timestamp: at.UnixMilli(), Category: youtrack.CategoryIssueCreated}
	}
	acts := normalize.ActivityTable{
		created("A", now.Add(-time.Hour)),
		created("B", now.Add(-24*time.Hour)),
		created("C", now.Add(-24*time.Hour-time.Second)),
	}
	snap := Compute(nil, acts, Options{Now: now}, nil)
	assert.Equal(t, 2, snap.Last24h.Created, "window start is inclusive")
	assert.Equal(t, []string{"A", "B"}, snap.Last24h.CreatedIssueIDs)
}

func TestMalformedActivitiesSkipped(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	acts := normalize.ActivityTable{
		{ID: "no-time", IssueID: "A", Category: youtrack.CategoryCustomField, Field: "State", Added: "Done"},
		{ID: "no-cat", IssueID: "A", Time: ptr(now.Add(-time.Hour)), Timestamp: 1, Field: "State", Added: "Done"},
		stateChange("A", now.Add(-time.Hour), "Open", "Done"),
	}
	snap := Compute(nil, acts, Options{Now: now}, log)
	assert.Equal(t, 2, snap.SkippedActivities)
	assert.Equal(t, 1, snap.Last24h.Resolved)
	assert.Contains(t, buf.String(), "skipping malformed activity")
}

func TestStalenessBoundary(t *testing.T) {
	issues := normalize.IssueTable{
		openIssue("exact", now.AddDate(0, 0, -30), "a"),
		openIssue("older", now.AddDate(0, 0, -31), "a"),
		openIssue("young", now.AddDate(0, 0, -1), "a"),
		{ID: "nocreated", Fields: map[string]*string{}},
	}
	resolvedOld := openIssue("resolved", now.AddDate(0, 0, -90), "a")
	resolvedOld.Resolved = ptr(now.AddDate(0, 0, -60))
	issues = append(issues, resolvedOld)

	snap := Compute(issues, nil, Options{Now: now, StaleDays: 30}, nil)
	assert.Equal(t, 1, snap.StaleCount)
	assert.Equal(t, []string{"older"}, snap.StaleIssueIDs)
	assert.Equal(t, 30, snap.StaleDays)
}

func TestWorkloadAndStateCounts(t *testing.T) {
	open := "Open"
	issues := normalize.IssueTable{
		openIssue("1", now, "alice"),
		openIssue("2", now, "alice"),
		openIssue("3", now, ""),
		openIssue("4", now, normalize.Unassigned),
	}
	issues[0].Fields["State"] = &open
	issues[0].Fields["Priority"] = ptr("Critical")
	issues[0].Updated = ptr(now.Add(-time.Hour))
	issues[1].Fields["Priority"] = ptr("Normal")
	issues[1].Fields["Type"] = ptr("Bug")

	snap := Compute(issues, nil, Options{Now: now}, nil)
	assert.Equal(t, map[string]int{"alice": 2, "Unassigned": 2}, snap.Workload)
	assert.Equal(t, map[string]int{"Open": 1, "Unknown": 3}, snap.OpenByState)

	require.Len(t, snap.WorkloadDetails, 2)
	var alice AssigneeLoad
	for _, l := range snap.WorkloadDetails {
		if l.Assignee == "alice" {
			alice = l
		}
	}
	require.Equal(t, 2, alice.Open)
	assert.Equal(t, 50.0, alice.HighPriorityPct)
	assert.Equal(t, 1, alice.RecentlyUpdated)
	assert.Equal(t, map[string]int{"Bug": 1, "Unknown": 1}, alice.ByType)
}

func TestResolutionStats(t *testing.T) {
	mk := func(days int) normalize.IssueRow {
		r := openIssue("r", now.AddDate(0, 0, -days), "a")
		r.Resolved = ptr(now)
		return r
	}
	snap := Compute(normalize.IssueTable{mk(2), mk(4), mk(9), openIssue("o", now, "a")}, nil, Options{Now: now}, nil)
	assert.Equal(t, 3, snap.Resolution.Count)
	assert.InDelta(t, 5.0, snap.Resolution.MeanDays, 0.001)
	assert.InDelta(t, 4.0, snap.Resolution.MedianDays, 0.001)
	assert.InDelta(t, 9.0, snap.Resolution.MaxDays, 0.001)
	assert.Equal(t, 3, snap.ResolvedIssues)
	assert.Equal(t, 1, snap.OpenIssues)
}

func TestResolvedStateSet(t *testing.T) {
	yes, no := true, false

	t.Run("from bundle", func(t *testing.T) {
		set := ResolvedStateSet([]youtrack.BundleValue{
			{Name: "Open", IsResolved: &no},
			{Name: "Fixed", IsResolved: &yes},
			{Name: "Won't fix", IsResolved: &yes},
		}, true, nil)
		assert.Equal(t, SourceBundle, set.Source)
		assert.Equal(t, []string{"Fixed", "Won't fix"}, set.Names())
		assert.False(t, set.Contains("Done"))
	})

	fallbacks := map[string][]youtrack.BundleValue{
		"missing":  nil,
		"empty":    {},
		"no flags": {{Name: "Open"}, {Name: "Done"}},
		"none set": {{Name: "Open", IsResolved: &no}},
	}
	for name, values := range fallbacks {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			set := ResolvedStateSet(values, name != "missing", slog.New(slog.NewTextHandler(&buf, nil)))
			assert.Equal(t, SourceFallback, set.Source)
			assert.ElementsMatch(t, DefaultResolvedStates, set.Names())
			assert.Contains(t, buf.String(), "degraded accuracy")
		})
	}
}

func TestDegradedFlagPropagates(t *testing.T) {
	snap := Compute(nil, nil, Options{Now: now}, nil)
	assert.True(t, snap.Degraded())

	set := NewStateSet(SourceBundle, "Done")
	snap = Compute(nil, nil, Options{Now: now, ResolvedStates: set}, nil)
	assert.False(t, snap.Degraded())
	assert.Equal(t, []string{"Done"}, snap.ResolvedStates)
}

func TestTransitions(t *testing.T) {
	acts := normalize.ActivityTable{
		stateChange("A", now.Add(-time.Hour), "Open", "Done"),
		{ID: "as", IssueID: "B", Time: ptr(now.Add(-3 * time.Hour)), Timestamp: 1, Category: youtrack.CategoryCustomField, Field: "Assignees", Added: "bob"},
		stateChange("C", now.Add(-2*time.Hour), "", "Open"),
	}
	status := StatusTransitions(acts)
	require.Len(t, status, 2)
	assert.Equal(t, "C", status[0].IssueID)
	assert.Equal(t, "Done", status[1].To)

	assignees := AssigneeTransitions(acts)
	require.Len(t, assignees, 1)
	assert.Equal(t, "bob", assignees[0].To)
}
