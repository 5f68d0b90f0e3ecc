package metrics

import (
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/pulse/internal/normalize"
)

// Transition is one change of a tracked field.
type Transition struct {
	IssueID string    `json:"issue_id"`
	Time    time.Time `json:"time"`
	Author  string    `json:"author"`
	From    string    `json:"from"`
	To      string    `json:"to"`
}

// Transitions returns the valid activities that changed any of fields,
// ordered by time (ties keep input order).
func Transitions(activities normalize.ActivityTable, fields ...string) []Transition {
	var out []Transition
	for i := range activities {
		a := &activities[i]
		if !a.Valid() || !matchesAny(a.Field, fields) {
			continue
		}
		out = append(out, Transition{
			IssueID: a.IssueID,
			Time:    *a.Time,
			Author:  a.Author,
			From:    a.Removed,
			To:      a.Added,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

// StatusTransitions is Transitions over the State field.
func StatusTransitions(activities normalize.ActivityTable) []Transition {
	return Transitions(activities, "State")
}

// AssigneeTransitions is Transitions over the assignee fields.
func AssigneeTransitions(activities normalize.ActivityTable) []Transition {
	return Transitions(activities, "Assignees", "Assignee")
}

func matchesAny(field string, names []string) bool {
	for _, n := range names {
		if strings.EqualFold(field, n) {
			return true
		}
	}
	return false
}
