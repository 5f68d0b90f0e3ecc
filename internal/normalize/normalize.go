// Package normalize flattens raw YouTrack records into the tabular shapes
// the metrics engine and the snapshot consume.
package normalize

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/pulse/internal/youtrack"
)

// Unassigned is the assignee label for issues with no assignee.
const Unassigned = "Unassigned"

// Options controls which custom fields get special treatment.
type Options struct {
	// EssentialFields always get a column in IssueRow.Fields, null when the
	// issue lacks them.
	EssentialFields []string
	// AssigneeFields are tried in order; the first present one resolves the
	// assignee.
	AssigneeFields []string
}

// DefaultOptions returns the stock field configuration.
func DefaultOptions() Options {
	return Options{
		EssentialFields: []string{"State", "Priority", "Type"},
		AssigneeFields:  []string{"Assignees", "Assignee"},
	}
}

// IssueRow is one flattened issue.
type IssueRow struct {
	ID               string             `json:"id"`
	ReadableID       string             `json:"readable_id"`
	Summary          string             `json:"summary"`
	Description      *string            `json:"description,omitempty"`
	Created          *time.Time         `json:"created"`
	Updated          *time.Time         `json:"updated"`
	Resolved         *time.Time         `json:"resolved"`
	Assignee         string             `json:"assignee"`
	Reporter         string             `json:"reporter,omitempty"`
	Project          string             `json:"project,omitempty"`
	Tags             []string           `json:"tags,omitempty"`
	LinkCount        int                `json:"link_count"`
	SubtaskCount     int                `json:"subtask_count"`
	HasParent        bool               `json:"has_parent"`
	TimeSpentMinutes int                `json:"time_spent_minutes"`
	Fields           map[string]*string `json:"fields"`
}

// IsOpen reports whether the issue has no resolved timestamp.
func (r *IssueRow) IsOpen() bool {
	return r.Resolved == nil
}

// Field returns the pivoted value of an essential field, or "".
func (r *IssueRow) Field(name string) string {
	if v := r.Fields[name]; v != nil {
		return *v
	}
	return ""
}

// IssueTable is the ordered set of flattened issues.
type IssueTable []IssueRow

// Open returns the issues without a resolved timestamp.
func (t IssueTable) Open() IssueTable {
	var out IssueTable
	for _, r := range t {
		if r.IsOpen() {
			out = append(out, r)
		}
	}
	return out
}

// IDs returns the issue ids in table order.
func (t IssueTable) IDs() []string {
	ids := make([]string, len(t))
	for i, r := range t {
		ids[i] = r.ID
	}
	return ids
}

// CustomFieldRecord is one (issue, field) pair in long form.
type CustomFieldRecord struct {
	IssueID    string `json:"issue_id"`
	ReadableID string `json:"readable_id,omitempty"`
	FieldID    string `json:"field_id,omitempty"`
	Field      string `json:"field"`
	Value      string `json:"value"`
	ValueType  string `json:"value_type"`
	FieldType  string `json:"field_type,omitempty"`
}

// CustomFieldTable holds at most one record per (issue, field) pair.
type CustomFieldTable []CustomFieldRecord

// Normalizer flattens raw records. The zero value is not usable; call New.
type Normalizer struct {
	opts Options
	log  *slog.Logger
}

// New creates a Normalizer. A nil logger discards.
func New(opts Options, log *slog.Logger) *Normalizer {
	def := DefaultOptions()
	if opts.EssentialFields == nil {
		opts.EssentialFields = def.EssentialFields
	}
	if opts.AssigneeFields == nil {
		opts.AssigneeFields = def.AssigneeFields
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Normalizer{opts: opts, log: log}
}

// Normalize produces the issue table and the long-form custom field table.
// Issues without an id are skipped. For a repeated (issue, field) pair the
// first occurrence wins.
func (n *Normalizer) Normalize(raw []youtrack.Issue) (IssueTable, CustomFieldTable) {
	issues := make(IssueTable, 0, len(raw))
	var fields CustomFieldTable
	seenIssue := make(map[string]bool, len(raw))

	for i := range raw {
		is := &raw[i]
		if is.ID == "" {
			n.log.Warn("skipping issue without id", "index", i, "readable_id", is.IDReadable)
			continue
		}
		if seenIssue[is.ID] {
			n.log.Debug("skipping duplicate issue", "issue", is.ID)
			continue
		}
		seenIssue[is.ID] = true

		row := n.issueRow(is)
		seenField := make(map[string]bool, len(is.CustomFields))
		for _, cf := range is.CustomFields {
			if cf.Name == "" {
				continue
			}
			if seenField[cf.Name] {
				n.log.Debug("duplicate custom field, keeping first", "issue", is.ID, "field", cf.Name)
				continue
			}
			seenField[cf.Name] = true

			value := cf.Value.Display()
			fields = append(fields, CustomFieldRecord{
				IssueID:    is.ID,
				ReadableID: is.IDReadable,
				FieldID:    cf.ID,
				Field:      cf.Name,
				Value:      value,
				ValueType:  cf.Value.Kind.String(),
				FieldType:  cf.Type,
			})
			if _, essential := row.Fields[cf.Name]; essential && !cf.Value.IsNull() && value != "" {
				v := value
				row.Fields[cf.Name] = &v
			}
		}
		issues = append(issues, row)
	}
	return issues, fields
}

func (n *Normalizer) issueRow(is *youtrack.Issue) IssueRow {
	row := IssueRow{
		ID:          is.ID,
		ReadableID:  is.IDReadable,
		Summary:     is.Summary,
		Description: is.Description,
		Created:     is.Created.TimePtr(),
		Updated:     is.Updated.TimePtr(),
		Resolved:    is.Resolved.TimePtr(),
		Assignee:    n.assignee(is),
		Fields:      make(map[string]*string, len(n.opts.EssentialFields)),
	}
	for _, f := range n.opts.EssentialFields {
		row.Fields[f] = nil
	}

	if row.Created != nil && row.Resolved != nil && row.Resolved.Before(*row.Created) {
		n.log.Warn("resolved before created, clamping", "issue", is.ID,
			"created", row.Created.Format(time.RFC3339), "resolved", row.Resolved.Format(time.RFC3339))
		c := *row.Created
		row.Resolved = &c
	}

	if is.Reporter != nil {
		row.Reporter = is.Reporter.DisplayName()
	}
	if is.Project != nil {
		row.Project = firstNonEmpty(is.Project.ShortName, is.Project.Name, is.Project.ID)
	}
	for _, t := range is.Tags {
		if t.Name != "" {
			row.Tags = append(row.Tags, t.Name)
		}
	}
	for _, l := range is.Links {
		row.LinkCount += len(l.Issues)
	}
	if is.Subtasks != nil {
		row.SubtaskCount = len(is.Subtasks.Issues)
	}
	row.HasParent = is.Parent != nil && len(is.Parent.Issues) > 0
	if is.TimeTracking != nil {
		for _, w := range is.TimeTracking.WorkItems {
			row.TimeSpentMinutes += w.Duration.Minutes
		}
	}
	return row
}

// assignee resolves the assignee display string. Lists are joined with
// ", "; an absent or empty value gives Unassigned.
func (n *Normalizer) assignee(is *youtrack.Issue) string {
	for _, name := range n.opts.AssigneeFields {
		cf, ok := is.Field(name)
		if !ok {
			continue
		}
		if names := cf.Value.Names(); len(names) > 0 {
			return strings.Join(names, ", ")
		}
		return Unassigned
	}
	return Unassigned
}

// ActivityRecord is one flattened history entry.
type ActivityRecord struct {
	ID        string     `json:"id"`
	IssueID   string     `json:"issue_id"`
	Timestamp int64      `json:"timestamp"`
	Time      *time.Time `json:"time"`
	Author    string     `json:"author"`
	Category  string     `json:"category"`
	Field     string     `json:"field,omitempty"`
	FieldType string     `json:"field_type,omitempty"`
	Added     string     `json:"added"`
	Removed   string     `json:"removed"`
}

// Valid reports whether the record has the timestamp and category the
// metrics engine needs.
func (a *ActivityRecord) Valid() bool {
	return a.Time != nil && a.Category != ""
}

// ActivityTable is the flattened history of a batch.
type ActivityTable []ActivityRecord

// Activities flattens per-issue histories. Issues follow order; ids in the
// map but not in order come after, sorted.
func (n *Normalizer) Activities(order []string, histories map[string][]youtrack.Activity) ActivityTable {
	ids := make([]string, 0, len(histories))
	listed := make(map[string]bool, len(order))
	for _, id := range order {
		if _, ok := histories[id]; ok && !listed[id] {
			ids = append(ids, id)
			listed[id] = true
		}
	}
	var rest []string
	for id := range histories {
		if !listed[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	ids = append(ids, rest...)

	var out ActivityTable
	for _, id := range ids {
		for i := range histories[id] {
			a := &histories[id][i]
			rec := ActivityRecord{
				ID:        a.ID,
				IssueID:   id,
				Author:    a.Author.DisplayName(),
				Category:  a.Category.ID,
				Field:     a.FieldName(),
				FieldType: a.FieldType(),
				Added:     a.Added.Display(),
				Removed:   a.Removed.Display(),
			}
			if t, ok := a.Timestamp.Time(); ok {
				rec.Timestamp = a.Timestamp.Value
				rec.Time = &t
			}
			out = append(out, rec)
		}
	}
	return out
}

// CommentRecord is one issue comment.
type CommentRecord struct {
	ID          string     `json:"id"`
	IssueID     string     `json:"issue_id"`
	ReadableID  string     `json:"readable_id,omitempty"`
	Text        string     `json:"text"`
	Created     *time.Time `json:"created"`
	Author      string     `json:"author"`
	AuthorLogin string     `json:"author_login,omitempty"`
}

// Comments flattens the comments embedded in raw issues.
func (n *Normalizer) Comments(raw []youtrack.Issue) []CommentRecord {
	var out []CommentRecord
	for i := range raw {
		is := &raw[i]
		for _, c := range is.Comments {
			rec := CommentRecord{
				ID:         c.ID,
				IssueID:    is.ID,
				ReadableID: is.IDReadable,
				Text:       c.Text,
				Created:    c.Created.TimePtr(),
				Author:     c.Author.DisplayName(),
			}
			if c.Author != nil {
				rec.AuthorLogin = c.Author.Login
			}
			out = append(out, rec)
		}
	}
	return out
}

// SprintRecord is one agile board sprint.
type SprintRecord struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Goal      string     `json:"goal,omitempty"`
	Start     *time.Time `json:"start"`
	Finish    *time.Time `json:"finish"`
	Archived  bool       `json:"archived"`
	IsDefault bool       `json:"is_default"`
}

// Active reports whether now falls inside the sprint.
func (s *SprintRecord) Active(now time.Time) bool {
	if s.Start == nil || s.Finish == nil || s.Archived {
		return false
	}
	return !now.Before(*s.Start) && now.Before(*s.Finish)
}

// Sprints flattens board sprints, dropping duplicates by id.
func (n *Normalizer) Sprints(raw []youtrack.Sprint) []SprintRecord {
	seen := make(map[string]bool, len(raw))
	var out []SprintRecord
	for _, s := range raw {
		if s.ID == "" || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, SprintRecord{
			ID:        s.ID,
			Name:      s.Name,
			Goal:      s.Goal,
			Start:     s.Start.TimePtr(),
			Finish:    s.Finish.TimePtr(),
			Archived:  s.Archived,
			IsDefault: s.IsDefault,
		})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
