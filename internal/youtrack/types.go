package youtrack

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// API configuration constants.
const (
	// DefaultTimeout is the per-call HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the attempt budget for non-rate-limit failures.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the fixed delay between failed attempts and the
	// rate-limit wait when the server omits Retry-After.
	DefaultRetryDelay = 2 * time.Second

	// DefaultPageSize is the $top value used when paging issues.
	DefaultPageSize = 50

	// DefaultHistoryPageSize is the $top value used when paging activities.
	DefaultHistoryPageSize = 100

	// DefaultMaxConnsPerHost bounds concurrent history requests through the
	// transport's connection pool.
	DefaultMaxConnsPerHost = 10

	// MaxPages guards against a server that never returns a short page.
	MaxPages = 10000
)

// Field selectors requested from the REST API.
const (
	IssueFields = "id,idReadable,summary,description,created,updated,resolved," +
		"customFields(id,name,$type,value(id,name,login,fullName,text,localizedName,presentation,minutes,isResolved,$type))," +
		"comments(id,text,created,author(id,login,fullName,name,email))," +
		"reporter(id,login,fullName,name,email)," +
		"tags(id,name)," +
		"links(id,direction,linkType(id,name),issues(id,idReadable,summary,resolved))," +
		"parent(issues(id,idReadable,summary))," +
		"subtasks(issues(id,idReadable,summary,resolved))," +
		"timeTracking(workItems(id,date,duration(minutes,presentation),author(id,login,name),text))," +
		"project(id,name,shortName)"

	// ReducedIssueFields is the fallback selector used when the full one fails.
	ReducedIssueFields = "id,idReadable,summary,created,updated,resolved," +
		"customFields(id,name,$type,value(id,name,login,text,presentation,$type))," +
		"project(id,name,shortName)"

	ActivityFields = "id,timestamp,author(id,login,name,fullName),category(id)," +
		"added(id,name,login,text,presentation,$type),removed(id,name,login,text,presentation,$type)," +
		"field(id,name,customField(id,name,fieldType(id)))," +
		"target(id,field(id,name,customField(id,name,fieldType(id))))"

	BundleFields = "id,name,$type,values(id,name,description,isResolved,ordinal)"

	ProjectFields = "id,name,shortName,description,leader(id,login,name),createdBy(id,login,name)"

	AgileFields = "id,name,projects(id,name,shortName)"

	SprintFields = "id,name,goal,start,finish,archived,isDefault"
)

// Activity categories understood by the history fetcher.
const (
	CategoryCustomField  = "CustomFieldCategory"
	CategoryIssueCreated = "IssueCreatedCategory"
	CategoryComments     = "CommentsCategory"
)

// DefaultCategories is the category filter sent with history requests.
var DefaultCategories = []string{CategoryCustomField, CategoryIssueCreated, CategoryComments}

// Millis is an epoch-millisecond timestamp as YouTrack encodes it. Values
// that are null, missing, or of an unexpected shape decode as invalid
// instead of failing the surrounding record.
type Millis struct {
	Value int64
	Valid bool
}

// UnmarshalJSON accepts numbers, numeric strings, and null.
func (m *Millis) UnmarshalJSON(data []byte) error {
	*m = Millis{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || math.Abs(n) >= math.MaxInt64 {
		return nil
	}
	m.Value = int64(n)
	m.Valid = true
	return nil
}

// MarshalJSON writes the raw millisecond count, or null when invalid.
func (m Millis) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, m.Value, 10), nil
}

// Time converts to UTC. ok is false when the timestamp is invalid.
func (m Millis) Time() (t time.Time, ok bool) {
	if !m.Valid {
		return time.Time{}, false
	}
	return time.UnixMilli(m.Value).UTC(), true
}

// TimePtr returns nil for an invalid timestamp.
func (m Millis) TimePtr() *time.Time {
	t, ok := m.Time()
	if !ok {
		return nil
	}
	return &t
}

// MillisOf builds a valid Millis from a time.
func MillisOf(t time.Time) Millis {
	return Millis{Value: t.UnixMilli(), Valid: true}
}

// User is a YouTrack user reference.
type User struct {
	ID       string `json:"id,omitempty"`
	Login    string `json:"login,omitempty"`
	Name     string `json:"name,omitempty"`
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"email,omitempty"`
}

// DisplayName returns the user's name, falling back to login then "Unknown".
func (u *User) DisplayName() string {
	if u == nil {
		return "Unknown"
	}
	switch {
	case u.Name != "":
		return u.Name
	case u.FullName != "":
		return u.FullName
	case u.Login != "":
		return u.Login
	}
	return "Unknown"
}

// Project identifies a YouTrack project.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	ShortName   string `json:"shortName,omitempty"`
	Description string `json:"description,omitempty"`
	Leader      *User  `json:"leader,omitempty"`
	CreatedBy   *User  `json:"createdBy,omitempty"`
}

// CustomField is one entry of an issue's customFields array.
type CustomField struct {
	ID    string     `json:"id,omitempty"`
	Name  string     `json:"name"`
	Type  string     `json:"$type,omitempty"`
	Value FieldValue `json:"value"`
}

// Comment is an issue comment.
type Comment struct {
	ID      string `json:"id"`
	Text    string `json:"text,omitempty"`
	Created Millis `json:"created"`
	Author  *User  `json:"author,omitempty"`
}

// Tag is an issue tag.
type Tag struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// IssueRef is a lightweight reference to another issue.
type IssueRef struct {
	ID         string `json:"id"`
	IDReadable string `json:"idReadable,omitempty"`
	Summary    string `json:"summary,omitempty"`
	Resolved   Millis `json:"resolved"`
}

// LinkType names an issue link type.
type LinkType struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Link is one direction of an issue link with the issues on the other side.
type Link struct {
	ID        string     `json:"id,omitempty"`
	Direction string     `json:"direction,omitempty"`
	LinkType  *LinkType  `json:"linkType,omitempty"`
	Issues    []IssueRef `json:"issues,omitempty"`
}

// IssueRefs wraps the parent/subtasks link shape.
type IssueRefs struct {
	Issues []IssueRef `json:"issues,omitempty"`
}

// Duration is a work item duration.
type Duration struct {
	Minutes      int    `json:"minutes"`
	Presentation string `json:"presentation,omitempty"`
}

// WorkItem is a time tracking entry.
type WorkItem struct {
	ID       string   `json:"id,omitempty"`
	Date     Millis   `json:"date"`
	Duration Duration `json:"duration"`
	Author   *User    `json:"author,omitempty"`
	Text     string   `json:"text,omitempty"`
}

// TimeTracking holds the work items logged against an issue.
type TimeTracking struct {
	WorkItems []WorkItem `json:"workItems,omitempty"`
}

// Sprint is an agile board sprint, or the sprint an issue belongs to.
type Sprint struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Goal      string `json:"goal,omitempty"`
	Start     Millis `json:"start"`
	Finish    Millis `json:"finish"`
	Archived  bool   `json:"archived,omitempty"`
	IsDefault bool   `json:"isDefault,omitempty"`
}

// Agile is an agile board.
type Agile struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Projects []Project `json:"projects,omitempty"`
}

// Issue is a raw issue record as returned by the issues endpoint.
type Issue struct {
	ID           string        `json:"id"`
	IDReadable   string        `json:"idReadable,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	Description  *string       `json:"description,omitempty"`
	Created      Millis        `json:"created"`
	Updated      Millis        `json:"updated"`
	Resolved     Millis        `json:"resolved"`
	CustomFields []CustomField `json:"customFields,omitempty"`
	Comments     []Comment     `json:"comments,omitempty"`
	Reporter     *User         `json:"reporter,omitempty"`
	Tags         []Tag         `json:"tags,omitempty"`
	Links        []Link        `json:"links,omitempty"`
	Parent       *IssueRefs    `json:"parent,omitempty"`
	Subtasks     *IssueRefs    `json:"subtasks,omitempty"`
	TimeTracking *TimeTracking `json:"timeTracking,omitempty"`
	Project      *Project      `json:"project,omitempty"`
}

// Field returns the first custom field with the given name.
func (i *Issue) Field(name string) (CustomField, bool) {
	for _, f := range i.CustomFields {
		if f.Name == name {
			return f, true
		}
	}
	return CustomField{}, false
}

// ActivityCategory is the category of an activity item. YouTrack sends it
// as an object with an id; a bare string is accepted too.
type ActivityCategory struct {
	ID string `json:"id"`
}

// UnmarshalJSON tolerates a bare string or an object with an id. Any other
// shape leaves the category empty.
func (c *ActivityCategory) UnmarshalJSON(data []byte) error {
	*c = ActivityCategory{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		_ = json.Unmarshal(data, &c.ID)
	case '{':
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &obj); err == nil {
			c.ID = obj.ID
		}
	}
	return nil
}

// FieldRef describes the field an activity touched.
type FieldRef struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	CustomField *struct {
		ID        string `json:"id,omitempty"`
		Name      string `json:"name,omitempty"`
		FieldType *struct {
			ID string `json:"id,omitempty"`
		} `json:"fieldType,omitempty"`
	} `json:"customField,omitempty"`
}

// ActivityTarget is the entity an activity was recorded against.
type ActivityTarget struct {
	ID    string    `json:"id,omitempty"`
	Field *FieldRef `json:"field,omitempty"`
}

// Activity is one entry of an issue's activity history.
type Activity struct {
	ID        string           `json:"id"`
	Timestamp Millis           `json:"timestamp"`
	Author    *User            `json:"author,omitempty"`
	Category  ActivityCategory `json:"category"`
	Added     FieldValue       `json:"added"`
	Removed   FieldValue       `json:"removed"`
	Field     *FieldRef        `json:"field,omitempty"`
	Target    *ActivityTarget  `json:"target,omitempty"`
}

func (a *Activity) fieldRef() *FieldRef {
	if a.Field != nil {
		return a.Field
	}
	if a.Target != nil {
		return a.Target.Field
	}
	return nil
}

// FieldName resolves the name of the field the activity changed.
func (a *Activity) FieldName() string {
	f := a.fieldRef()
	if f == nil {
		return ""
	}
	if f.Name != "" {
		return f.Name
	}
	if f.CustomField != nil {
		return f.CustomField.Name
	}
	return ""
}

// FieldType returns the custom field type id, if known.
func (a *Activity) FieldType() string {
	f := a.fieldRef()
	if f == nil || f.CustomField == nil || f.CustomField.FieldType == nil {
		return ""
	}
	return f.CustomField.FieldType.ID
}

// BundleValue is one value of an enum or state bundle.
type BundleValue struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	IsResolved  *bool  `json:"isResolved,omitempty" yaml:"isResolved,omitempty"`
	Ordinal     int    `json:"ordinal,omitempty" yaml:"ordinal,omitempty"`
}

// Bundle is a custom field value bundle.
type Bundle struct {
	ID     string        `json:"id"`
	Name   string        `json:"name,omitempty"`
	Type   string        `json:"$type,omitempty"`
	Values []BundleValue `json:"values,omitempty"`
}
