// Package snapshot persists extraction results as one self-describing
// artifact. Each write atomically replaces the previous artifact, so readers
// see either a complete snapshot or an explicit failure marker.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/pulse/internal/metrics"
	"github.com/steveyegge/pulse/internal/normalize"
	"github.com/steveyegge/pulse/internal/youtrack"
)

// ErrNotFound is returned by Read when no artifact exists at the path.
var ErrNotFound = errors.New("snapshot not found")

// Status is the outcome recorded in an artifact.
type Status string

const (
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Format is the artifact encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the encoding from the file extension; anything other
// than .yaml/.yml is JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// ProjectInfo describes the extracted project.
type ProjectInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	ShortName   string `json:"short_name,omitempty"`
	Description string `json:"description,omitempty"`
	Leader      string `json:"leader,omitempty"`
}

// Degradation records what the run could not do fully.
type Degradation struct {
	ResolvedStatesFallback bool     `json:"resolved_states_fallback"`
	HistoryFailed          []string `json:"history_failed,omitempty"`
	HistoryIncomplete      []string `json:"history_incomplete,omitempty"`
	ReducedIssueFields     bool     `json:"reduced_issue_fields,omitempty"`
	ProjectUnavailable     bool     `json:"project_unavailable,omitempty"`
	SprintsUnavailable     bool     `json:"sprints_unavailable,omitempty"`

	// ActivityWindowTruncated is set when history was fetched from a point
	// later than the start of the metrics window.
	ActivityWindowTruncated bool `json:"activity_window_truncated,omitempty"`
}

// Any reports whether anything degraded.
func (d Degradation) Any() bool {
	return d.ResolvedStatesFallback || len(d.HistoryFailed) > 0 || len(d.HistoryIncomplete) > 0 ||
		d.ReducedIssueFields || d.ProjectUnavailable || d.SprintsUnavailable || d.ActivityWindowTruncated
}

// Snapshot is the persisted artifact of one extraction run.
type Snapshot struct {
	RunID       string       `json:"run_id"`
	Status      Status       `json:"status"`
	Error       string       `json:"error,omitempty"`
	ExtractedAt time.Time    `json:"extracted_at"`
	Project     *ProjectInfo `json:"project,omitempty"`

	Issues       normalize.IssueTable       `json:"issues"`
	CustomFields normalize.CustomFieldTable `json:"custom_fields"`
	Activities   normalize.ActivityTable    `json:"activities"`
	Comments     []normalize.CommentRecord  `json:"comments"`
	Sprints      []normalize.SprintRecord   `json:"sprints"`

	CustomFieldDefinitions map[string][]youtrack.BundleValue `json:"custom_field_definitions,omitempty"`

	Metrics  *metrics.Snapshot `json:"metrics,omitempty"`
	Degraded Degradation       `json:"degraded"`
}

// Failed builds a failure marker for a run that could not complete.
func Failed(runID string, at time.Time, cause error) *Snapshot {
	msg := "extraction failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &Snapshot{
		RunID:       runID,
		Status:      StatusFailed,
		Error:       msg,
		ExtractedAt: at.UTC(),
	}
}

// OK reports whether the snapshot is complete.
func (s *Snapshot) OK() bool {
	return s.Status == StatusComplete
}

// Encode serializes s in the given format.
func Encode(s *Snapshot, format Format) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if format != FormatYAML {
		return append(data, '\n'), nil
	}

	// YAML goes through the JSON form so both encodings share field names.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to convert snapshot: %w", err)
	}
	out, err := yaml.Marshal(plainNumbers(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot yaml: %w", err)
	}
	return out, nil
}

// plainNumbers replaces json.Number with int64 or float64 so YAML emits
// integers (millisecond timestamps included) without exponent notation.
func plainNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = plainNumbers(item)
		}
	case []any:
		for i, item := range t {
			t[i] = plainNumbers(item)
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	return v
}

// Decode parses an artifact in the given format.
func Decode(data []byte, format Format) (*Snapshot, error) {
	if format == FormatYAML {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse snapshot yaml: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert snapshot yaml: %w", err)
		}
		data = converted
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &s, nil
}

// Write atomically replaces the artifact at path, creating parent
// directories as needed.
func Write(path string, s *Snapshot) error {
	data, err := Encode(s, FormatFor(path))
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot file: %w", err)
	}
	tempPath := tempFile.Name()
	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	_ = tempFile.Close()

	if err := os.Chmod(tempPath, 0o600); err != nil {
		return fmt.Errorf("failed to set snapshot permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}
	return nil
}

// Read loads the artifact at path.
func Read(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from configuration
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return Decode(data, FormatFor(path))
}

// FreshnessReport describes the age of the artifact.
type FreshnessReport struct {
	Path        string        `json:"path"`
	Exists      bool          `json:"exists"`
	Fresh       bool          `json:"fresh"`
	Status      Status        `json:"status,omitempty"`
	ExtractedAt time.Time     `json:"extracted_at,omitempty"`
	Age         time.Duration `json:"age"`
	MaxAge      time.Duration `json:"max_age"`
}

// Freshness reports whether the artifact at path is complete and no older
// than maxAge at now. A missing artifact is reported, not returned as an
// error.
func Freshness(path string, maxAge time.Duration, now time.Time) (FreshnessReport, error) {
	r := FreshnessReport{Path: path, MaxAge: maxAge}
	s, err := Read(path)
	if errors.Is(err, ErrNotFound) {
		return r, nil
	}
	if err != nil {
		return r, err
	}
	r.Exists = true
	r.Status = s.Status
	r.ExtractedAt = s.ExtractedAt
	r.Age = now.Sub(s.ExtractedAt)
	if r.Age < 0 {
		r.Age = 0
	}
	r.Fresh = s.OK() && r.Age <= maxAge
	return r, nil
}
