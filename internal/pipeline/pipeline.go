// Package pipeline runs one extraction: fetch issues and their histories,
// normalize them, compute metrics, and persist a snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/pulse/internal/metrics"
	"github.com/steveyegge/pulse/internal/normalize"
	"github.com/steveyegge/pulse/internal/snapshot"
	"github.com/steveyegge/pulse/internal/telemetry"
	"github.com/steveyegge/pulse/internal/youtrack"
)

const tracerName = "github.com/steveyegge/pulse/pipeline"

var (
	// ErrExtractionFailed is returned when the issue list cannot be fetched.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrNoIssues is returned when the query matched nothing.
	ErrNoIssues = errors.New("no issues retrieved")
)

// DefinitionFields are the fields whose bundle values are recorded in the
// snapshot.
var DefinitionFields = []string{"State", "Type", "Priority"}

// Source is the remote side of an extraction. *youtrack.Client satisfies it.
type Source interface {
	FetchProject(ctx context.Context, id string) (*youtrack.Project, error)
	FetchIssues(ctx context.Context, query, fields string, pageSize int) ([]youtrack.Issue, error)
	FetchHistories(ctx context.Context, issueIDs []string, opts youtrack.HistoryOptions) (*youtrack.HistoryResult, error)
	FetchBundles(ctx context.Context) ([]youtrack.Bundle, error)
	FetchProjectSprints(ctx context.Context, projectID string) ([]youtrack.Sprint, error)
}

// Options configures a run.
type Options struct {
	ProjectID string
	// Query overrides the project query when set.
	Query    string
	PageSize int

	History youtrack.HistoryOptions
	// Lookback sets History.Since to now-Lookback when History.Since is zero.
	Lookback time.Duration

	// ReducedFallback retries the issue fetch with a smaller field set when
	// the full selector fails.
	ReducedFallback bool
	Sprints         bool

	Normalize normalize.Options
	Metrics   metrics.Options

	// OutputPath is where the snapshot is written. Empty skips persistence.
	OutputPath string
}

func (o Options) query() string {
	if o.Query != "" {
		return o.Query
	}
	return youtrack.ProjectQuery(o.ProjectID)
}

// Engine runs extractions against a Source.
type Engine struct {
	Source  Source
	Options Options
	Log     *slog.Logger

	// Now and NewRunID are replaceable for tests.
	Now      func() time.Time
	NewRunID func() string

	// Callbacks for UI feedback (optional).
	OnMessage func(msg string)
	OnWarning func(msg string)
}

// NewEngine creates an engine. A nil logger discards.
func NewEngine(src Source, opts Options, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		Source:   src,
		Options:  opts,
		Log:      log,
		Now:      time.Now,
		NewRunID: uuid.NewString,
	}
}

// extraction is the raw output of the fetch stages.
type extraction struct {
	project  *youtrack.Project
	issues   []youtrack.Issue
	history  *youtrack.HistoryResult
	bundles  []youtrack.Bundle
	sprints  []youtrack.Sprint
	degraded snapshot.Degradation
}

// Run performs one extraction. On a fatal error the failure marker replaces
// the previous artifact and the error is returned. Degraded but usable runs
// return a complete snapshot with Degraded set.
func (e *Engine) Run(ctx context.Context) (snap *snapshot.Snapshot, retErr error) {
	start := e.Now().UTC()
	runID := e.NewRunID()
	log := e.Log.With("run_id", runID)

	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("pulse.run_id", runID),
			attribute.String("pulse.project", e.Options.ProjectID),
		),
	)
	inst := telemetry.PipelineMetrics()
	defer func() {
		outcome := "complete"
		if retErr != nil {
			outcome = "failed"
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		inst.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		inst.RunDuration.Record(ctx, e.Now().Sub(start).Seconds())
		span.End()
	}()

	ex, err := e.extract(ctx, start, log)
	if err != nil {
		log.Error("extraction failed", "error", err)
		e.persistFailure(runID, start, err, log)
		return nil, err
	}
	inst.Issues.Add(ctx, int64(len(ex.issues)))
	if n := len(ex.degraded.HistoryFailed) + len(ex.degraded.HistoryIncomplete); n > 0 {
		inst.HistoryDegraded.Add(ctx, int64(n))
	}

	snap = e.assemble(ctx, runID, start, ex, log)

	if e.Options.OutputPath != "" {
		if err := snapshot.Write(e.Options.OutputPath, snap); err != nil {
			return snap, fmt.Errorf("persist snapshot: %w", err)
		}
		e.msg("Wrote %s (%d issues)", e.Options.OutputPath, len(snap.Issues))
	}
	log.Info("extraction complete",
		"issues", len(snap.Issues),
		"activities", len(snap.Activities),
		"degraded", snap.Degraded.Any(),
		"elapsed", e.Now().Sub(start).Round(time.Millisecond),
	)
	return snap, nil
}

func (e *Engine) extract(ctx context.Context, now time.Time, log *slog.Logger) (*extraction, error) {
	ex := &extraction{}
	opts := e.Options

	if opts.ProjectID != "" {
		err := stage(ctx, "pipeline.project", func(ctx context.Context) error {
			p, err := e.Source.FetchProject(ctx, opts.ProjectID)
			if err != nil {
				return err
			}
			ex.project = p
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			ex.degraded.ProjectUnavailable = true
			e.warn("Project details unavailable for %s: %v", opts.ProjectID, err)
			log.Warn("project details unavailable", "project", opts.ProjectID, "error", err)
		}
	}

	err := stage(ctx, "pipeline.issues", func(ctx context.Context) error {
		issues, err := e.fetchIssues(ctx, ex, log)
		ex.issues = issues
		return err
	})
	if err != nil {
		return nil, err
	}
	e.msg("Fetched %d issues", len(ex.issues))

	err = stage(ctx, "pipeline.bundles", func(ctx context.Context) error {
		bundles, err := e.Source.FetchBundles(ctx)
		ex.bundles = bundles
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.warn("Custom field bundles unavailable: %v", err)
		log.Warn("custom field bundles unavailable", "error", err)
	}

	hopts := opts.History
	if hopts.Since.IsZero() && opts.Lookback > 0 {
		hopts.Since = now.Add(-opts.Lookback)
	}
	window := opts.Metrics.Window
	if window <= 0 {
		window = metrics.DefaultWindow
	}
	// history starting after the window opens undercounts the window counters
	if !hopts.Since.IsZero() && hopts.Since.After(now.Add(-window)) {
		ex.degraded.ActivityWindowTruncated = true
		e.warn("Activity history starts at %s, inside the %s metrics window; window counters undercount",
			hopts.Since.UTC().Format(time.RFC3339), window)
		log.Warn("activity lookback shorter than metrics window", "since", hopts.Since, "window", window)
	}
	err = stage(ctx, "pipeline.histories", func(ctx context.Context) error {
		res, err := e.Source.FetchHistories(ctx, issueIDs(ex.issues), hopts)
		ex.history = res
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch histories: %w", err)
	}
	ex.degraded.HistoryFailed = ex.history.Failed
	ex.degraded.HistoryIncomplete = ex.history.Incomplete
	if n := len(ex.history.Failed) + len(ex.history.Incomplete); n > 0 {
		e.warn("History degraded for %d of %d issues", n, len(ex.issues))
	}

	if opts.Sprints && opts.ProjectID != "" {
		err = stage(ctx, "pipeline.sprints", func(ctx context.Context) error {
			sprints, err := e.Source.FetchProjectSprints(ctx, opts.ProjectID)
			ex.sprints = sprints
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			ex.degraded.SprintsUnavailable = true
			e.warn("Sprints unavailable: %v", err)
			log.Warn("sprints unavailable", "project", opts.ProjectID, "error", err)
		}
	}
	return ex, nil
}

// fetchIssues fetches with the full selector, then the reduced one.
func (e *Engine) fetchIssues(ctx context.Context, ex *extraction, log *slog.Logger) ([]youtrack.Issue, error) {
	query := e.Options.query()
	issues, err := e.Source.FetchIssues(ctx, query, youtrack.IssueFields, e.Options.PageSize)
	if err != nil && e.Options.ReducedFallback && ctx.Err() == nil {
		log.Warn("issue fetch failed, retrying with reduced fields", "error", err)
		e.warn("Issue fetch failed, retrying with reduced fields")
		var rerr error
		issues, rerr = e.Source.FetchIssues(ctx, query, youtrack.ReducedIssueFields, e.Options.PageSize)
		if rerr == nil {
			ex.degraded.ReducedIssueFields = true
			err = nil
		} else {
			err = errors.Join(err, rerr)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	if len(issues) == 0 {
		return nil, fmt.Errorf("%w for query %q", ErrNoIssues, query)
	}
	return issues, nil
}

func (e *Engine) assemble(ctx context.Context, runID string, now time.Time, ex *extraction, log *slog.Logger) *snapshot.Snapshot {
	_, span := telemetry.Tracer(tracerName).Start(ctx, "pipeline.normalize")
	n := normalize.New(e.Options.Normalize, log)
	issues, fields := n.Normalize(ex.issues)
	activities := n.Activities(issues.IDs(), ex.history.Activities)
	comments := n.Comments(ex.issues)
	sprints := n.Sprints(ex.sprints)
	span.End()

	defs := make(map[string][]youtrack.BundleValue, len(DefinitionFields))
	for _, name := range DefinitionFields {
		if values, ok := youtrack.FindBundle(ex.bundles, name); ok {
			defs[name] = values
		}
	}
	stateValues, found := youtrack.FindBundle(ex.bundles, "State")

	_, span = telemetry.Tracer(tracerName).Start(ctx, "pipeline.metrics")
	mopts := e.Options.Metrics
	mopts.Now = now
	mopts.ResolvedStates = metrics.ResolvedStateSet(stateValues, found, log)
	m := metrics.Compute(issues, activities, mopts, log)
	span.End()

	degraded := ex.degraded
	degraded.ResolvedStatesFallback = m.Degraded()
	if degraded.ResolvedStatesFallback {
		e.warn("Resolved states fell back to defaults; metrics have degraded accuracy")
	}

	snap := &snapshot.Snapshot{
		RunID:                  runID,
		Status:                 snapshot.StatusComplete,
		ExtractedAt:            now,
		Project:                projectInfo(ex.project),
		Issues:                 issues,
		CustomFields:           fields,
		Activities:             activities,
		Comments:               comments,
		Sprints:                sprints,
		CustomFieldDefinitions: defs,
		Metrics:                &m,
		Degraded:               degraded,
	}
	if snap.Project == nil && e.Options.ProjectID != "" {
		snap.Project = &snapshot.ProjectInfo{ID: e.Options.ProjectID}
	}
	return snap
}

func (e *Engine) persistFailure(runID string, at time.Time, cause error, log *slog.Logger) {
	if e.Options.OutputPath == "" {
		return
	}
	if err := snapshot.Write(e.Options.OutputPath, snapshot.Failed(runID, at, cause)); err != nil {
		log.Error("failed to write failure marker", "path", e.Options.OutputPath, "error", err)
	}
}

func projectInfo(p *youtrack.Project) *snapshot.ProjectInfo {
	if p == nil {
		return nil
	}
	info := &snapshot.ProjectInfo{
		ID:          p.ID,
		Name:        p.Name,
		ShortName:   p.ShortName,
		Description: p.Description,
	}
	if p.Leader != nil {
		info.Leader = p.Leader.DisplayName()
	}
	return info
}

func issueIDs(issues []youtrack.Issue) []string {
	ids := make([]string, 0, len(issues))
	seen := make(map[string]bool, len(issues))
	for _, is := range issues {
		if is.ID == "" || seen[is.ID] {
			continue
		}
		seen[is.ID] = true
		ids = append(ids, is.ID)
	}
	return ids
}

// stage runs fn inside a span named name.
func stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (e *Engine) msg(format string, args ...interface{}) {
	if e.OnMessage != nil {
		e.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (e *Engine) warn(format string, args ...interface{}) {
	if e.OnWarning != nil {
		e.OnWarning(fmt.Sprintf(format, args...))
	}
}
