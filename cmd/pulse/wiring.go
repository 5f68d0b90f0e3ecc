package main

import (
	"fmt"
	"io"

	"github.com/steveyegge/pulse/internal/config"
	"github.com/steveyegge/pulse/internal/metrics"
	"github.com/steveyegge/pulse/internal/normalize"
	"github.com/steveyegge/pulse/internal/pipeline"
	"github.com/steveyegge/pulse/internal/report"
	"github.com/steveyegge/pulse/internal/ui"
	"github.com/steveyegge/pulse/internal/youtrack"
)

// newClient builds the YouTrack client for the loaded config. It fails
// when the connection settings are incomplete.
func newClient(c *config.Config) (*youtrack.Client, error) {
	if err := c.ValidateRemote(); err != nil {
		return nil, err
	}
	return youtrack.NewClient(youtrack.Settings{
		BaseURL:         c.YouTrack.BaseURL,
		Token:           c.YouTrack.Token,
		Timeout:         c.YouTrack.Timeout,
		MaxRetries:      c.YouTrack.MaxRetries,
		RetryDelay:      c.YouTrack.RetryDelay,
		MaxConnsPerHost: c.YouTrack.MaxConns,
	}).WithLogger(logger), nil
}

func metricsOptions(c *config.Config) metrics.Options {
	return metrics.Options{
		Window:             c.Metrics.Window,
		StaleDays:          c.Metrics.StaleDays,
		RecentDays:         c.Metrics.RecentDays,
		BlockedStates:      c.Metrics.BlockedStates,
		CriticalPriorities: c.Metrics.CriticalPriorities,
	}
}

func pipelineOptions(c *config.Config) pipeline.Options {
	return pipeline.Options{
		ProjectID: c.YouTrack.ProjectID,
		Query:     c.YouTrack.Query,
		PageSize:  c.YouTrack.PageSize,
		History: youtrack.HistoryOptions{
			PageSize: c.YouTrack.HistoryPageSize,
			Deadline: c.YouTrack.HistoryDeadline,
		},
		Lookback:        c.Extract.ActivityLookback,
		ReducedFallback: c.Extract.ReducedFallback,
		Sprints:         c.Extract.Sprints,
		Normalize: normalize.Options{
			EssentialFields: c.Extract.EssentialFields,
			AssigneeFields:  c.Extract.AssigneeFields,
		},
		Metrics:    metricsOptions(c),
		OutputPath: c.Output.Path(),
	}
}

// newEngine wires a pipeline engine whose progress goes to w.
func newEngine(src pipeline.Source, opts pipeline.Options, w io.Writer) *pipeline.Engine {
	engine := pipeline.NewEngine(src, opts, logger)
	engine.OnMessage = func(msg string) {
		if !quietFlag && !jsonOutput {
			fmt.Fprintf(w, "%s %s\n", ui.Icon(ui.IconInfo), ui.RenderMuted(msg))
		}
	}
	engine.OnWarning = func(msg string) {
		fmt.Fprintf(w, "%s %s\n", ui.Icon(ui.IconWarn), ui.RenderWarn(msg))
	}
	return engine
}

// newNarrator returns the Anthropic narrator, or nil when no API key is
// configured.
func newNarrator(c *config.Config) (report.Narrator, error) {
	if c.Report.APIKey == "" {
		return nil, nil
	}
	n, err := report.NewAnthropicNarrator(c.Report.APIKey, c.Report.Model, c.Report.MaxTokens)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// snapshotPath returns override, or the configured output path.
func snapshotPath(override string) string {
	if override != "" {
		return override
	}
	return cfg.Output.Path()
}
