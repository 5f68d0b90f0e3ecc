package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/pulse/internal/metrics"
	"github.com/steveyegge/pulse/internal/snapshot"
	"github.com/steveyegge/pulse/internal/timeparsing"
	"github.com/steveyegge/pulse/internal/ui"
)

var (
	extractSince  string
	extractFormat string
	extractOut    string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run one extraction and write the snapshot",
	Long: `Extract fetches the project's issues, custom field bundles, sprints, and
recent activity history, computes metrics, and writes the snapshot.

A fatal failure replaces the previous snapshot with a failure marker and
exits non-zero. Partial failures (history for some issues, sprints,
bundles) are recorded under "degraded" and the run still succeeds.

Examples:
  pulse extract
  pulse extract --since 72h
  pulse extract --since "last monday" --format yaml
  pulse extract --out /srv/pulse/snapshot.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cfg)
		if err != nil {
			return err
		}
		opts := pipelineOptions(cfg)

		if extractSince != "" {
			since, err := timeparsing.ParseSince(extractSince, time.Now())
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			opts.History.Since = since
		}
		if extractOut != "" {
			opts.OutputPath = extractOut
		}
		if extractFormat != "" {
			path, err := withFormat(opts.OutputPath, extractFormat)
			if err != nil {
				return err
			}
			opts.OutputPath = path
		}

		engine := newEngine(client, opts, cmd.ErrOrStderr())
		snap, err := engine.Run(rootCtx)
		if err != nil {
			return fmt.Errorf("extraction failed: %w", err)
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, extractResult{
				RunID:    snap.RunID,
				Path:     opts.OutputPath,
				Issues:   len(snap.Issues),
				Degraded: snap.Degraded.Any(),
				Metrics:  snap.Metrics,
			})
		}
		fmt.Fprint(out, ui.RenderSnapshot(snap, time.Now()))
		fmt.Fprintf(out, "\n%s wrote %s\n", ui.Icon(ui.IconPass), opts.OutputPath)
		return nil
	},
}

type extractResult struct {
	RunID    string            `json:"run_id"`
	Path     string            `json:"path"`
	Issues   int               `json:"issues"`
	Degraded bool              `json:"degraded"`
	Metrics  *metrics.Snapshot `json:"metrics,omitempty"`
}

// withFormat swaps the extension of path to match format.
func withFormat(path, format string) (string, error) {
	var ext string
	switch strings.ToLower(format) {
	case string(snapshot.FormatJSON):
		ext = ".json"
	case string(snapshot.FormatYAML), "yml":
		ext = ".yaml"
	default:
		return "", fmt.Errorf("invalid --format %q (want json or yaml)", format)
	}
	if snapshot.FormatFor(path) == snapshot.FormatFor("x"+ext) {
		return path, nil
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext, nil
}

func init() {
	extractCmd.Flags().StringVar(&extractSince, "since", "", "Only keep activity after this time (72h, 2w, 2024-06-01, \"last monday\")")
	extractCmd.Flags().StringVar(&extractFormat, "format", "", "Snapshot format: json or yaml (default: from the file extension)")
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", "", "Snapshot path (default: output.dir/output.file)")
	rootCmd.AddCommand(extractCmd)
}
