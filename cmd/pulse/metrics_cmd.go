package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/pulse/internal/pipeline"
	"github.com/steveyegge/pulse/internal/snapshot"
	"github.com/steveyegge/pulse/internal/ui"
)

var (
	metricsSnapshot string
	metricsNow      bool
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Recompute metrics from a stored snapshot",
	Long: `Metrics recomputes the metrics from the tables stored in a snapshot,
using the current metrics configuration. Nothing is fetched.

By default the window ends at the snapshot's extraction time, so the result
matches the run that wrote it. --now evaluates against the current time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := snapshotPath(metricsSnapshot)
		snap, err := snapshot.Read(path)
		if err != nil {
			return err
		}
		if !snap.OK() {
			return fmt.Errorf("snapshot %s is a failure marker: %s", path, snap.Error)
		}

		var at time.Time
		if metricsNow {
			at = time.Now()
		}
		m := pipeline.Recompute(snap, metricsOptions(cfg), at, logger)

		if jsonOutput {
			return outputJSON(cmd.OutOrStdout(), m)
		}
		view := *snap
		view.Metrics = &m
		fmt.Fprint(cmd.OutOrStdout(), ui.RenderSnapshot(&view, time.Now()))
		return nil
	},
}

func init() {
	metricsCmd.Flags().StringVar(&metricsSnapshot, "snapshot", "", "Snapshot to read (default: output.dir/output.file)")
	metricsCmd.Flags().BoolVar(&metricsNow, "now", false, "End the window at the current time instead of the extraction time")
	rootCmd.AddCommand(metricsCmd)
}
