package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/pulse/internal/snapshot"
	"github.com/steveyegge/pulse/internal/ui"
)

// errStale is returned by `status --check` when the snapshot is missing,
// failed, or older than the limit.
var errStale = errors.New("snapshot is not fresh")

// defaultMaxAge applies when neither --max-age nor serve.max_age is set.
const defaultMaxAge = 24 * time.Hour

var (
	statusSnapshot string
	statusMaxAge   time.Duration
	statusCheck    bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the freshness of the snapshot",
	Long: `Status reports whether the snapshot exists, whether the last extraction
succeeded, and how old it is. With --check a snapshot that is not fresh
makes the command exit non-zero, for use in health checks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		maxAge := statusMaxAge
		if maxAge <= 0 {
			maxAge = cfg.Serve.MaxAge
		}
		if maxAge <= 0 {
			maxAge = defaultMaxAge
		}

		rep, err := snapshot.Freshness(snapshotPath(statusSnapshot), maxAge, time.Now())
		if err != nil {
			return err
		}
		if jsonOutput {
			if err := outputJSON(cmd.OutOrStdout(), rep); err != nil {
				return err
			}
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderFreshness(rep))
		}
		if statusCheck && !rep.Fresh {
			return errStale
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusSnapshot, "snapshot", "", "Snapshot to check (default: output.dir/output.file)")
	statusCmd.Flags().DurationVar(&statusMaxAge, "max-age", 0, "Freshness limit (default: serve.max_age, else 24h)")
	statusCmd.Flags().BoolVar(&statusCheck, "check", false, "Exit non-zero when the snapshot is not fresh")
	rootCmd.AddCommand(statusCmd)
}
