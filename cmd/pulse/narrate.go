package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/pulse/internal/report"
	"github.com/steveyegge/pulse/internal/snapshot"
	"github.com/steveyegge/pulse/internal/ui"
)

var (
	narrateSnapshot string
	narrateVoice    bool
	narrateOffline  bool
)

var narrateCmd = &cobra.Command{
	Use:   "narrate",
	Short: "Write the status briefing for the latest snapshot",
	Long: `Narrate sends the latest snapshot to the Anthropic API and prints the
briefing it writes. Requires report.api_key or ANTHROPIC_API_KEY.

--offline prints the deterministic markdown summary instead, without any
API call.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := snapshot.Read(snapshotPath(narrateSnapshot))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if narrateOffline {
			if jsonOutput {
				return outputJSON(out, report.Narration{Analysis: report.Summary(snap)})
			}
			fmt.Fprint(out, ui.RenderMarkdown(report.Summary(snap)))
			return nil
		}

		narrator, err := report.NewAnthropicNarrator(cfg.Report.APIKey, cfg.Report.Model, cfg.Report.MaxTokens)
		if err != nil {
			return err
		}
		n, err := narrator.Narrate(rootCtx, snap)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(out, n)
		}
		fmt.Fprint(out, ui.RenderMarkdown(n.Analysis))
		if narrateVoice && n.VoiceScript != "" {
			fmt.Fprintf(out, "\n%s\n%s\n", ui.RenderCategory("Voice script"), n.VoiceScript)
		}
		return nil
	},
}

func init() {
	narrateCmd.Flags().StringVar(&narrateSnapshot, "snapshot", "", "Snapshot to narrate (default: output.dir/output.file)")
	narrateCmd.Flags().BoolVar(&narrateVoice, "voice", false, "Also print the voice script")
	narrateCmd.Flags().BoolVar(&narrateOffline, "offline", false, "Print the markdown summary without calling the API")
	rootCmd.AddCommand(narrateCmd)
}
