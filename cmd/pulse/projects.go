package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/pulse/internal/ui"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List the YouTrack projects visible to the token",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cfg)
		if err != nil {
			return err
		}
		projects, err := client.ListProjects(rootCtx)
		if err != nil {
			return err
		}
		sort.Slice(projects, func(i, j int) bool {
			return strings.ToLower(projects[i].ShortName) < strings.ToLower(projects[j].ShortName)
		})

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, projects)
		}
		if len(projects) == 0 {
			fmt.Fprintln(out, "No projects visible to this token.")
			return nil
		}
		width := len("SHORT")
		for _, p := range projects {
			width = max(width, len(p.ShortName))
		}
		fmt.Fprintf(out, "%-*s  %s\n", width, "SHORT", "NAME")
		for _, p := range projects {
			marker := " "
			if p.ID == cfg.YouTrack.ProjectID || strings.EqualFold(p.ShortName, cfg.YouTrack.ProjectID) {
				marker = ui.RenderAccent("*")
			}
			fmt.Fprintf(out, "%-*s  %s %s %s\n", width, p.ShortName, p.Name, ui.RenderMuted("("+p.ID+")"), marker)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(projectsCmd)
}
