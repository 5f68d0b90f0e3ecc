package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/steveyegge/pulse/internal/config"
	"github.com/steveyegge/pulse/internal/ui"
)

var (
	initPath      string
	initBaseURL   string
	initToken     string
	initProject   string
	initOutputDir string
	initCron      string
	initForce     bool
	initYes       bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter pulse.yaml",
	Long: `Init writes a starter configuration file. On a terminal it asks for the
YouTrack URL, project, and schedule; flags prefill the answers, and --yes
writes them without asking.

The token is only written when given with --token. Prefer setting
PULSE_YOUTRACK_TOKEN (or YOUTRACK_TOKEN) in the environment or .env.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &config.Starter{}
		s.YouTrack.BaseURL = initBaseURL
		s.YouTrack.Token = initToken
		s.YouTrack.ProjectID = initProject
		s.Output.Dir = initOutputDir
		s.Output.File = "snapshot.json"
		s.Serve.Cron = initCron

		if !initYes && ui.IsTerminal() {
			if err := runInitForm(s); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Fprintln(cmd.ErrOrStderr(), "Init cancelled.")
					return nil
				}
				return fmt.Errorf("form error: %w", err)
			}
		}
		if err := validateBaseURL(s.YouTrack.BaseURL); err != nil {
			return err
		}
		if strings.TrimSpace(s.YouTrack.ProjectID) == "" {
			return errors.New("project is required (--project)")
		}

		if err := config.WriteStarter(initPath, s, initForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", ui.Icon(ui.IconPass), initPath)
		if s.YouTrack.Token == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s set PULSE_YOUTRACK_TOKEN before running 'pulse extract'\n", ui.Icon(ui.IconInfo))
		}
		return nil
	},
}

func runInitForm(s *config.Starter) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("YouTrack URL").
				Description("Base URL of the instance, without /api").
				Placeholder("https://example.youtrack.cloud").
				Value(&s.YouTrack.BaseURL).
				Validate(validateBaseURL),

			huh.NewInput().
				Title("Project").
				Description("Project ID or short name").
				Placeholder("e.g., PAY").
				Value(&s.YouTrack.ProjectID).
				Validate(func(v string) error {
					if strings.TrimSpace(v) == "" {
						return fmt.Errorf("project is required")
					}
					return nil
				}),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Output directory").
				Description("Where snapshot.json is written").
				Value(&s.Output.Dir),

			huh.NewSelect[string]().
				Title("Report schedule").
				Description("Used by 'pulse serve'").
				Options(
					huh.NewOption("None", ""),
					huh.NewOption("Weekdays at 07:00", "0 7 * * 1-5"),
					huh.NewOption("Daily at 07:00", "0 7 * * *"),
					huh.NewOption("Hourly", "@hourly"),
				).
				Value(&s.Serve.Cron),

			huh.NewConfirm().
				Title("Write config?").
				Affirmative("Write").
				Negative("Cancel"),
		),
	).WithTheme(huh.ThemeDracula())

	return form.Run()
}

func validateBaseURL(v string) error {
	u, err := url.Parse(strings.TrimSpace(v))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid YouTrack URL %q (want https://host)", v)
	}
	return nil
}

func init() {
	initCmd.Flags().StringVar(&initPath, "path", config.DefaultConfigName+".yaml", "Config file to write")
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "YouTrack base URL")
	initCmd.Flags().StringVar(&initToken, "token", "", "YouTrack permanent token (stored in plain text)")
	initCmd.Flags().StringVar(&initProject, "project", "", "Project ID or short name")
	initCmd.Flags().StringVar(&initOutputDir, "output-dir", "data", "Snapshot directory")
	initCmd.Flags().StringVar(&initCron, "cron", "", "Report schedule for 'pulse serve'")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")
	initCmd.Flags().BoolVarP(&initYes, "yes", "y", false, "Do not prompt; use the flag values")
	rootCmd.AddCommand(initCmd)
}
