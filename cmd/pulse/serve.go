package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/pulse/internal/config"
	"github.com/steveyegge/pulse/internal/pipeline"
	"github.com/steveyegge/pulse/internal/report"
	"github.com/steveyegge/pulse/internal/schedule"
	"github.com/steveyegge/pulse/internal/server"
	"github.com/steveyegge/pulse/internal/snapshot"
)

var (
	serveAddr     string
	serveCron     string
	serveTimezone string
	serveOutbox   string
	serveRunNow   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the snapshot over HTTP and run scheduled extractions",
	Long: `Serve exposes the latest snapshot over HTTP:

  GET  /healthz     liveness
  GET  /snapshot    the full artifact
  GET  /metrics     metrics only
  GET  /summary     markdown summary
  GET  /freshness   age of the artifact (503 when not fresh)
  POST /refresh     start an extraction now

With --cron (or serve.cron) it also runs the report cycle on that schedule:
an extraction, then the briefing when report.api_key is set, written to
--outbox when given. A tick is skipped while the snapshot is fresher than
serve.max_age.

Examples:
  pulse serve --addr :8080
  pulse serve --cron "0 7 * * 1-5" --timezone Europe/Istanbul --outbox reports/`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			cfg.Serve.Addr = serveAddr
		}
		if serveCron != "" {
			cfg.Serve.Cron = serveCron
		}
		if serveTimezone != "" {
			cfg.Serve.Timezone = serveTimezone
		}

		client, err := newClient(cfg)
		if err != nil {
			return err
		}
		narrator, err := newNarrator(cfg)
		if err != nil {
			return err
		}
		var mailer report.Mailer
		if serveOutbox != "" {
			mailer = &report.OutboxMailer{Dir: serveOutbox}
		}
		cycle := reportCycle(cfg, client, report.Collaborators{
			Narrator:      narrator,
			Mailer:        mailer,
			Recipients:    cfg.Report.Recipients,
			SubjectPrefix: cfg.Report.SubjectPrefix,
			Log:           logger,
		})

		refresh := cycle
		if cfg.Serve.Cron != "" {
			sched, err := schedule.New(schedule.Options{
				Spec:         cfg.Serve.Cron,
				Timezone:     cfg.Serve.Timezone,
				SnapshotPath: cfg.Output.Path(),
				MaxAge:       cfg.Serve.MaxAge,
				Log:          logger,
			}, cycle)
			if err != nil {
				return err
			}
			sched.Start(rootCtx)
			defer func() { <-sched.Stop().Done() }()

			refresh = func(ctx context.Context) error {
				_, err := sched.RunOnce(ctx, true)
				return err
			}
			if serveRunNow {
				go func() {
					if _, err := sched.RunOnce(rootCtx, false); err != nil && !errors.Is(err, schedule.ErrBusy) {
						logger.Error("startup report cycle failed", "error", err)
					}
				}()
			}
		} else if serveRunNow {
			go func() {
				if err := cycle(rootCtx); err != nil {
					logger.Error("startup extraction failed", "error", err)
				}
			}()
		}

		srv := server.New(server.Options{
			SnapshotPath: cfg.Output.Path(),
			MaxAge:       cfg.Serve.MaxAge,
			Refresh:      refresh,
			Log:          logger,
		})
		return srv.ListenAndServe(rootCtx, cfg.Serve.Addr)
	},
}

// reportCycle is one scheduled run: extract, then hand the result to the
// report collaborators. A failed run reports a failure marker built from
// this run's error, never whatever artifact is left on disk.
func reportCycle(c *config.Config, src pipeline.Source, collab report.Collaborators) schedule.Job {
	return func(ctx context.Context) error {
		engine := pipeline.NewEngine(src, pipelineOptions(c), logger)
		var runID string
		newRunID := engine.NewRunID
		engine.NewRunID = func() string {
			runID = newRunID()
			return runID
		}
		snap, runErr := engine.Run(ctx)
		if runErr != nil {
			snap = snapshot.Failed(runID, engine.Now(), runErr)
		}

		if collab.Narrator != nil || collab.Mailer != nil {
			out, err := report.Deliver(ctx, snap, collab)
			if err != nil {
				return errors.Join(runErr, err)
			}
			for _, e := range out.Errors {
				logger.Warn("report step degraded", "error", e)
			}
		}
		if runErr != nil {
			return fmt.Errorf("extraction failed: %w", runErr)
		}
		return nil
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: serve.addr)")
	serveCmd.Flags().StringVar(&serveCron, "cron", "", "Report schedule, five-field cron or @daily (default: serve.cron)")
	serveCmd.Flags().StringVar(&serveTimezone, "timezone", "", "IANA timezone for --cron (default: local)")
	serveCmd.Flags().StringVar(&serveOutbox, "outbox", "", "Write each report to this directory")
	serveCmd.Flags().BoolVar(&serveRunNow, "run-now", false, "Run one cycle at startup unless the snapshot is fresh")
	rootCmd.AddCommand(serveCmd)
}
