package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/pulse/internal/config"
	"github.com/steveyegge/pulse/internal/telemetry"
	"github.com/steveyegge/pulse/internal/ui"
)

var (
	configFile string
	envFile    string
	logFormat  string

	verboseFlag bool
	quietFlag   bool
	jsonOutput  bool

	// Set by PersistentPreRunE for the running command.
	cfg        *config.Config
	logger     *slog.Logger
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

// noConfigCommands run without loading configuration.
var noConfigCommands = map[string]bool{
	"version":    true,
	"init":       true,
	"help":       true,
	"completion": true,
}

var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "YouTrack issue extraction and project metrics",
	Long: `pulse extracts issues, custom fields, and change history from a YouTrack
project, computes delivery metrics over them, and writes a snapshot that
reporting jobs and dashboards read.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupSignalContext()
		ui.ApplyColorProfile()

		if noConfigCommands[cmd.Name()] {
			logger = newLogger(cmd.ErrOrStderr(), "info", logFormat)
			return nil
		}

		var err error
		cfg, err = config.Load(config.LoadOptions{ConfigFile: configFile, EnvFile: envFile})
		if err != nil {
			return err
		}
		format := cfg.Log.Format
		if logFormat != "" {
			format = logFormat
		}
		logger = newLogger(cmd.ErrOrStderr(), cfg.Log.Level, format)
		if cfg.File != "" {
			logger.Debug("config loaded", "file", cfg.File)
		}

		if err := telemetry.Init(rootCtx, "pulse", Version); err != nil {
			logger.Warn("telemetry disabled", "error", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: ./pulse.yaml or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Dotenv file loaded before the environment (default: .env when present)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (overrides log.format)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Only log warnings and errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

func setupSignalContext() {
	if rootCancel != nil {
		rootCancel()
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCtx, rootCancel = ctx, cancel
}

// newLogger builds the slog logger. --verbose and --quiet win over the
// configured level.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch {
	case verboseFlag:
		lvl = slog.LevelDebug
	case quietFlag:
		lvl = slog.LevelWarn
	default:
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = slog.LevelInfo
		}
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if jsonOutput {
			outputJSONError(os.Stderr, err, errorCode(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
