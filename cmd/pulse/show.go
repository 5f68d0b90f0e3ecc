package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/steveyegge/pulse/internal/snapshot"
	"github.com/steveyegge/pulse/internal/ui"
)

var (
	showSnapshot string
	showWatch    bool
	showNoPager  bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the latest snapshot",
	Long: `Show renders a summary of the latest snapshot: recent activity, open and
resolved counts, workload, and data quality notes.

With --watch the summary is redrawn whenever the snapshot file changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := snapshotPath(showSnapshot)
		out := cmd.OutOrStdout()

		if showWatch {
			return watchSnapshot(rootCtx, path, out, cmd.ErrOrStderr())
		}

		snap, err := snapshot.Read(path)
		if err != nil {
			if errors.Is(err, snapshot.ErrNotFound) {
				return fmt.Errorf("%w (run 'pulse extract' first)", err)
			}
			return err
		}
		if jsonOutput {
			return outputJSON(out, snap)
		}
		content := ui.RenderSnapshot(snap, time.Now())
		if out != os.Stdout {
			_, err := io.WriteString(out, content)
			return err
		}
		return ui.ToPager(content, ui.PagerOptions{NoPager: showNoPager})
	},
}

// displaySnapshot renders the snapshot at path, or the read error.
func displaySnapshot(path string, w io.Writer) {
	snap, err := snapshot.Read(path)
	if err != nil {
		fmt.Fprintf(w, "%s %v\n", ui.Icon(ui.IconFail), err)
		return
	}
	fmt.Fprint(w, ui.RenderSnapshot(snap, time.Now()))
}

// watchSnapshot redraws the summary whenever the snapshot is replaced.
// Snapshot writes are atomic renames, so the directory is watched rather
// than the file.
func watchSnapshot(ctx context.Context, path string, out, errOut io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	redraw := func() {
		if ui.IsTerminal() {
			fmt.Fprint(out, "\033[H\033[2J")
		}
		displaySnapshot(path, out)
		fmt.Fprintf(errOut, "\nWatching %s for changes... (Press Ctrl+C to exit)\n", path)
	}
	redraw()

	const debounceDelay = 300 * time.Millisecond
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	base := filepath.Base(path)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(errOut, "\nStopped watching.\n")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, redraw)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}

func init() {
	showCmd.Flags().StringVar(&showSnapshot, "snapshot", "", "Snapshot to read (default: output.dir/output.file)")
	showCmd.Flags().BoolVarP(&showWatch, "watch", "w", false, "Redraw when the snapshot changes")
	showCmd.Flags().BoolVar(&showNoPager, "no-pager", false, "Disable the pager")
	rootCmd.AddCommand(showCmd)
}
