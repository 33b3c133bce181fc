package main

import (
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/lexgraph"
	"github.com/brunobiangulo/lexgraph/source"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Rebuild acts as their documents appear or change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		debounce, _ := cmd.Flags().GetDuration("debounce")
		w, err := source.NewWatcher(args[0], debounce)
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()

		// Changed documents are rebuilt even when a checkpoint exists.
		cfg.Force = true
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		slog.Info("watch: started", "dir", args[0])
		for {
			select {
			case <-ctx.Done():
				slog.Info("watch: stopped")
				return nil
			case entry := <-w.Changes:
				report, err := engine.Build(ctx, []source.ManifestEntry{entry})
				if err != nil {
					slog.Error("watch: build failed", "act", entry.ActID, "error", err)
					continue
				}
				if report.Failed > 0 {
					slog.Warn("watch: act failed", "act", entry.ActID, "error", report.Acts[0].Error)
					continue
				}
				// A full Link would add co-occurrence counts for every act
				// again; only an act seen for the first time is counted.
				if _, err := engine.LinkActs(ctx, newlyBuilt(report)); err != nil {
					slog.Error("watch: link failed", "error", err)
					continue
				}
				if _, err := engine.Index(ctx); err != nil {
					slog.Error("watch: index failed", "error", err)
					continue
				}
				slog.Info("watch: act rebuilt", "act", entry.ActID)
			}
		}
	},
}

// newlyBuilt lists the acts a build finished that had never been built
// before.
func newlyBuilt(report *lexgraph.BuildReport) []string {
	var ids []string
	for _, r := range report.Acts {
		if r.Err() == nil && !r.Skipped && !r.Replaced {
			ids = append(ids, r.ActID)
		}
	}
	return ids
}

func init() {
	watchCmd.Flags().Duration("debounce", time.Second, "quiet period before a changed file is rebuilt")
	rootCmd.AddCommand(watchCmd)
}
