package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/syftcrypt/internal/history"
	"github.com/openmined/syftcrypt/internal/sync"
	"github.com/spf13/cobra"
)

const historyRetention = 90 * 24 * time.Hour

func newSyncCmd() *cobra.Command {
	var dryRun, watch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile native files with the shared sync directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun && watch {
				return fmt.Errorf("--dry-run and --watch cannot be combined")
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			engine, err := sync.NewEngine(s.cfg, s.codec, s.ledger, slog.Default())
			if err != nil {
				return err
			}

			if !dryRun {
				hist := history.New(s.cfg.HistoryDBPath())
				if err := hist.Open(); err != nil {
					slog.Warn("history disabled", "error", err)
				} else {
					defer hist.Close()
					engine.SetRecorder(hist)
					if n, err := hist.Prune(cmd.Context(), time.Now().Add(-historyRetention)); err != nil {
						slog.Warn("history prune", "error", err)
					} else if n > 0 {
						slog.Debug("history prune", "removed", n)
					}
				}
			}

			out := cmd.OutOrStdout()
			if watch {
				slog.Info("sync watch", "config", s.cfg.String(), "interval", s.cfg.WatchInterval)
				return sync.NewWatcher(engine).Run(cmd.Context(), func(r *sync.Report, err error) {
					if err != nil {
						slog.Error("sync failed", "error", err)
						return
					}
					if r.HasChanges() {
						printReport(out, r)
					}
				})
			}

			report, err := engine.Run(cmd.Context(), sync.RunOpts{DryRun: dryRun})
			if err != nil {
				return err
			}
			printReport(out, report)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Only show what would be done")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and sync whenever something changes")
	return cmd
}

func printReport(w io.Writer, r *sync.Report) {
	if r.DryRun {
		if len(r.Planned) == 0 {
			fmt.Fprintln(w, gray.Render("nothing to do"))
			return
		}
		for _, item := range r.Planned {
			fmt.Fprintf(w, "%-12s %s\n", cyan.Render(item.Action.String()), item.NativePath)
		}
		fmt.Fprintln(w, gray.Render(fmt.Sprintf("%d planned, %d skipped", len(r.Planned), r.Skipped)))
		return
	}

	fmt.Fprintf(w, "%s pushed %d, materialized %d, pulled %d, unchanged %d, skipped %d %s\n",
		green.Render("sync done:"),
		r.Pushed, r.Materialized, r.Pulled, r.Unchanged, r.Skipped,
		gray.Render("in "+humanize.FtoaWithDigits(r.Duration.Seconds(), 2)+"s"))
}
