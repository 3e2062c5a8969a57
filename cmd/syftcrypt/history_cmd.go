package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/openmined/syftcrypt/internal/history"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		syncID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync activity on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			hist := history.New(cfg.HistoryDBPath())
			if err := hist.Open(); err != nil {
				return err
			}
			defer hist.Close()

			var entries []history.Entry
			if syncID != "" {
				entries, err = hist.ForSyncID(cmd.Context(), syncID)
			} else {
				entries, err = hist.Recent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, gray.Render("no sync activity recorded yet"))
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s %s %s %s\n",
					gray.Render(fmt.Sprintf("%-16s", humanize.Time(e.Time()))),
					cyan.Render(fmt.Sprintf("%-12s", e.Action)),
					e.NativePath,
					gray.Render(humanize.IBytes(uint64(max(e.Size, 0)))),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&syncID, "syncid", "", "Only show entries of this sync id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	return cmd
}
