package main

import (
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/openmined/syftcrypt/internal/history"
	"github.com/openmined/syftcrypt/internal/syncdb"
	"github.com/openmined/syftcrypt/internal/syncfile"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the configuration and local sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			ledger, err := syncdb.Open(cfg.SyncDBDir)
			if err != nil {
				return err
			}
			tracked, err := ledger.Count()
			if err != nil {
				return err
			}

			syncfiles, err := doublestar.Glob(os.DirFS(cfg.SyncDir), "*/*"+syncfile.Ext, doublestar.WithFilesOnly())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			row := func(k, v string) {
				fmt.Fprintf(out, "%s %s\n", cyan.Render(fmt.Sprintf("%-12s", k+":")), v)
			}
			row("config", cfg.Path)
			row("sync dir", cfg.SyncDir)
			for _, root := range cfg.NativeRoots {
				row("native root", root)
			}
			for _, kw := range cfg.Mapper().Keywords() {
				dir, _ := cfg.Mapper().LookupDir(kw)
				row("keyword", kw+" = "+dir)
			}
			row("syncfiles", humanize.Comma(int64(len(syncfiles))))
			row("tracked", humanize.Comma(int64(tracked)))
			row("pull", fmt.Sprint(cfg.PullRemoteChanges))

			hist := history.New(cfg.HistoryDBPath())
			if err := hist.Open(); err != nil {
				row("history", gray.Render(err.Error()))
				return nil
			}
			defer hist.Close()
			if n, err := hist.Count(cmd.Context()); err == nil {
				row("history", humanize.Comma(int64(n))+" entries")
			}
			return nil
		},
	}
}
