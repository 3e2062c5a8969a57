package main

import (
	"fmt"
	"strings"

	"github.com/openmined/syftcrypt/internal/config"
	"github.com/openmined/syftcrypt/internal/utils"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var (
		syncDir  string
		dataDir  string
		roots    []string
		mappings []string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file for this machine",
		Example: `  syftcrypt init --sync-dir ~/Dropbox/syftcrypt --root ~/docs --map DOCS=~/docs
  syftcrypt init --sync-dir ~/Dropbox/syftcrypt --root ~ --map HOME=~ --map DOCS=~/docs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath(cmd)
			if utils.FileExists(path) && !force {
				return fmt.Errorf("%w: %s already exists, use --force to overwrite", config.ErrConfig, path)
			}

			keywords := make(map[string]string, len(mappings))
			for _, m := range mappings {
				kw, dir, ok := strings.Cut(m, "=")
				if !ok || kw == "" || dir == "" {
					return fmt.Errorf("%w: --map expects KEYWORD=DIR, got %q", config.ErrConfig, m)
				}
				keywords[kw] = dir
			}

			cfg := &config.Config{
				SyncDir:     syncDir,
				NativeRoots: roots,
				Keywords:    keywords,
				DataDir:     dataDir,
				Path:        path,
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), green.Render("wrote ")+path)
			fmt.Fprintln(cmd.OutOrStdout(), gray.Render("run `syftcrypt sync` to set the password and start syncing"))
			return nil
		},
	}

	cmd.Flags().StringVar(&syncDir, "sync-dir", "", "Shared folder replicated by your storage provider")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Local state directory (default "+config.DefaultDataDir+")")
	cmd.Flags().StringArrayVar(&roots, "root", nil, "Native directory to sync (repeatable)")
	cmd.Flags().StringArrayVar(&mappings, "map", nil, "Keyword mapping KEYWORD=DIR (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	cmd.MarkFlagRequired("sync-dir")
	return cmd
}
