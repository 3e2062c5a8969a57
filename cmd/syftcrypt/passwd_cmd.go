package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/syftcrypt/internal/config"
	"github.com/openmined/syftcrypt/internal/syncfile"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newPasswdCmd() *cobra.Command {
	var newKeyHex string

	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the password and re-encrypt every syncfile",
		Long: `Change the password and re-encrypt every syncfile.

Revision tokens are kept, so other machines see no content change. They only
need the new password. Do not run a sync on any machine while this runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			var (
				newKey  []byte
				newSalt []byte
				newPass string
			)
			if newKeyHex != "" {
				if newKey, err = config.ParseHexKey(newKeyHex); err != nil {
					return err
				}
			} else {
				if newPass, err = promptNewPassword(); err != nil {
					return err
				}
				if newSalt, err = config.GenerateSalt(); err != nil {
					return err
				}
				newKey = config.DeriveKey(newPass, newSalt)
			}

			newCodec, err := syncfile.New(s.cfg.SyncDir, newKey, s.cfg.Mapper())
			if err != nil {
				return err
			}

			n, err := rekeyAll(cmd.Context(), s.codec, newCodec, s.cfg.SyncDir)
			if err != nil {
				return fmt.Errorf("re-encrypt syncfiles (%d done, run passwd again with the old password to finish): %w", n, err)
			}

			if newSalt != nil {
				if err := config.WriteSalt(s.cfg.SyncDir, newSalt); err != nil {
					return err
				}
			}
			if err := config.WriteKeyCheck(s.cfg.SyncDir, newKey); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s re-encrypted %d syncfiles\n", green.Render("done:"), n)
			if s.cfg.Key != "" || s.cfg.Password != "" {
				fmt.Fprintln(cmd.OutOrStdout(), red.Render("your config or environment still holds the old key or password, update it"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&newKeyHex, "new-key", "", "Use this 64 character hex key instead of a password")
	return cmd
}

// rekeyAll re-encrypts every syncfile in syncDir from oldCodec's key to
// newCodec's key and returns how many were rewritten.
func rekeyAll(ctx context.Context, oldCodec, newCodec *syncfile.Codec, syncDir string) (int, error) {
	matches, err := doublestar.Glob(os.DirFS(syncDir), "*/*"+syncfile.Ext, doublestar.WithFilesOnly())
	if err != nil {
		return 0, err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	done := make(chan struct{}, len(matches))
	for _, match := range matches {
		if strings.Contains(match, " ") {
			continue
		}
		path := filepath.Join(syncDir, filepath.FromSlash(match))
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := rekey(oldCodec, newCodec, path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			done <- struct{}{}
			slog.Debug("rekeyed", "path", path)
			return nil
		})
	}

	err = g.Wait()
	return len(done), err
}

func rekey(oldCodec, newCodec *syncfile.Codec, path string) error {
	sf, err := oldCodec.Open(path)
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(sf.DecryptTo(pw))
	}()
	err = newCodec.SaveWithData(sf, path, pr)
	pr.Close()
	return err
}
