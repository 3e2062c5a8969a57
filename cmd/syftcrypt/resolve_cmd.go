package main

import (
	"errors"
	"fmt"

	"github.com/openmined/syftcrypt/internal/platform"
	"github.com/openmined/syftcrypt/internal/utils"
	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	var mine, theirs bool

	cmd := &cobra.Command{
		Use:   "resolve <native-path>",
		Short: "Settle a conflict by keeping the local or the remote version",
		Long: `Settle a conflict by keeping the local or the remote version.

--mine marks the native file as newer than the syncfile so the next sync pushes it.
--theirs moves the native file to the trash so the next sync restores the remote version.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if mine == theirs {
				return fmt.Errorf("pass exactly one of --mine or --theirs")
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			native, err := utils.ResolvePath(args[0])
			if err != nil {
				return err
			}
			id, sfPath, err := s.codec.DeriveIdentity(native)
			if err != nil {
				return err
			}
			sf, err := s.codec.Open(sfPath)
			if err != nil {
				return fmt.Errorf("no usable syncfile for %s: %w", native, err)
			}

			out := cmd.OutOrStdout()
			if mine {
				if !utils.FileExists(native) {
					return fmt.Errorf("%s does not exist", native)
				}
				// any real mtime is newer than zero
				if err := s.ledger.Update(id.String(), sf.RevGUID, 0); err != nil {
					return err
				}
				fmt.Fprintln(out, green.Render("keeping local version, ")+"the next sync pushes "+native)
				return nil
			}

			if utils.FileExists(native) {
				if err := s.caps.TrySendToTrash(native); err != nil {
					if errors.Is(err, platform.ErrTrashUnsupported) {
						return fmt.Errorf("%w: move %s away yourself and run resolve --theirs again", err, native)
					}
					return err
				}
			}
			if err := s.ledger.Delete(id.String()); err != nil {
				return err
			}
			fmt.Fprintln(out, green.Render("keeping remote version, ")+"the next sync restores "+native)
			return nil
		},
	}

	cmd.Flags().BoolVar(&mine, "mine", false, "Keep the local native file")
	cmd.Flags().BoolVar(&theirs, "theirs", false, "Keep the syncfile content")
	return cmd
}
