package main

import (
	"fmt"
	"io"

	"github.com/openmined/syftcrypt/internal/utils"
	"github.com/spf13/cobra"
)

func newDecryptCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "decrypt <syncfile>",
		Short: "Decrypt a syncfile to a file or stdout",
		Long: `Decrypt a syncfile to a file or stdout.

When writing to stdout the content is streamed before the integrity tag is
checked; a non-zero exit means the output must be discarded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			sf, err := s.codec.Open(args[0])
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				return sf.DecryptTo(cmd.OutOrStdout())
			}

			// only a verified file reaches the output path
			err = utils.WriteFileAtomic(output, 0o644, func(w io.Writer) error {
				return sf.DecryptTo(w)
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), green.Render("decrypted ")+sf.RelPath+" to "+output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}
