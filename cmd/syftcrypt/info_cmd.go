package main

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <syncfile>",
		Short: "Show the clear and encrypted metadata of a syncfile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			fields, err := s.codec.MetadataHash(args[0])
			if err != nil {
				return err
			}

			if size, err := strconv.ParseUint(fields["size"], 10, 64); err == nil {
				fields["size"] = fmt.Sprintf("%s (%s bytes)", humanize.IBytes(size), humanize.Comma(int64(size)))
			}

			if entry, err := s.ledger.Get(fields["syncid"]); err == nil && entry != nil {
				fields["ledger_revguid"] = entry.RevGUID.String()
				fields["ledger_native_mtime"] = strconv.FormatUint(entry.NativeMtime, 10)
			}

			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			slices.Sort(keys)

			out := cmd.OutOrStdout()
			for _, k := range keys {
				fmt.Fprintf(out, "%s %s\n", cyan.Render(fmt.Sprintf("%-20s", k+":")), fields[k])
			}
			return nil
		},
	}
}
