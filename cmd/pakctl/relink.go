package main

import (
	"github.com/spf13/cobra"

	"github.com/nocturne-engine/pakvfs/archive"
)

var cmdRelink = &cobra.Command{
	Use:   "relink <archive>",
	Short: "Compact an archive into a tightly packed copy and rewrite its central directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runRelink,

	SilenceUsage: true,
}

func init() {
	root.AddCommand(cmdRelink)
}

func runRelink(_ *cobra.Command, args []string) error {
	// WithDontCompact suppresses Close's own automatic relink: this command
	// already ran one explicitly, and doing it twice would just repack the
	// archive it had just finished repacking.
	rw, err := archive.OpenRW(args[0], archive.WithDontCompact(true))
	if err != nil {
		return err
	}

	if err := rw.Relink(); err != nil {
		_ = rw.Close() //nolint:errcheck // best-effort cleanup after a failed relink
		return err
	}
	return rw.Close()
}
