package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nocturne-engine/pakvfs/archive"
)

var cmdList = &cobra.Command{
	Use:   "list <archive>",
	Short: "List every entry in an archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runList,

	SilenceUsage: true,
}

func init() {
	root.AddCommand(cmdList)
}

func runList(_ *cobra.Command, args []string) error {
	c, err := archive.Open(args[0])
	if err != nil {
		return err
	}
	defer c.Release() //nolint:errcheck // best-effort on a read-only inspection path

	listing := c.List()
	sort.Slice(listing, func(i, j int) bool { return listing[i].Path < listing[j].Path })
	for _, le := range listing {
		fmt.Printf("%10d  %s\n", le.Entry.UncompressedSize, le.Path)
	}
	return nil
}
