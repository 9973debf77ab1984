package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nocturne-engine/pakvfs/archive"
)

var cmdCat = &cobra.Command{
	Use:   "cat <archive> <path>",
	Short: "Print one archive entry's decompressed bytes to stdout",
	Args:  cobra.ExactArgs(2),
	RunE:  runCat,

	SilenceUsage: true,
}

func init() {
	root.AddCommand(cmdCat)
}

func runCat(_ *cobra.Command, args []string) error {
	c, err := archive.Open(args[0])
	if err != nil {
		return err
	}
	defer c.Release() //nolint:errcheck // best-effort on a read-only inspection path

	entry, found, err := c.Find(args[1])
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("pakctl: %s: no such entry in %s", args[1], args[0])
	}

	data, err := c.Read(entry, archive.ReadOptions{
		Decompress:      true,
		Decrypt:         true,
		UncompressedBuf: make([]byte, entry.UncompressedSize),
		DataReadSize:    -1,
	})
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
