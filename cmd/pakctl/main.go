// Command pakctl is a small inspection tool for the archive format this
// module implements: list an archive's entries, cat one out, CRC32-verify
// the whole thing, or relink it after edits (§6.4, teacher's cmd/profiler).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var root = &cobra.Command{
	Use:   "pakctl",
	Short: "Inspect and maintain pakvfs archives",
}

func main() {
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
