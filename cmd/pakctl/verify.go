package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nocturne-engine/pakvfs/archive"
	"github.com/nocturne-engine/pakvfs/internal/batchcopy"
)

var verifyWorkers int

var cmdVerify = &cobra.Command{
	Use:   "verify <archive>",
	Short: "CRC32-verify every entry in an archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,

	SilenceUsage: true,
}

func init() {
	root.AddCommand(cmdVerify)
	cmdVerify.Flags().IntVar(&verifyWorkers, "workers", 0, "worker count (0 = GOMAXPROCS, negative = serial)")
}

func runVerify(_ *cobra.Command, args []string) error {
	c, err := archive.Open(args[0])
	if err != nil {
		return err
	}
	defer c.Release() //nolint:errcheck // best-effort on a read-only inspection path

	v := batchcopy.New(c, batchcopy.WithWorkers(verifyWorkers))
	results, err := v.VerifyAll(c.List())
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", r.Path, r.Err)
		}
	}
	fmt.Printf("%d entries, %d failed\n", len(results), failed)
	if failed > 0 {
		return fmt.Errorf("pakctl: %d entries failed verification", failed)
	}
	return nil
}
