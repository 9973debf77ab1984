// Package batchcopy implements grouped, worker-pooled verification of
// archive entries (§4.9 "batch copy/verify"): entries are
// sorted by data offset, adjacent ones are fetched with a single range
// read, and each entry's bytes are then decompressed and CRC32-checked,
// optionally across a worker pool. It is the CRC32 analogue of the
// teacher's SHA-256 batch processor.
package batchcopy

import "github.com/nocturne-engine/pakvfs/internal/dirdata"

// rangeGroup is a contiguous span of the archive covered by one or more
// adjacent entries, fetchable with a single read.
type rangeGroup struct {
	start   uint32
	end     uint32
	entries []dirdata.FileEntry
}

// groupAdjacentEntries groups entries whose compressed data ranges abut,
// assuming entries is already sorted by DataOffset.
func groupAdjacentEntries(entries []dirdata.FileEntry) []rangeGroup {
	if len(entries) == 0 {
		return nil
	}
	groups := make([]rangeGroup, 0, len(entries))
	current := rangeGroup{
		start:   entries[0].DataOffset,
		end:     entries[0].DataOffset + entries[0].CompressedSize,
		entries: []dirdata.FileEntry{entries[0]},
	}
	for _, e := range entries[1:] {
		end := e.DataOffset + e.CompressedSize
		if e.DataOffset == current.end {
			current.end = end
			current.entries = append(current.entries, e)
			continue
		}
		groups = append(groups, current)
		current = rangeGroup{start: e.DataOffset, end: end, entries: []dirdata.FileEntry{e}}
	}
	return append(groups, current)
}
