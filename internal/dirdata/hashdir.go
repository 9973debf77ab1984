package dirdata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/nocturne-engine/pakvfs/internal/pathnorm"
)

// PathHash computes the 32-bit CRC used as a FileEntry.NameHash: the
// lowercased, backslash-normalized path, using the standard IEEE polynomial
// (the same one ZIP itself uses for CRC32, so there is no ecosystem
// replacement for hash/crc32 here — see DESIGN.md).
func PathHash(path string) uint32 {
	return crc32.ChecksumIEEE([]byte(pathnorm.ToHashForm(path)))
}

// HashDir is the flat-by-hash directory variant: FileEntry records sorted by
// NameHash, looked up by binary search. It trades the ability to enumerate a
// single subdirectory in native order for a single sort at construction
// plus O(log n) lookup (data model, "flat-by-hash variant").
type HashDir struct {
	entries []FileEntry
	names   []string // names[i] corresponds to entries[i], kept for iteration/debugging
}

// dupHashError is returned by BuildHashDir when two distinct paths
// collide on the same 32-bit name hash (invariant 2; property 10).
type dupHashError struct {
	hash       uint32
	first, dup string
}

func (e *dupHashError) Error() string {
	return fmt.Sprintf("dirdata: duplicate name hash %08x for %q and %q", e.hash, e.first, e.dup)
}

// BuildHashDir sorts entries by NameHash and returns a HashDir, or an error
// if two distinct paths collide on the same hash. names[i] must correspond
// to entries[i]; the slices are not required to already be sorted.
func BuildHashDir(entries []FileEntry, names []string) (*HashDir, error) {
	if len(entries) != len(names) {
		return nil, fmt.Errorf("dirdata: entries/names length mismatch: %d != %d", len(entries), len(names))
	}

	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return entries[idx[a]].NameHash < entries[idx[b]].NameHash
	})

	sorted := make([]FileEntry, len(entries))
	sortedNames := make([]string, len(entries))
	for i, j := range idx {
		sorted[i] = entries[j]
		sortedNames[i] = names[j]
	}

	for i := 1; i < len(sorted); i++ {
		if sorted[i].NameHash == sorted[i-1].NameHash {
			return nil, &dupHashError{hash: sorted[i].NameHash, first: sortedNames[i-1], dup: sortedNames[i]}
		}
	}

	return &HashDir{entries: sorted, names: sortedNames}, nil
}

// Find performs the binary search required by invariant 1 (find MUST be
// O(log n)).
func (d *HashDir) Find(path string) (*FileEntry, bool) {
	h := PathHash(path)
	n := len(d.entries)
	i := sort.Search(n, func(i int) bool { return d.entries[i].NameHash >= h })
	if i < n && d.entries[i].NameHash == h {
		e := d.entries[i]
		return &e, true
	}
	return nil, false
}

// Len returns the number of entries.
func (d *HashDir) Len() int { return len(d.entries) }

// At returns the entry and its original path at sorted position i.
func (d *HashDir) At(i int) (FileEntry, string) { return d.entries[i], d.names[i] }

// Entries returns the sorted entries and their paths, for iteration.
func (d *HashDir) Entries() ([]FileEntry, []string) { return d.entries, d.names }

// hashDirHeaderSize is the fixed-size header emitted before the entry array
// in the serialized flat-hash blob: a magic tag plus the entry count.
const hashDirHeaderSize = 8

var hashDirMagic = [4]byte{'P', 'V', 'F', 'H'}

// fileEntryWireSize is the on-disk size of one serialized FileEntry record:
// 8 uint32 fields, 3 uint16 fields, 1 uint64 field (see marshalFileEntry).
const fileEntryWireSize = 8*4 + 3*2 + 8

// Serialize encodes the flat-hash directory as header + sorted FileEntry
// array + name pool, little-endian, padded to 4-byte alignment (§4.3).
func (d *HashDir) Serialize() []byte {
	var buf bytes.Buffer
	buf.Write(hashDirMagic[:])
	binary.Write(&buf, binary.LittleEndian, uint32(len(d.entries))) //nolint:errcheck // bytes.Buffer never errors

	namePool, nameOffsets := buildNamePool(d.names)
	for i := range d.entries {
		e := d.entries[i]
		e.NameOffset = nameOffsets[i]
		marshalFileEntry(&buf, &e)
	}
	buf.Write(namePool)
	padTo4(&buf)
	return buf.Bytes()
}

// LoadHashDir parses a blob produced by Serialize, decoding every entry and
// copying each entry's name out of the name pool into its own string.
func LoadHashDir(data []byte) (*HashDir, error) {
	if len(data) < hashDirHeaderSize {
		return nil, fmt.Errorf("dirdata: truncated hash directory header")
	}
	if !bytes.Equal(data[:4], hashDirMagic[:]) {
		return nil, fmt.Errorf("dirdata: bad hash directory magic")
	}
	count := binary.LittleEndian.Uint32(data[4:8])

	off := hashDirHeaderSize
	entries := make([]FileEntry, count)
	for i := range entries {
		e, n, err := unmarshalFileEntry(data, off)
		if err != nil {
			return nil, err
		}
		entries[i] = e
		off = n
	}

	pool := data[off:]
	names := make([]string, count)
	for i := range entries {
		name, err := readPoolString(pool, int(entries[i].NameOffset))
		if err != nil {
			return nil, err
		}
		names[i] = name
	}

	return &HashDir{entries: entries, names: names}, nil
}
