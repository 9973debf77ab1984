package dirdata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleEntries() ([]FileEntry, []string) {
	names := []string{
		"textures/wall.dds",
		"textures/floor.dds",
		"levels/intro/data.bin",
		"readme.txt",
	}
	entries := make([]FileEntry, len(names))
	for i, n := range names {
		entries[i] = FileEntry{
			NameHash:         PathHash(n),
			HeaderOffset:     uint32(i * 100), //nolint:gosec // test data
			DataOffset:       Invalid,
			CompressedSize:   uint32(10 + i), //nolint:gosec // test data
			UncompressedSize: uint32(20 + i), //nolint:gosec // test data
			Method:           MethodDeflate,
		}
	}
	return entries, names
}

func TestHashDirFindRoundTrip(t *testing.T) {
	entries, names := sampleEntries()
	dir, err := BuildHashDir(entries, names)
	require.NoError(t, err)
	require.Equal(t, len(names), dir.Len())

	for _, n := range names {
		e, ok := dir.Find(n)
		require.True(t, ok, "expected to find %q", n)
		require.Equal(t, PathHash(n), e.NameHash)
	}

	_, ok := dir.Find("does/not/exist")
	require.False(t, ok)
}

func TestHashDirDuplicateHash(t *testing.T) {
	entries := []FileEntry{{NameHash: 1}, {NameHash: 1}}
	names := []string{"a", "b"}
	_, err := BuildHashDir(entries, names)
	require.Error(t, err)
}

func TestHashDirSerializeRoundTrip(t *testing.T) {
	entries, names := sampleEntries()
	dir, err := BuildHashDir(entries, names)
	require.NoError(t, err)

	blob := dir.Serialize()
	require.Zero(t, len(blob)%4, "blob must be 4-byte aligned")

	loaded, err := LoadHashDir(blob)
	require.NoError(t, err)
	require.Equal(t, dir.Len(), loaded.Len())

	for _, n := range names {
		want, ok := dir.Find(n)
		require.True(t, ok)
		got, ok := loaded.Find(n)
		require.True(t, ok)
		require.Equal(t, want.HeaderOffset, got.HeaderOffset)
		require.Equal(t, want.CompressedSize, got.CompressedSize)
		require.Equal(t, want.UncompressedSize, got.UncompressedSize)
	}
}

func TestTreeFindFileAndSubdir(t *testing.T) {
	entries, names := sampleEntries()
	blob, err := BuildTree(entries, names)
	require.NoError(t, err)
	require.Zero(t, len(blob)%4)

	dir := LoadTree(blob)

	for i, n := range names {
		e, ok := dir.FindFile(n)
		require.True(t, ok, "expected to find %q", n)
		require.Equal(t, entries[i].HeaderOffset, e.HeaderOffset)
	}

	require.True(t, dir.FindSubdir("textures"))
	require.True(t, dir.FindSubdir("levels/intro"))
	require.False(t, dir.FindSubdir("nope"))

	_, ok := dir.FindFile("textures/missing.dds")
	require.False(t, ok)
}

func TestTreeWalkVisitsEveryFile(t *testing.T) {
	entries, names := sampleEntries()
	blob, err := BuildTree(entries, names)
	require.NoError(t, err)

	dir := LoadTree(blob)
	seen := make(map[string]bool)
	dir.Walk(func(path string, _ FileEntry) bool {
		seen[path] = true
		return true
	})

	for _, n := range names {
		require.True(t, seen[n], "walk did not visit %q", n)
	}
	require.Len(t, seen, len(names))
}

func TestFileEntryValid(t *testing.T) {
	e := FileEntry{UncompressedSize: 0, CompressedSize: 0, Method: MethodStore}
	require.True(t, e.Valid())

	bad := FileEntry{UncompressedSize: 0, CompressedSize: 5, Method: MethodStore}
	require.False(t, bad.Valid())

	ok := FileEntry{UncompressedSize: 100, CompressedSize: 40, Method: MethodDeflate}
	require.True(t, ok.Valid())
}
