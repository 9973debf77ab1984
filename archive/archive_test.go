package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nocturne-engine/pakvfs/internal/cdr"
	"github.com/nocturne-engine/pakvfs/internal/dirdata"
	"github.com/nocturne-engine/pakvfs/internal/pakerr"
)

// buildTestZip writes a well-formed ZIP to disk with the given files, using
// archive/zip purely as test-fixture tooling (see DESIGN.md); pakvfs never
// imports archive/zip outside _test.go files.
func buildTestZip(t *testing.T, dir string, name string, files map[string]struct {
	content string
	method  uint16
}) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for fname, f := range files {
		hdr := &zip.FileHeader{Name: fname, Method: f.method}
		fw, err := w.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = fw.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func simpleZip(t *testing.T, dir string) string {
	return buildTestZip(t, dir, "test.pak", map[string]struct {
		content string
		method  uint16
	}{
		"hello.txt":         {"Hello, world\n", zip.Store},
		"textures/wall.dds":  {"some texture bytes, repeated repeated repeated", zip.Deflate},
		"empty.txt":          {"", zip.Store},
	})
}

func TestOpenAndFindStoreEntry(t *testing.T) {
	dir := t.TempDir()
	path := simpleZip(t, dir)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Release()

	entry, ok, err := c.Find("hello.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(13), entry.UncompressedSize)
	require.False(t, entry.Method.IsDeflate())

	got, err := c.Read(entry, ReadOptions{Decompress: true, UncompressedBuf: make([]byte, entry.UncompressedSize)})
	require.NoError(t, err)
	require.Equal(t, "Hello, world\n", string(got))
}

func TestOpenAndFindDeflateEntry(t *testing.T) {
	dir := t.TempDir()
	path := simpleZip(t, dir)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Release()

	entry, ok, err := c.Find("textures/wall.dds")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, entry.Method.IsDeflate())

	got, err := c.Read(entry, ReadOptions{Decompress: true, UncompressedBuf: make([]byte, entry.UncompressedSize)})
	require.NoError(t, err)
	require.Equal(t, "some texture bytes, repeated repeated repeated", string(got))
}

func TestFindMissingEntry(t *testing.T) {
	dir := t.TempDir()
	path := simpleZip(t, dir)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Release()

	_, ok, err := c.Find("does/not/exist.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadZeroSizeEntryReturnsNil(t *testing.T) {
	dir := t.TempDir()
	path := simpleZip(t, dir)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Release()

	entry, ok, err := c.Find("empty.txt")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := c.Read(entry, ReadOptions{Decompress: true, UncompressedBuf: make([]byte, 1)})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTreeVariantFind(t *testing.T) {
	dir := t.TempDir()
	path := simpleZip(t, dir)

	c, err := Open(path, WithDirVariant(cdr.DirVariantTree))
	require.NoError(t, err)
	defer c.Release()

	entry, ok, err := c.Find("textures/wall.dds")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, entry.Method.IsDeflate())
}

func TestOpenMemory(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.CreateHeader(&zip.FileHeader{Name: "a.txt", Method: zip.Store})
	require.NoError(t, err)
	_, err = fw.Write([]byte("memory archive"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	c, err := OpenMemory(buf.Bytes(), "mem.pak")
	require.NoError(t, err)
	defer c.Release()

	entry, ok, err := c.Find("a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	got, err := c.Read(entry, ReadOptions{Decompress: true, UncompressedBuf: make([]byte, entry.UncompressedSize)})
	require.NoError(t, err)
	require.Equal(t, "memory archive", string(got))
}

func TestRetainReleaseRefcount(t *testing.T) {
	dir := t.TempDir()
	path := simpleZip(t, dir)

	c, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, int64(1), c.RefCount())

	c.Retain()
	require.Equal(t, int64(2), c.RefCount())

	require.NoError(t, c.Release())
	require.Equal(t, int64(1), c.RefCount())
	require.NoError(t, c.Release())
	require.Equal(t, int64(0), c.RefCount())
}

func TestRequireEncryptionRejectsPlainEntry(t *testing.T) {
	dir := t.TempDir()
	path := simpleZip(t, dir)

	c, err := Open(path, WithRequireEncryption(true))
	require.NoError(t, err)
	defer c.Release()

	entry, ok, err := c.Find("hello.txt")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = c.Read(entry, ReadOptions{Decompress: true, UncompressedBuf: make([]byte, entry.UncompressedSize)})
	require.Error(t, err)
	kind, ok := pakerr.Of(err)
	require.True(t, ok)
	require.Equal(t, pakerr.KindCorruptedData, kind)
}

func TestVerifyCRCDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := simpleZip(t, dir)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Release()

	entry, ok, err := c.Find("hello.txt")
	require.NoError(t, err)
	require.True(t, ok)
	entry.CRC32 ^= 0xffffffff // force a mismatch against the real on-disk bytes

	_, err = c.Read(entry, ReadOptions{Decompress: true, UncompressedBuf: make([]byte, entry.UncompressedSize)})
	require.Error(t, err)
	kind, ok := pakerr.Of(err)
	require.True(t, ok)
	require.Equal(t, pakerr.KindCorruptedData, kind)
}

func TestDecompressInPlaceAliasedBuffer(t *testing.T) {
	dir := t.TempDir()
	path := simpleZip(t, dir)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Release()

	entry, ok, err := c.Find("textures/wall.dds")
	require.NoError(t, err)
	require.True(t, ok)

	compressed, err := c.Read(entry, ReadOptions{CompressedBuf: make([]byte, entry.CompressedSize)})
	require.NoError(t, err)

	// Grow a shared buffer large enough for the uncompressed result, copy the
	// compressed bytes to its front, then decompress into the same backing
	// array — the in-place (src==dst) case §4.5 calls out.
	shared := make([]byte, entry.UncompressedSize)
	copy(shared, compressed)
	require.NoError(t, c.Decompress(entry, shared[:entry.CompressedSize], shared))
	require.Equal(t, "some texture bytes, repeated repeated repeated", string(shared))
}

func TestReadPartialEncryptedEntryRejected(t *testing.T) {
	dir := t.TempDir()
	path := simpleZip(t, dir)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Release()

	entry, ok, err := c.Find("hello.txt")
	require.NoError(t, err)
	require.True(t, ok)
	entry.Method = dirdata.MethodDeflateStreamCipherLegacy // pretend this entry is encrypted

	_, err = c.Read(entry, ReadOptions{DataOffsetInFile: 2, DataReadSize: 4, Decrypt: true, UncompressedBuf: make([]byte, 4)})
	require.Error(t, err)
	kind, ok := pakerr.Of(err)
	require.True(t, ok)
	require.Equal(t, pakerr.KindInvalidCall, kind)
}
