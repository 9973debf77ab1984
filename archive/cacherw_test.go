package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nocturne-engine/pakvfs/internal/dirdata"
	"github.com/nocturne-engine/pakvfs/internal/pakerr"
)

func rwTestZip(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "rw.pak")
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.CreateHeader(&zip.FileHeader{Name: "a.txt", Method: zip.Store})
	require.NoError(t, err)
	_, err = fw.Write([]byte("original contents"))
	require.NoError(t, err)
	fw, err = w.CreateHeader(&zip.FileHeader{Name: "b.txt", Method: zip.Store})
	require.NoError(t, err)
	_, err = fw.Write([]byte("keep me"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestCacheRWUpdateReplacesInPlaceOrAppends(t *testing.T) {
	dir := t.TempDir()
	path := rwTestZip(t, dir)

	rw, err := OpenRW(path)
	require.NoError(t, err)

	// Shorter content still fits before b.txt's header, so the update lands
	// in place, leaving a gap a later relink would reclaim.
	require.NoError(t, rw.Update("a.txt", []byte("short"), dirdata.MethodStore, 0))
	require.True(t, rw.Uncompacted())

	entry, ok := rw.entries["a.txt"]
	require.True(t, ok)
	got, err := rw.Cache.Read(*entry, ReadOptions{Decompress: true, UncompressedBuf: make([]byte, entry.UncompressedSize)})
	require.NoError(t, err)
	require.Equal(t, "short", string(got))

	require.NoError(t, rw.Close())

	// Reopen read-only and confirm both files are intact on disk.
	c, err := Open(path)
	require.NoError(t, err)
	defer c.Release()

	e, ok, err := c.Find("a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	got, err = c.Read(e, ReadOptions{Decompress: true, UncompressedBuf: make([]byte, e.UncompressedSize)})
	require.NoError(t, err)
	require.Equal(t, "short", string(got))

	e, ok, err = c.Find("b.txt")
	require.NoError(t, err)
	require.True(t, ok)
	got, err = c.Read(e, ReadOptions{Decompress: true, UncompressedBuf: make([]byte, e.UncompressedSize)})
	require.NoError(t, err)
	require.Equal(t, "keep me", string(got))
}

func TestCacheRWUpdateLargerContentAppendsAndMarksUncompacted(t *testing.T) {
	dir := t.TempDir()
	path := rwTestZip(t, dir)

	rw, err := OpenRW(path)
	require.NoError(t, err)
	defer rw.Close()

	require.NoError(t, rw.Update("a.txt", bytes.Repeat([]byte("x"), 4096), dirdata.MethodStore, 0))
	require.True(t, rw.Uncompacted())
}

func TestCacheRWAddNewFile(t *testing.T) {
	dir := t.TempDir()
	path := rwTestZip(t, dir)

	rw, err := OpenRW(path)
	require.NoError(t, err)

	require.NoError(t, rw.Update("new/dir/file.txt", []byte("brand new"), dirdata.MethodDeflate, 6))
	require.NoError(t, rw.Close())

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Release()

	e, ok, err := c.Find("new/dir/file.txt")
	require.NoError(t, err)
	require.True(t, ok)
	got, err := c.Read(e, ReadOptions{Decompress: true, UncompressedBuf: make([]byte, e.UncompressedSize)})
	require.NoError(t, err)
	require.Equal(t, "brand new", string(got))
}

func TestCacheRWRemoveFile(t *testing.T) {
	dir := t.TempDir()
	path := rwTestZip(t, dir)

	rw, err := OpenRW(path)
	require.NoError(t, err)
	require.NoError(t, rw.RemoveFile("a.txt"))
	require.True(t, rw.Uncompacted())
	require.NoError(t, rw.Close())

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Release()
	_, ok, err := c.Find("a.txt")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = c.Find("b.txt")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCacheRWRemoveFileMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	path := rwTestZip(t, dir)

	rw, err := OpenRW(path)
	require.NoError(t, err)
	defer rw.Close()

	err = rw.RemoveFile("does-not-exist.txt")
	require.Error(t, err)
	kind, ok := pakerr.Of(err)
	require.True(t, ok)
	require.Equal(t, pakerr.KindFileNotFound, kind)
}

func TestCacheRWRelinkCompactsGaps(t *testing.T) {
	dir := t.TempDir()
	path := rwTestZip(t, dir)

	rw, err := OpenRW(path)
	require.NoError(t, err)

	require.NoError(t, rw.RemoveFile("a.txt"))
	require.True(t, rw.Uncompacted())

	require.NoError(t, rw.Relink())
	require.False(t, rw.Uncompacted())
	require.NoError(t, rw.Close())

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Release()

	e, ok, err := c.Find("b.txt")
	require.NoError(t, err)
	require.True(t, ok)
	got, err := c.Read(e, ReadOptions{Decompress: true, UncompressedBuf: make([]byte, e.UncompressedSize)})
	require.NoError(t, err)
	require.Equal(t, "keep me", string(got))
}

func TestCacheRWConcurrentWriteSessionRejected(t *testing.T) {
	dir := t.TempDir()
	path := rwTestZip(t, dir)

	rw, err := OpenRW(path)
	require.NoError(t, err)
	defer rw.Close()

	require.NoError(t, rw.lockWriter())
	err = rw.lockWriter()
	require.Error(t, err)
	kind, ok := pakerr.Of(err)
	require.True(t, ok)
	require.Equal(t, pakerr.KindInvalidCall, kind)
	rw.unlockWriter()
}

func TestCacheRWStartAndUpdateContinuous(t *testing.T) {
	dir := t.TempDir()
	path := rwTestZip(t, dir)

	rw, err := OpenRW(path)
	require.NoError(t, err)

	require.NoError(t, rw.StartContinuous("stream.bin", 0))
	require.NoError(t, rw.UpdateContinuousSegment("stream.bin", []byte("chunk-one-"), dirdata.Invalid))
	require.NoError(t, rw.UpdateContinuousSegment("stream.bin", []byte("chunk-two"), dirdata.Invalid))
	require.NoError(t, rw.Close())

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Release()

	e, ok, err := c.Find("stream.bin")
	require.NoError(t, err)
	require.True(t, ok)
	got, err := c.Read(e, ReadOptions{Decompress: true, UncompressedBuf: make([]byte, e.UncompressedSize)})
	require.NoError(t, err)
	require.Equal(t, "chunk-one-chunk-two", string(got))
}

func TestCacheRWWithDontCompactSkipsRelink(t *testing.T) {
	dir := t.TempDir()
	path := rwTestZip(t, dir)

	rw, err := OpenRW(path, WithDontCompact(true))
	require.NoError(t, err)
	require.NoError(t, rw.RemoveFile("a.txt"))
	require.NoError(t, rw.Close())

	// The archive is still well-formed (a fresh CDR was written without a
	// relink pass), and the removed entry stays gone from the directory.
	c, err := Open(path)
	require.NoError(t, err)
	defer c.Release()
	_, ok, err := c.Find("a.txt")
	require.NoError(t, err)
	require.False(t, ok)
}
