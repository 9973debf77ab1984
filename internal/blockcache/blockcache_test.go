package blockcache

import (
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingSource struct {
	data  []byte
	reads atomic.Int64
}

func (s *countingSource) ReadAt(p []byte, off int64) (int, error) {
	s.reads.Add(1)
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if off+int64(n) >= int64(len(s.data)) {
		return n, io.EOF
	}
	return n, nil
}

func (s *countingSource) Size() int64 { return int64(len(s.data)) }

func TestCacheReadAtReuse(t *testing.T) {
	dir := t.TempDir()
	cache, err := New(dir)
	require.NoError(t, err)

	src := &countingSource{data: []byte("abcdefghijklmnopqrstuvwxyz")}
	cached, err := cache.Wrap("archive:test", src, WithSectorSize(8))
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := cached.ReadAt(buf, 2)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "cdef", string(buf))
	require.EqualValues(t, 1, src.reads.Load())

	buf = make([]byte, 3)
	n, err = cached.ReadAt(buf, 5)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "fgh", string(buf))
	require.EqualValues(t, 1, src.reads.Load(), "second read should hit the cached sector")

	buf = make([]byte, 2)
	n, err = cached.ReadAt(buf, 9)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "jk", string(buf))
	require.EqualValues(t, 2, src.reads.Load(), "read into the next sector should miss")
}

func TestWrapEmptyArchiveID(t *testing.T) {
	dir := t.TempDir()
	cache, err := New(dir)
	require.NoError(t, err)

	src := &countingSource{data: []byte("data")}
	_, err = cache.Wrap("", src)
	require.Error(t, err)
}

func TestMaxSectorsPerReadBypassesCache(t *testing.T) {
	dir := t.TempDir()
	cache, err := New(dir)
	require.NoError(t, err)

	src := &countingSource{data: make([]byte, 64)}
	cached, err := cache.Wrap("archive:big", src, WithSectorSize(8), WithMaxSectorsPerRead(2))
	require.NoError(t, err)

	buf := make([]byte, 32) // spans 4 sectors, over the 2-sector cap
	_, err = cached.ReadAt(buf, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, src.reads.Load(), "oversized read should bypass the cache in one pass-through call")
}

func TestPruneEvictsOldestSectors(t *testing.T) {
	dir := t.TempDir()
	cache, err := New(dir)
	require.NoError(t, err)

	src := &countingSource{data: []byte("0123456789abcdef")}
	cached, err := cache.Wrap("archive:prune", src, WithSectorSize(4))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = cached.ReadAt(buf, 0)
	require.NoError(t, err)
	_, err = cached.ReadAt(buf, 4)
	require.NoError(t, err)
	require.EqualValues(t, 8, cache.SizeBytes())

	freed, err := cache.Prune(4)
	require.NoError(t, err)
	require.Equal(t, int64(4), freed)
	require.EqualValues(t, 4, cache.SizeBytes())
}
