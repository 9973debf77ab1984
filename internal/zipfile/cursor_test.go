package zipfile

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/nocturne-engine/pakvfs/internal/pakerr"
	"github.com/stretchr/testify/require"
)

func writeTempArchive(t *testing.T, content []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.pak")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestCursorOpenSeekRead(t *testing.T) {
	content := []byte("hello pak archive contents")
	path := writeTempArchive(t, content)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, int64(len(content)), c.Size())

	_, err = c.Seek(6, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(6), c.Tell())

	buf := make([]byte, 3)
	n, err := c.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "pak", string(buf))
	require.Equal(t, int64(9), c.Tell())
}

func TestCursorReadAtDoesNotMoveCursor(t *testing.T) {
	content := []byte("0123456789")
	path := writeTempArchive(t, content)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Seek(2, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := c.ReadAt(buf, 5)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "5678", string(buf))
	require.Equal(t, int64(2), c.Tell(), "ReadAt must not disturb the Seek/Read cursor")
}

func TestCursorLoadAndUnloadFromMemory(t *testing.T) {
	content := []byte("mounted pak payload")
	path := writeTempArchive(t, content)

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	require.False(t, c.InMemory())
	require.NoError(t, c.LoadToMemory())
	require.True(t, c.InMemory())

	buf := make([]byte, len(content))
	n, err := c.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(content), n)
	require.Equal(t, content, buf)

	require.NoError(t, c.UnloadFromMemory())
	require.False(t, c.InMemory())

	n, err = c.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, content, buf[:n])
}

func TestCursorClosedRejectsOps(t *testing.T) {
	path := writeTempArchive(t, []byte("x"))
	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.Seek(0, io.SeekStart)
	require.Error(t, err)
	kind, ok := pakerr.Of(err)
	require.True(t, ok)
	require.Equal(t, pakerr.KindInvalidCall, kind)
}

func TestWrapMemory(t *testing.T) {
	content := []byte("in-memory archive")
	c, err := WrapMemory(content)
	require.NoError(t, err)
	require.True(t, c.InMemory())
	require.Equal(t, int64(len(content)), c.Size())

	buf := make([]byte, len(content))
	n, err := c.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, content, buf[:n])
}
