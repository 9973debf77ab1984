package batchcopy

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nocturne-engine/pakvfs/archive"
)

func buildZip(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, "batch.pak")
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestVerifyAllDetectsGoodArchive(t *testing.T) {
	dir := t.TempDir()
	path := buildZip(t, dir, map[string]string{
		"a.txt": "alpha",
		"b.txt": "beta, a bit longer so deflate actually shrinks it down some",
		"c.txt": "gamma",
	})

	c, err := archive.Open(path)
	require.NoError(t, err)
	defer c.Release()

	v := New(c, WithWorkers(2))
	results, err := v.VerifyAll(c.List())
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		require.NoError(t, r.Err, r.Path)
	}
}

func TestVerifyAllEmptyListing(t *testing.T) {
	v := New(nil)
	results, err := v.VerifyAll(nil)
	require.NoError(t, err)
	require.Nil(t, results)
}
