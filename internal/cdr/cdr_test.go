package cdr

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// memSource adapts an in-memory byte slice to the ByteSource interface.
type memSource struct{ data []byte }

func (m memSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, nil
	}
	n := copy(p, m.data[off:])
	return n, nil
}

func (m memSource) Size() int64 { return int64(len(m.data)) }

func buildTestZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestFindEOCDLocatesRecord(t *testing.T) {
	data := buildTestZip(t, map[string]string{"hello.txt": "Hello, world\n"})
	eocd, err := FindEOCD(memSource{data})
	require.NoError(t, err)
	require.Equal(t, uint16(1), eocd.EntriesTotal)
}

func TestParseCentralDirectoryRoundTrip(t *testing.T) {
	data := buildTestZip(t, map[string]string{
		"textures/wall.dds": "wall-bytes",
		"readme.txt":        "hello",
	})
	eocd, err := FindEOCD(memSource{data})
	require.NoError(t, err)

	cdrBytes := data[eocd.CDROffset : eocd.CDROffset+eocd.CDRSize]
	records, err := ParseCentralDirectory(cdrBytes)
	require.NoError(t, err)
	require.Len(t, records, 2)

	names := map[string]bool{}
	for _, r := range records {
		names[r.Name] = true
	}
	require.True(t, names["textures/wall.dds"])
	require.True(t, names["readme.txt"])
}

func TestOpenFastMode(t *testing.T) {
	data := buildTestZip(t, map[string]string{"hello.txt": "Hello, world\n"})
	res, err := Open(memSource{data}, "test.pak", Options{Mode: ModeFast, Variant: DirVariantHash})
	require.NoError(t, err)
	require.NotNil(t, res.HashDir)

	e, ok := res.HashDir.Find("hello.txt")
	require.True(t, ok)
	require.Equal(t, uint32(13), e.UncompressedSize)
}

func TestOpenFullModeValidatesLocalHeader(t *testing.T) {
	data := buildTestZip(t, map[string]string{"a/b/c.txt": "nested file contents"})
	res, err := Open(memSource{data}, "test.pak", Options{Mode: ModeFull, Variant: DirVariantTree})
	require.NoError(t, err)
	require.NotNil(t, res.TreeBlob)
}

func TestRejectsCorruptEOCDCommentLength(t *testing.T) {
	// The archive comment embeds a fake EOCD record whose declared comment
	// length (0) disagrees with the 4 bytes that follow it to EOF. The scan
	// must reject that candidate and keep going back to the real record.
	fake := append([]byte("PK\x05\x06"), make([]byte, EOCDSize-4)...)
	comment := string(append(fake, "tail"...))

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.CreateHeader(&zip.FileHeader{Name: "x", Method: zip.Store})
	require.NoError(t, err)
	_, err = f.Write([]byte("y"))
	require.NoError(t, err)
	require.NoError(t, w.SetComment(comment))
	require.NoError(t, w.Close())
	data := buf.Bytes()

	eocd, err := FindEOCD(memSource{data})
	require.NoError(t, err)
	require.Equal(t, uint16(len(comment)), eocd.CommentLength)
	require.Equal(t, uint16(1), eocd.EntriesTotal)
	require.Equal(t, int64(len(data)-len(comment)-EOCDSize), eocd.Pos)
}
