package pak

import (
	"sync"

	"github.com/nocturne-engine/pakvfs/archive"
	"github.com/nocturne-engine/pakvfs/internal/dirdata"
	"github.com/nocturne-engine/pakvfs/internal/pakerr"
)

// fileCachedData is the shared, refcounted materialization of one archive
// entry's decompressed bytes (§3 "PseudoFile ... owns a strong reference to
// a FileCachedData"). Several PseudoFiles opened against the same entry
// share one fileCachedData and therefore one decompression.
type fileCachedData struct {
	cache *archive.Cache
	entry dirdata.FileEntry

	mu   sync.Mutex
	blob []byte // nil until first full materialization
}

func (d *fileCachedData) materialize() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.blob != nil {
		return d.blob, nil
	}
	buf := make([]byte, d.entry.UncompressedSize)
	got, err := d.cache.Read(d.entry, archive.ReadOptions{
		Decompress:      true,
		Decrypt:         true,
		UncompressedBuf: buf,
		DataReadSize:    -1,
	})
	if err != nil {
		return nil, err
	}
	d.blob = got
	return d.blob, nil
}

// PseudoFile is a single open, stateful read view onto one FileEntry
// (component H, §4.8): a cursor and flags, shared access to the entry's
// materialized bytes. Its cursor is mutated only by the goroutine holding
// its handle (§5).
type PseudoFile struct {
	data        *fileCachedData
	flags       OpenFlags
	cursor      int64
	ungotten    int16 // -1 when empty, else a pushed-back byte (§4.8 Ungetc)
	archivePath string
}

func newPseudoFile(c *archive.Cache, archivePath string, entry dirdata.FileEntry, flags OpenFlags) *PseudoFile {
	return &PseudoFile{
		data:        &fileCachedData{cache: c, entry: entry},
		flags:       flags,
		ungotten:    -1,
		archivePath: archivePath,
	}
}

// Size returns the entry's uncompressed size.
func (p *PseudoFile) Size() int64 { return int64(p.data.entry.UncompressedSize) }

// Tell returns the current cursor position.
func (p *PseudoFile) Tell() int64 { return p.cursor }

// Eof reports whether the cursor has reached the end of the entry.
func (p *PseudoFile) Eof() bool { return p.ungotten < 0 && p.cursor >= p.Size() }

// Read copies up to len(dst) bytes starting at the cursor into dst,
// advancing the cursor, and returns the number of bytes copied (§4.8
// read). DIRECT_OPERATION is honored only when the entry is STORE and the
// archive isn't memory-resident; otherwise the full decompressed blob is
// materialized once and shared across reads.
func (p *PseudoFile) Read(dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}

	n := 0
	if p.ungotten >= 0 {
		dst[0] = byte(p.ungotten)
		p.ungotten = -1
		n = 1
		p.cursor++
		if len(dst) == 1 {
			return n, nil
		}
	}

	if p.flags.has(FlagDirectOperation) && !p.data.entry.Method.IsDeflate() && !p.data.cache.InMemory() {
		remaining := p.Size() - p.cursor
		if remaining <= 0 {
			return n, nil
		}
		want := int64(len(dst) - n)
		if want > remaining {
			want = remaining
		}
		if err := p.data.cache.ReadStreaming(p.data.entry, dst[n:n+int(want)], p.cursor); err != nil {
			return n, err
		}
		p.cursor += want
		return n + int(want), nil
	}

	blob, err := p.data.materialize()
	if err != nil {
		return n, err
	}
	if p.cursor >= int64(len(blob)) {
		return n, nil
	}
	copied := copy(dst[n:], blob[p.cursor:])
	p.cursor += int64(copied)
	return n + copied, nil
}

// Seek repositions the cursor (§4.8 seek): SET/CUR/END, matching io.Seeker
// whence constants. Any resulting position outside [0, size] is ErrIO.
func (p *PseudoFile) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case 0: // io.SeekStart
		target = offset
	case 1: // io.SeekCurrent
		target = p.cursor + offset
	case 2: // io.SeekEnd
		target = p.Size() + offset
	default:
		return 0, pakerr.New(pakerr.KindInvalidCall, "seek", "")
	}
	if target < 0 || target > p.Size() {
		return 0, pakerr.New(pakerr.KindIO, "seek", "")
	}
	p.cursor = target
	p.ungotten = -1
	return target, nil
}

// Getc reads a single byte, returning -1 with a nil error at end of file.
func (p *PseudoFile) Getc() (int, error) {
	var b [1]byte
	n, err := p.Read(b[:])
	if err != nil {
		return -1, err
	}
	if n == 0 {
		return -1, nil
	}
	return int(b[0]), nil
}

// Ungetc pushes one byte back so the next Read/Getc returns it again
// (§4.8 "may need to peek one byte ahead").
func (p *PseudoFile) Ungetc(b byte) {
	p.ungotten = int16(b)
	if p.cursor > 0 {
		p.cursor--
	}
}

// Gets reads up to len(dst)-1 bytes or through the first '\n' (inclusive),
// NUL-terminating the result the way C's fgets does; returns the number of
// bytes written excluding the terminator.
func (p *PseudoFile) Gets(dst []byte) (int, error) {
	if len(dst) < 2 {
		return 0, nil
	}
	i := 0
	for i < len(dst)-1 {
		c, err := p.Getc()
		if err != nil {
			return i, err
		}
		if c < 0 {
			break
		}
		dst[i] = byte(c)
		i++
		if c == '\n' {
			break
		}
	}
	dst[i] = 0
	return i, nil
}
