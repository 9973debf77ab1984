package archive

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/nocturne-engine/pakvfs/internal/cdr"
	"github.com/nocturne-engine/pakvfs/internal/dirdata"
	"github.com/nocturne-engine/pakvfs/internal/pakerr"
)

// CacheRW is the writable overlay on top of the same on-disk ZIP format
// (component F, §4.6). Unlike the read-only Cache, it keeps its directory
// as a plain map so entries can be mutated and relinked in place; it
// always mounts a disk file (archives opened purely in memory have nowhere
// to persist a write).
type CacheRW struct {
	*Cache

	file *os.File
	path string

	writerMu sync.Mutex // non-recursive: refuses a second concurrent session (Open Question a)
	entries  map[string]*dirdata.FileEntry

	cdrOffset   uint32 // current end-of-data position; also next append point
	cdrDirty    bool
	dontCompact bool
}

// OpenRW opens path for both reading and writing, building a mutable
// directory from a FULL-mode CacheFactory pass.
func OpenRW(path string, opts ...Option) (*CacheRW, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	c, err := Open(path, append(append([]Option{}, opts...), WithInitMode(cdr.ModeFull))...)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0) //nolint:gosec // caller-supplied archive path, same trust model as zipfile.Open
	if err != nil {
		_ = c.Release()
		return nil, pakerr.Wrap(pakerr.KindIO, "open-rw", path, err)
	}

	rw := &CacheRW{
		Cache:       c,
		file:        f,
		path:        path,
		entries:     map[string]*dirdata.FileEntry{},
		dontCompact: cfg.dontCompact,
	}

	names := map[string]bool{}
	var all []dirdata.FileEntry
	var allNames []string
	if hd, ok := c.dir.(*dirdata.HashDir); ok {
		all, allNames = hd.Entries()
	} else if td, ok := c.dir.(treeDirectory); ok {
		td.d.Walk(func(entryPath string, e dirdata.FileEntry) bool {
			all = append(all, e)
			allNames = append(allNames, entryPath)
			return true
		})
	}
	var maxEnd uint32
	for i, name := range allNames {
		if names[name] {
			continue
		}
		names[name] = true
		e := all[i]
		rw.entries[name] = &e
		end := e.HeaderOffset + cdr.LocalFileHeaderSize + uint32(len(name)) + e.CompressedSize //nolint:gosec // bounded by archive size
		if end > maxEnd {
			maxEnd = end
		}
	}
	rw.cdrOffset = maxEnd
	rw.computeEOFOffsets()
	return rw, nil
}

// computeEOFOffsets recomputes each entry's EOFOffset as the next entry's
// HeaderOffset in file order, or cdrOffset for the last one (data model
// "eof_offset").
func (rw *CacheRW) computeEOFOffsets() {
	type kv struct {
		name string
		e    *dirdata.FileEntry
	}
	ordered := make([]kv, 0, len(rw.entries))
	for name, e := range rw.entries {
		ordered = append(ordered, kv{name, e})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].e.HeaderOffset < ordered[j].e.HeaderOffset })
	for i, item := range ordered {
		if i+1 < len(ordered) {
			item.e.EOFOffset = ordered[i+1].e.HeaderOffset
		} else {
			item.e.EOFOffset = rw.cdrOffset
		}
	}
}

// lockWriter acquires the non-recursive writer lock, returning
// ErrInvalidCall instead of blocking when a session is already open — the
// chosen resolution of Open Question (a).
func (rw *CacheRW) lockWriter() error {
	if !rw.writerMu.TryLock() {
		return pakerr.New(pakerr.KindInvalidCall, "write-session", rw.archiveName)
	}
	return nil
}

func (rw *CacheRW) unlockWriter() { rw.writerMu.Unlock() }

// Update adds or replaces the entry at path (§4.6 update), steps 1-6.
func (rw *CacheRW) Update(path string, data []byte, method dirdata.Method, level int) error {
	if err := rw.lockWriter(); err != nil {
		return err
	}
	defer rw.unlockWriter()

	// Step 1: find-or-allocate, transactionally.
	existing, hadExisting := rw.entries[path]
	var entry dirdata.FileEntry
	if hadExisting {
		entry = *existing
	} else {
		entry = dirdata.FileEntry{NameHash: dirdata.PathHash(path), DataOffset: dirdata.Invalid}
	}

	// Step 2: compress.
	var compressed []byte
	switch method {
	case dirdata.MethodStore:
		compressed = data
	case dirdata.MethodDeflate:
		var out bytes.Buffer
		w, err := flate.NewWriter(&out, level)
		if err != nil {
			return pakerr.Wrap(pakerr.KindZlibFailed, "update", path, err)
		}
		if _, err := w.Write(data); err != nil {
			return pakerr.Wrap(pakerr.KindZlibFailed, "update", path, err)
		}
		if err := w.Close(); err != nil {
			return pakerr.Wrap(pakerr.KindZlibFailed, "update", path, err)
		}
		compressed = out.Bytes()
	default:
		return pakerr.New(pakerr.KindUnsupported, "update", path)
	}

	// Step 3: update desc fields.
	entry.CRC32 = crc32.ChecksumIEEE(data)
	entry.UncompressedSize = uint32(len(data)) //nolint:gosec // bounded by archive size
	entry.CompressedSize = uint32(len(compressed)) //nolint:gosec // bounded by archive size
	entry.Method = method
	now := time.Now()
	entry.ModDOSDate, entry.ModDOSTime = dosDateTime(now)

	// Step 4: placement.
	needed := cdr.LocalFileHeaderSize + uint32(len(path)) + entry.CompressedSize //nolint:gosec // bounded by archive size
	inPlace := hadExisting && entry.HeaderOffset+needed <= existing.EOFOffset
	if inPlace {
		if entry.HeaderOffset+needed < existing.EOFOffset {
			rw.markUncompacted()
		}
	} else {
		entry.HeaderOffset = rw.cdrOffset
		rw.markUncompacted()
	}
	entry.DataOffset = entry.HeaderOffset + cdr.LocalFileHeaderSize + uint32(len(path)) //nolint:gosec // bounded by archive size

	// Step 5: write local header + data.
	if err := rw.writeLocalHeaderAndData(entry, path, compressed); err != nil {
		return err
	}
	if !inPlace {
		rw.cdrOffset = entry.DataOffset + entry.CompressedSize
	}

	// Step 6: mark CDR dirty; persist the entry.
	stored := entry
	rw.entries[path] = &stored
	rw.cdrDirty = true
	rw.computeEOFOffsets()
	return nil
}

func (rw *CacheRW) writeLocalHeaderAndData(entry dirdata.FileEntry, path string, compressed []byte) error {
	hdr := make([]byte, cdr.LocalFileHeaderSize+len(path))
	putLocalFileHeader(hdr, entry, path)
	if _, err := rw.file.WriteAt(hdr, int64(entry.HeaderOffset)); err != nil {
		return pakerr.Wrap(pakerr.KindIO, "update", path, err)
	}

	const chunkSize = 1 << 20
	off := int64(entry.DataOffset)
	for off-int64(entry.DataOffset) < int64(len(compressed)) {
		end := off - int64(entry.DataOffset) + chunkSize
		if end > int64(len(compressed)) {
			end = int64(len(compressed))
		}
		chunk := compressed[off-int64(entry.DataOffset) : end]
		n, err := rw.file.WriteAt(chunk, off)
		if err != nil {
			return pakerr.Wrap(pakerr.KindIO, "update", path, err)
		}
		off += int64(n)
	}
	return nil
}

// RemoveFile unlinks path from the in-memory directory without reclaiming
// its bytes (§4.6 remove_file); relink is required to reclaim the gap.
func (rw *CacheRW) RemoveFile(path string) error {
	if err := rw.lockWriter(); err != nil {
		return err
	}
	defer rw.unlockWriter()
	if _, ok := rw.entries[path]; !ok {
		return pakerr.New(pakerr.KindFileNotFound, "remove-file", path)
	}
	delete(rw.entries, path)
	rw.markUncompacted()
	rw.cdrDirty = true
	return nil
}

// RemoveDir removes every entry whose path is prefixed by dir+"/".
func (rw *CacheRW) RemoveDir(dir string) error {
	if err := rw.lockWriter(); err != nil {
		return err
	}
	defer rw.unlockWriter()
	prefix := dir + "/"
	removed := false
	for name := range rw.entries {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			delete(rw.entries, name)
			removed = true
		}
	}
	if !removed {
		return pakerr.New(pakerr.KindDirNotFound, "remove-dir", dir)
	}
	rw.markUncompacted()
	rw.cdrDirty = true
	return nil
}

// RemoveAll clears every entry.
func (rw *CacheRW) RemoveAll() error {
	if err := rw.lockWriter(); err != nil {
		return err
	}
	defer rw.unlockWriter()
	rw.entries = map[string]*dirdata.FileEntry{}
	rw.markUncompacted()
	rw.cdrDirty = true
	return nil
}

// StartContinuous reserves size zero bytes for a streaming capture,
// method fixed at STORE (§4.6 start_continuous).
func (rw *CacheRW) StartContinuous(path string, size uint32) error {
	if err := rw.lockWriter(); err != nil {
		return err
	}
	defer rw.unlockWriter()

	entry := dirdata.FileEntry{
		NameHash:         dirdata.PathHash(path),
		Method:           dirdata.MethodStore,
		HeaderOffset:     rw.cdrOffset,
		UncompressedSize: size,
		CompressedSize:   size,
	}
	entry.DataOffset = entry.HeaderOffset + cdr.LocalFileHeaderSize + uint32(len(path)) //nolint:gosec // bounded by archive size

	zeros := make([]byte, size)
	entry.CRC32 = crc32.ChecksumIEEE(zeros)
	if err := rw.writeLocalHeaderAndData(entry, path, zeros); err != nil {
		return err
	}
	rw.cdrOffset = entry.DataOffset + size
	entry.EOFOffset = rw.cdrOffset
	rw.entries[path] = &entry
	rw.markUncompacted()
	rw.cdrDirty = true
	return nil
}

// UpdateContinuousSegment appends or overwrites part of a file previously
// reserved with StartContinuous. overwriteSeekPos == dirdata.Invalid means
// append (§4.6).
func (rw *CacheRW) UpdateContinuousSegment(path string, segment []byte, overwriteSeekPos uint32) error {
	if err := rw.lockWriter(); err != nil {
		return err
	}
	defer rw.unlockWriter()

	entry, ok := rw.entries[path]
	if !ok {
		return pakerr.New(pakerr.KindFileNotFound, "update-continuous-segment", path)
	}
	if entry.Method != dirdata.MethodStore {
		return pakerr.New(pakerr.KindInvalidCall, "update-continuous-segment", path)
	}

	var writeAt int64
	if overwriteSeekPos == dirdata.Invalid {
		writeAt = int64(entry.DataOffset) + int64(entry.CompressedSize) // append at current end
		entry.EOFOffset += uint32(len(segment)) //nolint:gosec // bounded by archive size
		entry.UncompressedSize += uint32(len(segment)) //nolint:gosec // bounded by archive size
		entry.CompressedSize += uint32(len(segment)) //nolint:gosec // bounded by archive size
	} else {
		writeAt = int64(entry.DataOffset) + int64(overwriteSeekPos)
	}
	if _, err := rw.file.WriteAt(segment, writeAt); err != nil {
		return pakerr.Wrap(pakerr.KindIO, "update-continuous-segment", path, err)
	}
	// Recompute the CRC over the entry's whole data span so reads that
	// verify CRC32 (and the CDR written at Close) match the bytes on disk.
	whole := make([]byte, entry.CompressedSize)
	if _, err := rw.file.ReadAt(whole, int64(entry.DataOffset)); err != nil {
		return pakerr.Wrap(pakerr.KindIO, "update-continuous-segment", path, err)
	}
	entry.CRC32 = crc32.ChecksumIEEE(whole)
	// An append can push this entry's data past the archive's previous
	// end-of-data mark; keep cdrOffset (the CDR's eventual write position
	// and the next unrelated Update's append point) from landing inside it.
	if newEnd := writeAt + int64(len(segment)); newEnd > int64(rw.cdrOffset) {
		rw.cdrOffset = uint32(newEnd) //nolint:gosec // bounded by archive size
	}
	rw.computeEOFOffsets()
	rw.cdrDirty = true
	return nil
}

// Relink compacts the archive into a tightly packed copy (§4.6 relink).
func (rw *CacheRW) Relink() error {
	if err := rw.lockWriter(); err != nil {
		return err
	}
	defer rw.unlockWriter()

	type kv struct {
		name string
		e    *dirdata.FileEntry
	}
	ordered := make([]kv, 0, len(rw.entries))
	for name, e := range rw.entries {
		ordered = append(ordered, kv{name, e})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].e.HeaderOffset < ordered[j].e.HeaderOffset })

	backup := make(map[string]dirdata.FileEntry, len(rw.entries))
	for name, e := range rw.entries {
		backup[name] = *e
	}
	backupCDROffset := rw.cdrOffset

	dir := filepath.Dir(rw.path)
	tmpName := filepath.Join(dir, "."+filepath.Base(rw.path)+"."+randomSuffix())
	tmp, err := os.OpenFile(tmpName, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec // relink scratch file alongside the archive being compacted
	if err != nil {
		return pakerr.Wrap(pakerr.KindIO, "relink", rw.archiveName, err)
	}

	var cursor int64
	relinkFailed := false
	for _, item := range ordered {
		raw, err := rw.Cache.Read(*item.e, ReadOptions{Decompress: false, Decrypt: false, DataReadSize: -1})
		if err != nil {
			relinkFailed = true
			break
		}
		newHeaderOffset := uint32(cursor) //nolint:gosec // bounded by archive size
		hdr := make([]byte, cdr.LocalFileHeaderSize+len(item.name))
		e := *item.e
		e.HeaderOffset = newHeaderOffset
		putLocalFileHeader(hdr, e, item.name)
		if _, err := tmp.WriteAt(hdr, cursor); err != nil {
			relinkFailed = true
			break
		}
		dataOffset := cursor + int64(len(hdr))
		if _, err := tmp.WriteAt(raw, dataOffset); err != nil {
			relinkFailed = true
			break
		}
		e.DataOffset = uint32(dataOffset) //nolint:gosec // bounded by archive size
		item.e.HeaderOffset = e.HeaderOffset
		item.e.DataOffset = e.DataOffset
		cursor = dataOffset + int64(len(raw))
	}

	if relinkFailed {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		for name, e := range backup {
			*rw.entries[name] = e
		}
		rw.cdrOffset = backupCDROffset
		return pakerr.New(pakerr.KindIO, "relink", rw.archiveName)
	}

	rw.cdrOffset = uint32(cursor) //nolint:gosec // bounded by archive size
	rw.computeEOFOffsets()

	if err := tmp.Close(); err != nil {
		return pakerr.Wrap(pakerr.KindIO, "relink", rw.archiveName, err)
	}
	if err := rw.file.Close(); err != nil {
		return pakerr.Wrap(pakerr.KindIO, "relink", rw.archiveName, err)
	}
	if err := os.Remove(rw.path); err != nil {
		return pakerr.Wrap(pakerr.KindIO, "relink", rw.archiveName, err)
	}
	if err := os.Rename(tmpName, rw.path); err != nil {
		return pakerr.Wrap(pakerr.KindIO, "relink", rw.archiveName, err)
	}
	f, err := os.OpenFile(rw.path, os.O_RDWR, 0) //nolint:gosec // reopening the archive this CacheRW already owns
	if err != nil {
		return pakerr.Wrap(pakerr.KindIO, "relink", rw.archiveName, err)
	}
	rw.file = f
	// The rename left rw.Cache.cursor (a separate fd opened by Open/OpenRW)
	// pointing at the old, now-unlinked inode: every offset a read goes
	// through it with was just rewritten by the compaction above, so the
	// cursor must pick up the new file or every subsequent Cache.Read on
	// this CacheRW would apply the fresh offsets to the stale bytes.
	if err := rw.cursor.Reopen(); err != nil {
		return pakerr.Wrap(pakerr.KindIO, "relink", rw.archiveName, err)
	}
	rw.uncompactedMu.Lock()
	rw.uncompacted = false
	rw.uncompactedMu.Unlock()
	rw.cdrDirty = true
	return nil
}

// Close writes a fresh CDR (relinking first unless dontCompact is set) and
// releases the underlying file handle (§4.6 "close semantics").
func (rw *CacheRW) Close() error {
	if rw.cdrDirty {
		if !rw.dontCompact {
			_ = rw.Relink() // best-effort; a failed relink restores the previous offsets, so the CDR below indexes the uncompacted data
		}
		if err := rw.writeCDR(); err != nil {
			return err
		}
	}
	if err := rw.file.Close(); err != nil {
		return pakerr.Wrap(pakerr.KindIO, "close", rw.archiveName, err)
	}
	return rw.Cache.Release()
}

// writeCDR rewrites the central directory and EOCD at rw.cdrOffset.
func (rw *CacheRW) writeCDR() error {
	names := make([]string, 0, len(rw.entries))
	for name := range rw.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := make([]byte, 0, 4096)
	for _, name := range names {
		buf = append(buf, putCentralDirHeader(*rw.entries[name], name)...)
	}
	cdrOffset := rw.cdrOffset
	if _, err := rw.file.WriteAt(buf, int64(cdrOffset)); err != nil {
		return pakerr.Wrap(pakerr.KindIO, "write-cdr", rw.archiveName, err)
	}
	eocd := make([]byte, cdr.EOCDSize)
	putEOCD(eocd, uint16(len(names)), uint32(len(buf)), cdrOffset) //nolint:gosec // bounded by archive entry count/size
	if _, err := rw.file.WriteAt(eocd, int64(cdrOffset)+int64(len(buf))); err != nil {
		return pakerr.Wrap(pakerr.KindIO, "write-cdr", rw.archiveName, err)
	}
	// Drop any bytes left past the new EOCD (an older, longer CDR tail), so
	// the EOCD stays the last record in the file.
	if err := rw.file.Truncate(int64(cdrOffset) + int64(len(buf)) + int64(len(eocd))); err != nil {
		return pakerr.Wrap(pakerr.KindIO, "write-cdr", rw.archiveName, err)
	}
	rw.cdrDirty = false
	return nil
}

func randomSuffix() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func dosDateTime(t time.Time) (date, tm uint16) {
	date = uint16((t.Year()-1980)<<9 | int(t.Month())<<5 | t.Day()) //nolint:gosec // DOS date packs within 16 bits
	tm = uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()/2) //nolint:gosec // DOS time packs within 16 bits
	return date, tm
}
