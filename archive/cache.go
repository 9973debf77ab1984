package archive

import (
	"sync"
	"sync/atomic"

	"github.com/nocturne-engine/pakvfs/internal/arena"
	"github.com/nocturne-engine/pakvfs/internal/blockcache"
	"github.com/nocturne-engine/pakvfs/internal/cdr"
	"github.com/nocturne-engine/pakvfs/internal/dirdata"
	"github.com/nocturne-engine/pakvfs/internal/pakcipher"
	"github.com/nocturne-engine/pakvfs/internal/pakerr"
	"github.com/nocturne-engine/pakvfs/internal/zipfile"
)

// Directory unifies the tree and flat-hash DirHeader variants behind one
// lookup shape (§4.3); which concrete implementation a Cache holds is fixed
// at CacheFactory construction time.
type Directory interface {
	Find(path string) (*dirdata.FileEntry, bool)
}

// treeDirectory adapts *dirdata.Dir's FindFile to the Directory interface;
// the tree and hash variants use different method names because the tree
// also exposes FindSubdir/Walk, which HashDir has no use for.
type treeDirectory struct{ d *dirdata.Dir }

func (t treeDirectory) Find(path string) (*dirdata.FileEntry, bool) { return t.d.FindFile(path) }

// Cache is the refcounted, read-only view of one mounted archive (component
// E): answers find/read/refresh against a parsed directory and an open
// byte cursor. Cache never re-parses the CDR; that is CacheFactory's job.
type Cache struct {
	archiveName string
	cursor      *zipfile.Cursor
	dir         Directory

	// blockSrc is non-nil only when the mount was opened WithBlockCache:
	// every raw read goes through it instead of the cursor directly,
	// wrapping the cursor in a sector-cached ByteSource (§4.9, component N).
	blockSrc blockcache.ByteSource

	arena       *arena.Arena
	decoderPool *arena.FlateDecoderPool

	encKind  cdr.EncryptionKind
	sigKind  cdr.SignatureKind
	keyTable pakcipher.KeyTable

	requireEncryption bool
	verifyCRC         bool
	clearCRCOnOK      bool

	refcount atomic.Int64

	uncompactedMu sync.Mutex
	uncompacted   bool
}

// Retain increments the refcount (invariant 6: refcount >= 0, freed only at
// 0 with no outstanding PseudoFile references — the PakManager layer is
// responsible for the PseudoFile half of that rule).
func (c *Cache) Retain() { c.refcount.Add(1) }

// Release decrements the refcount and closes the underlying cursor once it
// reaches zero.
func (c *Cache) Release() error {
	if c.refcount.Add(-1) > 0 {
		return nil
	}
	return c.cursor.Close()
}

// RefCount reports the current refcount, chiefly for tests and diagnostics.
func (c *Cache) RefCount() int64 { return c.refcount.Load() }

// ArchiveName returns the base name CacheFactory was given, used by the
// signature/policy layer and in error messages.
func (c *Cache) ArchiveName() string { return c.archiveName }

// rawReader returns whichever collaborator raw reads should go through:
// the block cache's wrapped source when one is configured, otherwise the
// cursor itself.
func (c *Cache) rawReader() interface {
	ReadAt(p []byte, off int64) (int, error)
} {
	if c.blockSrc != nil {
		return c.blockSrc
	}
	return c.cursor
}

// Find looks up path (§4.5 find): normalizes via the directory's own
// collation and returns a copy of the matching FileEntry with a freshly
// resolved DataOffset. Unlike a pointer into shared storage, the returned
// value does not alias the directory's internal arrays, so a transparent
// Refresh runs on every call whose entry still carries dirdata.Invalid
// rather than caching the resolved offset back into the directory.
func (c *Cache) Find(path string) (dirdata.FileEntry, bool, error) {
	e, ok := c.dir.Find(path)
	if !ok {
		return dirdata.FileEntry{}, false, nil
	}
	entry := *e
	if err := c.Refresh(&entry); err != nil {
		return dirdata.FileEntry{}, false, err
	}
	return entry, true, nil
}

// Refresh resolves entry.DataOffset in place if it is still
// dirdata.Invalid (§4.5 refresh): reads the 30-byte local file header,
// verifies its method agrees with the CDR record, and computes
// data_offset = header_offset + 30 + name_length + extra_length. Under
// header encryption the local header is untrustworthy, so data_offset is
// instead derived from the CDR's own name_length alone.
func (c *Cache) Refresh(entry *dirdata.FileEntry) error {
	if entry.DataOffset != dirdata.Invalid {
		return nil
	}
	if c.encKind != cdr.EncryptionNone {
		// The CDR-estimated offset was already computed by CacheFactory
		// using only the CDR's declared name length; nothing further to do
		// without re-parsing the untrustworthy local header.
		return pakerr.New(pakerr.KindDataCorrupt, "refresh", c.archiveName)
	}

	hdrAndSig := make([]byte, 4+cdr.LocalFileHeaderSize)
	if _, err := c.rawReader().ReadAt(hdrAndSig, int64(entry.HeaderOffset)); err != nil {
		return pakerr.Wrap(pakerr.KindIO, "refresh", c.archiveName, err)
	}
	sig := uint32(hdrAndSig[0]) | uint32(hdrAndSig[1])<<8 | uint32(hdrAndSig[2])<<16 | uint32(hdrAndSig[3])<<24
	if sig != cdr.SigLocalFileHeader {
		return pakerr.New(pakerr.KindInvalidSignature, "refresh", c.archiveName)
	}
	lfh := cdr.ParseLocalFileHeaderBody(hdrAndSig[4:])
	wantDeflate := entry.Method.IsDeflate()
	gotDeflate := lfh.Method == 8
	if wantDeflate != gotDeflate {
		return pakerr.New(pakerr.KindValidationFailed, "refresh", c.archiveName)
	}
	entry.DataOffset = entry.HeaderOffset + cdr.LocalFileHeaderSize + uint32(lfh.NameLength) + uint32(lfh.ExtraLength) //nolint:gosec // bounded by archive size
	return nil
}

// ListedEntry is one (full path, entry) pair produced by List.
type ListedEntry struct {
	Path  string
	Entry dirdata.FileEntry
}

// List enumerates every entry in the archive with its full path, for the
// PakManager's find iterator (§4.7 "Find iterator"). The hash and tree
// directory variants expose this differently, so List is the one place that
// bridges them: the hash variant is already a flat (path, entry) table, and
// the tree variant's Walk already yields full paths.
func (c *Cache) List() []ListedEntry {
	switch d := c.dir.(type) {
	case *dirdata.HashDir:
		entries, names := d.Entries()
		out := make([]ListedEntry, len(entries))
		for i, e := range entries {
			out[i] = ListedEntry{Path: names[i], Entry: e}
		}
		return out
	case treeDirectory:
		var out []ListedEntry
		d.d.Walk(func(path string, e dirdata.FileEntry) bool {
			out = append(out, ListedEntry{Path: path, Entry: e})
			return true
		})
		return out
	default:
		return nil
	}
}

// LoadToMemory reads the whole archive into memory and serves future reads
// from it, closing the underlying file handle (§6.4 load_pak_to_memory).
func (c *Cache) LoadToMemory() error { return c.cursor.LoadToMemory() }

// UnloadFromMemory drops the in-memory block and reopens the archive from
// disk (§6.4 unload_pak_from_memory).
func (c *Cache) UnloadFromMemory() error { return c.cursor.UnloadFromMemory() }

// InMemory reports whether the archive is currently served from memory.
func (c *Cache) InMemory() bool { return c.cursor.InMemory() }

func (c *Cache) markUncompacted() {
	c.uncompactedMu.Lock()
	c.uncompacted = true
	c.uncompactedMu.Unlock()
}

// Uncompacted reports whether the archive has pending gaps a relink would
// reclaim (§4.6 step 4, "mark archive UNCOMPACTED").
func (c *Cache) Uncompacted() bool {
	c.uncompactedMu.Lock()
	defer c.uncompactedMu.Unlock()
	return c.uncompacted
}
