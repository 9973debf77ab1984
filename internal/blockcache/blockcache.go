// Package blockcache implements the optional disk-backed shard cache a
// mount can sit in front of its archive cursor's reads (§4.9, component N):
// used only when a mount is flagged ON_REMOVABLE_MEDIA or
// SLOW_BACKING_STORE, never for an IN_MEMORY archive.
//
// Grounded on the teacher's core/cache/disk.BlockCache: same
// sharded-directory layout, the same temp-file-then-rename write, and a
// singleflight.Group deduplicating concurrent fetches of the same block.
// Two things differ because the key being cached differs: a pakvfs mount
// has no content hash to key by (an archive's bytes are read by offset, not
// by digest), so the cache key here is (archive-id, sector-aligned-offset)
// rather than the teacher's (source-id, block-size, block-index) triple —
// and the sector size defaults to the 128 KiB window archive.Cache's own
// ReadStreaming already aligns to, so a cache miss and the uncached fast
// path read the same span.
package blockcache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700

	// DefaultSectorSize matches archive.Cache.ReadStreaming's alignment
	// window, so a cached sector and an uncached streaming read cover the
	// same bytes.
	DefaultSectorSize int64 = 128 << 10

	// DefaultMaxSectorsPerRead bypasses the cache for a read that would
	// touch more than this many sectors, the same conservative guard the
	// teacher's block cache applies to large sequential reads (e.g. a
	// batch copy/verify pass, which already reads in big contiguous spans
	// and gains nothing from per-sector caching).
	DefaultMaxSectorsPerRead = 4
)

// ByteSource is the random-access collaborator a mount's archive cursor
// already satisfies (zipfile.Cursor).
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// Cache is a disk-backed, sharded store of fixed-size sectors, safe for
// concurrent use by every mount that wraps a ByteSource through it.
type Cache struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	maxBytes       int64

	bytes      atomic.Int64
	fetchGroup singleflight.Group
	pruneMu    sync.Mutex
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithMaxBytes sets the maximum total size of cached sectors. Values <= 0
// mean unlimited.
func WithMaxBytes(n int64) Option { return func(c *Cache) { c.maxBytes = n } }

// WithShardPrefixLen sets the number of hex characters of a sector's key
// used as a subdirectory prefix. 0 disables sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option { return func(c *Cache) { c.shardPrefixLen = n } }

// WithDirPerm sets the permissions used for created cache directories.
func WithDirPerm(mode os.FileMode) Option { return func(c *Cache) { c.dirPerm = mode } }

// New creates a disk-backed block cache rooted at dir, creating it if
// necessary.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("blockcache: dir is empty")
	}
	c := &Cache{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.shardPrefixLen < 0 {
		return nil, errors.New("blockcache: shard prefix length must be >= 0")
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, err
	}
	c.bytes.Store(size)
	return c, nil
}

// MaxBytes returns the configured size limit (0 = unlimited).
func (c *Cache) MaxBytes() int64 { return c.maxBytes }

// SizeBytes returns the current total size of cached sectors.
func (c *Cache) SizeBytes() int64 { return c.bytes.Load() }

// Prune evicts the least-recently-written sectors until the cache is at or
// below targetBytes, for a maintenance tick to call under memory pressure
// (§4.9 "Prune(targetBytes)").
func (c *Cache) Prune(targetBytes int64) (int64, error) {
	if targetBytes < 0 {
		targetBytes = 0
	}
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	freed, remaining, err := pruneDir(c.dir, targetBytes)
	if err != nil {
		return 0, err
	}
	c.bytes.Store(remaining)
	return freed, nil
}

// SectorOption configures a Wrap call.
type SectorOption func(*sectorConfig)

type sectorConfig struct {
	sectorSize       int64
	maxSectorsPerRead int
}

// WithSectorSize overrides the sector size a wrapped ByteSource is cached
// under.
func WithSectorSize(n int64) SectorOption {
	return func(cfg *sectorConfig) { cfg.sectorSize = n }
}

// WithMaxSectorsPerRead overrides how many sectors a single ReadAt may span
// before the cache is bypassed. 0 disables the limit.
func WithMaxSectorsPerRead(n int) SectorOption {
	return func(cfg *sectorConfig) { cfg.maxSectorsPerRead = n }
}

// Wrap returns a ByteSource that caches src's reads in fixed-size sectors
// keyed by (archiveID, sector index). archiveID should be stable for the
// lifetime of the mount (the archive's bind path works well) and distinct
// across mounts sharing one Cache.
func (c *Cache) Wrap(archiveID string, src ByteSource, opts ...SectorOption) (ByteSource, error) {
	if src == nil {
		return nil, errors.New("blockcache: source is nil")
	}
	if archiveID == "" {
		return nil, errors.New("blockcache: archive id is empty")
	}
	cfg := sectorConfig{sectorSize: DefaultSectorSize, maxSectorsPerRead: DefaultMaxSectorsPerRead}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sectorSize <= 0 {
		return nil, errors.New("blockcache: sector size must be > 0")
	}
	if cfg.sectorSize > math.MaxInt {
		return nil, errors.New("blockcache: sector size exceeds max int")
	}
	if cfg.maxSectorsPerRead < 0 {
		return nil, errors.New("blockcache: max sectors per read must be >= 0")
	}
	return &cachedSource{
		src:       src,
		cache:     c,
		archiveID: archiveID,
		sectorSize: cfg.sectorSize,
		maxSectorsPerRead: cfg.maxSectorsPerRead,
	}, nil
}

type cachedSource struct {
	src               ByteSource
	cache             *Cache
	archiveID         string
	sectorSize        int64
	maxSectorsPerRead int
}

func (s *cachedSource) Size() int64 { return s.src.Size() }

func (s *cachedSource) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("blockcache: read at %d: negative offset", off)
	}
	size := s.src.Size()
	if off >= size {
		return 0, io.EOF
	}

	expected := int64(len(p))
	if off+expected > size {
		expected = size - off
	}

	startSector := off / s.sectorSize
	endSector := (off + expected - 1) / s.sectorSize
	sectorCount := endSector - startSector + 1

	if s.maxSectorsPerRead > 0 && sectorCount > int64(s.maxSectorsPerRead) {
		return s.src.ReadAt(p, off)
	}

	var n int64
	for sector := startSector; sector <= endSector; sector++ {
		sectorStart := sector * s.sectorSize
		sectorEnd := sectorStart + s.sectorSize
		if sectorEnd > size {
			sectorEnd = size
		}
		sectorLen := sectorEnd - sectorStart

		data, err := s.cache.getSector(s.archiveID, s.sectorSize, sector, sectorLen, func() ([]byte, error) {
			return s.readSectorFromSource(sectorStart, sectorLen)
		})
		if err != nil {
			return int(n), err
		}
		if int64(len(data)) < sectorLen {
			return int(n), io.ErrUnexpectedEOF
		}

		copyStart := max(off, sectorStart)
		copyEnd := min(off+expected, sectorEnd)
		srcOffset := copyStart - sectorStart
		dstOffset := copyStart - off
		length := copyEnd - copyStart

		if length > 0 {
			copy(p[dstOffset:dstOffset+length], data[srcOffset:srcOffset+length])
			n += length
		}
	}

	if expected < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

func (s *cachedSource) readSectorFromSource(off, length int64) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}
	if length > math.MaxInt {
		return nil, errors.New("blockcache: sector length exceeds max int")
	}
	buf := make([]byte, int(length))
	n, err := s.src.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if int64(n) != length {
		return nil, io.ErrUnexpectedEOF
	}
	return buf, nil
}

func (c *Cache) getSector(archiveID string, sectorSize, sector, sectorLen int64, fetch func() ([]byte, error)) ([]byte, error) {
	key := c.sectorKeyHex(archiveID, sectorSize, sector)
	result, err, _ := c.fetchGroup.Do(key, func() (any, error) {
		path := c.pathForKey(key)
		if data, readErr := os.ReadFile(path); readErr == nil { //nolint:gosec // path is derived from a hash, not user input
			if int64(len(data)) == sectorLen {
				return data, nil
			}
			c.bytes.Add(-int64(len(data)))
			_ = os.Remove(path)
		} else if !errors.Is(readErr, os.ErrNotExist) {
			return nil, readErr
		}

		data, fetchErr := fetch()
		if fetchErr != nil {
			return nil, fetchErr
		}
		if int64(len(data)) != sectorLen {
			return nil, io.ErrUnexpectedEOF
		}
		_ = c.writeSector(path, data) //nolint:errcheck // cache write is best-effort; the read already has its data
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

func (c *Cache) writeSector(path string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if ok, err := c.ensureCapacity(int64(len(data))); err != nil {
		return err
	} else if !ok {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "sector-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			_ = os.Remove(tmpPath)
			return nil
		}
		_ = os.Remove(tmpPath)
		return err
	}
	c.bytes.Add(int64(len(data)))
	return nil
}

func (c *Cache) sectorKeyHex(archiveID string, sectorSize, sector int64) string {
	hasher := sha256.New()
	_, _ = hasher.Write([]byte(archiveID)) //nolint:errcheck // hash writes never fail

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(sectorSize)) //nolint:gosec // sectorSize validated > 0
	binary.BigEndian.PutUint64(buf[8:], uint64(sector))     //nolint:gosec // sector always >= 0
	_, _ = hasher.Write(buf[:])                              //nolint:errcheck // hash writes never fail

	return hex.EncodeToString(hasher.Sum(nil))
}

func (c *Cache) pathForKey(hexKey string) string {
	if c.shardPrefixLen <= 0 {
		return filepath.Join(c.dir, hexKey)
	}
	prefixLen := c.shardPrefixLen
	if prefixLen > len(hexKey) {
		prefixLen = len(hexKey)
	}
	return filepath.Join(c.dir, hexKey[:prefixLen], hexKey)
}

func (c *Cache) ensureCapacity(need int64) (bool, error) {
	if c.maxBytes <= 0 {
		return true, nil
	}
	if need > c.maxBytes {
		return false, nil
	}
	if c.SizeBytes()+need <= c.maxBytes {
		return true, nil
	}
	if _, err := c.Prune(c.maxBytes - need); err != nil {
		return false, err
	}
	return c.SizeBytes()+need <= c.maxBytes, nil
}
