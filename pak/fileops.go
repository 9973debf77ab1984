package pak

import (
	"os"
	"strings"
	"time"

	"github.com/nocturne-engine/pakvfs/internal/pakerr"
)

// parseMode translates a C-style fopen mode string into the os.OpenFile
// flags needed for a write-capable open; read-only modes never reach it,
// since a plain "r"/"rb" open is routed through resolve() instead.
func parseMode(mode string) (int, error) {
	base := strings.TrimSuffix(mode, "b")
	switch base {
	case "r":
		return os.O_RDONLY, nil
	case "r+":
		return os.O_RDWR, nil
	case "w":
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC, nil
	case "w+":
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC, nil
	case "a":
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND, nil
	case "a+":
		return os.O_RDWR | os.O_CREATE | os.O_APPEND, nil
	default:
		return 0, pakerr.New(pakerr.KindInvalidCall, "parse-mode", mode)
	}
}

func isReadOnlyMode(mode string) bool {
	base := strings.TrimSuffix(mode, "b")
	return base == "r"
}

// FOpen resolves path and returns an opaque handle (§4.7 fopen, §6.4). Pure
// read ("r"/"rb") modes go through resolve(), which may land on a mounted
// archive entry or a loose file; every write-capable mode bypasses the
// resolver and opens directly on disk, since mounted archives are read-only
// (§1 Non-goals).
func (m *Manager) FOpen(path, mode string, flags OpenFlags) (int, error) {
	if err := m.checkAccess("default", path); err != nil {
		return 0, err
	}

	if !isReadOnlyMode(mode) {
		return m.fopenWrite(path, mode)
	}

	res, err := m.resolve(path, flags)
	if err != nil {
		return 0, err
	}
	if res.FromPak {
		return m.allocPseudoFile(res, flags), nil
	}
	f, err := m.fs.Open(res.DiskPath)
	if err != nil {
		return 0, pakerr.Wrap(pakerr.KindIO, "fopen", res.DiskPath, err)
	}
	return m.allocPlatformHandle(&platformHandle{path: res.DiskPath, ro: f}), nil
}

func (m *Manager) fopenWrite(path string, mode string) (int, error) {
	osFlags, err := parseMode(mode)
	if err != nil {
		return 0, err
	}
	adjusted, err := m.AdjustFileName(path, FlagOnDisk)
	if err != nil {
		return 0, err
	}
	f, err := os.OpenFile(adjusted, osFlags, 0o644) //nolint:gosec // caller-resolved path, write mode is an explicit caller request
	if err != nil {
		return 0, pakerr.Wrap(pakerr.KindIO, "fopen", adjusted, err)
	}
	return m.allocPlatformHandle(&platformHandle{path: adjusted, rw: f}), nil
}

func (m *Manager) allocPseudoFile(res *Resolution, flags OpenFlags) int {
	pf := newPseudoFile(res.Cache, res.ArchivePath, res.Entry, flags)
	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()
	if n := len(m.freeList); n > 0 {
		idx := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		m.slots[idx] = pf
		return handleBase + idx
	}
	m.slots = append(m.slots, pf)
	return handleBase + len(m.slots) - 1
}

func (m *Manager) allocPlatformHandle(ph *platformHandle) int {
	m.platMu.Lock()
	defer m.platMu.Unlock()
	if n := len(m.platFreeList); n > 0 {
		idx := m.platFreeList[n-1]
		m.platFreeList = m.platFreeList[:n-1]
		m.platform[idx] = ph
		return idx + 1 // 0 is reserved as "no handle"
	}
	m.platform = append(m.platform, ph)
	return len(m.platform)
}

func (m *Manager) pseudoSlot(handle int) (*PseudoFile, bool) {
	if handle < handleBase {
		return nil, false
	}
	m.slotsMu.RLock()
	defer m.slotsMu.RUnlock()
	idx := handle - handleBase
	if idx < 0 || idx >= len(m.slots) || m.slots[idx] == nil {
		return nil, false
	}
	return m.slots[idx], true
}

func (m *Manager) platSlot(handle int) (*platformHandle, bool) {
	if handle >= handleBase || handle <= 0 {
		return nil, false
	}
	m.platMu.RLock()
	defer m.platMu.RUnlock()
	idx := handle - 1
	if idx < 0 || idx >= len(m.platform) || m.platform[idx] == nil {
		return nil, false
	}
	return m.platform[idx], true
}

// FClose releases handle, whichever table it belongs to (§6.4 fclose).
func (m *Manager) FClose(handle int) error {
	if pf, ok := m.pseudoSlot(handle); ok {
		_ = pf
		m.dropCachedFileData(handle)
		m.slotsMu.Lock()
		idx := handle - handleBase
		m.slots[idx] = nil
		m.freeList = append(m.freeList, idx)
		m.slotsMu.Unlock()
		return nil
	}
	if ph, ok := m.platSlot(handle); ok {
		m.platMu.Lock()
		idx := handle - 1
		m.platform[idx] = nil
		m.platFreeList = append(m.platFreeList, idx)
		m.platMu.Unlock()
		return ph.close()
	}
	return pakerr.New(pakerr.KindInvalidCall, "fclose", "")
}

// FRead reads into dst from handle's current cursor (§6.4 fread).
func (m *Manager) FRead(handle int, dst []byte) (int, error) {
	if pf, ok := m.pseudoSlot(handle); ok {
		return pf.Read(dst)
	}
	if ph, ok := m.platSlot(handle); ok {
		return ph.read(dst)
	}
	return 0, pakerr.New(pakerr.KindInvalidCall, "fread", "")
}

// FWrite writes src at handle's current cursor (§6.4 fwrite); only valid for
// a write-capable platform handle.
func (m *Manager) FWrite(handle int, src []byte) (int, error) {
	if ph, ok := m.platSlot(handle); ok {
		return ph.write(src)
	}
	if _, ok := m.pseudoSlot(handle); ok {
		return 0, pakerr.New(pakerr.KindInvalidCall, "fwrite", "")
	}
	return 0, pakerr.New(pakerr.KindInvalidCall, "fwrite", "")
}

// FSeek repositions handle's cursor (§6.4 fseek).
func (m *Manager) FSeek(handle int, offset int64, whence int) (int64, error) {
	if pf, ok := m.pseudoSlot(handle); ok {
		return pf.Seek(offset, whence)
	}
	if ph, ok := m.platSlot(handle); ok {
		return ph.seek(offset, whence)
	}
	return 0, pakerr.New(pakerr.KindInvalidCall, "fseek", "")
}

// FTell returns handle's current cursor position.
func (m *Manager) FTell(handle int) (int64, error) {
	if pf, ok := m.pseudoSlot(handle); ok {
		return pf.Tell(), nil
	}
	if ph, ok := m.platSlot(handle); ok {
		return ph.cursor, nil
	}
	return 0, pakerr.New(pakerr.KindInvalidCall, "ftell", "")
}

// FEof reports whether handle's cursor is at end of file.
func (m *Manager) FEof(handle int) (bool, error) {
	if pf, ok := m.pseudoSlot(handle); ok {
		return pf.Eof(), nil
	}
	if ph, ok := m.platSlot(handle); ok {
		size, err := ph.size()
		if err != nil {
			return false, err
		}
		return ph.cursor >= size, nil
	}
	return false, pakerr.New(pakerr.KindInvalidCall, "feof", "")
}

// FGetc reads a single byte, returning -1 at end of file.
func (m *Manager) FGetc(handle int) (int, error) {
	if pf, ok := m.pseudoSlot(handle); ok {
		return pf.Getc()
	}
	var b [1]byte
	n, err := m.FRead(handle, b[:])
	if err != nil {
		return -1, err
	}
	if n == 0 {
		return -1, nil
	}
	return int(b[0]), nil
}

// FUngetc pushes b back onto handle so the next read returns it again.
func (m *Manager) FUngetc(handle int, b byte) error {
	if pf, ok := m.pseudoSlot(handle); ok {
		pf.Ungetc(b)
		return nil
	}
	if ph, ok := m.platSlot(handle); ok {
		if ph.cursor > 0 {
			ph.cursor--
		}
		return nil
	}
	return pakerr.New(pakerr.KindInvalidCall, "fungetc", "")
}

// FGets reads a line into dst the way C's fgets does (§6.4 fgets).
func (m *Manager) FGets(handle int, dst []byte) (int, error) {
	if pf, ok := m.pseudoSlot(handle); ok {
		return pf.Gets(dst)
	}
	if len(dst) < 2 {
		return 0, nil
	}
	i := 0
	for i < len(dst)-1 {
		c, err := m.FGetc(handle)
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

// GetFileSize returns handle's total size.
func (m *Manager) GetFileSize(handle int) (int64, error) {
	if pf, ok := m.pseudoSlot(handle); ok {
		return pf.Size(), nil
	}
	if ph, ok := m.platSlot(handle); ok {
		return ph.size()
	}
	return 0, pakerr.New(pakerr.KindInvalidCall, "get-file-size", "")
}

// IsInPak reports whether handle is backed by a mounted archive entry
// rather than a loose disk file (§6.4 is_in_pak).
func (m *Manager) IsInPak(handle int) bool {
	_, ok := m.pseudoSlot(handle)
	return ok
}

// GetFileArchivePath returns the mounted archive's path for a pak-backed
// handle, or "" for a loose disk file (§6.4 get_file_archive_name).
func (m *Manager) GetFileArchivePath(handle int) string {
	if pf, ok := m.pseudoSlot(handle); ok {
		return pf.archivePath
	}
	return ""
}

// GetModificationTime returns the entry's packed DOS timestamp (or the
// NTFS high-resolution one, when present) converted to time.Time (§6.4
// get_file_time); for a loose disk handle it stats the underlying file.
func (m *Manager) GetModificationTime(handle int) (time.Time, error) {
	if pf, ok := m.pseudoSlot(handle); ok {
		if pf.data.entry.ModNTFS != 0 {
			return ntfsTime(pf.data.entry.ModNTFS), nil
		}
		return dosTime(pf.data.entry.ModDOSDate, pf.data.entry.ModDOSTime), nil
	}
	if ph, ok := m.platSlot(handle); ok {
		var info interface{ ModTime() time.Time }
		var err error
		if ph.rw != nil {
			info, err = ph.rw.Stat()
		} else {
			info, err = ph.ro.Stat()
		}
		if err != nil {
			return time.Time{}, pakerr.Wrap(pakerr.KindIO, "get-modification-time", ph.path, err)
		}
		return info.ModTime(), nil
	}
	return time.Time{}, pakerr.New(pakerr.KindInvalidCall, "get-modification-time", "")
}

// dosTime unpacks a DOS date/time pair, the inverse of the
// archive package's dosDateTime used when writing entries.
func dosTime(date, tm uint16) time.Time {
	year := int(date>>9) + 1980
	month := time.Month((date >> 5) & 0xF)
	day := int(date & 0x1F)
	hour := int(tm >> 11)
	min := int((tm >> 5) & 0x3F)
	sec := int(tm&0x1F) * 2
	return time.Date(year, month, day, hour, min, sec, 0, time.UTC)
}

// ntfsTime converts a Win32 FILETIME (100ns ticks since 1601-01-01) to
// time.Time.
func ntfsTime(ticks uint64) time.Time {
	const ticksPerSecond = 10_000_000
	const epochDelta = 11644473600 // seconds between 1601-01-01 and 1970-01-01
	secs := int64(ticks/ticksPerSecond) - epochDelta
	nsecs := int64(ticks%ticksPerSecond) * 100
	return time.Unix(secs, nsecs).UTC()
}
