package pak

import (
	"github.com/nocturne-engine/pakvfs/archive"
	"github.com/nocturne-engine/pakvfs/internal/dirdata"
	"github.com/nocturne-engine/pakvfs/internal/pakerr"
	"github.com/nocturne-engine/pakvfs/internal/pathnorm"
)

// Resolution is what resolve produces: either a loose on-disk path or a
// pak entry, never both.
type Resolution struct {
	FromPak bool

	DiskPath string

	Cache       *archive.Cache
	ArchivePath string
	Entry       dirdata.FileEntry
}

// AdjustFileName normalizes a logical path the way §4.7/§6.5 specify:
// lowercase/separator/"."/".." normalization, alias tokens passed through
// untouched, data-root prepended onto relative non-aliased paths.
func (m *Manager) AdjustFileName(path string, flags OpenFlags) (string, error) {
	if pathnorm.IsAlias(path) {
		return path, nil
	}
	if pathnorm.HasDriveLetter(path) && !flags.has(FlagAbsolutePaths) {
		return "", pakerr.New(pakerr.KindInvalidPath, "adjust-file-name", path)
	}

	cleaned := pathnorm.Clean(path)
	if pathnorm.EscapesRoot(cleaned) {
		return "", pakerr.New(pakerr.KindInvalidPath, "adjust-file-name", path)
	}
	if cleaned == "" {
		return "", pakerr.New(pakerr.KindInvalidPath, "adjust-file-name", path)
	}

	if len(cleaned) > 0 && cleaned[0] == '/' {
		return cleaned, nil // already absolute on this platform
	}
	if m.dataRoot == "" {
		return cleaned, nil
	}
	return pathnorm.Join(m.dataRoot, cleaned), nil
}

// resolve implements §4.7's priority table for one read-mode open: it
// normalizes path, then tries disk and the mount list in the order the
// configured Priority dictates.
func (m *Manager) resolve(path string, flags OpenFlags) (*Resolution, error) {
	normalized, err := m.AdjustFileName(path, flags)
	if err != nil {
		return nil, err
	}

	tryDisk := func() (*Resolution, bool) {
		if candidate, ok := m.diskCandidate(normalized); ok {
			return &Resolution{DiskPath: candidate}, true
		}
		return nil, false
	}
	tryPak := func() (*Resolution, bool, error) {
		mnt, entry, found, err := m.findInMounts(normalized)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, nil
		}
		return &Resolution{FromPak: true, Cache: mnt.cache, ArchivePath: mnt.path, Entry: entry}, true, nil
	}

	switch m.priority {
	case FileFirst:
		if r, ok := tryDisk(); ok {
			return r, nil
		}
		if r, ok, err := tryPak(); err != nil {
			return nil, err
		} else if ok {
			return r, nil
		}
	case PakOnly:
		if r, ok, err := tryPak(); err != nil {
			return nil, err
		} else if ok {
			return r, nil
		}
		if flags.has(FlagOnDisk) {
			if r, ok := tryDisk(); ok {
				return r, nil
			}
		}
	case FileFirstModsOnly:
		if m.pathUnderAnyMod(normalized) {
			if r, ok := tryDisk(); ok {
				return r, nil
			}
		}
		if r, ok, err := tryPak(); err != nil {
			return nil, err
		} else if ok {
			return r, nil
		}
		if !m.pathUnderAnyMod(normalized) {
			if r, ok := tryDisk(); ok {
				return r, nil
			}
		}
	default: // PakFirst
		if r, ok, err := tryPak(); err != nil {
			return nil, err
		} else if ok {
			return r, nil
		}
		if r, ok := tryDisk(); ok {
			return r, nil
		}
	}

	m.recordMissing(normalized)
	return nil, pakerr.New(pakerr.KindFileNotFound, "resolve", normalized)
}

// diskCandidate tries each mod directory (reverse insertion order) before
// the plain data-root-relative path, returning the first that stats
// successfully (§4.7 "each mod directory is tried in reverse insertion
// order").
func (m *Manager) diskCandidate(relPath string) (string, bool) {
	m.modsMu.RLock()
	mods := append([]string(nil), m.mods...)
	m.modsMu.RUnlock()

	for i := len(mods) - 1; i >= 0; i-- {
		candidate := pathnorm.Join(mods[i], relPath)
		if _, err := m.fs.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	if _, err := m.fs.Stat(relPath); err == nil {
		return relPath, true
	}
	return "", false
}

func (m *Manager) pathUnderAnyMod(path string) bool {
	m.modsMu.RLock()
	defer m.modsMu.RUnlock()
	return isUnderAnyMod(path, m.mods)
}
