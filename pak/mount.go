package pak

import (
	"path/filepath"
	"strings"

	"github.com/nocturne-engine/pakvfs/archive"
	"github.com/nocturne-engine/pakvfs/internal/dirdata"
	"github.com/nocturne-engine/pakvfs/internal/pakerr"
	"github.com/nocturne-engine/pakvfs/internal/pathnorm"
)

// MountFlags are per-mount behavior bits (§3 PakManager state "flags").
type MountFlags uint32

const (
	// MountNone applies no special behavior.
	MountNone MountFlags = 0
	// MountDisablePak excludes the mount from resolution without unmounting
	// it (§4.7 "subject to ... DISABLE_PAK flag").
	MountDisablePak MountFlags = 1 << iota
	// MountOnRemovableMedia flags a mount as backed by slow/removable
	// storage, eligible for the optional block cache (§4.9).
	MountOnRemovableMedia
	// MountSlowBackingStore is the non-removable analogue of
	// MountOnRemovableMedia.
	MountSlowBackingStore
)

type mountedArchive struct {
	bindRoot string
	path     string
	cache    *archive.Cache
	flags    MountFlags
}

func normalizeBindRoot(root string) string {
	root = strings.ReplaceAll(root, "\\", "/")
	root = strings.Trim(root, "/")
	return root
}

// Mount opens path via CacheFactory and adds it to the mount list under
// bindRoot (§4.7 "Mount", "open_pack"). Mounts are considered in reverse
// insertion order: the most recently mounted archive wins a conflict.
func (m *Manager) Mount(bindRoot, path string, flags MountFlags, opts ...archive.Option) error {
	if m.arena != nil {
		opts = append(opts, archive.WithArena(m.arena))
	}
	if m.blockCache != nil && flags&(MountOnRemovableMedia|MountSlowBackingStore) != 0 {
		opts = append(opts, archive.WithBlockCache(m.blockCache))
	}
	c, err := archive.Open(path, opts...)
	if err != nil {
		return err
	}

	m.mountsMu.Lock()
	defer m.mountsMu.Unlock()
	m.mounts = append(m.mounts, &mountedArchive{
		bindRoot: normalizeBindRoot(bindRoot),
		path:     path,
		cache:    c,
		flags:    flags,
	})
	m.log().Info("mounted pak", "path", path, "bind_root", bindRoot)
	return nil
}

// MountWildcard mounts every file matching pattern (a filepath.Glob
// pattern) under the same bindRoot, in lexical order, so later matches
// still win ties the normal way (§4.7 "a wildcard variant opens all
// matching archives").
func (m *Manager) MountWildcard(bindRoot, pattern string, flags MountFlags, opts ...archive.Option) error {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return pakerr.Wrap(pakerr.KindIO, "mount-wildcard", pattern, err)
	}
	for _, path := range matches {
		if err := m.Mount(bindRoot, path, flags, opts...); err != nil {
			return err
		}
	}
	return nil
}

// Unmount releases the mount whose archive path matches path, releasing
// its Cache reference (§4.7 "close_pack").
func (m *Manager) Unmount(path string) error {
	m.mountsMu.Lock()
	defer m.mountsMu.Unlock()
	for i, mnt := range m.mounts {
		if mnt.path == path {
			m.mounts = append(m.mounts[:i], m.mounts[i+1:]...)
			return mnt.cache.Release()
		}
	}
	return pakerr.New(pakerr.KindFileNotFound, "unmount", path)
}

// UnmountAll releases every mount.
func (m *Manager) UnmountAll() error {
	m.mountsMu.Lock()
	defer m.mountsMu.Unlock()
	var firstErr error
	for _, mnt := range m.mounts {
		if err := mnt.cache.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.mounts = nil
	return firstErr
}

// SetPackAccessible toggles MountDisablePak on the mount matching path
// (§6.4 "set_pack_accessible").
func (m *Manager) SetPackAccessible(path string, accessible bool) error {
	m.mountsMu.Lock()
	defer m.mountsMu.Unlock()
	for _, mnt := range m.mounts {
		if mnt.path == path {
			if accessible {
				mnt.flags &^= MountDisablePak
			} else {
				mnt.flags |= MountDisablePak
			}
			return nil
		}
	}
	return pakerr.New(pakerr.KindFileNotFound, "set-pack-accessible", path)
}

// FindPacks returns the archive paths of every current mount whose
// bind-root matches bindRootFilter (empty matches everything), most
// recently mounted first.
func (m *Manager) FindPacks(bindRootFilter string) []string {
	m.mountsMu.RLock()
	defer m.mountsMu.RUnlock()
	bindRootFilter = normalizeBindRoot(bindRootFilter)
	var out []string
	for i := len(m.mounts) - 1; i >= 0; i-- {
		mnt := m.mounts[i]
		if bindRootFilter == "" || mnt.bindRoot == bindRootFilter {
			out = append(out, mnt.path)
		}
	}
	return out
}

// findInMounts locates path (already normalized) in the mount list,
// honoring bind-root isolation (property 8) and reverse-mount-order
// priority ("last mounted wins").
func (m *Manager) findInMounts(path string) (*mountedArchive, dirdata.FileEntry, bool, error) {
	m.mountsMu.RLock()
	defer m.mountsMu.RUnlock()
	for i := len(m.mounts) - 1; i >= 0; i-- {
		mnt := m.mounts[i]
		if mnt.flags&MountDisablePak != 0 {
			continue
		}
		rel, ok := pathnorm.StripPrefix(path, mnt.bindRoot)
		if !ok {
			continue
		}
		entry, found, err := mnt.cache.Find(rel)
		if err != nil {
			return nil, dirdata.FileEntry{}, false, err
		}
		if found {
			return mnt, entry, true, nil
		}
	}
	return nil, dirdata.FileEntry{}, false, nil
}
