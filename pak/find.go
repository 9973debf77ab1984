package pak

import (
	"sort"
	"strings"

	"github.com/nocturne-engine/pakvfs/internal/pakerr"
	"github.com/nocturne-engine/pakvfs/internal/pathnorm"
)

// FindEntry is one merged directory-listing result (§4.7 "Find iterator").
type FindEntry struct {
	Name  string
	IsDir bool
}

type findHandle struct {
	entries []FindEntry
	pos     int
}

// FindFirst builds the merged listing for dir and returns an opaque handle
// plus its first entry (§6.4 find_first). Sources are merged in this order:
// the loose filesystem first (mod directories in reverse, then the plain
// data root), then each applicable mount; a case-insensitive name collision
// keeps whichever side says "directory" over whichever says "file". The
// returned listing is sorted by name.
func (m *Manager) FindFirst(dir string, flags OpenFlags) (int, *FindEntry, error) {
	normalized, err := m.AdjustFileName(dir, flags)
	if err != nil {
		return 0, nil, err
	}
	normalized = strings.Trim(pathnorm.Clean(normalized), "/")

	merged := map[string]FindEntry{}
	order := make([]string, 0, 32)
	add := func(e FindEntry) {
		key := strings.ToLower(e.Name)
		if existing, ok := merged[key]; ok {
			if !existing.IsDir && e.IsDir {
				merged[key] = e
			}
			return
		}
		merged[key] = e
		order = append(order, key)
	}

	m.listLooseDir(normalized, add)
	m.listMountDirs(normalized, add)

	entries := make([]FindEntry, 0, len(order))
	for _, key := range order {
		entries = append(entries, merged[key])
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	h := &findHandle{entries: entries}
	m.findMu.Lock()
	if m.finds == nil {
		m.finds = map[int]*findHandle{}
	}
	m.findSeq++
	id := m.findSeq
	m.finds[id] = h
	m.findMu.Unlock()

	first, err := m.FindNext(id)
	return id, first, err
}

// FindNext returns the next entry for handle, or (nil, nil) once exhausted
// (§6.4 find_next).
func (m *Manager) FindNext(handle int) (*FindEntry, error) {
	m.findMu.Lock()
	h, ok := m.finds[handle]
	m.findMu.Unlock()
	if !ok {
		return nil, pakerr.New(pakerr.KindInvalidCall, "find-next", "")
	}
	if h.pos >= len(h.entries) {
		return nil, nil
	}
	e := h.entries[h.pos]
	h.pos++
	return &e, nil
}

// FindClose releases handle's listing (§6.4 find_close).
func (m *Manager) FindClose(handle int) error {
	m.findMu.Lock()
	defer m.findMu.Unlock()
	if _, ok := m.finds[handle]; !ok {
		return pakerr.New(pakerr.KindInvalidCall, "find-close", "")
	}
	delete(m.finds, handle)
	return nil
}

func (m *Manager) listLooseDir(dir string, add func(FindEntry)) {
	m.modsMu.RLock()
	mods := append([]string(nil), m.mods...)
	m.modsMu.RUnlock()

	scan := func(base string) {
		target := base
		if dir != "" {
			target = pathnorm.Join(base, dir)
		}
		entries, err := m.fs.ReadDir(target)
		if err != nil {
			return
		}
		for _, e := range entries {
			add(FindEntry{Name: e.Name(), IsDir: e.IsDir()})
		}
	}
	for i := len(mods) - 1; i >= 0; i-- {
		scan(mods[i])
	}
	if m.dataRoot != "" {
		scan(m.dataRoot)
	} else {
		scan(".")
	}
}

func (m *Manager) listMountDirs(dir string, add func(FindEntry)) {
	m.mountsMu.RLock()
	mounts := append([]*mountedArchive(nil), m.mounts...)
	m.mountsMu.RUnlock()

	for i := len(mounts) - 1; i >= 0; i-- {
		mnt := mounts[i]
		if mnt.flags&MountDisablePak != 0 {
			continue
		}
		rel, ok := pathnorm.StripPrefix(dir, mnt.bindRoot)
		if !ok {
			continue
		}
		prefix := rel
		if prefix != "" {
			prefix += "/"
		}
		for _, le := range mnt.cache.List() {
			path := strings.TrimPrefix(le.Path, "/")
			if !strings.HasPrefix(path, prefix) {
				continue
			}
			rest := path[len(prefix):]
			if rest == "" {
				continue
			}
			if idx := strings.IndexByte(rest, '/'); idx >= 0 {
				add(FindEntry{Name: rest[:idx], IsDir: true})
			} else {
				add(FindEntry{Name: rest, IsDir: false})
			}
		}
	}
}
