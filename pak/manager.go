package pak

import (
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nocturne-engine/pakvfs/internal/arena"
	"github.com/nocturne-engine/pakvfs/internal/blockcache"
)

// handleBase distinguishes pseudo-file handles from platform handles, which
// are required to be small positive integers (§4.7 "k is a fixed offset").
const handleBase = 1 << 16

// Manager is the resolver (component G): an ordered mount list, a mod path
// list, per-role access gates, and the table of open PseudoFiles, all
// sharing one Arena with the Caches it mounts.
type Manager struct {
	arena      *arena.Arena
	logger     *slog.Logger
	fs         PlatformFS
	dataRoot   string
	priority   Priority
	blockCache *blockcache.Cache

	mountsMu sync.RWMutex
	mounts   []*mountedArchive

	modsMu sync.RWMutex
	mods   []string // ordered, most-specific last; tried in reverse

	aliasMu sync.RWMutex
	aliases map[string]string

	accessMu       sync.Mutex
	accessDisabled map[string]bool // role -> disabled

	missingMu sync.Mutex
	missing   map[string]int

	slotsMu  sync.RWMutex
	slots    []*PseudoFile
	freeList []int

	platMu       sync.RWMutex
	platform     []*platformHandle
	platFreeList []int

	rawMu sync.Mutex
	raw   map[int]*cachedRawData
	rawSF singleflight.Group

	findMu  sync.Mutex
	finds   map[int]*findHandle
	findSeq int
}

// New constructs an empty Manager; mount archives with Mount/MountWildcard.
func New(opts ...Option) *Manager {
	m := &Manager{
		fs:             osFS{},
		priority:       PakFirst,
		aliases:        map[string]string{},
		accessDisabled: map[string]bool{},
		missing:        map[string]int{},
		raw:            map[int]*cachedRawData{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.arena == nil {
		m.arena = arena.New()
	}
	return m
}

func (m *Manager) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.logger
}

// recordMissing increments the missing-path counter (§7 "missing files are
// accumulated into a counter map").
func (m *Manager) recordMissing(path string) {
	m.missingMu.Lock()
	m.missing[path]++
	m.missingMu.Unlock()
}

// MissingReport returns a snapshot of the missing-path counter map, for a
// caller to write out at shutdown.
func (m *Manager) MissingReport() map[string]int {
	m.missingMu.Lock()
	defer m.missingMu.Unlock()
	out := make(map[string]int, len(m.missing))
	for k, v := range m.missing {
		out[k] = v
	}
	return out
}

// Close unmounts every archive and closes every outstanding PseudoFile and
// platform handle.
func (m *Manager) Close() error {
	m.slotsMu.Lock()
	openCount := 0
	for _, pf := range m.slots {
		if pf != nil {
			openCount++
		}
	}
	m.slots = nil
	m.freeList = nil
	m.slotsMu.Unlock()
	if openCount > 0 {
		m.log().Warn("closing manager with outstanding pseudo-files", "count", openCount)
	}

	m.platMu.Lock()
	var firstErr error
	for _, ph := range m.platform {
		if ph == nil {
			continue
		}
		if err := ph.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.platform = nil
	m.platFreeList = nil
	m.platMu.Unlock()

	if err := m.UnmountAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
