package pak

import (
	"log/slog"

	"github.com/nocturne-engine/pakvfs/internal/arena"
	"github.com/nocturne-engine/pakvfs/internal/blockcache"
)

// Option configures a Manager at construction, mirroring the functional
// options convention used throughout the archive package.
type Option func(*Manager)

// WithArena supplies the shared Arena every mounted Cache draws scratch
// memory from. Without it, Manager allocates its own.
func WithArena(a *arena.Arena) Option {
	return func(m *Manager) { m.arena = a }
}

// WithLogger sets the structured logger used for mount/resolve/miss
// diagnostics. Defaults to a discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithDataRoot sets the prefix prepended to relative, non-aliased logical
// paths before resolution (§4.7 adjust_file_name).
func WithDataRoot(root string) Option {
	return func(m *Manager) { m.dataRoot = root }
}

// WithPlatformFS swaps the loose-filesystem collaborator, chiefly for
// tests.
func WithPlatformFS(fsys PlatformFS) Option {
	return func(m *Manager) { m.fs = fsys }
}

// WithPriority sets the default priority policy new Managers resolve under
// (§4.7 "Priority").
func WithPriority(p Priority) Option {
	return func(m *Manager) { m.priority = p }
}

// WithBlockCache supplies the shared sector cache Mount draws on for any
// mount flagged MountOnRemovableMedia or MountSlowBackingStore (§4.9).
// Mounts without either flag never consult it.
func WithBlockCache(c *blockcache.Cache) Option {
	return func(m *Manager) { m.blockCache = c }
}
