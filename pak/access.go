package pak

import "github.com/nocturne-engine/pakvfs/internal/pakerr"

// SetAccessDisabled gates file opens for a given caller role (e.g. "main",
// "render"); §4.7 "per-thread 'file access disabled' flag for QA". Go has
// no thread-local storage, so callers identify themselves by role rather
// than relying on an implicit current-thread lookup.
func (m *Manager) SetAccessDisabled(role string, disabled bool) {
	m.accessMu.Lock()
	m.accessDisabled[role] = disabled
	m.accessMu.Unlock()
}

// AccessDisabled reports the gate's current state for role.
func (m *Manager) AccessDisabled(role string) bool {
	m.accessMu.Lock()
	defer m.accessMu.Unlock()
	return m.accessDisabled[role]
}

// checkAccess returns ErrInvalidCall when role's gate is closed, logging a
// warning (§4.7 "violations produce a warning with callstack").
func (m *Manager) checkAccess(role, path string) error {
	if !m.AccessDisabled(role) {
		return nil
	}
	m.log().Warn("file open attempted while access disabled", "role", role, "path", path)
	return pakerr.New(pakerr.KindInvalidCall, "access-check", path)
}
