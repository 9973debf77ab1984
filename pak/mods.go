package pak

// AddMod appends dir to the mod path list (§3 "mod-path list (ordered,
// most-specific last)"); resolution tries mods in reverse, so the most
// recently added mod wins a conflict.
func (m *Manager) AddMod(dir string) {
	m.modsMu.Lock()
	m.mods = append(m.mods, dir)
	m.modsMu.Unlock()
}

// RemoveMod removes the first occurrence of dir from the mod path list.
func (m *Manager) RemoveMod(dir string) bool {
	m.modsMu.Lock()
	defer m.modsMu.Unlock()
	for i, mod := range m.mods {
		if mod == dir {
			m.mods = append(m.mods[:i], m.mods[i+1:]...)
			return true
		}
	}
	return false
}

// Mods returns a snapshot of the current mod path list, in insertion order.
func (m *Manager) Mods() []string {
	m.modsMu.RLock()
	defer m.modsMu.RUnlock()
	return append([]string(nil), m.mods...)
}
