package pak

import "strings"

// SetAlias maps an "@name@" token to a target path (§6.4 "add_mod,
// remove_mod, set_alias, get_alias"). We implement alias storage/lookup
// only, not the upstream resolution authority (§1 Non-goals).
func (m *Manager) SetAlias(name, target string) {
	m.aliasMu.Lock()
	m.aliases[name] = target
	m.aliasMu.Unlock()
}

// GetAlias returns the target a previously-set alias resolves to.
func (m *Manager) GetAlias(name string) (string, bool) {
	m.aliasMu.RLock()
	defer m.aliasMu.RUnlock()
	target, ok := m.aliases[name]
	return target, ok
}

// ParseAliasesFromCommandLine scans args for "-alias=@name@=target" tokens
// and registers each one via SetAlias.
func (m *Manager) ParseAliasesFromCommandLine(args []string) {
	const prefix = "-alias="
	for _, arg := range args {
		if !strings.HasPrefix(arg, prefix) {
			continue
		}
		rest := arg[len(prefix):]
		name, target, ok := strings.Cut(rest, "=")
		if !ok {
			continue
		}
		m.SetAlias(name, target)
	}
}
