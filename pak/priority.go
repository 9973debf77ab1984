package pak

import "strings"

// Priority selects which of a loose file and a mounted archive entry wins
// when both exist for the same logical path (§4.7 "Priority").
type Priority int

const (
	// FileFirst tries disk, then any pak.
	FileFirst Priority = iota
	// PakFirst tries any pak, then disk.
	PakFirst
	// PakOnly never consults disk unless the caller passes the ONDISK hint.
	PakOnly
	// FileFirstModsOnly tries disk first only when the path falls under a
	// mod directory; otherwise behaves like PakFirst.
	FileFirstModsOnly
)

// OpenFlags are per-call resolution hints (§4.7 fopen, §6.5).
type OpenFlags uint32

const (
	// FlagNone requests default resolution under the manager's priority.
	FlagNone OpenFlags = 0
	// FlagOnDisk allows PakOnly to still consult the loose filesystem.
	FlagOnDisk OpenFlags = 1 << iota
	// FlagNeverInPak is accepted but resolve does not consult it: mod
	// directories are searched the same way with or without it.
	FlagNeverInPak
	// FlagAbsolutePaths allows a Windows drive-letter absolute path to pass
	// through unmodified (§6.5).
	FlagAbsolutePaths
	// FlagDirectOperation requests PseudoFile.Read stream directly off disk
	// for uncompressed, on-disk-backed entries instead of materializing the
	// full decompressed blob first (§4.8).
	FlagDirectOperation
)

func (f OpenFlags) has(bit OpenFlags) bool { return f&bit != 0 }

// isUnderAnyMod reports whether path falls under one of the manager's
// mounted mod directories, used by FileFirstModsOnly.
func isUnderAnyMod(path string, mods []string) bool {
	lower := strings.ToLower(path)
	for _, mod := range mods {
		if strings.HasPrefix(lower, strings.ToLower(mod)) {
			return true
		}
	}
	return false
}
