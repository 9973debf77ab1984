// Package pathnorm implements the path and separator rules archives and the
// resolver agree on: lowercasing on case-insensitive platforms, separator
// normalization, and collapse of "./" and "../" segments.
package pathnorm

import (
	"runtime"
	"strings"
)

// NativeSeparator is the platform-native path separator used in the name
// pool (forward slash on POSIX, backslash on Windows). Hash inputs always
// use backslash regardless of platform (data model invariant 3).
var NativeSeparator byte = '/'

func init() {
	if runtime.GOOS == "windows" {
		NativeSeparator = '\\'
	}
}

// CaseInsensitive reports whether the current platform collates names
// case-insensitively. Archives built on such platforms lowercase names at
// construction time (§4.4 step 6).
func CaseInsensitive() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// IsAlias reports whether name is an "@alias@..." token, which is passed
// through unmodified by the resolver (§6.5).
func IsAlias(name string) bool {
	if len(name) < 2 || name[0] != '@' {
		return false
	}
	return strings.IndexByte(name[1:], '@') >= 0
}

// HasDriveLetter reports whether name looks like a Windows absolute path
// ("C:\..." or "C:/...").
func HasDriveLetter(name string) bool {
	if len(name) < 2 || name[1] != ':' {
		return false
	}
	c := name[0]
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// ToHashForm normalizes name the way hash inputs require: lowercase,
// backslash separators, regardless of host platform (invariant 3).
func ToHashForm(name string) string {
	name = strings.ToLower(name)
	return strings.ReplaceAll(name, "/", "\\")
}

// ToStorageForm normalizes name for storage in a DirHeader name pool:
// lowercase on case-insensitive platforms, native separators.
func ToStorageForm(name string) string {
	if CaseInsensitive() {
		name = strings.ToLower(name)
	}
	if NativeSeparator == '\\' {
		return strings.ReplaceAll(name, "/", "\\")
	}
	return strings.ReplaceAll(name, "\\", "/")
}

// Clean collapses "./" and "../" segments the strict way the resolver
// requires: "/foo/bar/../baz" -> "/foo/baz", leading "./" is stripped, but in
// a relative path a "../" that would escape the root is preserved as a
// literal segment rather than silently absorbed (callers reject paths whose
// Clean result still contains a leading ".."). In an absolute path a ".." at
// the root is dropped.
func Clean(name string) string {
	if name == "" {
		return ""
	}
	name = strings.ReplaceAll(name, "\\", "/")

	absolute := strings.HasPrefix(name, "/")
	segments := strings.Split(name, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 && out[len(out)-1] != ".." {
				out = out[:len(out)-1]
				continue
			}
			if absolute {
				continue
			}
			out = append(out, seg)
		default:
			out = append(out, seg)
		}
	}

	cleaned := strings.Join(out, "/")
	if absolute {
		return "/" + cleaned
	}
	return cleaned
}

// EscapesRoot reports whether a cleaned relative path still starts with
// ".." (i.e. it would resolve outside of its bind-root).
func EscapesRoot(cleaned string) bool {
	return cleaned == ".." || strings.HasPrefix(cleaned, "../")
}

// Join joins a bind-root and a relative path using forward slashes,
// trimming any duplicate separators at the seam.
func Join(root, rel string) string {
	root = strings.TrimSuffix(root, "/")
	rel = strings.TrimPrefix(rel, "/")
	if root == "" {
		return rel
	}
	if rel == "" {
		return root
	}
	return root + "/" + rel
}

// StripPrefix removes prefix (a bind-root, case-insensitively matched) from
// name, reporting whether name was actually under prefix. The returned
// suffix never has a leading separator.
func StripPrefix(name, prefix string) (string, bool) {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return strings.TrimPrefix(name, "/"), true
	}
	lowerName, lowerPrefix := strings.ToLower(name), strings.ToLower(prefix)
	if lowerName == lowerPrefix {
		return "", true
	}
	if !strings.HasPrefix(lowerName, lowerPrefix+"/") {
		return "", false
	}
	return name[len(prefix)+1:], true
}
