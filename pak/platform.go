package pak

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nocturne-engine/pakvfs/internal/platform"
)

// PlatformFS is the loose-filesystem collaborator the resolver falls back
// to when a logical path isn't satisfied by a mounted archive (§1 "Platform
// file I/O is assumed to be a blocking byte-stream API"). osFS is the
// default; tests substitute a fake to avoid touching the real filesystem.
type PlatformFS interface {
	Open(name string) (PlatformFile, error)
	Stat(name string) (fs.FileInfo, error)
	ReadDir(name string) ([]fs.DirEntry, error)
}

// PlatformFile is the subset of *os.File the resolver needs from a loose
// on-disk file: random access plus the same lifecycle every archive entry
// gets.
type PlatformFile interface {
	io.ReaderAt
	io.Closer
	Stat() (fs.FileInfo, error)
}

type osFS struct{}

// Open opens name without following a trailing symlink (§5 "loose-disk
// reads never follow a symlink planted under a mod directory"): a mod's own
// files are trusted, but the last path segment, which a mod could have
// replaced with a symlink pointing outside the data root, is not.
func (osFS) Open(name string) (PlatformFile, error) {
	dir, base := filepath.Split(name)
	if dir == "" {
		dir = "."
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()
	f, err := platform.OpenFileNoFollow(root, base)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (osFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) } //nolint:gosec // see Open

func (osFS) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) } //nolint:gosec // see Open
