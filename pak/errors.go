package pak

import "github.com/nocturne-engine/pakvfs/internal/pakerr"

// Re-exported sentinel errors, following the archive package's own re-export
// of the shared taxonomy.
var (
	ErrIO            = pakerr.ErrIO
	ErrInvalidCall   = pakerr.ErrInvalidCall
	ErrInvalidPath   = pakerr.ErrInvalidPath
	ErrFileNotFound  = pakerr.ErrFileNotFound
	ErrDirNotFound   = pakerr.ErrDirNotFound
	ErrNotImplemented = pakerr.ErrNotImplemented
)
