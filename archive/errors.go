package archive

import "github.com/nocturne-engine/pakvfs/internal/pakerr"

// Re-exported sentinel errors, following the teacher's errors.go convention
// of giving each package its own named view onto the shared taxonomy.
var (
	ErrIO               = pakerr.ErrIO
	ErrDataCorrupt      = pakerr.ErrDataCorrupt
	ErrNoCDR            = pakerr.ErrNoCDR
	ErrInvalidSignature = pakerr.ErrInvalidSignature
	ErrCorruptedData    = pakerr.ErrCorruptedData
	ErrZlibFailed       = pakerr.ErrZlibFailed
	ErrUnsupported      = pakerr.ErrUnsupported
	ErrValidationFailed = pakerr.ErrValidationFailed
	ErrInvalidCall      = pakerr.ErrInvalidCall
	ErrInvalidPath      = pakerr.ErrInvalidPath
	ErrFileNotFound     = pakerr.ErrFileNotFound
	ErrArchiveTooLarge  = pakerr.ErrArchiveTooLarge
	ErrPolicyViolation  = pakerr.ErrPolicyViolation
)
