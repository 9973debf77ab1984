package pak

import (
	"io/fs"
	"os"

	"github.com/nocturne-engine/pakvfs/internal/pakerr"
)

// platformHandle is an open loose-disk file, used both for read-mode opens
// that resolve() sent to disk and for any write-capable mode, which always
// goes straight to disk: archives mounted by this package are read-only
// overlays (§1 Non-goals), so there is no pak-backed write path to choose
// between.
type platformHandle struct {
	path   string
	ro     PlatformFile // set for read-only opens routed through PlatformFS
	rw     *os.File     // set for any write-capable mode
	cursor int64
}

func (h *platformHandle) size() (int64, error) {
	var info fs.FileInfo
	var err error
	if h.rw != nil {
		info, err = h.rw.Stat()
	} else {
		info, err = h.ro.Stat()
	}
	if err != nil {
		return 0, pakerr.Wrap(pakerr.KindIO, "stat", h.path, err)
	}
	return info.Size(), nil
}

func (h *platformHandle) read(dst []byte) (int, error) {
	if h.rw != nil {
		n, err := h.rw.ReadAt(dst, h.cursor)
		h.cursor += int64(n)
		if err != nil && n > 0 {
			err = nil // short read at EOF is not an error for this API
		}
		return n, err
	}
	n, err := h.ro.ReadAt(dst, h.cursor)
	h.cursor += int64(n)
	if err != nil && n > 0 {
		err = nil
	}
	return n, err
}

func (h *platformHandle) write(src []byte) (int, error) {
	if h.rw == nil {
		return 0, pakerr.New(pakerr.KindInvalidCall, "write", h.path)
	}
	n, err := h.rw.WriteAt(src, h.cursor)
	h.cursor += int64(n)
	if err != nil {
		return n, pakerr.Wrap(pakerr.KindIO, "write", h.path, err)
	}
	return n, nil
}

func (h *platformHandle) seek(offset int64, whence int) (int64, error) {
	size, err := h.size()
	if err != nil {
		return 0, err
	}
	var target int64
	switch whence {
	case 0:
		target = offset
	case 1:
		target = h.cursor + offset
	case 2:
		target = size + offset
	default:
		return 0, pakerr.New(pakerr.KindInvalidCall, "seek", h.path)
	}
	if target < 0 {
		return 0, pakerr.New(pakerr.KindIO, "seek", h.path)
	}
	h.cursor = target
	return target, nil
}

func (h *platformHandle) close() error {
	if h.rw != nil {
		return h.rw.Close()
	}
	if h.ro != nil {
		return h.ro.Close()
	}
	return nil
}
