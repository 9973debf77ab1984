package cdr

import (
	"encoding/binary"

	"github.com/nocturne-engine/pakvfs/internal/pakerr"
)

// ByteSource is the minimal random-access surface cdr needs; satisfied by
// *zipfile.Cursor.
type ByteSource interface {
	ReadAt(p []byte, off int64) (int, error)
	Size() int64
}

// FindEOCD scans backward from EOF in overlapping 256-byte windows looking
// for the End Of Central Directory signature (§4.4 step 1). The window
// overlaps the previous iteration by EOCDSize-1 bytes so a signature
// straddling a window boundary is still found.
func FindEOCD(src ByteSource) (EOCD, error) {
	size := src.Size()
	if size < EOCDSize {
		return EOCD{}, pakerr.New(pakerr.KindNoCDR, "find-eocd", "archive smaller than EOCD record")
	}

	floor := size - EOCDSize - maxCommentLength
	if floor < 0 {
		floor = 0
	}

	pos := size - EOCDSize
	windowBuf := make([]byte, 0, eocdWindow+EOCDSize-1)
	for pos >= floor {
		start := pos - eocdWindow + 1
		if start < floor {
			start = floor
		}
		readLen := pos + EOCDSize - start
		if readLen <= 0 {
			break
		}
		windowBuf = windowBuf[:0]
		buf := make([]byte, readLen)
		n, err := src.ReadAt(buf, start)
		if err != nil && n == 0 {
			return EOCD{}, pakerr.Wrap(pakerr.KindIO, "find-eocd", "", err)
		}
		buf = buf[:n]

		for i := len(buf) - 4; i >= 0; i-- {
			if binary.LittleEndian.Uint32(buf[i:i+4]) != SigEOCD {
				continue
			}
			candidatePos := start + int64(i)
			if candidatePos+EOCDSize > size {
				continue
			}
			rec := make([]byte, EOCDSize)
			if _, err := src.ReadAt(rec, candidatePos); err != nil {
				continue
			}
			eocd := parseEOCDBody(rec)
			eocd.Pos = candidatePos
			eocd.CommentStartPos = candidatePos + EOCDSize
			expectedComment := size - eocd.CommentStartPos
			if int64(eocd.CommentLength) != expectedComment {
				// Declared comment length disagrees with the remaining
				// distance to EOF: per §4.4 step 1 this is corrupt data at
				// this candidate, not simply "not a match" — keep scanning
				// backward for the real record rather than erroring here.
				continue
			}
			return eocd, nil
		}

		if start == floor {
			break
		}
		pos = start - 1 // next window ends EOCDSize-1 bytes into this one
	}

	return EOCD{}, pakerr.New(pakerr.KindNoCDR, "find-eocd", "end of central directory not found")
}

func parseEOCDBody(buf []byte) EOCD {
	return EOCD{
		DiskNumber:    binary.LittleEndian.Uint16(buf[4:6]),
		CDRStartDisk:  binary.LittleEndian.Uint16(buf[6:8]),
		EntriesOnDisk: binary.LittleEndian.Uint16(buf[8:10]),
		EntriesTotal:  binary.LittleEndian.Uint16(buf[10:12]),
		CDRSize:       binary.LittleEndian.Uint32(buf[12:16]),
		CDROffset:     binary.LittleEndian.Uint32(buf[16:20]),
		CommentLength: binary.LittleEndian.Uint16(buf[20:22]),
	}
}
