package cdr

import (
	"encoding/binary"

	"github.com/nocturne-engine/pakvfs/internal/pakerr"
)

// ParseTrailer reads the custom trailing headers embedded in the EOCD
// comment, in the fixed tail order of §6.2: CryCustomEncryptionHeader
// (optional), CrySignedCDRHeader (optional), CryCustomExtendedHeader
// (present whenever either of the first two is). comment is the raw
// comment bytes (eocd.CommentLength long). present reports whether an
// extended header actually parsed out of the comment at all, distinct
// from ext's zero value (which is also what a real header explicitly
// declaring "no encryption, no signature" looks like).
//
// All three headers are anchored to the END of the comment (the extended
// header is always last), since §6.2 only fixes their relative order, not
// their absolute offset within a comment that may also carry unrelated
// trailing bytes.
func ParseTrailer(comment []byte) (ext ExtendedHeader, sig *SignedCDRHeader, enc *EncryptionHeader, present bool, err error) {
	if len(comment) < extendedHeaderWireSize {
		// No custom trailer at all; a plain ZIP comment (or none).
		return ExtendedHeader{}, nil, nil, false, nil
	}

	tail := comment[len(comment)-extendedHeaderWireSize:]
	ext, err = parseExtendedHeader(tail)
	if err != nil {
		return ExtendedHeader{}, nil, nil, false, nil //nolint:nilerr // not every trailing 6 bytes is our header; absence is not an error
	}
	if ext.EncryptionKind == EncryptionNone && ext.SignatureKind == SignatureNone {
		return ext, nil, nil, true, nil
	}

	rest := comment[:len(comment)-extendedHeaderWireSize]

	if ext.SignatureKind == SignatureCDRSigned {
		const sigSize = 256 // fixed-size signature block
		if len(rest) < sigSize {
			return ExtendedHeader{}, nil, nil, false, errTruncatedTrailer("signed CDR header")
		}
		sig = &SignedCDRHeader{Signature: rest[len(rest)-sigSize:]}
		rest = rest[:len(rest)-sigSize]
	}

	if ext.EncryptionKind == EncryptionStreamCipherKeytable {
		if len(rest) == 0 {
			return ExtendedHeader{}, nil, nil, false, errTruncatedTrailer("encryption header")
		}
		enc = &EncryptionHeader{WrappedIVAndKeys: rest}
	}

	return ext, sig, enc, true, nil
}

// ParseCentralDirectory walks the CDR bytes linearly, producing one
// CentralDirHeader per record, skipping directory placeholder entries
// (names ending in '/' or '\\') per §4.4 step 6. needed_version above 20 or
// a record whose declared lengths overrun the remaining bytes is
// DataIsCorrupt.
func ParseCentralDirectory(data []byte) ([]CentralDirHeader, error) {
	var out []CentralDirHeader
	off := 0
	for off < len(data) {
		if off+4 > len(data) {
			return nil, pakerr.New(pakerr.KindDataCorrupt, "parse-cdr", "truncated record signature")
		}
		sig := binary.LittleEndian.Uint32(data[off : off+4])
		if sig != SigCentralDirHeader {
			return nil, pakerr.New(pakerr.KindInvalidSignature, "parse-cdr", "unexpected central directory signature")
		}
		off += 4

		const fixedSize = 42
		if off+fixedSize > len(data) {
			return nil, pakerr.New(pakerr.KindDataCorrupt, "parse-cdr", "truncated central directory record")
		}
		r := data[off:]
		h := CentralDirHeader{
			VersionNeeded:     binary.LittleEndian.Uint16(r[2:4]),
			Flags:             binary.LittleEndian.Uint16(r[4:6]),
			Method:            binary.LittleEndian.Uint16(r[6:8]),
			LastModTime:       binary.LittleEndian.Uint16(r[8:10]),
			LastModDate:       binary.LittleEndian.Uint16(r[10:12]),
			CRC32:             binary.LittleEndian.Uint32(r[12:16]),
			CompressedSize:    binary.LittleEndian.Uint32(r[16:20]),
			UncompressedSize:  binary.LittleEndian.Uint32(r[20:24]),
			NameLength:        binary.LittleEndian.Uint16(r[24:26]),
			ExtraLength:       binary.LittleEndian.Uint16(r[26:28]),
			CommentLength:     binary.LittleEndian.Uint16(r[28:30]),
			DiskNumberStart:   binary.LittleEndian.Uint16(r[30:32]),
			InternalAttrs:     binary.LittleEndian.Uint16(r[32:34]),
			ExternalAttrs:     binary.LittleEndian.Uint32(r[34:38]),
			LocalHeaderOffset: binary.LittleEndian.Uint32(r[38:42]),
		}
		if h.VersionNeeded > 20 {
			return nil, pakerr.New(pakerr.KindDataCorrupt, "parse-cdr", "unsupported version_needed")
		}

		recordTail := fixedSize + int(h.NameLength) + int(h.ExtraLength) + int(h.CommentLength)
		if recordTail > len(r) || recordTail < 0 {
			return nil, pakerr.New(pakerr.KindDataCorrupt, "parse-cdr", "declared record size exceeds remaining bytes")
		}
		if fixedSize+int(h.NameLength)+int(h.ExtraLength)+int(h.CommentLength) > len(r) {
			return nil, pakerr.New(pakerr.KindDataCorrupt, "parse-cdr", "declared record size exceeds remaining bytes")
		}

		nameStart := fixedSize
		nameEnd := nameStart + int(h.NameLength)
		h.Name = string(r[nameStart:nameEnd])

		extraStart := nameEnd
		extraEnd := extraStart + int(h.ExtraLength)
		h.NTFSModTime = parseNTFSExtra(r[extraStart:extraEnd])

		off += recordTail

		if len(h.Name) > 0 {
			last := h.Name[len(h.Name)-1]
			if last == '/' || last == '\\' {
				continue // directory placeholder, not a file entry
			}
		}
		out = append(out, h)
	}
	return out, nil
}

// extraNTFSHeaderID is the extra-field header ID carrying the NTFS
// high-resolution last-modify time (§6.1).
const extraNTFSHeaderID = 0x000A

func parseNTFSExtra(extra []byte) uint64 {
	off := 0
	for off+4 <= len(extra) {
		id := binary.LittleEndian.Uint16(extra[off : off+2])
		size := binary.LittleEndian.Uint16(extra[off+2 : off+4])
		body := extra[off+4:]
		if int(size) > len(body) {
			return 0
		}
		if id == extraNTFSHeaderID && len(body) >= 4+8 {
			// 4-byte reserved, then one or more {tag(2) size(2) value} blocks;
			// the last-modify time is the first 8-byte value of tag 0x0001.
			tagBody := body[4:size]
			toff := 0
			for toff+4 <= len(tagBody) {
				tag := binary.LittleEndian.Uint16(tagBody[toff : toff+2])
				tsize := binary.LittleEndian.Uint16(tagBody[toff+2 : toff+4])
				if tag == 0x0001 && int(tsize) >= 8 && toff+4+8 <= len(tagBody) {
					return binary.LittleEndian.Uint64(tagBody[toff+4 : toff+12])
				}
				toff += 4 + int(tsize)
			}
		}
		off += 4 + int(size)
	}
	return 0
}
