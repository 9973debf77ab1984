// Package cdr parses the on-disk ZIP end-of-central-directory record,
// central directory file headers, and this format's custom trailing headers
// embedded in the ZIP comment (§6.1, §6.2), producing the entries that seed
// an internal/dirdata directory.
package cdr

import "encoding/binary"

// Signatures, little-endian on disk.
const (
	SigLocalFileHeader  = 0x04034B50
	SigCentralDirHeader = 0x02014B50
	SigEOCD             = 0x06054B50
)

// LocalFileHeaderSize is the fixed portion of a Local File Header, before
// the variable-length name and extra fields.
const LocalFileHeaderSize = 30

// EOCDSize is the fixed size of the End Of Central Directory record.
const EOCDSize = 22

// eocdWindow is the sliding-window size used while scanning backward from
// EOF for the EOCD signature (§4.4 step 1).
const eocdWindow = 256

// maxCommentLength bounds how far back the scan continues: a ZIP comment's
// length field is 16 bits.
const maxCommentLength = 0xFFFF

// EOCD is the parsed End Of Central Directory record.
type EOCD struct {
	DiskNumber      uint16
	CDRStartDisk    uint16
	EntriesOnDisk   uint16
	EntriesTotal    uint16
	CDRSize         uint32
	CDROffset       uint32
	CommentLength   uint16
	Pos             int64 // absolute file offset where the EOCD record begins
	CommentStartPos int64
}

// CentralDirHeader is one parsed Central Directory File Header.
type CentralDirHeader struct {
	VersionNeeded   uint16
	Flags           uint16
	Method          uint16
	LastModTime     uint16
	LastModDate     uint16
	CRC32           uint32
	CompressedSize  uint32
	UncompressedSize uint32
	NameLength      uint16
	ExtraLength     uint16
	CommentLength   uint16
	DiskNumberStart uint16
	InternalAttrs   uint16
	ExternalAttrs   uint32
	LocalHeaderOffset uint32
	Name            string
	NTFSModTime     uint64 // 0 if absent
}

// LocalFileHeader is the parsed fixed portion of a Local File Header.
type LocalFileHeader struct {
	VersionNeeded    uint16
	Flags            uint16
	Method           uint16
	LastModTime      uint16
	LastModDate      uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	NameLength       uint16
	ExtraLength      uint16
}

// ParseLocalFileHeaderBody decodes the local file header fields that follow
// the 4-byte signature (the other 26 of its LocalFileHeaderSize bytes). buf
// must already be past the signature and hold at least those 26 bytes.
func ParseLocalFileHeaderBody(buf []byte) LocalFileHeader {
	return LocalFileHeader{
		VersionNeeded:    binary.LittleEndian.Uint16(buf[0:2]),
		Flags:            binary.LittleEndian.Uint16(buf[2:4]),
		Method:           binary.LittleEndian.Uint16(buf[4:6]),
		LastModTime:      binary.LittleEndian.Uint16(buf[6:8]),
		LastModDate:      binary.LittleEndian.Uint16(buf[8:10]),
		CRC32:            binary.LittleEndian.Uint32(buf[10:14]),
		CompressedSize:   binary.LittleEndian.Uint32(buf[14:18]),
		UncompressedSize: binary.LittleEndian.Uint32(buf[18:22]),
		NameLength:       binary.LittleEndian.Uint16(buf[22:24]),
		ExtraLength:      binary.LittleEndian.Uint16(buf[24:26]),
	}
}

// EncryptionKind and SignatureKind mirror internal/dirdata's enums; cdr
// keeps its own copy to avoid a dependency cycle, translated at the
// factory/dirdata boundary.
type EncryptionKind uint16

const (
	EncryptionNone EncryptionKind = iota
	EncryptionStreamCipherKeytable
	EncryptionTEALegacy
	EncryptionStreamCipherLegacy
)

type SignatureKind uint16

const (
	SignatureNone SignatureKind = iota
	SignatureCDRSigned
)

// ExtendedHeader is CryCustomExtendedHeader (§6.2 item 3): always present
// when any custom trailing header is, declares the other two headers' kinds.
type ExtendedHeader struct {
	HeaderSize     uint16
	EncryptionKind EncryptionKind
	SignatureKind  SignatureKind
}

const extendedHeaderWireSize = 6

func parseExtendedHeader(buf []byte) (ExtendedHeader, error) {
	if len(buf) < extendedHeaderWireSize {
		return ExtendedHeader{}, errTruncatedTrailer("extended header")
	}
	h := ExtendedHeader{
		HeaderSize:     binary.LittleEndian.Uint16(buf[0:2]),
		EncryptionKind: EncryptionKind(binary.LittleEndian.Uint16(buf[2:4])),
		SignatureKind:  SignatureKind(binary.LittleEndian.Uint16(buf[4:6])),
	}
	if int(h.HeaderSize) != extendedHeaderWireSize {
		return ExtendedHeader{}, errTruncatedTrailer("extended header size mismatch")
	}
	return h, nil
}

// SignedCDRHeader is CrySignedCDRHeader (§6.2 item 2): a fixed-size
// signature over the CDR bytes plus the archive base name.
type SignedCDRHeader struct {
	Signature []byte
}

// EncryptionHeader is CryCustomEncryptionHeader (§6.2 item 1): an
// asymmetrically encrypted IV plus an N x K key table.
type EncryptionHeader struct {
	WrappedIVAndKeys []byte
}
