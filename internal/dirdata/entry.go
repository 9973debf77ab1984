// Package dirdata implements the compact, serialized ZIP directory described
// in the design's DirHeader component: one header, sorted directory entries,
// sorted file entries, and a name pool, overlaid zero-copy via relative
// offsets for O(log n) binary-search lookups. It also implements the
// flat-by-hash variant, a sorted array of FileEntry keyed by a 32-bit CRC of
// the lowercased, backslash-normalized path.
//
// Unlike the teacher's FlatBuffers-encoded index, this layout is bit-exact
// with the CDR-derived fields ZIP consumers expect (header_offset,
// data_offset, crc32, ...), so it is hand-rolled with encoding/binary instead
// of a schema-based serializer; see DESIGN.md for the full justification.
package dirdata

import "github.com/nocturne-engine/pakvfs/internal/sizing"

// Invalid marks a FileEntry.DataOffset that has not yet been resolved by
// Refresh (data model invariant: data_offset = INVALID until refreshed).
const Invalid uint32 = sizing.MaxUint32

// Method identifies how an entry's bytes are stored and, for encrypted
// archives, how they are additionally enciphered.
type Method uint16

// Method values. The STORE/DEFLATE pair match the ZIP "compression method"
// field (0 and 8); the remaining values are this format's custom combination
// of a ZIP compression method with an encryption scheme, selected by the
// archive's EncryptionKind rather than by the ZIP method field.
const (
	MethodStore Method = iota
	MethodDeflate
	MethodStoreStreamCipherKeytable
	MethodDeflateStreamCipherKeytable
	MethodDeflateBlockCipher
	MethodDeflateStreamCipher
	MethodDeflateStreamCipherLegacy
)

// IsDeflate reports whether m decompresses via raw DEFLATE.
func (m Method) IsDeflate() bool {
	switch m {
	case MethodDeflate, MethodDeflateStreamCipherKeytable, MethodDeflateBlockCipher,
		MethodDeflateStreamCipher, MethodDeflateStreamCipherLegacy:
		return true
	default:
		return false
	}
}

// IsEncrypted reports whether m implies per-entry decryption before (or
// interleaved with) decompression.
func (m Method) IsEncrypted() bool {
	return m != MethodStore && m != MethodDeflate
}

// EncryptionKind identifies the archive-wide header/CDR encryption scheme
// (§6.2).
type EncryptionKind uint16

// EncryptionKind values.
const (
	EncryptionNone EncryptionKind = iota
	EncryptionStreamCipherKeytable
	EncryptionTEALegacy
	EncryptionStreamCipherLegacy
)

// SignatureKind identifies the archive-wide CDR signature scheme (§6.2).
type SignatureKind uint16

// SignatureKind values.
const (
	SignatureNone SignatureKind = iota
	SignatureCDRSigned
)

// FileEntry is the read-write shape from the data model: the read-only
// optimized shape is the same struct with HeaderOffset/EOFOffset/ModDOSTime/
// ModDOSDate/ModNTFS left zero, since the in-memory representation does not
// need two Go types to express "two shapes selected at cache-build time".
type FileEntry struct {
	// NameHash is the 32-bit CRC of the lowercased, backslash-normalized
	// path, used as the sort/search key in the flat hash variant.
	NameHash uint32
	// NameOffset is the byte offset of the NUL-terminated name within the
	// DirHeader's name pool (tree variant).
	NameOffset uint32

	HeaderOffset uint32 // offset of the Local File Header in the archive
	DataOffset   uint32 // Invalid until Refresh resolves it

	CompressedSize   uint32
	UncompressedSize uint32
	CRC32            uint32
	Method           Method

	// ModDOSTime/ModDOSDate are the packed DOS date/time fields from the
	// Local File Header. ModNTFS is the optional high-resolution NTFS
	// timestamp (0 if absent).
	ModDOSTime uint16
	ModDOSDate uint16
	ModNTFS    uint64

	// EOFOffset caches the next entry's HeaderOffset (or the CDR offset for
	// the last entry), used by CacheRW to decide whether an update fits the
	// gap in place.
	EOFOffset uint32
}

// Valid reports whether the entry's size invariants hold (data model
// invariant 4: uncompressed_size == 0 implies compressed_size == 0 and
// method == STORE).
func (e *FileEntry) Valid() bool {
	if e.UncompressedSize == 0 {
		return e.CompressedSize == 0 && e.Method == MethodStore
	}
	return true
}

// DirEntry is a subdirectory record in the tree variant: a name pool offset
// plus the relative offset, inside the serialized blob, of the child
// DirHeader.
type DirEntry struct {
	NameOffset        uint32
	SubdirHeaderOffset uint32
}
