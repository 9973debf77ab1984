package cdr

import (
	"crypto/rsa"

	"github.com/nocturne-engine/pakvfs/internal/dirdata"
	"github.com/nocturne-engine/pakvfs/internal/pakcipher"
	"github.com/nocturne-engine/pakvfs/internal/pakerr"
	"github.com/nocturne-engine/pakvfs/internal/pathnorm"
)

// InitMode controls how thoroughly CacheFactory validates entries while
// building the directory (§4.4).
type InitMode int

const (
	// ModeFast does not touch local file headers: data_offset is taken from
	// the CDR's name length under header encryption and is otherwise left
	// for Cache.Refresh to resolve on first access.
	ModeFast InitMode = iota
	// ModeFull re-reads each local file header to confirm its method agrees
	// with the CDR record; sizes and CRC32 are not compared.
	ModeFull
	// ModeValidate reads local headers exactly as ModeFull does; entries are
	// not decompressed and their CRC32 is not recomputed at open time.
	ModeValidate
)

// DirVariant selects the in-memory directory representation CacheFactory
// builds (§3 "two shapes", §4.4 step 7).
type DirVariant int

const (
	DirVariantTree DirVariant = iota
	DirVariantHash
)

// Options configures CacheFactory.Open.
type Options struct {
	Mode            InitMode
	Variant         DirVariant
	FilenamesAsCRC32 bool // marks archives stored with pre-hashed names; Open does not read it
	TrustedKey      *rsa.PrivateKey // for unwrapping STREAMCIPHER_KEYTABLE headers
	Policy          func(cdrBytes []byte, archiveBaseName string, sig []byte) error
}

// Result is everything CacheFactory produces from one archive.
type Result struct {
	EOCD           EOCD
	Extended       ExtendedHeader
	KeyTable       pakcipher.KeyTable
	Entries        []dirdata.FileEntry
	Names          []string
	TreeBlob       []byte // non-nil when Variant == DirVariantTree
	HashDir        *dirdata.HashDir // non-nil when Variant == DirVariantHash
}

// Open runs the full CacheFactory algorithm (§4.4 steps 1-7) against src,
// whose archive base name is used for signature verification.
func Open(src ByteSource, archiveBaseName string, opts Options) (*Result, error) {
	eocd, err := FindEOCD(src)
	if err != nil {
		return nil, err
	}

	comment := make([]byte, eocd.CommentLength)
	if eocd.CommentLength > 0 {
		if _, err := src.ReadAt(comment, eocd.CommentStartPos); err != nil {
			return nil, pakerr.Wrap(pakerr.KindIO, "open", archiveBaseName, err)
		}
	}
	ext, sig, encHdr, hasExtHdr, err := ParseTrailer(comment)
	if err != nil {
		return nil, err
	}

	// Step 2: the legacy encryption indicator living in the disk-number
	// field's upper two bits must not disagree with an extended header when
	// one is present: an explicit EncryptionStreamCipherLegacy kind requires
	// the indicator set, anything else requires it clear.
	if hasExtHdr {
		indicatorSet := eocd.DiskNumber&0xC000 != 0
		if indicatorSet != (ext.EncryptionKind == EncryptionStreamCipherLegacy) {
			return nil, pakerr.New(pakerr.KindDataCorrupt, "open", archiveBaseName)
		}
	}

	// Step 4: reject multi-volume archives. The disk-number field's upper
	// two bits are the legacy encryption indicator, not part of the disk
	// number itself, so they're masked off before this comparison.
	if eocd.DiskNumber&^uint16(0xC000) != 0 || eocd.CDRStartDisk != 0 || eocd.EntriesOnDisk != eocd.EntriesTotal {
		return nil, pakerr.New(pakerr.KindUnsupported, "open", archiveBaseName)
	}

	// Step 5: CDR range must fit before the EOCD.
	cdrEnd := int64(eocd.CDROffset) + int64(eocd.CDRSize)
	if cdrEnd > eocd.Pos {
		return nil, pakerr.New(pakerr.KindDataCorrupt, "open", archiveBaseName)
	}

	cdrBytes := make([]byte, eocd.CDRSize)
	if eocd.CDRSize > 0 {
		if _, err := src.ReadAt(cdrBytes, int64(eocd.CDROffset)); err != nil {
			return nil, pakerr.Wrap(pakerr.KindIO, "open", archiveBaseName, err)
		}
	}

	var keyTable pakcipher.KeyTable
	switch ext.EncryptionKind {
	case EncryptionNone:
	case EncryptionStreamCipherKeytable:
		if opts.TrustedKey == nil || encHdr == nil {
			return nil, pakerr.New(pakerr.KindCorruptedData, "open", archiveBaseName)
		}
		table, err := pakcipher.UnwrapKeyTable(opts.TrustedKey, encHdr.WrappedIVAndKeys, 32)
		if err != nil {
			return nil, pakerr.Wrap(pakerr.KindCorruptedData, "open", archiveBaseName, err)
		}
		keyTable = table
		if len(table) == 0 {
			return nil, pakerr.New(pakerr.KindCorruptedData, "open", archiveBaseName)
		}
		if err := pakcipher.Decrypt(table, 0, eocd.CDROffset, cdrBytes, cdrBytes); err != nil {
			return nil, pakerr.Wrap(pakerr.KindCorruptedData, "open", archiveBaseName, err)
		}
	case EncryptionTEALegacy, EncryptionStreamCipherLegacy:
		// Legacy schemes are handled per-entry in the read path
		// (internal/legacycipher); the CDR itself is not re-enciphered
		// under these kinds.
	default:
		return nil, pakerr.New(pakerr.KindUnsupported, "open", archiveBaseName)
	}

	if opts.Policy != nil && ext.SignatureKind == SignatureCDRSigned {
		var sigBytes []byte
		if sig != nil {
			sigBytes = sig.Signature
		}
		if err := opts.Policy(cdrBytes, archiveBaseName, sigBytes); err != nil {
			return nil, pakerr.Wrap(pakerr.KindPolicyViolation, "open", archiveBaseName, err)
		}
	}

	records, err := ParseCentralDirectory(cdrBytes)
	if err != nil {
		return nil, err
	}

	entries := make([]dirdata.FileEntry, 0, len(records))
	names := make([]string, 0, len(records))
	for _, r := range records {
		name := r.Name
		if pathnorm.CaseInsensitive() {
			name = pathnorm.ToStorageForm(name)
		}

		e := dirdata.FileEntry{
			NameHash:         dirdata.PathHash(name),
			HeaderOffset:     r.LocalHeaderOffset,
			DataOffset:       dirdata.Invalid,
			CompressedSize:   r.CompressedSize,
			UncompressedSize: r.UncompressedSize,
			CRC32:            r.CRC32,
			Method:           methodFromCDR(r.Method, ext.EncryptionKind, eocd.DiskNumber),
			ModDOSTime:       r.LastModTime,
			ModDOSDate:       r.LastModDate,
			ModNTFS:          r.NTFSModTime,
		}
		if opts.Mode != ModeFast {
			hdr, err := readLocalHeader(src, int64(r.LocalHeaderOffset))
			if err != nil {
				return nil, err
			}
			if hdr.Method != r.Method {
				return nil, pakerr.New(pakerr.KindValidationFailed, "open", name)
			}
			e.DataOffset = r.LocalHeaderOffset + LocalFileHeaderSize + uint32(hdr.NameLength) + uint32(hdr.ExtraLength) //nolint:gosec // bounded by archive size
		}
		if ext.EncryptionKind != EncryptionNone {
			// Under header encryption the local header is unreliable, so the
			// offset comes from the CDR's own name length (§4.5 refresh).
			e.DataOffset = r.LocalHeaderOffset + LocalFileHeaderSize + uint32(r.NameLength) //nolint:gosec // bounded by archive size
		}
		// Otherwise ModeFast leaves DataOffset at dirdata.Invalid: the CDR's
		// name_length alone can't account for a local header's own
		// extra_length (extended-timestamp, Unix uid/gid, alignment
		// padding, ...), so the real offset is resolved lazily by
		// Cache.Refresh on first access (§4.5 refresh) instead of estimated
		// here.

		if !e.Valid() {
			return nil, pakerr.New(pakerr.KindDataCorrupt, "open", name)
		}
		entries = append(entries, e)
		names = append(names, name)
	}

	res := &Result{EOCD: eocd, Extended: ext, KeyTable: keyTable, Entries: entries, Names: names}
	switch opts.Variant {
	case DirVariantHash:
		hd, err := dirdata.BuildHashDir(entries, names)
		if err != nil {
			return nil, pakerr.Wrap(pakerr.KindDataCorrupt, "open", archiveBaseName, err)
		}
		res.HashDir = hd
	default:
		blob, err := dirdata.BuildTree(entries, names)
		if err != nil {
			return nil, pakerr.Wrap(pakerr.KindDataCorrupt, "open", archiveBaseName, err)
		}
		res.TreeBlob = blob
	}
	return res, nil
}

func methodFromCDR(zipMethod uint16, enc EncryptionKind, diskNumberField uint16) dirdata.Method {
	deflate := zipMethod == 8
	switch enc {
	case EncryptionStreamCipherKeytable:
		if deflate {
			return dirdata.MethodDeflateStreamCipherKeytable
		}
		return dirdata.MethodStoreStreamCipherKeytable
	case EncryptionTEALegacy:
		return dirdata.MethodDeflateBlockCipher
	case EncryptionStreamCipherLegacy:
		return dirdata.MethodDeflateStreamCipherLegacy
	default:
		// Upper two bits of the legacy disk-number field carry a legacy
		// encryption indicator (§4.4 step 2) when no extended header is
		// present.
		if diskNumberField&0xC000 != 0 {
			return dirdata.MethodDeflateStreamCipherLegacy
		}
		if deflate {
			return dirdata.MethodDeflate
		}
		return dirdata.MethodStore
	}
}

func readLocalHeader(src ByteSource, offset int64) (LocalFileHeader, error) {
	sigAndBody := make([]byte, 4+LocalFileHeaderSize)
	if _, err := src.ReadAt(sigAndBody, offset); err != nil {
		return LocalFileHeader{}, pakerr.Wrap(pakerr.KindIO, "refresh", "", err)
	}
	sig := uint32(sigAndBody[0]) | uint32(sigAndBody[1])<<8 | uint32(sigAndBody[2])<<16 | uint32(sigAndBody[3])<<24
	if sig != SigLocalFileHeader {
		return LocalFileHeader{}, pakerr.New(pakerr.KindInvalidSignature, "refresh", "")
	}
	return ParseLocalFileHeaderBody(sigAndBody[4:]), nil
}
