package archive

import (
	"encoding/binary"

	"github.com/nocturne-engine/pakvfs/internal/cdr"
	"github.com/nocturne-engine/pakvfs/internal/dirdata"
)

// zipMethod maps a dirdata.Method back to the on-disk ZIP compression
// method field. The write path never produces encrypted or signed
// archives (§1 Non-goals), so only STORE/DEFLATE are ever written.
func zipMethod(m dirdata.Method) uint16 {
	if m.IsDeflate() {
		return 8
	}
	return 0
}

// putLocalFileHeader encodes a Local File Header plus its file name into
// buf, which must be exactly cdr.LocalFileHeaderSize+len(name) bytes.
func putLocalFileHeader(buf []byte, e dirdata.FileEntry, name string) {
	binary.LittleEndian.PutUint32(buf[0:4], cdr.SigLocalFileHeader)
	binary.LittleEndian.PutUint16(buf[4:6], 20) // version needed
	binary.LittleEndian.PutUint16(buf[6:8], 0)  // flags
	binary.LittleEndian.PutUint16(buf[8:10], zipMethod(e.Method))
	binary.LittleEndian.PutUint16(buf[10:12], e.ModDOSTime)
	binary.LittleEndian.PutUint16(buf[12:14], e.ModDOSDate)
	binary.LittleEndian.PutUint32(buf[14:18], e.CRC32)
	binary.LittleEndian.PutUint32(buf[18:22], e.CompressedSize)
	binary.LittleEndian.PutUint32(buf[22:26], e.UncompressedSize)
	binary.LittleEndian.PutUint16(buf[26:28], uint16(len(name))) //nolint:gosec // name length bounded well under 16 bits
	binary.LittleEndian.PutUint16(buf[28:30], 0)                  // extra length
	copy(buf[30:], name)
}

// putCentralDirHeader encodes one Central Directory File Header for e/name.
func putCentralDirHeader(e dirdata.FileEntry, name string) []byte {
	buf := make([]byte, 46+len(name))
	binary.LittleEndian.PutUint32(buf[0:4], cdr.SigCentralDirHeader)
	binary.LittleEndian.PutUint16(buf[4:6], 20) // version made by
	binary.LittleEndian.PutUint16(buf[6:8], 20) // version needed
	binary.LittleEndian.PutUint16(buf[8:10], 0) // flags
	binary.LittleEndian.PutUint16(buf[10:12], zipMethod(e.Method))
	binary.LittleEndian.PutUint16(buf[12:14], e.ModDOSTime)
	binary.LittleEndian.PutUint16(buf[14:16], e.ModDOSDate)
	binary.LittleEndian.PutUint32(buf[16:20], e.CRC32)
	binary.LittleEndian.PutUint32(buf[20:24], e.CompressedSize)
	binary.LittleEndian.PutUint32(buf[24:28], e.UncompressedSize)
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(name))) //nolint:gosec // name length bounded well under 16 bits
	binary.LittleEndian.PutUint16(buf[30:32], 0)                  // extra length
	binary.LittleEndian.PutUint16(buf[32:34], 0)                  // comment length
	binary.LittleEndian.PutUint16(buf[34:36], 0)                  // disk number start
	binary.LittleEndian.PutUint16(buf[36:38], 0)                  // internal attrs
	binary.LittleEndian.PutUint32(buf[38:42], 0)                  // external attrs
	binary.LittleEndian.PutUint32(buf[42:46], e.HeaderOffset)
	copy(buf[46:], name)
	return buf
}

// putEOCD encodes an End Of Central Directory record (no archive comment)
// into buf, which must be exactly cdr.EOCDSize bytes.
func putEOCD(buf []byte, numEntries uint16, cdrSize, cdrOffset uint32) {
	binary.LittleEndian.PutUint32(buf[0:4], cdr.SigEOCD)
	binary.LittleEndian.PutUint16(buf[4:6], 0) // disk number
	binary.LittleEndian.PutUint16(buf[6:8], 0) // cdr start disk
	binary.LittleEndian.PutUint16(buf[8:10], numEntries)
	binary.LittleEndian.PutUint16(buf[10:12], numEntries)
	binary.LittleEndian.PutUint32(buf[12:16], cdrSize)
	binary.LittleEndian.PutUint32(buf[16:20], cdrOffset)
	binary.LittleEndian.PutUint16(buf[20:22], 0) // comment length
}
