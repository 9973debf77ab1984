package dirdata

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// marshalFileEntry appends the wire form of e to buf. Field order is fixed
// and must match unmarshalFileEntry.
func marshalFileEntry(buf *bytes.Buffer, e *FileEntry) {
	var scratch [fileEntryWireSize]byte
	b := scratch[:0]
	b = binary.LittleEndian.AppendUint32(b, e.NameHash)
	b = binary.LittleEndian.AppendUint32(b, e.NameOffset)
	b = binary.LittleEndian.AppendUint32(b, e.HeaderOffset)
	b = binary.LittleEndian.AppendUint32(b, e.DataOffset)
	b = binary.LittleEndian.AppendUint32(b, e.CompressedSize)
	b = binary.LittleEndian.AppendUint32(b, e.UncompressedSize)
	b = binary.LittleEndian.AppendUint32(b, e.CRC32)
	b = binary.LittleEndian.AppendUint16(b, uint16(e.Method)) //nolint:gosec // Method is a small enum
	b = binary.LittleEndian.AppendUint16(b, e.ModDOSTime)
	b = binary.LittleEndian.AppendUint16(b, e.ModDOSDate)
	b = binary.LittleEndian.AppendUint64(b, e.ModNTFS)
	b = binary.LittleEndian.AppendUint32(b, e.EOFOffset)
	buf.Write(b)
}

// unmarshalFileEntry reads one FileEntry starting at off, returning the
// entry and the offset immediately after it.
func unmarshalFileEntry(data []byte, off int) (FileEntry, int, error) {
	if off+fileEntryWireSize > len(data) {
		return FileEntry{}, 0, fmt.Errorf("dirdata: truncated file entry at offset %d", off)
	}
	r := data[off:]
	e := FileEntry{
		NameHash:         binary.LittleEndian.Uint32(r[0:4]),
		NameOffset:       binary.LittleEndian.Uint32(r[4:8]),
		HeaderOffset:     binary.LittleEndian.Uint32(r[8:12]),
		DataOffset:       binary.LittleEndian.Uint32(r[12:16]),
		CompressedSize:   binary.LittleEndian.Uint32(r[16:20]),
		UncompressedSize: binary.LittleEndian.Uint32(r[20:24]),
		CRC32:            binary.LittleEndian.Uint32(r[24:28]),
		Method:           Method(binary.LittleEndian.Uint16(r[28:30])),
		ModDOSTime:       binary.LittleEndian.Uint16(r[30:32]),
		ModDOSDate:       binary.LittleEndian.Uint16(r[32:34]),
		ModNTFS:          binary.LittleEndian.Uint64(r[34:42]),
		EOFOffset:        binary.LittleEndian.Uint32(r[42:46]),
	}
	return e, off + fileEntryWireSize, nil
}

// buildNamePool packs names as NUL-terminated strings and returns the pool
// bytes plus each name's offset within it. Identical names share an offset.
func buildNamePool(names []string) ([]byte, []uint32) {
	var pool bytes.Buffer
	offsets := make([]uint32, len(names))
	seen := make(map[string]uint32, len(names))
	for i, name := range names {
		if off, ok := seen[name]; ok {
			offsets[i] = off
			continue
		}
		off := uint32(pool.Len()) //nolint:gosec // pool size bounded by path data, fits uint32
		pool.WriteString(name)
		pool.WriteByte(0)
		offsets[i] = off
		seen[name] = off
	}
	return pool.Bytes(), offsets
}

// readPoolString reads a NUL-terminated string from the name pool starting
// at the pool-relative offset off within data. The caller passes the full
// blob and the absolute byte offset of the pool's start added in by callers
// that track it; for HashDir and tree Dir the pool begins right after the
// fixed entry arrays, tracked by their own Load functions.
func readPoolString(data []byte, off int) (string, error) {
	if off < 0 || off > len(data) {
		return "", fmt.Errorf("dirdata: name offset %d out of range", off)
	}
	end := bytes.IndexByte(data[off:], 0)
	if end < 0 {
		return "", fmt.Errorf("dirdata: unterminated name at offset %d", off)
	}
	return string(data[off : off+end]), nil
}

// padTo4 pads buf with zero bytes until its length is a multiple of 4,
// matching the DirHeader layout's "pad to 4-byte alignment" rule.
func padTo4(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}
