package dirdata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// treeBuildNode is the mutable, in-memory tree used only while building a
// serialized Dir from a flat list of (path, FileEntry) pairs.
type treeBuildNode struct {
	name  string
	dirs  []*treeBuildNode // sorted by name
	files []FileEntry
	fnames []string
}

// BuildTree splits entries by path separator into a nested directory tree
// and serializes it depth-first: header, sorted dir entries, sorted file
// entries, name pool, pad to 4 (§4.3), repeated for every node. Within each
// node, DirEntry.SubdirHeaderOffset is an offset relative to the start of
// the whole returned blob, and NameOffset is relative to that node's own
// (non-deduplicated) name pool.
func BuildTree(entries []FileEntry, names []string) ([]byte, error) {
	if len(entries) != len(names) {
		return nil, fmt.Errorf("dirdata: entries/names length mismatch: %d != %d", len(entries), len(names))
	}

	root := &treeBuildNode{}
	for i, name := range names {
		if err := root.insert(strings.Split(strings.TrimPrefix(name, "/"), "/"), entries[i], name); err != nil {
			return nil, err
		}
	}
	root.sort()

	bytesByNode := map[*treeBuildNode][]byte{}
	patchesByNode := map[*treeBuildNode][]int{}
	var collect func(n *treeBuildNode)
	collect = func(n *treeBuildNode) {
		data, patches := n.marshalOwn()
		bytesByNode[n] = data
		patchesByNode[n] = patches
		for _, c := range n.dirs {
			collect(c)
		}
	}
	collect(root)

	offsets := map[*treeBuildNode]uint32{}
	var cursor uint32
	var assign func(n *treeBuildNode)
	assign = func(n *treeBuildNode) {
		offsets[n] = cursor
		cursor += uint32(len(bytesByNode[n])) //nolint:gosec // blob size bounded by MaxArchiveSize
		for _, c := range n.dirs {
			assign(c)
		}
	}
	assign(root)

	var out bytes.Buffer
	var write func(n *treeBuildNode)
	write = func(n *treeBuildNode) {
		data := append([]byte(nil), bytesByNode[n]...)
		patches := patchesByNode[n]
		for i, pos := range patches {
			binary.LittleEndian.PutUint32(data[pos:pos+4], offsets[n.dirs[i]])
		}
		out.Write(data)
		for _, c := range n.dirs {
			write(c)
		}
	}
	write(root)

	return out.Bytes(), nil
}

func (n *treeBuildNode) insert(segments []string, entry FileEntry, fullName string) error {
	if len(segments) == 1 {
		n.files = append(n.files, entry)
		n.fnames = append(n.fnames, fullName)
		return nil
	}
	head := segments[0]
	var child *treeBuildNode
	for _, c := range n.dirs {
		if c.name == head {
			child = c
			break
		}
	}
	if child == nil {
		child = &treeBuildNode{name: head}
		n.dirs = append(n.dirs, child)
	}
	return child.insert(segments[1:], entry, fullName)
}

func (n *treeBuildNode) sort() {
	sort.Slice(n.dirs, func(i, j int) bool { return n.dirs[i].name < n.dirs[j].name })
	// Sort files and fnames jointly by name so each entry stays paired with
	// its name.
	idx := make([]int, len(n.files))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return n.fnames[idx[a]] < n.fnames[idx[b]] })
	files := make([]FileEntry, len(n.files))
	fnames := make([]string, len(n.files))
	for i, j := range idx {
		files[i] = n.files[j]
		fnames[i] = n.fnames[j]
	}
	n.files, n.fnames = files, fnames
	for _, c := range n.dirs {
		c.sort()
	}
}

// marshalOwn serializes this node's own header+dirEntries+fileEntries+pool,
// padded to 4 bytes. SubdirHeaderOffset fields are left zero; patches[i]
// gives the byte position to patch with n.dirs[i]'s eventual global offset.
func (n *treeBuildNode) marshalOwn() (data []byte, patches []int) {
	var buf bytes.Buffer
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(n.dirs))) //nolint:gosec // bounded by archive entry count
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(n.files))) //nolint:gosec // bounded by archive entry count
	buf.Write(scratch[:])

	dirNames := make([]string, len(n.dirs))
	for i, c := range n.dirs {
		dirNames[i] = c.name
	}
	allNames := append(append([]string(nil), dirNames...), baseNames(n.fnames)...)
	pool, offsets := buildNamePool(allNames)

	patches = make([]int, len(n.dirs))
	for i := range n.dirs {
		binary.LittleEndian.PutUint32(scratch[:], offsets[i])
		buf.Write(scratch[:])
		patches[i] = buf.Len()
		buf.Write([]byte{0, 0, 0, 0}) // SubdirHeaderOffset placeholder
	}
	for i := range n.files {
		e := n.files[i]
		e.NameOffset = offsets[len(n.dirs)+i]
		marshalFileEntry(&buf, &e)
	}
	buf.Write(pool)
	padTo4(&buf)
	return buf.Bytes(), patches
}

// baseNames returns the last path segment of each full path in names.
func baseNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		if idx := strings.LastIndexByte(n, '/'); idx >= 0 {
			out[i] = n[idx+1:]
		} else {
			out[i] = n
		}
	}
	return out
}

// Dir is a zero-copy view over a serialized tree blob: lookups overlay the
// retained byte slice rather than copying it, mirroring the teacher's
// internal/index.Index overlay technique.
type Dir struct {
	data []byte
}

// LoadTree wraps a blob produced by BuildTree.
func LoadTree(data []byte) *Dir {
	return &Dir{data: data}
}

type dirNodeView struct {
	numDirs, numFiles uint32
	dirEntries        []DirEntry
	fileEntries       []FileEntry
	poolStart         int
}

func (d *Dir) node(offset uint32) (dirNodeView, error) {
	data := d.data
	if int(offset)+8 > len(data) {
		return dirNodeView{}, fmt.Errorf("dirdata: truncated dir node at offset %d", offset)
	}
	numDirs := binary.LittleEndian.Uint32(data[offset : offset+4])
	numFiles := binary.LittleEndian.Uint32(data[offset+4 : offset+8])

	off := int(offset) + 8
	dirEntries := make([]DirEntry, numDirs)
	for i := range dirEntries {
		if off+8 > len(data) {
			return dirNodeView{}, fmt.Errorf("dirdata: truncated dir entry at offset %d", off)
		}
		dirEntries[i] = DirEntry{
			NameOffset:         binary.LittleEndian.Uint32(data[off : off+4]),
			SubdirHeaderOffset: binary.LittleEndian.Uint32(data[off+4 : off+8]),
		}
		off += 8
	}

	fileEntries := make([]FileEntry, numFiles)
	for i := range fileEntries {
		e, next, err := unmarshalFileEntry(data, off)
		if err != nil {
			return dirNodeView{}, err
		}
		fileEntries[i] = e
		off = next
	}

	return dirNodeView{numDirs: numDirs, numFiles: numFiles, dirEntries: dirEntries, fileEntries: fileEntries, poolStart: off}, nil
}

func (d *Dir) nameAt(poolStart int, offset uint32) (string, error) {
	return readPoolString(d.data[poolStart:], int(offset))
}

// FindFile descends the tree by path component, binary-searching each
// level's sorted file/dir arrays (§4.3 FindSubdir/FindFile).
func (d *Dir) FindFile(path string) (*FileEntry, bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	offset := uint32(0)
	for level, seg := range segments {
		n, err := d.node(offset)
		if err != nil {
			return nil, false
		}
		last := level == len(segments)-1
		if last {
			i := sort.Search(len(n.fileEntries), func(i int) bool {
				name, _ := d.nameAt(n.poolStart, n.fileEntries[i].NameOffset)
				return name >= seg
			})
			if i < len(n.fileEntries) {
				if name, _ := d.nameAt(n.poolStart, n.fileEntries[i].NameOffset); name == seg {
					e := n.fileEntries[i]
					return &e, true
				}
			}
			return nil, false
		}

		i := sort.Search(len(n.dirEntries), func(i int) bool {
			name, _ := d.nameAt(n.poolStart, n.dirEntries[i].NameOffset)
			return name >= seg
		})
		if i >= len(n.dirEntries) {
			return nil, false
		}
		name, _ := d.nameAt(n.poolStart, n.dirEntries[i].NameOffset)
		if name != seg {
			return nil, false
		}
		offset = n.dirEntries[i].SubdirHeaderOffset
	}
	return nil, false
}

// FindSubdir reports whether path names a directory node in the tree.
func (d *Dir) FindSubdir(path string) bool {
	path = strings.Trim(path, "/")
	if path == "" {
		return true
	}
	segments := strings.Split(path, "/")
	offset := uint32(0)
	for _, seg := range segments {
		n, err := d.node(offset)
		if err != nil {
			return false
		}
		i := sort.Search(len(n.dirEntries), func(i int) bool {
			name, _ := d.nameAt(n.poolStart, n.dirEntries[i].NameOffset)
			return name >= seg
		})
		if i >= len(n.dirEntries) {
			return false
		}
		name, _ := d.nameAt(n.poolStart, n.dirEntries[i].NameOffset)
		if name != seg {
			return false
		}
		offset = n.dirEntries[i].SubdirHeaderOffset
	}
	return true
}

// Walk visits every file entry in the tree in sorted order, calling fn with
// its full slash-separated path. Walk stops early if fn returns false.
func (d *Dir) Walk(fn func(path string, e FileEntry) bool) {
	var walk func(offset uint32, prefix string) bool
	walk = func(offset uint32, prefix string) bool {
		n, err := d.node(offset)
		if err != nil {
			return true
		}
		for i := range n.fileEntries {
			name, _ := d.nameAt(n.poolStart, n.fileEntries[i].NameOffset)
			if !fn(prefix+name, n.fileEntries[i]) {
				return false
			}
		}
		for i := range n.dirEntries {
			name, _ := d.nameAt(n.poolStart, n.dirEntries[i].NameOffset)
			if !walk(n.dirEntries[i].SubdirHeaderOffset, prefix+name+"/") {
				return false
			}
		}
		return true
	}
	walk(0, "")
}
