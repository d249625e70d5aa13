package fs

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// A DirEntry is the 32-byte on-disk record binding a name to an inode
// number. A record with InodeNum == InvalidInode is a free slot.
type DirEntry struct {
	Name     string
	InodeNum uint32
}

// Valid reports whether the slot is occupied.
func (e DirEntry) Valid() bool {
	return e.InodeNum != InvalidInode
}

func encodeDirEntry(b []byte, e DirEntry) {
	for i := 0; i < MaxFilenameLen; i++ {
		b[i] = 0
	}
	copy(b[:MaxFilenameLen], e.Name)
	binary.LittleEndian.PutUint32(b[MaxFilenameLen:], e.InodeNum)
}

func decodeDirEntry(b []byte) DirEntry {
	name := b[:MaxFilenameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return DirEntry{
		Name:     string(name),
		InodeNum: binary.LittleEndian.Uint32(b[MaxFilenameLen:]),
	}
}

// NormalizePath resolves path against cwd into a canonical absolute
// path: `.` and empty segments are dropped, `..` pops one segment and
// is a no-op at the root.
func NormalizePath(path, cwd string) string {
	var abs string
	switch {
	case path == "":
		abs = cwd
		if abs == "" {
			abs = "/"
		}
	case path[0] == '/':
		abs = path
	case cwd == "" || cwd == "/":
		abs = "/" + path
	default:
		abs = cwd + "/" + path
	}

	var stack []string
	for _, part := range strings.Split(abs, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}

	if len(stack) == 0 {
		return "/"
	}

	return "/" + strings.Join(stack, "/")
}

// SplitPath separates a normalized path into its parent directory and
// final component.
func SplitPath(path string) (parent, name string) {
	pos := strings.LastIndexByte(path, '/')
	switch {
	case pos < 0:
		return ".", path
	case pos == 0:
		return "/", path[1:]
	default:
		return path[:pos], path[pos+1:]
	}
}

// LookupPath resolves a path to an inode number, walking the
// directory tree from the root. It returns ErrNoSuchPath when a
// component is absent and ErrNotADirectory when a non-final component
// is not a directory.
func (f *FileSystem) LookupPath(path string) (uint32, error) {
	norm := NormalizePath(path, f.currentDir)

	current := uint32(RootInode)
	if norm == "/" {
		return current, nil
	}

	for _, segment := range strings.Split(norm[1:], "/") {
		next, err := f.lookupInDirectory(current, segment)
		if err != nil {
			return InvalidInode, err
		}

		current = next
	}

	return current, nil
}

// lookupInDirectory scans a directory's data blocks for an entry with
// the exact name.
func (f *FileSystem) lookupInDirectory(
	dirInode uint32,
	name string,
) (uint32, error) {
	ino, err := f.readInode(dirInode)
	if err != nil {
		return InvalidInode, err
	}

	if ino.Type != TypeDirectory {
		return InvalidInode, ErrNotADirectory
	}

	block := make([]byte, BlockSize)
	for i := uint32(0); i < ino.BlocksUsed; i++ {
		if err := f.disk.ReadBlock(int(ino.Direct[i]), block); err != nil {
			continue
		}

		for j := 0; j < DirentsPerBlock; j++ {
			entry := decodeDirEntry(block[j*DirentSize:])
			if entry.Valid() && entry.Name == name {
				return entry.InodeNum, nil
			}
		}
	}

	return InvalidInode, ErrNoSuchPath
}

// addDirEntry inserts (name, inodeNum) into the first free slot of
// the directory, appending a new data block when every slot is taken.
func (f *FileSystem) addDirEntry(
	dirInode uint32,
	name string,
	inodeNum uint32,
) error {
	ino, err := f.readInode(dirInode)
	if err != nil {
		return err
	}

	block := make([]byte, BlockSize)
	for i := uint32(0); i < ino.BlocksUsed; i++ {
		if err := f.disk.ReadBlock(int(ino.Direct[i]), block); err != nil {
			continue
		}

		for j := 0; j < DirentsPerBlock; j++ {
			entry := decodeDirEntry(block[j*DirentSize:])
			if entry.Valid() {
				continue
			}

			encodeDirEntry(block[j*DirentSize:],
				DirEntry{Name: name, InodeNum: inodeNum})
			if err := f.disk.WriteBlock(int(ino.Direct[i]), block); err != nil {
				return err
			}

			ino.Size += DirentSize
			return f.writeInode(dirInode, ino)
		}
	}

	if ino.BlocksUsed >= DirectBlocks {
		f.logger.Print("Directory full")
		return ErrDirectoryFull
	}

	newBlock, err := f.allocBlock()
	if err != nil {
		return err
	}

	for i := range block {
		block[i] = 0
	}
	encodeDirEntry(block, DirEntry{Name: name, InodeNum: inodeNum})
	// Remaining slots must read as free.
	for j := 1; j < DirentsPerBlock; j++ {
		encodeDirEntry(block[j*DirentSize:],
			DirEntry{InodeNum: InvalidInode})
	}

	if err := f.disk.WriteBlock(int(newBlock), block); err != nil {
		return err
	}

	ino.Direct[ino.BlocksUsed] = newBlock
	ino.BlocksUsed++
	ino.Size += DirentSize

	return f.writeInode(dirInode, ino)
}

// removeDirEntry marks the named slot free.
func (f *FileSystem) removeDirEntry(dirInode uint32, name string) error {
	ino, err := f.readInode(dirInode)
	if err != nil {
		return err
	}

	block := make([]byte, BlockSize)
	for i := uint32(0); i < ino.BlocksUsed; i++ {
		if err := f.disk.ReadBlock(int(ino.Direct[i]), block); err != nil {
			continue
		}

		for j := 0; j < DirentsPerBlock; j++ {
			entry := decodeDirEntry(block[j*DirentSize:])
			if !entry.Valid() || entry.Name != name {
				continue
			}

			entry.InodeNum = InvalidInode
			encodeDirEntry(block[j*DirentSize:], entry)
			if err := f.disk.WriteBlock(int(ino.Direct[i]), block); err != nil {
				return err
			}

			ino.Size -= DirentSize
			return f.writeInode(dirInode, ino)
		}
	}

	return ErrNoSuchPath
}

// initDirectoryBlock writes a fresh directory data block holding only
// `.` and `..`.
func (f *FileSystem) initDirectoryBlock(
	blockID, self, parent uint32,
) error {
	block := make([]byte, BlockSize)
	encodeDirEntry(block, DirEntry{Name: ".", InodeNum: self})
	encodeDirEntry(block[DirentSize:], DirEntry{Name: "..", InodeNum: parent})
	for j := 2; j < DirentsPerBlock; j++ {
		encodeDirEntry(block[j*DirentSize:],
			DirEntry{InodeNum: InvalidInode})
	}

	return f.disk.WriteBlock(int(blockID), block)
}
