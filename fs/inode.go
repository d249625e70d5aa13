package fs

import (
	"encoding/binary"
	"fmt"
)

// An Inode is the 128-byte on-disk record of one file or directory.
// Unused direct-block slots hold InvalidBlock.
type Inode struct {
	Type       FileType
	Size       uint32
	BlocksUsed uint32
	Direct     [DirectBlocks]uint32
}

// NewInode returns an inode of the given type with no data blocks.
func NewInode(t FileType) Inode {
	ino := Inode{Type: t}
	for i := range ino.Direct {
		ino.Direct[i] = InvalidBlock
	}
	return ino
}

// Encode serializes the inode into a 128-byte record.
func (ino *Inode) Encode(b []byte) {
	b[0] = byte(ino.Type)
	b[1], b[2], b[3] = 0, 0, 0
	binary.LittleEndian.PutUint32(b[4:], ino.Size)
	binary.LittleEndian.PutUint32(b[8:], ino.BlocksUsed)
	for i := 0; i < DirectBlocks; i++ {
		binary.LittleEndian.PutUint32(b[12+4*i:], ino.Direct[i])
	}
}

// Decode deserializes the inode from a 128-byte record.
func (ino *Inode) Decode(b []byte) {
	ino.Type = FileType(b[0])
	ino.Size = binary.LittleEndian.Uint32(b[4:])
	ino.BlocksUsed = binary.LittleEndian.Uint32(b[8:])
	for i := 0; i < DirectBlocks; i++ {
		ino.Direct[i] = binary.LittleEndian.Uint32(b[12+4*i:])
	}
}

// readInode loads inode num from the inode table.
func (f *FileSystem) readInode(num uint32) (Inode, error) {
	var ino Inode

	if num >= MaxInodes {
		return ino, fmt.Errorf("inode %d out of range", num)
	}

	blockID := InodeTableStart + int(num)/InodesPerBlock
	offset := (int(num) % InodesPerBlock) * InodeSize

	block := make([]byte, BlockSize)
	if err := f.disk.ReadBlock(blockID, block); err != nil {
		return ino, err
	}

	ino.Decode(block[offset : offset+InodeSize])
	return ino, nil
}

// writeInode stores inode num into the inode table.
func (f *FileSystem) writeInode(num uint32, ino Inode) error {
	if num >= MaxInodes {
		return fmt.Errorf("inode %d out of range", num)
	}

	blockID := InodeTableStart + int(num)/InodesPerBlock
	offset := (int(num) % InodesPerBlock) * InodeSize

	block := make([]byte, BlockSize)
	if err := f.disk.ReadBlock(blockID, block); err != nil {
		return err
	}

	ino.Encode(block[offset : offset+InodeSize])
	return f.disk.WriteBlock(blockID, block)
}
