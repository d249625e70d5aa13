package fs

import "encoding/binary"

// A SuperBlock describes the volume. It is persisted little-endian in
// block 0 and padded to one full block.
type SuperBlock struct {
	Magic       uint32
	TotalBlocks uint32
	TotalInodes uint32
	FreeBlocks  uint32
	FreeInodes  uint32

	InodeBitmapBlock uint32
	DataBitmapBlock  uint32
	InodeTableStart  uint32
	InodeTableBlocks uint32
	DataBlocksStart  uint32
}

// Encode serializes the superblock into a one-block buffer.
func (sb *SuperBlock) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], sb.Magic)
	binary.LittleEndian.PutUint32(b[4:], sb.TotalBlocks)
	binary.LittleEndian.PutUint32(b[8:], sb.TotalInodes)
	binary.LittleEndian.PutUint32(b[12:], sb.FreeBlocks)
	binary.LittleEndian.PutUint32(b[16:], sb.FreeInodes)
	binary.LittleEndian.PutUint32(b[20:], sb.InodeBitmapBlock)
	binary.LittleEndian.PutUint32(b[24:], sb.DataBitmapBlock)
	binary.LittleEndian.PutUint32(b[28:], sb.InodeTableStart)
	binary.LittleEndian.PutUint32(b[32:], sb.InodeTableBlocks)
	binary.LittleEndian.PutUint32(b[36:], sb.DataBlocksStart)
}

// Decode deserializes the superblock from a one-block buffer.
func (sb *SuperBlock) Decode(b []byte) {
	sb.Magic = binary.LittleEndian.Uint32(b[0:])
	sb.TotalBlocks = binary.LittleEndian.Uint32(b[4:])
	sb.TotalInodes = binary.LittleEndian.Uint32(b[8:])
	sb.FreeBlocks = binary.LittleEndian.Uint32(b[12:])
	sb.FreeInodes = binary.LittleEndian.Uint32(b[16:])
	sb.InodeBitmapBlock = binary.LittleEndian.Uint32(b[20:])
	sb.DataBitmapBlock = binary.LittleEndian.Uint32(b[24:])
	sb.InodeTableStart = binary.LittleEndian.Uint32(b[28:])
	sb.InodeTableBlocks = binary.LittleEndian.Uint32(b[32:])
	sb.DataBlocksStart = binary.LittleEndian.Uint32(b[36:])
}
