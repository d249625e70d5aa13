package fs

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/FanTuani/tinix/blockdev"
)

// OpTrace is one file-system operation record for the data recorder.
type OpTrace struct {
	Op   string
	Path string
	OK   bool
}

// A Tracer receives file-system operation records. It is implemented
// by datarecording.DataRecorder.
type Tracer interface {
	InsertData(tableName string, entry any)
}

// OpTraceTable is the recorder table the FileSystem inserts OpTrace
// entries into.
const OpTraceTable = "fs_op_trace"

// A FileSystem is the single mounted volume living in the non-swap
// prefix of the block device. The superblock and both bitmaps are
// cached in memory and written through on every mutating operation.
type FileSystem struct {
	disk blockdev.Device

	superblock  SuperBlock
	inodeBitmap bitmap
	dataBitmap  bitmap

	openFiles  *descriptorTable
	currentDir string
	mounted    bool

	tracer Tracer

	logger *log.Logger
}

// NewFileSystem creates an unmounted file system over the device.
func NewFileSystem(disk blockdev.Device) *FileSystem {
	return &FileSystem{
		disk:        disk,
		inodeBitmap: newBitmap(),
		dataBitmap:  newBitmap(),
		openFiles:   newDescriptorTable(),
		currentDir:  "/",
		logger:      log.New(os.Stderr, "[FS] ", 0),
	}
}

// SetTracer sets the recorder that receives operation records.
func (f *FileSystem) SetTracer(t Tracer) {
	f.tracer = t
}

// Format writes a fresh volume: superblock, bitmaps with the root
// inode reserved, a zeroed inode table, and the root directory. The
// file system is mounted afterwards.
func (f *FileSystem) Format() error {
	f.logger.Print("Formatting file system...")

	f.superblock = SuperBlock{
		Magic:            Magic,
		TotalBlocks:      TotalBlocks,
		TotalInodes:      MaxInodes,
		FreeBlocks:       MaxDataBlocks,
		FreeInodes:       MaxInodes - 1,
		InodeBitmapBlock: InodeBitmapBlock,
		DataBitmapBlock:  DataBitmapBlock,
		InodeTableStart:  InodeTableStart,
		InodeTableBlocks: InodeTableBlocks,
		DataBlocksStart:  DataBlocksStart,
	}

	if err := f.saveSuperblock(); err != nil {
		f.logger.Printf("Format failed: unable to write SuperBlock: %v", err)
		return err
	}

	f.inodeBitmap = newBitmap()
	f.inodeBitmap.set(RootInode)
	f.dataBitmap = newBitmap()
	if err := f.saveBitmaps(); err != nil {
		return err
	}

	zero := make([]byte, BlockSize)
	for i := 0; i < InodeTableBlocks; i++ {
		if err := f.disk.WriteBlock(InodeTableStart+i, zero); err != nil {
			return err
		}
	}

	if err := f.initRootDirectory(); err != nil {
		f.logger.Printf("Format failed: unable to create root directory: %v",
			err)
		return err
	}

	f.mounted = true
	f.currentDir = "/"

	f.logger.Print("Format complete!")
	f.logger.Printf("Total blocks: %d, Total inodes: %d",
		f.superblock.TotalBlocks, f.superblock.TotalInodes)

	return nil
}

// initRootDirectory allocates the root data block and writes the root
// inode with `.` and `..` both naming the root.
func (f *FileSystem) initRootDirectory() error {
	rootBlock, err := f.allocBlock()
	if err != nil {
		return err
	}

	ino := NewInode(TypeDirectory)
	ino.Size = 2 * DirentSize
	ino.BlocksUsed = 1
	ino.Direct[0] = rootBlock

	if err := f.writeInode(RootInode, ino); err != nil {
		return err
	}

	if err := f.initDirectoryBlock(rootBlock, RootInode, RootInode); err != nil {
		return err
	}

	if err := f.persistMeta(); err != nil {
		return err
	}

	f.logger.Printf("Root directory created (inode=%d, block=%d)",
		RootInode, rootBlock)

	return nil
}

// Mount loads the superblock, validates the magic and layout, and
// loads both bitmaps.
func (f *FileSystem) Mount() error {
	f.logger.Print("Mounting file system...")

	if err := f.loadSuperblock(); err != nil {
		f.logger.Printf("Mount failed: unable to read SuperBlock: %v", err)
		return err
	}

	if f.superblock.Magic != Magic {
		f.logger.Printf(
			"Mount failed: magic number mismatch (expected: 0x%x, actual: 0x%x)",
			Magic, f.superblock.Magic)
		return ErrInvalidMagic
	}

	if f.superblock.TotalBlocks != TotalBlocks ||
		f.superblock.TotalInodes != MaxInodes {
		f.logger.Print("Mount failed: layout mismatch, please re-format")
		return ErrLayoutMismatch
	}

	if err := f.loadBitmaps(); err != nil {
		f.logger.Printf("Mount failed: unable to read bitmaps: %v", err)
		return err
	}

	f.mounted = true
	f.currentDir = "/"

	f.logger.Print("Mount successful!")
	f.logger.Printf("Free blocks: %d, Free inodes: %d",
		f.superblock.FreeBlocks, f.superblock.FreeInodes)

	return nil
}

// Mounted reports whether the volume is usable.
func (f *FileSystem) Mounted() bool {
	return f.mounted
}

func (f *FileSystem) loadSuperblock() error {
	block := make([]byte, BlockSize)
	if err := f.disk.ReadBlock(SuperblockBlock, block); err != nil {
		return err
	}
	f.superblock.Decode(block)
	return nil
}

func (f *FileSystem) saveSuperblock() error {
	block := make([]byte, BlockSize)
	f.superblock.Encode(block)
	return f.disk.WriteBlock(SuperblockBlock, block)
}

// persistMeta writes the superblock and both bitmaps through.
func (f *FileSystem) persistMeta() error {
	if err := f.saveSuperblock(); err != nil {
		return err
	}
	return f.saveBitmaps()
}

func (f *FileSystem) trace(op, path string, err error) {
	if f.tracer != nil {
		f.tracer.InsertData(OpTraceTable, OpTrace{
			Op:   op,
			Path: path,
			OK:   err == nil,
		})
	}
}

// CreateFile allocates an inode for a new empty regular file and
// links it into its parent directory.
func (f *FileSystem) CreateFile(path string) (err error) {
	defer func() { f.trace("create", path, err) }()

	if !f.mounted {
		f.logger.Print("File system not mounted")
		return ErrNotMounted
	}

	parentPath, name := SplitPath(NormalizePath(path, f.currentDir))

	parentInode, err := f.LookupPath(parentPath)
	if err != nil {
		f.logger.Printf("Parent directory not found: %s", parentPath)
		return err
	}

	if _, err := f.lookupInDirectory(parentInode, name); err == nil {
		f.logger.Printf("File already exists: %s", path)
		return ErrAlreadyExists
	}

	newInode, err := f.allocInode()
	if err != nil {
		return err
	}

	ino := NewInode(TypeRegular)
	if err := f.writeInode(newInode, ino); err != nil {
		f.freeInode(newInode)
		return err
	}

	if err := f.addDirEntry(parentInode, name, newInode); err != nil {
		f.freeInode(newInode)
		return err
	}

	if err := f.persistMeta(); err != nil {
		return err
	}

	f.logger.Printf("Created file: %s (inode=%d)", path, newInode)
	return nil
}

// RemoveFile frees every data block of the file, frees its inode, and
// unlinks it from its parent directory.
func (f *FileSystem) RemoveFile(path string) (err error) {
	defer func() { f.trace("remove", path, err) }()

	if !f.mounted {
		f.logger.Print("File system not mounted")
		return ErrNotMounted
	}

	parentPath, name := SplitPath(NormalizePath(path, f.currentDir))

	parentInode, err := f.LookupPath(parentPath)
	if err != nil {
		return err
	}

	fileInode, err := f.lookupInDirectory(parentInode, name)
	if err != nil {
		f.logger.Printf("File not found: %s", path)
		return err
	}

	ino, err := f.readInode(fileInode)
	if err != nil {
		return err
	}

	for i := uint32(0); i < ino.BlocksUsed; i++ {
		f.freeBlock(ino.Direct[i])
	}

	f.freeInode(fileInode)
	if err := f.removeDirEntry(parentInode, name); err != nil {
		return err
	}

	if err := f.persistMeta(); err != nil {
		return err
	}

	f.logger.Printf("Removed file: %s", path)
	return nil
}

// CreateDirectory creates a directory with `.` and `..` and links it
// into its parent.
func (f *FileSystem) CreateDirectory(path string) (err error) {
	defer func() { f.trace("mkdir", path, err) }()

	if !f.mounted {
		f.logger.Print("File system not mounted")
		return ErrNotMounted
	}

	parentPath, name := SplitPath(NormalizePath(path, f.currentDir))

	parentInode, err := f.LookupPath(parentPath)
	if err != nil {
		f.logger.Printf("Parent directory not found: %s", parentPath)
		return err
	}

	if _, err := f.lookupInDirectory(parentInode, name); err == nil {
		f.logger.Printf("Directory already exists: %s", path)
		return ErrAlreadyExists
	}

	newInode, err := f.allocInode()
	if err != nil {
		return err
	}

	dataBlock, err := f.allocBlock()
	if err != nil {
		f.freeInode(newInode)
		return err
	}

	ino := NewInode(TypeDirectory)
	ino.Size = 2 * DirentSize
	ino.BlocksUsed = 1
	ino.Direct[0] = dataBlock

	if err := f.initDirectoryBlock(dataBlock, newInode, parentInode); err != nil {
		f.freeBlock(dataBlock)
		f.freeInode(newInode)
		return err
	}

	if err := f.writeInode(newInode, ino); err != nil {
		f.freeBlock(dataBlock)
		f.freeInode(newInode)
		return err
	}

	if err := f.addDirEntry(parentInode, name, newInode); err != nil {
		f.freeBlock(dataBlock)
		f.freeInode(newInode)
		return err
	}

	if err := f.persistMeta(); err != nil {
		return err
	}

	f.logger.Printf("Created directory: %s (inode=%d)", path, newInode)
	return nil
}

// EntryInfo describes one directory entry for listings.
type EntryInfo struct {
	Name     string
	InodeNum uint32
	Type     FileType
	Size     uint32
}

// ReadDir lists the valid entries of the directory at path.
func (f *FileSystem) ReadDir(path string) ([]EntryInfo, error) {
	if !f.mounted {
		f.logger.Print("File system not mounted")
		return nil, ErrNotMounted
	}

	dirInode, err := f.LookupPath(path)
	if err != nil {
		f.logger.Printf("Directory not found: %s", path)
		return nil, err
	}

	ino, err := f.readInode(dirInode)
	if err != nil {
		return nil, err
	}

	if ino.Type != TypeDirectory {
		f.logger.Printf("Not a directory: %s", path)
		return nil, ErrNotADirectory
	}

	var entries []EntryInfo
	block := make([]byte, BlockSize)
	for i := uint32(0); i < ino.BlocksUsed; i++ {
		if err := f.disk.ReadBlock(int(ino.Direct[i]), block); err != nil {
			continue
		}

		for j := 0; j < DirentsPerBlock; j++ {
			entry := decodeDirEntry(block[j*DirentSize:])
			if !entry.Valid() {
				continue
			}

			child, err := f.readInode(entry.InodeNum)
			if err != nil {
				continue
			}

			entries = append(entries, EntryInfo{
				Name:     entry.Name,
				InodeNum: entry.InodeNum,
				Type:     child.Type,
				Size:     child.Size,
			})
		}
	}

	return entries, nil
}

// ChangeDirectory moves the working directory.
func (f *FileSystem) ChangeDirectory(path string) error {
	if !f.mounted {
		f.logger.Print("File system not mounted")
		return ErrNotMounted
	}

	inodeNum, err := f.LookupPath(path)
	if err != nil {
		f.logger.Printf("Directory not found: %s", path)
		return err
	}

	ino, err := f.readInode(inodeNum)
	if err != nil {
		return err
	}

	if ino.Type != TypeDirectory {
		f.logger.Printf("Not a directory: %s", path)
		return ErrNotADirectory
	}

	f.currentDir = NormalizePath(path, f.currentDir)
	f.logger.Printf("Changed directory to: %s", f.currentDir)

	return nil
}

// CurrentDir returns the working directory.
func (f *FileSystem) CurrentDir() string {
	return f.currentDir
}

// OpenFile resolves a regular file and allocates a descriptor bound
// to offset 0.
func (f *FileSystem) OpenFile(path string) (int, error) {
	if !f.mounted {
		f.logger.Print("File system not mounted")
		return -1, ErrNotMounted
	}

	inodeNum, err := f.LookupPath(path)
	if err != nil {
		f.logger.Printf("File not found: %s", path)
		return -1, err
	}

	ino, err := f.readInode(inodeNum)
	if err != nil {
		return -1, err
	}

	if ino.Type != TypeRegular {
		f.logger.Printf("Not a regular file: %s", path)
		return -1, ErrNotARegular
	}

	fd := f.openFiles.alloc(inodeNum)
	f.logger.Printf("Opened file: %s (fd=%d)", path, fd)

	return fd, nil
}

// CloseFile releases a descriptor.
func (f *FileSystem) CloseFile(fd int) error {
	if !f.openFiles.free(fd) {
		return ErrBadDescriptor
	}
	f.logger.Printf("Closed file (fd=%d)", fd)
	return nil
}

// ReadFile copies up to len(buf) bytes from the descriptor's offset
// and advances it. A zero count means end of file.
func (f *FileSystem) ReadFile(fd int, buf []byte) (int, error) {
	file := f.openFiles.get(fd)
	if file == nil {
		f.logger.Printf("Invalid file descriptor: %d", fd)
		return -1, ErrBadDescriptor
	}

	ino, err := f.readInode(file.InodeNum)
	if err != nil {
		return -1, err
	}

	available := 0
	if file.Offset < ino.Size {
		available = int(ino.Size - file.Offset)
	}

	toRead := len(buf)
	if available < toRead {
		toRead = available
	}

	bytesRead := 0
	block := make([]byte, BlockSize)
	for bytesRead < toRead {
		blockIdx := file.Offset / BlockSize
		blockOffset := int(file.Offset % BlockSize)

		if blockIdx >= ino.BlocksUsed {
			break
		}

		if err := f.disk.ReadBlock(int(ino.Direct[blockIdx]), block); err != nil {
			break
		}

		chunk := toRead - bytesRead
		if left := BlockSize - blockOffset; left < chunk {
			chunk = left
		}

		copy(buf[bytesRead:], block[blockOffset:blockOffset+chunk])
		bytesRead += chunk
		file.Offset += uint32(chunk)
	}

	return bytesRead, nil
}

// WriteFile writes buf at the descriptor's offset, allocating data
// blocks as the file grows. The count is short when the direct-block
// limit or block exhaustion cuts the write off.
func (f *FileSystem) WriteFile(fd int, buf []byte) (int, error) {
	file := f.openFiles.get(fd)
	if file == nil {
		f.logger.Printf("Invalid file descriptor: %d", fd)
		return -1, ErrBadDescriptor
	}

	ino, err := f.readInode(file.InodeNum)
	if err != nil {
		return -1, err
	}

	bytesWritten := 0
	block := make([]byte, BlockSize)
	for bytesWritten < len(buf) {
		blockIdx := file.Offset / BlockSize
		blockOffset := int(file.Offset % BlockSize)

		if blockIdx >= ino.BlocksUsed {
			if blockIdx >= DirectBlocks {
				f.logger.Print("File size limit reached")
				break
			}

			newBlock, err := f.allocBlock()
			if err != nil {
				break
			}

			ino.Direct[blockIdx] = newBlock
			ino.BlocksUsed++
		}

		// Partial block writes read-modify-write the block.
		if blockOffset != 0 || len(buf)-bytesWritten < BlockSize {
			if err := f.disk.ReadBlock(int(ino.Direct[blockIdx]), block); err != nil {
				break
			}
		}

		chunk := len(buf) - bytesWritten
		if left := BlockSize - blockOffset; left < chunk {
			chunk = left
		}

		copy(block[blockOffset:], buf[bytesWritten:bytesWritten+chunk])
		if err := f.disk.WriteBlock(int(ino.Direct[blockIdx]), block); err != nil {
			break
		}

		bytesWritten += chunk
		file.Offset += uint32(chunk)

		if file.Offset > ino.Size {
			ino.Size = file.Offset
		}
	}

	if err := f.writeInode(file.InodeNum, ino); err != nil {
		return bytesWritten, err
	}
	if err := f.persistMeta(); err != nil {
		return bytesWritten, err
	}

	return bytesWritten, nil
}

// OpenFileCount returns the number of live global descriptors.
func (f *FileSystem) OpenFileCount() int {
	return f.openFiles.count()
}

// SuperBlockInfo returns a copy of the cached superblock.
func (f *FileSystem) SuperBlockInfo() SuperBlock {
	return f.superblock
}

// Name returns the name of the component for monitoring.
func (f *FileSystem) Name() string {
	return "FileSystem"
}

// DumpSuperblock renders the superblock on w.
func (f *FileSystem) DumpSuperblock(w io.Writer) {
	fmt.Fprintln(w, "========== SuperBlock ==========")
	fmt.Fprintf(w, "Magic: 0x%x\n", f.superblock.Magic)
	fmt.Fprintf(w, "Total blocks: %d\n", f.superblock.TotalBlocks)
	fmt.Fprintf(w, "Total inodes: %d\n", f.superblock.TotalInodes)
	fmt.Fprintf(w, "Free blocks: %d\n", f.superblock.FreeBlocks)
	fmt.Fprintf(w, "Free inodes: %d\n", f.superblock.FreeInodes)
	fmt.Fprintf(w, "Data blocks start: %d\n", f.superblock.DataBlocksStart)
	fmt.Fprintln(w, "===============================")
}
