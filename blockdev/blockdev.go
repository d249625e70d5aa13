// Package blockdev provides the block device that backs the simulated
// disk. The device is a fixed array of equal-size blocks persisted in a
// regular file, with synchronous block-granularity read and write.
package blockdev

import (
	"fmt"
	"log"
	"os"
)

// Default geometry of the simulated disk.
const (
	DefaultBlockSize = 0x1000
	DefaultNumBlocks = 1024

	DefaultImageName = "disk.img"
)

// A Device is a fixed pool of equal-size blocks addressed by index.
// It is implemented by Disk.
type Device interface {
	ReadBlock(id int, out []byte) error
	WriteBlock(id int, data []byte) error
	NumBlocks() int
	BlockSize() int
}

// Disk is a Device persisted in a backing image file. The image is
// created and zero-filled on first use and every write is flushed
// through to it.
type Disk struct {
	file      *os.File
	blockSize int
	numBlocks int

	logger *log.Logger
}

// NewDisk opens the image at path, creating and zero-filling it if it
// does not exist yet.
func NewDisk(path string, numBlocks, blockSize int) (*Disk, error) {
	logger := log.New(os.Stderr, "[Disk] ", 0)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Printf("Creating new disk image: %s (%d KB)",
			path, numBlocks*blockSize/1024)

		if err := createImage(path, numBlocks, blockSize); err != nil {
			return nil, err
		}
	}

	logger.Printf("Opening disk image: %s", path)

	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open disk image: %w", err)
	}

	d := &Disk{
		file:      file,
		blockSize: blockSize,
		numBlocks: numBlocks,
		logger:    logger,
	}

	return d, nil
}

func createImage(path string, numBlocks, blockSize int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create disk image: %w", err)
	}
	defer file.Close()

	zero := make([]byte, blockSize)
	for i := 0; i < numBlocks; i++ {
		if _, err := file.Write(zero); err != nil {
			return fmt.Errorf("zero-fill disk image: %w", err)
		}
	}

	return nil
}

// ReadBlock copies block id into out. Out must hold one full block.
func (d *Disk) ReadBlock(id int, out []byte) error {
	if id < 0 || id >= d.numBlocks {
		return fmt.Errorf("read block %d: out of range [0, %d)",
			id, d.numBlocks)
	}

	if len(out) < d.blockSize {
		return fmt.Errorf("read buffer too small: %d < %d",
			len(out), d.blockSize)
	}

	_, err := d.file.ReadAt(out[:d.blockSize], int64(id)*int64(d.blockSize))
	if err != nil {
		return fmt.Errorf("read block %d: %w", id, err)
	}

	return nil
}

// WriteBlock writes one full block of data at block id and flushes it
// to the backing file.
func (d *Disk) WriteBlock(id int, data []byte) error {
	if id < 0 || id >= d.numBlocks {
		return fmt.Errorf("write block %d: out of range [0, %d)",
			id, d.numBlocks)
	}

	if len(data) < d.blockSize {
		return fmt.Errorf("write buffer too small: %d < %d",
			len(data), d.blockSize)
	}

	_, err := d.file.WriteAt(data[:d.blockSize], int64(id)*int64(d.blockSize))
	if err != nil {
		return fmt.Errorf("write block %d: %w", id, err)
	}

	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("flush block %d: %w", id, err)
	}

	return nil
}

// NumBlocks returns the total number of blocks on the device.
func (d *Disk) NumBlocks() int {
	return d.numBlocks
}

// BlockSize returns the size of one block in bytes.
func (d *Disk) BlockSize() int {
	return d.blockSize
}

// Close releases the backing file.
func (d *Disk) Close() error {
	return d.file.Close()
}

// Name returns the name of the device for monitoring.
func (d *Disk) Name() string {
	return "Disk"
}
