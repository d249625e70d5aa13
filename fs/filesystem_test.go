package fs_test

import (
	"bytes"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/FanTuani/tinix/blockdev"
	"github.com/FanTuani/tinix/fs"
)

var _ = Describe("FileSystem", func() {
	var (
		disk   *blockdev.Disk
		volume *fs.FileSystem
	)

	BeforeEach(func() {
		imagePath := filepath.Join(GinkgoT().TempDir(), "disk.img")

		var err error
		disk, err = blockdev.NewDisk(imagePath,
			blockdev.DefaultNumBlocks, blockdev.DefaultBlockSize)
		Expect(err).NotTo(HaveOccurred())

		volume = fs.NewFileSystem(disk)
	})

	AfterEach(func() {
		disk.Close()
	})

	It("should refuse to mount a blank volume", func() {
		Expect(volume.Mount()).To(MatchError(fs.ErrInvalidMagic))
	})

	It("should refuse operations before mount", func() {
		Expect(volume.CreateFile("/f")).To(MatchError(fs.ErrNotMounted))
		Expect(volume.CreateDirectory("/d")).To(MatchError(fs.ErrNotMounted))

		_, err := volume.OpenFile("/f")
		Expect(err).To(MatchError(fs.ErrNotMounted))
	})

	Context("formatted volume", func() {
		BeforeEach(func() {
			Expect(volume.Format()).To(Succeed())
		})

		It("should initialize the superblock", func() {
			sb := volume.SuperBlockInfo()

			Expect(sb.Magic).To(Equal(fs.Magic))
			Expect(sb.TotalBlocks).To(Equal(uint32(fs.TotalBlocks)))
			Expect(sb.TotalInodes).To(Equal(uint32(fs.MaxInodes)))
			Expect(sb.FreeInodes).To(Equal(uint32(fs.MaxInodes - 1)))
			Expect(sb.FreeBlocks).To(Equal(uint32(fs.MaxDataBlocks - 1)))
		})

		It("should list dot and dot-dot in the root", func() {
			entries, err := volume.ReadDir("/")
			Expect(err).NotTo(HaveOccurred())

			names := entryNames(entries)
			Expect(names).To(Equal([]string{".", ".."}))
		})

		It("should create and list files", func() {
			Expect(volume.CreateFile("/f")).To(Succeed())

			entries, err := volume.ReadDir("/")
			Expect(err).NotTo(HaveOccurred())
			Expect(entryNames(entries)).To(Equal([]string{".", "..", "f"}))
		})

		It("should reject duplicate names", func() {
			Expect(volume.CreateFile("/f")).To(Succeed())
			Expect(volume.CreateFile("/f")).To(MatchError(fs.ErrAlreadyExists))

			Expect(volume.CreateDirectory("/d")).To(Succeed())
			Expect(volume.CreateDirectory("/d")).
				To(MatchError(fs.ErrAlreadyExists))
		})

		It("should resolve nested directories", func() {
			Expect(volume.CreateDirectory("/a")).To(Succeed())
			Expect(volume.CreateDirectory("/a/b")).To(Succeed())
			Expect(volume.CreateFile("/a/b/f")).To(Succeed())

			entries, err := volume.ReadDir("/a/b")
			Expect(err).NotTo(HaveOccurred())
			Expect(entryNames(entries)).To(Equal([]string{".", "..", "f"}))
		})

		It("should change the working directory", func() {
			Expect(volume.CreateDirectory("/a")).To(Succeed())
			Expect(volume.ChangeDirectory("a")).To(Succeed())
			Expect(volume.CurrentDir()).To(Equal("/a"))

			Expect(volume.CreateFile("f")).To(Succeed())

			entries, err := volume.ReadDir("/a")
			Expect(err).NotTo(HaveOccurred())
			Expect(entryNames(entries)).To(Equal([]string{".", "..", "f"}))

			Expect(volume.ChangeDirectory("..")).To(Succeed())
			Expect(volume.CurrentDir()).To(Equal("/"))
		})

		It("should refuse to cd into a file", func() {
			Expect(volume.CreateFile("/f")).To(Succeed())
			Expect(volume.ChangeDirectory("/f")).
				To(MatchError(fs.ErrNotADirectory))
		})

		It("should fail lookups of absent paths", func() {
			_, err := volume.OpenFile("/missing")
			Expect(err).To(MatchError(fs.ErrNoSuchPath))
		})

		It("should refuse to open a directory", func() {
			Expect(volume.CreateDirectory("/d")).To(Succeed())

			_, err := volume.OpenFile("/d")
			Expect(err).To(MatchError(fs.ErrNotARegular))
		})

		It("should round-trip file contents", func() {
			Expect(volume.CreateFile("/f")).To(Succeed())

			fd, err := volume.OpenFile("/f")
			Expect(err).NotTo(HaveOccurred())

			payload := []byte("hello, tinix")
			n, err := volume.WriteFile(fd, payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(len(payload)))

			Expect(volume.CloseFile(fd)).To(Succeed())

			fd, err = volume.OpenFile("/f")
			Expect(err).NotTo(HaveOccurred())

			buf := make([]byte, len(payload))
			n, err = volume.ReadFile(fd, buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(len(payload)))
			Expect(buf).To(Equal(payload))

			// Offset is at EOF now.
			n, err = volume.ReadFile(fd, buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			Expect(volume.CloseFile(fd)).To(Succeed())
		})

		It("should span multiple data blocks", func() {
			Expect(volume.CreateFile("/f")).To(Succeed())

			fd, err := volume.OpenFile("/f")
			Expect(err).NotTo(HaveOccurred())

			payload := bytes.Repeat([]byte{0x5A}, fs.BlockSize+100)
			n, err := volume.WriteFile(fd, payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(len(payload)))
			volume.CloseFile(fd)

			fd, _ = volume.OpenFile("/f")
			buf := make([]byte, len(payload))
			n, err = volume.ReadFile(fd, buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(len(payload)))
			Expect(buf).To(Equal(payload))
			volume.CloseFile(fd)
		})

		It("should cut writes at the direct-block limit", func() {
			Expect(volume.CreateFile("/f")).To(Succeed())

			fd, err := volume.OpenFile("/f")
			Expect(err).NotTo(HaveOccurred())

			payload := make([]byte, fs.MaxFileSize+1)
			n, err := volume.WriteFile(fd, payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(fs.MaxFileSize))
			volume.CloseFile(fd)

			entries, _ := volume.ReadDir("/")
			Expect(entrySize(entries, "f")).To(Equal(uint32(fs.MaxFileSize)))
		})

		It("should reclaim inode and blocks on remove", func() {
			before := volume.SuperBlockInfo()

			Expect(volume.CreateFile("/f")).To(Succeed())
			fd, _ := volume.OpenFile("/f")
			_, err := volume.WriteFile(fd, make([]byte, 2*fs.BlockSize))
			Expect(err).NotTo(HaveOccurred())
			volume.CloseFile(fd)

			Expect(volume.RemoveFile("/f")).To(Succeed())

			after := volume.SuperBlockInfo()
			Expect(after.FreeInodes).To(Equal(before.FreeInodes))
			Expect(after.FreeBlocks).To(Equal(before.FreeBlocks))

			_, err = volume.OpenFile("/f")
			Expect(err).To(MatchError(fs.ErrNoSuchPath))
		})

		It("should reject bad descriptors", func() {
			_, err := volume.ReadFile(42, make([]byte, 1))
			Expect(err).To(MatchError(fs.ErrBadDescriptor))

			_, err = volume.WriteFile(42, make([]byte, 1))
			Expect(err).To(MatchError(fs.ErrBadDescriptor))

			Expect(volume.CloseFile(42)).To(MatchError(fs.ErrBadDescriptor))
		})

		It("should survive a remount byte-identically", func() {
			Expect(volume.CreateDirectory("/a")).To(Succeed())
			Expect(volume.CreateFile("/a/f")).To(Succeed())

			fd, _ := volume.OpenFile("/a/f")
			payload := []byte("durable")
			_, err := volume.WriteFile(fd, payload)
			Expect(err).NotTo(HaveOccurred())
			volume.CloseFile(fd)

			// A fresh FileSystem over the same device sees the same
			// tree and contents.
			remounted := fs.NewFileSystem(disk)
			Expect(remounted.Mount()).To(Succeed())

			entries, err := remounted.ReadDir("/a")
			Expect(err).NotTo(HaveOccurred())
			Expect(entryNames(entries)).To(Equal([]string{".", "..", "f"}))

			fd, err = remounted.OpenFile("/a/f")
			Expect(err).NotTo(HaveOccurred())

			buf := make([]byte, len(payload))
			n, err := remounted.ReadFile(fd, buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(len(payload)))
			Expect(buf).To(Equal(payload))
			remounted.CloseFile(fd)
		})
	})
})

func entryNames(entries []fs.EntryInfo) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

func entrySize(entries []fs.EntryInfo, name string) uint32 {
	for _, e := range entries {
		if e.Name == name {
			return e.Size
		}
	}
	return 0
}
