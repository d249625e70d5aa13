package vm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Manager", func() {
	var (
		mockCtrl *gomock.Controller
		disk     *MockDevice
		manager  *Manager
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		disk = NewMockDevice(mockCtrl)

		manager = MakeBuilder().
			WithDevice(disk).
			WithNumFrames(2).
			WithSwapRange(896, 1024).
			Build()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should create and free process memory", func() {
		manager.CreateProcessMemory(1, 4)

		Expect(manager.HasProcessMemory(1)).To(BeTrue())
		Expect(manager.PageTableOf(1).Size()).To(Equal(4))

		manager.FreeProcessMemory(1)

		Expect(manager.HasProcessMemory(1)).To(BeFalse())
	})

	It("should reject an out-of-range address", func() {
		manager.CreateProcessMemory(1, 4)

		ok := manager.AccessMemory(1, 4*PageSize, AccessRead)

		Expect(ok).To(BeFalse())
		Expect(manager.Stats().PageFaults).To(BeZero())
	})

	It("should fault pages in and label frames", func() {
		manager.CreateProcessMemory(1, 4)

		Expect(manager.AccessMemory(1, 0x0, AccessRead)).To(BeTrue())
		Expect(manager.AccessMemory(1, 0x1000, AccessRead)).To(BeTrue())

		Expect(manager.Stats().PageFaults).To(Equal(uint64(2)))
		Expect(manager.Stats().MemoryAccesses).To(Equal(uint64(2)))

		Expect(manager.Frames().Frame(0)).To(Equal(FrameInfo{
			Allocated:  true,
			OwnerPID:   1,
			PageNumber: 0,
		}))
		Expect(manager.Frames().Frame(1)).To(Equal(FrameInfo{
			Allocated:  true,
			OwnerPID:   1,
			PageNumber: 1,
		}))
	})

	It("should not fault on a present page", func() {
		manager.CreateProcessMemory(1, 4)

		manager.AccessMemory(1, 0x0, AccessRead)
		manager.AccessMemory(1, 0x10, AccessRead)

		Expect(manager.Stats().MemoryAccesses).To(Equal(uint64(2)))
		Expect(manager.Stats().PageFaults).To(Equal(uint64(1)))
	})

	Context("clock replacement", func() {
		BeforeEach(func() {
			manager.CreateProcessMemory(1, 3)
		})

		It("should evict a clean page without touching the disk", func() {
			manager.AccessMemory(1, 0x0, AccessRead)
			manager.AccessMemory(1, 0x1000, AccessRead)
			manager.AccessMemory(1, 0x2000, AccessRead)

			pt := manager.PageTableOf(1)

			Expect(pt.Entry(0).Present).To(BeFalse())
			Expect(pt.Entry(0).OnDisk).To(BeFalse())

			Expect(pt.Entry(2).Present).To(BeTrue())
			Expect(pt.Entry(2).FrameNumber).To(Equal(0))
			Expect(pt.Entry(1).Present).To(BeTrue())
			Expect(pt.Entry(1).FrameNumber).To(Equal(1))

			Expect(manager.Stats().PageFaults).To(Equal(uint64(3)))
		})

		It("should swap out a dirty victim", func() {
			disk.EXPECT().
				WriteBlock(896, gomock.Any()).
				Return(nil)

			manager.AccessMemory(1, 0x0, AccessWrite)
			manager.AccessMemory(1, 0x1000, AccessRead)
			manager.AccessMemory(1, 0x2000, AccessRead)

			entry := manager.PageTableOf(1).Entry(0)

			Expect(entry.Present).To(BeFalse())
			Expect(entry.OnDisk).To(BeTrue())
			Expect(entry.SwapBlock).To(Equal(896))
		})

		It("should swap the page back in on the next access", func() {
			disk.EXPECT().
				WriteBlock(896, gomock.Any()).
				Return(nil).
				AnyTimes()
			disk.EXPECT().
				ReadBlock(896, gomock.Any()).
				Return(nil)

			manager.AccessMemory(1, 0x0, AccessWrite)
			manager.AccessMemory(1, 0x1000, AccessRead)
			manager.AccessMemory(1, 0x2000, AccessRead)

			Expect(manager.AccessMemory(1, 0x0, AccessRead)).To(BeTrue())
			Expect(manager.PageTableOf(1).Entry(0).Present).To(BeTrue())
		})

		It("should reuse the committed swap block on re-eviction", func() {
			disk.EXPECT().
				WriteBlock(896, gomock.Any()).
				Return(nil).
				Times(2)
			disk.EXPECT().
				ReadBlock(896, gomock.Any()).
				Return(nil).
				AnyTimes()

			// First round: dirty vpage 0 is evicted to block 896.
			manager.AccessMemory(1, 0x0, AccessWrite)
			manager.AccessMemory(1, 0x1000, AccessRead)
			manager.AccessMemory(1, 0x2000, AccessRead)

			// Bring it back dirty and force a second eviction.
			manager.AccessMemory(1, 0x0, AccessWrite)
			manager.AccessMemory(1, 0x1000, AccessRead)
			manager.AccessMemory(1, 0x2000, AccessRead)

			entry := manager.PageTableOf(1).Entry(0)
			Expect(entry.SwapBlock).To(Equal(896))
		})

		It("should give referenced frames a second chance", func() {
			manager.AccessMemory(1, 0x0, AccessRead)
			manager.AccessMemory(1, 0x1000, AccessRead)

			// Both frames referenced: one full sweep clears them,
			// then frame 0 (vpage 0) is evicted.
			manager.AccessMemory(1, 0x2000, AccessRead)

			pt := manager.PageTableOf(1)
			Expect(pt.Entry(0).Present).To(BeFalse())
			Expect(pt.Entry(1).Present).To(BeTrue())
			Expect(pt.Entry(1).Referenced).To(BeFalse())
		})

		It("should fail the fault when swap is exhausted", func() {
			manager = MakeBuilder().
				WithDevice(disk).
				WithNumFrames(2).
				WithSwapRange(896, 896).
				Build()
			manager.CreateProcessMemory(1, 3)

			manager.AccessMemory(1, 0x0, AccessWrite)
			manager.AccessMemory(1, 0x1000, AccessWrite)

			ok := manager.AccessMemory(1, 0x2000, AccessRead)

			Expect(ok).To(BeFalse())
		})
	})

	It("should track per-process stats and reset them", func() {
		manager.CreateProcessMemory(1, 4)
		manager.CreateProcessMemory(2, 4)

		manager.AccessMemory(1, 0x0, AccessRead)
		manager.AccessMemory(2, 0x0, AccessRead)
		manager.AccessMemory(2, 0x0, AccessRead)

		Expect(manager.ProcessStats(1).MemoryAccesses).To(Equal(uint64(1)))
		Expect(manager.ProcessStats(2).MemoryAccesses).To(Equal(uint64(2)))
		Expect(manager.ProcessStats(2).PageFaults).To(Equal(uint64(1)))
		Expect(manager.ProcessStats(3)).To(Equal(Stats{}))

		manager.ResetStats()

		Expect(manager.Stats()).To(Equal(Stats{}))
		Expect(manager.ProcessStats(1)).To(Equal(Stats{}))
	})

	It("should free the frames of a terminated process only", func() {
		manager.CreateProcessMemory(1, 4)
		manager.CreateProcessMemory(2, 4)

		manager.AccessMemory(1, 0x0, AccessRead)
		manager.AccessMemory(2, 0x0, AccessRead)

		manager.FreeProcessMemory(1)

		Expect(manager.Frames().Frame(0).Allocated).To(BeFalse())
		Expect(manager.Frames().Frame(1).OwnerPID).To(Equal(2))
		Expect(manager.Frames().NumFree()).To(Equal(1))
	})
})
