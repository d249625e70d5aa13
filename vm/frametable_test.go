package vm

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("FrameTable", func() {
	var frames *FrameTable

	BeforeEach(func() {
		frames = NewFrameTable(4)
	})

	It("should allocate the lowest-indexed free frame", func() {
		f0, ok := frames.Allocate(1, 10)
		Expect(ok).To(BeTrue())
		Expect(f0).To(Equal(0))

		f1, ok := frames.Allocate(1, 11)
		Expect(ok).To(BeTrue())
		Expect(f1).To(Equal(1))

		frames.Free(0)

		f2, ok := frames.Allocate(2, 0)
		Expect(ok).To(BeTrue())
		Expect(f2).To(Equal(0))
		Expect(frames.Frame(0).OwnerPID).To(Equal(2))
	})

	It("should fail when every frame is taken", func() {
		for i := 0; i < 4; i++ {
			_, ok := frames.Allocate(1, i)
			Expect(ok).To(BeTrue())
		}

		_, ok := frames.Allocate(1, 4)
		Expect(ok).To(BeFalse())
	})

	It("should overwrite labels on assign", func() {
		frames.Allocate(1, 10)

		frames.Assign(0, 2, 20)

		Expect(frames.Frame(0)).To(Equal(FrameInfo{
			Allocated:  true,
			OwnerPID:   2,
			PageNumber: 20,
		}))
	})

	It("should derive free and used counts", func() {
		frames.Allocate(1, 0)
		frames.Allocate(1, 1)

		Expect(frames.NumUsed()).To(Equal(2))
		Expect(frames.NumFree()).To(Equal(2))

		frames.Free(1)

		Expect(frames.NumUsed()).To(Equal(1))
		Expect(frames.NumFree()).To(Equal(3))
	})
})
