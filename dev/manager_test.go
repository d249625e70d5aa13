package dev

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Manager", func() {
	var manager *Manager

	BeforeEach(func() {
		manager = NewManager()
	})

	It("should grant an unheld device", func() {
		Expect(manager.Request(1, 0)).To(BeTrue())
		Expect(manager.HolderOf(0)).To(Equal(1))
	})

	It("should be idempotent for the holder", func() {
		manager.Request(1, 0)

		Expect(manager.Request(1, 0)).To(BeTrue())
		Expect(manager.WaitersOf(0)).To(BeEmpty())
	})

	It("should queue contenders in FIFO order", func() {
		manager.Request(1, 0)

		Expect(manager.Request(2, 0)).To(BeFalse())
		Expect(manager.Request(3, 0)).To(BeFalse())
		Expect(manager.WaitersOf(0)).To(Equal([]int{2, 3}))
	})

	It("should never queue the same pid twice", func() {
		manager.Request(1, 0)
		manager.Request(2, 0)
		manager.Request(2, 0)

		Expect(manager.WaitersOf(0)).To(Equal([]int{2}))
	})

	It("should hand the device to the head waiter on release", func() {
		manager.Request(1, 0)
		manager.Request(2, 0)
		manager.Request(3, 0)

		next := manager.Release(1, 0)

		Expect(next).To(Equal(2))
		Expect(manager.HolderOf(0)).To(Equal(2))
		Expect(manager.WaitersOf(0)).To(Equal([]int{3}))
	})

	It("should free the device when nobody waits", func() {
		manager.Request(1, 0)

		next := manager.Release(1, 0)

		Expect(next).To(Equal(NoOwner))
		Expect(manager.HolderOf(0)).To(Equal(NoOwner))
	})

	It("should only dequeue a non-holder on release", func() {
		manager.Request(1, 0)
		manager.Request(2, 0)

		next := manager.Release(2, 0)

		Expect(next).To(Equal(NoOwner))
		Expect(manager.HolderOf(0)).To(Equal(1))
		Expect(manager.WaitersOf(0)).To(BeEmpty())
	})

	It("should release everything a pid holds or waits on", func() {
		manager.Request(1, 0)
		manager.Request(1, 1)
		manager.Request(2, 1)
		manager.Request(2, 2)
		manager.Request(1, 2)

		handoffs := manager.ReleaseAll(1)

		Expect(handoffs).To(Equal([]Handoff{
			{Device: 0, NextOwner: NoOwner},
			{Device: 1, NextOwner: 2},
			{Device: 2, NextOwner: NoOwner},
		}))
		Expect(manager.HoldsOrWaits(1)).To(BeFalse())
		Expect(manager.HolderOf(1)).To(Equal(2))
		Expect(manager.HolderOf(2)).To(Equal(2))
	})

	It("should cancel every wait of a pid", func() {
		manager.Request(1, 0)
		manager.Request(1, 1)
		manager.Request(2, 0)
		manager.Request(2, 1)

		manager.CancelWait(2)

		Expect(manager.WaitersOf(0)).To(BeEmpty())
		Expect(manager.WaitersOf(1)).To(BeEmpty())
		Expect(manager.HoldsOrWaits(2)).To(BeFalse())
	})
})
