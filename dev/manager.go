// Package dev implements the simulated device table: every device id
// has a single current holder and a FIFO queue of waiting processes.
package dev

import (
	"log"
	"os"
	"sort"
)

// NoOwner marks a device without a holder and a release with no
// successor.
const NoOwner = -1

type device struct {
	holder  int
	waiters []int
}

// A Manager tracks device ownership. Devices come into existence on
// first request.
type Manager struct {
	devices map[int]*device

	logger *log.Logger
}

// NewManager creates an empty device table.
func NewManager() *Manager {
	return &Manager{
		devices: make(map[int]*device),
		logger:  log.New(os.Stderr, "[Dev] ", 0),
	}
}

func (m *Manager) deviceOf(id int) *device {
	d, ok := m.devices[id]
	if !ok {
		d = &device{holder: NoOwner}
		m.devices[id] = d
	}
	return d
}

// Request tries to acquire the device for the pid. It returns true
// when the pid becomes (or already is) the holder; otherwise the pid
// is appended to the waiter queue, at most once, and false is
// returned.
func (m *Manager) Request(pid, devID int) bool {
	d := m.deviceOf(devID)

	if d.holder == NoOwner || d.holder == pid {
		d.holder = pid
		m.logger.Printf("Device %d acquired by PID %d", devID, pid)
		return true
	}

	for _, waiter := range d.waiters {
		if waiter == pid {
			return false
		}
	}

	d.waiters = append(d.waiters, pid)
	m.logger.Printf("PID %d waiting for device %d (held by PID %d)",
		pid, devID, d.holder)

	return false
}

// Release gives up the device. When the pid is the holder, the head
// waiter (if any) becomes the new holder and its pid is returned;
// with no waiters the device becomes free and NoOwner is returned.
// When the pid is not the holder, it is only removed from the waiter
// queue.
func (m *Manager) Release(pid, devID int) int {
	d := m.deviceOf(devID)

	if d.holder != pid {
		m.removeWaiter(d, pid)
		return NoOwner
	}

	if len(d.waiters) == 0 {
		d.holder = NoOwner
		m.logger.Printf("Device %d released by PID %d", devID, pid)
		return NoOwner
	}

	next := d.waiters[0]
	d.waiters = d.waiters[1:]
	d.holder = next

	m.logger.Printf("Device %d handed off from PID %d to PID %d",
		devID, pid, next)

	return next
}

// Handoff pairs a released device with the waiter that inherited it.
type Handoff struct {
	Device    int
	NextOwner int
}

// ReleaseAll releases every device the pid holds or waits on and
// returns the resulting hand-offs in device order.
func (m *Manager) ReleaseAll(pid int) []Handoff {
	ids := make([]int, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var handoffs []Handoff
	for _, id := range ids {
		d := m.devices[id]
		if d.holder != pid && !m.isWaiter(d, pid) {
			continue
		}

		next := m.Release(pid, id)
		handoffs = append(handoffs, Handoff{Device: id, NextOwner: next})
	}

	return handoffs
}

// CancelWait drops the pid from every waiter queue.
func (m *Manager) CancelWait(pid int) {
	for _, d := range m.devices {
		m.removeWaiter(d, pid)
	}
}

// HolderOf returns the current holder of the device, or NoOwner.
func (m *Manager) HolderOf(devID int) int {
	if d, ok := m.devices[devID]; ok {
		return d.holder
	}
	return NoOwner
}

// WaitersOf returns a copy of the waiter queue of the device.
func (m *Manager) WaitersOf(devID int) []int {
	d, ok := m.devices[devID]
	if !ok {
		return nil
	}
	waiters := make([]int, len(d.waiters))
	copy(waiters, d.waiters)
	return waiters
}

// HoldsOrWaits reports whether the pid holds or waits on any device.
func (m *Manager) HoldsOrWaits(pid int) bool {
	for _, d := range m.devices {
		if d.holder == pid || m.isWaiter(d, pid) {
			return true
		}
	}
	return false
}

// Name returns the name of the component for monitoring.
func (m *Manager) Name() string {
	return "DeviceManager"
}

func (m *Manager) isWaiter(d *device, pid int) bool {
	for _, waiter := range d.waiters {
		if waiter == pid {
			return true
		}
	}
	return false
}

func (m *Manager) removeWaiter(d *device, pid int) {
	kept := d.waiters[:0]
	for _, waiter := range d.waiters {
		if waiter != pid {
			kept = append(kept, waiter)
		}
	}
	d.waiters = kept
}
