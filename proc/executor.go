package proc

import (
	"github.com/FanTuani/tinix/dev"
	"github.com/FanTuani/tinix/vm"
)

func clampTransfer(size uint64) int {
	if size > maxTransferSize {
		return maxTransferSize
	}
	return int(size)
}

// execute runs one instruction on behalf of the process. Opcode-level
// failures are logged and the process proceeds; the only failure that
// blocks it is a DevRequest for a device another process holds. Sleep
// blocks it by design.
func (m *Manager) execute(pcb *PCB, inst Instruction) {
	switch inst.Op {
	case OpCompute:
		m.execLogger.Printf("PID=%d Compute", pcb.PID)

	case OpMemRead:
		m.execLogger.Printf("PID=%d MemRead addr=0x%x", pcb.PID, inst.Arg1)
		m.memory.AccessMemory(pcb.PID, inst.Arg1, vm.AccessRead)

	case OpMemWrite:
		m.execLogger.Printf("PID=%d MemWrite addr=0x%x", pcb.PID, inst.Arg1)
		m.memory.AccessMemory(pcb.PID, inst.Arg1, vm.AccessWrite)

	case OpFileOpen:
		m.execFileOpen(pcb, inst)

	case OpFileClose:
		m.execFileClose(pcb, int(inst.Arg1))

	case OpFileRead:
		m.execFileRead(pcb, int(inst.Arg1), clampTransfer(inst.Arg2))

	case OpFileWrite:
		m.execFileWrite(pcb, int(inst.Arg1), clampTransfer(inst.Arg2))

	case OpDevRequest:
		m.execDevRequest(pcb, int(inst.Arg1))

	case OpDevRelease:
		m.execDevRelease(pcb, int(inst.Arg1))

	case OpSleep:
		m.execLogger.Printf("PID=%d Sleep %d", pcb.PID, inst.Arg1)
		pcb.State = StateBlocked
		pcb.BlockedReason = BlockSleep
		pcb.BlockedTime = int(inst.Arg1)
	}
}

// execFileOpen binds a logical fd to a freshly-opened global
// descriptor. A failed open leaves the map unchanged.
func (m *Manager) execFileOpen(pcb *PCB, inst Instruction) {
	m.execLogger.Printf("PID=%d FileOpen file=%s", pcb.PID, inst.Str)

	logicalFD := int(inst.Arg1)
	if logicalFD != 0 {
		if logicalFD < 3 {
			m.execLogger.Printf("PID=%d invalid logical fd %d (must be >= 3)",
				pcb.PID, logicalFD)
			return
		}
		if _, used := pcb.FDMap[logicalFD]; used {
			m.execLogger.Printf("PID=%d logical fd %d already in use",
				pcb.PID, logicalFD)
			return
		}
	} else {
		logicalFD = m.allocScriptFD(pcb)
	}

	globalFD, err := m.files.OpenFile(inst.Str)
	if err != nil {
		m.execLogger.Printf("PID=%d open %s failed: %v",
			pcb.PID, inst.Str, err)
		return
	}

	pcb.FDMap[logicalFD] = globalFD
	m.execLogger.Printf("PID=%d bound logical fd %d -> global fd %d",
		pcb.PID, logicalFD, globalFD)
}

// allocScriptFD returns the lowest unused logical fd at or above the
// process's script-fd floor.
func (m *Manager) allocScriptFD(pcb *PCB) int {
	fd := pcb.NextScriptFD
	for {
		if _, used := pcb.FDMap[fd]; !used {
			return fd
		}
		fd++
	}
}

func (m *Manager) execFileClose(pcb *PCB, logicalFD int) {
	m.execLogger.Printf("PID=%d FileClose fd=%d", pcb.PID, logicalFD)

	globalFD, ok := pcb.FDMap[logicalFD]
	if !ok {
		m.execLogger.Printf("PID=%d unknown logical fd %d",
			pcb.PID, logicalFD)
		return
	}

	if err := m.files.CloseFile(globalFD); err != nil {
		m.execLogger.Printf("PID=%d close fd %d: %v",
			pcb.PID, logicalFD, err)
	}

	delete(pcb.FDMap, logicalFD)
}

func (m *Manager) execFileRead(pcb *PCB, logicalFD, size int) {
	m.execLogger.Printf("PID=%d FileRead fd=%d size=%d",
		pcb.PID, logicalFD, size)

	globalFD, ok := pcb.FDMap[logicalFD]
	if !ok {
		m.execLogger.Printf("PID=%d unknown logical fd %d",
			pcb.PID, logicalFD)
		return
	}

	buf := make([]byte, size)
	n, err := m.files.ReadFile(globalFD, buf)
	if err != nil {
		m.execLogger.Printf("PID=%d read fd %d: %v", pcb.PID, logicalFD, err)
		return
	}

	m.execLogger.Printf("PID=%d read %d bytes from fd %d",
		pcb.PID, n, logicalFD)
}

func (m *Manager) execFileWrite(pcb *PCB, logicalFD, size int) {
	m.execLogger.Printf("PID=%d FileWrite fd=%d size=%d",
		pcb.PID, logicalFD, size)

	globalFD, ok := pcb.FDMap[logicalFD]
	if !ok {
		m.execLogger.Printf("PID=%d unknown logical fd %d",
			pcb.PID, logicalFD)
		return
	}

	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 'x'
	}

	n, err := m.files.WriteFile(globalFD, buf)
	if err != nil {
		m.execLogger.Printf("PID=%d write fd %d: %v", pcb.PID, logicalFD, err)
		return
	}

	m.execLogger.Printf("PID=%d wrote %d bytes to fd %d",
		pcb.PID, n, logicalFD)
}

func (m *Manager) execDevRequest(pcb *PCB, devID int) {
	m.execLogger.Printf("PID=%d DevRequest dev=%d", pcb.PID, devID)

	if m.devices.Request(pcb.PID, devID) {
		return
	}

	pcb.State = StateBlocked
	pcb.BlockedReason = BlockDevice
	pcb.WaitingDevice = devID
}

func (m *Manager) execDevRelease(pcb *PCB, devID int) {
	m.execLogger.Printf("PID=%d DevRelease dev=%d", pcb.PID, devID)

	next := m.devices.Release(pcb.PID, devID)
	if next != dev.NoOwner {
		m.wakeDeviceSuccessor(devID, next)
	}
}

// wakeDeviceSuccessor makes the waiter that inherited the device
// Ready. Stale waiters give the device up in turn until a live one is
// found or no successor remains.
func (m *Manager) wakeDeviceSuccessor(devID, pid int) {
	for pid != dev.NoOwner {
		pcb, ok := m.processes[pid]
		if ok && pcb.State == StateBlocked &&
			pcb.BlockedReason == BlockDevice &&
			pcb.WaitingDevice == devID {
			pcb.State = StateReady
			pcb.BlockedReason = BlockNone
			pcb.WaitingDevice = NoDevice
			m.readyQueue = append(m.readyQueue, pid)
			m.tickLogger.Printf("Process %d granted device %d", pid, devID)
			return
		}

		pid = m.devices.Release(pid, devID)
	}
}
