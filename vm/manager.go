// Package vm implements the virtual-memory subsystem of the
// simulator: per-process page tables, the shared physical frame pool,
// the swap allocator, and the Clock page-replacement algorithm.
package vm

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/FanTuani/tinix/blockdev"
)

// Defaults of the memory subsystem.
const (
	PageSize            = 0x1000
	DefaultFrames       = 8
	DefaultVirtualPages = 256

	SwapReservedBlocks = 128
	DefaultSwapStart   = blockdev.DefaultNumBlocks - SwapReservedBlocks
)

// AccessType distinguishes read and write memory accesses.
type AccessType int

// The two access types.
const (
	AccessRead AccessType = iota
	AccessWrite
)

func (t AccessType) String() string {
	if t == AccessWrite {
		return "Write"
	}
	return "Read"
}

// Stats counts memory accesses and page faults.
type Stats struct {
	MemoryAccesses uint64
	PageFaults     uint64
}

// FaultTrace is one page-fault record for the data recorder.
type FaultTrace struct {
	PID     int
	VPage   int
	Frame   int
	Evicted bool
}

// A Tracer receives page-fault records. It is implemented by
// datarecording.DataRecorder.
type Tracer interface {
	InsertData(tableName string, entry any)
}

// FaultTraceTable is the recorder table the Manager inserts
// FaultTrace entries into.
const FaultTraceTable = "page_fault_trace"

// A Manager owns one page table per live process, the frame pool, the
// swap allocator, and the Clock hand. It services address translation
// and page faults.
type Manager struct {
	disk   blockdev.Device
	frames *FrameTable
	swap   *SwapAllocator

	pageTables   map[int]*PageTable
	processStats map[int]*Stats
	stats        Stats

	pageSize  int
	clockHand int

	tracer Tracer

	memLogger   *log.Logger
	faultLogger *log.Logger
	swapLogger  *log.Logger
	evictLogger *log.Logger
}

// Builder builds memory managers.
type Builder struct {
	disk      blockdev.Device
	numFrames int
	pageSize  int
	swapStart int
	swapEnd   int
	tracer    Tracer
}

// MakeBuilder returns a Builder with the default geometry.
func MakeBuilder() Builder {
	return Builder{
		numFrames: DefaultFrames,
		pageSize:  PageSize,
		swapStart: DefaultSwapStart,
		swapEnd:   blockdev.DefaultNumBlocks,
	}
}

// WithDevice sets the block device that backs the swap area.
func (b Builder) WithDevice(d blockdev.Device) Builder {
	b.disk = d
	return b
}

// WithNumFrames sets the size of the physical frame pool.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithPageSize sets the page size in bytes.
func (b Builder) WithPageSize(size int) Builder {
	b.pageSize = size
	return b
}

// WithSwapRange sets the block range [start, end) reserved for swap.
func (b Builder) WithSwapRange(start, end int) Builder {
	b.swapStart = start
	b.swapEnd = end
	return b
}

// WithTracer sets the recorder that receives page-fault records.
func (b Builder) WithTracer(t Tracer) Builder {
	b.tracer = t
	return b
}

// Build constructs the Manager.
func (b Builder) Build() *Manager {
	m := &Manager{
		disk:         b.disk,
		frames:       NewFrameTable(b.numFrames),
		swap:         NewSwapAllocator(b.swapStart, b.swapEnd),
		pageTables:   make(map[int]*PageTable),
		processStats: make(map[int]*Stats),
		pageSize:     b.pageSize,
		tracer:       b.tracer,
		memLogger:    log.New(os.Stderr, "[Memory] ", 0),
		faultLogger:  log.New(os.Stderr, "[PageFault] ", 0),
		swapLogger:   log.New(os.Stderr, "[Swap] ", 0),
		evictLogger:  log.New(os.Stderr, "[Evict] ", 0),
	}

	return m
}

// CreateProcessMemory allocates the address space of a new process:
// a page table of numPages absent entries and a zeroed stats record.
func (m *Manager) CreateProcessMemory(pid, numPages int) {
	m.pageTables[pid] = NewPageTable(numPages)
	m.processStats[pid] = &Stats{}

	m.memLogger.Printf("Created page table for PID %d (%d pages)",
		pid, numPages)
}

// FreeProcessMemory releases every frame the process holds and drops
// its page table and stats.
func (m *Manager) FreeProcessMemory(pid int) {
	pt, ok := m.pageTables[pid]
	if !ok {
		panic(fmt.Sprintf("no page table for PID %d", pid))
	}

	for i := 0; i < pt.Size(); i++ {
		entry := pt.Entry(i)
		if entry.Present {
			m.frames.Free(entry.FrameNumber)
		}
	}

	delete(m.pageTables, pid)
	delete(m.processStats, pid)

	m.memLogger.Printf("Freed memory for PID %d", pid)
}

// HasProcessMemory reports whether the pid has a page table.
func (m *Manager) HasProcessMemory(pid int) bool {
	_, ok := m.pageTables[pid]
	return ok
}

// AccessMemory translates a virtual address for the process, handling
// a page fault if the page is absent. It returns false on an
// out-of-range address or an unserviceable fault.
func (m *Manager) AccessMemory(
	pid int,
	virtualAddr uint64,
	accessType AccessType,
) bool {
	pt, ok := m.pageTables[pid]
	if !ok {
		panic(fmt.Sprintf("no page table for PID %d", pid))
	}

	pageNum := int(virtualAddr / uint64(m.pageSize))
	offset := virtualAddr % uint64(m.pageSize)

	if pageNum >= pt.Size() {
		m.memLogger.Printf("Invalid address: page %d out of range",
			pageNum)
		return false
	}

	m.stats.MemoryAccesses++
	m.processStats[pid].MemoryAccesses++

	entry := pt.Entry(pageNum)

	if !entry.Present {
		m.stats.PageFaults++
		m.processStats[pid].PageFaults++

		m.faultLogger.Printf("PID=%d, VPage=%d, VAddr=0x%x",
			pid, pageNum, virtualAddr)

		if !m.handlePageFault(pid, pageNum, accessType) {
			return false
		}
	}

	entry.Referenced = true
	if accessType == AccessWrite {
		entry.Dirty = true
	}

	physicalAddr := uint64(entry.FrameNumber)*uint64(m.pageSize) + offset

	m.memLogger.Printf("PID=%d, VAddr=0x%x -> PAddr=0x%x, Frame=%d",
		pid, virtualAddr, physicalAddr, entry.FrameNumber)

	return true
}

// handlePageFault brings the faulting page into a frame, evicting a
// victim with the Clock algorithm when the pool is full. It returns
// false when a dirty victim cannot be written out because the swap
// area is exhausted.
func (m *Manager) handlePageFault(
	pid, pageNum int,
	accessType AccessType,
) bool {
	entry := m.pageTables[pid].Entry(pageNum)

	if entry.OnDisk {
		m.swapLogger.Printf("Reading PID=%d VPage=%d from Disk Block %d",
			pid, pageNum, entry.SwapBlock)

		// The payload is not modelled; the read only validates the
		// I/O path.
		scratch := make([]byte, m.pageSize)
		if err := m.disk.ReadBlock(entry.SwapBlock, scratch); err != nil {
			m.swapLogger.Printf("Swap-in failed: %v", err)
			return false
		}
	}

	evicted := false
	frameNum, ok := m.frames.Allocate(pid, pageNum)
	if !ok {
		frameNum, ok = m.evictVictim(pid, pageNum)
		if !ok {
			return false
		}
		evicted = true
	}

	entry.Present = true
	entry.FrameNumber = frameNum
	entry.Referenced = true
	entry.Dirty = accessType == AccessWrite

	m.faultLogger.Printf("Allocated Frame %d for PID=%d, VPage=%d",
		frameNum, pid, pageNum)

	if m.tracer != nil {
		m.tracer.InsertData(FaultTraceTable, FaultTrace{
			PID:     pid,
			VPage:   pageNum,
			Frame:   frameNum,
			Evicted: evicted,
		})
	}

	return true
}

// evictVictim runs the Clock sweep: referenced frames get a second
// chance, the first unreferenced frame is evicted and reassigned to
// (pid, pageNum).
func (m *Manager) evictVictim(pid, pageNum int) (int, bool) {
	totalFrames := m.frames.NumFrames()

	for {
		frameInfo := m.frames.Frame(m.clockHand)

		if !frameInfo.Allocated {
			panic("clock hand points to a free frame")
		}

		victimPID := frameInfo.OwnerPID
		victimVPage := frameInfo.PageNumber

		victimTable, ok := m.pageTables[victimPID]
		if !ok {
			panic(fmt.Sprintf("no page table for victim PID %d",
				victimPID))
		}

		victim := victimTable.Entry(victimVPage)

		if victim.Referenced {
			victim.Referenced = false
			m.clockHand = (m.clockHand + 1) % totalFrames
			continue
		}

		m.evictLogger.Printf("Replacing Frame %d from PID=%d, VPage=%d",
			m.clockHand, victimPID, victimVPage)

		if victim.Dirty {
			if !m.writeBack(victimPID, victimVPage, victim) {
				return 0, false
			}
		}

		victim.Clear()

		frameNum := m.clockHand
		m.frames.Assign(frameNum, pid, pageNum)
		m.clockHand = (m.clockHand + 1) % totalFrames

		return frameNum, true
	}
}

// writeBack commits a dirty victim page to its swap block, allocating
// one on first eviction.
func (m *Manager) writeBack(
	victimPID, victimVPage int,
	victim *PageTableEntry,
) bool {
	if !victim.OnDisk {
		block, ok := m.swap.Allocate()
		if !ok {
			m.swapLogger.Print("Out of swap blocks")
			return false
		}
		victim.SwapBlock = block
		victim.OnDisk = true
	}

	m.swapLogger.Printf("Writing PID=%d VPage=%d to Disk Block %d",
		victimPID, victimVPage, victim.SwapBlock)

	// 0xAA marks simulated page payload on disk.
	payload := make([]byte, m.pageSize)
	for i := range payload {
		payload[i] = 0xAA
	}

	if err := m.disk.WriteBlock(victim.SwapBlock, payload); err != nil {
		m.swapLogger.Printf("Swap-out failed: %v", err)
		return false
	}

	return true
}

// PageTableOf returns the page table of the pid, or nil.
func (m *Manager) PageTableOf(pid int) *PageTable {
	return m.pageTables[pid]
}

// Frames returns the shared frame pool.
func (m *Manager) Frames() *FrameTable {
	return m.frames
}

// Stats returns the system-wide access and fault counters.
func (m *Manager) Stats() Stats {
	return m.stats
}

// ProcessStats returns the counters of one process. Unknown pids
// yield zeroed stats.
func (m *Manager) ProcessStats(pid int) Stats {
	if s, ok := m.processStats[pid]; ok {
		return *s
	}
	return Stats{}
}

// ResetStats zeroes the system-wide and per-process counters.
func (m *Manager) ResetStats() {
	m.stats = Stats{}
	for pid := range m.processStats {
		m.processStats[pid] = &Stats{}
	}
}

// Name returns the name of the component for monitoring.
func (m *Manager) Name() string {
	return "MemoryManager"
}

// DumpPageTable renders the page table of the pid on w.
func (m *Manager) DumpPageTable(pid int, w io.Writer) {
	pt, ok := m.pageTables[pid]
	if !ok {
		fmt.Fprintf(w, "PID %d has no page table\n", pid)
		return
	}

	fmt.Fprintf(w, "=== Page Table for PID %d ===\n", pid)
	fmt.Fprintln(w, "VPage | Present | Frame | Dirty | Ref | OnDisk")
	fmt.Fprintln(w, "------|---------|-------|-------|-----|-------")

	for i := 0; i < pt.Size(); i++ {
		entry := pt.Entry(i)
		frame := "  -  "
		if entry.Present {
			frame = fmt.Sprintf("%5d", entry.FrameNumber)
		}
		fmt.Fprintf(w, "%5d |    %s    | %s |   %s   |  %s  |   %s\n",
			i, boolMark(entry.Present), frame, boolMark(entry.Dirty),
			boolMark(entry.Referenced), boolMark(entry.OnDisk))
	}

	stats := m.ProcessStats(pid)
	fmt.Fprintf(w, "\nStats: %d page faults, %d accesses\n",
		stats.PageFaults, stats.MemoryAccesses)
}

// DumpFrames renders the physical frame pool on w.
func (m *Manager) DumpFrames(w io.Writer) {
	fmt.Fprintln(w, "=== Physical Memory ===")
	fmt.Fprintln(w, "Frame | Owner PID | VPage")
	fmt.Fprintln(w, "------|-----------|------")

	for i := 0; i < m.frames.NumFrames(); i++ {
		info := m.frames.Frame(i)
		if info.Allocated {
			fmt.Fprintf(w, "%5d | %9d | %5d\n",
				i, info.OwnerPID, info.PageNumber)
		} else {
			fmt.Fprintf(w, "%5d |     -     |   -\n", i)
		}
	}

	fmt.Fprintf(w, "Used: %d/%d frames, clock hand at %d\n",
		m.frames.NumUsed(), m.frames.NumFrames(), m.clockHand)
}

// LivePIDs lists the pids that currently have page tables, sorted.
func (m *Manager) LivePIDs() []int {
	pids := make([]int, 0, len(m.pageTables))
	for pid := range m.pageTables {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

func boolMark(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
