package proc

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/FanTuani/tinix/dev"
	"github.com/FanTuani/tinix/fs"
	"github.com/FanTuani/tinix/vm"
)

// Scheduling defaults.
const (
	DefaultTimeSlice     = 3
	DefaultProgramLength = 10
)

// NoProcess marks an idle CPU.
const NoProcess = -1

// maxTransferSize clamps FileRead/FileWrite instruction sizes.
const maxTransferSize = 1 << 20

// TickTrace is one executed-instruction record for the data recorder.
type TickTrace struct {
	Tick int
	PID  int
	PC   int
	Op   string
}

// A Tracer receives tick records. It is implemented by
// datarecording.DataRecorder.
type Tracer interface {
	InsertData(tableName string, entry any)
}

// TickTraceTable is the recorder table the Manager inserts TickTrace
// entries into.
const TickTraceTable = "tick_trace"

// A Manager owns the process table, the FIFO ready queue, and the
// current-running pointer. It drives the tick loop and executes one
// instruction per tick through the memory, device, and file-system
// subsystems.
type Manager struct {
	memory  *vm.Manager
	devices *dev.Manager
	files   *fs.FileSystem

	processes  map[int]*PCB
	readyQueue []int

	nextPID  int
	nextTick int
	curPID   int

	tracer Tracer

	tickLogger  *log.Logger
	schedLogger *log.Logger
	execLogger  *log.Logger
}

// Builder builds process managers.
type Builder struct {
	memory  *vm.Manager
	devices *dev.Manager
	files   *fs.FileSystem
	tracer  Tracer
}

// MakeBuilder returns a new Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithMemory sets the memory manager.
func (b Builder) WithMemory(m *vm.Manager) Builder {
	b.memory = m
	return b
}

// WithDevices sets the device manager.
func (b Builder) WithDevices(d *dev.Manager) Builder {
	b.devices = d
	return b
}

// WithFileSystem sets the file system.
func (b Builder) WithFileSystem(f *fs.FileSystem) Builder {
	b.files = f
	return b
}

// WithTracer sets the recorder that receives tick records.
func (b Builder) WithTracer(t Tracer) Builder {
	b.tracer = t
	return b
}

// Build constructs the Manager.
func (b Builder) Build() *Manager {
	return &Manager{
		memory:      b.memory,
		devices:     b.devices,
		files:       b.files,
		processes:   make(map[int]*PCB),
		nextPID:     1,
		nextTick:    1,
		curPID:      NoProcess,
		tracer:      b.tracer,
		tickLogger:  log.New(os.Stderr, "[Tick] ", 0),
		schedLogger: log.New(os.Stderr, "[Schedule] ", 0),
		execLogger:  log.New(os.Stderr, "[Exec] ", 0),
	}
}

// CreateProcess synthesizes a compute-only program of length
// totalTime and installs it as a new Ready process.
func (m *Manager) CreateProcess(totalTime int) int {
	return m.install(NewComputeProgram(totalTime))
}

// CreateProcessFromFile loads a .pc script and installs it. It
// returns NoProcess when the script cannot be loaded.
func (m *Manager) CreateProcessFromFile(path string) int {
	program, err := LoadProgram(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load program from %s: %v\n",
			path, err)
		return NoProcess
	}

	return m.install(program)
}

// install assigns a fresh pid, builds the PCB in Ready state,
// enqueues it, and allocates the virtual address space.
func (m *Manager) install(program *Program) int {
	pid := m.nextPID
	m.nextPID++

	pcb := &PCB{
		PID:           pid,
		State:         StateReady,
		TimeSlice:     DefaultTimeSlice,
		TimeSliceLeft: DefaultTimeSlice,
		TotalTime:     program.Size(),
		WaitingDevice: NoDevice,
		Program:       program,
		VirtualPages:  vm.DefaultVirtualPages,
		FDMap:         make(map[int]int),
		NextScriptFD:  3,
	}

	m.processes[pid] = pcb
	m.readyQueue = append(m.readyQueue, pid)

	m.memory.CreateProcessMemory(pid, pcb.VirtualPages)

	fmt.Printf("Process %d created with %d instructions\n",
		pid, program.Size())

	return pid
}

// Tick advances simulated time by one step: schedule if idle, execute
// one instruction of the running process, apply the terminal
// transitions, then age the sleepers.
func (m *Manager) Tick() {
	fmt.Printf("=== Tick %d ===\n", m.nextTick)
	m.nextTick++

	if m.curPID == NoProcess {
		m.schedule()
	}

	if m.curPID != NoProcess {
		pcb, ok := m.processes[m.curPID]
		if !ok {
			panic("current PID not found in process table")
		}

		if pcb.PC < pcb.Program.Size() {
			inst := pcb.Program.At(pcb.PC)
			m.execute(pcb, inst)
			pcb.PC++

			if m.tracer != nil {
				m.tracer.InsertData(TickTraceTable, TickTrace{
					Tick: m.nextTick - 1,
					PID:  pcb.PID,
					PC:   pcb.PC,
					Op:   inst.Op.String(),
				})
			}
		}

		pcb.TimeSliceLeft--
		pcb.CPUTime++

		m.tickLogger.Printf(
			"Process %d executing (PC=%d/%d, slice remaining: %d)",
			m.curPID, pcb.PC, pcb.Program.Size(), pcb.TimeSliceLeft)

		switch {
		case pcb.PC >= pcb.Program.Size():
			m.tickLogger.Printf("Process %d completed", m.curPID)
			m.releaseResources(pcb)
			delete(m.processes, pcb.PID)
			m.curPID = NoProcess

		case pcb.State == StateBlocked:
			m.tickLogger.Printf("Process %d blocked during execution",
				m.curPID)
			m.curPID = NoProcess

		case pcb.TimeSliceLeft <= 0:
			m.tickLogger.Printf("Process %d time slice exhausted",
				m.curPID)
			pcb.State = StateReady
			pcb.TimeSliceLeft = pcb.TimeSlice
			m.readyQueue = append(m.readyQueue, m.curPID)
			m.curPID = NoProcess
		}
	}

	m.checkBlocked()
}

// schedule pops the ready queue until it finds a live Ready process.
// Stale entries are skipped; an empty queue leaves the CPU idle.
func (m *Manager) schedule() {
	for len(m.readyQueue) > 0 {
		pid := m.readyQueue[0]
		m.readyQueue = m.readyQueue[1:]

		pcb, ok := m.processes[pid]
		if !ok || pcb.State != StateReady {
			continue
		}

		m.curPID = pid
		pcb.State = StateRunning
		m.schedLogger.Printf("Process %d is now running", pid)
		return
	}

	m.schedLogger.Print("CPU idle - no ready processes")
}

// checkBlocked ages every sleeping process, waking those whose timer
// expired. Device-blocked processes are woken by release, not here.
func (m *Manager) checkBlocked() {
	for _, pid := range m.sortedPIDs() {
		pcb := m.processes[pid]
		if pcb.State != StateBlocked || pcb.BlockedReason != BlockSleep {
			continue
		}
		if pcb.BlockedTime <= 0 {
			continue
		}

		pcb.BlockedTime--
		if pcb.BlockedTime <= 0 {
			pcb.State = StateReady
			pcb.BlockedReason = BlockNone
			m.readyQueue = append(m.readyQueue, pid)
			m.tickLogger.Printf("Process %d auto-woken up", pid)
		}
	}
}

// RunProcess preempts the current process and schedules the target,
// which must be Ready.
func (m *Manager) RunProcess(pid int) {
	pcb, ok := m.processes[pid]
	if !ok {
		fmt.Printf("Process %d not found.\n", pid)
		return
	}
	if pcb.State != StateReady {
		fmt.Printf("Process %d is not in Ready state\n", pid)
		return
	}

	if m.curPID != NoProcess {
		cur := m.processes[m.curPID]
		cur.State = StateReady
		m.readyQueue = append(m.readyQueue, m.curPID)
		fmt.Printf("Process %d preempted\n", m.curPID)
	}

	m.curPID = pid
	pcb.State = StateRunning
	fmt.Printf("Process %d is now running\n", pid)
}

// BlockProcess puts a Running or Ready process to sleep for duration
// ticks.
func (m *Manager) BlockProcess(pid, duration int) {
	pcb, ok := m.processes[pid]
	if !ok {
		fmt.Printf("Process %d not found.\n", pid)
		return
	}
	if pcb.State != StateRunning && pcb.State != StateReady {
		fmt.Printf("Process %d cannot be blocked in its current state\n",
			pid)
		return
	}

	pcb.State = StateBlocked
	pcb.BlockedReason = BlockSleep
	pcb.BlockedTime = duration
	fmt.Printf("Process %d is blocked for %d ticks\n", pid, duration)

	if pid == m.curPID {
		m.curPID = NoProcess
		m.schedule()
	}
	// Redundant ready-queue entries for the pid are skipped by
	// schedule.
}

// WakeupProcess unblocks a process regardless of its block reason.
func (m *Manager) WakeupProcess(pid int) {
	pcb, ok := m.processes[pid]
	if !ok {
		fmt.Printf("Process %d not found.\n", pid)
		return
	}
	if pcb.State != StateBlocked {
		fmt.Printf("Process %d is not blocked\n", pid)
		return
	}

	if pcb.BlockedReason == BlockDevice {
		m.devices.CancelWait(pid)
	}

	pcb.State = StateReady
	pcb.BlockedReason = BlockNone
	pcb.BlockedTime = 0
	pcb.WaitingDevice = NoDevice
	m.readyQueue = append(m.readyQueue, pid)
	fmt.Printf("Process %d woken up and added to ready queue\n", pid)
}

// TerminateProcess kills a process, applying the same resource
// release as natural completion.
func (m *Manager) TerminateProcess(pid int) {
	pcb, ok := m.processes[pid]
	if !ok {
		fmt.Printf("Process %d not found.\n", pid)
		return
	}

	m.releaseResources(pcb)
	delete(m.processes, pid)
	if pid == m.curPID {
		m.curPID = NoProcess
	}

	fmt.Printf("Process %d terminated.\n", pid)
}

// releaseResources hands every held device to its next waiter, closes
// every open file, and frees the address space.
func (m *Manager) releaseResources(pcb *PCB) {
	pcb.State = StateTerminated

	for _, handoff := range m.devices.ReleaseAll(pcb.PID) {
		if handoff.NextOwner != dev.NoOwner {
			m.wakeDeviceSuccessor(handoff.Device, handoff.NextOwner)
		}
	}

	for logicalFD, globalFD := range pcb.FDMap {
		if err := m.files.CloseFile(globalFD); err != nil {
			m.execLogger.Printf("PID=%d close fd %d: %v",
				pcb.PID, logicalFD, err)
		}
	}
	pcb.FDMap = make(map[int]int)

	m.memory.FreeProcessMemory(pcb.PID)
}

// Processes returns the PCBs sorted by pid.
func (m *Manager) Processes() []*PCB {
	pcbs := make([]*PCB, 0, len(m.processes))
	for _, pid := range m.sortedPIDs() {
		pcbs = append(pcbs, m.processes[pid])
	}
	return pcbs
}

// Process returns the PCB of the pid, or nil.
func (m *Manager) Process(pid int) *PCB {
	return m.processes[pid]
}

// CurrentPID returns the running pid, or NoProcess when the CPU is
// idle.
func (m *Manager) CurrentPID() int {
	return m.curPID
}

// ReadyQueue returns a copy of the ready queue.
func (m *Manager) ReadyQueue() []int {
	queue := make([]int, len(m.readyQueue))
	copy(queue, m.readyQueue)
	return queue
}

// Name returns the name of the component for monitoring.
func (m *Manager) Name() string {
	return "ProcessManager"
}

// DumpProcesses renders the process table on w.
func (m *Manager) DumpProcesses(w io.Writer) {
	fmt.Fprintln(w, "PID\tState\t\tRemain\tCPU/Total\tBlocked")
	for _, pcb := range m.Processes() {
		fmt.Fprintf(w, "%d\t%s\t\t%d\t%d/%d\t\t%d\n",
			pcb.PID, pcb.State, pcb.TimeSliceLeft,
			pcb.CPUTime, pcb.TotalTime, pcb.BlockedTime)
	}
	if m.curPID != NoProcess {
		fmt.Fprintf(w, "Currently running: %d\n", m.curPID)
	} else {
		fmt.Fprintln(w, "CPU idle")
	}
}

func (m *Manager) sortedPIDs() []int {
	pids := make([]int, 0, len(m.processes))
	for pid := range m.processes {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}
