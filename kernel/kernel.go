// Package kernel wires the simulator together: the block device, the
// memory manager, the file system, the device manager, and the
// process manager, with the file system auto-mounted (or formatted)
// at startup.
package kernel

import (
	"log"
	"os"

	"github.com/FanTuani/tinix/blockdev"
	"github.com/FanTuani/tinix/datarecording"
	"github.com/FanTuani/tinix/dev"
	"github.com/FanTuani/tinix/fs"
	"github.com/FanTuani/tinix/proc"
	"github.com/FanTuani/tinix/vm"
)

// A Component is a named subsystem that the monitor can inspect.
type Component interface {
	Name() string
}

// A Kernel is the sole owner of every subsystem; all cross-component
// access goes through the references it hands out.
type Kernel struct {
	disk      *blockdev.Disk
	memory    *vm.Manager
	devices   *dev.Manager
	files     *fs.FileSystem
	processes *proc.Manager

	recorder datarecording.DataRecorder

	logger *log.Logger
}

// Builder builds kernels.
type Builder struct {
	diskPath   string
	numFrames  int
	recordName string
	record     bool
}

// MakeBuilder returns a Builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		diskPath:  blockdev.DefaultImageName,
		numFrames: vm.DefaultFrames,
	}
}

// WithDiskPath sets the backing image path.
func (b Builder) WithDiskPath(path string) Builder {
	b.diskPath = path
	return b
}

// WithNumFrames sets the physical frame count.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithRecording enables SQLite trace recording. An empty name lets
// the recorder pick one.
func (b Builder) WithRecording(name string) Builder {
	b.record = true
	b.recordName = name
	return b
}

// Build constructs and boots the kernel. The file system is mounted;
// a volume that fails to mount is formatted.
func (b Builder) Build() (*Kernel, error) {
	logger := log.New(os.Stderr, "[Kernel] ", 0)

	disk, err := blockdev.NewDisk(
		b.diskPath, blockdev.DefaultNumBlocks, blockdev.DefaultBlockSize)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		disk:    disk,
		devices: dev.NewManager(),
		files:   fs.NewFileSystem(disk),
		logger:  logger,
	}

	if b.record {
		k.recorder = datarecording.New(b.recordName)
		k.recorder.CreateTable(proc.TickTraceTable, proc.TickTrace{})
		k.recorder.CreateTable(vm.FaultTraceTable, vm.FaultTrace{})
		k.recorder.CreateTable(fs.OpTraceTable, fs.OpTrace{})
		k.files.SetTracer(k.recorder)
	}

	memBuilder := vm.MakeBuilder().
		WithDevice(disk).
		WithNumFrames(b.numFrames)
	if k.recorder != nil {
		memBuilder = memBuilder.WithTracer(k.recorder)
	}
	k.memory = memBuilder.Build()

	procBuilder := proc.MakeBuilder().
		WithMemory(k.memory).
		WithDevices(k.devices).
		WithFileSystem(k.files)
	if k.recorder != nil {
		procBuilder = procBuilder.WithTracer(k.recorder)
	}
	k.processes = procBuilder.Build()

	if err := k.files.Mount(); err != nil {
		logger.Print("File system not found, formatting...")
		if err := k.files.Format(); err != nil {
			return nil, err
		}
	}

	return k, nil
}

// Disk returns the block device.
func (k *Kernel) Disk() *blockdev.Disk {
	return k.disk
}

// Memory returns the memory manager.
func (k *Kernel) Memory() *vm.Manager {
	return k.memory
}

// Devices returns the device manager.
func (k *Kernel) Devices() *dev.Manager {
	return k.devices
}

// Files returns the file system.
func (k *Kernel) Files() *fs.FileSystem {
	return k.files
}

// Processes returns the process manager.
func (k *Kernel) Processes() *proc.Manager {
	return k.processes
}

// Tick advances the simulation by one step.
func (k *Kernel) Tick() {
	k.processes.Tick()
}

// Components lists the subsystems for monitor registration.
func (k *Kernel) Components() []Component {
	return []Component{k.disk, k.memory, k.devices, k.files, k.processes}
}

// Shutdown flushes the recorder and closes the backing image.
func (k *Kernel) Shutdown() {
	if k.recorder != nil {
		k.recorder.Flush()
	}

	if err := k.disk.Close(); err != nil {
		k.logger.Printf("Closing disk image: %v", err)
	}
}
