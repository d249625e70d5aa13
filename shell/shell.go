// Package shell implements the interactive command interpreter of the
// simulator. The results of help, ps, ls, pwd and cat go to stdout.
// Diagnostics go to stderr, and so do the pagetable, mem, memstats and
// fsinfo dumps and the text of echo without redirection; those results
// are not written to stdout.
package shell

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/FanTuani/tinix/fs"
	"github.com/FanTuani/tinix/kernel"
)

const helpText = `Available commands:
  help             - Display this help message
  ps               - List all simulated processes
  create [time]    - Create a new process with optional total time (default: 10)
  create -f <file> - Create a process from .pc script file
  kill <pid>       - Force terminate a process
  tick [n]         - Execute n clock ticks (default: 1)
  run <pid>        - Manually schedule a process to run
  block <pid> [t]  - Block a process for t ticks (default: 5)
  wakeup <pid>     - Wake up a blocked process
  pagetable <pid>  - Display page table for a process
  mem              - Display physical memory status
  memstats [pid]   - Display memory statistics (system or per-process)
  script <file>    - Execute commands from a script file

  === File System Commands ===
  format           - Format the file system
  mount            - Mount the file system
  touch <file>     - Create a new file
  mkdir <dir>      - Create a new directory
  ls [path]        - List directory contents
  cd [path]        - Change current directory
  pwd              - Print working directory
  rm <file>        - Remove a file
  cat <file>       - Display file contents
  echo <text>      - Write text to file (use > for redirection)
  fsinfo           - Display file system information

  exit             - Shutdown the simulation`

// A Shell is the line-oriented REPL over one kernel.
type Shell struct {
	kernel  *kernel.Kernel
	running bool

	in  io.Reader
	out io.Writer
	err io.Writer
}

// New creates a shell bound to the standard streams.
func New(k *kernel.Kernel) *Shell {
	return &Shell{
		kernel: k,
		in:     os.Stdin,
		out:    os.Stdout,
		err:    os.Stderr,
	}
}

// Run reads and executes commands until `exit` or EOF.
func (s *Shell) Run() {
	s.running = true

	fmt.Fprintln(s.err, "Tinix OS Shell. Type 'help' for commands.")

	scanner := bufio.NewScanner(s.in)
	for s.running {
		fmt.Fprint(s.err, "tinix> ")
		if !scanner.Scan() {
			break
		}

		line := scanner.Text()
		if line == "" {
			continue
		}

		args := strings.Fields(line)
		if len(args) > 0 {
			s.Execute(args)
		}
	}
}

// RunScript executes a batch file of commands, echoing each line.
// Blank lines and lines beginning with # are skipped.
func (s *Shell) RunScript(path string) {
	file, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(s.err, "Error: Could not open script file '%s'\n", path)
		return
	}
	defer file.Close()

	fmt.Fprintf(s.err, "Executing script: %s\n", path)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fmt.Fprintf(s.err, ">>> %s\n", line)
		args := strings.Fields(line)
		if len(args) > 0 {
			s.Execute(args)
		}
	}

	fmt.Fprintln(s.err, "Script execution completed.")
}

// Execute dispatches one tokenized command.
func (s *Shell) Execute(args []string) {
	cmd := args[0]

	switch cmd {
	case "help":
		fmt.Fprintln(s.out, helpText)

	case "ps":
		s.kernel.Processes().DumpProcesses(s.out)

	case "create", "cr":
		s.cmdCreate(args)

	case "kill":
		if pid, ok := s.pidArg(args, "Usage: kill <pid>"); ok {
			s.kernel.Processes().TerminateProcess(pid)
		}

	case "tick", "tk":
		n := 1
		if len(args) > 1 {
			n, _ = strconv.Atoi(args[1])
		}
		for i := 0; i < n; i++ {
			s.kernel.Tick()
		}

	case "run":
		if pid, ok := s.pidArg(args, "Usage: run <pid>"); ok {
			s.kernel.Processes().RunProcess(pid)
		}

	case "block":
		s.cmdBlock(args)

	case "wakeup":
		if pid, ok := s.pidArg(args, "Usage: wakeup <pid>"); ok {
			s.kernel.Processes().WakeupProcess(pid)
		}

	case "pagetable", "pt":
		if pid, ok := s.pidArg(args, "Usage: pagetable <pid>"); ok {
			s.kernel.Memory().DumpPageTable(pid, os.Stderr)
		}

	case "mem":
		s.kernel.Memory().DumpFrames(os.Stderr)

	case "memstats", "ms":
		s.cmdMemStats(args)

	case "script", "sc":
		if len(args) > 1 {
			s.RunScript(args[1])
		} else {
			fmt.Fprintln(s.err, "Usage: script <filename>")
		}

	case "format":
		if err := s.kernel.Files().Format(); err != nil {
			fmt.Fprintln(s.err, "Failed to format file system.")
		} else {
			fmt.Fprintln(s.err, "File system formatted successfully.")
		}

	case "mount":
		if err := s.kernel.Files().Mount(); err != nil {
			fmt.Fprintln(s.err, "Failed to mount file system.")
		} else {
			fmt.Fprintln(s.err, "File system mounted successfully.")
		}

	case "touch":
		if len(args) > 1 {
			_ = s.kernel.Files().CreateFile(args[1])
		} else {
			fmt.Fprintln(s.err, "Usage: touch <filename>")
		}

	case "mkdir":
		if len(args) > 1 {
			_ = s.kernel.Files().CreateDirectory(args[1])
		} else {
			fmt.Fprintln(s.err, "Usage: mkdir <dirname>")
		}

	case "ls":
		path := "."
		if len(args) > 1 {
			path = args[1]
		}
		s.cmdList(path)

	case "cd":
		path := "/"
		if len(args) > 1 {
			path = args[1]
		}
		_ = s.kernel.Files().ChangeDirectory(path)

	case "pwd":
		fmt.Fprintln(s.out, s.kernel.Files().CurrentDir())

	case "rm":
		if len(args) > 1 {
			_ = s.kernel.Files().RemoveFile(args[1])
		} else {
			fmt.Fprintln(s.err, "Usage: rm <filename>")
		}

	case "cat":
		if len(args) > 1 {
			s.cmdCat(args[1])
		} else {
			fmt.Fprintln(s.err, "Usage: cat <filename>")
		}

	case "echo":
		s.cmdEcho(args)

	case "fsinfo":
		s.kernel.Files().DumpSuperblock(os.Stderr)

	case "exit":
		s.running = false

	default:
		fmt.Fprintf(s.err, "Unknown command: %s\n", cmd)
	}
}

func (s *Shell) cmdCreate(args []string) {
	if len(args) > 2 && args[1] == "-f" {
		pid := s.kernel.Processes().CreateProcessFromFile(args[2])
		if pid != -1 {
			fmt.Fprintf(s.err, "Created process PID: %d from %s\n",
				pid, args[2])
		}
		return
	}

	totalTime := 10
	if len(args) > 1 {
		if t, err := strconv.Atoi(args[1]); err == nil {
			totalTime = t
		}
	}

	pid := s.kernel.Processes().CreateProcess(totalTime)
	fmt.Fprintf(s.err, "Created process PID: %d\n", pid)
}

func (s *Shell) cmdBlock(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.err, "Usage: block <pid> [duration]")
		return
	}

	pid, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintln(s.err, "Usage: block <pid> [duration]")
		return
	}

	duration := 5
	if len(args) > 2 {
		if d, err := strconv.Atoi(args[2]); err == nil {
			duration = d
		}
	}

	s.kernel.Processes().BlockProcess(pid, duration)
}

func (s *Shell) cmdMemStats(args []string) {
	if len(args) > 1 {
		pid, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintln(s.err, "Usage: memstats [pid]")
			return
		}

		stats := s.kernel.Memory().ProcessStats(pid)
		fmt.Fprintf(s.err, "=== Memory Stats for PID %d ===\n", pid)
		printStats(s.err, stats.MemoryAccesses, stats.PageFaults)
		return
	}

	stats := s.kernel.Memory().Stats()
	fmt.Fprintln(s.err, "=== System Memory Stats ===")
	printStats(s.err, stats.MemoryAccesses, stats.PageFaults)
}

func printStats(w io.Writer, accesses, faults uint64) {
	fmt.Fprintf(w, "Memory Accesses: %d\n", accesses)
	fmt.Fprintf(w, "Page Faults: %d\n", faults)
	if accesses > 0 {
		rate := float64(faults) / float64(accesses) * 100.0
		fmt.Fprintf(w, "Page Fault Rate: %.2f%%\n", rate)
	}
}

func (s *Shell) cmdList(path string) {
	entries, err := s.kernel.Files().ReadDir(path)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.Type == fs.TypeDirectory {
			fmt.Fprintf(s.out, "%-28s <dir>  inode=%d\n",
				entry.Name, entry.InodeNum)
		} else {
			fmt.Fprintf(s.out, "%-28s %5d  inode=%d\n",
				entry.Name, entry.Size, entry.InodeNum)
		}
	}
}

func (s *Shell) cmdCat(path string) {
	files := s.kernel.Files()

	fd, err := files.OpenFile(path)
	if err != nil {
		return
	}
	defer files.CloseFile(fd)

	buf := make([]byte, 4096)
	for {
		n, err := files.ReadFile(fd, buf)
		if err != nil || n <= 0 {
			break
		}
		s.out.Write(buf[:n])
	}
	fmt.Fprintln(s.out)
}

// cmdEcho prints text, or with `> file` writes it (plus a trailing
// newline) into an existing file.
func (s *Shell) cmdEcho(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.err, "Usage: echo <text> [> filename]")
		return
	}

	var text strings.Builder
	redirect := 0
	for i := 1; i < len(args); i++ {
		if args[i] == ">" {
			redirect = i
			break
		}
		if i > 1 {
			text.WriteString(" ")
		}
		text.WriteString(args[i])
	}

	if redirect == 0 || redirect+1 >= len(args) {
		fmt.Fprintln(s.err, text.String())
		return
	}

	files := s.kernel.Files()
	filename := args[redirect+1]

	fd, err := files.OpenFile(filename)
	if err != nil {
		fmt.Fprintf(s.err, "Failed to open file: %s\n", filename)
		return
	}
	defer files.CloseFile(fd)

	payload := text.String() + "\n"
	if _, err := files.WriteFile(fd, []byte(payload)); err != nil {
		fmt.Fprintf(s.err, "Failed to write file: %s\n", filename)
	}
}

func (s *Shell) pidArg(args []string, usage string) (int, bool) {
	if len(args) < 2 {
		fmt.Fprintln(s.err, usage)
		return 0, false
	}

	pid, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintln(s.err, usage)
		return 0, false
	}

	return pid, true
}
