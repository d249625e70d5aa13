package proc

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// A Program is an immutable ordered sequence of instructions shared
// by every process running it.
type Program struct {
	instructions []Instruction
}

// Size returns the number of instructions.
func (p *Program) Size() int {
	return len(p.instructions)
}

// At returns the instruction at pc.
func (p *Program) At(pc int) Instruction {
	return p.instructions[pc]
}

// NewComputeProgram synthesizes a compute-only program of the given
// length.
func NewComputeProgram(length int) *Program {
	instructions := make([]Instruction, length)
	return &Program{instructions: instructions}
}

// LoadProgram parses a .pc script: one instruction per line, blank
// lines and lines beginning with # skipped, integer arguments decimal
// or 0x-prefixed hex. Unknown opcodes are skipped with a warning. An
// empty instruction list is an error.
func LoadProgram(path string) (*Program, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open file: %s: %w", path, err)
	}
	defer file.Close()

	logger := log.New(os.Stderr, "[Exec] ", 0)

	var instructions []Instruction
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}

		inst, ok := parseInstruction(tokens)
		if !ok {
			logger.Printf("Skipping unknown instruction: %s", line)
			continue
		}

		instructions = append(instructions, inst)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if len(instructions) == 0 {
		return nil, fmt.Errorf("no instructions in %s", path)
	}

	logger.Printf("Loaded %d instructions from %s", len(instructions), path)

	return &Program{instructions: instructions}, nil
}

func parseInstruction(tokens []string) (Instruction, bool) {
	op := strings.ToUpper(tokens[0])
	args := tokens[1:]

	switch op {
	case "C", "COMPUTE":
		return Instruction{Op: OpCompute}, true

	case "R", "MEMREAD":
		addr, ok := parseUint(args, 0)
		if !ok {
			return Instruction{}, false
		}
		return Instruction{Op: OpMemRead, Arg1: addr}, true

	case "W", "MEMWRITE":
		addr, ok := parseUint(args, 0)
		if !ok {
			return Instruction{}, false
		}
		return Instruction{Op: OpMemWrite, Arg1: addr}, true

	case "FO", "FILEOPEN":
		return parseFileOpen(args)

	case "FC", "FILECLOSE":
		fd, ok := parseUint(args, 0)
		if !ok {
			return Instruction{}, false
		}
		return Instruction{Op: OpFileClose, Arg1: fd}, true

	case "FR", "FILEREAD":
		fd, ok1 := parseUint(args, 0)
		size, ok2 := parseUint(args, 1)
		if !ok1 || !ok2 {
			return Instruction{}, false
		}
		return Instruction{Op: OpFileRead, Arg1: fd, Arg2: size}, true

	case "FW", "FILEWRITE":
		fd, ok1 := parseUint(args, 0)
		size, ok2 := parseUint(args, 1)
		if !ok1 || !ok2 {
			return Instruction{}, false
		}
		return Instruction{Op: OpFileWrite, Arg1: fd, Arg2: size}, true

	case "DR", "DEVREQ", "DEVREQUEST":
		devID, ok := parseUint(args, 0)
		if !ok {
			return Instruction{}, false
		}
		return Instruction{Op: OpDevRequest, Arg1: devID}, true

	case "DD", "DEVREL", "DEVRELEASE":
		devID, ok := parseUint(args, 0)
		if !ok {
			return Instruction{}, false
		}
		return Instruction{Op: OpDevRelease, Arg1: devID}, true

	case "S", "SLEEP":
		duration, ok := parseUint(args, 0)
		if !ok {
			return Instruction{}, false
		}
		return Instruction{Op: OpSleep, Arg1: duration}, true

	default:
		return Instruction{}, false
	}
}

// parseFileOpen handles both forms: `FO <filename>` and
// `FO <fd> <filename>`. A zero Arg1 means the logical fd is
// auto-assigned at execution time.
func parseFileOpen(args []string) (Instruction, bool) {
	switch len(args) {
	case 1:
		return Instruction{Op: OpFileOpen, Str: args[0]}, true
	case 2:
		fd, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			return Instruction{}, false
		}
		return Instruction{Op: OpFileOpen, Arg1: fd, Str: args[1]}, true
	default:
		return Instruction{}, false
	}
}

func parseUint(args []string, i int) (uint64, bool) {
	if i >= len(args) {
		return 0, false
	}

	// Base 0 accepts decimal and 0x-prefixed hex.
	v, err := strconv.ParseUint(args[i], 0, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}
