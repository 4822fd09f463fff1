// Package loader turns assembly source files into initialized guest memory
// and architectural state.
package loader

import (
	"fmt"
	"os"

	"github.com/sarchlab/o3sim/emu"
	"github.com/sarchlab/o3sim/insts"
)

// DefaultStackTop is the address just past the guest stack.
const DefaultStackTop = 0x7fff0000

// DefaultStackSize is the default stack size (64KB).
const DefaultStackSize = 64 * 1024

// StackReg is the register initialized to the stack top.
const StackReg = 29

// Program represents an assembled program ready for loading.
type Program struct {
	*insts.Program

	// Path is the source file the program was assembled from, if any.
	Path string
	// StackTop is the initial stack pointer value; zero disables the stack.
	StackTop uint64
	// StackSize is the size of the writable stack region below StackTop.
	StackSize uint64
}

// Parse assembles source text.
func Parse(src string) (*Program, error) {
	p, err := insts.Assemble(src)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble program: %w", err)
	}

	return &Program{
		Program:   p,
		StackTop:  DefaultStackTop,
		StackSize: DefaultStackSize,
	}, nil
}

// LoadFile reads and assembles an assembly source file.
func LoadFile(path string) (*Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program: %w", err)
	}

	prog, err := Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	prog.Path = path

	return prog, nil
}

// Load copies the program into mem and initializes the register files of
// the given threads to start at the program entry.
func (p *Program) Load(mem *emu.Memory, regs ...*emu.RegFile) {
	for _, seg := range p.Segments {
		mem.LoadSegment(seg.Addr, seg.Data, seg.Writable)
	}

	if p.StackTop != 0 && p.StackSize != 0 {
		mem.Map(p.StackTop-p.StackSize*uint64(max(len(regs), 1)),
			p.StackSize*uint64(max(len(regs), 1)), true)
	}

	for i, rf := range regs {
		rf.PC = p.Entry
		rf.TrapVector = p.TrapVector
		if p.StackTop != 0 {
			rf.WriteReg(insts.IntReg(StackReg), p.StackTop-uint64(i)*p.StackSize)
		}
	}
}

// NewEmulator loads the program into fresh memory and returns an emulator
// positioned at its entry point.
func (p *Program) NewEmulator(opts ...emu.EmulatorOption) *emu.Emulator {
	mem := emu.NewMemory()
	rf := &emu.RegFile{}
	p.Load(mem, rf)

	opts = append([]emu.EmulatorOption{emu.WithMemory(mem), emu.WithRegFile(rf)}, opts...)
	return emu.NewEmulator(opts...)
}
