// Package regs implements the register renaming structures of the
// out-of-order core: the physical register file, the free list, per-thread
// rename maps with their history buffers, and the scoreboard.
package regs

import (
	"fmt"

	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/invariant"
)

// PhysReg is a physical register index. Integer registers occupy
// [0, numInt) and floating-point registers [numInt, numInt+numFloat).
type PhysReg int32

// ZeroPhysReg is the physical register shared by every thread's integer
// zero register. It always reads as zero and is never allocated or freed.
const ZeroPhysReg PhysReg = 0

// InvalidPhysReg marks an unused physical register slot.
const InvalidPhysReg PhysReg = -1

// Class identifies a register class.
type Class uint8

// Register classes.
const (
	IntClass Class = iota
	FloatClass

	numClasses
)

func (c Class) String() string {
	if c == FloatClass {
		return "float"
	}
	return "int"
}

// ClassOf returns the class of an architectural register.
func ClassOf(arch insts.RegID) Class {
	if arch.IsFloat() {
		return FloatClass
	}
	return IntClass
}

// Layout describes how physical register indices are split between classes.
type Layout struct {
	NumInt   int
	NumFloat int
}

// Total returns the number of physical registers.
func (l Layout) Total() int { return l.NumInt + l.NumFloat }

// ClassOf returns the class of a physical register.
func (l Layout) ClassOf(r PhysReg) Class {
	if int(r) >= l.NumInt {
		return FloatClass
	}
	return IntClass
}

// Contains reports whether r is a valid index.
func (l Layout) Contains(r PhysReg) bool {
	return r >= 0 && int(r) < l.Total()
}

// Validate checks that each class has more physical registers than the
// architectural registers of all threads need.
func (l Layout) Validate(numThreads int) error {
	if numThreads <= 0 {
		return fmt.Errorf("number of threads must be > 0")
	}
	if l.NumInt <= numThreads*insts.NumIntRegs {
		return fmt.Errorf("num_phys_int_regs (%d) must exceed %d (threads x arch int regs)",
			l.NumInt, numThreads*insts.NumIntRegs)
	}
	if l.NumFloat <= numThreads*insts.NumFloatRegs {
		return fmt.Errorf("num_phys_float_regs (%d) must exceed %d (threads x arch float regs)",
			l.NumFloat, numThreads*insts.NumFloatRegs)
	}
	return nil
}

// PhysRegFile holds physical register values.
type PhysRegFile struct {
	layout Layout
	values []uint64
}

// NewPhysRegFile creates a zeroed register file.
func NewPhysRegFile(layout Layout) *PhysRegFile {
	return &PhysRegFile{
		layout: layout,
		values: make([]uint64, layout.Total()),
	}
}

// Layout returns the register layout.
func (f *PhysRegFile) Layout() Layout { return f.layout }

// Read returns the value of a physical register.
func (f *PhysRegFile) Read(r PhysReg) uint64 {
	f.check(r)
	if r == ZeroPhysReg {
		return 0
	}
	return f.values[r]
}

// Write sets the value of a physical register. Writes to the zero register
// are dropped.
func (f *PhysRegFile) Write(r PhysReg, v uint64) {
	f.check(r)
	if r == ZeroPhysReg {
		return
	}
	f.values[r] = v
}

func (f *PhysRegFile) check(r PhysReg) {
	if !f.layout.Contains(r) {
		invariant.Panicf("PhysRegFile", 0, "register %d out of range [0, %d)", r, f.layout.Total())
	}
}
