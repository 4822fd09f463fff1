// Package emu provides functional emulation of the reference instruction set:
// architectural state, memory with faults, instruction semantics and a
// golden-model emulator.
package emu

import "github.com/sarchlab/o3sim/insts"

// RegFile holds the architectural state of one hardware thread.
type RegFile struct {
	// X holds the integer registers. X[0] always reads as 0.
	X [insts.NumIntRegs]uint64

	// F holds the floating-point registers as raw IEEE-754 bits.
	F [insts.NumFloatRegs]uint64

	// PC is the program counter.
	PC uint64

	// EPC is the address ERET returns to.
	EPC uint64
	// Cause records the kind of the last trap taken.
	Cause uint64
	// BadAddr records the faulting address of the last trap.
	BadAddr uint64

	// TrapVector is the handler address. Zero means faults halt the thread.
	TrapVector uint64
}

// ReadReg reads a flattened architectural register.
func (r *RegFile) ReadReg(reg insts.RegID) uint64 {
	if reg.IsFloat() {
		return r.F[reg.Index()]
	}
	if reg == insts.ZeroReg {
		return 0
	}
	return r.X[reg]
}

// WriteReg writes a flattened architectural register. Writes to the integer
// zero register are ignored.
func (r *RegFile) WriteReg(reg insts.RegID, value uint64) {
	if reg.IsFloat() {
		r.F[reg.Index()] = value
		return
	}
	if reg == insts.ZeroReg {
		return
	}
	r.X[reg] = value
}

// ReadSysReg reads a system register by its MFSR selector.
func (r *RegFile) ReadSysReg(sel int64) uint64 {
	switch sel {
	case insts.SysRegEPC:
		return r.EPC
	case insts.SysRegCause:
		return r.Cause
	case insts.SysRegBadAddr:
		return r.BadAddr
	default:
		return 0
	}
}

// EnterTrap records a trap and returns the handler address. The second
// result is false when no handler is installed.
func (r *RegFile) EnterTrap(f Fault, epc uint64) (uint64, bool) {
	r.EPC = epc
	r.Cause = f.Cause()
	r.BadAddr = f.Addr
	return r.TrapVector, r.TrapVector != 0
}
