package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/o3sim/insts"
)

// ErrMaxInstructions is returned when the instruction limit is reached before
// the program halts.
var ErrMaxInstructions = errors.New("max instructions reached")

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Halted is true once the thread stopped, either by HALT or by a fault
	// with no trap handler installed.
	Halted bool

	// Fault is the fault raised by this step, if any. A fault with a handler
	// installed redirects execution and does not halt.
	Fault Fault

	// Err is set if the emulator could not execute the step.
	Err error
}

// Emulator executes instructions functionally, one at a time. It is the
// golden model the timing pipeline is checked against.
type Emulator struct {
	regFile *RegFile
	memory  *Memory
	decoder *insts.Decoder

	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit

	halted           bool
	exitFault        Fault
	interruptPending bool
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithMemory sets the memory the emulator executes from.
func WithMemory(m *Memory) EmulatorOption {
	return func(e *Emulator) {
		e.memory = m
	}
}

// WithRegFile sets the initial architectural state.
func WithRegFile(r *RegFile) EmulatorOption {
	return func(e *Emulator) {
		e.regFile = r
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// NewEmulator creates a new emulator.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regFile: &RegFile{},
		memory:  NewMemory(),
		decoder: insts.NewDecoder(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// InstructionCount returns the number of instructions retired. Instructions
// that fault are not counted.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// Halted reports whether the thread has stopped.
func (e *Emulator) Halted() bool {
	return e.halted
}

// ExitFault returns the fault that halted the thread, or NoFault if it
// halted normally or is still running.
func (e *Emulator) ExitFault() Fault {
	return e.exitFault
}

// PostInterrupt requests an interrupt, taken before the next instruction.
// It is ignored when no trap handler is installed.
func (e *Emulator) PostInterrupt() {
	e.interruptPending = true
}

// Step executes a single instruction.
func (e *Emulator) Step() StepResult {
	rf := e.regFile

	if e.interruptPending {
		e.interruptPending = false
		if rf.TrapVector != 0 {
			handler, _ := rf.EnterTrap(Fault{Kind: FaultInterrupt, Addr: rf.PC}, rf.PC)
			rf.PC = handler
			e.halted = false
		}
	}

	if e.halted {
		return StepResult{Halted: true}
	}

	if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
		return StepResult{Err: ErrMaxInstructions}
	}

	pc := rf.PC
	word, f := e.memory.Read32(pc)
	if f.IsFault() {
		return e.trap(f, pc)
	}

	inst := e.decoder.Decode(word)

	srcRegs := inst.SrcRegs()
	src := make([]uint64, len(srcRegs))
	for i, r := range srcRegs {
		src[i] = rf.ReadReg(r)
	}

	out := Execute(inst, pc, src, rf)
	if out.Fault.IsFault() {
		return e.trap(out.Fault, pc)
	}

	result := out.Result
	switch {
	case inst.IsLoad():
		raw, f := e.memory.Read(out.EffAddr, inst.MemSize())
		if f.IsFault() {
			return e.trap(f, pc)
		}
		result = LoadResult(inst, raw)
	case inst.IsStore():
		if f := e.memory.Write(out.EffAddr, inst.MemSize(), out.StoreData); f.IsFault() {
			return e.trap(f, pc)
		}
	}

	for _, d := range inst.DestRegs() {
		rf.WriteReg(d, result)
	}

	rf.PC = out.NextPC
	e.instructionCount++

	if inst.IsHalt() {
		e.halted = true
		return StepResult{Halted: true}
	}

	return StepResult{}
}

// trap delivers a fault raised by the instruction at pc. Execution resumes
// at the handler with EPC pointing past the faulting instruction.
func (e *Emulator) trap(f Fault, pc uint64) StepResult {
	handler, ok := e.regFile.EnterTrap(f, pc+4)
	if !ok {
		e.halted = true
		e.exitFault = f
		return StepResult{Halted: true, Fault: f}
	}
	e.regFile.PC = handler
	return StepResult{Fault: f}
}

// Run executes instructions until the thread halts or an error occurs.
func (e *Emulator) Run() error {
	for {
		result := e.Step()
		if result.Err != nil {
			return fmt.Errorf("emulation stopped at PC=0x%X: %w", e.regFile.PC, result.Err)
		}
		if result.Halted {
			return nil
		}
	}
}
