// Package latency provides the execution timing model: latencies per
// operation class and the pool of functional units that execute them.
package latency

import (
	"github.com/sarchlab/o3sim/insts"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a new latency table with default timing values.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a new latency table with custom timing configuration.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// GetLatency returns the execution latency in cycles for the given
// instruction. Instructions that need no functional unit take 1 cycle.
func (t *Table) GetLatency(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}
	return t.ClassLatency(inst.OpClass())
}

// ClassLatency returns the execution latency of an operation class.
func (t *Table) ClassLatency(class insts.OpClass) uint64 {
	switch class {
	case insts.IntAluClass:
		return t.config.ALULatency
	case insts.IntMultClass:
		return t.config.MultiplyLatency
	case insts.IntDivClass:
		return t.config.DivideLatency
	case insts.FloatAddClass:
		return t.config.FloatAddLatency
	case insts.FloatMultClass:
		return t.config.FloatMultLatency
	case insts.FloatDivClass:
		return t.config.FloatDivLatency
	case insts.FloatCvtClass:
		return t.config.FloatCvtLatency
	case insts.MemReadClass:
		return t.config.LoadLatency
	case insts.MemWriteClass:
		return t.config.StoreLatency
	case insts.BranchClass:
		return t.config.BranchLatency
	default:
		return 1
	}
}

// IssueLatency returns the number of cycles a functional unit stays busy
// after accepting an operation of the class. Pipelined units accept a new
// operation every cycle.
func (t *Table) IssueLatency(class insts.OpClass) uint64 {
	switch class {
	case insts.IntDivClass:
		return t.config.DivideIssueLatency
	case insts.FloatDivClass:
		return t.config.FloatDivIssueLatency
	default:
		return 1
	}
}

// IsPipelined reports whether units accept an operation of the class every
// cycle.
func (t *Table) IsPipelined(class insts.OpClass) bool {
	return t.IssueLatency(class) <= 1
}

// IsMemoryOp returns true if the instruction accesses memory.
func (t *Table) IsMemoryOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	return inst.IsMemRef()
}

// IsLoadOp returns true if the instruction is a load operation.
func (t *Table) IsLoadOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	return inst.IsLoad()
}

// IsStoreOp returns true if the instruction is a store operation.
func (t *Table) IsStoreOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	return inst.IsStore()
}

// IsBranchOp returns true if the instruction is a branch operation.
func (t *Table) IsBranchOp(inst *insts.Instruction) bool {
	if inst == nil {
		return false
	}
	return inst.IsControl()
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
