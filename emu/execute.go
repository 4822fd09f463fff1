package emu

import "github.com/sarchlab/o3sim/insts"

// SysRegReader provides the system registers read by MFSR and ERET.
type SysRegReader interface {
	ReadSysReg(sel int64) uint64
}

// Outcome is the result of executing one instruction without touching
// memory.
type Outcome struct {
	// Result is the value written to the destination register, if any.
	Result uint64

	// NextPC is the address of the next instruction in program order.
	NextPC uint64
	// Taken reports whether a control instruction redirected the PC.
	Taken bool

	// EffAddr is the address accessed by a load or store.
	EffAddr uint64
	// StoreData is the value written by a store, truncated to its size.
	StoreData uint64

	// Fault is set for undefined instructions and division by zero.
	// Memory faults are detected by the caller when it performs the access.
	Fault Fault
}

// Execute computes the outcome of inst at pc. src holds the values of the
// instruction's source registers in SrcRegs order.
func Execute(inst *insts.Instruction, pc uint64, src []uint64, sys SysRegReader) Outcome {
	out := Outcome{NextPC: pc + 4}

	switch {
	case inst.IsUndefined():
		out.Fault = Fault{Kind: FaultUndefined, Addr: pc}
	case inst.IsLoad():
		out.EffAddr = EffectiveAddress(inst, src[0])
	case inst.IsStore():
		out.EffAddr = EffectiveAddress(inst, src[0])
		out.StoreData = StoreValue(inst, src[1])
	case inst.IsControl():
		var epc uint64
		if inst.Op == insts.OpERET {
			epc = sys.ReadSysReg(insts.SysRegEPC)
		}
		out.NextPC, out.Taken = controlTarget(inst, pc, src, epc)
		if inst.Op == insts.OpJAL || inst.Op == insts.OpJALR {
			out.Result = pc + 4
		}
	case inst.Op == insts.OpMFSR:
		out.Result = sys.ReadSysReg(inst.Imm)
	case inst.OpClass() != insts.NoOpClass:
		var a, b uint64
		if len(src) > 0 {
			a = src[0]
		}
		if len(src) > 1 {
			b = src[1]
		}
		res, ok := aluOp(inst, a, b)
		if !ok {
			out.Fault = Fault{Kind: FaultDivideByZero, Addr: pc}
		}
		out.Result = res
	}

	return out
}
