package emu

import "github.com/sarchlab/o3sim/insts"

// branchTaken evaluates the condition of a conditional branch.
func branchTaken(op insts.Op, a, b uint64) bool {
	switch op {
	case insts.OpBEQ:
		return a == b
	case insts.OpBNE:
		return a != b
	case insts.OpBLT:
		return int64(a) < int64(b)
	case insts.OpBGE:
		return int64(a) >= int64(b)
	}
	return false
}

// controlTarget resolves the next PC of a control instruction. src holds the
// source operand values in SrcRegs order and epc is consulted by ERET.
func controlTarget(inst *insts.Instruction, pc uint64, src []uint64, epc uint64) (next uint64, taken bool) {
	switch {
	case inst.IsCondCtrl():
		if branchTaken(inst.Op, src[0], src[1]) {
			return inst.BranchTarget(pc), true
		}
		return pc + 4, false
	case inst.Op == insts.OpJAL:
		return inst.BranchTarget(pc), true
	case inst.Op == insts.OpJALR:
		return (src[0] + uint64(inst.Imm)) &^ 3, true
	case inst.Op == insts.OpERET:
		return epc, true
	}
	return pc + 4, false
}
