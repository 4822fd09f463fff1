package emu

import "github.com/sarchlab/o3sim/insts"

// EffectiveAddress computes the address of a memory instruction from its
// base register value.
func EffectiveAddress(inst *insts.Instruction, base uint64) uint64 {
	return base + uint64(inst.Imm)
}

// LoadResult converts the raw bytes read by a load into the value written
// to its destination. LW sign-extends its 32-bit word.
func LoadResult(inst *insts.Instruction, raw uint64) uint64 {
	if inst.Op == insts.OpLW {
		return uint64(int64(int32(uint32(raw))))
	}
	return raw
}

// StoreValue truncates store data to the access size.
func StoreValue(inst *insts.Instruction, data uint64) uint64 {
	if inst.MemSize() == 4 {
		return data & 0xFFFFFFFF
	}
	return data
}
