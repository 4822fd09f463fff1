package emu

import (
	"math"

	"github.com/sarchlab/o3sim/insts"
)

// aluOp computes the result of an integer or floating-point operation. The
// second result is false for division by zero.
func aluOp(inst *insts.Instruction, a, b uint64) (uint64, bool) {
	switch inst.Op {
	case insts.OpADD:
		return a + b, true
	case insts.OpSUB:
		return a - b, true
	case insts.OpAND:
		return a & b, true
	case insts.OpOR:
		return a | b, true
	case insts.OpXOR:
		return a ^ b, true
	case insts.OpSLL:
		return a << (b & 63), true
	case insts.OpSRL:
		return a >> (b & 63), true
	case insts.OpSLT:
		return boolToU64(int64(a) < int64(b)), true
	case insts.OpMUL:
		return a * b, true
	case insts.OpDIV:
		if b == 0 {
			return 0, false
		}
		if int64(a) == math.MinInt64 && int64(b) == -1 {
			return a, true
		}
		return uint64(int64(a) / int64(b)), true
	case insts.OpREM:
		if b == 0 {
			return 0, false
		}
		if int64(a) == math.MinInt64 && int64(b) == -1 {
			return 0, true
		}
		return uint64(int64(a) % int64(b)), true
	case insts.OpADDI:
		return a + uint64(inst.Imm), true
	case insts.OpANDI:
		return a & zeroExt16(inst.Imm), true
	case insts.OpORI:
		return a | zeroExt16(inst.Imm), true
	case insts.OpXORI:
		return a ^ zeroExt16(inst.Imm), true
	case insts.OpSLTI:
		return boolToU64(int64(a) < inst.Imm), true
	case insts.OpLUI:
		return zeroExt16(inst.Imm) << 16, true
	case insts.OpFADD:
		return fbits(f64(a) + f64(b)), true
	case insts.OpFSUB:
		return fbits(f64(a) - f64(b)), true
	case insts.OpFMUL:
		return fbits(f64(a) * f64(b)), true
	case insts.OpFDIV:
		return fbits(f64(a) / f64(b)), true
	case insts.OpITOF:
		return fbits(float64(int64(a))), true
	case insts.OpFTOI:
		return ftoi(f64(a)), true
	}
	return 0, true
}

func ftoi(v float64) uint64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return 1 << 63
	default:
		return uint64(int64(v))
	}
}

func zeroExt16(imm int64) uint64 { return uint64(imm) & 0xFFFF }

func f64(v uint64) float64 { return math.Float64frombits(v) }

func fbits(v float64) uint64 { return math.Float64bits(v) }

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
