package insts

import "fmt"

// Encode returns the machine word of an instruction. Immediates that do not
// fit their field are reported as errors.
func Encode(inst *Instruction) (uint32, error) {
	if inst.Op >= numOps {
		return 0, fmt.Errorf("cannot encode opcode %d", inst.Op)
	}

	word := uint32(inst.Op) << opShift

	switch inst.Op.info().format {
	case FormatR:
		word |= reg(inst.Rd, aShift) | reg(inst.Rs1, bShift) | reg(inst.Rs2, cShift)
	case FormatI, FormatJumpReg, FormatLoad:
		if err := checkImm(inst, 16); err != nil {
			return 0, err
		}
		word |= reg(inst.Rd, aShift) | reg(inst.Rs1, bShift) | imm(inst.Imm, 16)
	case FormatU:
		if err := checkImm(inst, 16); err != nil {
			return 0, err
		}
		word |= reg(inst.Rd, aShift) | imm(inst.Imm, 16)
	case FormatStore:
		if err := checkImm(inst, 16); err != nil {
			return 0, err
		}
		word |= reg(inst.Rs2, aShift) | reg(inst.Rs1, bShift) | imm(inst.Imm, 16)
	case FormatBranch:
		if err := checkImm(inst, 16); err != nil {
			return 0, err
		}
		word |= reg(inst.Rs1, aShift) | reg(inst.Rs2, bShift) | imm(inst.Imm, 16)
	case FormatJump:
		if err := checkImm(inst, 21); err != nil {
			return 0, err
		}
		word |= reg(inst.Rd, aShift) | imm(inst.Imm, 21)
	case FormatR1:
		word |= reg(inst.Rd, aShift) | reg(inst.Rs1, bShift)
	}

	return word, nil
}

// MustEncode is like Encode but panics on error. It is intended for
// hand-built instruction sequences in tests and benchmarks.
func MustEncode(inst *Instruction) uint32 {
	w, err := Encode(inst)
	if err != nil {
		panic(err)
	}
	return w
}

// R builds a three-register instruction.
func R(op Op, rd, rs1, rs2 uint8) uint32 {
	return MustEncode(&Instruction{Op: op, Rd: rd, Rs1: rs1, Rs2: rs2})
}

// I builds a register-immediate instruction, including loads and JALR.
func I(op Op, rd, rs1 uint8, imm int64) uint32 {
	return MustEncode(&Instruction{Op: op, Rd: rd, Rs1: rs1, Imm: imm})
}

// S builds a store of src to imm(base).
func S(op Op, src, base uint8, imm int64) uint32 {
	return MustEncode(&Instruction{Op: op, Rs2: src, Rs1: base, Imm: imm})
}

// B builds a conditional branch with a word offset.
func B(op Op, rs1, rs2 uint8, off int64) uint32 {
	return MustEncode(&Instruction{Op: op, Rs1: rs1, Rs2: rs2, Imm: off})
}

// J builds a JAL with a word offset.
func J(rd uint8, off int64) uint32 {
	return MustEncode(&Instruction{Op: OpJAL, Rd: rd, Imm: off})
}

// N builds an instruction without operands.
func N(op Op) uint32 {
	return MustEncode(&Instruction{Op: op})
}

func reg(r uint8, shift uint) uint32 {
	return uint32(r&regMask) << shift
}

func imm(v int64, bits uint) uint32 {
	return uint32(v) & (1<<bits - 1)
}

func checkImm(inst *Instruction, bits uint) error {
	lo := -(int64(1) << (bits - 1))
	hi := int64(1)<<(bits-1) - 1
	if inst.Imm < lo || inst.Imm > hi {
		return fmt.Errorf("%s: immediate %d does not fit in %d bits",
			inst.Op, inst.Imm, bits)
	}
	return nil
}
