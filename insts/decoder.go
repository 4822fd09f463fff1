package insts

// Field layout of a 32-bit instruction word.
//
//	[31:26] opcode
//	[25:21] A  (rd, or rs1 for branches, or data register for stores)
//	[20:16] B  (rs1 / base, or rs2 for branches)
//	[15:11] C  (rs2 for three-register formats)
//	[15:0]  imm16, sign-extended
//	[20:0]  imm21 for JAL, sign-extended
const (
	opShift = 26
	aShift  = 21
	bShift  = 16
	cShift  = 11
	regMask = 0x1F
)

// Decoder decodes instruction words.
type Decoder struct{}

// NewDecoder creates a new instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes a 32-bit instruction word. Words whose opcode field has no
// definition decode to OpUndefined.
func (d *Decoder) Decode(word uint32) *Instruction {
	op := Op(word >> opShift)
	if op >= numOps {
		return &Instruction{Op: OpUndefined, Format: FormatUndefined, Word: word}
	}

	info := op.info()
	inst := &Instruction{Op: op, Format: info.format, Word: word}

	a := uint8((word >> aShift) & regMask)
	b := uint8((word >> bShift) & regMask)
	c := uint8((word >> cShift) & regMask)
	imm16 := int64(int16(word & 0xFFFF))

	switch info.format {
	case FormatR:
		inst.Rd, inst.Rs1, inst.Rs2 = a, b, c
	case FormatI, FormatJumpReg:
		inst.Rd, inst.Rs1, inst.Imm = a, b, imm16
	case FormatU:
		inst.Rd, inst.Imm = a, imm16
	case FormatLoad:
		inst.Rd, inst.Rs1, inst.Imm = a, b, imm16
	case FormatStore:
		inst.Rs2, inst.Rs1, inst.Imm = a, b, imm16
	case FormatBranch:
		inst.Rs1, inst.Rs2, inst.Imm = a, b, imm16
	case FormatJump:
		inst.Rd = a
		inst.Imm = signExtend(uint64(word&0x1FFFFF), 21)
	case FormatR1:
		inst.Rd, inst.Rs1 = a, b
	}

	inst.resolveOperands()

	return inst
}

// resolveOperands fills in the flattened source and destination lists.
func (i *Instruction) resolveOperands() {
	info := i.Op.info()

	switch info.format {
	case FormatR, FormatBranch:
		i.srcs = []RegID{flatten(i.Rs1, info.src1F), flatten(i.Rs2, info.src2F)}
	case FormatI, FormatLoad, FormatJumpReg, FormatR1:
		i.srcs = []RegID{flatten(i.Rs1, info.src1F)}
	case FormatStore:
		i.srcs = []RegID{flatten(i.Rs1, false), flatten(i.Rs2, info.src2F)}
	}

	switch info.format {
	case FormatR, FormatI, FormatU, FormatLoad, FormatJump, FormatJumpReg, FormatR1:
		dst := flatten(i.Rd, info.dstF)
		if dst != ZeroReg {
			i.dests = []RegID{dst}
		}
	}
}

func signExtend(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}
