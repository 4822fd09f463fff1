// Package insts provides the reference instruction set used by the simulator:
// opcode definitions, decoding, encoding and a small assembler.
package insts

import "fmt"

// Op represents an opcode. The numeric value is the 6-bit opcode field.
type Op uint8

// Opcodes.
const (
	OpNOP Op = iota
	OpADD
	OpSUB
	OpAND
	OpOR
	OpXOR
	OpSLL
	OpSRL
	OpSLT
	OpMUL
	OpDIV
	OpREM
	OpADDI
	OpANDI
	OpORI
	OpXORI
	OpSLTI
	OpLUI
	OpLD
	OpLW
	OpST
	OpSW
	OpFLD
	OpFST
	OpFADD
	OpFSUB
	OpFMUL
	OpFDIV
	OpITOF
	OpFTOI
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpJAL
	OpJALR
	OpFENCE
	OpWFENCE
	OpERET
	OpMFSR
	OpHALT

	numOps

	// OpUndefined is produced for opcode fields with no definition.
	OpUndefined Op = 0xFF
)

// Format represents an instruction encoding format.
type Format uint8

// Instruction formats.
const (
	FormatNone     Format = iota
	FormatR               // rd, rs1, rs2
	FormatI               // rd, rs1, imm16
	FormatU               // rd, imm16
	FormatLoad            // rd, imm16(rs1)
	FormatStore           // rs2, imm16(rs1)
	FormatBranch          // rs1, rs2, imm16 word offset
	FormatJump            // rd, imm21 word offset
	FormatJumpReg         // rd, rs1, imm16
	FormatR1              // rd, rs1
	FormatUndefined       // no valid encoding
)

// OpClass groups operations by the functional unit that executes them.
type OpClass uint8

// Operation classes.
const (
	NoOpClass OpClass = iota
	IntAluClass
	IntMultClass
	IntDivClass
	FloatAddClass
	FloatMultClass
	FloatDivClass
	FloatCvtClass
	MemReadClass
	MemWriteClass
	BranchClass

	NumOpClasses
)

var opClassNames = [...]string{
	"No_OpClass", "IntAlu", "IntMult", "IntDiv", "FloatAdd", "FloatMult",
	"FloatDiv", "FloatCvt", "MemRead", "MemWrite", "Branch",
}

func (c OpClass) String() string {
	if int(c) < len(opClassNames) {
		return opClassNames[c]
	}
	return fmt.Sprintf("OpClass(%d)", c)
}

// ParseOpClass finds an operation class by name, e.g. "IntAlu".
func ParseOpClass(name string) (OpClass, error) {
	for i, n := range opClassNames {
		if n == name {
			return OpClass(i), nil
		}
	}
	return NoOpClass, fmt.Errorf("unknown op class %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (c OpClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *OpClass) UnmarshalText(text []byte) error {
	v, err := ParseOpClass(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

type flag uint16

const (
	flagLoad flag = 1 << iota
	flagStore
	flagControl
	flagCond
	flagDirect
	flagMemBarrier
	flagWriteBarrier
	flagNonSpec
	flagSerializeBefore
	flagHalt
)

type opInfo struct {
	name   string
	format Format
	class  OpClass
	flags  flag

	// Register class of each operand; true means floating point.
	dstF, src1F, src2F bool

	memSize int
}

var opTable = [numOps]opInfo{
	OpNOP:    {name: "nop", format: FormatNone, class: NoOpClass},
	OpADD:    {name: "add", format: FormatR, class: IntAluClass},
	OpSUB:    {name: "sub", format: FormatR, class: IntAluClass},
	OpAND:    {name: "and", format: FormatR, class: IntAluClass},
	OpOR:     {name: "or", format: FormatR, class: IntAluClass},
	OpXOR:    {name: "xor", format: FormatR, class: IntAluClass},
	OpSLL:    {name: "sll", format: FormatR, class: IntAluClass},
	OpSRL:    {name: "srl", format: FormatR, class: IntAluClass},
	OpSLT:    {name: "slt", format: FormatR, class: IntAluClass},
	OpMUL:    {name: "mul", format: FormatR, class: IntMultClass},
	OpDIV:    {name: "div", format: FormatR, class: IntDivClass},
	OpREM:    {name: "rem", format: FormatR, class: IntDivClass},
	OpADDI:   {name: "addi", format: FormatI, class: IntAluClass},
	OpANDI:   {name: "andi", format: FormatI, class: IntAluClass},
	OpORI:    {name: "ori", format: FormatI, class: IntAluClass},
	OpXORI:   {name: "xori", format: FormatI, class: IntAluClass},
	OpSLTI:   {name: "slti", format: FormatI, class: IntAluClass},
	OpLUI:    {name: "lui", format: FormatU, class: IntAluClass},
	OpLD:     {name: "ld", format: FormatLoad, class: MemReadClass, flags: flagLoad, memSize: 8},
	OpLW:     {name: "lw", format: FormatLoad, class: MemReadClass, flags: flagLoad, memSize: 4},
	OpST:     {name: "st", format: FormatStore, class: MemWriteClass, flags: flagStore, memSize: 8},
	OpSW:     {name: "sw", format: FormatStore, class: MemWriteClass, flags: flagStore, memSize: 4},
	OpFLD:    {name: "fld", format: FormatLoad, class: MemReadClass, flags: flagLoad, memSize: 8, dstF: true},
	OpFST:    {name: "fst", format: FormatStore, class: MemWriteClass, flags: flagStore, memSize: 8, src2F: true},
	OpFADD:   {name: "fadd", format: FormatR, class: FloatAddClass, dstF: true, src1F: true, src2F: true},
	OpFSUB:   {name: "fsub", format: FormatR, class: FloatAddClass, dstF: true, src1F: true, src2F: true},
	OpFMUL:   {name: "fmul", format: FormatR, class: FloatMultClass, dstF: true, src1F: true, src2F: true},
	OpFDIV:   {name: "fdiv", format: FormatR, class: FloatDivClass, dstF: true, src1F: true, src2F: true},
	OpITOF:   {name: "itof", format: FormatR1, class: FloatCvtClass, dstF: true},
	OpFTOI:   {name: "ftoi", format: FormatR1, class: FloatCvtClass, src1F: true},
	OpBEQ:    {name: "beq", format: FormatBranch, class: BranchClass, flags: flagControl | flagCond | flagDirect},
	OpBNE:    {name: "bne", format: FormatBranch, class: BranchClass, flags: flagControl | flagCond | flagDirect},
	OpBLT:    {name: "blt", format: FormatBranch, class: BranchClass, flags: flagControl | flagCond | flagDirect},
	OpBGE:    {name: "bge", format: FormatBranch, class: BranchClass, flags: flagControl | flagCond | flagDirect},
	OpJAL:    {name: "jal", format: FormatJump, class: BranchClass, flags: flagControl | flagDirect},
	OpJALR:   {name: "jalr", format: FormatJumpReg, class: BranchClass, flags: flagControl},
	OpFENCE:  {name: "fence", format: FormatNone, class: NoOpClass, flags: flagMemBarrier | flagNonSpec},
	OpWFENCE: {name: "wfence", format: FormatNone, class: NoOpClass, flags: flagWriteBarrier | flagNonSpec},
	OpERET: {
		name: "eret", format: FormatNone, class: BranchClass,
		flags: flagControl | flagNonSpec | flagSerializeBefore,
	},
	OpMFSR: {
		name: "mfsr", format: FormatU, class: IntAluClass,
		flags: flagNonSpec | flagSerializeBefore,
	},
	OpHALT: {name: "halt", format: FormatNone, class: NoOpClass, flags: flagNonSpec | flagHalt},
}

func (op Op) info() *opInfo {
	if op >= numOps {
		return &opInfo{name: "undefined", format: FormatUndefined}
	}
	return &opTable[op]
}

func (op Op) String() string {
	return op.info().name
}

// LookupOp finds an opcode by its assembler mnemonic.
func LookupOp(name string) (Op, bool) {
	for op := Op(0); op < numOps; op++ {
		if opTable[op].name == name {
			return op, true
		}
	}
	return OpUndefined, false
}

// System register selectors for MFSR.
const (
	SysRegEPC     = 0
	SysRegCause   = 1
	SysRegBadAddr = 2
)

// Instruction represents a decoded instruction.
type Instruction struct {
	Op     Op
	Format Format
	Word   uint32

	Rd  uint8 // destination register field
	Rs1 uint8 // first source (base register for memory ops)
	Rs2 uint8 // second source (data register for stores)
	Imm int64 // sign-extended immediate or word offset

	srcs  []RegID
	dests []RegID
}

// OpClass returns the functional unit class of the instruction.
func (i *Instruction) OpClass() OpClass { return i.Op.info().class }

// SrcRegs returns the flattened architectural source registers.
func (i *Instruction) SrcRegs() []RegID { return i.srcs }

// DestRegs returns the flattened architectural destination registers.
// The integer zero register is never reported as a destination.
func (i *Instruction) DestRegs() []RegID { return i.dests }

// IsLoad reports whether the instruction reads memory.
func (i *Instruction) IsLoad() bool { return i.has(flagLoad) }

// IsStore reports whether the instruction writes memory.
func (i *Instruction) IsStore() bool { return i.has(flagStore) }

// IsMemRef reports whether the instruction accesses memory.
func (i *Instruction) IsMemRef() bool { return i.has(flagLoad | flagStore) }

// IsControl reports whether the instruction can change control flow.
func (i *Instruction) IsControl() bool { return i.has(flagControl) }

// IsCondCtrl reports whether the instruction is a conditional branch.
func (i *Instruction) IsCondCtrl() bool { return i.has(flagCond) }

// IsUncondCtrl reports whether the instruction always transfers control.
func (i *Instruction) IsUncondCtrl() bool {
	return i.IsControl() && !i.IsCondCtrl()
}

// IsDirectCtrl reports whether the branch target is encoded in the
// instruction.
func (i *Instruction) IsDirectCtrl() bool { return i.has(flagDirect) }

// IsIndirectCtrl reports whether the branch target comes from a register.
func (i *Instruction) IsIndirectCtrl() bool {
	return i.IsControl() && !i.IsDirectCtrl()
}

// IsCall reports whether the instruction links into the link register.
func (i *Instruction) IsCall() bool {
	return (i.Op == OpJAL || i.Op == OpJALR) && i.Rd == LinkReg
}

// IsReturn reports whether the instruction returns through the link register.
func (i *Instruction) IsReturn() bool {
	return i.Op == OpJALR && i.Rd == 0 && i.Rs1 == LinkReg
}

// IsMemBarrier reports whether the instruction orders all memory accesses.
func (i *Instruction) IsMemBarrier() bool { return i.has(flagMemBarrier) }

// IsWriteBarrier reports whether the instruction orders stores.
func (i *Instruction) IsWriteBarrier() bool { return i.has(flagWriteBarrier) }

// IsNonSpeculative reports whether the instruction may only execute once it
// is the oldest in-flight instruction of its thread.
func (i *Instruction) IsNonSpeculative() bool { return i.has(flagNonSpec) }

// IsSerializeBefore reports whether renaming must wait for all older
// instructions to commit.
func (i *Instruction) IsSerializeBefore() bool { return i.has(flagSerializeBefore) }

// IsHalt reports whether the instruction stops its thread.
func (i *Instruction) IsHalt() bool { return i.has(flagHalt) }

// IsUndefined reports whether the word did not decode to a known opcode.
func (i *Instruction) IsUndefined() bool { return i.Op == OpUndefined }

// MemSize returns the access size in bytes of a memory instruction.
func (i *Instruction) MemSize() int { return i.Op.info().memSize }

// BranchTarget returns the target of a direct control instruction at pc.
func (i *Instruction) BranchTarget(pc uint64) uint64 {
	return pc + uint64(i.Imm*4)
}

func (i *Instruction) has(f flag) bool {
	return i.Op.info().flags&f != 0
}

func (i *Instruction) String() string {
	info := i.Op.info()
	rd := regName(i.Rd, info.dstF)
	rs1 := regName(i.Rs1, info.src1F)
	rs2 := regName(i.Rs2, info.src2F)

	switch info.format {
	case FormatR:
		return fmt.Sprintf("%s %s, %s, %s", info.name, rd, rs1, rs2)
	case FormatI, FormatJumpReg:
		return fmt.Sprintf("%s %s, %s, %d", info.name, rd, rs1, i.Imm)
	case FormatU:
		return fmt.Sprintf("%s %s, %d", info.name, rd, i.Imm)
	case FormatLoad:
		return fmt.Sprintf("%s %s, %d(%s)", info.name, rd, i.Imm, rs1)
	case FormatStore:
		return fmt.Sprintf("%s %s, %d(%s)", info.name, rs2, i.Imm, rs1)
	case FormatBranch:
		return fmt.Sprintf("%s %s, %s, %d", info.name, rs1, rs2, i.Imm)
	case FormatJump:
		return fmt.Sprintf("%s %s, %d", info.name, rd, i.Imm)
	case FormatR1:
		return fmt.Sprintf("%s %s, %s", info.name, rd, rs1)
	case FormatUndefined:
		return fmt.Sprintf("undefined 0x%08x", i.Word)
	default:
		return info.name
	}
}

func regName(idx uint8, float bool) string {
	if float {
		return fmt.Sprintf("f%d", idx)
	}
	return fmt.Sprintf("r%d", idx)
}
