package insts

import "fmt"

// Architectural register counts.
const (
	NumIntRegs   = 32
	NumFloatRegs = 32
	NumArchRegs  = NumIntRegs + NumFloatRegs

	// ZeroReg always reads as zero and is never renamed.
	ZeroReg RegID = 0
	// LinkReg receives the return address of calls.
	LinkReg = 31
)

// RegID is a flattened architectural register index. Integer registers
// occupy [0, 32) and floating-point registers [32, 64).
type RegID uint8

// IntReg returns the flattened id of integer register i.
func IntReg(i uint8) RegID { return RegID(i) }

// FloatReg returns the flattened id of floating-point register i.
func FloatReg(i uint8) RegID { return RegID(NumIntRegs + int(i)) }

// IsFloat reports whether the register belongs to the floating-point class.
func (r RegID) IsFloat() bool { return r >= NumIntRegs }

// Index returns the register number within its class.
func (r RegID) Index() uint8 {
	if r.IsFloat() {
		return uint8(r) - NumIntRegs
	}
	return uint8(r)
}

func (r RegID) String() string {
	if r.IsFloat() {
		return fmt.Sprintf("f%d", r.Index())
	}
	return fmt.Sprintf("r%d", r.Index())
}

func flatten(idx uint8, float bool) RegID {
	if float {
		return FloatReg(idx)
	}
	return IntReg(idx)
}
