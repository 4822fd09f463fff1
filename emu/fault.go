package emu

import "fmt"

// FaultKind enumerates guest-visible exceptional conditions.
type FaultKind uint8

// Fault kinds. The numeric value is reported in the Cause register.
const (
	FaultNone FaultKind = iota
	FaultAlignment
	FaultPage
	FaultPermission
	FaultDivideByZero
	FaultUndefined
	FaultInterrupt
)

var faultNames = [...]string{
	"none", "alignment", "page", "permission", "divide-by-zero",
	"undefined-instruction", "interrupt",
}

func (k FaultKind) String() string {
	if int(k) < len(faultNames) {
		return faultNames[k]
	}
	return fmt.Sprintf("fault(%d)", k)
}

// Fault is a guest fault. The zero value means no fault.
type Fault struct {
	Kind FaultKind
	// Addr is the data address for memory faults and the instruction
	// address otherwise.
	Addr uint64
}

// NoFault is the absence of a fault.
var NoFault = Fault{}

// IsFault reports whether f describes a fault.
func (f Fault) IsFault() bool { return f.Kind != FaultNone }

// Cause returns the value the fault stores into the Cause register.
func (f Fault) Cause() uint64 { return uint64(f.Kind) }

func (f Fault) String() string {
	if !f.IsFault() {
		return "no fault"
	}
	return fmt.Sprintf("%s fault at 0x%x", f.Kind, f.Addr)
}
