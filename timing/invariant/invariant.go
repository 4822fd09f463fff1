// Package invariant defines the panic value raised when a simulator
// structure detects that its internal bookkeeping has been corrupted.
package invariant

import "fmt"

// FatalError describes a violated structural invariant. Simulator
// structures panic with a *FatalError; the state is not recoverable.
type FatalError struct {
	// Structure names the component that detected the violation.
	Structure string
	// SeqNum is the sequence number of the instruction involved, or 0.
	SeqNum uint64
	// Msg describes the violation.
	Msg string
}

func (e *FatalError) Error() string {
	if e.SeqNum == 0 {
		return fmt.Sprintf("%s: %s", e.Structure, e.Msg)
	}
	return fmt.Sprintf("%s: [sn:%d] %s", e.Structure, e.SeqNum, e.Msg)
}

// Panicf panics with a *FatalError.
func Panicf(structure string, seq uint64, format string, args ...any) {
	panic(&FatalError{
		Structure: structure,
		SeqNum:    seq,
		Msg:       fmt.Sprintf(format, args...),
	})
}

// Recover converts a recovered *FatalError panic value into an error. Any
// other panic value is re-raised.
func Recover(r any) error {
	if r == nil {
		return nil
	}
	if fe, ok := r.(*FatalError); ok {
		return fe
	}
	panic(r)
}
