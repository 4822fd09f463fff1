package bpred

// RAS is a circular return address stack. Overflow overwrites the oldest
// entry.
type RAS struct {
	stack []uint64
	tos   int
}

// NewRAS creates a return address stack with numEntries entries.
func NewRAS(numEntries uint32) *RAS {
	return &RAS{stack: make([]uint64, numEntries)}
}

// Top returns the address on top of the stack.
func (r *RAS) Top() uint64 { return r.stack[r.tos] }

// TopIdx returns the index of the top of the stack.
func (r *RAS) TopIdx() int { return r.tos }

// Push pushes a return address.
func (r *RAS) Push(addr uint64) {
	r.tos++
	if r.tos == len(r.stack) {
		r.tos = 0
	}
	r.stack[r.tos] = addr
}

// Pop discards the top address.
func (r *RAS) Pop() {
	if r.tos == 0 {
		r.tos = len(r.stack)
	}
	r.tos--
}

// Restore makes idx the top of the stack and writes target there. It undoes
// a speculative pop.
func (r *RAS) Restore(idx int, target uint64) {
	r.tos = idx
	r.stack[r.tos] = target
}

// Reset empties the stack.
func (r *RAS) Reset() {
	r.tos = 0
	for i := range r.stack {
		r.stack[i] = 0
	}
}
