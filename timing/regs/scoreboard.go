package regs

import "math/bits"

// Scoreboard records which physical registers hold their final value.
type Scoreboard struct {
	words []uint64
	size  int
}

// NewScoreboard creates a scoreboard with every register ready.
func NewScoreboard(numRegs int) *Scoreboard {
	s := &Scoreboard{
		words: make([]uint64, (numRegs+63)/64),
		size:  numRegs,
	}
	for r := 0; r < numRegs; r++ {
		s.words[r/64] |= 1 << (r % 64)
	}
	return s
}

// GetReg reports whether r is ready. The zero register is always ready.
func (s *Scoreboard) GetReg(r PhysReg) bool {
	if r == ZeroPhysReg {
		return true
	}
	return s.words[r/64]&(1<<(r%64)) != 0
}

// SetReg marks r ready.
func (s *Scoreboard) SetReg(r PhysReg) {
	s.words[r/64] |= 1 << (r % 64)
}

// UnsetReg marks r not ready. It has no effect on the zero register.
func (s *Scoreboard) UnsetReg(r PhysReg) {
	if r == ZeroPhysReg {
		return
	}
	s.words[r/64] &^= 1 << (r % 64)
}

// NumReady returns the number of ready registers.
func (s *Scoreboard) NumReady() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}
