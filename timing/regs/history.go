package regs

import (
	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/invariant"
)

// HistoryEntry records one destination rename.
type HistoryEntry struct {
	SeqNum uint64
	Arch   insts.RegID
	New    PhysReg
	Prev   PhysReg
}

// HistoryBuffer holds one thread's renames in program order, oldest first.
// Physical registers return to the free list only through Commit and
// Squash.
type HistoryBuffer struct {
	entries []HistoryEntry
}

// NewHistoryBuffer creates an empty history buffer.
func NewHistoryBuffer() *HistoryBuffer {
	return &HistoryBuffer{}
}

// Push appends a rename. Entries must arrive in non-decreasing seq order.
func (h *HistoryBuffer) Push(e HistoryEntry) {
	if n := len(h.entries); n > 0 && h.entries[n-1].SeqNum > e.SeqNum {
		invariant.Panicf("HistoryBuffer", e.SeqNum,
			"out-of-order insert after sn:%d", h.entries[n-1].SeqNum)
	}
	h.entries = append(h.entries, e)
}

// Commit retires every entry with SeqNum <= seq, oldest first, freeing the
// previous mapping of each. It returns the number of entries retired.
func (h *HistoryBuffer) Commit(seq uint64, fl *FreeList) int {
	n := 0
	for n < len(h.entries) && h.entries[n].SeqNum <= seq {
		e := h.entries[n]
		if e.Prev != ZeroPhysReg {
			fl.Free(e.Prev)
		}
		n++
	}

	h.entries = h.entries[n:]
	if len(h.entries) == 0 {
		h.entries = nil
	}

	return n
}

// Squash undoes every entry with SeqNum > seq, youngest first: the mapping
// is restored in m and the new register freed. It returns the number of
// entries undone.
func (h *HistoryBuffer) Squash(seq uint64, m *RenameMap, fl *FreeList) int {
	n := 0
	for i := len(h.entries) - 1; i >= 0 && h.entries[i].SeqNum > seq; i-- {
		e := h.entries[i]
		m.SetEntry(e.Arch, e.Prev)
		if e.New != ZeroPhysReg {
			fl.Free(e.New)
		}
		n++
	}

	h.entries = h.entries[:len(h.entries)-n]

	return n
}

// Len returns the number of outstanding entries.
func (h *HistoryBuffer) Len() int { return len(h.entries) }

// Entries returns a copy of the outstanding entries, oldest first.
func (h *HistoryBuffer) Entries() []HistoryEntry {
	return append([]HistoryEntry(nil), h.entries...)
}
