package regs

import (
	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/invariant"
)

// RenameInfo is the result of renaming a destination register.
type RenameInfo struct {
	New  PhysReg
	Prev PhysReg
}

// RenameMap maps one thread's architectural registers to physical
// registers.
type RenameMap struct {
	freeList *FreeList
	table    [insts.NumArchRegs]PhysReg
}

// NewRenameMap creates a rename map whose initial mappings are allocated
// from fl. The integer zero register maps to ZeroPhysReg.
func NewRenameMap(fl *FreeList) *RenameMap {
	m := &RenameMap{freeList: fl}

	for i := range m.table {
		arch := insts.RegID(i)
		if arch == insts.ZeroReg {
			m.table[i] = ZeroPhysReg
			continue
		}

		r, ok := fl.Alloc(ClassOf(arch))
		if !ok {
			invariant.Panicf("RenameMap", 0, "not enough physical registers to map %s", arch)
		}
		m.table[i] = r
	}

	return m
}

// Rename allocates a new physical register for arch. It returns false,
// leaving the map unchanged, when the class has no free register. The
// integer zero register is never renamed.
func (m *RenameMap) Rename(arch insts.RegID) (RenameInfo, bool) {
	if arch == insts.ZeroReg {
		return RenameInfo{New: ZeroPhysReg, Prev: ZeroPhysReg}, true
	}

	r, ok := m.freeList.Alloc(ClassOf(arch))
	if !ok {
		return RenameInfo{New: InvalidPhysReg, Prev: InvalidPhysReg}, false
	}

	prev := m.table[arch]
	m.table[arch] = r

	return RenameInfo{New: r, Prev: prev}, true
}

// Lookup returns the current mapping of arch.
func (m *RenameMap) Lookup(arch insts.RegID) PhysReg {
	return m.table[arch]
}

// SetEntry overwrites the mapping of arch.
func (m *RenameMap) SetEntry(arch insts.RegID, r PhysReg) {
	m.table[arch] = r
}

// NumFreeEntries returns the number of destinations that can be renamed
// regardless of class.
func (m *RenameMap) NumFreeEntries() int {
	return min(m.freeList.NumFree(IntClass), m.freeList.NumFree(FloatClass))
}

// CanRename reports whether the free list can supply the given number of
// integer and floating-point destinations.
func (m *RenameMap) CanRename(numInt, numFloat int) bool {
	return m.freeList.NumFree(IntClass) >= numInt &&
		m.freeList.NumFree(FloatClass) >= numFloat
}

// Mappings returns a copy of the map indexed by architectural register.
func (m *RenameMap) Mappings() []PhysReg {
	out := make([]PhysReg, len(m.table))
	copy(out, m.table[:])
	return out
}

// Restore replaces every mapping. The caller rebuilds the free list.
func (m *RenameMap) Restore(mappings []PhysReg) {
	if len(mappings) != len(m.table) {
		invariant.Panicf("RenameMap", 0, "restoring %d mappings into a map of %d",
			len(mappings), len(m.table))
	}
	copy(m.table[:], mappings)
}
