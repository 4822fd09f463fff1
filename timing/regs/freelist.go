package regs

import "github.com/sarchlab/o3sim/timing/invariant"

// FreeList tracks unallocated physical registers, one FIFO per class.
type FreeList struct {
	layout Layout
	lists  [numClasses][]PhysReg
	isFree []bool
}

// NewFreeList creates a free list holding every register except the zero
// register.
func NewFreeList(layout Layout) *FreeList {
	fl := &FreeList{
		layout: layout,
		isFree: make([]bool, layout.Total()),
	}

	for r := PhysReg(1); int(r) < layout.Total(); r++ {
		fl.push(r)
	}

	return fl
}

// Layout returns the register layout.
func (fl *FreeList) Layout() Layout { return fl.layout }

// Alloc removes the oldest free register of a class.
func (fl *FreeList) Alloc(c Class) (PhysReg, bool) {
	list := fl.lists[c]
	if len(list) == 0 {
		return InvalidPhysReg, false
	}

	r := list[0]
	fl.lists[c] = list[1:]
	fl.isFree[r] = false

	return r, true
}

// Free returns a register to its class's list. Freeing an out-of-range
// register, the zero register or a register that is already free is fatal.
func (fl *FreeList) Free(r PhysReg) {
	if !fl.layout.Contains(r) {
		invariant.Panicf("FreeList", 0, "freeing out-of-range register %d", r)
	}
	if r == ZeroPhysReg {
		invariant.Panicf("FreeList", 0, "freeing the zero register")
	}
	if fl.isFree[r] {
		invariant.Panicf("FreeList", 0, "double free of register %d", r)
	}

	fl.push(r)
}

func (fl *FreeList) push(r PhysReg) {
	c := fl.layout.ClassOf(r)
	fl.lists[c] = append(fl.lists[c], r)
	fl.isFree[r] = true
}

// NumFree returns the number of free registers of a class.
func (fl *FreeList) NumFree(c Class) int {
	return len(fl.lists[c])
}

// IsFree reports whether r is on the free list.
func (fl *FreeList) IsFree(r PhysReg) bool {
	return fl.layout.Contains(r) && fl.isFree[r]
}

// Rebuild empties the list and refills it with every register for which
// inUse returns false.
func (fl *FreeList) Rebuild(inUse func(PhysReg) bool) {
	for c := range fl.lists {
		fl.lists[c] = nil
	}
	for i := range fl.isFree {
		fl.isFree[i] = false
	}

	for r := PhysReg(1); int(r) < fl.layout.Total(); r++ {
		if !inUse(r) {
			fl.push(r)
		}
	}
}
