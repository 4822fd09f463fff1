package latency

import (
	"fmt"

	"github.com/sarchlab/o3sim/insts"
)

// FUPool tracks which functional units are busy.
type FUPool struct {
	table *Table

	names []string
	busy  []uint64 // cycles until free

	// Per class, the indices of capable units and a round-robin cursor.
	perClass [insts.NumOpClasses][]int
	next     [insts.NumOpClasses]int
}

// NoCapability is returned by GetUnit when no unit executes the class.
const NoCapability = -2

// NoFreeUnit is returned by GetUnit when every capable unit is busy.
const NoFreeUnit = -1

// NewFUPool creates the functional units described by the table's
// configuration.
func NewFUPool(table *Table) *FUPool {
	p := &FUPool{table: table}

	for _, u := range table.Config().Units {
		for k := 0; k < u.Count; k++ {
			idx := len(p.names)
			p.names = append(p.names, fmt.Sprintf("%s(%d)", u.Name, k))
			for _, cls := range u.Classes {
				p.perClass[cls] = append(p.perClass[cls], idx)
			}
		}
	}
	p.busy = make([]uint64, len(p.names))

	return p
}

// GetUnit reserves a free unit that executes class and returns its index,
// NoFreeUnit if all of them are busy, or NoCapability if none exists. The
// unit stays busy for the class's issue latency.
func (p *FUPool) GetUnit(class insts.OpClass) int {
	units := p.perClass[class]
	if len(units) == 0 {
		return NoCapability
	}

	start := p.next[class]
	for i := 0; i < len(units); i++ {
		pos := (start + i) % len(units)
		idx := units[pos]
		if p.busy[idx] == 0 {
			p.busy[idx] = p.table.IssueLatency(class)
			p.next[class] = (pos + 1) % len(units)
			return idx
		}
	}

	return NoFreeUnit
}

// ProcessFreeUnits advances the pool by one cycle, releasing units whose
// issue latency has elapsed.
func (p *FUPool) ProcessFreeUnits() {
	for i, b := range p.busy {
		if b > 0 {
			p.busy[i] = b - 1
		}
	}
}

// NumUnits returns the total number of units.
func (p *FUPool) NumUnits() int { return len(p.names) }

// NumBusy returns the number of busy units.
func (p *FUPool) NumBusy() int {
	n := 0
	for _, b := range p.busy {
		if b > 0 {
			n++
		}
	}
	return n
}

// Name returns the diagnostic name of a unit.
func (p *FUPool) Name(idx int) string { return p.names[idx] }

// Reset frees every unit.
func (p *FUPool) Reset() {
	for i := range p.busy {
		p.busy[i] = 0
	}
	p.next = [insts.NumOpClasses]int{}
}
