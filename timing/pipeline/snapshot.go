package pipeline

import (
	"errors"
	"fmt"

	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/memdep"
	"github.com/sarchlab/o3sim/timing/regs"
	"github.com/sarchlab/o3sim/timing/rob"
)

// ThreadSnapshot is the checkpointable state of one thread.
type ThreadSnapshot struct {
	PC        uint64          `json:"pc"`
	Halted    bool            `json:"halted"`
	RenameMap []regs.PhysReg  `json:"rename_map"`
	MemDep    memdep.Snapshot `json:"mem_dep"`
	InFlight  []uint64        `json:"in_flight"`
}

// Snapshot is the checkpointable state of the core.
type Snapshot struct {
	Cycle   uint64           `json:"cycle"`
	Threads []ThreadSnapshot `json:"threads"`
	ROB     rob.Snapshot     `json:"rob"`
}

// Snapshot captures the rename maps, the ROB and the outstanding memory
// dependence entries.
func (c *CPU) Snapshot() Snapshot {
	s := Snapshot{
		Cycle: c.cycle,
		ROB:   c.rob.Snapshot(),
	}

	for tid, rf := range c.threads {
		ts := ThreadSnapshot{
			PC:        rf.PC,
			Halted:    c.halted[tid],
			RenameMap: c.renameMaps[tid].Mappings(),
			MemDep:    c.iq.MemDepUnit(tid).Snapshot(),
			InFlight:  []uint64{},
		}
		for _, inst := range c.instList[tid] {
			ts.InFlight = append(ts.InFlight, inst.seqNum)
		}
		s.Threads = append(s.Threads, ts)
	}

	return s
}

// ErrNotDrained is returned when restoring into a core with instructions in
// flight.
var ErrNotDrained = errors.New("core is not drained")

// RestoreArchState installs the register mappings of s into a drained core
// and reloads every mapped register from the thread contexts. The rename
// histories are discarded and the free list rebuilt from the new mappings.
func (c *CPU) RestoreArchState(s Snapshot) error {
	if !c.Drained() {
		return ErrNotDrained
	}
	if len(s.Threads) != len(c.threads) {
		return fmt.Errorf("snapshot has %d threads, core has %d",
			len(s.Threads), len(c.threads))
	}

	layout := c.freeList.Layout()
	inUse := make([]bool, layout.Total())
	for tid, ts := range s.Threads {
		if len(ts.RenameMap) != insts.NumArchRegs {
			return fmt.Errorf("thread %d: snapshot maps %d registers, want %d",
				tid, len(ts.RenameMap), insts.NumArchRegs)
		}
		for i, r := range ts.RenameMap {
			arch := insts.RegID(i)
			if arch == insts.ZeroReg {
				if r != regs.ZeroPhysReg {
					return fmt.Errorf("thread %d: zero register mapped to p%d", tid, r)
				}
				continue
			}
			if !layout.Contains(r) || r == regs.ZeroPhysReg ||
				layout.ClassOf(r) != regs.ClassOf(arch) {
				return fmt.Errorf("thread %d: %s cannot map to p%d", tid, arch, r)
			}
			if inUse[r] {
				return fmt.Errorf("thread %d: p%d mapped twice", tid, r)
			}
			inUse[r] = true
		}
	}

	for tid, ts := range s.Threads {
		c.renameMaps[tid].Restore(ts.RenameMap)
		c.histories[tid] = regs.NewHistoryBuffer()
	}
	c.freeList.Rebuild(func(r regs.PhysReg) bool { return inUse[r] })

	for tid := range c.threads {
		c.syncArchToPhys(tid)
	}

	return nil
}
