package pipeline

import (
	"github.com/google/btree"

	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/depgraph"
	"github.com/sarchlab/o3sim/timing/invariant"
	"github.com/sarchlab/o3sim/timing/latency"
	"github.com/sarchlab/o3sim/timing/memdep"
	"github.com/sarchlab/o3sim/timing/regs"
	"github.com/sarchlab/o3sim/timing/rob"
)

// readyItem orders ready instructions oldest first.
type readyItem struct {
	inst *DynInst
}

func (r readyItem) Less(than btree.Item) bool {
	return r.inst.seqNum < than.(readyItem).inst.seqNum
}

// IQStats holds instruction queue counters.
type IQStats struct {
	InstsAdded            uint64
	NonSpecInstsAdded     uint64
	InstsIssued           uint64
	MemInstsIssued        uint64
	SquashedInstsExamined uint64
	SquashedOperands      uint64
	FUBusy                uint64
	Rescheduled           uint64
}

// InstQueue holds dispatched instructions until their operands are ready
// and issues them oldest first to the functional units. Memory
// instructions additionally wait on their thread's memory dependence unit.
type InstQueue struct {
	numEntries int
	limits     *rob.Limits
	count      []int
	total      int

	// instList holds every instruction dispatched to the queue that has
	// not committed or been squashed, per thread in program order.
	instList [][]*DynInst

	depGraph   *depgraph.DependencyGraph[*DynInst]
	scoreboard *regs.Scoreboard
	memDep     []*memdep.Unit
	ready      *btree.BTree
	nonSpec    map[uint64]*DynInst
	// released holds, per thread, non-speculative instructions commit
	// released before they were dispatched.
	released []map[uint64]struct{}

	fuPool     *latency.FUPool
	issueWidth int

	stats IQStats
}

// NewInstQueue creates an instruction queue sized by p.
func NewInstQueue(
	p *Params,
	scoreboard *regs.Scoreboard,
	fuPool *latency.FUPool,
) *InstQueue {
	iq := &InstQueue{
		numEntries: p.NumIQEntries,
		limits: rob.NewLimits(p.SMTIQPolicy, p.NumIQEntries,
			p.SMTIQThreshold, p.NumThreads),
		count:      make([]int, p.NumThreads),
		instList:   make([][]*DynInst, p.NumThreads),
		depGraph:   depgraph.New[*DynInst](p.Layout().Total()),
		scoreboard: scoreboard,
		ready:      btree.New(8),
		nonSpec:    make(map[uint64]*DynInst),
		released:   make([]map[uint64]struct{}, p.NumThreads),
		fuPool:     fuPool,
		issueWidth: p.IssueWidth,
	}

	for tid := 0; tid < p.NumThreads; tid++ {
		iq.released[tid] = make(map[uint64]struct{})
		iq.memDep = append(iq.memDep, memdep.NewUnit(p.StoreSet, tid, iq.memReady))
	}

	return iq
}

func (iq *InstQueue) memReady(inst memdep.Inst) {
	d := inst.(*DynInst)
	d.canIssue = true
	iq.ready.ReplaceOrInsert(readyItem{inst: d})
}

// NumFreeEntries returns how many more instructions thread tid may
// dispatch.
func (iq *InstQueue) NumFreeEntries(tid int) int {
	return iq.limits.Free(tid, iq.count[tid], iq.total)
}

// NumTotalFreeEntries returns the number of unused entries.
func (iq *InstQueue) NumTotalFreeEntries() int { return iq.numEntries - iq.total }

// NumInsts returns the number of entries thread tid holds.
func (iq *InstQueue) NumInsts(tid int) int { return iq.count[tid] }

// IsEmpty reports whether no entries are in use.
func (iq *InstQueue) IsEmpty() bool { return iq.total == 0 }

// HasReadyInsts reports whether any instruction is waiting to issue.
func (iq *InstQueue) HasReadyInsts() bool { return iq.ready.Len() > 0 }

// ResetEntries recomputes the per-thread caps for the active threads.
func (iq *InstQueue) ResetEntries(active []int) { iq.limits.Reset(active) }

// Insert adds a speculative instruction.
func (iq *InstQueue) Insert(inst *DynInst) {
	iq.add(inst)
	iq.stats.InstsAdded++

	if inst.IsMemRef() {
		iq.memDep[inst.tid].Insert(inst)
		return
	}
	iq.addIfReady(inst)
}

// InsertNonSpec adds an instruction that issues only once commit releases
// it with ScheduleNonSpec.
func (iq *InstQueue) InsertNonSpec(inst *DynInst) {
	iq.add(inst)
	iq.stats.NonSpecInstsAdded++
	iq.nonSpec[inst.seqNum] = inst

	if inst.IsMemRef() {
		iq.memDep[inst.tid].InsertNonSpec(inst)
	}

	if _, ok := iq.released[inst.tid][inst.seqNum]; ok {
		delete(iq.released[inst.tid], inst.seqNum)
		iq.ScheduleNonSpec(inst.seqNum, inst.tid)
	}
}

// InsertBarrier adds a memory or write barrier. It is non-speculative and
// orders younger memory instructions until it completes.
func (iq *InstQueue) InsertBarrier(inst *DynInst) {
	iq.memDep[inst.tid].InsertBarrier(inst)
	iq.InsertNonSpec(inst)
}

func (iq *InstQueue) add(inst *DynInst) {
	if iq.NumFreeEntries(inst.tid) <= 0 {
		invariant.Panicf("InstQueue", inst.seqNum, "insert into a full queue")
	}

	iq.instList[inst.tid] = append(iq.instList[inst.tid], inst)
	iq.count[inst.tid]++
	iq.total++
	inst.inIQ = true

	iq.addToDependents(inst)
	iq.addToProducers(inst)
}

func (iq *InstQueue) addToDependents(inst *DynInst) {
	if len(inst.srcPhys) == 0 {
		inst.canIssue = true
		return
	}

	for _, src := range inst.srcPhys {
		if iq.scoreboard.GetReg(src) {
			inst.markSrcRegReady()
			continue
		}
		iq.depGraph.Insert(int(src), inst)
	}
}

func (iq *InstQueue) addToProducers(inst *DynInst) {
	for _, dest := range inst.destPhys {
		if dest == regs.ZeroPhysReg {
			continue
		}
		if !iq.depGraph.Empty(int(dest)) {
			invariant.Panicf("InstQueue", inst.seqNum,
				"dependency graph of p%d not empty", dest)
		}
		iq.depGraph.SetInst(int(dest), inst)
	}
}

func (iq *InstQueue) addIfReady(inst *DynInst) {
	if !inst.canIssue {
		return
	}

	if inst.IsMemRef() {
		iq.memDep[inst.tid].RegsReady(inst)
		return
	}

	if inst.IsNonSpeculative() && !inst.atCommit {
		return
	}

	iq.ready.ReplaceOrInsert(readyItem{inst: inst})
}

// ScheduleNonSpec releases the non-speculative instruction seq of thread
// tid. A release that arrives before the instruction is dispatched is
// remembered.
func (iq *InstQueue) ScheduleNonSpec(seq uint64, tid int) {
	inst, ok := iq.nonSpec[seq]
	if !ok {
		iq.released[tid][seq] = struct{}{}
		return
	}
	delete(iq.nonSpec, seq)
	inst.atCommit = true

	if inst.IsMemRef() {
		iq.memDep[inst.tid].NonSpecInstReady(inst)
		return
	}
	iq.addIfReady(inst)
}

// ScheduleReadyInsts issues up to the issue width of ready instructions,
// oldest first, and returns them.
func (iq *InstQueue) ScheduleReadyInsts() []*DynInst {
	var candidates []readyItem
	iq.ready.Ascend(func(it btree.Item) bool {
		candidates = append(candidates, it.(readyItem))
		return true
	})

	var issued []*DynInst
	for _, item := range candidates {
		if len(issued) >= iq.issueWidth {
			break
		}

		inst := item.inst
		if inst.squashed {
			iq.ready.Delete(item)
			continue
		}

		class := inst.inst.OpClass()
		if class != insts.NoOpClass {
			idx := iq.fuPool.GetUnit(class)
			if idx == latency.NoFreeUnit {
				iq.stats.FUBusy++
				continue
			}
			if idx == latency.NoCapability {
				invariant.Panicf("InstQueue", inst.seqNum,
					"no functional unit executes %v", class)
			}
		}

		iq.ready.Delete(item)
		inst.issued = true
		iq.stats.InstsIssued++

		if inst.IsMemRef() {
			iq.memDep[inst.tid].Issue(inst)
			iq.stats.MemInstsIssued++
		} else {
			iq.freeEntry(inst)
		}

		issued = append(issued, inst)
	}

	return issued
}

func (iq *InstQueue) freeEntry(inst *DynInst) {
	if !inst.inIQ {
		return
	}
	inst.inIQ = false
	iq.count[inst.tid]--
	iq.total--
}

// WakeDependents marks the destinations of a completed instruction ready
// and releases the instructions waiting on them. It returns the number of
// instructions woken.
func (iq *InstQueue) WakeDependents(completed *DynInst) int {
	tid := completed.tid
	switch {
	case completed.IsMemRef():
		iq.memDep[tid].WakeDependents(completed)
		iq.completeMemInst(completed)
	case completed.IsMemBarrier() || completed.IsWriteBarrier():
		iq.memDep[tid].CompleteBarrier(completed)
	}

	woken := 0
	for _, dest := range completed.destPhys {
		if dest == regs.ZeroPhysReg {
			continue
		}

		for {
			consumer, ok := iq.depGraph.Pop(int(dest))
			if !ok {
				break
			}
			if consumer.squashed {
				continue
			}
			consumer.markSrcRegReady()
			iq.addIfReady(consumer)
			woken++
		}

		if p, ok := iq.depGraph.Producer(int(dest)); ok && p == completed {
			iq.depGraph.ClearInst(int(dest))
		}
		iq.scoreboard.SetReg(dest)
	}

	return woken
}

func (iq *InstQueue) completeMemInst(inst *DynInst) {
	iq.freeEntry(inst)
	inst.memOpDone = true
	iq.memDep[inst.tid].Completed(inst)
}

// RescheduleMemInst returns an issued memory instruction to the queue to be
// replayed by ReplayMemInsts.
func (iq *InstQueue) RescheduleMemInst(inst *DynInst) {
	inst.issued = false
	iq.stats.Rescheduled++
	iq.memDep[inst.tid].Reschedule(inst)
}

// ReplayMemInsts releases every rescheduled memory instruction of thread
// tid.
func (iq *InstQueue) ReplayMemInsts(tid int) {
	iq.memDep[tid].Replay()
}

// Violation trains the memory dependence predictor on a load that executed
// before an older store to the same address.
func (iq *InstQueue) Violation(store, load *DynInst) {
	iq.memDep[store.tid].Violation(store, load)
}

// Commit drops every instruction of thread tid at or older than seq.
func (iq *InstQueue) Commit(seq uint64, tid int) {
	list := iq.instList[tid]
	n := 0
	for n < len(list) && list[n].seqNum <= seq {
		list[n] = nil
		n++
	}
	iq.instList[tid] = list[n:]
}

// Squash removes every instruction of thread tid younger than seq,
// releasing their entries and dependency graph nodes.
func (iq *InstQueue) Squash(seq uint64, tid int) {
	list := iq.instList[tid]
	i := len(list)
	for i > 0 && list[i-1].seqNum > seq {
		i--
		inst := list[i]
		list[i] = nil
		iq.stats.SquashedInstsExamined++

		if inst.inIQ {
			for _, src := range inst.srcPhys {
				if iq.depGraph.Remove(int(src), inst) {
					iq.stats.SquashedOperands++
				}
			}
			iq.freeEntry(inst)
		}

		for _, dest := range inst.destPhys {
			if dest == regs.ZeroPhysReg {
				continue
			}
			if p, ok := iq.depGraph.Producer(int(dest)); ok && p == inst {
				iq.depGraph.ClearInst(int(dest))
			}
		}

		delete(iq.nonSpec, inst.seqNum)
		iq.ready.Delete(readyItem{inst: inst})
	}
	iq.instList[tid] = list[:i]

	for s := range iq.released[tid] {
		if s > seq {
			delete(iq.released[tid], s)
		}
	}

	iq.memDep[tid].Squash(seq)
}

// DepGraph exposes the dependency graph for inspection.
func (iq *InstQueue) DepGraph() *depgraph.DependencyGraph[*DynInst] { return iq.depGraph }

// MemDepUnit returns the memory dependence unit of thread tid.
func (iq *InstQueue) MemDepUnit(tid int) *memdep.Unit { return iq.memDep[tid] }

// Stats returns the queue counters.
func (iq *InstQueue) Stats() IQStats { return iq.stats }
