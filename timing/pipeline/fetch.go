package pipeline

import (
	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/timebuf"
)

// FetchStats holds fetch stage counters.
type FetchStats struct {
	Insts          uint64
	Branches       uint64
	PredictedTaken uint64
	Cycles         uint64
	IdleCycles     uint64
	BlockedCycles  uint64
	SquashCycles   uint64
	Faults         uint64
	// WrongPathInsts counts instructions fetched while a squash of their
	// thread was still on its way to fetch.
	WrongPathInsts uint64
}

type fetchStage struct {
	cpu     *CPU
	decoder *insts.Decoder

	status      []ThreadStatus
	stageStatus StageStatus
	pc          []uint64
	stallDecode []bool

	// priority is the round-robin order of the threads.
	priority []int

	fromDecode timebuf.Wire[TimeStruct]
	fromCommit timebuf.Wire[TimeStruct]
	toDecode   timebuf.Wire[FetchStruct]

	stats FetchStats
}

func newFetchStage(c *CPU) *fetchStage {
	p := &c.params
	f := &fetchStage{
		cpu:         c,
		decoder:     insts.NewDecoder(),
		status:      make([]ThreadStatus, p.NumThreads),
		pc:          make([]uint64, p.NumThreads),
		stallDecode: make([]bool, p.NumThreads),
		fromDecode:  c.timeBuffer.GetWire(-p.DecodeToFetchDelay),
		fromCommit:  c.timeBuffer.GetWire(-p.CommitToFetchDelay),
		toDecode:    c.fetchQueue.GetWire(0),
	}

	for tid := 0; tid < p.NumThreads; tid++ {
		f.priority = append(f.priority, tid)
		f.pc[tid] = c.threads[tid].PC
		f.status[tid] = Running
	}
	f.stageStatus = Active
	c.activity.ActivateStage(FetchIdx)

	return f
}

func (f *fetchStage) tick() {
	statusChange := false
	for tid := range f.status {
		if f.checkSignalsAndUpdate(tid) {
			statusChange = true
		}
	}

	f.fetch()

	if statusChange {
		f.updateFetchStatus()
	}
}

func (f *fetchStage) updateFetchStatus() {
	for _, s := range f.status {
		if s == Running || s == Squashing {
			if f.stageStatus == Inactive {
				f.stageStatus = Active
				f.cpu.activity.ActivateStage(FetchIdx)
			}
			return
		}
	}

	if f.stageStatus == Active {
		f.stageStatus = Inactive
		f.cpu.activity.DeactivateStage(FetchIdx)
	}
}

func (f *fetchStage) checkSignalsAndUpdate(tid int) bool {
	fromDecode := f.fromDecode.Get()
	fromCommit := f.fromCommit.Get()

	if fromDecode.DecodeBlock[tid] {
		f.stallDecode[tid] = true
	}
	if fromDecode.DecodeUnblock[tid] {
		f.stallDecode[tid] = false
	}

	bp := f.cpu.bpred
	ci := &fromCommit.CommitInfo[tid]

	if ci.DoneSeqNum != 0 {
		bp.Update(ci.DoneSeqNum, tid)
	}

	if ci.Squash {
		if ci.BranchMispredict {
			bp.SquashMispredict(ci.SquashSeqNum, tid, ci.NextPC, ci.BranchTaken)
		} else {
			bp.Squash(ci.SquashSeqNum, tid)
		}

		f.pc[tid] = ci.NextPC
		f.cpu.redirectFetch(tid, ci.SquashEpoch)
		if ci.Halt {
			f.status[tid] = QuiescePending
		} else {
			f.status[tid] = Squashing
		}
		return true
	}

	di := &fromDecode.DecodeInfo[tid]
	if di.Squash && di.Inst != nil && !di.Inst.IsSquashed() {
		bp.SquashMispredict(di.DoneSeqNum, tid, di.NextPC, di.BranchTaken)
		f.pc[tid] = di.NextPC
		f.cpu.redirectFetch(tid, di.SquashEpoch)
		f.status[tid] = Squashing
		return true
	}

	switch f.status[tid] {
	case QuiescePending, TrapPending:
		return false
	}

	if f.stallDecode[tid] {
		if f.status[tid] != Blocked {
			f.status[tid] = Blocked
			return true
		}
		return false
	}

	if f.status[tid] == Blocked || f.status[tid] == Squashing || f.status[tid] == Idle {
		f.status[tid] = Running
		return true
	}

	return false
}

func (f *fetchStage) countCycle() {
	f.stats.Cycles++
	for _, s := range f.status {
		switch s {
		case Blocked:
			f.stats.BlockedCycles++
		case Squashing:
			f.stats.SquashCycles++
		}
	}
}

func (f *fetchStage) fetch() {
	f.countCycle()

	tid := f.selectThread()
	if tid < 0 {
		f.stats.IdleCycles++
		return
	}

	c := f.cpu
	out := f.toDecode.Get()
	pc := f.pc[tid]

	for fetched := 0; fetched < c.params.FetchWidth; fetched++ {
		word, fault := c.mem.Read32(pc)
		if fault.IsFault() {
			inst := f.newInst(tid, pc, f.decoder.Decode(0))
			inst.fault = fault
			out.Insts = append(out.Insts, inst)
			f.status[tid] = TrapPending
			f.stats.Faults++
			c.log.V(1).Info("fetch fault", "tid", tid, "pc", pc, "fault", fault.String())
			break
		}

		inst := f.newInst(tid, pc, f.decoder.Decode(word))
		out.Insts = append(out.Insts, inst)

		if inst.IsControl() {
			f.stats.Branches++
			taken, target := c.bpred.Predict(inst.seqNum, tid, pc, inst.inst)
			if taken {
				inst.predTaken = true
				inst.predPC = target
				f.stats.PredictedTaken++
			}
		}

		pc = inst.predPC

		if inst.IsHalt() {
			f.status[tid] = QuiescePending
			break
		}
		if inst.predTaken {
			break
		}
	}

	f.pc[tid] = pc
	c.activity.Activity()

	if f.status[tid] != Running {
		f.updateFetchStatus()
	}
}

func (f *fetchStage) newInst(tid int, pc uint64, si *insts.Instruction) *DynInst {
	c := f.cpu
	inst := newDynInst(c.nextSeqNum(), tid, pc, si)
	inst.fetchCycle = c.cycle
	c.addInst(inst)
	f.stats.Insts++
	if inst.squashed {
		f.stats.WrongPathInsts++
	}
	return inst
}

func (f *fetchStage) canFetch(tid int) bool {
	return f.status[tid] == Running && !f.cpu.halted[tid]
}

func (f *fetchStage) selectThread() int {
	if len(f.status) == 1 {
		if f.canFetch(0) {
			return 0
		}
		return -1
	}

	switch f.cpu.params.SMTFetchPolicy {
	case FetchICount:
		return f.iCount()
	default:
		return f.roundRobin()
	}
}

func (f *fetchStage) roundRobin() int {
	for i, tid := range f.priority {
		if !f.canFetch(tid) {
			continue
		}
		copy(f.priority[i:], f.priority[i+1:])
		f.priority[len(f.priority)-1] = tid
		return tid
	}
	return -1
}

func (f *fetchStage) iCount() int {
	best := -1
	for tid := range f.status {
		if !f.canFetch(tid) {
			continue
		}
		if best < 0 || len(f.cpu.instList[tid]) < len(f.cpu.instList[best]) {
			best = tid
		}
	}
	return best
}
