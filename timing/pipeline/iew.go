package pipeline

import (
	"sort"

	"github.com/sarchlab/o3sim/emu"
	"github.com/sarchlab/o3sim/timing/timebuf"
)

// IEWStats holds issue/execute/writeback stage counters.
type IEWStats struct {
	Dispatched         uint64
	DispSquashed       uint64
	DispNops           uint64
	DispLoads          uint64
	DispStores         uint64
	DispNonSpec        uint64
	Issued             uint64
	Executed           uint64
	ExecLoads          uint64
	ExecStores         uint64
	ExecBranches       uint64
	ExecSquashed       uint64
	WritebackCount     uint64
	Rescheduled        uint64
	BranchMispredicts  uint64
	MemOrderViolations uint64
	IQFullEvents       uint64
	LQFullEvents       uint64
	SQFullEvents       uint64
	BlockCycles        uint64
	SquashCycles       uint64
	UnblockCycles      uint64
	IdleCycles         uint64
	WBStalls           uint64
	SkidOverflows      uint64
}

type execPhase uint8

const (
	// phaseExecute completes when the functional unit finishes.
	phaseExecute execPhase = iota
	// phaseMemData completes when a load's data arrives.
	phaseMemData
)

type execEntry struct {
	inst  *DynInst
	ready uint64
	phase execPhase
}

type iewStage struct {
	cpu *CPU

	status      []ThreadStatus
	stageStatus StageStatus
	insts       [][]*DynInst
	skid        [][]*DynInst
	skidMax     int

	executing []execEntry

	dispatched       []int
	dispatchedLoads  []int
	dispatchedStores []int

	wroteToTimeBuffer bool

	fromRename timebuf.Wire[RenameStruct]
	fromCommit timebuf.Wire[TimeStruct]
	toRename   timebuf.Wire[TimeStruct]
	toCommit   timebuf.Wire[IEWStruct]

	stats IEWStats
}

func newIEWStage(c *CPU) *iewStage {
	p := &c.params
	n := p.NumThreads
	return &iewStage{
		cpu:              c,
		status:           make([]ThreadStatus, n),
		insts:            make([][]*DynInst, n),
		skid:             make([][]*DynInst, n),
		skidMax:          3*p.RenameToIEWDelay*p.RenameWidth + p.IssueWidth,
		dispatched:       make([]int, n),
		dispatchedLoads:  make([]int, n),
		dispatchedStores: make([]int, n),
		fromRename:       c.renameQueue.GetWire(-p.RenameToIEWDelay),
		fromCommit:       c.timeBuffer.GetWire(-p.CommitToIEWDelay),
		toRename:         c.timeBuffer.GetWire(0),
		toCommit:         c.iewQueue.GetWire(0),
	}
}

func (s *iewStage) tick() {
	s.wroteToTimeBuffer = false
	for tid := range s.dispatched {
		s.dispatched[tid] = 0
		s.dispatchedLoads[tid] = 0
		s.dispatchedStores[tid] = 0
	}

	c := s.cpu
	c.fuPool.ProcessFreeUnits()

	s.sortInsts()

	dispatchedTotal := 0
	for tid := range s.status {
		s.checkSignalsAndUpdate(tid)
		dispatchedTotal += s.dispatch(tid, dispatchedTotal)
	}

	s.writebackInsts()
	s.issueInsts()

	for tid := range s.status {
		s.processCommitInfo(tid)
	}

	s.reportQueues()
	s.updateStatus()

	if s.wroteToTimeBuffer {
		c.activity.Activity()
	}
}

func (s *iewStage) sortInsts() {
	for _, inst := range s.fromRename.Get().Insts {
		s.insts[inst.tid] = append(s.insts[inst.tid], inst)
	}
}

func (s *iewStage) hasWork() bool {
	if len(s.executing) > 0 || s.cpu.iq.HasReadyInsts() {
		return true
	}
	for tid, st := range s.status {
		if st == Unblocking || len(s.insts[tid]) > 0 || len(s.skid[tid]) > 0 {
			return true
		}
	}
	return false
}

func (s *iewStage) updateStatus() {
	if s.hasWork() {
		if s.stageStatus == Inactive {
			s.stageStatus = Active
			s.cpu.activity.ActivateStage(IEWIdx)
		}
		return
	}

	if s.stageStatus == Active {
		s.stageStatus = Inactive
		s.cpu.activity.DeactivateStage(IEWIdx)
	}
}

func (s *iewStage) checkSignalsAndUpdate(tid int) {
	ci := &s.fromCommit.Get().CommitInfo[tid]
	if ci.Squash {
		s.squash(ci.SquashSeqNum, tid)
		return
	}

	if ci.ROBSquashing {
		s.status[tid] = Squashing
		return
	}

	switch s.status[tid] {
	case Blocked:
		s.status[tid] = Unblocking
		s.unblock(tid)
	case Squashing:
		s.status[tid] = Running
		if len(s.skid[tid]) > 0 {
			s.status[tid] = Unblocking
		}
	}
}

func (s *iewStage) countDispatched(inst *DynInst) {
	tid := inst.tid
	s.dispatched[tid]++
	if inst.IsLoad() {
		s.dispatchedLoads[tid]++
	}
	if inst.IsStore() {
		s.dispatchedStores[tid]++
	}
}

func (s *iewStage) squash(seq uint64, tid int) {
	c := s.cpu
	c.iq.Squash(seq, tid)
	c.lsq.Squash(seq, tid)

	if s.status[tid] == Blocked || s.status[tid] == Unblocking {
		s.toRename.Get().IEWUnblock[tid] = true
		s.wroteToTimeBuffer = true
	}
	s.status[tid] = Squashing

	for _, q := range []*[]*DynInst{&s.insts[tid], &s.skid[tid]} {
		for _, inst := range *q {
			if inst.squashed {
				s.countDispatched(inst)
				s.stats.DispSquashed++
			}
		}
		removeSquashed(q)
	}
}

func (s *iewStage) block(tid int) {
	s.skidInsert(tid)
	if s.status[tid] != Blocked && s.status[tid] != Unblocking {
		s.toRename.Get().IEWBlock[tid] = true
		s.wroteToTimeBuffer = true
	}
	s.status[tid] = Blocked
}

func (s *iewStage) unblock(tid int) {
	if len(s.skid[tid]) == 0 {
		s.toRename.Get().IEWUnblock[tid] = true
		s.wroteToTimeBuffer = true
		s.status[tid] = Running
	}
}

func (s *iewStage) skidInsert(tid int) {
	s.skid[tid] = append(s.skid[tid], s.insts[tid]...)
	clear(s.insts[tid])
	s.insts[tid] = s.insts[tid][:0]

	if len(s.skid[tid]) > s.skidMax {
		s.stats.SkidOverflows++
		s.cpu.log.Error(nil, "IEW skid buffer exceeded its size",
			"tid", tid, "size", len(s.skid[tid]), "max", s.skidMax)
	}
}

func (s *iewStage) dispatch(tid, dispatchedTotal int) int {
	switch s.status[tid] {
	case Blocked:
		s.stats.BlockCycles++
		s.skidInsert(tid)
		return 0
	case Squashing:
		s.stats.SquashCycles++
		return 0
	case Unblocking:
		n := s.dispatchInsts(tid, &s.skid[tid], dispatchedTotal)
		if len(s.insts[tid]) > 0 {
			s.skidInsert(tid)
		}
		if s.status[tid] == Unblocking {
			s.stats.UnblockCycles++
			s.unblock(tid)
		}
		return n
	default:
		return s.dispatchInsts(tid, &s.insts[tid], dispatchedTotal)
	}
}

func (s *iewStage) dispatchInsts(tid int, source *[]*DynInst, dispatchedTotal int) int {
	if len(*source) == 0 {
		s.stats.IdleCycles++
		return 0
	}

	c := s.cpu
	n := 0
	blocked := false
	for len(*source) > 0 && dispatchedTotal+n < c.params.DispatchWidth {
		inst := (*source)[0]
		if inst.squashed {
			popFront(source)
			s.countDispatched(inst)
			s.stats.DispSquashed++
			continue
		}

		bypass := inst.fault.IsFault() || inst.IsNop()
		if !bypass && c.iq.NumFreeEntries(tid) <= 0 {
			s.stats.IQFullEvents++
			blocked = true
			break
		}
		if inst.IsLoad() && c.lsq.NumFreeLoadEntries(tid) <= 0 {
			s.stats.LQFullEvents++
			blocked = true
			break
		}
		if inst.IsStore() && c.lsq.NumFreeStoreEntries(tid) <= 0 {
			s.stats.SQFullEvents++
			blocked = true
			break
		}

		popFront(source)
		s.countDispatched(inst)
		n++
		s.stats.Dispatched++

		switch {
		case bypass:
			inst.issued = true
			inst.executed = true
			inst.canCommit = true
			s.stats.DispNops++
		case inst.IsMemBarrier() || inst.IsWriteBarrier():
			c.iq.InsertBarrier(inst)
			s.stats.DispNonSpec++
		case inst.IsMemRef():
			c.lsq.Insert(inst)
			if inst.IsNonSpeculative() {
				c.iq.InsertNonSpec(inst)
			} else {
				c.iq.Insert(inst)
			}
			if inst.IsLoad() {
				s.stats.DispLoads++
			} else {
				s.stats.DispStores++
			}
		case inst.IsNonSpeculative():
			c.iq.InsertNonSpec(inst)
			s.stats.DispNonSpec++
		default:
			c.iq.Insert(inst)
		}
	}

	if blocked || len(*source) > 0 {
		s.block(tid)
	}

	return n
}

func (s *iewStage) issueInsts() {
	c := s.cpu
	for _, inst := range c.iq.ScheduleReadyInsts() {
		lat := max(c.latency.ClassLatency(inst.inst.OpClass()), 1)
		s.executing = append(s.executing, execEntry{
			inst:  inst,
			ready: c.cycle + lat,
			phase: phaseExecute,
		})
		s.stats.Issued++
	}
}

// writebackInsts completes the operations due this cycle, oldest first,
// writing back at most the writeback width.
func (s *iewStage) writebackInsts() {
	c := s.cpu
	var due, pending []execEntry
	for _, e := range s.executing {
		if e.ready <= c.cycle {
			due = append(due, e)
		} else {
			pending = append(pending, e)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].inst.seqNum < due[j].inst.seqNum
	})

	written := 0
	for _, e := range due {
		inst := e.inst
		if inst.squashed {
			s.stats.ExecSquashed++
			continue
		}

		if written >= c.params.WBWidth {
			e.ready = c.cycle + 1
			pending = append(pending, e)
			s.stats.WBStalls++
			continue
		}

		if e.phase == phaseExecute {
			next, done := s.execute(inst)
			if next != nil {
				pending = append(pending, *next)
			}
			if !done {
				continue
			}
		}

		s.writeback(inst)
		written++
	}

	s.executing = pending
}

// execute computes the outcome of an instruction whose functional unit
// finished. It returns a follow-up entry for a load waiting on its data and
// whether the instruction is ready to write back.
func (s *iewStage) execute(inst *DynInst) (*execEntry, bool) {
	c := s.cpu
	s.stats.Executed++

	src := make([]uint64, len(inst.srcPhys))
	for i, r := range inst.srcPhys {
		src[i] = c.prf.Read(r)
	}

	out := emu.Execute(inst.inst, inst.pc, src, c.threads[inst.tid])
	inst.nextPC = out.NextPC
	inst.taken = out.Taken

	if out.Fault.IsFault() {
		inst.fault = out.Fault
		return nil, true
	}

	switch {
	case inst.IsLoad():
		s.stats.ExecLoads++
		inst.effAddr = out.EffAddr
		inst.effAddrValid = true

		res := c.lsq.ExecuteLoad(inst)
		switch res.status {
		case loadReschedule:
			s.stats.Rescheduled++
			c.iq.RescheduleMemInst(inst)
			return nil, false
		case loadFault:
			return nil, true
		}
		return &execEntry{inst: inst, ready: c.cycle + res.latency, phase: phaseMemData}, false

	case inst.IsStore():
		s.stats.ExecStores++
		inst.effAddr = out.EffAddr
		inst.effAddrValid = true
		inst.storeData = out.StoreData

		if load := c.lsq.ExecuteStore(inst); load != nil {
			c.iq.Violation(inst, load)
			s.squashDueToMemOrder(load)
		}
		return nil, true

	case inst.IsControl():
		s.stats.ExecBranches++
		inst.result = out.Result
		if out.NextPC != inst.predPC {
			inst.mispredicted = true
			s.squashDueToBranch(inst, out)
		}
		return nil, true

	default:
		inst.result = out.Result
		return nil, true
	}
}

func (s *iewStage) writeback(inst *DynInst) {
	c := s.cpu
	inst.executed = true

	for _, dest := range inst.destPhys {
		c.prf.Write(dest, inst.result)
	}
	c.iq.WakeDependents(inst)

	out := s.toCommit.Get()
	out.Insts = append(out.Insts, inst)
	s.wroteToTimeBuffer = true
	s.stats.WritebackCount++
}

func (s *iewStage) squashDueToBranch(inst *DynInst, out emu.Outcome) {
	req := &s.toCommit.Get().Squash[inst.tid]
	// The request raised by the oldest instruction wins; its squash
	// covers every younger trigger.
	if req.Valid && req.Inst.seqNum <= inst.seqNum {
		return
	}

	*req = SquashRequest{
		Valid:      true,
		Inst:       inst,
		SeqNum:     inst.seqNum,
		Mispredict: true,
		Taken:      out.Taken,
		NextPC:     out.NextPC,
	}
	s.wroteToTimeBuffer = true
	s.stats.BranchMispredicts++
	s.cpu.log.V(2).Info("branch mispredict", "inst", inst.String(),
		"pred", inst.predPC, "actual", out.NextPC)
}

func (s *iewStage) squashDueToMemOrder(load *DynInst) {
	req := &s.toCommit.Get().Squash[load.tid]
	if req.Valid && req.Inst.seqNum <= load.seqNum {
		return
	}

	*req = SquashRequest{
		Valid:  true,
		Inst:   load,
		SeqNum: load.seqNum - 1,
		NextPC: load.pc,
	}
	s.wroteToTimeBuffer = true
	s.stats.MemOrderViolations++
	s.cpu.log.V(2).Info("memory order violation", "load", load.String())
}

func (s *iewStage) processCommitInfo(tid int) {
	c := s.cpu
	ci := &s.fromCommit.Get().CommitInfo[tid]

	if ci.DoneSeqNum != 0 {
		c.iq.Commit(ci.DoneSeqNum, tid)
		if c.lsq.Commit(ci.DoneSeqNum, tid) > 0 {
			c.iq.ReplayMemInsts(tid)
		}
	}

	if ci.NonSpecSeqNum != 0 {
		c.iq.ScheduleNonSpec(ci.NonSpecSeqNum, tid)
	}
}

func (s *iewStage) reportQueues() {
	c := s.cpu
	out := s.toRename.Get()
	for tid := range s.status {
		info := &out.IEWInfo[tid]
		info.UsedIQ = true
		info.FreeIQEntries = c.iq.NumFreeEntries(tid)
		info.TotalFreeIQEntries = c.iq.NumTotalFreeEntries()
		info.UsedLSQ = true
		info.FreeLQEntries = c.lsq.NumFreeLoadEntries(tid)
		info.FreeSQEntries = c.lsq.NumFreeStoreEntries(tid)
		info.TotalFreeLQEntries = c.lsq.NumTotalFreeLoadEntries()
		info.TotalFreeSQEntries = c.lsq.NumTotalFreeStoreEntries()
		info.Dispatched = s.dispatched[tid]
		info.DispatchedLoads = s.dispatchedLoads[tid]
		info.DispatchedStores = s.dispatchedStores[tid]
		if s.dispatched[tid] > 0 {
			s.wroteToTimeBuffer = true
		}
	}
}
