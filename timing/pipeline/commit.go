package pipeline

import (
	"github.com/sarchlab/o3sim/emu"
	"github.com/sarchlab/o3sim/timing/invariant"
	"github.com/sarchlab/o3sim/timing/timebuf"
)

// CommitStats holds commit stage counters.
type CommitStats struct {
	Committed          uint64
	CommittedPerThread []uint64
	CommittedLoads     uint64
	CommittedStores    uint64
	CommittedBranches  uint64
	CommittedNonSpec   uint64
	SquashedInsts      uint64
	BranchMispredicts  uint64
	MemOrderSquashes   uint64
	Traps              uint64
	Interrupts         uint64
	Halts              uint64
	SquashCycles       uint64
	TrapCycles         uint64
	IdleCycles         uint64
	// CommitHistogram counts the cycles in which n instructions committed.
	CommitHistogram []uint64
}

type commitStage struct {
	cpu *CPU

	status      []ThreadStatus
	stageStatus StageStatus

	trapCountdown []int
	trapInst      []*DynInst

	lastCommittedSeq []uint64
	doneSeq          []uint64
	robInserted      []int

	// priority is the round-robin order of the threads.
	priority []int

	haltRequests     []bool
	activateRequests []bool
	interrupts       []bool

	wroteToTimeBuffer bool

	fromRename timebuf.Wire[RenameStruct]
	fromIEW    timebuf.Wire[IEWStruct]
	toStages   timebuf.Wire[TimeStruct]

	stats CommitStats
}

func newCommitStage(c *CPU) *commitStage {
	p := &c.params
	n := p.NumThreads
	s := &commitStage{
		cpu:              c,
		status:           make([]ThreadStatus, n),
		trapCountdown:    make([]int, n),
		trapInst:         make([]*DynInst, n),
		lastCommittedSeq: make([]uint64, n),
		doneSeq:          make([]uint64, n),
		robInserted:      make([]int, n),
		haltRequests:     make([]bool, n),
		activateRequests: make([]bool, n),
		interrupts:       make([]bool, n),
		fromRename:       c.renameQueue.GetWire(-p.RenameToROBDelay),
		fromIEW:          c.iewQueue.GetWire(-p.IEWToCommitDelay),
		toStages:         c.timeBuffer.GetWire(0),
		stats: CommitStats{
			CommittedPerThread: make([]uint64, n),
			CommitHistogram:    make([]uint64, p.CommitWidth*n+1),
		},
	}

	for tid := 0; tid < n; tid++ {
		s.priority = append(s.priority, tid)
	}

	return s
}

func (s *commitStage) tick() {
	s.wroteToTimeBuffer = false
	for tid := range s.status {
		s.doneSeq[tid] = 0
		s.robInserted[tid] = 0
	}

	s.progressSquashes()
	s.commit()
	s.markCompletedInsts()
	s.getInsts()
	s.report()
	s.updateStatus()

	if s.wroteToTimeBuffer {
		s.cpu.activity.Activity()
	}
}

// progressSquashes continues the ROB squashes started in earlier cycles.
func (s *commitStage) progressSquashes() {
	rob := s.cpu.rob
	for tid, st := range s.status {
		if st != ROBSquashing {
			continue
		}

		s.stats.SquashCycles++
		if rob.IsDoneSquashing(tid) {
			s.status[tid] = Running
			continue
		}

		rob.DoSquash(tid)
		s.toStages.Get().CommitInfo[tid].ROBSquashing = true
		s.wroteToTimeBuffer = true
	}
}

func (s *commitStage) commit() {
	for tid := range s.status {
		if s.status[tid] != TrapPending {
			continue
		}
		s.stats.TrapCycles++
		s.trapCountdown[tid]--
		if s.trapCountdown[tid] <= 0 {
			s.squashFromTrap(tid)
		}
	}

	for tid := range s.status {
		if s.status[tid] != Running {
			continue
		}
		switch {
		case s.interrupts[tid]:
			s.handleInterrupt(tid)
		case s.haltRequests[tid]:
			s.handleHaltRequest(tid)
		case s.activateRequests[tid] && s.cpu.renameSettled(tid):
			s.handleActivateRequest(tid)
		}
	}

	fromIEW := s.fromIEW.Get()
	for tid := range s.status {
		req := &fromIEW.Squash[tid]
		if !req.Valid || s.status[tid] == TrapPending || req.Inst.IsSquashed() {
			continue
		}
		s.squashFromIEW(tid, req)
	}

	s.commitInsts()

	for tid := range s.status {
		s.signalNonSpec(tid)
	}
}

// squashAll squashes every instruction of thread tid younger than seq and
// broadcasts the squash to every earlier stage.
func (s *commitStage) squashAll(tid int, seq, nextPC uint64) *CommitComm {
	c := s.cpu
	c.rob.Squash(seq, tid)
	epoch := c.squashInstsAfter(tid, seq)
	s.status[tid] = ROBSquashing

	ci := &s.toStages.Get().CommitInfo[tid]
	ci.Squash = true
	ci.SquashSeqNum = seq
	ci.SquashEpoch = epoch
	ci.NextPC = nextPC
	s.wroteToTimeBuffer = true

	return ci
}

func (s *commitStage) squashFromIEW(tid int, req *SquashRequest) {
	ci := s.squashAll(tid, req.SeqNum, req.NextPC)
	if req.Mispredict {
		ci.BranchMispredict = true
		ci.BranchTaken = req.Taken
		ci.MispredictInst = req.Inst
		s.stats.BranchMispredicts++
	} else {
		s.stats.MemOrderSquashes++
	}

	s.cpu.log.V(1).Info("squash", "tid", tid, "sn", req.SeqNum,
		"next_pc", req.NextPC, "mispredict", req.Mispredict)
}

func (s *commitStage) startTrap(head *DynInst) {
	tid := head.tid
	s.status[tid] = TrapPending
	s.trapCountdown[tid] = s.cpu.params.TrapLatency
	s.trapInst[tid] = head
	s.stats.Traps++

	s.cpu.log.V(1).Info("trap pending", "tid", tid, "sn", head.seqNum,
		"pc", head.pc, "fault", head.fault.String())
}

// squashFromTrap redirects thread tid to its trap handler once the trap
// latency has elapsed. A thread without a handler halts with the fault as
// its exit status.
func (s *commitStage) squashFromTrap(tid int) {
	c := s.cpu
	head := s.trapInst[tid]
	s.trapInst[tid] = nil

	rf := c.threads[tid]
	handler, ok := rf.EnterTrap(head.fault, head.pc+4)
	if ok {
		rf.PC = handler
		s.squashAll(tid, head.seqNum-1, handler)
		c.log.V(1).Info("trap", "tid", tid, "sn", head.seqNum, "handler", handler)
		return
	}

	c.exitFault[tid] = head.fault
	c.halted[tid] = true
	ci := s.squashAll(tid, head.seqNum-1, head.pc)
	ci.Halt = true
	c.log.V(1).Info("unhandled fault halts thread", "tid", tid, "sn", head.seqNum,
		"fault", head.fault.String())
}

func (s *commitStage) handleInterrupt(tid int) {
	c := s.cpu
	s.interrupts[tid] = false

	rf := c.threads[tid]
	if rf.TrapVector == 0 {
		return
	}

	handler, _ := rf.EnterTrap(emu.Fault{Kind: emu.FaultInterrupt, Addr: rf.PC}, rf.PC)
	rf.PC = handler
	c.halted[tid] = false
	c.exitFault[tid] = emu.NoFault

	s.squashAll(tid, s.lastCommittedSeq[tid], handler)
	s.stats.Interrupts++
	c.log.V(1).Info("interrupt", "tid", tid, "handler", handler)
}

func (s *commitStage) handleHaltRequest(tid int) {
	c := s.cpu
	s.haltRequests[tid] = false
	if c.halted[tid] {
		return
	}

	c.halted[tid] = true
	ci := s.squashAll(tid, s.lastCommittedSeq[tid], c.threads[tid].PC)
	ci.Halt = true
	c.log.V(1).Info("halt thread", "tid", tid, "pc", c.threads[tid].PC)
}

func (s *commitStage) handleActivateRequest(tid int) {
	c := s.cpu
	s.activateRequests[tid] = false
	if !c.halted[tid] {
		return
	}

	c.syncArchToPhys(tid)
	c.halted[tid] = false
	c.exitFault[tid] = emu.NoFault
	s.squashAll(tid, s.lastCommittedSeq[tid], c.threads[tid].PC)
	c.log.V(1).Info("activate thread", "tid", tid, "pc", c.threads[tid].PC)
}

func (s *commitStage) canCommitThread(tid int) bool {
	return s.status[tid] == Running && !s.cpu.halted[tid]
}

// retireSquashedHeads removes the squashed instructions at the head of each
// committing thread. They do not use commit bandwidth.
func (s *commitStage) retireSquashedHeads() {
	rob := s.cpu.rob
	for tid := range s.status {
		if s.status[tid] != Running {
			continue
		}
		for {
			head, ok := rob.ReadHeadInst(tid)
			if !ok || !head.squashed {
				break
			}
			rob.RetireHead(tid)
			s.stats.SquashedInsts++
			s.wroteToTimeBuffer = true
		}
	}
}

func (s *commitStage) commitInsts() {
	s.retireSquashedHeads()

	n := 0
	switch s.cpu.params.SMTCommitPolicy {
	case CommitAggressive:
		for tid := range s.status {
			for i := 0; i < s.cpu.params.CommitWidth; i++ {
				if !s.commitReadyHead(tid) {
					break
				}
				n++
			}
		}
	default:
		for n < s.cpu.params.CommitWidth {
			tid := s.selectThread()
			if tid < 0 {
				break
			}
			if s.commitReadyHead(tid) {
				n++
			}
		}
	}

	if n == 0 {
		s.stats.IdleCycles++
	}
	s.stats.CommitHistogram[n]++
}

// commitReadyHead commits the head of thread tid if it is ready. It returns
// whether an instruction committed.
func (s *commitStage) commitReadyHead(tid int) bool {
	if !s.ready(tid) {
		return false
	}
	head, _ := s.cpu.rob.ReadHeadInst(tid)
	return s.commitHead(head)
}

func (s *commitStage) selectThread() int {
	if len(s.status) == 1 {
		if s.ready(0) {
			return 0
		}
		return -1
	}

	if s.cpu.params.SMTCommitPolicy == CommitOldestReady {
		return s.oldestReady()
	}
	return s.roundRobin()
}

func (s *commitStage) ready(tid int) bool {
	if !s.canCommitThread(tid) || !s.cpu.rob.IsHeadReady(tid) {
		return false
	}
	head, _ := s.cpu.rob.ReadHeadInst(tid)
	return !head.squashed
}

func (s *commitStage) roundRobin() int {
	for i, tid := range s.priority {
		if !s.ready(tid) {
			continue
		}
		copy(s.priority[i:], s.priority[i+1:])
		s.priority[len(s.priority)-1] = tid
		return tid
	}
	return -1
}

func (s *commitStage) oldestReady() int {
	best := -1
	var bestSeq uint64
	for tid := range s.status {
		if !s.ready(tid) {
			continue
		}
		head, _ := s.cpu.rob.ReadHeadInst(tid)
		if best < 0 || head.seqNum < bestSeq {
			best = tid
			bestSeq = head.seqNum
		}
	}
	return best
}

// commitHead retires head, updating the architectural state of its thread.
// A faulting head starts a trap instead and is not retired.
func (s *commitStage) commitHead(head *DynInst) bool {
	c := s.cpu
	tid := head.tid

	if head.fault.IsFault() {
		s.startTrap(head)
		return false
	}

	rf := c.threads[tid]
	for i, arch := range head.inst.DestRegs() {
		rf.WriteReg(arch, c.prf.Read(head.destPhys[i]))
	}

	if head.IsStore() {
		if f := c.lsq.WriteCommitted(head); f.IsFault() {
			invariant.Panicf("Commit", head.seqNum, "committed store faulted: %s", f)
		}
		s.stats.CommittedStores++
	}
	if head.IsLoad() {
		s.stats.CommittedLoads++
	}
	if head.IsControl() {
		s.stats.CommittedBranches++
	}
	if head.IsNonSpeculative() {
		s.stats.CommittedNonSpec++
	}

	rf.PC = head.nextPC
	c.rob.RetireHead(tid)
	s.wroteToTimeBuffer = true

	s.lastCommittedSeq[tid] = head.seqNum
	s.doneSeq[tid] = head.seqNum
	s.stats.Committed++
	s.stats.CommittedPerThread[tid]++
	c.instCommitted(head)

	c.log.V(2).Info("commit", "tid", tid, "sn", head.seqNum, "pc", head.pc)

	if head.IsHalt() {
		c.halted[tid] = true
		ci := s.squashAll(tid, head.seqNum, head.nextPC)
		ci.Halt = true
		s.stats.Halts++
		c.log.V(1).Info("thread halted", "tid", tid, "pc", head.pc)
	}

	return true
}

// signalNonSpec releases a non-speculative instruction waiting at the head
// of thread tid.
func (s *commitStage) signalNonSpec(tid int) {
	if s.status[tid] != Running {
		return
	}

	head, ok := s.cpu.rob.ReadHeadInst(tid)
	if !ok || head.squashed || head.canCommit || head.nonSpecSignaled ||
		!head.IsNonSpeculative() {
		return
	}

	head.nonSpecSignaled = true
	s.toStages.Get().CommitInfo[tid].NonSpecSeqNum = head.seqNum
	s.wroteToTimeBuffer = true
}

// markCompletedInsts marks the instructions IEW finished as ready to
// commit.
func (s *commitStage) markCompletedInsts() {
	for _, inst := range s.fromIEW.Get().Insts {
		if !inst.squashed {
			inst.SetCanCommit()
		}
	}
}

// getInsts inserts the instructions rename sent into the ROB.
func (s *commitStage) getInsts() {
	rob := s.cpu.rob
	for _, inst := range s.fromRename.Get().Insts {
		s.robInserted[inst.tid]++
		if inst.squashed {
			continue
		}
		rob.InsertInst(inst)
		s.wroteToTimeBuffer = true
	}
}

func (s *commitStage) report() {
	rob := s.cpu.rob
	out := s.toStages.Get()
	for tid := range s.status {
		ci := &out.CommitInfo[tid]
		ci.UsedROB = true
		ci.FreeROBEntries = rob.NumFreeEntries(tid)
		ci.TotalFreeROBEntries = rob.NumTotalFreeEntries()
		ci.EmptyROB = rob.ThreadEntries(tid) == 0
		ci.ROBInserted = s.robInserted[tid]
		ci.DoneSeqNum = s.doneSeq[tid]
		ci.InterruptPending = s.interrupts[tid]

		if s.robInserted[tid] > 0 || s.doneSeq[tid] != 0 {
			s.wroteToTimeBuffer = true
		}
	}
}

// hasRequests reports whether an interrupt or a halt or activate request is
// waiting.
func (s *commitStage) hasRequests() bool {
	for tid := range s.status {
		if s.interrupts[tid] || s.haltRequests[tid] || s.activateRequests[tid] {
			return true
		}
	}
	return false
}

func (s *commitStage) hasWork() bool {
	if !s.cpu.rob.IsEmpty() || s.hasRequests() {
		return true
	}
	for _, st := range s.status {
		if st != Running {
			return true
		}
	}
	return false
}

func (s *commitStage) updateStatus() {
	if s.hasWork() {
		if s.stageStatus == Inactive {
			s.stageStatus = Active
			s.cpu.activity.ActivateStage(CommitIdx)
		}
		return
	}

	if s.stageStatus == Active {
		s.stageStatus = Inactive
		s.cpu.activity.DeactivateStage(CommitIdx)
	}
}
