package pipeline

import (
	"github.com/sarchlab/o3sim/timing/invariant"
	"github.com/sarchlab/o3sim/timing/regs"
	"github.com/sarchlab/o3sim/timing/timebuf"
)

// RenameStats holds rename stage counters.
type RenameStats struct {
	Renamed              uint64
	Squashed             uint64
	RenamedOperands      uint64
	CommittedMaps        uint64
	UndoneMaps           uint64
	ROBFullEvents        uint64
	IQFullEvents         uint64
	LQFullEvents         uint64
	SQFullEvents         uint64
	FullRegisterEvents   uint64
	SerializingInsts     uint64
	RunCycles            uint64
	IdleCycles           uint64
	BlockCycles          uint64
	UnblockCycles        uint64
	SquashCycles         uint64
	SerializeStallCycles uint64
	SkidOverflows        uint64
}

type renameStage struct {
	cpu *CPU

	status      []ThreadStatus
	stageStatus StageStatus
	insts       [][]*DynInst
	skid        [][]*DynInst
	skidMax     int
	stalls      []bool

	// Free entries as last reported by IEW and commit.
	freeROB, freeIQ, freeLQ, freeSQ []int
	totalFreeROB, totalFreeIQ        int
	totalFreeLQ, totalFreeSQ         int
	emptyROB                         []bool

	// Instructions renamed but not yet taken by IEW or the ROB.
	robInProgress    []int
	iqInProgress     []int
	loadsInProgress  []int
	storesInProgress []int

	serializeInst     []*DynInst
	resumeSerialize   []bool
	resumeUnblocking  []bool
	blockThisCycle    bool
	wroteToTimeBuffer bool

	fromDecode timebuf.Wire[DecodeStruct]
	fromIEW    timebuf.Wire[TimeStruct]
	fromCommit timebuf.Wire[TimeStruct]
	toDecode   timebuf.Wire[TimeStruct]
	toIEW      timebuf.Wire[RenameStruct]

	stats RenameStats
}

func newRenameStage(c *CPU) *renameStage {
	p := &c.params
	n := p.NumThreads
	r := &renameStage{
		cpu:              c,
		status:           make([]ThreadStatus, n),
		insts:            make([][]*DynInst, n),
		skid:             make([][]*DynInst, n),
		skidMax:          p.DecodeToRenameDelay*p.DecodeWidth + p.RenameWidth,
		stalls:           make([]bool, n),
		freeROB:          make([]int, n),
		freeIQ:           make([]int, n),
		freeLQ:           make([]int, n),
		freeSQ:           make([]int, n),
		totalFreeROB:     p.NumROBEntries,
		totalFreeIQ:      p.NumIQEntries,
		totalFreeLQ:      p.LQEntries,
		totalFreeSQ:      p.SQEntries,
		emptyROB:         make([]bool, n),
		robInProgress:    make([]int, n),
		iqInProgress:     make([]int, n),
		loadsInProgress:  make([]int, n),
		storesInProgress: make([]int, n),
		serializeInst:    make([]*DynInst, n),
		resumeSerialize:  make([]bool, n),
		resumeUnblocking: make([]bool, n),
		fromDecode:       c.decodeQueue.GetWire(-p.DecodeToRenameDelay),
		fromIEW:          c.timeBuffer.GetWire(-p.IEWToRenameDelay),
		fromCommit:       c.timeBuffer.GetWire(-p.CommitToRenameDelay),
		toDecode:         c.timeBuffer.GetWire(0),
		toIEW:            c.renameQueue.GetWire(0),
	}

	for tid := 0; tid < n; tid++ {
		r.freeROB[tid] = c.rob.NumFreeEntries(tid)
		r.freeIQ[tid] = c.iq.NumFreeEntries(tid)
		r.freeLQ[tid] = c.lsq.NumFreeLoadEntries(tid)
		r.freeSQ[tid] = c.lsq.NumFreeStoreEntries(tid)
		r.emptyROB[tid] = true
	}

	return r
}

func (r *renameStage) tick() {
	r.wroteToTimeBuffer = false
	r.blockThisCycle = false
	statusChange := false

	r.sortInsts()

	for tid := range r.status {
		r.readFreeEntries(tid)
		r.removeFromHistory(tid)
		if r.checkSignalsAndUpdate(tid) {
			statusChange = true
		}
		r.rename(tid)
	}

	if statusChange || r.stageStatus == Active {
		r.updateStatus()
	}

	if r.wroteToTimeBuffer {
		r.cpu.activity.Activity()
	}
}

func (r *renameStage) sortInsts() {
	for _, inst := range r.fromDecode.Get().Insts {
		r.insts[inst.tid] = append(r.insts[inst.tid], inst)
	}
}

func (r *renameStage) hasWork() bool {
	for tid, s := range r.status {
		if s == Unblocking || s == SerializeStall ||
			len(r.insts[tid]) > 0 || len(r.skid[tid]) > 0 {
			return true
		}
	}
	return false
}

func (r *renameStage) updateStatus() {
	if r.hasWork() {
		if r.stageStatus == Inactive {
			r.stageStatus = Active
			r.cpu.activity.ActivateStage(RenameIdx)
		}
		return
	}

	if r.stageStatus == Active {
		r.stageStatus = Inactive
		r.cpu.activity.DeactivateStage(RenameIdx)
	}
}

func (r *renameStage) readFreeEntries(tid int) {
	ii := &r.fromIEW.Get().IEWInfo[tid]
	r.iqInProgress[tid] -= ii.Dispatched
	r.loadsInProgress[tid] -= ii.DispatchedLoads
	r.storesInProgress[tid] -= ii.DispatchedStores
	if ii.UsedIQ {
		r.freeIQ[tid] = ii.FreeIQEntries
		r.totalFreeIQ = ii.TotalFreeIQEntries
	}
	if ii.UsedLSQ {
		r.freeLQ[tid] = ii.FreeLQEntries
		r.freeSQ[tid] = ii.FreeSQEntries
		r.totalFreeLQ = ii.TotalFreeLQEntries
		r.totalFreeSQ = ii.TotalFreeSQEntries
	}

	ci := &r.fromCommit.Get().CommitInfo[tid]
	r.robInProgress[tid] -= ci.ROBInserted
	if ci.UsedROB {
		r.freeROB[tid] = ci.FreeROBEntries
		r.totalFreeROB = ci.TotalFreeROBEntries
		r.emptyROB[tid] = ci.EmptyROB
	}

	if r.robInProgress[tid] < 0 || r.iqInProgress[tid] < 0 ||
		r.loadsInProgress[tid] < 0 || r.storesInProgress[tid] < 0 {
		invariant.Panicf("Rename", 0,
			"thread %d in-progress counts went negative: rob %d iq %d lq %d sq %d",
			tid, r.robInProgress[tid], r.iqInProgress[tid],
			r.loadsInProgress[tid], r.storesInProgress[tid])
	}
}

func (r *renameStage) removeFromHistory(tid int) {
	ci := &r.fromCommit.Get().CommitInfo[tid]
	if ci.DoneSeqNum == 0 {
		return
	}
	n := r.cpu.histories[tid].Commit(ci.DoneSeqNum, r.cpu.freeList)
	r.stats.CommittedMaps += uint64(n)
}

func sumInts(v []int) int {
	s := 0
	for _, x := range v {
		s += x
	}
	return s
}

func (r *renameStage) calcFreeROBEntries(tid int) int {
	return min(r.freeROB[tid]-r.robInProgress[tid],
		r.totalFreeROB-sumInts(r.robInProgress))
}

func (r *renameStage) calcFreeIQEntries(tid int) int {
	return min(r.freeIQ[tid]-r.iqInProgress[tid],
		r.totalFreeIQ-sumInts(r.iqInProgress))
}

func (r *renameStage) calcFreeLQEntries(tid int) int {
	return min(r.freeLQ[tid]-r.loadsInProgress[tid],
		r.totalFreeLQ-sumInts(r.loadsInProgress))
}

func (r *renameStage) calcFreeSQEntries(tid int) int {
	return min(r.freeSQ[tid]-r.storesInProgress[tid],
		r.totalFreeSQ-sumInts(r.storesInProgress))
}

// serializeDrained reports whether every instruction older than a
// serializing instruction has left the ROB.
func (r *renameStage) serializeDrained(tid int) bool {
	return r.emptyROB[tid] && r.robInProgress[tid] == 0
}

func (r *renameStage) checkStall(tid int) bool {
	switch {
	case r.stalls[tid]:
		return true
	case r.calcFreeROBEntries(tid) <= 0:
		return true
	case r.calcFreeIQEntries(tid) <= 0:
		return true
	case r.calcFreeLQEntries(tid) <= 0 && r.calcFreeSQEntries(tid) <= 0:
		return true
	case r.status[tid] == SerializeStall && !r.serializeDrained(tid):
		return true
	}
	return false
}

func (r *renameStage) checkSignalsAndUpdate(tid int) bool {
	fromIEW := r.fromIEW.Get()
	if fromIEW.IEWBlock[tid] {
		r.stalls[tid] = true
	}
	if fromIEW.IEWUnblock[tid] {
		r.stalls[tid] = false
	}

	ci := &r.fromCommit.Get().CommitInfo[tid]
	if ci.Squash {
		r.squash(ci.SquashSeqNum, tid)
		return true
	}

	if ci.ROBSquashing {
		r.status[tid] = Squashing
		return true
	}

	if r.checkStall(tid) {
		return r.block(tid)
	}

	switch r.status[tid] {
	case Blocked:
		r.status[tid] = Unblocking
		r.unblock(tid)
		return true

	case Squashing:
		switch {
		case r.resumeSerialize[tid]:
			r.resumeSerialize[tid] = false
			r.status[tid] = SerializeStall
			return true
		case r.resumeUnblocking[tid]:
			r.resumeUnblocking[tid] = false
			r.toDecode.Get().RenameBlock[tid] = true
			r.wroteToTimeBuffer = true
			r.status[tid] = Blocked
			return true
		}
		r.status[tid] = Running
		if len(r.skid[tid]) > 0 {
			r.status[tid] = Unblocking
		}
		return false

	case SerializeStall:
		// The serializing instruction is still at the front of the skid
		// buffer, marked handled.
		r.serializeInst[tid] = nil
		r.resumeUnblocking[tid] = false
		r.status[tid] = Unblocking
		r.unblock(tid)
		return true
	}

	return false
}

func (r *renameStage) squash(seq uint64, tid int) {
	switch r.status[tid] {
	case Blocked, Unblocking:
		r.toDecode.Get().RenameUnblock[tid] = true
		r.wroteToTimeBuffer = true
		r.resumeSerialize[tid] = false
		r.serializeInst[tid] = nil
	case SerializeStall:
		if si := r.serializeInst[tid]; si != nil && si.seqNum <= seq {
			r.resumeSerialize[tid] = true
		} else {
			r.resumeSerialize[tid] = false
			r.serializeInst[tid] = nil
			r.toDecode.Get().RenameUnblock[tid] = true
			r.wroteToTimeBuffer = true
		}
	}
	r.resumeUnblocking[tid] = false
	r.status[tid] = Squashing

	r.stats.Squashed += uint64(removeSquashed(&r.insts[tid]))
	r.stats.Squashed += uint64(removeSquashed(&r.skid[tid]))

	n := r.cpu.histories[tid].Squash(seq, r.cpu.renameMaps[tid], r.cpu.freeList)
	r.stats.UndoneMaps += uint64(n)
}

func (r *renameStage) block(tid int) bool {
	r.skidInsert(tid)

	if r.status[tid] != Blocked {
		if r.resumeUnblocking[tid] || r.status[tid] != Unblocking {
			r.toDecode.Get().RenameBlock[tid] = true
			r.wroteToTimeBuffer = true
		}

		if r.status[tid] != SerializeStall {
			r.status[tid] = Blocked
			return true
		}
		r.resumeUnblocking[tid] = true
	}
	return false
}

func (r *renameStage) unblock(tid int) bool {
	if len(r.skid[tid]) == 0 && r.status[tid] != SerializeStall {
		r.toDecode.Get().RenameUnblock[tid] = true
		r.wroteToTimeBuffer = true
		r.status[tid] = Running
		return true
	}
	return false
}

func (r *renameStage) skidInsert(tid int) {
	r.skid[tid] = append(r.skid[tid], r.insts[tid]...)
	clear(r.insts[tid])
	r.insts[tid] = r.insts[tid][:0]

	if len(r.skid[tid]) > r.skidMax {
		r.stats.SkidOverflows++
		r.cpu.log.Error(nil, "rename skid buffer exceeded its size",
			"tid", tid, "size", len(r.skid[tid]), "max", r.skidMax)
	}
}

func (r *renameStage) rename(tid int) {
	switch r.status[tid] {
	case Blocked:
		r.stats.BlockCycles++
	case Squashing:
		r.stats.SquashCycles++
	case SerializeStall:
		r.stats.SerializeStallCycles++
	case Running, Idle:
		r.renameInsts(tid, &r.insts[tid])
	case Unblocking:
		r.renameInsts(tid, &r.skid[tid])
		if len(r.insts[tid]) > 0 {
			r.skidInsert(tid)
		}
		r.unblock(tid)
	}
}

func (r *renameStage) renameInsts(tid int, source *[]*DynInst) {
	available := len(*source)
	if available == 0 {
		r.stats.IdleCycles++
		return
	}

	if r.status[tid] == Unblocking {
		r.stats.UnblockCycles++
	} else {
		r.stats.RunCycles++
	}

	freeROB := r.calcFreeROBEntries(tid)
	freeIQ := r.calcFreeIQEntries(tid)
	minFree := min(freeROB, freeIQ)
	if minFree <= 0 {
		if freeROB <= 0 {
			r.stats.ROBFullEvents++
		} else {
			r.stats.IQFullEvents++
		}
		r.block(tid)
		return
	}
	if minFree < available {
		available = minFree
		r.blockThisCycle = true
	}

	c := r.cpu
	out := r.toIEW.Get()
	for available > 0 && len(out.Insts) < c.params.RenameWidth {
		inst := (*source)[0]
		if inst.squashed {
			popFront(source)
			r.stats.Squashed++
			available--
			continue
		}

		if inst.IsLoad() && r.calcFreeLQEntries(tid) <= 0 {
			r.stats.LQFullEvents++
			r.blockThisCycle = true
			break
		}
		if inst.IsStore() && r.calcFreeSQEntries(tid) <= 0 {
			r.stats.SQFullEvents++
			r.blockThisCycle = true
			break
		}

		numInt, numFloat := countDestClasses(inst)
		if !c.renameMaps[tid].CanRename(numInt, numFloat) {
			r.stats.FullRegisterEvents++
			r.blockThisCycle = true
			break
		}

		if inst.IsSerializeBefore() && !inst.serializeHandled {
			inst.serializeHandled = true
			r.serializeInst[tid] = inst
			r.status[tid] = SerializeStall
			r.stats.SerializingInsts++
			r.blockThisCycle = true
			break
		}

		popFront(source)
		r.renameSrcRegs(inst)
		r.renameDestRegs(inst)

		out.Insts = append(out.Insts, inst)
		r.robInProgress[tid]++
		r.iqInProgress[tid]++
		if inst.IsLoad() {
			r.loadsInProgress[tid]++
		}
		if inst.IsStore() {
			r.storesInProgress[tid]++
		}
		r.stats.Renamed++
		r.wroteToTimeBuffer = true
		available--
	}

	if r.blockThisCycle || len(*source) > 0 {
		r.block(tid)
	}
}

func countDestClasses(inst *DynInst) (numInt, numFloat int) {
	for _, arch := range inst.inst.DestRegs() {
		if regs.ClassOf(arch) == regs.FloatClass {
			numFloat++
		} else {
			numInt++
		}
	}
	return numInt, numFloat
}

func (r *renameStage) renameSrcRegs(inst *DynInst) {
	rm := r.cpu.renameMaps[inst.tid]
	srcs := inst.inst.SrcRegs()
	inst.srcPhys = make([]regs.PhysReg, len(srcs))
	for i, arch := range srcs {
		inst.srcPhys[i] = rm.Lookup(arch)
	}
	r.stats.RenamedOperands += uint64(len(srcs))
}

func (r *renameStage) renameDestRegs(inst *DynInst) {
	c := r.cpu
	rm := c.renameMaps[inst.tid]
	dests := inst.inst.DestRegs()
	inst.destPhys = make([]regs.PhysReg, len(dests))
	inst.prevDestPhys = make([]regs.PhysReg, len(dests))

	for i, arch := range dests {
		info, ok := rm.Rename(arch)
		if !ok {
			invariant.Panicf("Rename", inst.seqNum, "no free register for %v", arch)
		}
		c.histories[inst.tid].Push(regs.HistoryEntry{
			SeqNum: inst.seqNum,
			Arch:   arch,
			New:    info.New,
			Prev:   info.Prev,
		})
		c.scoreboard.UnsetReg(info.New)
		inst.destPhys[i] = info.New
		inst.prevDestPhys[i] = info.Prev
	}
	r.stats.RenamedOperands += uint64(len(dests))
}
