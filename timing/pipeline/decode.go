package pipeline

import (
	"github.com/sarchlab/o3sim/timing/invariant"
	"github.com/sarchlab/o3sim/timing/timebuf"
)

// DecodeStats holds decode stage counters.
type DecodeStats struct {
	Decoded         uint64
	Squashed        uint64
	BranchResolved  uint64
	BranchMispred   uint64
	IdleCycles      uint64
	BlockedCycles   uint64
	RunCycles       uint64
	UnblockCycles   uint64
	SquashCycles    uint64
	SkidOverflows   uint64
	ControlSquashes uint64
}

type decodeStage struct {
	cpu *CPU

	status      []ThreadStatus
	stageStatus StageStatus
	insts       [][]*DynInst
	skid        [][]*DynInst
	skidMax     int
	stalls      []bool

	wroteToTimeBuffer bool

	fromFetch  timebuf.Wire[FetchStruct]
	fromRename timebuf.Wire[TimeStruct]
	fromCommit timebuf.Wire[TimeStruct]
	toFetch    timebuf.Wire[TimeStruct]
	toRename   timebuf.Wire[DecodeStruct]

	stats DecodeStats
}

func newDecodeStage(c *CPU) *decodeStage {
	p := &c.params
	return &decodeStage{
		cpu:        c,
		status:     make([]ThreadStatus, p.NumThreads),
		insts:      make([][]*DynInst, p.NumThreads),
		skid:       make([][]*DynInst, p.NumThreads),
		skidMax:    p.FetchToDecodeDelay*p.FetchWidth + p.DecodeWidth,
		stalls:     make([]bool, p.NumThreads),
		fromFetch:  c.fetchQueue.GetWire(-p.FetchToDecodeDelay),
		fromRename: c.timeBuffer.GetWire(-p.RenameToDecodeDelay),
		fromCommit: c.timeBuffer.GetWire(-p.CommitToDecodeDelay),
		toFetch:    c.timeBuffer.GetWire(0),
		toRename:   c.decodeQueue.GetWire(0),
	}
}

func (d *decodeStage) tick() {
	d.wroteToTimeBuffer = false
	statusChange := false

	d.sortInsts()

	for tid := range d.status {
		if d.checkSignalsAndUpdate(tid) {
			statusChange = true
		}
		d.decode(tid)
	}

	if statusChange || d.stageStatus == Active {
		d.updateStatus()
	}

	if d.wroteToTimeBuffer {
		d.cpu.activity.Activity()
	}
}

func (d *decodeStage) sortInsts() {
	for _, inst := range d.fromFetch.Get().Insts {
		d.insts[inst.tid] = append(d.insts[inst.tid], inst)
	}
}

func (d *decodeStage) hasWork() bool {
	for tid, s := range d.status {
		if s == Unblocking || len(d.insts[tid]) > 0 || len(d.skid[tid]) > 0 {
			return true
		}
	}
	return false
}

func (d *decodeStage) updateStatus() {
	if d.hasWork() {
		if d.stageStatus == Inactive {
			d.stageStatus = Active
			d.cpu.activity.ActivateStage(DecodeIdx)
		}
		return
	}

	if d.stageStatus == Active {
		d.stageStatus = Inactive
		d.cpu.activity.DeactivateStage(DecodeIdx)
	}
}

func (d *decodeStage) checkSignalsAndUpdate(tid int) bool {
	fromRename := d.fromRename.Get()
	if fromRename.RenameBlock[tid] {
		d.stalls[tid] = true
	}
	if fromRename.RenameUnblock[tid] {
		d.stalls[tid] = false
	}

	ci := &d.fromCommit.Get().CommitInfo[tid]
	if ci.Squash {
		d.squash(tid)
		return true
	}

	if ci.ROBSquashing {
		d.status[tid] = Squashing
		return true
	}

	if d.stalls[tid] {
		return d.block(tid)
	}

	switch d.status[tid] {
	case Blocked:
		d.status[tid] = Unblocking
		d.unblock(tid)
		return true
	case Squashing:
		d.status[tid] = Running
		if len(d.skid[tid]) > 0 {
			d.status[tid] = Unblocking
		}
		return false
	}

	return false
}

// squash handles a squash from commit.
func (d *decodeStage) squash(tid int) {
	if d.status[tid] == Blocked || d.status[tid] == Unblocking {
		d.toFetch.Get().DecodeUnblock[tid] = true
		d.wroteToTimeBuffer = true
	}
	d.status[tid] = Squashing

	d.stats.Squashed += uint64(removeSquashed(&d.insts[tid]))
	d.stats.Squashed += uint64(removeSquashed(&d.skid[tid]))
}

// squashFrom squashes every instruction younger than a direct branch whose
// target decode found mispredicted, and redirects fetch to target.
func (d *decodeStage) squashFrom(inst *DynInst, target uint64) {
	tid := inst.tid

	info := &d.toFetch.Get().DecodeInfo[tid]
	info.Squash = true
	info.Inst = inst
	info.DoneSeqNum = inst.seqNum
	info.NextPC = target
	info.BranchTaken = true

	inst.predPC = target
	inst.predTaken = true

	if d.status[tid] == Blocked || d.status[tid] == Unblocking {
		d.toFetch.Get().DecodeUnblock[tid] = true
	}
	d.status[tid] = Squashing
	d.wroteToTimeBuffer = true

	info.SquashEpoch = d.cpu.squashInstsAfter(tid, inst.seqNum)
	d.stats.Squashed += uint64(removeSquashed(&d.insts[tid]))
	d.stats.Squashed += uint64(removeSquashed(&d.skid[tid]))
	d.stats.ControlSquashes++
}

func (d *decodeStage) block(tid int) bool {
	d.skidInsert(tid)

	if d.status[tid] != Blocked {
		if d.status[tid] != Unblocking {
			d.toFetch.Get().DecodeBlock[tid] = true
			d.wroteToTimeBuffer = true
		}
		d.status[tid] = Blocked
		return true
	}
	return false
}

func (d *decodeStage) unblock(tid int) bool {
	if len(d.skid[tid]) == 0 {
		d.toFetch.Get().DecodeUnblock[tid] = true
		d.wroteToTimeBuffer = true
		d.status[tid] = Running
		return true
	}
	return false
}

func (d *decodeStage) skidInsert(tid int) {
	d.skid[tid] = append(d.skid[tid], d.insts[tid]...)
	clear(d.insts[tid])
	d.insts[tid] = d.insts[tid][:0]

	if len(d.skid[tid]) > d.skidMax {
		d.stats.SkidOverflows++
		d.cpu.log.Error(nil, "decode skid buffer exceeded its size",
			"tid", tid, "size", len(d.skid[tid]), "max", d.skidMax)
	}
}

func (d *decodeStage) decode(tid int) {
	switch d.status[tid] {
	case Blocked:
		d.stats.BlockedCycles++
	case Squashing:
		d.stats.SquashCycles++
	case Running, Idle:
		d.decodeInsts(tid, &d.insts[tid])
	case Unblocking:
		d.decodeInsts(tid, &d.skid[tid])
		if len(d.insts[tid]) > 0 {
			d.skidInsert(tid)
		}
		d.unblock(tid)
	}
}

func (d *decodeStage) decodeInsts(tid int, source *[]*DynInst) {
	if len(*source) == 0 {
		d.stats.IdleCycles++
		return
	}

	if d.status[tid] == Unblocking {
		d.stats.UnblockCycles++
	} else {
		d.stats.RunCycles++
	}

	out := d.toRename.Get()
	for len(*source) > 0 && len(out.Insts) < d.cpu.params.DecodeWidth {
		inst := popFront(source)
		if inst.squashed {
			d.stats.Squashed++
			continue
		}

		d.stats.Decoded++
		out.Insts = append(out.Insts, inst)
		d.wroteToTimeBuffer = true

		if inst.predTaken && !inst.IsControl() {
			invariant.Panicf("Decode", inst.seqNum,
				"non-control instruction predicted taken")
		}

		si := inst.inst
		if si.IsControl() && si.IsDirectCtrl() && si.IsUncondCtrl() {
			d.stats.BranchResolved++
			if target := si.BranchTarget(inst.pc); target != inst.predPC {
				d.stats.BranchMispred++
				d.squashFrom(inst, target)
				return
			}
		}
	}

	if len(*source) > 0 {
		d.block(tid)
	}
}
