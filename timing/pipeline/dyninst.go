package pipeline

import (
	"fmt"

	"github.com/sarchlab/o3sim/emu"
	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/regs"
)

// DynInst is one in-flight instance of a static instruction. It is created
// by fetch and referenced by every structure it passes through until it
// commits or is squashed.
type DynInst struct {
	seqNum uint64
	tid    int
	pc     uint64
	inst   *insts.Instruction

	predPC    uint64
	predTaken bool

	srcPhys      []regs.PhysReg
	destPhys     []regs.PhysReg
	prevDestPhys []regs.PhysReg
	readyRegs    int

	result       uint64
	nextPC       uint64
	taken        bool
	effAddr      uint64
	effAddrValid bool
	storeData    uint64
	fault        emu.Fault

	fetchCycle uint64

	squashed         bool
	canIssue         bool
	issued           bool
	executed         bool
	canCommit        bool
	committed        bool
	inROB            bool
	inIQ             bool
	inLSQ            bool
	atCommit         bool
	serializeHandled bool
	nonSpecSignaled  bool
	memOpDone        bool
	mispredicted     bool
}

func newDynInst(seq uint64, tid int, pc uint64, inst *insts.Instruction) *DynInst {
	return &DynInst{
		seqNum: seq,
		tid:    tid,
		pc:     pc,
		inst:   inst,
		predPC: pc + 4,
		nextPC: pc + 4,
	}
}

// SeqNum returns the instruction's global sequence number.
func (d *DynInst) SeqNum() uint64 { return d.seqNum }

// ThreadID returns the hardware thread the instruction belongs to.
func (d *DynInst) ThreadID() int { return d.tid }

// PC returns the instruction's address.
func (d *DynInst) PC() uint64 { return d.pc }

// StaticInst returns the decoded instruction.
func (d *DynInst) StaticInst() *insts.Instruction { return d.inst }

// PredPC returns the predicted address of the next instruction.
func (d *DynInst) PredPC() uint64 { return d.predPC }

// PredTaken reports whether the instruction was predicted taken.
func (d *DynInst) PredTaken() bool { return d.predTaken }

// NextPC returns the resolved address of the next instruction. It is valid
// once the instruction executed.
func (d *DynInst) NextPC() uint64 { return d.nextPC }

// Result returns the value written to the destination register.
func (d *DynInst) Result() uint64 { return d.result }

// EffAddr returns the effective address of a memory instruction.
func (d *DynInst) EffAddr() uint64 { return d.effAddr }

// Fault returns the fault raised by the instruction, if any.
func (d *DynInst) Fault() emu.Fault { return d.fault }

// FetchCycle returns the cycle in which the instruction was fetched.
func (d *DynInst) FetchCycle() uint64 { return d.fetchCycle }

// SrcPhys returns the renamed source registers.
func (d *DynInst) SrcPhys() []regs.PhysReg { return d.srcPhys }

// DestPhys returns the renamed destination registers.
func (d *DynInst) DestPhys() []regs.PhysReg { return d.destPhys }

// PrevDestPhys returns the registers the destinations were mapped to
// before renaming.
func (d *DynInst) PrevDestPhys() []regs.PhysReg { return d.prevDestPhys }

// IsLoad reports whether the instruction reads memory.
func (d *DynInst) IsLoad() bool { return d.inst.IsLoad() }

// IsStore reports whether the instruction writes memory.
func (d *DynInst) IsStore() bool { return d.inst.IsStore() }

// IsMemRef reports whether the instruction accesses memory.
func (d *DynInst) IsMemRef() bool { return d.inst.IsMemRef() }

// IsControl reports whether the instruction may redirect the PC.
func (d *DynInst) IsControl() bool { return d.inst.IsControl() }

// IsMemBarrier reports whether the instruction is a full memory barrier.
func (d *DynInst) IsMemBarrier() bool { return d.inst.IsMemBarrier() }

// IsWriteBarrier reports whether the instruction is a store barrier.
func (d *DynInst) IsWriteBarrier() bool { return d.inst.IsWriteBarrier() }

// IsNonSpeculative reports whether the instruction executes only at the
// ROB head.
func (d *DynInst) IsNonSpeculative() bool { return d.inst.IsNonSpeculative() }

// IsSerializeBefore reports whether the instruction waits at rename for
// every older instruction to commit.
func (d *DynInst) IsSerializeBefore() bool { return d.inst.IsSerializeBefore() }

// IsHalt reports whether the instruction stops its thread.
func (d *DynInst) IsHalt() bool { return d.inst.IsHalt() }

// IsNop reports whether the instruction needs no functional unit.
func (d *DynInst) IsNop() bool { return d.inst.Op == insts.OpNOP }

// ReadyToIssue reports whether every source register is ready.
func (d *DynInst) ReadyToIssue() bool { return d.canIssue }

// ClearCanIssue holds the instruction back until it is released again.
func (d *DynInst) ClearCanIssue() { d.canIssue = false }

func (d *DynInst) markSrcRegReady() {
	d.readyRegs++
	if d.readyRegs == len(d.srcPhys) {
		d.canIssue = true
	}
}

// IsSquashed reports whether the instruction was squashed.
func (d *DynInst) IsSquashed() bool { return d.squashed }

// SetSquashed marks the instruction squashed.
func (d *DynInst) SetSquashed() { d.squashed = true }

// IsIssued reports whether the instruction issued to a functional unit.
func (d *DynInst) IsIssued() bool { return d.issued }

// IsExecuted reports whether the instruction finished executing.
func (d *DynInst) IsExecuted() bool { return d.executed }

// ReadyToCommit reports whether the instruction may leave the ROB.
func (d *DynInst) ReadyToCommit() bool { return d.canCommit }

// SetCanCommit marks the instruction ready to leave the ROB.
func (d *DynInst) SetCanCommit() { d.canCommit = true }

// SetInROB records whether the instruction is held by the ROB.
func (d *DynInst) SetInROB(in bool) { d.inROB = in }

// IsInROB reports whether the instruction is held by the ROB.
func (d *DynInst) IsInROB() bool { return d.inROB }

// SetCommitted marks the instruction as retired from the ROB.
func (d *DynInst) SetCommitted() { d.committed = true }

// IsCommitted reports whether the instruction left the ROB.
func (d *DynInst) IsCommitted() bool { return d.committed }

// IsMispredicted reports whether the instruction's predicted next PC was
// found wrong when it executed.
func (d *DynInst) IsMispredicted() bool { return d.mispredicted }

func (d *DynInst) String() string {
	return fmt.Sprintf("[tid:%d sn:%d pc:0x%x] %s", d.tid, d.seqNum, d.pc, d.inst)
}
