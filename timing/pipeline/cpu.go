// Package pipeline implements an out-of-order superscalar core with
// simultaneous multithreading. Five stages (fetch, decode, rename,
// issue/execute/writeback and commit) communicate only through time
// buffers, so every signal takes a configurable number of cycles to reach
// its reader.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sarchlab/o3sim/emu"
	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/bpred"
	"github.com/sarchlab/o3sim/timing/cache"
	"github.com/sarchlab/o3sim/timing/invariant"
	"github.com/sarchlab/o3sim/timing/latency"
	"github.com/sarchlab/o3sim/timing/memdep"
	"github.com/sarchlab/o3sim/timing/regs"
	"github.com/sarchlab/o3sim/timing/rob"
	"github.com/sarchlab/o3sim/timing/timebuf"
)

var (
	// ErrMaxCycles is returned by Run when the cycle limit is reached.
	ErrMaxCycles = errors.New("cycle limit reached")
	// ErrStalled is returned by Run when the core has nothing left to do
	// but some thread has not halted.
	ErrStalled = errors.New("core idle with running threads")
)

// InstObserver is notified of the lifetime events of every instruction.
type InstObserver interface {
	InstFetched(inst *DynInst, cycle uint64)
	InstCommitted(inst *DynInst, cycle uint64)
	InstSquashed(inst *DynInst, cycle uint64)
}

// Option configures a CPU.
type Option func(*CPU)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log logr.Logger) Option {
	return func(c *CPU) {
		c.log = log
	}
}

// WithPredictor replaces the branch predictor built from the parameters.
func WithPredictor(p bpred.Predictor) Option {
	return func(c *CPU) {
		c.bpred = p
	}
}

// WithLatencyTable replaces the latency table built from the parameters.
func WithLatencyTable(table *latency.Table) Option {
	return func(c *CPU) {
		c.latency = table
	}
}

// WithDataCache replaces the data cache built from the parameters.
func WithDataCache(dcache *cache.Cache) Option {
	return func(c *CPU) {
		c.dcache = dcache
	}
}

// WithInstObserver registers an observer of instruction lifetimes.
func WithInstObserver(o InstObserver) Option {
	return func(c *CPU) {
		c.observers = append(c.observers, o)
	}
}

// CPU is an out-of-order core. It owns every structure of the pipeline and
// the architectural state of its threads.
type CPU struct {
	params  Params
	log     logr.Logger
	mem     MemoryPort
	threads []*emu.RegFile

	prf        *regs.PhysRegFile
	freeList   *regs.FreeList
	renameMaps []*regs.RenameMap
	histories  []*regs.HistoryBuffer
	scoreboard *regs.Scoreboard

	rob     *rob.ROB[*DynInst]
	bpred   bpred.Predictor
	latency *latency.Table
	fuPool  *latency.FUPool
	dcache  *cache.Cache
	iq      *InstQueue
	lsq     *LSQ

	timeBuffer  *timebuf.TimeBuffer[TimeStruct]
	fetchQueue  *timebuf.TimeBuffer[FetchStruct]
	decodeQueue *timebuf.TimeBuffer[DecodeStruct]
	renameQueue *timebuf.TimeBuffer[RenameStruct]
	iewQueue    *timebuf.TimeBuffer[IEWStruct]
	activity    *ActivityRecorder

	fetch  *fetchStage
	decode *decodeStage
	rename *renameStage
	iew    *iewStage
	commit *commitStage

	// instList holds every in-flight, unsquashed instruction of each
	// thread in program order.
	instList  [][]*DynInst
	globalSeq uint64
	cycle     uint64

	// A thread whose squashEpoch runs ahead of its fetchEpoch is still
	// fetching down a path that has been squashed.
	lastEpoch   uint64
	squashEpoch []uint64
	fetchEpoch  []uint64

	halted    []bool
	exitFault []emu.Fault

	observers []InstObserver
}

// NewCPU creates a core running threads, whose registers and PCs are taken
// as the initial architectural state.
func NewCPU(
	params Params,
	mem MemoryPort,
	threads []*emu.RegFile,
	opts ...Option,
) (*CPU, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if mem == nil {
		return nil, errors.New("memory is required")
	}
	if len(threads) != params.NumThreads {
		return nil, fmt.Errorf("got %d thread contexts for %d threads",
			len(threads), params.NumThreads)
	}

	c := &CPU{
		params:  params.Clone(),
		log:     logr.Discard(),
		mem:     mem,
		threads: threads,
	}
	for _, opt := range opts {
		opt(c)
	}

	p := &c.params
	n := p.NumThreads

	if c.bpred == nil {
		unit, err := bpred.NewUnit(p.BranchPred, n)
		if err != nil {
			return nil, fmt.Errorf("branch predictor: %w", err)
		}
		c.bpred = unit
	}
	if c.latency == nil {
		c.latency = latency.NewTableWithConfig(&p.Timing)
	}
	if c.dcache == nil {
		c.dcache = cache.New(p.DataCache)
	}
	c.fuPool = latency.NewFUPool(c.latency)

	layout := p.Layout()
	c.prf = regs.NewPhysRegFile(layout)
	c.freeList = regs.NewFreeList(layout)
	c.scoreboard = regs.NewScoreboard(layout.Total())
	for tid := 0; tid < n; tid++ {
		c.renameMaps = append(c.renameMaps, regs.NewRenameMap(c.freeList))
		c.histories = append(c.histories, regs.NewHistoryBuffer())
	}

	c.rob = rob.New[*DynInst](p.ROBConfig())
	c.iq = NewInstQueue(p, c.scoreboard, c.fuPool)
	c.lsq = NewLSQ(p, mem, c.dcache)

	forward := max(p.FetchToDecodeDelay, p.DecodeToRenameDelay,
		p.RenameToIEWDelay, p.IEWToCommitDelay, p.RenameToROBDelay)
	backward := max(p.DecodeToFetchDelay, p.CommitToFetchDelay,
		p.RenameToDecodeDelay, p.CommitToDecodeDelay, p.IEWToRenameDelay,
		p.CommitToRenameDelay, p.CommitToIEWDelay)

	c.timeBuffer = timebuf.New[TimeStruct](backward, 0)
	c.fetchQueue = timebuf.New[FetchStruct](p.FetchToDecodeDelay, 0)
	c.decodeQueue = timebuf.New[DecodeStruct](p.DecodeToRenameDelay, 0)
	c.renameQueue = timebuf.New[RenameStruct](max(p.RenameToIEWDelay, p.RenameToROBDelay), 0)
	c.iewQueue = timebuf.New[IEWStruct](p.IEWToCommitDelay, 0)
	c.activity = NewActivityRecorder(NumStages, forward+backward)

	c.instList = make([][]*DynInst, n)
	c.squashEpoch = make([]uint64, n)
	c.fetchEpoch = make([]uint64, n)
	c.halted = make([]bool, n)
	c.exitFault = make([]emu.Fault, n)

	for tid := 0; tid < n; tid++ {
		c.syncArchToPhys(tid)
	}

	c.fetch = newFetchStage(c)
	c.decode = newDecodeStage(c)
	c.rename = newRenameStage(c)
	c.iew = newIEWStage(c)
	c.commit = newCommitStage(c)

	return c, nil
}

// Tick advances the core by one cycle. The stages run from fetch to commit
// so that each one reads what the others wrote in earlier cycles.
func (c *CPU) Tick() {
	c.fetch.tick()
	c.decode.tick()
	c.rename.tick()
	c.iew.tick()
	c.commit.tick()

	c.timeBuffer.Advance()
	c.fetchQueue.Advance()
	c.decodeQueue.Advance()
	c.renameQueue.Advance()
	c.iewQueue.Advance()
	c.activity.Advance()

	c.cycle++
}

// Active reports whether the core has work pending. An inactive core does
// nothing until an interrupt or a thread activation arrives.
func (c *CPU) Active() bool {
	return c.activity.Active()
}

// Run ticks the core until every thread halts and no interrupt or thread
// request is waiting. A maxCycles of 0 means no limit. Invariant violations
// detected by any structure are returned as a *invariant.FatalError.
func (c *CPU) Run(maxCycles uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = invariant.Recover(r)
		}
	}()

	for !c.AllHalted() || c.commit.hasRequests() {
		if maxCycles > 0 && c.cycle >= maxCycles {
			return ErrMaxCycles
		}
		if !c.Active() {
			return ErrStalled
		}
		c.Tick()
	}

	return nil
}

// Drain ticks the core until no instruction is in flight, such as after
// every thread halted. Running threads keep fetching, so a core with a
// running thread only drains if it runs out of work.
func (c *CPU) Drain(maxCycles uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = invariant.Recover(r)
		}
	}()

	for !c.Drained() {
		if maxCycles > 0 && c.cycle >= maxCycles {
			return ErrMaxCycles
		}
		if !c.Active() {
			return ErrStalled
		}
		c.Tick()
	}

	return nil
}

// PostInterrupt requests an interrupt on thread tid. Commit takes it before
// the next instruction of the thread commits; it is dropped when the thread
// has no trap handler.
func (c *CPU) PostInterrupt(tid int) {
	c.commit.interrupts[tid] = true
	c.commit.updateStatus()
}

// HaltThread stops thread tid after its last committed instruction.
func (c *CPU) HaltThread(tid int) {
	c.commit.haltRequests[tid] = true
	c.commit.updateStatus()
}

// ActivateThread restarts a halted thread at the PC of its thread context.
// Register values written to the context while the thread was halted take
// effect.
func (c *CPU) ActivateThread(tid int) {
	c.commit.activateRequests[tid] = true
	c.commit.updateStatus()
}

// ThreadContext returns the architectural state of thread tid.
func (c *CPU) ThreadContext(tid int) *emu.RegFile { return c.threads[tid] }

// Halted reports whether thread tid has halted.
func (c *CPU) Halted(tid int) bool { return c.halted[tid] }

// AllHalted reports whether every thread has halted.
func (c *CPU) AllHalted() bool {
	for _, h := range c.halted {
		if !h {
			return false
		}
	}
	return true
}

// ExitFault returns the fault that halted thread tid, or emu.NoFault.
func (c *CPU) ExitFault(tid int) emu.Fault { return c.exitFault[tid] }

// Cycle returns the number of cycles simulated.
func (c *CPU) Cycle() uint64 { return c.cycle }

// Params returns the parameters of the core.
func (c *CPU) Params() Params { return c.params }

// ROB exposes the reorder buffer for inspection.
func (c *CPU) ROB() *rob.ROB[*DynInst] { return c.rob }

// InstQueue exposes the instruction queue for inspection.
func (c *CPU) InstQueue() *InstQueue { return c.iq }

// LSQ exposes the load/store queue for inspection.
func (c *CPU) LSQ() *LSQ { return c.lsq }

// FreeList exposes the physical register free list for inspection.
func (c *CPU) FreeList() *regs.FreeList { return c.freeList }

// RenameMap exposes the rename map of thread tid for inspection.
func (c *CPU) RenameMap(tid int) *regs.RenameMap { return c.renameMaps[tid] }

// History exposes the rename history of thread tid for inspection.
func (c *CPU) History(tid int) *regs.HistoryBuffer { return c.histories[tid] }

// Scoreboard exposes the scoreboard for inspection.
func (c *CPU) Scoreboard() *regs.Scoreboard { return c.scoreboard }

// InFlight returns the in-flight instructions of thread tid, oldest first.
func (c *CPU) InFlight(tid int) []*DynInst {
	return append([]*DynInst(nil), c.instList[tid]...)
}

// Drained reports whether no instruction is in flight anywhere in the core.
func (c *CPU) Drained() bool {
	for _, list := range c.instList {
		if len(list) > 0 {
			return false
		}
	}
	return c.rob.IsEmpty() && c.iq.IsEmpty() && c.lsq.IsEmpty()
}

func (c *CPU) nextSeqNum() uint64 {
	c.globalSeq++
	return c.globalSeq
}

func (c *CPU) addInst(inst *DynInst) {
	tid := inst.tid
	for _, o := range c.observers {
		o.InstFetched(inst, c.cycle)
	}

	if c.squashEpoch[tid] > c.fetchEpoch[tid] {
		inst.squashed = true
		for _, o := range c.observers {
			o.InstSquashed(inst, c.cycle)
		}
		return
	}

	c.instList[tid] = append(c.instList[tid], inst)
}

// squashInstsAfter marks every in-flight instruction of thread tid younger
// than seq squashed. The stages drop them as they come across them. Until
// fetch takes the redirect tagged with the returned epoch, whatever the
// thread fetches is squashed as well.
func (c *CPU) squashInstsAfter(tid int, seq uint64) uint64 {
	c.lastEpoch++
	c.squashEpoch[tid] = c.lastEpoch

	list := c.instList[tid]
	i := len(list)
	for i > 0 && list[i-1].seqNum > seq {
		i--
		inst := list[i]
		list[i] = nil
		inst.squashed = true
		for _, o := range c.observers {
			o.InstSquashed(inst, c.cycle)
		}
	}
	c.instList[tid] = list[:i]

	return c.lastEpoch
}

// redirectFetch records that fetch of thread tid now follows the path set
// by the squash of the given epoch.
func (c *CPU) redirectFetch(tid int, epoch uint64) {
	c.fetchEpoch[tid] = max(c.fetchEpoch[tid], epoch)
}

func (c *CPU) instCommitted(inst *DynInst) {
	list := c.instList[inst.tid]
	if len(list) == 0 || list[0] != inst {
		invariant.Panicf("CPU", inst.seqNum, "committed instruction is not the oldest in flight")
	}
	list[0] = nil
	c.instList[inst.tid] = list[1:]

	for _, o := range c.observers {
		o.InstCommitted(inst, c.cycle)
	}
}

// syncArchToPhys copies the architectural registers of thread tid into the
// physical registers they are mapped to.
func (c *CPU) syncArchToPhys(tid int) {
	rf := c.threads[tid]
	rm := c.renameMaps[tid]
	for i := 0; i < insts.NumArchRegs; i++ {
		arch := insts.RegID(i)
		phys := rm.Lookup(arch)
		if phys == regs.ZeroPhysReg {
			continue
		}
		c.prf.Write(phys, rf.ReadReg(arch))
		c.scoreboard.SetReg(phys)
	}
}

// renameSettled reports whether rename has undone every squashed rename of
// thread tid, so that its rename map holds the committed mappings.
func (c *CPU) renameSettled(tid int) bool {
	if len(c.instList[tid]) > 0 {
		return false
	}
	entries := c.histories[tid].Entries()
	return len(entries) == 0 ||
		entries[len(entries)-1].SeqNum <= c.commit.lastCommittedSeq[tid]
}

// Statistics holds the counters of the whole core.
type Statistics struct {
	Cycles    uint64
	Committed uint64

	Fetch  FetchStats
	Decode DecodeStats
	Rename RenameStats
	IEW    IEWStats
	Commit CommitStats

	IQ         IQStats
	LSQ        LSQStats
	BranchPred bpred.Stats
	MemDep     []memdep.Stats
	DataCache  cache.Statistics
}

// CPI returns the cycles per committed instruction.
func (s Statistics) CPI() float64 {
	if s.Committed == 0 {
		return 0
	}
	return float64(s.Cycles) / float64(s.Committed)
}

// IPC returns the committed instructions per cycle.
func (s Statistics) IPC() float64 {
	if s.Cycles == 0 {
		return 0
	}
	return float64(s.Committed) / float64(s.Cycles)
}

// Stats returns a copy of every counter.
func (c *CPU) Stats() Statistics {
	s := Statistics{
		Cycles:     c.cycle,
		Committed:  c.commit.stats.Committed,
		Fetch:      c.fetch.stats,
		Decode:     c.decode.stats,
		Rename:     c.rename.stats,
		IEW:        c.iew.stats,
		Commit:     c.commit.stats,
		IQ:         c.iq.Stats(),
		LSQ:        c.lsq.Stats(),
		BranchPred: c.bpred.Stats(),
		DataCache:  c.dcache.Stats(),
	}

	s.Commit.CommittedPerThread = append([]uint64(nil), s.Commit.CommittedPerThread...)
	s.Commit.CommitHistogram = append([]uint64(nil), s.Commit.CommitHistogram...)
	for tid := range c.threads {
		s.MemDep = append(s.MemDep, c.iq.MemDepUnit(tid).Stats())
	}

	return s
}
