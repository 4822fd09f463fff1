package memdep

import "github.com/sarchlab/o3sim/timing/invariant"

// Inst is the view of a dynamic instruction the unit needs.
type Inst interface {
	SeqNum() uint64
	ThreadID() int
	PC() uint64
	IsLoad() bool
	IsStore() bool
	IsMemBarrier() bool
	IsWriteBarrier() bool
	ReadyToIssue() bool
	ClearCanIssue()
	IsSquashed() bool
}

// ReadyFunc receives instructions whose memory dependences are satisfied.
type ReadyFunc func(inst Inst)

type entry struct {
	inst        Inst
	regsReady   bool
	memDepReady bool
	squashed    bool
	dependents  []*entry
}

// Stats holds memory dependence unit counters.
type Stats struct {
	InsertedLoads     uint64
	InsertedStores    uint64
	ConflictingLoads  uint64
	ConflictingStores uint64
}

// Unit tracks the memory instructions of one thread from dispatch to
// completion and holds back those predicted to depend on an older store or
// barrier.
type Unit struct {
	tid   int
	pred  *StoreSet
	ready ReadyFunc

	hash     map[uint64]*entry
	list     []Inst
	toReplay []Inst

	loadBarrier    bool
	loadBarrierSN  uint64
	storeBarrier   bool
	storeBarrierSN uint64

	stats Stats
}

// NewUnit creates the memory dependence unit of thread tid.
func NewUnit(cfg Config, tid int, ready ReadyFunc) *Unit {
	return &Unit{
		tid:   tid,
		pred:  NewStoreSet(cfg),
		ready: ready,
		hash:  make(map[uint64]*entry),
	}
}

// Predictor returns the unit's store set predictor.
func (u *Unit) Predictor() *StoreSet { return u.pred }

// Insert adds a load or store. If it is predicted to depend on an in-flight
// store or barrier it waits for that instruction; otherwise it becomes
// ready as soon as its registers are.
func (u *Unit) Insert(inst Inst) {
	u.checkType(inst)
	e := u.add(inst)

	var producer uint64
	switch {
	case inst.IsLoad() && u.loadBarrier:
		producer = u.loadBarrierSN
	case inst.IsStore() && u.storeBarrier:
		producer = u.storeBarrierSN
	default:
		producer = u.pred.CheckInst(inst.PC())
	}

	var store *entry
	if producer != 0 {
		store = u.hash[producer]
	}

	if store == nil {
		e.memDepReady = true
		if inst.ReadyToIssue() {
			e.regsReady = true
			u.moveToReady(e)
		}
	} else {
		if inst.ReadyToIssue() {
			e.regsReady = true
		}
		inst.ClearCanIssue()
		store.dependents = append(store.dependents, e)

		if inst.IsLoad() {
			u.stats.ConflictingLoads++
		} else {
			u.stats.ConflictingStores++
		}
	}

	u.notePredictor(inst)
}

// InsertNonSpec adds a load or store that issues only when commit
// schedules it.
func (u *Unit) InsertNonSpec(inst Inst) {
	u.checkType(inst)
	u.add(inst)
	u.notePredictor(inst)
}

// InsertBarrier adds a barrier. Younger loads and stores (memory barrier)
// or stores (write barrier) depend on it until it completes.
func (u *Unit) InsertBarrier(inst Inst) {
	sn := inst.SeqNum()
	if inst.IsMemBarrier() {
		u.loadBarrier, u.loadBarrierSN = true, sn
		u.storeBarrier, u.storeBarrierSN = true, sn
	} else if inst.IsWriteBarrier() {
		u.storeBarrier, u.storeBarrierSN = true, sn
	}

	u.add(inst)
}

func (u *Unit) checkType(inst Inst) {
	if !inst.IsLoad() && !inst.IsStore() {
		invariant.Panicf("MemDepUnit", inst.SeqNum(), "unknown memory instruction type")
	}
}

func (u *Unit) add(inst Inst) *entry {
	if _, dup := u.hash[inst.SeqNum()]; dup {
		invariant.Panicf("MemDepUnit", inst.SeqNum(), "instruction inserted twice")
	}

	e := &entry{inst: inst}
	u.hash[inst.SeqNum()] = e
	u.list = append(u.list, inst)
	return e
}

func (u *Unit) notePredictor(inst Inst) {
	if inst.IsStore() {
		u.pred.InsertStore(inst.PC(), inst.SeqNum(), inst.ThreadID())
		u.stats.InsertedStores++
	} else {
		u.pred.InsertLoad(inst.PC(), inst.SeqNum())
		u.stats.InsertedLoads++
	}
}

// RegsReady notes that inst's source registers are ready.
func (u *Unit) RegsReady(inst Inst) {
	e := u.find(inst)
	e.regsReady = true
	if e.memDepReady {
		u.moveToReady(e)
	}
}

// NonSpecInstReady releases a non-speculative instruction.
func (u *Unit) NonSpecInstReady(inst Inst) {
	u.moveToReady(u.find(inst))
}

// Reschedule queues inst to be replayed.
func (u *Unit) Reschedule(inst Inst) {
	u.toReplay = append(u.toReplay, inst)
}

// Replay releases every rescheduled instruction.
func (u *Unit) Replay() {
	pending := u.toReplay
	u.toReplay = nil
	for _, inst := range pending {
		u.moveToReady(u.find(inst))
	}
}

// Completed removes inst from the unit.
func (u *Unit) Completed(inst Inst) {
	seq := inst.SeqNum()
	if _, ok := u.hash[seq]; !ok {
		invariant.Panicf("MemDepUnit", seq, "completing an instruction not in the unit")
	}
	delete(u.hash, seq)

	for i, li := range u.list {
		if li.SeqNum() == seq {
			u.list = append(u.list[:i], u.list[i+1:]...)
			break
		}
	}
}

// CompleteBarrier wakes the barrier's dependents, removes it and lifts the
// barrier if no younger one replaced it.
func (u *Unit) CompleteBarrier(inst Inst) {
	u.WakeDependents(inst)
	u.Completed(inst)

	sn := inst.SeqNum()
	if u.loadBarrier && u.loadBarrierSN == sn {
		u.loadBarrier = false
	}
	if u.storeBarrier && u.storeBarrierSN == sn {
		u.storeBarrier = false
	}
}

// WakeDependents releases the instructions waiting on a store or barrier.
func (u *Unit) WakeDependents(inst Inst) {
	if !inst.IsStore() && !inst.IsMemBarrier() && !inst.IsWriteBarrier() {
		return
	}

	e := u.find(inst)
	for _, dep := range e.dependents {
		if dep.squashed {
			continue
		}
		if dep.regsReady {
			u.moveToReady(dep)
		} else {
			dep.memDepReady = true
		}
	}
	e.dependents = nil
}

// Squash removes every instruction younger than seq.
func (u *Unit) Squash(seq uint64) {
	kept := u.toReplay[:0]
	for _, inst := range u.toReplay {
		if inst.SeqNum() <= seq {
			kept = append(kept, inst)
		}
	}
	u.toReplay = kept

	for len(u.list) > 0 {
		tail := u.list[len(u.list)-1]
		if tail.SeqNum() <= seq {
			break
		}

		if e, ok := u.hash[tail.SeqNum()]; ok {
			e.squashed = true
			delete(u.hash, tail.SeqNum())
		}
		u.list = u.list[:len(u.list)-1]
	}

	for _, e := range u.hash {
		kept := e.dependents[:0]
		for _, dep := range e.dependents {
			if !dep.squashed {
				kept = append(kept, dep)
			}
		}
		clear(e.dependents[len(kept):])
		e.dependents = kept
	}

	if u.loadBarrier && u.loadBarrierSN > seq {
		u.loadBarrier = false
	}
	if u.storeBarrier && u.storeBarrierSN > seq {
		u.storeBarrier = false
	}

	u.pred.Squash(seq, u.tid)
}

// Violation trains the predictor on a load that executed ahead of a store
// it depended on.
func (u *Unit) Violation(store, load Inst) {
	u.pred.Violation(store.PC(), load.PC())
}

// Issue notes that inst issued to memory.
func (u *Unit) Issue(inst Inst) {
	u.pred.Issued(inst.PC(), inst.SeqNum(), inst.IsStore())
}

// Len returns the number of instructions held.
func (u *Unit) Len() int { return len(u.hash) }

// Contains reports whether an instruction with the given sequence number is
// held.
func (u *Unit) Contains(seq uint64) bool {
	_, ok := u.hash[seq]
	return ok
}

// Stats returns the unit's counters.
func (u *Unit) Stats() Stats { return u.stats }

// EntrySnapshot is the checkpointable state of one held instruction.
type EntrySnapshot struct {
	SeqNum        uint64 `json:"seq_num"`
	PC            uint64 `json:"pc"`
	IsLoad        bool   `json:"is_load"`
	IsStore       bool   `json:"is_store"`
	RegsReady     bool   `json:"regs_ready"`
	MemDepReady   bool   `json:"mem_dep_ready"`
	NumDependents int    `json:"num_dependents"`
}

// Snapshot is the checkpointable state of the unit.
type Snapshot struct {
	Entries        []EntrySnapshot `json:"entries"`
	LoadBarrierSN  uint64          `json:"load_barrier_sn,omitempty"`
	StoreBarrierSN uint64          `json:"store_barrier_sn,omitempty"`
}

// Snapshot returns the outstanding entries in program order.
func (u *Unit) Snapshot() Snapshot {
	var s Snapshot
	for _, inst := range u.list {
		e, ok := u.hash[inst.SeqNum()]
		if !ok {
			continue
		}
		s.Entries = append(s.Entries, EntrySnapshot{
			SeqNum:        inst.SeqNum(),
			PC:            inst.PC(),
			IsLoad:        inst.IsLoad(),
			IsStore:       inst.IsStore(),
			RegsReady:     e.regsReady,
			MemDepReady:   e.memDepReady,
			NumDependents: len(e.dependents),
		})
	}
	if u.loadBarrier {
		s.LoadBarrierSN = u.loadBarrierSN
	}
	if u.storeBarrier {
		s.StoreBarrierSN = u.storeBarrierSN
	}
	return s
}

func (u *Unit) find(inst Inst) *entry {
	e, ok := u.hash[inst.SeqNum()]
	if !ok {
		invariant.Panicf("MemDepUnit", inst.SeqNum(), "instruction not in the unit")
	}
	return e
}

func (u *Unit) moveToReady(e *entry) {
	if e.squashed {
		invariant.Panicf("MemDepUnit", e.inst.SeqNum(), "readying a squashed instruction")
	}
	u.ready(e.inst)
}
