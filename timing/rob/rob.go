// Package rob implements the reorder buffer, which holds every in-flight
// instruction of each thread in program order until it commits.
package rob

import (
	"fmt"

	"github.com/sarchlab/o3sim/timing/invariant"
)

// Inst is the view of a dynamic instruction the ROB needs.
type Inst interface {
	SeqNum() uint64
	ThreadID() int
	ReadyToCommit() bool
	IsSquashed() bool
	SetSquashed()
	SetCanCommit()
	SetInROB(in bool)
	SetCommitted()
}

// Status is the squash state of one thread's entries.
type Status uint8

// Thread statuses.
const (
	Running Status = iota
	Idle
	Squashing
)

func (s Status) String() string {
	switch s {
	case Running:
		return "Running"
	case Idle:
		return "Idle"
	case Squashing:
		return "Squashing"
	}
	return fmt.Sprintf("Status(%d)", s)
}

// Config holds ROB parameters.
type Config struct {
	NumEntries  int
	SquashWidth int
	NumThreads  int
	Policy      Policy
	// Threshold is the per-thread cap under the Threshold policy.
	Threshold int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NumEntries <= 0 {
		return fmt.Errorf("num_rob_entries must be > 0")
	}
	if c.SquashWidth <= 0 {
		return fmt.Errorf("squash_width must be > 0")
	}
	if c.NumThreads <= 0 {
		return fmt.Errorf("number of threads must be > 0")
	}
	if c.Policy == Threshold && c.Threshold <= 0 {
		return fmt.Errorf("smt_rob_threshold must be > 0 under the threshold policy")
	}
	return nil
}

// ROB is a reorder buffer of instructions of type I.
type ROB[I Inst] struct {
	cfg    Config
	limits *Limits

	lists         [][]I
	threadEntries []int
	numInsts      int

	activeThreads []int

	squashing      []bool
	squashedSeqNum []uint64
	squashIdx      []int
}

// New creates an empty ROB. The configuration must be valid.
func New[I Inst](cfg Config) *ROB[I] {
	r := &ROB[I]{
		cfg:            cfg,
		limits:         NewLimits(cfg.Policy, cfg.NumEntries, cfg.Threshold, cfg.NumThreads),
		lists:          make([][]I, cfg.NumThreads),
		threadEntries:  make([]int, cfg.NumThreads),
		squashing:      make([]bool, cfg.NumThreads),
		squashedSeqNum: make([]uint64, cfg.NumThreads),
		squashIdx:      make([]int, cfg.NumThreads),
	}

	for tid := 0; tid < cfg.NumThreads; tid++ {
		r.activeThreads = append(r.activeThreads, tid)
	}

	return r
}

// ResetEntries recomputes the per-thread caps for the given active threads.
func (r *ROB[I]) ResetEntries(active []int) {
	r.activeThreads = append(r.activeThreads[:0], active...)
	r.limits.Reset(active)
}

// InsertInst appends inst to its thread's list. An instruction younger than
// an in-progress squash of its thread is marked squashed on arrival.
func (r *ROB[I]) InsertInst(inst I) {
	if r.numInsts >= r.cfg.NumEntries {
		invariant.Panicf("ROB", inst.SeqNum(), "insert into a full ROB")
	}

	tid := inst.ThreadID()
	if n := len(r.lists[tid]); n > 0 && r.lists[tid][n-1].SeqNum() >= inst.SeqNum() {
		invariant.Panicf("ROB", inst.SeqNum(), "out-of-order insert after sn:%d",
			r.lists[tid][n-1].SeqNum())
	}

	r.lists[tid] = append(r.lists[tid], inst)
	inst.SetInROB(true)
	r.numInsts++
	r.threadEntries[tid]++

	if r.squashing[tid] && inst.SeqNum() > r.squashedSeqNum[tid] {
		inst.SetSquashed()
		inst.SetCanCommit()
	}

	r.checkCounts()
}

// RetireHead removes the head of thread tid. The head must be ready to
// commit.
func (r *ROB[I]) RetireHead(tid int) I {
	if r.threadEntries[tid] == 0 {
		invariant.Panicf("ROB", 0, "retiring the head of empty thread %d", tid)
	}

	head := r.lists[tid][0]
	if !head.ReadyToCommit() {
		invariant.Panicf("ROB", head.SeqNum(), "retiring a head that is not ready to commit")
	}

	var zero I
	r.lists[tid][0] = zero
	r.lists[tid] = r.lists[tid][1:]
	r.numInsts--
	r.threadEntries[tid]--

	if r.squashing[tid] {
		r.squashIdx[tid]--
		if r.squashIdx[tid] < 0 {
			r.finishSquash(tid)
		}
	}

	head.SetInROB(false)
	head.SetCommitted()

	r.checkCounts()

	return head
}

// IsHeadReady reports whether thread tid's head can commit.
func (r *ROB[I]) IsHeadReady(tid int) bool {
	return r.threadEntries[tid] != 0 && r.lists[tid][0].ReadyToCommit()
}

// CanCommit reports whether any active thread's head can commit.
func (r *ROB[I]) CanCommit() bool {
	for _, tid := range r.activeThreads {
		if r.IsHeadReady(tid) {
			return true
		}
	}
	return false
}

// Squash starts squashing every instruction of thread tid younger than
// seq. At most SquashWidth instructions are squashed per DoSquash call,
// the first of which happens immediately.
func (r *ROB[I]) Squash(seq uint64, tid int) {
	if r.numInsts == 0 {
		return
	}

	r.squashing[tid] = true
	r.squashedSeqNum[tid] = seq

	if len(r.lists[tid]) == 0 {
		r.finishSquash(tid)
		return
	}

	r.squashIdx[tid] = len(r.lists[tid]) - 1
	r.DoSquash(tid)
}

// DoSquash squashes up to SquashWidth instructions of thread tid, walking
// from the youngest.
func (r *ROB[I]) DoSquash(tid int) {
	if !r.squashing[tid] {
		return
	}

	list := r.lists[tid]
	for n := 0; n < r.cfg.SquashWidth; n++ {
		idx := r.squashIdx[tid]
		if idx < 0 || list[idx].SeqNum() <= r.squashedSeqNum[tid] {
			r.finishSquash(tid)
			return
		}

		list[idx].SetSquashed()
		list[idx].SetCanCommit()
		r.squashIdx[tid]--
	}

	idx := r.squashIdx[tid]
	if idx < 0 || list[idx].SeqNum() <= r.squashedSeqNum[tid] {
		r.finishSquash(tid)
	}
}

func (r *ROB[I]) finishSquash(tid int) {
	r.squashing[tid] = false
	r.squashIdx[tid] = -1
}

// IsDoneSquashing reports whether thread tid has no squash in progress.
func (r *ROB[I]) IsDoneSquashing(tid int) bool {
	return !r.squashing[tid]
}

// SquashedSeqNum returns the squash point of thread tid's last squash.
func (r *ROB[I]) SquashedSeqNum(tid int) uint64 {
	return r.squashedSeqNum[tid]
}

// Status returns the state of thread tid.
func (r *ROB[I]) Status(tid int) Status {
	switch {
	case r.squashing[tid]:
		return Squashing
	case r.threadEntries[tid] == 0:
		return Idle
	default:
		return Running
	}
}

// ReadHeadInst returns the oldest instruction of thread tid.
func (r *ROB[I]) ReadHeadInst(tid int) (I, bool) {
	if r.threadEntries[tid] == 0 {
		var zero I
		return zero, false
	}
	return r.lists[tid][0], true
}

// ReadTailInst returns the youngest instruction of thread tid.
func (r *ROB[I]) ReadTailInst(tid int) (I, bool) {
	n := len(r.lists[tid])
	if n == 0 {
		var zero I
		return zero, false
	}
	return r.lists[tid][n-1], true
}

// NumFreeEntries returns how many more instructions thread tid may insert.
func (r *ROB[I]) NumFreeEntries(tid int) int {
	return r.limits.Free(tid, r.threadEntries[tid], r.numInsts)
}

// NumTotalFreeEntries returns the number of unused entries.
func (r *ROB[I]) NumTotalFreeEntries() int {
	return r.cfg.NumEntries - r.numInsts
}

// MaxEntries returns the cap of thread tid.
func (r *ROB[I]) MaxEntries(tid int) int { return r.limits.Max(tid) }

// NumInstsInROB returns the number of instructions held.
func (r *ROB[I]) NumInstsInROB() int { return r.numInsts }

// ThreadEntries returns the number of instructions of thread tid.
func (r *ROB[I]) ThreadEntries(tid int) int { return r.threadEntries[tid] }

// CountInsts returns the length of thread tid's list.
func (r *ROB[I]) CountInsts(tid int) int { return len(r.lists[tid]) }

// IsEmpty reports whether the ROB holds no instructions.
func (r *ROB[I]) IsEmpty() bool { return r.numInsts == 0 }

// IsFull reports whether every entry is in use.
func (r *ROB[I]) IsFull() bool { return r.numInsts >= r.cfg.NumEntries }

// Insts returns a copy of thread tid's instructions, oldest first.
func (r *ROB[I]) Insts(tid int) []I {
	return append([]I(nil), r.lists[tid]...)
}

// ThreadSnapshot is the checkpointable state of one thread's entries.
type ThreadSnapshot struct {
	SeqNums    []uint64 `json:"seq_nums"`
	MaxEntries int      `json:"max_entries"`
}

// Snapshot is the checkpointable state of the ROB.
type Snapshot struct {
	NumEntries int              `json:"num_entries"`
	Policy     Policy           `json:"policy"`
	Threads    []ThreadSnapshot `json:"threads"`
}

// Snapshot returns the sequence numbers held and the partition sizes.
func (r *ROB[I]) Snapshot() Snapshot {
	s := Snapshot{NumEntries: r.cfg.NumEntries, Policy: r.cfg.Policy}
	for tid, list := range r.lists {
		ts := ThreadSnapshot{MaxEntries: r.limits.Max(tid), SeqNums: []uint64{}}
		for _, inst := range list {
			ts.SeqNums = append(ts.SeqNums, inst.SeqNum())
		}
		s.Threads = append(s.Threads, ts)
	}
	return s
}

func (r *ROB[I]) checkCounts() {
	sum := 0
	for tid, list := range r.lists {
		if len(list) != r.threadEntries[tid] {
			invariant.Panicf("ROB", 0, "thread %d holds %d instructions but counts %d",
				tid, len(list), r.threadEntries[tid])
		}
		sum += r.threadEntries[tid]
	}
	if sum != r.numInsts {
		invariant.Panicf("ROB", 0, "thread counts sum to %d but ROB counts %d", sum, r.numInsts)
	}
}
