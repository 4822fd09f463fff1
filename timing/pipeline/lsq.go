package pipeline

import (
	"github.com/sarchlab/o3sim/emu"
	"github.com/sarchlab/o3sim/timing/cache"
	"github.com/sarchlab/o3sim/timing/rob"
)

// forwardLatency is the latency of a load served by the store queue.
const forwardLatency = 1

// LSQStats holds load/store queue counters.
type LSQStats struct {
	LoadsExecuted   uint64
	StoresExecuted  uint64
	Forwarded       uint64
	Rescheduled     uint64
	Violations      uint64
	CacheReads      uint64
	CacheWrites     uint64
	SquashedLoads   uint64
	SquashedStores  uint64
	BlockedByStores uint64
}

// loadStatus is the outcome of executing a load.
type loadStatus int

const (
	loadDone loadStatus = iota
	loadFault
	loadReschedule
)

type loadResult struct {
	status  loadStatus
	latency uint64
}

// LSQ holds the in-flight loads and stores of every thread in program
// order. Loads read memory or forward from older stores when they execute;
// stores write memory only when they commit.
type LSQ struct {
	lqEntries, sqEntries int
	lqLimits, sqLimits   *rob.Limits
	loads, stores        [][]*DynInst
	totalLoads           int
	totalStores          int

	mem    MemoryPort
	dcache *cache.Cache

	stats LSQStats
}

// NewLSQ creates the load/store queue. dcache may be nil.
func NewLSQ(p *Params, mem MemoryPort, dcache *cache.Cache) *LSQ {
	return &LSQ{
		lqEntries: p.LQEntries,
		sqEntries: p.SQEntries,
		lqLimits: rob.NewLimits(p.SMTLSQPolicy, p.LQEntries,
			p.SMTLSQThreshold, p.NumThreads),
		sqLimits: rob.NewLimits(p.SMTLSQPolicy, p.SQEntries,
			p.SMTLSQThreshold, p.NumThreads),
		loads:  make([][]*DynInst, p.NumThreads),
		stores: make([][]*DynInst, p.NumThreads),
		mem:    mem,
		dcache: dcache,
	}
}

// ResetEntries recomputes the per-thread caps for the active threads.
func (q *LSQ) ResetEntries(active []int) {
	q.lqLimits.Reset(active)
	q.sqLimits.Reset(active)
}

// NumFreeLoadEntries returns how many more loads thread tid may dispatch.
func (q *LSQ) NumFreeLoadEntries(tid int) int {
	return q.lqLimits.Free(tid, len(q.loads[tid]), q.totalLoads)
}

// NumFreeStoreEntries returns how many more stores thread tid may
// dispatch.
func (q *LSQ) NumFreeStoreEntries(tid int) int {
	return q.sqLimits.Free(tid, len(q.stores[tid]), q.totalStores)
}

// NumTotalFreeLoadEntries returns the number of unused load entries.
func (q *LSQ) NumTotalFreeLoadEntries() int { return q.lqEntries - q.totalLoads }

// NumTotalFreeStoreEntries returns the number of unused store entries.
func (q *LSQ) NumTotalFreeStoreEntries() int { return q.sqEntries - q.totalStores }

// NumLoads returns the number of loads thread tid holds.
func (q *LSQ) NumLoads(tid int) int { return len(q.loads[tid]) }

// NumStores returns the number of stores thread tid holds.
func (q *LSQ) NumStores(tid int) int { return len(q.stores[tid]) }

// IsEmpty reports whether no thread holds a load or store.
func (q *LSQ) IsEmpty() bool { return q.totalLoads == 0 && q.totalStores == 0 }

// Insert adds a load or store at the tail of its thread's queue.
func (q *LSQ) Insert(inst *DynInst) {
	tid := inst.tid
	if inst.IsLoad() {
		q.loads[tid] = append(q.loads[tid], inst)
		q.totalLoads++
	} else {
		q.stores[tid] = append(q.stores[tid], inst)
		q.totalStores++
	}
	inst.inLSQ = true
}

func overlaps(a, b *DynInst) bool {
	aEnd := a.effAddr + uint64(a.inst.MemSize())
	bEnd := b.effAddr + uint64(b.inst.MemSize())
	return a.effAddr < bEnd && b.effAddr < aEnd
}

func covers(store, load *DynInst) bool {
	return store.effAddr <= load.effAddr &&
		load.effAddr+uint64(load.inst.MemSize()) <=
			store.effAddr+uint64(store.inst.MemSize())
}

// ExecuteLoad performs a load whose effective address is known. The value
// comes from the youngest older store that covers it, or from memory when
// no uncommitted older store overlaps. A load that only partly overlaps an
// older store must wait for that store to leave the queue.
func (q *LSQ) ExecuteLoad(load *DynInst) loadResult {
	size := load.inst.MemSize()
	if f := q.mem.Check(load.effAddr, size, false); f.IsFault() {
		load.fault = f
		return loadResult{status: loadFault, latency: 1}
	}

	q.stats.LoadsExecuted++

	stores := q.stores[load.tid]
	for i := len(stores) - 1; i >= 0; i-- {
		st := stores[i]
		if st.committed {
			break
		}
		if st.seqNum > load.seqNum || !st.effAddrValid || st.fault.IsFault() {
			continue
		}
		if !overlaps(st, load) {
			continue
		}

		if !covers(st, load) {
			q.stats.Rescheduled++
			q.stats.BlockedByStores++
			return loadResult{status: loadReschedule}
		}

		shift := (load.effAddr - st.effAddr) * 8
		raw := st.storeData >> shift
		if size < 8 {
			raw &= (uint64(1) << (uint(size) * 8)) - 1
		}
		load.result = emu.LoadResult(load.inst, raw)
		load.memOpDone = true
		q.stats.Forwarded++
		return loadResult{status: loadDone, latency: forwardLatency}
	}

	raw, f := q.mem.Read(load.effAddr, size)
	if f.IsFault() {
		load.fault = f
		return loadResult{status: loadFault, latency: 1}
	}
	load.result = emu.LoadResult(load.inst, raw)
	load.memOpDone = true

	lat := uint64(1)
	if q.dcache != nil {
		lat = max(q.dcache.Read(load.effAddr).Latency, 1)
		q.stats.CacheReads++
	}
	return loadResult{status: loadDone, latency: lat}
}

// ExecuteStore checks a store whose address and data are known and
// returns the oldest younger load of the thread that already read an
// overlapping location, or nil.
func (q *LSQ) ExecuteStore(store *DynInst) *DynInst {
	size := store.inst.MemSize()
	if f := q.mem.Check(store.effAddr, size, true); f.IsFault() {
		store.fault = f
		return nil
	}

	q.stats.StoresExecuted++

	for _, ld := range q.loads[store.tid] {
		if ld.seqNum < store.seqNum || !ld.memOpDone || ld.squashed {
			continue
		}
		if overlaps(store, ld) {
			q.stats.Violations++
			return ld
		}
	}
	return nil
}

// WriteCommitted performs a committing store's memory write.
func (q *LSQ) WriteCommitted(store *DynInst) emu.Fault {
	if f := q.mem.Write(store.effAddr, store.inst.MemSize(), store.storeData); f.IsFault() {
		return f
	}
	if q.dcache != nil {
		q.dcache.Write(store.effAddr)
		q.stats.CacheWrites++
	}
	return emu.NoFault
}

// Commit removes the loads and stores of thread tid at or older than seq
// and returns the number of stores removed.
func (q *LSQ) Commit(seq uint64, tid int) int {
	n := 0
	for n < len(q.loads[tid]) && q.loads[tid][n].seqNum <= seq {
		q.loads[tid][n].inLSQ = false
		q.loads[tid][n] = nil
		n++
	}
	q.loads[tid] = q.loads[tid][n:]
	q.totalLoads -= n

	n = 0
	for n < len(q.stores[tid]) && q.stores[tid][n].seqNum <= seq {
		q.stores[tid][n].inLSQ = false
		q.stores[tid][n] = nil
		n++
	}
	q.stores[tid] = q.stores[tid][n:]
	q.totalStores -= n

	return n
}

// Squash removes the loads and stores of thread tid younger than seq.
func (q *LSQ) Squash(seq uint64, tid int) {
	ld := q.loads[tid]
	for len(ld) > 0 && ld[len(ld)-1].seqNum > seq {
		ld[len(ld)-1].inLSQ = false
		ld = ld[:len(ld)-1]
		q.totalLoads--
		q.stats.SquashedLoads++
	}
	q.loads[tid] = ld

	st := q.stores[tid]
	for len(st) > 0 && st[len(st)-1].seqNum > seq {
		st[len(st)-1].inLSQ = false
		st = st[:len(st)-1]
		q.totalStores--
		q.stats.SquashedStores++
	}
	q.stores[tid] = st
}

// Stats returns the queue counters.
func (q *LSQ) Stats() LSQStats { return q.stats }
