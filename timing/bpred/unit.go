package bpred

import (
	"fmt"

	"github.com/sarchlab/o3sim/insts"
)

// Predictor is the branch prediction capability fetch and commit use.
type Predictor interface {
	// Predict predicts the control instruction inst at pc and returns
	// whether it is taken and the predicted next PC.
	Predict(seq uint64, tid int, pc uint64, inst *insts.Instruction) (bool, uint64)

	// Update trains the predictor with every prediction of thread tid at
	// or older than doneSeq.
	Update(doneSeq uint64, tid int)

	// Squash discards every prediction of thread tid younger than seq.
	Squash(seq uint64, tid int)

	// SquashMispredict discards predictions younger than seq and corrects
	// the prediction of seq itself.
	SquashMispredict(seq uint64, tid int, target uint64, taken bool)

	// Stats returns the predictor counters.
	Stats() Stats
}

// Stats holds branch predictor counters.
type Stats struct {
	// Lookups is the number of control instructions predicted.
	Lookups uint64
	// CondPredicted is the number of conditional branches predicted.
	CondPredicted uint64
	// CondIncorrect is the number of conditional branches mispredicted.
	CondIncorrect uint64
	// Mispredictions is the number of control instructions of any kind
	// that redirected fetch after resolving.
	Mispredictions uint64
	// BTBLookups is the number of BTB lookups.
	BTBLookups uint64
	// BTBHits is the number of BTB hits.
	BTBHits uint64
	// UsedRAS is the number of returns predicted from the RAS.
	UsedRAS uint64
	// RASIncorrect is the number of RAS predictions that were wrong.
	RASIncorrect uint64
}

// Accuracy returns the conditional branch prediction accuracy as a
// percentage.
func (s Stats) Accuracy() float64 {
	if s.CondPredicted == 0 {
		return 0
	}
	return float64(s.CondPredicted-s.CondIncorrect) / float64(s.CondPredicted) * 100
}

// MispredictionRate returns the misprediction rate over all lookups as a
// percentage.
func (s Stats) MispredictionRate() float64 {
	if s.Lookups == 0 {
		return 0
	}
	return float64(s.Mispredictions) / float64(s.Lookups) * 100
}

// BTBHitRate returns the BTB hit rate as a percentage.
func (s Stats) BTBHitRate() float64 {
	if s.BTBLookups == 0 {
		return 0
	}
	return float64(s.BTBHits) / float64(s.BTBLookups) * 100
}

// predHistory is what the unit remembers about one prediction until the
// branch commits or is squashed.
type predHistory struct {
	seq       uint64
	pc        uint64
	predTaken bool
	uncond    bool
	usedRAS   bool
	rasIndex  int
	rasTarget uint64
	wasCall   bool
	bpHistory History
}

// Unit combines a direction predictor, a BTB and per-thread return address
// stacks.
type Unit struct {
	dir DirectionPredictor
	btb *BTB
	ras []*RAS

	// Per thread, oldest first.
	hist [][]predHistory

	stats Stats
}

// NewUnit creates a branch prediction unit for numThreads threads.
func NewUnit(cfg Config, numThreads int) (*Unit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if numThreads <= 0 {
		return nil, fmt.Errorf("branch predictor needs at least one thread, got %d", numThreads)
	}

	var dir DirectionPredictor
	switch cfg.Kind {
	case KindBimodal:
		dir = NewBimodal(cfg)
	default:
		dir = NewTournament(cfg, numThreads)
	}

	return NewUnitWithDirection(cfg, numThreads, dir), nil
}

// NewUnitWithDirection creates a unit around an existing direction
// predictor. cfg must already be valid.
func NewUnitWithDirection(cfg Config, numThreads int, dir DirectionPredictor) *Unit {
	u := &Unit{
		dir:  dir,
		btb:  NewBTB(cfg.BTBEntries, cfg.BTBTagBits, cfg.InstShiftAmt),
		ras:  make([]*RAS, numThreads),
		hist: make([][]predHistory, numThreads),
	}
	for i := range u.ras {
		u.ras[i] = NewRAS(cfg.RASSize)
	}
	return u
}

// Predict implements Predictor. Returns are predicted from the RAS; every
// other taken branch needs a BTB hit, otherwise it is predicted not taken.
func (u *Unit) Predict(seq uint64, tid int, pc uint64, inst *insts.Instruction) (bool, uint64) {
	u.stats.Lookups++

	rec := predHistory{seq: seq, pc: pc}

	taken := false
	if inst.IsUncondCtrl() {
		taken = true
		rec.uncond = true
		rec.bpHistory = u.dir.Uncond(tid)
	} else {
		u.stats.CondPredicted++
		taken, rec.bpHistory = u.dir.Lookup(tid, pc)
	}
	rec.predTaken = taken

	target := pc + 4
	if taken {
		ras := u.ras[tid]
		if inst.IsReturn() {
			u.stats.UsedRAS++
			target = ras.Top()
			rec.rasIndex = ras.TopIdx()
			rec.rasTarget = target
			rec.usedRAS = true
			ras.Pop()
		} else {
			u.stats.BTBLookups++

			if inst.IsCall() {
				ras.Push(pc + 4)
				rec.wasCall = true
			}

			if t, ok := u.btb.Lookup(tid, pc); ok {
				u.stats.BTBHits++
				target = t
			} else {
				taken = false
			}
		}
	}

	u.hist[tid] = append(u.hist[tid], rec)

	return taken, target
}

// Update implements Predictor.
func (u *Unit) Update(doneSeq uint64, tid int) {
	h := u.hist[tid]
	n := 0
	for n < len(h) && h[n].seq <= doneSeq {
		u.dir.Update(tid, h[n].pc, h[n].predTaken, h[n].bpHistory, false)
		n++
	}
	u.hist[tid] = h[n:]
}

// Squash implements Predictor.
func (u *Unit) Squash(seq uint64, tid int) {
	h := u.hist[tid]
	ras := u.ras[tid]
	for len(h) > 0 {
		rec := h[len(h)-1]
		if rec.seq <= seq {
			break
		}

		if rec.usedRAS {
			ras.Restore(rec.rasIndex, rec.rasTarget)
		} else if rec.wasCall {
			ras.Pop()
		}
		u.dir.Squash(tid, rec.bpHistory)

		h = h[:len(h)-1]
	}
	u.hist[tid] = h
}

// SquashMispredict implements Predictor.
func (u *Unit) SquashMispredict(seq uint64, tid int, target uint64, taken bool) {
	u.stats.Mispredictions++
	u.Squash(seq, tid)

	h := u.hist[tid]
	if len(h) == 0 || h[len(h)-1].seq != seq {
		return
	}

	rec := &h[len(h)-1]
	if !rec.uncond {
		u.stats.CondIncorrect++
	}
	if rec.usedRAS {
		u.stats.RASIncorrect++
	}

	u.dir.Update(tid, rec.pc, taken, rec.bpHistory, true)
	if taken {
		u.btb.Update(tid, rec.pc, target)
	}
	rec.predTaken = taken
}

// Stats implements Predictor.
func (u *Unit) Stats() Stats {
	return u.stats
}

// Outstanding returns the number of predictions of thread tid that have
// neither committed nor been squashed.
func (u *Unit) Outstanding(tid int) int {
	return len(u.hist[tid])
}

// BTB returns the unit's branch target buffer.
func (u *Unit) BTB() *BTB { return u.btb }

// RAS returns the return address stack of thread tid.
func (u *Unit) RAS(tid int) *RAS { return u.ras[tid] }
