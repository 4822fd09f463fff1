package bpred

// History is the state a direction predictor records at lookup time. It is
// handed back on update and squash so speculative history can be repaired.
type History struct {
	GlobalHistory   uint32
	LocalPredTaken  bool
	GlobalPredTaken bool
	GlobalUsed      bool
}

// DirectionPredictor predicts whether a branch is taken.
type DirectionPredictor interface {
	// Lookup predicts the branch at pc and speculatively updates history.
	Lookup(tid int, pc uint64) (bool, History)

	// Uncond records an unconditional branch.
	Uncond(tid int) History

	// Update trains the predictor with the resolved outcome. When squashed
	// is set only speculative history is repaired; counters are trained
	// when the branch commits.
	Update(tid int, pc uint64, taken bool, h History, squashed bool)

	// Squash restores speculative history to its state before the lookup
	// that produced h.
	Squash(tid int, h History)
}

// Bimodal is a table of saturating counters indexed by PC.
type Bimodal struct {
	ctrs      []satCounter
	mask      uint64
	shiftAmt  uint
	ctrBits   uint
	initValue uint8
}

// NewBimodal creates a bimodal predictor from the local predictor fields of
// cfg.
func NewBimodal(cfg Config) *Bimodal {
	b := &Bimodal{
		ctrs:     make([]satCounter, cfg.LocalPredictorSize),
		mask:     uint64(cfg.LocalPredictorSize - 1),
		shiftAmt: cfg.InstShiftAmt,
		ctrBits:  cfg.LocalCtrBits,
		// Weakly taken.
		initValue: uint8(1 << (cfg.LocalCtrBits - 1)),
	}
	b.Reset()
	return b
}

func (b *Bimodal) index(pc uint64) uint64 {
	return (pc >> b.shiftAmt) & b.mask
}

// Lookup implements DirectionPredictor.
func (b *Bimodal) Lookup(_ int, pc uint64) (bool, History) {
	return b.ctrs[b.index(pc)].taken(), History{}
}

// Uncond implements DirectionPredictor.
func (b *Bimodal) Uncond(int) History { return History{} }

// Update implements DirectionPredictor.
func (b *Bimodal) Update(_ int, pc uint64, taken bool, _ History, squashed bool) {
	if squashed {
		return
	}

	c := &b.ctrs[b.index(pc)]
	if taken {
		c.increment()
	} else {
		c.decrement()
	}
}

// Squash implements DirectionPredictor.
func (b *Bimodal) Squash(int, History) {}

// Reset sets every counter back to weakly taken.
func (b *Bimodal) Reset() {
	for i := range b.ctrs {
		b.ctrs[i] = newSatCounter(b.ctrBits, b.initValue)
	}
}

// Tournament combines a local history predictor and a global history
// predictor, choosing between them with a third table indexed by global
// history. Each thread keeps its own global history.
type Tournament struct {
	localCtrs         []satCounter
	localPredMask     uint32
	localHistory      []uint32
	localHistTblMask  uint64
	localHistoryMask  uint32
	globalCtrs        []satCounter
	globalHistoryMask uint32
	choiceCtrs        []satCounter
	choiceMask        uint32
	shiftAmt          uint

	globalHistory []uint32
}

// NewTournament creates a tournament predictor for numThreads threads.
func NewTournament(cfg Config, numThreads int) *Tournament {
	t := &Tournament{
		localCtrs:         make([]satCounter, cfg.LocalPredictorSize),
		localPredMask:     cfg.LocalPredictorSize - 1,
		localHistory:      make([]uint32, cfg.LocalHistoryTableSize),
		localHistTblMask:  uint64(cfg.LocalHistoryTableSize - 1),
		localHistoryMask:  uint32(uint64(1)<<cfg.LocalHistoryBits - 1),
		globalCtrs:        make([]satCounter, cfg.GlobalPredictorSize),
		globalHistoryMask: uint32(1)<<log2(cfg.GlobalPredictorSize) - 1,
		choiceCtrs:        make([]satCounter, cfg.ChoicePredictorSize),
		choiceMask:        cfg.ChoicePredictorSize - 1,
		shiftAmt:          cfg.InstShiftAmt,
		globalHistory:     make([]uint32, numThreads),
	}

	for i := range t.localCtrs {
		t.localCtrs[i] = newSatCounter(cfg.LocalCtrBits, 0)
	}
	for i := range t.globalCtrs {
		t.globalCtrs[i] = newSatCounter(cfg.GlobalCtrBits, 0)
	}
	for i := range t.choiceCtrs {
		t.choiceCtrs[i] = newSatCounter(cfg.ChoiceCtrBits, 0)
	}

	return t
}

func (t *Tournament) localHistIdx(pc uint64) uint64 {
	return (pc >> t.shiftAmt) & t.localHistTblMask
}

func (t *Tournament) pushGlobal(tid int, taken bool) {
	h := t.globalHistory[tid] << 1
	if taken {
		h |= 1
	}
	t.globalHistory[tid] = h & t.globalHistoryMask
}

// Lookup implements DirectionPredictor.
func (t *Tournament) Lookup(tid int, pc uint64) (bool, History) {
	ghr := t.globalHistory[tid]
	localIdx := t.localHistory[t.localHistIdx(pc)] & t.localPredMask

	h := History{
		GlobalHistory:   ghr,
		LocalPredTaken:  t.localCtrs[localIdx].taken(),
		GlobalPredTaken: t.globalCtrs[ghr].taken(),
		GlobalUsed:      t.choiceCtrs[ghr&t.choiceMask].taken(),
	}

	taken := h.LocalPredTaken
	if h.GlobalUsed {
		taken = h.GlobalPredTaken
	}

	t.pushGlobal(tid, taken)

	return taken, h
}

// Uncond implements DirectionPredictor.
func (t *Tournament) Uncond(tid int) History {
	h := History{
		GlobalHistory:   t.globalHistory[tid],
		LocalPredTaken:  true,
		GlobalPredTaken: true,
		GlobalUsed:      true,
	}
	t.pushGlobal(tid, true)
	return h
}

// Update implements DirectionPredictor.
func (t *Tournament) Update(tid int, pc uint64, taken bool, h History, squashed bool) {
	if squashed {
		t.globalHistory[tid] = h.GlobalHistory
		t.pushGlobal(tid, taken)
		return
	}

	if h.LocalPredTaken != h.GlobalPredTaken {
		choice := &t.choiceCtrs[h.GlobalHistory&t.choiceMask]
		if h.LocalPredTaken == taken {
			choice.decrement()
		} else {
			choice.increment()
		}
	}

	histIdx := t.localHistIdx(pc)
	local := &t.localCtrs[t.localHistory[histIdx]&t.localPredMask]
	global := &t.globalCtrs[h.GlobalHistory]

	next := t.localHistory[histIdx] << 1
	if taken {
		local.increment()
		global.increment()
		next |= 1
	} else {
		local.decrement()
		global.decrement()
	}
	t.localHistory[histIdx] = next & t.localHistoryMask
}

// Squash implements DirectionPredictor.
func (t *Tournament) Squash(tid int, h History) {
	t.globalHistory[tid] = h.GlobalHistory
}

// GlobalHistory returns the speculative global history of a thread.
func (t *Tournament) GlobalHistory(tid int) uint32 {
	return t.globalHistory[tid]
}
