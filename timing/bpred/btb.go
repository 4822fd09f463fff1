package bpred

type btbEntry struct {
	valid  bool
	tid    int
	tag    uint64
	target uint64
}

// BTB is a direct-mapped, tagged branch target buffer.
type BTB struct {
	entries     []btbEntry
	idxMask     uint64
	tagMask     uint64
	shiftAmt    uint
	tagShiftAmt uint
}

// NewBTB creates a BTB with numEntries entries and tagBits-wide tags.
func NewBTB(numEntries uint32, tagBits, shiftAmt uint) *BTB {
	tagMask := ^uint64(0)
	if tagBits < 64 {
		tagMask = uint64(1)<<tagBits - 1
	}

	return &BTB{
		entries:     make([]btbEntry, numEntries),
		idxMask:     uint64(numEntries - 1),
		tagMask:     tagMask,
		shiftAmt:    shiftAmt,
		tagShiftAmt: shiftAmt + log2(numEntries),
	}
}

func (b *BTB) index(pc uint64) uint64 {
	return (pc >> b.shiftAmt) & b.idxMask
}

func (b *BTB) tag(pc uint64) uint64 {
	return (pc >> b.tagShiftAmt) & b.tagMask
}

// Lookup returns the target recorded for the branch at pc by thread tid.
func (b *BTB) Lookup(tid int, pc uint64) (uint64, bool) {
	e := &b.entries[b.index(pc)]
	if e.valid && e.tid == tid && e.tag == b.tag(pc) {
		return e.target, true
	}
	return 0, false
}

// Update records target as the destination of the branch at pc.
func (b *BTB) Update(tid int, pc, target uint64) {
	b.entries[b.index(pc)] = btbEntry{
		valid:  true,
		tid:    tid,
		tag:    b.tag(pc),
		target: target,
	}
}

// Reset invalidates every entry.
func (b *BTB) Reset() {
	for i := range b.entries {
		b.entries[i].valid = false
	}
}
