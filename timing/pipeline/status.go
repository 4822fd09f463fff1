package pipeline

// ThreadStatus is the per-thread state of a pipeline stage. Each stage uses
// a subset of the values.
type ThreadStatus uint8

// Thread states.
const (
	Running ThreadStatus = iota
	Idle
	Squashing
	Blocked
	Unblocking
	SerializeStall
	TrapPending
	QuiescePending
	ROBSquashing
)

var threadStatusNames = [...]string{
	"Running", "Idle", "Squashing", "Blocked", "Unblocking",
	"SerializeStall", "TrapPending", "QuiescePending", "ROBSquashing",
}

func (s ThreadStatus) String() string {
	if int(s) < len(threadStatusNames) {
		return threadStatusNames[s]
	}
	return "Unknown"
}

// StageStatus reports whether a stage has work to do.
type StageStatus uint8

// Stage states.
const (
	Inactive StageStatus = iota
	Active
)

func (s StageStatus) String() string {
	if s == Active {
		return "Active"
	}
	return "Inactive"
}

// popFront removes and returns the first instruction of q.
func popFront(q *[]*DynInst) *DynInst {
	inst := (*q)[0]
	(*q)[0] = nil
	*q = (*q)[1:]
	return inst
}

// removeSquashed drops the squashed instructions of q and returns how many
// it dropped.
func removeSquashed(q *[]*DynInst) int {
	kept := (*q)[:0]
	for _, inst := range *q {
		if !inst.squashed {
			kept = append(kept, inst)
		}
	}
	n := len(*q) - len(kept)
	for i := len(kept); i < len(*q); i++ {
		(*q)[i] = nil
	}
	*q = kept
	return n
}
