package pipeline

import (
	"github.com/sarchlab/o3sim/timing/invariant"
	"github.com/sarchlab/o3sim/timing/timebuf"
)

// Stage indices used by the ActivityRecorder.
const (
	FetchIdx = iota
	DecodeIdx
	RenameIdx
	IEWIdx
	CommitIdx

	NumStages
)

// ActivityRecorder tracks whether the core did anything in the last few
// cycles. A stage that writes to a time buffer records activity, which
// keeps the core awake until the write has had time to reach every reader;
// a stage with internal work pending stays active until it drains.
type ActivityRecorder struct {
	longest     int
	buf         *timebuf.TimeBuffer[bool]
	stageActive []bool
	count       int
}

// NewActivityRecorder creates a recorder for numStages stages whose
// longest communication delay is longestLatency cycles.
func NewActivityRecorder(numStages, longestLatency int) *ActivityRecorder {
	return &ActivityRecorder{
		longest:     longestLatency,
		buf:         timebuf.New[bool](longestLatency, 0),
		stageActive: make([]bool, numStages),
	}
}

// Activity records activity in the current cycle. Further calls in the
// same cycle have no effect.
func (a *ActivityRecorder) Activity() {
	slot := a.buf.Access(0)
	if *slot {
		return
	}
	*slot = true
	a.count++
}

// Advance moves to the next cycle, dropping the activity recorded
// longestLatency cycles ago.
func (a *ActivityRecorder) Advance() {
	if *a.buf.Access(-a.longest) {
		a.count--
		if a.count < 0 {
			invariant.Panicf("ActivityRecorder", 0, "activity count went negative")
		}
	}
	a.buf.Advance()
}

// ActivateStage marks stage idx as having pending work.
func (a *ActivityRecorder) ActivateStage(idx int) {
	if a.stageActive[idx] {
		return
	}
	a.stageActive[idx] = true
	a.count++
}

// DeactivateStage marks stage idx as drained.
func (a *ActivityRecorder) DeactivateStage(idx int) {
	if !a.stageActive[idx] {
		return
	}
	a.stageActive[idx] = false
	a.count--
	if a.count < 0 {
		invariant.Panicf("ActivityRecorder", 0, "activity count went negative")
	}
}

// StageActive reports whether stage idx is marked active.
func (a *ActivityRecorder) StageActive(idx int) bool { return a.stageActive[idx] }

// Active reports whether there was any recent activity.
func (a *ActivityRecorder) Active() bool { return a.count != 0 }

// Count returns the number of recent activity records plus active stages.
func (a *ActivityRecorder) Count() int { return a.count }

// Reset clears all recorded activity.
func (a *ActivityRecorder) Reset() {
	a.buf.Reset()
	for i := range a.stageActive {
		a.stageActive[i] = false
	}
	a.count = 0
}
