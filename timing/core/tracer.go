package core

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/rs/xid"
	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/o3sim/timing/pipeline"
)

// TraceRecord is the lifetime of one instruction that left the pipeline.
type TraceRecord struct {
	ID          string `json:"id"`
	Thread      int    `json:"thread"`
	SeqNum      uint64 `json:"seq"`
	PC          uint64 `json:"pc"`
	Disasm      string `json:"disasm"`
	FetchCycle  uint64 `json:"fetch_cycle"`
	RetireCycle uint64 `json:"retire_cycle"`
	Squashed    bool   `json:"squashed"`
}

// Tracer is a hook that records committed instructions, and optionally
// squashed ones, as JSON lines.
type Tracer struct {
	mu           sync.Mutex
	enc          *json.Encoder
	withSquashed bool
	count        uint64
	err          error
}

// NewTracer creates a tracer writing to w.
func NewTracer(w io.Writer, withSquashed bool) *Tracer {
	return &Tracer{
		enc:          json.NewEncoder(w),
		withSquashed: withSquashed,
	}
}

// Func implements sim.Hook.
func (t *Tracer) Func(ctx sim.HookCtx) {
	squashed := false
	switch ctx.Pos {
	case HookPosCommit:
	case HookPosSquash:
		if !t.withSquashed {
			return
		}
		squashed = true
	default:
		return
	}

	inst := ctx.Item.(*pipeline.DynInst)
	cycle, _ := ctx.Detail.(uint64)

	rec := TraceRecord{
		ID:          xid.New().String(),
		Thread:      inst.ThreadID(),
		SeqNum:      inst.SeqNum(),
		PC:          inst.PC(),
		Disasm:      inst.StaticInst().String(),
		FetchCycle:  inst.FetchCycle(),
		RetireCycle: cycle,
		Squashed:    squashed,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return
	}
	t.err = t.enc.Encode(rec)
	t.count++
}

// Count returns the number of records written.
func (t *Tracer) Count() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.count
}

// Err returns the first write error.
func (t *Tracer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}
