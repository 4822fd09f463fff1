// Package core clocks an out-of-order CPU from an akita simulation engine.
// It wraps the pipeline so that the CPU can sit next to other components
// driven by the same event queue.
package core

import (
	"errors"
	"sync"

	"github.com/go-logr/logr"
	"github.com/rs/xid"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/akita/v4/tracing"

	"github.com/sarchlab/o3sim/emu"
	"github.com/sarchlab/o3sim/timing/invariant"
	"github.com/sarchlab/o3sim/timing/pipeline"
)

// Hook positions at which a Core invokes its hooks. The hook item is the
// *pipeline.DynInst concerned.
var (
	HookPosFetch  = &sim.HookPos{Name: "Fetch"}
	HookPosCommit = &sim.HookPos{Name: "Commit"}
	HookPosSquash = &sim.HookPos{Name: "Squash"}
)

// ErrMaxCycles is reported when the core reaches its cycle limit.
var ErrMaxCycles = errors.New("core reached its cycle limit")

// Core is a ticking component that advances a pipeline.CPU by one cycle per
// tick. It stops ticking when the CPU goes idle and starts again when a
// thread request or an interrupt arrives.
type Core struct {
	*sim.TickingComponent

	mu        sync.Mutex
	cpu       *pipeline.CPU
	log       logr.Logger
	maxCycles uint64
	err       error

	// taskIDs holds the trace task of every in-flight instruction while
	// hooks are attached.
	taskIDs map[*pipeline.DynInst]string
}

// Builder creates cores.
type Builder struct {
	engine    sim.Engine
	freq      sim.Freq
	params    pipeline.Params
	log       logr.Logger
	maxCycles uint64
	visTracer tracing.Tracer
	opts      []pipeline.Option
}

// MakeBuilder returns a builder with a 1 GHz clock and the default core
// parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:   1 * sim.GHz,
		params: pipeline.DefaultParams(),
		log:    logr.Discard(),
	}
}

// WithEngine sets the engine that schedules the ticks.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the clock frequency.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithParams sets the core parameters.
func (b Builder) WithParams(params pipeline.Params) Builder {
	b.params = params
	return b
}

// WithLogger sets the logger of the core and of the CPU it wraps.
func (b Builder) WithLogger(log logr.Logger) Builder {
	b.log = log
	return b
}

// WithMaxCycles stops the core after n cycles. 0 means no limit.
func (b Builder) WithMaxCycles(n uint64) Builder {
	b.maxCycles = n
	return b
}

// WithVisTracer records every instruction as a task of the tracer.
func (b Builder) WithVisTracer(tracer tracing.Tracer) Builder {
	b.visTracer = tracer
	return b
}

// WithCPUOptions passes extra options to the CPU.
func (b Builder) WithCPUOptions(opts ...pipeline.Option) Builder {
	b.opts = append(append([]pipeline.Option(nil), b.opts...), opts...)
	return b
}

// Build creates a core named name that runs threads on mem. The core
// schedules its first tick immediately.
func (b Builder) Build(
	name string,
	mem pipeline.MemoryPort,
	threads []*emu.RegFile,
) (*Core, error) {
	if b.engine == nil {
		return nil, errors.New("core needs an engine")
	}

	c := &Core{
		log:       b.log.WithName(name),
		maxCycles: b.maxCycles,
		taskIDs:   make(map[*pipeline.DynInst]string),
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)

	opts := append([]pipeline.Option{
		pipeline.WithLogger(c.log),
		pipeline.WithInstObserver(c),
	}, b.opts...)

	cpu, err := pipeline.NewCPU(b.params, mem, threads, opts...)
	if err != nil {
		return nil, err
	}
	c.cpu = cpu

	if b.visTracer != nil {
		tracing.CollectTrace(c, b.visTracer)
	}

	c.TickLater()

	return c, nil
}

// Tick advances the CPU by one cycle and reports whether it still has work.
func (c *Core) Tick() (madeProgress bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil || !c.cpu.Active() {
		return false
	}
	if c.maxCycles > 0 && c.cpu.Cycle() >= c.maxCycles {
		c.err = ErrMaxCycles
		c.log.Info("cycle limit reached", "cycle", c.cpu.Cycle())
		return false
	}

	c.tickCPU()

	return c.err == nil && c.cpu.Active()
}

func (c *Core) tickCPU() {
	defer func() {
		if r := recover(); r != nil {
			c.err = invariant.Recover(r)
			c.log.Error(c.err, "core stopped", "cycle", c.cpu.Cycle())
		}
	}()

	c.cpu.Tick()
}

// PostInterrupt raises an interrupt on thread tid and wakes the core.
func (c *Core) PostInterrupt(tid int) {
	c.mu.Lock()
	c.cpu.PostInterrupt(tid)
	c.mu.Unlock()

	c.TickLater()
}

// HaltThread asks thread tid to stop and wakes the core.
func (c *Core) HaltThread(tid int) {
	c.mu.Lock()
	c.cpu.HaltThread(tid)
	c.mu.Unlock()

	c.TickLater()
}

// ActivateThread restarts thread tid and wakes the core.
func (c *Core) ActivateThread(tid int) {
	c.mu.Lock()
	c.cpu.ActivateThread(tid)
	c.mu.Unlock()

	c.TickLater()
}

// CPU returns the wrapped CPU. It must not be used while the engine runs.
func (c *Core) CPU() *pipeline.CPU {
	return c.cpu
}

// Err returns the error that stopped the core, if any.
func (c *Core) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

// Stats returns the counters of the wrapped CPU.
func (c *Core) Stats() pipeline.Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cpu.Stats()
}

// ThreadState summarizes one hardware thread.
type ThreadState struct {
	ID        int    `json:"id"`
	PC        uint64 `json:"pc"`
	Halted    bool   `json:"halted"`
	ExitFault string `json:"exit_fault"`
	Committed uint64 `json:"committed"`
	InFlight  int    `json:"in_flight"`
}

// NumThreads returns the number of hardware threads.
func (c *Core) NumThreads() int {
	return c.cpu.Params().NumThreads
}

// Threads returns the state of every hardware thread.
func (c *Core) Threads() []ThreadState {
	c.mu.Lock()
	defer c.mu.Unlock()

	committed := c.cpu.Stats().Commit.CommittedPerThread
	states := make([]ThreadState, c.cpu.Params().NumThreads)
	for tid := range states {
		states[tid] = ThreadState{
			ID:        tid,
			PC:        c.cpu.ThreadContext(tid).PC,
			Halted:    c.cpu.Halted(tid),
			ExitFault: c.cpu.ExitFault(tid).String(),
			Committed: committed[tid],
			InFlight:  len(c.cpu.InFlight(tid)),
		}
	}

	return states
}

// InstFetched implements pipeline.InstObserver.
func (c *Core) InstFetched(inst *pipeline.DynInst, cycle uint64) {
	if c.NumHooks() == 0 {
		return
	}

	id := xid.New().String()
	c.taskIDs[inst] = id
	tracing.StartTask(id, "", c, "inst",
		inst.StaticInst().Op.String(), inst)

	c.invoke(HookPosFetch, inst, cycle)
}

// InstCommitted implements pipeline.InstObserver.
func (c *Core) InstCommitted(inst *pipeline.DynInst, cycle uint64) {
	c.endTask(inst, "commit")
	c.invoke(HookPosCommit, inst, cycle)
}

// InstSquashed implements pipeline.InstObserver.
func (c *Core) InstSquashed(inst *pipeline.DynInst, cycle uint64) {
	c.endTask(inst, "squash")
	c.invoke(HookPosSquash, inst, cycle)
}

func (c *Core) endTask(inst *pipeline.DynInst, what string) {
	id, ok := c.taskIDs[inst]
	if !ok {
		return
	}
	delete(c.taskIDs, inst)

	tracing.AddTaskStep(id, c, what)
	tracing.EndTask(id, c)
}

func (c *Core) invoke(pos *sim.HookPos, inst *pipeline.DynInst, cycle uint64) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(sim.HookCtx{
		Domain: c,
		Pos:    pos,
		Item:   inst,
		Detail: cycle,
	})
}
