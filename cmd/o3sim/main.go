// Command o3sim runs an assembly program on the out-of-order core model or
// on the functional emulator.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/google/go-cmp/cmp"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/o3sim/emu"
	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/loader"
	"github.com/sarchlab/o3sim/monitor"
	"github.com/sarchlab/o3sim/timing/core"
	"github.com/sarchlab/o3sim/timing/invariant"
	"github.com/sarchlab/o3sim/timing/pipeline"
)

// Exit statuses.
const (
	exitOK         = 0
	exitError      = 1
	exitUsage      = 2
	exitGuestFault = 3
)

type options struct {
	emulate       bool
	paramsPath    string
	saveParams    string
	threads       int
	maxCycles     uint64
	maxInsts      uint64
	tracePath     string
	traceSquashed bool
	statsPath     string
	monitorAddr   string
	monitorHold   bool
	compare       bool
	dumpRegs      bool
	verbosity     int
}

func main() {
	atexit.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var opts options

	fs := flag.NewFlagSet("o3sim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.emulate, "emulate", false, "Run on the functional emulator only")
	fs.StringVar(&opts.paramsPath, "params", "", "Core parameter file (JSON or YAML)")
	fs.StringVar(&opts.saveParams, "save-params", "", "Write the effective parameters to this file")
	fs.IntVar(&opts.threads, "threads", 0, "Number of hardware threads (overrides -params)")
	fs.Uint64Var(&opts.maxCycles, "max-cycles", 0, "Stop after this many cycles (0 = no limit)")
	fs.Uint64Var(&opts.maxInsts, "max-insts", 100_000_000, "Instruction limit of the emulator")
	fs.StringVar(&opts.tracePath, "trace", "", "Write committed instructions to this file as JSON lines")
	fs.BoolVar(&opts.traceSquashed, "trace-squashed", false, "Also trace squashed instructions")
	fs.StringVar(&opts.statsPath, "stats", "", "Write the core statistics to this file as JSON")
	fs.StringVar(&opts.monitorAddr, "monitor", "", "Serve the monitoring API on this address")
	fs.BoolVar(&opts.monitorHold, "monitor-hold", false, "Keep serving after the run until interrupted")
	fs.BoolVar(&opts.compare, "compare", false, "Check thread 0 against the functional emulator")
	fs.BoolVar(&opts.dumpRegs, "regs", false, "Print the non-zero registers of every thread")
	fs.IntVar(&opts.verbosity, "v", 0, "Log verbosity")
	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "Usage: o3sim [options] <program.s>\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}

	log := funcr.New(func(prefix, args string) {
		_, _ = fmt.Fprintln(stderr, prefix, args)
	}, funcr.Options{Verbosity: opts.verbosity})

	prog, err := loader.LoadFile(fs.Arg(0))
	if err != nil {
		printError(stderr, err)
		return exitUsage
	}

	if opts.emulate {
		return runEmulation(prog, opts, stdout, stderr)
	}

	return runTiming(prog, opts, log, stdout, stderr)
}

func runEmulation(prog *loader.Program, opts options, stdout, stderr io.Writer) int {
	e := prog.NewEmulator(emu.WithMaxInstructions(opts.maxInsts))

	start := time.Now()
	err := e.Run()
	elapsed := time.Since(start)
	if err != nil {
		printError(stderr, err)
		return exitError
	}

	heading(stdout, "Emulation")
	_, _ = fmt.Fprintf(stdout, "Program: %s\n", prog.Path)
	_, _ = fmt.Fprintf(stdout, "Instructions executed: %d\n", e.InstructionCount())
	_, _ = fmt.Fprintf(stdout, "Exit: %s\n", e.ExitFault())
	_, _ = fmt.Fprintf(stdout, "Wall time: %v\n", elapsed)

	if opts.dumpRegs {
		dumpRegs(stdout, 0, e.RegFile())
	}

	if e.ExitFault().IsFault() {
		return exitGuestFault
	}
	return exitOK
}

func loadParams(opts options) (pipeline.Params, error) {
	params := pipeline.DefaultParams()
	if opts.paramsPath != "" {
		var err error
		params, err = pipeline.LoadParams(opts.paramsPath)
		if err != nil {
			return params, err
		}
	}

	if opts.threads > 0 {
		params.NumThreads = opts.threads
	}

	if err := params.Validate(); err != nil {
		return params, err
	}

	if opts.saveParams != "" {
		if err := params.SaveParams(opts.saveParams); err != nil {
			return params, err
		}
	}

	return params, nil
}

func runTiming(
	prog *loader.Program,
	opts options,
	log logr.Logger,
	stdout, stderr io.Writer,
) int {
	params, err := loadParams(opts)
	if err != nil {
		printError(stderr, err)
		return exitUsage
	}

	mem := emu.NewMemory()
	threads := make([]*emu.RegFile, params.NumThreads)
	for i := range threads {
		threads[i] = &emu.RegFile{}
	}
	prog.Load(mem, threads...)

	engine := sim.NewSerialEngine()
	c, err := core.MakeBuilder().
		WithEngine(engine).
		WithParams(params).
		WithLogger(log).
		WithMaxCycles(opts.maxCycles).
		Build("Core", mem, threads)
	if err != nil {
		printError(stderr, err)
		return exitError
	}

	if opts.tracePath != "" {
		f, err := os.Create(opts.tracePath)
		if err != nil {
			printError(stderr, err)
			return exitError
		}
		defer func() { _ = f.Close() }()

		w := bufio.NewWriter(f)
		defer func() { _ = w.Flush() }()

		c.AcceptHook(core.NewTracer(w, opts.traceSquashed))
	}

	var m *monitor.Monitor
	if opts.monitorAddr != "" {
		m = monitor.New(c, log)
		addr, err := m.StartServer(opts.monitorAddr)
		if err != nil {
			printError(stderr, err)
			return exitError
		}
		defer func() { _ = m.StopServer(context.Background()) }()
		_, _ = fmt.Fprintf(stdout, "Monitoring at http://%s/api (run %s)\n", addr, m.RunID())
	}

	start := time.Now()
	if err := engine.Run(); err != nil {
		printError(stderr, err)
		return exitError
	}
	elapsed := time.Since(start)

	status := exitOK
	if err := c.Err(); err != nil {
		printError(stderr, err)
		status = exitError
	} else if !c.CPU().AllHalted() {
		printError(stderr, pipeline.ErrStalled)
		status = exitError
	}

	report(stdout, prog, c, elapsed)
	if opts.dumpRegs {
		for tid, rf := range threads {
			dumpRegs(stdout, tid, rf)
		}
	}

	if opts.statsPath != "" {
		if err := writeStats(opts.statsPath, c.Stats()); err != nil {
			printError(stderr, err)
			status = exitError
		}
	}

	if opts.compare && status == exitOK {
		if err := compare(prog, opts, threads[0]); err != nil {
			printError(stderr, err)
			status = exitError
		} else {
			_, _ = color.New(color.FgGreen).Fprintln(stdout, "Thread 0 matches the emulator")
		}
	}

	if status == exitOK {
		for tid := range threads {
			if c.CPU().ExitFault(tid).IsFault() {
				status = exitGuestFault
			}
		}
	}

	if m != nil && opts.monitorHold {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		_, _ = fmt.Fprintln(stdout, "Run finished; serving until interrupted")
		<-ctx.Done()
	}

	return status
}

func report(w io.Writer, prog *loader.Program, c *core.Core, elapsed time.Duration) {
	stats := c.Stats()

	heading(w, "Timing Simulation")
	_, _ = fmt.Fprintf(w, "Program: %s\n", prog.Path)
	_, _ = fmt.Fprintf(w, "Cycles: %d\n", stats.Cycles)
	_, _ = fmt.Fprintf(w, "Committed: %d\n", stats.Committed)
	_, _ = fmt.Fprintf(w, "IPC: %.3f  CPI: %.3f\n", stats.IPC(), stats.CPI())
	_, _ = fmt.Fprintf(w, "Wall time: %v\n", elapsed)

	heading(w, "Threads")
	for _, t := range c.Threads() {
		state := color.New(color.FgGreen).Sprint("halted")
		if !t.Halted {
			state = color.New(color.FgYellow).Sprint("running")
		}
		if t.Halted && t.ExitFault != emu.NoFault.String() {
			state = color.New(color.FgRed).Sprint(t.ExitFault)
		}
		_, _ = fmt.Fprintf(w, "  %d: pc=0x%x committed=%d %s\n",
			t.ID, t.PC, t.Committed, state)
	}

	heading(w, "Speculation")
	_, _ = fmt.Fprintf(w, "  Branch accuracy:      %.1f%%\n", stats.BranchPred.Accuracy())
	_, _ = fmt.Fprintf(w, "  Branch mispredicts:   %d\n", stats.IEW.BranchMispredicts)
	_, _ = fmt.Fprintf(w, "  Mem order violations: %d\n", stats.IEW.MemOrderViolations)
	_, _ = fmt.Fprintf(w, "  Forwarded loads:      %d\n", stats.LSQ.Forwarded)
	_, _ = fmt.Fprintf(w, "  Squashed insts:       %d\n", stats.Commit.SquashedInsts)
	_, _ = fmt.Fprintf(w, "  Traps/interrupts:     %d/%d\n",
		stats.Commit.Traps, stats.Commit.Interrupts)
}

func heading(w io.Writer, title string) {
	_, _ = color.New(color.Bold).Fprintf(w, "=== %s ===\n", title)
}

func dumpRegs(w io.Writer, tid int, rf *emu.RegFile) {
	_, _ = fmt.Fprintf(w, "Thread %d registers:\n", tid)
	for r := 0; r < insts.NumArchRegs; r++ {
		reg := insts.RegID(r)
		if v := rf.ReadReg(reg); v != 0 {
			_, _ = fmt.Fprintf(w, "  %s = %d\n", reg, v)
		}
	}
}

func writeStats(path string, stats pipeline.Statistics) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func compare(prog *loader.Program, opts options, got *emu.RegFile) error {
	golden := prog.NewEmulator(emu.WithMaxInstructions(opts.maxInsts))
	if err := golden.Run(); err != nil {
		return err
	}

	if diff := cmp.Diff(golden.RegFile(), got); diff != "" {
		return fmt.Errorf("thread 0 differs from the emulator (-want +got):\n%s", diff)
	}
	return nil
}

func printError(w io.Writer, err error) {
	red := color.New(color.FgRed)

	var fe *invariant.FatalError
	if errors.As(err, &fe) {
		_, _ = red.Fprintf(w, "invariant violation in %s: %v\n", fe.Structure, fe)
		return
	}

	_, _ = red.Fprintf(w, "error: %v\n", err)
}
