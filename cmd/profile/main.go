// Package main provides a profiling wrapper for O3Sim to identify performance bottlenecks.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"time"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/o3sim/emu"
	"github.com/sarchlab/o3sim/loader"
	"github.com/sarchlab/o3sim/timing/cache"
	"github.com/sarchlab/o3sim/timing/latency"
	"github.com/sarchlab/o3sim/timing/pipeline"
)

var (
	emulate     = flag.Bool("emulate", false, "Profile the functional emulator instead of the core")
	paramsPath  = flag.String("params", "", "Core parameter file (JSON or YAML)")
	latencyPath = flag.String("latency", "", "Functional unit latency file (JSON or YAML)")
	dcache      = flag.Bool("dcache", false, "Model the L1 data cache")
	threads     = flag.Int("threads", 0, "Number of hardware threads (overrides -params)")
	cpuProfile  = flag.String("cpuprofile", "", "write cpu profile to file")
	memProfile  = flag.String("memprofile", "", "write memory profile to file")
	duration    = flag.Duration("duration", 30*time.Second, "max duration to run (for profiling)")
	maxCycles   = flag.Uint64("max-cycles", 0, "max cycles to simulate (0 = unlimited)")
	instruction = flag.Uint64("max-instr", 100_000_000, "max instructions to emulate")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: profile [options] <program.s>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		atexit.Exit(1)
	}

	// Start CPU profiling if requested
	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fatal("Error creating CPU profile: %v", err)
		}

		if err := pprof.StartCPUProfile(f); err != nil {
			fatal("Error starting CPU profile: %v", err)
		}
		atexit.Register(func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		})
	}

	prog, err := loader.LoadFile(flag.Arg(0))
	if err != nil {
		fatal("Error loading program: %v", err)
	}

	fmt.Printf("Loaded: %s\n", prog.Path)
	fmt.Printf("Entry point: 0x%X\n", prog.Entry)

	go func() {
		time.Sleep(*duration)
		fmt.Printf("\nTimeout reached after %v - stopping execution\n", *duration)
		atexit.Exit(2)
	}()

	start := time.Now()

	var cycles, instrCount uint64
	if *emulate {
		instrCount = runEmulationProfile(prog)
	} else {
		cycles, instrCount = runTimingProfile(prog)
	}

	elapsed := time.Since(start)

	if *memProfile != "" {
		writeHeapProfile(*memProfile)
	}

	fmt.Printf("\nProfiling Results:\n")
	fmt.Printf("Instructions executed: %d\n", instrCount)
	if cycles > 0 {
		fmt.Printf("Simulated cycles: %d\n", cycles)
	}
	fmt.Printf("Elapsed time: %v\n", elapsed)
	if instrCount > 0 {
		fmt.Printf("Instructions/second: %.0f\n", float64(instrCount)/elapsed.Seconds())
	}
	if cycles > 0 {
		fmt.Printf("Cycles/second: %.0f\n", float64(cycles)/elapsed.Seconds())
	}

	atexit.Exit(0)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	atexit.Exit(1)
}

func writeHeapProfile(path string) {
	f, err := os.Create(path)
	if err != nil {
		fatal("Error creating memory profile: %v", err)
	}
	defer func() { _ = f.Close() }()

	if err := pprof.WriteHeapProfile(f); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing memory profile: %v\n", err)
	}
}

// runEmulationProfile runs the program in functional emulation mode.
func runEmulationProfile(prog *loader.Program) uint64 {
	e := prog.NewEmulator(emu.WithMaxInstructions(*instruction))
	if err := e.Run(); err != nil {
		fatal("Emulation failed: %v", err)
	}

	return e.InstructionCount()
}

// runTimingProfile runs the program on the out-of-order core.
func runTimingProfile(prog *loader.Program) (uint64, uint64) {
	params := pipeline.DefaultParams()
	if *paramsPath != "" {
		var err error
		if params, err = pipeline.LoadParams(*paramsPath); err != nil {
			fatal("Error loading params: %v", err)
		}
	}
	if *threads > 0 {
		params.NumThreads = *threads
	}

	var opts []pipeline.Option
	if *latencyPath != "" {
		config, err := latency.LoadConfig(*latencyPath)
		if err != nil {
			fatal("Error loading latency config: %v", err)
		}
		opts = append(opts, pipeline.WithLatencyTable(latency.NewTableWithConfig(config)))
	}
	if *dcache {
		opts = append(opts, pipeline.WithDataCache(cache.New(cache.DefaultConfig())))
	}

	memory := emu.NewMemory()
	regFiles := make([]*emu.RegFile, params.NumThreads)
	for i := range regFiles {
		regFiles[i] = &emu.RegFile{}
	}
	prog.Load(memory, regFiles...)

	cpu, err := pipeline.NewCPU(params, memory, regFiles, opts...)
	if err != nil {
		fatal("Error creating core: %v", err)
	}

	if err := cpu.Run(*maxCycles); err != nil {
		fmt.Fprintf(os.Stderr, "Simulation stopped: %v\n", err)
	}

	stats := cpu.Stats()
	return stats.Cycles, stats.Committed
}
