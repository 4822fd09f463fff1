package benchmarks

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/o3sim/emu"
	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/loader"
	"github.com/sarchlab/o3sim/timing/pipeline"
)

// BenchmarkResult holds the timing results for a single benchmark run.
type BenchmarkResult struct {
	// Name identifies the benchmark
	Name string `json:"name"`

	// Description explains what the benchmark measures
	Description string `json:"description"`

	// Threads is the number of hardware threads that ran the program
	Threads int `json:"threads"`

	// SimulatedCycles is the total cycle count from the timing simulator
	SimulatedCycles uint64 `json:"simulated_cycles"`

	// InstructionsRetired is the number of committed instructions
	InstructionsRetired uint64 `json:"instructions_retired"`

	// CPI is cycles per instruction
	CPI float64 `json:"cpi"`

	// IPC is instructions per cycle
	IPC float64 `json:"ipc"`

	// SquashedInsts is the number of instructions squashed at commit
	SquashedInsts uint64 `json:"squashed_insts"`

	// BranchMispredicts is the number of mispredictions detected in IEW
	BranchMispredicts uint64 `json:"branch_mispredicts"`

	// BranchAccuracyPercent is the conditional prediction accuracy
	BranchAccuracyPercent float64 `json:"branch_accuracy_percent"`

	// MemOrderViolations is the number of load/store ordering violations
	MemOrderViolations uint64 `json:"mem_order_violations"`

	// ForwardedLoads is the number of loads served from the store queue
	ForwardedLoads uint64 `json:"forwarded_loads"`

	// DCacheHits/Misses of the data access model
	DCacheHits   uint64 `json:"dcache_hits"`
	DCacheMisses uint64 `json:"dcache_misses"`

	// ExitFault is the fault thread 0 halted with
	ExitFault string `json:"exit_fault"`

	// WallTime is the actual time taken to run the simulation
	WallTime time.Duration `json:"wall_time_ns"`
}

// Benchmark defines a single benchmark program.
type Benchmark struct {
	// Name identifies the benchmark
	Name string

	// Description explains what the benchmark measures
	Description string

	// Source is the assembly program every thread runs
	Source string

	// Threads is the number of hardware threads; zero means one
	Threads int

	// Expected maps integer registers to the value every thread must hold
	// when it halts
	Expected map[int]uint64
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// Params is the core configuration. NumThreads is overridden by each
	// benchmark.
	Params pipeline.Params

	// MaxCycles aborts a benchmark that runs longer; zero means no limit
	MaxCycles uint64

	// Parallelism is the number of benchmarks simulated at once
	Parallelism int

	// Validate compares the final state of thread 0 with the functional
	// emulator
	Validate bool

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Log receives per-benchmark progress
	Log logr.Logger
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		Params:      pipeline.DefaultParams(),
		MaxCycles:   1_000_000,
		Parallelism: 4,
		Validate:    true,
		Output:      os.Stdout,
		Log:         logr.Discard(),
	}
}

// Harness runs timing benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 1
	}
	return &Harness{
		config:     config,
		benchmarks: []Benchmark{},
	}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll executes all benchmarks and returns results in the order the
// benchmarks were added. The first failing benchmark cancels the rest.
func (h *Harness) RunAll(ctx context.Context) ([]BenchmarkResult, error) {
	results := make([]BenchmarkResult, len(h.benchmarks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Parallelism)

	for i, bench := range h.benchmarks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			result, err := h.Run(bench)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// Run executes a single benchmark.
func (h *Harness) Run(bench Benchmark) (BenchmarkResult, error) {
	log := h.config.Log.WithValues("benchmark", bench.Name)

	prog, err := loader.Parse(bench.Source)
	if err != nil {
		return BenchmarkResult{}, fmt.Errorf("%s: %w", bench.Name, err)
	}

	numThreads := max(bench.Threads, 1)
	params := h.config.Params.Clone()
	params.NumThreads = numThreads

	memory := emu.NewMemory()
	threads := make([]*emu.RegFile, numThreads)
	for i := range threads {
		threads[i] = &emu.RegFile{}
	}
	prog.Load(memory, threads...)

	cpu, err := pipeline.NewCPU(params, memory, threads, pipeline.WithLogger(log))
	if err != nil {
		return BenchmarkResult{}, fmt.Errorf("%s: %w", bench.Name, err)
	}

	log.V(1).Info("starting")
	start := time.Now()
	err = cpu.Run(h.config.MaxCycles)
	wallTime := time.Since(start)
	if err != nil {
		return BenchmarkResult{}, fmt.Errorf("%s: %w", bench.Name, err)
	}

	if err := checkExpected(bench, threads); err != nil {
		return BenchmarkResult{}, err
	}

	if h.config.Validate {
		if err := validate(bench, prog, threads[0]); err != nil {
			return BenchmarkResult{}, err
		}
	}

	stats := cpu.Stats()
	result := BenchmarkResult{
		Name:                  bench.Name,
		Description:           bench.Description,
		Threads:               numThreads,
		SimulatedCycles:       stats.Cycles,
		InstructionsRetired:   stats.Committed,
		CPI:                   stats.CPI(),
		IPC:                   stats.IPC(),
		SquashedInsts:         stats.Commit.SquashedInsts,
		BranchMispredicts:     stats.IEW.BranchMispredicts,
		BranchAccuracyPercent: stats.BranchPred.Accuracy(),
		MemOrderViolations:    stats.IEW.MemOrderViolations,
		ForwardedLoads:        stats.LSQ.Forwarded,
		DCacheHits:            stats.DataCache.Hits,
		DCacheMisses:          stats.DataCache.Misses,
		ExitFault:             cpu.ExitFault(0).String(),
		WallTime:              wallTime,
	}

	log.V(1).Info("finished", "cycles", result.SimulatedCycles, "ipc", result.IPC)

	return result, nil
}

func checkExpected(bench Benchmark, threads []*emu.RegFile) error {
	for tid, rf := range threads {
		for r, want := range bench.Expected {
			got := rf.ReadReg(insts.IntReg(uint8(r)))
			if got != want {
				return fmt.Errorf("%s: thread %d: r%d = %d, want %d",
					bench.Name, tid, r, got, want)
			}
		}
	}
	return nil
}

func validate(bench Benchmark, prog *loader.Program, got *emu.RegFile) error {
	golden := prog.NewEmulator(emu.WithMaxInstructions(10_000_000))
	if err := golden.Run(); err != nil {
		return fmt.Errorf("%s: %w", bench.Name, err)
	}

	if diff := cmp.Diff(golden.RegFile(), got); diff != "" {
		return fmt.Errorf("%s: state differs from the emulator (-want +got):\n%s",
			bench.Name, diff)
	}
	return nil
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	w := h.config.Output
	_, _ = fmt.Fprintln(w, "=== O3Sim Timing Benchmark Results ===")
	_, _ = fmt.Fprintln(w, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(w, "Benchmark: %s\n", r.Name)
		_, _ = fmt.Fprintf(w, "  Description: %s\n", r.Description)
		_, _ = fmt.Fprintf(w, "  Threads: %d\n", r.Threads)
		_, _ = fmt.Fprintf(w, "  Exit Fault: %s\n", r.ExitFault)
		_, _ = fmt.Fprintln(w, "  --- Timing ---")
		_, _ = fmt.Fprintf(w, "  Simulated Cycles:     %d\n", r.SimulatedCycles)
		_, _ = fmt.Fprintf(w, "  Instructions Retired: %d\n", r.InstructionsRetired)
		_, _ = fmt.Fprintf(w, "  CPI:                  %.3f\n", r.CPI)
		_, _ = fmt.Fprintf(w, "  IPC:                  %.3f\n", r.IPC)
		_, _ = fmt.Fprintf(w, "  Squashed Insts:       %d\n", r.SquashedInsts)
		_, _ = fmt.Fprintln(w, "  --- Speculation ---")
		_, _ = fmt.Fprintf(w, "  Branch Mispredicts:   %d\n", r.BranchMispredicts)
		_, _ = fmt.Fprintf(w, "  Branch Accuracy:      %.1f%%\n", r.BranchAccuracyPercent)
		_, _ = fmt.Fprintf(w, "  Mem Order Violations: %d\n", r.MemOrderViolations)
		_, _ = fmt.Fprintf(w, "  Forwarded Loads:      %d\n", r.ForwardedLoads)

		if r.DCacheHits > 0 || r.DCacheMisses > 0 {
			_, _ = fmt.Fprintln(w, "  --- D-Cache ---")
			_, _ = fmt.Fprintf(w, "  Hits:   %d\n", r.DCacheHits)
			_, _ = fmt.Fprintf(w, "  Misses: %d\n", r.DCacheMisses)
		}

		_, _ = fmt.Fprintf(w, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(w, "")
	}
}

// PrintCSV outputs benchmark results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []BenchmarkResult) error {
	w := csv.NewWriter(h.config.Output)

	header := []string{
		"name", "threads", "cycles", "instructions", "cpi", "ipc",
		"squashed", "branch_mispredicts", "mem_order_violations",
		"forwarded_loads", "dcache_hits", "dcache_misses", "exit_fault",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	for _, r := range results {
		record := []string{
			r.Name,
			strconv.Itoa(r.Threads),
			u(r.SimulatedCycles),
			u(r.InstructionsRetired),
			strconv.FormatFloat(r.CPI, 'f', 3, 64),
			strconv.FormatFloat(r.IPC, 'f', 3, 64),
			u(r.SquashedInsts),
			u(r.BranchMispredicts),
			u(r.MemOrderViolations),
			u(r.ForwardedLoads),
			u(r.DCacheHits),
			u(r.DCacheMisses),
			r.ExitFault,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// BenchmarkReport is the complete output format for benchmark results.
type BenchmarkReport struct {
	// Metadata about the benchmark run
	Metadata ReportMetadata `json:"metadata"`

	// Results is the list of individual benchmark results
	Results []BenchmarkResult `json:"results"`

	// Summary contains aggregate statistics
	Summary ReportSummary `json:"summary"`
}

// ReportMetadata contains information about the benchmark run.
type ReportMetadata struct {
	// Timestamp when the benchmark was run
	Timestamp string `json:"timestamp"`

	// Params is the core configuration the benchmarks ran on
	Params pipeline.Params `json:"params"`
}

// ReportSummary contains aggregate statistics across all benchmarks.
type ReportSummary struct {
	// TotalBenchmarks is the number of benchmarks run
	TotalBenchmarks int `json:"total_benchmarks"`

	// TotalCycles is the sum of all simulated cycles
	TotalCycles uint64 `json:"total_cycles"`

	// TotalInstructions is the sum of all instructions retired
	TotalInstructions uint64 `json:"total_instructions"`

	// AverageCPI is the aggregate cycles per instruction
	AverageCPI float64 `json:"average_cpi"`

	// TotalWallTime is the total wall clock time for all benchmarks
	TotalWallTime time.Duration `json:"total_wall_time_ns"`
}

// Summarize aggregates results.
func Summarize(results []BenchmarkResult) ReportSummary {
	s := ReportSummary{TotalBenchmarks: len(results)}
	for _, r := range results {
		s.TotalCycles += r.SimulatedCycles
		s.TotalInstructions += r.InstructionsRetired
		s.TotalWallTime += r.WallTime
	}

	if s.TotalInstructions > 0 {
		s.AverageCPI = float64(s.TotalCycles) / float64(s.TotalInstructions)
	}

	return s
}

// PrintJSON outputs benchmark results in JSON format for automated comparison.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	report := BenchmarkReport{
		Metadata: ReportMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Params:    h.config.Params,
		},
		Results: results,
		Summary: Summarize(results),
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
