// Command benchmark runs the O3Sim timing benchmark harness.
//
// Usage:
//
//	go run ./cmd/benchmark [flags]
//
// Flags:
//
//	-format     Output format: text, csv or json (default: text)
//	-params     Core parameter file (JSON or YAML)
//	-core       Run only the quick core benchmarks
//	-j          Number of benchmarks simulated in parallel
//	-no-verify  Skip the comparison against the functional emulator
//
// Example:
//
//	# Run all benchmarks with human-readable output
//	go run ./cmd/benchmark
//
//	# Output CSV for spreadsheet comparison
//	go run ./cmd/benchmark -format csv > results.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/fatih/color"
	"github.com/go-logr/logr/funcr"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/o3sim/benchmarks"
	"github.com/sarchlab/o3sim/timing/pipeline"
)

func main() {
	format := flag.String("format", "text", "Output format: text, csv or json")
	paramsPath := flag.String("params", "", "Core parameter file (JSON or YAML)")
	coreOnly := flag.Bool("core", false, "Run only the quick core benchmarks")
	parallel := flag.Int("j", runtime.NumCPU(), "Benchmarks simulated in parallel")
	noVerify := flag.Bool("no-verify", false, "Skip the comparison against the functional emulator")
	verbosity := flag.Int("v", 0, "Log verbosity")
	flag.Parse()

	config := benchmarks.DefaultConfig()
	config.Parallelism = *parallel
	config.Validate = !*noVerify
	config.Output = os.Stdout
	config.Log = funcr.New(func(prefix, args string) {
		fmt.Fprintln(os.Stderr, prefix, args)
	}, funcr.Options{Verbosity: *verbosity})

	if *paramsPath != "" {
		params, err := pipeline.LoadParams(*paramsPath)
		if err != nil {
			fail(err)
		}
		config.Params = params
	}

	harness := benchmarks.NewHarness(config)
	if *coreOnly {
		harness.AddBenchmarks(benchmarks.GetCoreBenchmarks())
	} else {
		harness.AddBenchmarks(benchmarks.GetMicrobenchmarks())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, err := harness.RunAll(ctx)
	if err != nil {
		fail(err)
	}

	switch *format {
	case "csv":
		err = harness.PrintCSV(results)
	case "json":
		err = harness.PrintJSON(results)
	default:
		bold := color.New(color.Bold)
		_, _ = bold.Println("O3Sim Timing Benchmark Harness")
		fmt.Printf("Width: %d  ROB: %d  IQ: %d  LQ/SQ: %d/%d\n\n",
			config.Params.IssueWidth, config.Params.NumROBEntries,
			config.Params.NumIQEntries, config.Params.LQEntries,
			config.Params.SQEntries)
		harness.PrintResults(results)

		summary := benchmarks.Summarize(results)
		_, _ = bold.Println("=== Summary ===")
		fmt.Printf("Benchmarks: %d\n", summary.TotalBenchmarks)
		fmt.Printf("Cycles:     %d\n", summary.TotalCycles)
		fmt.Printf("Insts:      %d\n", summary.TotalInstructions)
		fmt.Printf("CPI:        %.3f\n", summary.AverageCPI)
	}
	if err != nil {
		fail(err)
	}

	atexit.Exit(0)
}

func fail(err error) {
	_, _ = color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
	atexit.Exit(1)
}
