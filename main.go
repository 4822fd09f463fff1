// Package main provides the entry point for O3Sim.
// O3Sim is a cycle-level out-of-order SMT CPU simulator built on Akita.
//
// For the full CLI, use: go run ./cmd/o3sim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("O3Sim - Out-of-Order SMT CPU Simulator")
	fmt.Println("Built on Akita simulation framework")
	fmt.Println("")
	fmt.Println("Usage: o3sim [options] <program.s>")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -emulate   Run on the functional emulator only")
	fmt.Println("  -params    Path to core parameter file (JSON or YAML)")
	fmt.Println("  -threads   Number of hardware threads")
	fmt.Println("  -trace     Write committed instructions as JSON lines")
	fmt.Println("  -monitor   Serve the monitoring API on an address")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/o3sim' for the full CLI.")
	fmt.Println("Run 'go run ./cmd/benchmark' for the timing benchmarks.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/o3sim' instead.")
	}
}
