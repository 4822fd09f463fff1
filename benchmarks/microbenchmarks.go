// Package benchmarks provides workloads and a harness for measuring the
// out-of-order core.
package benchmarks

// GetMicrobenchmarks returns the standard set of microbenchmarks. Each one
// stresses a different part of the core.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		independentALU(),
		dependencyChain(),
		memorySequential(),
		storeForwarding(),
		functionCalls(),
		branchHeavy(),
		dotProduct(),
		floatAccumulate(),
		smtPair(),
	}
}

// GetCoreBenchmarks returns a small set for quick validation.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		independentALU(),
		dotProduct(),
		branchHeavy(),
	}
}

func independentALU() Benchmark {
	return Benchmark{
		Name:        "independent_alu",
		Description: "6 independent ADDIs per iteration - measures issue width",
		Source: `
	li   r1, 200
loop:
	addi r2, r2, 1
	addi r3, r3, 2
	addi r4, r4, 3
	addi r5, r5, 4
	addi r6, r6, 5
	addi r7, r7, 6
	addi r1, r1, -1
	bne  r1, r0, loop
	halt
`,
		Expected: map[int]uint64{2: 200, 3: 400, 7: 1200},
	}
}

func dependencyChain() Benchmark {
	return Benchmark{
		Name:        "dependency_chain",
		Description: "serial ADDI/MUL/XOR chain - measures wakeup latency",
		Source: `
	li   r1, 200
	li   r2, 1
loop:
	addi r2, r2, 3
	mul  r2, r2, r2
	xor  r2, r2, r1
	addi r1, r1, -1
	bne  r1, r0, loop
	halt
`,
	}
}

func memorySequential() Benchmark {
	return Benchmark{
		Name:        "memory_sequential",
		Description: "fill then sum a 64-entry array - measures LSQ throughput",
		Source: `
	la   r1, buf
	li   r2, 64
	li   r3, 0
fill:
	st   r3, 0(r1)
	addi r1, r1, 8
	addi r3, r3, 1
	bne  r3, r2, fill
	la   r1, buf
	li   r4, 0
sum:
	ld   r5, 0(r1)
	add  r4, r4, r5
	addi r1, r1, 8
	addi r2, r2, -1
	bne  r2, r0, sum
	halt
	.data
	.org 0x4000
buf:
	.space 512
`,
		Expected: map[int]uint64{4: 2016},
	}
}

func storeForwarding() Benchmark {
	return Benchmark{
		Name:        "store_forwarding",
		Description: "store followed by a dependent load - measures forwarding",
		Source: `
	la   r1, buf
	li   r6, 7
	li   r8, 32
loop:
	st   r6, 0(r1)
	ld   r3, 0(r1)
	add  r7, r7, r3
	addi r6, r6, 1
	addi r8, r8, -1
	bne  r8, r0, loop
	halt
	.data
	.org 0x4000
buf:
	.dword 0
`,
		Expected: map[int]uint64{7: 720},
	}
}

func functionCalls() Benchmark {
	return Benchmark{
		Name:        "function_calls",
		Description: "call/return pairs - measures the return address stack",
		Source: `
	li   r1, 0
	li   r2, 20
loop:
	mv   r4, r2
	call square
	add  r1, r1, r5
	addi r2, r2, -1
	bne  r2, r0, loop
	halt
square:
	mul  r5, r4, r4
	ret
`,
		Expected: map[int]uint64{1: 2870},
	}
}

func branchHeavy() Benchmark {
	return Benchmark{
		Name:        "branch_heavy",
		Description: "data-dependent branches - measures misprediction recovery",
		Source: `
	li   r1, 0
	li   r2, 300
	li   r3, 0
loop:
	andi r4, r1, 3
	bne  r4, r0, skip
	addi r3, r3, 7
skip:
	slti r5, r4, 2
	beq  r5, r0, next
	addi r3, r3, 1
next:
	addi r1, r1, 1
	bne  r1, r2, loop
	halt
`,
		Expected: map[int]uint64{3: 675},
	}
}

func dotProduct() Benchmark {
	return Benchmark{
		Name:        "dot_product",
		Description: "8-element integer dot product - loads feeding multiplies",
		Source: `
	la   r1, a
	la   r2, b
	li   r3, 8
	li   r4, 0
loop:
	ld   r5, 0(r1)
	ld   r6, 0(r2)
	mul  r7, r5, r6
	add  r4, r4, r7
	addi r1, r1, 8
	addi r2, r2, 8
	addi r3, r3, -1
	bne  r3, r0, loop
	halt
	.data
	.org 0x4000
a:
	.dword 1, 2, 3, 4, 5, 6, 7, 8
b:
	.dword 8, 7, 6, 5, 4, 3, 2, 1
`,
		Expected: map[int]uint64{4: 120},
	}
}

func floatAccumulate() Benchmark {
	return Benchmark{
		Name:        "float_accumulate",
		Description: "serial FADD chain - measures floating-point latency",
		Source: `
	li   r1, 50
	li   r2, 3
	itof f1, r2
	itof f2, r0
loop:
	fadd f2, f2, f1
	addi r1, r1, -1
	bne  r1, r0, loop
	ftoi r3, f2
	halt
`,
		Expected: map[int]uint64{3: 150},
	}
}

func smtPair() Benchmark {
	return Benchmark{
		Name:        "smt_pair",
		Description: "two threads summing 1..100 - measures SMT sharing",
		Threads:     2,
		Source: `
	li   r1, 100
	li   r2, 0
loop:
	add  r2, r2, r1
	addi r1, r1, -1
	bne  r1, r0, loop
	halt
`,
		Expected: map[int]uint64{2: 5050},
	}
}
