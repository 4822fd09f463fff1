package pipeline

import "github.com/sarchlab/o3sim/emu"

// MemoryPort is the memory the core fetches from, loads from and commits
// stores to. *emu.Memory satisfies it.
type MemoryPort interface {
	// Read32 fetches one instruction word.
	Read32(addr uint64) (uint32, emu.Fault)
	// Read reads size bytes at addr.
	Read(addr uint64, size int) (uint64, emu.Fault)
	// Write writes the low size bytes of value at addr.
	Write(addr uint64, size int, value uint64) emu.Fault
	// Check reports the fault an access would raise without performing it.
	Check(addr uint64, size int, write bool) emu.Fault
}

var _ MemoryPort = (*emu.Memory)(nil)
