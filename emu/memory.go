package emu

import (
	"encoding/binary"
	"sort"
)

// PageSize is the granularity of memory mapping.
const PageSize = 4096

type page struct {
	data     [PageSize]byte
	writable bool
}

// Memory is a sparse, paged, little-endian memory. Accesses to unmapped
// pages, misaligned accesses and writes to read-only pages fault.
type Memory struct {
	pages map[uint64]*page
}

// NewMemory creates an empty memory.
func NewMemory() *Memory {
	return &Memory{pages: make(map[uint64]*page)}
}

func pageNum(addr uint64) uint64 { return addr / PageSize }

// Map maps every page overlapping [addr, addr+size). Pages already mapped
// keep their contents; writable is updated.
func (m *Memory) Map(addr, size uint64, writable bool) {
	if size == 0 {
		return
	}
	for p := pageNum(addr); p <= pageNum(addr+size-1); p++ {
		pg, ok := m.pages[p]
		if !ok {
			pg = &page{}
			m.pages[p] = pg
		}
		pg.writable = writable
	}
}

// LoadSegment maps the range covered by data and copies data into it,
// ignoring page permissions.
func (m *Memory) LoadSegment(addr uint64, data []byte, writable bool) {
	m.Map(addr, uint64(len(data)), writable)
	for i, b := range data {
		a := addr + uint64(i)
		m.pages[pageNum(a)].data[a%PageSize] = b
	}
}

// IsMapped reports whether addr lies in a mapped page.
func (m *Memory) IsMapped(addr uint64) bool {
	_, ok := m.pages[pageNum(addr)]
	return ok
}

// Check reports the fault an access would raise without performing it.
func (m *Memory) Check(addr uint64, size int, write bool) Fault {
	if size <= 0 || addr%uint64(size) != 0 {
		return Fault{Kind: FaultAlignment, Addr: addr}
	}
	pg, ok := m.pages[pageNum(addr)]
	if !ok {
		return Fault{Kind: FaultPage, Addr: addr}
	}
	if write && !pg.writable {
		return Fault{Kind: FaultPermission, Addr: addr}
	}
	return NoFault
}

// Read reads size bytes (1, 2, 4 or 8) at addr.
func (m *Memory) Read(addr uint64, size int) (uint64, Fault) {
	if f := m.Check(addr, size, false); f.IsFault() {
		return 0, f
	}
	buf := m.pages[pageNum(addr)].data[addr%PageSize:]
	switch size {
	case 1:
		return uint64(buf[0]), NoFault
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf)), NoFault
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf)), NoFault
	default:
		return binary.LittleEndian.Uint64(buf), NoFault
	}
}

// Write writes the low size bytes of value at addr.
func (m *Memory) Write(addr uint64, size int, value uint64) Fault {
	if f := m.Check(addr, size, true); f.IsFault() {
		return f
	}
	buf := m.pages[pageNum(addr)].data[addr%PageSize:]
	switch size {
	case 1:
		buf[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(value))
	default:
		binary.LittleEndian.PutUint64(buf, value)
	}
	return NoFault
}

// Read32 fetches an instruction word.
func (m *Memory) Read32(addr uint64) (uint32, Fault) {
	v, f := m.Read(addr, 4)
	return uint32(v), f
}

// Bytes returns a copy of n bytes at addr. Unmapped bytes read as zero.
func (m *Memory) Bytes(addr uint64, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		a := addr + uint64(i)
		if pg, ok := m.pages[pageNum(a)]; ok {
			out[i] = pg.data[a%PageSize]
		}
	}
	return out
}

// Pages returns the base addresses of all mapped pages in ascending order.
func (m *Memory) Pages() []uint64 {
	out := make([]uint64, 0, len(m.pages))
	for p := range m.pages {
		out = append(out, p*PageSize)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy of the memory.
func (m *Memory) Clone() *Memory {
	c := NewMemory()
	for p, pg := range m.pages {
		cp := *pg
		c.pages[p] = &cp
	}
	return c
}
