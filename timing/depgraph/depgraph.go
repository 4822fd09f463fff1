// Package depgraph tracks which in-flight instructions wait on each
// physical register.
package depgraph

import "github.com/sarchlab/o3sim/timing/invariant"

const nilNode int32 = -1

type node[T comparable] struct {
	inst T
	next int32
}

type head[T comparable] struct {
	producer    T
	hasProducer bool
	first       int32
}

// DependencyGraph keeps, per physical register, the producing instruction
// and the list of consumers waiting on it. Consumer nodes live in an arena
// and are linked by index.
type DependencyGraph[T comparable] struct {
	heads    []head[T]
	nodes    []node[T]
	free     []int32
	numNodes int
}

// New creates a graph over numRegs physical registers.
func New[T comparable](numRegs int) *DependencyGraph[T] {
	g := &DependencyGraph[T]{heads: make([]head[T], numRegs)}
	for i := range g.heads {
		g.heads[i].first = nilNode
	}
	return g
}

// Insert adds inst as a consumer of reg.
func (g *DependencyGraph[T]) Insert(reg int, inst T) {
	idx := g.alloc()
	g.nodes[idx] = node[T]{inst: inst, next: g.heads[reg].first}
	g.heads[reg].first = idx
}

// SetInst records inst as the producer of reg.
func (g *DependencyGraph[T]) SetInst(reg int, inst T) {
	g.heads[reg].producer = inst
	g.heads[reg].hasProducer = true
}

// ClearInst forgets the producer of reg.
func (g *DependencyGraph[T]) ClearInst(reg int) {
	var zero T
	g.heads[reg].producer = zero
	g.heads[reg].hasProducer = false
}

// Producer returns the producer of reg, if one is recorded.
func (g *DependencyGraph[T]) Producer(reg int) (T, bool) {
	h := &g.heads[reg]
	return h.producer, h.hasProducer
}

// Pop removes and returns the most recently inserted consumer of reg.
func (g *DependencyGraph[T]) Pop(reg int) (T, bool) {
	h := &g.heads[reg]
	if h.first == nilNode {
		var zero T
		return zero, false
	}

	idx := h.first
	n := g.nodes[idx]
	h.first = n.next
	g.release(idx)

	return n.inst, true
}

// Remove unlinks inst from reg's consumers. It reports whether inst was
// found.
func (g *DependencyGraph[T]) Remove(reg int, inst T) bool {
	h := &g.heads[reg]
	prev := nilNode
	for idx := h.first; idx != nilNode; idx = g.nodes[idx].next {
		if g.nodes[idx].inst != inst {
			prev = idx
			continue
		}

		if prev == nilNode {
			h.first = g.nodes[idx].next
		} else {
			g.nodes[prev].next = g.nodes[idx].next
		}
		g.release(idx)
		return true
	}
	return false
}

// Empty reports whether reg has no consumers.
func (g *DependencyGraph[T]) Empty(reg int) bool {
	return g.heads[reg].first == nilNode
}

// Consumers returns reg's consumers, most recent first.
func (g *DependencyGraph[T]) Consumers(reg int) []T {
	var out []T
	for idx := g.heads[reg].first; idx != nilNode; idx = g.nodes[idx].next {
		out = append(out, g.nodes[idx].inst)
	}
	return out
}

// NumNodes returns the number of consumer nodes currently allocated.
func (g *DependencyGraph[T]) NumNodes() int { return g.numNodes }

// NumRegs returns the number of registers tracked.
func (g *DependencyGraph[T]) NumRegs() int { return len(g.heads) }

// Reset drops every producer and consumer.
func (g *DependencyGraph[T]) Reset() {
	var zero T
	for i := range g.heads {
		g.heads[i] = head[T]{producer: zero, first: nilNode}
	}
	g.nodes = g.nodes[:0]
	g.free = g.free[:0]
	g.numNodes = 0
}

func (g *DependencyGraph[T]) alloc() int32 {
	g.numNodes++
	if n := len(g.free); n > 0 {
		idx := g.free[n-1]
		g.free = g.free[:n-1]
		return idx
	}
	g.nodes = append(g.nodes, node[T]{next: nilNode})
	return int32(len(g.nodes) - 1)
}

func (g *DependencyGraph[T]) release(idx int32) {
	var zero T
	g.nodes[idx] = node[T]{inst: zero, next: nilNode}
	g.free = append(g.free, idx)
	g.numNodes--
	if g.numNodes < 0 {
		invariant.Panicf("DependencyGraph", 0, "node count went negative")
	}
}
