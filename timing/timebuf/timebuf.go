// Package timebuf provides fixed-latency communication buffers between
// pipeline stages.
package timebuf

import "fmt"

// TimeBuffer is a circular buffer of per-cycle slots. Writers use slot 0;
// a reader delayed by d cycles reads slot -d. Advance moves every slot one
// cycle into the past and clears the slot that becomes the newest.
type TimeBuffer[T any] struct {
	past   int
	future int
	base   int
	data   []T
}

// New creates a time buffer keeping past cycles of history and future
// cycles of lookahead.
func New[T any](past, future int) *TimeBuffer[T] {
	if past < 0 || future < 0 {
		panic(fmt.Sprintf("timebuf: invalid size past=%d future=%d", past, future))
	}

	return &TimeBuffer[T]{
		past:   past,
		future: future,
		data:   make([]T, past+future+1),
	}
}

// Past returns the number of past cycles kept.
func (b *TimeBuffer[T]) Past() int { return b.past }

// Future returns the number of future cycles kept.
func (b *TimeBuffer[T]) Future() int { return b.future }

// Advance moves the buffer forward by one cycle.
func (b *TimeBuffer[T]) Advance() {
	b.base++
	if b.base >= len(b.data) {
		b.base = 0
	}

	ptr := b.base + b.future
	if ptr >= len(b.data) {
		ptr -= len(b.data)
	}

	var zero T
	b.data[ptr] = zero
}

// Access returns the slot idx cycles from now. idx must be in
// [-Past(), Future()].
func (b *TimeBuffer[T]) Access(idx int) *T {
	if idx < -b.past || idx > b.future {
		panic(fmt.Sprintf("timebuf: index %d out of range [%d, %d]", idx, -b.past, b.future))
	}

	ptr := b.base + idx
	if ptr < 0 {
		ptr += len(b.data)
	} else if ptr >= len(b.data) {
		ptr -= len(b.data)
	}

	return &b.data[ptr]
}

// Valid reports whether idx addresses a slot of the buffer.
func (b *TimeBuffer[T]) Valid(idx int) bool {
	return idx >= -b.past && idx <= b.future
}

// Reset clears every slot.
func (b *TimeBuffer[T]) Reset() {
	var zero T
	for i := range b.data {
		b.data[i] = zero
	}
	b.base = 0
}

// Wire is a fixed-offset view into a TimeBuffer.
type Wire[T any] struct {
	buf *TimeBuffer[T]
	idx int
}

// GetWire returns a wire reading slot idx.
func (b *TimeBuffer[T]) GetWire(idx int) Wire[T] {
	if !b.Valid(idx) {
		panic(fmt.Sprintf("timebuf: wire index %d out of range [%d, %d]", idx, -b.past, b.future))
	}
	return Wire[T]{buf: b, idx: idx}
}

// Get returns the slot the wire currently points at.
func (w Wire[T]) Get() *T { return w.buf.Access(w.idx) }

// Offset returns the wire's cycle offset.
func (w Wire[T]) Offset() int { return w.idx }
