package bpred

// satCounter is an n-bit saturating counter.
type satCounter struct {
	max uint8
	val uint8
}

func newSatCounter(bits uint, initial uint8) satCounter {
	c := satCounter{max: uint8(1<<bits - 1)}
	if initial > c.max {
		initial = c.max
	}
	c.val = initial
	return c
}

func (c *satCounter) increment() {
	if c.val < c.max {
		c.val++
	}
}

func (c *satCounter) decrement() {
	if c.val > 0 {
		c.val--
	}
}

// taken reports whether the counter's most significant bit is set.
func (c *satCounter) taken() bool {
	return c.val > c.max>>1
}

func isPowerOf2(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

func log2(n uint32) uint {
	var b uint
	for n > 1 {
		n >>= 1
		b++
	}
	return b
}
