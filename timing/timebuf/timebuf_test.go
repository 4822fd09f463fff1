package timebuf_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/timing/timebuf"
)

type slot struct {
	Value int
	Flags []bool
}

var _ = Describe("TimeBuffer", func() {
	var buf *timebuf.TimeBuffer[slot]

	BeforeEach(func() {
		buf = timebuf.New[slot](3, 0)
	})

	It("should deliver writes after the reader's delay", func() {
		wire := buf.GetWire(-2)

		buf.Access(0).Value = 7
		Expect(wire.Get().Value).To(Equal(0))

		buf.Advance()
		Expect(wire.Get().Value).To(Equal(0))
		Expect(buf.Access(-1).Value).To(Equal(7))

		buf.Advance()
		Expect(wire.Get().Value).To(Equal(7))

		buf.Advance()
		Expect(wire.Get().Value).To(Equal(0))
		Expect(buf.Access(-3).Value).To(Equal(7))
	})

	It("should clear the newest slot on advance", func() {
		for i := 0; i < 10; i++ {
			buf.Access(0).Value = i + 1
			buf.Access(0).Flags = []bool{true}
			buf.Advance()
			Expect(*buf.Access(0)).To(Equal(slot{}))
			Expect(buf.Access(-1).Value).To(Equal(i + 1))
		}
	})

	It("should support future slots", func() {
		fb := timebuf.New[int](1, 2)
		*fb.Access(2) = 5
		fb.Advance()
		Expect(*fb.Access(1)).To(Equal(5))
		fb.Advance()
		Expect(*fb.Access(0)).To(Equal(5))
		Expect(*fb.Access(2)).To(BeZero())
	})

	It("should reject out-of-range indices", func() {
		Expect(buf.Valid(-3)).To(BeTrue())
		Expect(buf.Valid(-4)).To(BeFalse())
		Expect(func() { buf.Access(1) }).To(Panic())
		Expect(func() { buf.GetWire(-4) }).To(Panic())
	})

	It("should reset all slots", func() {
		buf.Access(0).Value = 1
		buf.Advance()
		buf.Reset()
		for i := 0; i >= -3; i-- {
			Expect(buf.Access(i).Value).To(BeZero())
		}
	})
})
