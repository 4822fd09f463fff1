package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/emu"
)

var _ = Describe("Memory", func() {
	var mem *emu.Memory

	BeforeEach(func() {
		mem = emu.NewMemory()
		mem.Map(0x1000, emu.PageSize, true)
		mem.LoadSegment(0x3000, []byte{1, 2, 3, 4}, false)
	})

	It("should read back what was written, little-endian", func() {
		Expect(mem.Write(0x1008, 8, 0x1122334455667788)).To(Equal(emu.NoFault))

		v, f := mem.Read(0x1008, 8)
		Expect(f.IsFault()).To(BeFalse())
		Expect(v).To(Equal(uint64(0x1122334455667788)))

		w, _ := mem.Read(0x100C, 4)
		Expect(w).To(Equal(uint64(0x11223344)))
		Expect(mem.Bytes(0x1008, 2)).To(Equal([]byte{0x88, 0x77}))
	})

	It("should load segments regardless of permissions", func() {
		w, f := mem.Read32(0x3000)
		Expect(f).To(Equal(emu.NoFault))
		Expect(w).To(Equal(uint32(0x04030201)))
	})

	DescribeTable("should fault",
		func(addr uint64, size int, write bool, kind emu.FaultKind) {
			var f emu.Fault
			if write {
				f = mem.Write(addr, size, 1)
			} else {
				_, f = mem.Read(addr, size)
			}
			Expect(f.Kind).To(Equal(kind))
			Expect(f.Addr).To(Equal(addr))
			Expect(mem.Check(addr, size, write)).To(Equal(f))
		},
		Entry("on misaligned access", uint64(0x1004), 8, false, emu.FaultAlignment),
		Entry("on unmapped page", uint64(0x9000), 8, false, emu.FaultPage),
		Entry("on write to read-only page", uint64(0x3000), 4, true, emu.FaultPermission),
	)

	It("should clone independently", func() {
		c := mem.Clone()
		Expect(c.Write(0x1000, 8, 7)).To(Equal(emu.NoFault))

		v, _ := mem.Read(0x1000, 8)
		Expect(v).To(BeZero())
		Expect(c.Pages()).To(Equal([]uint64{0x1000, 0x3000}))
	})
})
