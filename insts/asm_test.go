package insts_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/insts"
)

var _ = Describe("Assembler", func() {
	decoder := insts.NewDecoder()

	wordAt := func(prog *insts.Program, addr uint64) *insts.Instruction {
		for _, seg := range prog.Segments {
			if addr >= seg.Addr && addr+4 <= seg.Addr+uint64(len(seg.Data)) {
				off := addr - seg.Addr
				return decoder.Decode(binary.LittleEndian.Uint32(seg.Data[off:]))
			}
		}
		Fail("address not assembled")
		return nil
	}

	It("should assemble a simple loop with labels", func() {
		prog, err := insts.Assemble(`
			li   r1, 3
		loop:
			addi r1, r1, -1
			bne  r1, r0, loop
			halt
		`)

		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Entry).To(Equal(uint64(insts.DefaultOrigin)))
		Expect(prog.Symbols["loop"]).To(Equal(uint64(insts.DefaultOrigin + 4)))

		br := wordAt(prog, insts.DefaultOrigin+8)
		Expect(br.Op).To(Equal(insts.OpBNE))
		Expect(br.Imm).To(Equal(int64(-1)))
		Expect(wordAt(prog, insts.DefaultOrigin+12).Op).To(Equal(insts.OpHALT))
	})

	It("should expand large constants into LUI/ORI", func() {
		prog := insts.MustAssemble("li r2, 0x12345678")

		Expect(prog.Segments[0].Data).To(HaveLen(8))
		Expect(wordAt(prog, insts.DefaultOrigin).Op).To(Equal(insts.OpLUI))
		ori := wordAt(prog, insts.DefaultOrigin+4)
		Expect(ori.Op).To(Equal(insts.OpORI))
		Expect(uint16(ori.Imm)).To(Equal(uint16(0x5678)))
	})

	It("should parse memory operands", func() {
		prog := insts.MustAssemble(`
			ld  r3, 16(r4)
			st  r3, -8(r5)
			fld f1, (r6)
		`)

		ld := wordAt(prog, insts.DefaultOrigin)
		Expect(ld.Rd).To(Equal(uint8(3)))
		Expect(ld.Rs1).To(Equal(uint8(4)))
		Expect(ld.Imm).To(Equal(int64(16)))

		st := wordAt(prog, insts.DefaultOrigin+4)
		Expect(st.Rs2).To(Equal(uint8(3)))
		Expect(st.Rs1).To(Equal(uint8(5)))
		Expect(st.Imm).To(Equal(int64(-8)))

		fld := wordAt(prog, insts.DefaultOrigin+8)
		Expect(fld.DestRegs()).To(Equal([]insts.RegID{insts.FloatReg(1)}))
	})

	It("should place data in writable segments", func() {
		prog := insts.MustAssemble(`
			.entry main
		main:
			la r1, value
			halt
			.data
			.org 0x4000
		value:
			.dword 42, value
			.trap handler
			.text
			.org 0x8000
		handler:
			eret
		`)

		Expect(prog.Entry).To(Equal(uint64(insts.DefaultOrigin)))
		Expect(prog.TrapVector).To(Equal(uint64(0x8000)))
		Expect(prog.Segments).To(HaveLen(3))
		Expect(prog.Segments[0].Writable).To(BeFalse())
		Expect(prog.Segments[1].Writable).To(BeTrue())
		Expect(prog.Segments[1].Addr).To(Equal(uint64(0x4000)))
		Expect(binary.LittleEndian.Uint64(prog.Segments[1].Data[8:])).
			To(Equal(uint64(0x4000)))
		Expect(prog.Segments[2].Writable).To(BeFalse())
	})

	It("should expand call and ret", func() {
		prog := insts.MustAssemble(`
			call f
			halt
		f:	ret
		`)

		call := wordAt(prog, insts.DefaultOrigin)
		Expect(call.IsCall()).To(BeTrue())
		Expect(call.BranchTarget(insts.DefaultOrigin)).To(Equal(prog.Symbols["f"]))
		Expect(wordAt(prog, prog.Symbols["f"]).IsReturn()).To(BeTrue())
	})

	DescribeTable("should report errors",
		func(src string) {
			_, err := insts.Assemble(src)
			Expect(err).To(HaveOccurred())
		},
		Entry("unknown mnemonic", "frob r1, r2"),
		Entry("bad register", "add r1, r2, r99"),
		Entry("wrong register class", "fadd r1, f2, f3"),
		Entry("missing operand", "add r1, r2"),
		Entry("duplicate label", "a: nop\na: nop"),
		Entry("undefined entry", ".entry nowhere\nnop"),
		Entry("offset too large", "addi r1, r1, 100000"),
	)
})
