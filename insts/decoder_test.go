package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/insts"
)

var _ = Describe("Decoder", func() {
	var decoder *insts.Decoder

	BeforeEach(func() {
		decoder = insts.NewDecoder()
	})

	Describe("Register formats", func() {
		It("should decode ADD r1, r2, r3", func() {
			inst := decoder.Decode(insts.R(insts.OpADD, 1, 2, 3))

			Expect(inst.Op).To(Equal(insts.OpADD))
			Expect(inst.Format).To(Equal(insts.FormatR))
			Expect(inst.SrcRegs()).To(Equal([]insts.RegID{2, 3}))
			Expect(inst.DestRegs()).To(Equal([]insts.RegID{1}))
			Expect(inst.OpClass()).To(Equal(insts.IntAluClass))
		})

		It("should flatten floating-point registers", func() {
			inst := decoder.Decode(insts.R(insts.OpFADD, 4, 5, 6))

			Expect(inst.SrcRegs()).To(Equal([]insts.RegID{
				insts.FloatReg(5), insts.FloatReg(6)}))
			Expect(inst.DestRegs()).To(Equal([]insts.RegID{insts.FloatReg(4)}))
			Expect(inst.DestRegs()[0].IsFloat()).To(BeTrue())
			Expect(inst.DestRegs()[0].Index()).To(Equal(uint8(4)))
		})

		It("should mix classes for conversions", func() {
			inst := decoder.Decode(insts.I(insts.OpFTOI, 7, 2, 0))

			Expect(inst.SrcRegs()).To(Equal([]insts.RegID{insts.FloatReg(2)}))
			Expect(inst.DestRegs()).To(Equal([]insts.RegID{7}))
		})

		It("should not report the zero register as a destination", func() {
			inst := decoder.Decode(insts.R(insts.OpADD, 0, 1, 2))

			Expect(inst.DestRegs()).To(BeEmpty())
		})
	})

	Describe("Immediates", func() {
		It("should sign-extend 16-bit immediates", func() {
			inst := decoder.Decode(insts.I(insts.OpADDI, 1, 1, -5))

			Expect(inst.Imm).To(Equal(int64(-5)))
		})

		It("should sign-extend JAL offsets", func() {
			inst := decoder.Decode(insts.J(insts.LinkReg, -100))

			Expect(inst.Op).To(Equal(insts.OpJAL))
			Expect(inst.Imm).To(Equal(int64(-100)))
			Expect(inst.IsCall()).To(BeTrue())
			Expect(inst.BranchTarget(0x2000)).To(Equal(uint64(0x2000 - 400)))
		})

		It("should reject immediates that do not fit", func() {
			_, err := insts.Encode(&insts.Instruction{Op: insts.OpADDI, Imm: 1 << 20})

			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Memory instructions", func() {
		It("should decode a load", func() {
			inst := decoder.Decode(insts.I(insts.OpLD, 3, 4, 16))

			Expect(inst.IsLoad()).To(BeTrue())
			Expect(inst.IsMemRef()).To(BeTrue())
			Expect(inst.MemSize()).To(Equal(8))
			Expect(inst.SrcRegs()).To(Equal([]insts.RegID{4}))
			Expect(inst.DestRegs()).To(Equal([]insts.RegID{3}))
		})

		It("should decode a store with base and data sources", func() {
			inst := decoder.Decode(insts.S(insts.OpSW, 5, 6, -8))

			Expect(inst.IsStore()).To(BeTrue())
			Expect(inst.MemSize()).To(Equal(4))
			Expect(inst.Rs1).To(Equal(uint8(6)))
			Expect(inst.Rs2).To(Equal(uint8(5)))
			Expect(inst.Imm).To(Equal(int64(-8)))
			Expect(inst.SrcRegs()).To(Equal([]insts.RegID{6, 5}))
			Expect(inst.DestRegs()).To(BeEmpty())
		})
	})

	Describe("Control and system instructions", func() {
		It("should classify conditional branches", func() {
			inst := decoder.Decode(insts.B(insts.OpBNE, 1, 2, 3))

			Expect(inst.IsControl()).To(BeTrue())
			Expect(inst.IsCondCtrl()).To(BeTrue())
			Expect(inst.IsDirectCtrl()).To(BeTrue())
			Expect(inst.IsUncondCtrl()).To(BeFalse())
			Expect(inst.BranchTarget(0x1000)).To(Equal(uint64(0x100C)))
		})

		It("should recognize returns", func() {
			inst := decoder.Decode(insts.I(insts.OpJALR, 0, insts.LinkReg, 0))

			Expect(inst.IsReturn()).To(BeTrue())
			Expect(inst.IsIndirectCtrl()).To(BeTrue())
		})

		It("should classify barriers as non-speculative", func() {
			fence := decoder.Decode(insts.N(insts.OpFENCE))
			wfence := decoder.Decode(insts.N(insts.OpWFENCE))

			Expect(fence.IsMemBarrier()).To(BeTrue())
			Expect(fence.IsNonSpeculative()).To(BeTrue())
			Expect(wfence.IsWriteBarrier()).To(BeTrue())
			Expect(wfence.IsMemBarrier()).To(BeFalse())
		})

		It("should mark ERET as serializing control", func() {
			inst := decoder.Decode(insts.N(insts.OpERET))

			Expect(inst.IsControl()).To(BeTrue())
			Expect(inst.IsSerializeBefore()).To(BeTrue())
			Expect(inst.IsNonSpeculative()).To(BeTrue())
		})

		It("should decode unknown opcodes as undefined", func() {
			inst := decoder.Decode(0xFC000000)

			Expect(inst.IsUndefined()).To(BeTrue())
			Expect(inst.SrcRegs()).To(BeEmpty())
			Expect(inst.String()).To(ContainSubstring("undefined"))
		})
	})

	It("should round-trip every defined opcode through Encode", func() {
		for op := insts.OpNOP; op <= insts.OpHALT; op++ {
			word := insts.MustEncode(&insts.Instruction{Op: op, Rd: 1, Rs1: 2, Rs2: 3})
			Expect(decoder.Decode(word).Op).To(Equal(op), op.String())
		}
	})
})
