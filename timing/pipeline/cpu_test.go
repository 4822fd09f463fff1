package pipeline_test

import (
	"encoding/json"

	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/emu"
	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/loader"
	"github.com/sarchlab/o3sim/timing/pipeline"
	"github.com/sarchlab/o3sim/timing/regs"
	"github.com/sarchlab/o3sim/timing/rob"
)

type harness struct {
	prog    *loader.Program
	mem     *emu.Memory
	threads []*emu.RegFile
	cpu     *pipeline.CPU
}

func newHarness(
	src string,
	params pipeline.Params,
	setup func(threads []*emu.RegFile),
	opts ...pipeline.Option,
) *harness {
	prog, err := loader.Parse(src)
	Expect(err).NotTo(HaveOccurred())

	h := &harness{prog: prog, mem: emu.NewMemory()}
	for i := 0; i < params.NumThreads; i++ {
		h.threads = append(h.threads, &emu.RegFile{})
	}
	prog.Load(h.mem, h.threads...)
	if setup != nil {
		setup(h.threads)
	}

	h.cpu, err = pipeline.NewCPU(params, h.mem, h.threads, opts...)
	Expect(err).NotTo(HaveOccurred())

	return h
}

func (h *harness) reg(tid, r int) uint64 {
	return h.threads[tid].ReadReg(insts.IntReg(uint8(r)))
}

func runGolden(src string) *emu.Emulator {
	prog, err := loader.Parse(src)
	Expect(err).NotTo(HaveOccurred())

	e := prog.NewEmulator(emu.WithMaxInstructions(1_000_000))
	Expect(e.Run()).To(Succeed())
	return e
}

func memoryImage(m *emu.Memory) map[uint64][]byte {
	img := make(map[uint64][]byte)
	for _, p := range m.Pages() {
		img[p] = m.Bytes(p, emu.PageSize)
	}
	return img
}

func withWidth(w int) pipeline.Params {
	p := pipeline.DefaultParams()
	p.FetchWidth, p.DecodeWidth, p.RenameWidth = w, w, w
	p.DispatchWidth, p.IssueWidth, p.WBWidth = w, w, w
	p.CommitWidth, p.SquashWidth = w, w
	return p
}

func smallCore() pipeline.Params {
	p := withWidth(2)
	p.NumROBEntries = 12
	p.NumIQEntries = 6
	p.LQEntries = 2
	p.SQEntries = 2
	p.NumPhysIntRegs = insts.NumIntRegs + 6
	p.NumPhysFloatRegs = insts.NumFloatRegs + 6
	return p
}

func slowWires() pipeline.Params {
	p := pipeline.DefaultParams()
	p.FetchToDecodeDelay = 3
	p.DecodeToRenameDelay = 2
	p.RenameToIEWDelay = 3
	p.IEWToCommitDelay = 2
	p.CommitToFetchDelay = 4
	p.CommitToIEWDelay = 3
	p.CommitToRenameDelay = 2
	p.RenameToROBDelay = 2
	return p
}

const sumLoop = `
	li   r1, 100
	li   r2, 0
loop:
	add  r2, r2, r1
	addi r1, r1, -1
	bne  r1, r0, loop
	halt
`

const stackLoop = `
	li   r1, 100
	li   r2, 0
loop:
	add  r2, r2, r1
	st   r2, -8(r29)
	addi r1, r1, -1
	bne  r1, r0, loop
	ld   r3, -8(r29)
	halt
`

const storeForwarding = `
	la   r1, buf
	li   r6, 7
	li   r8, 16
loop:
	st   r6, 0(r1)
	ld   r3, 0(r1)
	add  r7, r7, r3
	sw   r7, 8(r1)
	lw   r9, 8(r1)
	addi r6, r6, 3
	addi r8, r8, -1
	bne  r8, r0, loop
	halt
	.data
	.org 0x4000
buf:
	.dword 0, 0
`

const lateStoreAddress = `
	la   r1, buf
	li   r4, 1
	li   r6, 20
loop:
	div  r2, r1, r4
	st   r6, 0(r2)
	ld   r3, 0(r1)
	add  r7, r7, r3
	addi r6, r6, -1
	bne  r6, r0, loop
	halt
	.data
	.org 0x4000
buf:
	.dword 0
`

const calls = `
	li   r1, 0
	li   r2, 10
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
`

const arith = `
	li   r2, 1000
	li   r3, 7
	div  r4, r2, r3
	rem  r5, r2, r3
	mul  r6, r4, r5
	sub  r7, r6, r2
	slt  r8, r7, r0
	slti r9, r3, 8
	sll  r10, r3, r9
	srl  r11, r2, r9
	xor  r12, r10, r11
	and  r13, r12, r2
	or   r14, r13, r3
	xori r15, r14, 0x55
	andi r16, r15, 0xff
	lui  r17, 0x12
	ori  r17, r17, 0x34
	halt
`

const floatOps = `
	li   r1, 3
	itof f1, r1
	li   r2, 4
	itof f2, r2
	fmul f3, f1, f2
	fadd f4, f3, f1
	fdiv f5, f4, f2
	fsub f6, f5, f1
	ftoi r3, f4
	la   r4, buf
	fst  f5, 0(r4)
	fld  f7, 0(r4)
	halt
	.data
	.org 0x4000
buf:
	.dword 0
`

const fences = `
	la   r1, buf
	li   r2, 5
	st   r2, 0(r1)
	wfence
	ld   r3, 0(r1)
	fence
	addi r3, r3, 1
	st   r3, 8(r1)
	halt
	.data
	.org 0x4000
buf:
	.dword 0, 0
`

const trapHandler = `
	li   r1, 0x7000
	ld   r2, 0(r1)
	addi r3, r3, 1
	li   r6, 0
	div  r7, r3, r6
	addi r3, r3, 1
	halt
	.trap handler
	.org 0x8000
handler:
	mfsr r4, 1
	mfsr r5, 2
	add  r8, r8, r4
	eret
`

const faultNoHandler = `
	li  r1, 1
	li  r2, 2
	div r3, r1, r0
	addi r4, r4, 1
	halt
`

const fetchFault = `
	j   5120
	halt
`

var _ = Describe("CPU", func() {
	DescribeTable("should match the emulator",
		func(src string, params pipeline.Params) {
			golden := runGolden(src)

			h := newHarness(src, params, nil)
			Expect(h.cpu.Run(200_000)).To(Succeed())

			Expect(h.cpu.Halted(0)).To(BeTrue())
			Expect(h.cpu.ExitFault(0)).To(Equal(golden.ExitFault()))
			Expect(cmp.Diff(*golden.RegFile(), *h.threads[0])).To(BeEmpty())
			Expect(cmp.Diff(memoryImage(golden.Memory()), memoryImage(h.mem))).To(BeEmpty())
			Expect(h.cpu.Stats().Committed).To(Equal(golden.InstructionCount()))
			Expect(h.cpu.Drain(h.cpu.Cycle() + 1_000)).To(Succeed())
		},
		Entry("loop, default core", sumLoop, pipeline.DefaultParams()),
		Entry("loop, scalar core", sumLoop, withWidth(1)),
		Entry("loop, small core", sumLoop, smallCore()),
		Entry("loop, slow wires", sumLoop, slowWires()),
		Entry("stack loop, default core", stackLoop, pipeline.DefaultParams()),
		Entry("stack loop, small core", stackLoop, smallCore()),
		Entry("stack loop, slow wires", stackLoop, slowWires()),
		Entry("store forwarding", storeForwarding, pipeline.DefaultParams()),
		Entry("store forwarding, small core", storeForwarding, smallCore()),
		Entry("late store address", lateStoreAddress, pipeline.DefaultParams()),
		Entry("late store address, scalar core", lateStoreAddress, withWidth(1)),
		Entry("calls", calls, pipeline.DefaultParams()),
		Entry("calls, slow wires", calls, slowWires()),
		Entry("integer arithmetic", arith, withWidth(4)),
		Entry("floating point", floatOps, pipeline.DefaultParams()),
		Entry("floating point, small core", floatOps, smallCore()),
		Entry("fences", fences, withWidth(4)),
		Entry("trap handler", trapHandler, pipeline.DefaultParams()),
		Entry("trap handler, slow wires", trapHandler, slowWires()),
		Entry("fault without handler", faultNoHandler, pipeline.DefaultParams()),
		Entry("fetch fault", fetchFault, pipeline.DefaultParams()),
	)

	It("should forward store data to younger loads", func() {
		h := newHarness(storeForwarding, pipeline.DefaultParams(), nil)
		Expect(h.cpu.Run(100_000)).To(Succeed())

		Expect(h.cpu.Stats().LSQ.Forwarded).To(BeNumerically(">", 0))
	})

	It("should learn store sets from ordering violations", func() {
		h := newHarness(lateStoreAddress, pipeline.DefaultParams(), nil)
		Expect(h.cpu.Run(100_000)).To(Succeed())

		stats := h.cpu.Stats()
		Expect(h.reg(0, 7)).To(Equal(uint64(210)))
		Expect(stats.IEW.MemOrderViolations).To(BeNumerically(">", 0))
		Expect(stats.IEW.MemOrderViolations).To(BeNumerically("<", 20))
		Expect(stats.Commit.MemOrderSquashes).To(BeNumerically(">", 0))
		Expect(stats.Commit.MemOrderSquashes).To(BeNumerically("<=", stats.IEW.MemOrderViolations))
	})

	It("should record the fault of a thread without a handler", func() {
		h := newHarness(faultNoHandler, pipeline.DefaultParams(), nil)
		Expect(h.cpu.Run(10_000)).To(Succeed())

		Expect(h.cpu.ExitFault(0).Kind).To(Equal(emu.FaultDivideByZero))
		Expect(h.threads[0].PC).To(Equal(uint64(insts.DefaultOrigin + 8)))
		Expect(h.threads[0].EPC).To(Equal(uint64(insts.DefaultOrigin + 12)))
		Expect(h.reg(0, 4)).To(BeZero())
	})

	It("should resolve mispredictions with a predictor that never predicts taken", func() {
		ctrl := gomock.NewController(GinkgoT())
		defer ctrl.Finish()
		pred := NewMockPredictor(ctrl)
		pred.EXPECT().Predict(gomock.Any(), 0, gomock.Any(), gomock.Any()).
			Return(false, uint64(0)).AnyTimes()
		pred.EXPECT().Update(gomock.Any(), 0).AnyTimes()
		pred.EXPECT().Squash(gomock.Any(), 0).AnyTimes()
		pred.EXPECT().SquashMispredict(gomock.Any(), 0, uint64(insts.DefaultOrigin+8), true).
			MinTimes(99)
		pred.EXPECT().Stats().AnyTimes()

		h := newHarness(sumLoop, pipeline.DefaultParams(), nil, pipeline.WithPredictor(pred))
		Expect(h.cpu.Run(100_000)).To(Succeed())

		Expect(h.reg(0, 2)).To(Equal(uint64(5050)))
		Expect(h.cpu.Stats().Commit.BranchMispredicts).To(Equal(uint64(99)))
	})

	It("should write memory only when stores commit", func() {
		ctrl := gomock.NewController(GinkgoT())
		defer ctrl.Finish()
		backing := emu.NewMemory()
		port := NewMockMemoryPort(ctrl)
		port.EXPECT().Read32(gomock.Any()).DoAndReturn(backing.Read32).AnyTimes()
		port.EXPECT().Read(gomock.Any(), gomock.Any()).DoAndReturn(backing.Read).AnyTimes()
		port.EXPECT().Check(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(backing.Check).AnyTimes()
		port.EXPECT().Write(gomock.Any(), 8, gomock.Any()).DoAndReturn(backing.Write).Times(5)

		prog, err := loader.Parse(`
			la   r1, buf
			li   r2, 5
		loop:
			st   r2, 0(r1)
			addi r1, r1, 8
			addi r2, r2, -1
			bne  r2, r0, loop
			halt
			.data
			.org 0x4000
		buf:
			.space 64
		`)
		Expect(err).NotTo(HaveOccurred())
		rf := &emu.RegFile{}
		prog.Load(backing, rf)

		cpu, err := pipeline.NewCPU(pipeline.DefaultParams(), port, []*emu.RegFile{rf})
		Expect(err).NotTo(HaveOccurred())
		Expect(cpu.Run(10_000)).To(Succeed())

		Expect(backing.Read(0x4000, 8)).To(Equal(uint64(5)))
		Expect(backing.Read(0x4020, 8)).To(Equal(uint64(1)))
		Expect(cpu.Stats().Commit.CommittedStores).To(Equal(uint64(5)))
	})

	It("should stop at the cycle limit", func() {
		h := newHarness(`
		loop:
			addi r1, r1, 1
			j    loop
		`, pipeline.DefaultParams(), nil)

		Expect(h.cpu.Run(500)).To(MatchError(pipeline.ErrMaxCycles))
		Expect(h.cpu.Cycle()).To(Equal(uint64(500)))
		Expect(h.reg(0, 1)).To(BeNumerically(">", 0))
	})

	It("should reject invalid construction", func() {
		p := pipeline.DefaultParams()
		_, err := pipeline.NewCPU(p, emu.NewMemory(), nil)
		Expect(err).To(HaveOccurred())

		_, err = pipeline.NewCPU(p, nil, []*emu.RegFile{{}})
		Expect(err).To(HaveOccurred())

		p.FetchWidth = 0
		_, err = pipeline.NewCPU(p, emu.NewMemory(), []*emu.RegFile{{}})
		Expect(err).To(HaveOccurred())
	})

	Context("with interrupts", func() {
		const program = `
			addi r1, r1, 1
			halt
			addi r1, r1, 10
			halt
			.trap handler
			.org 0x8000
		handler:
			addi r2, r2, 1
			mfsr r3, 1
			eret
		`

		It("should take an interrupt before the first instruction commits", func() {
			h := newHarness(program, pipeline.DefaultParams(), nil)
			h.cpu.PostInterrupt(0)
			Expect(h.cpu.Run(10_000)).To(Succeed())

			Expect(h.reg(0, 1)).To(Equal(uint64(1)))
			Expect(h.reg(0, 2)).To(Equal(uint64(1)))
			Expect(h.reg(0, 3)).To(Equal(uint64(emu.FaultInterrupt)))
			Expect(h.cpu.Stats().Commit.Interrupts).To(Equal(uint64(1)))
		})

		It("should wake a halted thread", func() {
			h := newHarness(program, pipeline.DefaultParams(), nil)
			Expect(h.cpu.Run(10_000)).To(Succeed())
			Expect(h.reg(0, 1)).To(Equal(uint64(1)))

			h.cpu.PostInterrupt(0)
			Expect(h.cpu.Run(20_000)).To(Succeed())

			Expect(h.cpu.Halted(0)).To(BeTrue())
			Expect(h.reg(0, 1)).To(Equal(uint64(11)))
			Expect(h.reg(0, 2)).To(Equal(uint64(1)))
			Expect(h.threads[0].PC).To(Equal(uint64(insts.DefaultOrigin + 16)))
		})

		It("should drop interrupts without a handler", func() {
			h := newHarness(sumLoop, pipeline.DefaultParams(), nil)
			Expect(h.cpu.Run(10_000)).To(Succeed())
			pc := h.threads[0].PC

			h.cpu.PostInterrupt(0)
			Expect(h.cpu.Run(20_000)).To(Succeed())

			Expect(h.cpu.Halted(0)).To(BeTrue())
			Expect(h.threads[0].PC).To(Equal(pc))
			Expect(h.cpu.Stats().Commit.Interrupts).To(BeZero())
		})
	})

	Context("with thread control", func() {
		const spin = `
		loop:
			addi r1, r1, 1
			add  r3, r5, r0
			j    loop
		`

		It("should halt and reactivate a thread", func() {
			h := newHarness(spin, pipeline.DefaultParams(), nil)
			Expect(h.cpu.Run(300)).To(MatchError(pipeline.ErrMaxCycles))

			h.cpu.HaltThread(0)
			Expect(h.cpu.Run(0)).To(Succeed())
			Expect(h.cpu.Halted(0)).To(BeTrue())
			Expect(h.cpu.Drain(h.cpu.Cycle() + 1_000)).To(Succeed())

			count := h.reg(0, 1)
			Expect(count).To(BeNumerically(">", 0))
			Expect(h.reg(0, 3)).To(BeZero())

			h.threads[0].X[5] = 42
			h.cpu.ActivateThread(0)
			Expect(h.cpu.Run(h.cpu.Cycle() + 300)).To(MatchError(pipeline.ErrMaxCycles))

			Expect(h.cpu.Halted(0)).To(BeFalse())
			Expect(h.reg(0, 1)).To(BeNumerically(">", count))
			Expect(h.reg(0, 3)).To(Equal(uint64(42)))
		})
	})

	Context("with two threads", func() {
		const program = stackLoop

		DescribeTable("should run both threads to completion",
			func(mutate func(*pipeline.Params)) {
				p := pipeline.DefaultParams()
				p.NumThreads = 2
				mutate(&p)

				h := newHarness(program, p, nil)
				Expect(h.cpu.Run(100_000)).To(Succeed())

				for tid := 0; tid < 2; tid++ {
					Expect(h.cpu.Halted(tid)).To(BeTrue())
					Expect(h.reg(tid, 2)).To(Equal(uint64(5050)))
					Expect(h.reg(tid, 3)).To(Equal(uint64(5050)))
				}
				Expect(h.reg(0, 29)).NotTo(Equal(h.reg(1, 29)))

				stats := h.cpu.Stats()
				Expect(stats.Commit.CommittedPerThread).To(HaveLen(2))
				Expect(stats.Commit.CommittedPerThread[0]).
					To(Equal(stats.Commit.CommittedPerThread[1]))
				Expect(stats.MemDep).To(HaveLen(2))
				Expect(h.cpu.Drain(h.cpu.Cycle() + 1_000)).To(Succeed())
			},
			Entry("round robin", func(p *pipeline.Params) {}),
			Entry("slow wires", func(p *pipeline.Params) {
				*p = slowWires()
				p.NumThreads = 2
			}),
			Entry("icount fetch", func(p *pipeline.Params) {
				p.SMTFetchPolicy = pipeline.FetchICount
			}),
			Entry("aggressive commit", func(p *pipeline.Params) {
				p.SMTCommitPolicy = pipeline.CommitAggressive
			}),
			Entry("oldest ready commit", func(p *pipeline.Params) {
				p.SMTCommitPolicy = pipeline.CommitOldestReady
			}),
			Entry("dynamic sharing", func(p *pipeline.Params) {
				p.SMTROBPolicy = rob.Dynamic
				p.SMTIQPolicy = rob.Dynamic
				p.SMTLSQPolicy = rob.Dynamic
			}),
			Entry("threshold sharing", func(p *pipeline.Params) {
				p.SMTROBPolicy = rob.Threshold
				p.SMTROBThreshold = 48
				p.SMTIQPolicy = rob.Threshold
				p.SMTIQThreshold = 16
				p.SMTLSQPolicy = rob.Threshold
				p.SMTLSQThreshold = 8
			}),
		)

		It("should keep running one thread after the other halts", func() {
			p := pipeline.DefaultParams()
			p.NumThreads = 2

			h := newHarness(program, p, func(threads []*emu.RegFile) {
				threads[1].PC += 24
			})
			Expect(h.cpu.Run(100_000)).To(Succeed())

			Expect(h.reg(0, 2)).To(Equal(uint64(5050)))
			Expect(h.reg(1, 2)).To(BeZero())
			Expect(h.cpu.Stats().Commit.CommittedPerThread[1]).To(Equal(uint64(2)))
		})
	})

	Context("with an instruction observer", func() {
		It("should see every instruction commit or squash exactly once", func() {
			obs := &recordingObserver{fetched: map[uint64]bool{}}
			h := newHarness(calls, withWidth(4), nil, pipeline.WithInstObserver(obs))
			Expect(h.cpu.Run(100_000)).To(Succeed())

			Expect(obs.committed).To(HaveLen(int(h.cpu.Stats().Committed)))
			Expect(len(obs.committed) + obs.squashed).To(Equal(len(obs.fetched)))
			Expect(uint64(len(obs.fetched))).To(Equal(h.cpu.Stats().Fetch.Insts))
			for i := 1; i < len(obs.committed); i++ {
				Expect(obs.committed[i]).To(BeNumerically(">", obs.committed[i-1]))
			}
		})
	})

	Context("with checkpoints", func() {
		It("should snapshot a drained core and restore it elsewhere", func() {
			h := newHarness(sumLoop, pipeline.DefaultParams(), nil)
			Expect(h.cpu.Run(10_000)).To(Succeed())
			Expect(h.cpu.Drain(20_000)).To(Succeed())

			snap := h.cpu.Snapshot()
			Expect(snap.Threads).To(HaveLen(1))
			Expect(snap.Threads[0].Halted).To(BeTrue())
			Expect(snap.Threads[0].InFlight).To(BeEmpty())
			Expect(snap.Threads[0].RenameMap).To(HaveLen(insts.NumArchRegs))

			data, err := json.Marshal(snap)
			Expect(err).NotTo(HaveOccurred())
			var decoded pipeline.Snapshot
			Expect(json.Unmarshal(data, &decoded)).To(Succeed())
			Expect(cmp.Diff(snap, decoded)).To(BeEmpty())

			other := newHarness(sumLoop, pipeline.DefaultParams(), nil)
			freeInt := other.cpu.FreeList().NumFree(regs.IntClass)
			freeFloat := other.cpu.FreeList().NumFree(regs.FloatClass)
			Expect(other.cpu.RestoreArchState(decoded)).To(Succeed())
			Expect(other.cpu.RenameMap(0).Mappings()).To(Equal(snap.Threads[0].RenameMap))
			Expect(other.cpu.FreeList().NumFree(regs.IntClass)).To(Equal(freeInt))
			Expect(other.cpu.FreeList().NumFree(regs.FloatClass)).To(Equal(freeFloat))

			Expect(other.cpu.Run(10_000)).To(Succeed())
			Expect(other.reg(0, 2)).To(Equal(uint64(5050)))
		})

		It("should refuse to restore while instructions are in flight", func() {
			h := newHarness(sumLoop, pipeline.DefaultParams(), nil)
			snap := h.cpu.Snapshot()
			for i := 0; i < 5; i++ {
				h.cpu.Tick()
			}

			Expect(h.cpu.Drained()).To(BeFalse())
			Expect(h.cpu.RestoreArchState(snap)).To(MatchError(pipeline.ErrNotDrained))
		})

		It("should reject inconsistent mappings", func() {
			h := newHarness(sumLoop, pipeline.DefaultParams(), nil)
			snap := h.cpu.Snapshot()
			snap.Threads[0].RenameMap[2] = snap.Threads[0].RenameMap[1]
			Expect(h.cpu.RestoreArchState(snap)).To(HaveOccurred())

			snap = h.cpu.Snapshot()
			snap.Threads[0].RenameMap[insts.ZeroReg] = regs.PhysReg(5)
			Expect(h.cpu.RestoreArchState(snap)).To(HaveOccurred())

			snap = h.cpu.Snapshot()
			snap.Threads = append(snap.Threads, snap.Threads[0])
			Expect(h.cpu.RestoreArchState(snap)).To(HaveOccurred())
		})
	})
})

type recordingObserver struct {
	fetched   map[uint64]bool
	committed []uint64
	squashed  int
}

func (o *recordingObserver) InstFetched(inst *pipeline.DynInst, _ uint64) {
	Expect(o.fetched).NotTo(HaveKey(inst.SeqNum()))
	o.fetched[inst.SeqNum()] = true
}

func (o *recordingObserver) InstCommitted(inst *pipeline.DynInst, _ uint64) {
	Expect(inst.IsSquashed()).To(BeFalse())
	o.committed = append(o.committed, inst.SeqNum())
}

func (o *recordingObserver) InstSquashed(inst *pipeline.DynInst, _ uint64) {
	Expect(inst.IsSquashed()).To(BeTrue())
	o.squashed++
}
