package rob_test

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/timing/invariant"
	"github.com/sarchlab/o3sim/timing/rob"
)

type fakeInst struct {
	seq       uint64
	tid       int
	canCommit bool
	squashed  bool
	inROB     bool
	committed bool
}

func (i *fakeInst) SeqNum() uint64      { return i.seq }
func (i *fakeInst) ThreadID() int       { return i.tid }
func (i *fakeInst) ReadyToCommit() bool { return i.canCommit }
func (i *fakeInst) IsSquashed() bool    { return i.squashed }
func (i *fakeInst) SetSquashed()        { i.squashed = true }
func (i *fakeInst) SetCanCommit()       { i.canCommit = true }
func (i *fakeInst) SetInROB(in bool)    { i.inROB = in }
func (i *fakeInst) SetCommitted()       { i.committed = true }

func newROB(entries, squashWidth, threads int, policy rob.Policy) *rob.ROB[*fakeInst] {
	cfg := rob.Config{
		NumEntries:  entries,
		SquashWidth: squashWidth,
		NumThreads:  threads,
		Policy:      policy,
		Threshold:   entries / 2,
	}
	Expect(cfg.Validate()).To(Succeed())
	return rob.New[*fakeInst](cfg)
}

var _ = Describe("ROB", func() {
	It("should retire ready heads and reject a head that is not ready", func() {
		r := newROB(16, 4, 1, rob.Dynamic)
		insts := make([]*fakeInst, 10)
		for i := range insts {
			insts[i] = &fakeInst{seq: uint64(i + 1)}
			r.InsertInst(insts[i])
		}
		for i := 0; i < 5; i++ {
			insts[i].canCommit = true
		}

		Expect(r.ThreadEntries(0)).To(Equal(10))
		for i := 0; i < 5; i++ {
			Expect(r.RetireHead(0).SeqNum()).To(Equal(uint64(i + 1)))
		}
		Expect(r.ThreadEntries(0)).To(Equal(5))
		Expect(insts[0].committed).To(BeTrue())
		Expect(insts[0].inROB).To(BeFalse())

		Expect(func() { r.RetireHead(0) }).To(PanicWith(&invariant.FatalError{
			Structure: "ROB", SeqNum: 6, Msg: "retiring a head that is not ready to commit",
		}))
	})

	It("should squash at most squashWidth instructions per cycle", func() {
		r := newROB(16, 2, 1, rob.Dynamic)
		insts := make([]*fakeInst, 8)
		for i := range insts {
			insts[i] = &fakeInst{seq: uint64(i + 1)}
			r.InsertInst(insts[i])
		}

		r.Squash(3, 0)
		Expect(r.IsDoneSquashing(0)).To(BeFalse())
		Expect(r.Status(0)).To(Equal(rob.Squashing))
		Expect(insts[7].squashed).To(BeTrue())
		Expect(insts[6].squashed).To(BeTrue())
		Expect(insts[5].squashed).To(BeFalse())

		r.DoSquash(0)
		Expect(r.IsDoneSquashing(0)).To(BeFalse())
		r.DoSquash(0)
		Expect(r.IsDoneSquashing(0)).To(BeTrue())

		for i, inst := range insts {
			Expect(inst.squashed).To(Equal(i >= 3))
			Expect(inst.canCommit).To(Equal(i >= 3))
		}
		Expect(r.CountInsts(0)).To(Equal(8))
	})

	It("should mark instructions inserted during a squash as squashed", func() {
		r := newROB(16, 1, 1, rob.Dynamic)
		for i := 1; i <= 4; i++ {
			r.InsertInst(&fakeInst{seq: uint64(i)})
		}
		r.Squash(1, 0)

		late := &fakeInst{seq: 5}
		r.InsertInst(late)
		Expect(late.squashed).To(BeTrue())
		Expect(late.canCommit).To(BeTrue())
	})

	It("should ignore squashes of an empty ROB", func() {
		r := newROB(4, 1, 2, rob.Dynamic)
		r.Squash(10, 1)
		Expect(r.IsDoneSquashing(1)).To(BeTrue())
		Expect(r.Status(1)).To(Equal(rob.Idle))
	})

	It("should keep threads independent", func() {
		r := newROB(8, 4, 2, rob.Dynamic)
		a := &fakeInst{seq: 1, tid: 0}
		b := &fakeInst{seq: 2, tid: 1, canCommit: true}
		r.InsertInst(a)
		r.InsertInst(b)

		Expect(r.IsHeadReady(0)).To(BeFalse())
		Expect(r.CanCommit()).To(BeTrue())

		head, ok := r.ReadHeadInst(1)
		Expect(ok).To(BeTrue())
		Expect(head).To(BeIdenticalTo(b))
		tail, _ := r.ReadTailInst(0)
		Expect(tail).To(BeIdenticalTo(a))

		r.Squash(0, 1)
		Expect(a.squashed).To(BeFalse())
		Expect(b.squashed).To(BeTrue())
	})

	DescribeTable("should limit threads by policy",
		func(policy rob.Policy, active []int, want []int) {
			r := newROB(16, 4, 4, policy)
			r.ResetEntries(active)
			for i, tid := range active {
				Expect(r.NumFreeEntries(tid)).To(Equal(want[i]))
			}
		},
		Entry("dynamic", rob.Dynamic, []int{0, 1}, []int{16, 16}),
		Entry("partitioned across two", rob.Partitioned, []int{0, 1}, []int{8, 8}),
		Entry("partitioned across four", rob.Partitioned, []int{0, 1, 2, 3}, []int{4, 4, 4, 4}),
		Entry("threshold", rob.Threshold, []int{0, 1, 2}, []int{8, 8, 8}),
		Entry("threshold with one thread", rob.Threshold, []int{2}, []int{16}),
	)

	It("should bound threshold threads by the shared free space", func() {
		r := newROB(16, 4, 3, rob.Threshold)
		seq := uint64(0)
		for i := 0; i < 8; i++ {
			seq++
			r.InsertInst(&fakeInst{seq: seq, tid: 0})
		}
		for i := 0; i < 6; i++ {
			seq++
			r.InsertInst(&fakeInst{seq: seq, tid: 1})
		}

		Expect(r.NumFreeEntries(0)).To(Equal(0))
		Expect(r.NumFreeEntries(1)).To(Equal(2))
		Expect(r.NumFreeEntries(2)).To(Equal(2))
	})

	It("should keep counts consistent across random operations", func() {
		rng := rand.New(rand.NewSource(42))
		r := newROB(32, 3, 2, rob.Dynamic)
		seq := uint64(0)
		held := [2][]*fakeInst{}

		for step := 0; step < 3000; step++ {
			tid := rng.Intn(2)
			switch rng.Intn(5) {
			case 0, 1:
				if r.NumFreeEntries(tid) > 0 {
					seq++
					inst := &fakeInst{seq: seq, tid: tid}
					r.InsertInst(inst)
					held[tid] = append(held[tid], inst)
				}
			case 2:
				if len(held[tid]) > 0 {
					held[tid][rng.Intn(len(held[tid]))].canCommit = true
				}
				if r.IsHeadReady(tid) {
					head := r.RetireHead(tid)
					Expect(head).To(BeIdenticalTo(held[tid][0]))
					held[tid] = held[tid][1:]
				}
			case 3:
				if len(held[tid]) > 0 && r.IsDoneSquashing(tid) {
					r.Squash(held[tid][rng.Intn(len(held[tid]))].seq, tid)
				}
			case 4:
				r.DoSquash(tid)
			}

			total := 0
			for t := 0; t < 2; t++ {
				Expect(r.CountInsts(t)).To(Equal(r.ThreadEntries(t)))
				Expect(r.ThreadEntries(t)).To(Equal(len(held[t])))
				total += r.ThreadEntries(t)
			}
			Expect(r.NumInstsInROB()).To(Equal(total))
		}
	})

	It("should snapshot sequence numbers and partitions", func() {
		r := newROB(8, 4, 2, rob.Partitioned)
		r.InsertInst(&fakeInst{seq: 3, tid: 1})
		snap := r.Snapshot()
		Expect(snap.Threads).To(HaveLen(2))
		Expect(snap.Threads[0].SeqNums).To(BeEmpty())
		Expect(snap.Threads[1].SeqNums).To(Equal([]uint64{3}))
		Expect(snap.Threads[1].MaxEntries).To(Equal(4))
	})

	It("should parse policies", func() {
		p, err := rob.ParsePolicy("Threshold")
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(rob.Threshold))
		_, err = rob.ParsePolicy("fair")
		Expect(err).To(HaveOccurred())

		var q rob.Policy
		Expect(q.UnmarshalText([]byte("partitioned"))).To(Succeed())
		Expect(q).To(Equal(rob.Partitioned))
	})
})
