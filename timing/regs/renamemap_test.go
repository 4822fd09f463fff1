package regs_test

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/regs"
)

var _ = Describe("RenameMap", func() {
	var (
		layout regs.Layout
		fl     *regs.FreeList
		rm     *regs.RenameMap
		hist   *regs.HistoryBuffer
	)

	BeforeEach(func() {
		layout = regs.Layout{NumInt: 48, NumFloat: 40}
		fl = regs.NewFreeList(layout)
		rm = regs.NewRenameMap(fl)
		hist = regs.NewHistoryBuffer()
	})

	rename := func(seq uint64, arch insts.RegID) regs.RenameInfo {
		info, ok := rm.Rename(arch)
		Expect(ok).To(BeTrue())
		hist.Push(regs.HistoryEntry{SeqNum: seq, Arch: arch, New: info.New, Prev: info.Prev})
		return info
	}

	It("should map every architectural register at construction", func() {
		Expect(rm.Lookup(insts.ZeroReg)).To(Equal(regs.ZeroPhysReg))
		Expect(fl.NumFree(regs.IntClass)).To(Equal(48 - 32))
		Expect(fl.NumFree(regs.FloatClass)).To(Equal(40 - 32))
		Expect(rm.NumFreeEntries()).To(Equal(8))
	})

	It("should never rename the zero register", func() {
		info, ok := rm.Rename(insts.ZeroReg)
		Expect(ok).To(BeTrue())
		Expect(info).To(Equal(regs.RenameInfo{New: regs.ZeroPhysReg, Prev: regs.ZeroPhysReg}))
		Expect(fl.NumFree(regs.IntClass)).To(Equal(16))
	})

	It("should chain two renames of r3 and undo them in reverse", func() {
		r3 := insts.IntReg(3)
		orig := rm.Lookup(r3)

		first := rename(1, r3)
		second := rename(2, r3)

		Expect(first.Prev).To(Equal(orig))
		Expect(second.Prev).To(Equal(first.New))
		Expect(rm.Lookup(r3)).To(Equal(second.New))

		Expect(hist.Squash(0, rm, fl)).To(Equal(2))
		Expect(rm.Lookup(r3)).To(Equal(orig))
		Expect(fl.IsFree(first.New)).To(BeTrue())
		Expect(fl.IsFree(second.New)).To(BeTrue())
		Expect(fl.NumFree(regs.IntClass)).To(Equal(16))
	})

	It("should free previous mappings at commit oldest first", func() {
		r5 := insts.IntReg(5)
		orig := rm.Lookup(r5)
		first := rename(1, r5)
		rename(2, insts.FloatReg(2))
		rename(3, r5)

		Expect(hist.Commit(2, fl)).To(Equal(2))
		Expect(fl.IsFree(orig)).To(BeTrue())
		Expect(fl.IsFree(first.New)).To(BeFalse())
		Expect(hist.Len()).To(Equal(1))

		Expect(hist.Squash(2, rm, fl)).To(Equal(1))
		Expect(rm.Lookup(r5)).To(Equal(first.New))
		Expect(hist.Len()).To(BeZero())
	})

	It("should fail to rename when the class is exhausted", func() {
		for i := 0; i < 8; i++ {
			rename(uint64(i+1), insts.FloatReg(1))
		}
		_, ok := rm.Rename(insts.FloatReg(1))
		Expect(ok).To(BeFalse())

		_, ok = rm.Rename(insts.IntReg(1))
		Expect(ok).To(BeTrue())
		Expect(rm.CanRename(1, 1)).To(BeFalse())
	})

	It("should conserve registers across random rename, commit and squash", func() {
		rng := rand.New(rand.NewSource(1))
		arch := insts.NumArchRegs - 1
		seq := uint64(0)
		committed := uint64(0)

		for step := 0; step < 2000; step++ {
			switch rng.Intn(4) {
			case 0, 1:
				r := insts.RegID(1 + rng.Intn(insts.NumArchRegs-1))
				if info, ok := rm.Rename(r); ok {
					seq++
					hist.Push(regs.HistoryEntry{SeqNum: seq, Arch: r, New: info.New, Prev: info.Prev})
				}
			case 2:
				if seq > committed {
					committed += uint64(rng.Intn(int(seq-committed) + 1))
					hist.Commit(committed, fl)
				}
			case 3:
				if seq > committed {
					seq = committed + uint64(rng.Intn(int(seq-committed)+1))
					hist.Squash(seq, rm, fl)
				}
			}

			free := fl.NumFree(regs.IntClass) + fl.NumFree(regs.FloatClass)
			inUse := layout.Total() - 1 - free
			Expect(inUse - arch).To(BeNumerically("<=", layout.Total()-insts.NumArchRegs))
			Expect(inUse).To(Equal(arch + hist.Len()))

			seen := map[regs.PhysReg]bool{}
			for _, p := range rm.Mappings()[1:] {
				Expect(seen[p]).To(BeFalse())
				Expect(fl.IsFree(p)).To(BeFalse())
				seen[p] = true
			}
		}
	})

	It("should restore a snapshot of mappings", func() {
		saved := rm.Mappings()
		rename(1, insts.IntReg(7))
		rm.Restore(saved)
		Expect(rm.Mappings()).To(Equal(saved))
		Expect(func() { rm.Restore(saved[:3]) }).To(Panic())
	})
})
