package memdep_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/timing/memdep"
)

var _ = Describe("StoreSet", func() {
	const (
		storePC = uint64(0x1008)
		loadPC  = uint64(0x1010)
	)

	var ss *memdep.StoreSet

	BeforeEach(func() {
		ss = memdep.NewStoreSet(memdep.Config{SSITSize: 64, LFSTSize: 16})
	})

	It("should predict nothing before a violation", func() {
		ss.InsertStore(storePC, 10, 0)
		Expect(ss.CheckInst(loadPC)).To(BeZero())
		Expect(ss.NumInFlightStores()).To(BeZero())
	})

	It("should converge on the store after a violation", func() {
		ss.Violation(storePC, loadPC)

		for seq := uint64(20); seq < 100; seq += 10 {
			ss.InsertStore(storePC, seq, 0)
			Expect(ss.CheckInst(loadPC)).To(Equal(seq))
			ss.Issued(storePC, seq, true)
			Expect(ss.CheckInst(loadPC)).To(BeZero())
		}
	})

	It("should let a store join the set of a load", func() {
		other := uint64(0x2000)
		ss.Violation(storePC, loadPC)
		ss.Violation(other, loadPC)

		ss.InsertStore(other, 5, 0)
		Expect(ss.CheckInst(loadPC)).To(Equal(uint64(5)))
		Expect(ss.CheckInst(storePC)).To(Equal(uint64(5)))
	})

	It("should merge two valid sets into the smaller id", func() {
		ss.Violation(0x100, 0x104)
		ss.Violation(0x120, 0x128)
		ss.Violation(0x100, 0x128)

		ss.InsertStore(0x100, 7, 0)
		Expect(ss.CheckInst(0x104)).To(Equal(uint64(7)))
		Expect(ss.CheckInst(0x128)).To(Equal(uint64(7)))
		Expect(ss.CheckInst(0x120)).To(BeZero())
	})

	It("should squash younger stores of the same thread only", func() {
		ss.Violation(storePC, loadPC)
		ss.InsertStore(storePC, 30, 1)
		ss.InsertStore(storePC, 40, 0)

		ss.Squash(35, 0)
		Expect(ss.NumInFlightStores()).To(Equal(1))
		Expect(ss.CheckInst(loadPC)).To(BeZero())

		ss.Squash(20, 1)
		Expect(ss.NumInFlightStores()).To(BeZero())
	})

	It("should clear periodically", func() {
		ss = memdep.NewStoreSet(memdep.Config{SSITSize: 64, LFSTSize: 16, ClearPeriod: 2})
		ss.Violation(storePC, loadPC)
		ss.InsertStore(storePC, 1, 0)
		ss.InsertLoad(loadPC, 2)
		Expect(ss.CheckInst(loadPC)).To(Equal(uint64(1)))

		ss.InsertLoad(loadPC, 3)
		Expect(ss.CheckInst(loadPC)).To(BeZero())
	})

	DescribeTable("should validate sizes",
		func(cfg memdep.Config, ok bool) {
			if ok {
				Expect(cfg.Validate()).To(Succeed())
			} else {
				Expect(cfg.Validate()).NotTo(Succeed())
			}
		},
		Entry("default", memdep.DefaultConfig(), true),
		Entry("non power of two SSIT", memdep.Config{SSITSize: 100, LFSTSize: 16}, false),
		Entry("zero LFST", memdep.Config{SSITSize: 64}, false),
		Entry("negative clear period", memdep.Config{SSITSize: 64, LFSTSize: 16, ClearPeriod: -1}, false),
	)
})
