package invariant_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/timing/invariant"
)

var _ = Describe("FatalError", func() {
	It("should panic with the structure and sequence number", func() {
		Expect(func() { invariant.Panicf("ROB", 7, "head %d not ready", 7) }).
			To(PanicWith(&invariant.FatalError{Structure: "ROB", SeqNum: 7, Msg: "head 7 not ready"}))
	})

	It("should format with and without a sequence number", func() {
		Expect((&invariant.FatalError{Structure: "FreeList", Msg: "double free"}).Error()).
			To(Equal("FreeList: double free"))
		Expect((&invariant.FatalError{Structure: "IQ", SeqNum: 3, Msg: "x"}).Error()).
			To(Equal("IQ: [sn:3] x"))
	})

	It("should recover fatal errors and re-raise other panics", func() {
		recovered := func(f func()) (err error) {
			defer func() { err = invariant.Recover(recover()) }()
			f()
			return nil
		}

		err := recovered(func() { invariant.Panicf("ROB", 1, "boom") })
		var fe *invariant.FatalError
		Expect(errors.As(err, &fe)).To(BeTrue())
		Expect(fe.Structure).To(Equal("ROB"))

		Expect(recovered(func() {})).To(Succeed())
		Expect(func() { _ = recovered(func() { panic("other") }) }).To(PanicWith("other"))
	})
})
