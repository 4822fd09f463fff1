package loader_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/emu"
	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/loader"
)

var _ = Describe("Loader", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "loader-test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempDir)
	})

	write := func(name, src string) string {
		path := filepath.Join(tempDir, name)
		Expect(os.WriteFile(path, []byte(src), 0o644)).To(Succeed())
		return path
	}

	It("should assemble a file and load it into memory", func() {
		path := write("prog.s", `
			.entry main
			.trap handler
		main:
			st   r1, -8(r29)
			halt
		handler:
			eret
		`)

		prog, err := loader.LoadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(prog.Path).To(Equal(path))

		mem := emu.NewMemory()
		regs := []*emu.RegFile{{}, {}}
		prog.Load(mem, regs...)

		Expect(regs[0].PC).To(Equal(prog.Entry))
		Expect(regs[1].TrapVector).To(Equal(prog.Symbols["handler"]))
		Expect(regs[0].ReadReg(insts.IntReg(loader.StackReg))).To(Equal(uint64(loader.DefaultStackTop)))
		Expect(regs[1].ReadReg(insts.IntReg(loader.StackReg))).
			To(Equal(uint64(loader.DefaultStackTop - loader.DefaultStackSize)))

		w, f := mem.Read32(prog.Entry)
		Expect(f.IsFault()).To(BeFalse())
		Expect(insts.NewDecoder().Decode(w).Op).To(Equal(insts.OpST))
		Expect(mem.Check(loader.DefaultStackTop-loader.DefaultStackSize*2, 8, true).IsFault()).
			To(BeFalse())
	})

	It("should run a loaded program in the emulator", func() {
		prog, err := loader.Parse(`
			addi r29, r29, -8
			li   r1, 99
			st   r1, 0(r29)
			ld   r2, 0(r29)
			halt
		`)
		Expect(err).NotTo(HaveOccurred())

		e := prog.NewEmulator()
		Expect(e.Run()).To(Succeed())
		Expect(e.RegFile().ReadReg(insts.IntReg(2))).To(Equal(uint64(99)))
	})

	It("should report missing files", func() {
		_, err := loader.LoadFile(filepath.Join(tempDir, "missing.s"))
		Expect(err).To(MatchError(ContainSubstring("failed to read program")))
	})

	It("should report assembly errors with the file name", func() {
		path := write("bad.s", "bogus r1\n")
		_, err := loader.LoadFile(path)
		Expect(err).To(MatchError(ContainSubstring("bad.s")))
	})
})
