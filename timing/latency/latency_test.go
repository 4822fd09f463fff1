package latency_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/latency"
)

var _ = Describe("Latency", func() {
	var (
		table   *latency.Table
		decoder *insts.Decoder
	)

	BeforeEach(func() {
		table = latency.NewTable()
		decoder = insts.NewDecoder()
	})

	Describe("Default Timing Values", func() {
		It("should have correct ALU latency", func() {
			Expect(table.Config().ALULatency).To(Equal(uint64(1)))
		})

		It("should have correct divide latencies", func() {
			config := table.Config()
			Expect(config.DivideLatency).To(Equal(uint64(20)))
			Expect(config.DivideIssueLatency).To(Equal(uint64(19)))
		})
	})

	DescribeTable("instruction latencies",
		func(word uint32, want uint64) {
			Expect(table.GetLatency(decoder.Decode(word))).To(Equal(want))
		},
		Entry("add", insts.R(insts.OpADD, 1, 2, 3), uint64(1)),
		Entry("addi", insts.I(insts.OpADDI, 1, 2, 42), uint64(1)),
		Entry("mul", insts.R(insts.OpMUL, 1, 2, 3), uint64(3)),
		Entry("div", insts.R(insts.OpDIV, 1, 2, 3), uint64(20)),
		Entry("rem", insts.R(insts.OpREM, 1, 2, 3), uint64(20)),
		Entry("fadd", insts.R(insts.OpFADD, 1, 2, 3), uint64(2)),
		Entry("fmul", insts.R(insts.OpFMUL, 1, 2, 3), uint64(4)),
		Entry("fdiv", insts.R(insts.OpFDIV, 1, 2, 3), uint64(12)),
		Entry("itof", insts.R(insts.OpITOF, 1, 2, 0), uint64(2)),
		Entry("ld", insts.I(insts.OpLD, 1, 2, 8), uint64(1)),
		Entry("st", insts.S(insts.OpST, 1, 2, 8), uint64(1)),
		Entry("beq", insts.B(insts.OpBEQ, 1, 2, 4), uint64(1)),
		Entry("jal", insts.J(31, 4), uint64(1)),
		Entry("nop", insts.N(insts.OpNOP), uint64(1)),
		Entry("fence", insts.N(insts.OpFENCE), uint64(1)),
	)

	Describe("Issue latency", func() {
		It("should keep dividers busy", func() {
			Expect(table.IssueLatency(insts.IntDivClass)).To(Equal(uint64(19)))
			Expect(table.IsPipelined(insts.IntDivClass)).To(BeFalse())
		})

		It("should pipeline everything else", func() {
			Expect(table.IssueLatency(insts.IntMultClass)).To(Equal(uint64(1)))
			Expect(table.IsPipelined(insts.FloatMultClass)).To(BeTrue())
		})
	})

	Describe("Instruction Type Detection", func() {
		It("should classify memory and branch instructions", func() {
			ld := decoder.Decode(insts.I(insts.OpLD, 1, 2, 8))
			st := decoder.Decode(insts.S(insts.OpST, 1, 2, 8))
			beq := decoder.Decode(insts.B(insts.OpBEQ, 1, 2, 4))

			Expect(table.IsLoadOp(ld)).To(BeTrue())
			Expect(table.IsStoreOp(ld)).To(BeFalse())
			Expect(table.IsStoreOp(st)).To(BeTrue())
			Expect(table.IsMemoryOp(st)).To(BeTrue())
			Expect(table.IsBranchOp(beq)).To(BeTrue())
			Expect(table.IsMemoryOp(beq)).To(BeFalse())
		})
	})

	Describe("Nil Instruction Handling", func() {
		It("should return 1 for nil instruction", func() {
			Expect(table.GetLatency(nil)).To(Equal(uint64(1)))
		})

		It("should return false for nil instruction memory check", func() {
			Expect(table.IsMemoryOp(nil)).To(BeFalse())
			Expect(table.IsLoadOp(nil)).To(BeFalse())
			Expect(table.IsStoreOp(nil)).To(BeFalse())
			Expect(table.IsBranchOp(nil)).To(BeFalse())
		})
	})

	Describe("Custom Configuration", func() {
		It("should use custom config values", func() {
			config := latency.DefaultTimingConfig()
			config.ALULatency = 2
			config.BranchLatency = 3
			config.LoadLatency = 8
			customTable := latency.NewTableWithConfig(config)

			add := decoder.Decode(insts.R(insts.OpADD, 1, 2, 3))
			ld := decoder.Decode(insts.I(insts.OpLD, 1, 2, 0))
			b := decoder.Decode(insts.J(0, 4))

			Expect(customTable.GetLatency(add)).To(Equal(uint64(2)))
			Expect(customTable.GetLatency(ld)).To(Equal(uint64(8)))
			Expect(customTable.GetLatency(b)).To(Equal(uint64(3)))
		})
	})
})

var _ = Describe("FUPool", func() {
	var (
		table *latency.Table
		pool  *latency.FUPool
	)

	BeforeEach(func() {
		config := latency.DefaultTimingConfig()
		config.Units = []latency.UnitConfig{
			{Name: "ALU", Count: 2, Classes: []insts.OpClass{insts.IntAluClass, insts.BranchClass}},
			{Name: "Div", Count: 1, Classes: []insts.OpClass{insts.IntDivClass}},
		}
		config.DivideIssueLatency = 3
		table = latency.NewTableWithConfig(config)
		pool = latency.NewFUPool(table)
	})

	It("should create one unit per count", func() {
		Expect(pool.NumUnits()).To(Equal(3))
		Expect(pool.Name(0)).To(Equal("ALU(0)"))
		Expect(pool.Name(2)).To(Equal("Div(0)"))
	})

	It("should limit pipelined units per cycle", func() {
		Expect(pool.GetUnit(insts.IntAluClass)).To(BeNumerically(">=", 0))
		Expect(pool.GetUnit(insts.BranchClass)).To(BeNumerically(">=", 0))
		Expect(pool.GetUnit(insts.IntAluClass)).To(Equal(latency.NoFreeUnit))

		pool.ProcessFreeUnits()
		Expect(pool.NumBusy()).To(Equal(0))
		Expect(pool.GetUnit(insts.IntAluClass)).To(BeNumerically(">=", 0))
	})

	It("should keep unpipelined units busy for their issue latency", func() {
		Expect(pool.GetUnit(insts.IntDivClass)).To(Equal(2))

		pool.ProcessFreeUnits()
		Expect(pool.GetUnit(insts.IntDivClass)).To(Equal(latency.NoFreeUnit))
		pool.ProcessFreeUnits()
		Expect(pool.GetUnit(insts.IntDivClass)).To(Equal(latency.NoFreeUnit))
		pool.ProcessFreeUnits()
		Expect(pool.GetUnit(insts.IntDivClass)).To(Equal(2))
	})

	It("should report missing capabilities", func() {
		Expect(pool.GetUnit(insts.FloatAddClass)).To(Equal(latency.NoCapability))
	})

	It("should free everything on reset", func() {
		pool.GetUnit(insts.IntAluClass)
		pool.GetUnit(insts.IntDivClass)
		pool.Reset()
		Expect(pool.NumBusy()).To(Equal(0))
	})
})

var _ = Describe("TimingConfig", func() {
	Describe("Default Config", func() {
		It("should create valid default config", func() {
			config := latency.DefaultTimingConfig()
			Expect(config.Validate()).To(Succeed())
		})
	})

	Describe("Validation", func() {
		It("should reject zero ALU latency", func() {
			config := latency.DefaultTimingConfig()
			config.ALULatency = 0
			Expect(config.Validate()).To(MatchError(ContainSubstring("alu_latency")))
		})

		It("should reject zero divide issue latency", func() {
			config := latency.DefaultTimingConfig()
			config.DivideIssueLatency = 0
			Expect(config.Validate()).To(HaveOccurred())
		})

		It("should reject a unit group with no units", func() {
			config := latency.DefaultTimingConfig()
			config.Units[0].Count = 0
			Expect(config.Validate()).To(MatchError(ContainSubstring("IntALU")))
		})

		It("should reject an op class no unit executes", func() {
			config := latency.DefaultTimingConfig()
			config.Units = config.Units[:4]
			Expect(config.Validate()).To(MatchError(ContainSubstring("MemRead")))
		})
	})

	Describe("Clone", func() {
		It("should create independent copy", func() {
			original := latency.DefaultTimingConfig()
			clone := original.Clone()

			clone.ALULatency = 100
			clone.Units[0].Count = 1
			clone.Units[0].Classes[0] = insts.FloatDivClass

			Expect(original.ALULatency).To(Equal(uint64(1)))
			Expect(original.Units[0].Count).To(Equal(6))
			Expect(original.Units[0].Classes[0]).To(Equal(insts.IntAluClass))
			Expect(clone.ALULatency).To(Equal(uint64(100)))
		})
	})

	Describe("File Operations", func() {
		var tempDir string

		BeforeEach(func() {
			var err error
			tempDir, err = os.MkdirTemp("", "latency-test")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			_ = os.RemoveAll(tempDir)
		})

		It("should save and load config", func() {
			original := latency.DefaultTimingConfig()
			original.ALULatency = 5
			original.LoadLatency = 10

			path := filepath.Join(tempDir, "timing.json")
			Expect(original.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(original))
		})

		It("should save and load YAML config", func() {
			original := latency.DefaultTimingConfig()
			original.FloatDivLatency = 30
			original.Units[4].Count = 1

			path := filepath.Join(tempDir, "timing.yaml")
			Expect(original.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(original))
		})

		It("should keep defaults for missing fields", func() {
			path := filepath.Join(tempDir, "partial.yml")
			err := os.WriteFile(path, []byte("alu_latency: 7\n"), 0644)
			Expect(err).NotTo(HaveOccurred())

			loaded, err := latency.LoadConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.ALULatency).To(Equal(uint64(7)))
			Expect(loaded.DivideLatency).To(Equal(uint64(20)))
			Expect(loaded.Units).To(HaveLen(5))
		})

		It("should return error for non-existent file", func() {
			_, err := latency.LoadConfig("/nonexistent/path/timing.json")
			Expect(err).To(HaveOccurred())
		})

		It("should return error for invalid JSON", func() {
			path := filepath.Join(tempDir, "invalid.json")
			err := os.WriteFile(path, []byte("not valid json"), 0644)
			Expect(err).NotTo(HaveOccurred())

			_, err = latency.LoadConfig(path)
			Expect(err).To(HaveOccurred())
		})

		It("should reject unknown op class names", func() {
			path := filepath.Join(tempDir, "bad.json")
			err := os.WriteFile(path, []byte(`{"units":[{"name":"X","count":1,"classes":["Bogus"]}]}`), 0644)
			Expect(err).NotTo(HaveOccurred())

			_, err = latency.LoadConfig(path)
			Expect(err).To(MatchError(ContainSubstring("Bogus")))
		})
	})
})
