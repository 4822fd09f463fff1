package pipeline_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/bpred"
	"github.com/sarchlab/o3sim/timing/pipeline"
	"github.com/sarchlab/o3sim/timing/rob"
)

var _ = Describe("Params", func() {
	It("should accept the defaults", func() {
		Expect(pipeline.DefaultParams().Validate()).To(Succeed())
	})

	DescribeTable("should reject invalid parameters",
		func(mutate func(*pipeline.Params), msg string) {
			p := pipeline.DefaultParams()
			mutate(&p)
			Expect(p.Validate()).To(MatchError(ContainSubstring(msg)))
		},
		Entry("no threads", func(p *pipeline.Params) { p.NumThreads = 0 }, "num_threads"),
		Entry("too many threads", func(p *pipeline.Params) {
			p.NumThreads = pipeline.MaxThreads + 1
		}, "num_threads"),
		Entry("zero width", func(p *pipeline.Params) { p.IssueWidth = 0 }, "issue_width"),
		Entry("zero delay", func(p *pipeline.Params) { p.IEWToCommitDelay = 0 }, "iew_to_commit_delay"),
		Entry("zero trap latency", func(p *pipeline.Params) { p.TrapLatency = 0 }, "trap_latency"),
		Entry("unknown fetch policy", func(p *pipeline.Params) {
			p.SMTFetchPolicy = "random"
		}, "smt_fetch_policy"),
		Entry("unknown commit policy", func(p *pipeline.Params) {
			p.SMTCommitPolicy = "lazy"
		}, "smt_commit_policy"),
		Entry("too few physical registers", func(p *pipeline.Params) {
			p.NumThreads = 2
			p.NumPhysIntRegs = 2 * insts.NumIntRegs
		}, "num_phys_int_regs"),
		Entry("missing ROB threshold", func(p *pipeline.Params) {
			p.SMTROBPolicy = rob.Threshold
		}, "smt_rob_threshold"),
		Entry("missing IQ threshold", func(p *pipeline.Params) {
			p.SMTIQPolicy = rob.Threshold
		}, "smt_iq_threshold"),
		Entry("bad predictor", func(p *pipeline.Params) {
			p.BranchPred.Kind = "perceptron"
		}, "branch_pred"),
		Entry("bad store set", func(p *pipeline.Params) {
			p.StoreSet.SSITSize = 1000
		}, "store_set"),
		Entry("bad data cache", func(p *pipeline.Params) {
			p.DataCache.BlockSize = 48
		}, "data_cache"),
		Entry("bad timing", func(p *pipeline.Params) {
			p.Timing.Units = nil
		}, "timing"),
	)

	It("should clone the functional unit table", func() {
		p := pipeline.DefaultParams()
		clone := p.Clone()

		clone.Timing.Units[0].Count = 1
		clone.Timing.Units[0].Classes[0] = insts.FloatDivClass

		Expect(p.Timing.Units[0].Count).To(Equal(6))
		Expect(p.Timing.Units[0].Classes[0]).To(Equal(insts.IntAluClass))
	})

	Describe("File Operations", func() {
		var tempDir string

		BeforeEach(func() {
			tempDir = GinkgoT().TempDir()
		})

		DescribeTable("should save and load params",
			func(name string) {
				original := pipeline.DefaultParams()
				original.NumThreads = 2
				original.SMTFetchPolicy = pipeline.FetchICount
				original.SMTCommitPolicy = pipeline.CommitOldestReady
				original.SMTROBPolicy = rob.Threshold
				original.SMTROBThreshold = 96
				original.BranchPred.Kind = bpred.KindBimodal
				original.Timing.DivideLatency = 30

				path := filepath.Join(tempDir, name)
				Expect(original.SaveParams(path)).To(Succeed())

				loaded, err := pipeline.LoadParams(path)
				Expect(err).NotTo(HaveOccurred())
				Expect(loaded).To(Equal(original))
				Expect(loaded.Validate()).To(Succeed())
			},
			Entry("json", "core.json"),
			Entry("yaml", "core.yaml"),
		)

		It("should keep defaults for missing fields", func() {
			path := filepath.Join(tempDir, "partial.yaml")
			Expect(os.WriteFile(path, []byte("num_threads: 2\nsmt_iq_policy: dynamic\n"), 0644)).
				To(Succeed())

			loaded, err := pipeline.LoadParams(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.NumThreads).To(Equal(2))
			Expect(loaded.SMTIQPolicy).To(Equal(rob.Dynamic))
			Expect(loaded.NumROBEntries).To(Equal(pipeline.DefaultParams().NumROBEntries))
		})

		It("should report parse errors", func() {
			path := filepath.Join(tempDir, "broken.json")
			Expect(os.WriteFile(path, []byte("{"), 0644)).To(Succeed())

			_, err := pipeline.LoadParams(path)
			Expect(err).To(MatchError(ContainSubstring("failed to parse params")))
		})

		It("should report missing files", func() {
			_, err := pipeline.LoadParams(filepath.Join(tempDir, "missing.json"))
			Expect(err).To(HaveOccurred())
		})
	})
})
