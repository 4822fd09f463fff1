package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sarchlab/o3sim/timing/bpred"
	"github.com/sarchlab/o3sim/timing/cache"
	"github.com/sarchlab/o3sim/timing/latency"
	"github.com/sarchlab/o3sim/timing/memdep"
	"github.com/sarchlab/o3sim/timing/regs"
	"github.com/sarchlab/o3sim/timing/rob"
	"go.yaml.in/yaml/v3"
)

// MaxThreads is the number of hardware threads the communication structs
// have room for.
const MaxThreads = 4

// FetchPolicy selects which thread fetches each cycle.
type FetchPolicy string

// Fetch policies.
const (
	// FetchRoundRobin rotates between the threads that can fetch.
	FetchRoundRobin FetchPolicy = "roundrobin"
	// FetchICount picks the thread with the fewest instructions in flight.
	FetchICount FetchPolicy = "icount"
)

// CommitPolicy selects which thread commits each slot of the commit width.
type CommitPolicy string

// Commit policies.
const (
	// CommitAggressive lets every thread commit up to the commit width.
	CommitAggressive CommitPolicy = "aggressive"
	// CommitRoundRobin rotates the commit slots between ready threads.
	CommitRoundRobin CommitPolicy = "roundrobin"
	// CommitOldestReady gives each slot to the ready head with the lowest
	// sequence number.
	CommitOldestReady CommitPolicy = "oldestready"
)

// Params holds the parameters of the out-of-order core.
type Params struct {
	NumThreads int `json:"num_threads" yaml:"num_threads"`

	FetchWidth    int `json:"fetch_width" yaml:"fetch_width"`
	DecodeWidth   int `json:"decode_width" yaml:"decode_width"`
	RenameWidth   int `json:"rename_width" yaml:"rename_width"`
	DispatchWidth int `json:"dispatch_width" yaml:"dispatch_width"`
	IssueWidth    int `json:"issue_width" yaml:"issue_width"`
	WBWidth       int `json:"wb_width" yaml:"wb_width"`
	CommitWidth   int `json:"commit_width" yaml:"commit_width"`
	SquashWidth   int `json:"squash_width" yaml:"squash_width"`

	DecodeToFetchDelay  int `json:"decode_to_fetch_delay" yaml:"decode_to_fetch_delay"`
	CommitToFetchDelay  int `json:"commit_to_fetch_delay" yaml:"commit_to_fetch_delay"`
	FetchToDecodeDelay  int `json:"fetch_to_decode_delay" yaml:"fetch_to_decode_delay"`
	RenameToDecodeDelay int `json:"rename_to_decode_delay" yaml:"rename_to_decode_delay"`
	CommitToDecodeDelay int `json:"commit_to_decode_delay" yaml:"commit_to_decode_delay"`
	DecodeToRenameDelay int `json:"decode_to_rename_delay" yaml:"decode_to_rename_delay"`
	IEWToRenameDelay    int `json:"iew_to_rename_delay" yaml:"iew_to_rename_delay"`
	CommitToRenameDelay int `json:"commit_to_rename_delay" yaml:"commit_to_rename_delay"`
	RenameToIEWDelay    int `json:"rename_to_iew_delay" yaml:"rename_to_iew_delay"`
	CommitToIEWDelay    int `json:"commit_to_iew_delay" yaml:"commit_to_iew_delay"`
	IEWToCommitDelay    int `json:"iew_to_commit_delay" yaml:"iew_to_commit_delay"`
	RenameToROBDelay    int `json:"rename_to_rob_delay" yaml:"rename_to_rob_delay"`

	NumPhysIntRegs   int `json:"num_phys_int_regs" yaml:"num_phys_int_regs"`
	NumPhysFloatRegs int `json:"num_phys_float_regs" yaml:"num_phys_float_regs"`
	NumROBEntries    int `json:"num_rob_entries" yaml:"num_rob_entries"`
	NumIQEntries     int `json:"num_iq_entries" yaml:"num_iq_entries"`
	LQEntries        int `json:"lq_entries" yaml:"lq_entries"`
	SQEntries        int `json:"sq_entries" yaml:"sq_entries"`

	SMTFetchPolicy  FetchPolicy  `json:"smt_fetch_policy" yaml:"smt_fetch_policy"`
	SMTCommitPolicy CommitPolicy `json:"smt_commit_policy" yaml:"smt_commit_policy"`
	SMTROBPolicy    rob.Policy   `json:"smt_rob_policy" yaml:"smt_rob_policy"`
	SMTROBThreshold int          `json:"smt_rob_threshold" yaml:"smt_rob_threshold"`
	SMTIQPolicy     rob.Policy   `json:"smt_iq_policy" yaml:"smt_iq_policy"`
	SMTIQThreshold  int          `json:"smt_iq_threshold" yaml:"smt_iq_threshold"`
	SMTLSQPolicy    rob.Policy   `json:"smt_lsq_policy" yaml:"smt_lsq_policy"`
	SMTLSQThreshold int          `json:"smt_lsq_threshold" yaml:"smt_lsq_threshold"`

	// TrapLatency is the number of cycles between a faulting instruction
	// reaching the ROB head and the redirect to its handler.
	TrapLatency int `json:"trap_latency" yaml:"trap_latency"`

	BranchPred bpred.Config         `json:"branch_pred" yaml:"branch_pred"`
	StoreSet   memdep.Config        `json:"store_set" yaml:"store_set"`
	DataCache  cache.Config         `json:"data_cache" yaml:"data_cache"`
	Timing     latency.TimingConfig `json:"timing" yaml:"timing"`
}

// DefaultParams returns the parameters of a single-threaded 8-wide core.
func DefaultParams() Params {
	return Params{
		NumThreads: 1,

		FetchWidth:    8,
		DecodeWidth:   8,
		RenameWidth:   8,
		DispatchWidth: 8,
		IssueWidth:    8,
		WBWidth:       8,
		CommitWidth:   8,
		SquashWidth:   8,

		DecodeToFetchDelay:  1,
		CommitToFetchDelay:  1,
		FetchToDecodeDelay:  1,
		RenameToDecodeDelay: 1,
		CommitToDecodeDelay: 1,
		DecodeToRenameDelay: 1,
		IEWToRenameDelay:    1,
		CommitToRenameDelay: 1,
		RenameToIEWDelay:    2,
		CommitToIEWDelay:    1,
		IEWToCommitDelay:    1,
		RenameToROBDelay:    1,

		NumPhysIntRegs:   256,
		NumPhysFloatRegs: 256,
		NumROBEntries:    192,
		NumIQEntries:     64,
		LQEntries:        32,
		SQEntries:        32,

		SMTFetchPolicy:  FetchRoundRobin,
		SMTCommitPolicy: CommitRoundRobin,
		SMTROBPolicy:    rob.Partitioned,
		SMTIQPolicy:     rob.Partitioned,
		SMTLSQPolicy:    rob.Partitioned,

		TrapLatency: 13,

		BranchPred: bpred.DefaultConfig(),
		StoreSet:   memdep.DefaultConfig(),
		DataCache:  cache.DefaultConfig(),
		Timing:     *latency.DefaultTimingConfig(),
	}
}

// Layout returns the physical register layout.
func (p Params) Layout() regs.Layout {
	return regs.Layout{NumInt: p.NumPhysIntRegs, NumFloat: p.NumPhysFloatRegs}
}

// ROBConfig returns the reorder buffer configuration.
func (p Params) ROBConfig() rob.Config {
	return rob.Config{
		NumEntries:  p.NumROBEntries,
		SquashWidth: p.SquashWidth,
		NumThreads:  p.NumThreads,
		Policy:      p.SMTROBPolicy,
		Threshold:   p.SMTROBThreshold,
	}
}

// Validate checks the parameters. Every error is fatal to construction.
func (p Params) Validate() error {
	if p.NumThreads <= 0 || p.NumThreads > MaxThreads {
		return fmt.Errorf("num_threads must be in [1, %d], got %d", MaxThreads, p.NumThreads)
	}

	positive := []struct {
		name string
		v    int
	}{
		{"fetch_width", p.FetchWidth},
		{"decode_width", p.DecodeWidth},
		{"rename_width", p.RenameWidth},
		{"dispatch_width", p.DispatchWidth},
		{"issue_width", p.IssueWidth},
		{"wb_width", p.WBWidth},
		{"commit_width", p.CommitWidth},
		{"squash_width", p.SquashWidth},
		{"decode_to_fetch_delay", p.DecodeToFetchDelay},
		{"commit_to_fetch_delay", p.CommitToFetchDelay},
		{"fetch_to_decode_delay", p.FetchToDecodeDelay},
		{"rename_to_decode_delay", p.RenameToDecodeDelay},
		{"commit_to_decode_delay", p.CommitToDecodeDelay},
		{"decode_to_rename_delay", p.DecodeToRenameDelay},
		{"iew_to_rename_delay", p.IEWToRenameDelay},
		{"commit_to_rename_delay", p.CommitToRenameDelay},
		{"rename_to_iew_delay", p.RenameToIEWDelay},
		{"commit_to_iew_delay", p.CommitToIEWDelay},
		{"iew_to_commit_delay", p.IEWToCommitDelay},
		{"rename_to_rob_delay", p.RenameToROBDelay},
		{"num_iq_entries", p.NumIQEntries},
		{"lq_entries", p.LQEntries},
		{"sq_entries", p.SQEntries},
		{"trap_latency", p.TrapLatency},
	}
	for _, f := range positive {
		if f.v <= 0 {
			return fmt.Errorf("%s must be > 0", f.name)
		}
	}

	switch p.SMTFetchPolicy {
	case FetchRoundRobin, FetchICount:
	default:
		return fmt.Errorf("unknown smt_fetch_policy %q", p.SMTFetchPolicy)
	}
	switch p.SMTCommitPolicy {
	case CommitAggressive, CommitRoundRobin, CommitOldestReady:
	default:
		return fmt.Errorf("unknown smt_commit_policy %q", p.SMTCommitPolicy)
	}

	if err := p.Layout().Validate(p.NumThreads); err != nil {
		return err
	}
	if err := p.ROBConfig().Validate(); err != nil {
		return err
	}
	if p.SMTIQPolicy == rob.Threshold && p.SMTIQThreshold <= 0 {
		return fmt.Errorf("smt_iq_threshold must be > 0 under the threshold policy")
	}
	if p.SMTLSQPolicy == rob.Threshold && p.SMTLSQThreshold <= 0 {
		return fmt.Errorf("smt_lsq_threshold must be > 0 under the threshold policy")
	}

	if err := p.BranchPred.Validate(); err != nil {
		return fmt.Errorf("branch_pred: %w", err)
	}
	if err := p.StoreSet.Validate(); err != nil {
		return fmt.Errorf("store_set: %w", err)
	}
	if err := p.DataCache.Validate(); err != nil {
		return fmt.Errorf("data_cache: %w", err)
	}
	if err := p.Timing.Validate(); err != nil {
		return fmt.Errorf("timing: %w", err)
	}

	return nil
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	clone := p
	clone.Timing = *p.Timing.Clone()
	return clone
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadParams reads parameters from a JSON or YAML file, chosen by the file
// extension. Fields missing from the file keep their default values.
func LoadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("failed to read params file: %w", err)
	}

	p := DefaultParams()
	if isYAML(path) {
		err = yaml.Unmarshal(data, &p)
	} else {
		err = json.Unmarshal(data, &p)
	}
	if err != nil {
		return Params{}, fmt.Errorf("failed to parse params: %w", err)
	}

	return p, nil
}

// SaveParams writes the parameters to a JSON or YAML file, chosen by the
// file extension.
func (p Params) SaveParams(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(p)
	} else {
		data, err = json.MarshalIndent(p, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize params: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write params file: %w", err)
	}

	return nil
}
