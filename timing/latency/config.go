package latency

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/sarchlab/o3sim/insts"
)

// UnitConfig describes a group of identical functional units.
type UnitConfig struct {
	// Name identifies the group in diagnostics, e.g. "IntALU".
	Name string `json:"name" yaml:"name"`

	// Count is the number of units in the group.
	Count int `json:"count" yaml:"count"`

	// Classes lists the operation classes the units execute.
	Classes []insts.OpClass `json:"classes" yaml:"classes"`
}

// TimingConfig holds execution latencies per operation class and the
// functional units that execute them.
type TimingConfig struct {
	// ALULatency is the execution latency for integer ALU operations.
	// Default: 1 cycle.
	ALULatency uint64 `json:"alu_latency" yaml:"alu_latency"`

	// BranchLatency is the execution latency for control instructions.
	// This does not include the misprediction penalty, which is the
	// pipeline refill time. Default: 1 cycle.
	BranchLatency uint64 `json:"branch_latency" yaml:"branch_latency"`

	// LoadLatency is the address generation latency of loads. The data
	// access latency comes from the data cache model. Default: 1 cycle.
	LoadLatency uint64 `json:"load_latency" yaml:"load_latency"`

	// StoreLatency is the address generation latency of stores.
	// Default: 1 cycle.
	StoreLatency uint64 `json:"store_latency" yaml:"store_latency"`

	// MultiplyLatency is the latency for integer multiply operations.
	// Default: 3 cycles.
	MultiplyLatency uint64 `json:"multiply_latency" yaml:"multiply_latency"`

	// DivideLatency is the latency for integer divide and remainder.
	// Default: 20 cycles.
	DivideLatency uint64 `json:"divide_latency" yaml:"divide_latency"`

	// DivideIssueLatency is the number of cycles a divider stays busy
	// before it accepts another operation. Default: 19 cycles.
	DivideIssueLatency uint64 `json:"divide_issue_latency" yaml:"divide_issue_latency"`

	// FloatAddLatency is the latency for FP add and subtract.
	// Default: 2 cycles.
	FloatAddLatency uint64 `json:"float_add_latency" yaml:"float_add_latency"`

	// FloatMultLatency is the latency for FP multiply. Default: 4 cycles.
	FloatMultLatency uint64 `json:"float_mult_latency" yaml:"float_mult_latency"`

	// FloatDivLatency is the latency for FP divide. Default: 12 cycles.
	FloatDivLatency uint64 `json:"float_div_latency" yaml:"float_div_latency"`

	// FloatDivIssueLatency is the number of cycles an FP divider stays
	// busy. Default: 12 cycles.
	FloatDivIssueLatency uint64 `json:"float_div_issue_latency" yaml:"float_div_issue_latency"`

	// FloatCvtLatency is the latency for int/FP conversions.
	// Default: 2 cycles.
	FloatCvtLatency uint64 `json:"float_cvt_latency" yaml:"float_cvt_latency"`

	// Units describes the functional unit pool.
	Units []UnitConfig `json:"units" yaml:"units"`
}

// DefaultTimingConfig returns a TimingConfig with the default latencies and
// functional unit mix.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		ALULatency:           1,
		BranchLatency:        1,
		LoadLatency:          1,
		StoreLatency:         1,
		MultiplyLatency:      3,
		DivideLatency:        20,
		DivideIssueLatency:   19,
		FloatAddLatency:      2,
		FloatMultLatency:     4,
		FloatDivLatency:      12,
		FloatDivIssueLatency: 12,
		FloatCvtLatency:      2,
		Units: []UnitConfig{
			{Name: "IntALU", Count: 6, Classes: []insts.OpClass{insts.IntAluClass, insts.BranchClass}},
			{Name: "IntMultDiv", Count: 2, Classes: []insts.OpClass{insts.IntMultClass, insts.IntDivClass}},
			{Name: "FP_ALU", Count: 4, Classes: []insts.OpClass{insts.FloatAddClass, insts.FloatCvtClass}},
			{Name: "FP_MultDiv", Count: 2, Classes: []insts.OpClass{insts.FloatMultClass, insts.FloatDivClass}},
			{Name: "RdWrPort", Count: 4, Classes: []insts.OpClass{insts.MemReadClass, insts.MemWriteClass}},
		},
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadConfig loads a TimingConfig from a JSON or YAML file. Fields missing
// from the file keep their default values.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON or YAML file, chosen by the
// file extension.
func (c *TimingConfig) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that all latency values are valid (> 0) and that every
// operation class is executed by at least one functional unit.
func (c *TimingConfig) Validate() error {
	latencies := []struct {
		name string
		v    uint64
	}{
		{"alu_latency", c.ALULatency},
		{"branch_latency", c.BranchLatency},
		{"load_latency", c.LoadLatency},
		{"store_latency", c.StoreLatency},
		{"multiply_latency", c.MultiplyLatency},
		{"divide_latency", c.DivideLatency},
		{"divide_issue_latency", c.DivideIssueLatency},
		{"float_add_latency", c.FloatAddLatency},
		{"float_mult_latency", c.FloatMultLatency},
		{"float_div_latency", c.FloatDivLatency},
		{"float_div_issue_latency", c.FloatDivIssueLatency},
		{"float_cvt_latency", c.FloatCvtLatency},
	}
	for _, l := range latencies {
		if l.v == 0 {
			return fmt.Errorf("%s must be > 0", l.name)
		}
	}

	var provided [insts.NumOpClasses]bool
	for _, u := range c.Units {
		if u.Count <= 0 {
			return fmt.Errorf("functional unit %q: count must be > 0", u.Name)
		}
		for _, cls := range u.Classes {
			if cls == insts.NoOpClass || cls >= insts.NumOpClasses {
				return fmt.Errorf("functional unit %q: invalid op class %v", u.Name, cls)
			}
			provided[cls] = true
		}
	}

	for cls := insts.NoOpClass + 1; cls < insts.NumOpClasses; cls++ {
		if !provided[cls] {
			return fmt.Errorf("no functional unit executes op class %v", cls)
		}
	}

	return nil
}

// Clone returns a deep copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	clone.Units = make([]UnitConfig, len(c.Units))
	for i, u := range c.Units {
		u.Classes = append([]insts.OpClass(nil), u.Classes...)
		clone.Units[i] = u
	}
	return &clone
}
