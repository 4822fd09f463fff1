// Package bpred provides the branch predictors used by fetch: bimodal and
// tournament direction predictors, a branch target buffer and a per-thread
// return address stack.
package bpred

import "fmt"

// Kind selects the direction predictor.
type Kind string

// Direction predictor kinds.
const (
	KindBimodal    Kind = "bimodal"
	KindTournament Kind = "tournament"
)

// Config holds the predictor table sizes. All table sizes must be powers
// of two.
type Config struct {
	// Kind is the direction predictor, bimodal or tournament.
	Kind Kind `json:"kind" yaml:"kind"`

	// LocalPredictorSize is the number of local (or bimodal) counters.
	LocalPredictorSize uint32 `json:"local_predictor_size" yaml:"local_predictor_size"`
	// LocalCtrBits is the width of the local counters.
	LocalCtrBits uint `json:"local_ctr_bits" yaml:"local_ctr_bits"`
	// LocalHistoryTableSize is the number of per-branch history registers.
	LocalHistoryTableSize uint32 `json:"local_history_table_size" yaml:"local_history_table_size"`
	// LocalHistoryBits is the length of each local history register.
	LocalHistoryBits uint `json:"local_history_bits" yaml:"local_history_bits"`

	// GlobalPredictorSize is the number of global counters. The global
	// history length is log2 of this size.
	GlobalPredictorSize uint32 `json:"global_predictor_size" yaml:"global_predictor_size"`
	// GlobalCtrBits is the width of the global counters.
	GlobalCtrBits uint `json:"global_ctr_bits" yaml:"global_ctr_bits"`

	// ChoicePredictorSize is the number of choice counters.
	ChoicePredictorSize uint32 `json:"choice_predictor_size" yaml:"choice_predictor_size"`
	// ChoiceCtrBits is the width of the choice counters.
	ChoiceCtrBits uint `json:"choice_ctr_bits" yaml:"choice_ctr_bits"`

	// BTBEntries is the number of branch target buffer entries.
	BTBEntries uint32 `json:"btb_entries" yaml:"btb_entries"`
	// BTBTagBits is the width of the BTB tags.
	BTBTagBits uint `json:"btb_tag_bits" yaml:"btb_tag_bits"`

	// RASSize is the number of return address stack entries per thread.
	RASSize uint32 `json:"ras_size" yaml:"ras_size"`

	// InstShiftAmt is the number of low PC bits ignored when indexing.
	InstShiftAmt uint `json:"inst_shift_amt" yaml:"inst_shift_amt"`
}

// DefaultConfig returns the default tournament predictor configuration.
func DefaultConfig() Config {
	return Config{
		Kind:                  KindTournament,
		LocalPredictorSize:    2048,
		LocalCtrBits:          2,
		LocalHistoryTableSize: 2048,
		LocalHistoryBits:      11,
		GlobalPredictorSize:   8192,
		GlobalCtrBits:         2,
		ChoicePredictorSize:   8192,
		ChoiceCtrBits:         2,
		BTBEntries:            4096,
		BTBTagBits:            16,
		RASSize:               16,
		InstShiftAmt:          2,
	}
}

// Validate checks that every table size is a power of two and every
// counter is between 1 and 8 bits wide.
func (c Config) Validate() error {
	switch c.Kind {
	case KindBimodal, KindTournament:
	default:
		return fmt.Errorf("invalid branch predictor kind %q, options are bimodal, tournament", c.Kind)
	}

	sizes := []struct {
		name string
		v    uint32
	}{
		{"local_predictor_size", c.LocalPredictorSize},
		{"local_history_table_size", c.LocalHistoryTableSize},
		{"global_predictor_size", c.GlobalPredictorSize},
		{"choice_predictor_size", c.ChoicePredictorSize},
		{"btb_entries", c.BTBEntries},
	}
	for _, s := range sizes {
		if !isPowerOf2(s.v) {
			return fmt.Errorf("%s must be a power of two, got %d", s.name, s.v)
		}
	}

	if c.RASSize == 0 {
		return fmt.Errorf("ras_size must be > 0")
	}

	for name, bits := range map[string]uint{
		"local_ctr_bits":  c.LocalCtrBits,
		"global_ctr_bits": c.GlobalCtrBits,
		"choice_ctr_bits": c.ChoiceCtrBits,
	} {
		if bits == 0 || bits > 8 {
			return fmt.Errorf("%s must be between 1 and 8, got %d", name, bits)
		}
	}

	if c.LocalHistoryBits == 0 || c.LocalHistoryBits > 32 {
		return fmt.Errorf("local_history_bits must be between 1 and 32, got %d", c.LocalHistoryBits)
	}
	if c.BTBTagBits == 0 || c.BTBTagBits > 64 {
		return fmt.Errorf("btb_tag_bits must be between 1 and 64, got %d", c.BTBTagBits)
	}

	return nil
}
