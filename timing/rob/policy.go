package rob

import (
	"fmt"
	"strings"
)

// Policy selects how entries of a shared structure are divided among
// hardware threads.
type Policy uint8

// Sharing policies.
const (
	// Dynamic lets any thread use every entry.
	Dynamic Policy = iota
	// Partitioned splits entries evenly among active threads.
	Partitioned
	// Threshold caps each thread at a fixed number of entries.
	Threshold
)

var policyNames = [...]string{"dynamic", "partitioned", "threshold"}

func (p Policy) String() string {
	if int(p) < len(policyNames) {
		return policyNames[p]
	}
	return fmt.Sprintf("Policy(%d)", p)
}

// ParsePolicy parses a policy name, ignoring case.
func ParsePolicy(s string) (Policy, error) {
	for i, name := range policyNames {
		if strings.EqualFold(s, name) {
			return Policy(i), nil
		}
	}
	return Dynamic, fmt.Errorf("invalid sharing policy %q, options are dynamic, partitioned, threshold", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(text []byte) error {
	v, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Limits computes per-thread entry caps for a structure of numEntries
// entries shared under a policy.
type Limits struct {
	policy     Policy
	numEntries int
	threshold  int
	max        []int
}

// NewLimits creates the caps for numThreads threads, all initially active.
func NewLimits(policy Policy, numEntries, threshold, numThreads int) *Limits {
	l := &Limits{
		policy:     policy,
		numEntries: numEntries,
		threshold:  threshold,
		max:        make([]int, numThreads),
	}

	active := make([]int, numThreads)
	for i := range active {
		active[i] = i
	}
	l.Reset(active)

	return l
}

// Reset recomputes the caps for the given active threads.
func (l *Limits) Reset(active []int) {
	n := max(len(active), 1)
	for _, tid := range active {
		switch l.policy {
		case Dynamic:
			l.max[tid] = l.numEntries
		case Partitioned:
			l.max[tid] = l.numEntries / n
		case Threshold:
			if len(active) == 1 {
				l.max[tid] = l.numEntries
			} else {
				l.max[tid] = min(l.threshold, l.numEntries)
			}
		}
	}
}

// Max returns the cap of thread tid.
func (l *Limits) Max(tid int) int { return l.max[tid] }

// Free returns how many more entries thread tid may take, given how many
// it holds and how many are in use overall. Under every policy a thread is
// bounded both by its own cap and by the space left in the structure, so
// threshold threads compete first come first served for what remains.
func (l *Limits) Free(tid, held, inUse int) int {
	return max(min(l.max[tid]-held, l.numEntries-inUse), 0)
}
