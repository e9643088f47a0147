package report

import (
	"fmt"
	"strings"

	"github.com/srodi/memadvice/pkg/types"
)

// DefaultOOMScoreCriticalThreshold is the oom_score above which a process is
// considered about to be killed.
const DefaultOOMScoreCriticalThreshold = 650

// Reason labels for the signals that drove a classification.
const (
	ReasonOOMScore      = "oom-score"
	ReasonOverCommitted = "over-committed"
	ReasonLowMemory     = "low-memory"
)

// Signals holds the three boolean inputs to the fusion rule.
type Signals struct {
	OOMCritical   bool
	OverCommitted bool
	LowMemory     bool
}

// Evaluate derives the fusion inputs from a sample.
func Evaluate(sample types.MemorySample, oomThreshold int64) Signals {
	return Signals{
		OOMCritical:   sample.OOMScore > oomThreshold,
		OverCommitted: overCommitted(sample),
		LowMemory:     sample.LowMemory,
	}
}

// overCommitted is false when CommitLimit is missing.
func overCommitted(sample types.MemorySample) bool {
	limit, ok := sample.MeminfoValue("CommitLimit")
	if !ok {
		return false
	}
	return sample.NativeHeapAllocatedKb > limit
}

// Severity applies most-severe-wins: either strong signal is critical, the
// platform flag alone is approaching the limit.
func (s Signals) Severity() types.Severity {
	switch {
	case s.OOMCritical || s.OverCommitted:
		return types.SeverityCritical
	case s.LowMemory:
		return types.SeverityApproachingLimit
	default:
		return types.SeverityOK
	}
}

// Reasons lists the triggered signals, most severe first.
func (s Signals) Reasons() []string {
	var reasons []string
	if s.OOMCritical {
		reasons = append(reasons, ReasonOOMScore)
	}
	if s.OverCommitted {
		reasons = append(reasons, ReasonOverCommitted)
	}
	if s.LowMemory {
		reasons = append(reasons, ReasonLowMemory)
	}
	return reasons
}

// Classify maps a sample to its ordered severity. It is total and pure.
func Classify(sample types.MemorySample, oomThreshold int64) types.Severity {
	return Evaluate(sample, oomThreshold).Severity()
}

// AvailableKb returns MemAvailable from the sample, or 0 when absent.
func AvailableKb(sample types.MemorySample) int64 {
	v, _ := sample.MeminfoValue("MemAvailable")
	return v
}

// PercentAvailable returns MemAvailable as a percentage of MemTotal.
func PercentAvailable(sample types.MemorySample) float64 {
	total, ok := sample.MeminfoValue("MemTotal")
	if !ok || total <= 0 {
		return 0
	}
	return 100 * float64(AvailableKb(sample)) / float64(total)
}

// Summary returns a short explanation for a status line.
func Summary(state types.State, sample types.MemorySample, reasons []string) string {
	var b strings.Builder
	b.WriteString(state.String())
	if len(reasons) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(reasons, ", "))
	}
	fmt.Fprintf(&b, " - oom_score %d, heap %d kB", sample.OOMScore, sample.NativeHeapAllocatedKb)
	if limit, ok := sample.MeminfoValue("CommitLimit"); ok {
		fmt.Fprintf(&b, " of %d kB commit limit", limit)
	}
	if state.TrimLevel > 0 {
		fmt.Fprintf(&b, ", trim level %d", state.TrimLevel)
	}
	if len(sample.Unavailable) > 0 {
		fmt.Fprintf(&b, " [unavailable: %s]", strings.Join(sample.Unavailable, ","))
	}
	return b.String()
}
