package types

import (
	"context"
	"time"
)

// Android trim levels as delivered by the host platform's trim callback.
const (
	TrimRunningModerate = 5
	TrimRunningLow      = 10
	TrimRunningCritical = 15
	TrimUIHidden        = 20
	TrimBackground      = 40
	TrimModerate        = 60
	TrimComplete        = 80
)

// SignalKind tells which value field of a RawSignal is populated.
type SignalKind int

const (
	KindInt SignalKind = iota
	KindFlag
	KindTable
)

// RawSignal is one typed measurement produced by a probe.
type RawSignal struct {
	Name      string
	Kind      SignalKind
	Int       int64
	Flag      bool
	Table     map[string]int64
	Available bool
	Err       error
}

// Probe reads a single OS-level signal. Implementations never fail outright:
// on error they return the signal's default with Available unset.
type Probe interface {
	Name() string
	Collect(ctx context.Context) RawSignal
}

// MemorySample is a snapshot of every signal taken at one instant. Callers
// must not modify Meminfo.
type MemorySample struct {
	OOMScore              int64            `yaml:"oomScore"`
	LowMemory             bool             `yaml:"lowMemory"`
	Meminfo               map[string]int64 `yaml:"meminfo"`
	NativeHeapAllocatedKb int64            `yaml:"nativeHeapAllocatedKb"`
	PageFaults            uint64           `yaml:"pageFaults,omitempty"`
	Timestamp             time.Time        `yaml:"timestamp"`
	Duration              time.Duration    `yaml:"duration"`
	Unavailable           []string         `yaml:"unavailable,omitempty"`
}

// MeminfoValue returns a meminfo entry in kB.
func (s MemorySample) MeminfoValue(label string) (int64, bool) {
	v, ok := s.Meminfo[label]
	return v, ok
}

// Severity orders memory risk from least to most severe.
type Severity int

const (
	// SeverityUnknown means no classification has been made yet.
	SeverityUnknown Severity = iota
	SeverityOK
	SeverityApproachingLimit
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "OK"
	case SeverityApproachingLimit:
		return "APPROACHING_LIMIT"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText lets Severity render by name in YAML and JSON.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State combines the ordered severity with the orthogonal background flag.
// TrimLevel is informational and does not take part in transition detection.
type State struct {
	Severity     Severity `yaml:"severity"`
	Backgrounded bool     `yaml:"backgrounded"`
	TrimLevel    int      `yaml:"trimLevel,omitempty"`
}

// SameAs reports whether two states are equal for transition purposes.
func (s State) SameAs(other State) bool {
	return s.Severity == other.Severity && s.Backgrounded == other.Backgrounded
}

func (s State) String() string {
	if s.Backgrounded {
		return s.Severity.String() + "+BACKGROUNDED"
	}
	return s.Severity.String()
}

// Advice is the on-demand answer of an advisor: the fresh sample plus what was
// derived from it.
type Advice struct {
	Sample           MemorySample `yaml:"sample"`
	State            State        `yaml:"state"`
	Reasons          []string     `yaml:"reasons,omitempty"`
	AvailableKb      int64        `yaml:"availableKb"`
	PercentAvailable float64      `yaml:"percentAvailable"`
}
