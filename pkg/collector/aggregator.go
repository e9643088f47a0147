// Package collector assembles the individual memory probes into one sample.
package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/srodi/memadvice/pkg/collector/memory"
	"github.com/srodi/memadvice/pkg/types"
)

// DefaultProbeTimeout bounds a single probe when no timeout is configured.
const DefaultProbeTimeout = 200 * time.Millisecond

// ProbeSet names the probes feeding each sample field. PageFaults is optional.
type ProbeSet struct {
	OOMScore   types.Probe
	LowMemory  types.Probe
	Meminfo    types.Probe
	NativeHeap types.Probe
	PageFaults types.Probe
}

// DefaultProbes builds the standard probes for pid.
func DefaultProbes(pid int, lowMemoryFraction float64) ProbeSet {
	return ProbeSet{
		OOMScore:   memory.NewOOMScoreProbe(pid),
		LowMemory:  memory.NewLowMemoryProbe(lowMemoryFraction),
		Meminfo:    memory.NewMeminfoProbe(),
		NativeHeap: memory.NewNativeHeapProbe(),
	}
}

// Aggregator calls every probe once per Collect.
type Aggregator struct {
	probes  ProbeSet
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithProbeTimeout sets the per-probe bound.
func WithProbeTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger used for probe diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAggregator returns an aggregator over probes. Missing mandatory probes
// always report their defaults.
func NewAggregator(probes ProbeSet, opts ...Option) *Aggregator {
	a := &Aggregator{
		probes:  probes,
		timeout: DefaultProbeTimeout,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Collect reads every probe and assembles a sample. It never fails; probes
// that error, time out or panic contribute their defaults and are listed in
// Unavailable.
func (a *Aggregator) Collect(ctx context.Context) types.MemorySample {
	start := a.now()
	sample := types.MemorySample{Timestamp: start}

	oom := a.read(ctx, a.probes.OOMScore, memory.SignalOOMScore, types.KindInt)
	sample.OOMScore = oom.Int

	low := a.read(ctx, a.probes.LowMemory, memory.SignalLowMemory, types.KindFlag)
	sample.LowMemory = low.Flag

	info := a.read(ctx, a.probes.Meminfo, memory.SignalMeminfo, types.KindTable)
	sample.Meminfo = info.Table

	heap := a.read(ctx, a.probes.NativeHeap, memory.SignalNativeHeap, types.KindInt)
	sample.NativeHeapAllocatedKb = heap.Int

	signals := []types.RawSignal{oom, low, info, heap}
	if a.probes.PageFaults != nil {
		faults := a.read(ctx, a.probes.PageFaults, memory.SignalPageFaults, types.KindInt)
		if faults.Int > 0 {
			sample.PageFaults = uint64(faults.Int)
		}
		signals = append(signals, faults)
	}

	for _, sig := range signals {
		if !sig.Available {
			sample.Unavailable = append(sample.Unavailable, sig.Name)
			a.logger.Debug("probe unavailable", zap.String("probe", sig.Name), zap.Error(sig.Err))
		}
	}
	sample.Duration = a.now().Sub(start)
	return sample
}

type probeResult struct {
	sig types.RawSignal
}

// read runs one probe under the per-probe timeout. A probe that overruns is
// left to finish on its own goroutine and its result is discarded.
func (a *Aggregator) read(ctx context.Context, p types.Probe, name string, kind types.SignalKind) types.RawSignal {
	if p == nil {
		return memory.Unavailable(name, kind, fmt.Errorf("no %s probe configured", name))
	}

	probeCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan probeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probeResult{sig: memory.Unavailable(name, kind, fmt.Errorf("probe %s panicked: %v", name, r))}
			}
		}()
		done <- probeResult{sig: p.Collect(probeCtx)}
	}()

	select {
	case res := <-done:
		return normalize(res.sig, name, kind)
	case <-probeCtx.Done():
		return memory.Unavailable(name, kind, fmt.Errorf("probe %s: %w", name, probeCtx.Err()))
	}
}

// normalize enforces the documented default for signals of the wrong kind or
// without a value.
func normalize(sig types.RawSignal, name string, kind types.SignalKind) types.RawSignal {
	if sig.Kind != kind {
		return memory.Unavailable(name, kind, fmt.Errorf("probe %s returned kind %d, want %d", name, sig.Kind, kind))
	}
	if sig.Name == "" {
		sig.Name = name
	}
	if kind == types.KindTable && sig.Table == nil {
		sig.Table = map[string]int64{}
	}
	return sig
}
