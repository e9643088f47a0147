package memory

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/srodi/memadvice/pkg/types"
)

// virtualMemory allows tests to stub the platform memory-status query.
var virtualMemory = mem.VirtualMemoryWithContext

// LowMemoryProbe reports the system-wide low-memory flag: available memory
// below a fraction of total RAM.
type LowMemoryProbe struct {
	fraction float64
}

// NewLowMemoryProbe returns a probe raising the flag once available memory
// drops under fraction*total.
func NewLowMemoryProbe(fraction float64) *LowMemoryProbe {
	return &LowMemoryProbe{fraction: fraction}
}

// Name implements types.Probe.
func (p *LowMemoryProbe) Name() string { return SignalLowMemory }

// Collect implements types.Probe. Failure reports false.
func (p *LowMemoryProbe) Collect(ctx context.Context) types.RawSignal {
	vm, err := virtualMemory(ctx)
	if err != nil {
		return unavailable(SignalLowMemory, types.KindFlag, fmt.Errorf("querying virtual memory: %w", err))
	}
	if vm == nil || vm.Total == 0 {
		return unavailable(SignalLowMemory, types.KindFlag, fmt.Errorf("total memory unknown"))
	}
	threshold := uint64(float64(vm.Total) * p.fraction)
	return flagSignal(SignalLowMemory, vm.Available < threshold)
}
