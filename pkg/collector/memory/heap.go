package memory

import (
	"context"
	"runtime"

	"github.com/srodi/memadvice/pkg/types"
)

// heapAllocBytes allows tests to stub the runtime heap query.
var heapAllocBytes = func() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// NativeHeapProbe reports bytes currently allocated on the runtime heap, in kB.
type NativeHeapProbe struct{}

// NewNativeHeapProbe returns a runtime heap probe.
func NewNativeHeapProbe() *NativeHeapProbe {
	return &NativeHeapProbe{}
}

// Name implements types.Probe.
func (p *NativeHeapProbe) Name() string { return SignalNativeHeap }

// Collect implements types.Probe.
func (p *NativeHeapProbe) Collect(ctx context.Context) types.RawSignal {
	return intSignal(SignalNativeHeap, int64(heapAllocBytes()/1024))
}
