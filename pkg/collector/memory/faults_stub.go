//go:build !linux
// +build !linux

package memory

import (
	"context"
	"errors"

	"github.com/srodi/memadvice/pkg/types"
)

var errUnsupported = errors.New("page fault counter requires linux")

// PageFaultCounter is a placeholder on non-Linux platforms.
type PageFaultCounter struct{}

// NewPageFaultCounter returns an error because eBPF is only supported on Linux.
func NewPageFaultCounter(pid int) (*PageFaultCounter, error) {
	return nil, errUnsupported
}

// Name implements types.Probe.
func (c *PageFaultCounter) Name() string { return SignalPageFaults }

// Collect always reports the probe as unavailable.
func (c *PageFaultCounter) Collect(ctx context.Context) types.RawSignal {
	return unavailable(SignalPageFaults, types.KindInt, errUnsupported)
}

// Close is a no-op stub.
func (c *PageFaultCounter) Close() error {
	return nil
}
