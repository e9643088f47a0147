//go:build linux
// +build linux

package memory

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"

	"github.com/srodi/memadvice/pkg/types"
)

// PageFaultCounter owns an eBPF kprobe on handle_mm_fault that counts the
// faults taken by a single process.
type PageFaultCounter struct {
	counts *ebpf.Map
	prog   *ebpf.Program
	hook   link.Link
}

// NewPageFaultCounter loads the counter for pid (the current process when
// pid <= 0). Loading needs CAP_BPF or root and a raised RLIMIT_MEMLOCK on
// older kernels.
func NewPageFaultCounter(pid int) (*PageFaultCounter, error) {
	if pid <= 0 {
		pid = os.Getpid()
	}
	counts, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "mem_faults",
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  8,
		MaxEntries: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("creating fault map: %w", err)
	}

	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:         "count_faults",
		Type:         ebpf.Kprobe,
		License:      "GPL",
		Instructions: faultCounterInsns(counts.FD(), uint32(pid)),
	})
	if err != nil {
		counts.Close()
		return nil, fmt.Errorf("loading fault program: %w", err)
	}

	kp, err := link.Kprobe("handle_mm_fault", prog, nil)
	if err != nil {
		prog.Close()
		counts.Close()
		return nil, fmt.Errorf("attaching handle_mm_fault kprobe failed: %w", err)
	}

	return &PageFaultCounter{counts: counts, prog: prog, hook: kp}, nil
}

// faultCounterInsns filters on the tgid half of bpf_get_current_pid_tgid and
// bumps slot 0 of the array map.
func faultCounterInsns(mapFD int, pid uint32) asm.Instructions {
	return asm.Instructions{
		asm.FnGetCurrentPidTgid.Call(),
		asm.RSh.Imm(asm.R0, 32),
		asm.JNE.Imm(asm.R0, int32(pid), "exit"),
		asm.Mov.Imm(asm.R1, 0),
		asm.StoreMem(asm.RFP, -4, asm.R1, asm.Word),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, -4),
		asm.LoadMapPtr(asm.R1, mapFD),
		asm.FnMapLookupElem.Call(),
		asm.JEq.Imm(asm.R0, 0, "exit"),
		asm.Mov.Imm(asm.R1, 1),
		asm.StoreXAdd(asm.R0, asm.R1, asm.DWord),
		asm.Mov.Imm(asm.R0, 0).WithSymbol("exit"),
		asm.Return(),
	}
}

// Name implements types.Probe.
func (c *PageFaultCounter) Name() string { return SignalPageFaults }

// Collect implements types.Probe and returns the cumulative fault count.
func (c *PageFaultCounter) Collect(ctx context.Context) types.RawSignal {
	var count uint64
	if err := c.counts.Lookup(uint32(0), &count); err != nil {
		return unavailable(SignalPageFaults, types.KindInt, fmt.Errorf("reading fault map: %w", err))
	}
	return intSignal(SignalPageFaults, int64(count))
}

// Close releases the BPF resources.
func (c *PageFaultCounter) Close() error {
	var err error
	if c.hook != nil {
		err = errors.Join(err, c.hook.Close())
	}
	if c.prog != nil {
		err = errors.Join(err, c.prog.Close())
	}
	return errors.Join(err, c.counts.Close())
}
