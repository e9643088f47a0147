package memory

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/srodi/memadvice/pkg/types"
)

// Signal names reported by the probes in this package.
const (
	SignalOOMScore   = "oom_score"
	SignalLowMemory  = "low_memory"
	SignalMeminfo    = "meminfo"
	SignalNativeHeap = "native_heap_kb"
	SignalPageFaults = "page_faults"
)

// procReadFile allows tests to stub reads under /proc.
var procReadFile = os.ReadFile

// procRoot is where procfs is mounted.
var procRoot = "/proc"

func procPath(pid int, name string) string {
	if pid <= 0 {
		return filepath.Join(procRoot, "self", name)
	}
	return filepath.Join(procRoot, strconv.Itoa(pid), name)
}

func intSignal(name string, v int64) types.RawSignal {
	return types.RawSignal{Name: name, Kind: types.KindInt, Int: v, Available: true}
}

func flagSignal(name string, v bool) types.RawSignal {
	return types.RawSignal{Name: name, Kind: types.KindFlag, Flag: v, Available: true}
}

func tableSignal(name string, v map[string]int64) types.RawSignal {
	return types.RawSignal{Name: name, Kind: types.KindTable, Table: v, Available: true}
}

// unavailable returns the documented default for a probe kind.
func unavailable(name string, kind types.SignalKind, err error) types.RawSignal {
	sig := types.RawSignal{Name: name, Kind: kind, Err: err}
	if kind == types.KindTable {
		sig.Table = map[string]int64{}
	}
	return sig
}

// Unavailable exposes the default signal for callers that abandon a probe,
// e.g. on timeout.
func Unavailable(name string, kind types.SignalKind, err error) types.RawSignal {
	return unavailable(name, kind, err)
}
