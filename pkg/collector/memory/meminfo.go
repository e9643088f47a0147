package memory

import (
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/srodi/memadvice/pkg/types"
)

// MeminfoProbe reads the kernel-wide /proc/meminfo table.
type MeminfoProbe struct{}

// NewMeminfoProbe returns a probe over /proc/meminfo.
func NewMeminfoProbe() *MeminfoProbe {
	return &MeminfoProbe{}
}

// Name implements types.Probe.
func (p *MeminfoProbe) Name() string { return SignalMeminfo }

// Collect implements types.Probe. A read failure yields an empty table.
func (p *MeminfoProbe) Collect(ctx context.Context) types.RawSignal {
	data, err := procReadFile(filepath.Join(procRoot, "meminfo"))
	if err != nil {
		return unavailable(SignalMeminfo, types.KindTable, err)
	}
	return tableSignal(SignalMeminfo, ParseMeminfo(data))
}

// ParseMeminfo turns meminfo text into a label -> value map. Lines must look
// like "<label>:<spaces><digits><anything>"; others are skipped. A repeated
// label keeps its last value.
func ParseMeminfo(data []byte) map[string]int64 {
	table := make(map[string]int64)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		label, value, ok := parseMeminfoLine(scanner.Text())
		if !ok {
			continue
		}
		table[label] = value
	}
	return table
}

func parseMeminfoLine(line string) (string, int64, bool) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", 0, false
	}
	label := line[:idx]
	rest := strings.TrimLeft(line[idx+1:], " \t")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return "", 0, false
	}
	value, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return label, value, true
}
