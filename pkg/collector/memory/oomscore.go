package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/srodi/memadvice/pkg/types"
)

// OOMScoreProbe reads /proc/<pid>/oom_score for the monitored process.
type OOMScoreProbe struct {
	pid int
}

// NewOOMScoreProbe returns a probe for pid. A pid <= 0 reads /proc/self.
func NewOOMScoreProbe(pid int) *OOMScoreProbe {
	return &OOMScoreProbe{pid: pid}
}

// Name implements types.Probe.
func (p *OOMScoreProbe) Name() string { return SignalOOMScore }

// Collect implements types.Probe. Anything but a lone integer yields 0.
func (p *OOMScoreProbe) Collect(ctx context.Context) types.RawSignal {
	data, err := procReadFile(procPath(p.pid, "oom_score"))
	if err != nil {
		return unavailable(SignalOOMScore, types.KindInt, err)
	}
	score, err := ParseOOMScore(data)
	if err != nil {
		return unavailable(SignalOOMScore, types.KindInt, err)
	}
	return intSignal(SignalOOMScore, score)
}

// ParseOOMScore accepts a single decimal integer with at most one trailing newline.
func ParseOOMScore(data []byte) (int64, error) {
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" || strings.ContainsAny(text, " \t\r\n") {
		return 0, fmt.Errorf("unexpected oom_score content %q", data)
	}
	score, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing oom_score: %w", err)
	}
	return score, nil
}
