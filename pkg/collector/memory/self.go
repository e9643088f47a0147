package memory

import (
	"fmt"
	"strings"

	"github.com/prometheus/procfs"
)

// Process identifies the monitored process.
type Process struct {
	PID  int
	Comm string
}

// Self resolves the current process through procfs. The comm falls back to
// "pid-N" when it cannot be read.
func Self() (Process, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return Process{}, fmt.Errorf("opening procfs at %s: %w", procRoot, err)
	}
	proc, err := fs.Self()
	if err != nil {
		return Process{}, fmt.Errorf("resolving self process: %w", err)
	}
	comm, err := proc.Comm()
	comm = strings.TrimSpace(comm)
	if err != nil || comm == "" {
		comm = fmt.Sprintf("pid-%d", proc.PID)
	}
	return Process{PID: proc.PID, Comm: comm}, nil
}
