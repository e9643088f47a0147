package ui

import (
	"fmt"
	"strings"

	"github.com/srodi/memadvice/pkg/types"
)

const (
	reset       = "\033[0m"
	bold        = "\033[1m"
	dim         = "\033[2m"
	outlineGray = "\033[38;5;244m"
	mint        = "\033[38;5;121m"
	seafoam     = "\033[38;5;49m"
	cobalt      = "\033[38;5;33m"
	deepIndigo  = "\033[38;5;61m"
	fuchsia     = "\033[38;5;177m"
	honeyOrange = "\033[38;5;214m"
	alarmRed    = "\033[38;5;196m"
)

// Banner renders a colored memadvice wordmark.
func Banner() string {
	var b strings.Builder

	letters := [][]string{
		{"███╗   ███╗", "████╗ ████║", "██╔████╔██║", "██║╚██╔╝██║", "██║ ╚═╝ ██║", "╚═╝     ╚═╝"},
		{"███████╗", "██╔════╝", "█████╗  ", "██╔══╝  ", "███████╗", "╚══════╝"},
		{"███╗   ███╗", "████╗ ████║", "██╔████╔██║", "██║╚██╔╝██║", "██║ ╚═╝ ██║", "╚═╝     ╚═╝"},
	}
	gradient := []string{seafoam, cobalt, fuchsia}
	rows := make([]string, len(letters[0]))
	for i, letter := range letters {
		color := gradient[i%len(gradient)]
		for row := 0; row < len(letter); row++ {
			rows[row] += color + letter[row] + "  "
		}
	}
	for _, line := range rows {
		b.WriteString(bold + line + reset + "\n")
	}

	b.WriteString("\n")
	b.WriteString(bold + seafoam + "memadvice" + reset + "  •  memory pressure advisor\n\n")

	return b.String()
}

// severityColor maps a severity to its display color.
func severityColor(s types.Severity) string {
	switch s {
	case types.SeverityOK:
		return mint
	case types.SeverityApproachingLimit:
		return honeyOrange
	case types.SeverityCritical:
		return alarmRed
	default:
		return outlineGray
	}
}

// StateLine renders one colored status line: the state, an optional
// background marker and the summary text.
func StateLine(state types.State, summary string) string {
	var b strings.Builder
	b.WriteString(bold + severityColor(state.Severity) + state.Severity.String() + reset)
	if state.Backgrounded {
		b.WriteString(" " + deepIndigo + "[backgrounded]" + reset)
	}
	if state.TrimLevel > 0 {
		fmt.Fprintf(&b, " %strim=%d%s", dim, state.TrimLevel, reset)
	}
	if summary != "" {
		b.WriteString("  " + summary)
	}
	return b.String()
}
