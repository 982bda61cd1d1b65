// Package kfmt renders kernel debug and panic output: environment
// dumps, frame-table statistics, and generic tables, with numbers grouped
// for readability the way a serial console transcript is actually read
// back by a human (spec.md §6 "debug dump format").
//
// Grounded on the teacher's chentry host tool (kernel/chentry.go), which
// formats its own diagnostics with plain fmt.Printf/log.Fatal; this
// package keeps that "format then act" shape for Panic but swaps in
// golang.org/x/text/message for digit grouping where the teacher uses
// %d unadorned, since this kernel's human-facing dumps (frame counts
// into the tens of thousands, syscall-call counters) are where that
// grouping actually earns its keep.
package kfmt

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Count renders n with thousands separators, e.g. Count(16384) -> "16,384".
func Count(n int) string {
	return printer.Sprintf("%d", n)
}

// EnvSummary formats one line of an environment-table dump.
func EnvSummary(id uint32, asid uint8, status string, priority int, runs uint64) string {
	return printer.Sprintf("env %#06x  asid=%-3d  status=%-12s  prio=%-3d  runs=%s",
		id, asid, status, priority, Count(int(runs)))
}

// FrameStats formats a one-line summary of the frame allocator's state.
func FrameStats(total, free int) string {
	used := total - free
	pct := 0.0
	if total > 0 {
		pct = float64(used) * 100 / float64(total)
	}
	return printer.Sprintf("frames: %s/%s in use (%.1f%%)", Count(used), Count(total), pct)
}

// Panic renders a kernel panic banner consistently, then itself panics
// with the formatted message so callers get a single call to make.
func Panic(format string, args ...any) {
	msg := printer.Sprintf(format, args...)
	panic("kernel panic: " + msg)
}

// Table renders rows of equal-width-column text, used for the env table
// and shm/sem dumps emitted on demand over the console.
func Table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			fmt.Fprintf(&b, "%-*s  ", w, cell)
		}
		b.WriteByte('\n')
	}
	writeRow(header)
	for _, row := range rows {
		writeRow(row)
	}
	return b.String()
}
