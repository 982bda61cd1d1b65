// Package kstat provides lightweight atomic counters for kernel event
// accounting, grounded on the teacher's stats package (Counter_t, an
// int64 bumped with atomic.AddInt64, with Stats2String reflecting over a
// counter struct to render it). The teacher gates every increment behind
// a compile-time Stats bool so the counters compile to nothing in a
// production build; this kernel has no such release/debug split, so the
// gate is dropped and the counters are always live.
package kstat

import (
	"fmt"
	"sync/atomic"
)

// Counter is a monotonically increasing event count.
type Counter struct {
	n int64
}

// Inc increments the counter by one.
func (c *Counter) Inc() {
	atomic.AddInt64(&c.n, 1)
}

// Load returns the current count.
func (c *Counter) Load() int64 {
	return atomic.LoadInt64(&c.n)
}

// Syscalls counts dispatched syscalls, one counter slot per syscall
// number, for the scall.Dispatcher to bump on every call.
type Syscalls struct {
	counts []Counter
}

// NewSyscalls allocates a counter bank sized for n distinct syscall
// numbers.
func NewSyscalls(n int) *Syscalls {
	return &Syscalls{counts: make([]Counter, n)}
}

// Inc bumps the counter for syscall number num.
func (s *Syscalls) Inc(num int) {
	if num < 0 || num >= len(s.counts) {
		return
	}
	s.counts[num].Inc()
}

// Total returns the call count for syscall number num.
func (s *Syscalls) Total(num int) int64 {
	if num < 0 || num >= len(s.counts) {
		return 0
	}
	return s.counts[num].Load()
}

// String renders every nonzero counter, one per line, in the style of
// the teacher's Stats2String.
func (s *Syscalls) String() string {
	out := ""
	for i, c := range s.counts {
		if n := c.Load(); n != 0 {
			out += fmt.Sprintf("\n\t#%d: %d", i, n)
		}
	}
	return out + "\n"
}
