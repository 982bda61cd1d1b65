// Package limits centralizes the kernel's fixed resource ceilings and
// provides an atomically-updated counter for tracking consumption
// against them, grounded on the teacher's limits package (Syslimit_t,
// Sysatomic_t.Taken/Given) but reduced from biscuit's dozen
// dynamically-sized subsystems (vnodes, futexes, arp entries, routes...)
// to the handful this kernel actually bounds: environments, address
// space identifiers, shared memory segments and their backing pages, and
// numbered semaphores.
package limits

import "sync/atomic"

// Syslimit collects the kernel's fixed table sizes in one place. envtab,
// shm and sem declare their own constants with the same values and do
// not read Syslimit.
var Syslimit = struct {
	Envs      int
	ASIDs     int
	ShmSegs   int
	ShmBlocks int
	Sems      int
}{
	Envs:      1024,
	ASIDs:     256,
	ShmSegs:   128,
	ShmBlocks: 4096,
	Sems:      128,
}

// Counter is a resource counter that can be atomically taken and given
// back, reporting failure instead of going negative.
type Counter struct {
	n     int64
	limit int64
}

// NewCounter returns a Counter that allows up to limit units outstanding.
func NewCounter(limit int) *Counter {
	return &Counter{limit: int64(limit)}
}

// Take reserves one unit, returning false and leaving the counter
// unchanged if the limit is already reached.
func (c *Counter) Take() bool {
	if atomic.AddInt64(&c.n, 1) > c.limit {
		atomic.AddInt64(&c.n, -1)
		return false
	}
	return true
}

// Give releases one previously taken unit.
func (c *Counter) Give() {
	atomic.AddInt64(&c.n, -1)
}

// InUse reports the number of units currently taken.
func (c *Counter) InUse() int {
	return int(atomic.LoadInt64(&c.n))
}
