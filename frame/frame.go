// Package frame implements the physical-frame allocator: a fixed array of
// page-sized frame descriptors, each carrying a reference count, linked
// into a free list via ilist.
//
// Grounded on the teacher's mem.Physmem_t (mem/mem.go), narrowed from its
// per-CPU free-list sharding (this kernel is single-CPU, spec.md §5) down
// to one global free list, and from the teacher's raw nexti index chain
// to the shared ilist.List so the free-list policy (spec.md §4.1: strict
// FIFO, insert tail / pop head) is expressed once instead of duplicated
// per component.
package frame

import (
	"exomips/addr"
	"exomips/errno"
	"exomips/ilist"
)

// Frame is one physical page's metadata.
type Frame struct {
	Refcnt uint16
	link   ilist.Node
}

// Table is the physical-frame allocator. The zero value is not usable;
// construct with New.
type Table struct {
	frames []Frame
	free   *ilist.List
	start  addr.PhysPageNum // page number of frames[0]
	zero   [addr.PageSize]byte
	// read exposes the backing store for a frame's bytes; supplied by the
	// caller since only the boot wiring knows how physical frames map
	// into this process's address space (see boot.New).
	read func(addr.PhysPageNum) *[addr.PageSize]byte
}

// New builds a frame table covering nframes frames starting at physical
// page number start. read must return a pointer to the byte storage of the
// frame whose page number it is given; it is the seam the boot package uses to back frames with
// real memory (or, in tests, with a plain Go slice).
func New(start addr.PhysPageNum, nframes int, read func(addr.PhysPageNum) *[addr.PageSize]byte) *Table {
	t := &Table{
		frames: make([]Frame, nframes),
		start:  start,
		read:   read,
	}
	t.free = ilist.New(func(idx int32) *ilist.Node { return &t.frames[idx].link })
	for i := range t.frames {
		t.free.PushTail(int32(i))
	}
	return t
}

// Reserve marks [start, start+count) as permanently used (refcount 1),
// removing them from the free list. Spec.md §3: "the first 'used' region
// ... is marked with refcount 1 at init so it is never reclaimed." count
// is silently clipped to the table if it runs past the end.
func (t *Table) Reserve(start addr.PhysPageNum, count int) {
	for i := 0; i < count; i++ {
		idx := t.index(start) + int32(i)
		if idx < 0 || int(idx) >= len(t.frames) {
			return
		}
		if t.frames[idx].Refcnt == 0 {
			t.free.Remove(idx)
		}
		t.frames[idx].Refcnt = 1
	}
}

func (t *Table) index(ppn addr.PhysPageNum) int32 {
	return int32(ppn - t.start)
}

func (t *Table) ppn(idx int32) addr.PhysPageNum {
	return t.start + addr.PhysPageNum(idx)
}

func (t *Table) inRange(ppn addr.PhysPageNum) bool {
	idx := t.index(ppn)
	return idx >= 0 && int(idx) < len(t.frames)
}

// Alloc removes the head of the free list, zeroes the frame, and returns
// its page number with refcount still 0 — the caller is expected to call
// Incref once it installs the frame somewhere, matching the teacher's
// convention that Refpg_new returns a page whose "refcount is not
// incremented" (mem/mem.go).
func (t *Table) Alloc() (addr.PhysPageNum, errno.Errno) {
	idx := t.free.PopHead()
	if idx == ilist.None {
		return 0, errno.NoMem
	}
	ppn := t.ppn(idx)
	*t.read(ppn) = t.zero
	return ppn, errno.Ok
}

// Dealloc returns a frame to the tail of the free list. It panics if the
// frame's refcount is not exactly 0 (spec.md §4.1: "dealloc(ppn): requires
// refcount 0"), the same invariant-violation-is-a-kernel-bug stance the
// teacher takes on a negative refcount in Physmem_t.Refup/_refdec.
func (t *Table) Dealloc(ppn addr.PhysPageNum) {
	if !t.inRange(ppn) {
		panic("frame: dealloc out of range")
	}
	idx := t.index(ppn)
	f := &t.frames[idx]
	if f.Refcnt != 0 {
		panic("frame: dealloc of live frame")
	}
	if t.onFreeList(idx) {
		panic("frame: dealloc of already-free frame")
	}
	t.free.PushTail(idx)
}

// onFreeList reports whether idx is currently linked into the free list.
// A frame handed out by Alloc has refcount 0 but is no longer linked.
func (t *Table) onFreeList(idx int32) bool {
	n := &t.frames[idx].link
	return n.Prev != ilist.None || n.Next != ilist.None || t.free.Head() == idx
}

// Incref increments a frame's reference count, removing it from the free
// list the first time it becomes live (a frame already taken off the list
// by Alloc is left as it is).
func (t *Table) Incref(ppn addr.PhysPageNum) {
	if !t.inRange(ppn) {
		panic("frame: incref out of range")
	}
	idx := t.index(ppn)
	f := &t.frames[idx]
	if f.Refcnt == 0 && t.onFreeList(idx) {
		t.free.Remove(idx)
	}
	f.Refcnt++
}

// Decref decrements a frame's reference count and automatically
// deallocates it when the count reaches 0, returning true in that case.
func (t *Table) Decref(ppn addr.PhysPageNum) bool {
	if !t.inRange(ppn) {
		panic("frame: decref out of range")
	}
	idx := t.index(ppn)
	f := &t.frames[idx]
	if f.Refcnt == 0 {
		panic("frame: decref of already-free frame")
	}
	f.Refcnt--
	if f.Refcnt == 0 {
		t.free.PushTail(idx)
		return true
	}
	return false
}

// Refcnt reports the current reference count of a frame.
func (t *Table) Refcnt(ppn addr.PhysPageNum) int {
	if !t.inRange(ppn) {
		panic("frame: refcnt out of range")
	}
	return int(t.frames[t.index(ppn)].Refcnt)
}

// Bytes returns the byte storage backing a frame, for direct kernel
// access (e.g. copying an ELF segment's file image into a freshly
// allocated frame).
func (t *Table) Bytes(ppn addr.PhysPageNum) *[addr.PageSize]byte {
	if !t.inRange(ppn) {
		panic("frame: bytes out of range")
	}
	return t.read(ppn)
}

// NumFrames returns the total number of frames under management.
func (t *Table) NumFrames() int {
	return len(t.frames)
}

// NumFree returns the number of frames currently on the free list.
func (t *Table) NumFree() int {
	return t.free.Len()
}

// Start returns the page number of the first frame under management, the
// base the UPAGES window's index arithmetic is relative to.
func (t *Table) Start() addr.PhysPageNum {
	return t.start
}
