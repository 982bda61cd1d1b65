// Package pagetable implements the per-address-space two-level software
// page table: a 1024-entry page directory, each valid entry pointing to a
// 1024-entry second-level table (spec.md §3, §4.2).
//
// Grounded on the teacher's vm.Vm_t page-table operations (vm/as.go:
// Page_insert/Page_remove/Sys_pgfault) and walk-style helper in the
// sibling gopheros reference (kernel/mem/vmm/walk.go), adapted from their
// 4-level hardware-walked x86 tables down to the spec's 2-level,
// software-walked MIPS layout (10 bits directory index / 10 bits table
// index / 12 bits page offset).
package pagetable

import (
	"unsafe"

	"exomips/addr"
	"exomips/errno"
	"exomips/frame"
	"exomips/pte"
)

const (
	dirShift = 22
	ptShift  = addr.PageShift
	idxMask  = 0x3FF
)

func dirIndex(va addr.VirtAddr) uint32 { return (uint32(va) >> dirShift) & idxMask }
func ptIndex(va addr.VirtAddr) uint32  { return (uint32(va) >> ptShift) & idxMask }

// pteTable reinterprets a frame's byte storage as 1024 page table entries,
// the same unsafe reinterpretation the teacher uses to view a page of
// bytes as a Pmap_t (mem/mem.go: pg2pmap).
func pteTable(bytes *[addr.PageSize]byte) *[1024]pte.PTE {
	return (*[1024]pte.PTE)(unsafe.Pointer(bytes))
}

// Invalidator matches the TLB gateway's invalidate-by-ASID+VA call. It is
// injected rather than imported so this package has no dependency on the
// tlb package.
type Invalidator func(asid uint8, va addr.VirtAddr)

// Table is one address space's page directory together with the shared
// frame allocator and TLB invalidation hook it needs to operate.
type Table struct {
	frames     *frame.Table
	invalidate Invalidator
	dir        addr.PhysPageNum
}

// New wraps an already-allocated, already-initialized directory frame.
// Callers (envtab.Alloc) are responsible for allocating dirPPN and
// installing the kernel portion of the directory before use.
func New(frames *frame.Table, invalidate Invalidator, dirPPN addr.PhysPageNum) *Table {
	return &Table{frames: frames, invalidate: invalidate, dir: dirPPN}
}

// Dir returns the page directory's frame number, e.g. for installing the
// UVPT self-map entry.
func (t *Table) Dir() addr.PhysPageNum {
	return t.dir
}

func (t *Table) dirEntries() *[1024]pte.PTE {
	return pteTable(t.frames.Bytes(t.dir))
}

// Walk returns a pointer to the PTE slot for va, allocating a second-level
// table (incref'd against the frame allocator) if create is set and the
// directory slot is empty. It returns NotMapped if create is false and no
// second-level table exists yet for va.
func (t *Table) Walk(va addr.VirtAddr, create bool) (*pte.PTE, errno.Errno) {
	dirEnt := &t.dirEntries()[dirIndex(va)]
	if !dirEnt.Valid() {
		if !create {
			return nil, errno.NotMapped
		}
		ptFrame, err := t.frames.Alloc()
		if err != errno.Ok {
			return nil, err
		}
		t.frames.Incref(ptFrame)
		*dirEnt = pte.Make(ptFrame, pte.V)
	}
	table := pteTable(t.frames.Bytes(dirEnt.PPN()))
	return &table[ptIndex(va)], errno.Ok
}

// DirEntry returns a pointer to the top-level directory slot that would
// hold va's second-level table, without walking into that table. Used by
// envtab to install the UVPT self-map, which targets the directory slot
// itself rather than anything a second-level table would hold.
func (t *Table) DirEntry(va addr.VirtAddr) *pte.PTE {
	return &t.dirEntries()[dirIndex(va)]
}

// Lookup finds the mapping for va without creating anything. It fails
// with NotMapped if there is no second-level table, or if the PTE found
// is not valid.
func (t *Table) Lookup(va addr.VirtAddr) (addr.PhysPageNum, pte.PTE, errno.Errno) {
	p, err := t.Walk(va, false)
	if err != errno.Ok {
		return 0, 0, err
	}
	if !p.Valid() {
		return 0, 0, errno.NotMapped
	}
	return p.PPN(), *p, errno.Ok
}

// Insert maps ppn at va with the given ASID's TLB entries kept coherent.
// If a valid mapping already exists for va pointing at the same ppn, only
// permissions are updated (idempotent re-insert, spec.md §8 "insert of
// the same (va, ppn) twice leaves refcount = 1"). Otherwise any existing
// mapping is torn down first, the new frame is incref'd, and
// PTE(ppn, perm|V|C_CACHEABLE) installed. The TLB entry for (va, asid) is
// always invalidated before the install so the next access goes through
// refill.
func (t *Table) Insert(asid uint8, ppn addr.PhysPageNum, va addr.VirtAddr, perm pte.Flag) errno.Errno {
	slot, err := t.Walk(va, true)
	if err != errno.Ok {
		return err
	}
	if slot.Valid() && slot.PPN() == ppn {
		t.invalidate(asid, va)
		*slot = pte.Make(ppn, perm|pte.V|pte.CCacheable)
		return errno.Ok
	}
	t.invalidate(asid, va)
	if slot.Valid() {
		t.frames.Decref(slot.PPN())
	}
	t.frames.Incref(ppn)
	*slot = pte.Make(ppn, perm|pte.V|pte.CCacheable)
	return errno.Ok
}

// Remove unmaps va, decrefing the frame it pointed to. It is a silent
// no-op if va has no mapping.
func (t *Table) Remove(asid uint8, va addr.VirtAddr) {
	slot, err := t.Walk(va, false)
	if err != errno.Ok || !slot.Valid() {
		t.invalidate(asid, va)
		return
	}
	t.frames.Decref(slot.PPN())
	*slot = 0
	t.invalidate(asid, va)
}

// Translate is a pure lookup with no side effects, used by user-memory
// copy helpers and debug inspection.
func (t *Table) Translate(va addr.VirtAddr) (addr.PhysAddr, bool) {
	ppn, _, err := t.Lookup(va)
	if err != errno.Ok {
		return 0, false
	}
	return addr.PhysAddr(uint32(ppn.Addr()) | va.Offset()), true
}

// MapSegment installs a range of identity-style mappings; used only at
// boot for kernel mappings. pa, va, and size must be page aligned.
func (t *Table) MapSegment(asid uint8, pa addr.PhysAddr, va addr.VirtAddr, size uint32, perm pte.Flag) errno.Errno {
	if pa.Offset() != 0 || !va.Aligned() || size%addr.PageSize != 0 {
		return errno.Inval
	}
	for off := uint32(0); off < size; off += addr.PageSize {
		ppn := (pa + addr.PhysAddr(off)).PageNum()
		if err := t.Insert(asid, ppn, va+addr.VirtAddr(off), perm); err != errno.Ok {
			return err
		}
	}
	return errno.Ok
}

// PassiveAlloc implements the TLB-refill passive allocation policy of
// spec.md §4.2: classify the faulting address, panic on any address a
// well-behaved user program should never generate, or install a fresh
// zeroed frame otherwise.
func (t *Table) PassiveAlloc(va addr.VirtAddr, asid uint8) errno.Errno {
	switch addr.Classify(va) {
	case addr.RegionTooLow:
		panic("address too low")
	case addr.RegionStackGuard:
		panic("stack guard")
	case addr.RegionEnvs:
		panic("envs window")
	case addr.RegionPages:
		panic("pages window")
	case addr.RegionKernel:
		panic("kernel")
	}
	perm := pte.D
	if addr.Classify(va) == addr.RegionVPT {
		perm = 0
	}
	ppn, err := t.frames.Alloc()
	if err != errno.Ok {
		return err
	}
	return t.Insert(asid, ppn, va.PageDown(), perm)
}

// RefillEntry is one half of a MIPS TLB entry pair (EntryLo0/EntryLo1):
// the physical frame number and flags shifted into hardware position.
type RefillEntry uint32

// tlbFlagShift is the bit offset of the hardware flag field within an
// EntryLo register, per spec.md §4.2 ("each shifted right by the hardware
// flag offset of 6").
const tlbFlagShift = 6

func toRefillEntry(p pte.PTE) RefillEntry {
	return RefillEntry(uint32(p) >> tlbFlagShift)
}

// DoTLBRefill implements the hardware TLB-refill handler: invalidate the
// stale TLB entry, then repeatedly look up va, passive-allocating on a
// miss, until a valid mapping exists. It fills the MIPS even/odd entry
// pair into entries[0] and entries[1] (entries come in pairs sharing one
// tag; the page whose PTE lives at an 8-byte-aligned address is the even
// entry, its +4-byte neighbor the odd one).
func (t *Table) DoTLBRefill(entries *[2]RefillEntry, va addr.VirtAddr, asid uint8) errno.Errno {
	t.invalidate(asid, va)
	pairBase := va.PageDown()
	// The even/odd pair shares an 8KB-aligned pair boundary in VA space
	// (bit 12 selects even vs odd within the pair).
	evenVA := addr.VirtAddr(uint32(pairBase) &^ (2 * addr.PageSize - 1))
	oddVA := evenVA + addr.VirtAddr(addr.PageSize)

	for {
		_, _, err := t.Lookup(va)
		if err == errno.Ok {
			break
		}
		if err != errno.NotMapped {
			return err
		}
		if err := t.PassiveAlloc(va, asid); err != errno.Ok {
			return err
		}
	}

	evenPTE, err := t.Walk(evenVA, true)
	if err != errno.Ok {
		return err
	}
	oddPTE, err := t.Walk(oddVA, true)
	if err != errno.Ok {
		return err
	}
	entries[0] = toRefillEntry(*evenPTE)
	entries[1] = toRefillEntry(*oddPTE)
	return errno.Ok
}
