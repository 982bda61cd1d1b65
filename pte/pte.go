// Package pte defines the 32-bit page-table-entry layout shared by the
// page table and TLB gateway: top 20 bits physical page number, low 12
// bits flags (spec.md §3 "Page table entry (PTE)").
//
// Grounded on the teacher's mem.Pa_t flag constants (PTE_P/PTE_W/PTE_U/...
// in mem/mem.go); the flag set itself is redrawn from spec.md §3 since the
// MIPS software-walked table has a different flag vocabulary (V/D/G/
// C_CACHEABLE/C_UNCACHEABLE/COW/LIBRARY) than biscuit's hardware x86 PTE.
package pte

import "exomips/addr"

// PTE is one page-table or page-directory entry.
type PTE uint32

// Flag is one of the low 12 software/hardware bits of a PTE.
type Flag uint32

const (
	// V marks the entry valid (present).
	V Flag = 1 << 0
	// D marks the entry dirty/writable.
	D Flag = 1 << 1
	// G marks a global entry (no ASID match required).
	G Flag = 1 << 2
	// CCacheable marks the mapping as cached.
	CCacheable Flag = 1 << 3
	// CUncacheable marks the mapping as uncached (MMIO).
	CUncacheable Flag = 1 << 4
	// COW is a software-only copy-on-write marker.
	COW Flag = 1 << 5
	// Library is a software-only "shared, no-COW" marker used by shmat.
	Library Flag = 1 << 6

	flagMask Flag = 1<<7 - 1
)

// Make builds a PTE from a physical page number and a set of flags.
func Make(ppn addr.PhysPageNum, flags Flag) PTE {
	return PTE(uint32(ppn)<<addr.PageShift | uint32(flags&flagMask))
}

// PPN extracts the physical page number from a PTE.
func (p PTE) PPN() addr.PhysPageNum {
	return addr.PhysPageNum(uint32(p) >> addr.PageShift)
}

// Flags extracts the flag bits from a PTE.
func (p PTE) Flags() Flag {
	return Flag(uint32(p)) & flagMask
}

// Has reports whether all bits of flags are set.
func (p PTE) Has(flags Flag) bool {
	return Flag(uint32(p))&flags == flags
}

// Valid reports whether the V bit is set.
func (p PTE) Valid() bool {
	return p.Has(V)
}

// WithFlags returns a copy of the PTE with additional flags set.
func (p PTE) WithFlags(flags Flag) PTE {
	return p | PTE(flags&flagMask)
}
