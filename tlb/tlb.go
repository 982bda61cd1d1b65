// Package tlb is the TLB gateway: it isolates the MIPS-specific
// tlbwi-driven invalidation behind Invalidate, and bridges the hardware
// TLB-mod fault into a user-level copy-on-write handoff via DoTLBMod
// (spec.md §4.3). The rest of the kernel never touches CP0 registers
// directly — pagetable.Table is handed an Invalidator closure rather than
// importing this package.
//
// Grounded on the teacher's Vm_t.Tlbshoot / tlb_shootdown split (vm/as.go):
// a fast architecture-neutral caller and a narrow hardware-facing helper
// that does the actual shootdown, here specialized from x86-64's
// multi-CPU shootdown down to the single-CPU, single-instruction MIPS
// tlbwi invalidation spec.md §5 makes sufficient.
package tlb

import (
	"exomips/addr"
	"exomips/trapframe"
)

const nasidMask = 0xFF

// entry is the (VA page, ASID) tag the hardware uses to match a TLB row.
type entry struct {
	page addr.VirtAddr
	asid uint8
}

// Shadow is an in-memory stand-in for the hardware TLB, used so the rest
// of the kernel (and its tests) can run without real CP0 access. A real
// port replaces this with the tlbwi instruction sequence; the exported
// surface (Invalidate) stays the same either way.
type Shadow struct {
	present map[entry]bool
}

// NewShadow constructs an empty simulated TLB.
func NewShadow() *Shadow {
	return &Shadow{present: make(map[entry]bool)}
}

// Install records that (va, asid) is now resident. No kernel path calls
// it; tests use it to model a filled entry.
func (s *Shadow) Install(asid uint8, va addr.VirtAddr) {
	s.present[entry{va.PageDown(), asid & nasidMask}] = true
}

// Resident reports whether (va, asid) currently has a TLB entry; exposed
// for tests asserting that Invalidate actually evicts stale translations.
func (s *Shadow) Resident(asid uint8, va addr.VirtAddr) bool {
	return s.present[entry{va.PageDown(), asid & nasidMask}]
}

// Invalidate evicts the TLB entry for the pair (va & ~0xFFF, asid &
// (NASID-1)), matching spec.md §4.3's tlbwi-driven invalidation exactly.
func (s *Shadow) Invalidate(asid uint8, va addr.VirtAddr) {
	delete(s.present, entry{va.PageDown(), asid & nasidMask})
}

// ModHandler resolves an env's registered user-level TLB-mod entry point,
// the seam DoTLBMod uses instead of importing envtab directly.
type ModHandler func() (entryVA addr.VirtAddr, ok bool)

// DoTLBMod implements the store-to-non-dirty-page fault delivery of
// spec.md §4.3: it saves tf onto the user exception stack (switching SP
// to UXSTACKTOP if the current SP is not already within
// [USTACKTOP, UXSTACKTOP)), places that saved frame's SP into a0, and
// redirects EPC to user_tlb_mod_entry. It panics if no handler is
// registered — copy-on-write resolution with no handler is a user
// programming error the spec treats as a kernel panic (spec.md §7).
func DoTLBMod(tf *trapframe.Trapframe, handler ModHandler, pushFrame func(sp addr.VirtAddr, tf *trapframe.Trapframe) addr.VirtAddr) {
	entryVA, ok := handler()
	if !ok {
		panic("tlb mod fault with no registered user handler")
	}

	sp := addr.VirtAddr(tf.GPR[trapframe.RegSP])
	if sp < addr.USTACKTOP || sp >= addr.UXSTACKTOP {
		sp = addr.UXSTACKTOP
	}
	newSP := pushFrame(sp, tf)

	tf.GPR[trapframe.RegA0] = uint32(newSP)
	tf.EPC = uint32(entryVA)
}
