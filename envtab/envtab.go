// Package envtab implements the environment table: NENV fixed slots,
// ASID allocation, the free/schedule lists, and trapframe save/restore
// across a context switch (spec.md §3 "Environment (Env)", §4.4).
//
// Grounded on the teacher's process table discipline — a fixed array of
// slots each owning a page-directory frame by reference count
// (mem.Physmem_t.Refup/Refdown via vm.Vm_t.Pmap/P_pmap) — generalized
// from biscuit's dynamically-allocated Proc_t (proc package) to the
// spec's fixed NENV=1024 array with generation-tagged ids, and composed
// with ilist (this module's generalization of the teacher's nexti free
// list) for both the free list and the runnable list.
package envtab

import (
	"unsafe"

	"exomips/addr"
	"exomips/errno"
	"exomips/frame"
	"exomips/ilist"
	"exomips/pagetable"
	"exomips/pte"
	"exomips/trapframe"
)

// NENV is the fixed number of environment slots.
const NENV = 1024

// NASID is the number of available address-space identifiers.
const NASID = 256

// slotMask extracts the slot index from a generation-tagged EnvID.
const slotMask = NENV - 1

// genShift is the bit offset of the generation counter within an EnvID.
const genShift = 11

// Status is an environment's scheduling state.
type Status int

const (
	Free Status = iota
	Runnable
	NotRunnable
)

// EnvID is a generation-tagged environment identifier:
// (generation << 11) | slot_index.
type EnvID uint32

// Slot extracts the slot index encoded in an id.
func (id EnvID) Slot() int32 {
	return int32(id) & slotMask
}

// Env is one environment's full per-slot state (spec.md §3).
type Env struct {
	ID       EnvID
	ParentID EnvID
	ASID     uint8
	Status   Status

	hasPgdir bool
	pgdir    *pagetable.Table

	Priority int

	IPCReceiving  bool
	IPCValue      uint32
	IPCFrom       EnvID
	IPCDstVA      addr.VirtAddr
	IPCDstValid   bool
	IPCPerm       pte.Flag
	UserTLBModVA  addr.VirtAddr
	hasTLBModVA   bool

	TF   trapframe.Trapframe
	Runs uint64

	freeLink  ilist.Node
	schedLink ilist.Node
}

// Pgdir returns this env's page table. Panics if the env has none (only
// possible before env_alloc finishes initializing a slot).
func (e *Env) Pgdir() *pagetable.Table {
	if !e.hasPgdir {
		panic("envtab: env has no page directory")
	}
	return e.pgdir
}

// Table is the environment manager: the NENV-slot array plus the ASID
// bitmap, free list, schedule list, and the single "on-stack" trapframe
// that stands in for the real CPU's kernel-stack-resident copy (spec.md
// §9 "the running env's trapframe is read and written in place on the
// kernel stack, not via the env record").
type Table struct {
	envs [NENV]Env

	// genCounter is a single table-wide counter, pre-incremented before
	// each Alloc computes a new id (grounded on the original's global
	// alloced_env counter, _examples/original_source/src/env.rs:238-240,
	// not a per-slot counter): a per-slot counter would hand out
	// EnvID(0) the first time slot 0 is ever allocated, colliding with
	// the id==0 "current env" sentinel EnvID2Ind and the syscall ABI
	// both depend on.
	genCounter uint32

	asidUsed [NASID]bool

	free  *ilist.List
	sched *ilist.List

	current int32 // slot index, or ilist.None if nothing is running

	frames *frame.Table
	newPT  func(dirPPN addr.PhysPageNum) *pagetable.Table
	pop    trapframe.PopFunc

	// kernelDir is copied into the kernel portion of every freshly
	// allocated directory, and installUVPTSelfMap installs
	// the UVPT self-map (spec.md §9 "Implementers must install this
	// entry during env setup and preserve it across forks").
	kernelDir [1024]pte.PTE

	stackTF trapframe.Trapframe
}

// New builds an empty environment table. newPT constructs a page-table
// view over an already-allocated directory frame; pop is the assembly
// env_pop_tf routine (or a test double).
func New(frames *frame.Table, newPT func(addr.PhysPageNum) *pagetable.Table, pop trapframe.PopFunc) *Table {
	t := &Table{frames: frames, newPT: newPT, pop: pop, current: ilist.None}
	t.free = ilist.New(func(idx int32) *ilist.Node { return &t.envs[idx].freeLink })
	t.sched = ilist.New(func(idx int32) *ilist.Node { return &t.envs[idx].schedLink })
	for i := 0; i < NENV; i++ {
		t.free.PushTail(int32(i))
	}
	return t
}

// SetKernelDir installs the kernel-portion page directory entries every
// new address space starts from (spec.md §3 lifecycle: "initializes the
// kernel portion by copying entries from a base directory").
func (t *Table) SetKernelDir(entries [1024]pte.PTE) {
	t.kernelDir = entries
}

func (t *Table) allocASID() (uint8, errno.Errno) {
	for i := 0; i < NASID; i++ {
		if !t.asidUsed[i] {
			t.asidUsed[i] = true
			return uint8(i), errno.Ok
		}
	}
	return 0, errno.Unspecified
}

func (t *Table) freeASID(a uint8) {
	t.asidUsed[a] = false
}

// NumLiveASIDs reports the ASID bitmap popcount, used by the property
// test in spec.md §8 ("ASID bitmap popcount equals the number of envs
// with status != Free").
func (t *Table) NumLiveASIDs() int {
	n := 0
	for _, used := range t.asidUsed {
		if used {
			n++
		}
	}
	return n
}

// Alloc draws a free slot, allocates and initializes its page directory,
// draws an ASID, and returns a fresh generation-tagged id with status
// NotRunnable (spec.md §4.4).
func (t *Table) Alloc(parent EnvID) (EnvID, errno.Errno) {
	slotI := t.free.PopHead()
	if slotI == ilist.None {
		return 0, errno.NoFreeEnv
	}
	slot := &t.envs[slotI]

	dirPPN, err := t.frames.Alloc()
	if err != errno.Ok {
		t.free.PushTail(slotI)
		return 0, err
	}
	t.frames.Incref(dirPPN)
	*pteTableAt(t.frames, dirPPN) = t.kernelDir

	pt := t.newPT(dirPPN)
	installUVPTSelfMap(pt, dirPPN)

	asid, err := t.allocASID()
	if err != errno.Ok {
		t.frames.Decref(dirPPN)
		t.free.PushTail(slotI)
		return 0, err
	}

	t.genCounter++
	id := EnvID(t.genCounter<<genShift | uint32(slotI))

	*slot = Env{
		ID:       id,
		ParentID: parent,
		ASID:     asid,
		Status:   NotRunnable,
		hasPgdir: true,
		pgdir:    pt,
		Priority: 1,
	}
	slot.TF.GPR[trapframe.RegSP] = uint32(addr.USTACKTOP) - 8

	return id, errno.Ok
}

// installUVPTSelfMap points the directory's UVPT slot back at itself,
// read-only, giving user code a view of its own page tables with no
// further syscalls (spec.md §9 "UVPT self-map").
func installUVPTSelfMap(pt *pagetable.Table, dirPPN addr.PhysPageNum) {
	*pt.DirEntry(addr.UVPT) = pte.Make(dirPPN, pte.V)
}

// pteTableAt reinterprets a frame's raw bytes as a 1024-entry PTE array,
// the same unsafe reinterpretation pagetable.pteTable performs; used here
// only to seed a fresh directory frame with the kernel portion before a
// pagetable.Table exists to wrap it.
func pteTableAt(frames *frame.Table, ppn addr.PhysPageNum) *[1024]pte.PTE {
	return (*[1024]pte.PTE)(unsafe.Pointer(frames.Bytes(ppn)))
}

// Free tears down a slot per spec.md §3 lifecycle: every valid user PTE is
// removed (decref + TLB invalidate), second-level tables are decref'd,
// the directory is decref'd, the ASID is released, and the slot returns
// to the free list.
func (t *Table) Free(slotIdx int32, teardownUser func(pt *pagetable.Table, asid uint8)) {
	e := &t.envs[slotIdx]
	if e.Status == Free {
		panic("envtab: double free")
	}
	switch e.Status {
	case Runnable:
		t.sched.Remove(slotIdx)
	case NotRunnable:
		// not linked anywhere
	}

	teardownUser(e.pgdir, e.ASID)
	for va := addr.VirtAddr(0); va < addr.UTOP; va += addr.PTSIZE {
		pde := e.pgdir.DirEntry(va)
		if va == addr.UVPT || !pde.Valid() || *pde == t.kernelDir[uint32(va)>>22] {
			continue
		}
		t.frames.Decref(pde.PPN())
		*pde = 0
	}
	t.frames.Decref(e.pgdir.Dir())

	t.freeASID(e.ASID)
	*e = Env{}
	if t.current == slotIdx {
		t.current = ilist.None
	}
	t.free.PushTail(slotIdx)
}

// EnvID2Ind resolves an EnvID to a slot, applying the stale-id and
// current/child permission checks of spec.md §4.4. id 0 aliases the
// current environment.
func (t *Table) EnvID2Ind(id EnvID, checkperm bool) (int32, errno.Errno) {
	if id == 0 {
		if t.current == ilist.None {
			return 0, errno.BadEnv
		}
		return t.current, errno.Ok
	}
	slot := id.Slot()
	e := &t.envs[slot]
	if e.Status == Free || e.ID != id {
		return 0, errno.BadEnv
	}
	if checkperm {
		if t.current == ilist.None {
			return 0, errno.BadEnv
		}
		cur := &t.envs[t.current]
		if slot != t.current && e.ParentID != cur.ID {
			return 0, errno.BadEnv
		}
	}
	return slot, errno.Ok
}

// Env returns a pointer to the slot's Env record.
func (t *Table) Env(slot int32) *Env {
	return &t.envs[slot]
}

// Current returns the slot index of the running env, or ilist.None.
func (t *Table) Current() int32 {
	return t.current
}

// CurrentTF returns the single on-stack trapframe, authoritative only
// while an env is running (spec.md §3 invariant).
func (t *Table) CurrentTF() *trapframe.Trapframe {
	return &t.stackTF
}

// SetRunnable marks slot Runnable and links it onto the schedule list (it
// must not already be linked).
func (t *Table) SetRunnable(slot int32) {
	e := &t.envs[slot]
	if e.Status == Runnable {
		return
	}
	e.Status = Runnable
	t.sched.PushTail(slot)
}

// SetNotRunnable marks slot NotRunnable, unlinking it from the schedule
// list if present.
func (t *Table) SetNotRunnable(slot int32) {
	e := &t.envs[slot]
	if e.Status == Runnable {
		t.sched.Remove(slot)
	}
	e.Status = NotRunnable
}

// SchedList exposes the runnable list for the scheduler package.
func (t *Table) SchedList() *ilist.List {
	return t.sched
}

// Run switches to slot: if a previous env was running, its on-stack
// trapframe is copied back into its Env.TF; the target's saved TF is
// loaded onto the stack, runs is incremented, and the assembly
// "pop trapframe" routine is invoked with the new ASID. With the real
// assembly routine control never comes back here; Run returns only if pop
// itself returns, as the test doubles do.
func (t *Table) Run(slot int32) {
	if t.current != ilist.None {
		t.envs[t.current].TF = t.stackTF
	}
	e := &t.envs[slot]
	t.stackTF = e.TF
	t.current = slot
	e.Runs++
	t.pop(&t.stackTF, e.ASID)
}
