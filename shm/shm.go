// Package shm implements the System-V-style shared memory segments of
// spec.md §4.10: up to SHMMNI independently keyed segments, together
// totaling no more than SHMALL pages, attached into an environment's
// address space at shmat and detached at shmdt, with removal deferred
// until the last attacher detaches (spec.md §8 "shmget key lookup").
//
// Grounded on the teacher's Physmem_t page ownership by reference count
// (mem/mem.go) generalized to segment-level refcounting — a segment is
// itself "freed" (its frames decref'd) only once both ctl_remove has been
// called and every attachment has been undone, the same two-condition
// release discipline the teacher uses for file-backed pages pinned by
// multiple mappings.
package shm

import (
	"exomips/addr"
	"exomips/envtab"
	"exomips/errno"
	"exomips/frame"
	"exomips/limits"
	"exomips/pte"
)

// SHMMNI is the maximum number of live segments.
const SHMMNI = 128

// SHMALL is the maximum total size of all segments, in pages.
const SHMALL = 4096

// segment is one shared memory region: a set of frames the Table owns by
// reference, independent of any environment's mapping of them.
type segment struct {
	inUse   bool
	key     int32
	pages   []addr.PhysPageNum
	nattach int
	removed bool
}

// Table manages all shared memory segments.
type Table struct {
	frames *frame.Table
	segs   [SHMMNI]segment
	blocks *limits.Counter
}

// New builds an empty shared memory table.
func New(frames *frame.Table) *Table {
	return &Table{frames: frames, blocks: limits.NewCounter(SHMALL)}
}

func (t *Table) findByKey(key int32) int {
	for i := range t.segs {
		if t.segs[i].inUse && t.segs[i].key == key {
			return i
		}
	}
	return -1
}

// Get implements shmget: key identifies a segment across unrelated
// callers. If a segment with key already exists, its id is returned
// regardless of size (spec.md §8: "shmget with an existing key returns
// the existing segment, ignoring a mismatched size request"). Otherwise,
// if create is set, a new segment of size pages (rounded up from nbytes)
// is allocated, provided both SHMMNI and SHMALL allow it.
func (t *Table) Get(key int32, nbytes uint32, create bool) (int32, errno.Errno) {
	if key != 0 {
		if id := t.findByKey(key); id >= 0 {
			return int32(id), errno.Ok
		}
		if !create {
			return 0, errno.NotFound
		}
	}

	npages := int((nbytes + addr.PageSize - 1) / addr.PageSize)
	if npages == 0 {
		return 0, errno.Inval
	}

	slot := -1
	for i := range t.segs {
		if !t.segs[i].inUse {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, errno.NoSpc
	}

	taken := 0
	for ; taken < npages; taken++ {
		if !t.blocks.Take() {
			break
		}
	}
	if taken < npages {
		for i := 0; i < taken; i++ {
			t.blocks.Give()
		}
		return 0, errno.NoSpc
	}

	pages := make([]addr.PhysPageNum, 0, npages)
	for i := 0; i < npages; i++ {
		ppn, err := t.frames.Alloc()
		if err != errno.Ok {
			for _, p := range pages {
				t.frames.Decref(p)
			}
			for i := 0; i < npages; i++ {
				t.blocks.Give()
			}
			return 0, err
		}
		t.frames.Incref(ppn)
		pages = append(pages, ppn)
	}

	t.segs[slot] = segment{inUse: true, key: key, pages: pages}
	return int32(slot), errno.Ok
}

// Attach implements shmat: every frame in segment id is mapped into env's
// address space starting at va, each at perm plus the software Library
// flag (so a later copy-on-write fault never fires against a page two
// unrelated environments intentionally share, spec.md §4.10).
func (t *Table) Attach(env *envtab.Env, id int32, va addr.VirtAddr, perm pte.Flag) errno.Errno {
	if id < 0 || int(id) >= SHMMNI || !t.segs[id].inUse {
		return errno.Inval
	}
	if !va.Aligned() {
		return errno.Inval
	}
	seg := &t.segs[id]
	pt := env.Pgdir()
	for i, ppn := range seg.pages {
		target := va + addr.VirtAddr(i*addr.PageSize)
		if err := pt.Insert(env.ASID, ppn, target, perm|pte.Library); err != errno.Ok {
			for j := 0; j < i; j++ {
				pt.Remove(env.ASID, va+addr.VirtAddr(j*addr.PageSize))
			}
			return err
		}
	}
	seg.nattach++
	return errno.Ok
}

// Detach implements shmdt: every page of the segment previously attached
// at va is unmapped from env. If the segment has been marked for removal
// and this was the last attachment, its frames are released back to the
// frame allocator and the slot returns to the free pool.
func (t *Table) Detach(env *envtab.Env, id int32, va addr.VirtAddr) errno.Errno {
	if id < 0 || int(id) >= SHMMNI || !t.segs[id].inUse {
		return errno.Inval
	}
	seg := &t.segs[id]
	pt := env.Pgdir()
	for i := range seg.pages {
		pt.Remove(env.ASID, va+addr.VirtAddr(i*addr.PageSize))
	}
	seg.nattach--
	if seg.nattach <= 0 && seg.removed {
		t.release(int(id))
	}
	return errno.Ok
}

// Remove implements shmctl(IPC_RMID): the key is immediately unusable for
// further Get lookups, but the underlying frames are not released until
// every existing attachment has been detached (spec.md §8's resolution of
// the shm RMID/shm_ref race: removal only clears the key and never tears
// down a live attachment out from under a running environment). Attach by
// id still succeeds on a removed segment that has not yet been released.
func (t *Table) Remove(id int32) errno.Errno {
	if id < 0 || int(id) >= SHMMNI || !t.segs[id].inUse {
		return errno.Inval
	}
	seg := &t.segs[id]
	seg.key = 0
	seg.removed = true
	if seg.nattach <= 0 {
		t.release(int(id))
	}
	return errno.Ok
}

func (t *Table) release(id int) {
	seg := &t.segs[id]
	for _, p := range seg.pages {
		t.frames.Decref(p)
	}
	for range seg.pages {
		t.blocks.Give()
	}
	t.segs[id] = segment{}
}

// BlocksUsed reports the current total page count across all live
// segments, used by the §8 accounting property test.
func (t *Table) BlocksUsed() int {
	return t.blocks.InUse()
}
