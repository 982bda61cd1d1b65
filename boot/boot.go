package boot

import (
	"time"
	"unsafe"

	"exomips/addr"
	"exomips/console"
	"exomips/devmmio"
	"exomips/elfload"
	"exomips/envtab"
	"exomips/errno"
	"exomips/frame"
	"exomips/ilist"
	"exomips/ipc"
	"exomips/pagetable"
	"exomips/pte"
	"exomips/sched"
	"exomips/scall"
	"exomips/sem"
	"exomips/shm"
	"exomips/tlb"
	"exomips/trapframe"
)

// Memory is a flat simulated physical RAM arena, addressed by frame
// number; the only unsafe reinterpretation site between raw backing
// storage and a frame's fixed-size page view (mirrors frame.Table's own
// documented seam).
type Memory struct {
	arena []byte
}

// NewMemory allocates a zeroed arena big enough for nframes pages.
func NewMemory(nframes int) *Memory {
	return &Memory{arena: make([]byte, nframes*addr.PageSize)}
}

// Page returns a pointer to ppn's backing storage, relative to the
// memory's own base (the frame table adds its configured start offset
// before calling this).
func (m *Memory) Page(ppn addr.PhysPageNum) *[addr.PageSize]byte {
	off := uint32(ppn) * addr.PageSize
	return (*[addr.PageSize]byte)(unsafe.Pointer(&m.arena[off]))
}

// Kernel is the fully wired set of singletons a running image needs:
// every component from frame allocation up through syscall dispatch,
// composed the way spec.md §4 lays out the dependency order, with
// pagetable and tlb talking to each other only through the Invalidator/
// ModHandler closures decided on while building those packages.
type Kernel struct {
	Mem    *Memory
	Frames *frame.Table
	TLB    *tlb.Shadow
	Envs   *envtab.Table
	Sched  *sched.Scheduler
	IPC    *ipc.Service
	Shm    *shm.Table
	Sem    *sem.Table
	Disp   *scall.Dispatcher

	kernelPT  *pagetable.Table
	kernelDir [1024]pte.PTE
}

// New wires a Kernel from cfg, a console device, and the assembly-level
// env_pop_tf routine (normally real assembly; tests supply a recording
// stub instead).
func New(cfg *Config, dev console.Device, pop trapframe.PopFunc) *Kernel {
	mem := NewMemory(cfg.Memory.Frames)
	startPPN := addr.PhysPageNum(cfg.Memory.StartPPN)
	frames := frame.New(startPPN, cfg.Memory.Frames, func(ppn addr.PhysPageNum) *[addr.PageSize]byte {
		return mem.Page(ppn - startPPN)
	})

	k := &Kernel{Mem: mem, Frames: frames, TLB: tlb.NewShadow()}

	kernelDirPPN, err := frames.Alloc()
	if err != errno.Ok {
		panic("boot: not enough memory to allocate the kernel page directory")
	}
	frames.Incref(kernelDirPPN)
	// Kernel-portion mappings never move once installed, so no ASID's TLB
	// entries ever need invalidating on their account.
	k.kernelPT = pagetable.New(frames, func(uint8, addr.VirtAddr) {}, kernelDirPPN)

	newPT := func(dirPPN addr.PhysPageNum) *pagetable.Table {
		return pagetable.New(frames, k.TLB.Invalidate, dirPPN)
	}
	k.Envs = envtab.New(frames, newPT, pop)

	k.Sched = sched.New(k.Envs)
	k.IPC = ipc.New(k.Envs, frames)
	k.Shm = shm.New(frames)
	k.Sem = sem.New()

	k.Disp = &scall.Dispatcher{
		Envs:   k.Envs,
		Frames: frames,
		Sched:  k.Sched,
		IPC:    k.IPC,
		Shm:    k.Shm,
		Sem:    k.Sem,
		Console: scall.ConsoleOps{
			PutByte: dev.PutByte,
			GetByte: dev.GetByte,
		},
		Now:     func() uint32 { return uint32(time.Now().UnixMilli()) },
		Devmmio: devmmio.NewGate(),
		// Wait stands in for a real port's wait-for-interrupt idle
		// loop; this software kernel models no hardware idle state,
		// so there is nothing useful to do but spin until the next
		// Dispatch call finds a runnable environment again.
		Wait: func() {},
	}
	k.Disp.Spawn = k.spawn

	return k
}

// MapKernelSegment installs a kernel-portion mapping that every future
// address space will inherit (spec.md §3: "initializes the kernel
// portion by copying entries from a base directory"). Callers must
// follow a batch of these with RefreshKernelDir before the first
// Spawn/exofork, since envtab.Alloc copies a snapshot taken at that call
// rather than reading the live kernel directory on every allocation.
func (k *Kernel) MapKernelSegment(pa addr.PhysAddr, va addr.VirtAddr, size uint32, perm pte.Flag) errno.Errno {
	return k.kernelPT.MapSegment(0, pa, va, size, perm)
}

// RefreshKernelDir snapshots the live kernel directory into the copy
// envtab.Alloc seeds every new address space from. Call it once after
// the boot sequence's MapKernelSegment calls are done.
func (k *Kernel) RefreshKernelDir() {
	k.kernelDir = *(*[1024]pte.PTE)(unsafe.Pointer(k.Frames.Bytes(k.kernelPT.Dir())))
	k.Envs.SetKernelDir(k.kernelDir)
}

// spawn loads an ELF32 MIPS binary into a freshly allocated environment
// and marks it runnable, implementing scall.SpawnFunc.
func (k *Kernel) spawn(binary []byte, priority int) (envtab.EnvID, errno.Errno) {
	img, err := elfload.Parse(binary)
	if err != errno.Ok {
		return 0, err
	}
	id, err := k.Envs.Alloc(0)
	if err != errno.Ok {
		return 0, err
	}
	slot, _ := k.Envs.EnvID2Ind(id, false)
	e := k.Envs.Env(slot)
	if priority > 0 {
		e.Priority = priority
	}
	e.TF.EPC = uint32(img.Entry)

	put := func(va addr.VirtAddr, writable bool) (*[addr.PageSize]byte, errno.Errno) {
		ppn, aerr := k.Frames.Alloc()
		if aerr != errno.Ok {
			return nil, aerr
		}
		perm := pte.Flag(0)
		if writable {
			perm = pte.D
		}
		if ierr := e.Pgdir().Insert(e.ASID, ppn, va, perm); ierr != errno.Ok {
			return nil, ierr
		}
		return k.Frames.Bytes(ppn), errno.Ok
	}
	if err := elfload.Place(img, put); err != errno.Ok {
		return 0, err
	}

	k.Envs.SetRunnable(slot)
	return id, errno.Ok
}

// Vectors returns the trapframe.Vectors implementation that dispatches
// every hardware exception through this Kernel.
func (k *Kernel) Vectors() trapframe.Vectors {
	return &vectors{k: k}
}

type vectors struct {
	k *Kernel
}

func (v *vectors) TLBRefill(entries *[2]uint32, va uint32, asid uint8) {
	cur := v.k.Envs.Current()
	if cur == ilist.None {
		panic("tlb refill with no running environment")
	}
	env := v.k.Envs.Env(cur)

	var out [2]pagetable.RefillEntry
	if err := env.Pgdir().DoTLBRefill(&out, addr.VirtAddr(va), asid); err != errno.Ok {
		panic("tlb refill failed: " + err.String())
	}
	entries[0] = uint32(out[0])
	entries[1] = uint32(out[1])
}

func (v *vectors) TLBMod(tf *trapframe.Trapframe) {
	cur := v.k.Envs.Current()
	env := v.k.Envs.Env(cur)

	handler := func() (addr.VirtAddr, bool) {
		if env.UserTLBModVA == 0 {
			return 0, false
		}
		return env.UserTLBModVA, true
	}
	pushFrame := func(sp addr.VirtAddr, frameTF *trapframe.Trapframe) addr.VirtAddr {
		size := addr.VirtAddr(unsafe.Sizeof(trapframe.Trapframe{}))
		newSP := sp - size
		writeUserTrapframe(v.k, env, newSP, frameTF)
		return newSP
	}
	tlb.DoTLBMod(tf, handler, pushFrame)
}

func (v *vectors) Syscall(tf *trapframe.Trapframe) {
	v.k.Disp.Dispatch(tf)
}

func (v *vectors) Reserved() {
	panic("reserved exception vector taken")
}

// writeUserTrapframe copies tf's bytes into env's address space at va,
// byte by byte, the save half of the copy usercopy.go performs for
// syscall arguments in the other direction.
func writeUserTrapframe(k *Kernel, env *envtab.Env, va addr.VirtAddr, tf *trapframe.Trapframe) {
	raw := (*[unsafe.Sizeof(trapframe.Trapframe{})]byte)(unsafe.Pointer(tf))
	for i, b := range raw {
		pa, ok := env.Pgdir().Translate(va + addr.VirtAddr(i))
		if !ok {
			panic("tlb mod: user exception stack not mapped")
		}
		k.Frames.Bytes(pa.PageNum())[pa.Offset()] = b
	}
}
