// Package scall decodes and dispatches the syscall table (see Num) of
// spec.md §4.7: register-convention argument decoding (a1..a3 directly,
// a4/a5 fetched from the user stack), per-number handlers wired to the
// environment table, page table, IPC, shared memory, and semaphore
// components, and v0/EPC write-back on return.
//
// The teacher's own syscall dispatch source ships no file content in
// this tree (only a go.mod stub under its syscall-equivalent package),
// so the numbered-switch dispatch shape follows spec.md §4.7 directly:
// a thin decode-then-call-the-real-component wrapper per syscall number,
// rather than a type switch or reflection-based dispatch. The
// user-memory walk each handler needs mirrors the teacher's real
// Vm_t.Userdmap8r/Userreadn/Userwriten helpers (vm/as.go), which also
// translate one user virtual address at a time rather than assuming a
// direct-mapped window. Console and process-image loading are taken as
// injected seams (ConsoleOps, Spawn) rather than direct imports, the
// same avoid-the-cycle discipline pagetable/tlb/envtab already use, since
// this package is the first to need both envtab and the console package,
// which itself has no reason to depend on scall.
package scall

import (
	"unsafe"

	"exomips/addr"
	"exomips/devmmio"
	"exomips/envtab"
	"exomips/errno"
	"exomips/frame"
	"exomips/ipc"
	"exomips/kstat"
	"exomips/pagetable"
	"exomips/pte"
	"exomips/sched"
	"exomips/sem"
	"exomips/shm"
	"exomips/trapframe"
)

// Syscall numbers, matching the register convention in trapframe.Arg:
// a0 carries the number itself, a1..a3 the first three arguments.
const (
	Putchar Num = iota
	Cputs
	Cgetc
	GetEnvID
	EnvDestroy
	Yield
	Exofork
	EnvSetStatus
	EnvSetPgfaultUpcall
	PageAlloc
	PageMap
	PageUnmap
	IPCTrySend
	IPCRecv
	EnvSetTrapframe
	TimeMsec
	ShmGet
	ShmAt
	ShmDt
	ShmCtl
	SemOpen
	SemPost
	SemWait
	SemKill
	EnvSetPriority
	Spawn
	EnvSetName
	Panic
	ReadDev
	WriteDev
	numSyscalls
)

// NumSyscalls is the size of the syscall table, for callers that need to
// size a per-number counter bank (kstat.NewSyscalls).
const NumSyscalls = int(numSyscalls)

// Num identifies one syscall entry.
type Num uint32

// ConsoleOps is the console seam: PutByte writes one output byte,
// GetByte is a non-blocking read reporting whether a byte was available.
type ConsoleOps struct {
	PutByte func(b byte)
	GetByte func() (b byte, ok bool)
}

// SpawnFunc loads an ELF image into a freshly allocated environment and
// marks it runnable; boot supplies the elfload-backed implementation.
type SpawnFunc func(binary []byte, priority int) (envtab.EnvID, errno.Errno)

// NowMillis returns the current time in milliseconds since boot.
type NowMillis func() uint32

// Dispatcher holds every component a syscall handler might need.
type Dispatcher struct {
	Envs    *envtab.Table
	Frames  *frame.Table
	Sched   *sched.Scheduler
	IPC     *ipc.Service
	Shm     *shm.Table
	Sem     *sem.Table
	Console ConsoleOps
	Spawn   SpawnFunc
	Now     NowMillis
	Devmmio *devmmio.Gate

	// Wait is the hardware-idle hook passed to Sched.Run when a
	// scheduling switch finds nothing runnable; nil is fine, Run
	// no-ops in that case (see sched.Scheduler.Run).
	Wait func()

	// Stats counts dispatched calls per syscall number; nil is fine,
	// Dispatch skips the bump in that case.
	Stats *kstat.Syscalls

	// switchPending is set by handlers that suspend the calling
	// environment (yield, ipc_recv, env_destroy of self) to force
	// Dispatch to hand control to the scheduler before returning,
	// rather than silently resuming whichever env happened to be
	// current (spec.md §4.7 "yield: sched(1); does not return to
	// caller"; spec.md §5's three suspension points).
	switchPending bool
}

// Dispatch decodes tf's syscall number and arguments, invokes the
// matching handler, and writes its result into v0, advancing EPC past
// the syscall instruction first (spec.md §4.7: "EPC is advanced before
// the handler runs, so a handler that itself blocks resumes correctly").
// A handler returning a value greater than errno range for a syscall
// that yields data (e.g. GetEnvID) places that value directly in v0,
// never negated; error returns are always tf.SetReturn(err.Neg()).
func (d *Dispatcher) Dispatch(tf *trapframe.Trapframe) {
	tf.AdvancePastSyscall()
	num := Num(tf.SyscallNum())
	if num >= numSyscalls {
		tf.SetReturn(errno.NoSys.Neg())
		return
	}

	if d.Stats != nil {
		d.Stats.Inc(int(num))
	}

	cur := d.Envs.Current()
	d.switchPending = false
	ret, err := d.call(num, tf, cur)
	if err != errno.Ok {
		tf.SetReturn(err.Neg())
	} else {
		tf.SetReturn(ret)
	}

	if d.switchPending {
		d.Sched.Run(d.Envs.Run, d.Wait)
	}
}

func (d *Dispatcher) call(num Num, tf *trapframe.Trapframe, cur int32) (int32, errno.Errno) {
	env := d.Envs.Env(cur)

	switch num {
	case Putchar:
		return d.sysPutchar(tf)
	case Cputs:
		return d.sysCputs(env, tf)
	case Cgetc:
		return d.sysCgetc()
	case GetEnvID:
		return int32(env.ID), errno.Ok
	case EnvDestroy:
		return 0, d.sysEnvDestroy(cur, envtab.EnvID(tf.Arg(0)))
	case Yield:
		d.Sched.Yield()
		d.switchPending = true
		return 0, errno.Ok
	case Exofork:
		return d.sysExofork(cur, tf)
	case EnvSetStatus:
		return 0, d.sysEnvSetStatus(cur, envtab.EnvID(tf.Arg(0)), tf.Arg(1))
	case EnvSetPgfaultUpcall:
		return 0, d.sysEnvSetPgfaultUpcall(cur, envtab.EnvID(tf.Arg(0)), addr.VirtAddr(tf.Arg(1)))
	case PageAlloc:
		return 0, d.sysPageAlloc(cur, envtab.EnvID(tf.Arg(0)), addr.VirtAddr(tf.Arg(1)), pte.Flag(tf.Arg(2)))
	case PageMap:
		return 0, d.sysPageMap(cur, tf)
	case PageUnmap:
		return 0, d.sysPageUnmap(cur, envtab.EnvID(tf.Arg(0)), addr.VirtAddr(tf.Arg(1)))
	case IPCTrySend:
		return 0, d.sysIPCTrySend(cur, tf)
	case IPCRecv:
		return 0, d.sysIPCRecv(cur, addr.VirtAddr(tf.Arg(0)), tf.Arg(1) != 0)
	case EnvSetTrapframe:
		return 0, d.sysEnvSetTrapframe(cur, envtab.EnvID(tf.Arg(0)), addr.VirtAddr(tf.Arg(1)))
	case TimeMsec:
		return int32(d.Now()), errno.Ok
	case ShmGet:
		return d.sysShmGet(tf)
	case ShmAt:
		return 0, d.sysShmAt(env, tf)
	case ShmDt:
		return 0, d.Shm.Detach(env, int32(tf.Arg(0)), addr.VirtAddr(tf.Arg(1)))
	case ShmCtl:
		return 0, d.Shm.Remove(int32(tf.Arg(0)))
	case SemOpen:
		return 0, d.Sem.Open(int32(tf.Arg(0)), int32(tf.Arg(1)))
	case SemPost:
		return 0, d.Sem.Post(int32(tf.Arg(0)))
	case SemWait:
		return d.sysSemWait(tf)
	case SemKill:
		return 0, d.Sem.Kill(int32(tf.Arg(0)))
	case EnvSetPriority:
		return 0, d.sysEnvSetPriority(cur, envtab.EnvID(tf.Arg(0)), int(tf.Arg(1)))
	case Spawn:
		return d.sysSpawn(tf)
	case EnvSetName:
		return 0, errno.Ok // debug-only label, not modeled as kernel state
	case Panic:
		return 0, d.sysPanic(env, tf)
	case ReadDev:
		return d.sysReadDev(tf)
	case WriteDev:
		return 0, d.sysWriteDev(tf)
	default:
		return 0, errno.NoSys
	}
}

// sysPutchar implements spec.md §4.7 syscall 0: write a single raw byte
// to the console. No failure mode — the byte is the low 8 bits of a1,
// distinct from the validated buffer write Cputs (print_cons) performs.
func (d *Dispatcher) sysPutchar(tf *trapframe.Trapframe) (int32, errno.Errno) {
	d.Console.PutByte(byte(tf.Arg(0)))
	return 0, errno.Ok
}

// sysCputs implements print_cons(buf, len): every byte of the validated
// user buffer is walked and written to the console individually, unlike
// Putchar's single raw byte.
func (d *Dispatcher) sysCputs(env *envtab.Env, tf *trapframe.Trapframe) (int32, errno.Errno) {
	va := addr.VirtAddr(tf.Arg(0))
	n := tf.Arg(1)
	for i := uint32(0); i < n; i++ {
		b, err := readUserByte(env, d.Frames, va+addr.VirtAddr(i))
		if err != errno.Ok {
			return 0, err
		}
		d.Console.PutByte(b)
	}
	return 0, errno.Ok
}

func (d *Dispatcher) sysCgetc() (int32, errno.Errno) {
	b, ok := d.Console.GetByte()
	if !ok {
		return -1, errno.Ok
	}
	return int32(b), errno.Ok
}

// sysExofork implements spec.md §4.7's exofork: a new environment is
// allocated as a copy of the caller (pgdir contents are left for the
// caller to populate via PageMap, matching the fork-is-cheap exokernel
// style), its saved trapframe is the caller's current registers with v0
// forced to 0 so the child observes exofork returning 0, while the
// parent's own v0 (set by Dispatch after this returns) carries the new
// child's id.
func (d *Dispatcher) sysExofork(cur int32, tf *trapframe.Trapframe) (int32, errno.Errno) {
	parent := d.Envs.Env(cur)
	childID, err := d.Envs.Alloc(parent.ID)
	if err != errno.Ok {
		return 0, err
	}
	childSlot, _ := d.Envs.EnvID2Ind(childID, false)
	child := d.Envs.Env(childSlot)
	child.TF = *tf
	child.TF.SetReturn(0)
	child.Priority = parent.Priority
	return int32(childID), errno.Ok
}

func (d *Dispatcher) sysEnvDestroy(cur int32, target envtab.EnvID) errno.Errno {
	slot, err := d.Envs.EnvID2Ind(target, true)
	if err != errno.Ok {
		return err
	}
	d.Envs.Free(slot, func(pt *pagetable.Table, asid uint8) {
		for va := addr.VirtAddr(0); va < addr.UTOP; va += addr.PageSize {
			if va >= addr.UVPT && va < addr.ULIM {
				continue // the UVPT window aliases the directory itself
			}
			pt.Remove(asid, va)
		}
	})
	if slot == cur {
		// The destroyed environment was the caller: its slot no
		// longer exists, so this syscall must never resume it.
		// envtab.Table.Free already cleared Envs.Current to
		// ilist.None, so the scheduler switch below picks a
		// different environment and Table.Run skips trying to save
		// a trapframe for the (now nonexistent) dying slot.
		d.Sched.Yield()
		d.switchPending = true
	}
	return errno.Ok
}

func (d *Dispatcher) sysEnvSetStatus(cur int32, target envtab.EnvID, status uint32) errno.Errno {
	slot, err := d.Envs.EnvID2Ind(target, true)
	if err != errno.Ok {
		return err
	}
	switch envtab.Status(status) {
	case envtab.Runnable:
		d.Envs.SetRunnable(slot)
	case envtab.NotRunnable:
		d.Envs.SetNotRunnable(slot)
	default:
		return errno.Inval
	}
	return errno.Ok
}

func (d *Dispatcher) sysEnvSetPgfaultUpcall(cur int32, target envtab.EnvID, upcall addr.VirtAddr) errno.Errno {
	slot, err := d.Envs.EnvID2Ind(target, true)
	if err != errno.Ok {
		return err
	}
	e := d.Envs.Env(slot)
	e.UserTLBModVA = upcall
	return errno.Ok
}

func (d *Dispatcher) sysPageAlloc(cur int32, target envtab.EnvID, va addr.VirtAddr, perm pte.Flag) errno.Errno {
	slot, err := d.Envs.EnvID2Ind(target, true)
	if err != errno.Ok {
		return err
	}
	if !va.Aligned() || va >= addr.UTOP {
		return errno.Inval
	}
	e := d.Envs.Env(slot)
	ppn, err := d.Frames.Alloc()
	if err != errno.Ok {
		return err
	}
	return e.Pgdir().Insert(e.ASID, ppn, va, perm)
}

func (d *Dispatcher) sysPageMap(cur int32, tf *trapframe.Trapframe) errno.Errno {
	srcSlot, err := d.Envs.EnvID2Ind(envtab.EnvID(tf.Arg(0)), true)
	if err != errno.Ok {
		return err
	}
	srcVA := addr.VirtAddr(tf.Arg(1))

	dstWord, err := readUserStackArg(d.Envs.Env(cur), d.Frames, tf, 2)
	if err != errno.Ok {
		return err
	}
	dstSlot, err := d.Envs.EnvID2Ind(envtab.EnvID(dstWord), true)
	if err != errno.Ok {
		return err
	}
	dstVA, err := readUserStackArg(d.Envs.Env(cur), d.Frames, tf, 3)
	if err != errno.Ok {
		return err
	}
	permWord, err := readUserStackArg(d.Envs.Env(cur), d.Frames, tf, 4)
	if err != errno.Ok {
		return err
	}

	src := d.Envs.Env(srcSlot)
	dst := d.Envs.Env(dstSlot)
	ppn, _, err := src.Pgdir().Lookup(srcVA)
	if err != errno.Ok {
		return err
	}
	if !addr.VirtAddr(dstVA).Aligned() || addr.VirtAddr(dstVA) >= addr.UTOP {
		return errno.Inval
	}
	return dst.Pgdir().Insert(dst.ASID, ppn, addr.VirtAddr(dstVA), pte.Flag(permWord))
}

func (d *Dispatcher) sysPageUnmap(cur int32, target envtab.EnvID, va addr.VirtAddr) errno.Errno {
	slot, err := d.Envs.EnvID2Ind(target, true)
	if err != errno.Ok {
		return err
	}
	e := d.Envs.Env(slot)
	e.Pgdir().Remove(e.ASID, va)
	return errno.Ok
}

func (d *Dispatcher) sysIPCTrySend(cur int32, tf *trapframe.Trapframe) errno.Errno {
	env := d.Envs.Env(cur)
	toID := envtab.EnvID(tf.Arg(0))
	value := tf.Arg(1)
	srcVA := addr.VirtAddr(tf.Arg(2))
	srcValid := srcVA != 0
	permWord, err := readUserStackArg(env, d.Frames, tf, 3)
	if err != errno.Ok {
		permWord = 0
	}
	return d.IPC.Send(env.ID, toID, value, srcVA, srcValid, pte.Flag(permWord))
}

func (d *Dispatcher) sysIPCRecv(cur int32, dstVA addr.VirtAddr, dstValid bool) errno.Errno {
	if err := d.IPC.Recv(cur, dstVA, dstValid); err != errno.Ok {
		return err
	}
	d.Sched.Yield()
	d.switchPending = true
	return errno.Ok
}

func (d *Dispatcher) sysEnvSetTrapframe(cur int32, target envtab.EnvID, tfVA addr.VirtAddr) errno.Errno {
	slot, err := d.Envs.EnvID2Ind(target, true)
	if err != errno.Ok {
		return err
	}
	e := d.Envs.Env(slot)
	raw, rerr := readUserBlock(e, d.Frames, tfVA, int(unsafe.Sizeof(trapframe.Trapframe{})))
	if rerr != errno.Ok {
		return rerr
	}
	e.TF = *(*trapframe.Trapframe)(unsafe.Pointer(&raw[0]))
	return errno.Ok
}

func (d *Dispatcher) sysShmGet(tf *trapframe.Trapframe) (int32, errno.Errno) {
	id, err := d.Shm.Get(int32(tf.Arg(0)), tf.Arg(1), tf.Arg(2) != 0)
	return id, err
}

func (d *Dispatcher) sysShmAt(env *envtab.Env, tf *trapframe.Trapframe) errno.Errno {
	return d.Shm.Attach(env, int32(tf.Arg(0)), addr.VirtAddr(tf.Arg(1)), pte.Flag(tf.Arg(2)))
}

func (d *Dispatcher) sysSemWait(tf *trapframe.Trapframe) (int32, errno.Errno) {
	acquired, err := d.Sem.Wait(int32(tf.Arg(0)))
	if err != errno.Ok {
		return 0, err
	}
	if !acquired {
		return 1, errno.Ok
	}
	return 0, errno.Ok
}

func (d *Dispatcher) sysEnvSetPriority(cur int32, target envtab.EnvID, priority int) errno.Errno {
	slot, err := d.Envs.EnvID2Ind(target, true)
	if err != errno.Ok {
		return err
	}
	if priority < 1 {
		return errno.Inval
	}
	d.Envs.Env(slot).Priority = priority
	return errno.Ok
}

// sysPanic implements spec.md §4.7 syscall 12: a user-supplied,
// NUL-terminated message is read out of the caller's own address space
// (so it can never reach further than the caller's own pages) and
// handed to the kernel's panic path.
func (d *Dispatcher) sysPanic(env *envtab.Env, tf *trapframe.Trapframe) errno.Errno {
	msgVA := addr.VirtAddr(tf.Arg(0))
	msg, err := readUserCString(env, d.Frames, msgVA, 256)
	if err != errno.Ok {
		return err
	}
	panic("user panic: " + msg)
}

// sysReadDev implements spec.md §4.9: read_dev(pa, len) loads len bytes
// (len ∈ {1,2,4}) from the physical address pa through the devmmio gate.
func (d *Dispatcher) sysReadDev(tf *trapframe.Trapframe) (int32, errno.Errno) {
	pa := addr.PhysAddr(tf.Arg(0))
	n := tf.Arg(1)
	v, err := d.Devmmio.Read(pa, n)
	if err != errno.Ok {
		return 0, err
	}
	return int32(v), errno.Ok
}

// sysWriteDev implements spec.md §4.9: write_dev(pa, val, len) stores the
// low len bytes of val to the physical address pa through the devmmio
// gate.
func (d *Dispatcher) sysWriteDev(tf *trapframe.Trapframe) errno.Errno {
	pa := addr.PhysAddr(tf.Arg(0))
	val := tf.Arg(1)
	n := tf.Arg(2)
	return d.Devmmio.Write(pa, n, val)
}

func (d *Dispatcher) sysSpawn(tf *trapframe.Trapframe) (int32, errno.Errno) {
	env := d.Envs.Env(d.Envs.Current())
	binVA := addr.VirtAddr(tf.Arg(0))
	binLen := tf.Arg(1)
	priority := int(tf.Arg(2))
	raw, err := readUserBlock(env, d.Frames, binVA, int(binLen))
	if err != errno.Ok {
		return 0, err
	}
	id, serr := d.Spawn(raw, priority)
	return int32(id), serr
}
