// Package ipc implements the single-slot rendezvous of spec.md §4.8: a
// receiver blocks in ipc_recv until a sender arrives, a value and
// optionally one page of memory changes hands, and exactly one
// previously-blocked receiver is woken per send.
//
// The teacher's own pipe/socket wait-channel source (inet/, fdops/) ships
// no file content in this tree, only go.mod stubs, so the single-
// pending-message protocol here is drawn directly from spec.md §4.8:
// one slot of receiver-side pending state, filled by exactly one sender,
// rather than a byte-stream buffer.
package ipc

import (
	"exomips/addr"
	"exomips/envtab"
	"exomips/errno"
	"exomips/frame"
	"exomips/pte"
)

// Service wires the environment table and frame allocator the rendezvous
// needs to transfer a page between address spaces.
type Service struct {
	envs   *envtab.Table
	frames *frame.Table
}

// New builds an IPC service.
func New(envs *envtab.Table, frames *frame.Table) *Service {
	return &Service{envs: envs, frames: frames}
}

// Recv marks the calling environment ready to receive: if dstValid, a
// successful send maps its page at dstVA; otherwise sends may carry a
// value but no page. The environment is taken off the runnable list
// immediately; the caller (the scall dispatcher) is responsible for
// invoking the scheduler next, since Recv never itself picks a new
// environment (spec.md §4.8: "ipc_recv blocks the caller and reschedules").
func (s *Service) Recv(slot int32, dstVA addr.VirtAddr, dstValid bool) errno.Errno {
	if dstValid && !dstVA.Aligned() {
		return errno.Inval
	}
	e := s.envs.Env(slot)
	e.IPCReceiving = true
	e.IPCDstVA = dstVA
	e.IPCDstValid = dstValid
	s.envs.SetNotRunnable(slot)
	return errno.Ok
}

// Send implements ipc_try_send: resolve toID, fail with IpcNotRecv unless
// the target is currently blocked in Recv, otherwise deliver value (and
// srcVA's page, if both sides opted into a page transfer) and wake the
// receiver. Per spec.md §4.8, a page is transferred only when the sender
// supplies a valid srcVA and the receiver's stored dstValid is true; a
// one-sided request silently transfers no page but still delivers value.
func (s *Service) Send(fromID envtab.EnvID, toID envtab.EnvID, value uint32, srcVA addr.VirtAddr, srcValid bool, perm pte.Flag) errno.Errno {
	toSlot, err := s.envs.EnvID2Ind(toID, false)
	if err != errno.Ok {
		return err
	}
	target := s.envs.Env(toSlot)
	if !target.IPCReceiving {
		return errno.IpcNotRecv
	}

	if srcValid && !srcVA.Aligned() {
		return errno.Inval
	}

	fromSlot, ferr := s.envs.EnvID2Ind(fromID, false)
	if ferr != errno.Ok {
		return ferr
	}
	from := s.envs.Env(fromSlot)

	transferred := false
	if srcValid && target.IPCDstValid {
		ppn, _, lerr := from.Pgdir().Lookup(srcVA)
		if lerr != errno.Ok {
			return lerr
		}
		if ierr := target.Pgdir().Insert(target.ASID, ppn, target.IPCDstVA, perm); ierr != errno.Ok {
			return ierr
		}
		transferred = true
	}

	target.IPCReceiving = false
	target.IPCValue = value
	target.IPCFrom = fromID
	if !transferred {
		target.IPCPerm = 0
	} else {
		target.IPCPerm = perm
	}
	s.envs.SetRunnable(toSlot)
	return errno.Ok
}
