package scall

import (
	"unsafe"

	"exomips/addr"
	"exomips/envtab"
	"exomips/errno"
	"exomips/frame"
	"exomips/trapframe"
)

// readUserByte translates va through env's page table and returns the
// byte stored there, failing with Inval if va is unmapped — the same
// checked-pointer discipline the teacher's util.Readn applies before any
// user-supplied address is dereferenced.
func readUserByte(env *envtab.Env, frames *frame.Table, va addr.VirtAddr) (byte, errno.Errno) {
	pa, ok := env.Pgdir().Translate(va)
	if !ok {
		return 0, errno.Inval
	}
	return frames.Bytes(pa.PageNum())[pa.Offset()], errno.Ok
}

// readUserWord reads one 4-byte-aligned word from user memory.
func readUserWord(env *envtab.Env, frames *frame.Table, va addr.VirtAddr) (uint32, errno.Errno) {
	pa, ok := env.Pgdir().Translate(va)
	if !ok {
		return 0, errno.Inval
	}
	off := pa.Offset()
	if off%4 != 0 || off+4 > addr.PageSize {
		return 0, errno.Inval
	}
	b := frames.Bytes(pa.PageNum())
	return *(*uint32)(unsafe.Pointer(&b[off])), errno.Ok
}

// readUserStackArg resolves syscall argument index (0-based): indices
// 0-2 come from a1-a3 directly, indices 3 and beyond are fetched from
// the caller's stack starting at sp+16, the o32 MIPS convention of
// reserving four register-argument-sized stack slots before any
// stack-passed argument (spec.md §4.7).
func readUserStackArg(env *envtab.Env, frames *frame.Table, tf *trapframe.Trapframe, index int) (uint32, errno.Errno) {
	if index < 3 {
		return tf.Arg(index), errno.Ok
	}
	sp := addr.VirtAddr(tf.GPR[trapframe.RegSP])
	off := addr.VirtAddr(16 + (index-3)*4)
	return readUserWord(env, frames, sp+off)
}

// readUserBlock copies n bytes starting at va out of env's address space.
func readUserBlock(env *envtab.Env, frames *frame.Table, va addr.VirtAddr, n int) ([]byte, errno.Errno) {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := readUserByte(env, frames, va+addr.VirtAddr(i))
		if err != errno.Ok {
			return nil, err
		}
		out[i] = b
	}
	return out, errno.Ok
}

// readUserCString reads a NUL-terminated string up to maxLen bytes
// (exclusive of the terminator), failing with Inval if no terminator
// appears within that bound.
func readUserCString(env *envtab.Env, frames *frame.Table, va addr.VirtAddr, maxLen int) (string, errno.Errno) {
	buf := make([]byte, 0, maxLen)
	for i := 0; i < maxLen; i++ {
		b, err := readUserByte(env, frames, va+addr.VirtAddr(i))
		if err != errno.Ok {
			return "", err
		}
		if b == 0 {
			return string(buf), errno.Ok
		}
		buf = append(buf, b)
	}
	return "", errno.Inval
}
