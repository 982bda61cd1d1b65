// Package elfload parses and places ELF32 MIPS program images, the
// backing implementation for the Spawn syscall and the boot-time loading
// of the first environment (spec.md §4.7 "Spawn", §6 "ELF loader").
//
// Grounded on the teacher's chentry host tool (kernel/chentry.go), which
// also opens and edits an ELF file's header via debug/elf rather than
// hand-rolling an ELF parser; generalized here from patching one field
// of an already-linked binary to parsing every PT_LOAD program header
// and placing its contents page by page, and specialized to reject
// anything but EM_MIPS/ELFCLASS32 rather than the teacher's
// EM_X86_64/ELFCLASS64 assumption.
package elfload

import (
	"bytes"
	"debug/elf"
	"io"

	"exomips/addr"
	"exomips/errno"
	"exomips/util"
)

// Segment is one PT_LOAD program header, ready to be placed page by page.
type Segment struct {
	VA       addr.VirtAddr
	Data     []byte // file contents, length <= MemSize
	MemSize  uint32
	Writable bool
}

// Image is a parsed ELF32 MIPS binary: its entry point and loadable
// segments in file order.
type Image struct {
	Entry    addr.VirtAddr
	Segments []Segment
}

// Parse reads an ELF32 MIPS executable out of binary. Anything that is
// not a well-formed little- or big-endian MIPS32 executable fails with
// NotExec, matching spec.md's treatment of a malformed Spawn argument as
// a recoverable error rather than a kernel panic.
func Parse(binary []byte) (Image, errno.Errno) {
	f, err := elf.NewFile(bytes.NewReader(binary))
	if err != nil {
		return Image{}, errno.NotExec
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 || f.Machine != elf.EM_MIPS || f.Type != elf.ET_EXEC {
		return Image{}, errno.NotExec
	}

	img := Image{Entry: addr.VirtAddr(f.Entry)}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, p.Filesz)
		if _, rerr := io.ReadFull(p.Open(), data); rerr != nil {
			return Image{}, errno.NotExec
		}
		img.Segments = append(img.Segments, Segment{
			VA:       addr.VirtAddr(p.Vaddr),
			Data:     data,
			MemSize:  uint32(p.Memsz),
			Writable: p.Flags&elf.PF_W != 0,
		})
	}
	return img, errno.Ok
}

// PagePut hands the loader a zeroed, writable page already mapped at va
// so it can copy file contents in; supplied by the caller (envtab-backed
// allocation) so this package has no dependency on pagetable or frame.
type PagePut func(va addr.VirtAddr, writable bool) (*[addr.PageSize]byte, errno.Errno)

// Place copies every segment's file bytes (and zero-extends the
// remainder up to MemSize, covering .bss) into pages supplied by put,
// one page at a time in ascending VA order within each segment.
func Place(img Image, put PagePut) errno.Errno {
	for _, seg := range img.Segments {
		if err := placeSegment(seg, put); err != errno.Ok {
			return err
		}
	}
	return errno.Ok
}

func placeSegment(seg Segment, put PagePut) errno.Errno {
	base := seg.VA.PageDown()
	end := (seg.VA + addr.VirtAddr(seg.MemSize) + addr.PageSize - 1).PageDown()

	for pageVA := base; pageVA < end; pageVA += addr.PageSize {
		page, err := put(pageVA, seg.Writable)
		if err != errno.Ok {
			return err
		}
		copySegmentPage(seg, pageVA, page)
	}
	return errno.Ok
}

// copySegmentPage writes the slice of seg.Data (if any) overlapping the
// page starting at pageVA into page.
func copySegmentPage(seg Segment, pageVA addr.VirtAddr, page *[addr.PageSize]byte) {
	pageStart := uint32(pageVA)
	pageEnd := pageStart + addr.PageSize
	segStart := uint32(seg.VA)
	fileEnd := segStart + uint32(len(seg.Data))

	lo := util.Max(pageStart, segStart)
	hi := util.Min(pageEnd, fileEnd)
	if lo >= hi {
		return
	}
	copy(page[lo-pageStart:hi-pageStart], seg.Data[lo-segStart:hi-segStart])
}
