// Package ilist implements an O(1) doubly-linked list over a fixed-size
// slot array, indexed by slot number rather than by pointer. The frame
// allocator's free list and the scheduler's runnable list are both
// instances of this structure.
//
// The design generalizes the teacher's single-linked, index-based free
// list (mem.Physpg_t.nexti in mem/mem.go, which only needs O(1) push/pop
// at the ends) to a doubly-linked list that also supports O(1) removal
// from the middle and O(1) move-to-tail, both of which the scheduler
// needs when rotating the current env.
package ilist

// None is the sentinel "no slot" value, analogous to the teacher's
// ^uint32(0) end-of-list marker.
const None int32 = -1

// Node is the embeddable link pair for one slot. Callers keep a Node per
// slot in their own slot array and hand this package accessor functions.
type Node struct {
	Prev, Next int32
}

// List is a doubly-linked list of slot indices. It does not own the
// slots themselves; Get/Set access the caller's backing array so the
// list can live alongside other per-slot fields without extra
// indirection or allocation.
type List struct {
	head, tail int32
	length     int
	get        func(idx int32) *Node
}

// New builds an empty list backed by the accessor get, which must return
// a pointer to the Node embedded in slot idx.
func New(get func(idx int32) *Node) *List {
	return &List{head: None, tail: None, get: get}
}

// Len returns the number of slots currently linked.
func (l *List) Len() int {
	return l.length
}

// Empty reports whether the list has no slots linked.
func (l *List) Empty() bool {
	return l.length == 0
}

// Head returns the first slot index, or None if the list is empty.
func (l *List) Head() int32 {
	return l.head
}

// Tail returns the last slot index, or None if the list is empty.
func (l *List) Tail() int32 {
	return l.tail
}

// PushTail links idx at the end of the list. idx must not already be linked.
func (l *List) PushTail(idx int32) {
	n := l.get(idx)
	n.Prev = l.tail
	n.Next = None
	if l.tail != None {
		l.get(l.tail).Next = idx
	} else {
		l.head = idx
	}
	l.tail = idx
	l.length++
}

// PushHead links idx at the front of the list. idx must not already be linked.
func (l *List) PushHead(idx int32) {
	n := l.get(idx)
	n.Next = l.head
	n.Prev = None
	if l.head != None {
		l.get(l.head).Prev = idx
	} else {
		l.tail = idx
	}
	l.head = idx
	l.length++
}

// PopHead unlinks and returns the first slot index, or None if empty.
func (l *List) PopHead() int32 {
	idx := l.head
	if idx == None {
		return None
	}
	l.Remove(idx)
	return idx
}

// Remove unlinks idx from wherever it currently sits in the list. It is
// the caller's responsibility to know idx is actually linked; removing an
// unlinked slot corrupts the list silently, exactly as a stray free of an
// already-free frame corrupts the teacher's free list.
func (l *List) Remove(idx int32) {
	n := l.get(idx)
	if n.Prev != None {
		l.get(n.Prev).Next = n.Next
	} else {
		l.head = n.Next
	}
	if n.Next != None {
		l.get(n.Next).Prev = n.Prev
	} else {
		l.tail = n.Prev
	}
	n.Prev, n.Next = None, None
	l.length--
}

// MoveToTail unlinks idx and relinks it at the tail. Used by the
// scheduler to rotate the current, still-runnable env behind the rest of
// the ready queue.
func (l *List) MoveToTail(idx int32) {
	l.Remove(idx)
	l.PushTail(idx)
}
