package frame_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"exomips/addr"
	"exomips/errno"
	"exomips/frame"
)

func newTestTable(t *testing.T, n int) *frame.Table {
	t.Helper()
	pages := make([][addr.PageSize]byte, n)
	return frame.New(0, n, func(ppn addr.PhysPageNum) *[addr.PageSize]byte {
		return &pages[ppn]
	})
}

func TestAllocDeallocFIFO(t *testing.T) {
	tab := newTestTable(t, 4)

	a, err := tab.Alloc()
	require.Equal(t, errno.Ok, err)
	b, err := tab.Alloc()
	require.Equal(t, errno.Ok, err)

	require.Equal(t, 2, tab.NumFree())

	tab.Incref(a)
	require.Equal(t, 1, tab.Refcnt(a))
	require.True(t, tab.Decref(a))
	require.Equal(t, 3, tab.NumFree())

	tab.Dealloc(b)
	require.Equal(t, 4, tab.NumFree())
}

func TestExhaustion(t *testing.T) {
	tab := newTestTable(t, 1)
	_, err := tab.Alloc()
	require.Equal(t, errno.Ok, err)
	_, err = tab.Alloc()
	require.Equal(t, errno.NoMem, err)
}

func TestDeallocLiveFramePanics(t *testing.T) {
	tab := newTestTable(t, 1)
	ppn, _ := tab.Alloc()
	tab.Incref(ppn)
	require.Panics(t, func() { tab.Dealloc(ppn) })
}

func TestReserveRemovesFromFreeList(t *testing.T) {
	tab := newTestTable(t, 8)
	tab.Reserve(0, 3)
	require.Equal(t, 5, tab.NumFree())
	require.Equal(t, 1, tab.Refcnt(0))
}

func TestAllocZeroesFrame(t *testing.T) {
	tab := newTestTable(t, 1)
	ppn, _ := tab.Alloc()
	b := tab.Bytes(ppn)
	b[10] = 0xFF
	tab.Incref(ppn)
	tab.Decref(ppn)

	ppn2, _ := tab.Alloc()
	require.Equal(t, ppn, ppn2)
	require.Equal(t, byte(0), tab.Bytes(ppn2)[10])
}
