package ilist_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"exomips/ilist"
)

func newTestList(n int) (*ilist.List, []ilist.Node) {
	nodes := make([]ilist.Node, n)
	return ilist.New(func(idx int32) *ilist.Node { return &nodes[idx] }), nodes
}

func TestPushTailFIFO(t *testing.T) {
	l, _ := newTestList(4)
	l.PushTail(0)
	l.PushTail(1)
	l.PushTail(2)

	require.Equal(t, int32(0), l.PopHead())
	require.Equal(t, int32(1), l.PopHead())
	require.Equal(t, int32(2), l.PopHead())
	require.Equal(t, ilist.None, l.PopHead())
	require.True(t, l.Empty())
}

func TestRemoveMiddle(t *testing.T) {
	l, _ := newTestList(3)
	l.PushTail(0)
	l.PushTail(1)
	l.PushTail(2)

	l.Remove(1)
	require.Equal(t, 2, l.Len())
	require.Equal(t, int32(0), l.PopHead())
	require.Equal(t, int32(2), l.PopHead())
}

func TestMoveToTail(t *testing.T) {
	l, _ := newTestList(3)
	l.PushTail(0)
	l.PushTail(1)
	l.PushTail(2)

	l.MoveToTail(0)
	require.Equal(t, int32(1), l.Head())
	require.Equal(t, int32(0), l.Tail())
	require.Equal(t, 3, l.Len())
}

func TestPushHead(t *testing.T) {
	l, _ := newTestList(2)
	l.PushTail(0)
	l.PushHead(1)
	require.Equal(t, int32(1), l.Head())
	require.Equal(t, int32(0), l.Tail())
}
