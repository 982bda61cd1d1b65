package kprof_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"exomips/addr"
	"exomips/errno"
	"exomips/frame"
	"exomips/kprof"
)

func newFrames(t *testing.T, n int) *frame.Table {
	t.Helper()
	backing := make([][addr.PageSize]byte, n)
	return frame.New(0, n, func(ppn addr.PhysPageNum) *[addr.PageSize]byte {
		return &backing[int(ppn)]
	})
}

func TestFrameProfileOneSamplePerAllocatedFrame(t *testing.T) {
	frames := newFrames(t, 8)

	a, err := frames.Alloc()
	require.Equal(t, errno.Ok, err)
	frames.Incref(a)

	b, err := frames.Alloc()
	require.Equal(t, errno.Ok, err)
	frames.Incref(b)
	frames.Incref(b) // refcnt 2, so it shares a location with no other frame

	p := kprof.FrameProfile(frames, 1000)
	require.Len(t, p.Sample, 2)
	require.Len(t, p.SampleType, 1)
	require.Equal(t, "frames", p.SampleType[0].Type)

	// The two allocated frames have distinct refcounts (1 and 2), so each
	// gets its own function/location; unallocated frames contribute none.
	require.Len(t, p.Location, 2)
	require.Len(t, p.Function, 2)
}

func TestFrameProfileEncodeRoundTrips(t *testing.T) {
	frames := newFrames(t, 2)
	ppn, err := frames.Alloc()
	require.Equal(t, errno.Ok, err)
	frames.Incref(ppn)

	p := kprof.FrameProfile(frames, 1)
	data, encErr := kprof.Encode(p)
	require.NoError(t, encErr)
	require.NotEmpty(t, data)
}
