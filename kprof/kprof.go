// Package kprof builds pprof-format snapshots of frame-allocator
// occupancy so a developer can pull a profile off a running (or
// post-mortem) kernel image and inspect it with the standard pprof
// toolchain, rather than parsing an ad hoc text dump (spec.md §6
// "external interfaces" debug surface).
//
// Grounded on the teacher's stats package (stats/stats.go), which
// accumulates runtime counters for later inspection; generalized here
// from plain counters to a real github.com/google/pprof/profile.Profile
// so the frame table's refcount distribution can be opened directly in
// `pprof -http` instead of a bespoke viewer.
package kprof

import (
	"bytes"
	"fmt"

	"github.com/google/pprof/profile"

	"exomips/addr"
	"exomips/frame"
)

// FrameProfile builds one pprof sample per allocated physical frame,
// grouped by reference count, so a quick glance at the flame graph shows
// whether memory pressure is coming from many singly-referenced pages or
// a few heavily shared ones.
func FrameProfile(frames *frame.Table, nowNanos int64) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "frames", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     1,
		TimeNanos:  nowNanos,
	}

	funcByRefcnt := map[int]*profile.Function{}
	locByRefcnt := map[int]*profile.Location{}
	var nextID uint64 = 1

	start := frames.Start()
	for i := 0; i < frames.NumFrames(); i++ {
		ppn := addr.PhysPageNum(uint32(start) + uint32(i))
		refcnt := frames.Refcnt(ppn)
		if refcnt == 0 {
			continue
		}
		loc, ok := locByRefcnt[refcnt]
		if !ok {
			fn := &profile.Function{ID: nextID, Name: fmt.Sprintf("refcount=%d", refcnt)}
			nextID++
			p.Function = append(p.Function, fn)
			funcByRefcnt[refcnt] = fn

			loc = &profile.Location{ID: nextID, Line: []profile.Line{{Function: fn}}}
			nextID++
			p.Location = append(p.Location, loc)
			locByRefcnt[refcnt] = loc
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{1},
		})
	}
	return p
}

// Encode serializes a profile to the gzip'd protobuf wire format pprof
// tooling reads directly.
func Encode(p *profile.Profile) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
