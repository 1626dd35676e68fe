package faketest

import (
	"github.com/CascadeOS/CascadeOS-sub010/errs"
	"github.com/CascadeOS/CascadeOS-sub010/physmem"
)

// Frames is a bump-allocating physical frame source: it never reuses a
// deallocated frame, which is wrong for a real allocator but exercises
// every uvm fault path that only needs a distinct, zeroable frame per
// call.
type Frames struct {
	pages []physmem.Page
	next  uint64
}

// NewFrames returns a Frames collaborator able to hand out count distinct
// frames, numbered from base.
func NewFrames(base physmem.Frame, count uint64) *Frames {
	pages := make([]physmem.Page, count)
	for i := range pages {
		pages[i].Frame = base + physmem.Frame(i)
	}
	return &Frames{pages: pages}
}

func (f *Frames) Allocate() (physmem.Frame, error) {
	if f.next >= uint64(len(f.pages)) {
		return 0, errs.New("faketest.Frames.Allocate", errs.OutOfMemory)
	}
	fr := f.pages[f.next].Frame
	f.pages[f.next].ReferenceCount = 1
	f.next++
	return fr, nil
}

func (f *Frames) Deallocate(frames []physmem.Frame) {
	for _, fr := range frames {
		f.Page(fr).ReferenceCount = 0
	}
}

func (f *Frames) Page(fr physmem.Frame) *physmem.Page {
	return &f.pages[uint64(fr)-uint64(f.pages[0].Frame)]
}
