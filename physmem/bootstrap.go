// Package physmem implements the physical frame allocator: a linear
// bootstrap allocator used only to build the core page table during stage
// 1, and the lock-free, per-CPU-sharded free-list allocator that serves
// every allocation afterward.
package physmem

import (
	"github.com/CascadeOS/CascadeOS-sub010/addr"
	"github.com/CascadeOS/CascadeOS-sub010/errs"
	"github.com/CascadeOS/CascadeOS-sub010/memmap"
)

// bootstrapRegion tracks one free memory-map region's bump-allocation
// cursor during stage 1, before the real frame array exists.
type bootstrapRegion struct {
	startFrame     Frame
	firstFreeIndex uint64
	frameCount     uint64
}

// BootstrapAllocator is a linear, per-region bump allocator that walks the
// boot collaborator's memory map. It never frees: deallocation during
// stage 1 is a programming error. Once stage 1 has built the
// core page table, whatever memory it did not consume is handed to the
// normal Pages allocator via Init.
type BootstrapAllocator struct {
	regions []bootstrapRegion
}

// NewBootstrapAllocator walks mapEntries and records every Free region.
func NewBootstrapAllocator(mapEntries []memmap.Entry) *BootstrapAllocator {
	b := &BootstrapAllocator{}
	for _, e := range mapEntries {
		if e.Kind != memmap.Free {
			continue
		}
		if !e.Valid() {
			panic("physmem: memory-map entry size not a multiple of the page size")
		}
		frameCount := uint64(e.Range.Size) / addr.PageSize
		if frameCount == 0 {
			continue
		}
		b.regions = append(b.regions, bootstrapRegion{
			startFrame: frameOf(e.Range.Base),
			frameCount: frameCount,
		})
	}
	return b
}

// Allocate returns the next free frame from the first region with
// remaining capacity, or an error if every region is exhausted.
func (b *BootstrapAllocator) Allocate() (Frame, error) {
	for i := range b.regions {
		r := &b.regions[i]
		if r.firstFreeIndex < r.frameCount {
			f := r.startFrame + Frame(r.firstFreeIndex)
			r.firstFreeIndex++
			return f, nil
		}
	}
	return 0, errs.New("physmem.BootstrapAllocator.Allocate", errs.OutOfMemory)
}

// Deallocate is unsupported during bootstrap: the bootstrap allocator never
// frees.
func (b *BootstrapAllocator) Deallocate(Frame) {
	panic("physmem: BootstrapAllocator does not support deallocation")
}

// Regions exposes the per-region bump cursors so the page-array builder
// (Init) can tell which frames were already handed out during
// bootstrap and must therefore be excluded from the post-bootstrap free
// list.
func (b *BootstrapAllocator) Regions() []bootstrapRegion { return b.regions }

func frameOf(pa addr.PhysicalAddress) Frame {
	if !pa.Aligned(addr.PageSize) {
		panic("physmem: unaligned physical address")
	}
	return Frame(uint64(pa) / addr.PageSize)
}
