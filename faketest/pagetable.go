package faketest

import (
	"github.com/CascadeOS/CascadeOS-sub010/addr"
	"github.com/CascadeOS/CascadeOS-sub010/errs"
	"github.com/CascadeOS/CascadeOS-sub010/pgtable"
	"github.com/CascadeOS/CascadeOS-sub010/physmem"
)

// PageTable is an in-memory, single-level map standing in for a real
// architecture's hardware page table: every leaf, regardless of size, is
// just an entry in a Go map keyed by its base virtual address.
type PageTable struct {
	standard addr.Size
	sizes    []addr.Size
	leaves   map[addr.VirtualAddress]leaf
}

type leaf struct {
	pa   addr.PhysicalAddress
	size addr.Size
	mt   pgtable.MapType
}

// NewPageTable returns an empty PageTable supporting only the standard page
// size, unless extra sizes are given (largest first).
func NewPageTable(standard addr.Size, extraSizesDescending ...addr.Size) *PageTable {
	return &PageTable{
		standard: standard,
		sizes:    append(append([]addr.Size{}, extraSizesDescending...), standard),
		leaves:   make(map[addr.VirtualAddress]leaf),
	}
}

func (t *PageTable) StandardPageSize() addr.Size    { return t.standard }
func (t *PageTable) SupportedPageSizes() []addr.Size { return t.sizes }

func (t *PageTable) MapSinglePage(va addr.VirtualAddress, pa addr.PhysicalAddress, size addr.Size, mt pgtable.MapType, alloc pgtable.FrameAllocator) error {
	if _, ok := t.leaves[va]; ok {
		return errs.New("faketest.PageTable.MapSinglePage", errs.AlreadyMapped)
	}
	t.leaves[va] = leaf{pa: pa, size: size, mt: mt}
	return nil
}

func (t *PageTable) UnmapSinglePage(va addr.VirtualAddress, size addr.Size, alloc pgtable.FrameAllocator) (bool, error) {
	if _, ok := t.leaves[va]; !ok {
		return false, errs.New("faketest.PageTable.UnmapSinglePage", errs.NotMapped)
	}
	delete(t.leaves, va)
	return false, nil
}

func (t *PageTable) Lookup(va addr.VirtualAddress) (addr.PhysicalAddress, addr.Size, pgtable.MapType, bool) {
	l, ok := t.leaves[va]
	if !ok {
		return 0, 0, pgtable.MapType{}, false
	}
	return l.pa, l.size, l.mt, true
}

// TLBShootdown records every range it was asked to invalidate, for
// assertions in tests.
type TLBShootdown struct {
	Invalidated []addr.VirtualRange
}

func (s *TLBShootdown) InvalidateRange(rng addr.VirtualRange) {
	s.Invalidated = append(s.Invalidated, rng)
}

// PageZeroer records zero/copy calls instead of touching real memory —
// there is no direct map to write through on a hosted test runtime.
type PageZeroer struct {
	Zeroed []physmem.Frame
	Copied [][2]physmem.Frame
}

func (z *PageZeroer) ZeroFrame(f physmem.Frame) {
	z.Zeroed = append(z.Zeroed, f)
}

func (z *PageZeroer) CopyFrame(dst, src physmem.Frame) {
	z.Copied = append(z.Copied, [2]physmem.Frame{dst, src})
}
