// Package pgtable implements the architecture-independent page-table
// mapping logic: given a virtual range, a physical range and a map type,
// it walks (and builds, as needed) the hardware page table using the
// largest page size available at each step.
//
// The concrete per-architecture bit layout is an external collaborator;
// this package only knows the abstract PageTable capability set, which
// keeps the walking and size-selection logic reusable across every
// architecture that implements it.
package pgtable

import (
	"sort"

	"github.com/CascadeOS/CascadeOS-sub010/addr"
	"github.com/CascadeOS/CascadeOS-sub010/errs"
	"github.com/CascadeOS/CascadeOS-sub010/physmem"
)

// Protection is the logical access a mapping grants.
type Protection int

const (
	None Protection = iota
	Read
	ReadWrite
	Executable
)

// Cacheability selects the memory type of a mapping.
type Cacheability int

const (
	WriteBack Cacheability = iota
	Uncacheable
	WriteCombining
)

// MapType bundles everything the page-table builder needs to pick leaf
// flags.
type MapType struct {
	Protection   Protection
	Cacheability Cacheability
	Global       bool
	User         bool
}

// FrameAllocator is the narrow collaborator the builder uses to obtain
// frames for intermediate table levels.
type FrameAllocator interface {
	Allocate() (physmem.Frame, error)
	Deallocate([]physmem.Frame)
}

// PageTable is the abstract capability set a concrete, per-architecture
// implementation exposes. The builder in this package never
// inspects bit fields directly; it only calls through this interface.
type PageTable interface {
	// StandardPageSize is the architecture's smallest page size.
	StandardPageSize() addr.Size
	// SupportedPageSizes lists every page size the architecture can map,
	// largest first, already filtered by any required CPU feature (e.g.
	// 1 GiB pages gated on the gbyte_pages CPUID bit).
	SupportedPageSizes() []addr.Size
	// MapSinglePage installs one leaf mapping of the given size. It
	// returns errs.AlreadyMapped without modifying anything if the leaf
	// slot is already present. It allocates any needed
	// intermediate levels via alloc, and frees (via alloc.Deallocate) any
	// intermediate table that this call itself allocated if a later step
	// fails (an errdefer-style rollback).
	MapSinglePage(va addr.VirtualAddress, pa addr.PhysicalAddress, size addr.Size, mt MapType, alloc FrameAllocator) error
	// UnmapSinglePage clears one leaf mapping. It reports whether the
	// parent table became empty as a result (so the caller may choose to
	// free it).
	UnmapSinglePage(va addr.VirtualAddress, size addr.Size, alloc FrameAllocator) (parentNowEmpty bool, err error)
	// Lookup returns the physical address and page size backing va, if
	// mapped.
	Lookup(va addr.VirtualAddress) (pa addr.PhysicalAddress, size addr.Size, mt MapType, ok bool)
}

// chooseStepSize returns the largest page size from sizes (descending)
// that fits in remaining bytes and to which both va and pa are aligned.
func chooseStepSize(sizes []addr.Size, va addr.VirtualAddress, pa addr.PhysicalAddress, remaining addr.Size) addr.Size {
	for _, sz := range sizes {
		if remaining < sz {
			continue
		}
		if !va.Aligned(sz) || !pa.Aligned(sz) {
			continue
		}
		return sz
	}
	return 0
}

func descendingSizes(pt PageTable) []addr.Size {
	sizes := append([]addr.Size(nil), pt.SupportedPageSizes()...)
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] > sizes[j] })
	return sizes
}

// MapRange maps virtual range vr to physical range pr (must be the same
// size), selecting the largest page size available at each step. On
// AlreadyMapped or allocation failure partway through, the
// already-installed leaf mappings are left in place — callers that need
// all-or-nothing semantics should Unmap the prefix themselves. Each single
// leaf installation is atomic; the range as a whole is not.
func MapRange(pt PageTable, vr addr.VirtualRange, pr addr.PhysicalRange, mt MapType, alloc FrameAllocator) error {
	if vr.Size != pr.Size {
		return errs.New("pgtable.MapRange", errs.AddressSpaceExhausted)
	}
	if vr.Size == 0 {
		return errs.New("pgtable.MapRange", errs.ZeroLength)
	}

	sizes := descendingSizes(pt)
	va, pa, remaining := vr.Base, pr.Base, vr.Size

	for remaining > 0 {
		step := chooseStepSize(sizes, va, pa, remaining)
		if step == 0 {
			step = pt.StandardPageSize()
		}
		if err := pt.MapSinglePage(va, pa, step, mt, alloc); err != nil {
			return err
		}
		va = va.Add(step)
		pa = pa.Add(step)
		remaining -= step
	}
	return nil
}

// Unmap clears every leaf mapping covering vr. It does not free
// now-empty intermediate tables; callers needing reclamation should track
// UnmapSinglePage's parentNowEmpty result themselves (the builder does not
// assume a single, uniform page size was used to build the range, so it
// cannot know each step's size without a Lookup first).
func Unmap(pt PageTable, vr addr.VirtualRange, alloc FrameAllocator) error {
	if vr.Size == 0 {
		return errs.New("pgtable.Unmap", errs.ZeroLength)
	}
	va := vr.Base
	end := vr.End()
	for va < end {
		_, size, _, ok := pt.Lookup(va)
		if !ok {
			va = va.Add(pt.StandardPageSize())
			continue
		}
		if _, err := pt.UnmapSinglePage(va, size, alloc); err != nil {
			return err
		}
		va = va.Add(size)
	}
	return nil
}
