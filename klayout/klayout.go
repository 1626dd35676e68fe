// Package klayout builds the kernel's frozen virtual memory layout once at
// boot, from the boot collaborator's reported kernel base and direct-map
// addresses plus compile-time region sizes, and constructs the arena chain
// that serves the kernel heap, the special (explicit-cacheability) heap,
// kernel stacks and the pageable kernel address space.
package klayout

import (
	"github.com/CascadeOS/CascadeOS-sub010/addr"
	"github.com/CascadeOS/CascadeOS-sub010/arena"
	"github.com/CascadeOS/CascadeOS-sub010/memmap"
)

// Boot is the subset of the boot collaborator's contract this package
// needs: where the kernel image and the direct map were placed.
type Boot interface {
	KernelBaseAddress() addr.VirtualAddress
	DirectMapAddress() addr.VirtualAddress
}

// Sizes gives the compile-time size of every region that isn't dictated by
// the kernel image itself or the physical memory size.
type Sizes struct {
	Executable  addr.Size
	Readonly    addr.Size
	Writeable   addr.Size
	SDF         addr.Size
	KernelHeap  addr.Size
	SpecialHeap addr.Size
	Stacks      addr.Size
	Pageable    addr.Size
}

// DefaultSizes are reasonable region sizes for a small kernel; callers with
// their own link-time layout should build Sizes from their linker symbols
// instead.
var DefaultSizes = Sizes{
	Executable:  16 << 20,
	Readonly:    4 << 20,
	Writeable:   4 << 20,
	SDF:         1 << 20,
	KernelHeap:  256 << 20,
	SpecialHeap: 64 << 20,
	Stacks:      32 << 20,
	Pageable:    1 << 30,
}

// Chain is the set of arenas built over the frozen layout: one per dynamic
// region, each with no source arena and the whole region added as its one
// span, so the arena's own boundary-tag bookkeeping, not a second
// allocator, governs the region's internal fragmentation.
type Chain struct {
	Layout      memmap.Layout
	Heap        *arena.Arena
	SpecialHeap *arena.Arena
	Stacks      *arena.Arena
	Pageable    *arena.Arena
}

// quantum is the arena allocation unit for every kernel arena: the standard
// page size, matching the granularity page tables can map.
const quantum = addr.PageSize

func region(base addr.VirtualAddress, size addr.Size, tag memmap.RegionTag, advance *addr.VirtualAddress) memmap.Region {
	r := memmap.Region{Tag: tag, Range: addr.VirtualRange{Base: base, Size: size}}
	*advance = base.Add(size)
	return r
}

// Build lays out the kernel's virtual address space from boot's reported
// addresses and sz, then constructs the dynamic region arenas. It must be
// called exactly once, during stage 1.
func Build(boot Boot, sz Sizes, directMapSize addr.Size) *Chain {
	var l memmap.Layout

	cursor := boot.KernelBaseAddress()
	l.Add(region(cursor, sz.Executable, memmap.ExecutableSection, &cursor))
	l.Add(region(cursor, sz.Readonly, memmap.ReadonlySection, &cursor))
	l.Add(region(cursor, sz.Writeable, memmap.WriteableSection, &cursor))
	l.Add(region(cursor, sz.SDF, memmap.SDFSection, &cursor))

	dm := boot.DirectMapAddress()
	l.Add(memmap.Region{Tag: memmap.DirectMap, Range: addr.VirtualRange{Base: dm, Size: directMapSize}})
	ncdm := dm.Add(directMapSize)
	l.Add(memmap.Region{Tag: memmap.NonCachedDirectMap, Range: addr.VirtualRange{Base: ncdm, Size: directMapSize}})

	cursor = ncdm.Add(directMapSize)
	heapRegion := region(cursor, sz.KernelHeap, memmap.KernelHeap, &cursor)
	specialRegion := region(cursor, sz.SpecialHeap, memmap.SpecialHeap, &cursor)
	stacksRegion := region(cursor, sz.Stacks, memmap.KernelStacks, &cursor)
	pageableRegion := region(cursor, sz.Pageable, memmap.PageableKernelAddressSpace, &cursor)

	l.Add(heapRegion)
	l.Add(specialRegion)
	l.Add(stacksRegion)
	l.Add(pageableRegion)

	l.Freeze()

	c := &Chain{Layout: l}
	c.Heap = arena.New("kernel-heap", quantum, nil)
	c.Heap.AddSpan(uint64(heapRegion.Range.Base), uint64(heapRegion.Range.Size))

	c.SpecialHeap = arena.New("special-heap", quantum, nil)
	c.SpecialHeap.AddSpan(uint64(specialRegion.Range.Base), uint64(specialRegion.Range.Size))

	c.Stacks = arena.New("kernel-stacks", quantum, nil)
	c.Stacks.AddSpan(uint64(stacksRegion.Range.Base), uint64(stacksRegion.Range.Size))

	c.Pageable = arena.New("pageable-kernel-as", quantum, nil)
	c.Pageable.AddSpan(uint64(pageableRegion.Range.Base), uint64(pageableRegion.Range.Size))

	return c
}

// AllocateHeap reserves size bytes from the kernel heap arena.
func (c *Chain) AllocateHeap(size addr.Size) (addr.VirtualAddress, error) {
	base, err := c.Heap.Allocate(uint64(size), arena.InstantFit)
	return addr.VirtualAddress(base), err
}

// FreeHeap returns a previous AllocateHeap reservation.
func (c *Chain) FreeHeap(base addr.VirtualAddress, size addr.Size) {
	c.Heap.Deallocate(uint64(base), uint64(size))
}

// AllocateSpecial reserves size bytes from the special (explicit
// cacheability, e.g. MMIO) heap arena.
func (c *Chain) AllocateSpecial(size addr.Size) (addr.VirtualAddress, error) {
	base, err := c.SpecialHeap.Allocate(uint64(size), arena.InstantFit)
	return addr.VirtualAddress(base), err
}

// FreeSpecial returns a previous AllocateSpecial reservation.
func (c *Chain) FreeSpecial(base addr.VirtualAddress, size addr.Size) {
	c.SpecialHeap.Deallocate(uint64(base), uint64(size))
}

// AllocateStack reserves size bytes from the kernel stack arena.
func (c *Chain) AllocateStack(size addr.Size) (addr.VirtualAddress, error) {
	base, err := c.Stacks.Allocate(uint64(size), arena.InstantFit)
	return addr.VirtualAddress(base), err
}

// FreeStack returns a previous AllocateStack reservation.
func (c *Chain) FreeStack(base addr.VirtualAddress, size addr.Size) {
	c.Stacks.Deallocate(uint64(base), uint64(size))
}
