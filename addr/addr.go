// Package addr defines the address and size value types shared by every
// layer of the core: physical and virtual addresses, and the ranges built
// from them. All arithmetic is checked; overflow and wraparound panic
// rather than silently truncating.
package addr

import "fmt"

// PageShift is the base-2 exponent of the standard page size on every
// architecture this core supports (4 KiB).
const PageShift = 12

// PageSize is the size in bytes of the architecture's standard page.
const PageSize = 1 << PageShift

// PageMask masks the offset bits within a standard page.
const PageMask = PageSize - 1

// Size is a non-negative byte count.
type Size uint64

// Bytes returns sz as a raw byte count.
func (sz Size) Bytes() uint64 { return uint64(sz) }

// Pages returns sz rounded up to a number of standard pages.
func (sz Size) Pages() uint64 { return (uint64(sz) + PageMask) / PageSize }

// Aligned reports whether sz is a multiple of quantum.
func (sz Size) Aligned(quantum Size) bool {
	return uint64(sz)%uint64(quantum) == 0
}

func (sz Size) String() string {
	switch {
	case sz >= 1<<30:
		return fmt.Sprintf("%.1fGiB", float64(sz)/(1<<30))
	case sz >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(sz)/(1<<20))
	case sz >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(sz)/(1<<10))
	default:
		return fmt.Sprintf("%dB", uint64(sz))
	}
}

// PhysicalAddress is an opaque 64-bit physical address.
type PhysicalAddress uint64

// AlignDown rounds pa down to a multiple of quantum, which must be a power
// of two.
func (pa PhysicalAddress) AlignDown(quantum Size) PhysicalAddress {
	q := uint64(quantum)
	return PhysicalAddress(uint64(pa) &^ (q - 1))
}

// AlignUp rounds pa up to a multiple of quantum, which must be a power of
// two. Panics on overflow.
func (pa PhysicalAddress) AlignUp(quantum Size) PhysicalAddress {
	q := uint64(quantum)
	r := (uint64(pa) + q - 1) &^ (q - 1)
	if r < uint64(pa) {
		panic("addr: PhysicalAddress.AlignUp overflow")
	}
	return PhysicalAddress(r)
}

// Aligned reports whether pa is a multiple of quantum.
func (pa PhysicalAddress) Aligned(quantum Size) bool {
	return uint64(pa)%uint64(quantum) == 0
}

// Add moves pa forward by sz, panicking on overflow.
func (pa PhysicalAddress) Add(sz Size) PhysicalAddress {
	r := uint64(pa) + uint64(sz)
	if r < uint64(pa) {
		panic("addr: PhysicalAddress.Add overflow")
	}
	return PhysicalAddress(r)
}

func (pa PhysicalAddress) String() string { return fmt.Sprintf("0x%x", uint64(pa)) }

// VirtualAddress is an opaque 64-bit virtual address.
type VirtualAddress uint64

// AlignDown rounds va down to a multiple of quantum.
func (va VirtualAddress) AlignDown(quantum Size) VirtualAddress {
	q := uint64(quantum)
	return VirtualAddress(uint64(va) &^ (q - 1))
}

// AlignUp rounds va up to a multiple of quantum. Panics on overflow.
func (va VirtualAddress) AlignUp(quantum Size) VirtualAddress {
	q := uint64(quantum)
	r := (uint64(va) + q - 1) &^ (q - 1)
	if r < uint64(va) {
		panic("addr: VirtualAddress.AlignUp overflow")
	}
	return VirtualAddress(r)
}

// Aligned reports whether va is a multiple of quantum.
func (va VirtualAddress) Aligned(quantum Size) bool {
	return uint64(va)%uint64(quantum) == 0
}

// Add moves va forward by sz, panicking on overflow.
func (va VirtualAddress) Add(sz Size) VirtualAddress {
	r := uint64(va) + uint64(sz)
	if r < uint64(va) {
		panic("addr: VirtualAddress.Add overflow")
	}
	return VirtualAddress(r)
}

// Sub returns the byte distance from other to va. Panics if va < other.
func (va VirtualAddress) Sub(other VirtualAddress) Size {
	if va < other {
		panic("addr: VirtualAddress.Sub underflow")
	}
	return Size(va - other)
}

func (va VirtualAddress) String() string { return fmt.Sprintf("0x%x", uint64(va)) }

// PhysicalRange is a base address plus a size.
type PhysicalRange struct {
	Base PhysicalAddress
	Size Size
}

// End returns base+size.
func (r PhysicalRange) End() PhysicalAddress { return r.Base.Add(r.Size) }

// Last returns the address of the final byte in the range. Panics on a
// zero-length range.
func (r PhysicalRange) Last() PhysicalAddress {
	if r.Size == 0 {
		panic("addr: PhysicalRange.Last of zero-length range")
	}
	return PhysicalAddress(uint64(r.End()) - 1)
}

// Contains reports whether pa falls within r.
func (r PhysicalRange) Contains(pa PhysicalAddress) bool {
	return pa >= r.Base && pa < r.End()
}

// Overlaps reports whether r and o share any byte.
func (r PhysicalRange) Overlaps(o PhysicalRange) bool {
	return r.Base < o.End() && o.Base < r.End()
}

func (r PhysicalRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Base, r.End())
}

// VirtualRange is a base address plus a size.
type VirtualRange struct {
	Base VirtualAddress
	Size Size
}

// End returns base+size.
func (r VirtualRange) End() VirtualAddress { return r.Base.Add(r.Size) }

// Last returns the address of the final byte in the range. Panics on a
// zero-length range.
func (r VirtualRange) Last() VirtualAddress {
	if r.Size == 0 {
		panic("addr: VirtualRange.Last of zero-length range")
	}
	return VirtualAddress(uint64(r.End()) - 1)
}

// Contains reports whether va falls within r.
func (r VirtualRange) Contains(va VirtualAddress) bool {
	return va >= r.Base && va < r.End()
}

// Overlaps reports whether r and o share any byte.
func (r VirtualRange) Overlaps(o VirtualRange) bool {
	return r.Base < o.End() && o.Base < r.End()
}

// Pages returns the number of standard pages spanned by r. r must already
// be page-aligned in both base and size.
func (r VirtualRange) Pages() uint32 {
	if !r.Base.Aligned(PageSize) || !r.Size.Aligned(PageSize) {
		panic("addr: VirtualRange.Pages of unaligned range")
	}
	return uint32(uint64(r.Size) / PageSize)
}

func (r VirtualRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Base, r.End())
}
