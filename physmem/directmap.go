package physmem

import (
	"github.com/CascadeOS/CascadeOS-sub010/addr"
)

// DirectMap converts a physical address into a virtual address via the
// fixed offset the boot collaborator reports.
type DirectMap struct {
	base addr.VirtualAddress
	size addr.Size
}

// NewDirectMap returns a DirectMap covering physical address 0..size at
// virtual base..base+size.
func NewDirectMap(base addr.VirtualAddress, size addr.Size) DirectMap {
	return DirectMap{base: base, size: size}
}

// Translate returns the direct-mapped virtual address of physical address
// pa. Panics if pa lies outside the direct map's configured span.
func (d DirectMap) Translate(pa addr.PhysicalAddress) addr.VirtualAddress {
	if addr.Size(pa) >= d.size {
		panic("physmem: DirectMap.Translate address exceeds configured span")
	}
	return d.base.Add(addr.Size(pa))
}

// TranslateBack converts a direct-mapped virtual address back to the
// physical address it represents. Panics if va does not lie within the
// direct map region.
func (d DirectMap) TranslateBack(va addr.VirtualAddress) addr.PhysicalAddress {
	if va < d.base || va >= d.base.Add(d.size) {
		panic("physmem: DirectMap.TranslateBack address not in direct map")
	}
	return addr.PhysicalAddress(va.Sub(d.base))
}

// FrameAddress returns the direct-mapped virtual address of an entire
// frame.
func (d DirectMap) FrameAddress(f Frame) addr.VirtualAddress {
	return d.Translate(f.Address())
}
