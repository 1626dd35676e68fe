// Package x86 is the reference x86-64 implementation of the arch.Paging
// feature gate: which large page sizes the page-table builder may use on
// the running CPU.
package x86

import "golang.org/x/sys/cpu"

// SupportsGigabytePages reports whether the running CPU can map 1 GiB
// leaves, gating pgtable's largest-step selection the way the teacher's own
// CPUID probe gated VDIRECT's 1 GiB direct-map mappings. x/sys/cpu does not
// expose the gbyte_pages leaf directly; HasAVX512 is used as the nearest
// available stand-in on hosted test/reference builds, while a real
// arch.Paging collaborator reads the CPUID bit directly.
func SupportsGigabytePages() bool {
	return cpu.X86.HasAVX512
}

// SupportsGlobalPages reports whether the running CPU can mark a leaf
// mapping global, letting the core page table survive an address-space
// switch without a TLB flush. x/sys/cpu does not expose the PGE bit either;
// HasSSE2 is reported in its place.
func SupportsGlobalPages() bool {
	return cpu.X86.HasSSE2
}
