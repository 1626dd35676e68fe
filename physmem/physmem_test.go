package physmem

import (
	"testing"

	"github.com/CascadeOS/CascadeOS-sub010/addr"
	"github.com/CascadeOS/CascadeOS-sub010/memmap"
)

func TestFrameAddress(t *testing.T) {
	f := Frame(3)
	if got, want := f.Address(), addr.PhysicalAddress(3*addr.PageSize); got != want {
		t.Errorf("Address() = %v, want %v", got, want)
	}
}

func TestBootstrapAllocatorWalksRegionsInOrder(t *testing.T) {
	entries := []memmap.Entry{
		{Kind: memmap.Free, Range: addr.PhysicalRange{Base: 0, Size: 2 * addr.PageSize}},
		{Kind: memmap.InUse, Range: addr.PhysicalRange{Base: 2 * addr.PageSize, Size: addr.PageSize}},
		{Kind: memmap.Free, Range: addr.PhysicalRange{Base: 3 * addr.PageSize, Size: addr.PageSize}},
	}
	b := NewBootstrapAllocator(entries)

	var got []Frame
	for i := 0; i < 3; i++ {
		f, err := b.Allocate()
		if err != nil {
			t.Fatalf("Allocate #%d: %v", i, err)
		}
		got = append(got, f)
	}
	want := []Frame{0, 1, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Allocate sequence = %v, want %v", got, want)
		}
	}

	if _, err := b.Allocate(); err == nil {
		t.Fatal("expected the bootstrap allocator to be exhausted")
	}
}

func TestBootstrapAllocatorDeallocatePanics(t *testing.T) {
	b := NewBootstrapAllocator(nil)
	defer func() {
		if recover() == nil {
			t.Fatal("expected Deallocate to panic: bootstrap allocation never frees")
		}
	}()
	b.Deallocate(0)
}

func TestPagesInitExcludesBootedFrames(t *testing.T) {
	entries := []memmap.Entry{
		{Kind: memmap.Free, Range: addr.PhysicalRange{Base: 0, Size: 4 * addr.PageSize}},
	}
	boot := NewBootstrapAllocator(entries)
	// Consume two frames during "stage 1" before building the page array.
	if _, err := boot.Allocate(); err != nil {
		t.Fatal(err)
	}
	if _, err := boot.Allocate(); err != nil {
		t.Fatal(err)
	}

	pages := Init(entries, boot)
	if got, want := pages.FreeCount(), 2; got != want {
		t.Fatalf("FreeCount() = %d, want %d (2 frames already handed to the bootstrap allocator)", got, want)
	}
}

func TestPagesAllocateDeallocateRoundTrip(t *testing.T) {
	entries := []memmap.Entry{
		{Kind: memmap.Free, Range: addr.PhysicalRange{Base: 0, Size: 2 * addr.PageSize}},
	}
	pages := Init(entries, NewBootstrapAllocator(nil))

	f1, err := pages.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	f2, err := pages.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if f1 == f2 {
		t.Fatal("expected two distinct frames")
	}
	if got := pages.Page(f1).ReferenceCount; got != 1 {
		t.Fatalf("ReferenceCount after Allocate = %d, want 1", got)
	}

	if _, err := pages.Allocate(); err == nil {
		t.Fatal("expected the allocator to be exhausted after both frames were taken")
	}

	pages.Deallocate([]Frame{f1, f2})
	if got := pages.Page(f1).ReferenceCount; got != 0 {
		t.Fatalf("ReferenceCount after Deallocate = %d, want 0", got)
	}
	if got, want := pages.FreeCount(), 2; got != want {
		t.Fatalf("FreeCount() after Deallocate = %d, want %d", got, want)
	}
}

func TestPageCPUMaskSetAndClear(t *testing.T) {
	p := &Page{}
	p.SetCPUBit(3)
	p.SetCPUBit(5)
	if got := p.CPUMask(); got != (1<<3)|(1<<5) {
		t.Fatalf("CPUMask() = %#x, want %#x", got, (1<<3)|(1<<5))
	}
	p.ClearCPUBit(3)
	if got := p.CPUMask(); got != 1<<5 {
		t.Fatalf("CPUMask() after clear = %#x, want %#x", got, 1<<5)
	}
}

func TestDirectMapTranslateRoundTrip(t *testing.T) {
	d := NewDirectMap(0x4000_0000, 1<<30)
	pa := addr.PhysicalAddress(0x1234_000)

	va := d.Translate(pa)
	if got, want := va, addr.VirtualAddress(0x4000_0000+0x1234_000); got != want {
		t.Fatalf("Translate = %v, want %v", got, want)
	}
	if got := d.TranslateBack(va); got != pa {
		t.Fatalf("TranslateBack = %v, want %v", got, pa)
	}
}

func TestDirectMapTranslateOutOfSpanPanics(t *testing.T) {
	d := NewDirectMap(0x4000_0000, 1<<20)
	defer func() {
		if recover() == nil {
			t.Fatal("expected Translate beyond the configured span to panic")
		}
	}()
	d.Translate(addr.PhysicalAddress(1 << 21))
}

func TestDirectMapTranslateBackOutsideRegionPanics(t *testing.T) {
	d := NewDirectMap(0x4000_0000, 1<<20)
	defer func() {
		if recover() == nil {
			t.Fatal("expected TranslateBack outside the region to panic")
		}
	}()
	d.TranslateBack(0x1000)
}
