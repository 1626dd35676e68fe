package addr

import "testing"

func TestSizeString(t *testing.T) {
	cases := []struct {
		sz   Size
		want string
	}{
		{512, "512B"},
		{2048, "2.0KiB"},
		{3 << 20, "3.0MiB"},
		{5 << 30, "5.0GiB"},
	}
	for _, c := range cases {
		if got := c.sz.String(); got != c.want {
			t.Errorf("Size(%d).String() = %q, want %q", c.sz, got, c.want)
		}
	}
}

func TestSizePages(t *testing.T) {
	if got := Size(0).Pages(); got != 0 {
		t.Errorf("Pages of 0 = %d, want 0", got)
	}
	if got := Size(1).Pages(); got != 1 {
		t.Errorf("Pages of 1 byte = %d, want 1", got)
	}
	if got := Size(PageSize).Pages(); got != 1 {
		t.Errorf("Pages of exactly one page = %d, want 1", got)
	}
	if got := Size(PageSize + 1).Pages(); got != 2 {
		t.Errorf("Pages of one page + 1 byte = %d, want 2", got)
	}
}

func TestPhysicalAddressAlign(t *testing.T) {
	pa := PhysicalAddress(0x1001)
	if got := pa.AlignDown(PageSize); got != 0x1000 {
		t.Errorf("AlignDown = %#x, want 0x1000", got)
	}
	if got := pa.AlignUp(PageSize); got != 0x2000 {
		t.Errorf("AlignUp = %#x, want 0x2000", got)
	}
	if PhysicalAddress(0x1000).Aligned(PageSize) != true {
		t.Error("0x1000 should be page-aligned")
	}
	if pa.Aligned(PageSize) != false {
		t.Error("0x1001 should not be page-aligned")
	}
}

func TestPhysicalAddressAddOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Add to panic on overflow")
		}
	}()
	PhysicalAddress(^uint64(0)).Add(1)
}

func TestVirtualAddressAlignUpOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected AlignUp to panic on overflow")
		}
	}()
	VirtualAddress(^uint64(0)).AlignUp(PageSize)
}

func TestVirtualAddressSub(t *testing.T) {
	a := VirtualAddress(0x3000)
	b := VirtualAddress(0x1000)
	if got := a.Sub(b); got != 0x2000 {
		t.Errorf("Sub = %#x, want 0x2000", got)
	}
}

func TestVirtualAddressSubUnderflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Sub to panic when va < other")
		}
	}()
	VirtualAddress(0x1000).Sub(VirtualAddress(0x2000))
}

func TestPhysicalRangeContainsAndOverlaps(t *testing.T) {
	r := PhysicalRange{Base: 0x1000, Size: 0x1000}
	if !r.Contains(0x1000) {
		t.Error("range should contain its base")
	}
	if r.Contains(0x2000) {
		t.Error("range should not contain its end address")
	}

	adjacent := PhysicalRange{Base: 0x2000, Size: 0x1000}
	if r.Overlaps(adjacent) {
		t.Error("adjacent, non-overlapping ranges reported as overlapping")
	}

	overlapping := PhysicalRange{Base: 0x1800, Size: 0x1000}
	if !r.Overlaps(overlapping) {
		t.Error("overlapping ranges reported as non-overlapping")
	}
}

func TestPhysicalRangeLastZeroLengthPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Last to panic on a zero-length range")
		}
	}()
	PhysicalRange{Base: 0x1000, Size: 0}.Last()
}

func TestVirtualRangePages(t *testing.T) {
	r := VirtualRange{Base: 0x1000, Size: 3 * PageSize}
	if got := r.Pages(); got != 3 {
		t.Errorf("Pages = %d, want 3", got)
	}
}

func TestVirtualRangePagesUnalignedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Pages to panic on an unaligned range")
		}
	}()
	VirtualRange{Base: 1, Size: PageSize}.Pages()
}
