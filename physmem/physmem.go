package physmem

import (
	"sync/atomic"

	"github.com/CascadeOS/CascadeOS-sub010/addr"
	"github.com/CascadeOS/CascadeOS-sub010/arch"
	"github.com/CascadeOS/CascadeOS-sub010/errs"
	"github.com/CascadeOS/CascadeOS-sub010/memmap"
)

// Frame is an index into the global page array, identifying a physical
// page of the architecture's standard page size.
type Frame uint64

// Address returns the physical address of the start of f.
func (f Frame) Address() addr.PhysicalAddress {
	return addr.PhysicalAddress(uint64(f) * addr.PageSize)
}

const noNext = ^uint32(0)

// Page is the per-frame descriptor. ReferenceCount is reserved for callers
// (the uvm package tracks copy-on-write sharing in its own
// AnonymousPage.ReferenceCount and does not read this field); physmem
// itself only uses it to distinguish a free page (count == 0) from an
// owned one.
type Page struct {
	Frame Frame
	// RegionIndex identifies the Page.Region this page belongs to.
	RegionIndex uint32
	// ReferenceCount tracks external owners of this page. 0 means the page
	// is on a free list.
	ReferenceCount int32
	// cpuMask records, per logical CPU bit, whether that CPU has a pmap
	// built from this page loaded into its translation-root register.
	// uvm's Tlbshoot does not consult it.
	cpuMask uint64
	next    uint32 // free-list link: index into Pages.pages, or noNext
}

// CPUMask returns the bitmask of CPUs that have a pmap built on this page
// loaded into their translation-root register.
func (p *Page) CPUMask() uint64 { return atomic.LoadUint64(&p.cpuMask) }

// SetCPUBit marks that cpu now has this page's pmap loaded.
func (p *Page) SetCPUBit(cpu uint32) {
	for {
		old := atomic.LoadUint64(&p.cpuMask)
		if atomic.CompareAndSwapUint64(&p.cpuMask, old, old|(uint64(1)<<cpu)) {
			return
		}
	}
}

// ClearCPUBit marks that cpu no longer has this page's pmap loaded.
func (p *Page) ClearCPUBit(cpu uint32) {
	for {
		old := atomic.LoadUint64(&p.cpuMask)
		if atomic.CompareAndSwapUint64(&p.cpuMask, old, old&^(uint64(1)<<cpu)) {
			return
		}
	}
}

// Region groups the contiguous frames belonging to one usable memory-map
// entry.
type Region struct {
	StartFrame Frame
	FrameCount uint64
}

const perCPUCap = 64
const maxCPUs = 256

// Pages owns the global frame array and its free lists: one shared
// lock-free LIFO, plus small per-CPU LIFOs that absorb most traffic to
// keep cross-CPU contention low.
type Pages struct {
	pages   []Page
	regions []Region
	startn  Frame // frame number of pages[0]

	// globalHead packs a free-list head index (low 32 bits) with a
	// generation counter (high 32 bits) so CAS-based push/pop are immune
	// to the ABA problem without needing a lock.
	globalHead atomic.Uint64
	globalLen  atomic.Int32

	percpu [maxCPUs]perCPUFreeList
}

type perCPUFreeList struct {
	head atomic.Uint64 // packed index+generation, like globalHead
	len  atomic.Int32
}

const headNone = uint64(noNext)

func packHead(index uint32, gen uint32) uint64 {
	return uint64(gen)<<32 | uint64(index)
}
func unpackHead(h uint64) (index uint32, gen uint32) {
	return uint32(h), uint32(h >> 32)
}

// Init builds the page array and free list from mapEntries and the
// bootstrap allocator's per-region cursors: frames already handed out
// during bootstrap are excluded from the free list.
func Init(mapEntries []memmap.Entry, bootstrap *BootstrapAllocator) *Pages {
	var regions []Region
	var total uint64
	var minFrame Frame = ^Frame(0)
	for _, e := range mapEntries {
		if e.Kind != memmap.Free {
			continue
		}
		f := frameOf(e.Range.Base)
		count := uint64(e.Range.Size) / addr.PageSize
		if count == 0 {
			continue
		}
		if f < minFrame {
			minFrame = f
		}
		regions = append(regions, Region{StartFrame: f, FrameCount: count})
		total += count
	}
	if len(regions) == 0 {
		panic("physmem: no usable memory-map regions")
	}

	p := &Pages{startn: minFrame}
	p.regions = regions

	maxFrame := minFrame
	for _, r := range regions {
		end := r.StartFrame + Frame(r.FrameCount)
		if end > maxFrame {
			maxFrame = end
		}
	}
	p.pages = make([]Page, uint64(maxFrame-minFrame))
	for i := range p.pages {
		p.pages[i].next = noNext
		p.pages[i].ReferenceCount = -1 // not part of any usable region yet
	}

	bootRegions := bootstrap.Regions()
	p.globalHead.Store(headNone)
	for i := range p.percpu {
		p.percpu[i].head.Store(headNone)
	}

	for ri, r := range regions {
		bootedUpTo := uint64(0)
		if ri < len(bootRegions) {
			bootedUpTo = bootRegions[ri].firstFreeIndex
		}
		for i := uint64(0); i < r.FrameCount; i++ {
			f := r.StartFrame + Frame(i)
			idx := uint32(f - p.startn)
			p.pages[idx].Frame = f
			p.pages[idx].RegionIndex = uint32(ri)
			if i < bootedUpTo {
				// Already handed out by the bootstrap allocator while
				// building the core page table; owned, not free.
				p.pages[idx].ReferenceCount = 1
				continue
			}
			p.pages[idx].ReferenceCount = 0
			p.pushGlobal(idx)
		}
	}
	return p
}

func (p *Pages) pushGlobal(idx uint32) {
	for {
		old := p.globalHead.Load()
		oldIdx, gen := unpackHead(old)
		p.pages[idx].next = oldIdx
		newHead := packHead(idx, gen+1)
		if p.globalHead.CompareAndSwap(old, newHead) {
			p.globalLen.Add(1)
			return
		}
	}
}

func (p *Pages) popGlobal() (uint32, bool) {
	for {
		old := p.globalHead.Load()
		idx, gen := unpackHead(old)
		if idx == noNext {
			return 0, false
		}
		next := p.pages[idx].next
		newHead := packHead(next, gen+1)
		if p.globalHead.CompareAndSwap(old, newHead) {
			p.globalLen.Add(-1)
			return idx, true
		}
	}
}

func (fl *perCPUFreeList) push(pages *Pages, idx uint32) bool {
	for {
		if fl.len.Load() >= perCPUCap {
			return false
		}
		old := fl.head.Load()
		oldIdx, gen := unpackHead(old)
		pages.pages[idx].next = oldIdx
		newHead := packHead(idx, gen+1)
		if fl.head.CompareAndSwap(old, newHead) {
			fl.len.Add(1)
			return true
		}
	}
}

func (fl *perCPUFreeList) pop(pages *Pages) (uint32, bool) {
	for {
		old := fl.head.Load()
		idx, gen := unpackHead(old)
		if idx == noNext {
			return 0, false
		}
		next := pages.pages[idx].next
		newHead := packHead(next, gen+1)
		if fl.head.CompareAndSwap(old, newHead) {
			fl.len.Add(-1)
			return idx, true
		}
	}
}

// Allocate pops a free frame, preferring the calling CPU's local free list
// and falling back to the global list on a miss.
func (p *Pages) Allocate() (Frame, error) {
	cpu := arch.CPUID() % maxCPUs
	if idx, ok := p.percpu[cpu].pop(p); ok {
		p.pages[idx].ReferenceCount = 1
		return p.pages[idx].Frame, nil
	}
	if idx, ok := p.popGlobal(); ok {
		p.pages[idx].ReferenceCount = 1
		return p.pages[idx].Frame, nil
	}
	return 0, errs.New("physmem.Pages.Allocate", errs.OutOfMemory)
}

// Deallocate pushes a batch of frames back onto a free list, preferring
// the calling CPU's local list and spilling to the global list once the
// local list is at capacity.
func (p *Pages) Deallocate(frames []Frame) {
	cpu := arch.CPUID() % maxCPUs
	for _, f := range frames {
		idx := uint32(f - p.startn)
		p.pages[idx].ReferenceCount = 0
		if !p.percpu[cpu].push(p, idx) {
			p.pushGlobal(idx)
		}
	}
}

// Page returns the descriptor for frame f.
func (p *Pages) Page(f Frame) *Page {
	return &p.pages[uint32(f-p.startn)]
}

// FreeCount reports the approximate number of free frames (global list
// plus every per-CPU list); it is approximate because it is not read
// atomically as a whole.
func (p *Pages) FreeCount() int {
	total := int(p.globalLen.Load())
	for i := range p.percpu {
		total += int(p.percpu[i].len.Load())
	}
	return total
}
