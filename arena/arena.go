// Package arena implements the Bonwick-style boundary-tag, segregated-fit
// allocator used to hand out ranges of an abstract integer address space
// to heaps, stacks and the pageable kernel space. It is not
// specific to virtual memory: it operates purely on uint64 offsets, so the
// same implementation serves address arenas (uvm.AddressSpace), the
// kernel heap chain, and any other range allocator built on top of it.
package arena

import (
	"sync"

	"github.com/CascadeOS/CascadeOS-sub010/errs"
	"github.com/CascadeOS/CascadeOS-sub010/util"
)

// Policy selects which free tag Allocate chooses among those large enough
// to satisfy a request.
type Policy int

const (
	InstantFit Policy = iota
	BestFit
	NextFit
)

type tagKind int

const (
	kindSpan tagKind = iota
	kindFree
	kindAllocated
)

// Tag is a boundary tag: one contiguous span, free block, or allocation
// within the arena's address-ordered list.
type Tag struct {
	Base uint64
	Size uint64
	kind tagKind

	addrPrev, addrNext *Tag // address-ordered list (spans, free, allocated)
	flPrev, flNext     *Tag // free-list link, valid only when kind == kindFree

	// importedFromSource is true if this span was created by importing
	// from the arena's source rather than via an explicit AddSpan.
	importedFromSource bool
}

// Source lets an arena import additional spans from a parent arena (or any
// other provider) on demand, and release them back when they become
// entirely free.
type Source interface {
	// Import requests at least size bytes of new address space and
	// returns the base of a span of that size or larger.
	Import(size uint64) (base uint64, gotSize uint64, err error)
	// Release returns a span exactly as received from Import.
	Release(base uint64, size uint64)
}

const numSizeClasses = 64 // one per bit position of a uint64 size

// Arena is a boundary-tag, segregated-fit range allocator.
type Arena struct {
	name    string
	quantum uint64
	source  Source

	mu sync.Mutex // serializes Allocate/Deallocate/AddSpan

	addrHead, addrTail *Tag
	freeLists          [numSizeClasses]*Tag

	tagPool []*Tag // simple reusable tag cache (see newTag/freeTagToPool)
}

// New creates an arena. quantum is the minimum allocation unit (typically
// the standard page size); source, if non-nil, is consulted when no free
// tag can satisfy a request.
func New(name string, quantum uint64, source Source) *Arena {
	if quantum == 0 {
		panic("arena: zero quantum")
	}
	return &Arena{name: name, quantum: quantum, source: source}
}

func sizeClass(size uint64) int {
	if size == 0 {
		return 0
	}
	c := 0
	for size > 1 {
		size >>= 1
		c++
	}
	if c >= numSizeClasses {
		c = numSizeClasses - 1
	}
	return c
}

func (a *Arena) newTag() *Tag {
	if n := len(a.tagPool); n > 0 {
		t := a.tagPool[n-1]
		a.tagPool = a.tagPool[:n-1]
		*t = Tag{}
		return t
	}
	return &Tag{}
}

func (a *Arena) freeTagToPool(t *Tag) {
	*t = Tag{}
	a.tagPool = append(a.tagPool, t)
}

// insertAddrAfter splices t into the address-ordered list immediately
// after prev (prev may be nil to insert at the head).
func (a *Arena) insertAddrAfter(prev, t *Tag) {
	if prev == nil {
		t.addrNext = a.addrHead
		if a.addrHead != nil {
			a.addrHead.addrPrev = t
		}
		a.addrHead = t
		if a.addrTail == nil {
			a.addrTail = t
		}
		return
	}
	t.addrNext = prev.addrNext
	t.addrPrev = prev
	if prev.addrNext != nil {
		prev.addrNext.addrPrev = t
	} else {
		a.addrTail = t
	}
	prev.addrNext = t
}

func (a *Arena) removeAddr(t *Tag) {
	if t.addrPrev != nil {
		t.addrPrev.addrNext = t.addrNext
	} else {
		a.addrHead = t.addrNext
	}
	if t.addrNext != nil {
		t.addrNext.addrPrev = t.addrPrev
	} else {
		a.addrTail = t.addrPrev
	}
	t.addrPrev, t.addrNext = nil, nil
}

func (a *Arena) pushFree(t *Tag) {
	c := sizeClass(t.Size)
	t.kind = kindFree
	t.flPrev = nil
	t.flNext = a.freeLists[c]
	if a.freeLists[c] != nil {
		a.freeLists[c].flPrev = t
	}
	a.freeLists[c] = t
}

func (a *Arena) removeFree(t *Tag) {
	c := sizeClass(t.Size)
	if t.flPrev != nil {
		t.flPrev.flNext = t.flNext
	} else {
		a.freeLists[c] = t.flNext
	}
	if t.flNext != nil {
		t.flNext.flPrev = t.flPrev
	}
	t.flPrev, t.flNext = nil, nil
}

// AddSpan inserts a new span of raw address space, plus one free tag
// covering it. Spans never merge with unrelated imports.
func (a *Arena) AddSpan(base, size uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addSpanLocked(base, size, false)
}

func (a *Arena) addSpanLocked(base, size uint64, imported bool) *Tag {
	span := a.newTag()
	span.Base, span.Size, span.kind = base, size, kindSpan
	span.importedFromSource = imported

	free := a.newTag()
	free.Base, free.Size = base, size

	// Find insertion point by address.
	var prev *Tag
	for t := a.addrHead; t != nil; t = t.addrNext {
		if t.Base > base {
			break
		}
		prev = t
	}
	a.insertAddrAfter(prev, span)
	a.insertAddrAfter(span, free)
	a.pushFree(free)
	return span
}

func roundUpQuantum(size, quantum uint64) uint64 {
	return util.Roundup(size, quantum)
}

// Allocate reserves size bytes (rounded up to a multiple of the arena's
// quantum) and returns its base address. If size is zero, it returns
// errs.ZeroLength.
func (a *Arena) Allocate(size uint64, policy Policy) (uint64, error) {
	if size == 0 {
		return 0, errs.New("arena.Allocate", errs.ZeroLength)
	}
	size = roundUpQuantum(size, a.quantum)

	a.mu.Lock()
	defer a.mu.Unlock()

	base, ok := a.tryAllocateLocked(size, policy)
	if ok {
		return base, nil
	}

	if a.source == nil {
		return 0, errs.New("arena.Allocate", errs.RequestedLengthUnavailable)
	}

	importSize := size
	gotBase, gotSize, err := a.source.Import(importSize)
	if err != nil {
		return 0, errs.New("arena.Allocate", errs.RequestedLengthUnavailable)
	}
	a.addSpanLocked(gotBase, gotSize, true)

	base, ok = a.tryAllocateLocked(size, policy)
	if !ok {
		return 0, errs.New("arena.Allocate", errs.RequestedLengthUnavailable)
	}
	return base, nil
}

func (a *Arena) tryAllocateLocked(size uint64, policy Policy) (uint64, bool) {
	candidate := a.findFreeTag(size, policy)
	if candidate == nil {
		return 0, false
	}
	base := candidate.Base
	a.splitAndAllocate(candidate, base, size)
	return base, true
}

// findFreeTag locates a free tag able to satisfy size under policy.
func (a *Arena) findFreeTag(size uint64, policy Policy) *Tag {
	switch policy {
	case BestFit:
		var best *Tag
		for c := sizeClass(size); c < numSizeClasses; c++ {
			for t := a.freeLists[c]; t != nil; t = t.flNext {
				if t.Size >= size && (best == nil || t.Size < best.Size) {
					best = t
				}
			}
		}
		return best
	case NextFit:
		fallthrough
	default: // InstantFit
		for c := sizeClass(size); c < numSizeClasses; c++ {
			for t := a.freeLists[c]; t != nil; t = t.flNext {
				if t.Size >= size {
					return t
				}
			}
		}
		return nil
	}
}

// splitAndAllocate carves [base, base+size) out of free tag t, converting
// it to an allocated tag and re-inserting any remainder as a new free tag.
func (a *Arena) splitAndAllocate(t *Tag, base, size uint64) {
	a.removeFree(t)

	if t.Size == size {
		t.kind = kindAllocated
		return
	}

	remainderBase := base + size
	remainderSize := t.Size - size

	t.Size = size
	t.kind = kindAllocated

	rem := a.newTag()
	rem.Base, rem.Size = remainderBase, remainderSize
	a.insertAddrAfter(t, rem)
	a.pushFree(rem)
}

// Deallocate returns [base, base+size) to the arena, coalescing with
// free neighbours and releasing an entirely-free imported span back to the
// source.
func (a *Arena) Deallocate(base, size uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var t *Tag
	for c := a.addrHead; c != nil; c = c.addrNext {
		if c.kind == kindAllocated && c.Base == base && c.Size == size {
			t = c
			break
		}
	}
	if t == nil {
		panic("arena: Deallocate of range not currently allocated")
	}

	prev := t.addrPrev

	if prev != nil && prev.kind == kindFree {
		a.removeFree(prev)
		a.removeAddr(t)
		prev.Size += t.Size
		a.freeTagToPool(t)
		t = prev
	} else {
		t.kind = kindFree
	}

	if next := t.addrNext; next != nil && next.kind == kindFree {
		a.removeFree(next)
		a.removeAddr(next)
		t.Size += next.Size
		a.freeTagToPool(next)
	}

	a.pushFree(t)

	// If the coalesced free tag now exactly covers an imported span,
	// release it back to the source.
	if span := t.addrPrev; span != nil && span.kind == kindSpan &&
		span.importedFromSource && span.Base == t.Base && span.Size == t.Size {
		if next := t.addrNext; next == nil || next.Base >= span.Base+span.Size {
			a.removeFree(t)
			a.removeAddr(t)
			a.removeAddr(span)
			a.freeTagToPool(t)
			base, size := span.Base, span.Size
			a.freeTagToPool(span)
			a.source.Release(base, size)
		}
	}
}

// Name returns the arena's name, used for diagnostics.
func (a *Arena) Name() string { return a.name }

// Quantum returns the arena's allocation unit.
func (a *Arena) Quantum() uint64 { return a.quantum }
