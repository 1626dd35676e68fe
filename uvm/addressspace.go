package uvm

import (
	"sort"
	"sync/atomic"

	"github.com/CascadeOS/CascadeOS-sub010/addr"
	"github.com/CascadeOS/CascadeOS-sub010/arena"
	"github.com/CascadeOS/CascadeOS-sub010/errs"
	"github.com/CascadeOS/CascadeOS-sub010/kmutex"
	"github.com/CascadeOS/CascadeOS-sub010/ktask"
	"github.com/CascadeOS/CascadeOS-sub010/pgtable"
	"github.com/CascadeOS/CascadeOS-sub010/physmem"
	"github.com/CascadeOS/CascadeOS-sub010/rwlock"
)

// AddressSpace is a per-process virtual address space. Lock order, top to
// bottom: entriesLock (write) > AnonymousMap.Lock > Object lock > ptLock.
type AddressSpace struct {
	Name string
	Mode Mode

	rangeArena *arena.Arena
	pageTable  pgtable.PageTable
	frames     FrameSource

	entriesLock    rwlock.RWLock
	entries        []*Entry // sorted by Base; guarded by entriesLock
	entriesVersion atomic.Uint64

	ptLock kmutex.Mutex // guards pageTable mutation

	sched     ktask.Scheduler
	current   *ktask.Task
	shootdown TLBShootdown
	zeroer    PageZeroer
}

// FrameSource is the narrow physical-frame collaborator the address space
// and its fault handler depend on.
type FrameSource interface {
	Allocate() (physmem.Frame, error)
	Deallocate([]physmem.Frame)
	Page(physmem.Frame) *physmem.Page
}

// TLBShootdown is the narrow cross-CPU invalidation collaborator an
// AddressSpace uses on Unmap. A nil TLBShootdown (the zero value of
// AddressSpace) makes Tlbshoot a no-op, which is correct for an address
// space never loaded on more than one executor.
type TLBShootdown interface {
	InvalidateRange(rng addr.VirtualRange)
}

// SetShootdown installs the cross-CPU TLB invalidation collaborator.
func (as *AddressSpace) SetShootdown(s TLBShootdown) { as.shootdown = s }

// Init creates an address space covering rng, producing virtual ranges at
// page granularity via an arena chained to no source (the caller supplies
// rng directly as the arena's sole span).
func Init(name string, rng addr.VirtualRange, pt pgtable.PageTable, mode Mode, frames FrameSource, sched ktask.Scheduler, current *ktask.Task) *AddressSpace {
	a := arena.New(name+".range", uint64(addr.PageSize), nil)
	a.AddSpan(uint64(rng.Base), uint64(rng.Size))
	return &AddressSpace{
		Name:       name,
		Mode:       mode,
		rangeArena: a,
		pageTable:  pt,
		frames:     frames,
		sched:      sched,
		current:    current,
	}
}

// frameAllocAdapter adapts FrameSource to pgtable.FrameAllocator.
type frameAllocAdapter struct{ fs FrameSource }

func (f frameAllocAdapter) Allocate() (physmem.Frame, error) { return f.fs.Allocate() }
func (f frameAllocAdapter) Deallocate(fr []physmem.Frame)    { f.fs.Deallocate(fr) }

func (as *AddressSpace) ptAlloc() pgtable.FrameAllocator { return frameAllocAdapter{as.frames} }

// MapRequest describes a new mapping.
type MapRequest struct {
	NumberOfPages uint32
	Protection    pgtable.Protection
	Backing       BackingKind
	Object        ObjectReference // only used when Backing == ObjectBacked
}

// entryInsertionPoint returns the index of the first entry whose Base is >= va,
// i.e. the lower-bound insertion point. as.entriesLock must be held.
func (as *AddressSpace) entryInsertionPoint(va addr.VirtualAddress) int {
	return sort.Search(len(as.entries), func(i int) bool {
		return as.entries[i].Base >= va
	})
}

// findCoveringEntry returns the entry containing va, if any, and its
// index. as.entriesLock must be held.
func (as *AddressSpace) findCoveringEntry(va addr.VirtualAddress) (*Entry, int, bool) {
	i := sort.Search(len(as.entries), func(i int) bool {
		return as.entries[i].Base.Add(addr.Size(uint64(as.entries[i].NumberOfPages)*addr.PageSize)) > va
	})
	if i < len(as.entries) && as.entries[i].Range().Contains(va) {
		return as.entries[i], i, true
	}
	return nil, i, false
}

// Map allocates a virtual range from the address arena and inserts (or
// merges into an existing) Entry describing it.
func (as *AddressSpace) Map(req MapRequest) (addr.VirtualRange, error) {
	if req.NumberOfPages == 0 {
		return addr.VirtualRange{}, errs.New("uvm.Map", errs.ZeroLength)
	}

	size := uint64(req.NumberOfPages) * addr.PageSize
	base, err := as.rangeArena.Allocate(size, arena.InstantFit)
	if err != nil {
		return addr.VirtualRange{}, errs.New("uvm.Map", errs.AddressSpaceExhausted)
	}
	vr := addr.VirtualRange{Base: addr.VirtualAddress(base), Size: addr.Size(size)}

	newEntry := &Entry{
		Base:          vr.Base,
		NumberOfPages: req.NumberOfPages,
		Protection:    req.Protection,
		backing:       req.Backing,
	}
	newEntry.AnonymousMapRef.Map = NewAnonymousMap(req.NumberOfPages)
	if req.Backing == ObjectBacked {
		newEntry.ObjectRef = req.Object
		if req.Object.Object != nil {
			req.Object.Object.Ref()
		}
	}

	as.entriesLock.WriteLock(as.sched, as.current)
	defer as.entriesLock.WriteUnlock(as.sched, as.current)

	idx := as.entryInsertionPoint(vr.Base)

	canExtendBefore := idx > 0 && as.canCoalesce(as.entries[idx-1], newEntry, true)
	canExtendAfter := idx < len(as.entries) && as.canCoalesce(newEntry, as.entries[idx], false)

	switch {
	case canExtendBefore && canExtendAfter:
		before := as.entries[idx-1]
		after := as.entries[idx]
		before.NumberOfPages += newEntry.NumberOfPages + after.NumberOfPages
		as.growAnonymousMap(before, newEntry.NumberOfPages+after.NumberOfPages)
		as.releaseEntryBacking(after)
		as.entries = append(as.entries[:idx], as.entries[idx+1:]...)
	case canExtendBefore:
		before := as.entries[idx-1]
		before.NumberOfPages += newEntry.NumberOfPages
		as.growAnonymousMap(before, newEntry.NumberOfPages)
	case canExtendAfter:
		after := as.entries[idx]
		after.Base = vr.Base
		after.NumberOfPages += newEntry.NumberOfPages
		as.growAnonymousMap(after, newEntry.NumberOfPages)
	default:
		newEntry.validate()
		as.entries = append(as.entries, nil)
		copy(as.entries[idx+1:], as.entries[idx:])
		as.entries[idx] = newEntry
	}

	as.entriesVersion.Add(1)
	return vr, nil
}

// growAnonymousMap adjusts an entry's anonymous map page count in lockstep
// with an entry extension, while holding the map's write lock.
func (as *AddressSpace) growAnonymousMap(e *Entry, addedPages uint32) {
	if e.AnonymousMapRef.Map == nil {
		return
	}
	am := e.AnonymousMapRef.Map
	am.Lock.WriteLock(as.sched, as.current)
	am.NumberOfPages += addedPages
	am.Lock.WriteUnlock(as.sched, as.current)
}

// canCoalesce reports whether first and second can merge into one entry:
// same protection and backing kind, not object-backed, and first ending
// exactly where second begins. firstIsExisting is not consulted.
func (as *AddressSpace) canCoalesce(first, second *Entry, firstIsExisting bool) bool {
	_ = firstIsExisting
	if first.Protection != second.Protection || first.backing != second.backing {
		return false
	}
	if first.backing == ObjectBacked {
		// Conservatively never coalesce distinct object mappings: they may
		// be backed by different objects or offsets.
		return false
	}
	leftEnd := first.Base.Add(addr.Size(uint64(first.NumberOfPages) * addr.PageSize))
	return leftEnd == second.Base
}

// releaseEntryBacking drops e's reference to its anonymous map or object.
func (as *AddressSpace) releaseEntryBacking(e *Entry) {
	if e.AnonymousMapRef.Map != nil {
		e.AnonymousMapRef.Map.ReferenceCount--
	}
	if e.ObjectRef.Object != nil {
		e.ObjectRef.Object.Unref()
	}
}

// Unmap removes the mapping covering rng. rng must be
// page-aligned in both base and size.
func (as *AddressSpace) Unmap(rng addr.VirtualRange) error {
	if !rng.Base.Aligned(addr.PageSize) || !rng.Size.Aligned(addr.PageSize) {
		panic("uvm: Unmap of unaligned range")
	}
	if rng.Size == 0 {
		return errs.New("uvm.Unmap", errs.ZeroLength)
	}

	as.entriesLock.WriteLock(as.sched, as.current)
	defer as.entriesLock.WriteUnlock(as.sched, as.current)

	as.splitAtLocked(rng.Base)
	as.splitAtLocked(rng.End())

	var kept []*Entry
	for _, e := range as.entries {
		if e.Range().Overlaps(rng) {
			as.releaseEntryBacking(e)
			continue
		}
		kept = append(kept, e)
	}
	as.entries = kept

	as.ptLock.Lock(as.sched, as.current)
	err := pgtable.Unmap(as.pageTable, rng, as.ptAlloc())
	as.ptLock.Unlock(as.sched, as.current)
	if err != nil {
		return err
	}

	as.Tlbshoot(rng)

	as.rangeArena.Deallocate(uint64(rng.Base), uint64(rng.Size))
	as.entriesVersion.Add(1)
	return nil
}

// Tlbshoot invalidates rng in the TLB of every executor currently running a
// task that may have this address space loaded, via a cross-CPU
// invalidation IPI hidden behind the narrow TLBShootdown collaborator so
// this package stays architecture-independent.
func (as *AddressSpace) Tlbshoot(rng addr.VirtualRange) {
	if as.shootdown == nil {
		return
	}
	as.shootdown.InvalidateRange(rng)
}

// splitAtLocked splits the entry covering va (if any, and if va is not
// already a boundary) into two entries sharing the same backing. The
// caller must hold entriesLock for writing.
func (as *AddressSpace) splitAtLocked(va addr.VirtualAddress) {
	e, idx, ok := as.findCoveringEntry(va)
	if !ok || e.Base == va {
		return
	}
	leftPages := uint32(va.Sub(e.Base) / addr.PageSize)

	right := &Entry{
		Base:            va,
		NumberOfPages:   e.NumberOfPages - leftPages,
		Protection:      e.Protection,
		CopyOnWrite:     e.CopyOnWrite,
		NeedsCopy:       e.NeedsCopy,
		AnonymousMapRef: e.AnonymousMapRef,
		ObjectRef:       e.ObjectRef,
		backing:         e.backing,
	}
	if right.AnonymousMapRef.Map != nil {
		right.AnonymousMapRef.Map.ReferenceCount++
	}
	if right.ObjectRef.Object != nil {
		right.ObjectRef.Object.Ref()
		right.ObjectRef.Offset += uint64(leftPages) * addr.PageSize
	}
	e.NumberOfPages = leftPages

	as.entries = append(as.entries, nil)
	copy(as.entries[idx+2:], as.entries[idx+1:])
	as.entries[idx+1] = right
}

// ReinitializeAndUnmapAll drops every entry and releases backing
// references. It does not reset the address arena: the ranges the dropped
// entries occupied stay allocated there. The caller must guarantee no task
// is using this address space; no TLB flushes are issued.
func (as *AddressSpace) ReinitializeAndUnmapAll() {
	as.entriesLock.WriteLock(as.sched, as.current)
	defer as.entriesLock.WriteUnlock(as.sched, as.current)

	for _, e := range as.entries {
		as.releaseEntryBacking(e)
	}
	as.entries = nil
	as.entriesVersion.Add(1)
}

// Deinit tears the arena down and invalidates the struct. Callers must not
// use as after Deinit returns.
func (as *AddressSpace) Deinit() {
	as.rangeArena = nil
	as.pageTable = nil
}

// EntriesVersion returns the current linearization counter: it increases
// by exactly one on every successful Map, Unmap and ReinitializeAndUnmapAll
// (the entry splits an Unmap performs do not advance it separately), letting a caller that
// dropped and reacquired entriesLock detect whether the layout changed
// underneath it.
func (as *AddressSpace) EntriesVersion() uint64 { return as.entriesVersion.Load() }
