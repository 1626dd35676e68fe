package uvm

import (
	"github.com/CascadeOS/CascadeOS-sub010/addr"
	"github.com/CascadeOS/CascadeOS-sub010/errs"
	"github.com/CascadeOS/CascadeOS-sub010/pgtable"
	"github.com/CascadeOS/CascadeOS-sub010/physmem"
)

// PageZeroer is the narrow memory-access collaborator fault handling uses
// to materialize page contents through the direct map.
type PageZeroer interface {
	ZeroFrame(f physmem.Frame)
	CopyFrame(dst, src physmem.Frame)
}

// SetPageZeroer installs the direct-map-backed page zeroing/copying
// collaborator. Required before HandlePageFault can resolve a zero-fill or
// copy-on-write fault.
func (as *AddressSpace) SetPageZeroer(z PageZeroer) { as.zeroer = z }

func violatesProtection(p pgtable.Protection, access FaultAccess) bool {
	switch access {
	case AccessWrite:
		return p != pgtable.ReadWrite
	case AccessExecute:
		return p != pgtable.Executable
	default:
		return p == pgtable.None
	}
}

func isAlreadyMapped(err error) bool {
	e, ok := err.(*errs.Error)
	return ok && e.Kind == errs.AlreadyMapped
}

// HandlePageFault resolves a fault at address va caused by access. It
// returns (true, nil) once a mapping is installed and the faulting
// instruction may be retried, or (false, nil) when the caller should
// simply fault again from scratch (the entry layout or backing changed
// underneath the handler), or a non-nil error for a fault that can never
// be resolved this way (no covering entry, protection violation).
//
// The handler never waits while holding a lower member of the lock
// hierarchy than the one it would need to re-acquire afterward: whenever
// it must upgrade a shared lock or wait on I/O, it drops everything it
// holds first and asks the caller to restart, rather than risk a lock
// ordering violation.
func (as *AddressSpace) HandlePageFault(va addr.VirtualAddress, access FaultAccess) (bool, error) {
	va = va.AlignDown(addr.PageSize)

	as.entriesLock.ReadLock(as.sched, as.current)

	entry, _, ok := as.findCoveringEntry(va)
	if !ok {
		as.entriesLock.ReadUnlock(as.sched, as.current)
		return false, errs.New("uvm.HandlePageFault", errs.NotMapped)
	}

	if violatesProtection(entry.Protection, access) {
		as.entriesLock.ReadUnlock(as.sched, as.current)
		return false, errs.New("uvm.HandlePageFault", errs.Protection)
	}

	if access == AccessWrite && entry.NeedsCopy {
		// The anonymous map is still shared with a sibling produced by a
		// COW fork. Try to upgrade in place; on failure some other faulter
		// holds or wants the lock too and we simply restart.
		if !as.entriesLock.TryUpgradeLock(as.sched, as.current) {
			return false, nil
		}
		as.anonymousMapCopyLocked(entry)
		as.entriesLock.WriteUnlock(as.sched, as.current)
		return false, nil
	}

	idx := uint32(va.Sub(entry.Base) / addr.PageSize)
	am := entry.AnonymousMapRef.Map
	objRef := entry.ObjectRef
	prot := entry.Protection
	cow := entry.CopyOnWrite
	wired := entry.WiredCount > 0

	as.entriesLock.ReadUnlock(as.sched, as.current)

	if am == nil {
		return false, errs.New("uvm.HandlePageFault", errs.NotMapped)
	}

	am.Lock.ReadLock(as.sched, as.current)
	ap, resident := am.Lookup(idx)
	am.Lock.ReadUnlock(as.sched, as.current)

	if resident && access == AccessWrite && cow {
		ap.Lock.ReadLock(as.sched, as.current)
		shared := ap.ReferenceCount > 1
		ap.Lock.ReadUnlock(as.sched, as.current)
		if shared {
			return as.copyAnonymousPage(am, idx, ap, va, prot, wired)
		}
	}

	if resident {
		return as.installMapping(va, ap.Page.Frame, prot, wired)
	}

	return as.faultObjectOrZeroFill(am, idx, objRef, va, prot, wired)
}

// anonymousMapCopyLocked duplicates e's anonymous map so that e no longer
// shares it with the sibling entry a COW fork created it alongside. The
// caller must hold as.entriesLock for writing.
func (as *AddressSpace) anonymousMapCopyLocked(e *Entry) {
	old := e.AnonymousMapRef.Map

	old.Lock.WriteLock(as.sched, as.current)
	clone := old.Clone()
	old.ReferenceCount--
	old.Lock.WriteUnlock(as.sched, as.current)

	e.AnonymousMapRef.Map = clone
	e.NeedsCopy = false
}

// copyAnonymousPage makes a private copy of a page-level-shared anonymous
// page at idx and installs the copy in its place.
func (as *AddressSpace) copyAnonymousPage(am *AnonymousMap, idx uint32, old *AnonymousPage, va addr.VirtualAddress, prot pgtable.Protection, wired bool) (bool, error) {
	frame, err := as.frames.Allocate()
	if err != nil {
		return false, errs.New("uvm.HandlePageFault", errs.OutOfMemory)
	}
	as.zeroer.CopyFrame(frame, old.Page.Frame)

	am.Lock.WriteLock(as.sched, as.current)
	if cur, ok := am.Lookup(idx); ok && cur != old {
		// Another faulter already resolved this slot; use its result.
		am.Lock.WriteUnlock(as.sched, as.current)
		as.frames.Deallocate([]physmem.Frame{frame})
		return as.installMapping(va, cur.Page.Frame, prot, wired)
	}
	am.Install(idx, &AnonymousPage{ReferenceCount: 1, Page: as.frames.Page(frame)})
	am.Lock.WriteUnlock(as.sched, as.current)

	old.Lock.WriteLock(as.sched, as.current)
	old.ReferenceCount--
	old.Lock.WriteUnlock(as.sched, as.current)

	return as.installMapping(va, frame, prot, wired)
}

// faultObjectOrZeroFill resolves a non-resident slot by asking the
// entry's backing object for a page, or demand-zeroing a fresh frame when
// there is no object or the object has nothing at this offset.
func (as *AddressSpace) faultObjectOrZeroFill(am *AnonymousMap, idx uint32, objRef ObjectReference, va addr.VirtualAddress, prot pgtable.Protection, wired bool) (bool, error) {
	var frame physmem.Frame

	if objRef.Object != nil {
		page, outcome, err := objRef.Object.GetPage(objRef.Offset + uint64(idx)*addr.PageSize)
		if err != nil {
			return false, err
		}
		switch outcome {
		case ObjectPageNeedIO:
			return false, nil
		case ObjectPageResident:
			frame = page.Frame
		case ObjectPageZeroFill:
			f, aerr := as.frames.Allocate()
			if aerr != nil {
				return false, errs.New("uvm.HandlePageFault", errs.OutOfMemory)
			}
			as.zeroer.ZeroFrame(f)
			frame = f
		}
	} else {
		f, aerr := as.frames.Allocate()
		if aerr != nil {
			return false, errs.New("uvm.HandlePageFault", errs.OutOfMemory)
		}
		as.zeroer.ZeroFrame(f)
		frame = f
	}

	am.Lock.WriteLock(as.sched, as.current)
	if cur, ok := am.Lookup(idx); ok {
		am.Lock.WriteUnlock(as.sched, as.current)
		if objRef.Object == nil {
			as.frames.Deallocate([]physmem.Frame{frame})
		}
		return as.installMapping(va, cur.Page.Frame, prot, wired)
	}
	am.Install(idx, &AnonymousPage{ReferenceCount: 1, Page: as.frames.Page(frame)})
	am.Lock.WriteUnlock(as.sched, as.current)

	return as.installMapping(va, frame, prot, wired)
}

// installMapping installs a single leaf mapping for frame at va, tolerating
// a concurrent faulter having already installed the identical leaf. A leaf
// for a different frame is replaced and va's TLB entry is shot down.
func (as *AddressSpace) installMapping(va addr.VirtualAddress, frame physmem.Frame, prot pgtable.Protection, wired bool) (bool, error) {
	mt := pgtable.MapType{Protection: prot, Cacheability: pgtable.WriteBack, User: as.Mode == UserMode, Global: wired && as.Mode == KernelMode}
	rng := addr.VirtualRange{Base: va, Size: addr.Size(addr.PageSize)}
	pr := addr.PhysicalRange{Base: frame.Address(), Size: addr.Size(addr.PageSize)}

	as.ptLock.Lock(as.sched, as.current)
	defer as.ptLock.Unlock(as.sched, as.current)

	err := pgtable.MapRange(as.pageTable, rng, pr, mt, as.ptAlloc())
	if err != nil && isAlreadyMapped(err) {
		err = nil
		if pa, _, _, ok := as.pageTable.Lookup(va); ok && pa != pr.Base {
			// A different frame (the shared page a copy-on-write fault has
			// just replaced) is still mapped here: swap in the new one.
			if _, err = as.pageTable.UnmapSinglePage(va, addr.PageSize, as.ptAlloc()); err == nil {
				err = pgtable.MapRange(as.pageTable, rng, pr, mt, as.ptAlloc())
				as.Tlbshoot(rng)
			}
		}
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
