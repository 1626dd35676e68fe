// Package uvm implements the per-process virtual address space: a
// two-layer model of map entries, anonymous maps, anonymous pages and
// backing objects, with copy-on-write, demand paging and page-fault
// handling.
//
// Entries reference an AnonymousMap rather than owning pages directly, so
// that a fork-style clone can share one anonymous map across entries and
// defer the actual page copy until the first write after the clone.
package uvm

import (
	"github.com/CascadeOS/CascadeOS-sub010/addr"
	"github.com/CascadeOS/CascadeOS-sub010/physmem"
	"github.com/CascadeOS/CascadeOS-sub010/pgtable"
	"github.com/CascadeOS/CascadeOS-sub010/rwlock"
)

// Mode distinguishes a kernel address space from a user one.
type Mode int

const (
	KernelMode Mode = iota
	UserMode
)

// BackingKind distinguishes a demand-zero mapping from one backed by an
// Object.
type BackingKind int

const (
	ZeroFill BackingKind = iota
	ObjectBacked
)

// FaultAccess is the kind of access that triggered a page fault.
type FaultAccess int

const (
	AccessRead FaultAccess = iota
	AccessWrite
	AccessExecute
)

// ObjectPageOutcome is the result of asking an Object for a page during
// fault resolution.
type ObjectPageOutcome int

const (
	// ObjectPageResident means the object already has the page in its
	// cache; Page is valid.
	ObjectPageResident ObjectPageOutcome = iota
	// ObjectPageNeedIO means the caller must perform I/O and restart the
	// fault.
	ObjectPageNeedIO
	// ObjectPageZeroFill means the object has no backing for this offset
	// and the page should be demand-zeroed instead.
	ObjectPageZeroFill
)

// Object is a reference-counted backing source of pages — a file or
// device — external to this core. Only the interface
// this package depends on is specified here; the concrete implementation
// is an external collaborator.
type Object interface {
	// GetPage asks the object for the page at byte offset off.
	GetPage(off uint64) (page *physmem.Page, outcome ObjectPageOutcome, err error)
	// Shared reports whether writes to this mapping should be visible to
	// every other mapper of the object (MAP_SHARED) rather than
	// copy-on-write.
	Shared() bool
	// Ref/Unref manage the object's own reference count.
	Ref()
	Unref()
}

// AnonymousPage is a reference-counted physical page owned by one or more
// anonymous maps.
type AnonymousPage struct {
	Lock           rwlock.RWLock
	ReferenceCount int32
	Page           *physmem.Page
}

// AnonymousMap maps a page index within an entry to an AnonymousPage; it
// owns no file backing and is the substrate of zero-fill and COW memory.
type AnonymousMap struct {
	Lock           rwlock.RWLock
	ReferenceCount int32
	NumberOfPages  uint32
	slots          map[uint32]*AnonymousPage
}

// NewAnonymousMap returns an anonymous map with one reference and no
// resident pages, covering numberOfPages pages.
func NewAnonymousMap(numberOfPages uint32) *AnonymousMap {
	return &AnonymousMap{
		ReferenceCount: 1,
		NumberOfPages:  numberOfPages,
		slots:          make(map[uint32]*AnonymousPage),
	}
}

// Lookup returns the anonymous page at slot index idx, if resident. The
// caller must hold am.Lock for reading (or writing).
func (am *AnonymousMap) Lookup(idx uint32) (*AnonymousPage, bool) {
	p, ok := am.slots[idx]
	return p, ok
}

// Install places ap at slot index idx. The caller must hold am.Lock for
// writing.
func (am *AnonymousMap) Install(idx uint32, ap *AnonymousPage) {
	am.slots[idx] = ap
}

// Remove deletes the slot at idx, if any. The caller must hold am.Lock for
// writing.
func (am *AnonymousMap) Remove(idx uint32) {
	delete(am.slots, idx)
}

// Clone returns a new AnonymousMap with one reference and an independent
// copy of every resident slot of am, each sharing (not copying) the
// underlying AnonymousPage with its reference count bumped — used by
// anonymousMapCopyLocked's lazy, whole-map COW path.
func (am *AnonymousMap) Clone() *AnonymousMap {
	clone := NewAnonymousMap(am.NumberOfPages)
	for idx, ap := range am.slots {
		ap.ReferenceCount++
		clone.slots[idx] = ap
	}
	return clone
}

// ObjectReference pairs a backing Object with the byte offset its mapping
// begins at.
type ObjectReference struct {
	Object Object
	Offset uint64
}

// AnonymousMapReference pairs an AnonymousMap with a strong reference held
// by the owning Entry.
type AnonymousMapReference struct {
	Map *AnonymousMap
}

// Entry is one mapped region of an address space.
type Entry struct {
	Base            addr.VirtualAddress
	NumberOfPages   uint32
	Protection      pgtable.Protection
	WiredCount      int32
	CopyOnWrite     bool
	NeedsCopy       bool
	AnonymousMapRef AnonymousMapReference
	ObjectRef       ObjectReference

	backing BackingKind
}

// Range returns the virtual range this entry covers.
func (e *Entry) Range() addr.VirtualRange {
	return addr.VirtualRange{Base: e.Base, Size: addr.Size(uint64(e.NumberOfPages) * addr.PageSize)}
}

// HasObject reports whether the entry has a backing object.
func (e *Entry) HasObject() bool { return e.ObjectRef.Object != nil }

// HasAnonymousMap reports whether the entry has an anonymous map.
func (e *Entry) HasAnonymousMap() bool { return e.AnonymousMapRef.Map != nil }

// validate checks the per-entry invariants.
func (e *Entry) validate() {
	if e.AnonymousMapRef.Map == nil && e.ObjectRef.Object == nil {
		panic("uvm: entry has neither an anonymous map nor an object reference")
	}
	if e.NeedsCopy && !e.CopyOnWrite {
		panic("uvm: entry has NeedsCopy without CopyOnWrite")
	}
}
