// Package kmutex implements an adaptive mutex: a short bounded spin on the
// owner word, falling back to a ticket-lock protected wait queue, with
// direct ownership hand-off on unlock to eliminate the wake-then-sleep
// race a naive wait-queue mutex suffers from.
package kmutex

import (
	"sync/atomic"
	"unsafe"

	"github.com/CascadeOS/CascadeOS-sub010/arch"
	"github.com/CascadeOS/CascadeOS-sub010/ktask"
	"github.com/CascadeOS/CascadeOS-sub010/ticketlock"
	"github.com/CascadeOS/CascadeOS-sub010/waitqueue"
)

// SpinLimit is the number of owner-word CAS attempts Lock makes before
// falling back to the spinlock-protected slow path.
const SpinLimit = 1000

type unlockType int32

const (
	unlocked unlockType = iota
	passedToWaiter
)

// Mutex is an adaptive, blocking mutual-exclusion lock. At most one task
// holds it at a time.
type Mutex struct {
	lockedBy   unsafe.Pointer // *ktask.Task, nil when free
	unlockKind int32          // unlockType, guarded by spin
	spin       ticketlock.Spinlock
	waiters    waitqueue.WaitQueue
}

// New returns an unlocked mutex.
func New() *Mutex { return &Mutex{} }

func (m *Mutex) owner() *ktask.Task {
	return (*ktask.Task)(atomic.LoadPointer(&m.lockedBy))
}

func (m *Mutex) casOwner(old, new *ktask.Task) bool {
	return atomic.CompareAndSwapPointer(&m.lockedBy, unsafe.Pointer(old), unsafe.Pointer(new))
}

// Lock acquires the mutex for current, blocking if necessary. Recursive
// locking other than a hand-off is a programming error and panics.
func (m *Mutex) Lock(sched ktask.Scheduler, current *ktask.Task) {
	for i := 0; i < SpinLimit; i++ {
		if m.casOwner(nil, current) {
			return
		}
		if m.owner() == current {
			panic("kmutex: recursive Lock by owner")
		}
		arch.SpinLoopHint()
	}

	for {
		m.spin.Lock(current)
		if m.casOwner(nil, current) {
			m.spin.Unlock(current)
			return
		}
		if m.owner() == current {
			if unlockType(atomic.LoadInt32(&m.unlockKind)) == passedToWaiter {
				// The releaser handed the mutex directly to us.
				m.spin.Unlock(current)
				return
			}
			m.spin.Unlock(current)
			panic("kmutex: recursive Lock by owner")
		}
		// Enqueue and block; Wait releases m.spin as part of the same
		// scheduler hand-off, so we must not unlock it ourselves.
		m.waiters.Wait(sched, current, &m.spin)
		// Woken: either handed off to us, or we must retry the fast path.
	}
}

// Unlock releases the mutex. If a waiter is present, ownership is handed
// directly to the first one in FIFO order rather than passing through the
// unlocked state, eliminating lost-wakeup and thundering-herd races.
// Unlocking by a non-owner is fatal.
func (m *Mutex) Unlock(sched ktask.Scheduler, current *ktask.Task) {
	m.spin.Lock(current)

	if m.waiters.Empty() {
		atomic.StoreInt32(&m.unlockKind, int32(unlocked))
		if !m.casOwner(current, nil) {
			m.spin.Unlock(current)
			panic("kmutex: Unlock by non-owner")
		}
		m.spin.Unlock(current)
		return
	}

	// Peek the first waiter without popping: WakeOne below pops the same
	// task we hand ownership to, so we need its identity first.
	first := m.waiters.PeekHead()
	atomic.StoreInt32(&m.unlockKind, int32(passedToWaiter))
	if !m.casOwner(current, first) {
		m.spin.Unlock(current)
		panic("kmutex: Unlock by non-owner")
	}
	m.waiters.WakeOne(sched)
	m.spin.Unlock(current)
}
