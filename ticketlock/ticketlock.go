// Package ticketlock implements the fair, FIFO ticket spinlock that
// protects every other primitive and structure in the core.
package ticketlock

import (
	"sync/atomic"

	"github.com/CascadeOS/CascadeOS-sub010/arch"
	"github.com/CascadeOS/CascadeOS-sub010/ktask"
)

const noHolder = ^uint32(0)

// Spinlock is a fair, mutual-exclusion lock across CPUs. Acquiring it
// disables interrupts on the calling executor; the outermost release
// re-enables them.
type Spinlock struct {
	ticket  uint32
	current uint32
	holder  uint32 // executor id of the current holder, or noHolder
}

// New returns an unheld spinlock.
func New() *Spinlock {
	return &Spinlock{holder: noHolder}
}

// Lock acquires the spinlock on behalf of current, busy-waiting with the
// architecture's spin-loop hint. Recursive acquisition by the same executor
// is a programming error and panics.
func (l *Spinlock) Lock(current *ktask.Task) {
	wasEnabled := arch.Current.Disable()
	_ = wasEnabled
	current.InterruptDisableCount++

	me := arch.CPUID()
	if atomic.LoadUint32(&l.holder) == me && atomic.LoadUint32(&l.ticket) != atomic.LoadUint32(&l.current) {
		panic("ticketlock: recursive Lock by same executor")
	}

	my := atomic.AddUint32(&l.ticket, 1) - 1
	for atomic.LoadUint32(&l.current) != my {
		arch.SpinLoopHint()
	}
	atomic.StoreUint32(&l.holder, me)
	current.SpinlocksHeld++
}

// TryLock acquires the spinlock only if it is immediately available,
// without ever joining the ticket queue. It returns false (and restores
// interrupt state) if the lock is already held.
func (l *Spinlock) TryLock(current *ktask.Task) bool {
	arch.Current.Disable()
	current.InterruptDisableCount++

	for {
		cur := atomic.LoadUint32(&l.current)
		tkt := atomic.LoadUint32(&l.ticket)
		if cur != tkt {
			current.InterruptDisableCount--
			if current.InterruptDisableCount == 0 {
				arch.Current.Enable()
			}
			return false
		}
		if atomic.CompareAndSwapUint32(&l.ticket, tkt, tkt+1) {
			atomic.StoreUint32(&l.holder, arch.CPUID())
			current.SpinlocksHeld++
			return true
		}
	}
}

// Unlock releases the spinlock. The caller must be the current holder;
// unlocking by a non-holder is a programming error and panics.
func (l *Spinlock) Unlock(current *ktask.Task) {
	me := arch.CPUID()
	if atomic.LoadUint32(&l.holder) != me {
		panic("ticketlock: Unlock by non-holder")
	}
	l.UnsafeUnlock(current)
}

// UnsafeUnlock releases the spinlock without checking that the caller is
// the holder. It exists only for hand-off paths (e.g. kmutex's wait-queue
// release) that have already established ownership by construction.
func (l *Spinlock) UnsafeUnlock(current *ktask.Task) {
	atomic.StoreUint32(&l.holder, noHolder)
	atomic.AddUint32(&l.current, 1)
	current.SpinlocksHeld--
	current.InterruptDisableCount--
	if current.InterruptDisableCount == 0 {
		arch.Current.Enable()
	}
}

// ReleaseStateOnly clears the holder and advances the ticket counter
// without touching the calling task's SpinlocksHeld/InterruptDisableCount.
// It exists solely for wait-queue style hand-offs (waitqueue.Wait) where
// those counters were already adjusted directly as part of the same
// deferred action that makes the task Blocked.
func (l *Spinlock) ReleaseStateOnly() {
	atomic.StoreUint32(&l.holder, noHolder)
	atomic.AddUint32(&l.current, 1)
}

// Poison makes every future Lock deadlock by decrementing current, so that
// no ticket will ever match it again. Used when a dependent subsystem must
// refuse further progress rather than risk operating on corrupted state.
func (l *Spinlock) Poison() {
	atomic.AddUint32(&l.current, ^uint32(0)) // current -= 1
}

// HeldByCurrentExecutor reports whether the calling executor holds l. Used
// by assertions (e.g. Lockassert-style checks) rather than by the hot path.
func (l *Spinlock) HeldByCurrentExecutor() bool {
	return atomic.LoadUint32(&l.holder) == arch.CPUID() && atomic.LoadUint32(&l.ticket) != atomic.LoadUint32(&l.current)
}
