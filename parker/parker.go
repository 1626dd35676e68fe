// Package parker implements a single-consumer, many-producer blocking
// primitive: exactly one task parks; any number of tasks may try to
// unpark it, the first unparker performs the wake and later ones fold
// into a counter so no wakeup is lost and none is duplicated.
package parker

import (
	"sync/atomic"
	"unsafe"

	"github.com/CascadeOS/CascadeOS-sub010/ktask"
	"github.com/CascadeOS/CascadeOS-sub010/ticketlock"
)

// Parker is a single-consumer wake primitive. The same Parker must not be
// parked on by more than one task concurrently.
type Parker struct {
	unparkAttempts atomic.Uint64
	spin           ticketlock.Spinlock
	parkedTask     unsafe.Pointer // *ktask.Task, set only while a park is pending
}

// New returns a Parker with no pending unpark and no parked task.
func New() *Parker { return &Parker{} }

// Park blocks task until an Unpark call observes it parked (or has already
// arrived since the last Park returned — spurious-wakeup-safe). Callers
// must re-check their own predicate after Park returns, since the wakeup
// may be unrelated to the condition they are waiting for.
func (p *Parker) Park(sched ktask.Scheduler, task *ktask.Task) {
	if p.unparkAttempts.Swap(0) != 0 {
		// A producer already arrived since our last return; consume it
		// and return immediately without ever blocking.
		return
	}

	p.spin.Lock(task)
	if p.unparkAttempts.Load() != 0 {
		p.spin.Unlock(task)
		p.unparkAttempts.Store(0)
		return
	}

	atomic.StorePointer(&p.parkedTask, unsafe.Pointer(task))
	task.SetState(ktask.Blocked)
	sched.DropWithDeferredAction(func(arg any) {
		sl := arg.(*ticketlock.Spinlock)
		task.SpinlocksHeld--
		task.InterruptDisableCount--
		sl.ReleaseStateOnly()
	}, &p.spin)

	// Resumed: whoever unparked us has already cleared parkedTask. Clear
	// any residual attempts that may have accumulated from racing
	// unparkers that lost the race to be "first".
	p.unparkAttempts.Store(0)
}

// Unpark wakes the parked task if one is currently parked, or records the
// attempt for the next Park call to consume immediately if not. Of any
// number of concurrent Unpark calls, exactly the first (the one that
// observes the counter transition from zero) performs the wake; the rest
// return having only contributed to the counter.
func (p *Parker) Unpark(sched ktask.Scheduler, callerCtx *ktask.Task) {
	if p.unparkAttempts.Add(1) != 1 {
		// Someone else already observed the counter at zero and is
		// responsible for the wake; we've only contributed to the count.
		return
	}

	p.spin.Lock(callerCtx)
	t := (*ktask.Task)(atomic.LoadPointer(&p.parkedTask))
	if t != nil {
		atomic.StorePointer(&p.parkedTask, nil)
		t.SetState(ktask.Ready)
		sched.QueueTask(t)
	}
	p.spin.Unlock(callerCtx)
}
