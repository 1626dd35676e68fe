// Package ktask defines the task and executor state that the
// synchronization primitives manipulate, and the scheduler hand-off
// contract.
//
// The scheduler's task-selection policy is an external collaborator; this
// package only carries the fields and hooks that primitives in
// ticketlock, waitqueue, kmutex, rwlock and parker need to touch.
package ktask

import "sync/atomic"

// State is a task's scheduling state.
type State int32

const (
	Running State = iota
	Ready
	Blocked
)

// DeferredAction is a function the scheduler invokes after a context switch
// has committed, but before resuming any other task. It is the only
// mechanism for releasing a lock while transitioning a task's state,
// avoiding the window where a task could be marked ready (or blocked)
// without yet genuinely being off/on the CPU.
type DeferredAction func(arg any)

// Task carries the bookkeeping the synchronization primitives in this
// module need. The scheduler owns the rest of a real task's state; a
// *Task here is expected to be embedded in (or referenced from) a larger
// scheduler-owned structure.
type Task struct {
	// SpinlocksHeld counts ticketlock.Lock calls not yet matched by unlock.
	SpinlocksHeld int32
	// InterruptDisableCount is bumped by every spinlock acquired and by
	// explicit arch.Interrupts.Disable calls; interrupts are re-enabled only
	// when it reaches zero.
	InterruptDisableCount int32
	// SchedulerLocked is true while this task holds the scheduler lock
	// across a Drop/DropWithDeferredAction.
	SchedulerLocked bool

	state State

	// NextTaskNode links this task onto at most one wait queue, free list,
	// or parker slot at a time.
	NextTaskNode *Task
}

// State returns the task's current scheduling state, loaded atomically so
// that a waking executor's plain read races safely with the owner's write.
func (t *Task) State() State { return State(atomic.LoadInt32((*int32)(&t.state))) }

// SetState atomically updates the task's scheduling state.
func (t *Task) SetState(s State) { atomic.StoreInt32((*int32)(&t.state), int32(s)) }

// Executor is one CPU and the task currently running on it.
type Executor struct {
	ID      uint32
	Running *Task
}

// Scheduler is the external collaborator that queues tasks and arbitrates
// the scheduler lock. Every blocking primitive in this module is
// implemented purely in terms of this interface so that it never depends
// on a concrete scheduler.
type Scheduler interface {
	// Current returns the task running on the calling executor.
	Current() *Task
	// QueueTask makes t eligible to run again (State must already be Ready).
	QueueTask(t *Task)
	// LockScheduler acquires the global scheduler lock. Primitives call
	// this before mutating a task's State across a blocking transition.
	LockScheduler()
	// UnlockScheduler releases the global scheduler lock.
	UnlockScheduler()
	// Drop releases the scheduler lock and switches away from the
	// current task, which must already be Blocked or Ready.
	Drop()
	// DropWithDeferredAction is like Drop, but invokes action(arg) after
	// the context switch commits and before any other task resumes. This
	// is the only legal place to release a caller-held lock that guards
	// the transition being made.
	DropWithDeferredAction(action DeferredAction, arg any)
}
