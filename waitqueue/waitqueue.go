// Package waitqueue implements the FIFO of blocked tasks used by kmutex
// and rwlock. A WaitQueue is always keyed
// to a ticketlock.Spinlock that the caller must already hold when calling
// Wait or WakeOne.
package waitqueue

import (
	"github.com/CascadeOS/CascadeOS-sub010/ktask"
	"github.com/CascadeOS/CascadeOS-sub010/ticketlock"
)

// WaitQueue is a singly-linked FIFO of blocked tasks.
type WaitQueue struct {
	head, tail *ktask.Task
}

// Empty reports whether the queue has no waiters. The caller must hold the
// spinlock this queue is keyed to.
func (q *WaitQueue) Empty() bool { return q.head == nil }

// PeekHead returns the task at the front of the queue without removing it,
// or nil if the queue is empty. Used by kmutex to learn the identity of
// the waiter it is about to hand ownership to before popping it via
// WakeOne.
func (q *WaitQueue) PeekHead() *ktask.Task { return q.head }

func (q *WaitQueue) push(t *ktask.Task) {
	t.NextTaskNode = nil
	if q.tail == nil {
		q.head, q.tail = t, t
		return
	}
	q.tail.NextTaskNode = t
	q.tail = t
}

func (q *WaitQueue) pop() *ktask.Task {
	t := q.head
	if t == nil {
		return nil
	}
	q.head = t.NextTaskNode
	if q.head == nil {
		q.tail = nil
	}
	t.NextTaskNode = nil
	return t
}

// Wait enqueues task and blocks it, releasing spinlock as part of the same
// scheduler hand-off that commits the task's Blocked state. spinlock must
// be held on entry and must not be touched by the caller afterward — the
// deferred action releases it once the task is genuinely off the CPU.
func (q *WaitQueue) Wait(sched ktask.Scheduler, task *ktask.Task, spinlock *ticketlock.Spinlock) {
	q.push(task)
	task.SetState(ktask.Blocked)

	sched.DropWithDeferredAction(func(arg any) {
		sl := arg.(*ticketlock.Spinlock)
		task.SpinlocksHeld--
		task.InterruptDisableCount--
		sl.ReleaseStateOnly()
	}, spinlock)
}

// WakeOne pops one waiting task, if any, marks it Ready and queues it on
// the scheduler. The caller must still hold spinlock; WakeOne does not
// release it. Returns the woken task, or nil if the queue was empty.
func (q *WaitQueue) WakeOne(sched ktask.Scheduler) *ktask.Task {
	t := q.pop()
	if t == nil {
		return nil
	}
	t.SetState(ktask.Ready)
	sched.QueueTask(t)
	return t
}
