// Package faketest provides hosted fake collaborators — a cooperative
// scheduler, an in-memory page table, a bump frame source, and no-op boot
// hooks — so that package tests can exercise the synchronization
// primitives, the fault handler and the boot sequence without real
// hardware.
package faketest

import (
	"sync"

	"github.com/CascadeOS/CascadeOS-sub010/ktask"
)

// Scheduler is a single-CPU cooperative scheduler: at most one task's
// goroutine is ever runnable at a time, handed the baton by Drop. It
// implements ktask.Scheduler.
type Scheduler struct {
	mu      sync.Mutex
	ready   []*ktask.Task
	current *ktask.Task
	resume  map[*ktask.Task]chan struct{}
}

// NewScheduler returns an idle Scheduler with no current task.
func NewScheduler() *Scheduler {
	return &Scheduler{resume: make(map[*ktask.Task]chan struct{})}
}

func (s *Scheduler) channelFor(t *ktask.Task) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.resume[t]; ok {
		return ch
	}
	ch := make(chan struct{})
	s.resume[t] = ch
	return ch
}

func (s *Scheduler) wake(t *ktask.Task) {
	s.mu.Lock()
	ch, ok := s.resume[t]
	if ok {
		delete(s.resume, t)
	}
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Spawn registers t to run fn in its own goroutine once the scheduler
// dispatches it for the first time; fn's goroutine blocks until then.
func (s *Scheduler) Spawn(t *ktask.Task, fn func()) {
	ch := s.channelFor(t)
	s.mu.Lock()
	t.SetState(ktask.Ready)
	s.ready = append(s.ready, t)
	s.mu.Unlock()
	go func() {
		<-ch
		fn()
	}()
}

// Start hands the baton to the first ready task. Call it once, from the
// driving test goroutine, after every initial task has been Spawned.
func (s *Scheduler) Start() {
	s.DropWithDeferredAction(nil, nil)
}

func (s *Scheduler) Current() *ktask.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scheduler) QueueTask(t *ktask.Task) {
	s.mu.Lock()
	t.SetState(ktask.Ready)
	s.ready = append(s.ready, t)
	s.mu.Unlock()
}

func (s *Scheduler) LockScheduler()   { s.mu.Lock() }
func (s *Scheduler) UnlockScheduler() { s.mu.Unlock() }

func (s *Scheduler) Drop() {
	s.DropWithDeferredAction(nil, nil)
}

// DropWithDeferredAction hands the baton to the next ready task (if any),
// runs action after that hand-off has been decided but before the next
// task is woken, then blocks the calling goroutine until it is itself
// chosen to run again.
func (s *Scheduler) DropWithDeferredAction(action ktask.DeferredAction, arg any) {
	s.mu.Lock()
	outgoing := s.current
	var next *ktask.Task
	if len(s.ready) > 0 {
		next = s.ready[0]
		s.ready = s.ready[1:]
	}
	s.current = next
	s.mu.Unlock()

	if action != nil {
		action(arg)
	}

	if next != nil {
		next.SetState(ktask.Running)
		s.wake(next)
	}

	if outgoing == nil {
		return
	}
	<-s.channelFor(outgoing)
}
