package ticketlock

import (
	"testing"

	"github.com/CascadeOS/CascadeOS-sub010/arch"
	"github.com/CascadeOS/CascadeOS-sub010/ktask"
)

// withCPUID temporarily overrides arch.CPUID for tests that need distinct
// executors, restoring the previous hook on return.
func withCPUID(id uint32, fn func()) {
	prev := arch.CPUID
	arch.CPUID = func() uint32 { return id }
	defer func() { arch.CPUID = prev }()
	fn()
}

func TestLockUnlockBasic(t *testing.T) {
	l := New()
	task := &ktask.Task{}

	withCPUID(1, func() {
		l.Lock(task)
		if !l.HeldByCurrentExecutor() {
			t.Fatal("expected the lock to be held by the acquiring executor")
		}
		if task.SpinlocksHeld != 1 {
			t.Fatalf("SpinlocksHeld = %d, want 1", task.SpinlocksHeld)
		}
		l.Unlock(task)
		if l.HeldByCurrentExecutor() {
			t.Fatal("expected the lock to be released")
		}
		if task.SpinlocksHeld != 0 {
			t.Fatalf("SpinlocksHeld = %d, want 0", task.SpinlocksHeld)
		}
	})
}

func TestRecursiveLockByLastHolderPanics(t *testing.T) {
	l := New()
	task := &ktask.Task{}

	withCPUID(1, func() {
		l.Lock(task)
		defer l.Unlock(task)

		defer func() {
			if recover() == nil {
				t.Fatal("expected a second Lock by the same executor to panic")
			}
		}()
		l.Lock(task)
	})
}

func TestUnlockByNonHolderPanics(t *testing.T) {
	l := New()
	owner := &ktask.Task{}

	withCPUID(1, func() {
		l.Lock(owner)
	})

	defer func() {
		if recover() == nil {
			t.Fatal("expected Unlock by a non-holder executor to panic")
		}
	}()
	withCPUID(2, func() {
		l.Unlock(&ktask.Task{})
	})
}

func TestTryLockFailsWhenHeld(t *testing.T) {
	l := New()
	owner := &ktask.Task{}

	withCPUID(1, func() {
		l.Lock(owner)
	})

	withCPUID(2, func() {
		other := &ktask.Task{}
		if l.TryLock(other) {
			t.Fatal("expected TryLock to fail while the lock is held")
		}
		if other.SpinlocksHeld != 0 {
			t.Fatalf("SpinlocksHeld = %d, want 0 after a failed TryLock", other.SpinlocksHeld)
		}
	})

	withCPUID(1, func() {
		l.Unlock(owner)
	})
}

func TestTryLockSucceedsWhenFree(t *testing.T) {
	l := New()
	task := &ktask.Task{}

	withCPUID(1, func() {
		if !l.TryLock(task) {
			t.Fatal("expected TryLock to succeed on a free lock")
		}
		l.Unlock(task)
	})
}

func TestPoisonPreventsFutureTryLock(t *testing.T) {
	l := New()
	l.Poison()

	withCPUID(1, func() {
		task := &ktask.Task{}
		if l.TryLock(task) {
			t.Fatal("expected TryLock to fail forever on a poisoned lock")
		}
	})
}

func TestReleaseStateOnlyLeavesTaskCountersUntouched(t *testing.T) {
	l := New()
	task := &ktask.Task{SpinlocksHeld: 5, InterruptDisableCount: 5}

	withCPUID(1, func() {
		l.Lock(task)
	})
	// Simulate a wait-queue hand-off: the caller already adjusted the
	// task's counters itself before releasing the lock.
	l.ReleaseStateOnly()

	if task.SpinlocksHeld != 6 {
		t.Fatalf("SpinlocksHeld = %d, want 6 (unchanged by ReleaseStateOnly)", task.SpinlocksHeld)
	}
	if l.HeldByCurrentExecutor() {
		t.Fatal("expected ReleaseStateOnly to clear the holder")
	}
}
