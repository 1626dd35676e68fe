package rwlock

import (
	"testing"

	"github.com/CascadeOS/CascadeOS-sub010/faketest"
	"github.com/CascadeOS/CascadeOS-sub010/ktask"
)

func TestReadLockUnlockRoundTrips(t *testing.T) {
	sched := faketest.NewScheduler()
	l := New()
	task := &ktask.Task{}

	l.ReadLock(sched, task)
	if got := readerCount(l.word.Load()); got != 1 {
		t.Fatalf("readerCount = %d, want 1", got)
	}
	l.ReadUnlock(sched, task)
	if got := readerCount(l.word.Load()); got != 0 {
		t.Fatalf("readerCount = %d, want 0 after ReadUnlock", got)
	}
}

func TestMultipleReadersConcurrently(t *testing.T) {
	sched := faketest.NewScheduler()
	l := New()
	a, b := &ktask.Task{}, &ktask.Task{}

	l.ReadLock(sched, a)
	l.ReadLock(sched, b)
	if got := readerCount(l.word.Load()); got != 2 {
		t.Fatalf("readerCount = %d, want 2", got)
	}
	l.ReadUnlock(sched, a)
	l.ReadUnlock(sched, b)
	if got := readerCount(l.word.Load()); got != 0 {
		t.Fatalf("readerCount = %d, want 0", got)
	}
}

func TestWriteLockUnlockUncontended(t *testing.T) {
	sched := faketest.NewScheduler()
	l := New()
	task := &ktask.Task{}

	l.WriteLock(sched, task)
	if !isWriting(l.word.Load()) {
		t.Fatal("expected the writing bit to be set")
	}
	l.WriteUnlock(sched, task)
	if isWriting(l.word.Load()) {
		t.Fatal("expected the writing bit to be cleared after WriteUnlock")
	}
}

func TestTryUpgradeLockSucceedsWithSoleReader(t *testing.T) {
	sched := faketest.NewScheduler()
	l := New()
	task := &ktask.Task{}

	l.ReadLock(sched, task)
	if !l.TryUpgradeLock(sched, task) {
		t.Fatal("expected upgrade to succeed with a single reader and no writer")
	}
	if !isWriting(l.word.Load()) {
		t.Fatal("expected the writing bit to be set after a successful upgrade")
	}
	l.WriteUnlock(sched, task)
}

func TestTryUpgradeLockFailsWithOtherReaders(t *testing.T) {
	sched := faketest.NewScheduler()
	l := New()
	a, b := &ktask.Task{}, &ktask.Task{}

	l.ReadLock(sched, a)
	l.ReadLock(sched, b)

	if l.TryUpgradeLock(sched, a) {
		t.Fatal("expected upgrade to fail while another reader holds the lock")
	}
	// A failed upgrade must leave the caller fully unlocked, not still
	// holding its original read lock.
	if got := readerCount(l.word.Load()); got != 1 {
		t.Fatalf("readerCount = %d, want 1 (only b's read lock remaining)", got)
	}

	l.ReadUnlock(sched, b)
}
