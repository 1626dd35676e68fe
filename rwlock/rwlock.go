// Package rwlock implements a reader/writer lock: a single packed word of
// reader count / pending-writer count / is-writing bit, backed by a
// kmutex.Mutex for writer serialization and an auxiliary
// waitqueue.WaitQueue for a writer waiting for the active readers to drain.
//
// Fairness is best-effort: a reader that sees a pending or active writer
// queues behind the writers on the mutex, but readers already holding the
// lock are never preempted, so the writer still waits for all of them.
package rwlock

import (
	"sync/atomic"

	"github.com/CascadeOS/CascadeOS-sub010/kmutex"
	"github.com/CascadeOS/CascadeOS-sub010/ktask"
	"github.com/CascadeOS/CascadeOS-sub010/ticketlock"
	"github.com/CascadeOS/CascadeOS-sub010/waitqueue"
)

const (
	writingBit  = uint64(1) << 63
	writerShift = 32
	writerMask  = uint64(0x7fffffff) << writerShift
	readerMask  = uint64(0xffffffff)
)

// RWLock is a reader/writer lock guarding a resource shared by many
// readers or one writer at a time.
type RWLock struct {
	word    atomic.Uint64 // readers | pendingWriters<<32 | isWriting<<63
	mu      kmutex.Mutex
	readers waitqueue.WaitQueue // writers stalled on in-flight readers
	wspin   ticketlock.Spinlock // guards readers/word interaction in writeLock/readUnlock
}

// New returns an unlocked RWLock.
func New() *RWLock { return &RWLock{} }

func readerCount(w uint64) uint64  { return w & readerMask }
func writerCount(w uint64) uint64  { return (w & writerMask) >> writerShift }
func isWriting(w uint64) bool      { return w&writingBit != 0 }
func withReaderInc(w uint64) uint64 { return w + 1 }

// ReadLock acquires a shared read lock. If a writer is pending or active,
// it serializes behind the backing mutex rather than spinning forever so
// that the writer is not starved by a stream of new readers.
func (l *RWLock) ReadLock(sched ktask.Scheduler, current *ktask.Task) {
	for {
		w := l.word.Load()
		if !isWriting(w) && writerCount(w) == 0 {
			if l.word.CompareAndSwap(w, withReaderInc(w)) {
				return
			}
			continue
		}
		// A writer holds or is waiting for the lock: serialize through
		// the mutex so we don't spin past it indefinitely.
		l.mu.Lock(sched, current)
		l.word.Add(1)
		l.mu.Unlock(sched, current)
		return
	}
}

// ReadUnlock releases a shared read lock. If this was the last reader and
// a writer is mid-acquisition, it wakes that writer.
func (l *RWLock) ReadUnlock(sched ktask.Scheduler, current *ktask.Task) {
	l.wspin.Lock(current)
	w := l.word.Add(^uint64(0)) // -1
	if readerCount(w) == 0 && isWriting(w) {
		l.readers.WakeOne(sched)
	}
	l.wspin.Unlock(current)
}

// WriteLock acquires the exclusive write lock, waiting for any in-flight
// readers to drain.
func (l *RWLock) WriteLock(sched ktask.Scheduler, current *ktask.Task) {
	l.word.Add(uint64(1) << writerShift) // pre-increment writer count

	l.mu.Lock(sched, current)

	l.wspin.Lock(current)
	l.word.Add(writingBit - (uint64(1) << writerShift))
	for readerCount(l.word.Load()) != 0 {
		l.readers.Wait(sched, current, &l.wspin)
		l.wspin.Lock(current)
	}
	l.wspin.Unlock(current)
}

// WriteUnlock releases the exclusive write lock.
func (l *RWLock) WriteUnlock(sched ktask.Scheduler, current *ktask.Task) {
	l.wspin.Lock(current)
	l.word.Add(^(writingBit) + 1) // clear the writing bit
	l.wspin.Unlock(current)
	l.mu.Unlock(sched, current)
}

// TryUpgradeLock attempts to turn the calling task's sole outstanding read
// lock into a write lock in place. On failure the lock is left fully
// released (not still read-locked) and the caller must restart from
// scratch
func (l *RWLock) TryUpgradeLock(sched ktask.Scheduler, current *ktask.Task) bool {
	w := l.word.Load()
	if readerCount(w) == 1 && !isWriting(w) && writerCount(w) == 0 {
		if l.word.CompareAndSwap(w, writingBit) {
			// WriteUnlock always releases l.mu unconditionally, so a
			// successful in-place upgrade must hold it just like a normal
			// WriteLock would.
			l.mu.Lock(sched, current)
			return true
		}
	}
	// Release our read lock unconditionally; the caller must restart.
	l.ReadUnlock(sched, current)
	return false
}
