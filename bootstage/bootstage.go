// Package bootstage implements the multi-stage boot barrier: turning one
// bootstrap CPU and its provided stack into N fully scheduled executors,
// each electing exactly one of its stage's callers to do the stage's
// shared setup work while the rest wait for it to finish.
package bootstage

import (
	"sync/atomic"

	"github.com/CascadeOS/CascadeOS-sub010/arch"
)

// Barrier is one stage's single-executor election. The zero value expects
// zero executors; Barrier must be configured via New before use.
type Barrier struct {
	readyCount    atomic.Uint64
	complete      atomic.Bool
	totalExecutors uint64
}

// New returns a Barrier for a stage that every one of totalExecutors
// callers will reach exactly once.
func New(totalExecutors uint64) *Barrier {
	return &Barrier{totalExecutors: totalExecutors}
}

// Start registers the calling executor's arrival at this stage. The first
// caller to arrive (readyCount transitions 0->1) is the designated
// executor: Start spins until every other executor has also arrived, then
// returns true so that caller alone does the stage's shared work. Every
// other caller spins until Complete is called and returns false.
func (b *Barrier) Start() (designated bool) {
	if b.readyCount.Add(1) == 1 {
		for b.readyCount.Load() < b.totalExecutors {
			arch.SpinLoopHint()
		}
		return true
	}
	for !b.complete.Load() {
		arch.SpinLoopHint()
	}
	return false
}

// Complete releases every waiter blocked in Start. Only the designated
// executor (the one for which Start returned true) may call this.
func (b *Barrier) Complete() {
	b.complete.Store(true)
}
