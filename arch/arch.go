// Package arch defines the architecture intrinsics the rest of the core
// depends on: a spin-loop hint, interrupt enable/disable, and
// per-CPU identification. Concrete per-architecture bodies (x86-64,
// aarch64, riscv) are out of scope here — this package only
// carries the abstract contract plus a portable fallback used by tests.
package arch

import "runtime"

// Interrupts is the external collaborator providing interrupt control.
type Interrupts interface {
	// Disable masks interrupts on the calling CPU and returns whether they
	// were previously enabled, so the caller can restore the prior state.
	Disable() (wasEnabled bool)
	// Enable unmasks interrupts on the calling CPU.
	Enable()
	// DisableAndHalt masks interrupts and halts the CPU until the next one
	// arrives (used by idle loops; never called by the primitives here).
	DisableAndHalt()
}

// Current is the process-wide interrupt collaborator, replaced by assigning
// to it; bootstage does not assign it. Synchronization
// primitives in ticketlock/kmutex call through this package-level hook
// rather than taking an explicit parameter.
var Current Interrupts = noopInterrupts{}

// noopInterrupts is Current's initial value and lets tests exercise
// the primitives on a hosted Go runtime, where there is no real interrupt
// controller to mask.
type noopInterrupts struct{}

func (noopInterrupts) Disable() bool   { return true }
func (noopInterrupts) Enable()         {}
func (noopInterrupts) DisableAndHalt() {}

// SpinLoopHint issues the architecture's busy-wait relaxation instruction
// (PAUSE on x86-64, YIELD on aarch64/riscv). On a hosted Go runtime,
// runtime.Gosched is the closest portable equivalent.
func SpinLoopHint() { runtime.Gosched() }

// CPUID returns the id of the calling logical CPU. Stage 2 of the boot
// barrier installs a real implementation backed by per-CPU arch state;
// until then this returns 0, which is correct for the single bootstrap CPU.
var CPUID func() uint32 = func() uint32 { return 0 }
