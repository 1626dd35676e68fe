package arch

import "testing"

func TestDefaultInterruptsAreNoop(t *testing.T) {
	if !Current.Disable() {
		t.Fatal("expected the default no-op collaborator to report interrupts as previously enabled")
	}
	Current.Enable()
	Current.DisableAndHalt()
}

func TestSpinLoopHintDoesNotPanic(t *testing.T) {
	SpinLoopHint()
}

func TestDefaultCPUIDIsZero(t *testing.T) {
	if got := CPUID(); got != 0 {
		t.Fatalf("default CPUID() = %d, want 0", got)
	}
}

func TestCPUIDHookIsOverridable(t *testing.T) {
	prev := CPUID
	defer func() { CPUID = prev }()

	CPUID = func() uint32 { return 7 }
	if got := CPUID(); got != 7 {
		t.Fatalf("CPUID() after override = %d, want 7", got)
	}
}
