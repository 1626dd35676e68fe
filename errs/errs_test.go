package errs

import (
	"errors"
	"testing"
)

func TestErrorStringWithAndWithoutOp(t *testing.T) {
	withOp := New("uvm.Map", NotMapped)
	if got, want := withOp.Error(), "uvm.Map: not mapped"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := New("", OutOfMemory)
	if got, want := bare.Error(), "out of memory"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	a := New("arena.Allocate", RequestedLengthUnavailable)
	b := New("pgtable.Map", RequestedLengthUnavailable)

	if !errors.Is(a, b) {
		t.Error("errors with the same Kind but different Op should match")
	}

	c := New("arena.Allocate", OutOfBoundaryTags)
	if errors.Is(a, c) {
		t.Error("errors with different Kinds should not match")
	}

	if errors.Is(a, errors.New("plain")) {
		t.Error("an *Error should never match a non-*Error target")
	}
}

func TestKindStringUnknown(t *testing.T) {
	var k Kind = 1000
	if got := k.String(); got != "unknown error" {
		t.Errorf("String() of out-of-range Kind = %q, want %q", got, "unknown error")
	}
}

func TestKindStringCoversAllNamedKinds(t *testing.T) {
	kinds := []Kind{
		OutOfMemory, AddressSpaceExhausted, AlreadyMapped, NotMapped,
		Protection, ZeroLength, Poisoned, RequestedLengthUnavailable,
		OutOfBoundaryTags,
	}
	for _, k := range kinds {
		if k.String() == "unknown error" {
			t.Errorf("Kind %d unexpectedly stringified as unknown", k)
		}
	}
}
