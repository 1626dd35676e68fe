// Package errs defines the small error taxonomy the core surfaces to its
// callers. Programming-invariant violations are never represented here —
// those still panic with a short descriptive string instead.
package errs

import "fmt"

// Kind classifies a recoverable error returned by the core.
type Kind int

const (
	// OutOfMemory means the physical frame allocator or a tag cache is
	// exhausted.
	OutOfMemory Kind = iota
	// AddressSpaceExhausted means the owning arena could not satisfy a
	// virtual-range request.
	AddressSpaceExhausted
	// AlreadyMapped means a page-table leaf slot was already occupied.
	AlreadyMapped
	// NotMapped means a fault address has no covering entry.
	NotMapped
	// Protection means an access violated an entry's declared protection.
	Protection
	// ZeroLength means a caller asked for a zero-page or zero-byte range.
	ZeroLength
	// Poisoned means a lock was poisoned and will never be acquired again.
	Poisoned
	// RequestedLengthUnavailable means no free tag in an arena satisfies a
	// request and no source (or the source's import) could help.
	RequestedLengthUnavailable
	// OutOfBoundaryTags means an arena's tag cache itself is exhausted.
	OutOfBoundaryTags
)

var names = [...]string{
	"out of memory",
	"address space exhausted",
	"already mapped",
	"not mapped",
	"protection violation",
	"zero length",
	"lock poisoned",
	"requested length unavailable",
	"out of boundary tags",
}

func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(names) {
		return "unknown error"
	}
	return names[k]
}

// Error is the concrete error value returned by core operations. Op names
// the operation that failed (e.g. "uvm.Map", "arena.Allocate") so that
// errors.Is-based callers and plain log lines both read sensibly.
type Error struct {
	Kind Kind
	Op   string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind.String())
}

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, errs.New("", errs.NotMapped)) style comparisons work
// without callers needing to know the Op that produced err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error for op/kind.
func New(op string, kind Kind) *Error {
	return &Error{Kind: kind, Op: op}
}
