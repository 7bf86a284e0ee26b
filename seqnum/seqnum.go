// Package seqnum describes the numeric capability a sequence needs from its
// integer kind, with implementations for every unsigned width Go offers plus
// a 128-bit kind.
package seqnum

import "errors"

// Sentinel errors returned by Parse implementations.
var (
	ErrSyntax     = errors.New("seqnum: invalid decimal syntax")
	ErrOutOfRange = errors.New("seqnum: value out of range")
)

// Ops is the set of operations a sequence performs on its values.
// Implementations are zero-size types so they can be used as a type
// parameter and called through their zero value.
type Ops[T any] interface {
	// Zero returns the additive identity.
	Zero() T
	// One returns the unit step.
	One() T
	// Max returns the largest representable value.
	Max() T
	// CheckedAdd returns a+b, or false if the sum does not fit in T.
	CheckedAdd(a, b T) (T, bool)
	// Compare returns -1, 0 or +1 following integer order.
	Compare(a, b T) int
	// Parse reads a base-10 representation.
	Parse(s string) (T, error)
	// Format writes the base-10 representation.
	Format(v T) string
	// Name is the stable kind identifier used in persisted records.
	Name() string
}

// Unsigned is the set of native unsigned integer kinds.
type Unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}
