package sequence

import (
	"iter"

	"github.com/petal-labs/sequential/seqnum"
)

// Kind binds an integer kind to the constructors so the type parameters do
// not have to be spelled out at every call site.
type Kind[T any, N seqnum.Ops[T]] struct{}

// Kinds for every supported width.
var (
	Uint8   Kind[uint8, seqnum.Native[uint8]]
	Uint16  Kind[uint16, seqnum.Native[uint16]]
	Uint32  Kind[uint32, seqnum.Native[uint32]]
	Uint64  Kind[uint64, seqnum.Native[uint64]]
	Uint    Kind[uint, seqnum.Native[uint]]
	Uintptr Kind[uintptr, seqnum.Native[uintptr]]
	Uint128 Kind[seqnum.Uint128, seqnum.Wide]
)

// Of is a Sequence over a native unsigned kind.
type Of[T seqnum.Unsigned] = Sequence[T, seqnum.Native[T]]

// Wide is a Sequence over 128-bit values.
type Wide = Sequence[seqnum.Uint128, seqnum.Wide]

func (Kind[T, N]) New() Sequence[T, N] { return New[T, N]() }

func (Kind[T, N]) StartWith(v T) Sequence[T, N] { return StartWith[T, N](v) }

func (Kind[T, N]) StartAfter(v T) Sequence[T, N] { return StartAfter[T, N](v) }

func (Kind[T, N]) StartAfterHighest(values iter.Seq[T]) Sequence[T, N] {
	return StartAfterHighest[T, N](values)
}

func (Kind[T, N]) WithStartEndIncrement(start, end, incr T) Sequence[T, N] {
	return WithStartEndIncrement[T, N](start, end, incr)
}

// Ops returns the arithmetic of the kind.
func (Kind[T, N]) Ops() N {
	var num N
	return num
}

// Name is the kind identifier, e.g. "uint32".
func (k Kind[T, N]) Name() string { return k.Ops().Name() }
