// Package sequence provides a generator of strictly increasing unsigned
// integers.
//
// A Sequence starts at a configurable value, can be fast-forwarded past
// values observed elsewhere, and passivates itself for good once the range of
// its integer kind (or an explicit limit) is exhausted. Passive sequences
// never produce another value.
//
// A Sequence is a plain value and is not safe for concurrent use; callers
// that share one across goroutines must serialize access.
//
//	seq := sequence.Uint8.New()
//	seq.Next()           // 0, true
//	seq.Next()           // 1, true
//	seq.ContinueAfter(5)
//	seq.Next()           // 6, true
package sequence

import (
	"iter"

	"github.com/petal-labs/sequential/seqnum"
)

// Sequence produces monotonically increasing values of type T, using N for
// arithmetic. An increment of zero marks the sequence as passive, so the
// zero value is a passive sequence; use one of the constructors.
type Sequence[T any, N seqnum.Ops[T]] struct {
	next      T
	increment T
	limit     T
	num       N
}

// New returns a sequence that starts at zero and increments by one.
func New[T any, N seqnum.Ops[T]]() Sequence[T, N] {
	var num N
	return Sequence[T, N]{
		next:      num.Zero(),
		increment: num.One(),
		limit:     num.Max(),
	}
}

// dead returns a passive sequence.
func dead[T any, N seqnum.Ops[T]]() Sequence[T, N] {
	var num N
	return Sequence[T, N]{
		next:      num.Zero(),
		increment: num.Zero(),
		limit:     num.Max(),
	}
}

// StartWith returns a sequence that starts at v and increments by one.
func StartWith[T any, N seqnum.Ops[T]](v T) Sequence[T, N] {
	s := New[T, N]()
	s.next = v
	return s
}

// StartAfter returns a sequence that starts at v+1 and increments by one.
// If v is the maximum of T the sequence is passive from the start.
func StartAfter[T any, N seqnum.Ops[T]](v T) Sequence[T, N] {
	var num N
	next, ok := num.CheckedAdd(v, num.One())
	if !ok {
		return dead[T, N]()
	}
	return StartWith[T, N](next)
}

// StartAfterHighest returns StartAfter of the largest value in values, or
// StartAfter(0) when values yields nothing.
func StartAfterHighest[T any, N seqnum.Ops[T]](values iter.Seq[T]) Sequence[T, N] {
	var num N
	highest := num.Zero()
	for v := range values {
		if num.Compare(v, highest) > 0 {
			highest = v
		}
	}
	return StartAfter[T, N](highest)
}

// WithStartEndIncrement returns a sequence producing start, start+incr, ...
// up to and including end. A zero increment yields a passive sequence.
func WithStartEndIncrement[T any, N seqnum.Ops[T]](start, end, incr T) Sequence[T, N] {
	return Sequence[T, N]{
		next:      start,
		increment: incr,
		limit:     end,
	}
}

// WithIncrement returns a copy of s that steps by incr. It has no effect on a
// passive sequence, and an increment of zero passivates the copy.
//
// The new increment takes effect after the next value, not with it; this only
// matters once values have been consumed.
func (s Sequence[T, N]) WithIncrement(incr T) Sequence[T, N] {
	if s.IsActive() {
		s.increment = incr
	}
	return s
}

// ContinueAfter makes sure s never produces v or anything below it, moving
// the next value forward if necessary. It never moves it backwards.
func (s *Sequence[T, N]) ContinueAfter(v T) {
	candidate, ok := s.num.CheckedAdd(v, s.increment)
	if !ok {
		s.setPassive()
		return
	}
	if s.num.Compare(candidate, s.next) > 0 {
		s.next = candidate
	}
}

// Next returns the current value and advances, or reports false once the
// sequence is passive.
func (s *Sequence[T, N]) Next() (T, bool) {
	if s.num.Compare(s.next, s.limit) > 0 {
		s.setPassive()
	}
	if s.IsPassive() {
		return s.num.Zero(), false
	}

	current := s.next
	if next, ok := s.num.CheckedAdd(s.next, s.increment); ok {
		s.next = next
	} else {
		s.setPassive()
	}
	return current, true
}

// All returns an iterator that drains s. Breaking out of the loop leaves s
// positioned after the last consumed value.
func (s *Sequence[T, N]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, ok := s.Next()
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// Peek reports the value the next call to Next would return, without
// advancing.
func (s Sequence[T, N]) Peek() (T, bool) {
	if s.IsPassive() || s.num.Compare(s.next, s.limit) > 0 {
		return s.num.Zero(), false
	}
	return s.next, true
}

// Increment returns the step size; zero for a passive sequence.
func (s Sequence[T, N]) Increment() T { return s.increment }

// Limit returns the inclusive upper bound.
func (s Sequence[T, N]) Limit() T { return s.limit }

// IsActive reports whether s may still produce values.
func (s Sequence[T, N]) IsActive() bool {
	return s.num.Compare(s.increment, s.num.Zero()) != 0
}

// IsPassive reports whether s has stopped producing values for good.
func (s Sequence[T, N]) IsPassive() bool { return !s.IsActive() }

func (s *Sequence[T, N]) setPassive() {
	s.increment = s.num.Zero()
}
