package seqnum

import (
	"cmp"
	"errors"
	"fmt"
	"math/bits"
	"strconv"
)

// Native implements Ops for the built-in unsigned integer kinds using the
// platform's own arithmetic.
type Native[T Unsigned] struct{}

func (Native[T]) Zero() T { return 0 }

func (Native[T]) One() T { return 1 }

func (Native[T]) Max() T { return ^T(0) }

func (Native[T]) CheckedAdd(a, b T) (T, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

func (Native[T]) Compare(a, b T) int { return cmp.Compare(a, b) }

func (n Native[T]) Parse(s string) (T, error) {
	v, err := strconv.ParseUint(s, 10, n.BitSize())
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%w: %q does not fit in %s", ErrOutOfRange, s, n.Name())
		}
		return 0, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	return T(v), nil
}

func (Native[T]) Format(v T) string { return strconv.FormatUint(uint64(v), 10) }

// BitSize reports the width of T in bits.
func (Native[T]) BitSize() int { return bits.Len64(uint64(^T(0))) }

func (n Native[T]) Name() string {
	switch any(T(0)).(type) {
	case uint:
		return "uint"
	case uintptr:
		return "uintptr"
	}
	return "uint" + strconv.Itoa(n.BitSize())
}
