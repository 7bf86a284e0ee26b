package seqnum

import (
	"fmt"

	"lukechampine.com/uint128"
)

// Uint128 is the 128-bit kind; Go has no native type of that width.
type Uint128 = uint128.Uint128

// Wide implements Ops for Uint128.
type Wide struct{}

func (Wide) Zero() Uint128 { return uint128.Zero }

func (Wide) One() Uint128 { return uint128.From64(1) }

func (Wide) Max() Uint128 { return uint128.Max }

func (Wide) CheckedAdd(a, b Uint128) (Uint128, bool) {
	sum := a.AddWrap(b)
	if sum.Cmp(a) < 0 {
		return uint128.Zero, false
	}
	return sum, true
}

func (Wide) Compare(a, b Uint128) int { return a.Cmp(b) }

func (Wide) Parse(s string) (Uint128, error) {
	if !isDecimal(s) {
		return uint128.Zero, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	v, err := uint128.FromString(s)
	if err != nil {
		return uint128.Zero, fmt.Errorf("%w: %q does not fit in uint128", ErrOutOfRange, s)
	}
	return v, nil
}

func (Wide) Format(v Uint128) string { return v.String() }

func (Wide) Name() string { return "uint128" }

// isDecimal reports whether s is a non-empty run of ASCII digits, matching
// what strconv.ParseUint accepts in base 10.
func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
