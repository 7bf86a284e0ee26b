package catalog

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/petal-labs/sequential/seqnum"
	"github.com/petal-labs/sequential/sequence"
)

// generator is a sequence with its integer kind erased; values travel as
// decimal strings so every width, including 128-bit, survives JSON.
type generator interface {
	kind() string
	next() (string, bool)
	peek() (string, bool)
	continueAfter(v string) error
	increment() string
	limit() string
	clone() generator
	json.Marshaler
}

type typed[T any, N seqnum.Ops[T]] struct {
	seq sequence.Sequence[T, N]
	num N
}

func (g *typed[T, N]) kind() string { return g.num.Name() }

func (g *typed[T, N]) next() (string, bool) {
	v, ok := g.seq.Next()
	if !ok {
		return "", false
	}
	return g.num.Format(v), true
}

func (g *typed[T, N]) peek() (string, bool) {
	v, ok := g.seq.Peek()
	if !ok {
		return "", false
	}
	return g.num.Format(v), true
}

func (g *typed[T, N]) continueAfter(s string) error {
	v, err := g.num.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: value: %w", ErrInvalid, err)
	}
	g.seq.ContinueAfter(v)
	return nil
}

func (g *typed[T, N]) increment() string { return g.num.Format(g.seq.Increment()) }
func (g *typed[T, N]) limit() string     { return g.num.Format(g.seq.Limit()) }

func (g *typed[T, N]) clone() generator {
	c := *g
	return &c
}

func (g *typed[T, N]) MarshalJSON() ([]byte, error) { return json.Marshal(g.seq) }

// kindSpec builds generators of one integer kind.
type kindSpec struct {
	define func(Definition) (generator, error)
	resume func(values []string) (generator, error)
	decode func(state []byte) (generator, error)
}

func specFor[T any, N seqnum.Ops[T]](k sequence.Kind[T, N]) kindSpec {
	return kindSpec{
		define: func(def Definition) (generator, error) {
			return define(k, def)
		},
		resume: func(values []string) (generator, error) {
			num := k.Ops()
			parsed := make([]T, 0, len(values))
			for _, s := range values {
				v, err := num.Parse(s)
				if err != nil {
					return nil, fmt.Errorf("%w: observed value: %w", ErrInvalid, err)
				}
				parsed = append(parsed, v)
			}
			return &typed[T, N]{seq: k.StartAfterHighest(slices.Values(parsed))}, nil
		},
		decode: func(state []byte) (generator, error) {
			g := &typed[T, N]{}
			if err := json.Unmarshal(state, &g.seq); err != nil {
				return nil, err
			}
			return g, nil
		},
	}
}

func define[T any, N seqnum.Ops[T]](k sequence.Kind[T, N], def Definition) (generator, error) {
	num := k.Ops()
	parse := func(field, s string) (T, error) {
		v, err := num.Parse(s)
		if err != nil {
			return v, fmt.Errorf("%w: %s: %w", ErrInvalid, field, err)
		}
		return v, nil
	}

	if def.Start != "" && def.After != "" {
		return nil, fmt.Errorf("%w: start and after are mutually exclusive", ErrInvalid)
	}

	incr := num.One()
	if def.Increment != "" {
		v, err := parse("increment", def.Increment)
		if err != nil {
			return nil, err
		}
		incr = v
	}

	var start T
	switch {
	case def.Start != "":
		v, err := parse("start", def.Start)
		if err != nil {
			return nil, err
		}
		start = v
	case def.After != "":
		v, err := parse("after", def.After)
		if err != nil {
			return nil, err
		}
		next, ok := num.CheckedAdd(v, num.One())
		if !ok {
			// Nothing fits after the maximum.
			return &typed[T, N]{seq: k.StartAfter(v)}, nil
		}
		start = next
	default:
		start = num.Zero()
	}

	if def.End == "" {
		return &typed[T, N]{seq: k.StartWith(start).WithIncrement(incr)}, nil
	}
	end, err := parse("end", def.End)
	if err != nil {
		return nil, err
	}
	return &typed[T, N]{seq: k.WithStartEndIncrement(start, end, incr)}, nil
}

var kinds = map[string]kindSpec{
	sequence.Uint8.Name():   specFor(sequence.Uint8),
	sequence.Uint16.Name():  specFor(sequence.Uint16),
	sequence.Uint32.Name():  specFor(sequence.Uint32),
	sequence.Uint64.Name():  specFor(sequence.Uint64),
	sequence.Uint.Name():    specFor(sequence.Uint),
	sequence.Uintptr.Name(): specFor(sequence.Uintptr),
	sequence.Uint128.Name(): specFor(sequence.Uint128),
}

// Kinds returns the supported kind identifiers in sorted order.
func Kinds() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func lookupKind(name string) (kindSpec, error) {
	spec, ok := kinds[name]
	if !ok {
		return kindSpec{}, fmt.Errorf("%w %q", ErrUnknownKind, name)
	}
	return spec, nil
}
