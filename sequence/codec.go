package sequence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Persisted field names. The legacy names come from the earlier on-disk
// format and are only read, never written.
const (
	fieldNext      = "next"
	fieldIncrement = "increment"
	fieldLimit     = "limit"

	legacyIncrement = "incr"
	legacyLimit     = "max"
)

// ErrMissingField is returned when a persisted state lacks next or increment.
var ErrMissingField = errors.New("sequence: missing required field")

// fields holds the decimal text of each persisted field; nil means absent.
type fields struct {
	next, increment, limit *string
}

func (s Sequence[T, N]) text() (next, increment, limit string) {
	return s.num.Format(s.next), s.num.Format(s.increment), s.num.Format(s.limit)
}

// restore replaces s with the decoded state. A missing limit defaults to the
// maximum of T; unknown fields have already been dropped by the codec.
func (s *Sequence[T, N]) restore(f fields) error {
	if f.next == nil {
		return fmt.Errorf("%w %q", ErrMissingField, fieldNext)
	}
	if f.increment == nil {
		return fmt.Errorf("%w %q", ErrMissingField, fieldIncrement)
	}

	var num N
	next, err := num.Parse(*f.next)
	if err != nil {
		return fmt.Errorf("sequence: decode %s: %w", fieldNext, err)
	}
	increment, err := num.Parse(*f.increment)
	if err != nil {
		return fmt.Errorf("sequence: decode %s: %w", fieldIncrement, err)
	}
	limit := num.Max()
	if f.limit != nil {
		if limit, err = num.Parse(*f.limit); err != nil {
			return fmt.Errorf("sequence: decode %s: %w", fieldLimit, err)
		}
	}

	*s = Sequence[T, N]{next: next, increment: increment, limit: limit}
	return nil
}

// --- JSON ---

type jsonState struct {
	Next      json.RawMessage `json:"next"`
	Increment json.RawMessage `json:"increment"`
	Limit     json.RawMessage `json:"limit"`
}

// MarshalJSON writes {"next":N,"increment":N,"limit":N} with plain number
// literals, exact for every width.
func (s Sequence[T, N]) MarshalJSON() ([]byte, error) {
	next, increment, limit := s.text()
	return json.Marshal(jsonState{
		Next:      json.RawMessage(next),
		Increment: json.RawMessage(increment),
		Limit:     json.RawMessage(limit),
	})
}

// UnmarshalJSON accepts numbers or decimal strings, defaults a missing limit
// and ignores unknown fields. Keys match exactly.
func (s *Sequence[T, N]) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("sequence: decode json: %w", err)
	}

	var f fields
	var err error
	if f.next, err = jsonField(raw[fieldNext]); err != nil {
		return err
	}
	if f.increment, err = jsonField(raw[fieldIncrement], raw[legacyIncrement]); err != nil {
		return err
	}
	if f.limit, err = jsonField(raw[fieldLimit], raw[legacyLimit]); err != nil {
		return err
	}
	return s.restore(f)
}

// jsonField returns the text of the first present candidate.
func jsonField(candidates ...json.RawMessage) (*string, error) {
	for _, raw := range candidates {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		if raw[0] == '"' {
			var text string
			if err := json.Unmarshal(raw, &text); err != nil {
				return nil, fmt.Errorf("sequence: decode json string: %w", err)
			}
			return &text, nil
		}
		text := string(raw)
		return &text, nil
	}
	return nil, nil
}

// --- YAML ---

// MarshalYAML writes the same mapping as MarshalJSON.
func (s Sequence[T, N]) MarshalYAML() (any, error) {
	next, increment, limit := s.text()
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, kv := range [][2]string{
		{fieldNext, next},
		{fieldIncrement, increment},
		{fieldLimit, limit},
	} {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: kv[0]},
			&yaml.Node{Kind: yaml.ScalarNode, Value: kv[1]},
		)
	}
	return node, nil
}

// UnmarshalYAML follows the same rules as UnmarshalJSON.
func (s *Sequence[T, N]) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("sequence: decode yaml: expected mapping, got %s", yamlKind(value.Kind))
	}

	present := make(map[string]string, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		if val.Kind != yaml.ScalarNode || val.ShortTag() == "!!null" {
			continue
		}
		present[key.Value] = val.Value
	}

	pick := func(names ...string) *string {
		for _, name := range names {
			if v, ok := present[name]; ok {
				return &v
			}
		}
		return nil
	}
	return s.restore(fields{
		next:      pick(fieldNext),
		increment: pick(fieldIncrement, legacyIncrement),
		limit:     pick(fieldLimit, legacyLimit),
	})
}

func yamlKind(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}
