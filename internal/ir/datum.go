package ir

import (
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"
)

// Datum is a sealed interface over the constrained payload types that may
// flow through a pipeline. Only Null, String, Int, Bool, Array, and Object
// implement it. There is deliberately no float type: floats break
// deterministic content addressing.
type Datum interface {
	datum() // sealed
}

// Null represents an explicit JSON null payload.
type Null struct{}

func (Null) datum() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// String is a string payload.
type String string

func (String) datum() {}

// Int is an integer payload. Always int64, never float64.
type Int int64

func (Int) datum() {}

// Bool is a boolean payload.
type Bool bool

func (Bool) datum() {}

// Array is an ordered sequence of payloads.
type Array []Datum

func (Array) datum() {}

// Object maps string keys to payloads. Use SortedKeys for deterministic
// iteration.
type Object map[string]Datum

func (Object) datum() {}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings compares UTF-8 bytes, which produces a different order
// for strings outside the BMP.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// compareUTF16 compares strings by UTF-16 code units as required by
// RFC 8785 for canonical member ordering.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}

// MarshalJSON implements json.Marshaler for Object with keys in canonical
// order. This is plain JSON for storage round-trips; content addressing
// must go through MarshalCanonical instead.
func (o Object) MarshalJSON() ([]byte, error) {
	out := []byte{'{'}
	for i, k := range o.SortedKeys() {
		if i > 0 {
			out = append(out, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(o[k])
		if err != nil {
			return nil, fmt.Errorf("object key %q: %w", k, err)
		}
		out = append(out, kb...)
		out = append(out, ':')
		out = append(out, vb...)
	}
	return append(out, '}'), nil
}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (o *Object) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = make(Object, len(raw))
	for k, v := range raw {
		d, err := DecodeDatum(v)
		if err != nil {
			return fmt.Errorf("object key %q: %w", k, err)
		}
		(*o)[k] = d
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for Array.
func (a *Array) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = make(Array, len(raw))
	for i, v := range raw {
		d, err := DecodeDatum(v)
		if err != nil {
			return fmt.Errorf("array index %d: %w", i, err)
		}
		(*a)[i] = d
	}
	return nil
}

// DecodeDatum decodes raw JSON into the matching Datum type. Numbers are
// parsed as int64; JSON floats are rejected outright.
func DecodeDatum(data []byte) (Datum, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil

	case 'n':
		return Null{}, nil

	case '[':
		var a Array
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil

	case '{':
		var o Object
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, err
		}
		return o, nil

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("floats are not representable: %s", string(data))
		}
		return Int(i), nil
	}
}
