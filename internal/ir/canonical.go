package ir

import (
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON for content addressing.
// This is the ONLY serialization that may feed a hash function.
//
// Differences from encoding/json:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & stay literal)
//  3. Strings are NFC normalized
//  4. Floats are rejected
//  5. Null is rejected (a missing value has no canonical form)
func MarshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null has no canonical form")
	case Null:
		return nil, fmt.Errorf("null has no canonical form")
	case String:
		return canonicalString(string(val)), nil
	case Int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case Bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case Array:
		return canonicalArray(val)
	case Object:
		return canonicalObject(val)
	case string:
		return canonicalString(val), nil
	case int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int64:
		return strconv.AppendInt(nil, val, 10), nil
	case bool:
		return MarshalCanonical(Bool(val))
	case float32, float64:
		return nil, fmt.Errorf("floats have no canonical form: %v", val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

func canonicalArray(a Array) ([]byte, error) {
	out := []byte{'['}
	for i, elem := range a {
		if i > 0 {
			out = append(out, ',')
		}
		b, err := MarshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		out = append(out, b...)
	}
	return append(out, ']'), nil
}

func canonicalObject(o Object) ([]byte, error) {
	out := []byte{'{'}
	for i, k := range o.SortedKeys() {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, canonicalString(k)...)
		out = append(out, ':')
		b, err := MarshalCanonical(o[k])
		if err != nil {
			return nil, fmt.Errorf("object[%q]: %w", k, err)
		}
		out = append(out, b...)
	}
	return append(out, '}'), nil
}

// canonicalString serializes a string per RFC 8785 section 3.2.2.2:
// NFC normalized, two-character escapes for the short list, \u00XX for
// remaining control characters, everything else literal (no HTML escaping).
func canonicalString(s string) []byte {
	s = norm.NFC.String(s)

	out := []byte{'"'}
	for _, r := range s {
		switch r {
		case '"':
			out = append(out, '\\', '"')
		case '\\':
			out = append(out, '\\', '\\')
		case '\b':
			out = append(out, '\\', 'b')
		case '\f':
			out = append(out, '\\', 'f')
		case '\n':
			out = append(out, '\\', 'n')
		case '\r':
			out = append(out, '\\', 'r')
		case '\t':
			out = append(out, '\\', 't')
		default:
			if r < 0x20 {
				out = append(out, fmt.Sprintf("\\u%04x", r)...)
			} else {
				out = append(out, string(r)...)
			}
		}
	}
	return append(out, '"')
}
