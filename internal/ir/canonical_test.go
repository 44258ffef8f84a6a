package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeysByUTF16(t *testing.T) {
	obj := Object{
		"b":  Int(2),
		"a":  Int(1),
		"aa": Int(3),
		"A":  Int(4),
	}

	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"A":4,"a":1,"aa":3,"b":2}`, string(out))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	out, err := MarshalCanonical(Object{"html": String(`<a href="x">&</a>`)})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<a href=\"x\">&</a>"}`, string(out))
}

func TestMarshalCanonical_ControlCharacterEscapes(t *testing.T) {
	out, err := MarshalCanonical(String("line1\nline2\ttab\x01"))
	require.NoError(t, err)
	assert.Equal(t, "\"line1\\nline2\\ttab\\u0001\"", string(out))
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	// U+0065 U+0301 (e + combining acute) normalizes to U+00E9.
	decomposed, err := MarshalCanonical(String("cafe\u0301"))
	require.NoError(t, err)
	composed, err := MarshalCanonical(String("caf\u00e9"))
	require.NoError(t, err)
	assert.Equal(t, string(composed), string(decomposed))
}

func TestMarshalCanonical_RejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(3.14)
	assert.Error(t, err)
}

func TestMarshalCanonical_RejectsNull(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.Error(t, err)

	_, err = MarshalCanonical(Object{"x": Null{}})
	assert.Error(t, err)
}

func TestMarshalCanonical_NestedStructures(t *testing.T) {
	obj := Object{
		"list": Array{Int(1), String("two"), Bool(true)},
		"map":  Object{"inner": String("v")},
	}

	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"list":[1,"two",true],"map":{"inner":"v"}}`, string(out))
}
