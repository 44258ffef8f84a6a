package types

import (
	"fmt"

	"github.com/loomworks/loom/internal/ir"
)

// BuiltinProvider returns the descriptor for the engine's builtin scalar
// and container types. Registered first at process start.
func BuiltinProvider() Provider {
	return Provider{
		Types: []Def{
			{Name: "boolean", Capability: booleanCapability{}},
			{Name: "integer", Capability: integerCapability{}},
			{Name: "string", Capability: stringCapability{}},
			{Name: "array", Capability: arrayCapability{}},
			{Name: "mapping", Capability: mappingCapability{}},
		},
	}
}

// anyCapability accepts every payload. The root type carries it.
type anyCapability struct{}

func (anyCapability) Validate(ir.Datum, ir.Object) error { return nil }

func (anyCapability) ExtractMetadata(ir.Datum) ir.Object { return ir.Object{} }

type booleanCapability struct{}

func (booleanCapability) Validate(d ir.Datum, _ ir.Object) error {
	if _, ok := d.(ir.Bool); !ok {
		return fmt.Errorf("expected boolean, got %T", d)
	}
	return nil
}

func (booleanCapability) ExtractMetadata(ir.Datum) ir.Object { return ir.Object{} }

type integerCapability struct{}

// Validate checks the payload is an integer within the optional
// "min"/"max" bounds from the type config.
func (integerCapability) Validate(d ir.Datum, config ir.Object) error {
	n, ok := d.(ir.Int)
	if !ok {
		return fmt.Errorf("expected integer, got %T", d)
	}
	if minVal, ok := config["min"].(ir.Int); ok && n < minVal {
		return fmt.Errorf("integer %d below minimum %d", n, minVal)
	}
	if maxVal, ok := config["max"].(ir.Int); ok && n > maxVal {
		return fmt.Errorf("integer %d above maximum %d", n, maxVal)
	}
	return nil
}

func (integerCapability) ExtractMetadata(ir.Datum) ir.Object { return ir.Object{} }

type stringCapability struct{}

// Validate checks the payload is a string within the optional
// "max_length" bound from the type config.
func (stringCapability) Validate(d ir.Datum, config ir.Object) error {
	s, ok := d.(ir.String)
	if !ok {
		return fmt.Errorf("expected string, got %T", d)
	}
	if maxLen, ok := config["max_length"].(ir.Int); ok && int64(len(s)) > int64(maxLen) {
		return fmt.Errorf("string length %d exceeds max_length %d", len(s), maxLen)
	}
	return nil
}

func (stringCapability) ExtractMetadata(d ir.Datum) ir.Object {
	if s, ok := d.(ir.String); ok {
		return ir.Object{"length": ir.Int(len(s))}
	}
	return ir.Object{}
}

type arrayCapability struct{}

func (arrayCapability) Validate(d ir.Datum, _ ir.Object) error {
	if _, ok := d.(ir.Array); !ok {
		return fmt.Errorf("expected array, got %T", d)
	}
	return nil
}

func (arrayCapability) ExtractMetadata(d ir.Datum) ir.Object {
	if a, ok := d.(ir.Array); ok {
		return ir.Object{"item_count": ir.Int(len(a))}
	}
	return ir.Object{}
}

type mappingCapability struct{}

func (mappingCapability) Validate(d ir.Datum, _ ir.Object) error {
	if _, ok := d.(ir.Object); !ok {
		return fmt.Errorf("expected mapping, got %T", d)
	}
	return nil
}

func (mappingCapability) ExtractMetadata(d ir.Datum) ir.Object {
	if o, ok := d.(ir.Object); ok {
		return ir.Object{"key_count": ir.Int(len(o))}
	}
	return ir.Object{}
}
