package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomworks/loom/internal/ir"
)

// BuiltinModules returns a module set with the built-in string modules
// registered. Callers add their own modules on top.
func BuiltinModules() *ModuleSet {
	set := NewModuleSet()

	// Registration of statically known names cannot collide.
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(set.Register("string.upper", newUpperModule))
	must(set.Register("string.lower", newLowerModule))
	must(set.Register("string.concat", newConcatModule))
	return set
}

type upperModule struct{}

func newUpperModule(ir.Object) (Module, error) { return upperModule{}, nil }

func (upperModule) InputsSchema() map[string]ir.FieldSchema {
	return map[string]ir.FieldSchema{
		"text": {TypeName: "string", Kind: ir.FieldRequired},
	}
}

func (upperModule) OutputsSchema() map[string]ir.FieldSchema {
	return map[string]ir.FieldSchema{
		"text": {TypeName: "string", Kind: ir.FieldRequired},
	}
}

func (upperModule) Process(_ context.Context, in map[string]ir.Datum) (map[string]ir.Datum, error) {
	text, err := stringInput(in, "text")
	if err != nil {
		return nil, err
	}
	return map[string]ir.Datum{"text": ir.String(strings.ToUpper(text))}, nil
}

type lowerModule struct{}

func newLowerModule(ir.Object) (Module, error) { return lowerModule{}, nil }

func (lowerModule) InputsSchema() map[string]ir.FieldSchema {
	return upperModule{}.InputsSchema()
}

func (lowerModule) OutputsSchema() map[string]ir.FieldSchema {
	return upperModule{}.OutputsSchema()
}

func (lowerModule) Process(_ context.Context, in map[string]ir.Datum) (map[string]ir.Datum, error) {
	text, err := stringInput(in, "text")
	if err != nil {
		return nil, err
	}
	return map[string]ir.Datum{"text": ir.String(strings.ToLower(text))}, nil
}

// concatModule joins its two inputs with a configurable separator.
type concatModule struct {
	separator string
}

func newConcatModule(config ir.Object) (Module, error) {
	m := &concatModule{}
	if sep, ok := config["separator"]; ok {
		s, ok := sep.(ir.String)
		if !ok {
			return nil, fmt.Errorf("string.concat: separator must be a string")
		}
		m.separator = string(s)
	}
	return m, nil
}

func (m *concatModule) InputsSchema() map[string]ir.FieldSchema {
	return map[string]ir.FieldSchema{
		"left":  {TypeName: "string", Kind: ir.FieldRequired},
		"right": {TypeName: "string", Kind: ir.FieldRequired},
	}
}

func (m *concatModule) OutputsSchema() map[string]ir.FieldSchema {
	return map[string]ir.FieldSchema{
		"text": {TypeName: "string", Kind: ir.FieldRequired},
	}
}

func (m *concatModule) Process(_ context.Context, in map[string]ir.Datum) (map[string]ir.Datum, error) {
	left, err := stringInput(in, "left")
	if err != nil {
		return nil, err
	}
	right, err := stringInput(in, "right")
	if err != nil {
		return nil, err
	}
	return map[string]ir.Datum{"text": ir.String(left + m.separator + right)}, nil
}

func stringInput(in map[string]ir.Datum, name string) (string, error) {
	s, ok := in[name].(ir.String)
	if !ok {
		return "", fmt.Errorf("input %q: expected a string payload", name)
	}
	return string(s), nil
}
