package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/loomworks/loom/internal/ir"
)

// datumFromCUE converts a concrete CUE value into the engine's payload
// form. Floats are forbidden; use int instead.
func datumFromCUE(v cue.Value) (ir.Datum, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	switch v.Kind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(i), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.Array{}
		for iter.Next() {
			item, err := datumFromCUE(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		return arr, nil
	case cue.StructKind:
		return objectFromCUE(v)
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   "value",
			Message: "float values are forbidden, use int instead",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   "value",
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

// objectFromCUE converts a concrete CUE struct into an object payload.
func objectFromCUE(v cue.Value) (ir.Object, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	obj := ir.Object{}
	for iter.Next() {
		d, err := datumFromCUE(iter.Value())
		if err != nil {
			return nil, err
		}
		obj[iter.Label()] = d
	}
	return obj, nil
}
