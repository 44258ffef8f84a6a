// Package compiler parses CUE pipeline declarations into the engine's
// declaration form. Uses the CUE SDK's Go API directly (not CLI
// subprocess).
package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/pipeline"
)

// CompilePipeline parses a CUE value into a pipeline declaration.
//
// The CUE value should be the pipeline struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`pipeline: { name: "chain", ... }`)
//	decl, err := CompilePipeline(v.LookupPath(cue.ParsePath("pipeline")))
//
// Structural validation (dangling connections, cycles, staging) happens
// in pipeline.Compile; this stage only shapes the declaration.
func CompilePipeline(v cue.Value) (pipeline.Decl, error) {
	var decl pipeline.Decl
	if err := v.Err(); err != nil {
		return decl, formatCUEError(err)
	}

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return decl, &CompileError{
			Field:   "name",
			Message: "pipeline name is required",
			Pos:     v.Pos(),
		}
	}
	name, err := nameVal.String()
	if err != nil {
		return decl, formatCUEError(err)
	}
	decl.Name = name

	stagingVal := v.LookupPath(cue.ParsePath("staging"))
	if stagingVal.Exists() {
		staging, err := stagingVal.String()
		if err != nil {
			return decl, formatCUEError(err)
		}
		decl.Staging = pipeline.StagingPolicy(staging)
	}

	stepsVal := v.LookupPath(cue.ParsePath("steps"))
	if !stepsVal.Exists() {
		return decl, &CompileError{
			Field:   "steps",
			Message: "at least one step is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := stepsVal.Fields()
	if err != nil {
		return decl, formatCUEError(err)
	}
	for iter.Next() {
		step, err := parseStep(iter.Label(), iter.Value())
		if err != nil {
			return decl, err
		}
		decl.Steps = append(decl.Steps, step)
	}
	if len(decl.Steps) == 0 {
		return decl, &CompileError{
			Field:   "steps",
			Message: "at least one step is required",
			Pos:     stepsVal.Pos(),
		}
	}

	connsVal := v.LookupPath(cue.ParsePath("connections"))
	if connsVal.Exists() {
		connIter, err := connsVal.List()
		if err != nil {
			return decl, formatCUEError(err)
		}
		for connIter.Next() {
			conn, err := parseConnection(connIter.Value())
			if err != nil {
				return decl, err
			}
			decl.Connections = append(decl.Connections, conn)
		}
	}

	return decl, nil
}

// parseStep parses one step declaration: module (required), config
// (optional struct), required (optional bool, default true).
func parseStep(id string, v cue.Value) (ir.Step, error) {
	step := ir.Step{ID: id, Required: true}

	moduleVal := v.LookupPath(cue.ParsePath("module"))
	if !moduleVal.Exists() {
		return step, &CompileError{
			Field:   fmt.Sprintf("steps.%s.module", id),
			Message: "step module is required",
			Pos:     v.Pos(),
		}
	}
	module, err := moduleVal.String()
	if err != nil {
		return step, formatCUEError(err)
	}
	step.Manifest.ModuleType = module

	configVal := v.LookupPath(cue.ParsePath("config"))
	if configVal.Exists() {
		config, err := objectFromCUE(configVal)
		if err != nil {
			return step, err
		}
		step.Manifest.ModuleConfig = config
	}

	requiredVal := v.LookupPath(cue.ParsePath("required"))
	if requiredVal.Exists() {
		required, err := requiredVal.Bool()
		if err != nil {
			return step, formatCUEError(err)
		}
		step.Required = required
	}

	return step, nil
}

// parseConnection parses one connection. Step endpoints are dotted
// "step.field" strings; pipeline endpoints are bare names under the
// "input"/"output" keys.
func parseConnection(v cue.Value) (ir.Connection, error) {
	var conn ir.Connection

	fromVal := v.LookupPath(cue.ParsePath("from"))
	if fromVal.Exists() {
		from, err := fromVal.String()
		if err != nil {
			return conn, formatCUEError(err)
		}
		conn.FromStep, conn.FromOutput, err = splitEndpoint("from", from, fromVal.Pos())
		if err != nil {
			return conn, err
		}
	}

	inputVal := v.LookupPath(cue.ParsePath("input"))
	if inputVal.Exists() {
		input, err := inputVal.String()
		if err != nil {
			return conn, formatCUEError(err)
		}
		conn.FromPipeline = input
	}

	toVal := v.LookupPath(cue.ParsePath("to"))
	if toVal.Exists() {
		to, err := toVal.String()
		if err != nil {
			return conn, formatCUEError(err)
		}
		conn.ToStep, conn.ToInput, err = splitEndpoint("to", to, toVal.Pos())
		if err != nil {
			return conn, err
		}
	}

	outputVal := v.LookupPath(cue.ParsePath("output"))
	if outputVal.Exists() {
		output, err := outputVal.String()
		if err != nil {
			return conn, formatCUEError(err)
		}
		conn.ToPipeline = output
	}

	return conn, nil
}

// splitEndpoint splits a "step.field" endpoint.
func splitEndpoint(field, endpoint string, pos token.Pos) (string, string, error) {
	step, io, ok := strings.Cut(endpoint, ".")
	if !ok || step == "" || io == "" {
		return "", "", &CompileError{
			Field:   field,
			Message: fmt.Sprintf("endpoint %q must have the form step.field", endpoint),
			Pos:     pos,
		}
	}
	return step, io, nil
}
