package compiler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/pipeline"
)

const chainSource = `
pipeline: {
	name:    "chain"
	staging: "early"
	steps: {
		A: {module: "src"}
		B: {module: "one", config: {limit: 3, tags: ["x", "y"]}}
		C: {module: "two", required: false}
	}
	connections: [
		{input: "seed", to: "A.seed"},
		{from: "A.out", to: "B.x"},
		{from: "A.out", to: "C.x"},
		{from: "B.out", to: "C.y"},
		{from: "C.out", output: "result"},
	]
}
`

func TestCompileSource_FullPipeline(t *testing.T) {
	decl, err := CompileSource(chainSource, "chain.cue")
	require.NoError(t, err)

	assert.Equal(t, "chain", decl.Name)
	assert.Equal(t, pipeline.StageEarly, decl.Staging)

	require.Len(t, decl.Steps, 3)
	assert.Equal(t, "A", decl.Steps[0].ID)
	assert.Equal(t, "src", decl.Steps[0].Manifest.ModuleType)
	assert.True(t, decl.Steps[0].Required, "required defaults to true")

	assert.Equal(t, ir.Object{
		"limit": ir.Int(3),
		"tags":  ir.Array{ir.String("x"), ir.String("y")},
	}, decl.Steps[1].Manifest.ModuleConfig)

	assert.False(t, decl.Steps[2].Required)

	require.Len(t, decl.Connections, 5)
	assert.Equal(t, ir.Connection{FromPipeline: "seed", ToStep: "A", ToInput: "seed"}, decl.Connections[0])
	assert.Equal(t, ir.Connection{FromStep: "A", FromOutput: "out", ToStep: "B", ToInput: "x"}, decl.Connections[1])
	assert.Equal(t, ir.Connection{FromStep: "C", FromOutput: "out", ToPipeline: "result"}, decl.Connections[4])
}

func TestCompileSource_MissingName(t *testing.T) {
	_, err := CompileSource(`pipeline: {steps: {A: {module: "src"}}}`, "p.cue")
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "name", ce.Field)
}

func TestCompileSource_NoSteps(t *testing.T) {
	_, err := CompileSource(`pipeline: {name: "empty"}`, "p.cue")
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "steps", ce.Field)
}

func TestCompileSource_MissingModule(t *testing.T) {
	_, err := CompileSource(`pipeline: {name: "p", steps: {A: {required: true}}}`, "p.cue")
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "steps.A.module", ce.Field)
}

func TestCompileSource_BadEndpoint(t *testing.T) {
	src := `
pipeline: {
	name: "p"
	steps: {A: {module: "src"}}
	connections: [{from: "Aout", to: "B.x"}]
}
`
	_, err := CompileSource(src, "p.cue")
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "from", ce.Field)
	assert.Contains(t, ce.Message, "step.field")
}

func TestCompileSource_FloatConfigForbidden(t *testing.T) {
	src := `
pipeline: {
	name: "p"
	steps: {A: {module: "src", config: {ratio: 1.5}}}
}
`
	_, err := CompileSource(src, "p.cue")
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Message, "float values are forbidden")
}

func TestCompileSource_SyntaxError(t *testing.T) {
	_, err := CompileSource(`pipeline: {name: `, "broken.cue")
	require.Error(t, err)
	var ce *CompileError
	if errors.As(err, &ce) {
		assert.Equal(t, "cue", ce.Field)
	}
}

func TestCompileSource_NoPipeline(t *testing.T) {
	_, err := CompileSource(`other: {name: "p"}`, "p.cue")
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "pipeline", ce.Field)
}

func TestCompileFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.cue")
	require.NoError(t, os.WriteFile(path, []byte(chainSource), 0o644))

	decl, err := CompileFile(path)
	require.NoError(t, err)
	assert.Equal(t, "chain", decl.Name)

	_, err = CompileFile(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}
