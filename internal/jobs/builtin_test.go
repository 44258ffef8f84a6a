package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/ir"
)

func TestBuiltinModules(t *testing.T) {
	set := BuiltinModules()
	ctx := context.Background()

	upper, err := set.Instantiate(ir.Manifest{ModuleType: "string.upper"})
	require.NoError(t, err)
	out, err := upper.Process(ctx, map[string]ir.Datum{"text": ir.String("hello")})
	require.NoError(t, err)
	assert.Equal(t, ir.String("HELLO"), out["text"])

	lower, err := set.Instantiate(ir.Manifest{ModuleType: "string.lower"})
	require.NoError(t, err)
	out, err = lower.Process(ctx, map[string]ir.Datum{"text": ir.String("HeLLo")})
	require.NoError(t, err)
	assert.Equal(t, ir.String("hello"), out["text"])

	concat, err := set.Instantiate(ir.Manifest{
		ModuleType:   "string.concat",
		ModuleConfig: ir.Object{"separator": ir.String(", ")},
	})
	require.NoError(t, err)
	out, err = concat.Process(ctx, map[string]ir.Datum{
		"left":  ir.String("hello"),
		"right": ir.String("world"),
	})
	require.NoError(t, err)
	assert.Equal(t, ir.String("hello, world"), out["text"])
}

func TestBuiltinModules_BadConfigAndInputs(t *testing.T) {
	set := BuiltinModules()

	_, err := set.Instantiate(ir.Manifest{
		ModuleType:   "string.concat",
		ModuleConfig: ir.Object{"separator": ir.Int(3)},
	})
	assert.ErrorContains(t, err, "separator must be a string")

	upper, err := set.Instantiate(ir.Manifest{ModuleType: "string.upper"})
	require.NoError(t, err)
	_, err = upper.Process(context.Background(), map[string]ir.Datum{"text": ir.Int(1)})
	assert.ErrorContains(t, err, "expected a string payload")
}
