package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/ir"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/shout_scenario.yaml")
	require.NoError(t, err)

	assert.Equal(t, "shout-basic", s.Name)
	assert.Equal(t, "shout.cue", s.Pipeline)
	assert.Equal(t, filepath.Join("testdata", "shout.cue"), s.pipelinePath())
	assert.Equal(t, map[string]any{"greeting": "hello", "suffix": "!"}, s.Inputs)
	assert.Len(t, s.Assertions, 5)
}

func TestLoadScenario_Invalid(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing name",
			body: "pipeline: p.cue\n",
			want: "name is required",
		},
		{
			name: "no pipeline or source",
			body: "name: x\n",
			want: "exactly one of pipeline and source",
		},
		{
			name: "both pipeline and source",
			body: "name: x\npipeline: p.cue\nsource: 'pipeline: {}'\n",
			want: "exactly one of pipeline and source",
		},
		{
			name: "unknown assertion type",
			body: "name: x\npipeline: p.cue\nassertions:\n  - type: magic\n",
			want: `unknown assertion type "magic"`,
		},
		{
			name: "assertion missing output",
			body: "name: x\npipeline: p.cue\nassertions:\n  - type: output_equals\n",
			want: "output is required",
		},
		{
			name: "not yaml",
			body: "{{nope",
			want: "parse scenario",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestConvertToDatum(t *testing.T) {
	d, err := convertToDatum(map[string]any{
		"text":  "hi",
		"count": 3,
		"ok":    true,
		"tags":  []any{"a", int64(2)},
		"whole": 4.0,
	})
	require.NoError(t, err)
	assert.Equal(t, ir.Object{
		"text":  ir.String("hi"),
		"count": ir.Int(3),
		"ok":    ir.Bool(true),
		"tags":  ir.Array{ir.String("a"), ir.Int(2)},
		"whole": ir.Int(4),
	}, d)
}

func TestConvertToDatum_RejectsFloats(t *testing.T) {
	_, err := convertToDatum(1.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "float values are forbidden")

	_, err = convertToDatum([]any{1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index 0")
}

func TestDatumTypeName(t *testing.T) {
	assert.Equal(t, "string", datumTypeName(ir.String("x")))
	assert.Equal(t, "integer", datumTypeName(ir.Int(1)))
	assert.Equal(t, "boolean", datumTypeName(ir.Bool(true)))
	assert.Equal(t, "array", datumTypeName(ir.Array{}))
	assert.Equal(t, "mapping", datumTypeName(ir.Object{}))
	assert.Equal(t, "any", datumTypeName(ir.Null{}))
}
