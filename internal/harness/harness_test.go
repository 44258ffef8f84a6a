package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadShout(t *testing.T) *Scenario {
	t.Helper()
	s, err := LoadScenario("testdata/shout_scenario.yaml")
	require.NoError(t, err)
	return s
}

func TestRun_Scenario(t *testing.T) {
	result, err := Run(loadShout(t))
	require.NoError(t, err)

	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)
	assert.Equal(t, `"HELLO!"`, result.Payloads["result"])
	require.NotNil(t, result.Run)
	assert.Equal(t, "done", string(result.Run.States["up"]))
	assert.Equal(t, "done", string(result.Run.States["join"]))
}

func TestRun_Golden(t *testing.T) {
	result, err := RunWithGolden(t, loadShout(t))
	require.NoError(t, err)
	assert.True(t, result.Pass)
}

func TestRun_IsDeterministic(t *testing.T) {
	first, err := Run(loadShout(t))
	require.NoError(t, err)
	second, err := Run(loadShout(t))
	require.NoError(t, err)

	assert.Equal(t, Snapshot(first), Snapshot(second))
	assert.Equal(t, first.Run.Outputs, second.Run.Outputs)
}

func TestRun_InlineSource(t *testing.T) {
	s := &Scenario{
		Name: "inline-lower",
		Source: `
pipeline: {
	name: "quiet"
	steps: {down: {module: "string.lower"}}
	connections: [
		{input: "text", to: "down.text"},
		{from: "down.text", output: "result"},
	]
}
`,
		Staging: "late",
		Inputs:  map[string]any{"text": "LOUD"},
		Assertions: []Assertion{
			{Type: AssertOutputEquals, Output: "result", Value: "loud"},
		},
	}
	require.NoError(t, s.validate())

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ExpectError(t *testing.T) {
	s := loadShout(t)
	s.Inputs = map[string]any{"greeting": "hello"} // suffix missing
	s.ExpectError = `step "join" cannot be processed`
	s.Assertions = nil

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, result.RunError, "invalid inputs: right")
	assert.Nil(t, result.Run)
}

func TestRun_UnexpectedFailure(t *testing.T) {
	s := loadShout(t)
	s.Inputs = nil

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "pipeline run failed")
}

func TestRun_ExpectedErrorButSucceeded(t *testing.T) {
	s := loadShout(t)
	s.ExpectError = "boom"
	s.Assertions = nil

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "run succeeded")
}

func TestRun_FailingAssertion(t *testing.T) {
	s := loadShout(t)
	s.Assertions = []Assertion{
		{Type: AssertOutputEquals, Output: "result", Value: "goodbye"},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "output_equals")
}

func TestRun_BadPipelineFile(t *testing.T) {
	s := &Scenario{Name: "missing", Pipeline: "testdata/absent.cue"}
	_, err := Run(s)
	require.Error(t, err)
}
