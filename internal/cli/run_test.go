package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Text(t *testing.T) {
	out, _, err := execute(t, "run", writePipeline(t, shoutPipeline),
		"-i", "greeting=hello", "-i", "suffix=!")
	require.NoError(t, err)
	assert.Contains(t, out, `pipeline "shout" finished`)
	assert.Contains(t, out, `= "HELLO!"`)
}

func TestRun_JSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "run", writePipeline(t, shoutPipeline),
		"-i", "greeting=hello", "-i", "suffix=!")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)

	data := resp.Data.(map[string]any)
	outputs := data["outputs"].(map[string]any)
	assert.NotEmpty(t, outputs["result"])
	payloads := data["payloads"].(map[string]any)
	assert.Equal(t, `"HELLO!"`, payloads["result"])
	states := data["states"].(map[string]any)
	assert.Equal(t, "done", states["up"])
	assert.Equal(t, "done", states["join"])
}

func TestRun_MissingRequiredInput(t *testing.T) {
	out, _, err := execute(t, "run", writePipeline(t, shoutPipeline), "-i", "greeting=hello")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "E201")
}

func TestRun_BadInputFlag(t *testing.T) {
	_, _, err := execute(t, "run", writePipeline(t, shoutPipeline), "-i", "novalue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_BadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "loom.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("archive:\n  backend: redis\n"), 0o644))

	_, _, err := execute(t, "--config", cfgPath, "run", writePipeline(t, shoutPipeline))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
