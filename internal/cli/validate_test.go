package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureWorkspace = "../harness/testdata/workspace"

func executeValidate(t *testing.T, format string, dir string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{dir})
	err := cmd.Execute()
	return buf.String(), err
}

func writeWorkspace(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workspace.cue"), []byte(content), 0o644))
	return dir
}

func TestValidate_ValidWorkspace(t *testing.T) {
	out, err := executeValidate(t, "text", fixtureWorkspace)
	require.NoError(t, err)
	assert.Contains(t, out, "Workspace valid: 2 collection(s), 4 entities in 1 file(s)")
}

func TestValidate_ValidWorkspaceJSON(t *testing.T) {
	out, err := executeValidate(t, "json", fixtureWorkspace)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Collections)
	assert.Equal(t, 4, resp.Data.Entities)
}

func TestValidate_MissingDirectory(t *testing.T) {
	out, err := executeValidate(t, "text", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "E005")
}

func TestValidate_EmptyDirectory(t *testing.T) {
	_, err := executeValidate(t, "text", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no CUE files found")
}

func TestValidate_UnknownCollection(t *testing.T) {
	dir := writeWorkspace(t, `package fixtures

collection: tasks: id: 1

entity: orphan: {
	id:         10
	collection: "missing"
	kind:       "todo"
}
`)

	out, err := executeValidate(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Validation failed")
	assert.Contains(t, out, "E203")
}

func TestValidate_FloatPayloadJSON(t *testing.T) {
	dir := writeWorkspace(t, `package fixtures

collection: tasks: id: 1

entity: scale: {
	id:         10
	collection: "tasks"
	kind:       "todo"
	payload: weight: 1.5
}
`)

	out, err := executeValidate(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E104", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "float values are forbidden")
}

func TestValidate_RequiresOneArg(t *testing.T) {
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
