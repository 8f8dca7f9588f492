package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schemaPath(name string) string {
	return filepath.Join("..", "harness", "testdata", "schemas", name)
}

func execute(t *testing.T, opts *RootOptions, newCmd func(*RootOptions) *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := newCmd(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidate_ValidSchema(t *testing.T) {
	out, err := execute(t, &RootOptions{Format: "text"}, NewValidateCommand, schemaPath("blog.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Schema valid (3 roles)")
}

func TestValidate_ReportsDeferrableCycle(t *testing.T) {
	out, err := execute(t, &RootOptions{Format: "json"}, NewValidateCommand, schemaPath("avatar.yaml"))
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []string{"image", "user"}, resp.Data.Roles)
	require.Len(t, resp.Data.Cycles, 1)
	assert.Equal(t, "info", resp.Data.Cycles[0].Level)
}

func TestValidate_CUESchemaWarnsOnHardCycle(t *testing.T) {
	out, err := execute(t, &RootOptions{Format: "text"}, NewValidateCommand, schemaPath("livelock.cue"))
	require.NoError(t, err)
	assert.Contains(t, out, "warning: cycle without refers_to")
}

func TestValidate_NotFound(t *testing.T) {
	out, err := execute(t, &RootOptions{Format: "text"}, NewValidateCommand, "/nonexistent/schema.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "schema not found")
}

func TestValidate_CompileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
roles:
  post:
    columns: [title]
    relations:
      - {name: author, kind: belongs_to, target: ghost}
`), 0644))

	out, err := execute(t, &RootOptions{Format: "text"}, NewValidateCommand, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E101]")
	assert.Contains(t, out, "ghost")
}

func TestValidate_MissingArg(t *testing.T) {
	_, err := execute(t, &RootOptions{Format: "text"}, NewValidateCommand)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
