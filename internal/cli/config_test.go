package cli

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "itemsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "send", cfg.Notify.Policy)
	assert.Equal(t, "keep", cfg.Notify.FailMode)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
database: /tmp/items.db
notify:
  policy: ask
log:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/items.db", cfg.Database)
	assert.Equal(t, "ask", cfg.Notify.Policy)
	assert.Equal(t, "keep", cfg.Notify.FailMode, "unset keys keep their defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad policy", "notify:\n  policy: shout\n", "unknown notify policy"},
		{"bad fail mode", "notify:\n  fail_mode: retry\n", "fail mode"},
		{"bad level", "log:\n  level: loud\n", "unknown log level"},
		{"empty database", "database: \"\"\n", "database must not be empty"},
		{"malformed yaml", "notify: [unclosed\n", "reading config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRootCommand_BadConfigIsCommandError(t *testing.T) {
	path := writeConfig(t, "notify:\n  policy: shout\n")

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "validate", "."})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestSetupLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	buf := &bytes.Buffer{}
	setupLogging(buf, "warn", false)
	slog.Info("hidden")
	slog.Warn("shown", "entity_id", 10)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "entity_id=10")

	buf.Reset()
	setupLogging(buf, "warn", true)
	slog.Debug("debug line")
	assert.Contains(t, buf.String(), "debug line")
}
