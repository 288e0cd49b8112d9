package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.DefaultProvider)
	assert.Equal(t, "approve", cfg.DefaultPermissionMode)
	assert.Equal(t, 5*time.Minute, cfg.RunTimeout.Std())
	assert.Equal(t, "127.0.0.1:8377", cfg.RelayListen)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
default_provider: codex
default_permission_mode: yolo
run_timeout: 90s
approval_timeout: 2m
claude:
  path: /opt/bin/claude
  model: opus
relay_listen: 0.0.0.0:9000
debug: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "codex", cfg.DefaultProvider)
	assert.Equal(t, "yolo", cfg.DefaultPermissionMode)
	assert.Equal(t, 90*time.Second, cfg.RunTimeout.Std())
	assert.Equal(t, 2*time.Minute, cfg.ApprovalTimeout.Std())
	assert.Equal(t, "/opt/bin/claude", cfg.Claude.Path)
	assert.Equal(t, "opus", cfg.Claude.Model)
	assert.Equal(t, "0.0.0.0:9000", cfg.RelayListen)
	assert.True(t, cfg.Debug)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10*time.Minute, cfg.PlanTimeout.Std())
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "default_provider: gemini\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_provider")
}

func TestLoad_RejectsUnknownPermissionMode(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "default_permission_mode: ask-nicely\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_permission_mode")
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "default_provider: [unterminated\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDuration_UnmarshalRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "run_timeout: forever\n")
	_, err := Load(path)
	assert.Error(t, err)
}
