package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, "http://localhost:8080", cfg.BaseURL)
	require.Equal(t, "gpt-4o", cfg.DeploymentName)
	require.Equal(t, 5*time.Second, cfg.HealthTimeout)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
base_url: https://assistant.example.com
deployment_name: gpt-4.1
staging_threshold: 2000
log_level: debug
stream_path: /v2/stream
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://assistant.example.com", cfg.BaseURL)
	require.Equal(t, "gpt-4.1", cfg.DeploymentName)
	require.Equal(t, 2000, cfg.StagingThreshold)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "/v2/stream", cfg.StreamPath)
	// Untouched keys keep their defaults.
	require.Equal(t, 5*time.Second, cfg.HealthTimeout)
}

func TestLoadRejectsEmptyBaseURL(t *testing.T) {
	path := writeConfig(t, `base_url: ""`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
