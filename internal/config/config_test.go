package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, 8090, cfg.VisionAPI.Port)
	assert.Equal(t, 2.0, cfg.Perception.CaptureFPS)
	assert.Equal(t, 300, cfg.Perception.MaxFrames)
	assert.False(t, cfg.HasProvider())
	assert.NotEmpty(t, cfg.RulesPath)
	assert.NotEmpty(t, cfg.MemoryPath)
}

func TestLoad_EnvInterpolation(t *testing.T) {
	t.Setenv("PMCP_TEST_KEY", "sk-abc123")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
reasoning:
  provider: openai
  api_key: ${PMCP_TEST_KEY}
vision_api:
  port: 9100
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-abc123", cfg.Reasoning.APIKey)
	assert.Equal(t, 9100, cfg.VisionAPI.Port)
	assert.True(t, cfg.HasProvider())
	// Unrelated sections keep their defaults
	assert.Equal(t, 12, cfg.Perception.ModerateThreshold)
}

func TestLoad_UnsetEnvBecomesEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reasoning:\n  api_key: ${PMCP_DEFINITELY_UNSET_VAR}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Reasoning.APIKey)
}

func TestLoad_MalformedYAMLIserror(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cameras: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Defaults()
	cfg.Cameras = []Camera{{ID: "usb:0", Type: "usb", Name: "Desk"}}
	cfg.Reasoning = Reasoning{Provider: "anthropic", APIKey: "key", Model: "claude-sonnet-4-20250514"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Cameras, loaded.Cameras)
	assert.Equal(t, cfg.Reasoning, loaded.Reasoning)
}

func TestCameraIsEnabled(t *testing.T) {
	off := false
	assert.True(t, Camera{Type: "usb"}.IsEnabled())
	assert.False(t, Camera{Type: "usb", Enabled: &off}.IsEnabled())
}
