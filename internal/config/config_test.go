package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, cfg.AIProvider)
	assert.Equal(t, 8080, cfg.Gateway.Port)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aiProvider: codex\ngateway:\n  port: 9090\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderCodex, cfg.AIProvider)
	assert.Equal(t, 9090, cfg.Gateway.Port)
}

func TestLoad_InvalidProviderIsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aiProvider: nonsense\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnabled_ReflectsAPIKeyPresence(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Enabled(ProviderOpenAI))
	cfg.OpenAI.APIKey = "sk-test"
	assert.True(t, cfg.Enabled(ProviderOpenAI))
}
