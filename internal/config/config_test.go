package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LLM_GATEWAY_URL", "LLM_API_KEY", "LLM_MODEL", "TRANSCRIBE_URL",
		"DB_PATH", "DATASET_PATH", "PORT", "USE_MOCK_LLM", "STAGE_CONCURRENCY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "comms-intel.db", cfg.DBPath)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 25*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.UseMockService)
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gateway_url: https://llm.internal/v1/chat/completions
model: test-model
db_path: /tmp/test.db
concurrency: 2
use_mock_service: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://llm.internal/v1/chat/completions", cfg.GatewayURL)
	assert.Equal(t, "test-model", cfg.Model)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.True(t, cfg.UseMockService)
	// untouched keys keep their defaults
	assert.Equal(t, "8080", cfg.Port)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: from-file\nconcurrency: 2\n"), 0o644))

	t.Setenv("LLM_MODEL", "from-env")
	t.Setenv("STAGE_CONCURRENCY", "8")
	t.Setenv("USE_MOCK_LLM", "1")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Model)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.True(t, cfg.UseMockService)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadClampsConcurrency(t *testing.T) {
	clearEnv(t)
	t.Setenv("STAGE_CONCURRENCY", "-3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Concurrency)
}
