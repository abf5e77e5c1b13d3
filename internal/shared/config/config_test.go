package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8420", cfg.Server.Addr)
	assert.Equal(t, 30, cfg.Engine.MaxIterations)
	assert.Equal(t, 100, cfg.Engine.CheckpointMaxPerFile)
	assert.Equal(t, 10*time.Second, cfg.Engine.GraceWindow)
	assert.Equal(t, 30*time.Second, cfg.Engine.CleanupAfter)
	assert.Equal(t, 5, cfg.Engine.Retry.MaxAttempts)
	assert.Equal(t, "openai", cfg.LLM.Provider)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.yaml")
	doc := `
server:
  addr: "127.0.0.1:9000"
engine:
  max_iterations: 5
  session_dir: /tmp/sessions
  retry:
    max_attempts: 2
llm:
  model: test-model
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Engine.MaxIterations)
	assert.Equal(t, "/tmp/sessions", cfg.Engine.SessionDir)
	assert.Equal(t, 2, cfg.Engine.Retry.MaxAttempts)
	assert.Equal(t, "test-model", cfg.LLM.Model)
	// Untouched fields still get defaults.
	assert.Equal(t, time.Second, cfg.Engine.Retry.BaseDelay)
}

func TestLoadMissingExplicitFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOOM_LLM_API_KEY", "sk-test")
	t.Setenv("LOOM_SERVER_ADDR", ":7777")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, ":7777", cfg.Server.Addr)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.Logging.Level = "loud"
	require.Error(t, cfg.Validate())

	cfg = &Config{}
	cfg.SetDefaults()
	cfg.Engine.GraceWindow = time.Minute
	cfg.Engine.CleanupAfter = time.Second
	require.Error(t, cfg.Validate())

	cfg = &Config{}
	cfg.SetDefaults()
	cfg.Server.Addr = "no-port"
	require.Error(t, cfg.Validate())
}
