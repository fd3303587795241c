package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.True(t, cfg.Engine.AutoActivate)
	assert.Equal(t, "1.0.0", cfg.Engine.FlowVersion)
	assert.Empty(t, cfg.FlowRuntime.BaseURL)
	assert.Equal(t, 10.0, cfg.FlowRuntime.RateLimit)
	assert.Equal(t, 5, cfg.FlowRuntime.RateLimitBurst)
	assert.Equal(t, 3, cfg.FlowRuntime.MaxRetries)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yml := `
engine:
  auto_activate: false
flow_runtime:
  base_url: http://runtime.local
  max_retries: 1
server:
  port: 9000
  allowed_origins:
    - http://localhost:3000
database:
  driver: pebble
  path: /var/lib/orders
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(yml), 0o600))
	t.Setenv("FLOW_RUNTIME_API_KEY", "secret")
	t.Setenv("SERVER_PORT", "9100")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.False(t, cfg.Engine.AutoActivate)
	assert.Equal(t, "http://runtime.local", cfg.FlowRuntime.BaseURL)
	assert.Equal(t, 1, cfg.FlowRuntime.MaxRetries)
	assert.Equal(t, "secret", cfg.FlowRuntime.APIKey)
	assert.Equal(t, 9100, cfg.Server.Port, "environment wins over the file")
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "pebble", cfg.Database.Driver)
	assert.Equal(t, "/var/lib/orders", cfg.Database.Path)
	assert.Equal(t, 5, cfg.FlowRuntime.RateLimitBurst, "unset keys keep their defaults")
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOGGER_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LOGGER_LEVEL") })

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("server: [unclosed"), 0o600))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}
