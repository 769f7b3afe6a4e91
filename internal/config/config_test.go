package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvAPIKey, EnvBaseURL, EnvModel, EnvPort, EnvLogLevel} {
		t.Setenv(key, "")
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9090
upstream:
  api_key: file-key
  model: gemini-1.5-flash
  unary_timeout: 15s
  headers:
    X-Trace: abc
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "file-key", cfg.Upstream.APIKey)
	assert.Equal(t, "gemini-1.5-flash", cfg.Upstream.Model)
	assert.Equal(t, DefaultBaseURL, cfg.Upstream.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Upstream.UnaryTimeout)
	assert.Equal(t, "abc", cfg.Upstream.Headers["X-Trace"])
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "upstream:\n  api_key: file-key\n")
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvPort, "7000")
	t.Setenv(EnvModel, "gemini-2.0-flash")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Upstream.APIKey)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "gemini-2.0-flash", cfg.Upstream.Model)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "env-key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultModel, cfg.Upstream.Model)
	assert.Equal(t, DefaultUnaryTimeout, cfg.Upstream.UnaryTimeout)
}

func TestLoadMissingCredentialIsFatal(t *testing.T) {
	clearEnv(t)

	_, err := Load("")
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "k")
	t.Setenv(EnvPort, "not-a-port")

	_, err := Load("")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Default()
	base.Upstream.APIKey = "k"
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"empty base url", func(c *Config) { c.Upstream.BaseURL = " " }},
		{"empty model", func(c *Config) { c.Upstream.Model = "" }},
		{"negative timeout", func(c *Config) { c.Upstream.UnaryTimeout = -time.Second }},
		{"bad header", func(c *Config) { c.Upstream.Headers = Headers{"X_Bad": "v"} }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
