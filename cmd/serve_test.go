package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini-gateway/internal/config"
)

func TestParseServeOptions(t *testing.T) {
	opts, help, err := parseServeOptions([]string{"--config", "gateway.yaml", "-p", "9000"})
	require.NoError(t, err)
	assert.False(t, help)
	assert.Equal(t, "gateway.yaml", opts.Config)
	assert.Equal(t, 9000, opts.Port)
}

func TestParseServeOptionsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown flag", args: []string{"--bogus"}},
		{name: "port out of range", args: []string{"--port", "70000"}},
		{name: "negative port", args: []string{"--port=-1"}},
		{name: "non numeric port", args: []string{"--port", "abc"}},
		{name: "positional argument", args: []string{"extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, help, err := parseServeOptions(tt.args)
			assert.Error(t, err)
			assert.False(t, help)
		})
	}
}

func TestParseServeOptionsHelp(t *testing.T) {
	_, help, err := parseServeOptions([]string{"--help"})
	require.NoError(t, err)
	assert.True(t, help)
}

func TestLoadConfigAppliesPortOverride(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "secret")
	t.Setenv(config.EnvPort, "8100")

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upstream:\n  model: gemini-1.5-flash\n"), 0o600))

	cfg, err := loadConfig(serveOptions{Config: path, Port: 9100})
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "gemini-1.5-flash", cfg.Upstream.Model)
	assert.Equal(t, "secret", cfg.Upstream.APIKey)

	cfg, err = loadConfig(serveOptions{Config: path})
	require.NoError(t, err)
	assert.Equal(t, 8100, cfg.Server.Port)
}

func TestServeFailsWithoutAPIKey(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "")

	err := Execute(context.Background(), []string{"serve"})
	assert.ErrorIs(t, err, config.ErrMissingAPIKey)
}

func TestExecuteUnknownCommand(t *testing.T) {
	err := Execute(context.Background(), []string{"launch"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown command "launch"`)
}

func TestExecuteHelp(t *testing.T) {
	assert.NoError(t, Execute(context.Background(), nil))
	assert.NoError(t, Execute(context.Background(), []string{"help"}))
}
