package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 5, cfg.RateLimit.MaxPerWindow)
	assert.Equal(t, 3, cfg.Backend.Session.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Backend.Session.BaseDelay)
	assert.Less(t, cfg.Backend.Session.Timeout, cfg.Backend.Chat.Timeout)
	assert.Equal(t, 30*time.Second, cfg.SessionCache.TTL)
	assert.Equal(t, "es", cfg.I18n.DefaultLanguage)
	assert.Error(t, cfg.RequireToken())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
bot:
  token: file-token
backend:
  base_url: http://backend:9000/
  chat:
    max_attempts: 4
    base_delay: 500ms
    timeout: 45s
rate_limit:
  window: 20s
keywords:
  short_end: ["ya"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("RATE_LIMIT_MAX", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "file-token", cfg.Bot.Token)
	assert.Equal(t, "http://backend:9000", cfg.Backend.BaseURL)
	assert.Equal(t, 4, cfg.Backend.Chat.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Backend.Chat.BaseDelay)
	assert.Equal(t, 20*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 7, cfg.RateLimit.MaxPerWindow)
	assert.Equal(t, []string{"ya"}, cfg.Keywords.ShortEnd)
	assert.NoError(t, cfg.RequireToken())
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero attempts", "backend:\n  session:\n    max_attempts: 0\n", "max_attempts"},
		{"zero sweep interval", "context:\n  sweep_interval: 0s\n", "sweep_interval"},
		{"negative context age", "context:\n  max_age: -1m\n", "max_age"},
		{"zero session cache ttl", "session_cache:\n  ttl: 0s\n", "session_cache.ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
