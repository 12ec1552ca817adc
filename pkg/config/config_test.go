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
	for _, name := range []string{
		"DASHBOARD_BACKEND_URL", "DASHBOARD_INTERNAL_TOKEN", "DASHBOARD_LISTEN_ADDR",
		"DASHBOARD_SESSION_TTL", "DASHBOARD_LOG_LEVEL", "DASHBOARD_DATA_DIR",
		"VITE_BACKEND_URL", "WEB_INTERNAL_TOKEN", "VITE_INTERNAL_TOKEN",
	} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DASHBOARD_INTERNAL_TOKEN", "s3cret")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.BackendURL)
	assert.Equal(t, "s3cret", cfg.InternalToken)
	assert.Equal(t, "127.0.0.1:5174", cfg.ListenAddr)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, 15*time.Second, cfg.BackendTimeout)
	assert.True(t, cfg.AuditEnabled)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoadRequiresInternalToken(t *testing.T) {
	clearEnv(t)
	_, err := Load(NewViper(), "")
	assert.ErrorIs(t, err, ErrMissingInternalToken)
}

func TestLegacyVariablesAreFallbacks(t *testing.T) {
	clearEnv(t)
	t.Setenv("VITE_BACKEND_URL", "https://bot.example.com/")
	t.Setenv("WEB_INTERNAL_TOKEN", "web")
	t.Setenv("VITE_INTERNAL_TOKEN", "vite")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, "https://bot.example.com", cfg.BackendURL)
	assert.Equal(t, "web", cfg.InternalToken)

	t.Setenv("DASHBOARD_INTERNAL_TOKEN", "prefixed")
	cfg, err = Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.InternalToken)
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "dashboard.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend_url = "http://10.0.0.2:8000"
internal_token = "fromfile"
session_ttl = "30m"
log_level = "debug"
`), 0o600))

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:8000", cfg.BackendURL)
	assert.Equal(t, "fromfile", cfg.InternalToken)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, "debug", cfg.LogLevel)

	t.Setenv("DASHBOARD_LOG_LEVEL", "warn")
	cfg, err = Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	valid := Config{
		BackendURL:     "http://127.0.0.1:8000",
		InternalToken:  "x",
		ListenAddr:     ":5174",
		SessionTTL:     time.Minute,
		BackendTimeout: time.Second,
		LogLevel:       "info",
	}
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Config){
		"relative backend": func(c *Config) { c.BackendURL = "/api" },
		"ftp backend":      func(c *Config) { c.BackendURL = "ftp://host" },
		"no listen addr":   func(c *Config) { c.ListenAddr = "" },
		"zero ttl":         func(c *Config) { c.SessionTTL = 0 },
		"zero timeout":     func(c *Config) { c.BackendTimeout = 0 },
		"bad level":        func(c *Config) { c.LogLevel = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
