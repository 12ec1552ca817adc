// Package config resolves the dashboard's runtime configuration from command-line
// flags, DASHBOARD_* environment variables, optional .env files and an optional
// config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/small-frappuccino/guilddash/pkg/log"
	"github.com/small-frappuccino/guilddash/pkg/util"
)

// EnvPrefix prefixes every environment variable the dashboard reads.
const EnvPrefix = "DASHBOARD"

// Keys.
const (
	KeyBackendURL     = "backend_url"
	KeyInternalToken  = "internal_token"
	KeyListenAddr     = "listen_addr"
	KeyDataDir        = "data_dir"
	KeySessionTTL     = "session_ttl"
	KeyBackendTimeout = "backend_timeout"
	KeyLogLevel       = "log_level"
	KeyAuditEnabled   = "audit_enabled"
	KeyAuditRetention = "audit_retention"
	KeyCookieSecure   = "cookie_secure"
)

// Config is the resolved dashboard configuration.
type Config struct {
	BackendURL     string        `mapstructure:"backend_url"`
	InternalToken  string        `mapstructure:"internal_token"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	DataDir        string        `mapstructure:"data_dir"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	BackendTimeout time.Duration `mapstructure:"backend_timeout"`
	LogLevel       string        `mapstructure:"log_level"`
	AuditEnabled   bool          `mapstructure:"audit_enabled"`
	AuditRetention time.Duration `mapstructure:"audit_retention"`
	CookieSecure   bool          `mapstructure:"cookie_secure"`
}

// ErrMissingInternalToken is returned when no shared secret for the backend is configured.
var ErrMissingInternalToken = errors.New("internal token is required (set DASHBOARD_INTERNAL_TOKEN)")

// legacyEnv lists, per key, the variable names the previous web frontend read. They
// are consulted after the DASHBOARD_* name.
var legacyEnv = map[string][]string{
	KeyBackendURL:    {"VITE_BACKEND_URL"},
	KeyInternalToken: {"WEB_INTERNAL_TOKEN", "VITE_INTERNAL_TOKEN"},
}

// NewViper returns a viper instance with defaults and environment bindings set.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, names := range legacyEnv {
		// BindEnv takes the first non-empty variable, so the prefixed name wins.
		_ = v.BindEnv(append([]string{key, EnvPrefix + "_" + strings.ToUpper(key)}, names...)...)
	}
	return v
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyBackendURL, "http://127.0.0.1:8000")
	v.SetDefault(KeyInternalToken, "")
	v.SetDefault(KeyListenAddr, "127.0.0.1:5174")
	v.SetDefault(KeyDataDir, util.DefaultDataDir())
	v.SetDefault(KeySessionTTL, time.Hour)
	v.SetDefault(KeyBackendTimeout, 15*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyAuditEnabled, true)
	v.SetDefault(KeyAuditRetention, 90*24*time.Hour)
	v.SetDefault(KeyCookieSecure, false)
}

// Load reads configFile when non-empty and resolves the Config held by v.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if strings.TrimSpace(configFile) != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode configuration: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.BackendURL = strings.TrimRight(strings.TrimSpace(c.BackendURL), "/")
	c.InternalToken = strings.TrimSpace(c.InternalToken)
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = util.DefaultDataDir()
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend_url %q must be an absolute http(s) URL", c.BackendURL)
	}
	if c.InternalToken == "" {
		return ErrMissingInternalToken
	}
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive, got %s", c.SessionTTL)
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("backend_timeout must be positive, got %s", c.BackendTimeout)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// LogFile is the rotating log file under the data directory.
func (c Config) LogFile() string { return util.LogFilePath(c.DataDir) }

// AuditDB is the audit database under the data directory.
func (c Config) AuditDB() string { return util.AuditDBPath(c.DataDir) }
