// Package config loads ledger settings from defaults, an optional config
// file and LEDGER_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RemoteConfig points at the cloud store.
type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig controls daemon log output. An empty File logs to stderr.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// DaemonConfig controls the sync daemon loop.
type DaemonConfig struct {
	ForegroundInterval time.Duration `mapstructure:"foreground_interval"`
	PIDFile            string        `mapstructure:"pid_file"`
}

// DashboardConfig controls the WebSocket feed started by the daemon.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Config is the resolved configuration.
type Config struct {
	DBPath      string          `mapstructure:"db_path"`
	SessionFile string          `mapstructure:"session_file"`
	Remote      RemoteConfig    `mapstructure:"remote"`
	Log         LogConfig       `mapstructure:"log"`
	Daemon      DaemonConfig    `mapstructure:"daemon"`
	Dashboard   DashboardConfig `mapstructure:"dashboard"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// EnvPrefix is the prefix for environment overrides, e.g. LEDGER_REMOTE_URL.
const EnvPrefix = "LEDGER"

// Dir returns the ledger home directory (~/.ledger).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ledger"
	}
	return filepath.Join(home, ".ledger")
}

// New returns a viper instance with defaults and environment binding but no
// config file. Callers may bind flags to it before passing it to Resolve.
func New() *viper.Viper {
	v := viper.New()
	dir := Dir()

	v.SetDefault("db_path", filepath.Join(dir, "ledger.db"))
	v.SetDefault("session_file", filepath.Join(dir, "session.yaml"))
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("daemon.foreground_interval", 5*time.Minute)
	v.SetDefault("daemon.pid_file", filepath.Join(dir, "daemon.pid"))
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 7420)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration. With an empty path it looks for ledger.yaml or
// ledger.toml in ~/.ledger and the working directory, and a missing file is
// not an error. An explicit path must exist.
func Load(path string) (*Config, error) {
	return Resolve(New(), path)
}

// Resolve reads the config file into v, unmarshals and validates.
func Resolve(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		v.SetConfigName("ledger")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.File = v.ConfigFileUsed()
	c.DBPath = expandHome(c.DBPath)
	c.SessionFile = expandHome(c.SessionFile)
	c.Log.File = expandHome(c.Log.File)
	c.Daemon.PIDFile = expandHome(c.Daemon.PIDFile)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}

// Validate checks value ranges. An empty remote URL is allowed; commands
// that talk to the remote check for it themselves.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.SessionFile == "" {
		return fmt.Errorf("session_file is required")
	}
	if c.Remote.URL != "" {
		u, err := url.Parse(c.Remote.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("remote.url must be an absolute URL (got %q)", c.Remote.URL)
		}
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout must not be negative")
	}
	if c.Daemon.ForegroundInterval <= 0 {
		return fmt.Errorf("daemon.foreground_interval must be positive")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range (got %d)", c.Dashboard.Port)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be positive")
	}
	return nil
}

// RemoteConfigured reports whether a remote store URL is set.
func (c *Config) RemoteConfigured() bool {
	return c.Remote.URL != ""
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
