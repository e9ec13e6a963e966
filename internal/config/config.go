// Package config loads jt settings from a TOML file, JT_* environment
// variables, a .env file and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. JT_REMOTE_URL.
const EnvPrefix = "JT"

// Remote backend kinds.
const (
	RemoteNone   = "none"
	RemoteHTTP   = "http"
	RemoteLibSQL = "libsql"
)

// Config is the full jt configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	UserID    string          `mapstructure:"user_id"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Network   NetworkConfig   `mapstructure:"network"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`

	// File is the config file that was read, empty if none existed.
	File string `mapstructure:"-"`
}

// RemoteConfig selects the backend transport.
type RemoteConfig struct {
	Kind  string `mapstructure:"kind"`
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// SyncConfig tunes the processor, reconciler and scheduler.
type SyncConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	BatchTimeout    time.Duration `mapstructure:"batch_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	FetchAttempts   int           `mapstructure:"fetch_attempts"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	PreservePending bool          `mapstructure:"preserve_pending"`
	PersistOutbox   bool          `mapstructure:"persist_outbox"`
}

// NetworkConfig configures the reachability prober.
type NetworkConfig struct {
	ProbeURL      string        `mapstructure:"probe_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

// DashboardConfig configures the daemon's status server.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig configures the optional rotating log file.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultDir returns ~/.jobtrack, or .jobtrack if the home directory is
// unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jobtrack"
	}
	return filepath.Join(home, ".jobtrack")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.toml")
}

// defaults lists every key with its default value. Keys missing here are
// not overridable from the environment.
func defaults() map[string]any {
	return map[string]any{
		"data_dir":               DefaultDir(),
		"user_id":                "",
		"remote.kind":            RemoteNone,
		"remote.url":             "",
		"remote.token":           "",
		"sync.interval":          15 * time.Minute,
		"sync.batch_timeout":     30 * time.Second,
		"sync.max_retries":       3,
		"sync.fetch_attempts":    3,
		"sync.backoff_base":      500 * time.Millisecond,
		"sync.max_backoff":       10 * time.Second,
		"sync.preserve_pending":  true,
		"sync.persist_outbox":    true,
		"network.probe_url":      "",
		"network.probe_interval": 30 * time.Second,
		"network.probe_timeout":  5 * time.Second,
		"dashboard.port":         7420,
		"log.file":               "",
		"log.max_size_mb":        10,
		"log.max_backups":        3,
		"log.max_age_days":       28,
	}
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		// The defaults table always decodes.
		panic(err)
	}
	return cfg
}

// Options controls Load.
type Options struct {
	// Path of the TOML file; empty means DefaultPath. A missing file is
	// not an error.
	Path string
	// EnvFiles are loaded with godotenv before reading the environment.
	// Missing files are ignored. Existing variables are never overwritten.
	EnvFiles []string
	// Flags maps config keys to command-line flags. A flag only
	// overrides its key when it was set explicitly.
	Flags map[string]*pflag.Flag
}

// Load reads the configuration.
func Load(opts Options) (*Config, error) {
	for _, f := range opts.EnvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	path := opts.Path
	if path == "" {
		path = DefaultPath()
	}

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	file := ""
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		file = path
	}

	for key, flag := range opts.Flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.File = file
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Log.File = expandHome(cfg.Log.File)
	return &cfg, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Validate reports every invalid value.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("data_dir is required"))
	}
	switch c.Remote.Kind {
	case RemoteNone:
	case RemoteHTTP, RemoteLibSQL:
		if c.Remote.URL == "" {
			errs = append(errs, fmt.Errorf("remote.url is required for remote.kind %q", c.Remote.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("remote.kind must be one of none, http, libsql (got %q)", c.Remote.Kind))
	}
	positive := map[string]time.Duration{
		"sync.interval":          c.Sync.Interval,
		"sync.batch_timeout":     c.Sync.BatchTimeout,
		"sync.backoff_base":      c.Sync.BackoffBase,
		"sync.max_backoff":       c.Sync.MaxBackoff,
		"network.probe_interval": c.Network.ProbeInterval,
		"network.probe_timeout":  c.Network.ProbeTimeout,
	}
	for _, key := range sortedKeys(positive) {
		if positive[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive (got %s)", key, positive[key]))
		}
	}
	if c.Sync.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("sync.max_retries must be at least 1 (got %d)", c.Sync.MaxRetries))
	}
	if c.Sync.FetchAttempts < 1 {
		errs = append(errs, fmt.Errorf("sync.fetch_attempts must be at least 1 (got %d)", c.Sync.FetchAttempts))
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Errorf("dashboard.port must be 0-65535 (got %d)", c.Dashboard.Port))
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		errs = append(errs, fmt.Errorf("log rotation limits must not be negative"))
	}
	return errors.Join(errs...)
}

// DBPath is the local SQLite database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "jobtrack.db")
}

// TriggerDir is watched by the daemon for trigger files.
func (c *Config) TriggerDir() string {
	return filepath.Join(c.DataDir, "triggers")
}
