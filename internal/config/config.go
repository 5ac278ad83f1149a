// Package config loads roam configuration.
//
// Values are layered, highest precedence first:
//
//  1. command-line flags that were set explicitly
//  2. ROAM_* environment variables (ROAM_DRIVE_ROOT for drive.root)
//  3. the config file (roam.toml, roam.yaml or roam.json)
//  4. built-in defaults
//
// The config file is looked up in ./.roam and then $HOME/.config/roam unless
// a path is given explicitly.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/roam/internal/logging"
	"github.com/steveyegge/roam/internal/serializer"
)

// Backend names accepted for the backend key.
const (
	BackendMemory = "memory"
	BackendFS     = "fs"
	BackendSQLite = "sqlite"

	// BackendLocal keeps settings on this device in the cache database and
	// puts files under drive.root. Nothing roams.
	BackendLocal = "local"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "ROAM"

// Config is the resolved configuration.
type Config struct {
	// User owns the remote application folder.
	User string `mapstructure:"user"`

	// File is the settings document name.
	File string `mapstructure:"file"`

	// AutoSync pushes after every write.
	AutoSync bool `mapstructure:"auto_sync"`

	// Serializer is json or yaml.
	Serializer string `mapstructure:"serializer"`

	// Backend selects the drive: memory, fs, sqlite or local.
	Backend string `mapstructure:"backend"`

	Drive     DriveConfig     `mapstructure:"drive"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       logging.Config  `mapstructure:"log"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`

	// source is the config file that was read, if any.
	source string
}

// DriveConfig locates the drive backends.
type DriveConfig struct {
	// Root is the directory of the fs backend.
	Root string `mapstructure:"root"`
	// DB is the database file of the sqlite backend.
	DB string `mapstructure:"db"`
}

// CacheConfig locates the local cache database.
type CacheConfig struct {
	// DB is the SQLite file persisting the cache. Empty disables persistence.
	DB string `mapstructure:"db"`
}

// DaemonConfig tunes the background reconciler.
type DaemonConfig struct {
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	Debounce     time.Duration `mapstructure:"debounce"`
}

// DashboardConfig configures the HTTP dashboard.
type DashboardConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Source returns the config file that was read, or "" when none was found.
func (c *Config) Source() string {
	return c.source
}

// Validate checks enumerated values and required fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.User) == "" {
		return errors.New("user cannot be empty")
	}
	if strings.TrimSpace(c.File) == "" {
		return errors.New("file cannot be empty")
	}
	if _, err := serializer.ByName(c.Serializer); err != nil {
		return err
	}
	switch c.Backend {
	case BackendMemory, BackendFS, BackendSQLite, BackendLocal:
	default:
		return fmt.Errorf("unknown backend %q (want %s, %s, %s or %s)", c.Backend, BackendMemory, BackendFS, BackendSQLite, BackendLocal)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("invalid dashboard port %d", c.Dashboard.Port)
	}
	return nil
}

// Options controls Load.
type Options struct {
	// File is an explicit config file. It must exist when set.
	File string

	// SearchPaths overrides the directories searched for roam.* files.
	SearchPaths []string

	// Flags are bound to their keys; only flags that were set take effect.
	// Flag names use dashes (auto-sync for auto_sync).
	Flags *pflag.FlagSet
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, _ := decode(newViper())
	return cfg
}

// Load resolves the configuration.
//
// Example:
//
//	cfg, err := config.Load(config.Options{Flags: cmd.Flags()})
func Load(opts Options) (*Config, error) {
	v := newViper()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("roam")
		paths := opts.SearchPaths
		if paths == nil {
			paths = DefaultSearchPaths()
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if opts.Flags != nil {
		if err := bindFlags(v, opts.Flags); err != nil {
			return nil, err
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DefaultSearchPaths returns ./.roam and $HOME/.config/roam.
func DefaultSearchPaths() []string {
	paths := []string{".roam"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "roam"))
	}
	return paths
}

// DataDir returns the directory holding roam's databases and fs drive.
// $XDG_DATA_HOME/roam when set, otherwise ~/.local/share/roam.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "roam")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "roam")
	}
	return ".roam"
}

func newViper() *viper.Viper {
	v := viper.New()

	dataDir := DataDir()
	v.SetDefault("user", defaultUser())
	v.SetDefault("file", "roamingSettings.json")
	v.SetDefault("auto_sync", false)
	v.SetDefault("serializer", "json")
	v.SetDefault("backend", BackendFS)
	v.SetDefault("drive.root", filepath.Join(dataDir, "drive"))
	v.SetDefault("drive.db", filepath.Join(dataDir, "drive.db"))
	v.SetDefault("cache.db", filepath.Join(dataDir, "cache.db"))

	logDefaults := logging.DefaultConfig()
	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.format", logDefaults.Format)
	v.SetDefault("log.file", logDefaults.File)
	v.SetDefault("log.max_size_mb", logDefaults.MaxSizeMB)
	v.SetDefault("log.max_backups", logDefaults.MaxBackups)
	v.SetDefault("log.max_age_days", logDefaults.MaxAgeDays)

	v.SetDefault("daemon.sync_interval", 30*time.Second)
	v.SetDefault("daemon.debounce", 250*time.Millisecond)
	v.SetDefault("dashboard.host", "localhost")
	v.SetDefault("dashboard.port", 8080)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"user":       "user",
	"file":       "file",
	"auto-sync":  "auto_sync",
	"serializer": "serializer",
	"backend":    "backend",
	"drive-root": "drive.root",
	"cache-db":   "cache.db",
	"log-level":  "log.level",
	"port":       "dashboard.port",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.source = v.ConfigFileUsed()
	return &cfg, nil
}

func defaultUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}

// Map returns the configuration as nested maps keyed like the config file.
// Durations are rendered as strings ("30s") so every format can carry them.
func (c *Config) Map() map[string]any {
	return map[string]any{
		"user":       c.User,
		"file":       c.File,
		"auto_sync":  c.AutoSync,
		"serializer": c.Serializer,
		"backend":    c.Backend,
		"drive": map[string]any{
			"root": c.Drive.Root,
			"db":   c.Drive.DB,
		},
		"cache": map[string]any{
			"db": c.Cache.DB,
		},
		"log": map[string]any{
			"level":        c.Log.Level,
			"format":       c.Log.Format,
			"file":         c.Log.File,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
		},
		"daemon": map[string]any{
			"sync_interval": c.Daemon.SyncInterval.String(),
			"debounce":      c.Daemon.Debounce.String(),
		},
		"dashboard": map[string]any{
			"host": c.Dashboard.Host,
			"port": c.Dashboard.Port,
		},
	}
}

// Write saves cfg to path. The format follows the extension: .toml, .yaml,
// .yml or .json. Parent directories are created.
func Write(path string, cfg *Config) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var b strings.Builder
		err = toml.NewEncoder(&b).Encode(cfg.Map())
		data = []byte(b.String())
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg.Map())
	case ".json":
		data, err = json.MarshalIndent(cfg.Map(), "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("unsupported config format %q (want .toml, .yaml or .json)", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
