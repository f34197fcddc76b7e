// Package config loads Matchday configuration from file, environment and
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/matchday/backend/internal/crypto"
	apperrors "github.com/kimhsiao/matchday/backend/internal/errors"
)

// EnvPrefix is prepended to every environment override, e.g.
// MATCHDAY_REMOTE_URL.
const EnvPrefix = "MATCHDAY"

// Config holds every tunable of the sync core and its hosts.
type Config struct {
	DataDir string        `mapstructure:"data_dir" yaml:"data_dir"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Remote  RemoteConfig  `mapstructure:"remote" yaml:"remote"`
	User    UserConfig    `mapstructure:"user" yaml:"user"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// StorageConfig selects the durable key-value backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // sqlite | badger | memory
}

// RemoteConfig points at the hosted backend.
type RemoteConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	APIKey  string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// UserConfig identifies the signed-in user for the bulk download.
type UserConfig struct {
	ID      string `mapstructure:"id" yaml:"id"`
	IsAdmin bool   `mapstructure:"is_admin" yaml:"is_admin"`
}

// SyncConfig tunes queue replay and connectivity probing.
type SyncConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	ProbeURL      string        `mapstructure:"probe_url" yaml:"probe_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	// ConflictStrategy is pending_wins or last_write_wins.
	ConflictStrategy string `mapstructure:"conflict_strategy" yaml:"conflict_strategy"`
}

// APIConfig configures the local control API.
type APIConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("sync.max_attempts", 10)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.probe_interval", 10*time.Second)
	v.SetDefault("sync.conflict_strategy", "pending_wins")
	v.SetDefault("api.addr", "127.0.0.1:8090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// NewViper builds a viper instance bound to path (optional), the
// environment and the defaults.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("matchday")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/matchday")
	}
	return v
}

// Load reads the configuration. A missing file is not an error when path is
// empty; defaults and environment still apply.
func Load(path string) (*Config, *viper.Viper, error) {
	v := NewViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, nil, apperrors.Wrap(apperrors.ErrConfigInvalid, "failed to read config", err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, "failed to decode config", err)
	}
	if crypto.IsSealed(cfg.Remote.APIKey) {
		key, err := crypto.Open(cfg.Remote.APIKey, crypto.MachineID())
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, "remote.api_key was sealed on another machine", err)
		}
		cfg.Remote.APIKey = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants the sync core relies on.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "badger", "memory":
	default:
		return apperrors.New(apperrors.ErrConfigInvalid,
			fmt.Sprintf("storage.backend must be sqlite, badger or memory, got %q", c.Storage.Backend))
	}
	switch c.Sync.ConflictStrategy {
	case "", "pending_wins", "last_write_wins":
	default:
		return apperrors.New(apperrors.ErrConfigInvalid,
			fmt.Sprintf("sync.conflict_strategy must be pending_wins or last_write_wins, got %q", c.Sync.ConflictStrategy))
	}
	if c.Sync.MaxAttempts < 0 {
		return apperrors.New(apperrors.ErrConfigInvalid, "sync.max_attempts must be >= 0")
	}
	if c.Remote.Timeout < 0 {
		return apperrors.New(apperrors.ErrConfigInvalid, "remote.timeout must be >= 0")
	}
	return nil
}

// Watch reloads the configuration whenever the backing file changes and
// passes the new value to fn. Invalid edits are reported through onErr and
// otherwise ignored.
func Watch(v *viper.Viper, fn func(*Config), onErr func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
}

// Dump renders the effective configuration as YAML with the API key
// redacted.
func Dump(cfg *Config) (string, error) {
	redacted := *cfg
	if redacted.Remote.APIKey != "" {
		redacted.Remote.APIKey = "***REDACTED***"
	}
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return string(out), nil
}
