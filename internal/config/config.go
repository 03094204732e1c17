// Package config loads the daemon's optional configuration file
// (TOML/YAML/JSON, resolved by viper from its extension): namespace,
// snapshot path, logging, metrics, history, and defaults for start()
// requests. A missing config file is not an error:
// the daemon runs entirely on Default().
package config

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/zuz-pm/zuzpm/internal/probe"
)

// Config is daemon-level configuration. Of the start() defaults, only
// DefaultProbe is applied, to workers started without a probe of their
// own. DefaultKillTimeout and DefaultMaxBackoff are loaded but not passed
// on to workers, which use their own 5s kill timeout and 16s maximum
// backoff when a start() request leaves those fields unset.
type Config struct {
	Namespace          string        `mapstructure:"namespace"`
	SnapshotPath       string        `mapstructure:"snapshot_path"`
	DefaultKillTimeout time.Duration `mapstructure:"default_kill_timeout"`
	DefaultMaxBackoff  time.Duration `mapstructure:"default_max_backoff"`
	Log                LogConfig     `mapstructure:"log"`
	Metrics            MetricsConfig `mapstructure:"metrics"`
	History            HistoryConfig `mapstructure:"history"`
	// DefaultProbe is a raw decoded section applied to workers started
	// without a probe of their own; see ProbeDefaults.
	DefaultProbe map[string]interface{} `mapstructure:"default_probe"`
}

// LogConfig holds the daemon's own log settings (per-worker
// stdout/stderr is handled by worker.FanOut, not file rotation). Only Dir
// is applied: the daemon log rotates at the logger package's defaults
// (10MB, 3 backups, 7 days), and MaxSizeMB, MaxBackups, MaxAgeDays and
// Compress are loaded but not used.
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig enables the optional Prometheus observability sidecar.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// HistoryConfig enables the optional durable event-history backend when
// both Backend and DSN are non-empty. The backend ("sqlite" or
// "postgres") is chosen from the form of DSN, not from Backend's value.
type HistoryConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
}

// Default returns built-in defaults used when no config file is
// present, or when a field is left unset in one that is.
func Default() Config {
	return Config{
		Namespace:          "zuz-pm",
		DefaultKillTimeout: 5 * time.Second,
		DefaultMaxBackoff:  16 * time.Second,
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Load reads configPath (TOML/YAML/JSON, by extension) via viper and
// merges it over Default(). An empty configPath returns Default()
// unchanged without touching the filesystem.
func Load(configPath string) (Config, error) {
	cfg := Default()
	if configPath == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// decodeTo decodes a raw map (as produced by viper for an untyped
// section) into T via mapstructure directly, for sections whose shape
// depends on other fields and so can't be a plain nested struct.
func decodeTo[T any](m map[string]interface{}) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(m); err != nil {
		return out, err
	}
	return out, nil
}

// ProbeDefaults decodes the optional default_probe section into a
// probe.Config. Returns nil when the section is absent; a worker
// started without its own probe falls back to this one.
func (c Config) ProbeDefaults() (*probe.Config, error) {
	if len(c.DefaultProbe) == 0 {
		return nil, nil
	}
	p, err := decodeTo[probe.Config](c.DefaultProbe)
	if err != nil {
		return nil, fmt.Errorf("decode default_probe: %w", err)
	}
	return &p, nil
}
