// Package config provides YAML-based configuration loading for wiretest.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	Receiver  ReceiverConfig  `mapstructure:"receiver"`
	Sender    SenderConfig    `mapstructure:"sender"`
	Transport TransportConfig `mapstructure:"transport"`

	// Discovery controls receiver announcement through the registry.
	Discovery DiscoveryConfig `mapstructure:"discovery"`

	Output OutputConfig `mapstructure:"output"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type ReceiverConfig struct {
	// PollInterval bounds how long a stop request waits for the receive loop.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type SenderConfig struct {
	// SendTimeout bounds one frame write. Zero disables it.
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	// RatePerSec paces sends; 0 means unlimited.
	RatePerSec float64 `mapstructure:"rate_per_sec"`
	Burst      int     `mapstructure:"burst"`
}

type TransportConfig struct {
	// MaxFrameBytes bounds a declared string length on TCP streams.
	MaxFrameBytes int           `mapstructure:"max_frame_bytes"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
}

type DiscoveryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Endpoints of the etcd cluster. Empty means an in-process registry.
	Endpoints  []string `mapstructure:"endpoints"`
	TTLSeconds int64    `mapstructure:"ttl_seconds"`
	// Balancer: round_robin, weighted_random or consistent_hash
	Balancer string `mapstructure:"balancer"`
	// Weight announced for this receiver.
	Weight int `mapstructure:"weight"`
}

type OutputConfig struct {
	// Format: text, json or yaml
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "warn",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/wiretest.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Receiver:  ReceiverConfig{PollInterval: 100 * time.Millisecond},
		Sender:    SenderConfig{SendTimeout: 2 * time.Second, Burst: 1},
		Transport: TransportConfig{MaxFrameBytes: 16 << 20, DialTimeout: 5 * time.Second},
		Discovery: DiscoveryConfig{TTLSeconds: 10, Balancer: "round_robin", Weight: 1},
		Output:    OutputConfig{Format: "text", Color: true},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix WIRETEST and `.`/`-` are replaced with `_`.
// Example: WIRETEST_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// NewViper prepares a viper instance with defaults, env overrides and the
// config file, if one is found. Callers may bind flags before FromViper.
func NewViper(path string) (*viper.Viper, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("WIRETEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("receiver.poll_interval", cfg.Receiver.PollInterval)
	v.SetDefault("sender.send_timeout", cfg.Sender.SendTimeout)
	v.SetDefault("sender.rate_per_sec", cfg.Sender.RatePerSec)
	v.SetDefault("sender.burst", cfg.Sender.Burst)
	v.SetDefault("transport.max_frame_bytes", cfg.Transport.MaxFrameBytes)
	v.SetDefault("transport.dial_timeout", cfg.Transport.DialTimeout)
	v.SetDefault("discovery.enabled", cfg.Discovery.Enabled)
	v.SetDefault("discovery.endpoints", cfg.Discovery.Endpoints)
	v.SetDefault("discovery.ttl_seconds", cfg.Discovery.TTLSeconds)
	v.SetDefault("discovery.balancer", cfg.Discovery.Balancer)
	v.SetDefault("discovery.weight", cfg.Discovery.Weight)
	v.SetDefault("output.format", cfg.Output.Format)
	v.SetDefault("output.color", cfg.Output.Color)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("WIRETEST_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `wiretest`
		v.SetConfigName("wiretest")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".wiretest"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// FromViper decodes and validates v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if c.Receiver.PollInterval <= 0 {
		return fmt.Errorf("invalid receiver.poll_interval: %s (must be > 0)", c.Receiver.PollInterval)
	}
	if c.Sender.RatePerSec < 0 {
		return fmt.Errorf("invalid sender.rate_per_sec: %v", c.Sender.RatePerSec)
	}
	if c.Sender.Burst < 1 {
		c.Sender.Burst = 1
	}
	if c.Transport.MaxFrameBytes <= 0 {
		return fmt.Errorf("invalid transport.max_frame_bytes: %d", c.Transport.MaxFrameBytes)
	}

	c.Discovery.Balancer = strings.ToLower(strings.TrimSpace(c.Discovery.Balancer))
	switch c.Discovery.Balancer {
	case "":
		c.Discovery.Balancer = "round_robin"
	case "round_robin", "weighted_random", "consistent_hash":
		// ok
	default:
		return fmt.Errorf("invalid discovery.balancer: %q", c.Discovery.Balancer)
	}
	if c.Discovery.TTLSeconds <= 0 {
		c.Discovery.TTLSeconds = 10
	}

	c.Output.Format = strings.ToLower(strings.TrimSpace(c.Output.Format))
	switch c.Output.Format {
	case "":
		c.Output.Format = "text"
	case "text", "json", "yaml":
		// ok
	default:
		return fmt.Errorf("invalid output.format: %q", c.Output.Format)
	}
	return nil
}
