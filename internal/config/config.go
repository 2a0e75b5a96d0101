// Package config loads contactsd settings from an optional YAML file and
// CONTACTSD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/contactsd/internal/store"
	"github.com/roach88/contactsd/internal/txn"
)

// EnvPrefix prefixes environment overrides: CONTACTSD_DB,
// CONTACTSD_RETRY_ATTEMPTS, ...
const EnvPrefix = "CONTACTSD"

// DefaultFile is looked up in the working directory when no file is
// named.
const DefaultFile = "contactsd.yaml"

// Config holds every tunable of the daemon and CLI.
type Config struct {
	DB            string `mapstructure:"db"`
	MaxOpenConns  int    `mapstructure:"max_open_conns"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"`
	Retry         Retry  `mapstructure:"retry"`

	// Admin is the principal that may write every address book.
	Admin string `mapstructure:"admin"`
	// Policy is a casbin policy file; empty uses the built-in policy.
	Policy string `mapstructure:"policy"`
	// ViewsDir holds CUE files defining extra views.
	ViewsDir string `mapstructure:"views_dir"`

	LogLevel string `mapstructure:"log_level"`
	// MetricsFile receives the Prometheus text exposition of a CLI run
	// when set, for a node_exporter textfile collector.
	MetricsFile string `mapstructure:"metrics_file"`
}

// Retry mirrors txn.RetryPolicy in milliseconds.
type Retry struct {
	Attempts   int     `mapstructure:"attempts"`
	InitialMS  int     `mapstructure:"initial_ms"`
	MaxMS      int     `mapstructure:"max_ms"`
	Multiplier float64 `mapstructure:"multiplier"`
}

func setDefaults(v *viper.Viper) {
	def := txn.DefaultRetry()
	v.SetDefault("db", "contacts.db")
	v.SetDefault("max_open_conns", 4)
	v.SetDefault("busy_timeout_ms", store.DefaultBusyTimeout.Milliseconds())
	v.SetDefault("retry.attempts", def.Attempts)
	v.SetDefault("retry.initial_ms", def.Initial.Milliseconds())
	v.SetDefault("retry.max_ms", def.Max.Milliseconds())
	v.SetDefault("retry.multiplier", def.Multiplier)
	v.SetDefault("admin", "contactsd")
	v.SetDefault("policy", "")
	v.SetDefault("views_dir", "")
	v.SetDefault("log_level", "warn")
	v.SetDefault("metrics_file", "")
}

// Default returns the built-in settings, ignoring files and the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads path, or DefaultFile when path is empty and the file exists,
// then applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.DB == "" {
		problems = append(problems, "db must not be empty")
	}
	if c.MaxOpenConns < 2 {
		problems = append(problems, "max_open_conns must be at least 2")
	}
	if c.BusyTimeoutMS < 0 {
		problems = append(problems, "busy_timeout_ms must not be negative")
	}
	if c.Retry.Attempts < 1 {
		problems = append(problems, "retry.attempts must be at least 1")
	}
	if c.Retry.InitialMS < 0 || c.Retry.MaxMS < c.Retry.InitialMS {
		problems = append(problems, "retry.initial_ms must be within [0, retry.max_ms]")
	}
	if _, err := c.SlogLevel(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RetryPolicy returns the transaction retry policy.
func (c *Config) RetryPolicy() txn.RetryPolicy {
	return txn.RetryPolicy{
		Attempts:   c.Retry.Attempts,
		Initial:    time.Duration(c.Retry.InitialMS) * time.Millisecond,
		Max:        time.Duration(c.Retry.MaxMS) * time.Millisecond,
		Multiplier: c.Retry.Multiplier,
	}
}

// StoreOptions returns the SQLite store options.
func (c *Config) StoreOptions() []store.Option {
	return []store.Option{
		store.WithMaxOpenConns(c.MaxOpenConns),
		store.WithBusyTimeout(time.Duration(c.BusyTimeoutMS) * time.Millisecond),
	}
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}
